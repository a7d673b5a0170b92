package kube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/util/yaml"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// ErrNotFound is returned by Exists for an absent object.
var ErrNotFound = errors.New("object not found")

// Do executes a kube action and returns its textual output.
func (c *Client) Do(ctx context.Context, a *schema.KubeAction) (string, error) {
	ref := Ref{APIVersion: a.APIVersion, Kind: a.Kind, Name: a.Name, Namespace: a.Namespace}

	switch a.Verb {
	case schema.KubeGet:
		obj, err := c.Get(ctx, ref)
		if err != nil {
			return "", err
		}
		if a.JSONPath == "" {
			b, err := json.Marshal(obj.Object)
			if err != nil {
				return "", fmt.Errorf("encode %s: %w", ref, err)
			}
			return string(b), nil
		}
		return JSONPath(obj, a.JSONPath)

	case schema.KubeExists:
		ok, err := c.Exists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return "true", nil

	case schema.KubeApply:
		objs, err := LoadManifests(a.Manifests, a.Vars)
		if err != nil {
			return "", err
		}
		return c.Apply(ctx, objs, a.Namespace)

	case schema.KubeDelete:
		if len(a.Manifests) == 0 {
			return c.Delete(ctx, ref)
		}
		objs, err := LoadManifests(a.Manifests, a.Vars)
		if err != nil {
			return "", err
		}
		return c.DeleteAll(ctx, objs, a.Namespace)

	case schema.KubePatch:
		return c.Patch(ctx, ref, a.Patch)

	case schema.KubeWait:
		interval := DefaultInterval
		if a.Interval != "" {
			d, err := time.ParseDuration(a.Interval)
			if err != nil {
				return "", fmt.Errorf("interval %q: %w", a.Interval, err)
			}
			interval = d
		}
		return c.Wait(ctx, ref, a.JSONPath, a.Equals, interval)

	default:
		return "", fmt.Errorf("unknown kube verb %q", a.Verb)
	}
}

// Get fetches one object.
func (c *Client) Get(ctx context.Context, r Ref) (*unstructured.Unstructured, error) {
	ri, r, err := c.resource(r)
	if err != nil {
		return nil, err
	}
	obj, err := ri.Get(ctx, r.Name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r, err)
	}
	return obj, nil
}

// Exists reports whether the object exists. An unserved kind counts as
// absent; other errors are returned.
func (c *Client) Exists(ctx context.Context, r Ref) (bool, error) {
	_, err := c.Get(ctx, r)
	if isAbsent(err) {
		return false, nil
	}
	return err == nil, err
}

// Apply creates each object or updates it in place when it already exists.
// Per-object errors are aggregated; objects after a failure are still tried.
func (c *Client) Apply(ctx context.Context, objs []*unstructured.Unstructured, namespace string) (string, error) {
	var lines []string
	var result *multierror.Error
	for _, obj := range objs {
		line, err := c.applyOne(ctx, obj, namespace)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), result.ErrorOrNil()
}

func (c *Client) applyOne(ctx context.Context, obj *unstructured.Unstructured, namespace string) (string, error) {
	ref := refOf(obj)
	if namespace != "" {
		ref.Namespace = namespace
	}
	ri, ref, err := c.resource(ref)
	if err != nil {
		return "", err
	}
	obj = obj.DeepCopy()
	obj.SetNamespace(ref.Namespace)

	existing, err := ri.Get(ctx, ref.Name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		if _, err := ri.Create(ctx, obj, metav1.CreateOptions{}); err != nil {
			return "", fmt.Errorf("create %s: %w", ref, err)
		}
		return ref.Kind + "/" + ref.Name + " created", nil
	case err != nil:
		return "", fmt.Errorf("get %s: %w", ref, err)
	}

	obj.SetResourceVersion(existing.GetResourceVersion())
	if _, err := ri.Update(ctx, obj, metav1.UpdateOptions{}); err != nil {
		return "", fmt.Errorf("update %s: %w", ref, err)
	}
	return ref.Kind + "/" + ref.Name + " configured", nil
}

// Delete removes one object. An absent object, or one whose kind is no
// longer served, is not an error.
func (c *Client) Delete(ctx context.Context, r Ref) (string, error) {
	ri, r, err := c.resource(r)
	if meta.IsNoMatchError(err) {
		return r.Kind + "/" + r.Name + " absent", nil
	}
	if err != nil {
		return "", err
	}
	policy := metav1.DeletePropagationBackground
	err = ri.Delete(ctx, r.Name, metav1.DeleteOptions{PropagationPolicy: &policy})
	switch {
	case apierrors.IsNotFound(err):
		return r.Kind + "/" + r.Name + " absent", nil
	case err != nil:
		return "", fmt.Errorf("delete %s: %w", r, err)
	}
	return r.Kind + "/" + r.Name + " deleted", nil
}

// DeleteAll deletes manifest objects in reverse order so dependents go
// before what they depend on.
func (c *Client) DeleteAll(ctx context.Context, objs []*unstructured.Unstructured, namespace string) (string, error) {
	var lines []string
	var result *multierror.Error
	for i := len(objs) - 1; i >= 0; i-- {
		ref := refOf(objs[i])
		if namespace != "" {
			ref.Namespace = namespace
		}
		line, err := c.Delete(ctx, ref)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), result.ErrorOrNil()
}

// Patch applies a JSON merge patch given as JSON or YAML.
func (c *Client) Patch(ctx context.Context, r Ref, patch string) (string, error) {
	if strings.TrimSpace(patch) == "" {
		return "", fmt.Errorf("patch %s: empty patch", r)
	}
	data, err := yaml.ToJSON([]byte(patch))
	if err != nil {
		return "", fmt.Errorf("patch %s: %w", r, err)
	}
	ri, r, err := c.resource(r)
	if err != nil {
		return "", err
	}
	if _, err := ri.Patch(ctx, r.Name, types.MergePatchType, data, metav1.PatchOptions{}); err != nil {
		return "", fmt.Errorf("patch %s: %w", r, err)
	}
	return r.Kind + "/" + r.Name + " patched", nil
}

// Wait polls the object until it exists and, when path is set, the path
// renders non-empty (or equal to equals when given). The context bounds the
// wait; DefaultTimeout applies when it carries no deadline.
func (c *Client) Wait(ctx context.Context, r Ref, path, equals string, interval time.Duration) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	var last string
	err := wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		obj, err := c.Get(ctx, r)
		if isAbsent(err) {
			last = "not found"
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if path == "" {
			last = "exists"
			return true, nil
		}
		v, err := JSONPath(obj, path)
		if err != nil {
			last = err.Error()
			return false, nil
		}
		last = v
		if equals != "" {
			return v == equals, nil
		}
		return v != "", nil
	})
	if err != nil {
		return "", fmt.Errorf("wait %s: %w (last: %s)", r, err, last)
	}
	return last, nil
}
