package kube

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/util/jsonpath"

	"github.com/ormasoftchile/demokit/pkg/kernel/eval"
)

// LoadManifests expands the glob patterns and decodes every YAML or JSON
// document in the matched files, in sorted file order. A pattern matching
// no file is an error. With non-nil vars each file is rendered as a
// template first, so manifests can use {{ .NAMESPACE }} like any action
// field.
func LoadManifests(patterns []string, vars map[string]any) ([]*unstructured.Unstructured, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("no manifests given")
	}
	var objs []*unstructured.Unstructured
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("manifest %q: no files match", pattern)
		}
		sort.Strings(matches)
		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read manifest: %w", err)
			}
			if vars != nil {
				rendered, err := eval.Resolve(string(data), vars)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", path, err)
				}
				data = []byte(rendered)
			}
			docs, err := DecodeManifests(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			objs = append(objs, docs...)
		}
	}
	return objs, nil
}

// DecodeManifests splits a multi-document YAML (or JSON) stream into
// objects. Empty documents are dropped; List kinds are flattened.
func DecodeManifests(data []byte) ([]*unstructured.Unstructured, error) {
	dec := yaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)
	var objs []*unstructured.Unstructured
	for i := 0; ; i++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
			continue
		}
		obj := &unstructured.Unstructured{}
		if err := obj.UnmarshalJSON(trimmed); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if obj.IsList() {
			list, err := obj.ToList()
			if err != nil {
				return nil, fmt.Errorf("document %d: %w", i, err)
			}
			for j := range list.Items {
				objs = append(objs, &list.Items[j])
			}
			continue
		}
		if obj.GetKind() == "" || obj.GetName() == "" {
			return nil, fmt.Errorf("document %d: kind and metadata.name are required", i)
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// JSONPath renders a kubectl-style JSONPath template against obj. A bare
// path such as ".spec.host" is wrapped in braces.
func JSONPath(obj *unstructured.Unstructured, tmpl string) (string, error) {
	if !strings.Contains(tmpl, "{") {
		tmpl = "{" + tmpl + "}"
	}
	jp := jsonpath.New("kube")
	if err := jp.Parse(tmpl); err != nil {
		return "", fmt.Errorf("jsonpath %q: %w", tmpl, err)
	}
	var buf bytes.Buffer
	if err := jp.Execute(&buf, obj.Object); err != nil {
		return "", fmt.Errorf("jsonpath %q: %w", tmpl, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
