// Package kube performs the typed Kubernetes calls behind kube actions:
// get, exists, apply, delete, patch and wait, against any resource kind
// the cluster's discovery knows about.
package kube

import (
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	k8sschema "k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
)

// Defaults for wait polling.
const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 5 * time.Minute
)

// Client wraps a dynamic client and the REST mapper that resolves kinds to
// resources.
type Client struct {
	dyn       dynamic.Interface
	mapper    meta.RESTMapper
	namespace string
}

// New creates a client from its parts. namespace is used for namespaced
// objects that name none.
func New(dyn dynamic.Interface, mapper meta.RESTMapper, namespace string) *Client {
	if namespace == "" {
		namespace = "default"
	}
	return &Client{dyn: dyn, mapper: mapper, namespace: namespace}
}

// Options select the cluster to talk to.
type Options struct {
	Kubeconfig string // empty uses the default loading rules
	Context    string
	Namespace  string // overrides the context namespace
}

// NewFromKubeconfig builds a client from kubeconfig loading rules, falling
// back to in-cluster configuration.
func NewFromKubeconfig(opts Options) (*Client, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if opts.Kubeconfig != "" {
		rules.ExplicitPath = opts.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: opts.Context}
	cc := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)

	cfg, err := cc.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("kubeconfig: %w", err)
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("dynamic client: %w", err)
	}
	dc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery client: %w", err)
	}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(dc))

	ns := opts.Namespace
	if ns == "" {
		if ns, _, err = cc.Namespace(); err != nil {
			return nil, fmt.Errorf("kubeconfig namespace: %w", err)
		}
	}
	return New(dyn, mapper, ns), nil
}

// Ref names a single object.
type Ref struct {
	APIVersion string
	Kind       string
	Name       string
	Namespace  string
}

func (r Ref) String() string {
	if r.Namespace != "" {
		return fmt.Sprintf("%s/%s -n %s", r.Kind, r.Name, r.Namespace)
	}
	return fmt.Sprintf("%s/%s", r.Kind, r.Name)
}

func refOf(obj *unstructured.Unstructured) Ref {
	return Ref{
		APIVersion: obj.GetAPIVersion(),
		Kind:       obj.GetKind(),
		Name:       obj.GetName(),
		Namespace:  obj.GetNamespace(),
	}
}

// resource maps a ref to its resource client, defaulting the namespace of
// namespaced kinds. The returned ref carries the effective namespace.
func (c *Client) resource(r Ref) (dynamic.ResourceInterface, Ref, error) {
	if r.Kind == "" {
		return nil, r, fmt.Errorf("kind is required")
	}
	if r.APIVersion == "" {
		r.APIVersion = "v1"
	}
	gvk := k8sschema.FromAPIVersionAndKind(r.APIVersion, r.Kind)
	mapping, err := c.mapping(gvk)
	if err != nil {
		return nil, r, fmt.Errorf("map %s: %w", gvk, err)
	}
	if mapping.Scope.Name() != meta.RESTScopeNameNamespace {
		r.Namespace = ""
		return c.dyn.Resource(mapping.Resource), r, nil
	}
	if r.Namespace == "" {
		r.Namespace = c.namespace
	}
	return c.dyn.Resource(mapping.Resource).Namespace(r.Namespace), r, nil
}

// resettable is implemented by discovery-backed mappers that cache.
type resettable interface {
	Reset()
}

// mapping resolves gvk. A kind the cached discovery does not know triggers
// one rediscovery, so CRDs installed during the run become usable.
func (c *Client) mapping(gvk k8sschema.GroupVersionKind) (*meta.RESTMapping, error) {
	m, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if meta.IsNoMatchError(err) {
		if r, ok := c.mapper.(resettable); ok {
			r.Reset()
			m, err = c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
		}
	}
	return m, err
}

// isAbsent reports whether err means the object cannot exist: not found,
// or its kind is not served at all.
func isAbsent(err error) bool {
	return apierrors.IsNotFound(err) || meta.IsNoMatchError(err)
}
