package kube

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	k8sschema "k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery/cached/memory"
	fakediscovery "k8s.io/client-go/discovery/fake"
	"k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/restmapper"
	clienttesting "k8s.io/client-go/testing"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

var (
	cmGVK    = k8sschema.GroupVersionKind{Version: "v1", Kind: "ConfigMap"}
	nsGVK    = k8sschema.GroupVersionKind{Version: "v1", Kind: "Namespace"}
	routeGVK = k8sschema.GroupVersionKind{Group: "route.openshift.io", Version: "v1", Kind: "Route"}
	cmGVR    = k8sschema.GroupVersionResource{Version: "v1", Resource: "configmaps"}
)

func newTestClient(t *testing.T, objs ...runtime.Object) *Client {
	t.Helper()
	mapper := meta.NewDefaultRESTMapper(nil)
	mapper.Add(cmGVK, meta.RESTScopeNamespace)
	mapper.Add(routeGVK, meta.RESTScopeNamespace)
	mapper.Add(nsGVK, meta.RESTScopeRoot)
	dyn := fake.NewSimpleDynamicClient(runtime.NewScheme(), objs...)
	return New(dyn, mapper, "fsi-demo")
}

func route(name, ns, host string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "route.openshift.io/v1",
		"kind":       "Route",
		"metadata":   map[string]any{"name": name, "namespace": ns},
		"spec":       map[string]any{"host": host},
	}}
}

func configMap(name, ns string, data map[string]any) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata":   map[string]any{"name": name, "namespace": ns},
		"data":       data,
	}}
}

func TestDo_GetJSONPath(t *testing.T) {
	c := newTestClient(t, route("dashboard", "redhat-ods-applications", "rhods.apps.example.com"))
	out, err := c.Do(context.Background(), &schema.KubeAction{
		Verb: schema.KubeGet, APIVersion: "route.openshift.io/v1", Kind: "Route",
		Name: "dashboard", Namespace: "redhat-ods-applications", JSONPath: "https://{.spec.host}",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "https://rhods.apps.example.com" {
		t.Errorf("out = %q", out)
	}
}

func TestDo_GetWholeObject(t *testing.T) {
	c := newTestClient(t, configMap("settings", "fsi-demo", map[string]any{"gpu": "true"}))
	out, err := c.Do(context.Background(), &schema.KubeAction{Verb: schema.KubeGet, Kind: "ConfigMap", Name: "settings"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"gpu":"true"`) {
		t.Errorf("out = %s", out)
	}
}

func TestDo_GetNotFound(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Do(context.Background(), &schema.KubeAction{Verb: schema.KubeGet, Kind: "ConfigMap", Name: "missing"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDo_UnmappedKind(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Do(context.Background(), &schema.KubeAction{Verb: schema.KubeGet, APIVersion: "example.com/v1", Kind: "Widget", Name: "w"})
	if err == nil || !strings.Contains(err.Error(), "map") {
		t.Errorf("err = %v", err)
	}
}

func TestDo_Exists(t *testing.T) {
	c := newTestClient(t, configMap("settings", "fsi-demo", nil))
	out, err := c.Do(context.Background(), &schema.KubeAction{Verb: schema.KubeExists, Kind: "ConfigMap", Name: "settings"})
	if err != nil || out != "true" {
		t.Errorf("exists = %q, %v", out, err)
	}
	_, err = c.Do(context.Background(), &schema.KubeAction{Verb: schema.KubeExists, Kind: "ConfigMap", Name: "other"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestApply_CreateThenUpdate(t *testing.T) {
	c := newTestClient(t, configMap("seed", "fsi-demo", nil))
	objs := []*unstructured.Unstructured{configMap("settings", "", map[string]any{"model": "fraud-v1"})}

	out, err := c.Apply(context.Background(), objs, "")
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if out != "ConfigMap/settings created" {
		t.Errorf("first apply = %q", out)
	}

	objs[0].Object["data"] = map[string]any{"model": "fraud-v2"}
	out, err = c.Apply(context.Background(), objs, "")
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if out != "ConfigMap/settings configured" {
		t.Errorf("second apply = %q", out)
	}

	got, err := c.dyn.Resource(cmGVR).Namespace("fsi-demo").Get(context.Background(), "settings", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v, _, _ := unstructured.NestedString(got.Object, "data", "model"); v != "fraud-v2" {
		t.Errorf("data.model = %q, want fraud-v2", v)
	}
}

func TestApply_AggregatesErrors(t *testing.T) {
	c := newTestClient(t, configMap("seed", "fsi-demo", nil))
	widget := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "example.com/v1", "kind": "Widget", "metadata": map[string]any{"name": "w"},
	}}
	objs := []*unstructured.Unstructured{widget, configMap("after", "", nil)}
	out, err := c.Apply(context.Background(), objs, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if out != "ConfigMap/after created" {
		t.Errorf("out = %q (objects after a failure must still apply)", out)
	}
}

func TestApply_NamespaceOverride(t *testing.T) {
	c := newTestClient(t, configMap("seed", "fsi-demo", nil))
	if _, err := c.Apply(context.Background(), []*unstructured.Unstructured{configMap("x", "elsewhere", nil)}, "team-a"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	ok, err := c.Exists(context.Background(), Ref{Kind: "ConfigMap", Name: "x", Namespace: "team-a"})
	if err != nil || !ok {
		t.Errorf("exists in team-a = %v, %v", ok, err)
	}
}

func TestDelete_IgnoresNotFound(t *testing.T) {
	c := newTestClient(t, configMap("settings", "fsi-demo", nil))
	out, err := c.Delete(context.Background(), Ref{Kind: "ConfigMap", Name: "settings"})
	if err != nil || out != "ConfigMap/settings deleted" {
		t.Errorf("first delete = %q, %v", out, err)
	}
	out, err = c.Delete(context.Background(), Ref{Kind: "ConfigMap", Name: "settings"})
	if err != nil || out != "ConfigMap/settings absent" {
		t.Errorf("second delete = %q, %v", out, err)
	}
}

func TestDeleteAll_ReverseOrder(t *testing.T) {
	c := newTestClient(t, configMap("a", "fsi-demo", nil), configMap("b", "fsi-demo", nil))
	out, err := c.DeleteAll(context.Background(), []*unstructured.Unstructured{configMap("a", "", nil), configMap("b", "", nil)}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ConfigMap/b deleted\nConfigMap/a deleted" {
		t.Errorf("out = %q", out)
	}
}

func TestPatch_MergeYAML(t *testing.T) {
	c := newTestClient(t, configMap("settings", "fsi-demo", map[string]any{"model": "v1", "keep": "yes"}))
	out, err := c.Do(context.Background(), &schema.KubeAction{
		Verb: schema.KubePatch, Kind: "ConfigMap", Name: "settings", Patch: "data:\n  model: v2\n",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ConfigMap/settings patched" {
		t.Errorf("out = %q", out)
	}
	got, _ := c.Get(context.Background(), Ref{Kind: "ConfigMap", Name: "settings"})
	model, _, _ := unstructured.NestedString(got.Object, "data", "model")
	keep, _, _ := unstructured.NestedString(got.Object, "data", "keep")
	if model != "v2" || keep != "yes" {
		t.Errorf("data = %v", got.Object["data"])
	}
}

func TestPatch_Empty(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.Patch(context.Background(), Ref{Kind: "ConfigMap", Name: "x"}, " "); err == nil {
		t.Error("expected error")
	}
}

func TestWait_Equals(t *testing.T) {
	c := newTestClient(t, configMap("status", "fsi-demo", map[string]any{"phase": "Ready"}))
	out, err := c.Do(context.Background(), &schema.KubeAction{
		Verb: schema.KubeWait, Kind: "ConfigMap", Name: "status", JSONPath: ".data.phase", Equals: "Ready", Interval: "10ms",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Ready" {
		t.Errorf("out = %q", out)
	}
}

func TestWait_Timeout(t *testing.T) {
	c := newTestClient(t, configMap("status", "fsi-demo", map[string]any{"phase": "Pending"}))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx, Ref{Kind: "ConfigMap", Name: "status"}, "{.data.phase}", "Ready", 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !strings.Contains(err.Error(), "last: Pending") {
		t.Errorf("err = %v", err)
	}
}

func TestWait_AbsentObject(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx, Ref{Kind: "ConfigMap", Name: "later"}, "", "", 10*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v", err)
	}
}

func TestClusterScopedIgnoresNamespace(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.Apply(context.Background(), []*unstructured.Unstructured{{Object: map[string]any{
		"apiVersion": "v1", "kind": "Namespace", "metadata": map[string]any{"name": "fsi-demo"},
	}}}, "ignored"); err != nil {
		t.Fatalf("apply namespace: %v", err)
	}
	ok, err := c.Exists(context.Background(), Ref{Kind: "Namespace", Name: "fsi-demo"})
	if err != nil || !ok {
		t.Errorf("namespace exists = %v, %v", ok, err)
	}
}

func TestLoadManifests(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("base/10-ns.yaml", "apiVersion: v1\nkind: Namespace\nmetadata:\n  name: fsi-demo\n")
	write("base/20-cm.yaml", "---\napiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: a\ndata:\n  replicas: \"2\"\n---\n---\napiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: b\n")
	write("extra/list.json", `{"apiVersion":"v1","kind":"List","items":[{"apiVersion":"v1","kind":"ConfigMap","metadata":{"name":"c"}}]}`)

	objs, err := LoadManifests([]string{filepath.Join(dir, "base/*.yaml"), filepath.Join(dir, "**/*.json")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var names []string
	for _, o := range objs {
		names = append(names, o.GetKind()+"/"+o.GetName())
	}
	want := "Namespace/fsi-demo ConfigMap/a ConfigMap/b ConfigMap/c"
	if got := strings.Join(names, " "); got != want {
		t.Errorf("objects = %q, want %q", got, want)
	}
}

func TestDo_ApplyRendersManifests(t *testing.T) {
	dir := t.TempDir()
	manifest := "apiVersion: v1\nkind: Namespace\nmetadata:\n  name: \"{{ .NAMESPACE }}\"\n" +
		"---\napiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: settings\n  namespace: \"{{ .NAMESPACE }}\"\n"
	if err := os.WriteFile(filepath.Join(dir, "ns.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newTestClient(t, configMap("seed", "fsi-demo", nil))
	out, err := c.Do(context.Background(), &schema.KubeAction{
		Verb:      schema.KubeApply,
		Manifests: []string{filepath.Join(dir, "*.yaml")},
		Vars:      map[string]any{"NAMESPACE": "team-b"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out != "Namespace/team-b created\nConfigMap/settings created" {
		t.Errorf("out = %q", out)
	}
	ok, err := c.Exists(context.Background(), Ref{Kind: "ConfigMap", Name: "settings", Namespace: "team-b"})
	if err != nil || !ok {
		t.Errorf("configmap in team-b = %v, %v", ok, err)
	}

	// without vars the file is decoded as is
	objs, err := LoadManifests([]string{filepath.Join(dir, "*.yaml")}, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if objs[0].GetName() != "{{ .NAMESPACE }}" {
		t.Errorf("name = %q, want the literal template", objs[0].GetName())
	}
}

func TestLoadManifests_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadManifests([]string{filepath.Join(dir, "*.yaml")}, nil); err == nil {
		t.Error("expected error for pattern without matches")
	}
	if _, err := LoadManifests(nil, nil); err == nil {
		t.Error("expected error for no patterns")
	}
	if _, err := DecodeManifests([]byte("apiVersion: v1\nkind: ConfigMap\nmetadata: {}\n")); err == nil {
		t.Error("expected error for object without name")
	}
}

func TestJSONPath(t *testing.T) {
	obj := route("r", "ns", "host.example.com")
	for _, tmpl := range []string{".spec.host", "{.spec.host}"} {
		got, err := JSONPath(obj, tmpl)
		if err != nil || got != "host.example.com" {
			t.Errorf("JSONPath(%q) = %q, %v", tmpl, got, err)
		}
	}
	if _, err := JSONPath(obj, "{.spec.missing}"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestLazy_ConnectError(t *testing.T) {
	l := NewLazy(Options{Kubeconfig: filepath.Join(t.TempDir(), "missing-kubeconfig")})
	_, err := l.Do(context.Background(), &schema.KubeAction{Verb: schema.KubeGet, Kind: "ConfigMap", Name: "x"})
	if err == nil || !strings.Contains(err.Error(), "connect to cluster") {
		t.Errorf("err = %v, want connect error", err)
	}
}

var coreResources = &metav1.APIResourceList{
	GroupVersion: "v1",
	APIResources: []metav1.APIResource{
		{Name: "configmaps", Kind: "ConfigMap", Namespaced: true, Verbs: metav1.Verbs{"get", "delete"}},
	},
}

var kserveResources = &metav1.APIResourceList{
	GroupVersion: "serving.kserve.io/v1beta1",
	APIResources: []metav1.APIResource{
		{Name: "inferenceservices", Kind: "InferenceService", Namespaced: true, Verbs: metav1.Verbs{"get", "delete"}},
	},
}

func inferenceService(name, ns string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "serving.kserve.io/v1beta1",
		"kind":       "InferenceService",
		"metadata":   map[string]any{"name": name, "namespace": ns},
	}}
}

// newDiscoveryClient wires the same cached discovery mapper as
// NewFromKubeconfig over a fake discovery.
func newDiscoveryClient(t *testing.T, objs ...runtime.Object) (*Client, *fakediscovery.FakeDiscovery) {
	t.Helper()
	fd := &fakediscovery.FakeDiscovery{Fake: &clienttesting.Fake{}}
	fd.Resources = []*metav1.APIResourceList{coreResources}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(fd))
	dyn := fake.NewSimpleDynamicClient(runtime.NewScheme(), objs...)
	return New(dyn, mapper, "fsi-demo"), fd
}

func TestDiscovery_KindServedLater(t *testing.T) {
	c, fd := newDiscoveryClient(t, inferenceService("fraud", "fsi-demo"))
	ctx := context.Background()

	if _, err := c.Exists(ctx, Ref{Kind: "ConfigMap", Name: "warm-cache"}); err != nil {
		t.Fatalf("exists configmap: %v", err)
	}

	isvc := Ref{APIVersion: "serving.kserve.io/v1beta1", Kind: "InferenceService", Name: "fraud"}
	if _, err := c.Get(ctx, isvc); err == nil {
		t.Fatal("expected get to fail before the kind is served")
	}

	fd.Resources = append(fd.Resources, kserveResources)
	if _, err := c.Get(ctx, isvc); err != nil {
		t.Fatalf("get after the kind is served: %v", err)
	}
	out, err := c.Delete(ctx, isvc)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if out != "InferenceService/fraud deleted" {
		t.Errorf("out = %q, want InferenceService/fraud deleted", out)
	}
}

func TestDiscovery_UnservedKindIsAbsent(t *testing.T) {
	c, _ := newDiscoveryClient(t)
	ctx := context.Background()
	isvc := Ref{APIVersion: "serving.kserve.io/v1beta1", Kind: "InferenceService", Name: "fraud"}

	out, err := c.Delete(ctx, isvc)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if out != "InferenceService/fraud absent" {
		t.Errorf("out = %q, want InferenceService/fraud absent", out)
	}

	ok, err := c.Exists(ctx, isvc)
	if err != nil || ok {
		t.Errorf("exists = %v, %v; want false, nil", ok, err)
	}

	_, err = c.Get(ctx, isvc)
	if !meta.IsNoMatchError(err) {
		t.Errorf("get err = %v, want a no-match error", err)
	}
}
