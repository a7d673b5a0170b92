package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ormasoftchile/demokit/pkg/kernel/eval"
	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// ResolveAction returns a copy of a with every string field template-expanded
// against vars. The input is never modified.
func ResolveAction(a *schema.Action, vars map[string]any) (*schema.Action, error) {
	if a == nil {
		return nil, fmt.Errorf("no action")
	}
	r := &resolver{vars: vars}
	out := &schema.Action{
		Shell:   r.str("shell", a.Shell),
		Pause:   r.str("pause", a.Pause),
		Timeout: r.str("timeout", a.Timeout),
	}
	if k := a.Kube; k != nil {
		out.Kube = &schema.KubeAction{
			Verb:       k.Verb,
			APIVersion: r.str("kube.apiVersion", k.APIVersion),
			Kind:       r.str("kube.kind", k.Kind),
			Name:       r.str("kube.name", k.Name),
			Namespace:  r.str("kube.namespace", k.Namespace),
			Manifests:  r.strs("kube.manifests", k.Manifests),
			JSONPath:   k.JSONPath,
			Patch:      r.str("kube.patch", k.Patch),
			Equals:     r.str("kube.equals", k.Equals),
			Interval:   r.str("kube.interval", k.Interval),
		}
		if len(k.Manifests) > 0 {
			out.Kube.Vars = vars
		}
	}
	if h := a.Helm; h != nil {
		out.Helm = &schema.HelmAction{
			Verb:            h.Verb,
			Release:         r.str("helm.release", h.Release),
			Chart:           r.str("helm.chart", h.Chart),
			Version:         r.str("helm.version", h.Version),
			Namespace:       r.str("helm.namespace", h.Namespace),
			Repo:            r.str("helm.repo", h.Repo),
			URL:             r.str("helm.url", h.URL),
			Values:          r.strs("helm.values", h.Values),
			Set:             r.dict("helm.set", h.Set),
			CreateNamespace: h.CreateNamespace,
			Wait:            h.Wait,
		}
	}
	if e := a.Exec; e != nil {
		out.Exec = &schema.ExecAction{
			Argv: r.strs("exec.argv", e.Argv),
			Run:  r.str("exec.run", e.Run),
			Dir:  r.str("exec.dir", e.Dir),
			Env:  r.dict("exec.env", e.Env),
		}
	}
	if h := a.HTTP; h != nil {
		out.HTTP = &schema.HTTPAction{
			URL:          r.str("http.url", h.URL),
			Method:       h.Method,
			Headers:      r.dict("http.headers", h.Headers),
			Body:         r.str("http.body", h.Body),
			ExpectStatus: h.ExpectStatus,
			Insecure:     h.Insecure,
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

// resolver keeps the first template error.
type resolver struct {
	vars map[string]any
	err  error
}

func (r *resolver) str(field, s string) string {
	if r.err != nil || !strings.Contains(s, "{{") {
		return s
	}
	v, err := eval.Resolve(s, r.vars)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", field, err)
		return s
	}
	return v
}

func (r *resolver) strs(field string, in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = r.str(fmt.Sprintf("%s[%d]", field, i), s)
	}
	return out
}

func (r *resolver) dict(field string, in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = r.str(field+"."+k, v)
	}
	return out
}

// Describe renders a resolved action as a single line for plans and
// dry-run output.
func Describe(a *schema.Action) string {
	d := &Dispatcher{}
	switch a.Kind() {
	case schema.ActionKube:
		k := a.Kube
		target := strings.Trim(strings.Join([]string{k.Kind, k.Name}, "/"), "/")
		if len(k.Manifests) > 0 {
			target = strings.Join(k.Manifests, ", ")
		}
		if k.Namespace != "" {
			target += " -n " + k.Namespace
		}
		return fmt.Sprintf("kube %s %s", k.Verb, target)
	case schema.ActionHelm:
		args, err := d.HelmArgs(a.Helm)
		if err != nil {
			return "helm " + a.Helm.Verb
		}
		return Command{Name: d.helm(), Args: args}.String()
	case schema.ActionExec:
		if len(a.Exec.Argv) > 0 {
			return Command{Name: a.Exec.Argv[0], Args: a.Exec.Argv[1:]}.String()
		}
		return a.Exec.Run
	case schema.ActionShell:
		return d.shell() + " -c " + firstLine(a.Shell)
	case schema.ActionHTTP:
		m := a.HTTP.Method
		if m == "" {
			m = "GET"
		}
		return fmt.Sprintf("http %s %s", strings.ToUpper(m), a.HTTP.URL)
	case schema.ActionPause:
		return "pause: " + firstLine(a.Pause)
	}
	kinds := make([]string, 0, 2)
	for _, k := range a.Kinds() {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return "invalid action " + strings.Join(kinds, "+")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
