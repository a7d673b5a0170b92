package validate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ormasoftchile/demokit/pkg/kernel/eval"
	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// templateVarRe matches {{ .KEY }} references, including those inside
// pipelines such as {{ .KEY | default "x" }}.
var templateVarRe = regexp.MustCompile(`\{\{-?\s*[^}]*?\.([A-Za-z_][A-Za-z0-9_]*)`)

// validateDomain runs the hand-coded domain rules.
func validateDomain(rb *schema.Runbook, baseDir string) []*ValidationError {
	var errs []*ValidationError

	// D1: apiVersion must be demokit/v1
	if rb.APIVersion != schema.APIVersion {
		errs = append(errs, errorf("domain", "apiVersion", "expected %q, got %q", schema.APIVersion, rb.APIVersion))
	}

	// D2: step ID uniqueness
	ids := map[string]string{}
	for i, s := range rb.Steps {
		path := stepPath(i)
		if prev, ok := ids[s.ID]; ok {
			errs = append(errs, errorf("domain", path+".id", "duplicate step ID %q (first at %s)", s.ID, prev))
			continue
		}
		ids[s.ID] = path
	}

	// D3: flags and confirmation stages
	for i, s := range rb.Steps {
		errs = append(errs, validateFlags(s, stepPath(i))...)
	}

	// D4: actions are well-formed
	for i, s := range rb.Steps {
		path := stepPath(i)
		if s.Action != nil {
			errs = append(errs, validateAction(s.Action, path+".action", baseDir)...)
		}
		if s.Verify != nil {
			errs = append(errs, validateAction(s.Verify, path+".verify", baseDir)...)
			if s.Action == nil {
				errs = append(errs, errorf("domain", path+".verify", "verify requires an action"))
			}
		}
		if len(s.Produces) > 0 && s.Action == nil {
			errs = append(errs, errorf("domain", path+".produces", "produces requires an action"))
		}
	}
	for _, key := range sortedFactKeys(rb.Facts) {
		def := rb.Facts[key]
		path := "facts." + key
		if def.Resolve == nil {
			errs = append(errs, warningf("domain", path, "fact has no resolve action"))
			continue
		}
		errs = append(errs, validateAction(def.Resolve, path+".resolve", baseDir)...)
		errs = append(errs, validateExtract(def.Extract, path+".extract")...)
	}

	// D5: when guards compile and templates parse
	for i, s := range rb.Steps {
		path := stepPath(i)
		if s.When != "" {
			if err := eval.Compile(s.When); err != nil {
				errs = append(errs, errorf("domain", path+".when", "invalid guard: %v", err))
			}
		}
		for field, text := range stepTemplates(s) {
			if err := parseTemplate(text); err != nil {
				errs = append(errs, errorf("domain", path+"."+field, "invalid template: %v", err))
			}
		}
	}

	// D6: extraction rules
	for i, s := range rb.Steps {
		for _, key := range sortedExtractKeys(s.Produces) {
			errs = append(errs, validateExtract(s.Produces[key], fmt.Sprintf("%s.produces.%s", stepPath(i), key))...)
		}
	}

	// D7: fact flow
	errs = append(errs, validateFactFlow(rb)...)

	return errs
}

func validateFlags(s schema.Step, path string) []*ValidationError {
	var errs []*ValidationError
	if s.Optional && s.Mandatory {
		errs = append(errs, errorf("domain", path, "step cannot be both optional and mandatory"))
	}
	if len(s.Confirm) > 0 && !s.Destructive {
		errs = append(errs, warningf("domain", path+".confirm", "confirm stages are only used on destructive steps"))
	}
	if s.Mandatory && !s.Destructive {
		errs = append(errs, warningf("domain", path+".mandatory", "mandatory only affects destructive steps and recovery choices"))
	}
	for j, c := range s.Confirm {
		if c.Phrase == "" && c.Prompt == "" {
			errs = append(errs, errorf("domain", fmt.Sprintf("%s.confirm[%d]", path, j), "stage needs a prompt or a phrase"))
		}
		if c.Phrase != "" && strings.TrimSpace(c.Phrase) != c.Phrase {
			errs = append(errs, errorf("domain", fmt.Sprintf("%s.confirm[%d].phrase", path, j), "phrase must not have leading or trailing spaces"))
		}
	}
	return errs
}

func validateAction(a *schema.Action, path, baseDir string) []*ValidationError {
	var errs []*ValidationError
	kinds := a.Kinds()
	switch len(kinds) {
	case 0:
		return []*ValidationError{errorf("domain", path, "action must set one of kube, helm, exec, shell, http, pause")}
	case 1:
	default:
		return []*ValidationError{errorf("domain", path, "action sets %d kinds %v; exactly one is allowed", len(kinds), kinds)}
	}

	if a.Timeout != "" && !strings.Contains(a.Timeout, "{{") {
		if _, err := time.ParseDuration(a.Timeout); err != nil {
			errs = append(errs, errorf("domain", path+".timeout", "invalid duration %q", a.Timeout))
		}
	}

	switch kinds[0] {
	case schema.ActionKube:
		errs = append(errs, validateKube(a.Kube, path+".kube", baseDir)...)
	case schema.ActionHelm:
		errs = append(errs, validateHelm(a.Helm, path+".helm")...)
	case schema.ActionExec:
		e := a.Exec
		if len(e.Argv) == 0 && e.Run == "" {
			errs = append(errs, errorf("domain", path+".exec", "exec needs argv or run"))
		}
		if len(e.Argv) > 0 && e.Run != "" {
			errs = append(errs, errorf("domain", path+".exec", "exec cannot set both argv and run"))
		}
	case schema.ActionHTTP:
		h := a.HTTP
		if h.ExpectStatus != 0 && (h.ExpectStatus < 100 || h.ExpectStatus > 599) {
			errs = append(errs, errorf("domain", path+".http.expect_status", "invalid status %d", h.ExpectStatus))
		}
		switch strings.ToUpper(h.Method) {
		case "", "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD":
		default:
			errs = append(errs, errorf("domain", path+".http.method", "unsupported method %q", h.Method))
		}
	}
	return errs
}

func validateKube(k *schema.KubeAction, path, baseDir string) []*ValidationError {
	var errs []*ValidationError
	needRef := func() {
		if k.Kind == "" || k.Name == "" {
			errs = append(errs, errorf("domain", path, "kube %s needs kind and name", k.Verb))
		}
	}
	switch k.Verb {
	case schema.KubeGet, schema.KubeExists, schema.KubeWait:
		needRef()
	case schema.KubePatch:
		needRef()
		if strings.TrimSpace(k.Patch) == "" {
			errs = append(errs, errorf("domain", path+".patch", "kube patch needs a patch"))
		}
	case schema.KubeApply:
		if len(k.Manifests) == 0 {
			errs = append(errs, errorf("domain", path+".manifests", "kube apply needs manifests"))
		}
	case schema.KubeDelete:
		if len(k.Manifests) == 0 {
			needRef()
		}
	}
	if k.Equals != "" && k.Verb != schema.KubeWait {
		errs = append(errs, warningf("domain", path+".equals", "equals is only used by wait"))
	}
	if k.Interval != "" && !strings.Contains(k.Interval, "{{") {
		if _, err := time.ParseDuration(k.Interval); err != nil {
			errs = append(errs, errorf("domain", path+".interval", "invalid duration %q", k.Interval))
		}
	}
	for i, m := range k.Manifests {
		if strings.Contains(m, "{{") || baseDir == "" {
			continue
		}
		pattern := m
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(baseDir, pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			errs = append(errs, errorf("domain", fmt.Sprintf("%s.manifests[%d]", path, i), "invalid glob %q: %v", m, err))
			continue
		}
		if len(matches) == 0 {
			errs = append(errs, warningf("domain", fmt.Sprintf("%s.manifests[%d]", path, i), "no files match %q", m))
		}
	}
	return errs
}

func validateHelm(h *schema.HelmAction, path string) []*ValidationError {
	var errs []*ValidationError
	switch h.Verb {
	case schema.HelmInstall:
		if h.Release == "" || h.Chart == "" {
			errs = append(errs, errorf("domain", path, "helm install needs release and chart"))
		}
	case schema.HelmUninstall:
		if h.Release == "" {
			errs = append(errs, errorf("domain", path, "helm uninstall needs release"))
		}
	case schema.HelmRepoAdd:
		if h.Repo == "" || h.URL == "" {
			errs = append(errs, errorf("domain", path, "helm repo-add needs repo and url"))
		}
	}
	return errs
}

func validateExtract(e schema.Extract, path string) []*ValidationError {
	var errs []*ValidationError
	if e.From == "json" && e.Path == "" {
		errs = append(errs, warningf("domain", path+".path", "json extraction without path uses the whole document"))
	}
	if e.From != "json" && e.Path != "" {
		errs = append(errs, errorf("domain", path+".path", "path requires from: json"))
	}
	if e.Pattern != "" {
		if _, err := regexp.Compile(e.Pattern); err != nil {
			errs = append(errs, errorf("domain", path+".pattern", "invalid pattern: %v", err))
		}
	}
	return errs
}

// validateFactFlow walks the steps in order and checks that every fact a
// step needs has a source by then: an input, an earlier producer, or a
// fallback resolver. Missing sources are warnings since the engine
// continues degraded.
func validateFactFlow(rb *schema.Runbook) []*ValidationError {
	var errs []*ValidationError

	available := make(map[string]bool)
	for name := range rb.Meta.Inputs {
		available[name] = true
	}
	for name, def := range rb.Facts {
		if def.Resolve != nil {
			available[name] = true
		}
	}

	producers := make(map[string]string)
	later := make(map[string]string)
	for i, s := range rb.Steps {
		for key := range s.Produces {
			if _, ok := later[key]; !ok {
				later[key] = stepPath(i)
			}
		}
	}

	for i, s := range rb.Steps {
		path := stepPath(i)
		for _, key := range s.Requires {
			if available[key] {
				continue
			}
			if at, ok := later[key]; ok {
				errs = append(errs, warningf("domain", path+".requires", "fact %q is only produced later (%s) and has no resolver", key, at))
				continue
			}
			errs = append(errs, warningf("domain", path+".requires", "fact %q has no producer, input or resolver", key))
		}

		refs := collectTemplateRefs(s)
		for _, ref := range refs {
			if !available[ref] {
				errs = append(errs, warningf("domain", path, "template reference %q does not resolve to an input, resolver or prior step output", ref))
			}
		}

		for _, key := range sortedExtractKeys(s.Produces) {
			if prev, ok := producers[key]; ok {
				errs = append(errs, warningf("domain", path+".produces."+key, "fact %q is already produced by step %q", key, prev))
				continue
			}
			producers[key] = s.ID
			available[key] = true
		}
	}
	return errs
}

// stepTemplates returns the template-bearing fields of a step, keyed by
// path suffix.
func stepTemplates(s schema.Step) map[string]string {
	out := map[string]string{}
	if s.Narration != "" {
		out["narration"] = s.Narration
	}
	for prefix, a := range map[string]*schema.Action{"action": s.Action, "verify": s.Verify} {
		if a == nil {
			continue
		}
		for i, text := range actionStrings(a) {
			out[fmt.Sprintf("%s[%d]", prefix, i)] = text
		}
	}
	return out
}

func collectTemplateRefs(s schema.Step) []string {
	var texts []string
	for _, t := range stepTemplates(s) {
		texts = append(texts, t)
	}
	seen := map[string]bool{}
	var refs []string
	for _, t := range texts {
		for _, m := range templateVarRe.FindAllStringSubmatch(t, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				refs = append(refs, m[1])
			}
		}
	}
	sort.Strings(refs)
	return refs
}

// actionStrings lists every templated string of an action.
func actionStrings(a *schema.Action) []string {
	out := []string{a.Shell, a.Pause, a.Timeout}
	if k := a.Kube; k != nil {
		out = append(out, k.APIVersion, k.Kind, k.Name, k.Namespace, k.Patch, k.Equals, k.Interval)
		out = append(out, k.Manifests...)
	}
	if h := a.Helm; h != nil {
		out = append(out, h.Release, h.Chart, h.Version, h.Namespace, h.Repo, h.URL)
		out = append(out, h.Values...)
		for _, v := range h.Set {
			out = append(out, v)
		}
	}
	if e := a.Exec; e != nil {
		out = append(out, e.Run, e.Dir)
		out = append(out, e.Argv...)
		for _, v := range e.Env {
			out = append(out, v)
		}
	}
	if h := a.HTTP; h != nil {
		out = append(out, h.URL, h.Body)
		for _, v := range h.Headers {
			out = append(out, v)
		}
	}
	var nonEmpty []string
	for _, s := range out {
		if strings.Contains(s, "{{") {
			nonEmpty = append(nonEmpty, s)
		}
	}
	sort.Strings(nonEmpty)
	return nonEmpty
}

func parseTemplate(text string) error {
	if !strings.Contains(text, "{{") {
		return nil
	}
	return eval.Compile(text)
}

func stepPath(i int) string {
	return fmt.Sprintf("steps[%d]", i)
}

func sortedFactKeys(m map[string]schema.FactDef) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedExtractKeys(m map[string]schema.Extract) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
