package validate

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

func testdataPath(name string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata", name)
}

func validateYAML(t *testing.T, src string) []*ValidationError {
	t.Helper()
	rb, err := schema.Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return ValidateRunbook(rb, testdataPath(""))
}

func TestValidateFile_Valid(t *testing.T) {
	rb, errs := ValidateFile(testdataPath("valid.yaml"))
	for _, e := range errs {
		t.Errorf("unexpected finding: %s", e)
	}
	if rb == nil {
		t.Fatal("expected runbook, got nil")
	}
	if rb.Meta.Name != "test-runbook" {
		t.Errorf("name = %q, want %q", rb.Meta.Name, "test-runbook")
	}
	if len(rb.Steps) != 3 {
		t.Errorf("steps = %d, want 3", len(rb.Steps))
	}
}

func TestValidateFile_JSONC(t *testing.T) {
	rb, errs := ValidateFile(testdataPath("jsonc.jsonc"))
	if HasErrors(errs) {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if rb.Steps[0].ID != "hello" {
		t.Errorf("step = %q, want hello", rb.Steps[0].ID)
	}
}

func TestValidateFile_DuplicateIDs(t *testing.T) {
	_, errs := ValidateFile(testdataPath("duplicate_ids.yaml"))
	if !containsMessage(filterErrors(errs), "duplicate step ID") {
		t.Errorf("expected duplicate step ID error, got %v", errs)
	}
}

func TestValidateFile_UnknownField(t *testing.T) {
	rb, errs := ValidateFile(testdataPath("unknown_field.yaml"))
	if rb != nil {
		t.Error("expected nil runbook on structural failure")
	}
	if len(errs) != 1 || errs[0].Phase != "structural" {
		t.Fatalf("errs = %v, want one structural error", errs)
	}
	if !strings.Contains(errs[0].Message, "typo") {
		t.Errorf("message = %q, want mention of the unknown field", errs[0].Message)
	}
}

func TestValidateFile_NotFound(t *testing.T) {
	rb, errs := ValidateFile(testdataPath("nope.yaml"))
	if rb != nil {
		t.Error("expected nil runbook")
	}
	if !HasErrors(errs) {
		t.Error("expected an error for a missing file")
	}
}

func TestValidateFile_BadActions(t *testing.T) {
	_, errs := ValidateFile(testdataPath("bad_actions.yaml"))
	errors := filterErrors(errs)
	for _, want := range []string{
		"exactly one is allowed",
		"action must set one of",
		"kube get needs kind and name",
		"kube apply needs manifests",
		"kube patch needs a patch",
		"exec cannot set both argv and run",
		"helm install needs release and chart",
		"invalid duration",
	} {
		if !containsMessage(errors, want) {
			t.Errorf("expected error containing %q", want)
		}
	}
}

func TestValidateRunbook_Semantic(t *testing.T) {
	errs := validateYAML(t, `
apiVersion: demokit/v2
meta:
  name: ""
steps:
  - id: "bad id"
    action:
      kube:
        verb: explode
`)
	errors := filterErrors(errs)
	if len(errors) == 0 {
		t.Fatal("expected semantic errors")
	}
	for _, e := range errors {
		if e.Phase != "semantic" {
			t.Errorf("phase = %q, want semantic (%s)", e.Phase, e)
		}
	}
	paths := map[string]bool{}
	for _, e := range errors {
		paths[e.Path] = true
	}
	for _, want := range []string{"apiVersion", "meta.name", "steps.0.id", "steps.0.action.kube.verb"} {
		if !paths[want] {
			t.Errorf("missing semantic error at %s; got %v", want, errors)
		}
	}
}

func TestValidateRunbook_NoSteps(t *testing.T) {
	errs := validateYAML(t, `
apiVersion: demokit/v1
meta:
  name: empty
steps: []
`)
	if !HasErrors(errs) {
		t.Error("expected an error for a runbook without steps")
	}
}

func TestValidateRunbook_Flags(t *testing.T) {
	errs := validateYAML(t, `
apiVersion: demokit/v1
meta:
  name: flags
steps:
  - id: both
    optional: true
    mandatory: true
    destructive: true
    action:
      shell: "true"
  - id: stray-confirm
    confirm:
      - phrase: RESET
    action:
      shell: "true"
  - id: padded
    destructive: true
    confirm:
      - phrase: " RESET "
    action:
      shell: "true"
`)
	if !containsMessage(filterErrors(errs), "both optional and mandatory") {
		t.Error("expected optional+mandatory error")
	}
	if !containsMessage(filterErrors(errs), "leading or trailing spaces") {
		t.Error("expected padded phrase error")
	}
	if !containsMessage(filterWarnings(errs), "only used on destructive steps") {
		t.Error("expected stray confirm warning")
	}
}

func TestValidateRunbook_BadWhen(t *testing.T) {
	errs := validateYAML(t, `
apiVersion: demokit/v1
meta:
  name: guard
steps:
  - id: guarded
    when: "GPU == "
    action:
      shell: "true"
`)
	if !containsMessage(filterErrors(errs), "invalid guard") {
		t.Errorf("expected invalid guard error, got %v", errs)
	}
}

func TestValidateRunbook_BadTemplate(t *testing.T) {
	errs := validateYAML(t, `
apiVersion: demokit/v1
meta:
  name: tmpl
  inputs:
    X: {default: "1"}
steps:
  - id: broken
    action:
      shell: "echo {{ .X "
`)
	if !containsMessage(filterErrors(errs), "invalid template") {
		t.Errorf("expected invalid template error, got %v", errs)
	}
}

func TestValidateRunbook_FactFlow(t *testing.T) {
	errs := validateYAML(t, `
apiVersion: demokit/v1
meta:
  name: flow
steps:
  - id: early
    requires: [TOKEN]
    action:
      shell: "echo {{ .TOKEN }}"
  - id: make
    action:
      shell: echo abc
    produces:
      TOKEN: {from: stdout}
  - id: again
    action:
      shell: echo def
    produces:
      TOKEN: {from: stdout}
  - id: orphan
    requires: [NOPE]
    action:
      shell: "true"
`)
	if HasErrors(errs) {
		t.Fatalf("fact flow findings must be warnings: %v", filterErrors(errs))
	}
	warnings := filterWarnings(errs)
	for _, want := range []string{
		`fact "TOKEN" is only produced later`,
		`template reference "TOKEN"`,
		`already produced by step "make"`,
		`fact "NOPE" has no producer`,
	} {
		if !containsMessage(warnings, want) {
			t.Errorf("expected warning containing %q, got %v", want, warnings)
		}
	}
}

func TestValidateRunbook_ResolverSatisfiesRequires(t *testing.T) {
	errs := validateYAML(t, `
apiVersion: demokit/v1
meta:
  name: resolver
facts:
  URL:
    resolve:
      shell: echo example.com
steps:
  - id: open
    requires: [URL]
    action:
      http:
        url: "https://{{ .URL }}"
`)
	if len(errs) != 0 {
		t.Errorf("unexpected findings: %v", errs)
	}
}

func TestValidateRunbook_Extract(t *testing.T) {
	errs := validateYAML(t, `
apiVersion: demokit/v1
meta:
  name: extract
steps:
  - id: one
    action:
      shell: echo x
    produces:
      A: {from: stdout, pattern: "("}
      B: {from: stdout, path: spec.host}
`)
	errors := filterErrors(errs)
	if !containsMessage(errors, "invalid pattern") {
		t.Error("expected invalid pattern error")
	}
	if !containsMessage(errors, "path requires from: json") {
		t.Error("expected path/from error")
	}
}

func TestValidateRunbook_MissingManifest(t *testing.T) {
	errs := validateYAML(t, `
apiVersion: demokit/v1
meta:
  name: manifests
steps:
  - id: apply
    action:
      kube:
        verb: apply
        manifests: [missing/*.yaml]
`)
	if !containsMessage(filterWarnings(errs), "no files match") {
		t.Errorf("expected missing manifest warning, got %v", errs)
	}
}

func TestErr(t *testing.T) {
	if err := Err([]*ValidationError{warningf("domain", "x", "just a warning")}); err != nil {
		t.Errorf("Err(warnings) = %v, want nil", err)
	}
	err := Err([]*ValidationError{errorf("domain", "steps[0]", "broken")})
	if err == nil || !strings.Contains(err.Error(), "broken at steps[0]") {
		t.Errorf("Err = %v, want error mentioning the finding", err)
	}
}

func filterErrors(errs []*ValidationError) []*ValidationError {
	return filterSeverity(errs, SeverityError)
}

func filterWarnings(errs []*ValidationError) []*ValidationError {
	return filterSeverity(errs, SeverityWarning)
}

func filterSeverity(errs []*ValidationError, severity string) []*ValidationError {
	var out []*ValidationError
	for _, e := range errs {
		if e.Severity == severity {
			out = append(out, e)
		}
	}
	return out
}

func containsMessage(errs []*ValidationError, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
