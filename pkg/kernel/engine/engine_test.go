package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ormasoftchile/demokit/pkg/kernel/executor"
	"github.com/ormasoftchile/demokit/pkg/kernel/facts"
	"github.com/ormasoftchile/demokit/pkg/kernel/gate"
	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
	"github.com/ormasoftchile/demokit/pkg/kernel/trace"
)

// fakeRunner executes shell actions by name: it records the resolved
// command, fails it while fail[cmd] > 0 and otherwise prints out[cmd].
type fakeRunner struct {
	calls []string
	fail  map[string]int
	out   map[string]string
}

func (f *fakeRunner) Run(_ context.Context, a *schema.Action, vars map[string]any) (*executor.Result, error) {
	resolved, err := executor.ResolveAction(a, vars)
	if err != nil {
		return nil, err
	}
	cmd := resolved.Shell
	f.calls = append(f.calls, cmd)
	if f.fail[cmd] > 0 {
		f.fail[cmd]--
		return &executor.Result{ExitCode: 1}, errors.New("exit code 1")
	}
	return &executor.Result{Stdout: f.out[cmd]}, nil
}

func (f *fakeRunner) called(cmd string) bool {
	for _, c := range f.calls {
		if c == cmd {
			return true
		}
	}
	return false
}

func sh(cmd string) *schema.Action { return &schema.Action{Shell: cmd} }

func newEngine(rb *schema.Runbook, runner *fakeRunner, p gate.Prompter, opts ...func(*RunConfig)) (*Engine, *bytes.Buffer) {
	var out bytes.Buffer
	cfg := RunConfig{
		RunID:    "test-run",
		Mode:     ModeReal,
		Runner:   runner,
		Prompter: p,
		Stdout:   &out,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return New(rb, cfg), &out
}

func outcomes(res *RunResult) string {
	var parts []string
	for _, r := range res.Results {
		parts = append(parts, r.Step+"="+string(r.Outcome))
	}
	return strings.Join(parts, " ")
}

func demoRunbook() *schema.Runbook {
	return &schema.Runbook{
		APIVersion: schema.APIVersion,
		Meta:       schema.Meta{Name: "demo"},
		Facts: map[string]schema.FactDef{
			"URL": {Resolve: sh("lookup-url")},
		},
		Steps: []schema.Step{
			{ID: "deploy", Action: sh("deploy"), Produces: map[string]schema.Extract{"URL": {From: "stdout"}}},
			{ID: "open", Requires: []string{"URL"}, Action: sh("open {{ .URL }}")},
		},
	}
}

func TestEngine_CompleteProducesFacts(t *testing.T) {
	runner := &fakeRunner{out: map[string]string{"deploy": "https://model.apps\n"}}
	var tb bytes.Buffer
	eng, _ := newEngine(demoRunbook(), runner, gate.NewScripted(), func(c *RunConfig) {
		c.Trace = trace.NewWriter(&tb, "test-run")
	})

	res := eng.Run(context.Background())
	if res.Status != StatusComplete {
		t.Fatalf("status = %s, error = %v", res.Status, res.Error)
	}
	if got := outcomes(res); got != "deploy=success open=success" {
		t.Errorf("outcomes = %s", got)
	}
	if !runner.called("open https://model.apps") {
		t.Errorf("calls = %v", runner.calls)
	}
	if runner.called("lookup-url") {
		t.Error("fallback must not run when the fact is present")
	}
	f, ok := eng.Facts().Lookup("URL")
	if !ok || f.Step != "deploy" || f.Source != facts.SourceProduced {
		t.Errorf("fact = %+v", f)
	}
	for _, ev := range []string{"run_start", "step_start", "fact_set", "step_complete", "run_complete"} {
		if !strings.Contains(tb.String(), `"type":"`+ev+`"`) {
			t.Errorf("trace missing %s", ev)
		}
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestEngine_TraceFailureWarnsOnce(t *testing.T) {
	runner := &fakeRunner{out: map[string]string{"deploy": "https://model.apps"}}
	var logs bytes.Buffer
	eng, _ := newEngine(demoRunbook(), runner, gate.NewScripted(), func(c *RunConfig) {
		c.Trace = trace.NewWriter(brokenWriter{}, "test-run")
		c.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	})

	res := eng.Run(context.Background())
	if res.Status != StatusComplete {
		t.Fatalf("status = %s, error = %v", res.Status, res.Error)
	}
	if n := strings.Count(logs.String(), "trace write failed"); n != 1 {
		t.Errorf("warnings = %d, want 1\n%s", n, logs.String())
	}
	if !strings.Contains(logs.String(), "disk full") {
		t.Errorf("log = %q, want the write error", logs.String())
	}
}

func TestEngine_RunTwiceCompletesBothTimes(t *testing.T) {
	runner := &fakeRunner{out: map[string]string{"deploy": "https://model.apps"}}
	store := facts.NewStore()
	for i := 0; i < 2; i++ {
		eng, _ := newEngine(demoRunbook(), runner, gate.NewScripted(), func(c *RunConfig) { c.Facts = store })
		res := eng.Run(context.Background())
		if res.Status != StatusComplete {
			t.Fatalf("run %d: status = %s, error = %v", i+1, res.Status, res.Error)
		}
	}
	if v, _ := store.Get("URL"); v != "https://model.apps" {
		t.Errorf("URL = %q", v)
	}
}

func destructiveRunbook(mandatory bool) *schema.Runbook {
	return &schema.Runbook{
		Meta: schema.Meta{Name: "teardown"},
		Steps: []schema.Step{
			{
				ID:          "wipe",
				Destructive: true,
				Mandatory:   mandatory,
				Confirm: []schema.ConfirmStage{
					{Prompt: "Type FULL RESET:", Phrase: "FULL RESET"},
					{Prompt: "Really?"},
				},
				Action:   sh("wipe"),
				Produces: map[string]schema.Extract{"WIPED": {}},
			},
			{ID: "after", Action: sh("after")},
		},
	}
}

func TestEngine_DestructiveDeclinedNeverInvokesAction(t *testing.T) {
	runner := &fakeRunner{out: map[string]string{"wipe": "done"}}
	p := gate.NewScripted("full reset")
	eng, _ := newEngine(destructiveRunbook(false), runner, p)

	res := eng.Run(context.Background())
	if res.Status != StatusComplete {
		t.Fatalf("status = %s", res.Status)
	}
	if runner.called("wipe") {
		t.Error("declined destructive action was invoked")
	}
	if got := outcomes(res); got != "wipe=skipped after=success" {
		t.Errorf("outcomes = %s", got)
	}
	if _, ok := eng.Facts().Get("WIPED"); ok {
		t.Error("skipped step must not produce facts")
	}
}

func TestEngine_DestructiveConfirmed(t *testing.T) {
	runner := &fakeRunner{out: map[string]string{"wipe": "done"}}
	eng, _ := newEngine(destructiveRunbook(false), runner, gate.NewScripted("FULL RESET", "y"))
	res := eng.Run(context.Background())
	if got := outcomes(res); got != "wipe=success after=success" {
		t.Errorf("outcomes = %s", got)
	}
	if v, _ := eng.Facts().Get("WIPED"); v != "done" {
		t.Errorf("WIPED = %q", v)
	}
}

func TestEngine_MandatoryDeclinedAborts(t *testing.T) {
	runner := &fakeRunner{}
	eng, _ := newEngine(destructiveRunbook(true), runner, gate.NewScripted("FULL RESET", "n"))
	res := eng.Run(context.Background())
	if res.Status != StatusAborted {
		t.Fatalf("status = %s, want ABORTED", res.Status)
	}
	if !errors.Is(res.Error, ErrAborted) {
		t.Errorf("error = %v, want ErrAborted", res.Error)
	}
	if len(runner.calls) != 0 {
		t.Errorf("calls = %v, want none", runner.calls)
	}
	if got := outcomes(res); got != "wipe=failed-aborted" {
		t.Errorf("outcomes = %s", got)
	}
}

func TestEngine_DestructiveDefaultStage(t *testing.T) {
	rb := &schema.Runbook{Steps: []schema.Step{{ID: "drop", Destructive: true, Action: sh("drop")}}}
	runner := &fakeRunner{}
	p := gate.NewScripted("yes")
	eng, _ := newEngine(rb, runner, p)
	eng.Run(context.Background())
	if !runner.called("drop") {
		t.Error("expected action after yes")
	}
	if len(p.Asked) != 1 {
		t.Errorf("asked = %v", p.Asked)
	}
}

func TestEngine_RetryThenSuccess(t *testing.T) {
	runner := &fakeRunner{
		fail: map[string]int{"deploy": 1},
		out:  map[string]string{"deploy": "https://model.apps"},
	}
	eng, _ := newEngine(demoRunbook(), runner, gate.NewScripted("retry"))
	res := eng.Run(context.Background())
	if res.Status != StatusComplete {
		t.Fatalf("status = %s, error = %v", res.Status, res.Error)
	}
	if res.Results[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Results[0].Attempts)
	}
}

func TestEngine_SkippedProducerUsesFallback(t *testing.T) {
	runner := &fakeRunner{
		fail: map[string]int{"deploy": 1},
		out:  map[string]string{"lookup-url": "https://found.apps\n"},
	}
	eng, _ := newEngine(demoRunbook(), runner, gate.NewScripted("skip"))
	res := eng.Run(context.Background())
	if res.Status != StatusComplete {
		t.Fatalf("status = %s", res.Status)
	}
	if got := outcomes(res); got != "deploy=skipped open=success" {
		t.Errorf("outcomes = %s", got)
	}
	if !runner.called("lookup-url") || !runner.called("open https://found.apps") {
		t.Errorf("calls = %v", runner.calls)
	}
	f, _ := eng.Facts().Lookup("URL")
	if f.Source != facts.SourceResolved || f.Step != "open" {
		t.Errorf("fact = %+v", f)
	}
}

func TestEngine_FallbackFailsContinuesWarned(t *testing.T) {
	runner := &fakeRunner{fail: map[string]int{"deploy": 1, "lookup-url": 1}}
	eng, _ := newEngine(demoRunbook(), runner, gate.NewScripted("skip"))
	res := eng.Run(context.Background())
	if res.Status != StatusComplete {
		t.Fatalf("status = %s", res.Status)
	}
	open := res.Results[1]
	if open.Outcome != OutcomeSuccess {
		t.Errorf("open outcome = %s", open.Outcome)
	}
	if len(open.Warnings) == 0 || !strings.Contains(open.Warnings[0], "URL unresolved") {
		t.Errorf("warnings = %v", open.Warnings)
	}
	if _, ok := eng.Facts().Get("URL"); ok {
		t.Error("URL should stay absent")
	}
}

func TestEngine_AbortAfterFailure(t *testing.T) {
	runner := &fakeRunner{fail: map[string]int{"deploy": 1}}
	eng, _ := newEngine(demoRunbook(), runner, gate.NewScripted("abort"))
	res := eng.Run(context.Background())
	if res.Status != StatusAborted || !errors.Is(res.Error, ErrAborted) {
		t.Fatalf("status = %s, error = %v", res.Status, res.Error)
	}
	if runner.called("open ") {
		t.Error("steps after an abort must not run")
	}
	if len(res.Results) != 1 || res.Results[0].Error == "" {
		t.Errorf("results = %+v", res.Results)
	}
}

func TestEngine_AttemptBound(t *testing.T) {
	runner := &fakeRunner{fail: map[string]int{"deploy": 10}}
	p := gate.NewScripted("r", "s")
	eng, _ := newEngine(demoRunbook(), runner, p, func(c *RunConfig) { c.MaxAttempts = 2 })
	res := eng.Run(context.Background())

	if res.Results[0].Attempts != 2 || res.Results[0].Outcome != OutcomeSkipped {
		t.Errorf("deploy = %+v", res.Results[0])
	}
	if len(p.Asked) != 2 {
		t.Fatalf("asked = %v", p.Asked)
	}
	if !strings.Contains(p.Asked[0], "[r]etry") {
		t.Errorf("first question = %q", p.Asked[0])
	}
	if strings.Contains(p.Asked[1], "etry") {
		t.Errorf("retry offered past the bound: %q", p.Asked[1])
	}
}

func TestEngine_NoOperatorAbortsOnFailure(t *testing.T) {
	runner := &fakeRunner{fail: map[string]int{"deploy": 1}}
	eng, _ := newEngine(demoRunbook(), runner, gate.NonInteractive{})
	res := eng.Run(context.Background())
	if res.Status != StatusAborted {
		t.Errorf("status = %s, want ABORTED", res.Status)
	}
}

func TestEngine_VerifyFailureIsRecoverable(t *testing.T) {
	rb := &schema.Runbook{Steps: []schema.Step{{ID: "deploy", Action: sh("deploy"), Verify: sh("check")}}}
	runner := &fakeRunner{fail: map[string]int{"check": 1}}
	eng, _ := newEngine(rb, runner, gate.NewScripted("retry"))
	res := eng.Run(context.Background())
	if res.Status != StatusComplete {
		t.Fatalf("status = %s", res.Status)
	}
	if got := strings.Join(runner.calls, ","); got != "deploy,check,deploy,check" {
		t.Errorf("calls = %s", got)
	}
}

func TestEngine_MissingOutputIsWarning(t *testing.T) {
	runner := &fakeRunner{out: map[string]string{"deploy": ""}}
	rb := demoRunbook()
	rb.Facts = nil
	eng, _ := newEngine(rb, runner, gate.NewScripted())
	res := eng.Run(context.Background())
	if res.Status != StatusComplete {
		t.Fatalf("status = %s", res.Status)
	}
	if len(res.Results[0].Warnings) == 0 || !strings.Contains(res.Results[0].Warnings[0], "fact URL not produced") {
		t.Errorf("warnings = %v", res.Results[0].Warnings)
	}
	if _, ok := eng.Facts().Get("URL"); ok {
		t.Error("an output the action did not return must not be assumed")
	}
}

func TestEngine_WhenGuard(t *testing.T) {
	rb := &schema.Runbook{Steps: []schema.Step{
		{ID: "gpu", When: `GPU == "true"`, Action: sh("gpu")},
		{ID: "cpu", When: `GPU != "true"`, Action: sh("cpu")},
	}}
	runner := &fakeRunner{}
	eng, _ := newEngine(rb, runner, gate.NewScripted(), func(c *RunConfig) {
		c.Vars = map[string]string{"GPU": "false"}
	})
	res := eng.Run(context.Background())
	if got := outcomes(res); got != "gpu=skipped cpu=success" {
		t.Errorf("outcomes = %s", got)
	}
	if runner.called("gpu") {
		t.Error("guarded step ran")
	}
}

func TestEngine_OptionalSection(t *testing.T) {
	rb := &schema.Runbook{Steps: []schema.Step{
		{ID: "pipeline", Title: "Pipelines demo", Optional: true, Action: sh("pipeline")},
		{ID: "inference", Optional: true, Action: sh("inference")},
	}}
	runner := &fakeRunner{}
	p := gate.NewScripted("n", "")
	eng, _ := newEngine(rb, runner, p)
	res := eng.Run(context.Background())
	if got := outcomes(res); got != "pipeline=skipped inference=success" {
		t.Errorf("outcomes = %s", got)
	}
	if !strings.Contains(p.Asked[0], "Pipelines demo") {
		t.Errorf("question = %q", p.Asked[0])
	}
}

func TestEngine_DryRun(t *testing.T) {
	runner := &fakeRunner{}
	rb := demoRunbook()
	rb.Steps[0].Narration = "Deploying to **{{ .NAMESPACE }}**"
	eng, out := newEngine(rb, runner, gate.NewScripted(), func(c *RunConfig) {
		c.Mode = ModeDryRun
		c.Vars = map[string]string{"NAMESPACE": "fsi-demo"}
	})
	res := eng.Run(context.Background())
	if res.Status != StatusComplete {
		t.Fatalf("status = %s", res.Status)
	}
	if got := outcomes(res); got != "deploy=skipped open=skipped" {
		t.Errorf("outcomes = %s", got)
	}
	if len(runner.calls) != 0 {
		t.Errorf("dry-run invoked %v", runner.calls)
	}
	if !strings.Contains(out.String(), "[dry-run] sh -c deploy") {
		t.Errorf("output = %s", out.String())
	}
	if !strings.Contains(out.String(), "Deploying to **fsi-demo**") {
		t.Errorf("narration not rendered: %s", out.String())
	}
}

func TestEngine_From(t *testing.T) {
	runner := &fakeRunner{out: map[string]string{"lookup-url": "https://x"}}
	eng, _ := newEngine(demoRunbook(), runner, gate.NewScripted(), func(c *RunConfig) { c.From = "open" })
	res := eng.Run(context.Background())
	if got := outcomes(res); got != "deploy=skipped open=success" {
		t.Errorf("outcomes = %s", got)
	}
	if runner.called("deploy") {
		t.Error("step before --from ran")
	}
	if !runner.called("open https://x") {
		t.Errorf("calls = %v", runner.calls)
	}
}

func TestEngine_FromUnknownStep(t *testing.T) {
	eng, _ := newEngine(demoRunbook(), &fakeRunner{}, gate.NewScripted(), func(c *RunConfig) { c.From = "nope" })
	res := eng.Run(context.Background())
	if res.Status != StatusAborted || !strings.Contains(res.Error.Error(), "nope") {
		t.Errorf("status = %s, error = %v", res.Status, res.Error)
	}
}

func TestEngine_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{}
	eng, _ := newEngine(demoRunbook(), runner, gate.NewScripted())
	res := eng.Run(ctx)
	if res.Status != StatusAborted {
		t.Fatalf("status = %s", res.Status)
	}
	if !errors.Is(res.Error, context.Canceled) || !errors.Is(res.Error, ErrAborted) {
		t.Errorf("error = %v", res.Error)
	}
	if len(runner.calls) != 0 {
		t.Errorf("calls = %v", runner.calls)
	}
}

func TestEngine_NarrationOnlyStep(t *testing.T) {
	rb := &schema.Runbook{Steps: []schema.Step{{ID: "intro", Narration: "Welcome"}}}
	eng, out := newEngine(rb, &fakeRunner{}, gate.NewScripted())
	res := eng.Run(context.Background())
	if got := outcomes(res); got != "intro=success" {
		t.Errorf("outcomes = %s", got)
	}
	if !strings.Contains(out.String(), "Welcome") {
		t.Errorf("output = %s", out.String())
	}
}
