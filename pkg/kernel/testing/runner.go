package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ormasoftchile/demokit/pkg/kernel/engine"
	"github.com/ormasoftchile/demokit/pkg/kernel/facts"
	"github.com/ormasoftchile/demokit/pkg/kernel/gate"
	"github.com/ormasoftchile/demokit/pkg/kernel/replay"
	kschema "github.com/ormasoftchile/demokit/pkg/kernel/schema"
	"github.com/ormasoftchile/demokit/pkg/kernel/trace"
	"github.com/ormasoftchile/demokit/pkg/kernel/validate"
)

// Scenario result statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// TestResult is the result of running one scenario.
type TestResult struct {
	RunbookName  string            `json:"runbook_name"`
	ScenarioName string            `json:"scenario_name"`
	Status       string            `json:"status"` // passed, failed, skipped, error
	Runs         int               `json:"runs"`
	DurationMs   int64             `json:"duration_ms"`
	Assertions   []AssertionResult `json:"assertions,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// TestSummary aggregates counts across scenarios.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// TestOutput is the top-level output of a test run.
type TestOutput struct {
	Runbook   string       `json:"runbook"`
	Scenarios []TestResult `json:"scenarios"`
	Summary   TestSummary  `json:"summary"`
}

// Runner executes scenario-based tests against a runbook.
type Runner struct {
	Timeout  time.Duration
	FailFast bool
	Logger   *slog.Logger // nil discards engine logs

	// TraceDir, when set, receives one JSONL trace per scenario run.
	TraceDir string
}

// ScenarioInfo describes a discovered scenario directory.
type ScenarioInfo struct {
	Name string
	Dir  string
}

// DiscoverScenarios finds scenario directories for a runbook.
// Convention: scenarios are in a sibling `scenarios/<runbook-name>/` directory,
// each subdirectory containing a `scenario.yaml`.
func DiscoverScenarios(runbookPath string) ([]ScenarioInfo, error) {
	scenariosDir := scenariosDir(runbookPath)
	entries, err := os.ReadDir(scenariosDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scenarios dir: %w", err)
	}

	var scenarios []ScenarioInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		scenarioFile := filepath.Join(scenariosDir, entry.Name(), "scenario.yaml")
		if _, err := os.Stat(scenarioFile); err == nil {
			scenarios = append(scenarios, ScenarioInfo{
				Name: entry.Name(),
				Dir:  filepath.Join(scenariosDir, entry.Name()),
			})
		}
	}
	return scenarios, nil
}

// RunAll discovers and runs all scenarios for a runbook.
func (r *Runner) RunAll(ctx context.Context, runbookPath string) (*TestOutput, error) {
	scenarios, err := DiscoverScenarios(runbookPath)
	if err != nil {
		return nil, err
	}

	rb, err := loadValid(runbookPath)
	if err != nil {
		return nil, err
	}

	output := &TestOutput{Runbook: rb.Meta.Name}
	for _, si := range scenarios {
		result := r.runScenario(ctx, rb, si)
		output.Scenarios = append(output.Scenarios, result)

		switch result.Status {
		case StatusPassed:
			output.Summary.Passed++
		case StatusFailed:
			output.Summary.Failed++
		case StatusSkipped:
			output.Summary.Skipped++
		case StatusError:
			output.Summary.Errors++
		}
		output.Summary.Total++

		if r.FailFast && (result.Status == StatusFailed || result.Status == StatusError) {
			break
		}
	}
	return output, nil
}

// RunScenario runs a single named scenario.
func (r *Runner) RunScenario(ctx context.Context, runbookPath, scenarioName string) (*TestResult, error) {
	rb, err := loadValid(runbookPath)
	if err != nil {
		return nil, err
	}
	si := ScenarioInfo{Name: scenarioName, Dir: filepath.Join(scenariosDir(runbookPath), scenarioName)}
	result := r.runScenario(ctx, rb, si)
	return &result, nil
}

// runScenario replays a scenario spec.Runs times against one fact store and
// evaluates the test spec after every run.
func (r *Runner) runScenario(ctx context.Context, rb *kschema.Runbook, si ScenarioInfo) TestResult {
	start := time.Now()
	result := TestResult{RunbookName: rb.Meta.Name, ScenarioName: si.Name}
	fail := func(format string, args ...any) TestResult {
		result.Status = StatusError
		result.Error = fmt.Sprintf(format, args...)
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	scenario, err := replay.LoadScenarioDir(si.Dir)
	if err != nil {
		return fail("load scenario: %s", err)
	}

	// test.yaml is optional; without it the scenario is skipped
	testSpecPath := filepath.Join(si.Dir, "test.yaml")
	if _, err := os.Stat(testSpecPath); err != nil {
		result.Status = StatusSkipped
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}
	spec, err := LoadTestSpec(testSpecPath)
	if err != nil {
		return fail("load test spec: %s", err)
	}

	inputs, err := engine.ResolveInputs(rb, scenario.Vars)
	if err != nil {
		return fail("%s", err)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	runs := spec.Runs
	if runs == 0 {
		runs = 1
	}
	store := facts.NewStore()
	for i := 1; i <= runs; i++ {
		run, err := r.replayOnce(ctx, rb, si, scenario, inputs.Vars, store, i)
		if err != nil {
			return fail("run %d: %s", i, err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fail("timeout")
		}
		result.Assertions = append(result.Assertions, Evaluate(spec, run)...)
		result.Runs = i
	}

	result.Status = StatusPassed
	if HasFailures(result.Assertions) {
		result.Status = StatusFailed
	}
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

func (r *Runner) replayOnce(ctx context.Context, rb *kschema.Runbook, si ScenarioInfo, scenario *replay.Scenario,
	vars map[string]string, store *facts.Store, n int) (*RunResult, error) {
	runID := fmt.Sprintf("test-%s-%d", si.Name, n)

	var traceOut io.Writer = &bytes.Buffer{}
	if r.TraceDir != "" {
		f, err := os.Create(filepath.Join(r.TraceDir, runID+".jsonl"))
		if err != nil {
			return nil, fmt.Errorf("create trace: %w", err)
		}
		defer f.Close()
		traceOut = f
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	eng := engine.New(rb, engine.RunConfig{
		RunID:    runID,
		Mode:     engine.ModeReplay,
		Vars:     vars,
		Facts:    store,
		Runner:   replay.NewRunner(scenario),
		Prompter: gate.NewScripted(scenario.Answers...),
		Trace:    trace.NewWriter(traceOut, runID),
		Stdin:    strings.NewReader(""),
		Stdout:   io.Discard,
		Logger:   logger.With("scenario", si.Name, "run", n),
	})
	res := eng.Run(ctx)

	run := &RunResult{
		Run:      n,
		Status:   string(res.Status),
		Outcomes: make(map[string]string, len(res.Results)),
		Facts:    make(map[string]string, len(res.Facts)),
		Error:    res.Error,
	}
	for _, sr := range res.Results {
		run.Outcomes[sr.Step] = string(sr.Outcome)
	}
	for _, f := range res.Facts {
		run.Facts[f.Key] = f.Value
	}
	return run, nil
}

func loadValid(runbookPath string) (*kschema.Runbook, error) {
	rb, errs := validate.ValidateFile(runbookPath)
	if err := validate.Err(errs); err != nil {
		return nil, fmt.Errorf("runbook validation failed: %w", err)
	}
	return rb, nil
}

func scenariosDir(runbookPath string) string {
	dir := filepath.Dir(runbookPath)
	base := strings.TrimSuffix(filepath.Base(runbookPath), filepath.Ext(runbookPath))
	return filepath.Join(dir, "scenarios", base)
}
