// Package engine runs a runbook: it feeds steps one at a time through the
// guard, confirmation, action and fact-production phases, and asks the
// operator how to recover from failures.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ormasoftchile/demokit/pkg/kernel/eval"
	"github.com/ormasoftchile/demokit/pkg/kernel/executor"
	"github.com/ormasoftchile/demokit/pkg/kernel/facts"
	"github.com/ormasoftchile/demokit/pkg/kernel/gate"
	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
	"github.com/ormasoftchile/demokit/pkg/kernel/trace"
)

// Run modes.
const (
	ModeReal   = "real"
	ModeDryRun = "dry-run"
	ModeReplay = "replay"
)

// DefaultMaxAttempts bounds operator-driven retries of one step.
const DefaultMaxAttempts = 5

// Status is the terminal state of a run.
type Status string

const (
	StatusComplete Status = "COMPLETE"
	StatusAborted  Status = "ABORTED"
)

// Outcome is the final state of one step.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeAborted Outcome = "failed-aborted"
)

// Recovery choices offered after a failed attempt.
const (
	ChoiceRetry = "retry"
	ChoiceSkip  = "skip"
	ChoiceAbort = "abort"
)

// ErrAborted is wrapped by RunResult.Error when the run did not complete.
var ErrAborted = errors.New("run aborted")

// ExecutionResult is one entry of the run's append-only step log.
type ExecutionResult struct {
	Step     string        `json:"step"`
	Ordinal  int           `json:"ordinal"`
	Outcome  Outcome       `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Attempts int           `json:"attempts"`
	Warnings []string      `json:"warnings,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
}

// RunConfig configures a runbook execution.
type RunConfig struct {
	RunID       string
	Mode        string            // "real", "dry-run", "replay"
	Vars        map[string]string // seed facts, already resolved by ResolveInputs
	Facts       *facts.Store      // shared store; nil creates a fresh one
	Runner      executor.ActionRunner
	Prompter    gate.Prompter // nil reads lines from Stdin
	Presenter   Presenter     // nil writes plain text to Stdout
	Trace       *trace.Writer
	MaxAttempts int
	From        string    // start at this step; earlier steps are skipped
	Stdin       io.Reader // defaults to os.Stdin
	Stdout      io.Writer // defaults to os.Stdout
	Logger      *slog.Logger
}

// RunResult is the outcome of executing a runbook.
type RunResult struct {
	Status   Status
	Results  []ExecutionResult
	Facts    []facts.Fact
	Duration time.Duration
	Error    error
}

// Engine executes runbooks.
type Engine struct {
	cfg     RunConfig
	rb      *schema.Runbook
	store   *facts.Store
	runner  executor.ActionRunner
	prompt  gate.Prompter
	gate    *gate.Gate
	present Presenter
	trace   *trace.Writer
	log     *slog.Logger
	results []ExecutionResult

	traceFailed bool
}

// New creates an engine for the given runbook.
func New(rb *schema.Runbook, cfg RunConfig) *Engine {
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeReal
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	e := &Engine{
		cfg:     cfg,
		rb:      rb,
		store:   cfg.Facts,
		runner:  cfg.Runner,
		prompt:  cfg.Prompter,
		present: cfg.Presenter,
		trace:   cfg.Trace,
		log:     cfg.Logger,
	}
	if e.store == nil {
		e.store = facts.NewStore()
	}
	if e.prompt == nil {
		e.prompt = gate.NewLinePrompter(cfg.Stdin, cfg.Stdout)
	}
	if e.runner == nil {
		e.runner = &executor.Dispatcher{Prompter: e.prompt, Out: cfg.Stdout}
	}
	if e.present == nil {
		e.present = plainPresenter{w: cfg.Stdout}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.gate = gate.New(e.prompt)
	return e
}

// Facts returns the run's fact store.
func (e *Engine) Facts() *facts.Store { return e.store }

// Run executes the runbook sequentially. Cancelling ctx aborts the run
// after the current external call returns.
func (e *Engine) Run(ctx context.Context) *RunResult {
	start := time.Now()
	e.results = nil
	e.traceFailed = false

	keys := make([]string, 0, len(e.cfg.Vars))
	for k := range e.cfg.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.store.Seed(k, e.cfg.Vars[k])
	}
	e.traced(e.trace.EmitRunStart(e.rb.Meta.Name, e.cfg.Mode, e.cfg.Vars))
	e.log.Info("run started", "runbook", e.rb.Meta.Name, "mode", e.cfg.Mode, "steps", len(e.rb.Steps))

	result := &RunResult{Status: StatusComplete}
	if err := e.runSteps(ctx); err != nil {
		result.Status = StatusAborted
		result.Error = err
	}

	result.Results = e.results
	result.Facts = e.store.Facts()
	result.Duration = time.Since(start)

	final := make(map[string]string, len(result.Facts))
	for _, f := range result.Facts {
		final[f.Key] = f.Value
	}
	e.traced(e.trace.EmitRunComplete(string(result.Status), result.Duration, final))
	e.log.Info("run finished", "status", result.Status, "duration", result.Duration.Round(time.Millisecond))
	e.present.Summary(result)
	return result
}

func (e *Engine) runSteps(ctx context.Context) error {
	from := 0
	if e.cfg.From != "" {
		from = e.rb.StepIndex(e.cfg.From)
		if from < 0 {
			return fmt.Errorf("--from %q: no such step: %w", e.cfg.From, ErrAborted)
		}
	}

	total := len(e.rb.Steps)
	for i := range e.rb.Steps {
		step := &e.rb.Steps[i]
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted before %s: %w: %w", step.ID, ErrAborted, err)
		}
		if i < from {
			r := skip(ExecutionResult{Step: step.ID, Ordinal: i + 1, At: time.Now()}, "before --from "+e.cfg.From)
			e.finish(step, r)
			e.record(r)
			continue
		}
		r := e.runStep(ctx, step, i+1, total)
		if r.Outcome == OutcomeAborted {
			if ctx.Err() != nil {
				return fmt.Errorf("step %s: %s: %w: %w", step.ID, r.Reason, ErrAborted, ctx.Err())
			}
			return fmt.Errorf("step %s: %s: %w", step.ID, r.Reason, ErrAborted)
		}
	}
	return nil
}

// runStep drives one step through its phases and records the result.
func (e *Engine) runStep(ctx context.Context, step *schema.Step, ordinal, total int) (r ExecutionResult) {
	r = ExecutionResult{Step: step.ID, Ordinal: ordinal, At: time.Now()}
	defer func() {
		r.Duration = time.Since(r.At)
		e.finish(step, r)
		e.record(r)
	}()

	desc := ""
	if step.Action != nil {
		desc = string(step.Action.Kind())
	}
	e.traced(e.trace.EmitStepStart(step.ID, ordinal, desc))
	e.present.StepStart(step, ordinal, total)
	log := e.log.With("step", step.ID)

	// when guard
	if step.When != "" {
		ok, err := eval.EvalBool(step.When, e.store.Vars())
		if err != nil {
			r.Warnings = append(r.Warnings, fmt.Sprintf("when guard: %v", err))
			e.present.Warn(fmt.Sprintf("when guard %q: %v", step.When, err))
			return skip(r, "when guard error")
		}
		if !ok {
			return skip(r, "when guard false")
		}
	}

	if e.cfg.Mode == ModeDryRun {
		e.narrate(step, &r)
		for _, a := range []*schema.Action{step.Action, step.Verify} {
			if a == nil {
				continue
			}
			resolved, err := executor.ResolveAction(a, e.store.Vars())
			if err != nil {
				e.present.Warn(err.Error())
				continue
			}
			e.present.Action(executor.Describe(resolved), true)
		}
		return skip(r, "dry-run")
	}

	// optional section prompt
	if step.Optional {
		run, err := gate.YesNo(ctx, e.prompt, fmt.Sprintf("Run %q?", step.DisplayName()), true)
		switch {
		case ctx.Err() != nil:
			return abort(r, "interrupted")
		case err != nil:
			run = true
		}
		if !run {
			return skip(r, "operator declined section")
		}
	}

	// preconditions
	for _, key := range step.Requires {
		e.require(ctx, step, key, &r)
	}
	if ctx.Err() != nil {
		return abort(r, "interrupted")
	}

	// destructive gate
	if step.Destructive {
		stages := step.Confirm
		if len(stages) == 0 {
			stages = gate.DefaultStages(step.DisplayName())
		}
		e.gate.OnStage(func(i int, s schema.ConfirmStage, outcome string) {
			e.traced(e.trace.EmitConfirmation(step.ID, i, s.Phrase != "", outcome))
		})
		confirmed := e.gate.Confirm(ctx, stages)
		switch {
		case ctx.Err() != nil:
			return abort(r, "interrupted")
		case !confirmed && step.Mandatory:
			log.Warn("mandatory step not confirmed")
			return abort(r, "mandatory step not confirmed")
		case !confirmed:
			return skip(r, "not confirmed")
		}
	}

	e.narrate(step, &r)

	if step.Action == nil {
		r.Outcome = OutcomeSuccess
		return r
	}

	res, outcome, reason := e.attempt(ctx, step, &r)
	r.Outcome = outcome
	r.Reason = reason
	if outcome != OutcomeSuccess {
		return r
	}

	// produce facts from the action's actual output
	keys := make([]string, 0, len(step.Produces))
	for k := range step.Produces {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		v, err := executor.Extract(step.Produces[key], res)
		if err != nil {
			e.warn(&r, fmt.Sprintf("fact %s not produced: %v", key, err))
			e.traced(e.trace.EmitFactUnresolved(key, step.ID, err.Error()))
			continue
		}
		if err := e.store.Set(key, v, step.ID); err != nil {
			e.warn(&r, err.Error())
			continue
		}
		e.traced(e.trace.EmitFactSet(key, v, step.ID))
		log.Debug("fact set", "key", key)
	}
	return r
}

// attempt runs action and verify until they succeed or the operator skips
// or aborts. Attempts are bounded by MaxAttempts; after the bound only skip
// and abort are offered.
func (e *Engine) attempt(ctx context.Context, step *schema.Step, r *ExecutionResult) (*executor.Result, Outcome, string) {
	choices := []string{ChoiceRetry, ChoiceSkip, ChoiceAbort}
	if step.Mandatory {
		choices = []string{ChoiceRetry, ChoiceAbort}
	}

	for {
		r.Attempts++
		if resolved, err := executor.ResolveAction(step.Action, e.store.Vars()); err == nil {
			e.present.Action(executor.Describe(resolved), false)
		}
		actx := executor.WithCall(ctx, executor.Call{Step: step.ID, Phase: executor.PhaseAction})
		res, err := e.runner.Run(actx, step.Action, e.store.Vars())
		if err == nil && step.Verify != nil {
			vctx := executor.WithCall(ctx, executor.Call{Step: step.ID, Phase: executor.PhaseVerify})
			if _, verr := e.runner.Run(vctx, step.Verify, e.store.Vars()); verr != nil {
				err = fmt.Errorf("verify: %w", verr)
			}
		}
		if err == nil {
			return res, OutcomeSuccess, ""
		}
		if ctx.Err() != nil {
			r.Error = err.Error()
			return nil, OutcomeAborted, "interrupted"
		}

		r.Error = err.Error()
		e.present.Warn(fmt.Sprintf("attempt %d failed: %v", r.Attempts, err))
		e.log.Warn("step attempt failed", "step", step.ID, "attempt", r.Attempts, "err", err)

		offered := choices
		if r.Attempts >= e.cfg.MaxAttempts {
			offered = withoutRetry(choices)
		}
		question := fmt.Sprintf("Step %q failed (attempt %d/%d).", step.ID, r.Attempts, e.cfg.MaxAttempts)
		choice, perr := gate.Choose(ctx, e.prompt, question, offered)
		if perr != nil {
			// no operator: never continue silently
			choice = ChoiceAbort
		}
		e.traced(e.trace.EmitRecoveryChoice(step.ID, r.Attempts, choice, err.Error()))

		switch choice {
		case ChoiceRetry:
			continue
		case ChoiceSkip:
			return nil, OutcomeSkipped, "operator skipped after failure"
		default:
			if ctx.Err() != nil {
				return nil, OutcomeAborted, "interrupted"
			}
			return nil, OutcomeAborted, "operator aborted after failure"
		}
	}
}

// require makes key available before the step runs: present facts are
// used as is, absent ones go through the fallback resolver. A fact that
// stays absent is a warning and the step continues degraded.
func (e *Engine) require(ctx context.Context, step *schema.Step, key string, r *ExecutionResult) {
	_, present := e.store.Get(key)
	v, err := e.store.Resolve(ctx, key, step.ID, e.producer(step.ID, key))
	if err != nil {
		e.warn(r, err.Error())
		e.traced(e.trace.EmitFactUnresolved(key, step.ID, err.Error()))
		return
	}
	if !present {
		e.traced(e.trace.EmitFactResolved(key, v, step.ID))
		e.log.Info("fact re-derived", "key", key, "step", step.ID)
	}
}

// producer builds the fallback for key from the runbook's facts section.
func (e *Engine) producer(step, key string) facts.Producer {
	def, ok := e.rb.Facts[key]
	if !ok || def.Resolve == nil {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		ctx = executor.WithCall(ctx, executor.Call{Step: step, Phase: executor.PhaseResolve, Fact: key})
		res, err := e.runner.Run(ctx, def.Resolve, e.store.Vars())
		if err != nil {
			return "", err
		}
		return executor.Extract(def.Extract, res)
	}
}

func (e *Engine) narrate(step *schema.Step, r *ExecutionResult) {
	if strings.TrimSpace(step.Narration) == "" {
		return
	}
	text, err := eval.Resolve(step.Narration, e.store.Vars())
	if err != nil {
		e.warn(r, fmt.Sprintf("narration: %v", err))
		text = step.Narration
	}
	e.present.Narrate(text)
}

// traced reports the first failed trace write of a run. Later failures are
// dropped; the run itself never fails on the audit trail.
func (e *Engine) traced(err error) {
	if err == nil || e.traceFailed {
		return
	}
	e.traceFailed = true
	e.log.Warn("trace write failed; further trace errors are not reported", "err", err)
}

func (e *Engine) warn(r *ExecutionResult, msg string) {
	r.Warnings = append(r.Warnings, msg)
	e.present.Warn(msg)
}

func (e *Engine) finish(step *schema.Step, r ExecutionResult) {
	status := trace.StatusSuccess
	switch r.Outcome {
	case OutcomeSkipped:
		status = trace.StatusSkipped
	case OutcomeAborted:
		status = trace.StatusAborted
	}
	e.traced(e.trace.EmitStepComplete(step.ID, status, r.Attempts, time.Since(r.At), r.Reason, r.Warnings))
}

func (e *Engine) record(r ExecutionResult) {
	e.results = append(e.results, r)
	e.present.StepDone(r)
}

func skip(r ExecutionResult, reason string) ExecutionResult {
	r.Outcome = OutcomeSkipped
	r.Reason = reason
	return r
}

func abort(r ExecutionResult, reason string) ExecutionResult {
	r.Outcome = OutcomeAborted
	r.Reason = reason
	return r
}

func withoutRetry(choices []string) []string {
	out := make([]string, 0, len(choices))
	for _, c := range choices {
		if c != ChoiceRetry {
			out = append(out, c)
		}
	}
	return out
}
