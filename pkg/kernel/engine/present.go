package engine

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// Presenter renders run progress for the operator. pkg/presenter provides
// the terminal implementation; the engine falls back to plain text.
type Presenter interface {
	StepStart(step *schema.Step, ordinal, total int)
	Narrate(markdown string)
	Action(desc string, dryRun bool)
	Warn(msg string)
	StepDone(r ExecutionResult)
	Summary(res *RunResult)
}

// plainPresenter writes unstyled lines.
type plainPresenter struct {
	w io.Writer
}

func (p plainPresenter) StepStart(step *schema.Step, ordinal, total int) {
	fmt.Fprintf(p.w, "\n[%d/%d] %s\n", ordinal, total, step.DisplayName())
}

func (p plainPresenter) Narrate(markdown string) {
	for _, line := range strings.Split(strings.TrimSpace(markdown), "\n") {
		fmt.Fprintf(p.w, "  %s\n", line)
	}
}

func (p plainPresenter) Action(desc string, dryRun bool) {
	if dryRun {
		fmt.Fprintf(p.w, "  [dry-run] %s\n", desc)
		return
	}
	fmt.Fprintf(p.w, "  → %s\n", desc)
}

func (p plainPresenter) Warn(msg string) {
	fmt.Fprintf(p.w, "  ! %s\n", msg)
}

func (p plainPresenter) StepDone(r ExecutionResult) {
	line := fmt.Sprintf("  %s %s", r.Outcome, r.Step)
	if r.Reason != "" {
		line += " (" + r.Reason + ")"
	}
	fmt.Fprintln(p.w, line)
}

func (p plainPresenter) Summary(res *RunResult) {
	fmt.Fprintf(p.w, "\n%s in %s: %d steps, %d facts\n", res.Status, res.Duration.Round(time.Millisecond), len(res.Results), len(res.Facts))
	if res.Error != nil {
		fmt.Fprintf(p.w, "  %v\n", res.Error)
	}
}
