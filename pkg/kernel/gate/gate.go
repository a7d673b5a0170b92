// Package gate implements operator checkpoints: the multi-stage
// confirmation gate for destructive steps and the yes/no and choice prompts
// the engine asks between steps.
package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// Stage outcomes reported to the observer.
const (
	Passed   = "passed"
	Declined = "declined"
	Failed   = "failed" // prompt error, EOF or cancellation
)

// Observer is notified after every stage, e.g. to write a trace event.
type Observer func(stage int, s schema.ConfirmStage, outcome string)

// Gate asks the operator to confirm destructive work.
type Gate struct {
	p       Prompter
	observe Observer
}

// New creates a gate reading answers from p.
func New(p Prompter) *Gate {
	return &Gate{p: p}
}

// OnStage registers an observer for stage outcomes.
func (g *Gate) OnStage(fn Observer) {
	g.observe = fn
}

// DefaultStages is used for destructive steps that declare no stages.
func DefaultStages(title string) []schema.ConfirmStage {
	return []schema.ConfirmStage{{Prompt: fmt.Sprintf("Proceed with %q?", title)}}
}

// Confirm runs every stage in order and reports whether all of them passed.
// A phrase stage passes only when the answer equals the phrase exactly,
// case included. A yes/no stage passes on "y" or "yes". Any declined or
// failed stage returns false; Confirm never returns an error.
func (g *Gate) Confirm(ctx context.Context, stages []schema.ConfirmStage) bool {
	if len(stages) == 0 {
		return false
	}
	for i, s := range stages {
		outcome := g.stage(ctx, s)
		if g.observe != nil {
			g.observe(i, s, outcome)
		}
		if outcome != Passed {
			return false
		}
	}
	return true
}

func (g *Gate) stage(ctx context.Context, s schema.ConfirmStage) string {
	if s.Phrase != "" {
		q := s.Prompt
		if q == "" {
			q = fmt.Sprintf("Type %q to continue:", s.Phrase)
		}
		answer, err := g.p.Prompt(ctx, q)
		if err != nil {
			return Failed
		}
		if strings.TrimSpace(answer) != s.Phrase {
			return Declined
		}
		return Passed
	}

	q := s.Prompt
	if q == "" {
		q = "Continue?"
	}
	ok, err := YesNo(ctx, g.p, q, false)
	if err != nil {
		return Failed
	}
	if !ok {
		return Declined
	}
	return Passed
}

// YesNo asks a yes/no question. An empty answer takes def; any other
// answer than y/yes/n/no counts as no.
func YesNo(ctx context.Context, p Prompter, question string, def bool) (bool, error) {
	suffix := "[y/N]"
	if def {
		suffix = "[Y/n]"
	}
	answer, err := p.Prompt(ctx, question+" "+suffix+":")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Choose asks the operator to pick one of choices. Full words and unique
// prefixes are accepted case-insensitively. After three unusable answers the
// last choice is returned, so callers list the safest choice last.
func Choose(ctx context.Context, p Prompter, question string, choices []string) (string, error) {
	if len(choices) == 0 {
		return "", fmt.Errorf("choose: no choices")
	}
	labels := make([]string, len(choices))
	for i, c := range choices {
		labels[i] = "[" + c[:1] + "]" + c[1:]
	}
	q := fmt.Sprintf("%s %s:", question, strings.Join(labels, " / "))

	const maxInvalid = 3
	for i := 0; i < maxInvalid; i++ {
		answer, err := p.Prompt(ctx, q)
		if err != nil {
			return "", err
		}
		if c, ok := match(strings.ToLower(strings.TrimSpace(answer)), choices); ok {
			return c, nil
		}
	}
	return choices[len(choices)-1], nil
}

func match(answer string, choices []string) (string, bool) {
	if answer == "" {
		return "", false
	}
	var hit string
	hits := 0
	for _, c := range choices {
		lc := strings.ToLower(c)
		if answer == lc {
			return c, true
		}
		if strings.HasPrefix(lc, answer) {
			hit = c
			hits++
		}
	}
	return hit, hits == 1
}
