// Package replay provides scenario-based replay execution. A scenario
// holds canned action responses and scripted operator answers so a
// runbook can be re-executed deterministically without a cluster.
package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/demokit/pkg/kernel/executor"
	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// Scenario is the top-level replay scenario document.
type Scenario struct {
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Vars seed the run like --var flags.
	Vars map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`

	// Responses maps a call key to canned responses, consumed in order.
	// Keys are the step ID, "<step>.verify", or "resolve.<FACT>".
	Responses map[string][]Response `yaml:"responses,omitempty" json:"responses,omitempty"`

	// Answers are fed to prompts in order: section questions,
	// confirmations, recovery choices and pauses.
	Answers []string `yaml:"answers,omitempty" json:"answers,omitempty"`
}

// Response is a single canned action response. A non-zero exit code or a
// non-empty error makes the call fail.
type Response struct {
	ExitCode int    `yaml:"exit_code,omitempty" json:"exit_code,omitempty"`
	Stdout   string `yaml:"stdout,omitempty"    json:"stdout,omitempty"`
	Stderr   string `yaml:"stderr,omitempty"    json:"stderr,omitempty"`
	Error    string `yaml:"error,omitempty"     json:"error,omitempty"`
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML, rejecting unknown fields.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return &s, nil
}

// LoadScenarioDir loads a scenario from a directory containing scenario.yaml.
func LoadScenarioDir(dir string) (*Scenario, error) {
	return LoadScenario(filepath.Join(dir, "scenario.yaml"))
}

// GenerateScenarioJSONSchema reflects the scenario document schema.
func GenerateScenarioJSONSchema() ([]byte, error) {
	return schema.GenerateJSONSchema(&Scenario{},
		"https://github.com/ormasoftchile/demokit/schemas/scenario-v1.json",
		"demokit replay scenario")
}

// Runner implements executor.ActionRunner from canned scenario responses.
// Responses for a key are consumed in order; once exhausted the last one
// keeps answering, so a scenario replays the same way on a second run.
type Runner struct {
	scenario *Scenario
	consumed map[string]int

	// Calls records every call key in invocation order.
	Calls []string
}

// NewRunner creates a replay runner from a scenario.
func NewRunner(s *Scenario) *Runner {
	return &Runner{
		scenario: s,
		consumed: make(map[string]int),
	}
}

// Run returns the next canned response for the call attached to ctx.
func (r *Runner) Run(ctx context.Context, a *schema.Action, _ map[string]any) (*executor.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	call, ok := executor.CallFrom(ctx)
	if !ok {
		return nil, errors.New("replay: call has no step context")
	}
	key := call.Key()
	r.Calls = append(r.Calls, key)

	responses := r.scenario.Responses[key]
	if len(responses) == 0 {
		// pauses need no canned response
		if a != nil && a.Kind() == schema.ActionPause {
			return &executor.Result{}, nil
		}
		return nil, fmt.Errorf("replay: no canned response for %s", key)
	}

	idx := min(r.consumed[key], len(responses)-1)
	r.consumed[key]++
	resp := responses[idx]

	res := &executor.Result{
		ExitCode: resp.ExitCode,
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
	}
	switch {
	case resp.Error != "":
		return res, fmt.Errorf("replay %s: %s", key, resp.Error)
	case resp.ExitCode != 0:
		return res, fmt.Errorf("replay %s: exit code %d: %s", key, resp.ExitCode, strings.TrimSpace(resp.Stderr))
	}
	return res, nil
}

// Consumed reports how many calls for key were answered, including calls
// answered by repeating the last response.
func (r *Runner) Consumed(key string) int {
	return r.consumed[key]
}
