// Package testing implements the scenario-based test harness. It replays
// runbooks against canned scenarios and evaluates assertions on the run
// status, step outcomes and final facts.
package testing

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TestSpec declares what to assert about a scenario replay result.
// All fields are optional; omitted fields produce no assertions.
type TestSpec struct {
	Description    string            `yaml:"description,omitempty"     json:"description,omitempty"`
	Runs           int               `yaml:"runs,omitempty"            json:"runs,omitempty"`            // replays against one fact store
	ExpectedStatus string            `yaml:"expected_status,omitempty" json:"expected_status,omitempty"` // COMPLETE or ABORTED
	MustSucceed    []string          `yaml:"must_succeed,omitempty"    json:"must_succeed,omitempty"`
	MustSkip       []string          `yaml:"must_skip,omitempty"       json:"must_skip,omitempty"`
	ExpectedFacts  map[string]string `yaml:"expected_facts,omitempty"  json:"expected_facts,omitempty"` // key → value or /regex/
	AbsentFacts    []string          `yaml:"absent_facts,omitempty"    json:"absent_facts,omitempty"`
	Tags           []string          `yaml:"tags,omitempty"            json:"tags,omitempty"`
}

// LoadTestSpec loads a test spec from a YAML file.
func LoadTestSpec(path string) (*TestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test spec: %w", err)
	}
	return ParseTestSpec(data)
}

// ParseTestSpec parses test spec YAML.
func ParseTestSpec(data []byte) (*TestSpec, error) {
	var s TestSpec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse test spec: %w", err)
	}
	if s.Runs < 0 {
		return nil, fmt.Errorf("parse test spec: runs must be positive, got %d", s.Runs)
	}
	return &s, nil
}

// ---------------------------------------------------------------------------
// Run Result (input to assertion evaluator)
// ---------------------------------------------------------------------------

// RunResult captures one replay for assertion evaluation.
type RunResult struct {
	Run      int
	Status   string            // COMPLETE, ABORTED
	Outcomes map[string]string // step ID → final outcome
	Facts    map[string]string // final fact store
	Error    error
}

// ---------------------------------------------------------------------------
// Assertion Evaluation
// ---------------------------------------------------------------------------

// AssertionResult is the result of a single assertion.
type AssertionResult struct {
	Run      int    `json:"run"`
	Type     string `json:"type"` // expected_status, must_succeed, must_skip, expected_fact, absent_fact
	Key      string `json:"key,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// Evaluate runs all assertions from a TestSpec against a RunResult.
func Evaluate(spec *TestSpec, run *RunResult) []AssertionResult {
	var results []AssertionResult
	add := func(r AssertionResult) {
		r.Run = run.Run
		results = append(results, r)
	}

	if spec.ExpectedStatus != "" {
		add(AssertionResult{
			Type:     "expected_status",
			Expected: spec.ExpectedStatus,
			Actual:   run.Status,
			Passed:   strings.EqualFold(run.Status, spec.ExpectedStatus),
			Message:  fmt.Sprintf("status: expected %q, got %q", spec.ExpectedStatus, run.Status),
		})
	}

	for _, stepID := range spec.MustSucceed {
		actual := outcomeOf(run, stepID)
		add(AssertionResult{
			Type:     "must_succeed",
			Key:      stepID,
			Expected: "success",
			Actual:   actual,
			Passed:   actual == "success",
			Message:  fmt.Sprintf("must_succeed %q: %s", stepID, actual),
		})
	}

	for _, stepID := range spec.MustSkip {
		actual := outcomeOf(run, stepID)
		add(AssertionResult{
			Type:     "must_skip",
			Key:      stepID,
			Expected: "skipped",
			Actual:   actual,
			Passed:   actual == "skipped",
			Message:  fmt.Sprintf("must_skip %q: %s", stepID, actual),
		})
	}

	keys := make([]string, 0, len(spec.ExpectedFacts))
	for k := range spec.ExpectedFacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		expected := spec.ExpectedFacts[key]
		actual, ok := run.Facts[key]
		passed := ok && compareValue(expected, actual)
		add(AssertionResult{
			Type:     "expected_fact",
			Key:      key,
			Expected: expected,
			Actual:   actual,
			Passed:   passed,
			Message:  fmt.Sprintf("fact %q: expected %q, got %q", key, expected, actual),
		})
	}

	for _, key := range spec.AbsentFacts {
		actual, ok := run.Facts[key]
		add(AssertionResult{
			Type:     "absent_fact",
			Key:      key,
			Expected: "absent",
			Actual:   actual,
			Passed:   !ok,
			Message:  fmt.Sprintf("fact %q: expected absent, got %q", key, actual),
		})
	}

	return results
}

// HasFailures returns true if any assertion failed.
func HasFailures(results []AssertionResult) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

func outcomeOf(run *RunResult, stepID string) string {
	if o, ok := run.Outcomes[stepID]; ok {
		return o
	}
	return "not run"
}

// compareValue supports two match modes:
//   - /pattern/ → regex match
//   - exact string equality (default)
func compareValue(expected, actual string) bool {
	if strings.HasPrefix(expected, "/") && strings.HasSuffix(expected, "/") && len(expected) > 2 {
		re, err := regexp.Compile(expected[1 : len(expected)-1])
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	}
	return expected == actual
}
