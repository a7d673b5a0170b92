// Package facts implements the run-scoped fact store: named string values
// produced by steps and consumed by later steps.
package facts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Source records how a fact entered the store.
type Source string

const (
	SourceInput    Source = "input"    // seeded from runbook inputs, config or --var
	SourceProduced Source = "produced" // written by a step that succeeded
	SourceResolved Source = "resolved" // re-derived by a fallback producer
)

// Fact is one resolved value.
type Fact struct {
	Key    string    `json:"key"`
	Value  string    `json:"value"`
	Step   string    `json:"step,omitempty"` // step that produced or resolved it
	Source Source    `json:"source"`
	At     time.Time `json:"at"`
}

var (
	// ErrEmptyValue is returned by Set for an empty value; an empty value
	// never replaces or creates a fact.
	ErrEmptyValue = errors.New("facts: empty value")

	// ErrOwned is returned by Set when another step already produced the key.
	ErrOwned = errors.New("facts: key produced by another step")

	// ErrUnresolved marks a fact that is absent and could not be re-derived.
	// Callers treat it as a warning, not a run failure.
	ErrUnresolved = errors.New("facts: unresolved")
)

// UnresolvedError carries the key and the underlying cause of a failed
// resolution.
type UnresolvedError struct {
	Key   string
	Cause error
}

func (e *UnresolvedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fact %s unresolved: %v", e.Key, e.Cause)
	}
	return fmt.Sprintf("fact %s unresolved", e.Key)
}

func (e *UnresolvedError) Is(target error) bool { return target == ErrUnresolved }

func (e *UnresolvedError) Unwrap() error { return e.Cause }

// Producer re-derives a fact, typically with a read-only query against the
// external system. An empty result means "not found".
type Producer func(ctx context.Context) (string, error)

// Store holds the facts of a single run. It is owned by the run goroutine
// and is not safe for concurrent use.
type Store struct {
	facts map[string]Fact
	now   func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		facts: make(map[string]Fact),
		now:   time.Now,
	}
}

// Get returns the value of key and whether it is present.
func (s *Store) Get(key string) (string, bool) {
	f, ok := s.facts[key]
	return f.Value, ok
}

// Lookup returns the full fact for key.
func (s *Store) Lookup(key string) (Fact, bool) {
	f, ok := s.facts[key]
	return f, ok
}

// Seed stores an operator-supplied input. Empty values are ignored.
func (s *Store) Seed(key, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	s.facts[key] = Fact{Key: key, Value: value, Source: SourceInput, At: s.now()}
}

// Set stores a value produced by step. A fact is replaced only when the same
// step reruns, or when it was an input or a fallback resolution that the
// producing step now supersedes.
func (s *Store) Set(key, value, step string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("set %s: %w", key, ErrEmptyValue)
	}
	if prev, ok := s.facts[key]; ok && prev.Source == SourceProduced && prev.Step != step {
		return fmt.Errorf("set %s from %s (owner %s): %w", key, step, prev.Step, ErrOwned)
	}
	s.facts[key] = Fact{Key: key, Value: value, Step: step, Source: SourceProduced, At: s.now()}
	return nil
}

// Resolve returns the stored value of key if present. Otherwise it invokes
// produce and stores a non-empty result, attributing it to step. When the
// producer is nil, fails, or returns empty, the key stays absent and an
// *UnresolvedError is returned for the caller to report as a warning.
func (s *Store) Resolve(ctx context.Context, key, step string, produce Producer) (string, error) {
	if f, ok := s.facts[key]; ok {
		return f.Value, nil
	}
	if produce == nil {
		return "", &UnresolvedError{Key: key, Cause: errors.New("no fallback resolver")}
	}
	value, err := produce(ctx)
	if err != nil {
		return "", &UnresolvedError{Key: key, Cause: err}
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", &UnresolvedError{Key: key, Cause: errors.New("resolver returned empty value")}
	}
	s.facts[key] = Fact{Key: key, Value: value, Step: step, Source: SourceResolved, At: s.now()}
	return value, nil
}

// Len returns the number of facts.
func (s *Store) Len() int { return len(s.facts) }

// Keys returns the fact keys in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.facts))
	for k := range s.facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Facts returns all facts sorted by key.
func (s *Store) Facts() []Fact {
	out := make([]Fact, 0, len(s.facts))
	for _, k := range s.Keys() {
		out = append(out, s.facts[k])
	}
	return out
}

// ProducedBy returns the keys a given step produced.
func (s *Store) ProducedBy(step string) []string {
	var keys []string
	for _, k := range s.Keys() {
		f := s.facts[k]
		if f.Source == SourceProduced && f.Step == step {
			keys = append(keys, k)
		}
	}
	return keys
}

// Vars returns the facts as a template scope.
func (s *Store) Vars() map[string]any {
	vars := make(map[string]any, len(s.facts))
	for k, f := range s.facts {
		vars[k] = f.Value
	}
	return vars
}
