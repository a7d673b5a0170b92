// Package trace implements the run's append-only JSONL audit trail.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// EventType enumerates the trace event types.
type EventType string

const (
	EventRunStart       EventType = "run_start"
	EventRunComplete    EventType = "run_complete"
	EventStepStart      EventType = "step_start"
	EventStepComplete   EventType = "step_complete"
	EventFactSet        EventType = "fact_set"
	EventFactResolved   EventType = "fact_resolved"
	EventFactUnresolved EventType = "fact_unresolved"
	EventConfirmation   EventType = "confirmation"
	EventRecoveryChoice EventType = "recovery_choice"
)

// StepStatus is the final status of a step.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusSkipped StepStatus = "skipped"
	StatusAborted StepStatus = "aborted"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Writer writes trace events to an append-only JSONL stream. It is safe for
// concurrent use.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	c     io.Closer
	runID string
	enc   *json.Encoder
	now   func() time.Time
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:     w,
		runID: runID,
		enc:   json.NewEncoder(w),
		now:   time.Now,
	}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.c = f
	return tw, nil
}

// RunID returns the run identifier stamped on every event.
func (tw *Writer) RunID() string { return tw.runID }

// Close closes the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	if tw == nil || tw.c == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.c.Close()
}

// Emit writes a single trace event. A nil writer discards events, so callers
// need no guard.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()

	evt := Event{
		Type:      eventType,
		Timestamp: tw.now().UTC(),
		RunID:     tw.runID,
		Data:      data,
	}
	return tw.enc.Encode(evt)
}

// EmitRunStart emits a run_start event with the runbook name, mode and seed
// inputs.
func (tw *Writer) EmitRunStart(runbook, mode string, inputs map[string]string) error {
	data := map[string]any{
		"runbook": runbook,
		"mode":    mode,
	}
	if len(inputs) > 0 {
		data["inputs"] = inputs
	}
	return tw.Emit(EventRunStart, data)
}

// EmitRunComplete emits a run_complete event.
func (tw *Writer) EmitRunComplete(status string, duration time.Duration, facts map[string]string) error {
	data := map[string]any{
		"status":   status,
		"duration": duration.String(),
	}
	if len(facts) > 0 {
		data["facts"] = facts
	}
	return tw.Emit(EventRunComplete, data)
}

// EmitStepStart emits a step_start event.
func (tw *Writer) EmitStepStart(stepID string, ordinal int, action string) error {
	data := map[string]any{
		"step_id": stepID,
		"ordinal": ordinal,
	}
	if action != "" {
		data["action"] = action
	}
	return tw.Emit(EventStepStart, data)
}

// EmitStepComplete emits a step_complete event. reason explains a skip or
// abort and is omitted when empty.
func (tw *Writer) EmitStepComplete(stepID string, status StepStatus, attempts int, duration time.Duration, reason string, warnings []string) error {
	data := map[string]any{
		"step_id":  stepID,
		"status":   string(status),
		"attempts": attempts,
		"duration": duration.String(),
	}
	if reason != "" {
		data["reason"] = reason
	}
	if len(warnings) > 0 {
		data["warnings"] = warnings
	}
	return tw.Emit(EventStepComplete, data)
}

// EmitFactSet records a fact written by a step.
func (tw *Writer) EmitFactSet(key, value, stepID string) error {
	return tw.Emit(EventFactSet, map[string]any{
		"key":     key,
		"value":   value,
		"step_id": stepID,
	})
}

// EmitFactResolved records a fact re-derived by its fallback resolver.
func (tw *Writer) EmitFactResolved(key, value, stepID string) error {
	return tw.Emit(EventFactResolved, map[string]any{
		"key":     key,
		"value":   value,
		"step_id": stepID,
	})
}

// EmitFactUnresolved records a fact that stayed absent.
func (tw *Writer) EmitFactUnresolved(key, stepID, reason string) error {
	return tw.Emit(EventFactUnresolved, map[string]any{
		"key":     key,
		"step_id": stepID,
		"reason":  reason,
	})
}

// EmitConfirmation records one confirmation stage outcome.
func (tw *Writer) EmitConfirmation(stepID string, stage int, phrase bool, outcome string) error {
	return tw.Emit(EventConfirmation, map[string]any{
		"step_id": stepID,
		"stage":   stage,
		"phrase":  phrase,
		"outcome": outcome,
	})
}

// EmitRecoveryChoice records the operator's answer after a failed attempt.
func (tw *Writer) EmitRecoveryChoice(stepID string, attempt int, choice, cause string) error {
	return tw.Emit(EventRecoveryChoice, map[string]any{
		"step_id": stepID,
		"attempt": attempt,
		"choice":  choice,
		"error":   cause,
	})
}
