package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func decode(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var events []Event
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var evt Event
		if err := json.Unmarshal(sc.Bytes(), &evt); err != nil {
			t.Fatalf("JSON unmarshal: %v (raw: %s)", err, sc.Text())
		}
		events = append(events, evt)
	}
	return events
}

func TestWriter_Emit(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "test-run-1")

	if err := tw.EmitStepStart("deploy-model", 3, "kube apply manifests/model.yaml"); err != nil {
		t.Fatalf("Emit error: %v", err)
	}

	events := decode(t, &buf)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	evt := events[0]
	if evt.Type != EventStepStart {
		t.Errorf("type = %q, want step_start", evt.Type)
	}
	if evt.RunID != "test-run-1" {
		t.Errorf("run_id = %q", evt.RunID)
	}
	if evt.Data["step_id"] != "deploy-model" {
		t.Errorf("step_id = %v", evt.Data["step_id"])
	}
	if evt.Data["ordinal"] != float64(3) {
		t.Errorf("ordinal = %v", evt.Data["ordinal"])
	}
}

func TestWriter_EmitStepComplete(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	if err := tw.EmitStepComplete("s1", StatusSkipped, 2, 100*time.Millisecond, "operator skip", []string{"fact URL not produced"}); err != nil {
		t.Fatal(err)
	}

	evt := decode(t, &buf)[0]
	if evt.Data["status"] != "skipped" {
		t.Errorf("status = %v", evt.Data["status"])
	}
	if evt.Data["reason"] != "operator skip" {
		t.Errorf("reason = %v", evt.Data["reason"])
	}
	if w, ok := evt.Data["warnings"].([]any); !ok || len(w) != 1 {
		t.Errorf("warnings = %v", evt.Data["warnings"])
	}
}

func TestWriter_OmitsEmptyOptionalFields(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitStepComplete("s1", StatusSuccess, 1, time.Second, "", nil)
	tw.EmitRunStart("demo", "real", nil)

	events := decode(t, &buf)
	if _, ok := events[0].Data["reason"]; ok {
		t.Error("reason should be omitted")
	}
	if _, ok := events[1].Data["inputs"]; ok {
		t.Error("inputs should be omitted")
	}
}

func TestWriter_MultipleEvents_JSONL(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	tw.EmitRunStart("teardown", "real", map[string]string{"NAMESPACE": "fsi-demo"})
	tw.EmitConfirmation("delete-all", 0, true, "declined")
	tw.EmitFactUnresolved("DASHBOARD_URL", "open-dashboard", "no fallback resolver")
	tw.EmitRecoveryChoice("deploy", 1, "retry", "exit code 1")
	tw.EmitFactSet("MODEL_URL", "https://m", "deploy")
	tw.EmitFactResolved("DASHBOARD_URL", "https://d", "open-dashboard")
	tw.EmitRunComplete("COMPLETE", 2*time.Second, map[string]string{"MODEL_URL": "https://m"})

	events := decode(t, &buf)
	want := []EventType{
		EventRunStart, EventConfirmation, EventFactUnresolved, EventRecoveryChoice,
		EventFactSet, EventFactResolved, EventRunComplete,
	}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Errorf("event[%d] = %q, want %q", i, events[i].Type, w)
		}
	}
	if events[1].Data["outcome"] != "declined" {
		t.Errorf("confirmation outcome = %v", events[1].Data["outcome"])
	}
}

func TestWriter_NilDiscards(t *testing.T) {
	var tw *Writer
	if err := tw.EmitFactSet("K", "v", "s"); err != nil {
		t.Errorf("nil writer Emit = %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Errorf("nil writer Close = %v", err)
	}
}

func TestNewFileWriter_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	for i := 0; i < 2; i++ {
		tw, err := NewFileWriter(path, "run")
		if err != nil {
			t.Fatal(err)
		}
		tw.EmitRunStart("demo", "real", nil)
		if err := tw.Close(); err != nil {
			t.Fatal(err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := bytes.Count(data, []byte("\n")); n != 2 {
		t.Errorf("lines = %d, want 2", n)
	}
}
