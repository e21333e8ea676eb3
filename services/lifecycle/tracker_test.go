package lifecycle

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func newTestTracker() *Tracker {
	return &Tracker{activeRuns: make(map[uuid.UUID]uuid.UUID)}
}

func beginEvent(t *testing.T, runID, flowID uuid.UUID) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"run": map[string]any{
			"id":      runID,
			"flow_id": flowID,
			"status":  runStatusRunning,
		},
		"payload": map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func finishedEvent(t *testing.T, runID, flowID uuid.UUID) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"run_id":  runID,
		"flow_id": flowID,
		"status":  "succeeded",
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestRunBeginTracksActiveRun(t *testing.T) {
	tr := newTestTracker()
	runID, flowID := uuid.New(), uuid.New()

	if err := tr.handleRunBegin(context.Background(), beginEvent(t, runID, flowID)); err != nil {
		t.Fatalf("handleRunBegin: %v", err)
	}

	got, ok := tr.ActiveRun(flowID)
	if !ok {
		t.Fatal("expected active run for flow")
	}
	if got != runID {
		t.Errorf("active run = %s, want %s", got, runID)
	}
}

func TestRunBeginDoesNotDisplaceActiveRun(t *testing.T) {
	tr := newTestTracker()
	flowID := uuid.New()
	first, second := uuid.New(), uuid.New()

	if err := tr.handleRunBegin(context.Background(), beginEvent(t, first, flowID)); err != nil {
		t.Fatalf("handleRunBegin: %v", err)
	}
	if err := tr.handleRunBegin(context.Background(), beginEvent(t, second, flowID)); err != nil {
		t.Fatalf("handleRunBegin: %v", err)
	}

	got, _ := tr.ActiveRun(flowID)
	if got != first {
		t.Errorf("active run = %s, want first run %s", got, first)
	}
}

func TestRunFinishedClearsOnlyMatchingRun(t *testing.T) {
	tr := newTestTracker()
	flowID := uuid.New()
	active, stale := uuid.New(), uuid.New()

	if err := tr.handleRunBegin(context.Background(), beginEvent(t, active, flowID)); err != nil {
		t.Fatalf("handleRunBegin: %v", err)
	}

	// A finished event for a different run must not clear the active one.
	if err := tr.handleRunFinished(context.Background(), finishedEvent(t, stale, flowID)); err != nil {
		t.Fatalf("handleRunFinished: %v", err)
	}
	if _, ok := tr.ActiveRun(flowID); !ok {
		t.Fatal("active run cleared by mismatched finish event")
	}

	if err := tr.handleRunFinished(context.Background(), finishedEvent(t, active, flowID)); err != nil {
		t.Fatalf("handleRunFinished: %v", err)
	}
	if _, ok := tr.ActiveRun(flowID); ok {
		t.Error("active run should be cleared after matching finish event")
	}
}

func TestEventsWithMissingIDsAreIgnored(t *testing.T) {
	tr := newTestTracker()

	if err := tr.handleRunBegin(context.Background(), []byte(`{"run":{}}`)); err != nil {
		t.Fatalf("handleRunBegin: %v", err)
	}
	if err := tr.handleRunFinished(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("handleRunFinished: %v", err)
	}

	tr.activeMu.RLock()
	defer tr.activeMu.RUnlock()
	if len(tr.activeRuns) != 0 {
		t.Errorf("active map should be empty, has %d entries", len(tr.activeRuns))
	}
}
