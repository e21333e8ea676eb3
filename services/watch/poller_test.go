package watch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type scriptedAPI struct {
	mu sync.Mutex

	startRun  Run
	startErr  error
	snapshots []Run
	getErr    error
	logs      []LogEntry
	logsErr   error

	startCalls int
	getCalls   int
	logsCalls  int
}

func (s *scriptedAPI) StartRun(ctx context.Context, req StartRunRequest) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	if s.startErr != nil {
		return Run{}, s.startErr
	}
	return s.startRun, nil
}

func (s *scriptedAPI) GetRun(ctx context.Context, runID uuid.UUID) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return Run{}, s.getErr
	}
	if s.getCalls >= len(s.snapshots) {
		return Run{}, errors.New("unexpected poll")
	}
	run := s.snapshots[s.getCalls]
	s.getCalls++
	return run, nil
}

func (s *scriptedAPI) FetchLogs(ctx context.Context, runID uuid.UUID) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logsCalls++
	if s.logsErr != nil {
		return nil, s.logsErr
	}
	return s.logs, nil
}

func testRun(status string) Run {
	run := Run{
		ID:        uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		FlowID:    uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		ProjectID: uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		Status:    status,
		StartedAt: time.Now().UTC(),
	}
	if status != "running" && status != "paused" {
		logsFileID := uuid.MustParse("44444444-4444-4444-4444-444444444444")
		run.LogsFileID = &logsFileID
	}
	return run
}

func TestWatchPollsUntilTerminal(t *testing.T) {
	api := &scriptedAPI{
		startRun: testRun("running"),
		snapshots: []Run{
			testRun("running"),
			testRun("paused"),
			testRun("succeeded"),
		},
		logs: []LogEntry{{"msg": "done"}},
	}
	state := NewState()
	poller := NewPoller(api, state, time.Millisecond)

	var observed []string
	final, err := poller.Watch(context.Background(), StartRunRequest{}, func(r Run) {
		observed = append(observed, r.Status)
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if final.Status != "succeeded" {
		t.Errorf("final status = %q, want succeeded", final.Status)
	}
	want := []string{"running", "running", "paused", "succeeded"}
	if len(observed) != len(want) {
		t.Fatalf("observed %d snapshots, want %d: %v", len(observed), len(want), observed)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Errorf("snapshot %d = %q, want %q", i, observed[i], want[i])
		}
	}
	if api.startCalls != 1 {
		t.Errorf("StartRun called %d times, want 1", api.startCalls)
	}
	if api.getCalls != 3 {
		t.Errorf("GetRun called %d times, want 3", api.getCalls)
	}
	if api.logsCalls != 1 {
		t.Errorf("FetchLogs called %d times, want 1", api.logsCalls)
	}

	run, ok := state.Run()
	if !ok || run.Status != "succeeded" {
		t.Errorf("state run = %+v ok=%v, want terminal snapshot", run, ok)
	}
	if logs := state.Logs(); len(logs) != 1 || logs[0]["msg"] != "done" {
		t.Errorf("state logs = %v, want the fetched entries", logs)
	}
}

func TestWatchImmediatelyTerminalSkipsPolling(t *testing.T) {
	api := &scriptedAPI{startRun: testRun("failed")}
	poller := NewPoller(api, NewState(), time.Millisecond)

	final, err := poller.Watch(context.Background(), StartRunRequest{}, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if final.Status != "failed" {
		t.Errorf("final status = %q, want failed", final.Status)
	}
	if api.getCalls != 0 {
		t.Errorf("GetRun called %d times, want 0", api.getCalls)
	}
	if api.logsCalls != 1 {
		t.Errorf("FetchLogs called %d times, want 1", api.logsCalls)
	}
}

func TestWatchQuotaRejectionClearsStateWithDistinctMessage(t *testing.T) {
	api := &scriptedAPI{
		startErr: &APIError{StatusCode: 402, Code: codeQuotaExceeded, Message: "quota exceeded"},
	}
	state := NewState()
	state.SetRun(testRun("running"))
	poller := NewPoller(api, state, time.Millisecond)

	_, err := poller.Watch(context.Background(), StartRunRequest{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "quota") {
		t.Errorf("error %q should name the quota", err)
	}
	if !IsQuotaExceeded(err) {
		t.Error("error should still unwrap to the quota rejection")
	}
	if _, ok := state.Run(); ok {
		t.Error("state should be cleared after a failed submission")
	}
}

func TestWatchGenericRejectionClearsState(t *testing.T) {
	api := &scriptedAPI{
		startErr: &APIError{StatusCode: 404, Code: "FLOW_VERSION_NOT_FOUND", Message: "no such version"},
	}
	state := NewState()
	poller := NewPoller(api, state, time.Millisecond)

	_, err := poller.Watch(context.Background(), StartRunRequest{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "quota") {
		t.Errorf("error %q should not mention quota", err)
	}
	if _, ok := state.Run(); ok {
		t.Error("state should be cleared after a failed submission")
	}
}

func TestWatchPollErrorFailsTheWatch(t *testing.T) {
	api := &scriptedAPI{
		startRun: testRun("running"),
		getErr:   errors.New("connection refused"),
	}
	poller := NewPoller(api, NewState(), time.Millisecond)

	_, err := poller.Watch(context.Background(), StartRunRequest{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "poll run") {
		t.Errorf("error %q should come from the status poll", err)
	}
	if api.logsCalls != 0 {
		t.Errorf("FetchLogs called %d times, want 0", api.logsCalls)
	}
}

func TestWatchStopsOnCancellation(t *testing.T) {
	api := &scriptedAPI{
		startRun:  testRun("running"),
		snapshots: []Run{testRun("running"), testRun("running"), testRun("running")},
	}
	poller := NewPoller(api, NewState(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	_, err := poller.Watch(ctx, StartRunRequest{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Watch error = %v, want context.Canceled", err)
	}
	if api.logsCalls != 0 {
		t.Errorf("FetchLogs called %d times, want 0", api.logsCalls)
	}
}

func TestWatchSkipsLogsWhenRunHasNoReference(t *testing.T) {
	run := testRun("succeeded")
	run.LogsFileID = nil
	api := &scriptedAPI{startRun: run}
	poller := NewPoller(api, NewState(), time.Millisecond)

	final, err := poller.Watch(context.Background(), StartRunRequest{}, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if final.Status != "succeeded" {
		t.Errorf("final status = %q, want succeeded", final.Status)
	}
	if api.logsCalls != 0 {
		t.Errorf("FetchLogs called %d times, want 0", api.logsCalls)
	}
}

func TestWatchMissingLogsIsNotAnError(t *testing.T) {
	api := &scriptedAPI{
		startRun: testRun("succeeded"),
		logsErr:  &APIError{StatusCode: 404, Code: codeLogsNotFound, Message: "no logs"},
	}
	state := NewState()
	poller := NewPoller(api, state, time.Millisecond)

	final, err := poller.Watch(context.Background(), StartRunRequest{}, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if final.Status != "succeeded" {
		t.Errorf("final status = %q, want succeeded", final.Status)
	}
	if logs := state.Logs(); len(logs) != 0 {
		t.Errorf("state logs = %v, want none", logs)
	}
}
