package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultPollInterval is how often the poller re-reads run status.
const DefaultPollInterval = 1500 * time.Millisecond

// RunAPI is the slice of the client the poller needs. Tests substitute a
// scripted implementation.
type RunAPI interface {
	StartRun(ctx context.Context, req StartRunRequest) (Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	FetchLogs(ctx context.Context, runID uuid.UUID) ([]LogEntry, error)
}

// Poller starts a run and follows it until it settles in a terminal status.
type Poller struct {
	api      RunAPI
	state    *State
	interval time.Duration
}

// NewPoller builds a poller over the given API. A zero interval selects
// DefaultPollInterval.
func NewPoller(api RunAPI, state *State, interval time.Duration) *Poller {
	if state == nil {
		state = NewState()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{api: api, state: state, interval: interval}
}

// State returns the shared state container the poller writes into.
func (p *Poller) State() *State {
	return p.state
}

// Watch submits the run and polls it on the configured interval until the
// status leaves {running, paused}. Every snapshot, including the initial
// one, is passed to observe (which may be nil) and written to the shared
// state. Once the run is terminal its logs are fetched exactly once and
// merged into the state; polling stops afterwards.
//
// A submission failure clears the state and is returned immediately, with
// quota exhaustion distinguished from other rejections. A failed status
// poll also ends the watch with an error rather than retrying silently.
func (p *Poller) Watch(ctx context.Context, req StartRunRequest, observe func(Run)) (Run, error) {
	run, err := p.api.StartRun(ctx, req)
	if err != nil {
		p.state.Clear()
		if IsQuotaExceeded(err) {
			return Run{}, fmt.Errorf("monthly run quota exhausted: %w", err)
		}
		return Run{}, fmt.Errorf("start run: %w", err)
	}

	p.record(run, observe)

	for run.Active() {
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-time.After(p.interval):
		}

		run, err = p.api.GetRun(ctx, run.ID)
		if err != nil {
			return Run{}, fmt.Errorf("poll run: %w", err)
		}
		p.record(run, observe)
	}

	// Terminal: collect logs once, but only when the run references a log
	// file. A run that finished without uploading logs is not an error.
	if run.LogsFileID != nil {
		entries, err := p.api.FetchLogs(ctx, run.ID)
		if err != nil {
			if IsNotFound(err) {
				return run, nil
			}
			return run, fmt.Errorf("fetch logs: %w", err)
		}
		p.state.SetLogs(entries)
	}

	return run, nil
}

func (p *Poller) record(run Run, observe func(Run)) {
	p.state.SetRun(run)
	if observe != nil {
		observe(run)
	}
}
