package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"flowrund/pkg/bus"
)

const (
	runBeginSubject    = "flowrund.runs.begin"
	runFinishedSubject = "flowrund.runs.finished"
)

// Tracker maintains the active-run-per-flow view from run lifecycle events.
// It also owns the stale-run sweep: runs stuck in a non-terminal status
// beyond the configured TTL are forcibly timed out so pollers converge.
type Tracker struct {
	orm    *gorm.DB
	bus    *bus.Bus
	runTTL time.Duration

	activeMu   sync.RWMutex
	activeRuns map[uuid.UUID]uuid.UUID

	subsMu sync.Mutex
	subs   []io.Closer
}

// NewTracker creates a tracker bound to the provided dependencies. A zero
// runTTL disables the stale-run sweep.
func NewTracker(orm *gorm.DB, bus *bus.Bus, runTTL time.Duration) (*Tracker, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if bus == nil {
		return nil, errors.New("bus is required")
	}

	return &Tracker{
		orm:        orm,
		bus:        bus,
		runTTL:     runTTL,
		activeRuns: make(map[uuid.UUID]uuid.UUID),
	}, nil
}

// Start rehydrates state from the database, registers subscriptions, and
// begins the sweep loop. It returns once subscriptions are in place.
func (t *Tracker) Start(ctx context.Context) error {
	if t == nil {
		return errors.New("nil tracker")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := t.rehydrate(ctx); err != nil {
		return err
	}

	consumers := []struct {
		subject string
		durable string
		handler func(context.Context, []byte) error
	}{
		{runBeginSubject, "lifecycle-runs-begin", t.handleRunBegin},
		{runFinishedSubject, "lifecycle-runs-finished", t.handleRunFinished},
	}

	for _, c := range consumers {
		closer, err := t.bus.Subscribe(ctx, c.subject, c.durable, c.handler)
		if err != nil {
			t.Close()
			return err
		}
		t.subsMu.Lock()
		t.subs = append(t.subs, closer)
		t.subsMu.Unlock()
	}

	if t.runTTL > 0 {
		go t.sweepLoop(ctx)
	}

	return nil
}

// Close tears down active subscriptions.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}

	t.subsMu.Lock()
	defer t.subsMu.Unlock()

	var firstErr error
	for _, sub := range t.subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.subs = nil
	return firstErr
}

// ActiveRun returns the run currently tracked as active for the flow.
func (t *Tracker) ActiveRun(flowID uuid.UUID) (uuid.UUID, bool) {
	t.activeMu.RLock()
	defer t.activeMu.RUnlock()
	runID, ok := t.activeRuns[flowID]
	return runID, ok
}

// rehydrate rebuilds the active map from runs still in a non-terminal
// status, so a tracker restart does not lose state.
func (t *Tracker) rehydrate(ctx context.Context) error {
	var models []runModel
	err := t.orm.WithContext(ctx).
		Where("status IN ?", []string{runStatusRunning, runStatusPaused}).
		Order("started_at ASC").
		Find(&models).Error
	if err != nil {
		return err
	}

	t.activeMu.Lock()
	defer t.activeMu.Unlock()
	for _, m := range models {
		t.activeRuns[m.FlowID] = m.ID
	}
	return nil
}

func (t *Tracker) handleRunBegin(ctx context.Context, data []byte) error {
	var evt runBeginEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.Run.ID == uuid.Nil || evt.Run.FlowID == uuid.Nil {
		return nil
	}

	// A flow with an active run keeps it; later begins do not displace it.
	t.activeMu.Lock()
	defer t.activeMu.Unlock()
	if _, ok := t.activeRuns[evt.Run.FlowID]; ok {
		return nil
	}
	t.activeRuns[evt.Run.FlowID] = evt.Run.ID
	return nil
}

func (t *Tracker) handleRunFinished(ctx context.Context, data []byte) error {
	var evt runFinishedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.RunID == uuid.Nil || evt.FlowID == uuid.Nil {
		return nil
	}

	t.activeMu.Lock()
	defer t.activeMu.Unlock()
	if current, ok := t.activeRuns[evt.FlowID]; ok && current == evt.RunID {
		delete(t.activeRuns, evt.FlowID)
	}
	return nil
}

func (t *Tracker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(t.runTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = t.sweepOnce(ctx)
		}
	}
}

// sweepOnce times out runs that have been non-terminal longer than the TTL
// and publishes a finished event for each.
func (t *Tracker) sweepOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-t.runTTL)

	var stale []runModel
	err := t.orm.WithContext(ctx).
		Where("status IN ?", []string{runStatusRunning, runStatusPaused}).
		Where("started_at < ?", cutoff).
		Find(&stale).Error
	if err != nil {
		return err
	}

	for _, run := range stale {
		finishedAt := time.Now().UTC()
		updates := map[string]any{
			"status":      runStatusTimeout,
			"finished_at": finishedAt,
		}
		if err := t.orm.WithContext(ctx).
			Model(&runModel{}).
			Where("id = ? AND status IN ?", run.ID, []string{runStatusRunning, runStatusPaused}).
			Updates(updates).Error; err != nil {
			return err
		}

		t.activeMu.Lock()
		if current, ok := t.activeRuns[run.FlowID]; ok && current == run.ID {
			delete(t.activeRuns, run.FlowID)
		}
		t.activeMu.Unlock()

		payload := map[string]any{
			"run_id":      run.ID,
			"flow_id":     run.FlowID,
			"status":      runStatusTimeout,
			"finished_at": finishedAt,
		}
		if err := t.bus.Publish(ctx, runFinishedSubject, payload); err != nil {
			return err
		}
	}

	return nil
}
