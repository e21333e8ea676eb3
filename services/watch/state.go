package watch

import "sync"

// State is the shared view of the run being watched. The poller writes it,
// anything rendering progress reads it.
type State struct {
	mu   sync.RWMutex
	run  *Run
	logs []LogEntry
}

// NewState returns an empty state container.
func NewState() *State {
	return &State{}
}

// SetRun replaces the stored run snapshot.
func (s *State) SetRun(run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := run
	s.run = &copied
}

// Run returns the latest run snapshot, if one has been observed.
func (s *State) Run() (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return Run{}, false
	}
	return *s.run, true
}

// SetLogs stores the run's decoded log entries.
func (s *State) SetLogs(entries []LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append([]LogEntry(nil), entries...)
}

// Logs returns the stored log entries.
func (s *State) Logs() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LogEntry(nil), s.logs...)
}

// Clear discards the run and its logs. Used when submission fails so no
// stale run lingers in the view.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = nil
	s.logs = nil
}
