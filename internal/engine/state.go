package engine

import "sync/atomic"

// State holds the run flags shared by the scheduler, the loaders and the
// control API. Suppression is the single gate every spawn path checks before
// creating a window, so flipping it guarantees no popup appears after a stop
// even while loader calls are mid-flight.
type State struct {
	suppressed atomic.Bool
	running    atomic.Bool
	displayed  atomic.Int64
}

// Suppress raises the spawn gate.
func (s *State) Suppress() {
	s.suppressed.Store(true)
}

// Release lowers the spawn gate.
func (s *State) Release() {
	s.suppressed.Store(false)
}

// Suppressed reports whether spawning is gated off.
func (s *State) Suppressed() bool {
	return s.suppressed.Load()
}

// Running reports whether the scheduler is active.
func (s *State) Running() bool {
	return s.running.Load()
}

func (s *State) setRunning(v bool) {
	s.running.Store(v)
}

// Displayed returns the total number of popups shown since process start.
func (s *State) Displayed() int64 {
	return s.displayed.Load()
}

func (s *State) countDisplayed() {
	s.displayed.Add(1)
}
