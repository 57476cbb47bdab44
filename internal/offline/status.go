package offline

import (
	"context"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view of the queue for the foreground.
type Snapshot struct {
	Pending     int       `json:"pending"`
	Dropped     int       `json:"dropped"`
	Rejected    int       `json:"rejected"`
	LastDrainAt time.Time `json:"last_drain_at,omitempty"`
	Online      bool      `json:"online"`
}

const statusQueryTimeout = 250 * time.Millisecond

// Status owns the queue snapshot inside a single goroutine. Writers send
// updates and readers send reply channels, so nothing is shared.
type Status struct {
	updates chan func(*Snapshot)
	queries chan chan Snapshot
	running atomic.Bool
	done    chan struct{}
}

// NewStatus builds a Status. Call Run to start serving.
func NewStatus() *Status {
	return &Status{
		updates: make(chan func(*Snapshot), 64),
		queries: make(chan chan Snapshot),
		done:    make(chan struct{}),
	}
}

// Run serves updates and queries until ctx is done.
func (s *Status) Run(ctx context.Context, initial Snapshot) {
	state := initial
	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		close(s.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.updates:
			fn(&state)
		case reply := <-s.queries:
			reply <- state
		}
	}
}

// PendingCount returns the number of queued entries, or 0 when the status
// goroutine is not running or does not answer in time.
func (s *Status) PendingCount() int {
	snap, _ := s.query()
	return snap.Pending
}

// Snapshot returns the current view. The zero Snapshot is returned when the
// status goroutine is unavailable.
func (s *Status) Snapshot() Snapshot {
	snap, _ := s.query()
	return snap
}

// SetPending records the current queue length.
func (s *Status) SetPending(n int) {
	s.update(func(st *Snapshot) { st.Pending = n })
}

// SetOnline records the connectivity state.
func (s *Status) SetOnline(online bool) {
	s.update(func(st *Snapshot) { st.Online = online })
}

// RecordDrain applies the outcome of a replay pass.
func (s *Status) RecordDrain(pending, dropped, rejected int, at time.Time) {
	s.update(func(st *Snapshot) {
		st.Pending = pending
		st.Dropped = dropped
		st.Rejected += rejected
		st.LastDrainAt = at
	})
}

// update hands fn to the owner goroutine. Updates sent before Run are
// buffered and applied once it starts.
func (s *Status) update(fn func(*Snapshot)) {
	if s == nil {
		return
	}
	select {
	case s.updates <- fn:
	case <-s.done:
	case <-time.After(statusQueryTimeout):
	}
}

func (s *Status) query() (Snapshot, bool) {
	if s == nil || !s.running.Load() {
		return Snapshot{}, false
	}
	reply := make(chan Snapshot, 1)
	timeout := time.NewTimer(statusQueryTimeout)
	defer timeout.Stop()
	select {
	case s.queries <- reply:
	case <-s.done:
		return Snapshot{}, false
	case <-timeout.C:
		return Snapshot{}, false
	}
	select {
	case snap := <-reply:
		return snap, true
	case <-timeout.C:
		return Snapshot{}, false
	}
}
