// Package scheduler coalesces presence changes into rate-limited emissions.
package scheduler

import (
	"sync"
	"time"
)

const (
	DefaultDebounce    = 500 * time.Millisecond
	DefaultMinInterval = 2 * time.Second
)

// EmitFunc performs one emission. at is the time the emission was decided.
type EmitFunc func(at time.Time)

// Scheduler turns bursts of Trigger calls into emissions that are at least
// minInterval apart, each preceded by a debounce delay. At most one timer is
// pending at any time; triggers that arrive while it is pending are absorbed.
type Scheduler struct {
	debounce    time.Duration
	minInterval time.Duration
	emit        EmitFunc
	now         func() time.Time

	mu              sync.Mutex
	timer           *time.Timer
	lastBroadcastAt time.Time
	stopped         bool

	// emitMu serializes emissions.
	emitMu sync.Mutex
}

func New(debounce, minInterval time.Duration, emit EmitFunc) *Scheduler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Scheduler{
		debounce:    debounce,
		minInterval: minInterval,
		emit:        emit,
		now:         time.Now,
	}
}

// Trigger requests an emission.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.debounce, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.stopped {
		s.timer = nil
		s.mu.Unlock()
		return
	}

	now := s.now()
	if !s.lastBroadcastAt.IsZero() {
		if elapsed := now.Sub(s.lastBroadcastAt); elapsed < s.minInterval {
			s.timer = time.AfterFunc(s.minInterval-elapsed, s.fire)
			s.mu.Unlock()
			return
		}
	}
	s.timer = nil
	s.lastBroadcastAt = now
	s.mu.Unlock()

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.emit(now)
}

// LastBroadcastAt returns when the last emission was decided, or the zero
// time if there has been none.
func (s *Scheduler) LastBroadcastAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBroadcastAt
}

// Pending reports whether a timer is armed.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Stop cancels the pending timer, rejects further triggers and waits for an
// in-flight emission to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.emitMu.Lock()
	s.emitMu.Unlock()
}
