package orchestrator

import (
	"sync"
	"sync/atomic"
)

// outcome is the resolution of a pending start request.
type outcome struct {
	status Status
	err    error
}

// settleOnce resolves a pending start exactly once among racing triggers
// (readiness observed, process error/end, deadline, stop, caller cancel).
//
// A trigger calls claim; only the first caller gets true. Claiming disarms
// every registered trigger. The winner performs its side effects and then
// calls resolve, which publishes the outcome to waiters.
type settleOnce struct {
	claimed atomic.Bool
	done    chan struct{}
	res     outcome

	mu      sync.Mutex
	disarms []func()
}

func newSettleOnce() *settleOnce {
	return &settleOnce{done: make(chan struct{})}
}

// onClaim registers fn to run when the cell is claimed. If the cell has
// already been claimed, fn runs immediately.
func (s *settleOnce) onClaim(fn func()) {
	s.mu.Lock()
	if !s.claimed.Load() {
		s.disarms = append(s.disarms, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// claim reports whether the caller won the race.
func (s *settleOnce) claim() bool {
	s.mu.Lock()
	if !s.claimed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return false
	}
	disarms := s.disarms
	s.disarms = nil
	s.mu.Unlock()

	for _, fn := range disarms {
		fn()
	}
	return true
}

// resolve publishes o. Must be called exactly once, by the claim winner.
func (s *settleOnce) resolve(o outcome) {
	s.res = o
	close(s.done)
}

// settled reports whether the cell has been claimed.
func (s *settleOnce) settled() bool {
	return s.claimed.Load()
}

// Done is closed once the outcome is available.
func (s *settleOnce) Done() <-chan struct{} {
	return s.done
}

// result returns the outcome. Only valid after Done is closed.
func (s *settleOnce) result() outcome {
	<-s.done
	return s.res
}
