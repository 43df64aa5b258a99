package faultsource

import (
	"context"
	"sync"
	"time"

	"github.com/oichkatzele/tiermem/internal/clock"
)

// Simulated is an in-process Source with no kernel dependency: a registered
// range's faults are delivered by calling Touch (standing in for an
// application thread's page-table-walk trap), queued on a channel, and
// drained by Poll exactly as a real fault source would be. It is the
// default Source for the CLI demo and the one every test in this module
// exercises against.
type Simulated struct {
	mu     sync.Mutex
	armed  map[uintptr]uintptr // base -> length
	mapped map[uintptr]bool    // page addr -> already satisfied

	events chan Event
}

// NewSimulated returns a Simulated source with the given fault-queue depth.
func NewSimulated(queueDepth int) *Simulated {
	if queueDepth <= 0 {
		queueDepth = 4096
	}
	return &Simulated{
		armed:  make(map[uintptr]uintptr),
		mapped: make(map[uintptr]bool),
		events: make(chan Event, queueDepth),
	}
}

// Arm registers a range as faultable.
func (s *Simulated) Arm(base, length uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed[base] = length
	return nil
}

// Disarm unregisters a range and drops the satisfied-page records within
// it, so a later touch in the same range faults again as a fresh page.
func (s *Simulated) Disarm(base uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	length, ok := s.armed[base]
	if !ok {
		return nil
	}
	delete(s.armed, base)
	for addr := range s.mapped {
		if addr >= base && addr < base+length {
			delete(s.mapped, addr)
		}
	}
	return nil
}

func (s *Simulated) armedFor(addr uintptr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for base, length := range s.armed {
		if addr >= base && addr < base+length {
			return true
		}
	}
	return false
}

// Touch simulates an application thread faulting at addr. It has no effect
// if addr falls outside every armed range or the page is already mapped.
// The call is non-blocking; if the fault queue is full the touch is
// dropped (mirroring a kernel fault source that would instead block the
// faulting thread, which Simulated has no thread to block).
func (s *Simulated) Touch(addr uintptr) bool {
	page := clock.Align(addr)
	if !s.armedFor(page) {
		return false
	}
	s.mu.Lock()
	mapped := s.mapped[page]
	s.mu.Unlock()
	if mapped {
		return false
	}
	select {
	case s.events <- Event{Addr: addr}:
		return true
	default:
		return false
	}
}

// Poll returns the next queued fault, or ErrTimeout if none arrives within
// timeout, or ctx.Err() if ctx is cancelled first.
func (s *Simulated) Poll(ctx context.Context, timeout time.Duration) (Event, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ev := <-s.events:
		return ev, nil
	case <-t.C:
		return Event{}, ErrTimeout
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Satisfy marks the page at addr as mapped. A second Satisfy of the same
// page returns ErrAlreadyMapped, the benign race spec.md §4.D/§7 call for.
func (s *Simulated) Satisfy(addr uintptr) error {
	page := clock.Align(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mapped[page] {
		return ErrAlreadyMapped
	}
	s.mapped[page] = true
	return nil
}
