// Package faultsource defines the abstract fault-source contract the fault
// handler task polls: a facility that reports "page touched but not
// present" for registered virtual ranges and accepts a "satisfy" primitive
// that installs a page and releases the faulting thread. spec.md §6 notes
// that on current Linux this is userfaultfd, but the core does not require
// it — Source is the seam that keeps the dataplane independent of any one
// platform facility.
package faultsource

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyMapped is returned by Satisfy when the target page was already
// mapped by a racing resolution. spec.md §4.D/§7 treat this as benign
// success, not failure.
var ErrAlreadyMapped = errors.New("faultsource: page already mapped")

// ErrTimeout is returned by Poll when no fault notification arrived within
// the requested timeout. It is not an error condition on the fault task's
// hot path — the caller simply loops and checks the shutdown flag.
var ErrTimeout = errors.New("faultsource: poll timeout")

// Event describes one delivered fault notification.
type Event struct {
	Addr uintptr
}

// Source is the fault-intercepted demand-paging facility the fault handler
// task depends on. Implementations must be safe for one concurrent Poll
// caller and any number of concurrent Arm/Disarm/Satisfy callers.
type Source interface {
	// Arm registers [base, base+length) in "report missing page" mode.
	Arm(base, length uintptr) error
	// Disarm unregisters a previously armed range.
	Disarm(base uintptr) error
	// Poll blocks up to timeout for the next fault notification. It
	// returns ErrTimeout, not an error, when none arrives in time, and
	// respects ctx cancellation.
	Poll(ctx context.Context, timeout time.Duration) (Event, error)
	// Satisfy installs a zero-filled page at the page-aligned address and
	// releases the faulting thread. ErrAlreadyMapped is a benign race, not
	// a failure.
	Satisfy(addr uintptr) error
}
