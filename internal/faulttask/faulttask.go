// Package faulttask implements the fault handler task (component D): the
// loop that drains fault notifications, makes the initial Fast/Slow
// placement decision, satisfies the fault, and reflects the event into the
// page statistics table and region counters. It runs on the critical path
// of the faulting application thread, which is blocked until resolution.
package faulttask

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/oichkatzele/tiermem/internal/clock"
	"github.com/oichkatzele/tiermem/internal/faultsource"
	"github.com/oichkatzele/tiermem/internal/pagestats"
	"github.com/oichkatzele/tiermem/internal/region"
	"github.com/oichkatzele/tiermem/internal/tier"
)

// PollTimeout bounds each drain attempt so the task can observe context
// cancellation promptly instead of blocking indefinitely on an idle source.
const PollTimeout = 200 * time.Millisecond

// Counters is the subset of the manager's global counters the fault task
// updates. It is an interface so this package never imports internal/manager
// (manager depends on faulttask, not the reverse).
type Counters interface {
	AddTotalFaults(delta int64)
}

// Task owns the fault-resolution loop for one Source.
type Task struct {
	source   faultsource.Source
	table    *pagestats.Table
	regions  *region.Registry
	fast     *tier.Tier
	slow     *tier.Tier
	counters Counters
	log      *zap.Logger

	// usedMu serializes updates to fast.Used/slow.Used against the policy
	// loop's migration execution, per spec.md §5. It is supplied by the
	// manager, which owns both tasks, so both share one mutex.
	usedMu Locker
}

// Locker is satisfied by *sync.Mutex; declared here so this package does
// not need to import sync solely for the type name in Task's field, and so
// a future caller can swap in any equivalent (e.g. a no-op for tests that
// run strictly single-threaded).
type Locker interface {
	Lock()
	Unlock()
}

// New constructs a fault handler task. usedMu must be the same lock instance
// the policy loop uses to guard migration accounting.
func New(source faultsource.Source, table *pagestats.Table, regions *region.Registry, fast, slow *tier.Tier, counters Counters, usedMu Locker, log *zap.Logger) *Task {
	if log == nil {
		log = zap.NewNop()
	}
	return &Task{
		source:   source,
		table:    table,
		regions:  regions,
		fast:     fast,
		slow:     slow,
		counters: counters,
		usedMu:   usedMu,
		log:      log,
	}
}

// Run drives the fault-resolution loop until ctx is cancelled, or until
// Poll fails with an error other than ErrTimeout or a context error; that
// error is logged and returned, ending the task.
func (t *Task) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		ev, err := t.source.Poll(ctx, PollTimeout)
		if err != nil {
			if errors.Is(err, faultsource.ErrTimeout) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			t.log.Error("fault source poll failed, stopping fault task", zap.Error(err))
			return err
		}
		t.resolve(ev.Addr)
	}
}

// resolve implements the per-fault protocol of spec.md §4.D.
func (t *Task) resolve(faultAddr uintptr) {
	pageAddr := clock.Align(faultAddr)

	placedFast, ok := t.decideInitialPlacement()
	if !ok {
		t.log.Error("both tiers exhausted; forcing fast placement", zap.Uintptr("page_addr", pageAddr))
		placedFast = true
	}

	if err := t.source.Satisfy(pageAddr); err != nil {
		if !errors.Is(err, faultsource.ErrAlreadyMapped) {
			t.log.Warn("satisfy failed, application will re-fault", zap.Uintptr("page_addr", pageAddr), zap.Error(err))
			return
		}
	}

	t.usedMu.Lock()
	if placedFast {
		t.fast.Used += clock.PageSize
	} else {
		t.slow.Used += clock.PageSize
	}
	t.usedMu.Unlock()

	rec, _ := t.table.LookupOrCreate(uint64(pageAddr))
	if placedFast {
		rec.SetCurrentTier(tier.Fast)
	} else {
		rec.SetCurrentTier(tier.Slow)
	}
	_, _ = t.table.RecordAccess(uint64(pageAddr), false)

	if idx, found := t.regions.Find(pageAddr); found {
		t.regions.At(idx).RecordFault(placedFast)
	}

	if t.counters != nil {
		t.counters.AddTotalFaults(1)
	}
}

// decideInitialPlacement chooses Fast if it has room, else Slow if it has
// room, else Fast with ok=false signalling the capacity-exhaustion case
// spec.md §4.D/§9 call out as a known limitation (no eviction path exists).
func (t *Task) decideInitialPlacement() (placedFast bool, ok bool) {
	t.usedMu.Lock()
	defer t.usedMu.Unlock()
	if t.fast.HasRoom(clock.PageSize) {
		return true, true
	}
	if t.slow.HasRoom(clock.PageSize) {
		return false, true
	}
	return true, false
}
