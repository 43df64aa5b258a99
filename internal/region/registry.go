// Package region implements the fixed-slot region registry (component C):
// a small, mutex-protected directory of the virtual memory ranges the
// manager has been asked to watch for faults.
package region

import (
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultMaxRegions is the default fixed slot count, per spec.md §6.
const DefaultMaxRegions = 64

// ErrFull is returned by Register when no inactive slot remains.
var ErrFull = errors.New("region: registry full")

// ErrOverlap is returned by Register when the requested range intersects
// an already-active region.
var ErrOverlap = errors.New("region: overlaps an active region")

// Armer arms and disarms a virtual address range with the fault source, in
// "report missing page" mode. internal/faultsource.Source satisfies this.
type Armer interface {
	Arm(base, length uintptr) error
	Disarm(base uintptr) error
}

// Region is one managed virtual address range.
type Region struct {
	Base   uintptr
	Length uintptr
	active bool

	totalFaults int64 // atomic
	pagesFast   int64 // atomic
	pagesSlow   int64 // atomic
}

func (r *Region) contains(addr uintptr) bool {
	return r.active && addr >= r.Base && addr < r.Base+r.Length
}

func (r *Region) overlaps(base, length uintptr) bool {
	if !r.active {
		return false
	}
	end := base + length
	rend := r.Base + r.Length
	return base < rend && r.Base < end
}

// TotalFaults returns the number of faults this region has resolved.
func (r *Region) TotalFaults() int64 { return atomic.LoadInt64(&r.totalFaults) }

// PagesInFast returns the number of this region's faults that were placed
// into Fast. Later migrations do not change it.
func (r *Region) PagesInFast() int64 { return atomic.LoadInt64(&r.pagesFast) }

// PagesInSlow returns the number of this region's faults that were placed
// into Slow. Later migrations do not change it.
func (r *Region) PagesInSlow() int64 { return atomic.LoadInt64(&r.pagesSlow) }

// RecordFault increments this region's fault counter and the counter for
// whichever tier the fault was placed into.
func (r *Region) RecordFault(placedFast bool) {
	atomic.AddInt64(&r.totalFaults, 1)
	if placedFast {
		atomic.AddInt64(&r.pagesFast, 1)
	} else {
		atomic.AddInt64(&r.pagesSlow, 1)
	}
}

// Registry is the fixed-slot directory of managed regions. All registry
// operations (register/unregister/find) serialize on a single mutex; a
// region's own counters are atomic so the fault handler can update them
// without taking this mutex, acquiring it only briefly to find the owning
// slot (spec.md §5).
type Registry struct {
	mu    sync.Mutex
	slots []Region
	armer Armer
}

// NewRegistry allocates a registry with the given slot count (0 uses
// DefaultMaxRegions) and Armer used to (dis)arm the fault source.
func NewRegistry(maxRegions int, armer Armer) *Registry {
	if maxRegions <= 0 {
		maxRegions = DefaultMaxRegions
	}
	return &Registry{slots: make([]Region, maxRegions), armer: armer}
}

// Register activates the first free slot for [addr, addr+length), arming
// the fault source for that range. It fails with ErrFull, ErrOverlap, or
// whatever error the fault source's Arm returns.
func (reg *Registry) Register(addr, length uintptr) (int, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, s := range reg.slots {
		if s.overlaps(addr, length) {
			return -1, ErrOverlap
		}
	}

	slot := -1
	for i := range reg.slots {
		if !reg.slots[i].active {
			slot = i
			break
		}
	}
	if slot == -1 {
		return -1, ErrFull
	}

	if reg.armer != nil {
		if err := reg.armer.Arm(addr, length); err != nil {
			return -1, err
		}
	}

	reg.slots[slot] = Region{Base: addr, Length: length, active: true}
	return slot, nil
}

// Unregister deactivates the active slot whose base address matches addr
// and disarms the fault source for its range. A missing address is
// silently ignored, per spec.md §4.C.
func (reg *Registry) Unregister(addr uintptr) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for i := range reg.slots {
		if reg.slots[i].active && reg.slots[i].Base == addr {
			if reg.armer != nil {
				_ = reg.armer.Disarm(addr)
			}
			reg.slots[i] = Region{}
			return
		}
	}
}

// Find returns the unique active slot index whose half-open range contains
// pageAddr, found by linear scan (spec.md §4.C: regions are not subdivided,
// so a handful of slots never warrants anything fancier).
func (reg *Registry) Find(pageAddr uintptr) (int, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for i := range reg.slots {
		if reg.slots[i].contains(pageAddr) {
			return i, true
		}
	}
	return -1, false
}

// At returns a pointer to the slot at index i, for atomic counter updates
// by the fault handler. The caller must have obtained i from Find and must
// not assume the slot stays active forever (unregistration may race it,
// in which case the counter update is simply lost — acceptable, since it
// is diagnostic only).
func (reg *Registry) At(i int) *Region {
	return &reg.slots[i]
}

// ActiveCount returns the number of currently active region slots.
func (reg *Registry) ActiveCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	n := 0
	for i := range reg.slots {
		if reg.slots[i].active {
			n++
		}
	}
	return n
}

// Snapshot is a read-only copy of a region's state, for status reporting.
type Snapshot struct {
	Base        uintptr
	Length      uintptr
	TotalFaults int64
	PagesFast   int64
	PagesSlow   int64
}

// Active returns a snapshot of every currently active region.
func (reg *Registry) Active() []Snapshot {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]Snapshot, 0, len(reg.slots))
	for i := range reg.slots {
		s := &reg.slots[i]
		if !s.active {
			continue
		}
		out = append(out, Snapshot{
			Base:        s.Base,
			Length:      s.Length,
			TotalFaults: s.TotalFaults(),
			PagesFast:   s.PagesInFast(),
			PagesSlow:   s.PagesInSlow(),
		})
	}
	return out
}
