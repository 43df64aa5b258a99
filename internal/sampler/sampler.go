// Package sampler implements the optional hardware sample ingestor
// (component F): a ring buffer drained at a fixed cadence into a private
// side table, whose counts the policy loop merges into the page statistics
// table, estimates dominating fault-path counts once samples accrue.
package sampler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oichkatzele/tiermem/internal/clock"
	"github.com/oichkatzele/tiermem/internal/pagestats"
)

// State names a point in the sampler's lifecycle, per spec.md §4.F.
type State int32

const (
	Uninitialized State = iota
	Initialized
	Running
	Stopped
	Shutdown
)

// String renders the state for logs.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// DefaultSamplePeriod is the default "one sample per N accesses" period.
const DefaultSamplePeriod = 100007

// DrainInterval is the cadence the drain task polls the ring at.
const DrainInterval = time.Millisecond

// ErrWrongState is returned when a transition is attempted from a state
// that does not permit it.
var ErrWrongState = errors.New("sampler: invalid state transition")

// Sampler is the hardware sample ingestor. It satisfies internal/policy's
// Sampler interface via MergeInto, so the policy loop can treat a real
// Sampler and policy.NoopSampler interchangeably.
type Sampler struct {
	ring         *Ring
	table        *sampleTable
	samplePeriod int64
	log          *zap.Logger

	state State // atomic

	totalSamples   int64 // atomic
	throttleEvents int64 // atomic
	drainErrors    int64 // atomic
}

// New constructs a Sampler in the Uninitialized state.
func New(ringCapacity int, samplePeriod int64, log *zap.Logger) *Sampler {
	if samplePeriod <= 0 {
		samplePeriod = DefaultSamplePeriod
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sampler{
		ring:         NewRing(ringCapacity),
		table:        newSampleTable(),
		samplePeriod: samplePeriod,
		log:          log,
	}
}

// State returns the sampler's current lifecycle state.
func (s *Sampler) State() State {
	return State(atomic.LoadInt32((*int32)(&s.state)))
}

// Init maps the ring buffer (a no-op allocation-wise here, since Go's GC
// already backs the ring) and transitions Uninitialized/Initialized ->
// Initialized. Idempotent, per spec.md §4.F. Init failure is non-fatal to
// the rest of the system — callers that get an error simply run without a
// sampler, substituting policy.NoopSampler.
func (s *Sampler) Init() error {
	cur := s.State()
	if cur == Uninitialized || cur == Initialized {
		atomic.StoreInt32((*int32)(&s.state), int32(Initialized))
		return nil
	}
	return ErrWrongState
}

// Start transitions Initialized/Running -> Running. Idempotent.
func (s *Sampler) Start() error {
	cur := s.State()
	if cur == Initialized || cur == Running {
		atomic.StoreInt32((*int32)(&s.state), int32(Running))
		return nil
	}
	return ErrWrongState
}

// Stop transitions Running -> Stopped, pausing sampling while retaining
// resources.
func (s *Sampler) Stop() error {
	if s.State() != Running {
		return ErrWrongState
	}
	atomic.StoreInt32((*int32)(&s.state), int32(Stopped))
	return nil
}

// ShutdownSampler transitions any state -> Shutdown, releasing resources.
func (s *Sampler) ShutdownSampler() {
	atomic.StoreInt32((*int32)(&s.state), int32(Shutdown))
}

// Submit enqueues one hardware sample, standing in for whatever platform
// facility would otherwise deliver (virtual_address, read-or-write,
// latency_weight) records. A zero address is dropped, per spec.md §4.F.
func (s *Sampler) Submit(addr uintptr, isWrite bool, latencyWeight int64) {
	if addr == 0 {
		return
	}
	if !s.ring.Push(Sample{Addr: addr, Write: isWrite, LatencyWeight: latencyWeight}) {
		atomic.AddInt64(&s.throttleEvents, 1)
	}
}

// Run drains the ring at DrainInterval cadence until ctx is cancelled;
// while the sampler is not Running, ticks pass without draining. Drain
// errors are counted, never propagated.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.State() != Running {
				continue
			}
			s.drainOnce()
		}
	}
}

func (s *Sampler) drainOnce() {
	samples := s.ring.Drain()
	if len(samples) == 0 {
		return
	}
	now := clock.Now()
	for _, sm := range samples {
		page := clock.Align(sm.Addr)
		e := s.table.lookupOrCreate(uint64(page))
		e.recordSample(sm, now)
	}
	atomic.AddInt64(&s.totalSamples, int64(len(samples)))
}

// MergeInto implements internal/policy.Sampler: for each sampled page,
// lookup_or_create the corresponding record in table and overwrite its
// read/write counts with the sample-derived estimate when larger, per
// spec.md §4.F's merge algorithm.
func (s *Sampler) MergeInto(table *pagestats.Table, nowNS int64) {
	s.table.rangeEntries(func(e *entry) {
		reads := atomic.LoadInt64(&e.readSamples)
		writes := atomic.LoadInt64(&e.writeSamples)
		lastSample := atomic.LoadInt64(&e.lastSampleNS)

		estReads := reads * s.samplePeriod
		estWrites := writes * s.samplePeriod

		rec, err := table.LookupOrCreate(e.addr)
		if err != nil {
			return
		}
		rec.MergeSamples(estReads, estWrites, lastSample)
	})
}

// Stats is a point-in-time snapshot of the ingestor's global counters.
type Stats struct {
	State          State
	TotalSamples   int64
	ThrottleEvents int64
	DrainErrors    int64
	RingDropped    int64
}

// Stats returns a snapshot of the sampler's counters.
func (s *Sampler) Stats() Stats {
	return Stats{
		State:          s.State(),
		TotalSamples:   atomic.LoadInt64(&s.totalSamples),
		ThrottleEvents: atomic.LoadInt64(&s.throttleEvents),
		DrainErrors:    atomic.LoadInt64(&s.drainErrors),
		RingDropped:    s.ring.Dropped(),
	}
}
