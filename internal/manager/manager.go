// Package manager wires the dataplane's components into one process-wide
// object: the shared registry, stats table, tier accounting, and policy
// pointer, plus the task lifecycle (fault handler, policy loop, and the
// optional hardware sampler) that reads and mutates them. It is the core
// API surface external callers (the CLI, or an application embedding this
// module) invoke.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oichkatzele/tiermem/internal/clock"
	"github.com/oichkatzele/tiermem/internal/faultsource"
	"github.com/oichkatzele/tiermem/internal/faulttask"
	"github.com/oichkatzele/tiermem/internal/pagestats"
	"github.com/oichkatzele/tiermem/internal/policy"
	"github.com/oichkatzele/tiermem/internal/region"
	"github.com/oichkatzele/tiermem/internal/sampler"
	"github.com/oichkatzele/tiermem/internal/tier"
)

// lifecycle mirrors the states manager_init/manager_shutdown move between.
type lifecycle int32

const (
	lifecycleUninitialized lifecycle = iota
	lifecycleRunning
	lifecycleShutdown
)

// Config bundles every tunable the manager needs at construction time.
// internal/config.Config supplies production defaults; tests may build one
// by hand for tighter bounds.
type Config struct {
	PageStatsHashSize int
	MaxManagedRegions int

	FastCapacity int64
	SlowCapacity int64

	PolicyIntervalMS      int
	ConfidenceMin         float64
	MaxMigrationsPerCycle int
	HotThreshold          float64
	ColdThreshold         float64
	MinResidenceNS        int64

	SamplerEnabled     bool
	SamplerRingPages   int
	SamplerPeriod      int64
}

// Manager is the single process-wide owner of every shared component.
// Created once by New and threaded by reference into every task; no part
// of it is exposed as a free-floating singleton.
type Manager struct {
	cfg Config
	log *zap.Logger

	source  faultsource.Source
	table   *pagestats.Table
	regions *region.Registry
	fast    *tier.Tier
	slow    *tier.Tier

	usedMu sync.Mutex // guards fast.Used/slow.Used pairs, per spec.md §5

	faultTask *faulttask.Task
	policy    *policy.Loop
	sampler   *sampler.Sampler

	state  int32 // atomic lifecycle
	cancel context.CancelFunc
	group  *errgroup.Group

	totalFaults     int64 // atomic
	totalMigrations int64 // atomic
	policyCycles    int64 // atomic
}

// AddTotalFaults implements internal/faulttask.Counters.
func (m *Manager) AddTotalFaults(delta int64) { atomic.AddInt64(&m.totalFaults, delta) }

// AddTotalMigrations implements internal/policy.Counters.
func (m *Manager) AddTotalMigrations(delta int64) { atomic.AddInt64(&m.totalMigrations, delta) }

// AddPolicyCycles implements internal/policy.Counters.
func (m *Manager) AddPolicyCycles(delta int64) { atomic.AddInt64(&m.policyCycles, delta) }

// New constructs a Manager in the Uninitialized state. source is the fault
// source to drive the fault handler task against (faultsource.NewSimulated
// for the default in-process demo, or a real backend on a supported
// platform).
func New(cfg Config, source faultsource.Source, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	fast := tier.NewFast()
	if cfg.FastCapacity > 0 {
		fast.Capacity = cfg.FastCapacity
	}
	slow := tier.NewSlow()
	if cfg.SlowCapacity > 0 {
		slow.Capacity = cfg.SlowCapacity
	}

	m := &Manager{
		cfg:     cfg,
		log:     log,
		source:  source,
		table:   pagestats.NewTable(cfg.PageStatsHashSize),
		fast:    fast,
		slow:    slow,
	}
	m.regions = region.NewRegistry(cfg.MaxManagedRegions, source)
	m.faultTask = faulttask.New(source, m.table, m.regions, fast, slow, m, &m.usedMu, log.Named("faulttask"))

	pl := policy.New(m.table, fast, slow, m, &m.usedMu, log.Named("policy"))
	if cfg.PolicyIntervalMS > 0 {
		pl.Interval = time.Duration(cfg.PolicyIntervalMS) * time.Millisecond
	}
	if cfg.ConfidenceMin > 0 {
		pl.ConfidenceMin = cfg.ConfidenceMin
	}
	if cfg.MaxMigrationsPerCycle > 0 {
		pl.MaxMigrationsPerCycle = cfg.MaxMigrationsPerCycle
	}
	h := policy.NewHeuristic()
	if cfg.HotThreshold > 0 {
		h.HotThreshold = cfg.HotThreshold
	}
	if cfg.ColdThreshold > 0 {
		h.ColdThreshold = cfg.ColdThreshold
	}
	if cfg.MinResidenceNS > 0 {
		h.MinResidenceNS = cfg.MinResidenceNS
	}
	pl.SetPolicy(h.Decide)
	m.policy = pl

	if cfg.SamplerEnabled {
		s := sampler.New(cfg.SamplerRingPages, cfg.SamplerPeriod, log.Named("sampler"))
		m.sampler = s
		pl.SetSampler(s)
	}

	return m
}

// Init starts the fault handler, policy loop, and (if configured) sampler
// tasks under an errgroup bound to an internal context. Idempotent: a
// second call while already Running returns nil without restarting tasks.
func (m *Manager) Init() error {
	if !atomic.CompareAndSwapInt32(&m.state, int32(lifecycleUninitialized), int32(lifecycleRunning)) {
		if lifecycle(atomic.LoadInt32(&m.state)) == lifecycleRunning {
			return nil
		}
		return errors.New("manager: cannot init after shutdown")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	m.group = group

	if m.sampler != nil {
		if err := m.sampler.Init(); err != nil {
			m.log.Warn("sampler init failed, continuing without samples", zap.Error(err))
			m.sampler = nil
			m.policy.SetSampler(nil)
		} else if err := m.sampler.Start(); err != nil {
			m.log.Warn("sampler start failed, continuing without samples", zap.Error(err))
			m.sampler = nil
			m.policy.SetSampler(nil)
		}
	}

	group.Go(func() error { return m.policy.Run(gctx) })
	group.Go(func() error { return m.faultTask.Run(gctx) })
	if m.sampler != nil {
		s := m.sampler
		group.Go(func() error { return s.Run(gctx) })
	}

	m.log.Info("manager initialized",
		zap.Int64("fast_capacity", m.fast.Capacity),
		zap.Int64("slow_capacity", m.slow.Capacity),
		zap.Bool("sampler_enabled", m.sampler != nil),
	)
	return nil
}

// Shutdown cancels the policy task, the fault task and the sampler together
// and waits for all of them to return; they are not joined in a fixed
// order. It then shuts the sampler down and frees the page-stats table.
// Idempotent.
func (m *Manager) Shutdown() error {
	if !atomic.CompareAndSwapInt32(&m.state, int32(lifecycleRunning), int32(lifecycleShutdown)) {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	var err error
	if m.group != nil {
		err = m.group.Wait()
	}
	if m.sampler != nil {
		m.sampler.ShutdownSampler()
	}
	m.table.Cleanup()
	m.log.Info("manager shut down")
	return err
}

// RegisterRegion registers [addr, addr+length) for fault interception.
func (m *Manager) RegisterRegion(addr, length uintptr) (int, error) {
	return m.regions.Register(addr, length)
}

// UnregisterRegion deactivates the region based at addr, if any.
func (m *Manager) UnregisterRegion(addr uintptr) {
	m.regions.Unregister(addr)
}

// SetPolicy installs fn as the active decision function, or restores the
// default heuristic when fn is nil, per spec.md §6's set_policy(null)
// contract.
func (m *Manager) SetPolicy(fn policy.Func) {
	if fn == nil {
		fn = policy.NewHeuristic().Decide
	}
	m.policy.SetPolicy(fn)
}

// GetPageStats returns a snapshot of the record for the page containing
// addr, if one exists.
func (m *Manager) GetPageStats(addr uint64) (pagestats.Snapshot, bool) {
	rec, ok := m.table.Lookup(uint64(clock.Align(uintptr(addr))))
	if !ok {
		return pagestats.Snapshot{}, false
	}
	return rec.Snapshot(), true
}

// RecordAccess records an access to the page containing addr without going
// through the fault path — used by callers that observe accesses through a
// channel other than a page fault (e.g. a replayed trace).
func (m *Manager) RecordAccess(addr uint64, isWrite bool) error {
	_, err := m.table.RecordAccess(uint64(clock.Align(uintptr(addr))), isWrite)
	return err
}

// Status returns a human-readable snapshot of counters, tier usage, and
// active regions, per spec.md §6's manager_status().
func (m *Manager) Status() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tiermem manager status\n")
	fmt.Fprintf(&b, "  total_faults:      %d\n", atomic.LoadInt64(&m.totalFaults))
	fmt.Fprintf(&b, "  total_migrations:  %d\n", atomic.LoadInt64(&m.totalMigrations))
	fmt.Fprintf(&b, "  policy_cycles:     %d\n", atomic.LoadInt64(&m.policyCycles))
	fast, slow := m.FastUsage(), m.SlowUsage()
	fmt.Fprintf(&b, "  %s: %d/%d bytes used\n", fast.Name, fast.Used, fast.Capacity)
	fmt.Fprintf(&b, "  %s: %d/%d bytes used\n", slow.Name, slow.Used, slow.Capacity)
	fmt.Fprintf(&b, "  active_regions:    %d\n", m.regions.ActiveCount())
	summary := m.table.Summary()
	fmt.Fprintf(&b, "  tracked_pages:     %d (hot %d, cold %d, mean_heat %.3f)\n",
		summary.Pages, summary.Hot, summary.Cold, summary.MeanHeat)
	if m.sampler != nil {
		st := m.sampler.Stats()
		fmt.Fprintf(&b, "  sampler:           state=%s samples=%d throttled=%d\n",
			st.State, st.TotalSamples, st.ThrottleEvents)
	}
	return b.String()
}

// TierUsage is a consistent point-in-time read of one tier's capacity and
// used bytes.
type TierUsage struct {
	Name     string
	Capacity int64
	Used     int64
}

// FastUsage returns a lock-consistent snapshot of the Fast tier, since
// Used is guarded by the migration mutex rather than atomic (spec.md §5).
func (m *Manager) FastUsage() TierUsage {
	m.usedMu.Lock()
	defer m.usedMu.Unlock()
	return TierUsage{Name: m.fast.Name, Capacity: m.fast.Capacity, Used: m.fast.Used}
}

// SlowUsage returns a lock-consistent snapshot of the Slow tier.
func (m *Manager) SlowUsage() TierUsage {
	m.usedMu.Lock()
	defer m.usedMu.Unlock()
	return TierUsage{Name: m.slow.Name, Capacity: m.slow.Capacity, Used: m.slow.Used}
}

// TotalFaults returns the global fault counter.
func (m *Manager) TotalFaults() int64 { return atomic.LoadInt64(&m.totalFaults) }

// TotalMigrations returns the global migration counter.
func (m *Manager) TotalMigrations() int64 { return atomic.LoadInt64(&m.totalMigrations) }

// PolicyCycles returns the global policy cycle counter.
func (m *Manager) PolicyCycles() int64 { return atomic.LoadInt64(&m.policyCycles) }

// TrackedPages returns the number of distinct pages currently recorded in
// the stats table.
func (m *Manager) TrackedPages() int64 { return m.table.TrackedPages() }

// ActiveRegions returns a snapshot of every active region.
func (m *Manager) ActiveRegions() []region.Snapshot { return m.regions.Active() }

// Running reports whether the manager's tasks are currently active, for
// callers that want to poll the lifecycle flag synchronously rather than
// select on a context, per spec.md §5.
func (m *Manager) Running() bool {
	return lifecycle(atomic.LoadInt32(&m.state)) == lifecycleRunning
}
