package policy

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/oichkatzele/tiermem/internal/clock"
	"github.com/oichkatzele/tiermem/internal/pagestats"
	"github.com/oichkatzele/tiermem/internal/tier"
)

// ErrPageNotFound is returned by ExecuteMigration when the decision's page
// is no longer present in the stats table.
var ErrPageNotFound = errors.New("policy: page not found")

// ErrDestinationFull is returned by ExecuteMigration when the destination
// tier has no room; this is non-fatal and the migration is simply skipped
// for this cycle, per spec.md §4.E.
var ErrDestinationFull = errors.New("policy: destination tier full")

// Sampler is the optional hardware-sample merge hook (component F). A
// sampler-less deployment substitutes NoopSampler.
type Sampler interface {
	MergeInto(table *pagestats.Table, nowNS int64)
}

// NoopSampler is the Sampler used when no hardware sampler is configured.
type NoopSampler struct{}

// MergeInto does nothing.
func (NoopSampler) MergeInto(*pagestats.Table, int64) {}

// Counters is the subset of the manager's global counters the loop updates.
type Counters interface {
	AddPolicyCycles(delta int64)
	AddTotalMigrations(delta int64)
}

// Locker is satisfied by *sync.Mutex; see internal/faulttask.Locker for why
// this package declares its own copy rather than importing sync.
type Locker interface {
	Lock()
	Unlock()
}

// Loop owns the periodic policy sweep and migration execution.
type Loop struct {
	table    *pagestats.Table
	fast     *tier.Tier
	slow     *tier.Tier
	counters Counters
	sampler  Sampler
	usedMu   Locker
	log      *zap.Logger

	policy *activePolicy

	Interval              time.Duration
	ConfidenceMin         float64
	MaxMigrationsPerCycle int

	cycle int64
}

// New constructs a policy loop with the spec's default tunables. usedMu must
// be the same lock instance internal/faulttask uses.
func New(table *pagestats.Table, fast, slow *tier.Tier, counters Counters, usedMu Locker, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	h := NewHeuristic()
	return &Loop{
		table:                 table,
		fast:                  fast,
		slow:                  slow,
		counters:              counters,
		sampler:               NoopSampler{},
		usedMu:                usedMu,
		log:                   log,
		policy:                newActivePolicy(h.Decide),
		Interval:              DefaultIntervalMS * time.Millisecond,
		ConfidenceMin:         DefaultConfidenceMin,
		MaxMigrationsPerCycle: DefaultMaxMigrationsRun,
	}
}

// SetPolicy atomically swaps the active decision function. Safe to call
// concurrently with Run.
func (l *Loop) SetPolicy(fn Func) {
	l.policy.store(fn)
}

// SetSampler installs the hardware-sample merge hook, or NoopSampler to
// remove one.
func (l *Loop) SetSampler(s Sampler) {
	if s == nil {
		s = NoopSampler{}
	}
	l.sampler = s
}

// Run drives the periodic sweep until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.runCycle()
		}
	}
}

func (l *Loop) runCycle() {
	l.cycle++
	if l.counters != nil {
		l.counters.AddPolicyCycles(1)
	}

	now := clock.Now()
	l.sampler.MergeInto(l.table, now)
	l.table.UpdateAllFeatures(now)

	fn := l.policy.load()
	migrated := 0
	var decisions []Decision
	l.table.Range(func(rec *pagestats.Record) bool {
		if migrated >= l.MaxMigrationsPerCycle {
			return false
		}
		d := fn(rec, now)
		if d == nil || d.Confidence < l.ConfidenceMin {
			return true
		}
		decisions = append(decisions, *d)
		migrated++
		return migrated < l.MaxMigrationsPerCycle
	})

	for _, d := range decisions {
		if err := l.ExecuteMigration(d); err != nil {
			if !errors.Is(err, ErrDestinationFull) {
				l.log.Warn("migration failed", zap.Uint64("page_addr", d.PageAddr), zap.Error(err))
			}
			continue
		}
	}

	if l.cycle%StatusEveryNCycles == 0 {
		l.log.Info("policy cycle status",
			zap.Int64("cycle", l.cycle),
			zap.Int64("tracked_pages", l.table.TrackedPages()),
			zap.Int("migrations_this_cycle", len(decisions)),
		)
	}
}

// ExecuteMigration carries out one migration decision, per spec.md §4.E's
// five-step protocol.
func (l *Loop) ExecuteMigration(d Decision) error {
	rec, ok := l.table.Lookup(d.PageAddr)
	if !ok {
		return ErrPageNotFound
	}

	src, dest := l.fast, l.slow
	if d.ToTier == tier.Fast {
		src, dest = l.slow, l.fast
	}

	l.usedMu.Lock()
	if !dest.HasRoom(clock.PageSize) {
		l.usedMu.Unlock()
		return ErrDestinationFull
	}
	src.Used -= clock.PageSize
	dest.Used += clock.PageSize
	l.usedMu.Unlock()

	rec.SetCurrentTier(d.ToTier)
	rec.RecordMigration(clock.Now())

	if l.counters != nil {
		l.counters.AddTotalMigrations(1)
	}
	return nil
}
