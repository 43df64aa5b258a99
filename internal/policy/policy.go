// Package policy implements the policy loop task (component E): a
// periodic sweep of the page statistics table that proposes and executes
// Fast/Slow migrations via a pluggable decision function, plus the default
// heuristic that function defaults to.
package policy

import (
	"sync/atomic"

	"github.com/oichkatzele/tiermem/internal/pagestats"
	"github.com/oichkatzele/tiermem/internal/tier"
)

// Decision is the outcome of consulting the policy function for one page:
// a proposal to move it from one tier to the other.
type Decision struct {
	PageAddr   uint64
	FromTier   tier.Kind
	ToTier     tier.Kind
	Confidence float64
	Reason     string
}

// Func is the pluggable policy seam: given a page record, yield an optional
// Decision. A nil return means "no decision for this page."
type Func func(rec *pagestats.Record, nowNS int64) *Decision

// Default tunables, per spec.md §6.
const (
	DefaultHotThreshold      = 0.7
	DefaultColdThreshold     = 0.3
	DefaultMinResidenceNS    = 100_000_000 // 100ms
	DefaultConfidenceMin     = 0.5
	DefaultMaxMigrationsRun  = 10
	DefaultIntervalMS        = 10
	StatusEveryNCycles       = 100
)

// Heuristic is the default policy function. It rejects pages that migrated
// within minResidenceNS of now (anti-thrashing), proposes promoting hot
// Slow pages to Fast, and demoting cold Fast pages to Slow.
type Heuristic struct {
	HotThreshold   float64
	ColdThreshold  float64
	MinResidenceNS int64
}

// NewHeuristic returns a Heuristic configured with the spec's defaults.
func NewHeuristic() *Heuristic {
	return &Heuristic{
		HotThreshold:   DefaultHotThreshold,
		ColdThreshold:  DefaultColdThreshold,
		MinResidenceNS: DefaultMinResidenceNS,
	}
}

// Decide implements Func.
func (h *Heuristic) Decide(rec *pagestats.Record, nowNS int64) *Decision {
	if last := rec.LastMigrationNS(); last != 0 && nowNS-last < h.MinResidenceNS {
		return nil
	}

	heat := rec.HeatScore()
	switch rec.CurrentTier() {
	case tier.Slow:
		if heat > h.HotThreshold {
			return &Decision{
				PageAddr:   rec.Addr(),
				FromTier:   tier.Slow,
				ToTier:     tier.Fast,
				Confidence: heat,
				Reason:     "hot promotion",
			}
		}
	case tier.Fast:
		if heat < h.ColdThreshold {
			return &Decision{
				PageAddr:   rec.Addr(),
				FromTier:   tier.Fast,
				ToTier:     tier.Slow,
				Confidence: 1 - heat,
				Reason:     "cold demotion",
			}
		}
	}
	return nil
}

// activePolicy is the atomically-swappable Func the loop invokes each
// sweep, per spec.md §4.F's "publish-acquire swap, read-once-per-call
// load" strategy.
type activePolicy struct {
	fn atomic.Pointer[Func]
}

func newActivePolicy(initial Func) *activePolicy {
	a := &activePolicy{}
	a.store(initial)
	return a
}

func (a *activePolicy) store(fn Func) {
	a.fn.Store(&fn)
}

func (a *activePolicy) load() Func {
	return *a.fn.Load()
}
