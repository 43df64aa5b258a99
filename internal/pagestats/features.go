package pagestats

import "math"

// Feature weights and decay constants, exact per spec.md §4.B.
const (
	recencyDecay     = 0.07
	recencyWeight    = 0.6
	frequencyWeight  = 0.4
	frequencyCeilAPS = 1000.0
)

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// computeFeatures writes access_rate and heat_score for rec as of now,
// reproducing spec.md §4.B's formula bit-for-bit within IEEE-754 double
// rounding. Only the policy loop's feature pass calls this, so the writes
// to rec.accessRate/rec.heatScore need no synchronization.
func computeFeatures(rec *Record, now int64) {
	lifetime := now - rec.AllocationNS()
	if lifetime > 0 {
		rec.accessRate = float64(rec.AccessCount()) * 1e9 / float64(lifetime)
	}
	ageS := float64(now-rec.LastAccessNS()) / 1e9
	recency := math.Exp(-recencyDecay * ageS)
	frequency := math.Min(rec.accessRate/frequencyCeilAPS, 1.0)
	rec.heatScore = clamp01(recencyWeight*recency + frequencyWeight*frequency)
}

// UpdateAllFeatures recomputes access_rate and heat_score for every record
// in the table, as of a single now timestamp shared across the sweep.
func (t *Table) UpdateAllFeatures(now int64) {
	t.Range(func(r *Record) bool {
		computeFeatures(r, now)
		return true
	})
}
