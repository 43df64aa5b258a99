package pagestats

import (
	"sync/atomic"

	"github.com/oichkatzele/tiermem/internal/tier"
)

// Record is the per-page statistics entry the table maps a page address to.
// Every field except heatScore/accessRate is safe for concurrent access
// without the table's bucket lock: the counters and timestamps are atomic,
// and the two derived doubles are written exclusively by the policy loop's
// feature pass (see Table.UpdateAllFeatures), so ordinary readers only ever
// observe a value some feature pass already committed.
type Record struct {
	addr uint64
	next *Record // bucket chain link; mutated only while the bucket lock is held

	accessCount int64 // atomic
	readCount   int64 // atomic
	writeCount  int64 // atomic

	firstAccessNS   int64 // write-once at creation
	lastAccessNS    int64 // atomic
	allocationNS    int64 // write-once at creation
	lastMigrationNS int64 // atomic; 0 until the first migration

	heatScore  float64 // single-writer: the policy loop's feature pass
	accessRate float64 // single-writer: the policy loop's feature pass

	currentTier int32 // atomic, holds a tier.Kind
	migrCount   int64 // atomic
}

// Addr returns the page-aligned virtual address this record describes.
func (r *Record) Addr() uint64 { return r.addr }

// AccessCount returns the total number of recorded accesses.
func (r *Record) AccessCount() int64 { return atomic.LoadInt64(&r.accessCount) }

// ReadCount returns the number of recorded read accesses.
func (r *Record) ReadCount() int64 { return atomic.LoadInt64(&r.readCount) }

// WriteCount returns the number of recorded write accesses.
func (r *Record) WriteCount() int64 { return atomic.LoadInt64(&r.writeCount) }

// FirstAccessNS returns the timestamp of the record's creation.
func (r *Record) FirstAccessNS() int64 { return r.firstAccessNS }

// LastAccessNS returns the timestamp of the most recently observed access.
func (r *Record) LastAccessNS() int64 { return atomic.LoadInt64(&r.lastAccessNS) }

// AllocationNS returns the timestamp the record was created at.
func (r *Record) AllocationNS() int64 { return r.allocationNS }

// LastMigrationNS returns the timestamp of the record's most recent
// migration, or 0 if it has never migrated.
func (r *Record) LastMigrationNS() int64 { return atomic.LoadInt64(&r.lastMigrationNS) }

// HeatScore returns the most recently computed heat score in [0,1].
func (r *Record) HeatScore() float64 { return r.heatScore }

// AccessRate returns the most recently computed access rate (accesses/sec).
func (r *Record) AccessRate() float64 { return r.accessRate }

// CurrentTier returns the tier the page is currently accounted against.
func (r *Record) CurrentTier() tier.Kind { return tier.Kind(atomic.LoadInt32(&r.currentTier)) }

// MigrationCount returns the number of times this page has migrated.
func (r *Record) MigrationCount() int64 { return atomic.LoadInt64(&r.migrCount) }

// SetCurrentTier overwrites the page's tier, per spec.md §4.D's tie-break:
// the fault path (and migration execution) always has authority here, even
// over a record a hardware-sample merge created first (such a record still
// has tier Unknown, since merging never sets a tier).
func (r *Record) SetCurrentTier(k tier.Kind) {
	atomic.StoreInt32(&r.currentTier, int32(k))
}

// RecordMigration stamps the migration timestamp and bumps the per-page
// migration counter. Called only by internal/policy's ExecuteMigration.
func (r *Record) RecordMigration(nowNS int64) {
	atomic.StoreInt64(&r.lastMigrationNS, nowNS)
	atomic.AddInt64(&r.migrCount, 1)
}

// MergeSamples folds a hardware sampler's estimated read/write counts into
// this record, per spec.md §4.F: sampling estimates dominate when present,
// so an estimate overwrites the current atomic count only if larger, and
// access_count is recomputed as their sum. If lastSampleNS is newer than
// this record's last_access_ns, the latter advances to match.
func (r *Record) MergeSamples(estReads, estWrites, lastSampleNS int64) {
	for {
		cur := atomic.LoadInt64(&r.readCount)
		if estReads <= cur {
			break
		}
		if atomic.CompareAndSwapInt64(&r.readCount, cur, estReads) {
			break
		}
	}
	for {
		cur := atomic.LoadInt64(&r.writeCount)
		if estWrites <= cur {
			break
		}
		if atomic.CompareAndSwapInt64(&r.writeCount, cur, estWrites) {
			break
		}
	}
	atomic.StoreInt64(&r.accessCount, r.ReadCount()+r.WriteCount())

	for {
		cur := atomic.LoadInt64(&r.lastAccessNS)
		if lastSampleNS <= cur {
			break
		}
		if atomic.CompareAndSwapInt64(&r.lastAccessNS, cur, lastSampleNS) {
			break
		}
	}
}

// Snapshot is an immutable point-in-time copy of a Record, returned by the
// manager's external get_page_stats API so callers never hold a pointer
// into the live table.
type Snapshot struct {
	Addr            uint64
	AccessCount     int64
	ReadCount       int64
	WriteCount      int64
	FirstAccessNS   int64
	LastAccessNS    int64
	AllocationNS    int64
	LastMigrationNS int64
	HeatScore       float64
	AccessRate      float64
	CurrentTier     tier.Kind
	MigrationCount  int64
}

// Snapshot copies the record's current fields.
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		Addr:            r.addr,
		AccessCount:     r.AccessCount(),
		ReadCount:       r.ReadCount(),
		WriteCount:      r.WriteCount(),
		FirstAccessNS:   r.FirstAccessNS(),
		LastAccessNS:    r.LastAccessNS(),
		AllocationNS:    r.AllocationNS(),
		LastMigrationNS: r.LastMigrationNS(),
		HeatScore:       r.HeatScore(),
		AccessRate:      r.AccessRate(),
		CurrentTier:     r.CurrentTier(),
		MigrationCount:  r.MigrationCount(),
	}
}
