// Package pagestats implements the page-address-keyed statistics table
// (component B): a bucketed hash table with a reader/writer lock per
// bucket, tolerant of a bursty creator (the fault path) and a slower
// sweeper (the policy loop) reading concurrently.
package pagestats

import (
	"sync"
	"sync/atomic"

	"github.com/oichkatzele/tiermem/internal/clock"
	"github.com/oichkatzele/tiermem/internal/tier"
)

// DefaultBucketCount is the prime bucket count the table sizes to by
// default, chosen to hold on the order of one million pages with short
// chains.
const DefaultBucketCount = 1048583

// hashMul is the fixed 64-bit odd multiplier used to spread page frame
// numbers across buckets.
const hashMul = 0x9E3779B97F4A7C15

type bucket struct {
	mu   sync.RWMutex
	head *Record
}

func (b *bucket) find(addr uint64) *Record {
	for e := b.head; e != nil; e = e.next {
		if e.addr == addr {
			return e
		}
	}
	return nil
}

// Table is the concurrent page-address to Record map.
type Table struct {
	buckets []bucket
	tracked int64 // atomic
}

// NewTable allocates a table with the given bucket count. size should be
// prime; DefaultBucketCount is used when size <= 0.
func NewTable(size int) *Table {
	if size <= 0 {
		size = DefaultBucketCount
	}
	return &Table{buckets: make([]bucket, size)}
}

func (t *Table) bucketFor(addr uint64) *bucket {
	pfn := addr >> 12
	h := pfn * hashMul
	return &t.buckets[h%uint64(len(t.buckets))]
}

// TrackedPages returns the number of distinct pages currently recorded.
func (t *Table) TrackedPages() int64 {
	return atomic.LoadInt64(&t.tracked)
}

// Lookup returns the record for addr, if one exists. The returned pointer
// remains valid for the lifetime of the table: records are never freed
// individually, only all at once by Cleanup.
func (t *Table) Lookup(addr uint64) (*Record, bool) {
	b := t.bucketFor(addr)
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec := b.find(addr)
	return rec, rec != nil
}

// LookupOrCreate returns the existing record for addr, or creates and
// inserts a fresh one. The error return exists to satisfy spec.md §4.B's
// allocation-failure contract; Go cannot recover from allocator exhaustion
// the way the specified systems-language core can; it is always nil here.
func (t *Table) LookupOrCreate(addr uint64) (*Record, error) {
	b := t.bucketFor(addr)

	b.mu.RLock()
	if rec := b.find(addr); rec != nil {
		b.mu.RUnlock()
		return rec, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if rec := b.find(addr); rec != nil {
		return rec, nil
	}
	now := clock.Now()
	rec := &Record{
		addr:          addr,
		next:          b.head,
		firstAccessNS: now,
		allocationNS:  now,
		lastAccessNS:  now,
		currentTier:   int32(tier.Unknown),
	}
	b.head = rec
	atomic.AddInt64(&t.tracked, 1)
	return rec, nil
}

// RecordAccess looks up (or creates) the record for addr and atomically
// updates its access counters and last-access timestamp. Ordering between
// the three atomic updates is relaxed, per spec.md §4.B.
func (t *Table) RecordAccess(addr uint64, isWrite bool) (*Record, error) {
	rec, err := t.LookupOrCreate(addr)
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&rec.accessCount, 1)
	if isWrite {
		atomic.AddInt64(&rec.writeCount, 1)
	} else {
		atomic.AddInt64(&rec.readCount, 1)
	}
	atomic.StoreInt64(&rec.lastAccessNS, clock.Now())
	return rec, nil
}

// Range calls f for every record in the table, stopping early if f returns
// false. Each bucket is visited under its own read lock, matching
// spec.md §4.B's "update_all_features holds the read lock" contract at the
// per-bucket granularity the table actually shards on.
func (t *Table) Range(f func(*Record) bool) {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.RLock()
		cont := true
		for e := b.head; e != nil && cont; e = e.next {
			cont = f(e)
		}
		b.mu.RUnlock()
		if !cont {
			return
		}
	}
}

// Cleanup frees every chain. Called only at manager shutdown.
func (t *Table) Cleanup() {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		b.head = nil
		b.mu.Unlock()
	}
	atomic.StoreInt64(&t.tracked, 0)
}

// Summary is the diagnostic aggregate produced by Table.Summary.
type Summary struct {
	Pages    int64
	Hot      int64
	Cold     int64
	MeanHeat float64
}

// Summary computes pages/hot/cold counts and mean heat score, for
// diagnostic emission (manager.Status) only.
func (t *Table) Summary() Summary {
	var s Summary
	var heatSum float64
	t.Range(func(r *Record) bool {
		s.Pages++
		h := r.HeatScore()
		heatSum += h
		if h > 0.5 {
			s.Hot++
		} else {
			s.Cold++
		}
		return true
	})
	if s.Pages > 0 {
		s.MeanHeat = heatSum / float64(s.Pages)
	}
	return s
}
