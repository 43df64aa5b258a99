package sampler

import (
	"sync"
	"sync/atomic"
)

// entry is one page's accumulated hardware-sample counters. The same
// bucketed-chaining-under-RWMutex shape as internal/pagestats.Table, since
// the sampler needs its own address-keyed side table (spec.md §4.F: "its
// own table, same hash shape as B's").
type entry struct {
	addr uint64
	next *entry

	readSamples  int64 // atomic
	writeSamples int64 // atomic
	latencySum   int64 // atomic
	lastSampleNS int64 // atomic
}

const bucketCount = 16381 // a smaller prime; this table holds far fewer distinct pages than B

type sbucket struct {
	mu   sync.RWMutex
	head *entry
}

func (b *sbucket) find(addr uint64) *entry {
	for e := b.head; e != nil; e = e.next {
		if e.addr == addr {
			return e
		}
	}
	return nil
}

// sampleTable is the sampler's private address-keyed side table.
type sampleTable struct {
	buckets []sbucket
}

func newSampleTable() *sampleTable {
	return &sampleTable{buckets: make([]sbucket, bucketCount)}
}

func (t *sampleTable) bucketFor(addr uint64) *sbucket {
	pfn := addr >> 12
	h := pfn * 0x9E3779B97F4A7C15
	return &t.buckets[h%uint64(len(t.buckets))]
}

func (t *sampleTable) lookupOrCreate(addr uint64) *entry {
	b := t.bucketFor(addr)

	b.mu.RLock()
	if e := b.find(addr); e != nil {
		b.mu.RUnlock()
		return e
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if e := b.find(addr); e != nil {
		return e
	}
	e := &entry{addr: addr, next: b.head}
	b.head = e
	return e
}

// rangeEntries calls f for every entry, under each bucket's read lock.
func (t *sampleTable) rangeEntries(f func(*entry)) {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.RLock()
		for e := b.head; e != nil; e = e.next {
			f(e)
		}
		b.mu.RUnlock()
	}
}

func (e *entry) recordSample(s Sample, nowNS int64) {
	if s.Write {
		atomic.AddInt64(&e.writeSamples, 1)
	} else {
		atomic.AddInt64(&e.readSamples, 1)
	}
	atomic.AddInt64(&e.latencySum, s.LatencyWeight)
	atomic.StoreInt64(&e.lastSampleNS, nowNS)
}
