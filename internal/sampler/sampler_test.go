package sampler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oichkatzele/tiermem/internal/pagestats"
)

func TestRingPushDrain(t *testing.T) {
	r := NewRing(4)
	require.True(t, r.Push(Sample{Addr: 0x1000}))
	require.True(t, r.Push(Sample{Addr: 0x2000}))
	samples := r.Drain()
	require.Len(t, samples, 2)
	require.Equal(t, uintptr(0x1000), samples[0].Addr)
}

func TestRingDropsWhenFull(t *testing.T) {
	r := NewRing(2)
	require.True(t, r.Push(Sample{Addr: 1}))
	require.True(t, r.Push(Sample{Addr: 2}))
	require.False(t, r.Push(Sample{Addr: 3}))
	require.Equal(t, int64(1), r.Dropped())
}

func TestLifecycleTransitions(t *testing.T) {
	s := New(8, 100, nil)
	require.Equal(t, Uninitialized, s.State())
	require.NoError(t, s.Init())
	require.Equal(t, Initialized, s.State())
	require.NoError(t, s.Init()) // idempotent
	require.NoError(t, s.Start())
	require.Equal(t, Running, s.State())
	require.NoError(t, s.Start()) // idempotent
	require.NoError(t, s.Stop())
	require.Equal(t, Stopped, s.State())
	s.ShutdownSampler()
	require.Equal(t, Shutdown, s.State())
}

func TestStopFromWrongStateFails(t *testing.T) {
	s := New(8, 100, nil)
	require.ErrorIs(t, s.Stop(), ErrWrongState)
}

func TestSubmitAndDrainAccumulates(t *testing.T) {
	s := New(8, 100, nil)
	require.NoError(t, s.Init())
	require.NoError(t, s.Start())

	s.Submit(0x1000, false, 5)
	s.Submit(0x1000, false, 5)
	s.Submit(0x1000, true, 5)
	s.Submit(0, false, 5) // zero address dropped

	s.drainOnce()

	stats := s.Stats()
	require.Equal(t, int64(3), stats.TotalSamples)
}

func TestMergeIntoOverwritesWhenLarger(t *testing.T) {
	s := New(8, 10, nil) // sample_period = 10
	require.NoError(t, s.Init())
	require.NoError(t, s.Start())

	for i := 0; i < 5; i++ {
		s.Submit(0x1000, false, 1)
	}
	s.drainOnce()

	table := pagestats.NewTable(31)
	rec, err := table.RecordAccess(0x1000, false) // seeds read_count=1, less than estimate
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.ReadCount())

	s.MergeInto(table, 1_000_000_000)

	// estimated_reads = 5 samples * sample_period(10) = 50, exceeds the
	// fault-path's read_count of 1, so it overwrites.
	require.Equal(t, int64(50), rec.ReadCount())
	require.Equal(t, rec.ReadCount()+rec.WriteCount(), rec.AccessCount())
}

func TestMergeIntoDoesNotOverwriteWhenSmaller(t *testing.T) {
	s := New(8, 1, nil) // tiny sample_period keeps the estimate small
	require.NoError(t, s.Init())
	require.NoError(t, s.Start())
	s.Submit(0x1000, false, 1)
	s.drainOnce()

	table := pagestats.NewTable(31)
	var rec *pagestats.Record
	var err error
	for i := 0; i < 1000; i++ {
		rec, err = table.RecordAccess(0x1000, false)
		require.NoError(t, err)
	}
	before := rec.ReadCount()

	s.MergeInto(table, 1_000_000_000)
	require.Equal(t, before, rec.ReadCount(), "a smaller sample estimate must not overwrite a larger fault-path count")
}
