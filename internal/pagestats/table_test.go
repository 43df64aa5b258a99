package pagestats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oichkatzele/tiermem/internal/tier"
)

func TestLookupOrCreateReturnsSameRecord(t *testing.T) {
	tbl := NewTable(31)
	r1, err := tbl.LookupOrCreate(0x1000)
	require.NoError(t, err)
	r2, err := tbl.LookupOrCreate(0x1000)
	require.NoError(t, err)
	require.Same(t, r1, r2)
	require.Equal(t, int64(1), tbl.TrackedPages())
}

func TestRecordAccessCounters(t *testing.T) {
	tbl := NewTable(31)
	rec, err := tbl.RecordAccess(0x2000, false)
	require.NoError(t, err)
	_, err = tbl.RecordAccess(0x2000, true)
	require.NoError(t, err)
	_, err = tbl.RecordAccess(0x2000, true)
	require.NoError(t, err)

	require.Equal(t, int64(3), rec.AccessCount())
	require.Equal(t, int64(1), rec.ReadCount())
	require.Equal(t, int64(2), rec.WriteCount())
	require.Equal(t, rec.ReadCount()+rec.WriteCount(), rec.AccessCount())
}

func TestNewRecordStartsUnknownTier(t *testing.T) {
	tbl := NewTable(31)
	rec, err := tbl.LookupOrCreate(0x3000)
	require.NoError(t, err)
	require.Equal(t, tier.Unknown, rec.CurrentTier())
	rec.SetCurrentTier(tier.Fast)
	require.Equal(t, tier.Fast, rec.CurrentTier())
}

func TestLookupMiss(t *testing.T) {
	tbl := NewTable(31)
	_, ok := tbl.Lookup(0xdead)
	require.False(t, ok)
}

func TestRangeVisitsAll(t *testing.T) {
	tbl := NewTable(31)
	for i := uint64(0); i < 50; i++ {
		_, err := tbl.LookupOrCreate(i * 4096)
		require.NoError(t, err)
	}
	seen := 0
	tbl.Range(func(*Record) bool {
		seen++
		return true
	})
	require.Equal(t, 50, seen)
}

func TestRangeStopsEarly(t *testing.T) {
	tbl := NewTable(31)
	for i := uint64(0); i < 50; i++ {
		_, err := tbl.LookupOrCreate(i * 4096)
		require.NoError(t, err)
	}
	seen := 0
	tbl.Range(func(*Record) bool {
		seen++
		return seen < 5
	})
	require.Equal(t, 5, seen)
}

func TestCleanupResetsTable(t *testing.T) {
	tbl := NewTable(31)
	_, _ = tbl.LookupOrCreate(0x1000)
	require.Equal(t, int64(1), tbl.TrackedPages())
	tbl.Cleanup()
	require.Equal(t, int64(0), tbl.TrackedPages())
	_, ok := tbl.Lookup(0x1000)
	require.False(t, ok)
}

func TestSummary(t *testing.T) {
	tbl := NewTable(31)
	rec, err := tbl.LookupOrCreate(0x1000)
	require.NoError(t, err)
	rec.heatScore = 0.9
	rec2, err := tbl.LookupOrCreate(0x2000)
	require.NoError(t, err)
	rec2.heatScore = 0.1

	s := tbl.Summary()
	require.Equal(t, int64(2), s.Pages)
	require.Equal(t, int64(1), s.Hot)
	require.Equal(t, int64(1), s.Cold)
}
