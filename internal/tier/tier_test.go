package tier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasRoom(t *testing.T) {
	tr := &Tier{Name: "fast", Capacity: 2 * 4096}
	require.True(t, tr.HasRoom(4096))
	tr.Used = 4096
	require.True(t, tr.HasRoom(4096))
	tr.Used = 2 * 4096
	require.False(t, tr.HasRoom(4096))
}

func TestDefaults(t *testing.T) {
	fast := NewFast()
	require.Equal(t, Fast, fast.Kind)
	require.Equal(t, int64(DefaultFastCapacity), fast.Capacity)

	slow := NewSlow()
	require.Equal(t, Slow, slow.Kind)
	require.Equal(t, int64(DefaultSlowCapacity), slow.Capacity)

	require.Greater(t, slow.Latency.ReadNS, fast.Latency.ReadNS)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "fast", Fast.String())
	require.Equal(t, "slow", Slow.String())
	require.Equal(t, "unknown", Unknown.String())
}
