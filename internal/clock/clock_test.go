package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNowMonotonic(t *testing.T) {
	a := Now()
	b := Now()
	require.GreaterOrEqual(t, b, a)
}

func TestAlign(t *testing.T) {
	require.Equal(t, uintptr(0x1000), Align(0x1000))
	require.Equal(t, uintptr(0x1000), Align(0x1fff))
	require.Equal(t, uintptr(0x2000), Align(0x2000))
	require.Equal(t, uintptr(0), Align(0))
}

func TestOffset(t *testing.T) {
	require.Equal(t, uintptr(0), Offset(0x1000))
	require.Equal(t, uintptr(0xfff), Offset(0x1fff))
	require.Equal(t, uintptr(42), Offset(0x3000+42))
}
