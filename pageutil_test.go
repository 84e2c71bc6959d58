package pagekv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytesIsZero(t *testing.T) {
	zero := make([]byte, 64)
	require.True(t, bytesIsZero(zero))

	nonZero := make([]byte, 64)
	nonZero[40] = 1
	require.False(t, bytesIsZero(nonZero))
}

func TestBytesIsZeroPanicsOnBadLength(t *testing.T) {
	require.Panics(t, func() { bytesIsZero(make([]byte, 31)) })
}
