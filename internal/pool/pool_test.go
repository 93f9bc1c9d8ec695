package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	p := New(1500, 0)

	pk, err := p.Acquire()
	require.NoError(t, err)
	require.Len(t, pk.Bytes(), 1500)
	require.Equal(t, 0, p.Len())

	pk.Release()
	require.Equal(t, 1, p.Len())

	pk2, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, 0, p.Len())
	pk2.Release()
}

func TestHoldDefersRelease(t *testing.T) {
	p := New(1500, 0)
	pk, err := p.Acquire()
	require.NoError(t, err)

	pk.Hold()
	pk.Release()
	require.Equal(t, 0, p.Len(), "buffer must stay checked out until all holders release")

	pk.Release()
	require.Equal(t, 1, p.Len())
}

func TestMaxBuffersExhausted(t *testing.T) {
	p := New(1500, 1)

	pk, err := p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	require.Error(t, err)

	pk.Release()
	_, err = p.Acquire()
	require.NoError(t, err)
}
