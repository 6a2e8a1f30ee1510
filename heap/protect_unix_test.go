//go:build unix

package heap

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtectMetadata_ToggledAroundCalls(t *testing.T) {
	h := newHeap(t, func(c *Config) { c.ProtectMetadata = true })
	p, err := h.Malloc(100)
	require.NoError(t, err)
	require.True(t, h.arena.Protecting())
	assert.True(t, h.arena.Protected(), "metadata is PROT_NONE outside the lock")
	assert.Zero(t, h.arena.Depth())

	th := h.NewThread()
	g, err := th.LockAllocator()
	require.NoError(t, err)
	assert.False(t, h.arena.Protected())
	assert.Equal(t, 1, h.arena.Depth())
	q, err := th.Malloc(50)
	require.NoError(t, err)
	assert.Equal(t, 1, h.arena.Depth(), "nested call leaves depth balanced")
	require.NoError(t, g.Release())
	assert.True(t, h.arena.Protected())

	require.NoError(t, h.Free(p))
	require.NoError(t, h.Free(q))
	requireValid(t, h)
}

func TestProtectMetadata_WildWriteFaults(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping fault test in short mode")
	}
	h := newHeap(t, func(c *Config) { c.ProtectMetadata = true })
	_, err := h.Malloc(100)
	require.NoError(t, err)

	hdr, err := h.arena.Get(1)
	require.NoError(t, err)

	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)

	faulted := func() (hit bool) {
		defer func() {
			if recover() != nil {
				hit = true
			}
		}()
		hdr.Size = 1
		return false
	}()
	require.True(t, faulted, "write to protected header must fault")
	requireValid(t, h)
}
