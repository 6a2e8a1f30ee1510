package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cma/internal/format"
)

func TestDebug_AllocSizeIsRequested(t *testing.T) {
	h := newHeap(t, withDebug)
	p, err := h.Malloc(100)
	require.NoError(t, err)
	assert.Equal(t, uintptr(100), h.AllocSize(p))
	assert.Zero(t, p%format.Alignment)

	region := h.blockRegion(p)
	assert.GreaterOrEqual(t, len(region), 100+format.GuardOverhead)
	for i := range format.GuardSize {
		require.Equal(t, format.GuardByte, region[i], "front guard %d", i)
		require.Equal(t, format.GuardByte, region[format.GuardSize+100+i], "back guard %d", i)
	}
	require.NoError(t, h.Free(p))
}

func TestDebug_OverrunIsFatal(t *testing.T) {
	h := newHeap(t, withDebug)
	p, err := h.Malloc(100)
	require.NoError(t, err)

	// One byte past the payload.
	h.blockRegion(p)[format.GuardSize+100] = 0
	requireCorruption(t, Guard, func() { _ = h.Free(p) })

	_, err = h.Malloc(8)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDebug_UnderrunIsFatal(t *testing.T) {
	h := newHeap(t, withDebug)
	p, err := h.AlignedAlloc(64, 48)
	require.NoError(t, err)
	require.Zero(t, p%64)

	h.blockRegion(p)[format.GuardSize-1] ^= 0xff
	requireCorruption(t, Guard, func() { _ = h.Free(p) })
}

func TestDebug_ReallocChecksGuards(t *testing.T) {
	h := newHeap(t, withDebug)
	p, err := h.Malloc(32)
	require.NoError(t, err)
	h.blockRegion(p)[format.GuardSize+32] = 1
	requireCorruption(t, Guard, func() { _, _ = h.Realloc(p, 64) })
}

func TestDebug_PoisonOnFree(t *testing.T) {
	h := newHeap(t, withDebug)
	p, err := h.Malloc(64)
	require.NoError(t, err)
	keep, err := h.Malloc(64) // keeps the page mapped and the block unmerged
	require.NoError(t, err)

	region := h.blockRegion(p)
	b, err := h.Bytes(p)
	require.NoError(t, err)
	require.Len(t, b, 64)
	for i := range b {
		b[i] = 0x42
	}
	require.NoError(t, h.Free(p))

	for i := range format.GuardSize {
		require.Equal(t, format.FreedGuardByte, region[i], "front %d", i)
		require.Equal(t, format.FreedGuardByte, region[format.GuardSize+64+i], "back %d", i)
	}
	for i := range 64 {
		require.Equal(t, format.FreedPayloadByte, region[format.GuardSize+i], "payload %d", i)
	}
	require.NoError(t, h.Free(keep))
}

func TestDebug_ReallocReinstallsGuards(t *testing.T) {
	h := newHeap(t, withDebug)
	p, err := h.Malloc(40)
	require.NoError(t, err)
	b, _ := h.Bytes(p)
	copy(b, "guarded")

	p, err = h.Realloc(p, 400)
	require.NoError(t, err)
	assert.Equal(t, uintptr(400), h.AllocSize(p))
	b, _ = h.Bytes(p)
	assert.Equal(t, "guarded", string(b[:7]))

	region := h.blockRegion(p)
	for i := range format.GuardSize {
		require.Equal(t, format.GuardByte, region[format.GuardSize+400+i], "back guard %d", i)
	}
	require.NoError(t, h.Free(p))
	requireValid(t, h)
}

func TestDebug_GuardOverheadOverflow(t *testing.T) {
	h := newHeap(t, withDebug)
	_, err := h.Malloc(^uintptr(0) - 32)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
