package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cma/heap/leak"
)

func TestThread_LastError(t *testing.T) {
	h := newHeap(t)
	th := h.NewThread()

	_, err := th.Malloc(0)
	require.Error(t, err)
	assert.Equal(t, InvalidArgument, th.LastError())

	p, err := th.Malloc(8)
	require.NoError(t, err)
	assert.Equal(t, Success, th.LastError())

	require.Error(t, th.Free(p+1))
	assert.Equal(t, InvalidPointer, th.LastError())
	require.NoError(t, th.Free(p))
}

func TestLeak_Accuracy(t *testing.T) {
	h := newHeap(t)
	th := h.NewThread()
	th.EnableLeakDetection()

	const k, j = 50, 20 // every index with i%5 < 2 is freed
	ptrs := make([]uintptr, k)
	for i := range k {
		p, err := th.Malloc(uintptr(i + 1))
		require.NoError(t, err)
		ptrs[i] = p
	}
	var want uintptr
	for i := range k {
		if i%5 < 2 {
			require.NoError(t, th.Free(ptrs[i]))
			continue
		}
		want += uintptr(i + 1)
	}
	assert.Equal(t, k-j, th.OutstandingAllocations())
	assert.Equal(t, want, th.OutstandingBytes())

	r := th.LeakReport()
	assert.Equal(t, k-j, r.Count)
	var sum uintptr
	for _, rec := range r.Records {
		sum += rec.Size
	}
	assert.Equal(t, want, sum)
}

func TestLeak_OnlyWhileEnabled(t *testing.T) {
	h := newHeap(t)
	th := h.NewThread()

	before, err := th.Malloc(64)
	require.NoError(t, err)

	th.EnableLeakDetection()
	p, err := th.Calloc(4, 16)
	require.NoError(t, err)
	require.NoError(t, th.Free(before), "untracked free is fine")
	assert.Equal(t, 1, th.OutstandingAllocations())
	assert.Equal(t, uintptr(64), th.OutstandingBytes())

	// Heap-level calls are not attributed to any thread.
	q, err := h.Malloc(32)
	require.NoError(t, err)
	assert.Equal(t, 1, th.OutstandingAllocations())

	th.DisableLeakDetection()
	assert.Zero(t, th.OutstandingAllocations())
	require.NoError(t, th.Free(p))
	require.NoError(t, h.Free(q))
}

func TestLeak_ReallocFollowsPointer(t *testing.T) {
	h := newHeap(t)
	th := h.NewThread()
	th.EnableLeakDetection()

	p, err := th.Malloc(64)
	require.NoError(t, err)
	blocker, err := th.Malloc(64)
	require.NoError(t, err)

	np, err := th.Realloc(p, 4096)
	require.NoError(t, err)
	require.NotEqual(t, p, np)
	assert.Equal(t, 2, th.OutstandingAllocations())
	assert.Equal(t, uintptr(64+4096), th.OutstandingBytes())

	np, err = th.Realloc(np, 100) // in place
	require.NoError(t, err)
	assert.Equal(t, uintptr(164), th.OutstandingBytes())

	_, err = th.Realloc(np, 0)
	require.NoError(t, err)
	require.NoError(t, th.Free(blocker))
	assert.Zero(t, th.OutstandingAllocations())
	assert.Zero(t, th.OutstandingBytes())
}

func TestLeak_LatchedErrorUntilClear(t *testing.T) {
	h := newHeap(t, func(c *Config) { c.LeakRecordLimit = 2 })
	th := h.NewThread()
	th.EnableLeakDetection()

	for range 3 {
		_, err := th.Malloc(16)
		require.NoError(t, err, "tracker failure never fails the allocation")
	}
	require.ErrorIs(t, th.LeakError(), leak.ErrRecordLimit)
	assert.False(t, th.LeakDetectionActive())

	th.ClearLeaks()
	assert.True(t, th.LeakDetectionActive())
	assert.Zero(t, th.OutstandingAllocations())
}

func TestAllocationGuard_FreesOnRelease(t *testing.T) {
	h := newHeap(t)
	th := h.NewThread()
	th.EnableLeakDetection()

	p, err := th.Malloc(128)
	require.NoError(t, err)
	g := th.Guard(p)
	assert.Equal(t, p, g.Get())

	th.SetLastError(OutOfRange)
	require.NoError(t, g.Release())
	assert.Zero(t, g.Get())
	assert.Equal(t, Success, g.Err())
	assert.Equal(t, OutOfRange, th.LastError(), "caller's errno is preserved")
	assert.Zero(t, th.OutstandingAllocations())
	require.NoError(t, g.Release(), "empty guard")
}

func TestAllocationGuard_ResetMoveDetach(t *testing.T) {
	h := newHeap(t)
	a, err := h.Malloc(32)
	require.NoError(t, err)
	b, err := h.Malloc(32)
	require.NoError(t, err)

	g := h.Guard(a)
	require.NoError(t, g.Reset(b))
	assert.Zero(t, h.AllocSize(a))
	assert.Equal(t, b, g.Get())

	moved := g.Move()
	assert.Zero(t, g.Get())
	require.NoError(t, g.Release())
	assert.NotZero(t, h.AllocSize(b), "moved-from guard frees nothing")

	assert.Equal(t, b, moved.Detach())
	require.NoError(t, moved.Release())
	assert.NotZero(t, h.AllocSize(b))
	require.NoError(t, h.Free(b))
}

func TestAllocationGuard_StoresErrorCode(t *testing.T) {
	h := newHeap(t)
	g := h.Guard(0x40)
	require.ErrorIs(t, g.Release(), ErrInvalidPointer)
	assert.Equal(t, InvalidPointer, g.Err())
}

func TestAllocationGuard_DoubleFreeIsFatal(t *testing.T) {
	h := newHeap(t)
	p, err := h.Malloc(64)
	require.NoError(t, err)
	_, err = h.Malloc(64)
	require.NoError(t, err)

	g := h.Guard(p)
	require.NoError(t, h.Free(p))
	requireCorruption(t, DoubleFree, func() { _ = g.Release() })
}

func TestAllocationGuard_DoubleFreeInReleasedPage(t *testing.T) {
	h := newHeap(t)
	_, err := h.Malloc(64)
	require.NoError(t, err)
	big, err := h.Malloc(testPageSize)
	require.NoError(t, err)

	g := h.Guard(big)
	require.NoError(t, h.Free(big))
	require.Equal(t, 1, h.PageCount())
	requireCorruption(t, DoubleFree, func() { _ = g.Release() })
}

func TestLockAllocator_RestoresErrno(t *testing.T) {
	h := newHeap(t)
	th := h.NewThread()
	th.SetLastError(OutOfRange)

	g, err := th.LockAllocator()
	require.NoError(t, err)
	require.True(t, g.Held())

	// Recursive: the thread keeps allocating inside its critical section.
	p, err := th.Malloc(64)
	require.NoError(t, err)
	require.NoError(t, th.Free(p))
	_, err = th.Malloc(0)
	require.Error(t, err)
	assert.Equal(t, InvalidArgument, th.LastError())

	require.NoError(t, g.Release())
	assert.False(t, g.Held())
	assert.Equal(t, OutOfRange, th.LastError())
	require.ErrorIs(t, g.Release(), ErrInvalidState)
}
