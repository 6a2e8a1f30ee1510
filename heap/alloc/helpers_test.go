package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cma/heap/meta"
)

const testPageSize = 64 << 10

func newTestCore(t testing.TB, opts Options) *Core {
	t.Helper()
	if opts.PageSize == 0 {
		opts.PageSize = testPageSize
	}
	arena := meta.New(meta.Options{})
	c, err := New(arena, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		_ = arena.Close()
	})
	return c
}

// carve is the core half of malloc: first fit, grow on miss, split, mark.
func carve(t testing.TB, c *Core, size uintptr) (meta.ID, *meta.Header) {
	t.Helper()
	id, err := c.FindFreeBlock(size)
	require.NoError(t, err)
	if id == 0 {
		pid, err := c.CreatePage(size)
		require.NoError(t, err)
		p, err := c.Page(pid)
		require.NoError(t, err)
		id = p.Blocks
	}
	_, err = c.SplitBlock(id, size)
	require.NoError(t, err)
	h, err := c.Block(id)
	require.NoError(t, err)
	MarkAllocated(h)
	return id, h
}

// release is the core half of free.
func release(t testing.TB, c *Core, id meta.ID) meta.ID {
	t.Helper()
	h, err := c.Block(id)
	require.NoError(t, err)
	pid := PageID(h.Page)
	MarkFree(h)
	merged, err := c.MergeBlock(id)
	require.NoError(t, err)
	_, _, err = c.FreePageIfEmpty(pid)
	require.NoError(t, err)
	return merged
}

func requireValid(t testing.TB, c *Core) {
	t.Helper()
	require.NoError(t, c.Validate())
}
