package lockdep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RecordsOwnershipInOrder(t *testing.T) {
	tr := NewTracker()
	a := tr.NewMutex("a")
	b := tr.NewMutex("b")
	o := tr.NewOwnerID()

	require.NoError(t, a.Lock(o))
	require.NoError(t, b.Lock(o))
	require.NoError(t, a.Lock(o)) // recursion does not duplicate the entry

	assert.Equal(t, []MutexID{a.ID(), b.ID()}, tr.Owned(o))
	holder, ok := tr.Holder(b.ID())
	require.True(t, ok)
	assert.Equal(t, o, holder)

	require.NoError(t, a.Unlock(o))
	assert.Equal(t, []MutexID{a.ID(), b.ID()}, tr.Owned(o), "a still held at depth 1")
	require.NoError(t, a.Unlock(o))
	require.NoError(t, b.Unlock(o))
	assert.Empty(t, tr.Owned(o))

	_, ok = tr.Holder(a.ID())
	assert.False(t, ok)
}

func TestTracker_DetectsTwoPartyCycle(t *testing.T) {
	tr := NewTracker()
	a := tr.NewMutex("a")
	b := tr.NewMutex("b")
	o1, o2 := tr.NewOwnerID(), tr.NewOwnerID()

	require.NoError(t, a.Lock(o1))
	require.NoError(t, b.Lock(o2))

	require.NoError(t, tr.BeginWait(o1, b.ID()))
	m, ok := tr.Waiting(o1)
	require.True(t, ok)
	assert.Equal(t, b.ID(), m)

	err := tr.BeginWait(o2, a.ID())
	require.ErrorIs(t, err, ErrWouldDeadlock)
	_, ok = tr.Waiting(o2)
	assert.False(t, ok, "refused waits are not recorded")
	assert.Equal(t, int64(1), tr.Cycles())

	tr.CancelWait(o1)
	require.NoError(t, tr.BeginWait(o2, a.ID()), "no cycle once o1 stops waiting")
}

func TestTracker_DetectsLongerCycle(t *testing.T) {
	tr := NewTracker()
	ms := []*Mutex{tr.NewMutex("m0"), tr.NewMutex("m1"), tr.NewMutex("m2")}
	owners := []OwnerID{tr.NewOwnerID(), tr.NewOwnerID(), tr.NewOwnerID()}
	for i := range ms {
		require.NoError(t, ms[i].Lock(owners[i]))
	}

	// o0 → m1 (o1) → m2 (o2) → m0 (o0) closes the ring.
	require.NoError(t, tr.BeginWait(owners[0], ms[1].ID()))
	require.NoError(t, tr.BeginWait(owners[1], ms[2].ID()))
	require.ErrorIs(t, tr.BeginWait(owners[2], ms[0].ID()), ErrWouldDeadlock)
}

func TestTracker_RecursiveWaitIsFree(t *testing.T) {
	tr := NewTracker()
	a := tr.NewMutex("a")
	o := tr.NewOwnerID()
	require.NoError(t, a.Lock(o))
	require.NoError(t, tr.BeginWait(o, a.ID()))
	_, ok := tr.Waiting(o)
	assert.False(t, ok)
}

func TestTracker_UnknownMutex(t *testing.T) {
	tr := NewTracker()
	m := tr.NewMutex("gone")
	tr.Unregister(m.ID())
	_, err := tr.Mutex(m.ID())
	require.ErrorIs(t, err, ErrUnknownMutex)
}
