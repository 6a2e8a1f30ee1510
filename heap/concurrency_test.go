package heap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestScenario_TwoThreads runs two workers doing 10,000 malloc/free pairs
// each; every worker leaves a few allocations behind on purpose.
func TestScenario_TwoThreads(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 10,000 iteration scenario in short mode")
	}
	const (
		workers    = 2
		iterations = 10000
		leftover   = 5
	)
	h := newHeap(t)

	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			th := h.NewThread()
			for i := range iterations {
				size := uintptr(16 + (i*7+w*13)%2000)
				p, err := th.Malloc(size)
				if err != nil {
					return err
				}
				b, err := th.Bytes(p)
				if err != nil {
					return err
				}
				b[0], b[len(b)-1] = byte(w), byte(i)
				if i >= iterations-leftover {
					continue
				}
				if err := th.Free(p); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, waitOrDeadlock(t, &g, 60*time.Second))

	s := stats(t, h)
	assert.Equal(t, uint64(workers*iterations), s.AllocationCount)
	assert.Equal(t, uint64(workers*leftover), s.AllocationCount-s.FreeCount)
	requireValid(t, h)
}

func TestConcurrent_HeapMethods(t *testing.T) {
	iterations := 2000
	if testing.Short() {
		iterations = 200
	}
	h := newHeap(t, withDebug)

	var g errgroup.Group
	for range 4 {
		g.Go(func() error {
			var live []uintptr
			for i := range iterations {
				p, err := h.AlignedAlloc(uintptr(16)<<(i%4), uintptr(1+i%300))
				if err != nil {
					return err
				}
				live = append(live, p)
				if len(live) > 8 {
					if err := h.Free(live[0]); err != nil {
						return err
					}
					live = live[1:]
				}
			}
			for _, p := range live {
				if err := h.Free(p); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, waitOrDeadlock(t, &g, 60*time.Second))
	assert.Zero(t, stats(t, h).CurrentBytes)
	requireValid(t, h)
}

// TestDeadlockAvoidance: one thread holds a subsystem mutex and wants the
// allocator while another holds the allocator and wants that mutex.
func TestDeadlockAvoidance(t *testing.T) {
	h := newHeap(t)
	m1 := h.NewMutex("subsystem")
	a, b := h.NewThread(), h.NewThread()

	aHolds, bHolds := make(chan struct{}), make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		if err := a.Lock(m1); err != nil {
			return err
		}
		close(aHolds)
		<-bHolds
		p, err := a.Malloc(64)
		if err != nil {
			return err
		}
		if err := a.Free(p); err != nil {
			return err
		}
		return a.Unlock(m1)
	})
	g.Go(func() error {
		guard, err := b.LockAllocator()
		if err != nil {
			return err
		}
		close(bHolds)
		<-aHolds
		if err := b.Lock(m1); err != nil {
			return err
		}
		// Both locks held again after any backoff.
		p, err := b.Malloc(32)
		if err != nil {
			return err
		}
		if err := b.Free(p); err != nil {
			return err
		}
		if err := b.Unlock(m1); err != nil {
			return err
		}
		return guard.Release()
	})
	require.NoError(t, waitOrDeadlock(t, &g, 30*time.Second))

	assert.GreaterOrEqual(t, h.Tracker().Cycles(), int64(1))
	assert.GreaterOrEqual(t, a.Owner().Backoffs()+b.Owner().Backoffs(), int64(1))
	assert.False(t, m1.Locked())
	requireValid(t, h)
}

func waitOrDeadlock(t *testing.T, g *errgroup.Group, limit time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(limit):
		t.Fatalf("workers did not finish within %s", limit)
		return nil
	}
}
