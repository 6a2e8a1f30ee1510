package lockdep

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) sleep(d time.Duration) {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	time.Sleep(d)
}

func TestOwner_BackoffRange(t *testing.T) {
	tr := NewTracker()
	o := tr.NewOwner()
	for range 1000 {
		d := o.backoff()
		require.GreaterOrEqual(t, d, minBackoff)
		require.LessOrEqual(t, d, maxBackoff)
	}
}

func TestOwner_RecursiveLock(t *testing.T) {
	tr := NewTracker()
	m := tr.NewMutex("r")
	o := tr.NewOwner()

	require.NoError(t, o.Lock(m))
	require.NoError(t, o.Lock(m))
	assert.Equal(t, 2, m.Depth(o.ID()))
	require.NoError(t, o.Unlock(m))
	require.NoError(t, o.Unlock(m))
	assert.Zero(t, o.Backoffs())
}

// TestOwner_BreaksABBADeadlock drives the classic lock-order inversion:
// o1 holds A and wants B while o2 holds B (twice) and wants A.
func TestOwner_BreaksABBADeadlock(t *testing.T) {
	tr := NewTracker()
	a := tr.NewMutex("a")
	b := tr.NewMutex("b")
	o1, o2 := tr.NewOwner(), tr.NewOwner()
	rec := &sleepRecorder{}
	o1.sleep, o2.sleep = rec.sleep, rec.sleep

	require.NoError(t, o1.Lock(a))
	require.NoError(t, o2.Lock(b))
	require.NoError(t, o2.Lock(b))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	run := func(o *Owner, want *Mutex, held ...*Mutex) {
		defer wg.Done()
		if err := o.Lock(want); err != nil {
			errs <- err
			return
		}
		if err := o.Unlock(want); err != nil {
			errs <- err
			return
		}
		for _, m := range held {
			if err := o.Unlock(m); err != nil {
				errs <- err
				return
			}
		}
	}

	wg.Add(2)
	go run(o1, b, a)
	go run(o2, a, b, b)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("owners deadlocked")
	}
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, o1.Backoffs()+o2.Backoffs(), int64(1))
	assert.GreaterOrEqual(t, tr.Cycles(), int64(1))
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.slept)
	for _, d := range rec.slept {
		assert.GreaterOrEqual(t, d, minBackoff)
		assert.LessOrEqual(t, d, maxBackoff)
	}
	assert.False(t, a.Locked())
	assert.False(t, b.Locked())
}
