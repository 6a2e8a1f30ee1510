package lockdep

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

const (
	minBackoff = 1 * time.Millisecond
	maxBackoff = 10 * time.Millisecond
)

// Owner is one thread of control acquiring tracked mutexes through the
// deadlock-avoidance protocol. An Owner must be used by one goroutine at a
// time; its RNG is not shared.
type Owner struct {
	id  OwnerID
	tr  *Tracker
	rng *rand.Rand

	backoffs atomic.Int64

	// sleep is swapped by tests to observe backoff durations.
	sleep func(time.Duration)
}

// NewOwner creates an owner with its own backoff RNG.
func (tr *Tracker) NewOwner() *Owner {
	id := tr.NewOwnerID()
	return &Owner{
		id:    id,
		tr:    tr,
		rng:   rand.New(rand.NewPCG(uint64(id), uint64(time.Now().UnixNano()))),
		sleep: time.Sleep,
	}
}

// ID returns the owner's tracker identity.
func (o *Owner) ID() OwnerID { return o.id }

// Backoffs returns how many times this owner released everything and retried.
func (o *Owner) Backoffs() int64 { return o.backoffs.Load() }

// Lock acquires m, breaking any wait-for cycle by releasing every mutex the
// owner holds, backing off and reacquiring them in their original order.
func (o *Owner) Lock(m *Mutex) error {
	for {
		owned := o.tr.Owned(o.id)

		err := o.tr.BeginWait(o.id, m.id)
		if err == nil {
			if err := m.Lock(o.id); err != nil {
				o.tr.CancelWait(o.id)
				return err
			}
			return nil
		}
		if !errors.Is(err, ErrWouldDeadlock) {
			return err
		}

		held, err := o.releaseAll(owned)
		if err != nil {
			return err
		}
		o.backoffs.Add(1)
		o.sleep(o.backoff())
		if err := o.reacquire(held); err != nil {
			return err
		}
	}
}

// Unlock drops one level of m.
func (o *Owner) Unlock(m *Mutex) error {
	return m.Unlock(o.id)
}

type heldMutex struct {
	m     *Mutex
	depth int
}

// releaseAll unwinds every mutex in owned, newest first, at full depth.
func (o *Owner) releaseAll(owned []MutexID) ([]heldMutex, error) {
	held := make([]heldMutex, len(owned))
	for i := len(owned) - 1; i >= 0; i-- {
		m, err := o.tr.Mutex(owned[i])
		if err != nil {
			return nil, err
		}
		depth := m.Depth(o.id)
		for range depth {
			if err := m.Unlock(o.id); err != nil {
				return nil, fmt.Errorf("lockdep: release %s during backoff: %w", m.name, err)
			}
		}
		held[i] = heldMutex{m: m, depth: depth}
	}
	return held, nil
}

// reacquire takes every mutex back in original order, recursing into Lock.
func (o *Owner) reacquire(held []heldMutex) error {
	for _, h := range held {
		for range h.depth {
			if err := o.Lock(h.m); err != nil {
				return fmt.Errorf("lockdep: reacquire %s after backoff: %w", h.m.name, err)
			}
		}
	}
	return nil
}

func (o *Owner) backoff() time.Duration {
	span := int64(maxBackoff - minBackoff)
	return minBackoff + time.Duration(o.rng.Int64N(span+1))
}
