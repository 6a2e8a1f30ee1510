package lockdep

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// OwnerID identifies one thread of control.
type OwnerID uint64

// MutexID identifies a tracked mutex. Zero is never assigned.
type MutexID uint32

// Tracker is the shared who-owns-what-and-who-waits service.
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	holders map[MutexID]OwnerID
	owned   map[OwnerID][]MutexID // first-acquisition order
	waiting map[OwnerID]MutexID
	mutexes map[MutexID]*Mutex
	nextMu  MutexID

	nextOwner atomic.Uint64
	cycles    atomic.Int64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		holders: make(map[MutexID]OwnerID),
		owned:   make(map[OwnerID][]MutexID),
		waiting: make(map[OwnerID]MutexID),
		mutexes: make(map[MutexID]*Mutex),
	}
}

// NewOwnerID returns a process-unique owner identity.
func (tr *Tracker) NewOwnerID() OwnerID {
	return OwnerID(tr.nextOwner.Add(1))
}

// NewMutex creates and registers a recursive mutex.
func (tr *Tracker) NewMutex(name string) *Mutex {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.nextMu++
	m := newMutex(tr, tr.nextMu, name)
	tr.mutexes[m.id] = m
	return m
}

// Unregister forgets a mutex. It must not be held.
func (tr *Tracker) Unregister(id MutexID) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.mutexes, id)
}

// Mutex returns the registered mutex for id.
func (tr *Tracker) Mutex(id MutexID) (*Mutex, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	m, ok := tr.mutexes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMutex, id)
	}
	return m, nil
}

// Owned returns a copy of the mutexes owner holds, in acquisition order.
func (tr *Tracker) Owned(owner OwnerID) []MutexID {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return slices.Clone(tr.owned[owner])
}

// Holder returns the owner currently holding m.
func (tr *Tracker) Holder(m MutexID) (OwnerID, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	o, ok := tr.holders[m]
	return o, ok
}

// Waiting returns the mutex owner is registered as waiting for.
func (tr *Tracker) Waiting(owner OwnerID) (MutexID, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	m, ok := tr.waiting[owner]
	return m, ok
}

// Cycles returns how many waits were refused as deadlocks.
func (tr *Tracker) Cycles() int64 { return tr.cycles.Load() }

// BeginWait registers that owner is about to block on m. If the holder of m
// transitively waits on owner, the wait is not recorded and ErrWouldDeadlock
// is returned. Waiting on a mutex the owner already holds is a recursive
// acquisition and never waits.
func (tr *Tracker) BeginWait(owner OwnerID, m MutexID) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	holder, held := tr.holders[m]
	if held && holder == owner {
		return nil
	}
	if held && tr.hasPath(holder, owner, make(map[OwnerID]struct{})) {
		tr.cycles.Add(1)
		return fmt.Errorf("%w: owner %d on mutex %d held by %d", ErrWouldDeadlock, owner, m, holder)
	}
	tr.waiting[owner] = m
	return nil
}

// CancelWait drops any wait registered for owner.
func (tr *Tracker) CancelWait(owner OwnerID) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.waiting, owner)
}

// hasPath reports whether from reaches target by following waits.
func (tr *Tracker) hasPath(from, target OwnerID, seen map[OwnerID]struct{}) bool {
	if from == target {
		return true
	}
	if _, ok := seen[from]; ok {
		return false
	}
	seen[from] = struct{}{}
	m, ok := tr.waiting[from]
	if !ok {
		return false
	}
	next, ok := tr.holders[m]
	if !ok {
		return false
	}
	return tr.hasPath(next, target, seen)
}

// acquired records that owner now holds m and is no longer waiting.
func (tr *Tracker) acquired(owner OwnerID, m MutexID) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.waiting, owner)
	tr.holders[m] = owner
	tr.owned[owner] = append(tr.owned[owner], m)
}

// released records that owner fully released m.
func (tr *Tracker) released(owner OwnerID, m MutexID) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.holders[m] == owner {
		delete(tr.holders, m)
	}
	list := tr.owned[owner]
	if i := slices.Index(list, m); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	if len(list) == 0 {
		delete(tr.owned, owner)
		return
	}
	tr.owned[owner] = list
}
