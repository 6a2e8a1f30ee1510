package lockdep

import (
	"fmt"
	"sync"
)

// Mutex is a recursive mutex keyed by OwnerID. Every 0→1 and 1→0 transition
// is reported to the tracker.
type Mutex struct {
	id   MutexID
	name string
	tr   *Tracker

	mu    sync.Mutex
	cond  *sync.Cond
	owner OwnerID
	depth int

	onAcquire func() error
	onRelease func() error
}

func newMutex(tr *Tracker, id MutexID, name string) *Mutex {
	m := &Mutex{id: id, name: name, tr: tr}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// ID returns the tracker identity of m.
func (m *Mutex) ID() MutexID { return m.id }

// Name returns the diagnostic name given at creation.
func (m *Mutex) Name() string { return m.name }

// SetHooks installs functions run after every lock level is taken and before
// every lock level is dropped. Call before the mutex is shared.
func (m *Mutex) SetHooks(onAcquire, onRelease func() error) {
	m.onAcquire = onAcquire
	m.onRelease = onRelease
}

// Lock acquires m for owner, blocking while another owner holds it.
func (m *Mutex) Lock(owner OwnerID) error {
	m.mu.Lock()
	for m.depth > 0 && m.owner != owner {
		m.cond.Wait()
	}
	m.owner = owner
	m.depth++
	first := m.depth == 1
	m.mu.Unlock()

	if first {
		m.tr.acquired(owner, m.id)
	}

	if m.onAcquire != nil {
		if err := m.onAcquire(); err != nil {
			m.drop(owner)
			return fmt.Errorf("lockdep: %s acquire hook: %w", m.name, err)
		}
	}
	return nil
}

// Unlock drops one lock level held by owner.
func (m *Mutex) Unlock(owner OwnerID) error {
	if m.Depth(owner) == 0 {
		return fmt.Errorf("%w: %s by %d", ErrNotOwner, m.name, owner)
	}
	var hookErr error
	if m.onRelease != nil {
		hookErr = m.onRelease()
	}
	m.drop(owner)
	if hookErr != nil {
		return fmt.Errorf("lockdep: %s release hook: %w", m.name, hookErr)
	}
	return nil
}

// drop releases one level without running hooks.
func (m *Mutex) drop(owner OwnerID) {
	m.mu.Lock()
	m.depth--
	last := m.depth == 0
	if last {
		m.owner = 0
	}
	m.mu.Unlock()

	if last {
		m.tr.released(owner, m.id)
		m.cond.Broadcast()
	}
}

// Depth returns how many levels owner holds, 0 when it does not hold m.
func (m *Mutex) Depth(owner OwnerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != owner {
		return 0
	}
	return m.depth
}

// Locked reports whether any owner holds m.
func (m *Mutex) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth > 0
}
