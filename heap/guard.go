package heap

import (
	"fmt"

	"github.com/joshuapare/cma/heap/lockdep"
)

// AllocatorGuard holds the allocator lock. Release it exactly once.
//
// While a Thread holds a guard from LockAllocator it may keep calling its
// own allocation methods; the lock is recursive. A guard must not be shared
// between goroutines.
type AllocatorGuard struct {
	h      *Heap
	t      *Thread
	owner  lockdep.OwnerID
	locked bool // false when thread safety was off at acquisition
	done   bool
	errno  Code // thread errno at acquisition
}

// release drops the lock without touching errno.
func (g *AllocatorGuard) release() error {
	if g.done {
		return fmt.Errorf("%w: allocator guard released twice", ErrInvalidState)
	}
	g.done = true
	var err error
	if g.locked {
		err = g.h.mu.Unlock(g.owner)
	} else {
		err = g.h.leave()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return nil
}

// Release drops the allocator lock. On success the owning thread's last
// error is restored to its value at acquisition.
func (g *AllocatorGuard) Release() error {
	if err := g.release(); err != nil {
		if g.t != nil {
			g.t.errno = CodeOf(err)
		}
		return err
	}
	if g.t != nil {
		g.t.errno = g.errno
	}
	return nil
}

// Held reports whether the guard still holds the lock.
func (g *AllocatorGuard) Held() bool { return !g.done }
