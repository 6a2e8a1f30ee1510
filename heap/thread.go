package heap

import (
	"fmt"

	"github.com/joshuapare/cma/heap/leak"
	"github.com/joshuapare/cma/heap/lockdep"
)

// Thread is the per-worker context of a heap: a lock owner identity, a leak
// tracker and the last error code. Use one Thread per goroutine.
type Thread struct {
	h     *Heap
	owner *lockdep.Owner
	leaks *leak.Tracker
	errno Code
}

// NewThread creates a worker context bound to h.
func (h *Heap) NewThread() *Thread {
	return &Thread{
		h:     h,
		owner: h.tr.NewOwner(),
		leaks: leak.New(h.cfg.LeakRecordLimit),
	}
}

// Heap returns the heap t allocates from.
func (t *Thread) Heap() *Heap { return t.h }

// Owner returns t's lock owner identity.
func (t *Thread) Owner() *lockdep.Owner { return t.owner }

// LastError returns the code set by the most recent call.
func (t *Thread) LastError() Code { return t.errno }

// SetLastError overrides the last error code.
func (t *Thread) SetLastError(c Code) { t.errno = c }

func (t *Thread) result(err error) error {
	t.errno = CodeOf(err)
	return err
}

// Malloc allocates through t, recording the result while leak detection is on.
func (t *Thread) Malloc(size uintptr) (uintptr, error) {
	p, err := t.h.malloc(t, "malloc", size, 0, false)
	if err == nil {
		t.leaks.Record(p, size)
	}
	return p, t.result(err)
}

// Calloc is Malloc for count*size zeroed bytes.
func (t *Thread) Calloc(count, size uintptr) (uintptr, error) {
	p, err := t.h.calloc(t, count, size)
	if err == nil {
		t.leaks.Record(p, count*size)
	}
	return p, t.result(err)
}

// AlignedAlloc is Malloc with the address a multiple of align.
func (t *Thread) AlignedAlloc(align, size uintptr) (uintptr, error) {
	p, err := t.h.alignedAlloc(t, align, size)
	if err == nil {
		t.leaks.Record(p, size)
	}
	return p, t.result(err)
}

// Realloc resizes p. See Heap.Realloc.
func (t *Thread) Realloc(p, size uintptr) (uintptr, error) {
	r, err := t.h.realloc(t, p, size)
	if err != nil {
		return 0, t.result(err)
	}
	switch {
	case p == 0:
		t.leaks.Record(r.ptr, size)
	case size == 0:
		t.leaks.Forget(p)
	case r.moved:
		if t.leaks.Forget(p) {
			t.leaks.Record(r.ptr, size)
		}
	default:
		t.leaks.Resize(p, size)
	}
	return r.ptr, t.result(nil)
}

// Free releases p and drops its leak record.
func (t *Thread) Free(p uintptr) error {
	_, err := t.h.free(t, p)
	if err == nil && p != 0 {
		t.leaks.Forget(p)
	}
	return t.result(err)
}

// AllocSize returns the usable size of p, 0 when p is not live.
func (t *Thread) AllocSize(p uintptr) uintptr {
	return t.h.allocSize(t, p)
}

// Bytes returns the usable bytes of p.
func (t *Thread) Bytes(p uintptr) ([]byte, error) {
	b, err := t.h.bytes(t, p)
	return b, t.result(err)
}

// EnableLeakDetection starts recording t's allocations.
func (t *Thread) EnableLeakDetection() { t.leaks.Enable() }

// DisableLeakDetection stops recording and drops every record.
func (t *Thread) DisableLeakDetection() { t.leaks.Disable() }

// ClearLeaks drops every record and any latched tracker error.
func (t *Thread) ClearLeaks() { t.leaks.Clear() }

// LeakDetectionActive reports whether allocations are being recorded.
func (t *Thread) LeakDetectionActive() bool { return t.leaks.Active() }

// LeakError returns the tracker's latched bookkeeping error.
func (t *Thread) LeakError() error { return t.leaks.Err() }

// OutstandingAllocations returns the number of tracked live allocations.
func (t *Thread) OutstandingAllocations() int { return t.leaks.Outstanding() }

// OutstandingBytes returns the requested bytes of tracked live allocations.
func (t *Thread) OutstandingBytes() uintptr { return t.leaks.OutstandingBytes() }

// LeakReport snapshots the tracked live allocations.
func (t *Thread) LeakReport() leak.Report { return t.leaks.Report() }

// Lock takes m through the deadlock-avoidance protocol: if waiting would
// close a cycle, t releases everything it holds, backs off and retries.
func (t *Thread) Lock(m *lockdep.Mutex) error {
	if err := t.owner.Lock(m); err != nil {
		return t.result(fmt.Errorf("%w: %w", ErrInvalidState, err))
	}
	return nil
}

// Unlock drops one level of m.
func (t *Thread) Unlock(m *lockdep.Mutex) error {
	if err := t.owner.Unlock(m); err != nil {
		return t.result(fmt.Errorf("%w: %w", ErrInvalidState, err))
	}
	return nil
}

// LockAllocator holds the allocator lock until the guard is released. It
// takes part in deadlock avoidance with every mutex t holds.
func (t *Thread) LockAllocator() (*AllocatorGuard, error) {
	g, err := t.h.acquire(t)
	if err != nil {
		return nil, t.result(err)
	}
	return g, nil
}
