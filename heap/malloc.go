package heap

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/cma/heap/lockdep"
	"github.com/joshuapare/cma/internal/buf"
	"github.com/joshuapare/cma/internal/format"
)

const ptrSize = unsafe.Sizeof(uintptr(0))

// checkLimit rejects requests whose aligned size, or alignment when larger,
// exceeds the configured limit.
func (h *Heap) checkLimit(size, align uintptr) error {
	limit := h.limit.Load()
	if limit == 0 {
		return nil
	}
	eff := format.Align16(size)
	if eff < size {
		eff = ^uintptr(0)
	}
	if max(eff, align) > limit {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrNoMemory, size, limit)
	}
	return nil
}

func (h *Heap) malloc(t *Thread, op string, size, align uintptr, zero bool) (uintptr, error) {
	if size == 0 {
		return 0, fmt.Errorf("%w: zero-size %s", ErrInvalidArgument, op)
	}
	if err := h.checkLimit(size, align); err != nil {
		h.logOp(op, 0, size, err)
		return 0, err
	}

	var p uintptr
	err := h.do(t, func() error {
		ptr, usable, err := h.be.alloc(size, align, zero)
		if err != nil {
			return err
		}
		p = ptr
		h.recordAlloc(usable)
		return nil
	})
	h.logOp(op, p, size, err)
	return p, err
}

func (h *Heap) calloc(t *Thread, count, size uintptr) (uintptr, error) {
	if count == 0 || size == 0 {
		return 0, fmt.Errorf("%w: zero-size calloc", ErrInvalidArgument)
	}
	n, ok := buf.MulOverflowSafe(count, size)
	if !ok {
		return 0, fmt.Errorf("%w: calloc %d x %d overflows", ErrInvalidArgument, count, size)
	}
	return h.malloc(t, "calloc", n, 0, true)
}

func (h *Heap) alignedAlloc(t *Thread, align, size uintptr) (uintptr, error) {
	if !format.IsPowerOfTwo(align) || align < ptrSize {
		return 0, fmt.Errorf("%w: alignment %d", ErrInvalidArgument, align)
	}
	return h.malloc(t, "aligned_alloc", size, align, false)
}

// realloc follows C: a zero pointer allocates, a zero size frees.
func (h *Heap) realloc(t *Thread, p, size uintptr) (resized, error) {
	if p == 0 {
		np, err := h.malloc(t, "realloc", size, 0, false)
		return resized{ptr: np, moved: true}, err
	}
	if size == 0 {
		_, err := h.free(t, p)
		return resized{}, err
	}
	if err := h.checkLimit(size, 0); err != nil {
		h.logOp("realloc", p, size, err)
		return resized{}, err
	}

	var r resized
	err := h.do(t, func() error {
		var err error
		r, err = h.be.realloc(p, size)
		if err != nil {
			return err
		}
		if r.moved {
			h.recordAlloc(r.newSize)
			h.recordFree(r.oldSize)
		} else {
			h.recordResize(r.oldSize, r.newSize)
		}
		h.unregister(r.mutexes)
		return nil
	})
	h.logOp("realloc", r.ptr, size, err)
	return r, err
}

// free releases p. A zero pointer is a no-op.
func (h *Heap) free(t *Thread, p uintptr) (uintptr, error) {
	if p == 0 {
		return 0, nil
	}
	var size uintptr
	err := h.do(t, func() error {
		fr, err := h.be.free(p)
		if fr.size > 0 {
			size = fr.size
			h.recordFree(fr.size)
		}
		h.unregister(fr.mutexes)
		return err
	})
	h.logOp("free", p, size, err)
	return size, err
}

func (h *Heap) allocSize(t *Thread, p uintptr) uintptr {
	var n uintptr
	_ = h.do(t, func() error {
		n, _ = h.be.usable(p)
		return nil
	})
	return n
}

func (h *Heap) bytes(t *Thread, p uintptr) ([]byte, error) {
	var b []byte
	err := h.do(t, func() error {
		var ok bool
		if b, ok = h.be.bytes(p); !ok {
			return fmt.Errorf("%w: %#x", ErrInvalidPointer, p)
		}
		return nil
	})
	return b, err
}

func (h *Heap) unregister(ids []lockdep.MutexID) {
	for _, id := range ids {
		h.tr.Unregister(id)
	}
}

// logOp is best effort and runs outside the lock.
func (h *Heap) logOp(op string, p, size uintptr, err error) {
	if !h.logAlloc {
		return
	}
	if err != nil {
		h.logs().Debug("cma "+op, "ptr", fmt.Sprintf("%#x", p), "size", size, "err", err)
		return
	}
	h.logs().Debug("cma "+op, "ptr", fmt.Sprintf("%#x", p), "size", size)
}

// Malloc returns a pointer to size bytes aligned to 16.
func (h *Heap) Malloc(size uintptr) (uintptr, error) {
	return h.malloc(nil, "malloc", size, 0, false)
}

// Calloc returns a pointer to count*size zeroed bytes.
func (h *Heap) Calloc(count, size uintptr) (uintptr, error) {
	return h.calloc(nil, count, size)
}

// Realloc resizes p, moving it when it cannot grow in place. The contents
// up to the smaller size are kept. On failure p is untouched.
func (h *Heap) Realloc(p, size uintptr) (uintptr, error) {
	r, err := h.realloc(nil, p, size)
	return r.ptr, err
}

// Free releases p.
func (h *Heap) Free(p uintptr) error {
	_, err := h.free(nil, p)
	return err
}

// AlignedAlloc returns size bytes whose address is a multiple of align.
// align must be a power of two no smaller than a pointer.
func (h *Heap) AlignedAlloc(align, size uintptr) (uintptr, error) {
	return h.alignedAlloc(nil, align, size)
}

// AllocSize returns the usable size of p, 0 when p is not a live allocation.
func (h *Heap) AllocSize(p uintptr) uintptr {
	return h.allocSize(nil, p)
}

// Bytes returns the usable bytes of p. The slice is valid until p is freed
// or the heap closed.
func (h *Heap) Bytes(p uintptr) ([]byte, error) {
	return h.bytes(nil, p)
}
