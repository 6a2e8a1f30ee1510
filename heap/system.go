package heap

import (
	"fmt"
	"math"
	"unsafe"

	"modernc.org/memory"

	"github.com/joshuapare/cma/heap/lockdep"
	"github.com/joshuapare/cma/internal/format"
)

// system is the bypass backend. It forwards to a modernc.org/memory
// allocator, over-allocating for alignments the allocator does not provide.
type system struct {
	mem  memory.Allocator
	live map[uintptr]*sysBlock
}

type sysBlock struct {
	raw   uintptr // pointer returned by the allocator
	mutex uint32
}

func newSystem() *system {
	return &system{live: make(map[uintptr]*sysBlock)}
}

func (s *system) alloc(size, align uintptr, zero bool) (uintptr, uintptr, error) {
	align = max(align, format.Alignment)
	extra := uintptr(0)
	if align > format.Alignment {
		extra = align
	}
	if size > math.MaxInt-extra {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrNoMemory, size)
	}

	var raw uintptr
	var err error
	if zero {
		raw, err = s.mem.UintptrCalloc(int(size + extra))
	} else {
		raw, err = s.mem.UintptrMalloc(int(size + extra))
	}
	if err != nil || raw == 0 {
		return 0, 0, fmt.Errorf("%w: system allocator: %v", ErrNoMemory, err)
	}
	ptr := format.AlignUp(raw, align)
	s.live[ptr] = &sysBlock{raw: raw}
	return ptr, s.usableOf(ptr, raw), nil
}

func (s *system) usableOf(ptr, raw uintptr) uintptr {
	return uintptr(memory.UintptrUsableSize(raw)) - (ptr - raw)
}

func (s *system) free(ptr uintptr) (freed, error) {
	b, ok := s.live[ptr]
	if !ok {
		return freed{}, fmt.Errorf("%w: %#x", ErrInvalidPointer, ptr)
	}
	out := freed{size: s.usableOf(ptr, b.raw)}
	if b.mutex != 0 {
		out.mutexes = []lockdep.MutexID{lockdep.MutexID(b.mutex)}
	}
	delete(s.live, ptr)
	if err := s.mem.UintptrFree(b.raw); err != nil {
		return out, fmt.Errorf("%w: system free: %w", ErrInvalidState, err)
	}
	return out, nil
}

func (s *system) realloc(ptr, size uintptr) (resized, error) {
	b, ok := s.live[ptr]
	if !ok {
		return resized{}, fmt.Errorf("%w: %#x", ErrInvalidPointer, ptr)
	}
	out := resized{oldSize: s.usableOf(ptr, b.raw)}
	if size <= out.oldSize {
		out.ptr, out.newSize = ptr, out.oldSize
		return out, nil
	}

	np, usable, err := s.alloc(size, 0, false)
	if err != nil {
		return resized{}, err
	}
	keep := min(out.oldSize, size)
	copy(view(np, keep), view(ptr, keep))
	fr, err := s.free(ptr)
	if err != nil {
		return resized{}, err
	}
	out.ptr, out.newSize, out.moved, out.mutexes = np, usable, true, fr.mutexes
	return out, nil
}

func (s *system) usable(ptr uintptr) (uintptr, bool) {
	b, ok := s.live[ptr]
	if !ok {
		return 0, false
	}
	return s.usableOf(ptr, b.raw), true
}

func (s *system) bytes(ptr uintptr) ([]byte, bool) {
	n, ok := s.usable(ptr)
	if !ok {
		return nil, false
	}
	return view(ptr, n), true
}

func (s *system) mutexSlot(ptr uintptr, page bool) (*uint32, error) {
	if page {
		return nil, fmt.Errorf("%w: system allocator has no pages", ErrInvalidState)
	}
	b, ok := s.live[ptr]
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidPointer, ptr)
	}
	return &b.mutex, nil
}

func (s *system) close() error {
	clear(s.live)
	return s.mem.Close()
}

// view returns n bytes at ptr. ptr is memory owned by the allocator, not Go.
func view(ptr, n uintptr) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}
