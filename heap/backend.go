package heap

import "github.com/joshuapare/cma/heap/lockdep"

// backend is the allocation strategy behind a Heap. Every method runs with
// the allocator lock held.
type backend interface {
	// alloc returns a pointer to size usable bytes aligned to align (0 or
	// format.Alignment for the default) and the block's alloc_size.
	alloc(size, align uintptr, zero bool) (ptr, usable uintptr, err error)

	free(ptr uintptr) (freed, error)

	// realloc resizes ptr to size bytes, in place when possible.
	realloc(ptr, size uintptr) (resized, error)

	usable(ptr uintptr) (uintptr, bool)
	bytes(ptr uintptr) ([]byte, bool)

	// mutexSlot returns the handle slot of the fine-grained mutex for the
	// block (or its page) holding ptr.
	mutexSlot(ptr uintptr, page bool) (*uint32, error)

	close() error
}

// freed describes a released block.
type freed struct {
	size    uintptr
	mutexes []lockdep.MutexID // fine-grained mutexes that died with it
}

// resized describes a realloc outcome.
type resized struct {
	ptr              uintptr
	oldSize, newSize uintptr
	moved            bool
	mutexes          []lockdep.MutexID
}
