package alloc

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMemory indicates the OS or the metadata arena could not supply memory.
	ErrNoMemory = errors.New("alloc: out of memory")

	// ErrNotFree indicates a merge was requested on an allocated block.
	ErrNotFree = errors.New("alloc: expected free block")

	// ErrBadSplit indicates a split larger than the block being split.
	ErrBadSplit = errors.New("alloc: split exceeds block size")

	// ErrBadPage indicates an unknown or released page handle.
	ErrBadPage = errors.New("alloc: bad page reference")
)

// CorruptionKind classifies a detected heap corruption.
type CorruptionKind int

const (
	// CorruptBadMagic: a header magic or free flag is not a valid state.
	CorruptBadMagic CorruptionKind = iota + 1
	// CorruptBadLink: a list link points outside the metadata arena.
	CorruptBadLink
	// CorruptGuard: a red zone byte was overwritten.
	CorruptGuard
	// CorruptDoubleFree: a pointer into an already free block was released.
	CorruptDoubleFree
)

func (k CorruptionKind) String() string {
	switch k {
	case CorruptBadMagic:
		return "bad magic"
	case CorruptBadLink:
		return "bad link"
	case CorruptGuard:
		return "guard mismatch"
	case CorruptDoubleFree:
		return "double free"
	default:
		return "unknown"
	}
}

// CorruptionError reports heap corruption. It is never recoverable.
type CorruptionError struct {
	Kind   CorruptionKind
	Addr   uintptr
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("alloc: heap corruption (%s) at %#x: %s", e.Kind, e.Addr, e.Detail)
}
