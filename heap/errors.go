package heap

import (
	"errors"

	"github.com/joshuapare/cma/heap/alloc"
)

// Code is the errno-style classification of a failed call.
type Code int

const (
	Success Code = iota
	NoMemory
	InvalidArgument
	InvalidState
	InvalidPointer
	OutOfRange
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case NoMemory:
		return "no memory"
	case InvalidArgument:
		return "invalid argument"
	case InvalidState:
		return "invalid state"
	case InvalidPointer:
		return "invalid pointer"
	case OutOfRange:
		return "out of range"
	default:
		return "unknown"
	}
}

var (
	// ErrNoMemory indicates the OS refused memory or the allocation limit
	// was exceeded.
	ErrNoMemory = errors.New("heap: out of memory")

	// ErrInvalidArgument indicates a zero, overflowing or misaligned request.
	ErrInvalidArgument = errors.New("heap: invalid argument")

	// ErrInvalidState indicates a lock failure or a closed or corrupted heap.
	ErrInvalidState = errors.New("heap: invalid state")

	// ErrInvalidPointer indicates a pointer this heap did not hand out.
	ErrInvalidPointer = errors.New("heap: invalid pointer")

	// ErrOutOfRange indicates an index or size outside an allocation.
	ErrOutOfRange = errors.New("heap: out of range")
)

// CorruptionError reports fatal heap corruption.
type CorruptionError = alloc.CorruptionError

// CorruptionKind classifies a CorruptionError.
type CorruptionKind = alloc.CorruptionKind

// Corruption kinds.
const (
	BadMagic   = alloc.CorruptBadMagic
	BadLink    = alloc.CorruptBadLink
	Guard      = alloc.CorruptGuard
	DoubleFree = alloc.CorruptDoubleFree
)

// CodeOf maps err to its Code. Nil maps to Success; corruption and
// unrecognised errors map to InvalidState.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrNoMemory):
		return NoMemory
	case errors.Is(err, ErrInvalidArgument):
		return InvalidArgument
	case errors.Is(err, ErrInvalidPointer):
		return InvalidPointer
	case errors.Is(err, ErrOutOfRange):
		return OutOfRange
	default:
		return InvalidState
	}
}

// Err returns the sentinel error for c, nil for Success.
func (c Code) Err() error {
	switch c {
	case Success:
		return nil
	case NoMemory:
		return ErrNoMemory
	case InvalidArgument:
		return ErrInvalidArgument
	case InvalidPointer:
		return ErrInvalidPointer
	case OutOfRange:
		return ErrOutOfRange
	default:
		return ErrInvalidState
	}
}
