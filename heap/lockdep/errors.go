package lockdep

import "errors"

var (
	// ErrWouldDeadlock indicates the requested wait would close a wait-for cycle.
	ErrWouldDeadlock = errors.New("lockdep: acquisition would deadlock")

	// ErrNotOwner indicates an unlock by an owner that does not hold the mutex.
	ErrNotOwner = errors.New("lockdep: mutex not held by owner")

	// ErrUnknownMutex indicates a mutex ID the tracker has no record of.
	ErrUnknownMutex = errors.New("lockdep: unknown mutex")
)
