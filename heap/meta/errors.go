package meta

import "errors"

var (
	// ErrBadID indicates a header ID outside the carved range.
	ErrBadID = errors.New("meta: header id out of range")

	// ErrNoMemory indicates the OS refused to map a new chunk.
	ErrNoMemory = errors.New("meta: cannot map metadata chunk")

	// ErrNotWritable indicates a mutation was attempted while protected
	// metadata was not entered.
	ErrNotWritable = errors.New("meta: metadata is write-protected")

	// ErrUnbalanced indicates Leave was called more times than Enter.
	ErrUnbalanced = errors.New("meta: unbalanced leave")
)
