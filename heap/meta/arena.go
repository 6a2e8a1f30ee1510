package meta

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/cma/internal/osmem"
)

// Options configures an Arena.
type Options struct {
	// ChunkSize is the size of each OS mapping. Zero means one OS page.
	ChunkSize int

	// Protect enables PROT_NONE outside of Enter/Leave. Ignored on platforms
	// without mprotect.
	Protect bool

	// Map and Unmap override the OS primitives (tests inject failures here).
	Map   func(size int) ([]byte, error)
	Unmap func(mem []byte) error
}

// Arena hands out Header records from OS-mapped chunks.
type Arena struct {
	chunks    [][]byte
	chunkSize int
	perChunk  int

	carved  int // strides handed out at least once
	recycle ID  // head of the LIFO recycle list
	live    int

	depth     int
	protect   bool
	protected bool

	mapFn   func(int) ([]byte, error)
	unmapFn func([]byte) error
}

// New creates an empty arena. No memory is mapped until the first Allocate.
func New(opts Options) *Arena {
	size := opts.ChunkSize
	if size <= 0 {
		size = osmem.PageSize()
	}
	if size < stride {
		size = stride
	}
	a := &Arena{
		chunkSize: size,
		perChunk:  size / stride,
		protect:   opts.Protect && osmem.CanProtect,
		mapFn:     opts.Map,
		unmapFn:   opts.Unmap,
	}
	if a.mapFn == nil {
		a.mapFn = osmem.Map
	}
	if a.unmapFn == nil {
		a.unmapFn = osmem.Unmap
	}
	return a
}

// Allocate returns a zeroed header and its ID.
//
// Order of preference:
//  1. Pop the recycle list
//  2. Carve the next unused stride of the current chunk
//  3. Map a new chunk and carve from it
func (a *Arena) Allocate() (ID, *Header, error) {
	if a.protect && a.depth == 0 {
		return 0, nil, ErrNotWritable
	}

	if a.recycle != 0 {
		id := a.recycle
		h := a.at(id)
		a.recycle = h.Next
		*h = Header{}
		a.live++
		return id, h, nil
	}

	if a.carved == len(a.chunks)*a.perChunk {
		mem, err := a.mapFn(a.chunkSize)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %w", ErrNoMemory, err)
		}
		a.chunks = append(a.chunks, mem)
	}

	a.carved++
	a.live++
	id := ID(a.carved)
	h := a.at(id)
	*h = Header{}
	return id, h, nil
}

// Release zeroes a header and pushes it on the recycle list. The memory is
// never returned to the OS before Close.
func (a *Arena) Release(id ID) error {
	h, err := a.Get(id)
	if err != nil {
		return err
	}
	if a.protect && a.depth == 0 {
		return ErrNotWritable
	}
	*h = Header{Next: a.recycle}
	a.recycle = id
	a.live--
	return nil
}

// Get returns the header for id after validating it against the carved range.
func (a *Arena) Get(id ID) (*Header, error) {
	if id == 0 || int(id) > a.carved {
		return nil, fmt.Errorf("%w: %d (carved %d)", ErrBadID, id, a.carved)
	}
	return a.at(id), nil
}

func (a *Arena) at(id ID) *Header {
	i := int(id - 1)
	chunk := a.chunks[i/a.perChunk]
	return (*Header)(unsafe.Pointer(&chunk[(i%a.perChunk)*stride]))
}

// Enter raises the access depth, making metadata writable on the first entry.
func (a *Arena) Enter() error {
	a.depth++
	if a.depth == 1 && a.protected {
		if err := a.setProtection(osmem.ProtReadWrite); err != nil {
			a.depth--
			return err
		}
		a.protected = false
	}
	return nil
}

// Leave lowers the access depth, protecting metadata again when it reaches zero.
func (a *Arena) Leave() error {
	if a.depth == 0 {
		return ErrUnbalanced
	}
	a.depth--
	if a.depth == 0 && a.protect && !a.protected && len(a.chunks) > 0 {
		if err := a.setProtection(osmem.ProtNone); err != nil {
			return err
		}
		a.protected = true
	}
	return nil
}

func (a *Arena) setProtection(p osmem.Prot) error {
	for _, c := range a.chunks {
		if err := osmem.Protect(c, p); err != nil {
			return err
		}
	}
	return nil
}

// Depth returns the current access depth.
func (a *Arena) Depth() int { return a.depth }

// Protected reports whether the chunks are currently PROT_NONE.
func (a *Arena) Protected() bool { return a.protected }

// Protecting reports whether write protection is active for this arena.
func (a *Arena) Protecting() bool { return a.protect }

// Live returns the number of headers currently handed out.
func (a *Arena) Live() int { return a.live }

// Chunks returns the number of mapped chunks.
func (a *Arena) Chunks() int { return len(a.chunks) }

// PerChunk returns the number of headers each chunk holds.
func (a *Arena) PerChunk() int { return a.perChunk }

// Close unmaps every chunk. The arena is empty and reusable afterwards.
func (a *Arena) Close() error {
	var firstErr error
	for _, c := range a.chunks {
		if a.protected {
			_ = osmem.Protect(c, osmem.ProtReadWrite)
		}
		if err := a.unmapFn(c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.chunks = nil
	a.carved = 0
	a.recycle = 0
	a.live = 0
	a.protected = false
	return firstErr
}
