package meta

import "unsafe"

// ID addresses one header stride in the arena. Zero is the nil link.
type ID uint32

// Header describes one block. It lives in OS-mapped memory, so it must not
// contain Go pointers.
type Header struct {
	Magic uint32 // format.MagicAllocated, format.MagicFree, or 0 when retired
	Free  bool

	Size    uintptr // usable block size, a multiple of format.Alignment
	Addr    uintptr // first byte of the block inside its page
	Payload uintptr // first byte handed to the caller

	// Debug-only placement.
	Base     uintptr // start of the guarded region
	UserSize uintptr // size requested by the caller

	Next, Prev ID     // address-ordered neighbours within the page
	Page       uint32 // owning page handle
	Mutex      uint32 // fine-grained mutex handle, 0 when none
}

// End returns the first address past the block.
func (h *Header) End() uintptr { return h.Addr + h.Size }

// stride is the header footprint inside a chunk.
var stride = int((unsafe.Sizeof(Header{}) + 15) &^ 15)

// Stride returns the number of bytes each header occupies in a chunk.
func Stride() int { return stride }
