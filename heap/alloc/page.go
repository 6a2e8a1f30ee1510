package alloc

import "github.com/joshuapare/cma/heap/meta"

// PageID is a stable handle for a page record. Zero means none.
type PageID uint32

// Page is one OS-backed region subdivided into blocks.
type Page struct {
	ID    PageID
	Start uintptr
	Size  uintptr
	Mem   []byte // the mapping itself; Mem[0] is at Start

	Blocks     meta.ID // first block, lowest address
	Next, Prev PageID  // page list, address order

	FromHeap bool   // backing memory came from the Go heap rather than mmap
	Mutex    uint32 // fine-grained mutex handle, 0 when none
}

// End returns the first address past the page.
func (p *Page) End() uintptr { return p.Start + p.Size }

// Contains reports whether addr lies inside the page.
func (p *Page) Contains(addr uintptr) bool {
	return addr >= p.Start && addr < p.End()
}
