package heap

import (
	"github.com/joshuapare/cma/heap/alloc"
	"github.com/joshuapare/cma/heap/meta"
)

// header returns the live block header behind p.
func (h *Heap) header(p uintptr) *meta.Header {
	f := h.be.(*freeList)
	hdr, err := f.arena.Get(f.live[p])
	if err != nil {
		panic(err)
	}
	return hdr
}

// blockRegion returns the whole block behind p, guards included.
func (h *Heap) blockRegion(p uintptr) []byte {
	hdr := h.header(p)
	page, err := h.core.Page(alloc.PageID(hdr.Page))
	if err != nil {
		panic(err)
	}
	return h.core.Bytes(page, hdr.Addr, hdr.Size)
}
