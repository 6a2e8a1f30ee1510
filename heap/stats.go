package heap

import (
	"github.com/joshuapare/cma/heap/alloc"
	"github.com/joshuapare/cma/heap/meta"
)

// Stats is a consistent snapshot of the heap counters.
type Stats struct {
	AllocationCount uint64 `json:"allocation_count"`
	FreeCount       uint64 `json:"free_count"`
	CurrentBytes    uint64 `json:"current_bytes"` // sum of alloc_size over live allocations
	PeakBytes       uint64 `json:"peak_bytes"`

	Pages         int     `json:"pages"`
	PagesCreated  int     `json:"pages_created"`
	PagesReleased int     `json:"pages_released"`
	BytesMapped   uintptr `json:"bytes_mapped"`
	Splits        int     `json:"splits"`
	Merges        int     `json:"merges"`
	Headers       int     `json:"headers"` // live metadata headers
	Chunks        int     `json:"metadata_chunks"`
	Cycles        int64   `json:"deadlock_cycles"` // waits refused by the lock tracker
}

// PageInfo describes one mapped page.
type PageInfo struct {
	Start      uintptr `json:"start"`
	Size       uintptr `json:"size"`
	Blocks     int     `json:"blocks"`
	FreeBlocks int     `json:"free_blocks"`
	FreeBytes  uintptr `json:"free_bytes"`
}

func (h *Heap) recordAlloc(size uintptr) {
	h.stats.AllocationCount++
	h.stats.CurrentBytes += uint64(size)
	h.stats.PeakBytes = max(h.stats.PeakBytes, h.stats.CurrentBytes)
}

func (h *Heap) recordFree(size uintptr) {
	h.stats.FreeCount++
	h.stats.CurrentBytes -= uint64(size)
}

func (h *Heap) recordResize(oldSize, newSize uintptr) {
	h.stats.CurrentBytes = h.stats.CurrentBytes - uint64(oldSize) + uint64(newSize)
	h.stats.PeakBytes = max(h.stats.PeakBytes, h.stats.CurrentBytes)
}

// Stats returns a snapshot taken under the allocator lock.
func (h *Heap) Stats() (Stats, error) {
	var s Stats
	err := h.do(nil, func() error {
		s = h.stats
		if h.core != nil {
			cs := h.core.Stats()
			s.Pages = h.core.PageCount()
			s.PagesCreated = cs.PagesCreated
			s.PagesReleased = cs.PagesReleased
			s.BytesMapped = cs.BytesMapped
			s.Splits = cs.Splits
			s.Merges = cs.Merges
			s.Headers = h.arena.Live()
			s.Chunks = h.arena.Chunks()
		}
		return nil
	})
	s.Cycles = h.tr.Cycles()
	return s, err
}

// PageCount returns the number of mapped pages, 0 in bypass mode.
func (h *Heap) PageCount() int {
	n := 0
	_ = h.do(nil, func() error {
		if h.core != nil {
			n = h.core.PageCount()
		}
		return nil
	})
	return n
}

// PageStats describes every mapped page in address order.
func (h *Heap) PageStats() ([]PageInfo, error) {
	var out []PageInfo
	err := h.do(nil, func() error {
		if h.core == nil {
			return nil
		}
		var werr error
		h.core.EachPage(func(p *alloc.Page) bool {
			info := PageInfo{Start: p.Start, Size: p.Size}
			werr = h.core.EachBlock(p, func(_ meta.ID, b *meta.Header) bool {
				info.Blocks++
				if b.Free {
					info.FreeBlocks++
					info.FreeBytes += b.Size
				}
				return true
			})
			out = append(out, info)
			return werr == nil
		})
		return werr
	})
	return out, err
}
