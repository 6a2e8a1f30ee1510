package alloc

import (
	"fmt"

	"github.com/joshuapare/cma/internal/format"
)

// Validate walks every page and block and checks the structural invariants:
// address order, containment, contiguity, link symmetry, alignment and that
// no two free blocks are adjacent. Returns the first violation found.
func (c *Core) Validate() error {
	var (
		prevEnd  uintptr
		prevPage PageID
		blocks   int
		mapped   uintptr
	)
	for pid := c.head; pid != 0; pid = c.pages[pid-1].Next {
		p := c.pages[pid-1]
		if p.Prev != prevPage {
			return fmt.Errorf("alloc: page %d prev link %d, want %d", pid, p.Prev, prevPage)
		}
		if p.Start < prevEnd {
			return fmt.Errorf("alloc: page %d at %#x overlaps previous page ending %#x", pid, p.Start, prevEnd)
		}
		if p.Size%c.pageSize != 0 {
			return fmt.Errorf("alloc: page %d size %d not a multiple of %d", pid, p.Size, c.pageSize)
		}

		var (
			cursor   = p.Start
			prevID   = p.Blocks
			prevFree bool
			first    = true
			sum      uintptr
		)
		for id := p.Blocks; id != 0; {
			h, err := c.Block(id)
			if err != nil {
				return err
			}
			switch {
			case h.Page != uint32(pid):
				return fmt.Errorf("alloc: block %d claims page %d, lives in %d", id, h.Page, pid)
			case h.Addr != cursor:
				return fmt.Errorf("alloc: block %d at %#x, expected %#x", id, h.Addr, cursor)
			case h.Addr%format.Alignment != 0 || h.Size%format.Alignment != 0:
				return fmt.Errorf("alloc: block %d at %#x size %d is misaligned", id, h.Addr, h.Size)
			case h.Size == 0 || h.End() > p.End():
				return fmt.Errorf("alloc: block %d [%#x,%#x) escapes page [%#x,%#x)", id, h.Addr, h.End(), p.Start, p.End())
			case !first && h.Prev != prevID:
				return fmt.Errorf("alloc: block %d prev link %d, want %d", id, h.Prev, prevID)
			case first && h.Prev != 0:
				return fmt.Errorf("alloc: first block %d has prev link %d", id, h.Prev)
			case h.Free && prevFree:
				return fmt.Errorf("alloc: adjacent free blocks %d and %d were not coalesced", prevID, id)
			}
			cursor = h.End()
			sum += h.Size
			prevFree = h.Free
			prevID = id
			first = false
			blocks++
			id = h.Next
		}
		if sum != p.Size {
			return fmt.Errorf("alloc: page %d blocks cover %d of %d bytes", pid, sum, p.Size)
		}

		mapped += p.Size
		prevEnd = p.End()
		prevPage = pid
	}
	if prevPage != c.tail {
		return fmt.Errorf("alloc: page list tail %d, walked to %d", c.tail, prevPage)
	}
	if blocks != c.arena.Live() {
		return fmt.Errorf("alloc: %d blocks linked, %d headers live", blocks, c.arena.Live())
	}
	if mapped != c.stats.BytesMapped {
		return fmt.Errorf("alloc: %d bytes in pages, stats say %d", mapped, c.stats.BytesMapped)
	}
	return nil
}
