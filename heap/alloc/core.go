package alloc

import (
	"fmt"
	"math"
	"slices"

	"github.com/joshuapare/cma/heap/meta"
	"github.com/joshuapare/cma/internal/format"
	"github.com/joshuapare/cma/internal/osmem"
)

// Options configures a Core.
type Options struct {
	// PageSize is the page granularity. Zero means format.DefaultPageSize.
	// It must be a power of two.
	PageSize uintptr

	// Retain is how many empty pages FreePageIfEmpty keeps mapped.
	Retain int

	// Map and Unmap override the OS primitives (tests inject failures here).
	Map   func(size int) ([]byte, error)
	Unmap func(mem []byte) error
}

// Stats holds internal core counters.
type Stats struct {
	PagesCreated  int     // Number of CreatePage() calls that mapped memory
	PagesReleased int     // Pages returned to the OS
	BytesMapped   uintptr // Bytes currently mapped for pages
	Splits        int     // Blocks carved by SplitBlock
	Merges        int     // Neighbours absorbed by MergeBlock/ExtendBlock
}

// Core is the free-list allocator over OS pages.
type Core struct {
	arena *meta.Arena

	pages     []*Page // slot = PageID-1, nil when released
	freeSlots []PageID
	head      PageID
	tail      PageID
	byAddr    []PageID // live pages sorted by Start for O(log P) lookup

	pageSize uintptr
	retain   int
	stats    Stats

	mapFn   func(int) ([]byte, error)
	unmapFn func([]byte) error
}

// New creates an empty core storing headers in arena.
func New(arena *meta.Arena, opts Options) (*Core, error) {
	ps := opts.PageSize
	if ps == 0 {
		ps = format.DefaultPageSize
	}
	if !format.IsPowerOfTwo(ps) || ps < format.MinBlockSize {
		return nil, fmt.Errorf("alloc: page size %d is not a power of two >= %d", ps, format.MinBlockSize)
	}
	c := &Core{
		arena:    arena,
		pageSize: ps,
		retain:   max(opts.Retain, 0),
		mapFn:    opts.Map,
		unmapFn:  opts.Unmap,
	}
	if c.mapFn == nil {
		c.mapFn = osmem.Map
	}
	if c.unmapFn == nil {
		c.unmapFn = osmem.Unmap
	}
	return c, nil
}

// PageSize returns the page granularity.
func (c *Core) PageSize() uintptr { return c.pageSize }

// Stats returns a copy of the core counters.
func (c *Core) Stats() Stats { return c.stats }

// PageCount returns the number of live pages.
func (c *Core) PageCount() int { return len(c.byAddr) }

// Block returns the header for id after checking its magic.
func (c *Core) Block(id meta.ID) (*meta.Header, error) {
	h, err := c.arena.Get(id)
	if err != nil {
		return nil, &CorruptionError{Kind: CorruptBadLink, Detail: err.Error()}
	}
	switch h.Magic {
	case format.MagicAllocated:
		if h.Free {
			return nil, &CorruptionError{Kind: CorruptBadMagic, Addr: h.Addr, Detail: "allocated magic on a free block"}
		}
	case format.MagicFree:
		if !h.Free {
			return nil, &CorruptionError{Kind: CorruptBadMagic, Addr: h.Addr, Detail: "free magic on an allocated block"}
		}
	default:
		return nil, &CorruptionError{Kind: CorruptBadMagic, Addr: h.Addr, Detail: fmt.Sprintf("header %d magic %#x", id, h.Magic)}
	}
	return h, nil
}

// Page returns the live page record for id.
func (c *Core) Page(id PageID) (*Page, error) {
	if id == 0 || int(id) > len(c.pages) || c.pages[id-1] == nil {
		return nil, fmt.Errorf("%w: %d", ErrBadPage, id)
	}
	return c.pages[id-1], nil
}

// CreatePage maps a page of at least minSize bytes, rounded up to the page
// granularity, installs one free block spanning it and links it into the
// page list.
func (c *Core) CreatePage(minSize uintptr) (PageID, error) {
	size := format.AlignUp(max(minSize, 1), c.pageSize)
	if size < minSize || size > math.MaxInt {
		return 0, fmt.Errorf("%w: page for %d bytes", ErrNoMemory, minSize)
	}

	mem, err := c.mapFn(int(size))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoMemory, err)
	}

	bid, h, err := c.arena.Allocate()
	if err != nil {
		_ = c.unmapFn(mem)
		return 0, fmt.Errorf("%w: %w", ErrNoMemory, err)
	}

	pid := c.newSlot()
	start := osmem.Addr(mem)
	*h = meta.Header{
		Magic:   format.MagicFree,
		Free:    true,
		Size:    size,
		Addr:    start,
		Payload: start,
		Page:    uint32(pid),
	}
	p := &Page{
		ID:       pid,
		Start:    start,
		Size:     size,
		Mem:      mem,
		Blocks:   bid,
		FromHeap: osmem.HeapBacked,
	}
	c.pages[pid-1] = p
	c.link(p)

	c.stats.PagesCreated++
	c.stats.BytesMapped += size
	return pid, nil
}

func (c *Core) newSlot() PageID {
	if n := len(c.freeSlots); n > 0 {
		id := c.freeSlots[n-1]
		c.freeSlots = c.freeSlots[:n-1]
		return id
	}
	c.pages = append(c.pages, nil)
	return PageID(len(c.pages))
}

// link inserts p into byAddr and the page list, keeping address order.
func (c *Core) link(p *Page) {
	i, _ := slices.BinarySearchFunc(c.byAddr, p.Start, func(id PageID, start uintptr) int {
		s := c.pages[id-1].Start
		switch {
		case s < start:
			return -1
		case s > start:
			return 1
		}
		return 0
	})
	c.byAddr = slices.Insert(c.byAddr, i, p.ID)

	if i > 0 {
		p.Prev = c.byAddr[i-1]
		c.pages[p.Prev-1].Next = p.ID
	} else {
		c.head = p.ID
	}
	if i+1 < len(c.byAddr) {
		p.Next = c.byAddr[i+1]
		c.pages[p.Next-1].Prev = p.ID
	} else {
		c.tail = p.ID
	}
}

func (c *Core) unlink(p *Page) {
	if i := slices.Index(c.byAddr, p.ID); i >= 0 {
		c.byAddr = slices.Delete(c.byAddr, i, i+1)
	}
	if p.Prev != 0 {
		c.pages[p.Prev-1].Next = p.Next
	} else {
		c.head = p.Next
	}
	if p.Next != 0 {
		c.pages[p.Next-1].Prev = p.Prev
	} else {
		c.tail = p.Prev
	}
	c.pages[p.ID-1] = nil
	c.freeSlots = append(c.freeSlots, p.ID)
}

// PageOf returns the page containing addr. O(log P) binary search.
func (c *Core) PageOf(addr uintptr) (*Page, bool) {
	lo, hi := 0, len(c.byAddr)
	for lo < hi {
		mid := (lo + hi) / 2
		if c.pages[c.byAddr[mid]-1].Start <= addr {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return nil, false
	}
	p := c.pages[c.byAddr[lo-1]-1]
	if !p.Contains(addr) {
		return nil, false
	}
	return p, true
}

// BlockAt returns the block of page p whose range contains addr.
func (c *Core) BlockAt(p *Page, addr uintptr) (meta.ID, *meta.Header, error) {
	for id := p.Blocks; id != 0; {
		h, err := c.Block(id)
		if err != nil {
			return 0, nil, err
		}
		if addr >= h.Addr && addr < h.End() {
			return id, h, nil
		}
		id = h.Next
	}
	return 0, nil, nil
}

// FindFreeBlock returns the first free block, in page and address order,
// whose size is at least size. Returns 0 when none fits; the caller then
// creates a page.
func (c *Core) FindFreeBlock(size uintptr) (meta.ID, error) {
	for pid := c.head; pid != 0; pid = c.pages[pid-1].Next {
		for id := c.pages[pid-1].Blocks; id != 0; {
			h, err := c.Block(id)
			if err != nil {
				return 0, err
			}
			if h.Free && h.Size >= size {
				return id, nil
			}
			id = h.Next
		}
	}
	return 0, nil
}

// FindAlignedBlock returns the first free block able to place size bytes so
// that the address lead bytes past the placement is a multiple of align.
// The returned padding is the prefix that must be split off first; it is
// either 0 or at least format.MinBlockSize.
func (c *Core) FindAlignedBlock(size, align, lead uintptr) (meta.ID, uintptr, error) {
	for pid := c.head; pid != 0; pid = c.pages[pid-1].Next {
		id, pad, err := c.findAlignedIn(c.pages[pid-1], size, align, lead)
		if err != nil || id != 0 {
			return id, pad, err
		}
	}
	return 0, 0, nil
}

// FindAlignedBlockIn is FindAlignedBlock restricted to one page.
func (c *Core) FindAlignedBlockIn(pid PageID, size, align, lead uintptr) (meta.ID, uintptr, error) {
	p, err := c.Page(pid)
	if err != nil {
		return 0, 0, err
	}
	return c.findAlignedIn(p, size, align, lead)
}

func (c *Core) findAlignedIn(p *Page, size, align, lead uintptr) (meta.ID, uintptr, error) {
	for id := p.Blocks; id != 0; {
		h, err := c.Block(id)
		if err != nil {
			return 0, 0, err
		}
		if h.Free {
			if pad, ok := alignedFit(h, size, align, lead); ok {
				return id, pad, nil
			}
		}
		id = h.Next
	}
	return 0, 0, nil
}

// alignedFit computes the prefix needed to align h.Addr+lead and reports
// whether size bytes still fit after it.
func alignedFit(h *meta.Header, size, align, lead uintptr) (uintptr, bool) {
	pad := format.Padding(h.Addr+lead, align)
	if pad > 0 && pad < format.MinBlockSize {
		// A prefix this small cannot be a block of its own.
		pad += format.AlignUp(format.MinBlockSize-pad, align)
	}
	return pad, h.Size >= pad && h.Size-pad >= size
}

// SplitBlock shrinks block id to size and turns the remainder into a new
// free block linked right after it. No split happens when the remainder is
// smaller than format.MinBlockSize; the whole block is kept instead.
// Returns the remainder's ID, or 0 when no split occurred.
func (c *Core) SplitBlock(id meta.ID, size uintptr) (meta.ID, error) {
	h, err := c.Block(id)
	if err != nil {
		return 0, err
	}
	if size > h.Size {
		return 0, fmt.Errorf("%w: split %d from %d", ErrBadSplit, size, h.Size)
	}
	rem := h.Size - size
	if rem < format.MinBlockSize {
		return 0, nil
	}

	nid, nh, err := c.arena.Allocate()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoMemory, err)
	}
	*nh = meta.Header{
		Magic:   format.MagicFree,
		Free:    true,
		Size:    rem,
		Addr:    h.Addr + size,
		Payload: h.Addr + size,
		Next:    h.Next,
		Prev:    id,
		Page:    h.Page,
	}
	if h.Next != 0 {
		next, err := c.Block(h.Next)
		if err != nil {
			return 0, err
		}
		next.Prev = nid
	}
	h.Next = nid
	h.Size = size
	c.stats.Splits++
	return nid, nil
}

// MergeBlock coalesces the free block id with its free address neighbours,
// retiring absorbed headers to the arena. Returns the surviving block.
func (c *Core) MergeBlock(id meta.ID) (meta.ID, error) {
	h, err := c.Block(id)
	if err != nil {
		return 0, err
	}
	if !h.Free {
		return 0, fmt.Errorf("%w: block at %#x", ErrNotFree, h.Addr)
	}

	if h.Next != 0 {
		next, err := c.Block(h.Next)
		if err != nil {
			return 0, err
		}
		if next.Free {
			if err := c.absorbNext(id, h); err != nil {
				return 0, err
			}
		}
	}

	if h.Prev != 0 {
		prevID := h.Prev
		prev, err := c.Block(prevID)
		if err != nil {
			return 0, err
		}
		if prev.Free {
			if err := c.absorbNext(prevID, prev); err != nil {
				return 0, err
			}
			id = prevID
		}
	}
	return id, nil
}

// absorbNext folds h's successor into h and retires the successor's header.
func (c *Core) absorbNext(id meta.ID, h *meta.Header) error {
	nextID := h.Next
	next, err := c.Block(nextID)
	if err != nil {
		return err
	}
	h.Size += next.Size
	h.Next = next.Next
	if next.Next != 0 {
		after, err := c.Block(next.Next)
		if err != nil {
			return err
		}
		after.Prev = id
	}
	c.stats.Merges++
	return c.arena.Release(nextID)
}

// ExtendBlock grows allocated block id in place to size by absorbing a free
// successor. Returns false, leaving the block untouched, when that cannot
// satisfy size.
func (c *Core) ExtendBlock(id meta.ID, size uintptr) (bool, error) {
	h, err := c.Block(id)
	if err != nil {
		return false, err
	}
	if h.Size >= size {
		return true, nil
	}
	if h.Next == 0 {
		return false, nil
	}
	next, err := c.Block(h.Next)
	if err != nil {
		return false, err
	}
	if !next.Free || h.Size+next.Size < size {
		return false, nil
	}
	if err := c.absorbNext(id, h); err != nil {
		return false, err
	}
	if _, err := c.SplitBlock(id, size); err != nil {
		return false, err
	}
	return true, nil
}

// ShrinkBlock trims allocated block id to size, returning the tail to the
// free list and coalescing it with a free successor.
func (c *Core) ShrinkBlock(id meta.ID, size uintptr) error {
	tail, err := c.SplitBlock(id, size)
	if err != nil || tail == 0 {
		return err
	}
	_, err = c.MergeBlock(tail)
	return err
}

// MarkAllocated flips a free block to allocated.
func MarkAllocated(h *meta.Header) {
	h.Magic = format.MagicAllocated
	h.Free = false
}

// MarkFree flips an allocated block to free and clears its placement.
func MarkFree(h *meta.Header) {
	h.Magic = format.MagicFree
	h.Free = true
	h.Payload = h.Addr
	h.Base = 0
	h.UserSize = 0
	h.Mutex = 0
}

// FreePageIfEmpty unmaps page pid when its only block is free and spans the
// whole page, unless that would leave fewer than Retain pages mapped.
// Returns a copy of the released record and true when the page was released.
func (c *Core) FreePageIfEmpty(pid PageID) (Page, bool, error) {
	p, err := c.Page(pid)
	if err != nil {
		return Page{}, false, err
	}
	h, err := c.Block(p.Blocks)
	if err != nil {
		return Page{}, false, err
	}
	if !h.Free || h.Next != 0 || h.Size != p.Size {
		return Page{}, false, nil
	}
	if len(c.byAddr) <= c.retain {
		return Page{}, false, nil
	}

	if err := c.unmapFn(p.Mem); err != nil {
		return Page{}, false, fmt.Errorf("alloc: release page %#x: %w", p.Start, err)
	}
	if err := c.arena.Release(p.Blocks); err != nil {
		return Page{}, false, err
	}
	released := *p
	released.Mem = nil
	c.unlink(p)

	c.stats.PagesReleased++
	c.stats.BytesMapped -= p.Size
	return released, true, nil
}

// Bytes returns n bytes of page memory starting at addr.
func (c *Core) Bytes(p *Page, addr, n uintptr) []byte {
	off := addr - p.Start
	return p.Mem[off : off+n : off+n]
}

// EachPage calls fn for every live page in address order until fn returns false.
func (c *Core) EachPage(fn func(*Page) bool) {
	for pid := c.head; pid != 0; pid = c.pages[pid-1].Next {
		if !fn(c.pages[pid-1]) {
			return
		}
	}
}

// EachBlock calls fn for every block of p in address order until fn returns false.
func (c *Core) EachBlock(p *Page, fn func(meta.ID, *meta.Header) bool) error {
	for id := p.Blocks; id != 0; {
		h, err := c.Block(id)
		if err != nil {
			return err
		}
		if !fn(id, h) {
			return nil
		}
		id = h.Next
	}
	return nil
}

// Close unmaps every page. Headers are left to the arena's own Close.
func (c *Core) Close() error {
	var firstErr error
	for _, p := range c.pages {
		if p == nil {
			continue
		}
		if err := c.unmapFn(p.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.pages = nil
	c.freeSlots = nil
	c.byAddr = nil
	c.head, c.tail = 0, 0
	c.stats.BytesMapped = 0
	return firstErr
}
