package heap

import (
	"errors"
	"fmt"

	"github.com/joshuapare/cma/heap/alloc"
	"github.com/joshuapare/cma/heap/lockdep"
	"github.com/joshuapare/cma/heap/meta"
	"github.com/joshuapare/cma/heap/redzone"
	"github.com/joshuapare/cma/internal/buf"
	"github.com/joshuapare/cma/internal/format"
)

// freeList is the page/block backend.
type freeList struct {
	core  *alloc.Core
	arena *meta.Arena
	debug bool

	// live maps every handed-out payload pointer to its block.
	live map[uintptr]meta.ID

	// released remembers the most recently unmapped pages so a second free
	// of a pointer into one still reads as a double free.
	released [releasedPages]span
	nextRel  int
}

// releasedPages bounds the unmapped-page history.
const releasedPages = 16

type span struct{ start, end uintptr }

func newFreeList(core *alloc.Core, arena *meta.Arena, debug bool) *freeList {
	return &freeList{
		core:  core,
		arena: arena,
		debug: debug,
		live:  make(map[uintptr]meta.ID),
	}
}

// layout returns the instrumentation overhead and the payload offset.
func (f *freeList) layout() (overhead, lead uintptr) {
	if f.debug {
		return format.GuardOverhead, format.GuardSize
	}
	return 0, 0
}

// need returns the block size for a size byte request.
func (f *freeList) need(size uintptr) (uintptr, error) {
	overhead, _ := f.layout()
	if _, ok := buf.AddOverflowSafe(size, overhead+format.AlignmentMask); !ok {
		if f.debug {
			return 0, fmt.Errorf("%w: %d bytes plus guards overflows", ErrInvalidArgument, size)
		}
		return 0, fmt.Errorf("%w: %d bytes", ErrNoMemory, size)
	}
	return format.BlockSize(size, overhead), nil
}

func (f *freeList) alloc(size, align uintptr, zero bool) (uintptr, uintptr, error) {
	need, err := f.need(size)
	if err != nil {
		return 0, 0, err
	}
	_, lead := f.layout()

	var id meta.ID
	if align <= format.Alignment {
		id, err = f.firstFit(need)
	} else {
		id, err = f.alignedFit(need, align, lead)
	}
	if err != nil {
		return 0, 0, coreErr(err)
	}

	if _, err := f.core.SplitBlock(id, need); err != nil {
		return 0, 0, coreErr(err)
	}
	h, err := f.core.Block(id)
	if err != nil {
		return 0, 0, coreErr(err)
	}
	alloc.MarkAllocated(h)
	h.Payload = h.Addr + lead
	h.UserSize = size
	page, err := f.core.Page(alloc.PageID(h.Page))
	if err != nil {
		return 0, 0, coreErr(err)
	}
	if f.debug {
		h.Base = h.Addr
		redzone.Install(f.core.Bytes(page, h.Addr, h.Size), size)
	}
	if zero {
		clear(f.core.Bytes(page, h.Payload, f.usableOf(h)))
	}
	f.live[h.Payload] = id
	return h.Payload, f.usableOf(h), nil
}

// firstFit finds or creates a free block of at least need bytes.
func (f *freeList) firstFit(need uintptr) (meta.ID, error) {
	id, err := f.core.FindFreeBlock(need)
	if err != nil || id != 0 {
		return id, err
	}
	pid, err := f.core.CreatePage(need)
	if err != nil {
		return 0, coreErr(err)
	}
	p, err := f.core.Page(pid)
	if err != nil {
		return 0, coreErr(err)
	}
	return p.Blocks, nil
}

// alignedFit finds or creates a free block that can place need bytes with
// the payload on an align boundary, then splits off the padding prefix.
func (f *freeList) alignedFit(need, align, lead uintptr) (meta.ID, error) {
	id, pad, err := f.core.FindAlignedBlock(need, align, lead)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		// need + align + a minimum prefix always fits an aligned placement.
		size, ok := buf.AddOverflowSafe(need, align+format.MinBlockSize)
		if !ok {
			return 0, fmt.Errorf("%w: aligned page for %d bytes", ErrNoMemory, need)
		}
		pid, err := f.core.CreatePage(size)
		if err != nil {
			return 0, coreErr(err)
		}
		id, pad, err = f.core.FindAlignedBlockIn(pid, need, align, lead)
		if err != nil {
			return 0, err
		}
		if id == 0 {
			return 0, fmt.Errorf("%w: no aligned fit in fresh page", ErrInvalidState)
		}
	}
	if pad == 0 {
		return id, nil
	}
	tail, err := f.core.SplitBlock(id, pad)
	if err != nil {
		return 0, coreErr(err)
	}
	return tail, nil
}

func (f *freeList) usableOf(h *meta.Header) uintptr {
	if f.debug {
		return h.UserSize
	}
	return h.End() - h.Payload
}

// lookup returns the live block for ptr. Unknown pointers inside a free
// block are a double free.
func (f *freeList) lookup(ptr uintptr) (meta.ID, *meta.Header, error) {
	id, ok := f.live[ptr]
	if !ok {
		return 0, nil, f.classify(ptr)
	}
	h, err := f.core.Block(id)
	if err != nil {
		return 0, nil, err
	}
	if h.Free || h.Payload != ptr {
		return 0, nil, &CorruptionError{Kind: BadMagic, Addr: ptr, Detail: "live pointer maps to a free block"}
	}
	return id, h, nil
}

func (f *freeList) classify(ptr uintptr) error {
	p, ok := f.core.PageOf(ptr)
	if !ok {
		if f.wasReleased(ptr) {
			return &CorruptionError{Kind: DoubleFree, Addr: ptr, Detail: "pointer lies in an unmapped page"}
		}
		return fmt.Errorf("%w: %#x", ErrInvalidPointer, ptr)
	}
	_, h, err := f.core.BlockAt(p, ptr)
	if err != nil {
		return err
	}
	if h != nil && h.Free {
		return &CorruptionError{Kind: DoubleFree, Addr: ptr, Detail: "pointer lies in a free block"}
	}
	return fmt.Errorf("%w: %#x is not the start of an allocation", ErrInvalidPointer, ptr)
}

// verify checks the guard bytes of a debug block.
func (f *freeList) verify(h *meta.Header) ([]byte, error) {
	page, err := f.core.Page(alloc.PageID(h.Page))
	if err != nil {
		return nil, coreErr(err)
	}
	region := f.core.Bytes(page, h.Addr, h.Size)
	if v, ok := redzone.Verify(region, h.UserSize); !ok {
		return nil, &CorruptionError{Kind: Guard, Addr: h.Payload, Detail: v.String()}
	}
	return region, nil
}

func (f *freeList) free(ptr uintptr) (freed, error) {
	id, h, err := f.lookup(ptr)
	if err != nil {
		return freed{}, err
	}
	if f.debug {
		region, err := f.verify(h)
		if err != nil {
			return freed{}, err
		}
		redzone.Poison(region, h.UserSize)
	}

	out := freed{size: f.usableOf(h)}
	if h.Mutex != 0 {
		out.mutexes = append(out.mutexes, lockdep.MutexID(h.Mutex))
	}
	pid := alloc.PageID(h.Page)
	delete(f.live, ptr)
	alloc.MarkFree(h)

	if _, err := f.core.MergeBlock(id); err != nil {
		return out, coreErr(err)
	}
	page, ok, err := f.core.FreePageIfEmpty(pid)
	if err != nil {
		return out, coreErr(err)
	}
	if ok {
		f.released[f.nextRel] = span{page.Start, page.End()}
		f.nextRel = (f.nextRel + 1) % releasedPages
		if page.Mutex != 0 {
			out.mutexes = append(out.mutexes, lockdep.MutexID(page.Mutex))
		}
	}
	return out, nil
}

// wasReleased reports whether ptr falls in a recently unmapped page. Live
// pages are checked first, so a remapped range never reaches here.
func (f *freeList) wasReleased(ptr uintptr) bool {
	for _, r := range f.released {
		if ptr >= r.start && ptr < r.end {
			return true
		}
	}
	return false
}

func (f *freeList) realloc(ptr, size uintptr) (resized, error) {
	id, h, err := f.lookup(ptr)
	if err != nil {
		return resized{}, err
	}
	if f.debug {
		if _, err := f.verify(h); err != nil {
			return resized{}, err
		}
	}
	need, err := f.need(size)
	if err != nil {
		return resized{}, err
	}
	out := resized{ptr: ptr, oldSize: f.usableOf(h)}

	inPlace := need <= h.Size
	if inPlace {
		err = f.core.ShrinkBlock(id, need)
	} else {
		inPlace, err = f.core.ExtendBlock(id, need)
	}
	if err != nil {
		return resized{}, coreErr(err)
	}
	if inPlace {
		h.UserSize = size
		if f.debug {
			page, err := f.core.Page(alloc.PageID(h.Page))
			if err != nil {
				return resized{}, coreErr(err)
			}
			redzone.Install(f.core.Bytes(page, h.Addr, h.Size), size)
		}
		out.newSize = f.usableOf(h)
		return out, nil
	}

	// Everything alloc_size reported belongs to the caller.
	keep := min(out.oldSize, size)
	src, _ := f.bytes(ptr)
	np, usable, err := f.alloc(size, 0, false)
	if err != nil {
		return resized{}, err
	}
	dst, _ := f.bytes(np)
	copy(dst[:keep], src[:keep])

	fr, err := f.free(ptr)
	if err != nil {
		return resized{}, err
	}
	out.ptr = np
	out.newSize = usable
	out.moved = true
	out.mutexes = fr.mutexes
	return out, nil
}

func (f *freeList) usable(ptr uintptr) (uintptr, bool) {
	id, ok := f.live[ptr]
	if !ok {
		return 0, false
	}
	h, err := f.core.Block(id)
	if err != nil {
		return 0, false
	}
	return f.usableOf(h), true
}

func (f *freeList) bytes(ptr uintptr) ([]byte, bool) {
	id, ok := f.live[ptr]
	if !ok {
		return nil, false
	}
	h, err := f.core.Block(id)
	if err != nil {
		return nil, false
	}
	page, err := f.core.Page(alloc.PageID(h.Page))
	if err != nil {
		return nil, false
	}
	return f.core.Bytes(page, h.Payload, f.usableOf(h)), true
}

func (f *freeList) mutexSlot(ptr uintptr, page bool) (*uint32, error) {
	_, h, err := f.lookup(ptr)
	if err != nil {
		return nil, err
	}
	if !page {
		return &h.Mutex, nil
	}
	p, err := f.core.Page(alloc.PageID(h.Page))
	if err != nil {
		return nil, coreErr(err)
	}
	return &p.Mutex, nil
}

func (f *freeList) close() error {
	clear(f.live)
	f.released = [releasedPages]span{}
	err := f.core.Close()
	if aerr := f.arena.Close(); err == nil {
		err = aerr
	}
	return err
}

// coreErr folds lower-layer errors into the heap's sentinels. Corruption
// passes through unchanged.
func coreErr(err error) error {
	var ce *CorruptionError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce), CodeOf(err) != InvalidState, errors.Is(err, ErrInvalidState):
		return err
	case errors.Is(err, alloc.ErrNoMemory), errors.Is(err, meta.ErrNoMemory):
		return fmt.Errorf("%w: %w", ErrNoMemory, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
}
