package heap

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/joshuapare/cma/heap/alloc"
	"github.com/joshuapare/cma/heap/lockdep"
	"github.com/joshuapare/cma/heap/meta"
	"github.com/joshuapare/cma/internal/logger"
)

const (
	stateLive int32 = iota
	stateClosed
	stateCorrupt
)

// Heap is one allocator instance. All methods are safe for concurrent use
// while thread safety is enabled.
type Heap struct {
	cfg      Config
	log      *slog.Logger // nil follows logger.L
	logAlloc bool

	tr    *lockdep.Tracker
	mu    *lockdep.Mutex // the allocator lock
	arena *meta.Arena    // nil in bypass mode
	core  *alloc.Core    // nil in bypass mode
	be    backend

	limit      atomic.Uintptr
	threadSafe atomic.Bool
	state      atomic.Int32

	// Guarded by mu.
	stats Stats
}

// New builds a heap from cfg. No memory is mapped until the first
// allocation.
func New(cfg Config) (*Heap, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	h := &Heap{
		cfg:      cfg,
		log:      cfg.Logger,
		logAlloc: cfg.LogAllocations,
		tr:       lockdep.NewTracker(),
	}
	h.mu = h.tr.NewMutex("allocator")

	if cfg.Bypass {
		h.be = newSystem()
	} else {
		h.arena = meta.New(meta.Options{Protect: cfg.ProtectMetadata})
		core, err := alloc.New(h.arena, alloc.Options{
			PageSize: cfg.PageSize,
			Retain:   cfg.RetainPages,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		h.core = core
		h.be = newFreeList(core, h.arena, cfg.Debug)
		h.mu.SetHooks(h.arena.Enter, h.arena.Leave)
	}

	h.limit.Store(cfg.Limit)
	h.threadSafe.Store(cfg.ThreadSafe)
	return h, nil
}

// Config returns the effective configuration.
func (h *Heap) Config() Config { return h.cfg }

// Tracker returns the lock-ownership tracker shared by every mutex of this
// heap.
func (h *Heap) Tracker() *lockdep.Tracker { return h.tr }

// Close unmaps every page and metadata chunk. Later calls fail with
// ErrInvalidState.
func (h *Heap) Close() error {
	g, err := h.acquire(nil)
	if err != nil {
		return err
	}
	if !h.state.CompareAndSwap(stateLive, stateClosed) {
		_ = g.release()
		return ErrInvalidState
	}
	cerr := h.be.close()
	h.stats = Stats{}
	if err := g.release(); cerr == nil {
		cerr = err
	}
	return cerr
}

// alive reports ErrInvalidState once the heap was closed or found corrupt.
func (h *Heap) alive() error {
	switch h.state.Load() {
	case stateClosed:
		return fmt.Errorf("%w: heap closed", ErrInvalidState)
	case stateCorrupt:
		return fmt.Errorf("%w: heap corrupted", ErrInvalidState)
	}
	return nil
}

// acquire takes the allocator lock for t, or through the baseline recursive
// lock under a fresh identity when t is nil.
func (h *Heap) acquire(t *Thread) (*AllocatorGuard, error) {
	if err := h.alive(); err != nil {
		return nil, err
	}
	g := &AllocatorGuard{h: h, t: t}
	if t != nil {
		g.errno = t.errno
	}

	if !h.threadSafe.Load() {
		if err := h.enter(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
		return g, nil
	}

	g.locked = true
	var err error
	if t != nil {
		g.owner = t.owner.ID()
		err = t.owner.Lock(h.mu)
	} else {
		g.owner = h.tr.NewOwnerID()
		err = h.mu.Lock(g.owner)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	// Closed while we waited.
	if err := h.alive(); err != nil {
		_ = g.release()
		return nil, err
	}
	return g, nil
}

func (h *Heap) enter() error {
	if h.arena == nil {
		return nil
	}
	return h.arena.Enter()
}

func (h *Heap) leave() error {
	if h.arena == nil {
		return nil
	}
	return h.arena.Leave()
}

// do runs fn under the allocator lock. Corruption reported by fn is raised
// after the lock is released.
func (h *Heap) do(t *Thread, fn func() error) error {
	g, err := h.acquire(t)
	if err != nil {
		return err
	}
	ferr := fn()

	var ce *CorruptionError
	if errors.As(ferr, &ce) {
		h.state.Store(stateCorrupt)
	}
	if err := g.release(); err != nil && ferr == nil {
		ferr = err
	}
	if ce != nil {
		h.fatal(ce)
	}
	return ferr
}

// logs returns the configured logger, or the global one as it is now so a
// later logger.Init reaches heaps built before it.
func (h *Heap) logs() *slog.Logger {
	if h.log != nil {
		return h.log
	}
	return logger.L
}

// fatal never returns.
func (h *Heap) fatal(ce *CorruptionError) {
	h.state.Store(stateCorrupt)
	h.logs().Error("heap corruption", "kind", ce.Kind.String(), "addr", fmt.Sprintf("%#x", ce.Addr), "detail", ce.Detail)
	if h.cfg.OnCorruption != nil {
		h.cfg.OnCorruption(ce)
	}
	panic(ce)
}

// SetAllocLimit sets the largest request size accepted, 0 for unlimited,
// and returns the previous limit.
func (h *Heap) SetAllocLimit(limit uintptr) uintptr {
	return h.limit.Swap(limit)
}

// AllocLimit returns the current limit.
func (h *Heap) AllocLimit() uintptr { return h.limit.Load() }

// EnableThreadSafety makes every call take the allocator lock.
func (h *Heap) EnableThreadSafety() { h.threadSafe.Store(true) }

// DisableThreadSafety skips the allocator lock. The caller guarantees that
// only one goroutine uses the heap from then on.
func (h *Heap) DisableThreadSafety() { h.threadSafe.Store(false) }

// ThreadSafe reports whether calls take the allocator lock.
func (h *Heap) ThreadSafe() bool { return h.threadSafe.Load() }

// NewMutex creates a tracked mutex that takes part in deadlock avoidance
// with the allocator lock.
func (h *Heap) NewMutex(name string) *lockdep.Mutex {
	return h.tr.NewMutex(name)
}

// BlockMutex returns the fine-grained mutex of the allocation at p,
// creating it on first use. It is unregistered when p is freed.
func (h *Heap) BlockMutex(p uintptr) (*lockdep.Mutex, error) {
	return h.slotMutex(p, false)
}

// PageMutex returns the fine-grained mutex of the page holding the
// allocation at p. It is unregistered when the page is unmapped.
func (h *Heap) PageMutex(p uintptr) (*lockdep.Mutex, error) {
	return h.slotMutex(p, true)
}

func (h *Heap) slotMutex(p uintptr, page bool) (*lockdep.Mutex, error) {
	var m *lockdep.Mutex
	err := h.do(nil, func() error {
		slot, err := h.be.mutexSlot(p, page)
		if err != nil {
			return err
		}
		if *slot != 0 {
			m, err = h.tr.Mutex(lockdep.MutexID(*slot))
			return err
		}
		kind := "block"
		if page {
			kind = "page"
		}
		m = h.tr.NewMutex(fmt.Sprintf("%s %#x", kind, p))
		*slot = uint32(m.ID())
		return nil
	})
	return m, err
}

// Validate checks every page and block invariant of the free-list core.
func (h *Heap) Validate() error {
	return h.do(nil, func() error {
		if h.core == nil {
			return nil
		}
		if err := h.core.Validate(); err != nil {
			var ce *CorruptionError
			if errors.As(err, &ce) {
				// Latched but not raised; the caller asked for a report.
				h.state.Store(stateCorrupt)
				return fmt.Errorf("%w: %s", ErrInvalidState, ce.Error())
			}
			return fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
		if n := len(h.be.(*freeList).live); n != h.liveBlocks() {
			return fmt.Errorf("%w: %d live pointers for %d allocated blocks", ErrInvalidState, n, h.liveBlocks())
		}
		return nil
	})
}

func (h *Heap) liveBlocks() int {
	n := 0
	h.core.EachPage(func(p *alloc.Page) bool {
		_ = h.core.EachBlock(p, func(_ meta.ID, b *meta.Header) bool {
			if !b.Free {
				n++
			}
			return true
		})
		return true
	})
	return n
}
