package heap

// LimitGuard swaps in an allocation limit and restores the previous one on
// Reset. A moved-from guard does nothing.
type LimitGuard struct {
	h      *Heap
	prev   uintptr
	active bool
}

// GuardLimit sets limit and returns a guard restoring the previous limit.
//
//	g := h.GuardLimit(4096)
//	defer g.Reset()
func (h *Heap) GuardLimit(limit uintptr) *LimitGuard {
	return &LimitGuard{h: h, prev: h.SetAllocLimit(limit), active: true}
}

// Previous returns the limit that Reset restores.
func (g *LimitGuard) Previous() uintptr { return g.prev }

// Active reports whether Reset would still restore a limit.
func (g *LimitGuard) Active() bool { return g.active }

// Reset restores the previous limit once.
func (g *LimitGuard) Reset() {
	if !g.active {
		return
	}
	g.active = false
	g.h.SetAllocLimit(g.prev)
}

// Move transfers the restore duty to a new guard.
func (g *LimitGuard) Move() *LimitGuard {
	moved := *g
	g.active = false
	return &moved
}

// AllocationGuard owns at most one allocation and frees it on Release.
// Freeing a pointer that was already freed is fatal corruption.
type AllocationGuard struct {
	h   *Heap
	t   *Thread // nil for heap-level frees
	ptr uintptr
	err Code
}

// Guard takes ownership of p.
func (h *Heap) Guard(p uintptr) *AllocationGuard {
	return &AllocationGuard{h: h, ptr: p}
}

// Guard takes ownership of p, freeing it through t.
func (t *Thread) Guard(p uintptr) *AllocationGuard {
	return &AllocationGuard{h: t.h, t: t, ptr: p}
}

// Get returns the owned pointer, 0 when empty.
func (g *AllocationGuard) Get() uintptr { return g.ptr }

// Err returns the code of the last failed release, Success otherwise.
func (g *AllocationGuard) Err() Code { return g.err }

// Reset frees the owned pointer and takes ownership of p.
func (g *AllocationGuard) Reset(p uintptr) error {
	old := g.ptr
	g.ptr = p
	if old == 0 || old == p {
		return nil
	}
	return g.free(old)
}

// Release frees the owned pointer and leaves the guard empty.
func (g *AllocationGuard) Release() error {
	return g.Reset(0)
}

// Detach gives up ownership without freeing.
func (g *AllocationGuard) Detach() uintptr {
	p := g.ptr
	g.ptr = 0
	return p
}

// Move transfers ownership to a new guard; g becomes empty.
func (g *AllocationGuard) Move() *AllocationGuard {
	moved := *g
	g.ptr = 0
	return &moved
}

func (g *AllocationGuard) free(p uintptr) error {
	if g.t == nil {
		if err := g.h.Free(p); err != nil {
			g.err = CodeOf(err)
			return err
		}
		g.err = Success
		return nil
	}
	prev := g.t.errno
	if err := g.t.Free(p); err != nil {
		g.err = CodeOf(err)
		return err
	}
	g.t.errno = prev
	g.err = Success
	return nil
}
