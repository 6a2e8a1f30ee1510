// Package cma is the process-wide allocator surface. Every function works
// on one lazily created default heap configured from the CMA_* environment
// variables, through one default thread.
//
// Calls are serialized by a package lock, so LastError reports the most
// recent call made through this package by any goroutine. Programs that
// want per-worker errno and leak tracking should create their own
// heap.Thread from Default().
package cma

import (
	"fmt"
	"sync"

	"github.com/joshuapare/cma/heap"
	"github.com/joshuapare/cma/heap/leak"
	"github.com/joshuapare/cma/internal/logger"
)

var (
	mu     sync.Mutex
	cfg    *heap.Config // set by Configure; nil means ConfigFromEnv
	def    *heap.Heap
	thread *heap.Thread
)

// ensure builds the default heap on first use. Caller holds mu.
func ensure() (*heap.Thread, error) {
	if thread != nil {
		return thread, nil
	}
	var c heap.Config
	if cfg != nil {
		c = *cfg
	} else {
		var err error
		if c, err = heap.ConfigFromEnv(); err != nil {
			logger.Warn("cma: ignoring environment configuration", "err", err)
			c = heap.DefaultConfig()
		}
	}
	h, err := heap.New(c)
	if err != nil {
		return nil, fmt.Errorf("cma: default heap: %w", err)
	}
	def, thread = h, h.NewThread()
	return thread, nil
}

func with[T any](fn func(*heap.Thread) (T, error)) (T, error) {
	mu.Lock()
	defer mu.Unlock()
	th, err := ensure()
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(th)
}

// Default returns the default heap, creating it if needed.
func Default() (*heap.Heap, error) {
	mu.Lock()
	defer mu.Unlock()
	if _, err := ensure(); err != nil {
		return nil, err
	}
	return def, nil
}

// Configure replaces the default heap with one built from c. The previous
// heap is closed; pointers from it become invalid.
func Configure(c heap.Config) error {
	mu.Lock()
	defer mu.Unlock()
	if err := closeLocked(); err != nil {
		return err
	}
	cfg = &c
	_, err := ensure()
	return err
}

// Reset closes the default heap. The next call builds a fresh one with the
// same configuration.
func Reset() error {
	mu.Lock()
	defer mu.Unlock()
	return closeLocked()
}

func closeLocked() error {
	if def == nil {
		return nil
	}
	err := def.Close()
	def, thread = nil, nil
	return err
}

// Malloc returns a pointer to size bytes from the default heap.
func Malloc(size uintptr) (uintptr, error) {
	return with(func(t *heap.Thread) (uintptr, error) { return t.Malloc(size) })
}

// Calloc returns count*size zeroed bytes.
func Calloc(count, size uintptr) (uintptr, error) {
	return with(func(t *heap.Thread) (uintptr, error) { return t.Calloc(count, size) })
}

// Realloc resizes p; a zero p allocates and a zero size frees.
func Realloc(p, size uintptr) (uintptr, error) {
	return with(func(t *heap.Thread) (uintptr, error) { return t.Realloc(p, size) })
}

// AlignedAlloc returns size bytes at a multiple of align.
func AlignedAlloc(align, size uintptr) (uintptr, error) {
	return with(func(t *heap.Thread) (uintptr, error) { return t.AlignedAlloc(align, size) })
}

// Free releases p. Freeing 0 does nothing.
func Free(p uintptr) error {
	_, err := with(func(t *heap.Thread) (struct{}, error) { return struct{}{}, t.Free(p) })
	return err
}

// AllocSize returns the usable size of p, 0 if p is not live.
func AllocSize(p uintptr) uintptr {
	n, _ := with(func(t *heap.Thread) (uintptr, error) { return t.AllocSize(p), nil })
	return n
}

// Bytes returns the usable bytes of p.
func Bytes(p uintptr) ([]byte, error) {
	return with(func(t *heap.Thread) ([]byte, error) { return t.Bytes(p) })
}

// LastError returns the code of the most recent call.
func LastError() heap.Code {
	mu.Lock()
	defer mu.Unlock()
	if thread == nil {
		return heap.Success
	}
	return thread.LastError()
}

// SetAllocLimit sets the request size limit, 0 for none, and returns the
// previous one.
func SetAllocLimit(limit uintptr) uintptr {
	prev, _ := with(func(t *heap.Thread) (uintptr, error) { return t.Heap().SetAllocLimit(limit), nil })
	return prev
}

// EnableThreadSafety makes the default heap take its allocator lock.
func EnableThreadSafety() {
	_, _ = with(func(t *heap.Thread) (struct{}, error) { t.Heap().EnableThreadSafety(); return struct{}{}, nil })
}

// DisableThreadSafety skips the allocator lock of the default heap.
func DisableThreadSafety() {
	_, _ = with(func(t *heap.Thread) (struct{}, error) { t.Heap().DisableThreadSafety(); return struct{}{}, nil })
}

// Stats returns the default heap's counters.
func Stats() (heap.Stats, error) {
	return with(func(t *heap.Thread) (heap.Stats, error) { return t.Heap().Stats() })
}

// EnableLeakDetection starts recording allocations made through this package.
func EnableLeakDetection() {
	_, _ = with(func(t *heap.Thread) (struct{}, error) { t.EnableLeakDetection(); return struct{}{}, nil })
}

// DisableLeakDetection stops recording and drops every record.
func DisableLeakDetection() {
	_, _ = with(func(t *heap.Thread) (struct{}, error) { t.DisableLeakDetection(); return struct{}{}, nil })
}

// ClearLeaks drops every record and any latched tracker error.
func ClearLeaks() {
	_, _ = with(func(t *heap.Thread) (struct{}, error) { t.ClearLeaks(); return struct{}{}, nil })
}

// LeakReport snapshots the allocations made through this package while
// leak detection was on.
func LeakReport() leak.Report {
	r, _ := with(func(t *heap.Thread) (leak.Report, error) { return t.LeakReport(), nil })
	return r
}

// OutstandingAllocations returns the number of tracked live allocations.
func OutstandingAllocations() int {
	n, _ := with(func(t *heap.Thread) (int, error) { return t.OutstandingAllocations(), nil })
	return n
}

// OutstandingBytes returns the requested bytes of tracked live allocations.
func OutstandingBytes() uintptr {
	n, _ := with(func(t *heap.Thread) (uintptr, error) { return t.OutstandingBytes(), nil })
	return n
}
