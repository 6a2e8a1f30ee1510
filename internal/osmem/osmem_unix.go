//go:build unix

// Package osmem wraps the operating system's virtual memory primitives:
// anonymous private mappings, unmapping and page protection.
package osmem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// CanProtect reports whether Protect changes page permissions on this platform.
const CanProtect = true

// HeapBacked reports whether Map hands out Go heap memory.
const HeapBacked = false

// PageSize returns the operating system page size.
func PageSize() int {
	return unix.Getpagesize()
}

// Map returns size bytes of zeroed, private, read/write anonymous memory.
// The mapping lives outside the Go heap and is never moved or collected.
func Map(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("osmem: invalid mapping size %d", size)
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("osmem: mmap %d bytes: %w", size, err)
	}
	return mem, nil
}

// Unmap releases a mapping returned by Map. It must be passed the same slice
// (not a derived slice) that Map returned.
func Unmap(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	err := unix.Munmap(mem)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	if err != nil {
		return fmt.Errorf("osmem: munmap: %w", err)
	}
	return nil
}

// Protect changes the access permissions of a mapping returned by Map.
func Protect(mem []byte, prot Prot) error {
	if len(mem) == 0 {
		return nil
	}
	var flags int
	switch prot {
	case ProtNone:
		flags = unix.PROT_NONE
	case ProtRead:
		flags = unix.PROT_READ
	case ProtReadWrite:
		flags = unix.PROT_READ | unix.PROT_WRITE
	default:
		return fmt.Errorf("osmem: unknown protection %d", prot)
	}
	if err := unix.Mprotect(mem, flags); err != nil {
		return fmt.Errorf("osmem: mprotect %s: %w", prot, err)
	}
	return nil
}
