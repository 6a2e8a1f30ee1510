//go:build !unix

package osmem

import (
	"fmt"
	"os"
)

// CanProtect reports whether Protect changes page permissions on this platform.
const CanProtect = false

// HeapBacked reports whether Map hands out Go heap memory.
const HeapBacked = true

// PageSize returns the operating system page size.
func PageSize() int {
	return os.Getpagesize()
}

// Map allocates size zeroed bytes from the Go heap when anonymous mappings
// are not available. The Go collector does not move objects, so the returned
// addresses stay stable while the slice is referenced.
func Map(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("osmem: invalid mapping size %d", size)
	}
	return make([]byte, size), nil
}

// Unmap drops a mapping returned by Map.
func Unmap([]byte) error { return nil }

// Protect is a no-op without mprotect.
func Protect([]byte, Prot) error { return nil }
