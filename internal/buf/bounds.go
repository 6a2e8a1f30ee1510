// Package buf contains overflow-checked size arithmetic and the byte
// helpers used to paint and verify sentinel regions.
package buf

// AddOverflowSafe adds a and b, returning ok = false when the result would
// overflow uintptr.
func AddOverflowSafe(a, b uintptr) (uintptr, bool) {
	if a > ^uintptr(0)-b {
		return 0, false
	}
	return a + b, true
}

// MulOverflowSafe multiplies a and b, returning ok = false when the result
// would overflow uintptr. This is the count * elementSize check behind calloc.
func MulOverflowSafe(a, b uintptr) (uintptr, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > ^uintptr(0)/b {
		return 0, false
	}
	return a * b, true
}
