package format

// Align16 returns n aligned up to the next 16-byte boundary.
//
// Example:
//
//	Align16(1)  = 16
//	Align16(16) = 16
//	Align16(17) = 32
func Align16(n uintptr) uintptr {
	return (n + AlignmentMask) &^ AlignmentMask
}

// AlignUp returns n aligned up to a, which must be a power of two.
func AlignUp(n, a uintptr) uintptr {
	return (n + a - 1) &^ (a - 1)
}

// IsPowerOfTwo reports whether n is a non-zero power of two.
func IsPowerOfTwo(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}

// Padding returns the distance from addr to the next multiple of a.
// Returns 0 when addr is already aligned.
func Padding(addr, a uintptr) uintptr {
	return AlignUp(addr, a) - addr
}

// BlockSize returns the block size needed to hold a payload of n bytes plus
// overhead bytes of instrumentation, never smaller than MinBlockSize.
func BlockSize(n, overhead uintptr) uintptr {
	return max(Align16(n)+overhead, MinBlockSize)
}
