// Package format holds the layout constants shared by every layer of the
// allocator: alignment, page granularity, guard geometry and the sentinel
// values written into headers and red zones.
package format

const (
	// Alignment is the alignment of every block address and block size.
	Alignment = 16

	// AlignmentMask masks the low bits below Alignment.
	AlignmentMask = Alignment - 1

	// DefaultPageSize is the granularity used when the core maps a new page.
	// Requests larger than this round up to the next multiple.
	DefaultPageSize = 128 << 10

	// MinBlockSize is the smallest block the core will carve. A split whose
	// remainder would be smaller hands the whole block to the caller instead.
	MinBlockSize = 32

	// GuardSize is the width of each red zone placed before and after a
	// payload in debug mode.
	GuardSize = 32

	// GuardOverhead is the total red zone cost of one debug allocation.
	GuardOverhead = 2 * GuardSize
)

// Sentinel bytes written by the debug instrumentation.
const (
	// GuardByte fills both red zones of a live allocation.
	GuardByte byte = 0xA5

	// FreedPayloadByte overwrites the payload of a released allocation.
	FreedPayloadByte byte = 0xDD

	// FreedGuardByte overwrites the red zones of a released allocation.
	FreedGuardByte byte = 0xDE
)

// Block header magics. Anything else in a live header is corruption.
const (
	MagicAllocated uint32 = 0xA110C8ED
	MagicFree      uint32 = 0xF4EEB10C
)
