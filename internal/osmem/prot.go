package osmem

import "unsafe"

// Prot is a page protection level.
type Prot int

const (
	ProtNone Prot = iota
	ProtRead
	ProtReadWrite
)

func (p Prot) String() string {
	switch p {
	case ProtNone:
		return "none"
	case ProtRead:
		return "read"
	case ProtReadWrite:
		return "read/write"
	default:
		return "unknown"
	}
}

// Addr returns the address of the first byte of mem, or 0 for an empty slice.
func Addr(mem []byte) uintptr {
	if len(mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
}
