// Package redzone installs and verifies the guard bytes placed around a
// debug allocation.
//
// A guarded region has the layout
//
//	[front guard][payload (n bytes)][back guard][slack]
//
// where both guards are format.GuardSize bytes of format.GuardByte. The back
// guard starts immediately after the last payload byte so a one-byte overrun
// is caught. On release the payload is painted format.FreedPayloadByte and
// the guards format.FreedGuardByte.
package redzone

import (
	"fmt"

	"github.com/joshuapare/cma/internal/buf"
	"github.com/joshuapare/cma/internal/format"
)

// Violation describes the first overwritten guard byte.
type Violation struct {
	Offset int  // offset into the guarded region
	Front  bool // true for the front guard, false for the back guard
	Got    byte
}

func (v Violation) String() string {
	side := "back"
	if v.Front {
		side = "front"
	}
	return fmt.Sprintf("%s guard byte at +%d is 0x%02x, want 0x%02x", side, v.Offset, v.Got, format.GuardByte)
}

// Len returns the guarded region length needed for an n byte payload.
func Len(n uintptr) uintptr {
	return n + format.GuardOverhead
}

// Install paints both guards of region around an n byte payload.
func Install(region []byte, n uintptr) {
	front, back := split(region, n)
	buf.Fill(front, format.GuardByte)
	buf.Fill(back, format.GuardByte)
}

// Verify checks both guards of region. Returns false and the first
// violation when any guard byte changed.
func Verify(region []byte, n uintptr) (Violation, bool) {
	front, back := split(region, n)
	if i := buf.FirstMismatch(front, format.GuardByte); i >= 0 {
		return Violation{Offset: i, Front: true, Got: front[i]}, false
	}
	if i := buf.FirstMismatch(back, format.GuardByte); i >= 0 {
		return Violation{Offset: format.GuardSize + int(n) + i, Got: back[i]}, false
	}
	return Violation{}, true
}

// Poison paints a released region so use-after-free reads are visible.
func Poison(region []byte, n uintptr) {
	front, back := split(region, n)
	buf.Fill(front, format.FreedGuardByte)
	buf.Fill(Payload(region, n), format.FreedPayloadByte)
	buf.Fill(back, format.FreedGuardByte)
}

// Payload returns the payload window of region.
func Payload(region []byte, n uintptr) []byte {
	return region[format.GuardSize : format.GuardSize+int(n)]
}

func split(region []byte, n uintptr) (front, back []byte) {
	end := format.GuardSize + int(n)
	return region[:format.GuardSize], region[end : end+format.GuardSize]
}
