// Package leak records the outstanding allocations of one worker.
//
// A Tracker is owned by a single goroutine and is not safe for concurrent
// use. While active every tracked allocation appends a Record and every
// tracked free removes the record for that pointer by swapping it with the
// last one.
package leak

import (
	"errors"
	"fmt"
)

// DefaultRecordLimit caps the record list when no limit is given.
const DefaultRecordLimit = 1 << 20

var (
	// ErrRecordLimit latches the tracker when the record list is full.
	ErrRecordLimit = errors.New("leak: record limit reached")
	// ErrDuplicate latches the tracker when a pointer is recorded twice.
	ErrDuplicate = errors.New("leak: pointer already recorded")
)

// Record is one outstanding allocation.
type Record struct {
	Ptr  uintptr
	Size uintptr
}

// Tracker is a per-worker leak record set.
type Tracker struct {
	enabled bool
	err     error
	limit   int

	records []Record
	index   map[uintptr]int
	bytes   uintptr
}

// New returns a disabled tracker. limit <= 0 selects DefaultRecordLimit.
func New(limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultRecordLimit
	}
	return &Tracker{limit: limit}
}

// Enable starts tracking. Records gathered before a Disable are gone.
func (t *Tracker) Enable() {
	if t.index == nil {
		t.index = make(map[uintptr]int)
	}
	t.enabled = true
}

// Disable stops tracking and drops every record.
func (t *Tracker) Disable() {
	t.enabled = false
	t.reset()
}

// Clear drops every record and the latched error. Tracking stays enabled if
// it was.
func (t *Tracker) Clear() {
	t.reset()
	t.err = nil
}

func (t *Tracker) reset() {
	t.records = t.records[:0]
	clear(t.index)
	t.bytes = 0
}

// Enabled reports whether tracking was switched on.
func (t *Tracker) Enabled() bool { return t.enabled }

// Active reports whether calls to Record and Forget have an effect.
func (t *Tracker) Active() bool { return t.enabled && t.err == nil }

// Err returns the latched bookkeeping error, if any.
func (t *Tracker) Err() error { return t.err }

// Record adds an allocation. No-op while inactive.
func (t *Tracker) Record(ptr, size uintptr) {
	if !t.Active() {
		return
	}
	if _, dup := t.index[ptr]; dup {
		t.fail(fmt.Errorf("%w: %#x", ErrDuplicate, ptr))
		return
	}
	if len(t.records) >= t.limit {
		t.fail(ErrRecordLimit)
		return
	}
	t.index[ptr] = len(t.records)
	t.records = append(t.records, Record{Ptr: ptr, Size: size})
	t.bytes += size
}

// Forget removes the record for ptr. Returns false when ptr was not
// recorded, which happens for allocations made before tracking started.
func (t *Tracker) Forget(ptr uintptr) bool {
	if !t.Active() {
		return false
	}
	i, ok := t.index[ptr]
	if !ok {
		return false
	}
	t.bytes -= t.records[i].Size
	last := len(t.records) - 1
	if i != last {
		t.records[i] = t.records[last]
		t.index[t.records[i].Ptr] = i
	}
	t.records = t.records[:last]
	delete(t.index, ptr)
	return true
}

// Resize updates the size of ptr's record after an in-place resize.
func (t *Tracker) Resize(ptr, size uintptr) {
	if !t.Active() {
		return
	}
	if i, ok := t.index[ptr]; ok {
		t.bytes = t.bytes - t.records[i].Size + size
		t.records[i].Size = size
	}
}

// Outstanding returns the number of live records.
func (t *Tracker) Outstanding() int { return len(t.records) }

// OutstandingBytes returns the sum of the live records' sizes.
func (t *Tracker) OutstandingBytes() uintptr { return t.bytes }

// Records returns a copy of the live records in tracker order.
func (t *Tracker) Records() []Record {
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// fail latches the error state. Records are kept so a report can still
// show what was known before the failure.
func (t *Tracker) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}
