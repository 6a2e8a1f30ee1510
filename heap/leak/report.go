package leak

import (
	"io"
	"slices"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Report is a snapshot of a tracker's outstanding allocations.
type Report struct {
	Count   int      `json:"count"`
	Bytes   uintptr  `json:"bytes"`
	Records []Record `json:"records"`
	Err     string   `json:"error,omitempty"`
}

// Report snapshots the tracker. Records are sorted by address.
func (t *Tracker) Report() Report {
	r := Report{
		Count:   t.Outstanding(),
		Bytes:   t.OutstandingBytes(),
		Records: t.Records(),
	}
	slices.SortFunc(r.Records, func(a, b Record) int {
		switch {
		case a.Ptr < b.Ptr:
			return -1
		case a.Ptr > b.Ptr:
			return 1
		}
		return 0
	})
	if t.err != nil {
		r.Err = t.err.Error()
	}
	return r
}

// WriteTo renders the report as text with grouped digits.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	p := message.NewPrinter(language.English)
	var sb strings.Builder
	p.Fprintf(&sb, "outstanding allocations: %d (%d bytes)\n", r.Count, r.Bytes)
	if r.Err != "" {
		p.Fprintf(&sb, "tracker error: %s\n", r.Err)
	}
	for _, rec := range r.Records {
		p.Fprintf(&sb, "  %#016x  %d bytes\n", rec.Ptr, rec.Size)
	}
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func (r Report) String() string {
	var sb strings.Builder
	_, _ = r.WriteTo(&sb)
	return sb.String()
}
