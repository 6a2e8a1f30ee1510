package heap

import (
	"fmt"
	"testing"
)

// Sub-benchmarks are named <backend>/size=<n> so scripts/benchcmp can pair
// the free-list and bypass results.
func BenchmarkMallocFree(b *testing.B) {
	for _, bc := range []struct {
		name string
		opts []func(*Config)
	}{
		{"freelist", nil},
		{"debug", []func(*Config){withDebug}},
		{"bypass", []func(*Config){withBypass}},
	} {
		for _, size := range []uintptr{32, 512, 8192} {
			b.Run(fmt.Sprintf("%s/size=%d", bc.name, size), func(b *testing.B) {
				h := newHeap(b, bc.opts...)
				b.ReportAllocs()
				b.ResetTimer()
				for range b.N {
					p, err := h.Malloc(size)
					if err != nil {
						b.Fatal(err)
					}
					if err := h.Free(p); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkThreadMallocFree(b *testing.B) {
	h := newHeap(b)
	th := h.NewThread()
	live := make([]uintptr, 0, 64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := range b.N {
		p, err := th.Malloc(uintptr(16 + i%512))
		if err != nil {
			b.Fatal(err)
		}
		live = append(live, p)
		if len(live) == cap(live) {
			for _, p := range live {
				if err := th.Free(p); err != nil {
					b.Fatal(err)
				}
			}
			live = live[:0]
		}
	}
}

func BenchmarkAlignedAlloc(b *testing.B) {
	h := newHeap(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := range b.N {
		p, err := h.AlignedAlloc(uintptr(64)<<(i%4), 200)
		if err != nil {
			b.Fatal(err)
		}
		if err := h.Free(p); err != nil {
			b.Fatal(err)
		}
	}
}
