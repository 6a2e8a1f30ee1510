package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	alignAlignment uint64
	alignSize      uint64
	alignCount     int
)

func init() {
	cmd := newAlignCmd()
	cmd.Flags().Uint64Var(&alignAlignment, "alignment", 64, "Alignment, a power of two")
	cmd.Flags().Uint64Var(&alignSize, "size", 100, "Request size in bytes")
	cmd.Flags().IntVar(&alignCount, "count", 1, "Number of allocations")
	rootCmd.AddCommand(cmd)
}

func newAlignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "align",
		Short: "Allocate aligned blocks and verify their addresses",
		Long: `The align command performs aligned allocations and checks that every
returned address is a multiple of the alignment and every block holds at
least the requested size.

Example:
  cmactl align --alignment 4096 --size 100 --count 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlign()
		},
	}
}

type alignResult struct {
	Alignment uint64    `json:"alignment"`
	Size      uint64    `json:"size"`
	Blocks    []aligned `json:"blocks"`
}

type aligned struct {
	Ptr       string `json:"ptr"`
	AllocSize uint64 `json:"alloc_size"`
}

func runAlign() error {
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.Close()

	res := alignResult{Alignment: alignAlignment, Size: alignSize}
	ptrs := make([]uintptr, 0, alignCount)
	for range alignCount {
		p, err := h.AlignedAlloc(uintptr(alignAlignment), uintptr(alignSize))
		if err != nil {
			return err
		}
		ptrs = append(ptrs, p)
		n := h.AllocSize(p)
		if p%uintptr(alignAlignment) != 0 || n < uintptr(alignSize) {
			return fmt.Errorf("block %#x size %d violates alignment %d / size %d", p, n, alignAlignment, alignSize)
		}
		res.Blocks = append(res.Blocks, aligned{Ptr: fmt.Sprintf("%#x", p), AllocSize: uint64(n)})
	}
	if err := h.Validate(); err != nil {
		return err
	}

	err = report(h, res, func() {
		for _, b := range res.Blocks {
			printInfo("%s  alloc_size %d\n", b.Ptr, b.AllocSize)
		}
	})
	for _, p := range ptrs {
		if ferr := h.Free(p); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}
