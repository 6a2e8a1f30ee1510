package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	leaksCount int
	leaksFree  int
	leaksSize  uint64
)

func init() {
	cmd := newLeaksCmd()
	cmd.Flags().IntVar(&leaksCount, "count", 10, "Tracked allocations")
	cmd.Flags().IntVar(&leaksFree, "free", 4, "How many of them to free")
	cmd.Flags().Uint64Var(&leaksSize, "size", 48, "Base request size; allocation i asks for size*(i+1)")
	rootCmd.AddCommand(cmd)
}

func newLeaksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaks",
		Short: "Show the leak tracker report",
		Long: `The leaks command enables leak detection on one thread, performs K
allocations, frees J of them and prints the outstanding-allocation report.

Example:
  cmactl leaks --count 10 --free 4
  cmactl leaks --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeaks()
		},
	}
}

func runLeaks() error {
	if leaksFree > leaksCount {
		return fmt.Errorf("--free %d exceeds --count %d", leaksFree, leaksCount)
	}
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.Close()

	th := h.NewThread()
	th.EnableLeakDetection()
	defer th.DisableLeakDetection()

	ptrs := make([]uintptr, 0, leaksCount)
	for i := range leaksCount {
		p, err := th.Malloc(uintptr(leaksSize) * uintptr(i+1))
		if err != nil {
			return err
		}
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs[:leaksFree] {
		if err := th.Free(p); err != nil {
			return err
		}
	}

	r := th.LeakReport()
	err = report(h, r, func() {
		if !quiet {
			_, _ = r.WriteTo(os.Stdout)
		}
	})
	for _, p := range ptrs[leaksFree:] {
		if ferr := th.Free(p); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}
