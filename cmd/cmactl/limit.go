package main

import (
	"github.com/spf13/cobra"
)

var (
	limitBytes uint64
	limitSize  uint64
)

func init() {
	cmd := newLimitCmd()
	cmd.Flags().Uint64Var(&limitBytes, "limit", 1024, "Allocation size limit in bytes")
	cmd.Flags().Uint64Var(&limitSize, "size", 2048, "Request size in bytes")
	rootCmd.AddCommand(cmd)
}

func newLimitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "limit",
		Short: "Show how the allocation limit rejects requests",
		Long: `The limit command installs a size limit through a scoped guard, tries
one allocation under it, then retries after the guard restored the
previous limit.

Example:
  cmactl limit --limit 1024 --size 2048`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLimit()
		},
	}
}

type limitResult struct {
	Limit        uint64 `json:"limit"`
	Size         uint64 `json:"size"`
	LimitedCode  string `json:"limited_code"`
	RestoredCode string `json:"restored_code"`
}

func runLimit() error {
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.Close()
	th := h.NewThread()

	res := limitResult{Limit: limitBytes, Size: limitSize}

	g := h.GuardLimit(uintptr(limitBytes))
	p, _ := th.Malloc(uintptr(limitSize))
	res.LimitedCode = th.LastError().String()
	if p != 0 {
		_ = th.Free(p)
	}
	g.Reset()

	p, _ = th.Malloc(uintptr(limitSize))
	res.RestoredCode = th.LastError().String()
	if p != 0 {
		_ = th.Free(p)
	}

	return report(h, res, func() {
		printInfo("limit %d, malloc(%d): %s\n", res.Limit, res.Size, res.LimitedCode)
		printInfo("limit restored, malloc(%d): %s\n", res.Size, res.RestoredCode)
	})
}
