package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/cma/heap"
)

var (
	stressThreads    int
	stressIterations int
	stressSize       uint64
	stressKeep       int
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVar(&stressThreads, "threads", 2, "Concurrent worker threads")
	cmd.Flags().IntVar(&stressIterations, "iterations", 10000, "malloc/free pairs per thread")
	cmd.Flags().Uint64Var(&stressSize, "size", 256, "Largest request size in bytes")
	cmd.Flags().IntVar(&stressKeep, "keep", 0, "Allocations each thread deliberately leaves live")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Run concurrent malloc/free workers",
		Long: `The stress command runs N threads, each performing M malloc/free pairs
with varying sizes, and checks that allocation_count - free_count equals the
allocations deliberately left live.

Example:
  cmactl stress --threads 4 --iterations 100000
  cmactl stress --debug --keep 3 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
}

type stressResult struct {
	Threads    int           `json:"threads"`
	Iterations int           `json:"iterations"`
	Kept       int           `json:"kept"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Backoffs   int64         `json:"backoffs"`
}

func runStress() error {
	if stressThreads < 1 || stressIterations < 1 || stressSize < 1 {
		return fmt.Errorf("threads, iterations and size must be positive")
	}
	if stressKeep > stressIterations {
		return fmt.Errorf("--keep %d exceeds --iterations %d", stressKeep, stressIterations)
	}
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.Close()

	threads := make([]*heap.Thread, stressThreads)
	for i := range threads {
		threads[i] = h.NewThread()
	}

	printVerbose("Running %d threads x %d iterations\n", stressThreads, stressIterations)
	start := time.Now()
	var g errgroup.Group
	for w, th := range threads {
		g.Go(func() error {
			return stressWorker(th, w)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	res := stressResult{
		Threads:    stressThreads,
		Iterations: stressIterations,
		Kept:       stressThreads * stressKeep,
		Elapsed:    time.Since(start),
	}
	for _, th := range threads {
		res.Backoffs += th.Owner().Backoffs()
	}

	s, err := h.Stats()
	if err != nil {
		return err
	}
	if live := s.AllocationCount - s.FreeCount; live != uint64(res.Kept) {
		return fmt.Errorf("%d allocations live, expected %d", live, res.Kept)
	}
	if err := h.Validate(); err != nil {
		return err
	}
	return report(h, res, func() {
		printInfo("stress: %d threads x %d iterations in %s (%d backoffs)\n",
			res.Threads, res.Iterations, res.Elapsed.Round(time.Millisecond), res.Backoffs)
	})
}

func stressWorker(th *heap.Thread, w int) error {
	for i := range stressIterations {
		size := 1 + uintptr((i*31+w*17)%int(stressSize))
		p, err := th.Malloc(size)
		if err != nil {
			return fmt.Errorf("thread %d iteration %d: %w", w, i, err)
		}
		b, err := th.Bytes(p)
		if err != nil {
			return err
		}
		b[0] = byte(w)
		if i >= stressIterations-stressKeep {
			continue
		}
		if err := th.Free(p); err != nil {
			return fmt.Errorf("thread %d iteration %d: %w", w, i, err)
		}
	}
	return nil
}
