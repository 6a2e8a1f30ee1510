package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/cma/heap"
	"github.com/joshuapare/cma/internal/logger"
)

var (
	// Global flags
	verbose  bool
	quiet    bool
	jsonOut  bool
	debug    bool
	protect  bool
	bypass   bool
	pageSize uint64
)

var rootCmd = &cobra.Command{
	Use:   "cmactl",
	Short: "Exercise and inspect the CMA heap allocator",
	Long: `cmactl drives the CMA allocator through stress, limit, alignment and
leak scenarios and prints the resulting heap statistics.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.Options{Enabled: verbose, Level: slog.LevelDebug})
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and allocation logging")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable guard bytes around every allocation")
	rootCmd.PersistentFlags().BoolVar(&protect, "protect", false, "Write-protect allocator metadata outside the lock")
	rootCmd.PersistentFlags().BoolVar(&bypass, "bypass", false, "Delegate to the system allocator")
	rootCmd.PersistentFlags().Uint64Var(&pageSize, "page-size", 0, "Page granularity in bytes (default 128 KiB)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newHeap builds a heap from the environment overlaid with the global flags.
func newHeap() (*heap.Heap, error) {
	cfg, err := heap.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Debug = cfg.Debug || debug
	cfg.ProtectMetadata = cfg.ProtectMetadata || protect
	cfg.Bypass = cfg.Bypass || bypass
	if pageSize != 0 {
		cfg.PageSize = uintptr(pageSize)
	}
	cfg.LogAllocations = cfg.LogAllocations || verbose
	cfg.Logger = logger.L
	return heap.New(cfg)
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// report prints a command's result followed by the heap statistics.
func report(h *heap.Heap, result any, lines func()) error {
	s, err := h.Stats()
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(struct {
			Result any        `json:"result"`
			Stats  heap.Stats `json:"stats"`
		}{result, s})
	}
	lines()
	printStats(s)
	return nil
}

func printStats(s heap.Stats) {
	printInfo("allocations:   %d\n", s.AllocationCount)
	printInfo("frees:         %d\n", s.FreeCount)
	printInfo("current bytes: %d\n", s.CurrentBytes)
	printInfo("peak bytes:    %d\n", s.PeakBytes)
	printVerbose("pages:         %d (%d created, %d released, %d bytes mapped)\n",
		s.Pages, s.PagesCreated, s.PagesReleased, s.BytesMapped)
	printVerbose("splits/merges: %d/%d\n", s.Splits, s.Merges)
	printVerbose("headers:       %d in %d chunks\n", s.Headers, s.Chunks)
	printVerbose("lock cycles:   %d\n", s.Cycles)
}
