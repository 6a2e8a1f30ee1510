package main

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type buildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Built   string `json:"built"`
	Go      string `json:"go"`
}

func currentBuild() buildInfo {
	return buildInfo{Version: version, Commit: commit, Built: date, Go: runtime.Version()}
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := currentBuild()
			if jsonOut {
				return printJSON(b)
			}
			printInfo("cmactl %s (commit %s, built %s, %s)\n", b.Version, b.Commit, b.Built, b.Go)
			return nil
		},
	})
}
