package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set through -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type versionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Built   string `json:"built"`
	Go      string `json:"go"`
}

func currentVersion() versionInfo {
	v := versionInfo{Version: version, Commit: commit, Built: date, Go: runtime.Version()}
	if v.Version != "dev" {
		return v
	}
	// go install builds carry the module version and VCS stamp instead
	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			v.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				v.Commit = s.Value
			case "vcs.time":
				v.Built = s.Value
			}
		}
	}
	return v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := currentVersion()
		if jsonOut {
			return printJSON(v)
		}
		fmt.Printf("cilctl %s\n", v.Version)
		fmt.Printf("  commit: %s\n", v.Commit)
		fmt.Printf("  built: %s\n", v.Built)
		fmt.Printf("  go: %s\n", v.Go)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
