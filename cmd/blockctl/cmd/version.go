package cmd

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			printf(out, "blockctl %s\n", Version)
			printf(out, "  Git Commit: %s\n", GitCommit)
			printf(out, "  Build Date: %s\n", BuildDate)
			printf(out, "  Go Version: %s\n", runtime.Version())
			printf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
