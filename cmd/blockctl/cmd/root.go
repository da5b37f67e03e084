// Package cmd holds the blockctl command tree.
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/logging"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	cfgFile string
	verbose bool
}

// NewRootCmd builds a fresh command tree. Each call returns independent
// flag state so tests can execute commands side by side.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "blockctl",
		Short: "Gray Logic workspace tooling",
		Long: `blockctl works with Gray Logic workspace documents outside the hub.

Commands:
  inspect  - parse a document and list its scripts and procedures
  run      - execute a document locally with the built-in blocks
  migrate  - apply or list hub database migrations
  version  - print build information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default: built-in defaults)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose log output")

	root.AddCommand(
		newInspectCmd(),
		newRunCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig returns the configuration named by --config, or the defaults
// when no file was given.
func (o *options) loadConfig() (*config.Config, error) {
	if o.cfgFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// logger builds a text logger on stderr so stdout stays readable.
func (o *options) logger(cfg *config.Config) *logging.Logger {
	lc := cfg.Logging
	lc.Format = "text"
	lc.Output = "stderr"
	lc.Level = "warn"
	if o.verbose {
		lc.Level = "debug"
	}
	return logging.New(lc, Version)
}

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...) //nolint:errcheck // terminal output
}
