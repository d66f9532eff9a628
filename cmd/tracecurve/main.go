package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// errDifferent makes `diff` exit non-zero without printing an error.
var errDifferent = errors.New("runs differ")

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		if !errors.Is(err, errDifferent) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "tracecurve",
		Short:         "Convert per-node trace logs into curve files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("--log-level: %w", err)
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd(), newHistoryCmd(), newDiffCmd())
	return rootCmd
}

// ledgerFlags are shared by commands that read the ledger.
type ledgerFlags struct {
	path   string
	driver string
}

func (f *ledgerFlags) register(cmd *cobra.Command, required bool) {
	cmd.Flags().StringVar(&f.path, "ledger", "", "Path to the run ledger")
	cmd.Flags().StringVar(&f.driver, "ledger-driver", "", "Ledger driver (bolt, sqlite)")
	if required {
		cmd.MarkFlagRequired("ledger")
	}
}
