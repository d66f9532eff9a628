package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/unijord/tracecurve"
	"github.com/unijord/tracecurve/pkg/config"
	"github.com/unijord/tracecurve/pkg/ledger"
	"github.com/unijord/tracecurve/pkg/record"
	"github.com/unijord/tracecurve/pkg/tracelog"
)

func newRunCmd() *cobra.Command {
	var (
		noStage bool
		useMmap bool
		dryRun  bool
		lf      ledgerFlags
	)

	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Process every node listed in the data directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if noStage || dryRun {
				cfg.Stage = false
			}
			if useMmap {
				cfg.Reader = tracelog.ModeMmap
			}
			if lf.path != "" {
				cfg.Ledger.Path = lf.path
			}
			if lf.driver != "" {
				cfg.Ledger.Driver = ledger.Driver(lf.driver)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			opts := []tracecurve.EngineOptions{
				tracecurve.WithOutput(cmd.OutOrStdout()),
				tracecurve.WithConfigPath(args[0]),
				tracecurve.WithLogger(slog.Default()),
			}
			if dryRun {
				opts = append(opts, tracecurve.WithSinkFactory(func(string, string) record.Sink {
					return record.NewMemorySink()
				}))
			}
			if cfg.Ledger.Path != "" {
				store, err := ledger.Open(cfg.Ledger.Driver, cfg.Ledger.Path, slog.Default())
				if err != nil {
					return err
				}
				defer store.Close()
				opts = append(opts, tracecurve.WithLedger(store))
			}

			engine, err := tracecurve.NewEngine(cfg, opts...)
			if err != nil {
				return err
			}

			report, err := engine.Run()
			if err != nil {
				return err
			}
			slog.Info("run complete", "run", report.RunID, "nodes", len(report.Results), "failed", len(report.Failed()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noStage, "no-stage", false, "Do not clear node directories before processing")
	cmd.Flags().BoolVar(&useMmap, "mmap", false, "Read logs through a memory map")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Classify without writing curve files (implies --no-stage)")
	lf.register(cmd, false)
	return cmd
}
