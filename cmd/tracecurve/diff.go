package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/unijord/tracecurve/pkg/ledger"
)

func newDiffCmd() *cobra.Command {
	var lf ledgerFlags

	cmd := &cobra.Command{
		Use:   "diff <runA> <runB>",
		Short: "Compare the outcomes of two runs node by node",
		Long:  "Compare two recorded runs. Exits non-zero when any node was added, removed, changed status or produced different output.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ledger.OpenExisting(ledger.Driver(lf.driver), lf.path, slog.Default())
			if err != nil {
				return err
			}
			defer store.Close()

			a, err := store.Jobs(args[0])
			if err != nil {
				return err
			}
			b, err := store.Jobs(args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			changes := ledger.Diff(a, b)
			if len(changes) == 0 {
				fmt.Fprintf(out, "runs are identical (%d nodes)\n", len(a))
				return nil
			}
			for _, c := range changes {
				fmt.Fprintln(out, c)
			}
			return errDifferent
		},
	}
	lf.register(cmd, true)
	return cmd
}
