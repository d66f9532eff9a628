package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/unijord/tracecurve/pkg/ledger"
)

func newHistoryCmd() *cobra.Command {
	var (
		lf    ledgerFlags
		runID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, or the jobs of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ledger.OpenExisting(ledger.Driver(lf.driver), lf.path, slog.Default())
			if err != nil {
				return err
			}
			defer store.Close()

			if runID != "" {
				return printJobs(cmd.OutOrStdout(), store, runID)
			}
			return printRuns(cmd.OutOrStdout(), store)
		},
	}
	lf.register(cmd, true)
	cmd.Flags().StringVar(&runID, "run", "", "Show the jobs of this run")
	return cmd
}

func printRuns(out io.Writer, store ledger.Store) error {
	runs, err := store.Runs()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tNODES\tFAILED\tMAX JOBS\tDATA DIR")
	for _, r := range runs {
		jobs, err := store.Jobs(r.ID)
		if err != nil {
			return err
		}
		failed := 0
		for _, j := range jobs {
			if !j.OK {
				failed++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.Started.Local().Format(time.DateTime), r.Nodes, failed, r.MaxJobs, r.DataDir)
	}
	return w.Flush()
}

func printJobs(out io.Writer, store ledger.Store, runID string) error {
	jobs, err := store.Jobs(runID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tOK\tSTOP\tSTART\tEVENTS\tCURVES\tDURATION\tSTATUS")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%t\t%d\t%d\t%d\t%d\t%s\t%s\n",
			j.Node, j.OK, j.StopTime, j.StartTime, j.Events, len(j.Curves),
			j.Finished.Sub(j.Started).Round(time.Millisecond), statusDetail(j.Status))
	}
	return w.Flush()
}

// statusDetail flattens a multi-line status onto one table cell.
func statusDetail(status string) string {
	_, detail, ok := strings.Cut(status, "\n")
	if !ok {
		return "ok"
	}
	return strings.ReplaceAll(detail, "\n", " | ")
}
