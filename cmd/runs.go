package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/schema-cli/internal/model"
	"github.com/sells-group/schema-cli/internal/progress"
	"github.com/sells-group/schema-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect batch run history",
	Long:  "Commands for listing runs, viewing per-row status, and summarizing progress.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batch runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		label, _ := cmd.Flags().GetString("label")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")

		filter := store.RunFilter{
			Status: model.RunStatus(status),
			Label:  label,
			Limit:  limit,
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLABEL\tROWS\tSTATUS\tCREATED")
		for i := range runs {
			r := &runs[i]
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				r.ID, r.Label, r.TotalRows, r.Status,
				r.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its per-row statuses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		items, err := st.ListRunItems(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show items")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Run   *model.Run      `json:"run"`
				Items []model.RunItem `json:"items"`
			}{run, items})
		}

		fmt.Printf("Run %s (%s): %s, %d rows\n", run.ID, run.Label, run.Status, run.TotalRows)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROW\tDOMAIN\tPATH\tRESULT\tHTML\tSCHEMA\tVALIDATION\tERRORS")
		for i := range items {
			it := &items[i]
			errCol := it.ErrorMessage
			if errCol == "" && it.ValidationErrors > 0 {
				errCol = fmt.Sprintf("%d validation errors", it.ValidationErrors)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				it.RowNumber, it.Domain, it.Path, it.Result,
				it.HTMLStatus, it.SchemaStatus, it.ValidationStatus, errCol)
		}
		return w.Flush()
	},
}

// -- runs progress --

var runsProgressCmd = &cobra.Command{
	Use:   "progress <run-id>",
	Short: "Show aggregate progress and an ETA for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs progress")
		}
		items, err := st.ListRunItems(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs progress items")
		}

		s := progress.Summarize(items)
		fmt.Printf("Run %s: %s\n", run.ID, run.Status)
		fmt.Printf("  completed: %d/%d\n", s.Completed, s.Total)
		fmt.Printf("  created %d, updated %d, skipped %d, errors %d\n",
			s.Created, s.Updated, s.SkippedDuplicate, s.Errors)
		fmt.Printf("  html ok %d, schema ok %d, valid %d, invalid %d\n",
			s.HTMLSuccess, s.SchemaSuccess, s.Valid, s.Invalid)

		if run.Status == model.RunStatusRunning {
			if eta := progress.EstimateRemaining(s, run.CreatedAt, time.Now()); eta != nil {
				fmt.Printf("  eta: %s (%s/row)\n", eta.Remaining.Round(time.Second), eta.AvgPerRow.Round(time.Millisecond))
			} else {
				fmt.Println("  eta: unknown until the first row completes")
			}
		}
		return nil
	},
}

// -- runs delete --

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and all its row records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.DeleteRun(ctx, args[0]); err != nil {
			return eris.Wrap(err, "runs delete")
		}
		fmt.Printf("Deleted run %s\n", args[0])
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (pending, running, complete, failed)")
	runsListCmd.Flags().String("label", "", "filter by run label")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Duration("since", 0, "only runs created within this window (e.g. 24h)")

	runsShowCmd.Flags().Bool("json", false, "output as JSON")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsProgressCmd, runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}
