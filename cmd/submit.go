package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/schema-cli/internal/ingest"
	"github.com/sells-group/schema-cli/internal/model"
	"github.com/sells-group/schema-cli/internal/notify"
	"github.com/sells-group/schema-cli/internal/pipeline"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Validate a batch of rows and start a run",
	Long: `Reads rows from --csv, --xlsx, or --paste-file, normalizes them against
the live taxonomy, and starts a batch run over the valid rows. Validation
errors block submission. With --dry-run the rows are only validated.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		offline, _ := cmd.Flags().GetBool("offline")
		env, err := initEnv(ctx, offline)
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := readRows(cmd)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return eris.New("input contains no rows")
		}

		normalizer := ingest.NewNormalizer(env.catalog)
		valid, errs := normalizer.Validate(rows)

		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		if len(errs) > 0 {
			return eris.Errorf("%d validation errors; fix the input and resubmit", len(errs))
		}
		if len(valid) == 0 {
			return eris.New("no valid rows to submit")
		}

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			fmt.Printf("%d rows valid; dry run, no run created\n", len(valid))
			return nil
		}

		label, _ := cmd.Flags().GetString("label")
		run, err := env.orch.CreateRun(ctx, label, valid)
		if err != nil {
			return err
		}
		fmt.Printf("Run %s created with %d rows\n", run.ID, run.TotalRows)

		overwrite, _ := cmd.Flags().GetBool("overwrite")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentRows
		}

		watchRun(env, run.ID)
		if err := env.orch.Process(ctx, run.ID, pipeline.Options{Overwrite: overwrite, Concurrency: concurrency}); err != nil {
			return err
		}

		final, err := env.store.GetRun(ctx, run.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Run %s finished: %s\n", final.ID, final.Status)
		return nil
	},
}

// watchRun prints item deltas while the run processes in the foreground.
func watchRun(env *env, runID string) {
	events, cancel := env.broker.Subscribe(runID)
	go func() {
		defer cancel()
		for ev := range events {
			switch ev.Kind {
			case notify.EventItem:
				it := ev.Item
				fmt.Printf("row %d: result=%s html=%s schema=%s validation=%s\n",
					it.RowNumber, it.Result, it.HTMLStatus, it.SchemaStatus, it.ValidationStatus)
			case notify.EventRun:
				zap.L().Info("run status", zap.String("run_id", runID), zap.String("status", string(ev.Status)))
			}
		}
	}()
}

func readRows(cmd *cobra.Command) ([]model.RawRow, error) {
	csvPath, _ := cmd.Flags().GetString("csv")
	xlsxPath, _ := cmd.Flags().GetString("xlsx")
	pastePath, _ := cmd.Flags().GetString("paste-file")

	set := 0
	for _, p := range []string{csvPath, xlsxPath, pastePath} {
		if p != "" {
			set++
		}
	}
	if set > 1 {
		return nil, eris.New("use only one of --csv, --xlsx, --paste-file")
	}

	switch {
	case csvPath != "":
		f, err := os.Open(csvPath)
		if err != nil {
			return nil, eris.Wrap(err, "open csv")
		}
		defer f.Close() //nolint:errcheck
		return ingest.ParseCSV(f)
	case xlsxPath != "":
		return ingest.ParseXLSX(xlsxPath)
	case pastePath != "":
		data, err := os.ReadFile(pastePath)
		if err != nil {
			return nil, eris.Wrap(err, "read paste file")
		}
		return ingest.ParsePaste(string(data)), nil
	default:
		// No file flags: read CSV from stdin.
		return ingest.ParseCSV(cmd.InOrStdin())
	}
}

func init() {
	submitCmd.Flags().String("csv", "", "CSV file with domain,path,page_type,category columns")
	submitCmd.Flags().String("xlsx", "", "XLSX workbook, first sheet, same columns as CSV")
	submitCmd.Flags().String("paste-file", "", "tab-delimited file in path,domain,page_type,category order")
	submitCmd.Flags().String("label", "", "label for the run")
	submitCmd.Flags().Bool("dry-run", false, "validate only, do not create a run")
	submitCmd.Flags().Bool("overwrite", false, "overwrite existing pages instead of skipping them")
	submitCmd.Flags().Int("concurrency", 0, "concurrent rows (default from config)")
	submitCmd.Flags().Bool("offline", false, "use stub collaborators instead of live services")
	rootCmd.AddCommand(submitCmd)
}
