package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/schema-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "schema-cli",
	Short: "JSON-LD schema admin engine",
	Long:  "Manages generation rules, validates batch submissions against the site taxonomy, and drives batch runs that upsert pages, fetch HTML, generate JSON-LD via Claude, and validate the result.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
