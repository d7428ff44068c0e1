package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tablestack/posmigrate/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "posmigrate",
	Short: "AI-assisted POS data migration engine",
	Long:  "Ingests legacy point-of-sale exports, proposes field mappings via Claude with rule-based fallback, validates pricing and completeness, and imports in restartable audited batches.",
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
