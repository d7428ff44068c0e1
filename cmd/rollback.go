package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackReason string

var rollbackCmd = &cobra.Command{
	Use:   "rollback <migration-id>",
	Short: "Reverse a migration's committed batches",
	Long:  "Deletes every committed batch from the target and moves the migration to rolled_back. Safe to re-run: already reversed batches are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orch.Rollback(ctx, args[0], rollbackReason); err != nil {
			return err
		}
		fmt.Printf("migration %s rolled back\n", args[0])
		return nil
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "operator request", "reason recorded in the audit trail")
	rootCmd.AddCommand(rollbackCmd)
}
