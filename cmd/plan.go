package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	planTenant     string
	planConnection string
	planPOSType    string
	planSchemaPath string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Analyze an export and print the migration plan",
	Long:  "Runs setup and analysis only: samples the export, proposes field mappings, and prints the plan as JSON for review. The migration is left in the analysis phase.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, planSchemaPath)
		if err != nil {
			return err
		}
		defer env.Close()

		status, err := env.Orch.StartMigration(ctx, planTenant, planConnection, planPOSType)
		if err != nil {
			return err
		}

		plan, err := env.Orch.RunAnalysis(ctx, status.MigrationID)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planTenant, "tenant", "", "tenant ID (required)")
	planCmd.Flags().StringVar(&planConnection, "connection", "", "POS connection ID (required)")
	planCmd.Flags().StringVar(&planPOSType, "pos-type", "", "legacy POS type, names the export file (required)")
	planCmd.Flags().StringVar(&planSchemaPath, "schema", "", "target schema JSON file")
	_ = planCmd.MarkFlagRequired("tenant")
	_ = planCmd.MarkFlagRequired("connection")
	_ = planCmd.MarkFlagRequired("pos-type")
	rootCmd.AddCommand(planCmd)
}
