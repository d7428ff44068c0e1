package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tablestack/posmigrate/internal/orchestrator"
)

var (
	runTenant        string
	runConnection    string
	runPOSType       string
	runSchemaPath    string
	runCustomersPath string
	runAutoApprove   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full migration for one POS export",
	Long:  "Drives a migration end to end: analysis, mapping, validation, batched import, verification, and completion. Stops at the validation gate unless every blocker is resolved.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, runSchemaPath)
		if err != nil {
			return err
		}
		defer env.Close()

		customers, err := loadCustomers(runCustomersPath)
		if err != nil {
			return err
		}

		status, err := env.Orch.StartMigration(ctx, runTenant, runConnection, runPOSType)
		if err != nil {
			return err
		}
		migrationID := status.MigrationID
		fmt.Printf("migration %s started\n", migrationID)

		plan, err := env.Orch.RunAnalysis(ctx, migrationID)
		if err != nil {
			return err
		}
		fmt.Printf("plan: %d mappings, complexity %s, estimated %.1fh, confidence %.2f\n",
			len(plan.FieldMappings), plan.Complexity, plan.EstimatedHours, plan.ConfidenceScore)

		if plan.ConfidenceScore < 0.5 && !runAutoApprove {
			return eris.Errorf("plan confidence %.2f is below 0.5; review with 'posmigrate plan' and re-run with --auto-approve", plan.ConfidenceScore)
		}

		if err := env.Orch.FinalizeMapping(ctx, migrationID, nil); err != nil {
			return err
		}

		blockers, err := env.Orch.RunValidation(ctx, migrationID, customers)
		if err != nil {
			return err
		}
		for _, b := range blockers {
			zap.L().Warn("validation blocker", zap.String("migration_id", migrationID), zap.String("blocker", b))
		}

		if err := env.Orch.RunImport(ctx, migrationID, customers); err != nil {
			if orchestrator.IsGateBlocked(err) {
				fmt.Println("import blocked by validation gate:")
				fmt.Println(err.Error())
				return eris.New("resolve the blockers and re-run")
			}
			return err
		}

		report, err := env.Orch.RunVerification(ctx, migrationID)
		if err != nil {
			return err
		}
		fmt.Printf("verification: %d anomalies\n", len(report.Anomalies))

		if err := env.Orch.Complete(ctx, migrationID, customers); err != nil {
			return err
		}

		final, err := env.Orch.Status(ctx, migrationID)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(final, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runTenant, "tenant", "", "tenant ID (required)")
	runCmd.Flags().StringVar(&runConnection, "connection", "", "POS connection ID (required)")
	runCmd.Flags().StringVar(&runPOSType, "pos-type", "", "legacy POS type, names the export file (required)")
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "", "target schema JSON file (default: built-in item schema)")
	runCmd.Flags().StringVar(&runCustomersPath, "customers", "", "customer consent roster JSON file")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "proceed past low-confidence plans without review")
	_ = runCmd.MarkFlagRequired("tenant")
	_ = runCmd.MarkFlagRequired("connection")
	_ = runCmd.MarkFlagRequired("pos-type")
	rootCmd.AddCommand(runCmd)
}
