package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusAudit bool

var statusCmd = &cobra.Command{
	Use:   "status <migration-id>",
	Short: "Show a migration's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		status, err := st.GetMigration(ctx, args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

		if statusAudit {
			reports, err := st.ListValidationReports(ctx, args[0])
			if err != nil {
				return err
			}
			for _, r := range reports {
				fmt.Printf("report %s: %d anomalies (%d high severity)\n",
					r.Kind, len(r.Anomalies), r.HighSeverityCount())
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusAudit, "reports", false, "also summarize validation reports")
	rootCmd.AddCommand(statusCmd)
}
