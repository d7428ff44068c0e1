package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tablestack/posmigrate/internal/cost"
	"github.com/tablestack/posmigrate/internal/model"
)

var (
	costsFrom string
	costsTo   string
)

var costsCmd = &cobra.Command{
	Use:   "costs <tenant-id>",
	Short: "Report AI token costs for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var period model.Period
		if costsFrom != "" {
			period.From, err = time.Parse(time.RFC3339, costsFrom)
			if err != nil {
				return eris.Wrap(err, "parse --from")
			}
		}
		if costsTo != "" {
			period.To, err = time.Parse(time.RFC3339, costsTo)
			if err != nil {
				return eris.Wrap(err, "parse --to")
			}
		}

		tracker := cost.NewTracker(cfg.Pricing, st)
		defer tracker.Close()

		report, err := tracker.Report(ctx, args[0], period)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	costsCmd.Flags().StringVar(&costsFrom, "from", "", "period start (RFC3339)")
	costsCmd.Flags().StringVar(&costsTo, "to", "", "period end (RFC3339)")
	rootCmd.AddCommand(costsCmd)
}
