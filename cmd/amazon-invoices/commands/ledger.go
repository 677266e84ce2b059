package commands

import (
	"time"

	"amazon-invoices/internal/components/chrono"
	"amazon-invoices/internal/ledger"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var ledgerLocation string

func init() {
	ledgerCmd.PersistentFlags().StringVar(&ledgerLocation, "ledger", "", "The ledger to read, defaults to the one in the configured output directory.")
	ledgerCmd.AddCommand(ledgerListCmd)
	rootCmd.AddCommand(ledgerCmd)
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspects the record of downloaded invoices.",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists every downloaded invoice.",
	RunE: func(cmd *cobra.Command, args []string) error {
		location := ledgerLocation
		if location == "" {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			location = cfg.LedgerLocation()
		}

		store, err := ledger.OpenPath(cmd.Context(), location, chrono.NewStandardTime())
		if err != nil {
			return err
		}
		defer store.Close()

		t := newTable(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"Order", "Label", "Saved", "Path"})
		for _, rec := range store.Records() {
			t.AppendRow(table.Row{
				rec.Key.OrderID,
				rec.Key.Label,
				rec.Timestamp.Local().Format(time.DateTime),
				rec.Path,
			})
		}
		t.AppendFooter(table.Row{"", "", "Total", store.Len()})
		t.Render()
		return nil
	},
}
