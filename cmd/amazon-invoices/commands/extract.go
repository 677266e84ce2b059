package commands

import (
	"os"

	"amazon-invoices/internal/scrapers/amazon"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(extractCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract <listing.html>",
	Short: "Classifies the orders of a saved order history page without a browser.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contents, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		verdicts, err := amazon.ClassifyDocument(string(contents))
		if err != nil {
			return err
		}

		t := newTable(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"#", "Order", "Date", "Bucket", "Products", "Skipped because"})
		for i, v := range verdicts {
			if !v.Qualifying {
				t.AppendRow(table.Row{i + 1, "", "", "", "", v.Reason})
				continue
			}
			t.AppendRow(table.Row{
				i + 1,
				v.Record.OrderID,
				v.Record.OrderDate,
				amazon.NormalizeDate(v.Record.OrderDate),
				len(v.Record.ProductTitles),
				"",
			})
		}
		t.Render()
		return nil
	},
}
