package commands

import (
	"fmt"

	"amazon-invoices/internal/scrapers/amazon"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(normalizeCmd)
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize <date>...",
	Short: "Prints the folder an order date is filed under.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		for _, raw := range args {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", raw, amazon.NormalizeDate(raw))
		}
	},
}
