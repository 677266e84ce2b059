package commands

import (
	"fmt"
	"io"

	"amazon-invoices/internal/scrapers/amazon"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func renderSummary(w io.Writer, summary amazon.Summary) {
	t := newTable(w)
	t.SetTitle("Summary")
	t.AppendHeader(table.Row{"Pages", "Orders", "Candidates", "Downloaded", "Duplicates", "Already saved", "Failed"})
	t.AppendRow(table.Row{
		summary.Pages,
		summary.Orders,
		summary.Candidates,
		summary.Downloaded,
		summary.Duplicates,
		summary.Skipped,
		summary.Failed,
	})
	t.Render()
}

const manualGuidance = `No new invoices were downloaded.
If invoices are missing, download them by hand:
  1. open %s
  2. click "Invoice" next to each order and open the PDF
  3. save it as %s/<MM-YYYY>/%s_<order id>_1.pdf
`

func renderGuidance(w io.Writer, ordersURL, outputDir, prefix string) {
	fmt.Fprintf(w, manualGuidance, ordersURL, outputDir, prefix)
}
