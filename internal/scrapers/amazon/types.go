package amazon

import (
	"net/url"

	"amazon-invoices/lib/textutil"
)

const (
	selectorOrderBox        = ".a-box-group"
	selectorProductTitle    = ".yohtmlc-product-title"
	selectorOrderDate       = ".a-column.a-span3 .a-size-base.a-color-secondary"
	selectorOrderId         = ".yohtmlc-order-id"
	selectorOrderIdValue    = "span.a-color-secondary:not(.a-text-caps)"
	selectorDigitalCategory = "span.a-size-small.a-color-secondary.a-text-bold"
	selectorPopover         = ".a-popover-content"
	selectorPagination      = "ul.a-pagination"
	selectorEmail           = "input#ap_email, input#ap_email_login"
	selectorContinue        = "#continue"
)

// MinOrderIDLength guards against scraping the literal "Order #" label as an id.
const MinOrderIDLength = 3

var (
	// labels of the control that opens the invoice popover of an order
	invoiceControlLabels = textutil.NormalizeAll([]string{"Invoice", "Factuur"})
	// labels of popover links that lead to an invoice document
	invoiceLinkLabels = textutil.NormalizeAll([]string{"Invoice", "Credit note", "Factuur", "Creditnota"})
	// popover actions that never yield a document
	nonArtifactLabels = textutil.NormalizeAll([]string{
		"Request invoice",
		"Order summary",
		"Factuur aanvragen",
		"Besteloverzicht",
	})
	downloadControlLabels = textutil.NormalizeAll([]string{"Download", "Downloaden"})
	digitalCategories     = textutil.NormalizeAll([]string{"Prime Video"})
	orderIdLabelPrefixes  = []string{"Order #", "Order#", "Order nr.", "Bestelnr.", "Bestelling #", "Bestelling"}
)

// OrderRecord is one qualifying purchase from the listing.
type OrderRecord struct {
	OrderID       string
	OrderDate     string
	ProductTitles []string
}

// ListingEntry is an OrderRecord together with the DOM region it came from.
type ListingEntry struct {
	Index  int
	Record OrderRecord
	Region Element
}

type CandidateKind int

const (
	// KindDirectFile is a link straight to a hosted PDF.
	KindDirectFile CandidateKind = iota
	// KindGenericLink is a labelled link that has to be opened to reach the PDF.
	KindGenericLink
)

func (k CandidateKind) String() string {
	switch k {
	case KindDirectFile:
		return "direct-file-link"
	case KindGenericLink:
		return "generic-link"
	}
	return "unknown"
}

// InvoiceCandidate is a UI affordance that might yield an invoice document.
type InvoiceCandidate struct {
	OrderID string
	Label   string
	URL     *url.URL
	Kind    CandidateKind
}
