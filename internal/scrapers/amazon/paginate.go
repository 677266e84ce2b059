package amazon

import (
	"context"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"amazon-invoices/internal/components/assert"
	"amazon-invoices/internal/components/telemetry"
	"amazon-invoices/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_walker_document = "walker.document"
	report_walker_navigate = "walker.navigate"
)

type AdvanceResult int

const (
	Advanced AdvanceResult = iota
	NoMorePages
	NotAdvanced
)

func (r AdvanceResult) String() string {
	switch r {
	case Advanced:
		return "advanced"
	case NoMorePages:
		return "no more pages"
	case NotAdvanced:
		return "not advanced"
	}
	return "unknown"
}

// Pagination is what the listing's pagination control says about the
// current page.
type Pagination struct {
	Present bool
	// Disabled is set when the "next" control is rendered inert.
	Disabled bool
	Next     *url.URL
	// Selected is the highlighted page number, 0 when unreadable.
	Selected int
}

// ParsePagination reads the pagination control of a listing page.
func ParsePagination(doc *goquery.Document, base *url.URL) Pagination {
	control := doc.Find(selectorPagination).First()
	if control.Length() == 0 {
		return Pagination{}
	}
	info := Pagination{Present: true}

	selected := strings.TrimSpace(htmlutil.SelectionText(control.Find("li.a-selected").First()))
	if n, err := strconv.Atoi(selected); err == nil {
		info.Selected = n
	}

	last := control.Find("li.a-last").First()
	if last.Length() == 0 {
		return info
	}
	if last.HasClass("a-disabled") {
		info.Disabled = true
		return info
	}
	anchors := htmlutil.GetAnchors(base, last.Find("a"))
	if len(anchors) > 0 {
		info.Next = anchors[0].Url
	}
	return info
}

// IsOrdersLocation reports whether a location is an order listing page. Only
// the path is inspected, sign-in pages carry the listing in a return_to query.
func IsOrdersLocation(location string) bool {
	path := location
	if u, err := url.Parse(location); err == nil {
		path = u.Path
	}
	return strings.Contains(path, "your-orders") || strings.Contains(path, "order-history")
}

type WalkerOptions struct {
	NavigationTimeout time.Duration
	IdleTimeout       time.Duration
	// SettleDelay is waited after the page reports idle so late rendering
	// finishes before the fingerprint is taken.
	SettleDelay time.Duration
}

// Walker moves the primary surface to the next listing page.
type Walker struct {
	session Session
	tel     telemetry.API
	options WalkerOptions
}

func NewWalker(session Session, tel telemetry.API, options WalkerOptions) Walker {
	assert.NotNil(session)
	assert.NotNil(tel)
	assert.Positive(options.NavigationTimeout)
	assert.Positive(options.IdleTimeout)
	return Walker{session: session, tel: tel, options: options}
}

func (w Walker) snapshot(ctx context.Context) (*goquery.Document, *url.URL, bool) {
	markup, err := w.session.Document(ctx)
	if err != nil {
		w.tel.ReportWarning(report_walker_document, err)
		return nil, nil, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		w.tel.ReportWarning(report_walker_document, err)
		return nil, nil, false
	}
	location, err := w.session.Location(ctx)
	if err != nil {
		w.tel.ReportWarning(report_walker_document, err)
		return nil, nil, false
	}
	base, err := url.Parse(location)
	if err != nil {
		w.tel.ReportWarning(report_walker_document, err)
		return nil, nil, false
	}
	return doc, base, true
}

// Advance navigates to the next listing page. NotAdvanced means the next
// control exists but following it did not lead to a new listing page.
func (w Walker) Advance(ctx context.Context) AdvanceResult {
	doc, base, ok := w.snapshot(ctx)
	if !ok {
		return NotAdvanced
	}
	before := ParsePagination(doc, base)
	if !before.Present || before.Disabled || before.Next == nil {
		return NoMorePages
	}
	beforeIds := pageFingerprint(doc)

	err := w.session.Navigate(ctx, before.Next.String(), w.options.NavigationTimeout)
	if err != nil {
		w.tel.ReportWarning(report_walker_navigate, err, before.Next.String())
		return NotAdvanced
	}
	err = w.session.WaitIdle(ctx, w.options.IdleTimeout)
	if err != nil {
		w.tel.ReportDebug("listing page not idle", err)
	}
	if w.options.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return NotAdvanced
		case <-time.After(w.options.SettleDelay):
		}
	}

	doc, base, ok = w.snapshot(ctx)
	if !ok {
		return NotAdvanced
	}
	if !IsOrdersLocation(base.String()) {
		w.tel.ReportWarning(report_walker_navigate, "left the order listing", base.String())
		return NotAdvanced
	}

	// Equal fingerprints include two empty listings; only a higher selected
	// page number counts as progress then.
	afterIds := pageFingerprint(doc)
	if slices.Equal(beforeIds, afterIds) {
		after := ParsePagination(doc, base)
		if before.Selected > 0 && after.Selected > before.Selected {
			return Advanced
		}
		w.tel.ReportWarning(report_walker_navigate, "listing did not change", before.Selected, base.String())
		return NotAdvanced
	}
	return Advanced
}
