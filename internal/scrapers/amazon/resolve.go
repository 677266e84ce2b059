package amazon

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"amazon-invoices/internal/components/assert"
	"amazon-invoices/internal/components/telemetry"
	"amazon-invoices/lib/htmlutil"
	"amazon-invoices/lib/restyutil"
	"amazon-invoices/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_resolver_control = "resolver.control"
	report_resolver_popover = "resolver.popover"
	report_resolver_dismiss = "resolver.dismiss"
)

var ErrPopoverTimeout = errors.New("invoice popover did not appear")

func isDirectFile(u *url.URL) bool {
	if strings.Contains(strings.ToLower(u.Host), "s3.amazonaws.com") {
		return true
	}
	return strings.Contains(strings.ToLower(u.Path), ".pdf")
}

// ClassifyPopover turns the markup of a revealed invoice popover into
// candidates. Relative links are resolved against base.
func ClassifyPopover(orderID, popoverHTML string, base *url.URL) []InvoiceCandidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(popoverHTML))
	if err != nil {
		return nil
	}
	anchors := htmlutil.GetAnchors(base, doc.Find("a"))

	kind := KindDirectFile
	var matched []htmlutil.Anchor
	for _, a := range anchors {
		if isDirectFile(a.Url) {
			matched = append(matched, a)
		}
	}
	if len(matched) == 0 {
		kind = KindGenericLink
		for _, a := range anchors {
			if textutil.MatchName(a.Name, invoiceLinkLabels) {
				matched = append(matched, a)
			}
		}
	}

	seenUrls := map[string]struct{}{}
	labelCounts := map[string]int{}
	var candidates []InvoiceCandidate
	for _, a := range matched {
		if textutil.MatchName(a.Name, nonArtifactLabels) {
			continue
		}
		link := a.Url.String()
		if _, seen := seenUrls[link]; seen {
			continue
		}
		seenUrls[link] = struct{}{}

		label := a.Name
		if label == "" {
			label = "Invoice"
		}
		labelCounts[label]++
		if n := labelCounts[label]; n > 1 {
			label = fmt.Sprintf("%s (%d)", label, n)
		}

		candidates = append(candidates, InvoiceCandidate{
			OrderID: orderID,
			Label:   label,
			URL:     a.Url,
			Kind:    kind,
		})
	}
	return candidates
}

// Resolver reveals the invoice popover of an order and classifies its links.
type Resolver struct {
	session        Session
	tel            telemetry.API
	popoverTimeout time.Duration
	captures       restyutil.InstrumentOutput
}

func NewResolver(session Session, tel telemetry.API, popoverTimeout time.Duration, captures restyutil.InstrumentOutput) Resolver {
	assert.NotNil(session)
	assert.NotNil(tel)
	assert.Positive(popoverTimeout)
	if captures == nil {
		captures = restyutil.DiscardOutput{}
	}
	return Resolver{
		session:        session,
		tel:            tel,
		popoverTimeout: popoverTimeout,
		captures:       captures,
	}
}

func (r Resolver) findControl(ctx context.Context, entry ListingEntry) (Element, error) {
	links, err := entry.Region.Query(ctx, "a")
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		markup, err := link.OuterHTML(ctx)
		if err != nil {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
		if err != nil {
			continue
		}
		text := htmlutil.SelectionText(doc.Find("a"))
		if textutil.MatchName(text, invoiceControlLabels) && !textutil.MatchName(text, nonArtifactLabels) {
			return link, nil
		}
	}
	return nil, nil
}

func (r Resolver) dismiss(ctx context.Context) {
	err := r.session.PressKey(ctx, "Escape")
	if err != nil {
		r.tel.ReportDebug(report_resolver_dismiss, err)
	}
}

// Candidates yields the invoice candidates of a listing entry. Every failure
// is reported and results in zero candidates.
func (r Resolver) Candidates(ctx context.Context, entry ListingEntry) []InvoiceCandidate {
	orderID := entry.Record.OrderID

	control, err := r.findControl(ctx, entry)
	if err != nil {
		r.tel.ReportWarning(report_resolver_control, err, orderID)
		return nil
	}
	if control == nil {
		r.tel.ReportDebug("no invoice control", orderID)
		return nil
	}

	r.dismiss(ctx)
	err = control.Click(ctx)
	if err != nil {
		r.tel.ReportWarning(report_resolver_control, fmt.Errorf("activate invoice control: %w", err), orderID)
		return nil
	}
	defer r.dismiss(ctx)

	err = r.session.WaitVisible(ctx, selectorPopover, r.popoverTimeout)
	if err != nil {
		r.tel.ReportWarning(report_resolver_popover, fmt.Errorf("%w: %w", ErrPopoverTimeout, err), orderID)
		return nil
	}
	markup, ok, err := r.session.VisibleHTML(ctx, selectorPopover)
	if err != nil || !ok {
		r.tel.ReportWarning(report_resolver_popover, ErrPopoverTimeout, orderID, err)
		return nil
	}
	r.captures.Write(fmt.Sprintf("popover-%s.html", orderID), markup)

	var base *url.URL
	location, err := r.session.Location(ctx)
	if err == nil {
		base, _ = url.Parse(location)
	}

	candidates := ClassifyPopover(orderID, markup, base)
	r.tel.ReportDebug("resolved invoice candidates", orderID, len(candidates))
	return candidates
}
