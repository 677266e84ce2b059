package amazon

import (
	"context"
	"iter"
	"strings"

	"amazon-invoices/internal/components/telemetry"
	"amazon-invoices/lib/htmlutil"
	"amazon-invoices/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_extractor_query = "extractor.query"
	report_extractor_entry = "extractor.entry"
)

// Classification is the verdict on a single listing entry. Record is only
// meaningful when Qualifying is true, Reason only when it is false.
type Classification struct {
	Qualifying bool
	Reason     string
	Record     OrderRecord
}

// ClassifyEntry parses the markup of one listing entry and decides whether it
// is a product order with a usable id and date.
func ClassifyEntry(entryHTML string) Classification {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(entryHTML))
	if err != nil {
		return Classification{Reason: "unparsable markup: " + err.Error()}
	}
	box := doc.Find(selectorOrderBox).First()
	if box.Length() == 0 {
		box = doc.Selection
	}
	return classifySelection(box)
}

// ClassifyDocument classifies every listing entry of a full listing page.
func ClassifyDocument(pageHTML string) ([]Classification, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, err
	}
	var out []Classification
	doc.Find(selectorOrderBox).Each(func(_ int, box *goquery.Selection) {
		out = append(out, classifySelection(box))
	})
	return out, nil
}

func classifySelection(box *goquery.Selection) Classification {
	titleNodes := box.Find(selectorProductTitle)
	if titleNodes.Length() == 0 {
		category := htmlutil.SelectionText(box.Find(selectorDigitalCategory))
		if textutil.MatchName(category, digitalCategories) {
			return Classification{Reason: "digital video order"}
		}
		return Classification{Reason: "no product titles"}
	}

	date := orderDate(box)
	if date == "" {
		return Classification{Reason: "no order date"}
	}

	id := orderId(box)
	if id == "" {
		return Classification{Reason: "no order id"}
	}
	if len(id) < MinOrderIDLength {
		return Classification{Reason: "order id too short: " + id}
	}

	var titles []string
	titleNodes.Each(func(_ int, s *goquery.Selection) {
		if title := htmlutil.SelectionText(s); title != "" {
			titles = append(titles, title)
		}
	})
	if len(titles) == 0 {
		return Classification{Reason: "only empty product titles"}
	}

	return Classification{
		Qualifying: true,
		Record: OrderRecord{
			OrderID:       id,
			OrderDate:     date,
			ProductTitles: titles,
		},
	}
}

func orderDate(box *goquery.Selection) string {
	for _, selector := range []string{
		selectorOrderDate,
		".order-header__header-list-item .a-size-base.a-color-secondary",
	} {
		sel := box.Find(selector)
		for i := range sel.Nodes {
			if text := htmlutil.CleanText(sel.Nodes[i]); text != "" {
				return text
			}
		}
	}
	return ""
}

func orderId(box *goquery.Selection) string {
	container := box.Find(selectorOrderId).First()
	if container.Length() == 0 {
		return ""
	}

	value := container.Find(selectorOrderIdValue)
	for i := range value.Nodes {
		if text := stripOrderIdLabel(htmlutil.CleanText(value.Nodes[i])); text != "" {
			return text
		}
	}
	return stripOrderIdLabel(htmlutil.SelectionText(container))
}

func stripOrderIdLabel(text string) string {
	text = strings.TrimSpace(text)
	for _, prefix := range orderIdLabelPrefixes {
		if len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
			text = text[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), ":"))
}

// pageFingerprint is the raw id text of the first three listing entries.
func pageFingerprint(doc *goquery.Document) []string {
	var ids []string
	doc.Find(selectorOrderBox).EachWithBreak(func(_ int, box *goquery.Selection) bool {
		ids = append(ids, orderId(box))
		return len(ids) < 3
	})
	return ids
}

// Extractor walks the listing entries rendered on a surface.
type Extractor struct {
	tel telemetry.API
}

func NewExtractor(tel telemetry.API) Extractor {
	return Extractor{tel: tel}
}

// Entries lazily yields the qualifying entries of the current listing page.
// Rejected entries are reported and skipped, they never end the sequence.
func (e Extractor) Entries(ctx context.Context, surface Surface) iter.Seq[ListingEntry] {
	return func(yield func(ListingEntry) bool) {
		boxes, err := surface.Query(ctx, selectorOrderBox)
		if err != nil {
			e.tel.ReportBroken(report_extractor_query, err)
			return
		}

		for i, box := range boxes {
			if ctx.Err() != nil {
				return
			}

			markup, err := box.OuterHTML(ctx)
			if err != nil {
				e.tel.ReportWarning(report_extractor_entry, err, i)
				continue
			}
			verdict := ClassifyEntry(markup)
			if !verdict.Qualifying {
				e.tel.ReportWarning(report_extractor_entry, verdict.Reason, i)
				continue
			}

			if !yield(ListingEntry{Index: i, Record: verdict.Record, Region: box}) {
				return
			}
		}
	}
}
