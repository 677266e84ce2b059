package amazon

import (
	"fmt"
	"strings"
)

const (
	ordersURL  = "https://www.amazon.nl/your-orders/orders?ref_=nav_orders_first&language=en_GB"
	page2URL   = "https://www.amazon.nl/your-orders/orders?startIndex=10&language=en_GB"
	signInURL  = "https://www.amazon.nl/ap/signin?openid.return_to=https%3A%2F%2Fwww.amazon.nl%2Fyour-orders%2Forders"
	samplePDF  = "%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF"
	otherPDF   = "%PDF-1.7\n2 0 obj\n<<>>\nendobj\n%%EOF"
	notFoundPg = "<html><body>Sorry, we couldn't find that page</body></html>"
)

type fixtureOrder struct {
	id       string
	date     string
	titles   []string
	category string
}

// orderBox renders a listing entry the way the order history page does.
func orderBox(o fixtureOrder) string {
	var titles strings.Builder
	for _, t := range o.titles {
		fmt.Fprintf(&titles, `<div class="a-fixed-left-grid-col a-col-right"><div class="a-row"><a class="a-link-normal yohtmlc-product-title" href="/gp/product/B000">%s</a></div></div>`, t)
	}
	category := ""
	if o.category != "" {
		category = fmt.Sprintf(`<span class="a-size-small a-color-secondary a-text-bold">%s</span>`, o.category)
	}
	return fmt.Sprintf(`<div class="a-box-group a-spacing-base order js-order-card">
  <div class="a-box a-color-offset-background order-info"><div class="a-box-inner"><div class="a-fixed-right-grid-inner">
    <div class="a-column a-span3">
      <div class="a-row a-size-mini"><span class="a-color-secondary label">Order placed</span></div>
      <div class="a-row a-size-base"><span class="a-size-base a-color-secondary">%s</span></div>
    </div>
    <div class="a-fixed-right-grid-col actions a-col-right">
      <div class="a-row a-size-mini yohtmlc-order-id">
        <span class="a-color-secondary a-text-caps">Order #</span>
        <span class="a-color-secondary" dir="ltr">%s</span>
      </div>
      <div class="a-row a-size-base">
        <span class="a-declarative"><a class="a-link-normal" data-popover="%s" href="javascript:void(0)">Invoice</a></span>
      </div>
    </div>
  </div></div></div>
  <div class="a-box shipment"><div class="a-box-inner">%s%s</div></div>
</div>`, o.date, o.id, o.id, category, titles.String())
}

func listingPage(next string, selected int, boxes ...string) string {
	pagination := ""
	switch next {
	case "":
	case "disabled":
		pagination = fmt.Sprintf(`<ul class="a-pagination"><li class="a-normal"><a href="/your-orders/orders?startIndex=0">1</a></li><li class="a-selected"><a href="#">%d</a></li><li class="a-disabled a-last">Next<span class="a-letter-space"></span>→</li></ul>`, selected)
	default:
		pagination = fmt.Sprintf(`<ul class="a-pagination"><li class="a-disabled">←<span class="a-letter-space"></span>Previous</li><li class="a-selected"><a href="#">%d</a></li><li class="a-last"><a href="%s">Next<span class="a-letter-space"></span>→</a></li></ul>`, selected, next)
	}
	return fmt.Sprintf(`<html><body><div id="ordersContainer">%s</div><div class="a-text-center">%s</div></body></html>`, strings.Join(boxes, "\n"), pagination)
}

func popoverLinks(links ...[2]string) string {
	var out strings.Builder
	out.WriteString(`<ul class="a-unordered-list a-vertical invoice-list">`)
	for _, l := range links {
		fmt.Fprintf(&out, `<li><span class="a-list-item"><a class="a-link-normal" href="%s">%s</a></span></li>`, l[0], l[1])
	}
	out.WriteString(`</ul>`)
	return out.String()
}
