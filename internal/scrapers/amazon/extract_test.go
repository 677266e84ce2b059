package amazon

import (
	"context"
	"testing"

	"amazon-invoices/internal/components/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestClassifyEntry(t *testing.T) {
	cases := []struct {
		name     string
		markup   string
		expected Classification
	}{
		{
			name: "product order",
			markup: orderBox(fixtureOrder{
				id:     "402-1234567-1234567",
				date:   "13 March 2023",
				titles: []string{"Widget", "  Gadget\n  deluxe "},
			}),
			expected: Classification{
				Qualifying: true,
				Record: OrderRecord{
					OrderID:       "402-1234567-1234567",
					OrderDate:     "13 March 2023",
					ProductTitles: []string{"Widget", "Gadget deluxe"},
				},
			},
		},
		{
			name:     "prime video order",
			markup:   orderBox(fixtureOrder{id: "D01-1234567-1234567", date: "1 May 2023", category: "Prime Video"}),
			expected: Classification{Reason: "digital video order"},
		},
		{
			name:     "no product titles",
			markup:   orderBox(fixtureOrder{id: "402-1234567-1234567", date: "1 May 2023"}),
			expected: Classification{Reason: "no product titles"},
		},
		{
			name:     "only empty product titles",
			markup:   orderBox(fixtureOrder{id: "402-1234567-1234567", date: "1 May 2023", titles: []string{"  "}}),
			expected: Classification{Reason: "only empty product titles"},
		},
		{
			name:     "missing date",
			markup:   orderBox(fixtureOrder{id: "402-1234567-1234567", titles: []string{"Widget"}}),
			expected: Classification{Reason: "no order date"},
		},
		{
			name:     "bare label as id",
			markup:   orderBox(fixtureOrder{id: "", date: "1 May 2023", titles: []string{"Widget"}}),
			expected: Classification{Reason: "no order id"},
		},
		{
			name:     "id too short",
			markup:   orderBox(fixtureOrder{id: "40", date: "1 May 2023", titles: []string{"Widget"}}),
			expected: Classification{Reason: "order id too short: 40"},
		},
		{
			name: "newer header layout with inline label",
			markup: `<div class="a-box-group">
				<ul><li class="order-header__header-list-item"><span class="a-color-secondary a-text-caps">Order placed</span><span class="a-size-base a-color-secondary aok-break-word">2 januari 2024</span></li></ul>
				<div class="yohtmlc-order-id">Bestelnr. 171-1111111-1111111</div>
				<a class="yohtmlc-product-title">Kabel</a>
			</div>`,
			expected: Classification{
				Qualifying: true,
				Record: OrderRecord{
					OrderID:       "171-1111111-1111111",
					OrderDate:     "2 januari 2024",
					ProductTitles: []string{"Kabel"},
				},
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			diff := cmp.Diff(c.expected, ClassifyEntry(c.markup))
			if diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestClassifyDocument(t *testing.T) {
	page := listingPage("", 0,
		orderBox(fixtureOrder{id: "402-1234567-1234567", date: "13 March 2023", titles: []string{"Widget"}}),
		orderBox(fixtureOrder{id: "D01-0000000-0000000", date: "1 May 2023", category: "Prime Video"}),
	)
	verdicts, err := ClassifyDocument(page)
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	require.True(t, verdicts[0].Qualifying)
	require.False(t, verdicts[1].Qualifying)
}

func TestExtractorEntries(t *testing.T) {
	session := newFakeSession(ordersURL)
	session.pages[ordersURL] = listingPage("", 0,
		orderBox(fixtureOrder{id: "402-1234567-1234567", date: "13 March 2023", titles: []string{"Widget"}}),
		orderBox(fixtureOrder{id: "D01-0000000-0000000", date: "1 May 2023", category: "Prime Video"}),
		orderBox(fixtureOrder{id: "402-7654321-7654321", date: "20 March 2023", titles: []string{"Cable"}}),
	)
	session.load(ordersURL)

	tel := &telemetry.Recorder{}
	extractor := NewExtractor(tel)

	var ids []string
	var indexes []int
	for entry := range extractor.Entries(context.Background(), session) {
		ids = append(ids, entry.Record.OrderID)
		indexes = append(indexes, entry.Index)
	}
	require.Equal(t, []string{"402-1234567-1234567", "402-7654321-7654321"}, ids)
	require.Equal(t, []int{0, 2}, indexes)
	require.Equal(t, 1, tel.Count("warning", report_extractor_entry))

	// consumers may stop early
	seen := 0
	for range extractor.Entries(context.Background(), session) {
		seen++
		break
	}
	require.Equal(t, 1, seen)
}
