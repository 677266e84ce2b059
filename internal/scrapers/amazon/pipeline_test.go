package amazon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"amazon-invoices/internal/archive"
	"amazon-invoices/internal/components/chrono"
	"amazon-invoices/internal/components/telemetry"
	"amazon-invoices/internal/ledger"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type pipelineFixture struct {
	root       string
	ledgerPath string
	badURL     string
}

// newListing builds a two page order history:
//
//	page 1: a direct invoice, a Prime Video order, an invoice that is not a pdf
//	page 2: an invoice behind a download button, a copy of the first invoice
func (f pipelineFixture) newListing() *fakeSession {
	session := newFakeSession(ordersURL)

	session.pages[ordersURL] = listingPage("/your-orders/orders?startIndex=10&language=en_GB", 1,
		orderBox(fixtureOrder{id: "402-1234567-1234567", date: "13 March 2023", titles: []string{"Widget"}}),
		orderBox(fixtureOrder{id: "D01-0000000-0000000", date: "14 March 2023", category: "Prime Video"}),
		orderBox(fixtureOrder{id: "402-7654321-7654321", date: "20 March 2023", titles: []string{"Cable"}}),
	)
	session.pages[page2URL] = listingPage("disabled", 2,
		orderBox(fixtureOrder{id: "171-1111111-1111111", date: "2 januari 2024", titles: []string{"Kabel"}}),
		orderBox(fixtureOrder{id: "171-2222222-2222222", date: "some day", titles: []string{"Widget"}}),
	)

	direct := "https://s3.amazonaws.com/generated_invoices/402-1234567-1234567.pdf"
	session.popovers["402-1234567-1234567"] = popoverLinks(
		[2]string{direct, "Invoice"},
		[2]string{"/gp/invoice/request?orderId=402-1234567-1234567", "Request invoice"},
	)
	session.files[direct] = []byte(samplePDF)

	session.popovers["402-7654321-7654321"] = popoverLinks([2]string{f.badURL, "Invoice"})

	generic := "https://www.amazon.nl/documents/download/171-1111111-1111111/invoice"
	session.popovers["171-1111111-1111111"] = popoverLinks([2]string{generic, "Factuur"})
	session.tabPages[generic] = `<html><body><button>Downloaden</button></body></html>`
	session.downloads[generic] = []byte(otherPDF)

	copied := "https://s3.amazonaws.com/generated_invoices/171-2222222-2222222.pdf"
	session.popovers["171-2222222-2222222"] = popoverLinks([2]string{copied, "Invoice"})
	session.files[copied] = []byte(samplePDF)

	session.load(ordersURL)
	return session
}

func (f pipelineFixture) run(t *testing.T, session *fakeSession) (Summary, *telemetry.Recorder) {
	ctx := context.Background()
	tel := &telemetry.Recorder{}

	store, err := ledger.OpenPath(ctx, f.ledgerPath, chrono.FixedTime{At: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	defer store.Close()

	fetcher, err := NewFetcher(session, tel, FetcherOptions{
		NavigationTimeout: time.Second,
		IdleTimeout:       time.Second,
		DownloadTimeout:   time.Second,
	}, nil)
	require.NoError(t, err)

	pipeline := NewPipeline(PipelineDeps{
		Session:   session,
		Extractor: NewExtractor(tel),
		Resolver:  NewResolver(session, tel, time.Second, nil),
		Fetcher:   fetcher,
		Walker: NewWalker(session, tel, WalkerOptions{
			NavigationTimeout: time.Second,
			IdleTimeout:       time.Second,
		}),
		Ledger:  store,
		Archive: archive.New(f.root, "amazon_invoice"),
		Limiter: rate.NewLimiter(rate.Inf, 1),
		Tel:     tel,
	}, PipelineOptions{ListingTimeout: time.Second})

	return pipeline.Run(ctx), tel
}

func listFiles(t *testing.T, root string) []string {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".pdf" {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestPipelineRun(t *testing.T) {
	server := newDocumentServer(t)
	root := t.TempDir()
	f := pipelineFixture{
		root:       root,
		ledgerPath: filepath.Join(root, "downloaded_invoices.json"),
		badURL:     server.URL + "/invoice/not-a-document",
	}

	session := f.newListing()
	summary, tel := f.run(t, session)

	diff := cmp.Diff(Summary{
		Pages:      2,
		Orders:     4,
		Candidates: 4,
		Downloaded: 2,
		Duplicates: 1,
		Failed:     1,
	}, summary)
	if diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, []string{
		"01-2024/amazon_invoice_171-1111111-1111111_1.pdf",
		"03-2023/amazon_invoice_402-1234567-1234567_1.pdf",
	}, listFiles(t, root))

	contents, err := os.ReadFile(filepath.Join(root, "03-2023", "amazon_invoice_402-1234567-1234567_1.pdf"))
	require.NoError(t, err)
	require.Equal(t, samplePDF, string(contents))

	require.NoDirExists(t, filepath.Join(root, archive.UnknownBucket), "duplicates never create a bucket")
	require.Equal(t, len(session.opened), session.closed, "every tab is closed")
	require.Zero(t, tel.Count("broken", ""))

	store, err := ledger.OpenPath(context.Background(), f.ledgerPath, chrono.NewStandardTime())
	require.NoError(t, err)
	defer store.Close()
	require.Equal(t, 3, store.Len())
	duplicate, ok := store.SeenKey(ledger.Key{OrderID: "171-2222222-2222222", Label: "Invoice"})
	require.True(t, ok)
	require.Equal(t, filepath.Join(root, "03-2023", "amazon_invoice_402-1234567-1234567_1.pdf"), duplicate.Path)
}

func TestPipelineSecondRunIsIdempotent(t *testing.T) {
	server := newDocumentServer(t)
	root := t.TempDir()
	f := pipelineFixture{
		root:       root,
		ledgerPath: filepath.Join(root, "downloaded_invoices.json"),
		badURL:     server.URL + "/invoice/not-a-document",
	}

	f.run(t, f.newListing())
	before := listFiles(t, root)

	session := f.newListing()
	summary, _ := f.run(t, session)
	require.Zero(t, summary.Downloaded)
	require.Zero(t, summary.Duplicates)
	require.Equal(t, 3, summary.Skipped)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, before, listFiles(t, root))
	require.Equal(t, []string{server.URL + "/invoice/not-a-document"}, session.opened, "known invoices are not fetched again")
}

func TestPipelineStopsAtPageLimit(t *testing.T) {
	server := newDocumentServer(t)
	root := t.TempDir()
	f := pipelineFixture{
		root:       root,
		ledgerPath: filepath.Join(root, "ledger.db"),
		badURL:     server.URL + "/invoice/not-a-document",
	}
	session := f.newListing()

	ctx := context.Background()
	tel := &telemetry.Recorder{}
	store, err := ledger.OpenPath(ctx, f.ledgerPath, chrono.NewStandardTime())
	require.NoError(t, err)
	defer store.Close()
	fetcher, err := NewFetcher(session, tel, FetcherOptions{
		NavigationTimeout: time.Second,
		IdleTimeout:       time.Second,
		DownloadTimeout:   time.Second,
	}, nil)
	require.NoError(t, err)

	pipeline := NewPipeline(PipelineDeps{
		Session:   session,
		Extractor: NewExtractor(tel),
		Resolver:  NewResolver(session, tel, time.Second, nil),
		Fetcher:   fetcher,
		Walker:    NewWalker(session, tel, WalkerOptions{NavigationTimeout: time.Second, IdleTimeout: time.Second}),
		Ledger:    store,
		Archive:   archive.New(root, "amazon_invoice"),
		Limiter:   rate.NewLimiter(rate.Inf, 1),
		Tel:       tel,
	}, PipelineOptions{ListingTimeout: time.Second, MaxPages: 1})

	summary := pipeline.Run(ctx)
	require.Equal(t, 1, summary.Pages)
	require.Equal(t, 2, summary.Orders)
	require.Equal(t, 1, summary.Downloaded)
	require.Empty(t, session.navigations)
	require.Equal(t, 1, store.Len())
}

func newTestPipeline(t *testing.T, session *fakeSession, tel telemetry.API, root string, limiter *rate.Limiter) *Pipeline {
	store, err := ledger.OpenPath(context.Background(), filepath.Join(root, "downloaded_invoices.json"), chrono.NewStandardTime())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fetcher, err := NewFetcher(session, tel, FetcherOptions{
		NavigationTimeout: time.Second,
		IdleTimeout:       time.Second,
		DownloadTimeout:   time.Second,
	}, nil)
	require.NoError(t, err)

	return NewPipeline(PipelineDeps{
		Session:   session,
		Extractor: NewExtractor(tel),
		Resolver:  NewResolver(session, tel, time.Second, nil),
		Fetcher:   fetcher,
		Walker:    NewWalker(session, tel, WalkerOptions{NavigationTimeout: time.Second, IdleTimeout: time.Second}),
		Ledger:    store,
		Archive:   archive.New(root, "amazon_invoice"),
		Limiter:   limiter,
		Tel:       tel,
	}, PipelineOptions{ListingTimeout: time.Second})
}

func TestPipelineStopsOnInertNextControl(t *testing.T) {
	session := newFakeSession(ordersURL)
	session.pages[ordersURL] = listingPage(ordersURL, 1)
	session.load(ordersURL)

	tel := &telemetry.Recorder{}
	pipeline := newTestPipeline(t, session, tel, t.TempDir(), rate.NewLimiter(rate.Inf, 1))

	summary := pipeline.Run(context.Background())
	require.Equal(t, Summary{Pages: 1}, summary)
	require.Equal(t, 1, tel.Count("warning", report_pipeline_advance))
	require.Equal(t, []string{ordersURL}, session.navigations)
}

func TestPipelineReportsLimiterFailures(t *testing.T) {
	server := newDocumentServer(t)
	root := t.TempDir()
	f := pipelineFixture{root: root, badURL: server.URL + "/invoice/not-a-document"}
	session := f.newListing()

	tel := &telemetry.Recorder{}
	// a zero burst makes every Wait fail
	pipeline := newTestPipeline(t, session, tel, root, rate.NewLimiter(1, 0))

	summary := pipeline.Run(context.Background())
	require.Equal(t, 1, summary.Pages)
	require.Equal(t, 2, summary.Candidates)
	require.Equal(t, 2, summary.Failed)
	require.Empty(t, session.opened)
	require.Empty(t, session.navigations)
	require.Equal(t, 3, tel.Count("warning", report_pipeline_limiter))
	require.Empty(t, listFiles(t, root))
}
