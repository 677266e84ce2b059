package amazon

import (
	"bytes"
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
	report_fetcher_open     = "fetcher.open"
	report_fetcher_close    = "fetcher.close"
	report_fetcher_strategy = "fetcher.strategy"
)

var (
	ErrNotPDF              = errors.New("content is not a pdf document")
	ErrNoDownloadControl   = errors.New("no download control on page")
	ErrNoRedirectLink      = errors.New("no document link on page")
	ErrAllStrategiesFailed = errors.New("every retrieval strategy failed")
	pdfMagic               = []byte("%PDF")
	maxPreviewBytes        = 16
)

// ValidatePDF checks the magic bytes of a retrieved document.
func ValidatePDF(data []byte) error {
	if bytes.HasPrefix(data, pdfMagic) {
		return nil
	}
	preview := data
	if len(preview) > maxPreviewBytes {
		preview = preview[:maxPreviewBytes]
	}
	return fmt.Errorf("%w: starts with %q", ErrNotPDF, preview)
}

type FetcherOptions struct {
	NavigationTimeout time.Duration
	IdleTimeout       time.Duration
	DownloadTimeout   time.Duration
}

// Fetcher materializes the bytes behind an InvoiceCandidate.
type Fetcher struct {
	session Session
	replay  replayClient
	tel     telemetry.API
	options FetcherOptions
}

func NewFetcher(session Session, tel telemetry.API, options FetcherOptions, captures restyutil.InstrumentOutput) (Fetcher, error) {
	assert.NotNil(session)
	assert.NotNil(tel)
	assert.Positive(options.NavigationTimeout)
	assert.Positive(options.IdleTimeout)
	assert.Positive(options.DownloadTimeout)

	replay, err := newReplayClient(tel, captures)
	if err != nil {
		return Fetcher{}, err
	}
	return Fetcher{
		session: session,
		replay:  replay,
		tel:     tel,
		options: options,
	}, nil
}

type strategy struct {
	name string
	run  func(ctx context.Context, tab Tab, candidate InvoiceCandidate) ([]byte, error)
}

func (f Fetcher) strategies(kind CandidateKind) []strategy {
	switch kind {
	case KindDirectFile:
		return []strategy{
			{name: "direct-file", run: f.directFile},
			{name: "session-replay", run: f.sessionReplay},
		}
	default:
		return []strategy{
			{name: "triggered-download", run: f.triggeredDownload},
			{name: "redirect-page", run: f.redirectPage},
			{name: "page-content", run: f.pageContent},
			{name: "session-replay", run: f.sessionReplay},
		}
	}
}

// Fetch opens the candidate in its own tab and tries each strategy for its
// kind in order, the first body that validates as a PDF wins.
func (f Fetcher) Fetch(ctx context.Context, candidate InvoiceCandidate) ([]byte, error) {
	tab, err := f.session.OpenTab(ctx, candidate.URL.String(), f.options.NavigationTimeout)
	if err != nil {
		f.tel.ReportWarning(report_fetcher_open, err, candidate.OrderID, candidate.URL.String())
		return nil, fmt.Errorf("open %s: %w", candidate.URL, err)
	}
	defer func() {
		err := tab.Close()
		if err != nil {
			f.tel.ReportWarning(report_fetcher_close, err, candidate.OrderID)
		}
	}()

	err = tab.WaitIdle(ctx, f.options.IdleTimeout)
	if err != nil {
		f.tel.ReportDebug("candidate page not idle", candidate.OrderID, err)
	}

	var failures []error
	for _, s := range f.strategies(candidate.Kind) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		data, err := s.run(ctx, tab, candidate)
		if err == nil {
			err = ValidatePDF(data)
		}
		if err == nil {
			f.tel.ReportDebug("retrieved invoice", candidate.OrderID, s.name, len(data))
			return data, nil
		}
		f.tel.ReportWarning(report_fetcher_strategy, fmt.Errorf("%s: %w", s.name, err), candidate.OrderID, candidate.Label)
		failures = append(failures, fmt.Errorf("%s: %w", s.name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllStrategiesFailed, errors.Join(failures...))
}

func fetchInPage(ctx context.Context, surface Surface, target string) ([]byte, error) {
	res, err := surface.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	if res.Status < 200 || res.Status >= 300 {
		return nil, fmt.Errorf("unexpected status %d", res.Status)
	}
	return res.Data, nil
}

func (f Fetcher) directFile(ctx context.Context, tab Tab, candidate InvoiceCandidate) ([]byte, error) {
	return fetchInPage(ctx, tab, candidate.URL.String())
}

func (f Fetcher) triggeredDownload(ctx context.Context, tab Tab, candidate InvoiceCandidate) ([]byte, error) {
	controls, err := tab.Query(ctx, "a, button")
	if err != nil {
		return nil, err
	}
	for _, control := range controls {
		markup, err := control.OuterHTML(ctx)
		if err != nil {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
		if err != nil {
			continue
		}
		if !textutil.MatchName(htmlutil.SelectionText(doc.Find("body")), downloadControlLabels) {
			continue
		}
		return tab.CaptureDownload(ctx, control, f.options.DownloadTimeout)
	}
	return nil, ErrNoDownloadControl
}

// redirectPage follows an intermediate page that only links to the document.
func (f Fetcher) redirectPage(ctx context.Context, tab Tab, candidate InvoiceCandidate) ([]byte, error) {
	document, err := tab.Document(ctx)
	if err != nil {
		return nil, err
	}
	location, err := tab.Location(ctx)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return nil, err
	}
	for _, a := range htmlutil.GetAnchors(base, doc.Find("a")) {
		if !isDirectFile(a.Url) {
			continue
		}
		cookies, err := f.session.Cookies(ctx, a.Url.String())
		if err != nil {
			return nil, err
		}
		return f.replay.Get(ctx, a.Url.String(), cookies)
	}
	return nil, ErrNoRedirectLink
}

func (f Fetcher) pageContent(ctx context.Context, tab Tab, candidate InvoiceCandidate) ([]byte, error) {
	location, err := tab.Location(ctx)
	if err != nil {
		return nil, err
	}
	return fetchInPage(ctx, tab, location)
}

func (f Fetcher) sessionReplay(ctx context.Context, tab Tab, candidate InvoiceCandidate) ([]byte, error) {
	target := candidate.URL.String()
	location, err := tab.Location(ctx)
	if err == nil && strings.HasPrefix(location, "http") {
		target = location
	}
	cookies, err := f.session.Cookies(ctx, target)
	if err != nil {
		return nil, err
	}
	return f.replay.Get(ctx, target, cookies)
}
