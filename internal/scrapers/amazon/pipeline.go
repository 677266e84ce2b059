package amazon

import (
	"context"
	"fmt"
	"time"

	"amazon-invoices/internal/archive"
	"amazon-invoices/internal/components/assert"
	"amazon-invoices/internal/components/telemetry"
	"amazon-invoices/internal/ledger"
	"amazon-invoices/lib/restyutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	report_pipeline_listing = "pipeline.listing"
	report_pipeline_fetch   = "pipeline.fetch"
	report_pipeline_archive = "pipeline.archive"
	report_pipeline_ledger  = "pipeline.ledger"
	report_pipeline_advance = "pipeline.advance"
	report_pipeline_limiter = "pipeline.limiter"
)

var tracer = telemetry.Tracer("amazon-invoices/internal/scrapers/amazon")

// Summary counts what happened during a run.
type Summary struct {
	Pages      int
	Orders     int
	Candidates int
	Downloaded int
	// Duplicates are validated documents whose content was already archived.
	Duplicates int
	// Skipped are candidates whose logical key was already in the ledger.
	Skipped int
	Failed  int
}

type PipelineOptions struct {
	ListingTimeout time.Duration
	// MaxPages stops the walk after this many pages, 0 means no limit.
	MaxPages int
}

// Pipeline walks the order listing and archives every new invoice.
type Pipeline struct {
	session   Session
	extractor Extractor
	resolver  Resolver
	fetcher   Fetcher
	walker    Walker
	ledger    *ledger.Ledger
	archive   *archive.Archive
	limiter   *rate.Limiter
	captures  restyutil.InstrumentOutput
	tel       telemetry.API
	options   PipelineOptions

	processed map[string]struct{}
}

type PipelineDeps struct {
	Session   Session
	Extractor Extractor
	Resolver  Resolver
	Fetcher   Fetcher
	Walker    Walker
	Ledger    *ledger.Ledger
	Archive   *archive.Archive
	Limiter   *rate.Limiter
	Captures  restyutil.InstrumentOutput
	Tel       telemetry.API
}

func NewPipeline(deps PipelineDeps, options PipelineOptions) *Pipeline {
	assert.NotNil(deps.Session)
	assert.NotNil(deps.Ledger)
	assert.NotNil(deps.Archive)
	assert.NotNil(deps.Limiter)
	assert.NotNil(deps.Tel)
	assert.Positive(options.ListingTimeout)
	if deps.Captures == nil {
		deps.Captures = restyutil.DiscardOutput{}
	}

	return &Pipeline{
		session:   deps.Session,
		extractor: deps.Extractor,
		resolver:  deps.Resolver,
		fetcher:   deps.Fetcher,
		walker:    deps.Walker,
		ledger:    deps.Ledger,
		archive:   deps.Archive,
		limiter:   deps.Limiter,
		captures:  deps.Captures,
		tel:       deps.Tel,
		options:   options,
		processed: map[string]struct{}{},
	}
}

// Run processes the listing page the session is on and every page after it.
// Failures are contained per candidate, order and page, the returned summary
// is always complete up to the point where the walk stopped.
func (p *Pipeline) Run(ctx context.Context) Summary {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	var summary Summary
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, ctx.Err().Error())
			break
		}

		summary.Pages++
		p.processPage(ctx, page, &summary)

		if p.options.MaxPages > 0 && page >= p.options.MaxPages {
			p.tel.ReportInfo("page limit reached", "pages", page)
			break
		}
		if err := p.limiter.Wait(ctx); err != nil {
			p.tel.ReportWarning(report_pipeline_limiter, err, page)
			span.SetStatus(codes.Error, err.Error())
			break
		}

		result := p.walker.Advance(ctx)
		if result == Advanced {
			continue
		}
		if result == NotAdvanced {
			p.tel.ReportWarning(report_pipeline_advance, "next page control did not advance the listing", page)
		}
		p.tel.ReportInfo("reached the end of the order listing", "pages", page, "result", result.String())
		break
	}

	span.SetAttributes(
		attribute.Int("pages", summary.Pages),
		attribute.Int("downloaded", summary.Downloaded),
		attribute.Int("failed", summary.Failed),
	)
	return summary
}

func (p *Pipeline) processPage(ctx context.Context, page int, summary *Summary) {
	ctx, span := tracer.Start(ctx, "processPage")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page))

	err := p.session.WaitVisible(ctx, selectorOrderBox, p.options.ListingTimeout)
	if err != nil {
		p.tel.ReportWarning(report_pipeline_listing, fmt.Errorf("no orders rendered: %w", err), page)
		return
	}
	if document, err := p.session.Document(ctx); err == nil {
		p.captures.Write(fmt.Sprintf("page-%d.html", page), document)
	}

	p.tel.ReportInfo("processing listing page", "page", page)
	for entry := range p.extractor.Entries(ctx, p.session) {
		if _, seen := p.processed[entry.Record.OrderID]; seen {
			p.tel.ReportDebug("order already processed this run", entry.Record.OrderID)
			continue
		}
		p.processed[entry.Record.OrderID] = struct{}{}
		summary.Orders++
		p.processOrder(ctx, entry, summary)
	}
}

func (p *Pipeline) processOrder(ctx context.Context, entry ListingEntry, summary *Summary) {
	ctx, span := tracer.Start(ctx, "processOrder")
	defer span.End()

	record := entry.Record
	bucket := NormalizeDate(record.OrderDate)
	span.SetAttributes(
		attribute.String("order_id", record.OrderID),
		attribute.String("bucket", bucket),
	)
	if bucket == UnknownBucket {
		p.tel.ReportDebug("unrecognized order date", record.OrderID, record.OrderDate)
	}

	candidates := p.resolver.Candidates(ctx, entry)
	for i, candidate := range candidates {
		summary.Candidates++
		p.processCandidate(ctx, record, bucket, i+1, candidate, summary)
	}
}

func (p *Pipeline) processCandidate(
	ctx context.Context,
	record OrderRecord,
	bucket string,
	sequence int,
	candidate InvoiceCandidate,
	summary *Summary,
) {
	ctx, span := tracer.Start(ctx, "processCandidate")
	defer span.End()
	span.SetAttributes(
		attribute.String("label", candidate.Label),
		attribute.String("kind", candidate.Kind.String()),
	)

	key := ledger.Key{OrderID: record.OrderID, Label: candidate.Label}
	if previous, seen := p.ledger.SeenKey(key); seen {
		summary.Skipped++
		p.tel.ReportDebug("invoice already downloaded", key.String(), previous.Path)
		return
	}

	err := p.limiter.Wait(ctx)
	if err != nil {
		summary.Failed++
		span.SetStatus(codes.Error, err.Error())
		p.tel.ReportWarning(report_pipeline_limiter, err, key.String())
		return
	}
	data, err := p.fetcher.Fetch(ctx, candidate)
	if err != nil {
		summary.Failed++
		span.SetStatus(codes.Error, err.Error())
		p.tel.ReportWarning(report_pipeline_fetch, err, key.String())
		return
	}

	signature := ledger.Signature(data)
	if original, seen := p.ledger.SeenSignature(signature); seen {
		summary.Duplicates++
		p.tel.ReportInfo("skipping duplicate invoice", "key", key.String(), "original", original.Path)
		p.commit(ctx, ledger.Record{Key: key, Path: original.Path, Signature: signature})
		return
	}

	path, outcome, err := p.archive.Place(bucket, record.OrderID, sequence, data)
	if err != nil {
		summary.Failed++
		span.SetStatus(codes.Error, err.Error())
		p.tel.ReportBroken(report_pipeline_archive, err, key.String())
		return
	}
	p.commit(ctx, ledger.Record{Key: key, Path: path, Signature: signature})

	if outcome == archive.AlreadyPresent {
		summary.Duplicates++
		p.tel.ReportInfo("invoice already on disk", "key", key.String(), "path", path)
		return
	}
	summary.Downloaded++
	p.tel.ReportInfo("saved invoice", "key", key.String(), "path", path)
}

func (p *Pipeline) commit(ctx context.Context, rec ledger.Record) {
	err := p.ledger.Commit(ctx, rec)
	if err != nil {
		p.tel.ReportBroken(report_pipeline_ledger, err, rec.Key.String())
	}
}
