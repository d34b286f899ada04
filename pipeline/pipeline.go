// Package pipeline drives document conversion end to end: one cheap fast
// pass over the whole document for telemetry and page-count discovery, then
// a parallel accurate pass over page batches, then consolidation into a
// single document result.
//
// Batches run in order; pages inside a batch run in parallel under a
// bounded worker pool. The orchestrator is the only writer to the
// performance trackers and the consolidated result, so completion order
// never affects the output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/docconv/cache"
	"github.com/hazyhaar/docconv/consolidate"
	"github.com/hazyhaar/docconv/engine"
	"github.com/hazyhaar/docconv/model"
	"github.com/hazyhaar/docconv/perf"
	"github.com/hazyhaar/docconv/resource"
	"github.com/hazyhaar/docconv/retry"
	"github.com/hazyhaar/docconv/tables"
)

// ErrMissingEngine is returned when a required engine dependency is nil.
var ErrMissingEngine = errors.New("pipeline: scanner, counter and extractor are required")

// processingMode names the accurate pass in the result's extraction mode.
const processingMode = "parallel"

// Expected fast-scan elements per page. A document outside this window is
// flagged as a quality signal for the operator, never failed.
const (
	minElementsPerPage = 2.0
	maxElementsPerPage = 300.0
)

// ProgressFunc reports pipeline progress to the enclosing job runner.
// percent is in [0,1]; meta carries stage-specific details.
type ProgressFunc func(stage string, percent float64, meta map[string]any)

// Deps are the engines the orchestrator drives. Scanner, Counter and
// Extractor are required; the rest degrade gracefully when nil.
type Deps struct {
	Scanner   engine.FastScanner
	Counter   engine.PageCounter
	Extractor engine.PageExtractor

	// OCRExtractor replaces Extractor for documents detected as scans.
	OCRExtractor engine.PageExtractor

	// Tables runs multi-strategy table extraction over candidate pages.
	Tables *tables.Coordinator

	// Cache enables page-level resumption of interrupted jobs.
	Cache *cache.Store

	// Pool warms heavy parsing models once before the first page.
	Pool *ModelPool
}

// Options configure one orchestrator.
type Options struct {
	// MaxWorkers bounds parallel page extraction inside a batch.
	MaxWorkers int

	// PagesPerBatch is the batch size of the accurate pass.
	PagesPerBatch int

	// PageTimeout is the first attempt's timeout; retries shrink it.
	PageTimeout time.Duration

	// TablePageCap bounds the pages planned for table extraction.
	// Zero means no cap.
	TablePageCap int

	Retry    retry.Options
	Progress ProgressFunc
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 4
	}
	if o.PagesPerBatch <= 0 {
		o.PagesPerBatch = 10
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = 2 * time.Minute
	}
	if o.Progress == nil {
		o.Progress = func(string, float64, map[string]any) {}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Orchestrator runs the FastPass → PageCountResolution →
// ParallelAccuratePass → Consolidation state machine.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// New creates an orchestrator. Scanner, Counter and Extractor must be set.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Scanner == nil || deps.Counter == nil || deps.Extractor == nil {
		return nil, ErrMissingEngine
	}
	opts.defaults()
	return &Orchestrator{deps: deps, opts: opts, logger: opts.Logger}, nil
}

// Process converts one document. A single page's exhausted retries only
// mark that page failed; pipeline-level errors are reserved for input and
// engine failures that leave nothing to consolidate.
func (o *Orchestrator) Process(ctx context.Context, jobID, path string) (*model.ConsolidatedResult, error) {
	log := o.logger.With("job", jobID, "path", path)
	progress := o.opts.Progress

	tracker := resource.NewTracker(log)
	defer tracker.ForceCleanup()
	tracker.Register(path)

	progress("preparing", 0.02, nil)
	if o.deps.Pool != nil {
		if err := o.deps.Pool.WarmUp(ctx); err != nil {
			return nil, fmt.Errorf("pipeline: model warm-up: %w", err)
		}
	}

	// Fast pass: cheap full-document scan for telemetry and rough content.
	progress("fast_pass", 0.05, nil)
	scan, err := o.deps.Scanner.FastScan(ctx, path)
	if err != nil {
		// The accurate pass can still work without fast-pass telemetry.
		log.Warn("fast pass failed, continuing without telemetry", "error", err)
		scan = &engine.ScanResult{}
	}

	totalPages, err := o.resolvePageCount(ctx, path, scan, log)
	if err != nil {
		return nil, err
	}
	if totalPages == 0 {
		log.Warn("document has no pages")
		return consolidate.EmptyResult("no_pages", processingMode), nil
	}

	scanned, signals := engine.DetectScanned(scan, totalPages)
	if scanned {
		log.Info("scanned document detected, accurate pass will use OCR",
			"elements", signals.Elements,
			"avg_chars_per_page", signals.AvgCharsPerPage)
	}
	o.checkElementWindow(scan, totalPages, log)

	extractor := o.deps.Extractor
	if scanned && o.deps.OCRExtractor != nil {
		extractor = o.deps.OCRExtractor
	}

	tablePages := engine.TableCandidatePages(scan.Elements, o.opts.TablePageCap)
	progress("fast_pass", 0.1, map[string]any{
		"total_pages": totalPages,
		"is_scanned":  scanned,
		"table_pages": len(tablePages),
	})

	doc, err := o.accuratePass(ctx, jobID, path, extractor, totalPages, log)
	if err != nil {
		return nil, err
	}

	o.extractTables(ctx, path, tablePages, doc, log)

	progress("done", 1.0, map[string]any{
		"pages_with_content": doc.PagesWithContent,
		"pages_failed":       doc.PagesFailed,
		"extraction_mode":    doc.ExtractionMode,
	})
	return doc, nil
}

// resolvePageCount reconciles the fast-scan page signal with the real page
// count. The real count wins when they disagree; the discrepancy is logged,
// not treated as an error — scanned documents routinely report zero pages
// from the text layer.
func (o *Orchestrator) resolvePageCount(ctx context.Context, path string, scan *engine.ScanResult, log *slog.Logger) (int, error) {
	real, err := o.deps.Counter.CountPages(ctx, path)
	if err != nil {
		if scan.PageCount > 0 {
			log.Warn("page count failed, falling back to fast-scan signal",
				"error", err, "fast_scan_pages", scan.PageCount)
			return scan.PageCount, nil
		}
		return 0, fmt.Errorf("pipeline: page count: %w", err)
	}

	if scan.PageCount != real {
		log.Info("page count discrepancy, using real count",
			"fast_scan_pages", scan.PageCount, "real_pages", real)
	}
	return real, nil
}

// checkElementWindow flags documents whose extracted-element density falls
// outside the expected window. Quality signal only.
func (o *Orchestrator) checkElementWindow(scan *engine.ScanResult, totalPages int, log *slog.Logger) {
	density := float64(len(scan.Elements)) / float64(totalPages)
	if density < minElementsPerPage || density > maxElementsPerPage {
		log.Warn("element count outside expected window",
			"elements", len(scan.Elements),
			"pages", totalPages,
			"per_page", density)
	}
}

// accuratePass processes pages in sequential batches, pages within a batch
// in parallel, and consolidates bottom-up.
func (o *Orchestrator) accuratePass(ctx context.Context, jobID, path string, extractor engine.PageExtractor, totalPages int, log *slog.Logger) (*model.ConsolidatedResult, error) {
	collector := perf.NewCollector(log)
	perfTracker := perf.NewParallelTracker(perf.TrackerOptions{Logger: log})
	perfTracker.Configure(o.opts.MaxWorkers, o.opts.PagesPerBatch)
	consolidator := consolidate.New(log)
	handler := retry.NewHandler(o.opts.Retry)

	alreadyProcessed := o.cachedPages(ctx, jobID, log)
	pagesToProcess := make(map[int]struct{}, totalPages)
	for p := 1; p <= totalPages; p++ {
		pagesToProcess[p] = struct{}{}
	}
	collector.Init(totalPages, pagesToProcess, alreadyProcessed)

	totalBatches := (totalPages + o.opts.PagesPerBatch - 1) / o.opts.PagesPerBatch
	var batches []*model.ConsolidatedResult

	for batchNr := 0; batchNr < totalBatches; batchNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := batchNr*o.opts.PagesPerBatch + 1
		end := start + o.opts.PagesPerBatch
		if end > totalPages+1 {
			end = totalPages + 1
		}

		began := time.Now()
		results := o.processBatch(ctx, jobID, path, extractor, handler, collector, start, end)

		batch := consolidator.ConsolidateBatch(results, start, end, true)
		batches = append(batches, batch)
		collector.RecordBatchPersisted()

		perfTracker.RecordBatch(time.Since(began), end-start, batchNr, totalBatches)
		perfTracker.LogSummary(batchNr, totalBatches, false)

		o.opts.Progress("converting", 0.1+0.85*float64(batchNr+1)/float64(totalBatches), map[string]any{
			"batch":         batchNr + 1,
			"total_batches": totalBatches,
			"page_range":    batch.PageRange,
		})
	}

	perfTracker.LogSummary(totalBatches-1, totalBatches, true)
	doc := consolidator.ConsolidateDocument(batches, totalPages, processingMode)

	stats := handler.Stats()
	log.Info("accurate pass done",
		"success_rate", stats.SuccessRate,
		"retry_distribution", stats.RetryDistribution,
		"summary", collector.SummaryReport(jobID, path))

	if o.deps.Cache != nil && !doc.NoTextExtracted {
		if err := o.deps.Cache.Purge(ctx, jobID); err != nil {
			log.Warn("cache purge failed", "error", err)
		}
	}
	return doc, nil
}

// processBatch extracts one batch's pages in parallel under the bounded
// worker pool. The returned map holds a nil entry for every failed page.
func (o *Orchestrator) processBatch(ctx context.Context, jobID, path string, extractor engine.PageExtractor, handler *retry.Handler, collector *perf.Collector, start, end int) map[int]*model.PageResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, o.opts.MaxWorkers)
		results = make(map[int]*model.PageResult, end-start)
	)

	for page := start; page < end; page++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(page int) {
			defer wg.Done()
			defer func() { <-sem }()

			result := o.processPage(ctx, jobID, path, extractor, handler, collector, page)
			mu.Lock()
			results[page] = result
			mu.Unlock()
		}(page)
	}
	wg.Wait()

	return results
}

// processPage serves one page from cache or extracts it under the retry
// handler. Returns nil when the page ultimately failed.
func (o *Orchestrator) processPage(ctx context.Context, jobID, path string, extractor engine.PageExtractor, handler *retry.Handler, collector *perf.Collector, page int) *model.PageResult {
	if o.deps.Cache != nil {
		if cached, ok, err := o.deps.Cache.Get(ctx, jobID, page); err == nil && ok {
			collector.RecordCacheHit(page)
			return cached
		}
		collector.RecordCacheMiss(page)
	}

	if handler.ShouldSkipRetries(page) {
		o.logger.Warn("page chronically failing, skipping retries", "job", jobID, "page", page)
		collector.RecordPageError(page, "retries_skipped")
		return nil
	}

	result := handler.Execute(ctx, page, "extract_page", o.opts.PageTimeout,
		func(ctx context.Context, timeout time.Duration) (*model.PageResult, error) {
			return extractor.ExtractPage(ctx, path, page, timeout)
		})
	if result == nil {
		collector.RecordPageError(page, handler.FailureSummary(page))
		return nil
	}

	collector.RecordPageProcessed(page)
	if o.deps.Cache != nil {
		if err := o.deps.Cache.Put(ctx, jobID, page, result); err != nil {
			o.logger.Warn("cache write failed", "job", jobID, "page", page, "error", err)
		}
	}
	return result
}

// extractTables runs the table coordinator over the planned pages and folds
// its findings into the document, deduplicating against the accurate pass's
// own table candidates. Failures degrade, never abort: the document text is
// already consolidated.
func (o *Orchestrator) extractTables(ctx context.Context, path string, pages []int, doc *model.ConsolidatedResult, log *slog.Logger) {
	if o.deps.Tables == nil || len(pages) == 0 {
		return
	}

	found, err := o.deps.Tables.Extract(ctx, path, pages, "")
	if err != nil {
		log.Warn("table extraction failed", "pages", pages, "error", err)
		return
	}
	if len(found) == 0 {
		return
	}

	doc.Tables = tables.Dedupe(append(doc.Tables, found...), log)
	if doc.Stats != nil {
		doc.Stats.TablesExtracted = len(doc.Tables)
	}
	log.Info("table extraction done", "planned_pages", len(pages), "tables", len(doc.Tables))
}

// cachedPages lists pages a previous run already stored for this job.
func (o *Orchestrator) cachedPages(ctx context.Context, jobID string, log *slog.Logger) map[int]struct{} {
	if o.deps.Cache == nil {
		return nil
	}
	pages, err := o.deps.Cache.Pages(ctx, jobID)
	if err != nil {
		log.Warn("cache page listing failed", "error", err)
		return nil
	}
	if len(pages) > 0 {
		log.Info("resuming job from cache", "cached_pages", len(pages))
	}
	return pages
}
