package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docconv/cache"
	"github.com/hazyhaar/docconv/dbopen"
	"github.com/hazyhaar/docconv/engine"
	"github.com/hazyhaar/docconv/model"
	"github.com/hazyhaar/docconv/pipeline"
	"github.com/hazyhaar/docconv/retry"
	"github.com/hazyhaar/docconv/tables"
)

type fakeScanner struct {
	scan *engine.ScanResult
	err  error
}

func (f *fakeScanner) FastScan(context.Context, string) (*engine.ScanResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scan, nil
}

type fakeCounter struct {
	pages int
	err   error
}

func (f *fakeCounter) CountPages(context.Context, string) (int, error) {
	return f.pages, f.err
}

// fakeExtractor returns "page N" for every page, failing the configured
// pages on every attempt. It counts calls per page.
type fakeExtractor struct {
	mu        sync.Mutex
	calls     map[int]int
	failPages map[int]bool
	prefix    string
}

func newFakeExtractor(prefix string, failPages ...int) *fakeExtractor {
	fail := make(map[int]bool)
	for _, p := range failPages {
		fail[p] = true
	}
	return &fakeExtractor{calls: make(map[int]int), failPages: fail, prefix: prefix}
}

func (f *fakeExtractor) ExtractPage(_ context.Context, _ string, page int, _ time.Duration) (*model.PageResult, error) {
	f.mu.Lock()
	f.calls[page]++
	f.mu.Unlock()
	if f.failPages[page] {
		return nil, errors.New("parse error")
	}
	return &model.PageResult{Text: fmt.Sprintf("%s %d", f.prefix, page)}, nil
}

func (f *fakeExtractor) callsFor(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[page]
}

func fastRetry() retry.Options {
	return retry.Options{
		MaxRetries: 1,
		Strategy:   retry.Immediate,
		BaseDelay:  time.Millisecond,
	}
}

func textScan(pages int) *engine.ScanResult {
	scan := &engine.ScanResult{PageCount: pages}
	for p := 1; p <= pages; p++ {
		scan.PagesSeen = append(scan.PagesSeen, p)
		for i := 0; i < 30; i++ {
			scan.Elements = append(scan.Elements, engine.Element{
				Page:     p,
				Text:     "some running text with enough characters in it",
				Category: "text",
			})
		}
	}
	return scan
}

func newOrchestrator(t *testing.T, deps pipeline.Deps, opts pipeline.Options) *pipeline.Orchestrator {
	t.Helper()
	if opts.Retry.MaxRetries == 0 {
		opts.Retry = fastRetry()
	}
	o, err := pipeline.New(deps, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestMissingEngineDeps(t *testing.T) {
	_, err := pipeline.New(pipeline.Deps{}, pipeline.Options{})
	if !errors.Is(err, pipeline.ErrMissingEngine) {
		t.Fatalf("err = %v, want ErrMissingEngine", err)
	}
}

func TestRealPageCountWinsOverFastScan(t *testing.T) {
	// Scanned document: the text layer reports zero pages but the real
	// count says 12. The pipeline must use 12 and not fail.
	ext := newFakeExtractor("page")
	o := newOrchestrator(t, pipeline.Deps{
		Scanner:   &fakeScanner{scan: &engine.ScanResult{}},
		Counter:   &fakeCounter{pages: 12},
		Extractor: ext,
	}, pipeline.Options{})

	doc, err := o.Process(context.Background(), "job-1", "doc.pdf")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if doc.Stats == nil || doc.Stats.TotalPages != 12 {
		t.Fatalf("TotalPages = %+v, want 12", doc.Stats)
	}
	if doc.PagesWithContent != 12 {
		t.Errorf("PagesWithContent = %d, want 12", doc.PagesWithContent)
	}
}

func TestFailedPageIsIsolated(t *testing.T) {
	ext := newFakeExtractor("page", 2)
	o := newOrchestrator(t, pipeline.Deps{
		Scanner:   &fakeScanner{scan: textScan(3)},
		Counter:   &fakeCounter{pages: 3},
		Extractor: ext,
	}, pipeline.Options{})

	doc, err := o.Process(context.Background(), "job-1", "doc.pdf")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if doc.PagesWithContent != 2 || doc.PagesFailed != 1 {
		t.Errorf("content/failed = %d/%d, want 2/1", doc.PagesWithContent, doc.PagesFailed)
	}
	if want := "page 1\n\npage 3"; doc.Text != want {
		t.Errorf("Text = %q, want %q", doc.Text, want)
	}
	// maxRetries=1 means two attempts for the failing page.
	if got := ext.callsFor(2); got != 2 {
		t.Errorf("page 2 attempts = %d, want 2", got)
	}
	if doc.ExtractionMode != "parallel_optimized" {
		t.Errorf("ExtractionMode = %q", doc.ExtractionMode)
	}
}

func TestAllPagesFailedIsDegradationNotError(t *testing.T) {
	ext := newFakeExtractor("page", 1, 2)
	o := newOrchestrator(t, pipeline.Deps{
		Scanner:   &fakeScanner{scan: textScan(2)},
		Counter:   &fakeCounter{pages: 2},
		Extractor: ext,
	}, pipeline.Options{})

	doc, err := o.Process(context.Background(), "job-1", "doc.pdf")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !doc.NoTextExtracted {
		t.Error("NoTextExtracted = false")
	}
	if doc.ExtractionMode != "parallel_failed" {
		t.Errorf("ExtractionMode = %q, want parallel_failed", doc.ExtractionMode)
	}
}

func TestCacheResumptionSkipsExtraction(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(cache.Schema()))
	store := cache.NewStore(db, nil)
	ctx := context.Background()

	if err := store.Put(ctx, "job-1", 1, &model.PageResult{Text: "cached page 1"}); err != nil {
		t.Fatal(err)
	}

	ext := newFakeExtractor("page")
	o := newOrchestrator(t, pipeline.Deps{
		Scanner:   &fakeScanner{scan: textScan(2)},
		Counter:   &fakeCounter{pages: 2},
		Extractor: ext,
		Cache:     store,
	}, pipeline.Options{})

	doc, err := o.Process(ctx, "job-1", "doc.pdf")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if ext.callsFor(1) != 0 {
		t.Errorf("cached page extracted %d times, want 0", ext.callsFor(1))
	}
	if ext.callsFor(2) != 1 {
		t.Errorf("uncached page extracted %d times, want 1", ext.callsFor(2))
	}
	if !strings.Contains(doc.Text, "cached page 1") {
		t.Errorf("Text = %q, missing cached content", doc.Text)
	}
}

func TestScannedDocumentUsesOCRExtractor(t *testing.T) {
	// Near-empty fast scan on a 5-page document: scanned heuristics fire
	// and the OCR extractor takes over.
	text := newFakeExtractor("text")
	ocr := newFakeExtractor("ocr")
	o := newOrchestrator(t, pipeline.Deps{
		Scanner:      &fakeScanner{scan: &engine.ScanResult{}},
		Counter:      &fakeCounter{pages: 5},
		Extractor:    text,
		OCRExtractor: ocr,
	}, pipeline.Options{})

	doc, err := o.Process(context.Background(), "job-1", "doc.pdf")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.Contains(doc.Text, "ocr 1") {
		t.Errorf("Text = %q, want OCR output", doc.Text)
	}
	if text.callsFor(1) != 0 {
		t.Error("text-layer extractor used for a scanned document")
	}
}

type plannedStrategy struct {
	table model.ExtractedTable
	pages []int
}

func (s *plannedStrategy) Name() model.ExtractionMethod { return model.MethodGrid }

func (s *plannedStrategy) Extract(_ context.Context, req tables.Request) ([]model.ExtractedTable, error) {
	s.pages = req.Pages
	return []model.ExtractedTable{s.table}, nil
}

func TestTablePagesArePlannedAndFolded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	scan := textScan(3)
	// Two tabular rows on page 2 make it a table candidate.
	scan.Elements = append(scan.Elements,
		engine.Element{Page: 2, Text: "Name  Total", Category: "table_row"},
		engine.Element{Page: 2, Text: "Widgets  42", Category: "table_row"},
	)

	strategy := &plannedStrategy{table: model.ExtractedTable{
		ID:         "t1",
		SourcePage: 2,
		Method:     model.MethodGrid,
		Confidence: 0.8,
		Rows:       [][]string{{"Name", "Total"}, {"Widgets", "42"}},
		Type:       model.TableInformational,
	}}
	reg := tables.NewRegistry()
	reg.Register(strategy)

	o := newOrchestrator(t, pipeline.Deps{
		Scanner:   &fakeScanner{scan: scan},
		Counter:   &fakeCounter{pages: 3},
		Extractor: newFakeExtractor("page"),
		Tables:    tables.NewCoordinator(reg, tables.Options{}),
	}, pipeline.Options{})

	doc, err := o.Process(context.Background(), "job-1", path)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(strategy.pages) != 1 || strategy.pages[0] != 2 {
		t.Errorf("planned pages = %v, want [2]", strategy.pages)
	}
	if len(doc.Tables) != 1 || doc.Tables[0].ID != "t1" {
		t.Errorf("Tables = %+v, want the strategy's table", doc.Tables)
	}
	if doc.Stats.TablesExtracted != 1 {
		t.Errorf("TablesExtracted = %d, want 1", doc.Stats.TablesExtracted)
	}
}

func TestProgressReachesDone(t *testing.T) {
	var mu sync.Mutex
	var stages []string
	var lastPct float64

	o := newOrchestrator(t, pipeline.Deps{
		Scanner:   &fakeScanner{scan: textScan(2)},
		Counter:   &fakeCounter{pages: 2},
		Extractor: newFakeExtractor("page"),
	}, pipeline.Options{
		Progress: func(stage string, pct float64, _ map[string]any) {
			mu.Lock()
			stages = append(stages, stage)
			lastPct = pct
			mu.Unlock()
		},
	})

	if _, err := o.Process(context.Background(), "job-1", "doc.pdf"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(stages) == 0 || stages[len(stages)-1] != "done" {
		t.Fatalf("stages = %v, want trailing done", stages)
	}
	if lastPct != 1.0 {
		t.Errorf("final percent = %v, want 1.0", lastPct)
	}
}

// logCapture collects emitted records so tests can inspect logged metrics.
type logCapture struct {
	mu      sync.Mutex
	records []map[string]any
}

func (c *logCapture) Enabled(context.Context, slog.Level) bool { return true }

func (c *logCapture) Handle(_ context.Context, r slog.Record) error {
	attrs := map[string]any{"msg": r.Message}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	c.mu.Lock()
	c.records = append(c.records, attrs)
	c.mu.Unlock()
	return nil
}

func (c *logCapture) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *logCapture) WithGroup(string) slog.Handler      { return c }

func (c *logCapture) last(msg string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.records) - 1; i >= 0; i-- {
		if c.records[i]["msg"] == msg {
			return c.records[i]
		}
	}
	return nil
}

func TestFinalPerformanceSummaryStaysInBounds(t *testing.T) {
	// Four pages in batches of two: the forced summary after the last
	// batch must report the job exactly complete, never past it.
	capture := &logCapture{}
	o := newOrchestrator(t, pipeline.Deps{
		Scanner:   &fakeScanner{scan: textScan(4)},
		Counter:   &fakeCounter{pages: 4},
		Extractor: newFakeExtractor("page"),
	}, pipeline.Options{
		PagesPerBatch: 2,
		Logger:        slog.New(capture),
	})

	if _, err := o.Process(context.Background(), "job-1", "doc.pdf"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	summary := capture.last("performance update")
	if summary == nil {
		t.Fatal("no performance update logged")
	}
	if got := summary["batch"].(int64); got != 2 {
		t.Errorf("batch = %d, want 2", got)
	}
	if got := summary["progress"].(float64); got != 1.0 {
		t.Errorf("progress = %v, want 1.0", got)
	}
	if got := summary["eta"].(time.Duration); got != 0 {
		t.Errorf("eta after final batch = %v, want 0", got)
	}
}

func TestModelPoolWarmsUpOnce(t *testing.T) {
	var runs atomic.Int32
	pool := pipeline.NewModelPool(func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := pool.WarmUp(ctx); err != nil {
			t.Fatalf("WarmUp: %v", err)
		}
	}
	if runs.Load() != 1 {
		t.Errorf("warmer ran %d times, want 1", runs.Load())
	}
}

func TestModelPoolWarmUpErrorSticks(t *testing.T) {
	boom := errors.New("model load failed")
	pool := pipeline.NewModelPool(func(context.Context) error { return boom })

	ctx := context.Background()
	if err := pool.WarmUp(ctx); !errors.Is(err, boom) {
		t.Fatalf("first WarmUp err = %v, want boom", err)
	}
	if err := pool.WarmUp(ctx); !errors.Is(err, boom) {
		t.Fatalf("second WarmUp err = %v, want sticky boom", err)
	}
}

func TestEmptyDocument(t *testing.T) {
	o := newOrchestrator(t, pipeline.Deps{
		Scanner:   &fakeScanner{scan: &engine.ScanResult{}},
		Counter:   &fakeCounter{pages: 0},
		Extractor: newFakeExtractor("page"),
	}, pipeline.Options{})

	doc, err := o.Process(context.Background(), "job-1", "doc.pdf")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !doc.NoTextExtracted {
		t.Error("NoTextExtracted = false for empty document")
	}
	if !strings.HasSuffix(doc.ExtractionMode, "no_pages") {
		t.Errorf("ExtractionMode = %q", doc.ExtractionMode)
	}
}
