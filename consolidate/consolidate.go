// Package consolidate merges ordered partial extraction results: per-page
// results into a batch result, and batch results into one document result.
//
// Pages inside a batch may complete in any order; the batch merge walks the
// requested page range in ascending page order, so the output is
// deterministic regardless of worker completion order. Each merge level is
// pure — it never mutates its inputs and the returned result is owned
// exclusively by the caller.
package consolidate

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/hazyhaar/docconv/model"
)

// textSeparator joins page and batch text sections.
const textSeparator = "\n\n"

// Stats counts what a consolidator has merged so far, for diagnostics.
type Stats struct {
	BatchesProcessed   int `json:"batches_processed"`
	PagesConsolidated  int `json:"pages_consolidated"`
	TextSegmentsMerged int `json:"text_segments_merged"`
	TablesCollected    int `json:"tables_collected"`
	FormsCollected     int `json:"forms_collected"`
}

// Consolidator assembles batch and document results.
type Consolidator struct {
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a consolidator. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Consolidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{logger: logger}
}

// ConsolidateBatch merges per-page results for the 1-indexed page range
// [startPage, endPage). A nil entry (or a missing key) counts as a failed
// page, not as empty content. When preserveOrder is set, pages are merged
// in ascending page order; otherwise in ascending order of available keys.
func (c *Consolidator) ConsolidateBatch(results map[int]*model.PageResult, startPage, endPage int, preserveOrder bool) *model.ConsolidatedResult {
	var pages []int
	if preserveOrder {
		for p := startPage; p < endPage; p++ {
			pages = append(pages, p)
		}
	} else {
		for p := range results {
			pages = append(pages, p)
		}
		sort.Ints(pages)
	}

	var (
		textParts        []string
		tables           []model.ExtractedTable
		forms            []model.FormDeclaration
		pagesWithContent int
		pagesFailed      int
	)

	for _, page := range pages {
		result := results[page]
		if result == nil {
			pagesFailed++
			c.logger.Debug("no result for page", "page", page)
			continue
		}

		if text := strings.TrimSpace(result.Text); text != "" {
			textParts = append(textParts, text)
			pagesWithContent++
		}

		for _, table := range result.Tables {
			stamped := table
			stamped.SourcePage = page
			tables = append(tables, stamped)
		}
		for _, form := range result.Forms {
			stamped := form
			stamped.SourcePage = page
			forms = append(forms, stamped)
		}
	}

	text := mergeSegments(textParts)

	c.mu.Lock()
	c.stats.BatchesProcessed++
	c.stats.PagesConsolidated += endPage - startPage
	c.stats.TextSegmentsMerged += len(textParts)
	c.stats.TablesCollected += len(tables)
	c.stats.FormsCollected += len(forms)
	c.mu.Unlock()

	batch := &model.ConsolidatedResult{
		Text:             text,
		Tables:           tables,
		Forms:            forms,
		SizeBytes:        len(text),
		NoTextExtracted:  text == "",
		PagesWithContent: pagesWithContent,
		PagesFailed:      pagesFailed,
		PageRange:        fmt.Sprintf("%d-%d", startPage, endPage-1),
	}

	c.logger.Debug("batch consolidated",
		"range", batch.PageRange,
		"pages_with_content", pagesWithContent,
		"pages_failed", pagesFailed,
		"tables", len(tables), "forms", len(forms))
	return batch
}

// ConsolidateDocument merges batch results into the final document result.
// mode names the processing mode ("parallel", "fast", ...); it is suffixed
// with "_optimized" or "_failed" depending on whether any text came out.
func (c *Consolidator) ConsolidateDocument(batches []*model.ConsolidatedResult, totalPages int, mode string) *model.ConsolidatedResult {
	var (
		textParts        []string
		tables           []model.ExtractedTable
		forms            []model.FormDeclaration
		pagesWithContent int
		pagesFailed      int
	)

	for _, batch := range batches {
		if batch == nil {
			continue
		}
		if text := strings.TrimSpace(batch.Text); text != "" {
			textParts = append(textParts, text)
		}
		tables = append(tables, batch.Tables...)
		forms = append(forms, batch.Forms...)
		pagesWithContent += batch.PagesWithContent
		pagesFailed += batch.PagesFailed
	}

	text := mergeSegments(textParts)
	noText := text == ""

	stats := &model.ProcessingStats{
		TotalPages:       totalPages,
		PagesProcessed:   pagesWithContent + pagesFailed,
		PagesWithContent: pagesWithContent,
		PagesFailed:      pagesFailed,
		TablesExtracted:  len(tables),
		FormsExtracted:   len(forms),
	}
	if totalPages > 0 {
		stats.SuccessRate = float64(pagesWithContent) / float64(totalPages)
	}

	suffix := "_optimized"
	if noText {
		suffix = "_failed"
	}

	doc := &model.ConsolidatedResult{
		Text:             text,
		Tables:           tables,
		Forms:            forms,
		SizeBytes:        len(text),
		NoTextExtracted:  noText,
		ExtractionMode:   mode + suffix,
		PagesWithContent: pagesWithContent,
		PagesFailed:      pagesFailed,
		Stats:            stats,
	}

	c.logger.Info("document consolidated",
		"chars", len(text), "tables", len(tables), "forms", len(forms),
		"success_rate", stats.SuccessRate, "mode", doc.ExtractionMode)
	return doc
}

// EmptyResult builds a well-formed zero-content result so callers never
// have to special-case nil. reason becomes the mode suffix.
func EmptyResult(reason, mode string) *model.ConsolidatedResult {
	return &model.ConsolidatedResult{
		Tables:          []model.ExtractedTable{},
		Forms:           []model.FormDeclaration{},
		NoTextExtracted: true,
		ExtractionMode:  mode + "_" + reason,
		Stats:           &model.ProcessingStats{},
	}
}

// Stats returns a copy of the consolidation counters.
func (c *Consolidator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Reset clears the consolidation counters.
func (c *Consolidator) Reset() {
	c.mu.Lock()
	c.stats = Stats{}
	c.mu.Unlock()
}

// mergeSegments joins non-empty trimmed segments with the double separator.
func mergeSegments(parts []string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, textSeparator)
}
