// Package perf tracks processing performance at two granularities: a
// page-level metrics collector (cache hits, successes, errors) and a
// batch-level parallel tracker (rolling timings, ETA, speedup, efficiency).
//
// Neither tracker blocks. Within a pipeline run the orchestrator is the only
// writer, but both trackers are safe for concurrent use anyway so completion
// callbacks can record directly.
package perf

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
)

// Snapshot is a read-only view of collected page metrics.
type Snapshot struct {
	TotalPages       int     `json:"total_pages"`
	PagesToProcess   int     `json:"pages_to_process"`
	AlreadyProcessed int     `json:"already_processed"`
	RemainingPages   int     `json:"remaining_pages"`
	CacheHits        int     `json:"cache_hits"`
	CacheMisses      int     `json:"cache_misses"`
	ProcessingErrors int     `json:"processing_errors"`
	BatchesPersisted int     `json:"batches_persisted"`
	CacheHitRate     float64 `json:"cache_hit_rate"` // percent
	ErrorRate        float64 `json:"error_rate"`     // percent
	ProcessedCount   int     `json:"processed_page_count"`
	ErrorCount       int     `json:"error_page_count"`
}

// Collector records page-level processing metrics for one document job.
// Created at job start, discarded at job end.
type Collector struct {
	mu sync.Mutex

	totalPages       int
	pagesToProcess   int
	alreadyProcessed int
	remainingPages   int
	cacheHits        int
	cacheMisses      int
	processingErrors int
	batchesPersisted int
	processedPages   map[int]struct{}
	errorPages       map[int]struct{}

	logger *slog.Logger
}

// NewCollector creates an empty collector. A nil logger falls back to
// slog.Default.
func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		processedPages: make(map[int]struct{}),
		errorPages:     make(map[int]struct{}),
		logger:         logger,
	}
}

// Init seeds the collector with document and job information.
func (c *Collector) Init(totalPages int, pagesToProcess, alreadyProcessed map[int]struct{}) {
	remaining := 0
	for p := range pagesToProcess {
		if _, done := alreadyProcessed[p]; !done {
			remaining++
		}
	}

	c.mu.Lock()
	c.totalPages = totalPages
	c.pagesToProcess = len(pagesToProcess)
	c.alreadyProcessed = len(alreadyProcessed)
	c.remainingPages = remaining
	c.mu.Unlock()

	c.logger.Info("metrics initialized",
		"remaining", remaining, "already_processed", len(alreadyProcessed))
}

// RecordCacheHit counts a page served from the cache.
func (c *Collector) RecordCacheHit(page int) {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
	c.logger.Debug("cache hit", "page", page)
}

// RecordCacheMiss counts a page that had to be extracted.
func (c *Collector) RecordCacheMiss(page int) {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
	c.logger.Debug("cache miss", "page", page)
}

// RecordPageProcessed marks a page as successfully processed.
func (c *Collector) RecordPageProcessed(page int) {
	c.mu.Lock()
	c.processedPages[page] = struct{}{}
	c.mu.Unlock()
}

// RecordPageError counts a failed page.
func (c *Collector) RecordPageError(page int, reason string) {
	c.mu.Lock()
	c.processingErrors++
	c.errorPages[page] = struct{}{}
	c.mu.Unlock()
	c.logger.Warn("page processing error", "page", page, "reason", reason)
}

// RecordBatchPersisted counts a successful batch persistence.
func (c *Collector) RecordBatchPersisted() {
	c.mu.Lock()
	c.batchesPersisted++
	n := c.batchesPersisted
	c.mu.Unlock()
	c.logger.Debug("batch persisted", "total", n)
}

// Snapshot returns a read-only copy of the current metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TotalPages:       c.totalPages,
		PagesToProcess:   c.pagesToProcess,
		AlreadyProcessed: c.alreadyProcessed,
		RemainingPages:   c.remainingPages,
		CacheHits:        c.cacheHits,
		CacheMisses:      c.cacheMisses,
		ProcessingErrors: c.processingErrors,
		BatchesPersisted: c.batchesPersisted,
		ProcessedCount:   len(c.processedPages),
		ErrorCount:       len(c.errorPages),
	}
	if total := c.cacheHits + c.cacheMisses; total > 0 {
		s.CacheHitRate = round2(float64(c.cacheHits) / float64(total) * 100)
	}
	if c.pagesToProcess > 0 {
		s.ErrorRate = round2(float64(c.processingErrors) / float64(c.pagesToProcess) * 100)
	}
	return s
}

// SummaryReport formats a human-readable job summary.
func (c *Collector) SummaryReport(jobID, path string) string {
	s := c.Snapshot()
	return fmt.Sprintf(
		"job %s (%s): %d/%d pages processed, cache %d hits / %d misses (%.2f%% hit rate), %d errors (%.2f%%), %d batches persisted",
		jobID, filepath.Base(path),
		s.ProcessedCount, s.PagesToProcess,
		s.CacheHits, s.CacheMisses, s.CacheHitRate,
		s.ProcessingErrors, s.ErrorRate,
		s.BatchesPersisted,
	)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
