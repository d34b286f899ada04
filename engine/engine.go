// Package engine defines the extraction engines the pipeline drives and
// their default implementations: a pdfcpu-backed text-layer engine for page
// counting, fast scanning and per-page extraction, a Tesseract-backed OCR
// engine for scanned pages, and an exec-based pre-converter for legacy
// office formats.
package engine

import (
	"context"
	"time"

	"github.com/hazyhaar/docconv/model"
)

// PageExtractor extracts one page. It must be safe to invoke repeatedly for
// the same page with a shrinking timeout.
type PageExtractor interface {
	ExtractPage(ctx context.Context, path string, page int, timeout time.Duration) (*model.PageResult, error)
}

// FastScanner runs the cheap full-document pass used for telemetry and
// page-count discovery before the expensive parallel pass.
type FastScanner interface {
	FastScan(ctx context.Context, path string) (*ScanResult, error)
}

// PageCounter is the authoritative page-count source, used when fast-scan
// metadata is absent or zero (notably scanned documents with no text layer).
type PageCounter interface {
	CountPages(ctx context.Context, path string) (int, error)
}

// LegacyConverter normalizes a legacy document format into a PDF before
// extraction begins. Returns the converted file's path.
type LegacyConverter interface {
	Convert(ctx context.Context, path string) (string, error)
}

// Element is one piece of content the fast scan found.
type Element struct {
	Page     int    `json:"page"`
	Text     string `json:"text"`
	Category string `json:"category"` // "text" or "table_row"
}

// ScanResult is the fast pass output: rough content plus page telemetry.
type ScanResult struct {
	Elements  []Element `json:"elements"`
	PagesSeen []int     `json:"pages_seen"`
	PageCount int       `json:"page_count"` // zero when the text layer is absent
	Quality   Quality   `json:"quality"`
}

// TotalChars sums the text length across elements.
func (s *ScanResult) TotalChars() int {
	total := 0
	for _, el := range s.Elements {
		total += len([]rune(el.Text))
	}
	return total
}
