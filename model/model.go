// Package model defines the data types shared across the docconv pipeline:
// per-page extraction results, extracted tables with provenance, detected
// form declarations, and the consolidated document result.
//
// Values are built bottom-up — PageResult → batch ConsolidatedResult →
// document ConsolidatedResult — and are never mutated after the merge that
// created them.
package model

import "strings"

// ExtractionMethod identifies the strategy that produced a table.
type ExtractionMethod string

const (
	MethodGrid       ExtractionMethod = "grid"
	MethodBorderless ExtractionMethod = "borderless"
	MethodOCR        ExtractionMethod = "ocr"
)

// TableType classifies an extracted table.
type TableType string

const (
	TableInformational TableType = "informational"
	TableFormLike      TableType = "form_like"
	TableBorderless    TableType = "borderless"
)

// Rect is an optional bounding box in PDF user-space points.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// ParseReport carries per-table extraction diagnostics. Known fields are
// typed; anything strategy-specific goes in Extra.
type ParseReport struct {
	Page         int               `json:"page"`
	TableIndex   int               `json:"table_index"`
	OriginalRows int               `json:"original_rows"`
	CleanedRows  int               `json:"cleaned_rows"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// ExtractedTable is one table candidate produced by an extraction strategy.
// Rows is rectangular: every row has the same column count as Rows[0].
// Ragged OCR rows must be filtered out before a table is accepted.
type ExtractedTable struct {
	ID         string           `json:"table_id"` // unique per extraction attempt
	SourcePage int              `json:"source_page"`
	Method     ExtractionMethod `json:"extraction_method"`
	Confidence float64          `json:"confidence"` // [0,1]
	Rows       [][]string       `json:"rows"`
	Type       TableType        `json:"table_type"`
	BBox       *Rect            `json:"bbox,omitempty"`
	Report     ParseReport      `json:"parsing_report"`
}

// ColumnCount returns the width of the header row, or 0 for an empty table.
func (t *ExtractedTable) ColumnCount() int {
	if len(t.Rows) == 0 {
		return 0
	}
	return len(t.Rows[0])
}

// IsRectangular reports whether every row matches the header width.
func (t *ExtractedTable) IsRectangular() bool {
	if len(t.Rows) == 0 {
		return false
	}
	w := len(t.Rows[0])
	for _, row := range t.Rows {
		if len(row) != w {
			return false
		}
	}
	return true
}

// FormTypeDeclarative is the only form type the detector currently emits.
const FormTypeDeclarative = "declarative_form"

// FormDeclaration is a form-like structure discovered in page text:
// placeholder tokens, underline runs, or declarative clauses.
type FormDeclaration struct {
	Type       string   `json:"type"`
	RawText    string   `json:"raw"`
	Fields     []string `json:"fields"`
	SourcePage int      `json:"source_page,omitempty"`
}

// PageResult is the output of one page's extraction. Immutable once
// returned; consumed by the consolidator and discarded afterwards.
type PageResult struct {
	Text   string            `json:"text"`
	Tables []ExtractedTable  `json:"tables"`
	Forms  []FormDeclaration `json:"forms"`
}

// HasContent reports whether the page produced any text, table or form.
func (p *PageResult) HasContent() bool {
	return strings.TrimSpace(p.Text) != "" || len(p.Tables) > 0 || len(p.Forms) > 0
}

// ProcessingStats summarizes a consolidated document.
type ProcessingStats struct {
	TotalPages       int     `json:"total_pages"`
	PagesProcessed   int     `json:"pages_processed"`
	PagesWithContent int     `json:"pages_with_content"`
	PagesFailed      int     `json:"pages_failed"`
	SuccessRate      float64 `json:"success_rate"`
	TablesExtracted  int     `json:"tables_extracted"`
	FormsExtracted   int     `json:"forms_extracted"`
}

// ConsolidatedResult is a merged batch or document result.
type ConsolidatedResult struct {
	Text            string            `json:"text"`
	Tables          []ExtractedTable  `json:"tables"`
	Forms           []FormDeclaration `json:"forms"`
	SizeBytes       int               `json:"md_size_bytes"`
	NoTextExtracted bool              `json:"no_text_extracted"`

	// ExtractionMode is "{mode}_optimized" when text was produced and
	// "{mode}_failed" when not. Downstream consumers treat this as a
	// quality signal, not just a label.
	ExtractionMode string `json:"extraction_mode,omitempty"`

	// Batch-level bookkeeping, aggregated at document level.
	PagesWithContent int    `json:"pages_with_content"`
	PagesFailed      int    `json:"pages_failed"`
	PageRange        string `json:"page_range,omitempty"`

	Stats *ProcessingStats `json:"processing_stats,omitempty"`
}
