package tables

import (
	"github.com/hazyhaar/docconv/model"
)

// DocumentTable is the document-level output shape for a table, the form in
// which tables leave this package and reach downstream consumers.
type DocumentTable struct {
	Rows       [][]string        `json:"rows"`
	Type       model.TableType   `json:"table_type"`
	Page       int               `json:"page"`
	Confidence float64           `json:"extraction_confidence"`
	Method     string            `json:"extraction_method"`
	BBox       *model.Rect       `json:"bbox,omitempty"`
	Metadata   DocumentTableMeta `json:"metadata"`
}

// DocumentTableMeta carries provenance that only matters for diagnostics.
type DocumentTableMeta struct {
	TableID string            `json:"table_id"`
	Report  model.ParseReport `json:"parsing_report"`
}

// ToDocumentFormat converts extracted tables to the document shape.
// Zero-row tables are dropped, never emitted as degenerate entries.
func ToDocumentFormat(tables []model.ExtractedTable) []DocumentTable {
	converted := make([]DocumentTable, 0, len(tables))
	for i := range tables {
		if d := toDocument(&tables[i]); d != nil {
			converted = append(converted, *d)
		}
	}
	return converted
}

func toDocument(t *model.ExtractedTable) *DocumentTable {
	if len(t.Rows) == 0 {
		return nil
	}
	return &DocumentTable{
		Rows:       t.Rows,
		Type:       t.Type,
		Page:       t.SourcePage,
		Confidence: t.Confidence,
		Method:     string(t.Method),
		BBox:       t.BBox,
		Metadata: DocumentTableMeta{
			TableID: t.ID,
			Report:  t.Report,
		},
	}
}

// FromDocumentFormat converts document-shape tables back to the internal
// shape. Zero-row tables are dropped.
func FromDocumentFormat(tables []DocumentTable) []model.ExtractedTable {
	converted := make([]model.ExtractedTable, 0, len(tables))
	for i := range tables {
		if t := fromDocument(&tables[i]); t != nil {
			converted = append(converted, *t)
		}
	}
	return converted
}

func fromDocument(d *DocumentTable) *model.ExtractedTable {
	if len(d.Rows) == 0 {
		return nil
	}
	return &model.ExtractedTable{
		ID:         d.Metadata.TableID,
		SourcePage: d.Page,
		Method:     model.ExtractionMethod(d.Method),
		Confidence: d.Confidence,
		Rows:       d.Rows,
		Type:       d.Type,
		BBox:       d.BBox,
		Report:     d.Metadata.Report,
	}
}

// ValidInternal reports whether a table carries the field set the internal
// shape requires. Used by tests and as a post-condition check, never for
// control flow.
func ValidInternal(t *model.ExtractedTable) bool {
	return t != nil &&
		len(t.Rows) > 0 &&
		t.ID != "" &&
		t.Method != "" &&
		t.SourcePage > 0 &&
		t.Confidence >= 0 && t.Confidence <= 1
}

// ValidDocument reports whether a document-shape table carries the required
// field set.
func ValidDocument(d *DocumentTable) bool {
	return d != nil && len(d.Rows) > 0 && d.Type != "" && d.Page > 0
}
