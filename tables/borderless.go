package tables

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hazyhaar/docconv/model"
)

// RawTable is one table as returned by a borderless extraction tool, before
// cleaning and normalization.
type RawTable struct {
	Page int
	Rows [][]string
	BBox *model.Rect
}

// BorderlessSettings tune the external borderless extraction tool. The
// defaults favor strict line snapping, which performs best on financial and
// administrative documents.
type BorderlessSettings struct {
	SnapTolerance         int `json:"snap_tolerance"`
	JoinTolerance         int `json:"join_tolerance"`
	EdgeMinLength         int `json:"edge_min_length"`
	MinWordsVertical      int `json:"min_words_vertical"`
	MinWordsHorizontal    int `json:"min_words_horizontal"`
	IntersectionTolerance int `json:"intersection_tolerance"`
	TextTolerance         int `json:"text_tolerance"`
}

// DefaultBorderlessSettings returns the tuned extraction settings.
func DefaultBorderlessSettings() BorderlessSettings {
	return BorderlessSettings{
		SnapTolerance:         3,
		JoinTolerance:         3,
		EdgeMinLength:         3,
		MinWordsVertical:      3,
		MinWordsHorizontal:    1,
		IntersectionTolerance: 3,
		TextTolerance:         3,
	}
}

// RowSource is the external borderless-table extraction tool. It must be
// safe to call once per extraction request.
type RowSource interface {
	ExtractTables(ctx context.Context, path string, pages []int, settings BorderlessSettings) ([]RawTable, error)
}

// borderlessConfidence is the estimated confidence for tables inferred
// without visible grid lines.
const borderlessConfidence = 0.7

// BorderlessStrategy adapts a RowSource into a Strategy: it cleans the raw
// rows (trimming cells, dropping empty and ragged rows) and emits tables
// that satisfy the rectangular-rows invariant.
type BorderlessStrategy struct {
	Source   RowSource
	Settings BorderlessSettings
}

// NewBorderlessStrategy wraps a row source with the default settings.
func NewBorderlessStrategy(source RowSource) *BorderlessStrategy {
	return &BorderlessStrategy{Source: source, Settings: DefaultBorderlessSettings()}
}

func (s *BorderlessStrategy) Name() model.ExtractionMethod { return model.MethodBorderless }

func (s *BorderlessStrategy) Extract(ctx context.Context, req Request) ([]model.ExtractedTable, error) {
	raw, err := s.Source.ExtractTables(ctx, req.Path, req.Pages, s.Settings)
	if err != nil {
		return nil, fmt.Errorf("borderless extraction: %w", err)
	}

	var tables []model.ExtractedTable
	indexOnPage := make(map[int]int)
	for _, r := range raw {
		idx := indexOnPage[r.Page]
		indexOnPage[r.Page]++

		rows := cleanRows(r.Rows)
		if len(rows) < 2 { // header plus at least one data row
			continue
		}

		tables = append(tables, model.ExtractedTable{
			ID:         newTableID(),
			SourcePage: r.Page,
			Method:     model.MethodBorderless,
			Confidence: borderlessConfidence,
			Rows:       rows,
			Type:       model.TableBorderless,
			BBox:       r.BBox,
			Report: model.ParseReport{
				Page:         r.Page,
				TableIndex:   idx,
				OriginalRows: len(r.Rows),
				CleanedRows:  len(rows),
				Extra: map[string]string{
					"snap_tolerance": strconv.Itoa(s.Settings.SnapTolerance),
				},
			},
		})
	}
	return tables, nil
}

// cleanRows trims cells, drops rows with no content, and drops rows whose
// width differs from the header's so the result is rectangular.
func cleanRows(raw [][]string) [][]string {
	var rows [][]string
	for _, row := range raw {
		clean := make([]string, len(row))
		hasContent := false
		for i, cell := range row {
			clean[i] = trimCell(cell)
			if clean[i] != "" {
				hasContent = true
			}
		}
		if !hasContent {
			continue
		}
		if len(rows) > 0 && len(clean) != len(rows[0]) {
			continue
		}
		rows = append(rows, clean)
	}
	return rows
}
