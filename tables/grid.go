package tables

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hazyhaar/docconv/model"
)

// TextSource supplies the text layer of a single page as layout-preserving
// lines. The default implementation sits in the engine package.
type TextSource interface {
	PageLines(ctx context.Context, path string, page int) ([]string, error)
}

// gridConfidence is higher than borderless: column alignment across several
// consecutive lines is strong evidence of a real table.
const gridConfidence = 0.8

// minGridRows is the minimum run of aligned lines that counts as a table
// (header plus one data row).
const minGridRows = 2

// cellGap splits a layout-preserving line into cells: a tab or a run of two
// or more spaces marks a column boundary.
var cellGap = regexp.MustCompile(`\t|\s{2,}`)

// GridStrategy infers tables from the text layer: consecutive lines that
// split into the same column count (at least two columns) form a table block.
type GridStrategy struct {
	Source TextSource
}

// NewGridStrategy creates the text-layer grid strategy.
func NewGridStrategy(source TextSource) *GridStrategy {
	return &GridStrategy{Source: source}
}

func (s *GridStrategy) Name() model.ExtractionMethod { return model.MethodGrid }

func (s *GridStrategy) Extract(ctx context.Context, req Request) ([]model.ExtractedTable, error) {
	var tables []model.ExtractedTable
	for _, page := range req.Pages {
		lines, err := s.Source.PageLines(ctx, req.Path, page)
		if err != nil {
			return nil, fmt.Errorf("grid extraction page %d: %w", page, err)
		}
		tables = append(tables, gridTablesFromLines(lines, page)...)
	}
	return tables, nil
}

// gridTablesFromLines scans a page's lines for runs of equally-wide rows.
func gridTablesFromLines(lines []string, page int) []model.ExtractedTable {
	var (
		tables []model.ExtractedTable
		block  [][]string
		index  int
	)

	flush := func(scanned int) {
		if len(block) >= minGridRows {
			tables = append(tables, model.ExtractedTable{
				ID:         newTableID(),
				SourcePage: page,
				Method:     model.MethodGrid,
				Confidence: gridConfidence,
				Rows:       block,
				Type:       model.TableInformational,
				Report: model.ParseReport{
					Page:         page,
					TableIndex:   index,
					OriginalRows: scanned,
					CleanedRows:  len(block),
				},
			})
			index++
		}
		block = nil
	}

	scanned := 0
	for _, line := range lines {
		cells := splitCells(line)
		// A table row needs at least two columns; anything else ends
		// the current block.
		if len(cells) < 2 {
			flush(scanned)
			scanned = 0
			continue
		}
		if len(block) > 0 && len(cells) != len(block[0]) {
			flush(scanned)
			scanned = 0
		}
		block = append(block, cells)
		scanned++
	}
	flush(scanned)

	return tables
}

// splitCells splits a line on tab or multi-space gaps and trims each cell.
// Returns nil for blank lines.
func splitCells(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	parts := cellGap.Split(line, -1)
	cells := parts[:0]
	for _, p := range parts {
		if p = trimCell(p); p != "" {
			cells = append(cells, p)
		}
	}
	return cells
}

func trimCell(cell string) string {
	return strings.TrimSpace(cell)
}
