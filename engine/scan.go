package engine

import "sort"

// Thresholds for the scanned-document heuristic. Element counts and
// chars-per-page combine as multiple signals; a single weak signal never
// classifies a document as scanned on its own.
const (
	veryFewElementsMax = 50
	fewElementsMax     = 200
	minimalTextMax     = 50.0
	lowTextMax         = 100.0
)

// ScanSignals are the individual signals behind a scanned-document verdict,
// kept for logging and diagnostics.
type ScanSignals struct {
	VeryFewElements bool    `json:"very_few_elements"`
	FewElements     bool    `json:"few_elements"`
	MinimalText     bool    `json:"minimal_text"`
	LowText         bool    `json:"low_text"`
	Elements        int     `json:"elements_detected"`
	TotalChars      int     `json:"total_text_chars"`
	AvgCharsPerPage float64 `json:"avg_chars_per_page"`
}

// DetectScanned decides whether a document is a scan with no usable text
// layer. It requires either two strong signals or one strong plus one
// medium signal, so a short but genuine text document is not misclassified.
func DetectScanned(scan *ScanResult, totalPages int) (bool, ScanSignals) {
	if totalPages < 1 {
		totalPages = 1
	}
	totalChars := scan.TotalChars()
	avg := float64(totalChars) / float64(totalPages)

	s := ScanSignals{
		VeryFewElements: len(scan.Elements) < veryFewElementsMax,
		FewElements:     len(scan.Elements) < fewElementsMax,
		MinimalText:     avg < minimalTextMax,
		LowText:         avg < lowTextMax,
		Elements:        len(scan.Elements),
		TotalChars:      totalChars,
		AvgCharsPerPage: avg,
	}

	scanned := (s.VeryFewElements && s.MinimalText) ||
		(s.VeryFewElements && s.LowText) ||
		(s.FewElements && s.MinimalText)
	return scanned, s
}

// minTableRows is the number of tabular elements a page needs before it is
// planned for table extraction.
const minTableRows = 2

// TableCandidatePages returns the pages whose fast-scan elements suggest
// tables, in ascending order, capped at maxPages (0 = no cap).
func TableCandidatePages(elements []Element, maxPages int) []int {
	rowsPerPage := make(map[int]int)
	for _, el := range elements {
		if el.Category == "table_row" {
			rowsPerPage[el.Page]++
		}
	}

	var pages []int
	for page, rows := range rowsPerPage {
		if rows >= minTableRows {
			pages = append(pages, page)
		}
	}
	sort.Ints(pages)

	if maxPages > 0 && len(pages) > maxPages {
		pages = pages[:maxPages]
	}
	return pages
}
