package tables

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"

	"github.com/hazyhaar/docconv/model"
)

// similarityThreshold is the cell-level match ratio on the first data row
// above which two same-shaped, same-header tables count as duplicates.
const similarityThreshold = 0.8

// Dedupe removes duplicate table candidates in two phases. Phase one
// compares tables on the same page by shape, header and a first-data-row
// sample, keeping the higher-confidence of any duplicate pair — this catches
// different strategies describing the same physical table. Phase two drops
// exact content repeats by hash, catching re-detection within one strategy.
// The operation is idempotent: running it on its own output changes nothing.
func Dedupe(candidates []model.ExtractedTable, logger *slog.Logger) []model.ExtractedTable {
	if logger == nil {
		logger = slog.Default()
	}
	if len(candidates) == 0 {
		return []model.ExtractedTable{}
	}

	byPage := make(map[int][]model.ExtractedTable)
	var pageOrder []int
	for _, t := range candidates {
		if _, seen := byPage[t.SourcePage]; !seen {
			pageOrder = append(pageOrder, t.SourcePage)
		}
		byPage[t.SourcePage] = append(byPage[t.SourcePage], t)
	}
	sort.Ints(pageOrder)

	var merged []model.ExtractedTable
	for _, page := range pageOrder {
		merged = append(merged, dedupeSimilar(byPage[page])...)
	}

	unique := dedupeByContentHash(merged, logger)
	if len(unique) != len(candidates) {
		logger.Debug("table dedup", "candidates", len(candidates), "unique", len(unique))
	}
	return unique
}

// dedupeSimilar collapses near-duplicates within a single page, keeping the
// higher-confidence member of every duplicate pair.
func dedupeSimilar(tables []model.ExtractedTable) []model.ExtractedTable {
	var unique []model.ExtractedTable
	for _, t := range tables {
		duplicate := false
		for i, kept := range unique {
			if !similar(t, kept) {
				continue
			}
			if t.Confidence > kept.Confidence {
				unique[i] = t
			}
			duplicate = true
			break
		}
		if !duplicate {
			unique = append(unique, t)
		}
	}
	return unique
}

// similar reports whether two tables plausibly describe the same physical
// table: same shape, equal header row (case-insensitive, trimmed), and a
// first-data-row cell match of at least similarityThreshold.
func similar(a, b model.ExtractedTable) bool {
	if len(a.Rows) == 0 || len(b.Rows) == 0 {
		return false
	}
	if len(a.Rows) != len(b.Rows) || len(a.Rows[0]) != len(b.Rows[0]) {
		return false
	}

	if !equalFold(a.Rows[0], b.Rows[0]) {
		return false
	}

	if len(a.Rows) > 1 && len(b.Rows) > 1 {
		return sampleSimilarity(a.Rows[1], b.Rows[1]) >= similarityThreshold
	}
	// Header-only tables with equal headers.
	return true
}

func equalFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(strings.TrimSpace(a[i]), strings.TrimSpace(b[i])) {
			return false
		}
	}
	return true
}

func sampleSimilarity(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}
	matches := 0
	for i := range a {
		if i < len(b) && strings.EqualFold(strings.TrimSpace(a[i]), strings.TrimSpace(b[i])) {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

// dedupeByContentHash drops exact repeats. The hash is order-independent
// across rows, so the same content detected with rows in a different order
// still collapses. Tables with no rows are dropped outright.
func dedupeByContentHash(tables []model.ExtractedTable, logger *slog.Logger) []model.ExtractedTable {
	seen := make(map[string]struct{}, len(tables))
	unique := make([]model.ExtractedTable, 0, len(tables))

	for _, t := range tables {
		if len(t.Rows) == 0 {
			continue
		}
		h := ContentHash(t.Rows)
		if _, dup := seen[h]; dup {
			logger.Debug("dropping exact duplicate table", "table_id", t.ID, "hash", h[:8])
			continue
		}
		seen[h] = struct{}{}
		unique = append(unique, t)
	}
	return unique
}

// ContentHash returns a stable hex digest of a table's cell content,
// independent of row order.
func ContentHash(rows [][]string) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, strings.Join(row, "\x1f"))
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\x1e")))
	return hex.EncodeToString(sum[:])
}
