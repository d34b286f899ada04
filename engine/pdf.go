package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/hazyhaar/docconv/model"
)

// cellGapThreshold is the horizontal displacement in text-space units above
// which a Td move is treated as a column gap rather than word spacing.
const cellGapThreshold = 40.0

// PDF is the text-layer engine. It counts pages, runs the fast pass, serves
// layout-preserving page lines to the grid table strategy, and extracts
// single pages for documents with a usable text layer.
type PDF struct {
	logger *slog.Logger
}

// NewPDF creates the text-layer engine. A nil logger falls back to
// slog.Default.
func NewPDF(logger *slog.Logger) *PDF {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDF{logger: logger}
}

// open reads, validates and optimizes the document.
func (p *PDF) open(path string) (*pdfmodel.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := pdfmodel.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return pctx, nil
}

// CountPages returns the real page count. This is the authoritative source
// when fast-scan metadata is absent or zero.
func (p *PDF) CountPages(_ context.Context, path string) (int, error) {
	pctx, err := p.open(path)
	if err != nil {
		return 0, err
	}
	return pctx.PageCount, nil
}

// FastScan runs the cheap full-document text-layer pass. A scanned document
// with no text layer yields zero elements and PageCount 0 in the result's
// quality-relevant sense: PageCount here reflects pages with text content.
func (p *PDF) FastScan(ctx context.Context, path string) (*ScanResult, error) {
	pctx, err := p.open(path)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{}
	totalChars := 0
	var allText strings.Builder

	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines := pageLines(pctx, pageNr)
		if len(lines) == 0 {
			continue
		}
		result.PagesSeen = append(result.PagesSeen, pageNr)

		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			category := "text"
			if looksTabular(line) {
				category = "table_row"
			}
			result.Elements = append(result.Elements, Element{
				Page:     pageNr,
				Text:     line,
				Category: category,
			})
			totalChars += len([]rune(line))
			allText.WriteString(line)
			allText.WriteByte('\n')
		}
	}

	result.PageCount = len(result.PagesSeen)

	var charsPerPage float64
	if pctx.PageCount > 0 {
		charsPerPage = float64(totalChars) / float64(pctx.PageCount)
	}
	result.Quality = Quality{
		PageCount:       pctx.PageCount,
		CharsPerPage:    charsPerPage,
		PrintableRatio:  printableRatio(allText.String()),
		WordlikeRatio:   wordlikeRatio(allText.String()),
		HasImageStreams: detectImageStreams(pctx),
	}

	p.logger.Debug("fast scan done",
		"path", path, "pages", pctx.PageCount,
		"pages_with_text", result.PageCount,
		"elements", len(result.Elements),
		"chars_per_page", charsPerPage)
	return result, nil
}

// ExtractPage extracts one page from the text layer, with table and form
// detection over its lines.
func (p *PDF) ExtractPage(ctx context.Context, path string, page int, timeout time.Duration) (*model.PageResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pctx, err := p.open(path)
	if err != nil {
		return nil, err
	}
	if page < 1 || page > pctx.PageCount {
		return nil, fmt.Errorf("page %d out of range 1..%d", page, pctx.PageCount)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lines := pageLines(pctx, page)
	text := strings.Join(lines, "\n")

	return &model.PageResult{
		Text:  text,
		Forms: DetectForms(text),
	}, nil
}

// PageLines serves the grid table strategy with layout-preserving lines.
func (p *PDF) PageLines(_ context.Context, path string, page int) ([]string, error) {
	pctx, err := p.open(path)
	if err != nil {
		return nil, err
	}
	if page < 1 || page > pctx.PageCount {
		return nil, fmt.Errorf("page %d out of range 1..%d", page, pctx.PageCount)
	}
	return pageLines(pctx, page), nil
}

// pageLines extracts one page's text as lines via the content stream.
func pageLines(pctx *pdfmodel.Context, pageNr int) []string {
	r, err := pdfcpu.ExtractPageContent(pctx, pageNr)
	if err != nil {
		return nil
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return nil
	}
	return linesFromStream(data)
}

// detectImageStreams checks whether the document contains image XObjects.
func detectImageStreams(pctx *pdfmodel.Context) bool {
	if pctx.Optimize != nil {
		for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
			if len(pdfcpu.ImageObjNrs(pctx, pageNr)) > 0 {
				return true
			}
		}
	}
	// Fallback: scan the XRefTable for image subtype objects.
	for _, entry := range pctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// tdOperandsRe captures the tx ty operands of a Td/TD positioning operator.
var tdOperandsRe = regexp.MustCompile(`(-?[\d.]+)\s+(-?[\d.]+)\s+T[dD]$`)

// linesFromStream parses PDF content stream operators into text lines.
// Vertical Td moves and T*/' operators start a new line; a large horizontal
// Td move becomes a double-space column gap so downstream table heuristics
// can recover cell boundaries.
func linesFromStream(data []byte) []string {
	var (
		lines []string
		cur   strings.Builder
	)
	newline := func() {
		if line := cleanLine(cur.String()); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}
	appendMatches := func(line []byte) {
		for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
			if text := decodePDFString(m[1]); text != "" {
				cur.WriteString(text)
			}
		}
	}

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		// Tj operator: (text) Tj — and TJ arrays: [(a) -100 (b)] TJ
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			appendMatches(line)

		// ' operator: move to next line and show text.
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			newline()
			appendMatches(line)

		// Td/TD positioning: vertical move starts a line, a wide
		// horizontal move is a column gap, a narrow one a space.
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			tx, ty, ok := tdOperands(line)
			switch {
			case ok && ty != 0:
				newline()
			case ok && tx >= cellGapThreshold && cur.Len() > 0:
				cur.WriteString("  ")
			case cur.Len() > 0:
				cur.WriteByte(' ')
			}

		// T* operator: move to start of next line.
		case bytes.Equal(line, []byte("T*")):
			newline()
		}
	}
	newline()

	return lines
}

func tdOperands(line []byte) (tx, ty float64, ok bool) {
	m := tdOperandsRe.FindSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	tx, err1 := strconv.ParseFloat(string(m[1]), 64)
	ty, err2 := strconv.ParseFloat(string(m[2]), 64)
	return tx, ty, err1 == nil && err2 == nil
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '(':
				sb.WriteByte('(')
			case ')':
				sb.WriteByte(')')
			default:
				// Octal escape (e.g. \040 for space).
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
						i++
						val = val*8 + int(raw[i]-'0')
						if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
							i++
							val = val*8 + int(raw[i]-'0')
						}
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

// cleanLine normalises a line: non-printable runes dropped, runs of three or
// more spaces collapsed to the two-space column gap, edges trimmed.
func cleanLine(line string) string {
	var sb strings.Builder
	spaces := 0
	for _, r := range line {
		if r == ' ' || r == '\t' {
			spaces++
			continue
		}
		if !unicode.IsPrint(r) {
			continue
		}
		if spaces > 0 && sb.Len() > 0 {
			if spaces >= 2 {
				sb.WriteString("  ")
			} else {
				sb.WriteByte(' ')
			}
		}
		spaces = 0
		sb.WriteRune(r)
	}
	return strings.TrimSpace(sb.String())
}

// looksTabular reports whether a line splits into two or more columns.
func looksTabular(line string) bool {
	return strings.Contains(line, "  ") || strings.Contains(line, "\t")
}
