// Package convert is the document-conversion facade. It detects the
// input format, pre-converts legacy office documents to PDF, and drives
// the page pipeline to a consolidated result.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/docconv/cache"
	"github.com/hazyhaar/docconv/engine"
	"github.com/hazyhaar/docconv/model"
	"github.com/hazyhaar/docconv/pipeline"
	"github.com/hazyhaar/docconv/tables"
)

// Format is a detected input format.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatDocx    Format = "docx"
	FormatDoc     Format = "doc"
	FormatODT     Format = "odt"
	FormatRTF     Format = "rtf"
	FormatPptx    Format = "pptx"
	FormatUnknown Format = "unknown"
)

var ErrUnsupportedFormat = errors.New("convert: unsupported format")

// Detect maps a file extension to a Format.
func Detect(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FormatPDF, nil
	case ".docx":
		return FormatDocx, nil
	case ".doc":
		return FormatDoc, nil
	case ".odt":
		return FormatODT, nil
	case ".rtf":
		return FormatRTF, nil
	case ".pptx", ".ppt":
		return FormatPptx, nil
	default:
		return FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// NeedsPreconversion reports whether the format must be converted to
// PDF before the pipeline can process it.
func (f Format) NeedsPreconversion() bool {
	return f != FormatPDF && f != FormatUnknown
}

// Converter wires the engines and the pipeline behind a single entry
// point.
type Converter struct {
	cfg    *Config
	logger *slog.Logger
	legacy engine.LegacyConverter
	orch   *pipeline.Orchestrator
	store  *cache.Store
}

// Option tweaks converter construction.
type Option func(*builder)

type builder struct {
	logger     *slog.Logger
	rasterizer engine.Rasterizer
	legacy     engine.LegacyConverter
	rowSource  tables.RowSource
	progress   pipeline.ProgressFunc
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *builder) { b.logger = l }
}

// WithRasterizer enables the OCR extractor for scanned documents.
func WithRasterizer(r engine.Rasterizer) Option {
	return func(b *builder) { b.rasterizer = r }
}

// WithLegacyConverter overrides the office-to-PDF converter. Without
// this option a Soffice converter is built from Config.SofficeBin, or
// legacy formats are rejected when that is empty.
func WithLegacyConverter(lc engine.LegacyConverter) Option {
	return func(b *builder) { b.legacy = lc }
}

// WithBorderlessSource registers the borderless table strategy backed
// by the given row source.
func WithBorderlessSource(s tables.RowSource) Option {
	return func(b *builder) { b.rowSource = s }
}

// WithProgress installs a progress callback on the pipeline.
func WithProgress(fn pipeline.ProgressFunc) Option {
	return func(b *builder) { b.progress = fn }
}

// New builds a Converter from config.
func New(cfg *Config, opts ...Option) (*Converter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &builder{}
	for _, opt := range opts {
		opt(b)
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	pdf := engine.NewPDF(logger)

	registry := tables.NewRegistry()
	registry.Register(tables.NewGridStrategy(pdf))
	if b.rowSource != nil {
		registry.Register(tables.NewBorderlessStrategy(b.rowSource))
	}
	coordinator := tables.NewCoordinator(registry, tables.Options{Logger: logger})

	deps := pipeline.Deps{
		Scanner:   pdf,
		Counter:   pdf,
		Extractor: pdf,
		Tables:    coordinator,
	}

	if b.rasterizer != nil {
		ocr := engine.NewOCR(b.rasterizer, engine.OCROptions{
			Languages:   cfg.OCR.Languages,
			DPI:         cfg.OCR.DPI,
			MaxImageDim: cfg.OCR.MaxImageDim,
			Logger:      logger,
		})
		deps.OCRExtractor = ocr
		deps.Pool = pipeline.NewModelPool(ocr.WarmUp)
	}

	var store *cache.Store
	if cfg.CachePath != "" {
		var err error
		store, err = cache.Open(cfg.CachePath, logger)
		if err != nil {
			return nil, fmt.Errorf("convert: open page cache: %w", err)
		}
		deps.Cache = store
	}

	orch, err := pipeline.New(deps, pipeline.Options{
		MaxWorkers:    cfg.MaxWorkers,
		PagesPerBatch: cfg.PagesPerBatch,
		PageTimeout:   time.Duration(cfg.PageTimeoutSec) * time.Second,
		TablePageCap:  cfg.TablePageCap,
		Retry:         cfg.retryOptions(),
		Progress:      b.progress,
		Logger:        logger,
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	legacy := b.legacy
	if legacy == nil && cfg.SofficeBin != "" {
		legacy = engine.NewSoffice(engine.SofficeOptions{
			Bin:    cfg.SofficeBin,
			Logger: logger,
		})
	}

	return &Converter{
		cfg:    cfg,
		logger: logger,
		legacy: legacy,
		orch:   orch,
		store:  store,
	}, nil
}

// Convert runs the full pipeline on one document. jobID keys the page
// cache; reusing it resumes an interrupted job.
func (c *Converter) Convert(ctx context.Context, jobID, path string) (*model.ConsolidatedResult, error) {
	format, err := Detect(path)
	if err != nil {
		return nil, err
	}
	log := c.logger.With("job_id", jobID, "format", string(format))

	if format.NeedsPreconversion() {
		if c.legacy == nil {
			return nil, fmt.Errorf("%w: %s requires pre-conversion and no converter is configured", ErrUnsupportedFormat, format)
		}
		converted, err := c.legacy.Convert(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("convert: pre-convert %s: %w", format, err)
		}
		defer os.Remove(converted)
		log.Info("pre-converted to pdf", "source", path, "pdf", converted)
		path = converted
	}

	result, err := c.orch.Process(ctx, jobID, path)
	if err != nil {
		return nil, err
	}

	if result.NoTextExtracted {
		log.Warn("no text extracted", "mode", result.ExtractionMode,
			"pages_failed", result.PagesFailed)
	} else {
		log.Info("conversion complete", "mode", result.ExtractionMode,
			"size_bytes", result.SizeBytes,
			"pages_with_content", result.PagesWithContent,
			"tables", len(result.Tables))
	}
	return result, nil
}

// Close releases the page cache.
func (c *Converter) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}
