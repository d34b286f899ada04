// Package tables runs table-extraction strategies over a page range,
// deduplicates the candidates they return, and converts between the internal
// table shape and the document-level output shape.
//
// One strategy failing is logged and skipped; other strategies still
// contribute. Invalid input (missing file, bad pages, unknown method) fails
// fast with a typed error before any strategy runs.
package tables

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/docconv/model"
	"github.com/hazyhaar/docconv/resource"
)

// Options configure a Coordinator.
type Options struct {
	// Logger for strategy failures and dedup accounting.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Coordinator validates extraction requests, dispatches them to the
// registered strategies, and deduplicates the combined candidate set.
type Coordinator struct {
	registry *Registry
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator over the given registry. A nil
// registry gets an empty one, useful for tests that register per-case.
func NewCoordinator(registry *Registry, opts Options) *Coordinator {
	opts.defaults()
	if registry == nil {
		registry = NewRegistry()
	}
	return &Coordinator{registry: registry, logger: opts.Logger}
}

// Extract runs table extraction over the given pages. method selects a
// single strategy; the empty string runs every registered strategy. An
// empty pages slice returns an empty list without invoking any strategy.
func (c *Coordinator) Extract(ctx context.Context, path string, pages []int, method model.ExtractionMethod) ([]model.ExtractedTable, error) {
	if err := c.validate(path, pages, method); err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return []model.ExtractedTable{}, nil
	}

	strategies := c.selectStrategies(method)

	tracker := resource.NewTracker(c.logger)
	defer tracker.ForceCleanup()

	req := Request{Path: path, Pages: pages, Resources: tracker}

	var candidates []model.ExtractedTable
	for _, s := range strategies {
		found, err := s.Extract(ctx, req)
		if err != nil {
			// Partial results win over a failed call: skip this
			// strategy and let the others contribute.
			c.logger.Warn("table strategy failed",
				"strategy", string(s.Name()), "path", path, "error", err)
			continue
		}
		candidates = append(candidates, found...)
	}

	unique := Dedupe(candidates, c.logger)
	c.logger.Debug("table extraction done",
		"path", path, "pages", len(pages),
		"candidates", len(candidates), "unique", len(unique))
	return unique, nil
}

// validate fails fast on configuration errors before any work starts.
func (c *Coordinator) validate(path string, pages []int, method model.ExtractionMethod) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".pdf" {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	for _, p := range pages {
		if p <= 0 {
			return fmt.Errorf("%w: got %d", ErrInvalidPages, p)
		}
	}
	if method != "" && c.registry.Get(method) == nil {
		return fmt.Errorf("%w: %q (registered: %v)", ErrUnknownMethod, method, c.registry.List())
	}
	return nil
}

func (c *Coordinator) selectStrategies(method model.ExtractionMethod) []Strategy {
	if method != "" {
		return []Strategy{c.registry.Get(method)}
	}
	var all []Strategy
	for _, m := range c.registry.List() {
		all = append(all, c.registry.Get(m))
	}
	return all
}
