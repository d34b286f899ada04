package pipeline

import (
	"context"
	"sync"
)

// ModelPool owns the load-once-reuse-many lifecycle of heavy parsing
// models. Construction is cheap; the registered warmers run on the first
// WarmUp call only, guarded by a sync.Once, so concurrent pipeline runs
// share one initialization.
type ModelPool struct {
	warmers []func(ctx context.Context) error

	once sync.Once
	err  error
}

// NewModelPool creates a pool over the given warmers. Each warmer loads one
// model (OCR language data, table inference weights, ...).
func NewModelPool(warmers ...func(ctx context.Context) error) *ModelPool {
	return &ModelPool{warmers: warmers}
}

// WarmUp runs every warmer exactly once across all callers. Subsequent
// calls return the first run's outcome.
func (p *ModelPool) WarmUp(ctx context.Context) error {
	p.once.Do(func() {
		for _, w := range p.warmers {
			if err := w(ctx); err != nil {
				p.err = err
				return
			}
		}
	})
	return p.err
}
