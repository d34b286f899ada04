package tables

import (
	"context"
	"sort"

	"github.com/hazyhaar/docconv/idgen"
	"github.com/hazyhaar/docconv/model"
	"github.com/hazyhaar/docconv/resource"
)

// newTableID generates IDs for extracted tables.
var newTableID = idgen.Prefixed("tbl_", idgen.Default)

// Request carries the inputs one strategy invocation operates on.
type Request struct {
	Path  string
	Pages []int

	// Resources is the tracker for the enclosing extraction scope.
	// Strategies register any handle or session they open with it.
	Resources *resource.Tracker
}

// Strategy is one table-extraction algorithm. Implementations return
// candidate tables; deduplication across strategies happens later.
type Strategy interface {
	// Name returns the extraction method this strategy implements.
	Name() model.ExtractionMethod

	// Extract finds candidate tables on the requested pages. An error
	// aborts this strategy only, never the whole extraction call.
	Extract(ctx context.Context, req Request) ([]model.ExtractedTable, error)
}

// Registry holds strategies keyed by extraction method.
type Registry struct {
	strategies map[model.ExtractionMethod]Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[model.ExtractionMethod]Strategy)}
}

// Register adds or replaces the strategy for its method.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get returns the strategy for a method, or nil when none is registered.
func (r *Registry) Get(method model.ExtractionMethod) Strategy {
	return r.strategies[method]
}

// List returns the registered methods in stable order.
func (r *Registry) List() []model.ExtractionMethod {
	methods := make([]model.ExtractionMethod, 0, len(r.strategies))
	for m := range r.strategies {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}
