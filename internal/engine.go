package internal

import (
	"context"

	"github.com/lychee-technology/quarry"
	"go.uber.org/zap"
)

// Engine is the interactive query front of the module. It resolves the
// model, builds the scope from filters and search, and hands the scope to
// the pagination selector. Requests are stateless; a cursor token inside
// the request is the only state carried between calls.
type Engine struct {
	pool     queryPool
	registry *quarry.ModelRegistry
	search   *SearchEngine
	selector *PaginationSelector
	probe    *CapabilityProbe
}

// NewEngine wires the search engine, capability probe, and paginators over
// one pool.
func NewEngine(pool queryPool, registry *quarry.ModelRegistry, cfg *quarry.Config) *Engine {
	probe := NewCapabilityProbe(pool)
	return &Engine{
		pool:     pool,
		registry: registry,
		search:   NewSearchEngine(pool, probe, cfg.Search),
		selector: NewPaginationSelector(pool, cfg.Query),
		probe:    probe,
	}
}

// Search exposes the underlying search engine.
func (e *Engine) Search() *SearchEngine { return e.search }

// Probe exposes the capability probe so operators can reset memoized
// capabilities after installing an extension or index.
func (e *Engine) Probe() *CapabilityProbe { return e.probe }

// Query executes one page request end to end.
func (e *Engine) Query(ctx context.Context, req *quarry.PageRequest) (*quarry.PageResult, error) {
	if req == nil {
		return nil, quarry.NewValidationError("request", "page request cannot be nil")
	}
	model, err := e.registry.Get(req.Model)
	if err != nil {
		return nil, err
	}

	scope, err := e.buildScope(ctx, model, req)
	if err != nil {
		return nil, err
	}

	result, err := e.selector.Paginate(ctx, scope, req)
	if err != nil {
		return nil, err
	}

	zap.S().Debugw("query served",
		"model", req.Model, "mode", result.Mode, "records", len(result.Records), "total", result.TotalCount)
	return result, nil
}

// Suggest returns ranked completion candidates for a partial query.
func (e *Engine) Suggest(ctx context.Context, model, query string, limit int) ([]quarry.Suggestion, error) {
	descriptor, err := e.registry.Get(model)
	if err != nil {
		return nil, err
	}
	return e.search.Suggestions(ctx, NewScope(descriptor), query, limit)
}

func (e *Engine) buildScope(ctx context.Context, model *quarry.ModelDescriptor, req *quarry.PageRequest) (*Scope, error) {
	scope, err := ApplyFilters(NewScope(model), req.Filters)
	if err != nil {
		return nil, err
	}
	if req.SearchQuery != "" {
		scope = e.search.Search(ctx, scope, req.SearchQuery, req.Strategy)
	}
	return scope, nil
}
