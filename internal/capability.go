package internal

import (
	"context"
	"sync"

	"github.com/lychee-technology/quarry"
	"go.uber.org/zap"
)

// CapabilityProbe inspects the connected database for the search
// accelerations the engine can exploit. Probe failures are recovered
// locally: a failed lookup reports the capability as absent, which only
// weakens strategy selection, never the request.
type CapabilityProbe struct {
	pool queryPool

	mu      sync.RWMutex
	trigram *bool
	vectors map[string]bool
}

// NewCapabilityProbe creates a probe over the given pool.
func NewCapabilityProbe(pool queryPool) *CapabilityProbe {
	return &CapabilityProbe{
		pool:    pool,
		vectors: make(map[string]bool),
	}
}

// TrigramAvailable reports whether the pg_trgm extension is installed.
// The first answer is memoized for the life of the process.
func (p *CapabilityProbe) TrigramAvailable(ctx context.Context) bool {
	p.mu.RLock()
	cached := p.trigram
	p.mu.RUnlock()
	if cached != nil {
		return *cached
	}

	var installed bool
	err := p.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = $1)", "pg_trgm",
	).Scan(&installed)
	if err != nil {
		zap.S().Warnw("trigram extension probe failed, treating as absent", "error", err)
		return false
	}

	p.mu.Lock()
	p.trigram = &installed
	p.mu.Unlock()
	return installed
}

// SearchVectorUsable reports whether the model's search-vector column exists
// and carries a GIN index. Results are memoized per table.
func (p *CapabilityProbe) SearchVectorUsable(ctx context.Context, model *quarry.ModelDescriptor) bool {
	if model.SearchVectorColumn == "" {
		return false
	}

	p.mu.RLock()
	usable, ok := p.lookupVector(model.Table)
	p.mu.RUnlock()
	if ok {
		return usable
	}

	var columnExists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM information_schema.columns
			WHERE table_name = $1 AND column_name = $2
		)`, model.Table, model.SearchVectorColumn,
	).Scan(&columnExists)
	if err != nil {
		zap.S().Warnw("search vector column probe failed, treating as absent",
			"table", model.Table, "error", err)
		return false
	}

	indexed := false
	if columnExists {
		err = p.pool.QueryRow(ctx,
			`SELECT EXISTS(
				SELECT 1 FROM pg_indexes
				WHERE tablename = $1 AND indexdef ILIKE '%' || $2 || '%' AND indexdef ILIKE '%gin%'
			)`, model.Table, model.SearchVectorColumn,
		).Scan(&indexed)
		if err != nil {
			zap.S().Warnw("search vector index probe failed, treating as absent",
				"table", model.Table, "error", err)
			return false
		}
	}

	usable = columnExists && indexed
	p.mu.Lock()
	p.vectors[model.Table] = usable
	p.mu.Unlock()
	return usable
}

func (p *CapabilityProbe) lookupVector(table string) (bool, bool) {
	usable, ok := p.vectors[table]
	return usable, ok
}

// Reset clears memoized probe results, mainly for tests and for callers that
// install an extension at runtime.
func (p *CapabilityProbe) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trigram = nil
	p.vectors = make(map[string]bool)
}
