package internal

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lychee-technology/quarry"
	"go.uber.org/zap"
)

// SearchEngine narrows a scope with a free-text query using one of the
// supported strategies, and produces ranked suggestions for partial input.
type SearchEngine struct {
	pool  queryPool
	probe *CapabilityProbe
	cfg   quarry.SearchConfig
}

// NewSearchEngine creates a search engine over the given pool and probe.
func NewSearchEngine(pool queryPool, probe *CapabilityProbe, cfg quarry.SearchConfig) *SearchEngine {
	return &SearchEngine{pool: pool, probe: probe, cfg: cfg}
}

// Resolve turns an auto strategy into a concrete one for this invocation.
// Short queries always resolve to basic: fuzzy and ranked search are
// unreliable on tiny input and expensive relative to their value. Otherwise
// full-text wins when the backend carries an indexed search vector, trigram
// when pg_trgm is installed, basic as the floor.
func (e *SearchEngine) Resolve(ctx context.Context, model *quarry.ModelDescriptor, query string, strategy quarry.SearchStrategy) quarry.SearchStrategy {
	if strategy != quarry.StrategyAuto {
		return strategy
	}
	if utf8.RuneCountInString(strings.TrimSpace(query)) < e.cfg.MinQueryLength {
		return quarry.StrategyBasic
	}
	if e.probe.SearchVectorUsable(ctx, model) {
		return quarry.StrategyFullText
	}
	if e.probe.TrigramAvailable(ctx) {
		return quarry.StrategyTrigram
	}
	return quarry.StrategyBasic
}

// Search narrows the scope with the query under the given strategy. A blank
// query yields the empty scope: blank search means "nothing matched", which
// is distinct from "no search applied".
func (e *SearchEngine) Search(ctx context.Context, scope *Scope, query string, strategy quarry.SearchStrategy) *Scope {
	if strings.TrimSpace(query) == "" {
		return scope.None()
	}

	model := scope.Model()
	switch e.Resolve(ctx, model, query, strategy) {
	case quarry.StrategyBasic:
		return e.basicSearch(scope, query)
	case quarry.StrategyTrigram:
		return e.trigramSearch(scope, query, e.cfg.TrigramThreshold)
	case quarry.StrategyFullText:
		return e.fullTextSearch(scope, query)
	case quarry.StrategyAuto:
		// Resolve never returns auto; keep the switch exhaustive anyway.
		return e.basicSearch(scope, query)
	}
	zap.S().Warnw("unknown search strategy, falling back to basic", "strategy", strategy)
	return e.basicSearch(scope, query)
}

// basicSearch builds an OR of case-insensitive substring predicates over all
// text columns, plus the display column of each directly joined association.
// Joined scopes select DISTINCT: a one-to-many join would otherwise return a
// row once per matching child.
func (e *SearchEngine) basicSearch(scope *Scope, query string) *Scope {
	model := scope.Model()
	var parts []string
	var args []any
	for _, col := range model.TextColumns() {
		parts = append(parts, fmt.Sprintf("t.%s ILIKE '%%' || ? || '%%'", col))
		args = append(args, query)
	}
	for _, assoc := range model.Associations {
		if assoc.DisplayColumn == "" {
			continue
		}
		scope = scope.Join(fmt.Sprintf("LEFT JOIN %s %s ON %s.%s = t.%s",
			assoc.Table, assoc.Name, assoc.Name, assoc.ForeignKey, model.IDColumn)).
			Distinct()
		parts = append(parts, fmt.Sprintf("%s.%s ILIKE '%%' || ? || '%%'", assoc.Name, assoc.DisplayColumn))
		args = append(args, query)
	}
	if len(parts) == 0 {
		return scope.None()
	}
	return scope.Where(strings.Join(parts, " OR "), args...)
}

// trigramSearch keeps rows whose best per-column similarity clears the
// threshold and orders by the greatest similarity descending.
func (e *SearchEngine) trigramSearch(scope *Scope, query string, threshold float64) *Scope {
	cols := scope.Model().TextColumns()
	if len(cols) == 0 {
		return scope.None()
	}

	var simExprs []string
	var args []any
	for _, col := range cols {
		simExprs = append(simExprs, fmt.Sprintf("similarity(t.%s, ?)", col))
		args = append(args, query)
	}
	greatest := "GREATEST(" + strings.Join(simExprs, ", ") + ")"
	args = append(args, threshold)

	scoped := scope.Where(greatest+" > ?", args...)
	orderArgs := make([]string, 0, len(cols))
	for _, col := range cols {
		orderArgs = append(orderArgs, fmt.Sprintf("similarity(t.%s, '%s')", col, escapeLiteral(query)))
	}
	return scoped.OrderBy("GREATEST(" + strings.Join(orderArgs, ", ") + ") DESC")
}

// fullTextSearch matches the precomputed search vector against a parsed
// query in the model's language, ranked by relevance.
func (e *SearchEngine) fullTextSearch(scope *Scope, query string) *Scope {
	model := scope.Model()
	if model.SearchVectorColumn == "" {
		return e.basicSearch(scope, query)
	}
	lang := model.Language()
	scoped := scope.Where(
		fmt.Sprintf("t.%s @@ plainto_tsquery('%s', ?)", model.SearchVectorColumn, lang),
		query,
	)
	return scoped.OrderBy(fmt.Sprintf("ts_rank(t.%s, plainto_tsquery('%s', '%s')) DESC",
		model.SearchVectorColumn, lang, escapeLiteral(query)))
}

// Suggestions collects deduplicated candidate values from each searchable
// column independently and truncates to the requested limit. Queries shorter
// than the minimum always return an empty list; single-character fuzzy
// suggestions are noise.
func (e *SearchEngine) Suggestions(ctx context.Context, scope *Scope, query string, limit int) ([]quarry.Suggestion, error) {
	trimmed := strings.TrimSpace(query)
	if utf8.RuneCountInString(trimmed) < e.cfg.MinSuggestionLength {
		return []quarry.Suggestion{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	model := scope.Model()
	useTrigram := e.probe.TrigramAvailable(ctx)

	suggestions := make([]quarry.Suggestion, 0, limit)
	seen := make(map[string]struct{})
	for _, col := range model.TextColumns() {
		if len(suggestions) >= limit {
			break
		}
		var colScope *Scope
		if useTrigram {
			// Looser threshold than matching so more candidates surface.
			colScope = scope.Where(fmt.Sprintf("similarity(t.%s, ?) > ?", col),
				trimmed, e.cfg.SuggestionThreshold)
		} else {
			colScope = scope.Where(fmt.Sprintf("t.%s ILIKE '%%' || ? || '%%'", col), trimmed)
		}
		sql, args := colScope.SelectSQL(
			[]string{fmt.Sprintf("DISTINCT t.%s AS value", col)},
			"LIMIT ?", limit,
		)
		rows, err := e.pool.Query(ctx, sql, args...)
		if err != nil {
			return nil, quarry.NewQueryExecutionError("suggestion query failed", err).WithModel(model.Name)
		}
		for rows.Next() {
			var value *string
			if err := rows.Scan(&value); err != nil {
				rows.Close()
				return nil, quarry.NewQueryExecutionError("suggestion scan failed", err).WithModel(model.Name)
			}
			if value == nil || *value == "" {
				continue
			}
			if _, dup := seen[*value]; dup {
				continue
			}
			seen[*value] = struct{}{}
			suggestions = append(suggestions, quarry.Suggestion{Column: col, Value: *value})
			if len(suggestions) >= limit {
				break
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, quarry.NewQueryExecutionError("suggestion iteration failed", err).WithModel(model.Name)
		}
	}
	return suggestions, nil
}

// escapeLiteral doubles single quotes for values inlined into ORDER BY
// expressions, where positional parameters are not reused.
func escapeLiteral(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
