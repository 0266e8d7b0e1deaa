package internal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lychee-technology/quarry"
	"go.uber.org/zap"
)

// Scope is a lazy, composable description of a filtered/ordered/joined query
// against one model. Composing a scope never executes it; every combinator
// returns a copy, so a scope handed to a paginator is never mutated by the
// caller afterwards. Predicates use '?' placeholders that are renumbered to
// positional parameters when SQL is rendered.
type Scope struct {
	model    *quarry.ModelDescriptor
	conds    []string
	args     []any
	joins    []string
	orders   []string
	none     bool
	distinct bool
}

// NewScope creates the unfiltered scope over a model's table.
func NewScope(model *quarry.ModelDescriptor) *Scope {
	return &Scope{model: model}
}

func (s *Scope) clone() *Scope {
	dup := &Scope{
		model:    s.model,
		none:     s.none,
		distinct: s.distinct,
	}
	dup.conds = append(dup.conds, s.conds...)
	dup.args = append(dup.args, s.args...)
	dup.joins = append(dup.joins, s.joins...)
	dup.orders = append(dup.orders, s.orders...)
	return dup
}

// Model returns the descriptor the scope queries.
func (s *Scope) Model() *quarry.ModelDescriptor {
	return s.model
}

// Where appends a conjunct. The condition uses '?' for each argument.
func (s *Scope) Where(cond string, args ...any) *Scope {
	dup := s.clone()
	dup.conds = append(dup.conds, cond)
	dup.args = append(dup.args, args...)
	return dup
}

// Join appends a join clause. Duplicate clauses are collapsed so that search
// and filters can both join the same parent table.
func (s *Scope) Join(clause string) *Scope {
	for _, j := range s.joins {
		if j == clause {
			return s
		}
	}
	dup := s.clone()
	dup.joins = append(dup.joins, clause)
	return dup
}

// Distinct makes SelectSQL deduplicate rows. Required whenever a join can
// fan one model row out into several result rows.
func (s *Scope) Distinct() *Scope {
	if s.distinct {
		return s
	}
	dup := s.clone()
	dup.distinct = true
	return dup
}

// OrderBy appends an ordering expression. Earlier calls take precedence.
func (s *Scope) OrderBy(expr string) *Scope {
	dup := s.clone()
	dup.orders = append(dup.orders, expr)
	return dup
}

// ClearOrder drops all ordering. Paginators impose their own two-key order.
func (s *Scope) ClearOrder() *Scope {
	dup := s.clone()
	dup.orders = nil
	return dup
}

// None marks the scope as matching nothing. A blank search produces this:
// "nothing matched" is distinct from "no filter applied".
func (s *Scope) None() *Scope {
	dup := s.clone()
	dup.none = true
	return dup
}

// IsNone reports whether the scope matches nothing by construction.
func (s *Scope) IsNone() bool {
	return s.none
}

// HasConditions reports whether any predicate narrows the scope.
func (s *Scope) HasConditions() bool {
	return s.none || len(s.conds) > 0
}

// qualify prefixes a bare column with the model table alias.
func (s *Scope) qualify(column string) string {
	if strings.Contains(column, ".") || strings.Contains(column, "(") {
		return column
	}
	return "t." + column
}

// renderWhere joins conjuncts and renumbers '?' placeholders starting at
// startIdx, returning the clause and the next free parameter index.
func (s *Scope) renderWhere(startIdx int) (string, int) {
	if s.none {
		return "1=0", startIdx
	}
	if len(s.conds) == 0 {
		return "1=1", startIdx
	}
	idx := startIdx
	parts := make([]string, 0, len(s.conds))
	for _, cond := range s.conds {
		var b strings.Builder
		for _, r := range cond {
			if r == '?' {
				fmt.Fprintf(&b, "$%d", idx)
				idx++
				continue
			}
			b.WriteRune(r)
		}
		parts = append(parts, "("+b.String()+")")
	}
	return strings.Join(parts, " AND "), idx
}

// SelectSQL renders the scope as a SELECT over the given columns with the
// given trailing clause (ORDER BY / LIMIT), already holding any extra args.
func (s *Scope) SelectSQL(columns []string, trailing string, trailingArgs ...any) (string, []any) {
	where, next := s.renderWhere(1)
	trail := renumber(trailing, next)

	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, s.qualify(c))
	}

	keyword := "SELECT"
	if s.distinct {
		keyword = "SELECT DISTINCT"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s FROM %s t", keyword, strings.Join(cols, ", "), s.model.Table)
	for _, j := range s.joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	fmt.Fprintf(&b, " WHERE %s", where)
	if len(s.orders) > 0 {
		fmt.Fprintf(&b, " ORDER BY %s", strings.Join(s.orders, ", "))
	}
	if trail != "" {
		b.WriteString(" ")
		b.WriteString(trail)
	}

	args := append([]any{}, s.args...)
	args = append(args, trailingArgs...)
	return b.String(), args
}

// CountSQL renders an exact distinct count of the scope.
func (s *Scope) CountSQL() (string, []any) {
	where, _ := s.renderWhere(1)
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT COUNT(DISTINCT t.%s) FROM %s t", s.model.IDColumn, s.model.Table)
	for _, j := range s.joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	fmt.Fprintf(&b, " WHERE %s", where)
	return b.String(), append([]any{}, s.args...)
}

// renumber rewrites '?' placeholders in a trailing clause starting at idx.
func renumber(clause string, idx int) string {
	if clause == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range clause {
		if r == '?' {
			fmt.Fprintf(&b, "$%d", idx)
			idx++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ApplyFilters narrows a scope with resolved per-column filters. Columns the
// model does not declare fail scope construction; an unknown filter type
// degrades to an exact match with a warning, never an error.
func ApplyFilters(scope *Scope, filters map[string]quarry.Filter) (*Scope, error) {
	model := scope.Model()
	// Deterministic order keeps rendered SQL stable for a given filter set.
	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !model.HasColumn(name) {
			return nil, quarry.NewScopeConstructionError(
				fmt.Sprintf("unknown filter column %q", name), nil).WithModel(model.Name)
		}
		filter := filters[name]
		col := "t." + name
		switch filter.Type {
		case quarry.FilterEquals:
			scope = scope.Where(col+" = ?", filter.Value)
		case quarry.FilterNotEquals:
			scope = scope.Where(col+" != ?", filter.Value)
		case quarry.FilterStartsWith:
			scope = scope.Where(col+" ILIKE ? || '%'", filter.Value)
		case quarry.FilterContains:
			scope = scope.Where(col+" ILIKE '%' || ? || '%'", filter.Value)
		case quarry.FilterGreaterThan:
			scope = scope.Where(col+" > ?", filter.Value)
		case quarry.FilterLessThan:
			scope = scope.Where(col+" < ?", filter.Value)
		case quarry.FilterGreaterEq:
			scope = scope.Where(col+" >= ?", filter.Value)
		case quarry.FilterLessEq:
			scope = scope.Where(col+" <= ?", filter.Value)
		case quarry.FilterIn:
			scope = scope.Where(col+" = ANY(?)", filter.Value)
		case quarry.FilterNotIn:
			scope = scope.Where(col+" != ALL(?)", filter.Value)
		case quarry.FilterBetween:
			scope = scope.Where(col+" >= ? AND "+col+" <= ?", filter.Value, filter.Upper)
		default:
			zap.S().Warnw("unknown filter type, falling back to equals",
				"filter_type", filter.Type, "column", name, "model", model.Name)
			scope = scope.Where(col+" = ?", filter.Value)
		}
	}
	return scope, nil
}
