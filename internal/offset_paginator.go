package internal

import (
	"context"
	"fmt"

	"github.com/lychee-technology/quarry"
)

// OffsetPaginator pages a scope with classic page numbers. Every call runs
// an exact count and an offset skip, which is acceptable only for scopes
// known to be small; the pagination selector exists to keep large scopes off
// this path.
type OffsetPaginator struct {
	pool queryPool
	cfg  quarry.QueryConfig
}

// NewOffsetPaginator creates an offset paginator.
func NewOffsetPaginator(pool queryPool, cfg quarry.QueryConfig) *OffsetPaginator {
	return &OffsetPaginator{pool: pool, cfg: cfg}
}

// Paginate fetches the requested page. Page floors to 1; perPage is clamped
// to [1, MaxLimit].
func (p *OffsetPaginator) Paginate(ctx context.Context, scope *Scope, sortColumn string, sortOrder quarry.SortOrder, page, perPage int) (*quarry.PageResult, error) {
	model := scope.Model()
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = p.cfg.DefaultLimit
	}
	if perPage > p.cfg.MaxLimit {
		perPage = p.cfg.MaxLimit
	}

	result := &quarry.PageResult{
		Mode:        quarry.PaginateOffset,
		Records:     []quarry.Record{},
		CurrentPage: page,
		PerPage:     perPage,
	}
	if scope.IsNone() {
		return result, nil
	}

	countSQL, countArgs := scope.CountSQL()
	var total int64
	if err := p.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, quarry.NewQueryExecutionError("offset count query failed", err).WithModel(model.Name)
	}
	result.TotalCount = total
	result.TotalPages = int((total + int64(perPage) - 1) / int64(perPage))
	result.HasNext = page < result.TotalPages
	result.HasPrev = page > 1

	sortCol := model.SortColumn(sortColumn)
	order := "ASC"
	if sortOrder == quarry.SortOrderDesc {
		order = "DESC"
	}
	paged := scope.ClearOrder().
		OrderBy(fmt.Sprintf("t.%s %s, t.%s %s", sortCol, order, model.IDColumn, order))

	sql, args := paged.SelectSQL(selectColumns(model), "LIMIT ? OFFSET ?", perPage, (page-1)*perPage)
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, quarry.NewQueryExecutionError("offset page query failed", err).WithModel(model.Name)
	}
	raw, err := scanRecords(rows)
	if err != nil {
		return nil, quarry.NewQueryExecutionError("offset page scan failed", err).WithModel(model.Name)
	}

	result.Records = make([]quarry.Record, len(raw))
	for i, r := range raw {
		result.Records[i] = quarry.Record(r)
	}
	return result, nil
}

// selectColumns lists the model's declared columns, id first.
func selectColumns(model *quarry.ModelDescriptor) []string {
	cols := []string{model.IDColumn}
	for _, c := range model.Columns {
		if c.Name == model.IDColumn {
			continue
		}
		cols = append(cols, c.Name)
	}
	return cols
}
