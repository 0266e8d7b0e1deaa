package internal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lychee-technology/quarry"
	"go.uber.org/zap"
)

// CursorPaginator pages a scope with seek pagination: an opaque cursor
// carrying {sort value, tiebreak id} replaces row-count offsets, so a page
// fetch touches only the rows past the boundary regardless of how deep into
// the set the caller is.
type CursorPaginator struct {
	pool queryPool
	cfg  quarry.QueryConfig
}

// NewCursorPaginator creates a cursor paginator.
func NewCursorPaginator(pool queryPool, cfg quarry.QueryConfig) *CursorPaginator {
	return &CursorPaginator{pool: pool, cfg: cfg}
}

// clampLimit bounds the requested page size to the configured ceiling.
func (p *CursorPaginator) clampLimit(limit int) int {
	if limit <= 0 {
		limit = p.cfg.DefaultLimit
	}
	if limit > p.cfg.MaxLimit {
		limit = p.cfg.MaxLimit
	}
	return limit
}

// Paginate fetches one page of the scope after the given cursor.
//
// Ordering is always the designated sort column plus the primary key as
// tiebreak: a non-unique sort column alone cannot produce a stable boundary
// when rows share a value. The boundary predicate is the standard seek
// predicate, (sort > v) OR (sort = v AND id > tiebreak), and never the
// naive sort-column-only comparison, which silently drops same-valued rows.
func (p *CursorPaginator) Paginate(ctx context.Context, scope *Scope, sortColumn string, cursorToken string, limit int, direction quarry.Direction) (*quarry.PageResult, error) {
	model := scope.Model()
	limit = p.clampLimit(limit)
	if direction == "" {
		direction = quarry.DirectionForward
	}

	cursor := quarry.DecodeCursor(cursorToken)
	sortCol := model.SortColumn(sortColumn)
	idCol := model.IDColumn

	result := &quarry.PageResult{
		Mode:    quarry.PaginateCursor,
		Records: []quarry.Record{},
		// Coarse by design: "a cursor was supplied" approximates "there is a
		// previous page" without a stored cursor history.
		HasPrev: !cursor.IsZero(),
	}

	if scope.IsNone() {
		return result, nil
	}

	paged := scope.ClearOrder()
	reversed := direction == quarry.DirectionBackward
	if !cursor.IsZero() {
		if reversed {
			paged = paged.Where(
				fmt.Sprintf("t.%s < ? OR (t.%s = ? AND t.%s < ?)", sortCol, sortCol, idCol),
				cursor.SortValue, cursor.SortValue, cursor.TiebreakID,
			)
		} else {
			paged = paged.Where(
				fmt.Sprintf("t.%s > ? OR (t.%s = ? AND t.%s > ?)", sortCol, sortCol, idCol),
				cursor.SortValue, cursor.SortValue, cursor.TiebreakID,
			)
		}
	}
	if reversed {
		paged = paged.OrderBy(fmt.Sprintf("t.%s DESC, t.%s DESC", sortCol, idCol))
	} else {
		paged = paged.OrderBy(fmt.Sprintf("t.%s ASC, t.%s ASC", sortCol, idCol))
	}

	// Probe one row past the limit; its presence alone decides hasNext.
	sql, args := paged.SelectSQL(selectColumns(model), "LIMIT ?", limit+1)
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, quarry.NewQueryExecutionError("cursor page query failed", err).WithModel(model.Name)
	}
	raw, err := scanRecords(rows)
	if err != nil {
		return nil, quarry.NewQueryExecutionError("cursor page scan failed", err).WithModel(model.Name)
	}

	hasMore := len(raw) > limit
	if hasMore {
		raw = raw[:limit]
	}
	if reversed {
		reverseRecords(raw)
		result.HasPrev = hasMore
		result.HasNext = !cursor.IsZero()
	} else {
		result.HasNext = hasMore
	}

	result.Records = make([]quarry.Record, len(raw))
	for i, r := range raw {
		result.Records[i] = quarry.Record(r)
	}

	if len(raw) > 0 {
		last := raw[len(raw)-1]
		first := raw[0]
		if next, ok := p.cursorFor(last, sortCol, idCol, quarry.DirectionForward); ok {
			result.NextCursor = next.Encode()
		}
		if prev, ok := p.cursorFor(first, sortCol, idCol, quarry.DirectionBackward); ok {
			result.PrevCursor = prev.Encode()
		}
	}

	total, err := p.totalCount(ctx, scope)
	if err != nil {
		return nil, err
	}
	result.TotalCount = total
	return result, nil
}

// cursorFor derives a cursor from a returned row, always one handed to the
// caller, never the probe row.
func (p *CursorPaginator) cursorFor(record map[string]any, sortCol, idCol string, dir quarry.Direction) (quarry.Cursor, bool) {
	id, ok := recordID(record, idCol)
	if !ok {
		zap.S().Warnw("row missing id column, cursor omitted", "id_column", idCol)
		return quarry.Cursor{}, false
	}
	return quarry.Cursor{
		SortValue:  sortValueString(record[sortCol]),
		TiebreakID: id,
		Direction:  dir,
	}, true
}

// totalCount prefers the planner's table estimate over a full count scan for
// unfiltered scopes; a page-display count does not need exactness, and exact
// counts on large tables are expensive. Filtered scopes fall back to an
// exact count.
func (p *CursorPaginator) totalCount(ctx context.Context, scope *Scope) (int64, error) {
	if !scope.HasConditions() {
		if estimate, ok := estimatedCount(ctx, p.pool, scope.Model()); ok {
			return estimate, nil
		}
	}
	sql, args := scope.CountSQL()
	var total int64
	if err := p.pool.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, quarry.NewQueryExecutionError("count query failed", err).WithModel(scope.Model().Name)
	}
	return total, nil
}

// estimatedCount reads the planner statistics for a table. A failed or
// stale (negative) estimate reports ok=false and the caller counts exactly.
func estimatedCount(ctx context.Context, pool queryPool, model *quarry.ModelDescriptor) (int64, bool) {
	var estimate int64
	err := pool.QueryRow(ctx,
		"SELECT reltuples::bigint FROM pg_class WHERE relname = $1", model.Table,
	).Scan(&estimate)
	if err != nil {
		zap.S().Warnw("estimated count probe failed", "table", model.Table, "error", err)
		return 0, false
	}
	if estimate < 0 {
		return 0, false
	}
	return estimate, true
}

func reverseRecords(records []map[string]any) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

// recordID extracts the primary key of a scanned row.
func recordID(record map[string]any, idCol string) (int64, bool) {
	switch v := record[idCol].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// sortValueString renders a sort value into the textual form carried by a
// cursor. Postgres coerces the text back to the column type inside the seek
// predicate.
func sortValueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
