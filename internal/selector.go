package internal

import (
	"context"

	"github.com/lychee-technology/quarry"
	"go.uber.org/zap"
)

// PaginationSelector routes a request to cursor or offset pagination. Auto
// mode obtains an estimated row count for the scope and switches to cursor
// pagination past the configured threshold, the point where offset-scan cost
// dominates cursor-seek cost on index-backed storage.
type PaginationSelector struct {
	pool   queryPool
	cursor *CursorPaginator
	offset *OffsetPaginator
	cfg    quarry.QueryConfig
}

// NewPaginationSelector creates a selector over both paginators.
func NewPaginationSelector(pool queryPool, cfg quarry.QueryConfig) *PaginationSelector {
	return &PaginationSelector{
		pool:   pool,
		cursor: NewCursorPaginator(pool, cfg),
		offset: NewOffsetPaginator(pool, cfg),
		cfg:    cfg,
	}
}

// Cursor exposes the underlying cursor paginator.
func (s *PaginationSelector) Cursor() *CursorPaginator { return s.cursor }

// Offset exposes the underlying offset paginator.
func (s *PaginationSelector) Offset() *OffsetPaginator { return s.offset }

// Paginate dispatches the request according to its pagination mode.
func (s *PaginationSelector) Paginate(ctx context.Context, scope *Scope, req *quarry.PageRequest) (*quarry.PageResult, error) {
	mode := req.Pagination
	if mode == "" {
		mode = quarry.PaginateAuto
	}
	if mode == quarry.PaginateAuto {
		mode = s.resolveMode(ctx, scope)
	}

	switch mode {
	case quarry.PaginateCursor:
		direction := quarry.DirectionForward
		if c := quarry.DecodeCursor(req.Cursor); c.Direction == quarry.DirectionBackward {
			direction = quarry.DirectionBackward
		}
		return s.cursor.Paginate(ctx, scope, req.SortColumn, req.Cursor, req.Limit, direction)
	default:
		return s.offset.Paginate(ctx, scope, req.SortColumn, req.SortOrder, req.Page, req.PerPage)
	}
}

// resolveMode picks a paginator from the scope's estimated cardinality.
// Estimation failure falls back to offset: a scope we cannot size is treated
// as small rather than failing the request.
func (s *PaginationSelector) resolveMode(ctx context.Context, scope *Scope) quarry.PaginationMode {
	if scope.IsNone() {
		return quarry.PaginateOffset
	}

	var estimate int64
	if !scope.HasConditions() {
		if est, ok := estimatedCount(ctx, s.pool, scope.Model()); ok {
			estimate = est
		}
	} else {
		sql, args := scope.CountSQL()
		if err := s.pool.QueryRow(ctx, sql, args...).Scan(&estimate); err != nil {
			zap.S().Warnw("scope count for pagination selection failed, using offset",
				"model", scope.Model().Name, "error", err)
			return quarry.PaginateOffset
		}
	}

	if estimate > s.cfg.CursorThreshold {
		return quarry.PaginateCursor
	}
	return quarry.PaginateOffset
}
