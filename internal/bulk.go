package internal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/quarry"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// BulkProcessor runs batch mutations and exports over filtered scopes as
// background jobs. Submission returns a job handle immediately; the job
// executes on a bounded worker pool and reports progress through the broker.
//
// The scope a job iterates is built exactly the way interactive requests
// build theirs, same filters and same search engine, so "what the user saw"
// and "what the job touches" are computed identically.
type BulkProcessor struct {
	pool     queryPool
	registry *quarry.ModelRegistry
	search   *SearchEngine
	broker   *Broker
	cache    *CacheManager
	exporter *Exporter
	workers  *ants.Pool
	cfg      quarry.BulkConfig

	mu   sync.RWMutex
	jobs map[uuid.UUID]*jobState

	wg      sync.WaitGroup
	nowFunc func() time.Time
}

// jobState holds the latest snapshot of one job. Terminal snapshots are
// never mutated again.
type jobState struct {
	mu       sync.Mutex
	snapshot quarry.ProgressEvent
}

func (j *jobState) update(mutate func(*quarry.ProgressEvent)) quarry.ProgressEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	mutate(&j.snapshot)
	return j.snapshot
}

func (j *jobState) read() quarry.ProgressEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshot
}

// NewBulkProcessor creates a processor with a bounded worker pool.
func NewBulkProcessor(
	pool queryPool,
	registry *quarry.ModelRegistry,
	search *SearchEngine,
	broker *Broker,
	cache *CacheManager,
	exporter *Exporter,
	cfg quarry.BulkConfig,
) (*BulkProcessor, error) {
	// Nonblocking mode keeps Submit from stalling callers when every worker
	// is busy; a saturated pool rejects the job instead.
	workers, err := ants.NewPool(cfg.MaxWorkers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			zap.S().Errorw("bulk job panic recovered", "panic", v)
		}))
	if err != nil {
		return nil, quarry.NewInternalError("failed to create bulk worker pool", err)
	}
	return &BulkProcessor{
		pool:     pool,
		registry: registry,
		search:   search,
		broker:   broker,
		cache:    cache,
		exporter: exporter,
		workers:  workers,
		cfg:      cfg,
		jobs:     make(map[uuid.UUID]*jobState),
		nowFunc:  time.Now,
	}, nil
}

// Submit validates the request, registers a pending job, and schedules it.
// The returned id is the caller's handle for status and event subscription.
func (p *BulkProcessor) Submit(ctx context.Context, req *quarry.BulkRequest) (uuid.UUID, error) {
	if req == nil {
		return uuid.Nil, quarry.NewValidationError("request", "bulk request cannot be nil")
	}
	model, err := p.registry.Get(req.Model)
	if err != nil {
		return uuid.Nil, err
	}

	switch req.Operation {
	case quarry.BulkUpdate:
		if len(req.Updates) == 0 {
			return uuid.Nil, quarry.NewValidationError("updates", "bulk update requires at least one column")
		}
		for col := range req.Updates {
			if !model.HasColumn(col) || col == model.IDColumn {
				return uuid.Nil, quarry.NewValidationError("updates",
					fmt.Sprintf("column %q is not updatable on model %s", col, model.Name))
			}
		}
	case quarry.BulkDelete:
	case quarry.BulkExport:
	default:
		return uuid.Nil, quarry.NewQuarryError(quarry.ErrorTypeValidation, quarry.ErrCodeInvalidOperation,
			fmt.Sprintf("unknown bulk operation %q", req.Operation))
	}

	jobID := uuid.New()
	state := &jobState{snapshot: quarry.ProgressEvent{
		JobID:     jobID,
		Status:    quarry.JobPending,
		Timestamp: p.nowFunc(),
	}}
	p.mu.Lock()
	p.jobs[jobID] = state
	p.mu.Unlock()

	request := *req
	p.wg.Add(1)
	err = p.workers.Submit(func() {
		defer p.wg.Done()
		p.run(jobID, model, &request)
	})
	if err != nil {
		p.wg.Done()
		p.mu.Lock()
		delete(p.jobs, jobID)
		p.mu.Unlock()
		return uuid.Nil, quarry.NewQuarryError(quarry.ErrorTypeInternal, quarry.ErrCodeWorkerPoolExhaust,
			"bulk worker pool rejected job").WithCause(err)
	}

	zap.S().Infow("bulk job submitted",
		"job_id", jobID, "model", req.Model, "operation", req.Operation, "requester", req.RequesterID)
	return jobID, nil
}

// Job returns the latest snapshot for a job.
func (p *BulkProcessor) Job(id uuid.UUID) (*quarry.ProgressEvent, error) {
	p.mu.RLock()
	state, ok := p.jobs[id]
	p.mu.RUnlock()
	if !ok {
		return nil, quarry.NewJobNotFoundError(id.String())
	}
	snapshot := state.read()
	return &snapshot, nil
}

// Subscribe returns the job's event channel and a cancel function.
func (p *BulkProcessor) Subscribe(id uuid.UUID) (<-chan quarry.ProgressEvent, func()) {
	return p.broker.Subscribe(id)
}

// Wait blocks until all scheduled jobs have finished. Shutdown helper.
func (p *BulkProcessor) Wait() {
	p.wg.Wait()
}

// Close drains the worker pool and the broker.
func (p *BulkProcessor) Close() {
	p.wg.Wait()
	p.workers.Release()
	p.broker.Close()
}

// run executes one job to a terminal state. Jobs never retry automatically.
func (p *BulkProcessor) run(jobID uuid.UUID, model *quarry.ModelDescriptor, req *quarry.BulkRequest) {
	ctx := context.Background()
	if p.cfg.JobBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobBudget)
		defer cancel()
	}

	state := p.state(jobID)
	if state == nil {
		return
	}

	scope, err := p.buildScope(ctx, model, req)
	if err != nil {
		p.fail(state, err)
		return
	}

	state.update(func(e *quarry.ProgressEvent) {
		e.Status = quarry.JobRunning
		e.Timestamp = p.nowFunc()
	})

	if req.Operation == quarry.BulkExport {
		p.runExport(ctx, state, scope, req)
		return
	}
	p.runMutation(ctx, state, scope, req)
}

func (p *BulkProcessor) state(jobID uuid.UUID) *jobState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.jobs[jobID]
}

// buildScope mirrors interactive scope construction: filters first, then the
// search engine for any text-query portion.
func (p *BulkProcessor) buildScope(ctx context.Context, model *quarry.ModelDescriptor, req *quarry.BulkRequest) (*Scope, error) {
	scope, err := ApplyFilters(NewScope(model), req.Filters)
	if err != nil {
		return nil, err
	}
	if req.SearchQuery != "" {
		scope = p.search.Search(ctx, scope, req.SearchQuery, quarry.StrategyAuto)
	}
	return scope, nil
}

// runExport streams the scope into an artifact and finishes the job with a
// pointer to it. The artifact is stored, never delivered inline.
func (p *BulkProcessor) runExport(ctx context.Context, state *jobState, scope *Scope, req *quarry.BulkRequest) {
	format := req.Format
	if format == "" {
		format = quarry.ExportCSV
	}
	jobID := state.read().JobID

	artifact, err := p.exporter.Run(ctx, scope, format, jobID, func(count int) {
		p.broker.Publish(state.update(func(e *quarry.ProgressEvent) {
			e.Status = quarry.JobRunning
			e.ProcessedCount = int64(count)
			e.Timestamp = p.nowFunc()
		}))
	})
	if err != nil {
		p.fail(state, err)
		return
	}
	p.complete(state, artifact)
}

// runMutation iterates the scope in fixed-size id-seek batches, bounding
// peak memory regardless of how many rows match. A failure on one record is
// recorded and skipped; a single bad record never aborts the batch.
func (p *BulkProcessor) runMutation(ctx context.Context, state *jobState, scope *Scope, req *quarry.BulkRequest) {
	model := scope.Model()
	var lastID int64
	for {
		if err := ctx.Err(); err != nil {
			p.fail(state, quarry.NewQuarryError(quarry.ErrorTypeBulk, quarry.ErrCodeJobBudgetExhausted,
				"bulk job exceeded its wall-clock budget").WithCause(err))
			return
		}

		ids, err := p.nextBatch(ctx, scope, lastID)
		if err != nil {
			p.fail(state, err)
			return
		}
		if len(ids) == 0 {
			break
		}
		lastID = ids[len(ids)-1]

		for _, id := range ids {
			var opErr error
			switch req.Operation {
			case quarry.BulkUpdate:
				opErr = p.applyUpdate(ctx, model, id, req.Updates)
			case quarry.BulkDelete:
				opErr = p.applyDelete(ctx, model, id)
			}
			if opErr != nil {
				p.recordError(state, id, opErr)
				continue
			}
			if p.cache != nil {
				p.cache.Invalidate(id)
			}
			state.update(func(e *quarry.ProgressEvent) { e.ProcessedCount++ })
		}

		p.broker.Publish(state.update(func(e *quarry.ProgressEvent) {
			e.Status = quarry.JobRunning
			e.Timestamp = p.nowFunc()
		}))
	}

	p.complete(state, nil)
}

// nextBatch fetches the next slice of matching ids past the last processed
// one. Seek iteration keeps batches stable while the job itself deletes or
// mutates rows behind the boundary.
func (p *BulkProcessor) nextBatch(ctx context.Context, scope *Scope, lastID int64) ([]int64, error) {
	model := scope.Model()
	batch := scope.ClearOrder().
		Where(fmt.Sprintf("t.%s > ?", model.IDColumn), lastID).
		OrderBy(fmt.Sprintf("t.%s ASC", model.IDColumn))
	sql, args := batch.SelectSQL([]string{model.IDColumn}, "LIMIT ?", p.cfg.BatchSize)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, quarry.NewQueryExecutionError("bulk batch query failed", err).WithModel(model.Name)
	}
	defer rows.Close()

	ids := make([]int64, 0, p.cfg.BatchSize)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, quarry.NewQueryExecutionError("bulk batch scan failed", err).WithModel(model.Name)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, quarry.NewQueryExecutionError("bulk batch iteration failed", err).WithModel(model.Name)
	}
	return ids, nil
}

func (p *BulkProcessor) applyUpdate(ctx context.Context, model *quarry.ModelDescriptor, id int64, updates map[string]any) error {
	cols := make([]string, 0, len(updates))
	for col := range updates {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, updates[col])
	}
	args = append(args, id)

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		model.Table, strings.Join(sets, ", "), model.IDColumn, len(cols)+1)
	if _, err := p.pool.Exec(ctx, sql, args...); err != nil {
		return err
	}
	return nil
}

func (p *BulkProcessor) applyDelete(ctx context.Context, model *quarry.ModelDescriptor, id int64) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", model.Table, model.IDColumn)
	if _, err := p.pool.Exec(ctx, sql, id); err != nil {
		return err
	}
	return nil
}

// recordError captures a per-record failure, keeping only the first
// MaxRecordedErrors entries to bound memory on pathological failure rates.
func (p *BulkProcessor) recordError(state *jobState, id int64, err error) {
	state.update(func(e *quarry.ProgressEvent) {
		e.ErrorCount++
		if len(e.Errors) < p.cfg.MaxRecordedErrors {
			e.Errors = append(e.Errors, quarry.RecordError{RecordID: id, Message: err.Error()})
		}
	})
}

// complete moves the job to its terminal Completed state and emits the final
// report. Terminal state is immutable afterwards.
func (p *BulkProcessor) complete(state *jobState, artifact *quarry.ExportArtifact) {
	final := state.update(func(e *quarry.ProgressEvent) {
		e.Status = quarry.JobCompleted
		e.Artifact = artifact
		e.Timestamp = p.nowFunc()
	})
	p.broker.Publish(final)
	zap.S().Infow("bulk job completed",
		"job_id", final.JobID, "processed", final.ProcessedCount, "errors", final.ErrorCount)
}

// fail marks the job Failed. Only unrecovered errors outside the per-record
// guard land here; the job does not retry.
func (p *BulkProcessor) fail(state *jobState, err error) {
	final := state.update(func(e *quarry.ProgressEvent) {
		e.Status = quarry.JobFailed
		e.Error = err.Error()
		e.Timestamp = p.nowFunc()
	})
	p.broker.Publish(final)
	zap.S().Warnw("bulk job failed", "job_id", final.JobID, "error", err)
}
