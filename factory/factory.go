package factory

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/quarry"
	"github.com/lychee-technology/quarry/internal"
)

// Components bundles the wired service surfaces. This is the primary way
// for external projects to stand up the query core.
//
// Usage:
//
//	import (
//	    "github.com/lychee-technology/quarry"
//	    "github.com/lychee-technology/quarry/factory"
//	)
//
//	cfg := quarry.DefaultConfig()
//	registry := quarry.NewModelRegistry()
//	// register model descriptors...
//	components, err := factory.New(ctx, cfg, pool, registry)
//	if err != nil {
//	    // handle error
//	}
//	defer components.Close()
type Components struct {
	Engine quarry.QueryEngine
	Bulk   quarry.BulkService
	Cache  quarry.AggregateCache

	bulk *internal.BulkProcessor
}

// Close drains in-flight bulk jobs and releases the worker pool.
func (c *Components) Close() {
	if c.bulk != nil {
		c.bulk.Close()
	}
}

// New wires the query engine, aggregate cache, and bulk service over one
// pool. Every table a registered model points at must already exist.
func New(ctx context.Context, cfg *quarry.Config, pool *pgxpool.Pool, registry *quarry.ModelRegistry) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := verifyTables(ctx, pool, registry); err != nil {
		return nil, err
	}

	engine := internal.NewEngine(pool, registry, cfg)

	cache, err := internal.NewCacheManager(pool, cfg.Cache)
	if err != nil {
		return nil, err
	}

	store, err := artifactStore(ctx, cfg.Export)
	if err != nil {
		return nil, err
	}
	exporter := internal.NewExporter(pool, store, cfg.Bulk.BatchSize)

	bulk, err := internal.NewBulkProcessor(pool, registry, engine.Search(), internal.NewBroker(), cache, exporter, cfg.Bulk)
	if err != nil {
		return nil, err
	}

	return &Components{
		Engine: engine,
		Bulk:   bulk,
		Cache:  cache,
		bulk:   bulk,
	}, nil
}

func artifactStore(ctx context.Context, cfg quarry.ExportConfig) (internal.ArtifactStore, error) {
	if cfg.S3Bucket != "" {
		return internal.NewS3ArtifactStore(ctx, cfg)
	}
	return internal.NewDirArtifactStore(cfg.Directory), nil
}

// verifyTables confirms the connection works and every registered model
// points at a real table before serving anything.
func verifyTables(ctx context.Context, pool *pgxpool.Pool, registry *quarry.ModelRegistry) error {
	rows, err := pool.Query(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE';`)
	if err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}

	for _, name := range registry.Names() {
		model, err := registry.Get(name)
		if err != nil {
			return err
		}
		if !slices.Contains(tables, model.Table) {
			return fmt.Errorf("model %s requires table %q which is missing in the database", name, model.Table)
		}
	}
	return nil
}
