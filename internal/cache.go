package internal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lychee-technology/quarry"
)

// CacheKey is the structured identity of a cached aggregate. Keys are
// namespaced by operation kind and record identity so invalidation can
// target exactly the entries derived from one record with a set lookup
// instead of a pattern scan over the whole cache.
type CacheKey struct {
	Namespace string
	Kind      string
	RecordID  int64
	Suffix    string
}

func (k CacheKey) String() string {
	var b strings.Builder
	b.WriteString(k.Namespace)
	b.WriteString(":")
	b.WriteString(k.Kind)
	b.WriteString(":")
	b.WriteString(strconv.FormatInt(k.RecordID, 10))
	if k.Suffix != "" {
		b.WriteString(":")
		b.WriteString(k.Suffix)
	}
	return b.String()
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// CacheManager is a process-wide fetch-or-compute cache for expensive
// per-record aggregates. Reads and writes are atomic per key; overlapping
// warms may compute redundantly but never cache inconsistent values, since
// each value is a deterministic function of current data and last writer
// wins.
type CacheManager struct {
	pool  queryPool
	store *lru.Cache[string, cacheEntry]
	cfg   quarry.CacheConfig

	mu       sync.Mutex
	byRecord map[int64]map[string]struct{}

	nowFunc func() time.Time
}

// NewCacheManager creates a cache manager backed by a bounded LRU.
func NewCacheManager(pool queryPool, cfg quarry.CacheConfig) (*CacheManager, error) {
	m := &CacheManager{
		pool:     pool,
		cfg:      cfg,
		byRecord: make(map[int64]map[string]struct{}),
		nowFunc:  time.Now,
	}
	store, err := lru.NewWithEvict(cfg.MaxEntries, m.onEvict)
	if err != nil {
		return nil, quarry.NewCacheError("failed to create cache store", err)
	}
	m.store = store
	return m, nil
}

func (m *CacheManager) withClock(now func() time.Time) {
	if now != nil {
		m.nowFunc = now
	}
}

func (m *CacheManager) onEvict(key string, _ cacheEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, keys := range m.byRecord {
		if _, ok := keys[key]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(m.byRecord, id)
			}
			return
		}
	}
}

func (m *CacheManager) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if m.cfg.DefaultTTL > 0 {
		return m.cfg.DefaultTTL
	}
	return 5 * time.Minute
}

// peek returns a live cached value, expiring stale entries lazily.
func (m *CacheManager) peek(key CacheKey) (any, bool) {
	entry, ok := m.store.Get(key.String())
	if !ok {
		return nil, false
	}
	if m.nowFunc().After(entry.expiresAt) {
		m.store.Remove(key.String())
		return nil, false
	}
	return entry.value, true
}

// set stores a value and indexes the key under its record identity.
func (m *CacheManager) set(key CacheKey, value any, ttl time.Duration) {
	raw := key.String()
	m.store.Add(raw, cacheEntry{value: value, expiresAt: m.nowFunc().Add(m.ttlOrDefault(ttl))})

	m.mu.Lock()
	defer m.mu.Unlock()
	keys, ok := m.byRecord[key.RecordID]
	if !ok {
		keys = make(map[string]struct{})
		m.byRecord[key.RecordID] = keys
	}
	keys[raw] = struct{}{}
}

// FetchOrCompute is the read-through primitive: on miss, compute, store with
// the given TTL, return.
func (m *CacheManager) FetchOrCompute(key CacheKey, ttl time.Duration, compute func() (any, error)) (any, error) {
	if value, ok := m.peek(key); ok {
		return value, nil
	}
	value, err := compute()
	if err != nil {
		return nil, err
	}
	m.set(key, value, ttl)
	return value, nil
}

// associationKey builds the cache key for one record's association count.
func (m *CacheManager) associationKey(model *quarry.ModelDescriptor, recordID int64, association string) CacheKey {
	return CacheKey{
		Namespace: m.cfg.Namespace,
		Kind:      "assoc_count",
		RecordID:  recordID,
		Suffix:    model.Name + "." + association,
	}
}

// AssociationCount fetches or computes the count of associated child records
// for one record.
func (m *CacheManager) AssociationCount(ctx context.Context, model *quarry.ModelDescriptor, recordID int64, association string, ttl time.Duration) (int64, error) {
	assoc, ok := model.Association(association)
	if !ok {
		return 0, quarry.NewValidationError("association",
			fmt.Sprintf("model %s has no association %q", model.Name, association))
	}

	value, err := m.FetchOrCompute(m.associationKey(model, recordID, association), ttl, func() (any, error) {
		return m.computeCount(ctx, assoc, recordID)
	})
	if err != nil {
		return 0, err
	}
	count, ok := value.(int64)
	if !ok {
		return 0, quarry.NewCacheError("cached association count has unexpected type", nil).
			WithDetail("association", association)
	}
	return count, nil
}

func (m *CacheManager) computeCount(ctx context.Context, assoc quarry.Association, recordID int64) (int64, error) {
	switch assoc.Cardinality {
	case quarry.CardinalityOneToOne:
		var exists bool
		err := m.pool.QueryRow(ctx,
			fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE %s = $1)", assoc.Table, assoc.ForeignKey),
			recordID,
		).Scan(&exists)
		if err != nil {
			return 0, quarry.NewQueryExecutionError("one-to-one presence query failed", err)
		}
		if exists {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		var count int64
		err := m.pool.QueryRow(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = $1", assoc.Table, assoc.ForeignKey),
			recordID,
		).Scan(&count)
		if err != nil {
			return 0, quarry.NewQueryExecutionError("association count query failed", err)
		}
		return count, nil
	}
}

// WarmAssociationCounts pre-populates counts for a batch of records with one
// grouped query instead of one count query per record. Records with zero
// matching children still receive a cached 0: absence of a count row is not
// "not yet computed", and skipping the zero write would force a recompute on
// every later read.
//
// One-to-many and one-to-one deliberately take different queries: a GROUP
// BY count and a DISTINCT presence scan are not the same computation.
func (m *CacheManager) WarmAssociationCounts(ctx context.Context, model *quarry.ModelDescriptor, recordIDs []int64, association string, ttl time.Duration) error {
	assoc, ok := model.Association(association)
	if !ok {
		return quarry.NewValidationError("association",
			fmt.Sprintf("model %s has no association %q", model.Name, association))
	}

	uncached := make([]int64, 0, len(recordIDs))
	for _, id := range recordIDs {
		if _, hit := m.peek(m.associationKey(model, id, association)); !hit {
			uncached = append(uncached, id)
		}
	}
	if len(uncached) == 0 {
		return nil
	}

	counts := make(map[int64]int64, len(uncached))
	switch assoc.Cardinality {
	case quarry.CardinalityOneToOne:
		rows, err := m.pool.Query(ctx,
			fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s = ANY($1)",
				assoc.ForeignKey, assoc.Table, assoc.ForeignKey),
			uncached,
		)
		if err != nil {
			return quarry.NewQueryExecutionError("bulk presence query failed", err).WithModel(model.Name)
		}
		for rows.Next() {
			var parentID int64
			if err := rows.Scan(&parentID); err != nil {
				rows.Close()
				return quarry.NewQueryExecutionError("bulk presence scan failed", err).WithModel(model.Name)
			}
			counts[parentID] = 1
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return quarry.NewQueryExecutionError("bulk presence iteration failed", err).WithModel(model.Name)
		}
	default:
		rows, err := m.pool.Query(ctx,
			fmt.Sprintf("SELECT %s, COUNT(*) FROM %s WHERE %s = ANY($1) GROUP BY %s",
				assoc.ForeignKey, assoc.Table, assoc.ForeignKey, assoc.ForeignKey),
			uncached,
		)
		if err != nil {
			return quarry.NewQueryExecutionError("bulk count query failed", err).WithModel(model.Name)
		}
		for rows.Next() {
			var parentID, count int64
			if err := rows.Scan(&parentID, &count); err != nil {
				rows.Close()
				return quarry.NewQueryExecutionError("bulk count scan failed", err).WithModel(model.Name)
			}
			counts[parentID] = count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return quarry.NewQueryExecutionError("bulk count iteration failed", err).WithModel(model.Name)
		}
	}

	for _, id := range uncached {
		m.set(m.associationKey(model, id, association), counts[id], ttl)
	}
	return nil
}

// Invalidate removes every cache entry derived from the record's identity
// and returns how many entries were dropped. Used after any write to the
// record.
func (m *CacheManager) Invalidate(recordID int64) int {
	m.mu.Lock()
	keys := m.byRecord[recordID]
	delete(m.byRecord, recordID)
	raw := make([]string, 0, len(keys))
	for k := range keys {
		raw = append(raw, k)
	}
	m.mu.Unlock()

	removed := 0
	for _, k := range raw {
		if m.store.Remove(k) {
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, counting entries not yet expired.
func (m *CacheManager) Len() int {
	return m.store.Len()
}
