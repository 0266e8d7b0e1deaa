package quarry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// QueryEngine serves interactive search, filter, and pagination requests.
// Calls are synchronous and stateless between requests; the cursor inside a
// PageRequest is the only state a caller carries forward.
type QueryEngine interface {
	Query(ctx context.Context, req *PageRequest) (*PageResult, error)
	Suggest(ctx context.Context, model, query string, limit int) ([]Suggestion, error)
}

// BulkService submits and observes asynchronous bulk jobs. Submit returns a
// job handle immediately; progress and completion arrive on the job's event
// channel, not through polling a blocking call.
type BulkService interface {
	Submit(ctx context.Context, req *BulkRequest) (uuid.UUID, error)
	Job(id uuid.UUID) (*ProgressEvent, error)
	Subscribe(id uuid.UUID) (<-chan ProgressEvent, func())
}

// AggregateCache caches expensive per-record aggregates with bulk warming
// and targeted invalidation. A non-positive ttl selects the configured
// default.
type AggregateCache interface {
	AssociationCount(ctx context.Context, model *ModelDescriptor, recordID int64, association string, ttl time.Duration) (int64, error)
	WarmAssociationCounts(ctx context.Context, model *ModelDescriptor, recordIDs []int64, association string, ttl time.Duration) error
	Invalidate(recordID int64) int
}
