package quarry

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is one row materialized from a model's table, keyed by column name.
type Record map[string]any

// ColumnKind classifies a column for search and filter construction.
type ColumnKind string

const (
	ColumnText    ColumnKind = "text"
	ColumnNumeric ColumnKind = "numeric"
	ColumnBool    ColumnKind = "bool"
	ColumnTime    ColumnKind = "time"
)

// Column describes one selectable column of a model.
type Column struct {
	Name string     `json:"name"`
	Kind ColumnKind `json:"kind"`
}

// Cardinality distinguishes how an association is counted.
type Cardinality string

const (
	CardinalityOneToMany Cardinality = "one_to_many"
	CardinalityOneToOne  Cardinality = "one_to_one"
)

// Association describes a child table reachable from a model through a
// foreign key. DisplayColumn, when set on a parent-side association, is
// included in basic search.
type Association struct {
	Name          string      `json:"name"`
	Table         string      `json:"table"`
	ForeignKey    string      `json:"foreign_key"`
	Cardinality   Cardinality `json:"cardinality"`
	DisplayColumn string      `json:"display_column,omitempty"`
}

// ModelDescriptor describes one record type and the table backing it.
type ModelDescriptor struct {
	Name               string        `json:"name"`
	Table              string        `json:"table"`
	IDColumn           string        `json:"id_column"`
	Columns            []Column      `json:"columns"`
	DefaultSortColumn  string        `json:"default_sort_column"`
	SearchVectorColumn string        `json:"search_vector_column,omitempty"`
	SearchLanguage     string        `json:"search_language,omitempty"`
	Associations       []Association `json:"associations,omitempty"`
}

// TextColumns returns the names of all text columns, the set basic and
// trigram search operate over.
func (m *ModelDescriptor) TextColumns() []string {
	cols := make([]string, 0, len(m.Columns))
	for _, c := range m.Columns {
		if c.Kind == ColumnText {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// HasColumn reports whether the model declares the named column.
func (m *ModelDescriptor) HasColumn(name string) bool {
	if name == m.IDColumn {
		return true
	}
	for _, c := range m.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// SortColumn resolves the requested sort column, falling back to the model
// default and finally the primary key.
func (m *ModelDescriptor) SortColumn(requested string) string {
	if requested != "" && m.HasColumn(requested) {
		return requested
	}
	if m.DefaultSortColumn != "" {
		return m.DefaultSortColumn
	}
	return m.IDColumn
}

// Association looks up an association by name.
func (m *ModelDescriptor) Association(name string) (Association, bool) {
	for _, a := range m.Associations {
		if a.Name == name {
			return a, true
		}
	}
	return Association{}, false
}

// Language returns the configured full-text language, defaulting to english.
func (m *ModelDescriptor) Language() string {
	if m.SearchLanguage != "" {
		return m.SearchLanguage
	}
	return "english"
}

// SearchStrategy selects how a free-text query is executed. The set is
// closed; call sites switch exhaustively over it.
type SearchStrategy int

const (
	StrategyAuto SearchStrategy = iota
	StrategyBasic
	StrategyTrigram
	StrategyFullText
)

func (s SearchStrategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyBasic:
		return "basic"
	case StrategyTrigram:
		return "trigram"
	case StrategyFullText:
		return "full_text"
	}
	return "basic"
}

// ParseSearchStrategy maps a wire name to a strategy. Unknown names report
// ok=false; callers fall back to the most conservative strategy.
func ParseSearchStrategy(name string) (SearchStrategy, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return StrategyAuto, true
	case "basic":
		return StrategyBasic, true
	case "trigram":
		return StrategyTrigram, true
	case "full_text", "fulltext":
		return StrategyFullText, true
	}
	return StrategyBasic, false
}

// SortOrder defines sort direction.
type SortOrder string

const (
	SortOrderAsc  SortOrder = "asc"
	SortOrderDesc SortOrder = "desc"
)

// FilterType defines supported filter operations.
type FilterType string

const (
	FilterEquals      FilterType = "equals"
	FilterNotEquals   FilterType = "not_equals"
	FilterStartsWith  FilterType = "starts_with"
	FilterContains    FilterType = "contains"
	FilterGreaterThan FilterType = "gt"
	FilterLessThan    FilterType = "lt"
	FilterGreaterEq   FilterType = "gte"
	FilterLessEq      FilterType = "lte"
	FilterIn          FilterType = "in"
	FilterNotIn       FilterType = "not_in"
	FilterBetween     FilterType = "between"
)

// Filter is a single resolved column predicate. Upper is only consulted for
// between-range filters.
type Filter struct {
	Type  FilterType `json:"type"`
	Value any        `json:"value"`
	Upper any        `json:"upper,omitempty"`
}

// PaginationMode selects how a result set is paged.
type PaginationMode string

const (
	PaginateCursor PaginationMode = "cursor"
	PaginateOffset PaginationMode = "offset"
	PaginateAuto   PaginationMode = "auto"
)

// PageRequest is the resolved inbound shape for an interactive query: the
// surrounding framework has already turned HTTP/CLI input into these fields.
type PageRequest struct {
	Model       string            `json:"model"`
	Filters     map[string]Filter `json:"filters,omitempty"`
	SearchQuery string            `json:"search_query,omitempty"`
	Strategy    SearchStrategy    `json:"-"`
	SortColumn  string            `json:"sort_column,omitempty"`
	SortOrder   SortOrder         `json:"sort_order,omitempty"`
	Pagination  PaginationMode    `json:"pagination,omitempty"`

	// Cursor mode.
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`

	// Offset mode.
	Page    int `json:"page,omitempty"`
	PerPage int `json:"per_page,omitempty"`
}

// PageResult is the unified outbound page shape. Cursor fields are populated
// in cursor mode, page fields in offset mode.
type PageResult struct {
	Records    []Record       `json:"records"`
	HasNext    bool           `json:"has_next_page"`
	HasPrev    bool           `json:"has_previous_page"`
	TotalCount int64          `json:"total_count"`
	Mode       PaginationMode `json:"pagination_mode"`

	NextCursor string `json:"next_cursor,omitempty"`
	PrevCursor string `json:"previous_cursor,omitempty"`

	CurrentPage int `json:"current_page,omitempty"`
	PerPage     int `json:"per_page,omitempty"`
	TotalPages  int `json:"total_pages,omitempty"`
}

// Suggestion is one ranked completion candidate for a partial query.
type Suggestion struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// BulkOperation identifies what a bulk job does to each matched record.
type BulkOperation string

const (
	BulkUpdate BulkOperation = "update"
	BulkDelete BulkOperation = "delete"
	BulkExport BulkOperation = "export"
)

// JobStatus is the lifecycle state of a bulk job. Completed and Failed are
// terminal and immutable.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ExportFormat selects the encoding of a bulk export artifact.
type ExportFormat string

const (
	ExportCSV         ExportFormat = "csv"
	ExportSpreadsheet ExportFormat = "spreadsheet"
	ExportNDJSON      ExportFormat = "ndjson"
	ExportJSONArray   ExportFormat = "json"
)

// BulkRequest submits a batch mutation or export over a filtered scope. The
// scope is constructed exactly like an interactive query so the job touches
// what the submitter saw.
type BulkRequest struct {
	Model       string            `json:"model"`
	Operation   BulkOperation     `json:"operation"`
	Filters     map[string]Filter `json:"filters,omitempty"`
	SearchQuery string            `json:"search_query,omitempty"`
	Updates     map[string]any    `json:"updates,omitempty"`
	Format      ExportFormat      `json:"format,omitempty"`
	RequesterID string            `json:"requester_id,omitempty"`
}

// RecordError is one per-record failure captured during a bulk job.
type RecordError struct {
	RecordID int64  `json:"record_id"`
	Message  string `json:"message"`
}

// ExportArtifact references the output of a completed export job. The
// artifact itself is never returned inline.
type ExportArtifact struct {
	Key         string `json:"key"`
	Location    string `json:"location"`
	ContentType string `json:"content_type"`
	RecordCount int64  `json:"record_count"`
}

// ProgressEvent is one progress or terminal report for a bulk job, delivered
// on the job's notification channel.
type ProgressEvent struct {
	JobID          uuid.UUID       `json:"job_id"`
	Status         JobStatus       `json:"status"`
	ProcessedCount int64           `json:"processed_count"`
	ErrorCount     int64           `json:"error_count"`
	Errors         []RecordError   `json:"errors,omitempty"`
	Error          string          `json:"error,omitempty"`
	Artifact       *ExportArtifact `json:"artifact,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}
