package quarry

import (
	"time"
)

// Config consolidates settings for the query-serving core
type Config struct {
	Database DatabaseConfig `json:"database" toml:"database"`
	Query    QueryConfig    `json:"query" toml:"query"`
	Search   SearchConfig   `json:"search" toml:"search"`
	Cache    CacheConfig    `json:"cache" toml:"cache"`
	Bulk     BulkConfig     `json:"bulk" toml:"bulk"`
	Export   ExportConfig   `json:"export" toml:"export"`
	Logging  LoggingConfig  `json:"logging" toml:"logging"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host            string        `json:"host" toml:"host"`
	Port            int           `json:"port" toml:"port"`
	Database        string        `json:"database" toml:"database"`
	Username        string        `json:"username" toml:"username"`
	Password        string        `json:"password" toml:"password"`
	SSLMode         string        `json:"sslMode" toml:"ssl_mode"`
	MaxConnections  int           `json:"maxConnections" toml:"max_connections"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" toml:"conn_max_lifetime"`
	Timeout         time.Duration `json:"timeout" toml:"timeout"`
}

// QueryConfig contains pagination settings
type QueryConfig struct {
	DefaultLimit int `json:"defaultLimit" toml:"default_limit"`
	// MaxLimit is the hard per-request ceiling; caller requests above it are
	// clamped, never rejected.
	MaxLimit int `json:"maxLimit" toml:"max_limit"`
	// CursorThreshold is the estimated row count past which auto pagination
	// switches from offset to cursor mode.
	CursorThreshold int64 `json:"cursorThreshold" toml:"cursor_threshold"`
}

// SearchConfig contains search strategy settings
type SearchConfig struct {
	// TrigramThreshold is the minimum best-column similarity for a row to match.
	TrigramThreshold float64 `json:"trigramThreshold" toml:"trigram_threshold"`
	// SuggestionThreshold is looser than TrigramThreshold so suggestions
	// surface more candidates.
	SuggestionThreshold float64 `json:"suggestionThreshold" toml:"suggestion_threshold"`
	// MinQueryLength is the trimmed length below which auto resolution forces
	// basic search.
	MinQueryLength int `json:"minQueryLength" toml:"min_query_length"`
	// MinSuggestionLength is the query length below which suggestions are
	// always empty.
	MinSuggestionLength int `json:"minSuggestionLength" toml:"min_suggestion_length"`
}

// CacheConfig contains aggregate cache settings
type CacheConfig struct {
	MaxEntries int           `json:"maxEntries" toml:"max_entries"`
	DefaultTTL time.Duration `json:"defaultTTL" toml:"default_ttl"`
	Namespace  string        `json:"namespace" toml:"namespace"`
}

// BulkConfig contains bulk operation settings
type BulkConfig struct {
	BatchSize  int `json:"batchSize" toml:"batch_size"`
	MaxWorkers int `json:"maxWorkers" toml:"max_workers"`
	// MaxRecordedErrors bounds the per-job error list on pathological
	// failure rates.
	MaxRecordedErrors int `json:"maxRecordedErrors" toml:"max_recorded_errors"`
	// JobBudget, when positive, is the wall-clock budget after which an
	// in-flight job is marked failed.
	JobBudget time.Duration `json:"jobBudget" toml:"job_budget"`
}

// ExportConfig contains export artifact settings
type ExportConfig struct {
	// Directory receives artifacts when no S3 endpoint is configured.
	Directory   string `json:"directory" toml:"directory"`
	S3Endpoint  string `json:"s3Endpoint" toml:"s3_endpoint"`
	S3Bucket    string `json:"s3Bucket" toml:"s3_bucket"`
	S3Region    string `json:"s3Region" toml:"s3_region"`
	S3AccessKey string `json:"s3AccessKey" toml:"s3_access_key"`
	S3SecretKey string `json:"s3SecretKey" toml:"s3_secret_key"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level" toml:"level"`
	Format string `json:"format" toml:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxConnections:  25,
			ConnMaxLifetime: 5 * time.Minute,
			Timeout:         30 * time.Second,
		},
		Query: QueryConfig{
			DefaultLimit:    50,
			MaxLimit:        100,
			CursorThreshold: 10_000,
		},
		Search: SearchConfig{
			TrigramThreshold:    0.3,
			SuggestionThreshold: 0.1,
			MinQueryLength:      3,
			MinSuggestionLength: 2,
		},
		Cache: CacheConfig{
			MaxEntries: 65536,
			DefaultTTL: 5 * time.Minute,
			Namespace:  "quarry",
		},
		Bulk: BulkConfig{
			BatchSize:         1000,
			MaxWorkers:        4,
			MaxRecordedErrors: 10,
		},
		Export: ExportConfig{
			Directory: "artifacts",
			S3Region:  "us-east-1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.MaxConnections <= 0 {
		return &ConfigError{Field: "database.maxConnections", Message: "must be greater than 0"}
	}
	if c.Query.DefaultLimit <= 0 {
		return &ConfigError{Field: "query.defaultLimit", Message: "must be greater than 0"}
	}
	if c.Query.MaxLimit < c.Query.DefaultLimit {
		return &ConfigError{Field: "query.maxLimit", Message: "must be greater than or equal to defaultLimit"}
	}
	if c.Query.CursorThreshold <= 0 {
		return &ConfigError{Field: "query.cursorThreshold", Message: "must be greater than 0"}
	}
	if c.Search.TrigramThreshold <= 0 || c.Search.TrigramThreshold >= 1 {
		return &ConfigError{Field: "search.trigramThreshold", Message: "must be in (0, 1)"}
	}
	if c.Search.SuggestionThreshold > c.Search.TrigramThreshold {
		return &ConfigError{Field: "search.suggestionThreshold", Message: "must not exceed trigramThreshold"}
	}
	if c.Cache.MaxEntries <= 0 {
		return &ConfigError{Field: "cache.maxEntries", Message: "must be greater than 0"}
	}
	if c.Bulk.BatchSize <= 0 {
		return &ConfigError{Field: "bulk.batchSize", Message: "must be greater than 0"}
	}
	if c.Bulk.MaxWorkers <= 0 {
		return &ConfigError{Field: "bulk.maxWorkers", Message: "must be greater than 0"}
	}
	if c.Bulk.MaxRecordedErrors <= 0 {
		return &ConfigError{Field: "bulk.maxRecordedErrors", Message: "must be greater than 0"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
