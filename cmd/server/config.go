package main

import (
	"fmt"
	"os"
	"time"

	"github.com/lychee-technology/quarry"
	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the on-disk shape of the server configuration: the engine
// settings plus the model catalog.
type fileConfig struct {
	quarry.Config
	Models []modelConfig `toml:"models"`
}

type modelConfig struct {
	Name               string              `toml:"name"`
	Table              string              `toml:"table"`
	IDColumn           string              `toml:"id_column"`
	DefaultSortColumn  string              `toml:"default_sort_column"`
	SearchVectorColumn string              `toml:"search_vector_column"`
	SearchLanguage     string              `toml:"search_language"`
	Columns            []columnConfig      `toml:"columns"`
	Associations       []associationConfig `toml:"associations"`
}

type columnConfig struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
}

type associationConfig struct {
	Name          string `toml:"name"`
	Table         string `toml:"table"`
	ForeignKey    string `toml:"foreign_key"`
	Cardinality   string `toml:"cardinality"`
	DisplayColumn string `toml:"display_column"`
}

func (m modelConfig) toDescriptor() *quarry.ModelDescriptor {
	columns := make([]quarry.Column, 0, len(m.Columns))
	for _, c := range m.Columns {
		columns = append(columns, quarry.Column{
			Name: c.Name,
			Kind: quarry.ColumnKind(c.Kind),
		})
	}
	associations := make([]quarry.Association, 0, len(m.Associations))
	for _, a := range m.Associations {
		associations = append(associations, quarry.Association{
			Name:          a.Name,
			Table:         a.Table,
			ForeignKey:    a.ForeignKey,
			Cardinality:   quarry.Cardinality(a.Cardinality),
			DisplayColumn: a.DisplayColumn,
		})
	}
	return &quarry.ModelDescriptor{
		Name:               m.Name,
		Table:              m.Table,
		IDColumn:           m.IDColumn,
		Columns:            columns,
		DefaultSortColumn:  m.DefaultSortColumn,
		SearchVectorColumn: m.SearchVectorColumn,
		SearchLanguage:     m.SearchLanguage,
		Associations:       associations,
	}
}

// loadConfig reads the TOML config file over the defaults, then applies
// environment overrides for deployment credentials. A missing file is not
// an error; the defaults plus environment are enough for development.
func loadConfig(path string) (*quarry.Config, []*quarry.ModelDescriptor, error) {
	fc := fileConfig{Config: *quarry.DefaultConfig()}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyEnvOverrides(&fc.Config)

	if err := fc.Config.Validate(); err != nil {
		return nil, nil, err
	}

	models := make([]*quarry.ModelDescriptor, 0, len(fc.Models))
	for _, m := range fc.Models {
		models = append(models, m.toDescriptor())
	}
	return &fc.Config, models, nil
}

func applyEnvOverrides(cfg *quarry.Config) {
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.Username = getEnv("DB_USER", cfg.Database.Username)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.SSLMode = getEnv("DB_SSL_MODE", cfg.Database.SSLMode)
	cfg.Database.MaxConnections = getEnvInt("DB_MAX_CONNECTIONS", cfg.Database.MaxConnections)
	if seconds := getEnvInt("DB_TIMEOUT_SECONDS", 0); seconds > 0 {
		cfg.Database.Timeout = time.Duration(seconds) * time.Second
	}

	cfg.Export.S3Endpoint = getEnv("S3_ENDPOINT", cfg.Export.S3Endpoint)
	cfg.Export.S3Bucket = getEnv("S3_BUCKET", cfg.Export.S3Bucket)
	cfg.Export.S3Region = getEnv("S3_REGION", cfg.Export.S3Region)
	cfg.Export.S3AccessKey = getEnv("S3_ACCESS_KEY", cfg.Export.S3AccessKey)
	cfg.Export.S3SecretKey = getEnv("S3_SECRET_KEY", cfg.Export.S3SecretKey)
}
