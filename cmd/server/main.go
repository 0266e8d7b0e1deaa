package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/quarry"
	"github.com/lychee-technology/quarry/factory"
	"go.uber.org/zap"
)

// Server represents the HTTP server over the wired query components
type Server struct {
	components *factory.Components
	registry   *quarry.ModelRegistry
	mux        *http.ServeMux
}

// NewServer creates a new Server instance
func NewServer(components *factory.Components, registry *quarry.ModelRegistry) *Server {
	return &Server{
		components: components,
		registry:   registry,
		mux:        http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/api/v1/query", s.handleQuery)
	s.mux.HandleFunc("/api/v1/suggest", s.handleSuggest)
	s.mux.HandleFunc("/api/v1/bulk", s.handleBulkSubmit)
	s.mux.HandleFunc("/api/v1/jobs/", s.jobsHandler)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

// Start starts the HTTP server on the given port
func (s *Server) Start(port string) error {
	zap.S().Infow("starting server", "port", port)
	return http.ListenAndServe(":"+port, s.mux)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	configPath := getEnv("CONFIG_FILE", "config.toml")
	cfg, models, err := loadConfig(configPath)
	if err != nil {
		sugar.Fatalf("failed to load configuration: %v", err)
	}

	pool, err := createDatabasePool(cfg.Database)
	if err != nil {
		sugar.Fatalf("failed to create database pool: %v", err)
	}
	defer pool.Close()

	registry := quarry.NewModelRegistry()
	for _, model := range models {
		if err := registry.Register(model); err != nil {
			sugar.Fatalf("failed to register model %s: %v", model.Name, err)
		}
	}
	sugar.Infow("models registered", "models", registry.Names())

	components, err := factory.New(context.Background(), cfg, pool, registry)
	if err != nil {
		sugar.Fatalf("failed to wire components: %v", err)
	}
	defer components.Close()

	server := NewServer(components, registry)
	server.RegisterRoutes()

	port := getEnv("PORT", "8080")
	if err := server.Start(port); err != nil {
		sugar.Fatalf("server error: %v", err)
	}
}

// createDatabasePool creates a PostgreSQL connection pool from config
func createDatabasePool(config quarry.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
		config.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(config.MaxConnections)
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	poolConfig.ConnConfig.ConnectTimeout = config.Timeout

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
