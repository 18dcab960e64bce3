// Package config provides the configuration of the taxidash server and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taxidash/taxidash/internal/dataset"
	"github.com/taxidash/taxidash/internal/engine"
	"github.com/taxidash/taxidash/internal/logging"
)

// Source types.
const (
	SourceLocal = "local"
	SourceS3    = "s3"
	SourceHTTP  = "http"
)

// Config holds the taxidash configuration.
type Config struct {
	// DataDir is the directory holding data/<category>/ for local sources
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Engine configuration
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Source configuration
	Source SourceConfig `json:"source" yaml:"source"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Datasets loaded at startup
	Datasets DatasetsConfig `json:"datasets" yaml:"datasets"`

	// Query statistics configuration
	Query QueryConfig `json:"query" yaml:"query"`

	// Log configuration
	Log logging.Config `json:"log" yaml:"log"`
}

// EngineConfig holds embedded engine configuration.
type EngineConfig struct {
	// Driver is the database/sql driver: sqlite3 (cgo) or sqlite (pure Go)
	Driver string `json:"driver" yaml:"driver"`

	// CompressBuffers keeps registered file buffers snappy-compressed
	CompressBuffers bool `json:"compress_buffers" yaml:"compress_buffers"`

	// InsertBatchSize is the number of rows per INSERT when materializing
	InsertBatchSize int `json:"insert_batch_size" yaml:"insert_batch_size"`
}

// SourceConfig holds the configuration of the monthly file source.
type SourceConfig struct {
	// Type is the source type: local, s3, http
	Type string `json:"type" yaml:"type"`

	// Path is the root directory (for local type)
	Path string `json:"path" yaml:"path"`

	// BaseURL is the site serving data/<category>/... (for http type)
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Timeout bounds a single HTTP fetch (for http type)
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// FetchConcurrency is the number of months fetched in parallel
	FetchConcurrency int `json:"fetch_concurrency" yaml:"fetch_concurrency"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 source configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is prepended to every object path
	Prefix string `json:"prefix" yaml:"prefix"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address of the API
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// LoadsPerMinute limits POST /api/datasets per client (0 disables)
	LoadsPerMinute int `json:"loads_per_minute" yaml:"loads_per_minute"`

	// LoadBurst is the number of loads a client may send at once
	LoadBurst int `json:"load_burst" yaml:"load_burst"`
}

// DatasetsConfig lists what the server loads at startup.
type DatasetsConfig struct {
	// Primary is loaded strictly: any missing month fails startup loading
	Primary dataset.Descriptor `json:"primary" yaml:"primary"`

	// Extras are loaded leniently: missing months are skipped
	Extras []dataset.Descriptor `json:"extras" yaml:"extras"`

	// MonthCount is the number of months loaded per dataset (1-12)
	MonthCount int `json:"month_count" yaml:"month_count"`
}

// QueryConfig holds query statistics configuration.
type QueryConfig struct {
	// StatsWindow is how long an idle statement stays in the statistics
	StatsWindow time.Duration `json:"stats_window" yaml:"stats_window"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: ".",
		Engine: EngineConfig{
			Driver:          engine.DriverCGO,
			InsertBatchSize: 256,
		},
		Source: SourceConfig{
			Type:             SourceLocal,
			Path:             "",
			Timeout:          60 * time.Second,
			FetchConcurrency: 4,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			LoadsPerMinute:  30,
			LoadBurst:       5,
		},
		Datasets: DatasetsConfig{
			Primary:    dataset.Descriptor{Year: 2023, Category: dataset.CategoryGreen},
			Extras:     []dataset.Descriptor{{Year: 2022, Category: dataset.CategoryGreen}},
			MonthCount: dataset.MonthsPerYear,
		},
		Query: QueryConfig{
			StatsWindow: time.Hour,
		},
		Log: logging.Config{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// Resolve sets path defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.Source.Path == "" {
		c.Source.Path = c.DataDir
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Engine.Driver {
	case engine.DriverCGO, engine.DriverPure:
	default:
		return fmt.Errorf("invalid engine.driver: %s (must be %s or %s)", c.Engine.Driver, engine.DriverCGO, engine.DriverPure)
	}

	switch c.Source.Type {
	case SourceLocal:
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required when source type is local")
		}
	case SourceS3:
		if c.Source.S3.Bucket == "" {
			return fmt.Errorf("source.s3.bucket is required when source type is s3")
		}
	case SourceHTTP:
		if c.Source.BaseURL == "" {
			return fmt.Errorf("source.base_url is required when source type is http")
		}
	default:
		return fmt.Errorf("invalid source type: %s (must be local, s3 or http)", c.Source.Type)
	}

	if c.Source.FetchConcurrency < 1 {
		return fmt.Errorf("source.fetch_concurrency must be positive, got %d", c.Source.FetchConcurrency)
	}

	if c.Datasets.MonthCount < 1 || c.Datasets.MonthCount > dataset.MonthsPerYear {
		return fmt.Errorf("datasets.month_count must be between 1 and %d, got %d", dataset.MonthsPerYear, c.Datasets.MonthCount)
	}

	if err := c.Datasets.Primary.Validate(); err != nil {
		return fmt.Errorf("datasets.primary: %w", err)
	}
	tables := map[string]bool{c.Datasets.Primary.TableName(): true}
	for i, d := range c.Datasets.Extras {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("datasets.extras[%d]: %w", i, err)
		}
		if tables[d.TableName()] {
			return fmt.Errorf("datasets.extras[%d]: table %s is already loaded by another dataset", i, d.TableName())
		}
		tables[d.TableName()] = true
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.LoadsPerMinute < 0 {
		return fmt.Errorf("http.loads_per_minute must not be negative, got %d", c.HTTP.LoadsPerMinute)
	}

	return nil
}

// EngineSettings converts the engine section into an engine configuration.
func (c *Config) EngineSettings() engine.Config {
	return engine.Config{
		Driver:          c.Engine.Driver,
		CompressBuffers: c.Engine.CompressBuffers,
		InsertBatchSize: c.Engine.InsertBatchSize,
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the TAXIDASH_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TAXIDASH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Engine configuration
	if v := os.Getenv("TAXIDASH_ENGINE_DRIVER"); v != "" {
		cfg.Engine.Driver = v
	}
	if v := os.Getenv("TAXIDASH_ENGINE_COMPRESS_BUFFERS"); v != "" {
		cfg.Engine.CompressBuffers = v == "true" || v == "1"
	}

	// Source configuration
	if v := os.Getenv("TAXIDASH_SOURCE_TYPE"); v != "" {
		cfg.Source.Type = v
	}
	if v := os.Getenv("TAXIDASH_SOURCE_PATH"); v != "" {
		cfg.Source.Path = v
	}
	if v := os.Getenv("TAXIDASH_SOURCE_BASE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("TAXIDASH_SOURCE_FETCH_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Source.FetchConcurrency)
	}
	if v := os.Getenv("TAXIDASH_S3_BUCKET"); v != "" {
		cfg.Source.S3.Bucket = v
	}
	if v := os.Getenv("TAXIDASH_S3_REGION"); v != "" {
		cfg.Source.S3.Region = v
	}
	if v := os.Getenv("TAXIDASH_S3_ENDPOINT"); v != "" {
		cfg.Source.S3.Endpoint = v
	}
	if v := os.Getenv("TAXIDASH_S3_PREFIX"); v != "" {
		cfg.Source.S3.Prefix = v
	}

	// HTTP configuration
	if v := os.Getenv("TAXIDASH_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("TAXIDASH_HTTP_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ShutdownTimeout = d
		}
	}

	// Dataset configuration
	if v := os.Getenv("TAXIDASH_PRIMARY_YEAR"); v != "" {
		if year, err := strconv.Atoi(v); err == nil {
			cfg.Datasets.Primary.Year = year
		}
	}
	if v := os.Getenv("TAXIDASH_PRIMARY_CATEGORY"); v != "" {
		cfg.Datasets.Primary.Category = v
	}
	if v := os.Getenv("TAXIDASH_MONTH_COUNT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Datasets.MonthCount)
	}

	// Log configuration
	if v := os.Getenv("TAXIDASH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TAXIDASH_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
