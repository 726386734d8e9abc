// Package config defines rowpack's configuration file.
//
// The configuration is organized into sections:
//   - Log: logger level, encoding and outputs
//   - Compression: algorithm and level used when saving batches
//   - Storage: where batch files live (local directory or S3)
//   - Files: naming and load parallelism for batch files
//   - Query: default database driver and DSN for the query command
//   - Metrics, Tracing: observability endpoints
//
// Example usage:
//
//	cfg := config.Default()
//	if err := config.Load("rowpack.yaml", cfg); err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config

import (
	"net/url"

	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/rowpack/pkg/compression"
	"github.com/ajitpratap0/rowpack/pkg/logger"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

// Config is the top-level configuration.
type Config struct {
	Log         logger.Config      `yaml:"log"`
	Compression compression.Config `yaml:"compression"`
	Storage     StorageConfig      `yaml:"storage"`
	Files       FilesConfig        `yaml:"files"`
	Query       QueryConfig        `yaml:"query"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Tracing     TracingConfig      `yaml:"tracing"`
}

// StorageConfig selects the blob store holding batch files.
type StorageConfig struct {
	// URI is file:///dir, a bare directory path, or s3://bucket/prefix
	URI string `yaml:"uri"`
	// Region for S3; empty uses the SDK's default chain
	Region string `yaml:"region"`
	// Endpoint overrides the S3 endpoint for S3-compatible services
	Endpoint string `yaml:"endpoint"`
	// UsePathStyle forces path-style S3 addressing
	UsePathStyle bool `yaml:"use_path_style"`
}

// FilesConfig controls batch file naming and loading.
type FilesConfig struct {
	// Extension appended to batch object names
	Extension string `yaml:"extension"`
	// Parallelism bounds concurrent decodes in LoadAll; 0 means GOMAXPROCS
	Parallelism int `yaml:"parallelism"`
}

// QueryConfig holds defaults for the query command.
type QueryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	// Pretty prints spans as indented JSON
	Pretty bool `yaml:"pretty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: logger.Config{
			Level:    "info",
			Encoding: "console",
		},
		Compression: compression.Config{
			Algorithm: compression.None,
			Level:     compression.Default,
		},
		Storage: StorageConfig{
			URI: ".",
		},
		Files: FilesConfig{
			Extension: ".rows",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		Tracing: TracingConfig{
			ServiceName: "rowpack",
		},
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeConfig, "invalid log level").
			WithDetail("level", c.Log.Level)
	}
	switch c.Log.Encoding {
	case "", "json", "console":
	default:
		return rowerrors.Newf(rowerrors.ErrorTypeConfig, "invalid log encoding %q", c.Log.Encoding)
	}

	if _, err := compression.ParseAlgorithm(string(c.Compression.Algorithm)); err != nil {
		return err
	}

	if c.Storage.URI == "" {
		return rowerrors.New(rowerrors.ErrorTypeConfig, "storage uri is required")
	}
	u, err := url.Parse(c.Storage.URI)
	if err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeConfig, "invalid storage uri")
	}
	switch u.Scheme {
	case "", "file":
	case "s3":
		if u.Host == "" {
			return rowerrors.New(rowerrors.ErrorTypeConfig, "s3 storage uri needs a bucket")
		}
	default:
		return rowerrors.Newf(rowerrors.ErrorTypeConfig, "unsupported storage scheme %q", u.Scheme)
	}

	if c.Files.Parallelism < 0 {
		return rowerrors.New(rowerrors.ErrorTypeConfig, "files.parallelism must be >= 0")
	}

	switch c.Query.Driver {
	case "", "pgx", "mysql":
	default:
		return rowerrors.Newf(rowerrors.ErrorTypeConfig, "unsupported query driver %q", c.Query.Driver)
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return rowerrors.New(rowerrors.ErrorTypeConfig, "metrics.address is required when metrics are enabled")
	}
	return nil
}
