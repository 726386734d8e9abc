package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/rowpack/pkg/compression"
	"github.com/ajitpratap0/rowpack/pkg/config"
	"github.com/ajitpratap0/rowpack/pkg/logger"
	"github.com/ajitpratap0/rowpack/pkg/metrics"
	"github.com/ajitpratap0/rowpack/pkg/observability"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
	"github.com/ajitpratap0/rowpack/pkg/rowfile"
	"github.com/ajitpratap0/rowpack/pkg/storage"
)

// app holds the state shared by all commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *zap.Logger
	store   storage.Store
	out     io.Writer
	errOut  io.Writer

	metricsServer *http.Server
}

// flagKeys maps persistent flags to configuration keys. The same keys are
// read from ROWPACK_* environment variables, e.g. ROWPACK_STORAGE_URI.
var flagKeys = map[string]string{
	"storage":     "storage.uri",
	"log-level":   "log.level",
	"compression": "compression.algorithm",
	"parallelism": "files.parallelism",
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, errOut: errOut}
	a.v.SetEnvPrefix("ROWPACK")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "rowpack",
		Short: "rowpack - compact columnar row batch files",
		Long: `rowpack reads and writes row batches in a compact columnar binary format.
Batch files live in a local directory or an S3 bucket and may be compressed
with gzip, snappy, lz4, zstd or s2.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown(cmd.Context())
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "Path to YAML configuration file")
	flags.String("storage", "", "Storage URI: a directory, file:///dir or s3://bucket/prefix")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("compression", "", "Compression for written batch files (none, gzip, snappy, lz4, zstd, s2)")
	flags.Int("parallelism", 0, "Maximum batch files decoded at once")
	for flag, key := range flagKeys {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}
	for _, key := range []string{
		"storage.region", "storage.endpoint", "storage.use_path_style",
		"compression.level", "query.driver", "query.dsn",
		"metrics.enabled", "metrics.address", "tracing.enabled",
	} {
		_ = a.v.BindEnv(key)
	}

	root.AddCommand(
		newVersionCmd(a),
		newListCmd(a),
		newInspectCmd(a),
		newDumpCmd(a),
		newMergeCmd(a),
		newConvertCmd(a),
		newCompressCmd(a),
		newQueryCmd(a),
		newBenchCmd(a),
	)
	return root
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then environment variables and flags.
func (a *app) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if a.cfgFile != "" {
		if err := config.Load(a.cfgFile, cfg); err != nil {
			return nil, err
		}
	}

	v := a.v
	if v.IsSet("storage.uri") {
		cfg.Storage.URI = v.GetString("storage.uri")
	}
	if v.IsSet("storage.region") {
		cfg.Storage.Region = v.GetString("storage.region")
	}
	if v.IsSet("storage.endpoint") {
		cfg.Storage.Endpoint = v.GetString("storage.endpoint")
	}
	if v.IsSet("storage.use_path_style") {
		cfg.Storage.UsePathStyle = v.GetBool("storage.use_path_style")
	}
	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("compression.algorithm") {
		cfg.Compression.Algorithm = compression.Algorithm(strings.ToLower(v.GetString("compression.algorithm")))
	}
	if v.IsSet("compression.level") {
		cfg.Compression.Level = compression.Level(v.GetInt("compression.level"))
	}
	if v.IsSet("files.parallelism") {
		cfg.Files.Parallelism = v.GetInt("files.parallelism")
	}
	if v.IsSet("query.driver") {
		cfg.Query.Driver = v.GetString("query.driver")
	}
	if v.IsSet("query.dsn") {
		cfg.Query.DSN = v.GetString("query.dsn")
	}
	if v.IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	}
	if v.IsSet("metrics.address") {
		cfg.Metrics.Address = v.GetString("metrics.address")
	}
	if v.IsSet("tracing.enabled") {
		cfg.Tracing.Enabled = v.GetBool("tracing.enabled")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	// version and bench touch neither storage nor configuration
	switch cmd.Name() {
	case "version", "bench":
		return nil
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(cfg.Log); err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeConfig, "failed to initialize logger")
	}
	ctx := logger.WithOperation(cmd.Context(), cmd.Name())
	cmd.SetContext(ctx)
	a.log = logger.FromContext(ctx, logger.Get()).With(zap.String("component", "rowpack-cli"))

	if err := observability.InitTracing(ctx, cfg.Tracing, observability.WithWriter(a.errOut)); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		a.startMetrics(cfg.Metrics.Address)
	}

	a.store, err = storage.Open(ctx, cfg.Storage, storage.WithLogger(a.log))
	return err
}

func (a *app) startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("address", addr))
}

func (a *app) teardown(ctx context.Context) error {
	if a.cfg == nil {
		return nil
	}
	if a.metricsServer != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(sctx); err != nil {
			a.log.Warn("failed to stop metrics server", zap.Error(err))
		}
	}
	_ = a.log.Sync()
	return observability.Shutdown(context.WithoutCancel(ctx))
}

// fileOptions returns the rowfile options derived from the configuration.
func (a *app) fileOptions() []rowfile.Option {
	return []rowfile.Option{
		rowfile.WithCompression(a.cfg.Compression),
		rowfile.WithLogger(a.log),
		rowfile.WithParallelism(a.cfg.Files.Parallelism),
	}
}
