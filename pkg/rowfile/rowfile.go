// Package rowfile persists encoded batches as objects in a storage.Store.
//
// A batch file is one or more encoded batches, optionally wrapped in a
// compression stream. Load detects the compression from the stream header, so
// files written with any algorithm can be read without configuration.
package rowfile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/rowpack/internal/pool"
	"github.com/ajitpratap0/rowpack/pkg/compression"
	"github.com/ajitpratap0/rowpack/pkg/logger"
	"github.com/ajitpratap0/rowpack/pkg/metrics"
	"github.com/ajitpratap0/rowpack/pkg/observability"
	"github.com/ajitpratap0/rowpack/pkg/rowcodec"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
	"github.com/ajitpratap0/rowpack/pkg/rows"
	"github.com/ajitpratap0/rowpack/pkg/storage"
)

// DefaultExtension is the suffix of uncompressed batch files.
const DefaultExtension = ".rows"

// headerPeek covers the longest compression stream signature.
const headerPeek = 10

type options struct {
	compression compression.Config
	logger      *zap.Logger
	parallelism int
}

// Option configures Save, Load and LoadAll.
type Option func(*options)

// WithCompression selects the algorithm Save compresses with.
func WithCompression(cfg compression.Config) Option {
	return func(o *options) { o.compression = cfg }
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithParallelism bounds the number of files LoadAll decodes at once. Zero or
// less means GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

func newOptions(opts []Option) options {
	o := options{compression: *compression.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logger.OrNop(o.logger)
	if o.parallelism <= 0 {
		o.parallelism = runtime.GOMAXPROCS(0)
	}
	return o
}

// ObjectName returns base with the batch extension and the compression
// suffix appended, e.g. "orders" -> "orders.rows.zst".
func ObjectName(base, ext string, alg compression.Algorithm) string {
	if ext == "" {
		ext = DefaultExtension
	}
	return base + ext + alg.Extension()
}

// IsBatchFile reports whether name carries the batch extension, optionally
// followed by a known compression suffix.
func IsBatchFile(name, ext string) bool {
	if ext == "" {
		ext = DefaultExtension
	}
	for _, alg := range compression.Algorithms {
		if strings.HasSuffix(name, ext+alg.Extension()) {
			return true
		}
	}
	return false
}

// List returns the batch files under prefix in name order.
func List(ctx context.Context, store storage.Store, prefix, ext string) ([]string, error) {
	names, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if IsBatchFile(n, ext) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Save encodes b and stores it under name. The batch is fully encoded before
// the store is touched, so an encoding error leaves no object behind.
func Save(ctx context.Context, store storage.Store, name string, b *rows.Batch, opts ...Option) (err error) {
	o := newOptions(opts)
	timer := metrics.NewTimer(metrics.OpSave)
	defer timer.Stop()

	ctx, span := observability.StartSpan(ctx, "rowfile.save",
		attribute.String("rowfile.name", name),
		attribute.Int("rowfile.rows", b.Len()),
		attribute.Int("rowfile.columns", b.ColumnCount()),
		attribute.String("rowfile.compression", string(o.compression.Algorithm)),
	)
	defer func() { observability.EndSpan(span, err) }()

	comp, err := compression.NewCompressor(&o.compression)
	if err != nil {
		return err
	}

	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)

	w, err := comp.NewWriter(buf)
	if err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeInternal, "failed to create compression writer")
	}
	if err := rowcodec.NewEncoder(w, rowcodec.WithLogger(o.logger)).Encode(b); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeFile, "failed to finish compression stream")
	}

	size := buf.Len()
	if err := store.Put(ctx, name, bytes.NewReader(buf.Bytes())); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("rowfile.bytes", size))
	metrics.RowsProcessed.WithLabelValues(metrics.OpSave).Add(float64(b.Len()))
	o.logger.Info("batch saved",
		zap.String("name", name),
		zap.Int("rows", b.Len()),
		zap.Int("columns", b.ColumnCount()),
		zap.Int("bytes", size),
		zap.String("compression", string(comp.Algorithm())))
	return nil
}

// Load reads every batch stored under name and merges them in file order.
func Load(ctx context.Context, store storage.Store, name string, opts ...Option) (b *rows.Batch, err error) {
	o := newOptions(opts)
	return load(ctx, store, name, o)
}

func load(ctx context.Context, store storage.Store, name string, o options) (b *rows.Batch, err error) {
	timer := metrics.NewTimer(metrics.OpLoad)
	defer timer.Stop()

	ctx, span := observability.StartSpan(ctx, "rowfile.load", attribute.String("rowfile.name", name))
	defer func() { observability.EndSpan(span, err) }()

	rc, err := store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	br := bufio.NewReader(rc)
	header, err := br.Peek(headerPeek)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeFile, "failed to read batch file").
			WithDetail("name", name)
	}
	alg := compression.Detect(header)
	comp, err := compression.NewCompressor(&compression.Config{Algorithm: alg, Level: compression.Default})
	if err != nil {
		return nil, err
	}
	r, err := comp.NewReader(br)
	if err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeFormat, "invalid compression stream").
			WithDetail("name", name).
			WithDetail("compression", string(alg))
	}
	defer func() { _ = r.Close() }()

	dec := rowcodec.NewDecoder(r, rowcodec.WithLogger(o.logger))
	var parts []*rows.Batch
	for {
		part, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var e *rowerrors.Error
			if errors.As(err, &e) {
				e.WithDetail("name", name)
			}
			return nil, err
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return nil, rowerrors.New(rowerrors.ErrorTypeUnexpectedEOF, "batch file is empty").
			WithDetail("name", name)
	}

	b, err = mergeAll(parts)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("rowfile.rows", b.Len()),
		attribute.Int("rowfile.columns", b.ColumnCount()),
		attribute.String("rowfile.compression", string(alg)),
	)
	metrics.RowsProcessed.WithLabelValues(metrics.OpLoad).Add(float64(b.Len()))
	o.logger.Debug("batch loaded",
		zap.String("name", name),
		zap.Int("rows", b.Len()),
		zap.String("compression", string(alg)))
	return b, nil
}

// LoadAll loads names concurrently and merges the results in the order of
// names. All files must share one column list; the first mismatch fails the
// whole call.
func LoadAll(ctx context.Context, store storage.Store, names []string, opts ...Option) (*rows.Batch, error) {
	o := newOptions(opts)
	parts := make([]*rows.Batch, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for i, name := range names {
		g.Go(func() error {
			b, err := load(gctx, store, name, o)
			if err != nil {
				return err
			}
			parts[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged, err := mergeAll(parts)
	if err != nil {
		return nil, err
	}
	o.logger.Info("batches loaded",
		zap.Int("files", len(names)),
		zap.Int("rows", merged.Len()))
	return merged, nil
}

// mergeAll appends every part to the first one with columns. Parts without
// columns hold no rows and are skipped.
func mergeAll(parts []*rows.Batch) (*rows.Batch, error) {
	var out *rows.Batch
	for _, p := range parts {
		if !p.HasKeys() {
			continue
		}
		if out == nil {
			out = p
			continue
		}
		if err := out.Merge(p); err != nil {
			return nil, err
		}
	}
	if out == nil {
		return rows.NewBatch(), nil
	}
	return out, nil
}
