package rowfile

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/rowpack/pkg/compression"
	"github.com/ajitpratap0/rowpack/pkg/rowcodec"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
	"github.com/ajitpratap0/rowpack/pkg/rows"
	"github.com/ajitpratap0/rowpack/pkg/storage"
)

var created = time.UnixMilli(1700000000000).UTC()

func newBatch(t *testing.T, ids ...int64) *rows.Batch {
	t.Helper()
	b, err := rows.NewBatchWithKeys("id", "name", "created")
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, b.AddValues([]any{id, fmt.Sprintf("user-%d", id), created}))
	}
	return b
}

func ids(t *testing.T, b *rows.Batch) []int64 {
	t.Helper()
	out := make([]int64, 0, b.Len())
	for i := 0; i < b.Len(); i++ {
		v, err := b.Value(i, 0)
		require.NoError(t, err)
		out = append(out, v.(int64))
	}
	return out
}

func TestSaveLoadEveryAlgorithm(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())

	for _, alg := range compression.Algorithms {
		t.Run(string(alg), func(t *testing.T) {
			name := ObjectName("orders", "", alg)
			b := newBatch(t, 1, 2, 3)
			require.NoError(t, Save(ctx, store, name, b,
				WithCompression(compression.Config{Algorithm: alg, Level: compression.Default}),
				WithLogger(zaptest.NewLogger(t))))

			got, err := Load(ctx, store, name)
			require.NoError(t, err)
			assert.Equal(t, b.Keys(), got.Keys())
			assert.Equal(t, []int64{1, 2, 3}, ids(t, got))
			v, err := got.Value(2, 2)
			require.NoError(t, err)
			assert.Equal(t, created, v)
		})
	}
}

func TestSaveUnsupportedValueStoresNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())

	b, err := rows.NewBatchWithKeys("tags")
	require.NoError(t, err)
	require.NoError(t, b.AddValues([]any{[]string{"nested"}}))

	err = Save(ctx, store, "bad.rows", b)
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeUnsupportedValue))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSaveInvalidCompression(t *testing.T) {
	err := Save(context.Background(), storage.NewLocalStore(t.TempDir()), "x.rows", newBatch(t, 1),
		WithCompression(compression.Config{Algorithm: "brotli"}))
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeConfig))
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())

	_, err := Load(ctx, store, "missing.rows")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Put(ctx, "empty.rows", strings.NewReader("")))
	_, err = Load(ctx, store, "empty.rows")
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeUnexpectedEOF))

	require.NoError(t, store.Put(ctx, "junk.rows", strings.NewReader("not a batch file")))
	_, err = Load(ctx, store, "junk.rows")
	require.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeFormat), "%v", err)
	var e *rowerrors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "junk.rows", e.Details["name"])
}

func TestLoadConcatenatedBatches(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())

	var buf bytes.Buffer
	enc := rowcodec.NewEncoder(&buf)
	require.NoError(t, enc.Encode(newBatch(t, 1)))
	require.NoError(t, enc.Encode(rows.NewBatch()))
	require.NoError(t, enc.Encode(newBatch(t, 2, 3)))
	require.NoError(t, store.Put(ctx, "multi.rows", &buf))

	got, err := Load(ctx, store, "multi.rows")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(t, got))
}

func TestLoadAllKeepsNameOrder(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())

	var names []string
	for i := 0; i < 8; i++ {
		name := ObjectName(fmt.Sprintf("part-%02d", i), "", compression.Zstd)
		require.NoError(t, Save(ctx, store, name, newBatch(t, int64(2*i), int64(2*i+1)),
			WithCompression(compression.Config{Algorithm: compression.Zstd, Level: compression.Fastest})))
		names = append(names, name)
	}
	require.NoError(t, Save(ctx, store, "empty.rows", rows.NewBatch()))
	names = append([]string{"empty.rows"}, names...)

	got, err := LoadAll(ctx, store, names, WithParallelism(3))
	require.NoError(t, err)
	want := make([]int64, 16)
	for i := range want {
		want[i] = int64(i)
	}
	assert.Equal(t, want, ids(t, got))
}

func TestLoadAllSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())

	require.NoError(t, Save(ctx, store, "a.rows", newBatch(t, 1)))
	other, err := rows.NewBatchWithKeys("id", "email")
	require.NoError(t, err)
	require.NoError(t, other.AddValues([]any{int64(2), "x@example.com"}))
	require.NoError(t, Save(ctx, store, "b.rows", other))

	_, err = LoadAll(ctx, store, []string{"a.rows", "b.rows"})
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeSchemaMismatch))

	_, err = LoadAll(ctx, store, []string{"a.rows", "missing.rows"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoadAllNothing(t *testing.T) {
	got, err := LoadAll(context.Background(), storage.NewLocalStore(t.TempDir()), nil)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
	assert.False(t, got.HasKeys())
}

func TestNamingAndList(t *testing.T) {
	assert.Equal(t, "orders.rows", ObjectName("orders", "", compression.None))
	assert.Equal(t, "orders.rows.zst", ObjectName("orders", ".rows", compression.Zstd))
	assert.Equal(t, "orders.bin.gz", ObjectName("orders", ".bin", compression.Gzip))

	assert.True(t, IsBatchFile("a.rows", ""))
	assert.True(t, IsBatchFile("a.rows.s2", ""))
	assert.False(t, IsBatchFile("a.rows.bak", ""))
	assert.False(t, IsBatchFile("a.csv", ".rows"))

	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())
	for _, n := range []string{"day/b.rows.lz4", "day/a.rows", "day/notes.txt", "other/c.rows"} {
		require.NoError(t, store.Put(ctx, n, strings.NewReader("x")))
	}
	names, err := List(ctx, store, "day/", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"day/a.rows", "day/b.rows.lz4"}, names)
}

func TestSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(noop.NewTracerProvider())
		_ = tp.Shutdown(context.Background())
	})

	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())
	require.NoError(t, Save(ctx, store, "a.rows", newBatch(t, 1, 2)))
	_, err := Load(ctx, store, "a.rows")
	require.NoError(t, err)
	_, err = Load(ctx, store, "missing.rows")
	require.Error(t, err)

	ended := sr.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "rowfile.save", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.Int("rowfile.rows", 2))
	assert.Equal(t, "rowfile.load", ended[1].Name())
	assert.Contains(t, ended[1].Attributes(), attribute.Int("rowfile.columns", 3))
	assert.Contains(t, ended[2].Attributes(), attribute.String("error.type", "storage"))
}
