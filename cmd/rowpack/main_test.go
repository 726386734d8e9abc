package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/rowpack/pkg/compression"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
	"github.com/ajitpratap0/rowpack/pkg/rowfile"
	"github.com/ajitpratap0/rowpack/pkg/rows"
	"github.com/ajitpratap0/rowpack/pkg/storage"
	"github.com/ajitpratap0/rowpack/pkg/testutil"
)

var created = time.UnixMilli(1700000000000).UTC()

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func seed(t *testing.T, dir, name string, ids ...int64) {
	t.Helper()
	b, err := rows.NewBatchWithKeys("id", "name", "created")
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, b.AddValues([]any{id, fmt.Sprintf("user-%d", id), created}))
	}
	require.NoError(t, rowfile.Save(context.Background(), storage.NewLocalStore(dir), name, b))
}

func load(t *testing.T, dir, name string) *rows.Batch {
	t.Helper()
	b, err := rowfile.Load(context.Background(), storage.NewLocalStore(dir), name)
	require.NoError(t, err)
	return b
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "rowpack v"+version)
}

func TestListAndInspect(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "b.rows", 3)
	seed(t, dir, "a.rows", 1, 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	out, err := run(t, "--storage", dir, "ls")
	require.NoError(t, err)
	assert.Equal(t, "a.rows\nb.rows\n", out)

	out, err = run(t, "--storage", dir, "inspect", "a.rows")
	require.NoError(t, err)
	assert.Contains(t, out, "a.rows: 2 rows, 3 columns")
	assert.Regexp(t, `id\s+int64`, out)
	assert.Regexp(t, `created\s+date`, out)
}

func TestDump(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "a.rows", 1, 2, 3)

	out, err := run(t, "--storage", dir, "dump", "-n", "2", "a.rows")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], `{"id":1,"name":"user-1","created":`), lines[0])
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "part-1.rows", 1)
	seed(t, dir, "part-2.rows", 2, 3)

	out, err := run(t, "--storage", dir, "merge", "--prefix", "part-", "all.rows")
	require.NoError(t, err)
	assert.Contains(t, out, "merged 2 files, 3 rows into all.rows")
	assert.Equal(t, 3, load(t, dir, "all.rows").Len())

	_, err = run(t, "--storage", dir, "merge", "none.rows", "--prefix", "missing-")
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeConfig))
}

func TestConvertRoundTrip(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "a.rows", 1, 2)

	for _, args := range [][]string{
		{"convert", "a.rows", "a.arrow"},
		{"convert", "a.arrow", "a.avro"},
		{"convert", "a.avro", "back.rows"},
	} {
		_, err := run(t, append([]string{"--storage", dir}, args...)...)
		require.NoError(t, err, "%v", args)
	}

	testutil.AssertBatchEqual(t, load(t, dir, "a.rows"), load(t, dir, "back.rows"))

	_, err := run(t, "--storage", dir, "convert", "--to", "parquet", "a.rows", "a.parquet")
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeConfig))
}

func TestCompress(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "a.rows", 1, 2)

	out, err := run(t, "--storage", dir, "compress", "-a", "zstd", "--rm", "a.rows")
	require.NoError(t, err)
	assert.Equal(t, "a.rows.zst\n", out)

	raw, err := os.ReadFile(filepath.Join(dir, "a.rows.zst"))
	require.NoError(t, err)
	assert.Equal(t, compression.Zstd, compression.Detect(raw))
	assert.NoFileExists(t, filepath.Join(dir, "a.rows"))
	assert.Equal(t, 2, load(t, dir, "a.rows.zst").Len())

	out, err = run(t, "--storage", dir, "compress", "-a", "none", "a.rows.zst")
	require.NoError(t, err)
	assert.Equal(t, "a.rows\n", out)
}

func TestStorageFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "a.rows", 1)
	t.Setenv("ROWPACK_STORAGE_URI", dir)

	out, err := run(t, "ls")
	require.NoError(t, err)
	assert.Equal(t, "a.rows\n", out)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "a.rows", 1)
	t.Setenv("ROWPACK_TEST_DIR", dir)

	cfgPath := filepath.Join(t.TempDir(), "rowpack.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
storage:
  uri: ${ROWPACK_TEST_DIR}
compression:
  algorithm: gzip
  level: 5
`), 0o600))

	_, err := run(t, "--config", cfgPath, "convert", "a.rows", "b.rows")
	require.NoError(t, err)
	f, err := os.Open(filepath.Join(dir, "b.rows"))
	require.NoError(t, err)
	defer f.Close()
	header, err := io.ReadAll(io.LimitReader(f, 2))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, header)

	_, err = run(t, "--config", cfgPath, "--compression", "brotli", "ls")
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeConfig))
}

func TestQueryValidation(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{"unknown driver", []string{"query", "--driver", "oracle", "--dsn", "x", "--sql", "select 1"}},
		{"missing dsn", []string{"query", "--driver", "pgx", "--sql", "select 1"}},
		{"missing sql", []string{"query", "--driver", "mysql", "--dsn", "u@/db"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"--storage", dir}, tt.args...)...)
			assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeConfig), "%v", err)
		})
	}
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, formatArrow, formatOf("x/a.arrow"))
	assert.Equal(t, formatAvro, formatOf("a.avro"))
	assert.Equal(t, formatRows, formatOf("a.rows.gz"))

	assert.Equal(t, "a", baseName("a.rows", ""))
	assert.Equal(t, "a", baseName("a.rows.lz4", ".rows"))
	assert.Equal(t, "a.bin", baseName("a.bin", ".rows"))

	assert.Equal(t, []string{"a", "c"}, without([]string{"a", "b", "c"}, "b"))
}

func TestBench(t *testing.T) {
	out, err := run(t, "bench", "--rows", "50", "--iterations", "2", "--algorithms", "none,zstd")
	require.NoError(t, err)
	assert.Contains(t, out, "50 rows x 7 columns, 2 iterations")
	assert.Regexp(t, `(?m)^none\s+\d+`, out)
	assert.Regexp(t, `(?m)^zstd\s+\d+`, out)

	_, err = run(t, "bench", "--algorithms", "brotli")
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeConfig))
}
