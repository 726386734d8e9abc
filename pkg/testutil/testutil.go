// Package testutil provides batches and helpers shared by rowpack's tests and
// the bench command.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/rowpack/pkg/rows"
)

// SampleKeys are the columns of SampleBatch, one per wire type.
var SampleKeys = []string{"id", "seq", "flag", "small", "score", "name", "created"}

// SampleEpoch is the created value of the first sample row.
var SampleEpoch = time.UnixMilli(1700000000000).UTC()

// SampleBatch returns a deterministic batch of n rows covering every wire
// type. Every seventh row holds nulls in its optional columns.
func SampleBatch(n int) *rows.Batch {
	b, err := rows.NewBatchWithKeys(SampleKeys...)
	if err != nil {
		panic(err)
	}
	for i := 0; i < n; i++ {
		values := []any{
			int64(i),
			int32(i % 1000),
			i%2 == 0,
			int8(i % 100),
			float64(i) / 4,
			fmt.Sprintf("row-%06d", i),
			SampleEpoch.Add(time.Duration(i) * time.Second),
		}
		if i%7 == 6 {
			values[2], values[4], values[5] = nil, nil, nil
		}
		if err := b.AddValues(values); err != nil {
			panic(err)
		}
	}
	return b
}

// Logger creates a logger that writes to the test output.
func Logger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// Context returns a context canceled when the test completes or after 30
// seconds.
func Context(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// AssertBatchEqual checks that got has want's columns and the same values in
// every row.
func AssertBatchEqual(t *testing.T, want, got *rows.Batch) {
	t.Helper()
	require.Equal(t, want.Keys(), got.Keys())
	require.Equal(t, want.Len(), got.Len())
	for i := 0; i < want.Len(); i++ {
		w, _ := want.RowValues(i)
		g, _ := got.RowValues(i)
		assert.Equal(t, w, g, "row %d", i)
	}
}
