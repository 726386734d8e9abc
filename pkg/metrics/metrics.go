// Package metrics exposes Prometheus metrics for rowpack's codec and file
// operations.
//
// # Overview
//
// All metrics are registered on the default registry through promauto when the
// package is loaded. The codec records into them directly; callers only need
// to serve Handler():
//
//	http.Handle("/metrics", metrics.Handler())
//
// # Metric Types
//
// Counter: batches encoded/decoded, codec errors, rows processed
// Histogram: encoded payload size in bytes
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transport label values.
const (
	TransportBytes  = "bytes"
	TransportStream = "stream"
)

// Operation label values.
const (
	OpEncode = "encode"
	OpDecode = "decode"
	OpSave   = "save"
	OpLoad   = "load"
)

var (
	// BatchesEncoded counts batches successfully encoded per transport.
	BatchesEncoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowpack_batches_encoded_total",
			Help: "Total number of row batches encoded",
		},
		[]string{"transport"},
	)

	// BatchesDecoded counts batches successfully decoded per transport.
	BatchesDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowpack_batches_decoded_total",
			Help: "Total number of row batches decoded",
		},
		[]string{"transport"},
	)

	// CodecErrors counts failed codec calls by operation and error type.
	CodecErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowpack_codec_errors_total",
			Help: "Total number of codec failures",
		},
		[]string{"op", "type"},
	)

	// EncodedBytes tracks the size of encoded payloads.
	EncodedBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rowpack_encoded_bytes",
			Help:    "Size of encoded row batches in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10), // 64B .. 16MB
		},
	)

	// RowsProcessed counts rows passing through an operation.
	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowpack_rows_total",
			Help: "Total number of rows processed",
		},
		[]string{"op"},
	)

	// OperationLatency tracks file and storage operation latency in seconds.
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rowpack_operation_duration_seconds",
			Help:    "Latency of rowfile operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation.
type Timer struct {
	op    string
	start time.Time
}

// NewTimer starts a timer for op.
func NewTimer(op string) *Timer {
	return &Timer{op: op, start: time.Now()}
}

// Stop records the elapsed time in OperationLatency and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	OperationLatency.WithLabelValues(t.op).Observe(d.Seconds())
	return d
}
