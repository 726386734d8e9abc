package rowcodec

import (
	"encoding/binary"
	"io"
	"math"

	"go.uber.org/zap"

	"github.com/ajitpratap0/rowpack/internal/pool"
	"github.com/ajitpratap0/rowpack/pkg/logger"
	"github.com/ajitpratap0/rowpack/pkg/metrics"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
	"github.com/ajitpratap0/rowpack/pkg/rows"
	"github.com/ajitpratap0/rowpack/pkg/wire"
)

// writer is satisfied by both transports: *bufio.Writer for streams and
// *cursor for caller-provided buffers.
type writer interface {
	io.Writer
	io.ByteWriter
	io.StringWriter
}

// cursor writes into a fixed byte slice.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) Write(p []byte) (int, error) {
	if len(p) > len(c.buf)-c.off {
		return 0, rowerrors.New(rowerrors.ErrorTypeShortBuffer, "output buffer too small")
	}
	c.off += copy(c.buf[c.off:], p)
	return len(p), nil
}

func (c *cursor) WriteByte(b byte) error {
	if c.off >= len(c.buf) {
		return rowerrors.New(rowerrors.ErrorTypeShortBuffer, "output buffer too small")
	}
	c.buf[c.off] = b
	c.off++
	return nil
}

func (c *cursor) WriteString(s string) (int, error) {
	if len(s) > len(c.buf)-c.off {
		return 0, rowerrors.New(rowerrors.ErrorTypeShortBuffer, "output buffer too small")
	}
	c.off += copy(c.buf[c.off:], s)
	return len(s), nil
}

// sink emits the wire format. The first write error sticks and later writes
// are skipped.
type sink struct {
	w       writer
	scratch [8]byte
	err     error
}

func (s *sink) putByte(b byte) {
	if s.err == nil {
		s.err = s.w.WriteByte(b)
	}
}

func (s *sink) putBytes(p []byte) {
	if s.err == nil {
		_, s.err = s.w.Write(p)
	}
}

func (s *sink) putInt32(v int32) {
	if s.err == nil {
		binary.LittleEndian.PutUint32(s.scratch[:4], uint32(v))
		_, s.err = s.w.Write(s.scratch[:4])
	}
}

func (s *sink) putInt64(v int64) {
	if s.err == nil {
		binary.LittleEndian.PutUint64(s.scratch[:8], uint64(v))
		_, s.err = s.w.Write(s.scratch[:8])
	}
}

func (s *sink) putString(v string) {
	s.putInt32(int32(len(v)))
	if s.err == nil {
		_, s.err = s.w.WriteString(v)
	}
}

func (s *sink) putValue(v wire.Value) {
	if v.IsNull() {
		s.putByte(presenceNull)
		return
	}
	s.putByte(presencePresent)
	switch v.Type() {
	case wire.TypeByte:
		s.putByte(byte(int8(v.AsInt64())))
	case wire.TypeInt32:
		s.putInt32(int32(v.AsInt64()))
	case wire.TypeInt64, wire.TypeDate:
		s.putInt64(v.AsInt64())
	case wire.TypeFloat64:
		s.putInt64(int64(math.Float64bits(v.AsFloat64())))
	case wire.TypeBool:
		if v.AsBool() {
			s.putByte(1)
		} else {
			s.putByte(0)
		}
	case wire.TypeString:
		s.putString(v.AsString())
	}
}

// writePlan emits a planned batch.
func (s *sink) writePlan(p *plan) error {
	s.putBytes(magic[:])
	s.putInt32(int32(len(p.rows)))
	if len(p.rows) == 0 {
		return s.err
	}

	s.putByte(formatColumnar)
	s.putInt32(int32(len(p.keys)))
	for _, k := range p.keys {
		s.putByte(presencePresent)
		s.putString(k)
	}
	for _, t := range p.types {
		s.putByte(byte(t))
	}

	for _, row := range p.rows {
		s.putInt32(int32(len(row)))
		for c, v := range row {
			// validated while planning
			val, _ := wire.FromAnyAs(v, p.types[c])
			s.putValue(val)
		}
	}
	return s.err
}

// EncodedLen returns the exact number of bytes Marshal produces for b.
func EncodedLen(b *rows.Batch) (int, error) {
	p, err := planBatch(b)
	if err != nil {
		return 0, err
	}
	return p.size, nil
}

// Marshal encodes b into a new byte slice of exactly the encoded size.
// Nothing is returned when a value cannot be encoded.
func Marshal(b *rows.Batch) ([]byte, error) {
	p, err := planBatch(b)
	if err != nil {
		recordError(metrics.OpEncode, err)
		return nil, err
	}
	return marshalPlan(p)
}

// MarshalTo encodes b into buf starting at off and returns the offset just past
// the written bytes. It fails with short_buffer, writing nothing, when buf
// cannot hold EncodedLen(b) bytes from off.
func MarshalTo(buf []byte, off int, b *rows.Batch) (int, error) {
	p, err := planBatch(b)
	if err != nil {
		recordError(metrics.OpEncode, err)
		return off, err
	}
	if off < 0 || off > len(buf) || len(buf)-off < p.size {
		err := rowerrors.New(rowerrors.ErrorTypeShortBuffer, "output buffer too small").
			WithDetail("need", p.size).
			WithDetail("available", max(len(buf)-off, 0))
		recordError(metrics.OpEncode, err)
		return off, err
	}
	c := &cursor{buf: buf, off: off}
	s := &sink{w: c}
	if err := s.writePlan(p); err != nil {
		recordError(metrics.OpEncode, err)
		return off, err
	}
	recordEncode(metrics.TransportBytes, p)
	return c.off, nil
}

func marshalPlan(p *plan) ([]byte, error) {
	buf := make([]byte, p.size)
	s := &sink{w: &cursor{buf: buf}}
	if err := s.writePlan(p); err != nil {
		recordError(metrics.OpEncode, err)
		return nil, err
	}
	recordEncode(metrics.TransportBytes, p)
	return buf, nil
}

// MarshalRows encodes a list of rows. All rows must have the same keys in the
// same order; they are encoded in the columnar form whatever their backing.
func MarshalRows(rs []*rows.Row) ([]byte, error) {
	p, err := planRows(rs)
	if err != nil {
		recordError(metrics.OpEncode, err)
		return nil, err
	}
	return marshalPlan(p)
}

// Encoder writes batches to a stream.
type Encoder struct {
	w      io.Writer
	logger *zap.Logger
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer, opts ...Option) *Encoder {
	o := newOptions(opts)
	return &Encoder{w: w, logger: o.logger}
}

// Encode writes b. Values are validated before the first byte is written, so
// an unsupported value leaves the stream untouched. Write errors from the
// underlying writer may leave a partial batch behind.
func (e *Encoder) Encode(b *rows.Batch) error {
	p, err := planBatch(b)
	if err != nil {
		return e.fail(err)
	}
	return e.encodePlan(p)
}

// EncodeRows writes a list of rows, see MarshalRows.
func (e *Encoder) EncodeRows(rs []*rows.Row) error {
	p, err := planRows(rs)
	if err != nil {
		return e.fail(err)
	}
	return e.encodePlan(p)
}

func (e *Encoder) encodePlan(p *plan) error {
	bw := pool.Writers.Get()
	defer pool.Writers.Put(bw)
	bw.Reset(e.w)

	s := &sink{w: bw}
	if err := s.writePlan(p); err != nil {
		return e.fail(rowerrors.Wrap(err, rowerrors.ErrorTypeFile, "writing batch"))
	}
	if err := bw.Flush(); err != nil {
		return e.fail(rowerrors.Wrap(err, rowerrors.ErrorTypeFile, "flushing batch"))
	}

	recordEncode(metrics.TransportStream, p)
	e.logger.Debug("encoded batch",
		zap.Int("rows", len(p.rows)),
		zap.Int("columns", len(p.keys)),
		zap.Int("bytes", p.size))
	return nil
}

func (e *Encoder) fail(err error) error {
	recordError(metrics.OpEncode, err)
	e.logger.Debug("encode failed",
		zap.String("error_type", string(rowerrors.TypeOf(err))),
		zap.Error(err))
	return err
}

func recordEncode(transport string, p *plan) {
	metrics.BatchesEncoded.WithLabelValues(transport).Inc()
	metrics.EncodedBytes.Observe(float64(p.size))
	metrics.RowsProcessed.WithLabelValues(metrics.OpEncode).Add(float64(len(p.rows)))
}

func recordError(op string, err error) {
	metrics.CodecErrors.WithLabelValues(op, string(rowerrors.TypeOf(err))).Inc()
}

type options struct {
	logger *zap.Logger
}

// Option configures an Encoder or Decoder.
type Option func(*options)

// WithLogger sets the logger used for debug output. The default discards.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logger.OrNop(o.logger)
	return o
}
