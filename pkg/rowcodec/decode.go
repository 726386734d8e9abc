package rowcodec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/rowpack/internal/pool"
	"github.com/ajitpratap0/rowpack/pkg/metrics"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
	"github.com/ajitpratap0/rowpack/pkg/rows"
	"github.com/ajitpratap0/rowpack/pkg/wire"
)

type reader interface {
	io.Reader
	io.ByteReader
}

// source reads the wire format. Every read maps a premature end of input to
// unexpected_eof.
type source struct {
	r       reader
	scratch [8]byte
}

func truncated(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return rowerrors.Wrap(io.ErrUnexpectedEOF, rowerrors.ErrorTypeUnexpectedEOF, "reading "+what)
	}
	return rowerrors.Wrap(err, rowerrors.ErrorTypeFile, "reading "+what)
}

func (s *source) readByte(what string) (byte, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, truncated(err, what)
	}
	return b, nil
}

func (s *source) readInt32(what string) (int32, error) {
	if _, err := io.ReadFull(s.r, s.scratch[:4]); err != nil {
		return 0, truncated(err, what)
	}
	return int32(binary.LittleEndian.Uint32(s.scratch[:4])), nil
}

func (s *source) readInt64(what string) (int64, error) {
	if _, err := io.ReadFull(s.r, s.scratch[:8]); err != nil {
		return 0, truncated(err, what)
	}
	return int64(binary.LittleEndian.Uint64(s.scratch[:8])), nil
}

// readString reads a length-prefixed string. A length of math.MinInt32 is the
// null sentinel and yields ok == false.
func (s *source) readString(what string) (str string, ok bool, err error) {
	n, err := s.readInt32(what)
	if err != nil {
		return "", false, err
	}
	if n == math.MinInt32 {
		return "", false, nil
	}
	if n < 0 {
		return "", false, rowerrors.Newf(rowerrors.ErrorTypeFormat, "negative string length %d", n).
			WithDetail("field", what)
	}
	// in-memory input: reject lengths past the end before copying
	if lr, isLen := s.r.(interface{ Len() int }); isLen && int(n) > lr.Len() {
		return "", false, truncated(io.ErrUnexpectedEOF, what)
	}

	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)
	if _, err := io.CopyN(buf, s.r, int64(n)); err != nil {
		return "", false, truncated(err, what)
	}
	return buf.String(), true, nil
}

func (s *source) readPresence(what string) (bool, error) {
	b, err := s.readByte(what)
	if err != nil {
		return false, err
	}
	switch b {
	case presenceNull:
		return false, nil
	case presencePresent:
		return true, nil
	default:
		return false, rowerrors.Newf(rowerrors.ErrorTypeFormat, "invalid presence byte %d", b).
			WithDetail("field", what)
	}
}

func (s *source) readValue(t wire.Type, what string) (any, error) {
	switch t {
	case wire.TypeByte:
		b, err := s.readByte(what)
		return int8(b), err
	case wire.TypeInt32:
		return s.readInt32(what)
	case wire.TypeInt64:
		return s.readInt64(what)
	case wire.TypeFloat64:
		bits, err := s.readInt64(what)
		return math.Float64frombits(uint64(bits)), err
	case wire.TypeBool:
		b, err := s.readByte(what)
		return b != 0, err
	case wire.TypeString:
		str, ok, err := s.readString(what)
		if err != nil || !ok {
			return nil, err
		}
		return str, nil
	case wire.TypeDate:
		ms, err := s.readInt64(what)
		if err != nil || ms == math.MinInt64 {
			return nil, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	return nil, rowerrors.Newf(rowerrors.ErrorTypeFormat, "unknown type tag %d", uint8(t))
}

func (s *source) readMagic() error {
	if _, err := io.ReadFull(s.r, s.scratch[:4]); err != nil {
		return truncated(err, "magic")
	}
	if bytes.Equal(s.scratch[:4], magic[:]) {
		return nil
	}
	// older writers length-prefixed the magic like any other string
	if binary.LittleEndian.Uint32(s.scratch[:4]) == uint32(len(magic)) {
		if _, err := io.ReadFull(s.r, s.scratch[:4]); err != nil {
			return truncated(err, "magic")
		}
		if bytes.Equal(s.scratch[:4], magic[:]) {
			return nil
		}
	}
	return rowerrors.New(rowerrors.ErrorTypeFormat, "expected ROWS magic")
}

// readBatch decodes one batch. Nothing is returned on failure.
func (s *source) readBatch() (*rows.Batch, error) {
	if err := s.readMagic(); err != nil {
		return nil, err
	}
	count, err := s.readInt32("row count")
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, rowerrors.Newf(rowerrors.ErrorTypeFormat, "negative row count %d", count)
	}
	if count == 0 {
		return rows.NewBatch(), nil
	}

	format, err := s.readByte("format")
	if err != nil {
		return nil, err
	}
	switch format {
	case formatColumnar:
	case formatLegacy:
		return nil, rowerrors.New(rowerrors.ErrorTypeFormat, "legacy row-oriented payload is not supported")
	default:
		return nil, rowerrors.Newf(rowerrors.ErrorTypeFormat, "unknown format discriminant %q", format)
	}

	n, err := s.readInt32("column count")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, rowerrors.Newf(rowerrors.ErrorTypeFormat, "negative column count %d", n)
	}

	keys := make([]string, 0, min(int(n), 1024))
	for i := int32(0); i < n; i++ {
		present, err := s.readPresence("column name")
		if err != nil {
			return nil, err
		}
		name, ok := "", false
		if present {
			name, ok, err = s.readString("column name")
			if err != nil {
				return nil, err
			}
		}
		if !ok {
			return nil, rowerrors.Newf(rowerrors.ErrorTypeFormat, "column %d has no name", i)
		}
		keys = append(keys, name)
	}

	types := make([]wire.Type, n)
	for i := range types {
		b, err := s.readByte("column types")
		if err != nil {
			return nil, err
		}
		t := wire.Type(b)
		switch {
		case b == legacyNullColumn:
			t = wire.TypeString
		case !t.Valid():
			return nil, rowerrors.Newf(rowerrors.ErrorTypeFormat, "unknown type tag %d", b).
				WithDetail("column", keys[i])
		}
		types[i] = t
	}

	batch, err := rows.NewBatchWithKeys(keys...)
	if err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeFormat, "invalid column names")
	}

	for r := int32(0); r < count; r++ {
		arity, err := s.readInt32("row length")
		if err != nil {
			return nil, err
		}
		if arity != n {
			return nil, rowerrors.Newf(rowerrors.ErrorTypeFormat, "row %d has %d values, expected %d", r, arity, n)
		}
		values := make([]any, n)
		for c, t := range types {
			present, err := s.readPresence("row value")
			if err != nil {
				return nil, err
			}
			if !present {
				continue
			}
			if values[c], err = s.readValue(t, "row value"); err != nil {
				return nil, err
			}
		}
		if err := batch.AddValues(values); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// Unmarshal decodes a batch from data. Bytes after the batch are ignored; use
// UnmarshalAt to learn where it ended.
func Unmarshal(data []byte) (*rows.Batch, error) {
	b, _, err := UnmarshalAt(data, 0)
	return b, err
}

// UnmarshalAt decodes a batch starting at off and returns the offset just past
// it.
func UnmarshalAt(data []byte, off int) (*rows.Batch, int, error) {
	if off < 0 || off > len(data) {
		err := rowerrors.Newf(rowerrors.ErrorTypeOutOfRange, "offset %d outside input of %d bytes", off, len(data))
		recordError(metrics.OpDecode, err)
		return nil, off, err
	}
	br := bytes.NewReader(data[off:])
	s := &source{r: br}
	b, err := s.readBatch()
	if err != nil {
		recordError(metrics.OpDecode, err)
		return nil, off, err
	}
	recordDecode(metrics.TransportBytes, b)
	return b, len(data) - br.Len(), nil
}

// UnmarshalRows decodes a batch and returns its rows, which share the
// decoded column names.
func UnmarshalRows(data []byte) ([]*rows.Row, error) {
	b, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return b.Rows(), nil
}

type scanner interface {
	io.Reader
	io.ByteScanner
}

// Decoder reads batches from a stream. If the reader does not implement
// io.ByteScanner it is buffered, and the decoder may read past the last batch
// it returns.
type Decoder struct {
	r      scanner
	src    source
	logger *zap.Logger
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	o := newOptions(opts)
	sr, ok := r.(scanner)
	if !ok {
		sr = bufio.NewReader(r)
	}
	return &Decoder{r: sr, src: source{r: sr}, logger: o.logger}
}

// Decode reads the next batch. At a clean end of stream, before any byte of a
// new batch, it returns io.EOF.
func (d *Decoder) Decode() (*rows.Batch, error) {
	if _, err := d.r.ReadByte(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, d.fail(truncated(err, "magic"))
	}
	if err := d.r.UnreadByte(); err != nil {
		return nil, d.fail(rowerrors.Wrap(err, rowerrors.ErrorTypeInternal, "unreading first byte"))
	}

	b, err := d.src.readBatch()
	if err != nil {
		return nil, d.fail(err)
	}
	recordDecode(metrics.TransportStream, b)
	d.logger.Debug("decoded batch",
		zap.Int("rows", b.Len()),
		zap.Int("columns", b.ColumnCount()))
	return b, nil
}

// DecodeRows reads the next batch and returns its rows.
func (d *Decoder) DecodeRows() ([]*rows.Row, error) {
	b, err := d.Decode()
	if err != nil {
		return nil, err
	}
	return b.Rows(), nil
}

func (d *Decoder) fail(err error) error {
	recordError(metrics.OpDecode, err)
	d.logger.Debug("decode failed",
		zap.String("error_type", string(rowerrors.TypeOf(err))),
		zap.Error(err))
	return err
}

func recordDecode(transport string, b *rows.Batch) {
	metrics.BatchesDecoded.WithLabelValues(transport).Inc()
	metrics.RowsProcessed.WithLabelValues(metrics.OpDecode).Add(float64(b.Len()))
}
