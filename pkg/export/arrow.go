package export

import (
	"bytes"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/rowpack/pkg/rowcodec"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
	"github.com/ajitpratap0/rowpack/pkg/rows"
	"github.com/ajitpratap0/rowpack/pkg/wire"
)

// ArrowType returns the Arrow type a wire type is exported as. Dates become
// millisecond timestamps in UTC.
func ArrowType(t wire.Type) arrow.DataType {
	switch t {
	case wire.TypeByte:
		return arrow.PrimitiveTypes.Int8
	case wire.TypeInt32:
		return arrow.PrimitiveTypes.Int32
	case wire.TypeInt64:
		return arrow.PrimitiveTypes.Int64
	case wire.TypeFloat64:
		return arrow.PrimitiveTypes.Float64
	case wire.TypeBool:
		return arrow.FixedWidthTypes.Boolean
	case wire.TypeDate:
		return arrow.FixedWidthTypes.Timestamp_ms
	default:
		return arrow.BinaryTypes.String
	}
}

// ArrowSchema returns the schema of b's Arrow export. Every field is nullable.
func ArrowSchema(b *rows.Batch) (*arrow.Schema, []wire.Type, error) {
	types, err := rowcodec.ColumnTypes(b)
	if err != nil {
		return nil, nil, err
	}
	keys := b.Keys()
	fields := make([]arrow.Field, len(keys))
	for i, k := range keys {
		fields[i] = arrow.Field{Name: k, Type: ArrowType(types[i]), Nullable: true}
	}
	return arrow.NewSchema(fields, nil), types, nil
}

// ToArrowRecord converts b to an Arrow record allocated from mem, or from a Go
// allocator when mem is nil. The caller releases the record.
func ToArrowRecord(b *rows.Batch, mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	schema, types, err := ArrowSchema(b)
	if err != nil {
		return nil, err
	}

	rb := array.NewRecordBuilder(mem, schema)
	defer rb.Release()

	for r := 0; r < b.Len(); r++ {
		values, _ := b.RowValues(r)
		for c, v := range values {
			val, err := wire.FromAnyAs(v, types[c])
			if err != nil {
				return nil, err
			}
			appendArrowValue(rb.Field(c), val)
		}
	}
	return rb.NewRecord(), nil
}

// appendArrowValue appends a value already checked against the builder's type.
func appendArrowValue(builder array.Builder, v wire.Value) {
	if v.IsNull() {
		builder.AppendNull()
		return
	}
	switch bld := builder.(type) {
	case *array.Int8Builder:
		bld.Append(int8(v.AsInt64()))
	case *array.Int32Builder:
		bld.Append(int32(v.AsInt64()))
	case *array.Int64Builder:
		bld.Append(v.AsInt64())
	case *array.Float64Builder:
		bld.Append(v.AsFloat64())
	case *array.BooleanBuilder:
		bld.Append(v.AsBool())
	case *array.TimestampBuilder:
		bld.Append(arrow.Timestamp(v.AsInt64()))
	case *array.StringBuilder:
		bld.Append(v.AsString())
	}
}

// WriteArrow writes b to w as an Arrow IPC file holding one record batch.
func WriteArrow(w io.Writer, b *rows.Batch) error {
	mem := memory.NewGoAllocator()
	rec, err := ToArrowRecord(b, mem)
	if err != nil {
		return err
	}
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeFile, "failed to create Arrow writer")
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return rowerrors.Wrap(err, rowerrors.ErrorTypeFile, "failed to write Arrow record")
	}
	if err := fw.Close(); err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeFile, "failed to close Arrow writer")
	}
	return nil
}

// ReadArrow reads an Arrow IPC file into a batch, concatenating its record
// batches. Besides the exported types it accepts int16, float32, large string,
// binary, date32 and timestamp columns, which are widened to the nearest wire
// type.
func ReadArrow(r io.Reader) (*rows.Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeFile, "failed to read Arrow data")
	}
	fr, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeFormat, "invalid Arrow file")
	}
	defer func() { _ = fr.Close() }()

	schema := fr.Schema()
	b := rows.NewBatch()
	if schema.NumFields() == 0 {
		return b, nil
	}
	keys := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		keys[i] = f.Name
	}
	if err := b.SetKeys(keys); err != nil {
		return nil, err
	}

	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeFormat, "failed to read Arrow record").
				WithDetail("record", i)
		}
		if err := appendRecord(b, rec); err != nil {
			return nil, err
		}
	}
	b.TrimToSize()
	return b, nil
}

func appendRecord(b *rows.Batch, rec arrow.Record) error {
	n := int(rec.NumRows())
	cols := int(rec.NumCols())
	values := make([][]any, n)
	for r := range values {
		values[r] = make([]any, cols)
	}
	for c := 0; c < cols; c++ {
		col := rec.Column(c)
		for r := 0; r < n; r++ {
			if col.IsNull(r) {
				continue
			}
			v, err := arrowValue(col, r)
			if err != nil {
				return err.WithDetail("column", rec.ColumnName(c))
			}
			values[r][c] = v
		}
	}
	for _, row := range values {
		if err := b.AddValues(row); err != nil {
			return err
		}
	}
	return nil
}

func arrowValue(col arrow.Array, i int) (any, *rowerrors.Error) {
	switch a := col.(type) {
	case *array.Int8:
		return a.Value(i), nil
	case *array.Int16:
		return int32(a.Value(i)), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Binary:
		return string(a.Value(i)), nil
	case *array.Date64:
		return time.UnixMilli(int64(a.Value(i))).UTC(), nil
	case *array.Date32:
		return a.Value(i).ToTime().UTC(), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return time.UnixMilli(a.Value(i).ToTime(unit).UnixMilli()).UTC(), nil
	default:
		return nil, rowerrors.Newf(rowerrors.ErrorTypeUnsupportedValue,
			"unsupported Arrow type %s", col.DataType())
	}
}
