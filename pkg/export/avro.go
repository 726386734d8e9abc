package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/rowpack/pkg/rowcodec"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
	"github.com/ajitpratap0/rowpack/pkg/rows"
	"github.com/ajitpratap0/rowpack/pkg/wire"
)

// Avro field attributes carrying the original column name and wire type.
// Readers that do not know them ignore them.
const (
	avroColumnAttr = "rowpack_column"
	avroTypeAttr   = "rowpack_type"
)

type avroOptions struct {
	recordName  string
	compression string
}

// AvroOption configures WriteAvro.
type AvroOption func(*avroOptions)

// WithRecordName sets the Avro record name. The default is "Row".
func WithRecordName(name string) AvroOption {
	return func(o *avroOptions) { o.recordName = name }
}

// WithAvroCompression sets the OCF block codec: "null", "deflate" or "snappy".
func WithAvroCompression(name string) AvroOption {
	return func(o *avroOptions) { o.compression = name }
}

type avroFieldSpec struct {
	Name    string `json:"name"`
	Type    []any  `json:"type"`
	Default any    `json:"default"`
	Column  string `json:"rowpack_column"`
	Wire    string `json:"rowpack_type"`
}

type avroRecordSpec struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Namespace string          `json:"namespace"`
	Fields    []avroFieldSpec `json:"fields"`
}

// avroBranch returns the Avro type of t and the union branch name goavro uses
// for it.
func avroBranch(t wire.Type) (any, string) {
	switch t {
	case wire.TypeByte, wire.TypeInt32:
		return "int", "int"
	case wire.TypeInt64:
		return "long", "long"
	case wire.TypeFloat64:
		return "double", "double"
	case wire.TypeBool:
		return "boolean", "boolean"
	case wire.TypeDate:
		return map[string]string{"type": "long", "logicalType": "timestamp-millis"}, "long.timestamp-millis"
	default:
		return "string", "string"
	}
}

// AvroSchema returns the Avro schema of b's export. Every field is a union of
// null and the column's type. Column names that are not valid Avro names are
// rewritten, and the original is kept in the rowpack_column attribute.
func AvroSchema(b *rows.Batch, recordName string) (string, []wire.Type, error) {
	types, err := rowcodec.ColumnTypes(b)
	if err != nil {
		return "", nil, err
	}
	if recordName == "" {
		recordName = "Row"
	}
	spec := avroRecordSpec{
		Type:      "record",
		Name:      avroName(recordName, nil),
		Namespace: "rowpack",
		Fields:    make([]avroFieldSpec, 0, len(types)),
	}
	used := make(map[string]bool, len(types))
	for i, k := range b.Keys() {
		typ, _ := avroBranch(types[i])
		spec.Fields = append(spec.Fields, avroFieldSpec{
			Name:   avroName(k, used),
			Type:   []any{"null", typ},
			Column: k,
			Wire:   types[i].String(),
		})
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return "", nil, rowerrors.Wrap(err, rowerrors.ErrorTypeInternal, "failed to marshal Avro schema")
	}
	return string(data), types, nil
}

// avroName maps s to a valid Avro name, unique within used when used is
// non-nil.
func avroName(s string, used map[string]bool) string {
	var sb strings.Builder
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	name := sb.String()
	if name == "" {
		name = "_"
	}
	if used == nil {
		return name
	}
	unique := name
	for n := 2; used[unique]; n++ {
		unique = fmt.Sprintf("%s_%d", name, n)
	}
	used[unique] = true
	return unique
}

// WriteAvro writes b to w as an Avro object container file.
func WriteAvro(w io.Writer, b *rows.Batch, opts ...AvroOption) error {
	o := avroOptions{recordName: "Row", compression: goavro.CompressionNullLabel}
	for _, opt := range opts {
		opt(&o)
	}

	schema, types, err := AvroSchema(b, o.recordName)
	if err != nil {
		return err
	}
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeInternal, "failed to create Avro codec")
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: o.compression,
	})
	if err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeConfig, "failed to create Avro writer").
			WithDetail("compression", o.compression)
	}

	var spec avroRecordSpec
	if err := json.Unmarshal([]byte(schema), &spec); err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeInternal, "failed to parse Avro schema")
	}

	records := make([]any, 0, b.Len())
	for r := 0; r < b.Len(); r++ {
		values, _ := b.RowValues(r)
		rec := make(map[string]any, len(values))
		for c, v := range values {
			val, err := wire.FromAnyAs(v, types[c])
			if err != nil {
				return err
			}
			rec[spec.Fields[c].Name] = avroNative(val)
		}
		records = append(records, rec)
	}
	if err := ocf.Append(records); err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeFile, "failed to write Avro records")
	}
	return nil
}

func avroNative(v wire.Value) any {
	if v.IsNull() {
		return nil
	}
	_, branch := avroBranch(v.Type())
	switch v.Type() {
	case wire.TypeByte, wire.TypeInt32:
		return goavro.Union(branch, int32(v.AsInt64()))
	case wire.TypeInt64:
		return goavro.Union(branch, v.AsInt64())
	case wire.TypeFloat64:
		return goavro.Union(branch, v.AsFloat64())
	case wire.TypeBool:
		return goavro.Union(branch, v.AsBool())
	case wire.TypeDate:
		return goavro.Union(branch, time.UnixMilli(v.AsInt64()).UTC())
	default:
		return goavro.Union(branch, v.AsString())
	}
}

// avroReadField describes one field of a file being read.
type avroReadField struct {
	name   string
	column string
	typ    wire.Type
}

// readFields resolves the wire type of every field of schema. Fields written
// by WriteAvro carry it as an attribute; other files are mapped from their
// Avro types.
func readFields(schema string) ([]avroReadField, error) {
	var spec struct {
		Type   string `json:"type"`
		Fields []struct {
			Name   string          `json:"name"`
			Type   json.RawMessage `json:"type"`
			Column string          `json:"rowpack_column"`
			Wire   string          `json:"rowpack_type"`
		} `json:"fields"`
	}
	if err := json.Unmarshal([]byte(schema), &spec); err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeFormat, "invalid Avro schema")
	}
	if spec.Type != "record" {
		return nil, rowerrors.Newf(rowerrors.ErrorTypeUnsupportedFormat, "Avro schema of type %q is not a record", spec.Type)
	}

	fields := make([]avroReadField, len(spec.Fields))
	for i, f := range spec.Fields {
		field := avroReadField{name: f.Name, column: f.Column}
		if field.column == "" {
			field.column = f.Name
		}
		typ, ok := wireTypeByName(f.Wire)
		if !ok {
			var err *rowerrors.Error
			if typ, err = wireTypeOfAvro(f.Type); err != nil {
				return nil, err.WithDetail("field", f.Name)
			}
		}
		field.typ = typ
		fields[i] = field
	}
	return fields, nil
}

func wireTypeByName(name string) (wire.Type, bool) {
	for _, t := range wire.Types {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}

// wireTypeOfAvro maps a field's Avro type, possibly a union with null, to a
// wire type.
func wireTypeOfAvro(raw json.RawMessage) (wire.Type, *rowerrors.Error) {
	var branches []json.RawMessage
	if err := json.Unmarshal(raw, &branches); err != nil {
		branches = []json.RawMessage{raw}
	}

	var found []wire.Type
	for _, br := range branches {
		var name string
		var logical string
		if err := json.Unmarshal(br, &name); err != nil {
			var obj struct {
				Type        string `json:"type"`
				LogicalType string `json:"logicalType"`
			}
			if err := json.Unmarshal(br, &obj); err != nil {
				return 0, rowerrors.Wrap(err, rowerrors.ErrorTypeFormat, "invalid Avro field type")
			}
			name, logical = obj.Type, obj.LogicalType
		}
		switch {
		case name == "null":
			continue
		case name == "int":
			found = append(found, wire.TypeInt32)
		case name == "long" && (logical == "timestamp-millis" || logical == "timestamp-micros"):
			found = append(found, wire.TypeDate)
		case name == "long":
			found = append(found, wire.TypeInt64)
		case name == "float", name == "double":
			found = append(found, wire.TypeFloat64)
		case name == "boolean":
			found = append(found, wire.TypeBool)
		case name == "string", name == "bytes":
			found = append(found, wire.TypeString)
		default:
			return 0, rowerrors.Newf(rowerrors.ErrorTypeUnsupportedValue, "unsupported Avro type %q", name)
		}
	}
	if len(found) != 1 {
		return 0, rowerrors.New(rowerrors.ErrorTypeUnsupportedValue,
			"Avro field must have exactly one non-null type")
	}
	return found[0], nil
}

// ReadAvro reads an Avro object container file into a batch.
func ReadAvro(r io.Reader) (*rows.Batch, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeFormat, "invalid Avro file")
	}
	fields, err := readFields(ocf.Codec().Schema())
	if err != nil {
		return nil, err
	}

	b := rows.NewBatch()
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.column
	}
	if len(keys) > 0 {
		if err := b.SetKeys(keys); err != nil {
			return nil, err
		}
	}

	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeFormat, "failed to read Avro record")
		}
		rec, ok := datum.(map[string]any)
		if !ok {
			return nil, rowerrors.Newf(rowerrors.ErrorTypeFormat, "Avro datum is %T, not a record", datum)
		}
		values := make([]any, len(fields))
		for i, f := range fields {
			v, err := fromAvroNative(rec[f.name], f.typ)
			if err != nil {
				return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeFormat, "invalid Avro value").
					WithDetail("field", f.name)
			}
			values[i] = v
		}
		if err := b.AddValues(values); err != nil {
			return nil, err
		}
	}
	if err := ocf.Err(); err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeFormat, "failed to read Avro file")
	}
	b.TrimToSize()
	return b, nil
}

var errAvroValue = errors.New("value does not match field type")

func fromAvroNative(v any, t wire.Type) (any, error) {
	if m, ok := v.(map[string]any); ok {
		if len(m) != 1 {
			return nil, errAvroValue
		}
		for _, inner := range m {
			v = inner
		}
	}
	if v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case int32:
		switch t {
		case wire.TypeByte:
			return int8(x), nil
		case wire.TypeInt32:
			return x, nil
		}
	case int64:
		if t == wire.TypeInt64 {
			return x, nil
		}
	case float32:
		if t == wire.TypeFloat64 {
			return float64(x), nil
		}
	case float64:
		if t == wire.TypeFloat64 {
			return x, nil
		}
	case bool:
		if t == wire.TypeBool {
			return x, nil
		}
	case string:
		if t == wire.TypeString {
			return x, nil
		}
	case []byte:
		if t == wire.TypeString {
			return string(x), nil
		}
	case time.Time:
		if t == wire.TypeDate {
			return time.UnixMilli(x.UnixMilli()).UTC(), nil
		}
	}
	return nil, fmt.Errorf("%w: %T in %s field", errAvroValue, v, t)
}
