// Package rowcodec serializes rows.Batch values to a compact columnar binary
// format and back, over byte slices or streams.
//
// # Format
//
// All integers are little-endian.
//
//	MAGIC         4 bytes "ROWS"
//	ROW_COUNT     int32
//	              (stop here when ROW_COUNT is 0)
//	FORMAT        1 byte, 'A' for columnar
//	COLUMN_NAMES  array of strings
//	COLUMN_TYPES  1 byte per column
//	ROWS          ROW_COUNT arrays, one value per column
//
// An array is an int32 element count followed by the elements. Each element
// starts with a presence byte, 0 for null and 1 for a value, followed for
// values by the payload of the column type:
//
//	byte     0   1 byte
//	int32    2   4 bytes
//	int64    4   8 bytes
//	float64  6   8 bytes, IEEE 754 bits
//	bool     8   1 byte
//	string   20  int32 length, then UTF-8 bytes
//	date     22  int64 milliseconds since the Unix epoch
//
// A column's type is the type of its first non-null value; a column with no
// values at all is written as string. Batches are validated completely before
// anything is written, so an encoding error never produces partial output.
//
// # Compatibility
//
// The decoder also accepts payloads produced by older writers: a magic
// prefixed with its int32 length, and 0xFF as the type of an all-null column.
// Older writers could also emit a row-oriented form (FORMAT 'H') for rows with
// differing columns. That form is a platform-specific object serialization and
// is rejected with a format error; the encoder never writes it.
//
// # Transports
//
// Marshal, MarshalTo and Unmarshal work on byte slices; Encoder and Decoder
// work on io.Writer and io.Reader. Both produce and accept identical bytes.
package rowcodec
