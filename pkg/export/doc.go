// Package export converts batches to and from Apache Arrow IPC files and Avro
// object container files.
//
// Column types follow the batch encoding: the type of a column is the type of
// its non-null values, and columns holding only nulls are strings. Dates are
// millisecond timestamps in UTC in both formats. Reading accepts files written
// by other tools as long as every column maps onto one wire type.
package export
