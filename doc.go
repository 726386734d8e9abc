// Package rowpack stores tabular rows in a compact columnar binary format.
//
// A batch is an ordered list of rows sharing one column list. Batches are
// encoded column-typed: each column carries one wire type (byte, int32,
// int64, float64, bool, string or date) and every value is either that type or
// null. Encoded batches can be kept in memory, streamed, or saved as files in a
// local directory or an S3 bucket, optionally compressed.
//
// # Packages
//
//   - pkg/compactmap: small insertion-ordered string-keyed map
//   - pkg/rows: Row and Batch
//   - pkg/wire: wire types and values
//   - pkg/rowcodec: Marshal, Unmarshal, Encoder and Decoder
//   - pkg/sqlrows: database/sql result sets as rows and batches
//   - pkg/rowfile: saving and loading batch files through a storage.Store
//   - pkg/storage: local and S3 object stores
//   - pkg/compression: gzip, snappy, lz4, zstd and s2 streams
//   - pkg/export: Arrow IPC and Avro conversion
//
// # Quick Start
//
//	b, _ := rows.NewBatchWithKeys("id", "name")
//	_ = b.AddValues([]any{int64(1), "alice"})
//
//	data, err := rowcodec.Marshal(b)
//	if err != nil {
//	    return err
//	}
//	back, err := rowcodec.Unmarshal(data)
//
// The rowpack command (cmd/rowpack) lists, inspects, merges and converts batch
// files and can materialize SQL query results.
package rowpack
