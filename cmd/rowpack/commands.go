package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path"
	"runtime"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/goccy/go-json"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/rowpack/pkg/compression"
	"github.com/ajitpratap0/rowpack/pkg/export"
	"github.com/ajitpratap0/rowpack/pkg/rowcodec"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
	"github.com/ajitpratap0/rowpack/pkg/rowfile"
	"github.com/ajitpratap0/rowpack/pkg/rows"
	"github.com/ajitpratap0/rowpack/pkg/sqlrows"
)

// Object formats understood by convert and query.
const (
	formatRows  = "rows"
	formatArrow = "arrow"
	formatAvro  = "avro"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "rowpack v%s\n", version)
			fmt.Fprintf(a.out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(a.out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List batch files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			names, err := rowfile.List(cmd.Context(), a.store, prefix, a.cfg.Files.Extension)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(a.out, n)
			}
			return nil
		},
	}
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect NAME...",
		Short: "Show the columns and row count of batch files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				b, err := a.readBatch(cmd.Context(), name)
				if err != nil {
					return err
				}
				types, err := rowcodec.ColumnTypes(b)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s: %d rows, %d columns\n", name, b.Len(), b.ColumnCount())
				for i, k := range b.Keys() {
					fmt.Fprintf(a.out, "  %-24s %s\n", k, types[i])
				}
			}
			return nil
		},
	}
}

func newDumpCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dump NAME",
		Short: "Print the rows of a batch file as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.readBatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.writeJSONLines(b, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Print at most this many rows (0 for all)")
	return cmd
}

func newMergeCmd(a *app) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "merge OUT [NAME...]",
		Short: "Concatenate batch files sharing one column list",
		Long: `Merge loads the named batch files, or every batch file under --prefix, and
writes their rows in order to OUT.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out, names := args[0], args[1:]
			if len(names) == 0 {
				var err error
				if names, err = rowfile.List(ctx, a.store, prefix, a.cfg.Files.Extension); err != nil {
					return err
				}
				names = without(names, out)
			}
			if len(names) == 0 {
				return rowerrors.New(rowerrors.ErrorTypeConfig, "no batch files to merge")
			}

			b, err := rowfile.LoadAll(ctx, a.store, names, a.fileOptions()...)
			if err != nil {
				return err
			}
			if err := rowfile.Save(ctx, a.store, out, b, a.fileOptions()...); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "merged %d files, %d rows into %s\n", len(names), b.Len(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Merge every batch file under this prefix")
	return cmd
}

func newConvertCmd(a *app) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "convert IN OUT",
		Short: "Convert between batch, Arrow IPC and Avro files",
		Long: `Convert reads IN and writes OUT. Files ending in .arrow are Arrow IPC files
and files ending in .avro are Avro object container files; anything else is a
batch file. --to overrides the format derived from OUT.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			format := to
			if format == "" {
				format = formatOf(args[1])
			}
			b, err := a.readBatch(ctx, args[0])
			if err != nil {
				return err
			}
			return a.writeBatch(ctx, args[1], format, b)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Output format: rows, arrow or avro")
	return cmd
}

func newCompressCmd(a *app) *cobra.Command {
	var (
		algorithm string
		level     int
		remove    bool
	)
	cmd := &cobra.Command{
		Use:   "compress NAME",
		Short: "Rewrite a batch file with another compression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			alg, err := compression.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			name := args[0]
			b, err := rowfile.Load(ctx, a.store, name, a.fileOptions()...)
			if err != nil {
				return err
			}
			ext := a.cfg.Files.Extension
			out := rowfile.ObjectName(baseName(name, ext), ext, alg)
			opts := append(a.fileOptions(), rowfile.WithCompression(compression.Config{
				Algorithm: alg,
				Level:     compression.Level(level),
			}))
			if err := rowfile.Save(ctx, a.store, out, b, opts...); err != nil {
				return err
			}
			if remove && out != name {
				if err := a.store.Delete(ctx, name); err != nil {
					return err
				}
			}
			fmt.Fprintln(a.out, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", string(compression.Zstd), "Compression algorithm")
	cmd.Flags().IntVarP(&level, "level", "l", int(compression.Default), "Compression level (1 fastest .. 9 best)")
	cmd.Flags().BoolVar(&remove, "rm", false, "Delete the source file after writing")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		driver  string
		dsn     string
		query   string
		to      string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "query [OUT]",
		Short: "Run a SQL query and store or print its result",
		Long: `Query runs --sql against a PostgreSQL (pgx) or MySQL database. With OUT the
result is written as a batch, Arrow or Avro file; otherwise rows are printed as
JSON lines.

Example:
  rowpack query --driver pgx --dsn postgres://localhost/app --sql "select * from users" users.rows`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if driver == "" {
				driver = a.cfg.Query.Driver
			}
			if dsn == "" {
				dsn = a.cfg.Query.DSN
			}
			driverName, err := sqlDriverName(driver)
			if err != nil {
				return err
			}
			if dsn == "" || query == "" {
				return rowerrors.New(rowerrors.ErrorTypeConfig, "query needs --dsn and --sql")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := sql.Open(driverName, dsn)
			if err != nil {
				return rowerrors.Wrap(err, rowerrors.ErrorTypeQuery, "failed to open database").
					WithDetail("driver", driver)
			}
			defer func() { _ = db.Close() }()

			start := time.Now()
			b, err := sqlrows.QueryBatch(ctx, db, query)
			if err != nil {
				return err
			}
			a.log.Info("query completed",
				zap.String("driver", driver),
				zap.Int("rows", b.Len()),
				zap.Duration("duration", time.Since(start)))

			if len(args) == 0 {
				return a.writeJSONLines(b, 0)
			}
			format := to
			if format == "" {
				format = formatOf(args[0])
			}
			return a.writeBatch(ctx, args[0], format, b)
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "", "Database driver: pgx or mysql")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Data source name")
	cmd.Flags().StringVar(&query, "sql", "", "Query to run")
	cmd.Flags().StringVar(&to, "to", "", "Output format: rows, arrow or avro")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Query timeout")
	return cmd
}

func sqlDriverName(driver string) (string, error) {
	switch driver {
	case "pgx", "postgres":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", rowerrors.Newf(rowerrors.ErrorTypeConfig, "unsupported query driver %q", driver)
	}
}

// formatOf derives an object's format from its name.
func formatOf(name string) string {
	switch path.Ext(name) {
	case ".arrow":
		return formatArrow
	case ".avro":
		return formatAvro
	default:
		return formatRows
	}
}

// baseName strips the batch extension and any compression suffix from name.
func baseName(name, ext string) string {
	if ext == "" {
		ext = rowfile.DefaultExtension
	}
	for _, alg := range compression.Algorithms {
		if suffix := ext + alg.Extension(); strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

func without(names []string, drop string) []string {
	out := names[:0]
	for _, n := range names {
		if n != drop {
			out = append(out, n)
		}
	}
	return out
}

func (a *app) readBatch(ctx context.Context, name string) (*rows.Batch, error) {
	format := formatOf(name)
	if format == formatRows {
		return rowfile.Load(ctx, a.store, name, a.fileOptions()...)
	}

	rc, err := a.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	if format == formatArrow {
		return export.ReadArrow(rc)
	}
	return export.ReadAvro(rc)
}

func (a *app) writeBatch(ctx context.Context, name, format string, b *rows.Batch) error {
	var buf bytes.Buffer
	switch format {
	case formatRows:
		return rowfile.Save(ctx, a.store, name, b, a.fileOptions()...)
	case formatArrow:
		if err := export.WriteArrow(&buf, b); err != nil {
			return err
		}
	case formatAvro:
		if err := export.WriteAvro(&buf, b); err != nil {
			return err
		}
	default:
		return rowerrors.Newf(rowerrors.ErrorTypeConfig, "unsupported output format %q", format)
	}
	if err := a.store.Put(ctx, name, &buf); err != nil {
		return err
	}
	a.log.Info("batch exported",
		zap.String("name", name),
		zap.String("format", format),
		zap.Int("rows", b.Len()))
	return nil
}

// writeJSONLines prints up to limit rows of b, one JSON object per line.
func (a *app) writeJSONLines(b *rows.Batch, limit int) error {
	enc := json.NewEncoder(a.out)
	for i, r := range b.All() {
		if limit > 0 && i >= limit {
			break
		}
		if err := enc.Encode(r); err != nil {
			return rowerrors.Wrap(err, rowerrors.ErrorTypeInternal, "failed to encode row").WithDetail("row", i)
		}
	}
	return nil
}
