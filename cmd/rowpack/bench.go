package main

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/rowpack/pkg/compression"
	"github.com/ajitpratap0/rowpack/pkg/rowcodec"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
	"github.com/ajitpratap0/rowpack/pkg/rows"
	"github.com/ajitpratap0/rowpack/pkg/testutil"
)

type benchResult struct {
	algorithm compression.Algorithm
	bytes     int
	encode    time.Duration
	decode    time.Duration
}

func newBenchCmd(a *app) *cobra.Command {
	var (
		numRows    int
		iterations int
		algorithms string
		cpuProfile string
		memProfile string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure encode and decode throughput on synthetic batches",
		Long: `Bench encodes and decodes a synthetic batch with every requested compression
algorithm and reports size and rows per second.

Example:
  rowpack bench --rows 100000 --algorithms none,zstd,lz4 --cpuprofile cpu.prof`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if numRows <= 0 || iterations <= 0 {
				return rowerrors.New(rowerrors.ErrorTypeConfig, "--rows and --iterations must be positive")
			}
			var algs []compression.Algorithm
			for _, name := range strings.Split(algorithms, ",") {
				alg, err := compression.ParseAlgorithm(strings.TrimSpace(name))
				if err != nil {
					return err
				}
				algs = append(algs, alg)
			}

			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return rowerrors.Wrap(err, rowerrors.ErrorTypeFile, "failed to create CPU profile")
				}
				defer f.Close()
				if err := pprof.StartCPUProfile(f); err != nil {
					return rowerrors.Wrap(err, rowerrors.ErrorTypeInternal, "failed to start CPU profile")
				}
				defer pprof.StopCPUProfile()
			}

			b := testutil.SampleBatch(numRows)
			fmt.Fprintf(a.out, "%d rows x %d columns, %d iterations\n", b.Len(), b.ColumnCount(), iterations)
			fmt.Fprintf(a.out, "%-8s %12s %14s %14s\n", "codec", "bytes", "encode rows/s", "decode rows/s")
			for _, alg := range algs {
				res, err := benchAlgorithm(b, alg, iterations)
				if err != nil {
					return err
				}
				total := float64(numRows * iterations)
				fmt.Fprintf(a.out, "%-8s %12d %14.0f %14.0f\n", res.algorithm, res.bytes,
					total/res.encode.Seconds(), total/res.decode.Seconds())
			}

			if memProfile != "" {
				f, err := os.Create(memProfile)
				if err != nil {
					return rowerrors.Wrap(err, rowerrors.ErrorTypeFile, "failed to create memory profile")
				}
				defer f.Close()
				runtime.GC()
				if err := pprof.WriteHeapProfile(f); err != nil {
					return rowerrors.Wrap(err, rowerrors.ErrorTypeInternal, "failed to write memory profile")
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&numRows, "rows", 10000, "Rows in the synthetic batch")
	cmd.Flags().IntVar(&iterations, "iterations", 5, "Encode and decode passes per algorithm")
	cmd.Flags().StringVar(&algorithms, "algorithms", "none,gzip,snappy,lz4,zstd,s2", "Comma-separated compression algorithms")
	cmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.Flags().StringVar(&memProfile, "memprofile", "", "Write a heap profile to this file")
	return cmd
}

func benchAlgorithm(b *rows.Batch, alg compression.Algorithm, iterations int) (benchResult, error) {
	res := benchResult{algorithm: alg}
	comp, err := compression.NewCompressor(&compression.Config{Algorithm: alg, Level: compression.Default})
	if err != nil {
		return res, err
	}

	var buf bytes.Buffer
	for i := 0; i < iterations; i++ {
		buf.Reset()
		start := time.Now()
		w, err := comp.NewWriter(&buf)
		if err != nil {
			return res, rowerrors.Wrap(err, rowerrors.ErrorTypeInternal, "failed to create compression writer")
		}
		if err := rowcodec.NewEncoder(w).Encode(b); err != nil {
			return res, err
		}
		if err := w.Close(); err != nil {
			return res, rowerrors.Wrap(err, rowerrors.ErrorTypeInternal, "failed to finish compression stream")
		}
		res.encode += time.Since(start)
	}
	res.bytes = buf.Len()

	data := buf.Bytes()
	for i := 0; i < iterations; i++ {
		start := time.Now()
		r, err := comp.NewReader(bytes.NewReader(data))
		if err != nil {
			return res, rowerrors.Wrap(err, rowerrors.ErrorTypeFormat, "invalid compression stream")
		}
		got, err := rowcodec.NewDecoder(r).Decode()
		_ = r.Close()
		if err != nil {
			return res, err
		}
		if got.Len() != b.Len() {
			return res, rowerrors.Newf(rowerrors.ErrorTypeInternal, "decoded %d rows, want %d", got.Len(), b.Len())
		}
		res.decode += time.Since(start)
	}
	return res, nil
}
