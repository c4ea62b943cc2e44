// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/spf13/cobra"
	"github.com/stratadb/strata"
)

var (
	benchDuration time.Duration
	benchChunks   int
	benchRowSize  int
)

const (
	minLatency = 10 * time.Microsecond
	maxLatency = 10 * time.Second
)

var benchCmd = &cobra.Command{
	Use:   "bench <dir>",
	Short: "run a write workload against a fresh table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sess, err := session(cfg)
		if err != nil {
			return err
		}
		t, err := strata.Create(args[0], nil, cfg.Properties, nil)
		if err != nil {
			return err
		}
		defer t.Close()

		h := hdrhistogram.New(minLatency.Nanoseconds(), maxLatency.Nanoseconds(), 1)
		rng := rand.New(rand.NewPCG(0, uint64(time.Now().UnixNano())))
		ctx := context.Background()

		var writes, bytes int
		start := time.Now()
		for time.Since(start) < benchDuration {
			b := strata.NewWriteBatch()
			for i := 0; i < benchChunks; i++ {
				row := make([]byte, benchRowSize)
				for j := range row {
					row[j] = byte(rng.Uint32())
				}
				b.AddChunk(strata.Row{Data: row})
				bytes += benchRowSize
			}
			writeStart := time.Now()
			if _, err := t.Write(ctx, b, sess); err != nil {
				return err
			}
			if err := h.RecordValue(time.Since(writeStart).Nanoseconds()); err != nil {
				return err
			}
			writes++
		}

		elapsed := time.Since(start).Seconds()
		v := t.Snapshot()
		fmt.Printf("%d writes in %.1fs (%.1f ops/sec, %.1f MB/sec)\n",
			writes, elapsed, float64(writes)/elapsed, float64(bytes)/elapsed/(1<<20))
		fmt.Printf("table at version %s: %d files, %d bytes\n",
			v.Num, v.NumFiles(), v.TotalSize())
		fmt.Printf("latency p50=%s p95=%s p99=%s max=%s\n",
			time.Duration(h.ValueAtQuantile(50)),
			time.Duration(h.ValueAtQuantile(95)),
			time.Duration(h.ValueAtQuantile(99)),
			time.Duration(h.Max()))
		return nil
	},
}

func init() {
	benchCmd.Flags().DurationVarP(
		&benchDuration, "duration", "d", 10*time.Second, "the duration to run")
	benchCmd.Flags().IntVar(
		&benchChunks, "chunks", 16, "chunks per write batch")
	benchCmd.Flags().IntVar(
		&benchRowSize, "row-size", 4096, "row size in bytes")
}
