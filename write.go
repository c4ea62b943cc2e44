// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package strata

import (
	"context"
	"fmt"
	"sort"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/stratadb/strata/internal/manifest"
	"github.com/stratadb/strata/internal/plan"
)

// Row is one record headed for the table. PartitionValues must cover the
// table's partition columns; Data is opaque to the write path beyond its
// length.
type Row struct {
	Data            []byte
	PartitionValues map[string]string
}

// WriteBatch collects the rows and pre-materialized files of one write
// transaction. A batch is transient: it is consumed by Table.Write and never
// persisted itself.
type WriteBatch struct {
	chunks [][]Row
	files  []preMaterialized
	plan   plan.Node
}

type preMaterialized struct {
	rows            [][]byte
	partitionValues map[string]string
}

// NewWriteBatch returns an empty batch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

// AddChunk appends one upstream unit of rows. Without rebalancing, each
// chunk materializes its own output file (one per partition value it
// touches), mirroring file-per-task behavior of the producing execution.
func (b *WriteBatch) AddChunk(rows ...Row) {
	b.chunks = append(b.chunks, rows)
}

// AddFile appends a pre-materialized file: its rows always form exactly one
// output file, bypassing rebalancing.
func (b *WriteBatch) AddFile(rows [][]byte, partitionValues map[string]string) {
	b.files = append(b.files, preMaterialized{rows: rows, partitionValues: partitionValues})
}

// SetPlan attaches the incoming write plan the batch was produced by, when
// the caller has one. A topmost user repartitioning in it is elided before
// the write path layers its own partitioning decision on top.
func (b *WriteBatch) SetPlan(n plan.Node) {
	b.plan = n
}

// EstimatedSize returns the batch's estimated row bytes.
func (b *WriteBatch) EstimatedSize() uint64 {
	var total uint64
	for _, chunk := range b.chunks {
		for _, row := range chunk {
			total += uint64(len(row.Data))
		}
	}
	for _, f := range b.files {
		for _, row := range f.rows {
			total += uint64(len(row))
		}
	}
	return total
}

// Empty reports whether the batch holds no rows and no files.
func (b *WriteBatch) Empty() bool {
	return len(b.chunks) == 0 && len(b.files) == 0
}

// outputGroup is one output file about to be materialized.
type outputGroup struct {
	key             string
	rows            [][]byte
	partitionValues map[string]string
}

// Write commits the batch as one new table version. With optimized write
// enabled the batch is first rebalanced: the incoming plan is normalized,
// an output partitioning is chosen from the table's partition schema, and
// rows are routed into buckets sized from the target bin size, fixing the
// output file count before anything is written. The committed version is
// returned.
//
// After the write commits, auto-compaction evaluates the new version as a
// continuation of the same call (or on the background worker when
// configured); a compaction failure is returned alongside the already
// committed write version.
func (t *Table) Write(
	ctx context.Context, b *WriteBatch, sess *Session,
) (manifest.VersionNum, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}
	start := crtime.NowMono()
	cur := t.Snapshot()
	cfg, err := resolveConfig(t.opts, cur, sess)
	if err != nil {
		return 0, err
	}

	var groups []outputGroup
	buckets := 0
	if cfg.OptimizeWriteEnabled {
		b.plan = plan.StripRedundantRepartition(b.plan)
		buckets = int((b.EstimatedSize() + cfg.TargetBinSize - 1) / cfg.TargetBinSize)
		if buckets < 1 {
			buckets = 1
		}
		scheme := plan.ChooseRebalancePartitioning(cur.PartitionSchema, buckets)
		groups = rebalance(b, scheme, cur.PartitionSchema)
	} else {
		groups = passthrough(b, cur.PartitionSchema)
	}
	for _, f := range b.files {
		groups = append(groups, outputGroup{rows: f.rows, partitionValues: f.partitionValues})
	}

	added := make([]*manifest.FileEntry, 0, len(groups))
	var bytes uint64
	for _, g := range groups {
		entry, err := t.writeDataFile(g.rows, g.partitionValues)
		if err != nil {
			t.removeDataFiles(added)
			return 0, err
		}
		added = append(added, entry)
		bytes += entry.Size
	}

	next, err := t.commitAt(cur.Num, &manifest.VersionEdit{AddedFiles: added})
	if err != nil {
		// The commit raced with a concurrent writer (or failed outright);
		// nothing of this write is visible. Surface the conflict to the
		// caller, who may retry the batch against the new version.
		t.removeDataFiles(added)
		t.opts.EventListener.WriteEnd(WriteInfo{Err: err, Duration: start.Elapsed()})
		return 0, err
	}
	t.metrics.FilesWritten.Add(float64(len(added)))
	t.opts.EventListener.WriteEnd(WriteInfo{
		Version:   next.Num,
		Files:     len(added),
		Bytes:     bytes,
		Optimized: cfg.OptimizeWriteEnabled,
		Buckets:   buckets,
		Duration:  start.Elapsed(),
	})

	written := make(map[string]struct{}, len(added))
	partitions := make(map[string]struct{})
	for _, e := range added {
		written[e.Path] = struct{}{}
		partitions[e.PartitionKey(next.PartitionSchema)] = struct{}{}
	}
	if cfg.AutoCompactEnabled {
		if t.compactJobs != nil {
			t.compactJobs <- func(ctx context.Context) error {
				_, err := t.autoCompact(ctx, cfg, t.Snapshot(), written, partitions)
				return err
			}
		} else if _, err := t.autoCompact(ctx, cfg, next, written, partitions); err != nil {
			return next.Num, err
		}
	}
	return next.Num, nil
}

// rebalance routes every row of the batch through the chosen partitioning
// scheme, producing one output group per non-empty (partition key, bucket)
// pair. Output order is deterministic for identical inputs.
func rebalance(b *WriteBatch, scheme plan.Partitioning, schema []string) []outputGroup {
	byKey := make(map[string]*outputGroup)
	ordinal := 0
	for _, chunk := range b.chunks {
		for _, row := range chunk {
			bucket := scheme.Bucket(row.PartitionValues, ordinal)
			ordinal++
			pk := partitionKey(row.PartitionValues, schema)
			gk := fmt.Sprintf("%s#%09d", pk, bucket)
			g, ok := byKey[gk]
			if !ok {
				g = &outputGroup{key: gk, partitionValues: schemaValues(row.PartitionValues, schema)}
				byKey[gk] = g
			}
			g.rows = append(g.rows, row.Data)
		}
	}
	return sortGroups(byKey)
}

// passthrough materializes one output group per chunk per partition value
// the chunk touches: the file count is determined solely by the upstream
// execution.
func passthrough(b *WriteBatch, schema []string) []outputGroup {
	var out []outputGroup
	for i, chunk := range b.chunks {
		byKey := make(map[string]*outputGroup)
		for _, row := range chunk {
			pk := partitionKey(row.PartitionValues, schema)
			g, ok := byKey[pk]
			if !ok {
				g = &outputGroup{key: fmt.Sprintf("%09d#%s", i, pk), partitionValues: schemaValues(row.PartitionValues, schema)}
				byKey[pk] = g
			}
			g.rows = append(g.rows, row.Data)
		}
		out = append(out, sortGroups(byKey)...)
	}
	return out
}

func sortGroups(byKey map[string]*outputGroup) []outputGroup {
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]outputGroup, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byKey[k])
	}
	return out
}

func partitionKey(values map[string]string, schema []string) string {
	f := manifest.FileEntry{PartitionValues: values}
	return f.PartitionKey(schema)
}

// schemaValues restricts a row's partition values to the schema columns.
func schemaValues(values map[string]string, schema []string) map[string]string {
	if len(schema) == 0 {
		return nil
	}
	out := make(map[string]string, len(schema))
	for _, col := range schema {
		out[col] = values[col]
	}
	return out
}
