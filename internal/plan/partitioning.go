// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package plan

import (
	"github.com/cespare/xxhash/v2"
)

// Partitioning is an output-partitioning scheme chosen for a rebalanced
// write. It maps each row to one of a fixed number of buckets.
type Partitioning interface {
	// NumBuckets returns the number of output buckets. It always equals the
	// parallelism requested from ChooseRebalancePartitioning.
	NumBuckets() int
	// Bucket routes a row to a bucket. partitionValues holds the row's
	// partition-column values; ordinal is the row's position within the
	// batch. Implementations use one or the other.
	Bucket(partitionValues map[string]string, ordinal int) int
}

// HashPartitioning routes rows by hashing their partition-column values, so
// every row of one table partition lands in the same bucket and the
// resulting files can be bin-packed together.
type HashPartitioning struct {
	Columns []string
	buckets int
}

// NumBuckets implements Partitioning.
func (h *HashPartitioning) NumBuckets() int { return h.buckets }

// Bucket implements Partitioning. The hash folds in the column names in
// schema order, so the routing is a deterministic function of the
// partition-key combination alone.
func (h *HashPartitioning) Bucket(partitionValues map[string]string, _ int) int {
	d := xxhash.New()
	for _, col := range h.Columns {
		_, _ = d.WriteString(col)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(partitionValues[col])
		_, _ = d.WriteString("\x00")
	}
	return int(d.Sum64() % uint64(h.buckets))
}

// RoundRobinPartitioning spreads rows evenly across buckets with no column
// affinity.
type RoundRobinPartitioning struct {
	buckets int
}

// NumBuckets implements Partitioning.
func (r *RoundRobinPartitioning) NumBuckets() int { return r.buckets }

// Bucket implements Partitioning.
func (r *RoundRobinPartitioning) Bucket(_ map[string]string, ordinal int) int {
	return ordinal % r.buckets
}

// ChooseRebalancePartitioning picks the output-partitioning scheme for a
// rebalanced write. Partitioned tables hash by their partition columns;
// unpartitioned tables fall back to round robin for pure load spread. The
// choice is a function of the schema shape and the requested parallelism
// only, never of data values.
func ChooseRebalancePartitioning(partitionSchema []string, numBuckets int) Partitioning {
	if numBuckets < 1 {
		numBuckets = 1
	}
	if len(partitionSchema) > 0 {
		return &HashPartitioning{Columns: partitionSchema, buckets: numBuckets}
	}
	return &RoundRobinPartitioning{buckets: numBuckets}
}
