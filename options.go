// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package strata

import (
	"github.com/cockroachdb/errors"
	"github.com/stratadb/strata/internal/base"
)

// CompactScope selects which files an auto-compaction round may consider.
type CompactScope int8

const (
	// ScopePartition considers every file in any partition touched by the
	// triggering write. For an unpartitioned table this is the whole table.
	ScopePartition CompactScope = iota
	// ScopeCommit considers only the files the triggering write added.
	ScopeCommit
)

// String implements fmt.Stringer.
func (s CompactScope) String() string {
	switch s {
	case ScopePartition:
		return "partition"
	case ScopeCommit:
		return "commit"
	}
	return "unknown"
}

// ParseCompactScope parses the autoCompact.target setting.
func ParseCompactScope(s string) (CompactScope, error) {
	switch s {
	case "partition":
		return ScopePartition, nil
	case "commit":
		return ScopeCommit, nil
	}
	return 0, errors.Mark(
		errors.Newf("strata: unknown compaction scope %q", s), ErrConfigConflict)
}

// Options holds the process-wide defaults for a table. Each write-time
// tunable can be shadowed per table (stored properties) and per operation
// (session overrides); see Session and the configuration keys in config.go.
type Options struct {
	// OptimizeWrite enables pre-write rebalancing: the batch is routed into
	// a number of output buckets derived from OptimizeWriteBinSize before
	// any file is materialized.
	OptimizeWrite bool

	// OptimizeWriteBinSize is the target output file size for rebalanced
	// writes.
	//
	// The default is 128 MB.
	OptimizeWriteBinSize uint64

	// AutoCompact enables post-commit compaction of small files.
	AutoCompact bool

	// AutoCompactMinNumFiles is the minimum number of eligible small files
	// required to trigger an auto-compaction round.
	//
	// The default is 50.
	AutoCompactMinNumFiles int

	// AutoCompactMaxFileSize excludes files larger than this from
	// compaction, and doubles as the bin-packing target size for the files
	// that are compacted.
	//
	// The default is 128 MB.
	AutoCompactMaxFileSize uint64

	// AutoCompactMaxCompactBytes caps the cumulative size of files rewritten
	// in one round. Files beyond the cap are excluded from the round, not
	// left blocking it. Zero means no cap.
	AutoCompactMaxCompactBytes uint64

	// AutoCompactScope selects the file scope of auto-compaction rounds.
	AutoCompactScope CompactScope

	// AutoCompactAsync runs triggered compactions on a background worker
	// instead of as a synchronous continuation of the write. The worker
	// tolerates the table having moved forward before its commit attempt.
	AutoCompactAsync bool

	// EmptyCompactionCommits forces a triggered round that produced no
	// merged replacement files to still consume a version number. By
	// default such rounds are elided to avoid spurious versions.
	EmptyCompactionCommits bool

	// MaxCompactionRetries bounds how many times a compaction re-evaluates
	// against a refreshed snapshot after losing a commit race.
	//
	// The default is 5.
	MaxCompactionRetries int

	// CompactionRateLimit paces compaction rewrites, in bytes per second.
	// Zero disables pacing.
	CompactionRateLimit float64

	// SmallPartitionFactor is the fraction of the bin-packing target size
	// below which a fragment is aggressively merged into the running bin.
	//
	// The default is 0.5.
	SmallPartitionFactor float64

	// MergedPartitionFactor is the multiple of the bin-packing target size
	// a merged bin may reach before a split is forced.
	//
	// The default is 1.2.
	MergedPartitionFactor float64

	// Logger destination for informational messages.
	Logger base.Logger

	// EventListener provides hooks into the write and compaction paths.
	EventListener *EventListener
}

// EnsureDefaults covers any unset options with their default values.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.OptimizeWriteBinSize == 0 {
		o.OptimizeWriteBinSize = 128 << 20 // 128 MB
	}
	if o.AutoCompactMinNumFiles == 0 {
		o.AutoCompactMinNumFiles = 50
	}
	if o.AutoCompactMaxFileSize == 0 {
		o.AutoCompactMaxFileSize = 128 << 20 // 128 MB
	}
	if o.MaxCompactionRetries == 0 {
		o.MaxCompactionRetries = 5
	}
	if o.SmallPartitionFactor == 0 {
		o.SmallPartitionFactor = 0.5
	}
	if o.MergedPartitionFactor == 0 {
		o.MergedPartitionFactor = 1.2
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.EventListener == nil {
		o.EventListener = &EventListener{}
	}
	o.EventListener.EnsureDefaults(o.Logger)
	return o
}

// Validate rejects malformed option combinations. Violations are
// configuration conflicts: the operation consuming them aborts before any
// write.
func (o *Options) Validate() error {
	if o.AutoCompactMinNumFiles < 0 {
		return errors.Mark(
			errors.Newf("strata: %s must be positive, got %d",
				AutoCompactMinNumFilesKey, o.AutoCompactMinNumFiles),
			ErrConfigConflict)
	}
	if o.SmallPartitionFactor < 0 || o.SmallPartitionFactor > 1 {
		return errors.Mark(
			errors.Newf("strata: small partition factor out of range: %f",
				o.SmallPartitionFactor),
			ErrConfigConflict)
	}
	if o.MergedPartitionFactor < 1 {
		return errors.Mark(
			errors.Newf("strata: merged partition factor must be at least 1, got %f",
				o.MergedPartitionFactor),
			ErrConfigConflict)
	}
	if o.CompactionRateLimit < 0 {
		return errors.Mark(
			errors.Newf("strata: negative compaction rate limit: %f",
				o.CompactionRateLimit),
			ErrConfigConflict)
	}
	return nil
}
