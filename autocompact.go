// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package strata

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tokenbucket"
	"github.com/stratadb/strata/internal/binpack"
	"github.com/stratadb/strata/internal/manifest"

	"github.com/cockroachdb/crlib/crtime"
)

// compactionState tracks one compaction round's progression.
type compactionState int8

const (
	compactionIdle compactionState = iota
	compactionEvaluating
	compactionNoAction
	compactionTriggered
)

// String implements fmt.Stringer.
func (s compactionState) String() string {
	switch s {
	case compactionIdle:
		return "idle"
	case compactionEvaluating:
		return "evaluating"
	case compactionNoAction:
		return "no-action"
	case compactionTriggered:
		return "triggered"
	}
	return "unknown"
}

// compactionRound is the outcome of evaluating one snapshot for compaction:
// the eligible files, the files excluded by the byte cap, and the merge
// groups computed by bin packing.
type compactionRound struct {
	state      compactionState
	targetSize uint64
	eligible   []*manifest.FileEntry
	skipped    int
	// groups holds the bins that contain at least two files; singleton bins
	// are dropped since rewriting a lone file merges nothing.
	groups     [][]*manifest.FileEntry
	inputBytes uint64
}

// evaluate runs the scheduler's decision: Evaluating transitions to
// Triggered iff compaction is enabled, the eligible small-file count meets
// the minimum, and (with a byte cap) the files kept for this round fit
// under it; otherwise NoAction. Candidate order is path order, which is
// creation order, keeping the grouping deterministic.
func (t *Table) evaluateCompaction(
	v *manifest.Version,
	cfg EffectiveConfig,
	written map[string]struct{},
	partitions map[string]struct{},
) (*compactionRound, error) {
	r := &compactionRound{state: compactionEvaluating, targetSize: cfg.AutoCompactMaxFileSize}
	if !cfg.AutoCompactEnabled {
		r.state = compactionNoAction
		return r, nil
	}

	var candidates []*manifest.FileEntry
	switch cfg.AutoCompactScope {
	case ScopeCommit:
		for _, f := range v.Files() {
			if _, ok := written[f.Path]; ok {
				candidates = append(candidates, f)
			}
		}
	case ScopePartition:
		candidates = v.FilesInPartitions(partitions)
	}
	candidates = filterBySize(candidates, cfg.AutoCompactMaxFileSize)

	if len(candidates) < cfg.AutoCompactMinNumFiles {
		r.state = compactionNoAction
		return r, nil
	}
	if maxBytes := cfg.AutoCompactMaxCompactBytes; maxBytes > 0 {
		var cum uint64
		kept := 0
		for _, f := range candidates {
			if cum+f.Size > maxBytes {
				break
			}
			cum += f.Size
			kept++
		}
		r.skipped = len(candidates) - kept
		candidates = candidates[:kept]
	}
	r.eligible = candidates
	r.state = compactionTriggered
	if err := t.packGroups(r, candidates, v.PartitionSchema); err != nil {
		return nil, err
	}
	return r, nil
}

// packGroups bin-packs the candidates into merge groups. Files of different
// partitions never merge, so packing happens within each partition group.
func (t *Table) packGroups(
	r *compactionRound, candidates []*manifest.FileEntry, schema []string,
) error {
	if len(candidates) < 2 {
		return nil
	}
	for _, group := range groupByPartition(candidates, schema) {
		sizes := make([]uint64, len(group))
		for i, f := range group {
			sizes[i] = f.Size
		}
		splits, err := binpack.SplitSizesByTarget(
			sizes, r.targetSize, t.opts.SmallPartitionFactor, t.opts.MergedPartitionFactor)
		if err != nil {
			return err
		}
		for _, bin := range binpack.Bins(len(group), splits) {
			if bin[1]-bin[0] < 2 {
				continue
			}
			g := group[bin[0]:bin[1]]
			r.groups = append(r.groups, g)
			for _, f := range g {
				r.inputBytes += f.Size
			}
		}
	}
	return nil
}

func filterBySize(files []*manifest.FileEntry, maxSize uint64) []*manifest.FileEntry {
	var out []*manifest.FileEntry
	for _, f := range files {
		if f.Size <= maxSize {
			out = append(out, f)
		}
	}
	return out
}

func groupByPartition(files []*manifest.FileEntry, schema []string) [][]*manifest.FileEntry {
	byKey := make(map[string][]*manifest.FileEntry)
	var keys []string
	for _, f := range files {
		pk := f.PartitionKey(schema)
		if _, ok := byKey[pk]; !ok {
			keys = append(keys, pk)
		}
		byKey[pk] = append(byKey[pk], f)
	}
	sort.Strings(keys)
	out := make([][]*manifest.FileEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out
}

// autoCompact runs the post-commit compaction continuation: evaluate the
// just-committed version, and if triggered, rewrite the merge groups and
// commit the result as one follow-up version. Losing the commit race is
// recovered locally: the round re-evaluates against the refreshed snapshot
// a bounded number of times before surfacing the conflict.
func (t *Table) autoCompact(
	ctx context.Context,
	cfg EffectiveConfig,
	v *manifest.Version,
	written map[string]struct{},
	partitions map[string]struct{},
) (manifest.VersionNum, error) {
	info := CompactionInfo{Reason: "auto", BaseVersion: v.Num}
	t.opts.EventListener.CompactionBegin(info)
	return t.runCompaction(ctx, v, info, func(v *manifest.Version) (*compactionRound, error) {
		return t.evaluateCompaction(v, cfg, written, partitions)
	})
}

// Compact runs a manual whole-table compaction: every file not larger than
// the compaction target is a candidate, regardless of the auto-compaction
// enablement and minimum-count settings. Returns the version holding the
// result, which is the current version when there was nothing to merge.
func (t *Table) Compact(ctx context.Context, sess *Session) (manifest.VersionNum, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}
	v := t.Snapshot()
	cfg, err := resolveConfig(t.opts, v, sess)
	if err != nil {
		return 0, err
	}
	info := CompactionInfo{Reason: "manual", BaseVersion: v.Num}
	t.opts.EventListener.CompactionBegin(info)
	return t.runCompaction(ctx, v, info, func(v *manifest.Version) (*compactionRound, error) {
		r := &compactionRound{state: compactionTriggered, targetSize: cfg.AutoCompactMaxFileSize}
		r.eligible = filterBySize(v.Files(), cfg.AutoCompactMaxFileSize)
		if err := t.packGroups(r, r.eligible, v.PartitionSchema); err != nil {
			return nil, err
		}
		return r, nil
	})
}

// runCompaction drives one compaction round to its conclusion, re-evaluating
// after commit conflicts.
func (t *Table) runCompaction(
	ctx context.Context,
	v *manifest.Version,
	info CompactionInfo,
	evaluate func(*manifest.Version) (*compactionRound, error),
) (manifest.VersionNum, error) {
	start := crtime.NowMono()
	finish := func(info CompactionInfo) (manifest.VersionNum, error) {
		info.Duration = start.Elapsed()
		t.opts.EventListener.CompactionEnd(info)
		return v.Num, info.Err
	}

	for attempt := 0; ; attempt++ {
		round, err := evaluate(v)
		if err != nil {
			info.Err = err
			return finish(info)
		}
		if round.state != compactionTriggered {
			t.metrics.CompactionsNoAction.Inc()
			info.Elided = true
			return finish(info)
		}
		if round.skipped > 0 {
			t.metrics.CompactionsPartial.Inc()
		}
		if len(round.groups) == 0 && !t.opts.EmptyCompactionCommits {
			// Triggered, but every eligible file already sits at or beyond a
			// bin of its own. Committing would burn a version for nothing.
			t.metrics.CompactionsElided.Inc()
			info.Elided = true
			info.SkippedFiles = round.skipped
			return finish(info)
		}

		ve := &manifest.VersionEdit{}
		var added []*manifest.FileEntry
		rewriteErr := func() error {
			for _, group := range round.groups {
				if err := t.pace(ctx, groupBytes(group)); err != nil {
					return err
				}
				var rows [][]byte
				for _, f := range group {
					fileRows, err := t.readDataFile(f.Path)
					if err != nil {
						return err
					}
					rows = append(rows, fileRows...)
					ve.RemovedFiles = append(ve.RemovedFiles, f.Path)
				}
				entry, err := t.writeDataFile(rows, group[0].PartitionValues)
				if err != nil {
					return err
				}
				added = append(added, entry)
			}
			return nil
		}()
		if rewriteErr != nil {
			t.removeDataFiles(added)
			info.Err = rewriteErr
			return finish(info)
		}
		ve.AddedFiles = added

		next, err := t.commitAt(v.Num, ve)
		if errors.Is(err, ErrCommitConflict) && attempt < t.opts.MaxCompactionRetries {
			// A concurrent commit moved the table forward. The rewritten
			// outputs reference a stale input set; discard them and
			// re-evaluate against the new snapshot.
			t.metrics.CompactionRetries.Inc()
			t.removeDataFiles(added)
			info.Retries++
			v = t.Snapshot()
			info.BaseVersion = v.Num
			continue
		}
		if err != nil {
			t.removeDataFiles(added)
			info.Err = err
			return finish(info)
		}

		t.metrics.CompactionsTriggered.Inc()
		t.metrics.BytesCompacted.Add(float64(round.inputBytes))
		v = next
		info.OutputVersion = next.Num
		info.InputFiles = len(ve.RemovedFiles)
		info.OutputFiles = len(added)
		info.InputBytes = round.inputBytes
		info.SkippedFiles = round.skipped
		return finish(info)
	}
}

// pace blocks until the compaction rate limiter grants the given bytes.
func (t *Table) pace(ctx context.Context, bytes uint64) error {
	if t.compactPacer == nil {
		return nil
	}
	for {
		ok, wait := t.compactPacer.TryToFulfill(tokenbucket.Tokens(bytes))
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func groupBytes(group []*manifest.FileEntry) uint64 {
	var total uint64
	for _, f := range group {
		total += f.Size
	}
	return total
}
