// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package strata implements a transactional, file-backed table store whose
// write path optimizes output file sizes. Every commit produces a new
// immutable version of the table's file set; a write may be rebalanced into
// near-target-size files before it commits, and small files left behind by
// committed writes are merged by a post-commit auto-compaction step.
package strata

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/cockroachdb/tokenbucket"
	"github.com/golang/snappy"
	"github.com/stratadb/strata/internal/base"
	"github.com/stratadb/strata/internal/manifest"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is returned when an operation is performed on a closed
	// table.
	ErrClosed = errors.New("strata: closed")
	// ErrCommitConflict is returned when a concurrent commit advanced the
	// table past the version a commit was based on. The operation may be
	// retried against the refreshed snapshot.
	ErrCommitConflict = errors.New("strata: commit conflict")
	// ErrConfigConflict marks malformed or out-of-range configuration
	// values. Operations abort at resolution time, before any write.
	ErrConfigConflict = errors.New("strata: config conflict")
	// ErrTableExists is returned by Create if the directory already holds a
	// table.
	ErrTableExists = errors.New("strata: table already exists")
	// ErrTableNotExist is returned by Open if the directory holds no table.
	ErrTableNotExist = errors.New("strata: table does not exist")
)

// Table is a handle to a versioned table. It is safe for concurrent use:
// snapshot reads are lock-free, and the commit path is the single
// serialization point.
type Table struct {
	dirname string
	opts    *Options
	metrics *Metrics

	// current points at the latest version. Readers pin a version with a
	// single atomic load and never block a concurrent commit.
	current atomic.Pointer[manifest.Version]
	// commitMu serializes version transitions.
	commitMu sync.Mutex

	// dataFileNum assigns data file numbers.
	dataFileNum atomic.Uint64

	compactPacer *tokenbucket.TokenBucket

	closed atomic.Bool
	// compactJobs feeds the background worker when auto-compaction runs
	// asynchronously.
	compactJobs  chan func(context.Context) error
	compactGroup errgroup.Group
}

// Create initializes a new table in dirname with the given partition schema
// and initial table properties, committing version 0.
func Create(
	dirname string, partitionSchema []string, props map[string]string, opts *Options,
) (*Table, error) {
	opts = opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := validateProperties(opts, props); err != nil {
		return nil, err
	}
	if _, err := os.Stat(base.MakeFilepath(dirname, base.FileTypeEdit, 0)); err == nil {
		return nil, errors.Wrapf(ErrTableExists, "dirname=%q", dirname)
	}
	if err := os.MkdirAll(dirname, 0755); err != nil {
		return nil, err
	}
	ve := &manifest.VersionEdit{
		PartitionSchema: partitionSchema,
		PropertiesDelta: props,
	}
	v0, err := ve.Apply(nil)
	if err != nil {
		return nil, err
	}
	if err := writeEditFile(dirname, v0.Num, ve); err != nil {
		return nil, err
	}
	return newTable(dirname, opts, v0, 0), nil
}

// Open opens an existing table, replaying its version-edit log.
func Open(dirname string, opts *Options) (*Table, error) {
	opts = opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	nums, maxData, err := scanTableDir(dirname)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, errors.Wrapf(ErrTableNotExist, "dirname=%q", dirname)
	}
	var v *manifest.Version
	for i, num := range nums {
		if num != base.FileNum(i) {
			return nil, errors.Mark(
				errors.Newf("strata: version-edit log has a gap at %s", num),
				manifest.ErrCorruptEdit)
		}
		ve, err := readEditFile(dirname, manifest.VersionNum(num))
		if err != nil {
			return nil, err
		}
		if v, err = ve.Apply(v); err != nil {
			return nil, err
		}
	}
	return newTable(dirname, opts, v, maxData), nil
}

func newTable(dirname string, opts *Options, v *manifest.Version, maxDataFileNum uint64) *Table {
	t := &Table{
		dirname: dirname,
		opts:    opts,
		metrics: newMetrics(),
	}
	t.current.Store(v)
	t.dataFileNum.Store(maxDataFileNum)
	if opts.CompactionRateLimit > 0 {
		t.compactPacer = &tokenbucket.TokenBucket{}
		t.compactPacer.Init(
			tokenbucket.TokensPerSecond(opts.CompactionRateLimit),
			tokenbucket.Tokens(opts.CompactionRateLimit))
	}
	if opts.AutoCompactAsync {
		t.compactJobs = make(chan func(context.Context) error, 16)
		t.compactGroup.Go(func() error {
			for job := range t.compactJobs {
				if err := job(context.Background()); err != nil {
					t.opts.EventListener.BackgroundError(err)
				}
			}
			return nil
		})
	}
	return t
}

// Close waits for any background compaction work and releases the table
// handle. It is not safe to use the table after Close.
func (t *Table) Close() error {
	if t.closed.Swap(true) {
		return ErrClosed
	}
	if t.compactJobs != nil {
		close(t.compactJobs)
	}
	return t.compactGroup.Wait()
}

// Metrics returns the table's metrics. The returned value implements
// prometheus.Collector.
func (t *Table) Metrics() *Metrics { return t.metrics }

// Snapshot pins and returns the current version. The returned snapshot is
// immutable; reads from it never block a concurrent commit.
func (t *Table) Snapshot() *manifest.Version {
	return t.current.Load()
}

// GetSnapshotAt reconstructs the table state as of version num by replaying
// the version-edit log.
func (t *Table) GetSnapshotAt(num manifest.VersionNum) (*manifest.Version, error) {
	if cur := t.current.Load(); num > cur.Num {
		return nil, errors.Newf("strata: version %s does not exist (current is %s)", num, cur.Num)
	}
	var v *manifest.Version
	for n := manifest.VersionNum(0); n <= num; n++ {
		ve, err := readEditFile(t.dirname, n)
		if err != nil {
			return nil, err
		}
		if v, err = ve.Apply(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// VersionSummary describes one commit in the table's history.
type VersionSummary struct {
	Version           manifest.VersionNum
	AddedFiles        int
	RemovedFiles      int
	PropertiesChanged bool
}

// History returns a summary of every commit, oldest first.
func (t *Table) History() ([]VersionSummary, error) {
	cur := t.current.Load()
	summaries := make([]VersionSummary, 0, cur.Num+1)
	for n := manifest.VersionNum(0); n <= cur.Num; n++ {
		ve, err := readEditFile(t.dirname, n)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, VersionSummary{
			Version:           n,
			AddedFiles:        len(ve.AddedFiles),
			RemovedFiles:      len(ve.RemovedFiles),
			PropertiesChanged: len(ve.PropertiesDelta) > 0,
		})
	}
	return summaries, nil
}

// SetProperties commits a property-only edit. The new properties govern only
// operations that resolve their configuration after this commit; in-flight
// operations pinned to older versions are unaffected.
func (t *Table) SetProperties(props map[string]string) (manifest.VersionNum, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}
	if err := validateProperties(t.opts, props); err != nil {
		return 0, err
	}
	ve := &manifest.VersionEdit{PropertiesDelta: props}
	// Property commits carry no file changes, so racing ahead of a
	// concurrent write is safe; retry unbounded conflicts are not expected
	// beyond a handful of attempts.
	for {
		cur := t.current.Load()
		next, err := t.commitAt(cur.Num, ve)
		if errors.Is(err, ErrCommitConflict) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return next.Num, nil
	}
}

// commitAt atomically transitions the table from version base to its
// successor. At most one commit advances any given base; the losers observe
// ErrCommitConflict and may retry against the refreshed snapshot.
func (t *Table) commitAt(
	base manifest.VersionNum, ve *manifest.VersionEdit,
) (*manifest.Version, error) {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()
	cur := t.current.Load()
	if cur.Num != base {
		t.metrics.CommitConflicts.Inc()
		return nil, errors.Mark(
			errors.Newf("strata: commit against version %s, but table is at %s", base, cur.Num),
			ErrCommitConflict)
	}
	next, err := ve.Apply(cur)
	if err != nil {
		return nil, err
	}
	if err := writeEditFile(t.dirname, next.Num, ve); err != nil {
		return nil, err
	}
	t.current.Store(next)
	t.metrics.Commits.Inc()
	return next, nil
}

func writeEditFile(dirname string, num manifest.VersionNum, ve *manifest.VersionEdit) error {
	path := base.MakeFilepath(dirname, base.FileTypeEdit, base.FileNum(num))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrap(err, "writing version edit")
	}
	defer f.Close()
	if _, err := f.Write(ve.Encode()); err != nil {
		return err
	}
	return f.Sync()
}

func readEditFile(dirname string, num manifest.VersionNum) (*manifest.VersionEdit, error) {
	b, err := os.ReadFile(base.MakeFilepath(dirname, base.FileTypeEdit, base.FileNum(num)))
	if err != nil {
		return nil, errors.Wrapf(err, "reading version edit %s", num)
	}
	ve := &manifest.VersionEdit{}
	if err := ve.Decode(b); err != nil {
		return nil, err
	}
	return ve, nil
}

// scanTableDir lists the version-edit file numbers in order and the maximum
// data file number in use.
func scanTableDir(dirname string) (edits []base.FileNum, maxDataFileNum uint64, _ error) {
	entries, err := os.ReadDir(dirname)
	if oserror.IsNotExist(err) {
		return nil, 0, errors.Wrapf(ErrTableNotExist, "dirname=%q", dirname)
	}
	if err != nil {
		return nil, 0, err
	}
	for _, e := range entries {
		ft, fn, ok := base.ParseFilename(e.Name())
		if !ok {
			continue
		}
		switch ft {
		case base.FileTypeEdit:
			edits = append(edits, fn)
		case base.FileTypeData:
			if uint64(fn) > maxDataFileNum {
				maxDataFileNum = uint64(fn)
			}
		}
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i] < edits[j] })
	return edits, maxDataFileNum, nil
}

// writeDataFile materializes one data file from the given rows. Rows are
// length-prefixed, concatenated, and snappy-compressed; the entry's size is
// the on-disk (compressed) size.
func (t *Table) writeDataFile(
	rows [][]byte, partitionValues map[string]string,
) (*manifest.FileEntry, error) {
	var buf []byte
	for _, row := range rows {
		buf = binary.AppendUvarint(buf, uint64(len(row)))
		buf = append(buf, row...)
	}
	compressed := snappy.Encode(nil, buf)
	fn := base.FileNum(t.dataFileNum.Add(1))
	path := base.MakeFilename(base.FileTypeData, fn)
	f, err := os.OpenFile(
		base.MakeFilepath(t.dirname, base.FileTypeData, fn),
		os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "writing data file")
	}
	defer f.Close()
	if _, err := f.Write(compressed); err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, err
	}
	return &manifest.FileEntry{
		Path:            path,
		Size:            uint64(len(compressed)),
		PartitionValues: partitionValues,
	}, nil
}

// readDataFile reads back the rows of one data file.
func (t *Table) readDataFile(path string) ([][]byte, error) {
	compressed, err := os.ReadFile(filepath.Join(t.dirname, path))
	if err != nil {
		return nil, errors.Wrap(err, "reading data file")
	}
	buf, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing data file")
	}
	var rows [][]byte
	for len(buf) > 0 {
		n, sz := binary.Uvarint(buf)
		if sz <= 0 || uint64(len(buf)-sz) < n {
			return nil, errors.Newf("strata: corrupt data file %q", path)
		}
		rows = append(rows, buf[sz:sz+int(n)])
		buf = buf[sz+int(n):]
	}
	return rows, nil
}

// removeDataFiles best-effort deletes data files that never made it into a
// committed version.
func (t *Table) removeDataFiles(entries []*manifest.FileEntry) {
	for _, e := range entries {
		_ = os.Remove(filepath.Join(t.dirname, e.Path))
	}
}
