// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package manifest holds the in-memory representation of a table's versioned
// file set: immutable snapshots (Version), the file metadata they contain
// (FileEntry), and the atomic edits that transition one version to the next
// (VersionEdit).
package manifest

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/swiss"
)

// VersionNum identifies a table version. Versions of one table are totally
// ordered; a commit transitions version N to version N+1.
type VersionNum uint64

// String implements fmt.Stringer.
func (v VersionNum) String() string { return fmt.Sprintf("%d", uint64(v)) }

// SafeFormat implements redact.SafeFormatter.
func (v VersionNum) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%d", redact.SafeUint(v))
}

// FileEntry describes one immutable data file in a version's file set. The
// entry is owned by the version that introduced it; later versions share it
// by reference until an edit tombstones it.
type FileEntry struct {
	// Path is the file's name within the table directory.
	Path string
	// Size is the file's length in bytes.
	Size uint64
	// PartitionValues maps partition column name to value. Empty for
	// unpartitioned tables.
	PartitionValues map[string]string
	// CreatedAt is the version that introduced the file.
	CreatedAt VersionNum
}

// PartitionKey returns the canonical col=val/... encoding of the entry's
// partition values in schema order. Entries of an unpartitioned table share
// the empty key.
func (f *FileEntry) PartitionKey(schema []string) string {
	if len(schema) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, col := range schema {
		if i > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(col)
		sb.WriteByte('=')
		sb.WriteString(f.PartitionValues[col])
	}
	return sb.String()
}

// SafeFormat implements redact.SafeFormatter. Partition values are user data
// and are redacted; paths and sizes are safe.
func (f *FileEntry) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s size:%d", redact.SafeString(f.Path), redact.Safe(f.Size))
	if len(f.PartitionValues) > 0 {
		cols := slices.Sorted(maps.Keys(f.PartitionValues))
		w.SafeString(" [")
		for i, col := range cols {
			if i > 0 {
				w.SafeString(" ")
			}
			w.Printf("%s=%s", redact.SafeString(col), f.PartitionValues[col])
		}
		w.SafeString("]")
	}
}

// String implements fmt.Stringer.
func (f *FileEntry) String() string {
	return redact.StringWithoutMarkers(f)
}

// Version is an immutable snapshot of a table: its file set, partition
// schema, and stored properties as of one commit. A Version is never mutated
// once constructed; applying a VersionEdit produces its successor. Readers
// pin a Version and read it without synchronization.
type Version struct {
	// Num is the version number. Table creation produces version 0.
	Num VersionNum
	// PartitionSchema is the ordered sequence of partition column names,
	// empty for unpartitioned tables. Fixed at creation.
	PartitionSchema []string
	// Properties holds the table-level stored configuration. Changes apply
	// only to operations against this or later versions.
	Properties map[string]string

	// files holds the file set ordered by path. Paths embed a monotonic file
	// number, so path order is creation order.
	files []*FileEntry
	// byPath indexes files for O(1) lookup.
	byPath swiss.Map[string, *FileEntry]
}

// NewVersion constructs a version directly from its parts. Intended for
// tests; normal construction goes through VersionEdit.Apply.
func NewVersion(
	num VersionNum, schema []string, props map[string]string, files []*FileEntry,
) *Version {
	v := &Version{
		Num:             num,
		PartitionSchema: schema,
		Properties:      props,
		files:           slices.Clone(files),
	}
	sort.Slice(v.files, func(i, j int) bool { return v.files[i].Path < v.files[j].Path })
	v.byPath.Init(2 * len(v.files))
	for _, f := range v.files {
		v.byPath.Put(f.Path, f)
	}
	return v
}

// NumFiles returns the number of files in the version.
func (v *Version) NumFiles() int { return len(v.files) }

// TotalSize returns the cumulative byte size of the version's files.
func (v *Version) TotalSize() uint64 {
	var total uint64
	for _, f := range v.files {
		total += f.Size
	}
	return total
}

// Files returns the version's file set ordered by path. The returned slice
// must not be mutated.
func (v *Version) Files() []*FileEntry { return v.files }

// Lookup returns the entry for path, if present.
func (v *Version) Lookup(path string) (*FileEntry, bool) {
	return v.byPath.Get(path)
}

// Property returns the stored table property for key, if set.
func (v *Version) Property(key string) (string, bool) {
	val, ok := v.Properties[key]
	return val, ok
}

// FilesInPartitions returns the files whose partition key is present in
// keys, ordered by path. With an empty partition schema every file matches
// the empty key.
func (v *Version) FilesInPartitions(keys map[string]struct{}) []*FileEntry {
	var out []*FileEntry
	for _, f := range v.files {
		if _, ok := keys[f.PartitionKey(v.PartitionSchema)]; ok {
			out = append(out, f)
		}
	}
	return out
}

// String implements fmt.Stringer.
func (v *Version) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "version %d: %d files (%d bytes)\n", v.Num, v.NumFiles(), v.TotalSize())
	for _, f := range v.files {
		fmt.Fprintf(&sb, "  %s\n", f)
	}
	return sb.String()
}
