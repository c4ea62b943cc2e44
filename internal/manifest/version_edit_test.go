// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package manifest

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestVersionEditApply(t *testing.T) {
	create := &VersionEdit{
		PartitionSchema: []string{"date"},
		PropertiesDelta: map[string]string{"autoCompact.enabled": "true"},
	}
	v0, err := create.Apply(nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, v0.Num)
	require.Equal(t, []string{"date"}, v0.PartitionSchema)
	require.Equal(t, 0, v0.NumFiles())

	add := &VersionEdit{
		AddedFiles: []*FileEntry{
			{Path: "000001.tbl", Size: 100, PartitionValues: map[string]string{"date": "d1"}},
			{Path: "000002.tbl", Size: 200, PartitionValues: map[string]string{"date": "d2"}},
		},
	}
	v1, err := add.Apply(v0)
	require.NoError(t, err)
	require.EqualValues(t, 1, v1.Num)
	require.Equal(t, 2, v1.NumFiles())
	require.EqualValues(t, 300, v1.TotalSize())
	f, ok := v1.Lookup("000001.tbl")
	require.True(t, ok)
	require.EqualValues(t, 1, f.CreatedAt)

	// The base version is untouched: snapshots are immutable.
	require.Equal(t, 0, v0.NumFiles())

	// A rewrite tombstones inputs and adds replacements in one edit.
	rewrite := &VersionEdit{
		AddedFiles:   []*FileEntry{{Path: "000003.tbl", Size: 300, PartitionValues: map[string]string{"date": "d1"}}},
		RemovedFiles: []string{"000001.tbl", "000002.tbl"},
	}
	v2, err := rewrite.Apply(v1)
	require.NoError(t, err)
	require.EqualValues(t, 2, v2.Num)
	require.Equal(t, 1, v2.NumFiles())
	_, ok = v2.Lookup("000001.tbl")
	require.False(t, ok)
	// v1 still holds both files.
	require.Equal(t, 2, v1.NumFiles())
}

func TestVersionEditApplyCorruption(t *testing.T) {
	v0, err := (&VersionEdit{}).Apply(nil)
	require.NoError(t, err)
	v1, err := (&VersionEdit{
		AddedFiles: []*FileEntry{{Path: "000001.tbl", Size: 10}},
	}).Apply(v0)
	require.NoError(t, err)

	for name, edit := range map[string]*VersionEdit{
		"unknown tombstone":   {RemovedFiles: []string{"nope.tbl"}},
		"duplicate tombstone": {RemovedFiles: []string{"000001.tbl", "000001.tbl"}},
		"duplicate add": {AddedFiles: []*FileEntry{
			{Path: "000002.tbl"}, {Path: "000002.tbl"},
		}},
		"add of existing path": {AddedFiles: []*FileEntry{{Path: "000001.tbl"}}},
		"schema re-declared":   {PartitionSchema: []string{"date"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := edit.Apply(v1)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrCorruptEdit))
		})
	}

	// Replacing a file with the same path in one edit is legal: the removal
	// and the addition appear atomically.
	_, err = (&VersionEdit{
		AddedFiles:   []*FileEntry{{Path: "000001.tbl", Size: 99}},
		RemovedFiles: []string{"000001.tbl"},
	}).Apply(v1)
	require.NoError(t, err)
}

func TestVersionEditEncodeDecode(t *testing.T) {
	ve := &VersionEdit{
		PartitionSchema: []string{"date", "region"},
		PropertiesDelta: map[string]string{"optimizeWrite.enabled": "false"},
		AddedFiles: []*FileEntry{
			{Path: "000004.tbl", Size: 1 << 20, PartitionValues: map[string]string{"date": "d1", "region": "eu"}},
		},
		RemovedFiles: []string{"000001.tbl"},
	}
	var got VersionEdit
	require.NoError(t, got.Decode(ve.Encode()))
	require.Equal(t, ve, &got)

	var corrupt VersionEdit
	require.Error(t, corrupt.Decode([]byte("not snappy")))
}

func TestVersionPartitionLookup(t *testing.T) {
	schema := []string{"date"}
	files := []*FileEntry{
		{Path: "000001.tbl", Size: 1, PartitionValues: map[string]string{"date": "d1"}},
		{Path: "000002.tbl", Size: 2, PartitionValues: map[string]string{"date": "d2"}},
		{Path: "000003.tbl", Size: 3, PartitionValues: map[string]string{"date": "d1"}},
	}
	v := NewVersion(1, schema, nil, files)

	got := v.FilesInPartitions(map[string]struct{}{"date=d1": {}})
	require.Len(t, got, 2)
	require.Equal(t, "000001.tbl", got[0].Path)
	require.Equal(t, "000003.tbl", got[1].Path)

	// Unpartitioned: all files share the empty partition key.
	u := NewVersion(1, nil, nil, files)
	require.Len(t, u.FilesInPartitions(map[string]struct{}{"": {}}), 3)
}
