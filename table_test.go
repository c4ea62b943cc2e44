// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package strata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/kr/pretty"
	"github.com/stratadb/strata/internal/base"
	"github.com/stratadb/strata/internal/manifest"
	"github.com/stretchr/testify/require"
)

func rowsBatch(n int, data string) *WriteBatch {
	b := NewWriteBatch()
	for i := 0; i < n; i++ {
		b.AddChunk(Row{Data: []byte(data)})
	}
	return b
}

func TestCreateWriteReopen(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Create(dir, []string{"region"}, map[string]string{
		AutoCompactMinNumFilesKey: "10",
	}, nil)
	require.NoError(t, err)

	b := NewWriteBatch()
	b.AddChunk(
		Row{Data: []byte("a1"), PartitionValues: map[string]string{"region": "us"}},
		Row{Data: []byte("a2"), PartitionValues: map[string]string{"region": "eu"}},
	)
	b.AddChunk(
		Row{Data: []byte("b1"), PartitionValues: map[string]string{"region": "us"}},
	)
	num, err := tbl.Write(context.Background(), b, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, num)

	// Passthrough: chunk 0 touches two partitions, chunk 1 touches one.
	v := tbl.Snapshot()
	require.Equal(t, 3, v.NumFiles())
	require.NoError(t, tbl.Close())

	tbl, err = Open(dir, nil)
	require.NoError(t, err)
	defer tbl.Close()
	v = tbl.Snapshot()
	require.EqualValues(t, 1, v.Num)
	require.Equal(t, []string{"region"}, v.PartitionSchema)
	require.Equal(t, 3, v.NumFiles())
	val, ok := v.Property(AutoCompactMinNumFilesKey)
	require.True(t, ok)
	require.Equal(t, "10", val)

	// Rows survive the round trip.
	var all []string
	for _, f := range v.Files() {
		rows, err := tbl.readDataFile(f.Path)
		require.NoError(t, err)
		for _, r := range rows {
			all = append(all, string(r))
		}
	}
	require.ElementsMatch(t, []string{"a1", "a2", "b1"}, all)
}

func TestCreateExistingAndOpenMissing(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Create(dir, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, tbl.Close())

	_, err = Create(dir, nil, nil, nil)
	require.True(t, errors.Is(err, ErrTableExists))

	_, err = Open(filepath.Join(dir, "nope"), nil)
	require.True(t, errors.Is(err, ErrTableNotExist))

	// An existing but empty directory holds no table either.
	empty := t.TempDir()
	_, err = Open(empty, nil)
	require.True(t, errors.Is(err, ErrTableNotExist))
}

func TestCommitConflict(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Create(dir, nil, nil, nil)
	require.NoError(t, err)
	defer tbl.Close()

	stale := tbl.Snapshot().Num
	_, err = tbl.SetProperties(map[string]string{OptimizeWriteEnabledKey: "true"})
	require.NoError(t, err)

	// A commit based on the pre-property snapshot must lose.
	_, err = tbl.commitAt(stale, &manifest.VersionEdit{})
	require.True(t, errors.Is(err, ErrCommitConflict))
}

func TestGetSnapshotAt(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Create(dir, nil, nil, nil)
	require.NoError(t, err)
	defer tbl.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := tbl.Write(ctx, rowsBatch(1, "row"), nil)
		require.NoError(t, err)
	}
	require.EqualValues(t, 3, tbl.Snapshot().Num)

	for n := manifest.VersionNum(0); n <= 3; n++ {
		v, err := tbl.GetSnapshotAt(n)
		require.NoError(t, err)
		require.Equal(t, n, v.Num)
		require.Equal(t, int(n), v.NumFiles())
	}

	_, err = tbl.GetSnapshotAt(7)
	require.Error(t, err)
}

func TestHistory(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Create(dir, nil, map[string]string{OptimizeWriteEnabledKey: "false"}, nil)
	require.NoError(t, err)
	defer tbl.Close()

	_, err = tbl.Write(context.Background(), rowsBatch(2, "x"), nil)
	require.NoError(t, err)
	_, err = tbl.SetProperties(map[string]string{AutoCompactEnabledKey: "true"})
	require.NoError(t, err)

	h, err := tbl.History()
	require.NoError(t, err)
	expected := []VersionSummary{
		{Version: 0, PropertiesChanged: true},
		{Version: 1, AddedFiles: 2},
		{Version: 2, PropertiesChanged: true},
	}
	if diff := pretty.Diff(expected, h); diff != nil {
		t.Fatalf("%s", diff)
	}
}

func TestSetPropertiesNotRetroactive(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Create(dir, nil, nil, nil)
	require.NoError(t, err)
	defer tbl.Close()

	pinned := tbl.Snapshot()
	_, err = tbl.SetProperties(map[string]string{AutoCompactEnabledKey: "true"})
	require.NoError(t, err)

	// An operation that resolved against the pinned version keeps seeing
	// the old configuration.
	cfg, err := resolveConfig(tbl.opts, pinned, nil)
	require.NoError(t, err)
	require.False(t, cfg.AutoCompactEnabled)

	cfg, err = resolveConfig(tbl.opts, tbl.Snapshot(), nil)
	require.NoError(t, err)
	require.True(t, cfg.AutoCompactEnabled)
}

func TestSetPropertiesRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Create(dir, nil, nil, nil)
	require.NoError(t, err)
	defer tbl.Close()

	before := tbl.Snapshot().Num
	_, err = tbl.SetProperties(map[string]string{AutoCompactEnabledKey: "maybe"})
	require.True(t, errors.Is(err, ErrConfigConflict))
	require.Equal(t, before, tbl.Snapshot().Num)
}

func TestOpenDetectsEditLogGap(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Create(dir, nil, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := tbl.Write(ctx, rowsBatch(1, "x"), nil)
		require.NoError(t, err)
	}
	require.NoError(t, tbl.Close())

	require.NoError(t, os.Remove(base.MakeFilepath(dir, base.FileTypeEdit, 1)))
	_, err = Open(dir, nil)
	require.True(t, errors.Is(err, manifest.ErrCorruptEdit))
}

func TestClosedTable(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Create(dir, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, tbl.Close())

	_, err = tbl.Write(context.Background(), rowsBatch(1, "x"), nil)
	require.True(t, errors.Is(err, ErrClosed))
	_, err = tbl.SetProperties(map[string]string{AutoCompactEnabledKey: "true"})
	require.True(t, errors.Is(err, ErrClosed))
	_, err = tbl.Compact(context.Background(), nil)
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(tbl.Close(), ErrClosed))
}

func TestDataFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Create(dir, nil, nil, nil)
	require.NoError(t, err)
	defer tbl.Close()

	in := [][]byte{[]byte("one"), []byte(""), []byte("three")}
	entry, err := tbl.writeDataFile(in, nil)
	require.NoError(t, err)
	require.NotZero(t, entry.Size)

	out, err := tbl.readDataFile(entry.Path)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, "one", string(out[0]))
	require.Empty(t, out[1])
	require.Equal(t, "three", string(out[2]))
}
