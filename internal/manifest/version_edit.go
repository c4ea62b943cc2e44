// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package manifest

import (
	"bytes"
	"encoding/binary"
	"maps"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/golang/snappy"
)

// ErrCorruptEdit is returned when a persisted version edit cannot be
// decoded or replayed.
var ErrCorruptEdit = errors.New("strata: corrupt version edit")

// Tags for the version-edit disk format.
const (
	tagPartitionColumn = 1
	tagProperty        = 2
	tagAddedFile       = 3
	tagRemovedFile     = 4
)

// VersionEdit is the atomic unit of change to a table: the files added, the
// files tombstoned, and any table-property updates, all of which appear in a
// single commit. Applying an edit to version N yields version N+1; applying
// it to no base version creates version 0.
type VersionEdit struct {
	// PartitionSchema is set only on the creation edit.
	PartitionSchema []string
	// PropertiesDelta holds table-property updates carried by this commit.
	PropertiesDelta map[string]string
	// AddedFiles are the entries introduced by this commit. CreatedAt is
	// assigned during Apply.
	AddedFiles []*FileEntry
	// RemovedFiles are the paths tombstoned by this commit.
	RemovedFiles []string
}

// Encode encodes the edit into a snappy-compressed record.
func (ve *VersionEdit) Encode() []byte {
	var buf []byte
	appendString := func(s string) {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	for _, col := range ve.PartitionSchema {
		buf = binary.AppendUvarint(buf, tagPartitionColumn)
		appendString(col)
	}
	for _, key := range slices.Sorted(maps.Keys(ve.PropertiesDelta)) {
		buf = binary.AppendUvarint(buf, tagProperty)
		appendString(key)
		appendString(ve.PropertiesDelta[key])
	}
	for _, f := range ve.AddedFiles {
		buf = binary.AppendUvarint(buf, tagAddedFile)
		appendString(f.Path)
		buf = binary.AppendUvarint(buf, f.Size)
		cols := slices.Sorted(maps.Keys(f.PartitionValues))
		buf = binary.AppendUvarint(buf, uint64(len(cols)))
		for _, col := range cols {
			appendString(col)
			appendString(f.PartitionValues[col])
		}
	}
	for _, path := range ve.RemovedFiles {
		buf = binary.AppendUvarint(buf, tagRemovedFile)
		appendString(path)
	}
	return snappy.Encode(nil, buf)
}

// Decode decodes an edit from a record produced by Encode.
func (ve *VersionEdit) Decode(record []byte) error {
	buf, err := snappy.Decode(nil, record)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "decompressing version edit"), ErrCorruptEdit)
	}
	r := bytes.NewReader(buf)
	readString := func() (string, error) {
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return "", err
		}
		s := make([]byte, n)
		if _, err := r.Read(s); err != nil {
			return "", err
		}
		return string(s), nil
	}
	for r.Len() > 0 {
		tag, err := binary.ReadUvarint(r)
		if err != nil {
			return errors.Mark(err, ErrCorruptEdit)
		}
		switch tag {
		case tagPartitionColumn:
			col, err := readString()
			if err != nil {
				return errors.Mark(err, ErrCorruptEdit)
			}
			ve.PartitionSchema = append(ve.PartitionSchema, col)

		case tagProperty:
			key, err := readString()
			if err != nil {
				return errors.Mark(err, ErrCorruptEdit)
			}
			val, err := readString()
			if err != nil {
				return errors.Mark(err, ErrCorruptEdit)
			}
			if ve.PropertiesDelta == nil {
				ve.PropertiesDelta = make(map[string]string)
			}
			ve.PropertiesDelta[key] = val

		case tagAddedFile:
			f := &FileEntry{}
			if f.Path, err = readString(); err != nil {
				return errors.Mark(err, ErrCorruptEdit)
			}
			if f.Size, err = binary.ReadUvarint(r); err != nil {
				return errors.Mark(err, ErrCorruptEdit)
			}
			numCols, err := binary.ReadUvarint(r)
			if err != nil {
				return errors.Mark(err, ErrCorruptEdit)
			}
			for i := uint64(0); i < numCols; i++ {
				col, err := readString()
				if err != nil {
					return errors.Mark(err, ErrCorruptEdit)
				}
				val, err := readString()
				if err != nil {
					return errors.Mark(err, ErrCorruptEdit)
				}
				if f.PartitionValues == nil {
					f.PartitionValues = make(map[string]string)
				}
				f.PartitionValues[col] = val
			}
			ve.AddedFiles = append(ve.AddedFiles, f)

		case tagRemovedFile:
			path, err := readString()
			if err != nil {
				return errors.Mark(err, ErrCorruptEdit)
			}
			ve.RemovedFiles = append(ve.RemovedFiles, path)

		default:
			return errors.Mark(errors.Newf("unknown tag %d", tag), ErrCorruptEdit)
		}
	}
	return nil
}

// Apply applies the edit to base, returning the successor version. A nil
// base is table creation and yields version 0. Tombstoning an unknown file,
// adding a duplicate path, or re-declaring the partition schema after
// creation is corruption.
func (ve *VersionEdit) Apply(base *Version) (*Version, error) {
	var num VersionNum
	var schema []string
	props := make(map[string]string)
	var files []*FileEntry
	if base == nil {
		if len(ve.RemovedFiles) > 0 {
			return nil, errors.Mark(
				errors.New("creation edit tombstones files"), ErrCorruptEdit)
		}
		schema = ve.PartitionSchema
	} else {
		num = base.Num + 1
		if len(ve.PartitionSchema) > 0 {
			return nil, errors.Mark(
				errors.New("partition schema re-declared after creation"), ErrCorruptEdit)
		}
		schema = base.PartitionSchema
		maps.Copy(props, base.Properties)
		files = slices.Clone(base.Files())
	}
	maps.Copy(props, ve.PropertiesDelta)

	removed := make(map[string]bool, len(ve.RemovedFiles))
	for _, path := range ve.RemovedFiles {
		if _, ok := base.Lookup(path); !ok {
			return nil, errors.Mark(
				errors.Newf("tombstone for unknown file %q", path), ErrCorruptEdit)
		}
		if removed[path] {
			return nil, errors.Mark(
				errors.Newf("duplicate tombstone for %q", path), ErrCorruptEdit)
		}
		removed[path] = true
	}
	files = slices.DeleteFunc(files, func(f *FileEntry) bool { return removed[f.Path] })

	seen := make(map[string]bool, len(ve.AddedFiles))
	for _, f := range ve.AddedFiles {
		if seen[f.Path] {
			return nil, errors.Mark(
				errors.Newf("duplicate added file %q", f.Path), ErrCorruptEdit)
		}
		seen[f.Path] = true
		if base != nil {
			if _, ok := base.Lookup(f.Path); ok && !removed[f.Path] {
				return nil, errors.Mark(
					errors.Newf("added file %q already present", f.Path), ErrCorruptEdit)
			}
		}
		f.CreatedAt = num
		files = append(files, f)
	}
	return NewVersion(num, schema, props, files), nil
}

// SafeFormat implements redact.SafeFormatter.
func (ve *VersionEdit) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("edit: +%d files -%d files", redact.Safe(len(ve.AddedFiles)), redact.Safe(len(ve.RemovedFiles)))
	if len(ve.PropertiesDelta) > 0 {
		w.Printf(" props:%d", redact.Safe(len(ve.PropertiesDelta)))
	}
}

// String implements fmt.Stringer.
func (ve *VersionEdit) String() string {
	return redact.StringWithoutMarkers(ve)
}
