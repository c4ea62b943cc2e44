// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/redact"
)

// FileNum is an identifier for a file within a table directory. Data files
// and version-edit records are numbered independently; the file type
// disambiguates.
type FileNum uint64

// String returns a string representation of the file number.
func (fn FileNum) String() string { return fmt.Sprintf("%06d", uint64(fn)) }

// SafeFormat implements redact.SafeFormatter.
func (fn FileNum) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%06d", redact.SafeUint(fn))
}

// FileType enumerates the types of files found in a table directory.
type FileType int

// The FileType enumeration.
const (
	FileTypeData FileType = iota
	FileTypeEdit
)

// MakeFilename builds a filename from components.
func MakeFilename(fileType FileType, fn FileNum) string {
	switch fileType {
	case FileTypeData:
		return fmt.Sprintf("%s.tbl", fn)
	case FileTypeEdit:
		return fmt.Sprintf("%s.edit", fn)
	}
	panic("unreachable")
}

// MakeFilepath builds a path to a file within dirname.
func MakeFilepath(dirname string, fileType FileType, fn FileNum) string {
	return filepath.Join(dirname, MakeFilename(fileType, fn))
}

// ParseFilename parses the components from a filename.
func ParseFilename(filename string) (fileType FileType, fn FileNum, ok bool) {
	filename = filepath.Base(filename)
	switch {
	case strings.HasSuffix(filename, ".tbl"):
		fileType = FileTypeData
		filename = strings.TrimSuffix(filename, ".tbl")
	case strings.HasSuffix(filename, ".edit"):
		fileType = FileTypeEdit
		filename = strings.TrimSuffix(filename, ".edit")
	default:
		return 0, 0, false
	}
	u, err := strconv.ParseUint(filename, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return fileType, FileNum(u), true
}
