// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package strata

import (
	"time"

	"github.com/cockroachdb/redact"
	"github.com/stratadb/strata/internal/base"
	"github.com/stratadb/strata/internal/manifest"
)

// WriteInfo contains the info for a write event.
type WriteInfo struct {
	// Version is the version produced by the write commit.
	Version manifest.VersionNum
	// Files is the number of data files materialized.
	Files int
	// Bytes is the cumulative size of the materialized files.
	Bytes uint64
	// Optimized records whether pre-write rebalancing was applied.
	Optimized bool
	// Buckets is the output parallelism chosen by the rebalancing decision,
	// zero for passthrough writes.
	Buckets  int
	Duration time.Duration
	Err      error
}

// SafeFormat implements redact.SafeFormatter.
func (i WriteInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[JOB] write error: %s", i.Err)
		return
	}
	w.Printf("[JOB] committed version %s: %d files (%d bytes)",
		i.Version, redact.Safe(i.Files), redact.Safe(i.Bytes))
	if i.Optimized {
		w.Printf(" optimized into %d buckets", redact.Safe(i.Buckets))
	}
	w.Printf(" in %.1fs", redact.Safe(i.Duration.Seconds()))
}

// String implements fmt.Stringer.
func (i WriteInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// CompactionInfo contains the info for a compaction event.
type CompactionInfo struct {
	// Reason is why the compaction ran: "auto" or "manual".
	Reason string
	// BaseVersion is the snapshot the round evaluated against.
	BaseVersion manifest.VersionNum
	// OutputVersion is the version produced by the compaction commit. Zero
	// when the round was elided.
	OutputVersion manifest.VersionNum
	// InputFiles is the number of files rewritten; OutputFiles the number of
	// merged replacements.
	InputFiles  int
	OutputFiles int
	// InputBytes is the cumulative size of the rewritten files.
	InputBytes uint64
	// SkippedFiles counts eligible files excluded by the cumulative-size
	// cap. A partial round is a normal outcome, not an error.
	SkippedFiles int
	// Elided reports that the round triggered but produced nothing to merge,
	// so no commit was made.
	Elided bool
	// Retries counts commit attempts lost to concurrent writers before this
	// round concluded.
	Retries  int
	Duration time.Duration
	Err      error
}

// SafeFormat implements redact.SafeFormatter.
func (i CompactionInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[JOB] %s compaction error: %s", redact.SafeString(i.Reason), i.Err)
		return
	}
	if i.Elided {
		w.Printf("[JOB] %s compaction at version %s elided (nothing to merge)",
			redact.SafeString(i.Reason), i.BaseVersion)
		return
	}
	w.Printf("[JOB] %s compaction %s -> %s: %d files (%d bytes) into %d",
		redact.SafeString(i.Reason), i.BaseVersion, i.OutputVersion,
		redact.Safe(i.InputFiles), redact.Safe(i.InputBytes), redact.Safe(i.OutputFiles))
	if i.SkippedFiles > 0 {
		w.Printf(", %d skipped by byte cap", redact.Safe(i.SkippedFiles))
	}
	if i.Retries > 0 {
		w.Printf(", %d retries", redact.Safe(i.Retries))
	}
	w.Printf(" in %.1fs", redact.Safe(i.Duration.Seconds()))
}

// String implements fmt.Stringer.
func (i CompactionInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// EventListener contains a set of functions that will be invoked when various
// significant table events occur. Note that the functions should not run for
// an excessive amount of time as they are invoked synchronously by the table
// and may block continued table work.
type EventListener struct {
	// WriteEnd is invoked after a write batch has committed, or failed to.
	WriteEnd func(WriteInfo)
	// CompactionBegin is invoked when a compaction round begins evaluating.
	CompactionBegin func(CompactionInfo)
	// CompactionEnd is invoked when a compaction round concludes, whether
	// triggered, elided, or failed.
	CompactionEnd func(CompactionInfo)
	// BackgroundError is invoked whenever an error occurs on an
	// asynchronous compaction worker.
	BackgroundError func(error)
}

// EnsureDefaults ensures that background error events are logged to the
// specified logger if a handler isn't registered, while other events are
// turned into no-ops.
func (l *EventListener) EnsureDefaults(logger base.Logger) {
	if l.WriteEnd == nil {
		l.WriteEnd = func(WriteInfo) {}
	}
	if l.CompactionBegin == nil {
		l.CompactionBegin = func(CompactionInfo) {}
	}
	if l.CompactionEnd == nil {
		l.CompactionEnd = func(CompactionInfo) {}
	}
	if l.BackgroundError == nil {
		l.BackgroundError = func(err error) {
			logger.Errorf("background error: %s", err)
		}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to
// the specified logger.
func MakeLoggingEventListener(logger base.Logger) EventListener {
	if logger == nil {
		logger = base.DefaultLogger{}
	}
	return EventListener{
		WriteEnd: func(info WriteInfo) {
			logger.Infof("%s", info)
		},
		CompactionBegin: func(info CompactionInfo) {
			logger.Infof("[JOB] %s compaction evaluating at version %s", info.Reason, info.BaseVersion)
		},
		CompactionEnd: func(info CompactionInfo) {
			logger.Infof("%s", info)
		},
		BackgroundError: func(err error) {
			logger.Errorf("background error: %s", err)
		},
	}
}
