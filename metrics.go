// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package strata

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the table's counters. It implements prometheus.Collector so
// a table's metrics can be registered directly with a registry.
type Metrics struct {
	// Commits counts successful commits of any kind.
	Commits prometheus.Counter
	// CommitConflicts counts commit attempts that lost the race against a
	// concurrent commit.
	CommitConflicts prometheus.Counter
	// FilesWritten counts data files materialized by writes.
	FilesWritten prometheus.Counter
	// CompactionsTriggered counts rounds that committed a compaction.
	CompactionsTriggered prometheus.Counter
	// CompactionsNoAction counts rounds that evaluated and found nothing
	// eligible.
	CompactionsNoAction prometheus.Counter
	// CompactionsElided counts triggered rounds whose commit was elided
	// because no merging was possible.
	CompactionsElided prometheus.Counter
	// CompactionsPartial counts rounds that excluded eligible files due to
	// the cumulative byte cap.
	CompactionsPartial prometheus.Counter
	// CompactionRetries counts compaction commit attempts retried after a
	// conflict.
	CompactionRetries prometheus.Counter
	// BytesCompacted counts input bytes rewritten by compactions.
	BytesCompacted prometheus.Counter
}

func newMetrics() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "strata",
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		Commits:              counter("commits_total", "Successful commits."),
		CommitConflicts:      counter("commit_conflicts_total", "Commit attempts that lost a race."),
		FilesWritten:         counter("files_written_total", "Data files materialized by writes."),
		CompactionsTriggered: counter("compactions_triggered_total", "Compaction rounds that committed."),
		CompactionsNoAction:  counter("compactions_noaction_total", "Compaction rounds with nothing eligible."),
		CompactionsElided:    counter("compactions_elided_total", "Triggered rounds with no possible merge."),
		CompactionsPartial:   counter("compactions_partial_total", "Rounds limited by the cumulative byte cap."),
		CompactionRetries:    counter("compaction_retries_total", "Compaction commits retried after a conflict."),
		BytesCompacted:       counter("bytes_compacted_total", "Input bytes rewritten by compactions."),
	}
}

var _ prometheus.Collector = (*Metrics)(nil)

func (m *Metrics) each(f func(prometheus.Counter)) {
	for _, c := range []prometheus.Counter{
		m.Commits, m.CommitConflicts, m.FilesWritten,
		m.CompactionsTriggered, m.CompactionsNoAction, m.CompactionsElided,
		m.CompactionsPartial, m.CompactionRetries, m.BytesCompacted,
	} {
		f(c)
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.each(func(c prometheus.Counter) { c.Describe(ch) })
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.each(func(c prometheus.Counter) { c.Collect(ch) })
}
