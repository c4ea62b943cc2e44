// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package plan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripRedundantRepartition(t *testing.T) {
	src := &Source{Name: "scan"}
	testCases := []struct {
		name string
		in   Node
		want string
	}{
		{"count-only repartition elided", &Repartition{Count: 10, Child: src}, "scan"},
		{"coalesce elided", &Coalesce{Count: 2, Child: src}, "scan"},
		{"column repartition kept", &Repartition{Count: 10, Columns: []string{"region"}, Child: src}, "repartition(10, [region])(scan)"},
		{"bare source unchanged", src, "scan"},
		{"adaptive wrapper rebuilt around pruned input",
			&Adaptive{Child: &Repartition{Count: 4, Child: src}}, "adaptive(scan)"},
		{"adaptive wrapper over coalesce", &Adaptive{Child: &Coalesce{Count: 1, Child: src}}, "adaptive(scan)"},
		{"adaptive wrapper over plain source unchanged", &Adaptive{Child: src}, "adaptive(scan)"},
		{"non-top repartition untouched",
			&Repartition{Count: 3, Columns: []string{"k"}, Child: &Coalesce{Count: 1, Child: src}},
			"repartition(3, [k])(coalesce(1)(scan))"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, StripRedundantRepartition(tc.in).String())
		})
	}
}

func TestStripRedundantRepartitionPreservesUnchangedWrapper(t *testing.T) {
	// When nothing is elided, the same wrapper node comes back rather than a
	// reconstructed copy.
	n := &Adaptive{Child: &Source{Name: "scan"}}
	require.Same(t, Node(n), StripRedundantRepartition(n))
}

func TestChooseRebalancePartitioning(t *testing.T) {
	t.Run("hash iff partitioned", func(t *testing.T) {
		p := ChooseRebalancePartitioning([]string{"date", "region"}, 16)
		h, ok := p.(*HashPartitioning)
		require.True(t, ok)
		require.Equal(t, []string{"date", "region"}, h.Columns)
		require.Equal(t, 16, p.NumBuckets())

		p = ChooseRebalancePartitioning(nil, 16)
		_, ok = p.(*RoundRobinPartitioning)
		require.True(t, ok)
		require.Equal(t, 16, p.NumBuckets())
	})

	t.Run("bucket count equals requested parallelism", func(t *testing.T) {
		for _, n := range []int{1, 2, 7, 100} {
			require.Equal(t, n, ChooseRebalancePartitioning(nil, n).NumBuckets())
			require.Equal(t, n, ChooseRebalancePartitioning([]string{"k"}, n).NumBuckets())
		}
		// Degenerate parallelism clamps to a single bucket.
		require.Equal(t, 1, ChooseRebalancePartitioning(nil, 0).NumBuckets())
	})

	t.Run("hash routing is deterministic and key-affine", func(t *testing.T) {
		p := ChooseRebalancePartitioning([]string{"date"}, 8)
		a := p.Bucket(map[string]string{"date": "2026-08-30"}, 0)
		b := p.Bucket(map[string]string{"date": "2026-08-30"}, 17)
		require.Equal(t, a, b)
		require.GreaterOrEqual(t, a, 0)
		require.Less(t, a, 8)
	})

	t.Run("round robin spreads by ordinal", func(t *testing.T) {
		p := ChooseRebalancePartitioning(nil, 3)
		require.Equal(t, 0, p.Bucket(nil, 0))
		require.Equal(t, 1, p.Bucket(nil, 1))
		require.Equal(t, 2, p.Bucket(nil, 2))
		require.Equal(t, 0, p.Bucket(nil, 3))
	})
}
