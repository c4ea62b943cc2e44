// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package binpack groups ordered sequences of file sizes into bins that
// approximate a target byte size. The packer is a greedy, single-pass
// heuristic: it favors determinism and linear cost over optimal packing, and
// it treats outlier-small fragments specially, merging them into the running
// bin even when that pushes the bin past the target.
package binpack

import "github.com/cockroachdb/errors"

// SplitSizesByTarget returns the start offsets of bins covering sizes. The
// result always begins with 0, is strictly increasing, and every offset is a
// valid index into sizes.
//
// A new bin starts before element i when the element is not "small" (at
// least smallFraction*target bytes), the running bin is not itself still
// small, and either the running bin has already reached target or appending
// the element would push it past mergedFraction*target. Small elements never
// open a bin of their own: they are absorbed into the running bin regardless
// of the merged ceiling, so a trailing undersized fragment always merges
// backward.
//
// sizes must be non-empty; an empty input is a programmer error.
func SplitSizesByTarget(
	sizes []uint64, target uint64, smallFraction, mergedFraction float64,
) ([]int, error) {
	if len(sizes) == 0 {
		return nil, errors.AssertionFailedf("binpack: empty size list")
	}
	if target == 0 {
		return nil, errors.AssertionFailedf("binpack: zero target size")
	}
	if smallFraction < 0 || smallFraction > 1 || mergedFraction < 1 {
		return nil, errors.AssertionFailedf(
			"binpack: fractions out of range (small=%f, merged=%f)", smallFraction, mergedFraction)
	}

	small := smallFraction * float64(target)
	ceiling := mergedFraction * float64(target)
	splits := []int{0}
	cur := float64(sizes[0])
	for i := 1; i < len(sizes); i++ {
		sz := float64(sizes[i])
		if sz >= small && cur >= small && (cur >= float64(target) || cur+sz > ceiling) {
			splits = append(splits, i)
			cur = 0
		}
		cur += sz
	}
	return splits, nil
}

// Bins materializes the (start, end) index ranges described by the split
// offsets returned from SplitSizesByTarget. end is exclusive.
func Bins(n int, splits []int) [][2]int {
	bins := make([][2]int, len(splits))
	for i, start := range splits {
		end := n
		if i+1 < len(splits) {
			end = splits[i+1]
		}
		bins[i] = [2]int{start, end}
	}
	return bins
}
