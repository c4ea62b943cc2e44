// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/stratadb/strata/internal/binpack"
)

var (
	binpackTarget string
	binpackSmall  float64
	binpackMerged float64
)

var binpackCmd = &cobra.Command{
	Use:   "binpack <size>...",
	Short: "debug the size bin packer against a list of file sizes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := crhumanize.ParseBytes[uint64](binpackTarget)
		if err != nil {
			return err
		}
		sizes := make([]uint64, len(args))
		for i, arg := range args {
			if sizes[i], err = crhumanize.ParseBytes[uint64](arg); err != nil {
				return err
			}
		}
		splits, err := binpack.SplitSizesByTarget(sizes, target, binpackSmall, binpackMerged)
		if err != nil {
			return err
		}
		w := tablewriter.NewWriter(os.Stdout)
		w.SetHeader([]string{"bin", "files", "total"})
		for i, b := range binpack.Bins(len(sizes), splits) {
			var total uint64
			for _, sz := range sizes[b[0]:b[1]] {
				total += sz
			}
			w.Append([]string{
				strconv.Itoa(i),
				fmt.Sprintf("[%d,%d)", b[0], b[1]),
				strconv.FormatUint(total, 10),
			})
		}
		w.Render()
		return nil
	},
}

func init() {
	binpackCmd.Flags().StringVar(
		&binpackTarget, "target", "128MB", "target bin size")
	binpackCmd.Flags().Float64Var(
		&binpackSmall, "small", 0.5, "small fraction of target")
	binpackCmd.Flags().Float64Var(
		&binpackMerged, "merged", 1.2, "merged fraction of target")
}
