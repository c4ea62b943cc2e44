// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Command strata inspects and exercises strata tables from the command line.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "strata [command] (flags)",
	Short: "strata table introspection/benchmarking tool",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		createCmd,
		describeCmd,
		historyCmd,
		compactCmd,
		benchCmd,
		binpackCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
