// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/stratadb/strata"
)

var (
	partitionBy []string
	configPath  string
	sessionSets []string
)

// tableConfig is the YAML shape accepted by --config: table properties
// stored at creation, and session overrides applied to the invoked
// operation.
type tableConfig struct {
	Properties map[string]string `yaml:"properties"`
	Session    map[string]string `yaml:"session"`
}

func loadConfig() (*tableConfig, error) {
	cfg := &tableConfig{}
	if configPath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", configPath)
	}
	return cfg, nil
}

// session builds the operation session from --config and --set, with --set
// taking precedence.
func session(cfg *tableConfig) (*strata.Session, error) {
	sess := strata.NewSession()
	for key, val := range cfg.Session {
		if err := sess.Set(key, val); err != nil {
			return nil, err
		}
	}
	for _, kv := range sessionSets {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errors.Newf("malformed --set %q, expected key=value", kv)
		}
		if err := sess.Set(key, val); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

var createCmd = &cobra.Command{
	Use:   "create <dir>",
	Short: "create a new table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		t, err := strata.Create(args[0], partitionBy, cfg.Properties, nil)
		if err != nil {
			return err
		}
		fmt.Printf("created %s at version %s\n", args[0], t.Snapshot().Num)
		return t.Close()
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe <dir>",
	Short: "print the current version's files and properties",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := strata.Open(args[0], nil)
		if err != nil {
			return err
		}
		defer t.Close()
		v := t.Snapshot()

		fmt.Printf("version %s: %d files, %d bytes\n", v.Num, v.NumFiles(), v.TotalSize())
		w := tablewriter.NewWriter(os.Stdout)
		w.SetHeader([]string{"path", "size", "partition", "created"})
		for _, f := range v.Files() {
			w.Append([]string{
				f.Path,
				strconv.FormatUint(f.Size, 10),
				f.PartitionKey(v.PartitionSchema),
				f.CreatedAt.String(),
			})
		}
		w.Render()

		if len(v.Properties) > 0 {
			w = tablewriter.NewWriter(os.Stdout)
			w.SetHeader([]string{"property", "value"})
			for _, key := range sortedKeys(v.Properties) {
				w.Append([]string{key, v.Properties[key]})
			}
			w.Render()
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <dir>",
	Short: "print every commit, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := strata.Open(args[0], nil)
		if err != nil {
			return err
		}
		defer t.Close()
		summaries, err := t.History()
		if err != nil {
			return err
		}
		w := tablewriter.NewWriter(os.Stdout)
		w.SetHeader([]string{"version", "added", "removed", "properties"})
		for _, s := range summaries {
			props := ""
			if s.PropertiesChanged {
				props = "changed"
			}
			w.Append([]string{
				s.Version.String(),
				strconv.Itoa(s.AddedFiles),
				strconv.Itoa(s.RemovedFiles),
				props,
			})
		}
		w.Render()
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact <dir>",
	Short: "run a manual whole-table compaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sess, err := session(cfg)
		if err != nil {
			return err
		}
		t, err := strata.Open(args[0], nil)
		if err != nil {
			return err
		}
		defer t.Close()

		before := t.Snapshot().NumFiles()
		num, err := t.Compact(context.Background(), sess)
		if err != nil {
			return err
		}
		fmt.Printf("compacted %d files into %d at version %s\n",
			before, t.Snapshot().NumFiles(), num)
		return nil
	},
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	createCmd.Flags().StringSliceVar(
		&partitionBy, "partition-by", nil, "partition column names")
	for _, cmd := range []*cobra.Command{createCmd, compactCmd, benchCmd} {
		cmd.Flags().StringVar(
			&configPath, "config", "", "YAML file with table properties and session overrides")
		cmd.Flags().StringArrayVar(
			&sessionSets, "set", nil, "session override key=value (repeatable)")
	}
}
