// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package strata

import (
	"strconv"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/errors"
	"github.com/stratadb/strata/internal/manifest"
)

// Configuration keys. Each tunable resolves by precedence: session override,
// then table-level stored property, then the process-wide default from
// Options. Size-valued keys accept either plain byte counts or humanized
// values such as "128MB".
const (
	// OptimizeWriteEnabledKey enables pre-write rebalancing.
	OptimizeWriteEnabledKey = "optimizeWrite.enabled"
	// OptimizeWriteBinSizeKey is the target output file size for rebalanced
	// writes.
	OptimizeWriteBinSizeKey = "optimizeWrite.binSizeBytes"
	// AutoCompactEnabledKey enables post-commit compaction.
	AutoCompactEnabledKey = "autoCompact.enabled"
	// AutoCompactMinNumFilesKey is the minimum eligible file count required
	// to trigger a round.
	AutoCompactMinNumFilesKey = "autoCompact.minNumFiles"
	// AutoCompactMaxFileSizeKey is the per-file exclusion ceiling and
	// compaction target size.
	AutoCompactMaxFileSizeKey = "autoCompact.maxFileSizeBytes"
	// AutoCompactMaxCompactBytesKey caps the cumulative bytes rewritten per
	// round. The value "none" clears a table-level cap.
	AutoCompactMaxCompactBytesKey = "autoCompact.maxCompactBytes"
	// AutoCompactTargetKey selects the compaction scope: "commit" or
	// "partition".
	AutoCompactTargetKey = "autoCompact.target"
)

var knownKeys = map[string]bool{
	OptimizeWriteEnabledKey:       true,
	OptimizeWriteBinSizeKey:       true,
	AutoCompactEnabledKey:         true,
	AutoCompactMinNumFilesKey:     true,
	AutoCompactMaxFileSizeKey:     true,
	AutoCompactMaxCompactBytesKey: true,
	AutoCompactTargetKey:          true,
}

// Session holds per-operation configuration overrides. A Session shadows
// both table properties and process defaults for the operations it is passed
// to. A nil *Session carries no overrides.
type Session struct {
	overrides map[string]string
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{overrides: make(map[string]string)}
}

// Set installs an override for key. Unknown keys are rejected.
func (s *Session) Set(key, value string) error {
	if !knownKeys[key] {
		return errors.Mark(
			errors.Newf("strata: unknown configuration key %q", key), ErrConfigConflict)
	}
	s.overrides[key] = value
	return nil
}

// Unset removes an override.
func (s *Session) Unset(key string) {
	delete(s.overrides, key)
}

func (s *Session) get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	val, ok := s.overrides[key]
	return val, ok
}

// EffectiveConfig is the fully resolved set of tunables for one operation.
type EffectiveConfig struct {
	OptimizeWriteEnabled       bool
	TargetBinSize              uint64
	AutoCompactEnabled         bool
	AutoCompactMinNumFiles     int
	AutoCompactMaxFileSize     uint64
	AutoCompactMaxCompactBytes uint64 // 0 means no cap
	AutoCompactScope           CompactScope
}

// resolveConfig resolves every tunable against a pinned version. Table
// properties come from that version, so a property change committed later
// never affects an operation already resolved (and never applies
// retroactively). Malformed values abort the operation before any write.
func resolveConfig(
	opts *Options, v *manifest.Version, sess *Session,
) (EffectiveConfig, error) {
	cfg := EffectiveConfig{
		OptimizeWriteEnabled:       opts.OptimizeWrite,
		TargetBinSize:              opts.OptimizeWriteBinSize,
		AutoCompactEnabled:         opts.AutoCompact,
		AutoCompactMinNumFiles:     opts.AutoCompactMinNumFiles,
		AutoCompactMaxFileSize:     opts.AutoCompactMaxFileSize,
		AutoCompactMaxCompactBytes: opts.AutoCompactMaxCompactBytes,
		AutoCompactScope:           opts.AutoCompactScope,
	}

	lookup := func(key string) (string, bool) {
		if val, ok := sess.get(key); ok {
			return val, true
		}
		if v != nil {
			if val, ok := v.Property(key); ok {
				return val, true
			}
		}
		return "", false
	}
	var err error
	resolveBool := func(key string, dst *bool) {
		val, ok := lookup(key)
		if !ok || err != nil {
			return
		}
		b, perr := strconv.ParseBool(val)
		if perr != nil {
			err = confErr(key, val, perr)
			return
		}
		*dst = b
	}
	resolveSize := func(key string, dst *uint64, allowZero bool) {
		val, ok := lookup(key)
		if !ok || err != nil {
			return
		}
		if val == "none" && allowZero {
			*dst = 0
			return
		}
		sz, perr := crhumanize.ParseBytes[uint64](val)
		if perr != nil {
			err = confErr(key, val, perr)
			return
		}
		if sz == 0 && !allowZero {
			err = confErr(key, val, errors.New("must be positive"))
			return
		}
		*dst = sz
	}

	resolveBool(OptimizeWriteEnabledKey, &cfg.OptimizeWriteEnabled)
	resolveSize(OptimizeWriteBinSizeKey, &cfg.TargetBinSize, false)
	resolveBool(AutoCompactEnabledKey, &cfg.AutoCompactEnabled)
	resolveSize(AutoCompactMaxFileSizeKey, &cfg.AutoCompactMaxFileSize, false)
	resolveSize(AutoCompactMaxCompactBytesKey, &cfg.AutoCompactMaxCompactBytes, true)
	if val, ok := lookup(AutoCompactMinNumFilesKey); ok && err == nil {
		n, perr := strconv.Atoi(val)
		if perr != nil || n < 1 {
			err = confErr(AutoCompactMinNumFilesKey, val, errors.New("must be a positive integer"))
		} else {
			cfg.AutoCompactMinNumFiles = n
		}
	}
	if val, ok := lookup(AutoCompactTargetKey); ok && err == nil {
		scope, perr := ParseCompactScope(val)
		if perr != nil {
			err = confErr(AutoCompactTargetKey, val, perr)
		} else {
			cfg.AutoCompactScope = scope
		}
	}
	if err != nil {
		return EffectiveConfig{}, err
	}
	return cfg, nil
}

func confErr(key, value string, cause error) error {
	return errors.Mark(
		errors.Wrapf(cause, "strata: invalid value %q for %s", value, key),
		ErrConfigConflict)
}

// validateProperties parses every known key in props, rejecting malformed
// values before they are persisted as table properties.
func validateProperties(opts *Options, props map[string]string) error {
	for key := range props {
		if !knownKeys[key] {
			return errors.Mark(
				errors.Newf("strata: unknown configuration key %q", key), ErrConfigConflict)
		}
	}
	v := manifest.NewVersion(0, nil, props, nil)
	_, err := resolveConfig(opts, v, nil)
	return err
}
