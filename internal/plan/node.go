// Copyright 2025 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package plan models the small closed set of write-plan operators the write
// path inspects, and the rewrites and partitioning decisions applied to them
// before a batch is materialized.
package plan

import "fmt"

// Node is an operator in an incoming write plan. The write path only ever
// inspects the topmost operators; everything below is opaque.
type Node interface {
	// Input returns the child plan, or nil for leaves.
	Input() Node
	fmt.Stringer
}

// Repartition redistributes its input into Count output partitions. When
// Columns is empty the repartitioning is by explicit count only; otherwise
// rows are clustered by the named columns.
type Repartition struct {
	Count   int
	Columns []string
	Child   Node
}

// Input returns the child plan.
func (r *Repartition) Input() Node { return r.Child }

func (r *Repartition) String() string {
	if len(r.Columns) > 0 {
		return fmt.Sprintf("repartition(%d, %v)(%s)", r.Count, r.Columns, r.Child)
	}
	return fmt.Sprintf("repartition(%d)(%s)", r.Count, r.Child)
}

// Coalesce reduces its input to Count output partitions without a shuffle.
type Coalesce struct {
	Count int
	Child Node
}

// Input returns the child plan.
func (c *Coalesce) Input() Node { return c.Child }

func (c *Coalesce) String() string {
	return fmt.Sprintf("coalesce(%d)(%s)", c.Count, c.Child)
}

// Adaptive wraps a plan whose physical choices are deferred until execution.
// Rewrites that inspect the topmost operator must look through the wrapper
// and reconstruct it around the rewritten input.
type Adaptive struct {
	Child Node
}

// Input returns the wrapped plan.
func (a *Adaptive) Input() Node { return a.Child }

func (a *Adaptive) String() string {
	return fmt.Sprintf("adaptive(%s)", a.Child)
}

// Source is an opaque leaf: the upstream operator producing the rows being
// written.
type Source struct {
	Name string
}

// Input returns nil.
func (s *Source) Input() Node { return nil }

func (s *Source) String() string { return s.Name }

// StripRedundantRepartition elides a topmost count-only Repartition or
// Coalesce from the plan. The caller is about to layer its own partitioning
// on top; leaving the user-specified operator in place would execute two
// partitioning passes serially, with the second silently overriding the
// first's effect on file count. An Adaptive wrapper is looked through: the
// rewrite applies to its input and the wrapper is rebuilt around the result.
// Any other topmost operator is returned unchanged.
func StripRedundantRepartition(n Node) Node {
	switch t := n.(type) {
	case *Repartition:
		if len(t.Columns) == 0 {
			return t.Child
		}
		return n
	case *Coalesce:
		return t.Child
	case *Adaptive:
		inner := StripRedundantRepartition(t.Child)
		if inner == t.Child {
			return n
		}
		return &Adaptive{Child: inner}
	default:
		return n
	}
}
