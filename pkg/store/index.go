// Copyright 2025 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store indexes concrete specs that already exist, such as
// installed packages or the contents of earlier lockfiles, so the resolver
// can reuse them instead of building fresh configurations.
package store

import (
	"slices"
	"strings"

	"chainguard.dev/concretizer/pkg/spec"
)

// Index is an immutable set of concrete specs searchable by constraint.
type Index struct {
	byName map[string][]*spec.Concrete
	all    []*spec.Concrete
}

// NewIndex indexes specs and all of their transitive dependencies. Nodes
// are deduplicated by hash.
func NewIndex(specs ...*spec.Concrete) *Index {
	idx := &Index{byName: map[string][]*spec.Concrete{}}
	seen := map[string]bool{}
	for _, s := range specs {
		for _, n := range s.Traverse() {
			if seen[n.Hash()] {
				continue
			}
			seen[n.Hash()] = true
			idx.byName[n.Name()] = append(idx.byName[n.Name()], n)
			idx.all = append(idx.all, n)
		}
	}
	for _, ns := range idx.byName {
		slices.SortFunc(ns, byVersionThenHash)
	}
	slices.SortFunc(idx.all, func(a, b *spec.Concrete) int { return strings.Compare(a.Hash(), b.Hash()) })
	return idx
}

func byVersionThenHash(a, b *spec.Concrete) int {
	if c := b.Version().Compare(a.Version()); c != 0 {
		return c
	}
	return strings.Compare(a.Hash(), b.Hash())
}

// FindMatching returns the indexed specs satisfying c, newest version first
// and then by hash. Only exact matches are returned: every axis c pins must
// be equal and every `^dep` requirement must hold in the spec's own
// dependency graph.
func (idx *Index) FindMatching(c *spec.Constraint) []*spec.Concrete {
	if idx == nil {
		return nil
	}
	var out []*spec.Concrete
	for _, n := range idx.byName[c.Name] {
		if n.Satisfies(c) {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of distinct specs.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.all)
}

// All returns every spec, ordered by hash.
func (idx *Index) All() []*spec.Concrete {
	if idx == nil {
		return nil
	}
	return slices.Clone(idx.all)
}

// Get returns the spec with the given hash.
func (idx *Index) Get(hash string) (*spec.Concrete, bool) {
	if idx == nil {
		return nil, false
	}
	i, found := slices.BinarySearchFunc(idx.all, hash, func(c *spec.Concrete, h string) int { return strings.Compare(c.Hash(), h) })
	if !found {
		return nil, false
	}
	return idx.all[i], true
}
