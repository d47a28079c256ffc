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

package spec

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"chainguard.dev/concretizer/pkg/version"
)

// HashLength is the number of base32 characters kept from the digest.
const HashLength = 32

var hashEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Node holds the pinned axes of one package, without its dependencies.
type Node struct {
	Name     string
	Version  version.Version
	Variants map[string]VariantValue
	Compiler *Compiler
	Arch     Arch
}

func (n Node) String() string {
	var sb strings.Builder
	sb.WriteString(n.Name)
	if !n.Version.IsZero() {
		sb.WriteString("@" + n.Version.String())
	}
	if n.Compiler != nil {
		sb.WriteString("%" + n.Compiler.String())
	}
	writeVariants(&sb, n.Variants)
	if !n.Arch.IsZero() {
		sb.WriteString(" " + n.Arch.String())
	}
	return sb.String()
}

// Edge links a concrete spec to one of its dependencies.
type Edge struct {
	Spec  *Concrete
	Types DepType
	// Virtuals lists the virtual packages this dependency was chosen for.
	Virtuals []string
}

// Concrete is one node of a resolved dependency graph. It is immutable and
// identified by its hash, which covers the node and, transitively, all of
// its dependencies.
type Concrete struct {
	node Node
	deps []Edge
	hash string
}

// NewConcrete builds a concrete spec. The node must pin a version and the
// edges must name distinct packages.
func NewConcrete(n Node, edges []Edge) (*Concrete, error) {
	if n.Name == "" {
		return nil, fmt.Errorf("concrete spec without a name")
	}
	if n.Version.IsZero() {
		return nil, fmt.Errorf("%s: concrete spec without a version", n.Name)
	}
	n.Variants = maps.Clone(n.Variants)
	if n.Compiler != nil {
		c := *n.Compiler
		n.Compiler = &c
	}
	deps := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if e.Spec == nil {
			return nil, fmt.Errorf("%s: dependency edge without a spec", n.Name)
		}
		v := slices.Clone(e.Virtuals)
		slices.Sort(v)
		deps = append(deps, Edge{Spec: e.Spec, Types: e.Types, Virtuals: slices.Compact(v)})
	}
	slices.SortFunc(deps, func(a, b Edge) int { return strings.Compare(a.Spec.Name(), b.Spec.Name()) })
	for i := 1; i < len(deps); i++ {
		if deps[i].Spec.Name() == deps[i-1].Spec.Name() {
			return nil, fmt.Errorf("%s: duplicate dependency %s", n.Name, deps[i].Spec.Name())
		}
	}
	c := &Concrete{node: n, deps: deps}
	h, err := computeHash(c.Document())
	if err != nil {
		return nil, fmt.Errorf("%s: hashing: %w", n.Name, err)
	}
	c.hash = h
	return c, nil
}

func computeHash(doc Document) (string, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return strings.ToLower(hashEncoding.EncodeToString(sum[:]))[:HashLength], nil
}

func (c *Concrete) Name() string             { return c.node.Name }
func (c *Concrete) Version() version.Version { return c.node.Version }
func (c *Concrete) Arch() Arch               { return c.node.Arch }
func (c *Concrete) Hash() string             { return c.hash }

// ShortHash returns the first seven characters of the hash.
func (c *Concrete) ShortHash() string { return c.hash[:7] }

// Node returns a copy of the pinned axes of c.
func (c *Concrete) Node() Node {
	n := c.node
	n.Variants = maps.Clone(c.node.Variants)
	if c.node.Compiler != nil {
		cc := *c.node.Compiler
		n.Compiler = &cc
	}
	return n
}

// Compiler returns the compiler c is built with, if any.
func (c *Concrete) Compiler() (Compiler, bool) {
	if c.node.Compiler == nil {
		return Compiler{}, false
	}
	return *c.node.Compiler, true
}

// Variant returns the value of the named variant.
func (c *Concrete) Variant(name string) (VariantValue, bool) {
	v, ok := c.node.Variants[name]
	return v, ok
}

// Variants returns a copy of the variant values of c.
func (c *Concrete) Variants() map[string]VariantValue { return maps.Clone(c.node.Variants) }

// Dependencies returns the direct dependency edges of c, ordered by name.
func (c *Concrete) Dependencies() []Edge { return slices.Clone(c.deps) }

// Dependency returns the direct dependency named name.
func (c *Concrete) Dependency(name string) (Edge, bool) {
	i, found := slices.BinarySearchFunc(c.deps, name, func(e Edge, n string) int { return strings.Compare(e.Spec.Name(), n) })
	if !found {
		return Edge{}, false
	}
	return c.deps[i], true
}

// Find returns the node named name among c and its transitive dependencies.
func (c *Concrete) Find(name string) (*Concrete, bool) {
	for _, n := range c.Traverse() {
		if n.Name() == name {
			return n, true
		}
	}
	return nil, false
}

// Traverse returns c and every transitive dependency once, dependencies
// before their dependents.
func (c *Concrete) Traverse() []*Concrete {
	seen := map[string]bool{}
	var out []*Concrete
	var visit func(n *Concrete)
	visit = func(n *Concrete) {
		if seen[n.hash] {
			return
		}
		seen[n.hash] = true
		for _, e := range n.deps {
			visit(e.Spec)
		}
		out = append(out, n)
	}
	visit(c)
	return out
}

// Satisfies reports whether c meets every requirement of o, including
// `^dep` requirements on transitive dependencies.
func (c *Concrete) Satisfies(o *Constraint) bool {
	return o.Matches(c.node, func(name string) (Node, bool) {
		d, ok := c.Find(name)
		if !ok {
			return Node{}, false
		}
		return d.node, true
	})
}

// Constraint returns the exact request matching c's own axes.
func (c *Concrete) Constraint() *Constraint {
	out := &Constraint{
		Name:     c.node.Name,
		Versions: version.Exactly(c.node.Version),
		Variants: maps.Clone(c.node.Variants),
		Arch:     c.node.Arch,
	}
	if c.node.Compiler != nil {
		out.Compiler = &CompilerConstraint{Name: c.node.Compiler.Name, Versions: version.Exactly(c.node.Compiler.Version)}
	}
	return out
}

func (c *Concrete) String() string { return c.node.String() }

// Tree renders c and its dependencies as an indented tree. Each node is
// expanded once; later occurrences are printed without children.
func (c *Concrete) Tree(withHashes bool) string {
	var sb strings.Builder
	seen := map[string]bool{}
	var walk func(n *Concrete, depth int)
	walk = func(n *Concrete, depth int) {
		if withHashes {
			sb.WriteString(n.ShortHash() + "  ")
		}
		sb.WriteString(strings.Repeat("    ", depth))
		if depth > 0 {
			sb.WriteString("^")
		}
		sb.WriteString(n.String() + "\n")
		if seen[n.hash] {
			return
		}
		seen[n.hash] = true
		for _, e := range n.deps {
			walk(e.Spec, depth+1)
		}
	}
	walk(c, 0)
	return sb.String()
}
