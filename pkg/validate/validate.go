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

// Package validate checks resolved dependency graphs against the recipes
// they were resolved from.
package validate

import (
	"fmt"
	"maps"
	"slices"

	"k8s.io/apimachinery/pkg/util/sets"

	"chainguard.dev/concretizer/pkg/recipe"
	"chainguard.dev/concretizer/pkg/spec"
)

// IncompleteSpecError reports a node with an unpinned axis or a missing
// dependency.
type IncompleteSpecError struct {
	Node   string
	Reason string
}

func (e *IncompleteSpecError) Error() string {
	return fmt.Sprintf("incomplete spec %s: %s", e.Node, e.Reason)
}

// InconsistentGraphError reports a node that contradicts its recipe or the
// rest of the graph.
type InconsistentGraphError struct {
	Node   string
	Reason string
}

func (e *InconsistentGraphError) Error() string {
	return fmt.Sprintf("inconsistent graph at %s: %s", e.Node, e.Reason)
}

// Result summarizes a valid graph.
type Result struct {
	Nodes int
	// Bindings maps each consumed virtual to the name of its provider.
	Bindings map[string]string
}

type opts struct {
	tests recipe.TestPolicy
}

// Option configures Validate.
type Option func(*opts)

// WithTests requires test dependencies according to p. With
// recipe.TestsRoot only the root node must carry them.
func WithTests(p recipe.TestPolicy) Option {
	return func(o *opts) {
		o.tests = p
	}
}

// Validate checks that every node of root is concrete, that every
// dependency its recipe declares for its configuration is present and
// satisfied, that every consumed virtual has exactly one provider and that
// no package appears twice with different identities.
func Validate(root *spec.Concrete, db recipe.Database, options ...Option) (*Result, error) {
	o := &opts{tests: recipe.TestsNone}
	for _, opt := range options {
		opt(o)
	}

	nodes := root.Traverse()
	byName := make(map[string]*spec.Concrete, len(nodes))
	for _, n := range nodes {
		if prev, ok := byName[n.Name()]; ok && prev.Hash() != n.Hash() {
			return nil, &InconsistentGraphError{
				Node:   n.Name(),
				Reason: fmt.Sprintf("appears twice, as %s and %s", prev.ShortHash(), n.ShortHash()),
			}
		}
		byName[n.Name()] = n
	}

	bindings := map[string]string{}
	for _, n := range nodes {
		def, err := db.Get(n.Name())
		if err != nil {
			return nil, err
		}
		if err := checkNode(n, def); err != nil {
			return nil, err
		}
		if err := checkDependencies(n, def, db, o.tests.Includes(n == root)); err != nil {
			return nil, err
		}
		for _, e := range n.Dependencies() {
			for _, v := range e.Virtuals {
				if p, ok := bindings[v]; ok && p != e.Spec.Name() {
					return nil, &InconsistentGraphError{
						Node:   n.String(),
						Reason: fmt.Sprintf("virtual %s is provided by both %s and %s", v, p, e.Spec.Name()),
					}
				}
				bindings[v] = e.Spec.Name()
			}
		}
	}
	return &Result{Nodes: len(nodes), Bindings: bindings}, nil
}

func checkNode(n *spec.Concrete, def *recipe.PackageDef) error {
	node := n.Node()
	incomplete := func(format string, args ...any) error {
		return &IncompleteSpecError{Node: n.String(), Reason: fmt.Sprintf(format, args...)}
	}
	if _, ok := def.Version(node.Version); !ok {
		return &InconsistentGraphError{Node: n.String(), Reason: fmt.Sprintf("%s has no version %s", def.Name, node.Version)}
	}
	if !node.Arch.IsConcrete() {
		return incomplete("platform %q is not fully specified", node.Arch)
	}
	switch {
	case def.NeedsCompiler() && node.Compiler == nil:
		return incomplete("no compiler")
	case !def.NeedsCompiler() && node.Compiler != nil:
		return &InconsistentGraphError{Node: n.String(), Reason: "build system does not use a compiler"}
	}

	active := sets.New[string]()
	for _, vd := range def.ActiveVariants(node) {
		active.Insert(vd.Name)
		val, ok := node.Variants[vd.Name]
		if !ok {
			return incomplete("variant %s is not set", vd.Name)
		}
		val.Multi = vd.Multi
		if !vd.Allowed(val) {
			return &InconsistentGraphError{Node: n.String(), Reason: fmt.Sprintf("%s is not a valid value of variant %s", val, vd.Name)}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(node.Variants)) {
		if !active.Has(name) {
			return &InconsistentGraphError{Node: n.String(), Reason: fmt.Sprintf("variant %s does not apply", name)}
		}
	}
	for _, c := range def.Conflicts {
		if c.Fires(node, dependencyLookup(n)) {
			return &InconsistentGraphError{Node: n.String(), Reason: c.String()}
		}
	}
	return nil
}

func checkDependencies(n *spec.Concrete, def *recipe.PackageDef, db recipe.Database, tests bool) error {
	for _, d := range def.ActiveDependencies(n.Node(), tests) {
		target := d.Spec.Name
		if db.IsVirtual(target) {
			e, ok := providerEdge(n, target)
			if !ok {
				return &IncompleteSpecError{Node: n.String(), Reason: fmt.Sprintf("no provider for virtual %s", target)}
			}
			pdef, err := db.Get(e.Spec.Name())
			if err != nil {
				return err
			}
			if !provides(pdef, e.Spec.Node(), d.Spec) {
				return &InconsistentGraphError{
					Node:   n.String(),
					Reason: fmt.Sprintf("%s does not provide %s", e.Spec, d.Spec.OwnAxes()),
				}
			}
			continue
		}
		e, ok := n.Dependency(target)
		if !ok {
			return &IncompleteSpecError{Node: n.String(), Reason: fmt.Sprintf("missing dependency %s", target)}
		}
		if !e.Types.Has(d.Types) {
			return &InconsistentGraphError{
				Node:   n.String(),
				Reason: fmt.Sprintf("dependency %s has types %s, want %s", target, e.Types, d.Types),
			}
		}
		if !d.Spec.Matches(e.Spec.Node(), dependencyLookup(e.Spec)) {
			return &InconsistentGraphError{
				Node:   n.String(),
				Reason: fmt.Sprintf("dependency %s does not satisfy %s", e.Spec, d.Spec),
			}
		}
	}
	return nil
}

func providerEdge(n *spec.Concrete, virtual string) (spec.Edge, bool) {
	for _, e := range n.Dependencies() {
		if slices.Contains(e.Virtuals, virtual) {
			return e, true
		}
	}
	return spec.Edge{}, false
}

// provides reports whether node, a configuration of def, provides the
// versions of the virtual that want asks for.
func provides(def *recipe.PackageDef, node spec.Node, want *spec.Constraint) bool {
	for _, pd := range def.Provisions(want.Name) {
		if pd.When != nil && !pd.When.MatchesNode(node) {
			continue
		}
		if pd.Virtual.Versions.Intersects(want.Versions) {
			return true
		}
	}
	return false
}

// dependencyLookup finds nodes among the transitive dependencies of n. A
// virtual name is found when some edge below n was chosen for it.
func dependencyLookup(n *spec.Concrete) func(string) (spec.Node, bool) {
	all := n.Traverse()
	deps := all[:len(all)-1]
	return func(name string) (spec.Node, bool) {
		for _, d := range deps {
			if d.Name() == name {
				return d.Node(), true
			}
		}
		for _, d := range all {
			for _, e := range d.Dependencies() {
				if slices.Contains(e.Virtuals, name) {
					return spec.Node{Name: name}, true
				}
			}
		}
		return spec.Node{}, false
	}
}
