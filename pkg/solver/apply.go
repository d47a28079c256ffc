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

package solver

import (
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"

	"chainguard.dev/concretizer/pkg/spec"
)

// errDuplicate marks a fresh configuration that differs from an earlier one
// only in variants that do not apply to it.
var errDuplicate = errors.New("duplicate configuration")

func noDependencies(string) (spec.Node, bool) { return spec.Node{}, false }

func (s *state) apply(name string, alt alternative, ch choices) error {
	switch {
	case alt.reuse != nil:
		return s.applyReuse(alt.reuse)
	case alt.provider != nil:
		return s.applyProvider(name, alt)
	}
	return s.applyFresh(name, alt, ch.(*packageChoices))
}

func (s *state) applyFresh(name string, alt alternative, pc *packageChoices) error {
	def := s.def(name)
	r := s.reqs[name]

	arch := r.c.Arch
	if p, ok := s.parentNode(name); ok {
		arch = arch.Fill(p.Arch)
	}
	n := spec.Node{
		Name:     name,
		Version:  alt.version,
		Compiler: alt.compiler,
		Arch:     arch.Fill(s.sv.o.platform),
		Variants: map[string]spec.VariantValue{},
	}
	// Conditional variants see the values assigned before them.
	for j, vd := range def.Variants {
		if vd.When != nil && !vd.When.MatchesNode(n) {
			if alt.digits[j] != 0 {
				return errDuplicate
			}
			continue
		}
		n.Variants[vd.Name] = pc.variants[j][alt.digits[j]]
	}
	if len(n.Variants) == 0 {
		n.Variants = nil
	}

	if !r.c.MatchesNode(n) {
		return s.unsatisfied(name, fmt.Sprintf("%s does not satisfy %s", n, r.c), nil)
	}
	for _, c := range def.Conflicts {
		if !c.OnDependencies() && c.Fires(n, noDependencies) {
			return s.unsatisfied(name, fmt.Sprintf("%s %s", n, c), nil)
		}
	}

	nd := &node{Node: n, def: def}
	s.decide(name, nd)

	tests := s.sv.o.policy.Tests.Includes(s.roots.Has(name))
	for _, d := range def.ActiveDependencies(n, tests) {
		target := d.Spec.Name
		if err := s.constrain(target, d.Spec, Origin{Dependent: name, Constraint: d.Spec.String()}, name); err != nil {
			return err
		}
		k, _ := s.kind(target)
		nd.addEdge(edge{target: target, types: d.Types, conditional: d.When != nil || k == virtualKind})
		s.markOpen(target)
	}
	return nil
}

func (s *state) applyProvider(virtual string, alt alternative) error {
	r := s.reqs[virtual]
	p := alt.provider
	s.bind(virtual, binding{provider: p.Name, provision: alt.provision})
	if s.roots.Has(virtual) {
		assign(&s.trail, s.roots, p.Name, sets.Empty{})
	}

	c := spec.Named(p.Name)
	reason := "to provide " + alt.provision.Virtual.String()
	if alt.provision.When != nil {
		c = alt.provision.When.WithName(p.Name)
		reason = c.String() + " " + reason
	}
	if err := s.constrain(p.Name, c, Origin{Dependent: p.Name, Constraint: reason}, r.parent); err != nil {
		return err
	}
	if err := s.forward(virtual, p.Name); err != nil {
		return err
	}
	s.markOpen(p.Name)
	return nil
}

// applyReuse decides every node of an installed spec that is not decided
// yet. Nodes that are already decided must be the same installed node.
func (s *state) applyReuse(c *spec.Concrete) error {
	for _, in := range c.Traverse() {
		name := in.Name()
		if d, ok := s.decided[name]; ok {
			if d.reused == nil || d.reused.Hash() != in.Hash() {
				return s.unsatisfied(name, fmt.Sprintf("installed %s/%s differs from chosen %s", in, in.ShortHash(), d.Node), nil)
			}
			continue
		}
		if k, err := s.kind(name); err != nil || k != packageKind {
			return s.unsatisfied(name, fmt.Sprintf("installed %s/%s is not a known package", in, in.ShortHash()), err)
		}
		if r, ok := s.reqs[name]; ok && !r.c.MatchesNode(in.Node()) {
			return s.unsatisfied(name, fmt.Sprintf("installed %s/%s does not satisfy %s", in, in.ShortHash(), r.c), nil)
		}

		nd := &node{Node: in.Node(), def: s.def(name), reused: in}
		for _, e := range in.Dependencies() {
			if len(e.Virtuals) == 0 {
				nd.addEdge(edge{target: e.Spec.Name(), types: e.Types})
				continue
			}
			for _, v := range e.Virtuals {
				if err := s.reuseBinding(v, e.Spec); err != nil {
					return err
				}
				nd.addEdge(edge{target: v, types: e.Types, conditional: true})
			}
		}
		s.decide(name, nd)
	}
	return nil
}

// reuseBinding binds virtual to an installed provider.
func (s *state) reuseBinding(virtual string, provider *spec.Concrete) error {
	if b, ok := s.bound[virtual]; ok {
		if b.provider != provider.Name() {
			return s.unsatisfied(virtual, fmt.Sprintf("installed %s provides %s, but %s was chosen", provider, virtual, b.provider), nil)
		}
		return nil
	}
	if k, err := s.kind(virtual); err != nil || k != virtualKind {
		return s.unsatisfied(virtual, fmt.Sprintf("installed %s provides %s, which is not a virtual", provider, virtual), err)
	}
	def := s.def(provider.Name())
	n := provider.Node()
	for _, pd := range def.Provisions(virtual) {
		if pd.When != nil && !pd.When.MatchesNode(n) {
			continue
		}
		if r, ok := s.reqs[virtual]; ok && !pd.Virtual.Versions.Intersects(r.c.Versions) {
			continue
		}
		s.bind(virtual, binding{provider: provider.Name(), provision: pd})
		if _, ok := s.reqs[virtual]; ok {
			return s.forward(virtual, provider.Name())
		}
		return nil
	}
	return s.unsatisfied(virtual, fmt.Sprintf("installed %s does not provide %s", provider, virtual), nil)
}
