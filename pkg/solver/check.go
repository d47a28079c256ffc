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
	"fmt"
	"maps"
	"slices"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"chainguard.dev/concretizer/pkg/spec"
)

// finalCheck runs the checks that need the whole graph: cycles, `^dep`
// requirements, conflicts on dependencies and one provider per virtual.
func (s *state) finalCheck() error {
	if err := s.checkCycles(); err != nil {
		return err
	}
	reach := map[string]sets.Set[string]{}
	reachable := func(name string) sets.Set[string] {
		name = s.resolve(name)
		if r, ok := reach[name]; ok {
			return r
		}
		r := s.reachable(name)
		reach[name] = r
		return r
	}

	for _, nd := range s.needs {
		if !reachable(nd.consumer).Has(nd.dep) {
			return &UnsatisfiableSpecError{
				Name:    nd.dep,
				Reason:  fmt.Sprintf("%s is not a dependency of %s", nd.dep, s.resolve(nd.consumer)),
				Origins: []Origin{nd.origin},
			}
		}
	}

	for _, name := range slices.Sorted(maps.Keys(s.decided)) {
		n := s.decided[name]
		if n.reused != nil {
			continue
		}
		r := reachable(name)
		lookup := func(dep string) (spec.Node, bool) {
			if !r.Has(dep) {
				return spec.Node{}, false
			}
			if d, ok := s.decided[dep]; ok {
				return d.Node, true
			}
			return spec.Node{Name: dep}, true
		}
		for _, c := range n.def.Conflicts {
			if c.OnDependencies() && c.Fires(n.Node, lookup) {
				return s.unsatisfied(name, fmt.Sprintf("%s %s", n.Node, c), nil)
			}
		}
	}

	for _, v := range slices.Sorted(maps.Keys(s.bound)) {
		p := s.bound[v].provider
		for _, name := range slices.Sorted(maps.Keys(s.decided)) {
			if name == p {
				continue
			}
			if n := s.decided[name]; n.def.ProvidesVirtual(v, n.Node) {
				return s.unsatisfied(v, fmt.Sprintf("both %s and %s provide %s", p, name, v), nil)
			}
		}
	}
	return nil
}

// reachable returns every package and virtual name below name.
func (s *state) reachable(name string) sets.Set[string] {
	out := sets.New[string]()
	var walk func(string)
	walk = func(name string) {
		n, ok := s.decided[name]
		if !ok {
			return
		}
		for _, e := range n.edges {
			if out.Has(e.target) {
				continue
			}
			out.Insert(e.target)
			if b, ok := s.bound[e.target]; ok {
				if out.Has(b.provider) {
					continue
				}
				out.Insert(b.provider)
				walk(b.provider)
				continue
			}
			walk(e.target)
		}
	}
	walk(name)
	return out
}

// unavoidable returns the packages reachable from the roots through
// unconditional edges only. Edges to virtuals are conditional, so providers
// are never reached this way.
func (s *state) unavoidable() sets.Set[string] {
	out := sets.New[string]()
	var walk func(string)
	walk = func(name string) {
		if out.Has(name) {
			return
		}
		n, ok := s.decided[name]
		if !ok {
			return
		}
		out.Insert(name)
		for _, e := range n.edges {
			if !e.conditional {
				walk(e.target)
			}
		}
	}
	for _, name := range sets.List(s.roots) {
		walk(s.resolve(name))
	}
	return out
}

// checkCycles looks for a cycle among the decided packages. A cycle of
// unconditional edges that a root reaches through unconditional edges can
// never be avoided and is fatal. Any other cycle rules out the current
// choices, and is reported as a cycle once no choice is left.
func (s *state) checkCycles() error {
	const (
		unvisited = iota
		active
		done
	)
	color := map[string]int{}
	var path []string
	var uncond []bool

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = active
		path = append(path, name)
		n := s.decided[name]
		for _, e := range n.edges {
			target := s.resolve(e.target)
			uncond = append(uncond, !e.conditional)
			switch color[target] {
			case active:
				start := slices.Index(path, target)
				cycle := append(slices.Clone(path[start:]), target)
				cerr := &CyclicDependencyError{Cycle: cycle}
				if !slices.Contains(uncond[start:], false) && s.unavoidable().Has(target) {
					return cerr
				}
				return s.unsatisfied(target, "dependency cycle "+strings.Join(cycle, " -> "), cerr)
			case unvisited:
				if err := visit(target); err != nil {
					return err
				}
			}
			uncond = uncond[:len(uncond)-1]
		}
		path = path[:len(path)-1]
		color[name] = done
		return nil
	}
	for _, name := range slices.Sorted(maps.Keys(s.decided)) {
		if color[name] == unvisited {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}
