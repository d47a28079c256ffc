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
	"slices"

	"k8s.io/apimachinery/pkg/util/sets"

	"chainguard.dev/concretizer/pkg/recipe"
	"chainguard.dev/concretizer/pkg/spec"
	"chainguard.dev/concretizer/pkg/version"
)

// trail is an undo log. Every change to the working state pushes the
// closure that reverts it.
type trail struct {
	undo []func()
}

func (t *trail) mark() int { return len(t.undo) }

func (t *trail) push(f func()) { t.undo = append(t.undo, f) }

// rewind reverts every change made after mark m, newest first.
func (t *trail) rewind(m int) {
	for len(t.undo) > m {
		f := t.undo[len(t.undo)-1]
		t.undo = t.undo[:len(t.undo)-1]
		f()
	}
}

func assign[K comparable, V any](t *trail, m map[K]V, k K, v V) {
	old, had := m[k]
	m[k] = v
	t.push(func() {
		if had {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
}

func remove[K comparable, V any](t *trail, m map[K]V, k K) {
	old, had := m[k]
	if !had {
		return
	}
	delete(m, k)
	t.push(func() { m[k] = old })
}

func appendTo[T any](t *trail, s *[]T, v T) {
	n := len(*s)
	*s = append(*s, v)
	t.push(func() { *s = (*s)[:n] })
}

type kind int

const (
	packageKind kind = iota + 1
	virtualKind
)

// requirement is everything imposed on one name so far. It is replaced,
// never mutated.
type requirement struct {
	c       *spec.Constraint
	origins []Origin
	// parent is the first package that pulled the name in. Its platform and
	// compiler are preferred for this one.
	parent string
}

type edge struct {
	target string
	types  spec.DepType
	// conditional is set for edges that exist only for some choices of the
	// dependent.
	conditional bool
}

// node is a decided package.
type node struct {
	spec.Node
	def    *recipe.PackageDef
	reused *spec.Concrete
	edges  []edge
}

func (n *node) addEdge(e edge) {
	for i := range n.edges {
		if n.edges[i].target == e.target {
			n.edges[i].types |= e.types
			n.edges[i].conditional = n.edges[i].conditional && e.conditional
			return
		}
	}
	n.edges = append(n.edges, e)
}

type binding struct {
	provider  string
	provision recipe.ProvidesDef
}

// need records a `^dep` requirement: dep must be reachable from consumer.
type need struct {
	consumer string
	dep      string
	origin   Origin
}

// state is the working set of one solve attempt. Nothing in it is shared
// with other attempts.
type state struct {
	sv      *solver
	roots   sets.Set[string]
	kinds   map[string]kind
	reqs    map[string]*requirement
	open    sets.Set[string]
	decided map[string]*node
	bound   map[string]binding
	needs   []need
	trail   trail
	stack   []frame
	stats   Stats
	// failure is the first recoverable failure met, reported if the search
	// is exhausted.
	failure error
}

func newState(sv *solver) *state {
	return &state{
		sv:      sv,
		roots:   sets.New[string](),
		kinds:   map[string]kind{},
		reqs:    map[string]*requirement{},
		open:    sets.New[string](),
		decided: map[string]*node{},
		bound:   map[string]binding{},
	}
}

func (s *state) kind(name string) (kind, error) {
	if k, ok := s.kinds[name]; ok {
		return k, nil
	}
	var k kind
	switch _, err := s.sv.db.Get(name); {
	case err == nil:
		k = packageKind
	case s.sv.db.IsVirtual(name):
		k = virtualKind
	default:
		return 0, err
	}
	s.kinds[name] = k
	return k, nil
}

func (s *state) def(name string) *recipe.PackageDef {
	d, err := s.sv.db.Get(name)
	if err != nil {
		// Only called for names whose kind is known.
		panic(err)
	}
	return d
}

// constrain narrows the requirement on name with c. Requirements of c on
// its own dependencies are narrowed into theirs and remembered as needs.
func (s *state) constrain(name string, c *spec.Constraint, origin Origin, parent string) error {
	k, err := s.kind(name)
	if err != nil {
		return err
	}
	for _, d := range c.Dependencies {
		if err := s.constrain(d.Name, d, origin, name); err != nil {
			return err
		}
		appendTo(&s.trail, &s.needs, need{consumer: name, dep: d.Name, origin: origin})
	}

	own := c.OwnAxes()
	own.Name = name
	if k == packageKind {
		if own, err = s.def(name).Normalize(own); err != nil {
			return &UnsatisfiableSpecError{Name: name, Reason: err.Error(), Origins: []Origin{origin}, Err: err}
		}
	}

	next := &requirement{c: own, origins: []Origin{origin}, parent: parent}
	if r, ok := s.reqs[name]; ok {
		origins := r.origins
		if !slices.Contains(origins, origin) {
			origins = append(slices.Clone(origins), origin)
		}
		narrowed, err := r.c.Narrow(own)
		if err != nil {
			return &UnsatisfiableSpecError{Name: name, Reason: err.Error(), Origins: origins, Err: err}
		}
		next = &requirement{c: narrowed, origins: origins, parent: r.parent}
		if next.parent == "" {
			next.parent = parent
		}
	}
	assign(&s.trail, s.reqs, name, next)

	if k == virtualKind {
		return s.recheckVirtual(name)
	}
	return s.recheckPackage(name)
}

// recheckPackage verifies that a decided package still meets its
// requirement after it was narrowed.
func (s *state) recheckPackage(name string) error {
	n, ok := s.decided[name]
	if !ok {
		return nil
	}
	r := s.reqs[name]
	if !r.c.MatchesNode(n.Node) {
		return s.unsatisfied(name, fmt.Sprintf("chosen %s does not satisfy %s", n.Node, r.c), nil)
	}
	return nil
}

// recheckVirtual verifies that the provider bound to a virtual still covers
// its requirement, and forwards requirements on the virtual's other axes to
// the provider.
func (s *state) recheckVirtual(name string) error {
	b, ok := s.bound[name]
	if !ok {
		return nil
	}
	r := s.reqs[name]
	if !b.provision.Virtual.Versions.Intersects(r.c.Versions) {
		return s.unsatisfied(name, fmt.Sprintf("%s provides %s, which does not satisfy %s", b.provider, b.provision.Virtual, r.c), nil)
	}
	return s.forward(name, b.provider)
}

// forward narrows the provider of a virtual with the requirements on the
// virtual other than its name and versions.
func (s *state) forward(virtual, provider string) error {
	r := s.reqs[virtual]
	rest := r.c.OwnAxes()
	rest.Name = ""
	rest.Versions = version.Any
	if rest.IsEmpty() {
		return nil
	}
	return s.constrain(provider, rest, Origin{Dependent: virtual, Constraint: rest.WithName(provider).String()}, r.parent)
}

func (s *state) unsatisfied(name, reason string, err error) error {
	var origins []Origin
	if r, ok := s.reqs[name]; ok {
		origins = r.origins
	}
	return &UnsatisfiableSpecError{Name: name, Reason: reason, Origins: origins, Err: err}
}

// markOpen adds name to the open set unless it is already decided.
func (s *state) markOpen(name string) {
	if s.open.Has(name) {
		return
	}
	if _, ok := s.decided[name]; ok {
		return
	}
	if _, ok := s.bound[name]; ok {
		return
	}
	assign(&s.trail, s.open, name, sets.Empty{})
}

func (s *state) decide(name string, n *node) {
	assign(&s.trail, s.decided, name, n)
	remove(&s.trail, s.open, name)
}

func (s *state) bind(virtual string, b binding) {
	assign(&s.trail, s.bound, virtual, b)
	remove(&s.trail, s.open, virtual)
}

// parentNode returns the decided package that first pulled name in.
func (s *state) parentNode(name string) (*node, bool) {
	r, ok := s.reqs[name]
	if !ok || r.parent == "" {
		return nil, false
	}
	p := r.parent
	if b, ok := s.bound[p]; ok {
		p = b.provider
	}
	n, ok := s.decided[p]
	return n, ok
}

// resolve maps a virtual to its bound provider.
func (s *state) resolve(name string) string {
	if b, ok := s.bound[name]; ok {
		return b.provider
	}
	return name
}

// recoverable reports whether err only rules out the current alternative.
func recoverable(err error) bool {
	var use *UnsatisfiableSpecError
	return errors.As(err, &use)
}
