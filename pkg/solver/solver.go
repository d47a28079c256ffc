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

// Package solver turns abstract package requests into concrete dependency
// graphs.
//
// The search keeps a set of open names, packages and virtuals that some
// decided package depends on, and repeatedly decides the open name with the
// fewest alternatives. Every change to the working state is recorded on a
// trail so that a failed alternative is undone by rewinding to the mark
// taken when its choice point was pushed. Once nothing is open, checks that
// need the whole graph run; their failure backtracks like any other.
package solver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"

	"chainguard.dev/concretizer/pkg/recipe"
	"chainguard.dev/concretizer/pkg/spec"
	"chainguard.dev/concretizer/pkg/validate"
)

// RootResult is the outcome for one requested root.
type RootResult struct {
	Request *spec.Constraint
	Spec    *spec.Concrete
	// Bindings maps each virtual of the graph the root was solved in to its
	// provider.
	Bindings map[string]string
	Err      error
}

// Stats describes the work done by Solve.
type Stats struct {
	Steps      int
	Backtracks int
	Attempts   int
	Elapsed    time.Duration
}

// Result holds one RootResult per request, in request order, and every
// concrete node of the successful roots.
type Result struct {
	Roots []RootResult
	// Nodes holds every node once, ordered by hash.
	Nodes []*spec.Concrete
	Stats Stats
}

// Err joins the errors of all failed roots.
func (r *Result) Err() error {
	var errs []error
	for _, rr := range r.Roots {
		errs = append(errs, rr.Err)
	}
	return errors.Join(errs...)
}

// solver holds what is shared by the attempts of one Solve call. It never
// outlives the call.
type solver struct {
	db    recipe.Database
	o     *opts
	start time.Time
	// valid caches whether installed specs may be reused, by hash and test
	// policy.
	valid map[string]bool
}

type outcome struct {
	roots    []*spec.Concrete
	bindings map[string]string
	nodes    []*spec.Concrete
}

// Solve resolves roots against db. Failures of individual roots are
// reported in their RootResult; the returned error is reserved for invalid
// options, cancellation and results that fail validation.
func Solve(ctx context.Context, db recipe.Database, roots []*spec.Constraint, options ...Option) (*Result, error) {
	ctx, span := otel.Tracer("concretizer").Start(ctx, "solver.Solve")
	defer span.End()
	log := clog.FromContext(ctx)

	o := &opts{policy: DefaultPolicy}
	for _, opt := range options {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if !o.platform.IsConcrete() {
		return nil, errors.New("a default platform is required")
	}
	sv := &solver{db: db, o: o, start: time.Now(), valid: map[string]bool{}}

	res := &Result{Roots: make([]RootResult, len(roots))}
	var pending []int
	for i, r := range roots {
		res.Roots[i].Request = r
		if r.Name == "" {
			res.Roots[i].Err = &ConcretizationError{Root: r.String(), Err: errors.New("request names no package")}
			continue
		}
		pending = append(pending, i)
	}

	var outcomes []*outcome
	record := func(idx []int, out *outcome) {
		for j, i := range idx {
			res.Roots[i].Spec = out.roots[j]
			res.Roots[i].Bindings = out.bindings
		}
		outcomes = append(outcomes, out)
	}
	fail := func(i int, err error) {
		res.Roots[i].Err = &ConcretizationError{Root: roots[i].String(), Err: err}
	}

	switch {
	case len(pending) == 0:
	case o.policy.Unify:
		out, err := sv.attempt(ctx, roots, pending, &res.Stats)
		if err := canceled(ctx, err); err != nil {
			return nil, err
		}
		var timeout *ConcretizationTimeoutError
		switch {
		case err == nil:
			record(pending, out)
		case len(pending) == 1 || errors.As(err, &timeout):
			for _, i := range pending {
				fail(i, err)
			}
		default:
			// Add roots one at a time, keeping those that fit.
			log.Infof("roots cannot be solved together, adding them one at a time: %v", err)
			var accepted []int
			var best *outcome
			for _, i := range pending {
				try := append(slices.Clone(accepted), i)
				out, err := sv.attempt(ctx, roots, try, &res.Stats)
				if err := canceled(ctx, err); err != nil {
					return nil, err
				}
				if err != nil {
					fail(i, err)
					continue
				}
				accepted, best = try, out
			}
			if best != nil {
				record(accepted, best)
			}
		}
	default:
		for _, i := range pending {
			out, err := sv.attempt(ctx, roots, []int{i}, &res.Stats)
			if err := canceled(ctx, err); err != nil {
				return nil, err
			}
			if err != nil {
				fail(i, err)
				continue
			}
			record([]int{i}, out)
		}
	}

	for i, rr := range res.Roots {
		if rr.Spec == nil {
			continue
		}
		if _, err := validate.Validate(rr.Spec, db, validate.WithTests(o.policy.Tests)); err != nil {
			return nil, fmt.Errorf("internal error: result for %s is invalid: %w", roots[i], err)
		}
	}

	seen := map[string]*spec.Concrete{}
	for _, out := range outcomes {
		for _, n := range out.nodes {
			seen[n.Hash()] = n
		}
	}
	for _, h := range slices.Sorted(maps.Keys(seen)) {
		res.Nodes = append(res.Nodes, seen[h])
	}

	res.Stats.Elapsed = time.Since(sv.start)
	var failed int
	for _, rr := range res.Roots {
		if rr.Err != nil {
			failed++
		}
	}
	log.Infof("concretized %d of %d roots into %d nodes in %d steps with %d backtracks (%s)",
		len(roots)-failed, len(roots), len(res.Nodes), res.Stats.Steps, res.Stats.Backtracks, res.Stats.Elapsed.Round(time.Millisecond))
	return res, nil
}

// canceled returns err when it was caused by ctx.
func canceled(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return fmt.Errorf("concretization canceled: %w", err)
	}
	return nil
}

// attempt solves the roots at idx together from a fresh working state.
func (sv *solver) attempt(ctx context.Context, roots []*spec.Constraint, idx []int, stats *Stats) (*outcome, error) {
	s := newState(sv)
	defer func() {
		stats.Steps += s.stats.Steps
		stats.Backtracks += s.stats.Backtracks
		stats.Attempts++
	}()

	var names []string
	for _, i := range idx {
		s.roots.Insert(roots[i].Name)
		names = append(names, roots[i].Name)
	}
	clog.FromContext(ctx).Debugf("solving %s", strings.Join(names, ", "))

	for _, i := range idx {
		r := roots[i]
		if err := s.constrain(r.Name, r, Origin{Constraint: r.String()}, ""); err != nil {
			return nil, err
		}
		s.markOpen(r.Name)
	}
	if err := s.run(ctx); err != nil {
		return nil, err
	}

	built, err := s.build()
	if err != nil {
		return nil, err
	}
	out := &outcome{bindings: map[string]string{}}
	for _, i := range idx {
		out.roots = append(out.roots, built[s.resolve(roots[i].Name)])
	}
	for v, b := range s.bound {
		out.bindings[v] = b.provider
	}
	for _, name := range slices.Sorted(maps.Keys(built)) {
		out.nodes = append(out.nodes, built[name])
	}
	return out, nil
}

// build creates the concrete specs of every decided package, dependencies
// first. Installed specs are returned as they are.
func (s *state) build() (map[string]*spec.Concrete, error) {
	built := map[string]*spec.Concrete{}
	var visit func(name string) (*spec.Concrete, error)
	visit = func(name string) (*spec.Concrete, error) {
		if c, ok := built[name]; ok {
			return c, nil
		}
		n := s.decided[name]
		if n.reused != nil {
			built[name] = n.reused
			return n.reused, nil
		}

		byTarget := map[string]*spec.Edge{}
		for _, e := range n.edges {
			target := s.resolve(e.target)
			se, ok := byTarget[target]
			if !ok {
				se = &spec.Edge{}
				byTarget[target] = se
			}
			se.Types |= e.types
			if target != e.target {
				se.Virtuals = append(se.Virtuals, e.target)
			}
		}
		var edges []spec.Edge
		for _, target := range slices.Sorted(maps.Keys(byTarget)) {
			child, err := visit(target)
			if err != nil {
				return nil, err
			}
			e := byTarget[target]
			e.Spec = child
			edges = append(edges, *e)
		}
		c, err := spec.NewConcrete(n.Node, edges)
		if err != nil {
			return nil, err
		}
		built[name] = c
		return c, nil
	}
	for _, name := range slices.Sorted(maps.Keys(s.decided)) {
		if _, err := visit(name); err != nil {
			return nil, err
		}
	}
	return built, nil
}

// reusable reports whether an installed spec is valid against the current
// recipes.
func (sv *solver) reusable(c *spec.Concrete, tests recipe.TestPolicy) bool {
	key := c.Hash() + "/" + string(tests)
	if ok, seen := sv.valid[key]; seen {
		return ok
	}
	_, err := validate.Validate(c, sv.db, validate.WithTests(tests))
	sv.valid[key] = err == nil
	return err == nil
}
