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
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"chainguard.dev/concretizer/pkg/recipe"
	"chainguard.dev/concretizer/pkg/spec"
	"chainguard.dev/concretizer/pkg/version"
)

// alternative is one way to decide an open name.
type alternative struct {
	// reuse is set for installed specs.
	reuse *spec.Concrete

	version  version.Version
	compiler *spec.Compiler
	// digits selects one value per declared variant, in declaration order.
	digits []int

	// provider and provision are set for virtuals.
	provider  *recipe.PackageDef
	provision recipe.ProvidesDef
}

func (a alternative) String() string {
	switch {
	case a.reuse != nil:
		return "installed " + a.reuse.String() + "/" + a.reuse.ShortHash()
	case a.provider != nil:
		return a.provider.Name + " for " + a.provision.Virtual.String()
	}
	s := "@" + a.version.String()
	if a.compiler != nil {
		s += "%" + a.compiler.String()
	}
	return s
}

// choices enumerates the alternatives for one name in preference order.
type choices interface {
	len() int
	at(i int) alternative
	// why explains an empty list.
	why() string
}

// maxFresh caps the number of fresh configurations enumerated per package.
const maxFresh = math.MaxInt32

// packageChoices enumerates installed specs followed or preceded by fresh
// configurations. Fresh configurations are a mixed-radix number with the
// version as the most significant digit, then the compiler, then one digit
// per variant.
type packageChoices struct {
	reuse      []*spec.Concrete
	reuseFirst bool
	versions   []version.Version
	compilers  []*spec.Compiler
	variants   [][]spec.VariantValue
	fresh      int
	reason     string
}

func (pc *packageChoices) len() int   { return len(pc.reuse) + pc.fresh }
func (pc *packageChoices) why() string { return pc.reason }

func (pc *packageChoices) at(i int) alternative {
	if pc.reuseFirst {
		if i < len(pc.reuse) {
			return alternative{reuse: pc.reuse[i]}
		}
		i -= len(pc.reuse)
	} else if i >= pc.fresh {
		return alternative{reuse: pc.reuse[i-pc.fresh]}
	}
	digits := make([]int, len(pc.variants))
	for j := len(pc.variants) - 1; j >= 0; j-- {
		n := len(pc.variants[j])
		digits[j] = i % n
		i /= n
	}
	c := i % len(pc.compilers)
	i /= len(pc.compilers)
	return alternative{version: pc.versions[i], compiler: pc.compilers[c], digits: digits}
}

type virtualChoices struct {
	alts   []alternative
	reason string
}

func (vc *virtualChoices) len() int             { return len(vc.alts) }
func (vc *virtualChoices) at(i int) alternative { return vc.alts[i] }
func (vc *virtualChoices) why() string          { return vc.reason }

func (s *state) choices(name string) (choices, error) {
	k, err := s.kind(name)
	if err != nil {
		return nil, err
	}
	if k == virtualKind {
		return s.virtualChoices(name), nil
	}
	return s.packageChoices(name), nil
}

func (s *state) virtualChoices(name string) *virtualChoices {
	r := s.reqs[name]
	providers := s.sv.db.ProvidersOf(name)
	// Providers already part of the graph or asked for by name go first,
	// then installed ones when reuse is preferred.
	rank := func(p *recipe.PackageDef) int {
		if _, ok := s.reqs[p.Name]; ok {
			return 0
		}
		if s.sv.o.policy.PreferReuse && len(s.sv.o.reuse.FindMatching(spec.Named(p.Name))) > 0 {
			return 1
		}
		return 2
	}
	slices.SortStableFunc(providers, func(a, b *recipe.PackageDef) int {
		return cmp.Compare(rank(a), rank(b))
	})
	vc := &virtualChoices{}
	for _, p := range providers {
		for _, pd := range p.Provisions(name) {
			if pd.Virtual.Versions.Intersects(r.c.Versions) {
				vc.alts = append(vc.alts, alternative{provider: p, provision: pd})
			}
		}
	}
	if len(vc.alts) == 0 {
		vc.reason = fmt.Sprintf("no provider of %s satisfies %s", name, r.c)
	}
	return vc
}

func (s *state) packageChoices(name string) *packageChoices {
	def := s.def(name)
	r := s.reqs[name]
	prefs := s.sv.o.prefs.forPackage(name)
	pc := &packageChoices{reuseFirst: s.sv.o.policy.PreferReuse}

	pc.versions = s.versions(def, r.c, prefs)
	pc.compilers = s.compilers(name, def, r.c, prefs)
	for _, vd := range def.Variants {
		pc.variants = append(pc.variants, variantValues(vd, r.c, prefs))
	}

	pc.fresh = len(pc.versions) * len(pc.compilers)
	for _, vals := range pc.variants {
		if pc.fresh > maxFresh/len(vals) {
			pc.fresh = maxFresh
			break
		}
		pc.fresh *= len(vals)
	}
	pc.reuse = s.reuseCandidates(name, r.c)

	switch {
	case len(pc.versions) == 0:
		var known []string
		for _, v := range def.Versions {
			known = append(known, v.Version.String())
		}
		pc.reason = fmt.Sprintf("no version satisfies %s (known versions: %s)", r.c, strings.Join(known, ", "))
	case len(pc.compilers) == 0 && len(s.sv.o.compilers) == 0:
		pc.reason = "no compilers are configured"
	case len(pc.compilers) == 0:
		pc.reason = fmt.Sprintf("no configured compiler satisfies %s", r.c.Compiler)
	}
	return pc
}

// versions returns the known versions admitted by c: configured preferences
// first, then versions the recipe prefers, then the rest newest first, with
// development and deprecated versions last.
func (s *state) versions(def *recipe.PackageDef, c *spec.Constraint, prefs PackagePreference) []version.Version {
	var defs []recipe.VersionDef
	for _, vd := range def.Versions {
		if c.Versions.Contains(vd.Version) {
			defs = append(defs, vd)
		}
	}
	rank := func(vd recipe.VersionDef) int {
		if i := slices.IndexFunc(prefs.Versions, vd.Version.Equal); i >= 0 {
			return i
		}
		return len(prefs.Versions)
	}
	flag := func(b bool) int {
		if b {
			return 1
		}
		return 0
	}
	slices.SortStableFunc(defs, func(a, b recipe.VersionDef) int {
		return cmp.Or(
			cmp.Compare(rank(a), rank(b)),
			cmp.Compare(flag(a.Deprecated), flag(b.Deprecated)),
			cmp.Compare(flag(!a.Preferred), flag(!b.Preferred)),
			cmp.Compare(flag(a.Version.IsDevelop()), flag(b.Version.IsDevelop())),
			b.Version.Compare(a.Version),
		)
	})
	out := make([]version.Version, 0, len(defs))
	for _, vd := range defs {
		out = append(out, vd.Version)
	}
	return out
}

// compilers returns the configured compilers admitted by c: the compiler of
// the dependent that pulled the package in first, then by preference, then
// in configured order. Packages that are not compiled get a single nil
// entry.
func (s *state) compilers(name string, def *recipe.PackageDef, c *spec.Constraint, prefs PackagePreference) []*spec.Compiler {
	if !def.NeedsCompiler() {
		return []*spec.Compiler{nil}
	}
	var inherited *spec.Compiler
	if p, ok := s.parentNode(name); ok {
		inherited = p.Compiler
	}
	var out []*spec.Compiler
	for i := range s.sv.o.compilers {
		cc := &s.sv.o.compilers[i]
		if c.Compiler != nil && (c.Compiler.Name != cc.Name || !c.Compiler.Versions.Contains(cc.Version)) {
			continue
		}
		out = append(out, cc)
	}
	rank := func(cc *spec.Compiler) int {
		if i := slices.Index(prefs.Compilers, cc.Name); i >= 0 {
			return i
		}
		return len(prefs.Compilers)
	}
	slices.SortStableFunc(out, func(a, b *spec.Compiler) int {
		ia := inherited != nil && a.Name == inherited.Name && a.Version.Equal(inherited.Version)
		ib := inherited != nil && b.Name == inherited.Name && b.Version.Equal(inherited.Version)
		switch {
		case ia && !ib:
			return -1
		case ib && !ia:
			return 1
		}
		return cmp.Compare(rank(a), rank(b))
	})
	return out
}

// variantValues returns the candidate values of vd: the pinned value if c
// pins one, otherwise the preferred value, the default and then the rest.
func variantValues(vd recipe.VariantDef, c *spec.Constraint, prefs PackagePreference) []spec.VariantValue {
	if v, ok := c.Variants[vd.Name]; ok {
		return []spec.VariantValue{v}
	}
	var out []spec.VariantValue
	if v, ok := prefs.Variants[vd.Name]; ok {
		v.Multi = vd.Multi
		if vd.Allowed(v) {
			out = append(out, v)
		}
	}
	for _, v := range vd.Choices() {
		if !slices.ContainsFunc(out, v.Equal) {
			out = append(out, v)
		}
	}
	return out
}

// reuseCandidates returns installed specs matching c whose whole graph is
// valid against the current recipes.
func (s *state) reuseCandidates(name string, c *spec.Constraint) []*spec.Concrete {
	if s.sv.o.reuse == nil {
		return nil
	}
	tests := recipe.TestsNone
	switch {
	case s.sv.o.policy.Tests == recipe.TestsAll:
		tests = recipe.TestsAll
	case s.sv.o.policy.Tests == recipe.TestsRoot && s.roots.Has(name):
		tests = recipe.TestsRoot
	}
	var out []*spec.Concrete
	for _, cand := range s.sv.o.reuse.FindMatching(c) {
		if s.sv.reusable(cand, tests) {
			out = append(out, cand)
		}
	}
	return out
}
