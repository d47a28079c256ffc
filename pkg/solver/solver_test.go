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
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"chainguard.dev/concretizer/pkg/recipe"
	"chainguard.dev/concretizer/pkg/spec"
	"chainguard.dev/concretizer/pkg/store"
	"chainguard.dev/concretizer/pkg/version"
)

var (
	testPlatform = spec.Arch{Platform: "linux", OS: "ubuntu22.04", Target: "x86_64"}
	gcc          = spec.Compiler{Name: "gcc", Version: version.MustParse("12.3.0")}
	clang        = spec.Compiler{Name: "clang", Version: version.MustParse("16.0.6")}
)

func definitions(t *testing.T, recipes ...string) []*recipe.PackageDef {
	t.Helper()
	var defs []*recipe.PackageDef
	for _, r := range recipes {
		var pf recipe.PackageFile
		require.NoError(t, yaml.Unmarshal([]byte(r), &pf))
		def, err := pf.Definition("test")
		require.NoError(t, err)
		defs = append(defs, def)
	}
	return defs
}

// newIndex builds a database from package.yaml documents.
func newIndex(t *testing.T, recipes ...string) *recipe.Index {
	t.Helper()
	idx, err := recipe.NewIndex(definitions(t, recipes...))
	require.NoError(t, err)
	return idx
}

func builtin(t *testing.T, opts ...recipe.IndexOption) *recipe.Index {
	t.Helper()
	return builtinWith(t, nil, opts...)
}

// builtinWith adds the recipes in extra to the builtin test repository.
func builtinWith(t *testing.T, extra []string, opts ...recipe.IndexOption) *recipe.Index {
	t.Helper()
	repo, err := recipe.LoadRepo(context.Background(), os.DirFS("../recipe/testdata/builtin"))
	require.NoError(t, err)
	defs := append(repo.Packages[:len(repo.Packages):len(repo.Packages)], definitions(t, extra...)...)
	idx, err := recipe.NewIndex(defs, opts...)
	require.NoError(t, err)
	return idx
}

func solve(t *testing.T, db recipe.Database, roots []string, opts ...Option) *Result {
	t.Helper()
	var cs []*spec.Constraint
	for _, r := range roots {
		cs = append(cs, spec.MustParse(r))
	}
	opts = append([]Option{WithPlatform(testPlatform), WithCompilers(gcc, clang)}, opts...)
	res, err := Solve(context.Background(), db, cs, opts...)
	require.NoError(t, err)
	require.Len(t, res.Roots, len(roots))
	return res
}

func solveOne(t *testing.T, db recipe.Database, root string, opts ...Option) *spec.Concrete {
	t.Helper()
	res := solve(t, db, []string{root}, opts...)
	require.NoError(t, res.Roots[0].Err)
	return res.Roots[0].Spec
}

func dep(t *testing.T, c *spec.Concrete, name string) *spec.Concrete {
	t.Helper()
	d, ok := c.Find(name)
	require.True(t, ok, "%s has no dependency %s", c.Name(), name)
	return d
}

var diamond = []string{`
name: a
build-system: bundle
versions: [{version: "1.0"}]
dependencies:
  - spec: "b@2:"
`, `
name: c
build-system: bundle
versions: [{version: "1.0"}]
dependencies:
  - spec: "b@:3"
`}

func TestSharedDependency(t *testing.T) {
	db := newIndex(t, append(diamond, `
name: b
build-system: bundle
versions: [{version: "4"}, {version: "3"}, {version: "2"}, {version: "1"}]
`)...)

	res := solve(t, db, []string{"a", "c"})
	require.NoError(t, res.Err())
	a, c := res.Roots[0].Spec, res.Roots[1].Spec
	require.Same(t, dep(t, a, "b"), dep(t, c, "b"))
	require.Equal(t, "3", dep(t, a, "b").Version().String())
	require.Len(t, res.Nodes, 3)
	for i := 1; i < len(res.Nodes); i++ {
		require.Less(t, res.Nodes[i-1].Hash(), res.Nodes[i].Hash())
	}
}

func TestConflictNamesDependents(t *testing.T) {
	db := newIndex(t, append(diamond, `
name: b
build-system: bundle
versions: [{version: "4"}, {version: "1"}]
`)...)

	res := solve(t, db, []string{"a", "c"})
	require.NoError(t, res.Roots[0].Err)
	require.Equal(t, "4", dep(t, res.Roots[0].Spec, "b").Version().String())

	err := res.Roots[1].Err
	var ce *ConcretizationError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "c", ce.Root)
	var use *UnsatisfiableSpecError
	require.ErrorAs(t, err, &use)
	require.Equal(t, "b", use.Name)
	require.Contains(t, use.Origins, Origin{Dependent: "a", Constraint: "b@2:"})
	require.Contains(t, use.Origins, Origin{Dependent: "c", Constraint: "b@:3"})
	require.ErrorContains(t, err, "a requires b@2:")
	require.ErrorContains(t, err, "c requires b@:3")
	require.Error(t, res.Err())

	// Solved separately, each root gets its own b.
	res = solve(t, db, []string{"a", "c"}, WithPolicy(Policy{Unify: false}))
	require.NoError(t, res.Err())
	require.Equal(t, "4", dep(t, res.Roots[0].Spec, "b").Version().String())
	require.Equal(t, "1", dep(t, res.Roots[1].Spec, "b").Version().String())
	require.Len(t, res.Nodes, 4)
}

func TestSiblingRootsUnaffected(t *testing.T) {
	db := builtin(t)
	res := solve(t, db, []string{"zlib@9", "gmake", "nosuchpackage", "cmake@3.20"}, WithPolicy(Policy{Unify: false}))

	var use *UnsatisfiableSpecError
	require.ErrorAs(t, res.Roots[0].Err, &use)
	require.Contains(t, use.Reason, "no version satisfies")
	require.NoError(t, res.Roots[1].Err)
	var upe *recipe.UnknownPackageError
	require.ErrorAs(t, res.Roots[2].Err, &upe)
	require.NoError(t, res.Roots[3].Err)
	require.Equal(t, "3.20.6", res.Roots[3].Spec.Version().String())

	// The same holds when the roots are unified.
	res = solve(t, db, []string{"zlib@9", "gmake", "nosuchpackage", "cmake@3.20"})
	require.Error(t, res.Roots[0].Err)
	require.NoError(t, res.Roots[1].Err)
	require.Error(t, res.Roots[2].Err)
	require.NoError(t, res.Roots[3].Err)
}

func TestCompilerConflict(t *testing.T) {
	x := `
name: x
versions: [{version: "1.0"}]
variants:
  - name: feature
conflicts:
  - spec: "%foo"
    when: +feature
    msg: feature does not build with foo
`
	foo := spec.Compiler{Name: "foo", Version: version.MustParse("1.0")}
	bar := spec.Compiler{Name: "bar", Version: version.MustParse("2.0")}
	db := newIndex(t, x)
	ctx := context.Background()

	res, err := Solve(ctx, db, []*spec.Constraint{spec.MustParse("x+feature"), spec.MustParse("x~feature")},
		WithPlatform(testPlatform), WithCompilers(foo, bar), WithPolicy(Policy{Unify: false}))
	require.NoError(t, err)
	require.NoError(t, res.Err())
	cc, ok := res.Roots[0].Spec.Compiler()
	require.True(t, ok)
	require.Equal(t, "bar", cc.Name)
	cc, _ = res.Roots[1].Spec.Compiler()
	require.Equal(t, "foo", cc.Name)

	res, err = Solve(ctx, db, []*spec.Constraint{spec.MustParse("x+feature")},
		WithPlatform(testPlatform), WithCompilers(foo))
	require.NoError(t, err)
	var use *UnsatisfiableSpecError
	require.ErrorAs(t, res.Roots[0].Err, &use)
	require.Contains(t, use.Reason, "feature does not build with foo")
}

func TestDefaults(t *testing.T) {
	got := solveOne(t, builtin(t), "hdf5")
	require.Equal(t, `hdf5@1.14.3%gcc@12.3.0~cxx~fortran+mpi api=default arch=linux-ubuntu22.04-x86_64
    ^cmake@3.27.9%gcc@12.3.0 arch=linux-ubuntu22.04-x86_64
    ^mpich@4.1.2%gcc@12.3.0+fortran arch=linux-ubuntu22.04-x86_64
        ^gmake@4.4.1%gcc@12.3.0 arch=linux-ubuntu22.04-x86_64
    ^zlib@1.3.1%gcc@12.3.0+pic+shared arch=linux-ubuntu22.04-x86_64
        ^gmake@4.4.1%gcc@12.3.0 arch=linux-ubuntu22.04-x86_64
`, got.Tree(false))

	e, ok := got.Dependency("mpich")
	require.True(t, ok)
	require.Equal(t, []string{"mpi"}, e.Virtuals)
	require.Equal(t, spec.Build|spec.Link|spec.Run, e.Types)
	e, _ = got.Dependency("cmake")
	require.Equal(t, spec.Build, e.Types)
	require.Same(t, dep(t, got, "gmake"), dep(t, dep(t, got, "zlib"), "gmake"))
}

func TestVariantConflictAvoided(t *testing.T) {
	db := builtin(t)
	got := solveOne(t, db, "hdf5+cxx")
	v, _ := got.Variant("mpi")
	require.Equal(t, spec.BoolVariant(false), v)
	_, ok := got.Find("mpich")
	require.False(t, ok)

	res := solve(t, db, []string{"hdf5+cxx+mpi"})
	var use *UnsatisfiableSpecError
	require.ErrorAs(t, res.Roots[0].Err, &use)
	require.Contains(t, use.Reason, "not supported together with MPI")

	// A conflict on the version forces an older api only for old versions.
	got = solveOne(t, db, "hdf5@1.12 api=v112")
	require.Equal(t, "1.12.2", got.Version().String())
	res = solve(t, db, []string{"hdf5@1.12 api=v114"})
	require.Error(t, res.Roots[0].Err)
}

func TestVirtuals(t *testing.T) {
	db := builtin(t)
	for _, tc := range []struct {
		root     string
		provider string
		version  string
	}{
		{root: "hdf5", provider: "mpich", version: "4.1.2"},
		{root: "hdf5 ^openmpi", provider: "openmpi", version: "5.0.1"},
		{root: "hdf5 ^mpi@4:", provider: "mpich", version: "4.1.2"},
		{root: "hdf5 ^mpich@3", provider: "mpich", version: "3.4.3"},
		{root: "hdf5 ^mpi@:3.1 ^mpich", provider: "mpich", version: "4.1.2"},
	} {
		t.Run(tc.root, func(t *testing.T) {
			res := solve(t, db, []string{tc.root})
			require.NoError(t, res.Err())
			got := res.Roots[0].Spec
			require.Equal(t, map[string]string{"mpi": tc.provider}, res.Roots[0].Bindings)
			p := dep(t, got, tc.provider)
			require.Equal(t, tc.version, p.Version().String())
			e, ok := got.Dependency(tc.provider)
			require.True(t, ok)
			require.Equal(t, []string{"mpi"}, e.Virtuals)
		})
	}

	res := solve(t, db, []string{"hdf5+mpi ^mpi@5:"})
	var use *UnsatisfiableSpecError
	require.ErrorAs(t, res.Roots[0].Err, &use)
	require.Equal(t, "mpi", use.Name)
	require.Contains(t, use.Reason, "no provider of mpi satisfies mpi@5:")

	// Preferences reorder providers.
	got := solveOne(t, builtin(t, recipe.WithProviderPreferences(map[string][]string{"mpi": {"openmpi"}})), "hdf5")
	_, ok := got.Find("openmpi")
	require.True(t, ok)

	// A virtual may itself be requested.
	res = solve(t, db, []string{"mpi"})
	require.NoError(t, res.Err())
	require.Equal(t, "mpich", res.Roots[0].Spec.Name())
	require.Equal(t, map[string]string{"mpi": "mpich"}, res.Roots[0].Bindings)
}

func TestDependencyRequests(t *testing.T) {
	db := newIndex(t, `
name: a
build-system: bundle
versions: [{version: "1"}]
dependencies: [{spec: b}]
`, `
name: b
build-system: bundle
versions: [{version: "2"}, {version: "1"}]
`, `
name: c
build-system: bundle
versions: [{version: "1"}]
`)
	got := solveOne(t, db, "a ^b@1")
	require.Equal(t, "1", dep(t, got, "b").Version().String())

	res := solve(t, db, []string{"a ^c"})
	var use *UnsatisfiableSpecError
	require.ErrorAs(t, res.Roots[0].Err, &use)
	require.Equal(t, "c", use.Name)
	require.Contains(t, use.Reason, "c is not a dependency of a")
	require.Equal(t, []Origin{{Constraint: "a ^c"}}, use.Origins)
}

func TestOneProviderPerVirtual(t *testing.T) {
	db := builtin(t)
	res := solve(t, db, []string{"py-numpy"})
	require.NoError(t, res.Err())
	require.Equal(t, map[string]string{"blas": "netlib-lapack", "lapack": "netlib-lapack"}, res.Roots[0].Bindings)
	e, ok := res.Roots[0].Spec.Dependency("netlib-lapack")
	require.True(t, ok)
	require.Equal(t, []string{"blas", "lapack"}, e.Virtuals)
	require.Equal(t, "3.12.1", dep(t, res.Roots[0].Spec, "python").Version().String())

	got := solveOne(t, db, "py-numpy ^openblas threads=openmp")
	_, ok = got.Find("netlib-lapack")
	require.False(t, ok)
	v, _ := dep(t, got, "openblas").Variant("threads")
	require.Equal(t, "openmp", v.String())

	// p2 is needed directly but cannot provide the version of v asked for,
	// so p1 would have to provide v next to it.
	db = newIndex(t, `
name: app
build-system: bundle
versions: [{version: "1"}]
dependencies: [{spec: "v@2:"}, {spec: p2}]
`, `
name: p1
build-system: bundle
versions: [{version: "1"}]
provides: [{spec: "v@2:"}]
`, `
name: p2
build-system: bundle
versions: [{version: "1"}]
provides: [{spec: "v@:1"}]
`)
	res = solve(t, db, []string{"app"})
	var use *UnsatisfiableSpecError
	require.ErrorAs(t, res.Roots[0].Err, &use)
	require.Equal(t, "v", use.Name)
	require.Contains(t, use.Reason, "both p1 and p2 provide v")
}

func TestCompilerAndPlatformInheritance(t *testing.T) {
	db := builtin(t)
	got := solveOne(t, db, "zlib%clang target=aarch64")
	for _, n := range got.Traverse() {
		cc, ok := n.Compiler()
		require.True(t, ok)
		require.Equal(t, clang, cc, n.Name())
		require.Equal(t, "aarch64", n.Arch().Target, n.Name())
		require.Equal(t, "ubuntu22.04", n.Arch().OS, n.Name())
	}

	res := solve(t, db, []string{"zlib%intel"})
	var use *UnsatisfiableSpecError
	require.ErrorAs(t, res.Roots[0].Err, &use)
	require.Contains(t, use.Reason, "no configured compiler satisfies %intel")
}

func TestPreferences(t *testing.T) {
	db := builtin(t)
	got := solveOne(t, db, "hdf5", WithPreferences(Preferences{
		All: PackagePreference{Compilers: []string{"clang"}},
		Packages: map[string]PackagePreference{
			"zlib": {Versions: []version.Version{version.MustParse("1.2.13")}},
			"hdf5": {Variants: map[string]spec.VariantValue{"mpi": spec.BoolVariant(false), "nope": spec.BoolVariant(true)}},
		},
	}))
	cc, _ := got.Compiler()
	require.Equal(t, "clang", cc.Name)
	require.Equal(t, "1.2.13", dep(t, got, "zlib").Version().String())
	v, _ := got.Variant("mpi")
	require.Equal(t, spec.BoolVariant(false), v)

	// Deprecated versions are the last resort.
	require.Equal(t, "1.2.13", solveOne(t, db, "zlib@1.2").Version().String())
	require.Equal(t, "1.2.11", solveOne(t, db, "zlib@1.2.11").Version().String())
}

func TestRootErrors(t *testing.T) {
	db := builtin(t)
	res := solve(t, db, []string{"zlib+foo", "zlib shared=maybe", "+shared"}, WithPolicy(Policy{Unify: false}))

	var uve *recipe.UnknownVariantError
	require.ErrorAs(t, res.Roots[0].Err, &uve)
	require.Equal(t, "foo", uve.Variant)

	var unsat *spec.UnsatisfiableConstraintError
	require.ErrorAs(t, res.Roots[1].Err, &unsat)

	require.ErrorContains(t, res.Roots[2].Err, "names no package")

	// Requests that narrow to nothing fail before searching.
	res = solve(t, db, []string{"zlib@1.2 ^gmake@4.4", "zlib@1.3"})
	require.NoError(t, res.Roots[0].Err)
	require.ErrorAs(t, res.Roots[1].Err, &unsat)
	require.Equal(t, "version", unsat.Axis)

	_, err := Solve(context.Background(), db, []*spec.Constraint{spec.MustParse("zlib")})
	require.ErrorContains(t, err, "default platform")
	_, err = Solve(context.Background(), db, nil, WithPlatform(spec.Arch{Platform: "linux"}))
	require.Error(t, err)
	_, err = Solve(context.Background(), db, nil, WithPolicy(Policy{Tests: "some"}))
	require.Error(t, err)
}

func TestUnknownDependency(t *testing.T) {
	db := newIndex(t, `
name: broken
build-system: bundle
versions: [{version: "1"}]
dependencies:
  - spec: missing
`)
	res := solve(t, db, []string{"broken"})
	var upe *recipe.UnknownPackageError
	require.ErrorAs(t, res.Roots[0].Err, &upe)
	require.Equal(t, "missing", upe.Name)
}

func TestCycles(t *testing.T) {
	db := newIndex(t, `
name: a
build-system: bundle
versions: [{version: "1"}]
dependencies: [{spec: b}]
`, `
name: b
build-system: bundle
versions: [{version: "1"}]
dependencies: [{spec: a}]
`)
	res := solve(t, db, []string{"a"})
	var cyc *CyclicDependencyError
	require.ErrorAs(t, res.Roots[0].Err, &cyc)
	require.Equal(t, []string{"a", "b", "a"}, cyc.Cycle)

	// A cycle behind a condition is avoided by choosing differently.
	db = newIndex(t, `
name: a
build-system: bundle
versions: [{version: "1"}]
dependencies: [{spec: b}]
`, `
name: b
build-system: bundle
versions: [{version: "1"}]
variants:
  - name: loop
    default: true
dependencies:
  - spec: a
    when: +loop
`)
	got := solveOne(t, db, "a")
	v, _ := dep(t, got, "b").Variant("loop")
	require.Equal(t, spec.BoolVariant(false), v)

	// The cycle itself is unconditional, but only a variant of the root
	// pulls it in.
	db = newIndex(t, `
name: r
build-system: bundle
versions: [{version: "1"}]
variants:
  - name: x
    default: true
dependencies:
  - spec: a
    when: +x
`, `
name: a
build-system: bundle
versions: [{version: "1"}]
dependencies: [{spec: b}]
`, `
name: b
build-system: bundle
versions: [{version: "1"}]
dependencies: [{spec: a}]
`)
	got = solveOne(t, db, "r")
	v, _ = got.Variant("x")
	require.Equal(t, spec.BoolVariant(false), v)
	_, ok := got.Dependency("a")
	require.False(t, ok)

	// Pinning the variant leaves no way around the cycle.
	res = solve(t, db, []string{"r+x"})
	require.ErrorAs(t, res.Roots[0].Err, &cyc)
	require.Equal(t, []string{"a", "b", "a"}, cyc.Cycle)
}

func TestReuse(t *testing.T) {
	db := builtin(t)
	installed := solveOne(t, db, "zlib@1.2.13~shared")
	idx := store.NewIndex(installed)

	for _, tc := range []struct {
		name    string
		root    string
		policy  Policy
		reused  bool
		version string
		shared  bool
	}{{
		name:    "installed preferred",
		root:    "hdf5~mpi",
		policy:  DefaultPolicy,
		reused:  true,
		version: "1.2.13",
	}, {
		name:    "fresh preferred",
		root:    "hdf5~mpi",
		policy:  Policy{Unify: true},
		version: "1.3.1",
		shared:  true,
	}, {
		name:    "installed variant excluded",
		root:    "hdf5~mpi ^zlib+shared",
		policy:  DefaultPolicy,
		version: "1.3.1",
		shared:  true,
	}} {
		t.Run(tc.name, func(t *testing.T) {
			got := solveOne(t, db, tc.root, WithReuse(idx), WithPolicy(tc.policy))
			z := dep(t, got, "zlib")
			if tc.reused {
				require.Same(t, installed, z)
			} else {
				require.NotSame(t, installed, z)
			}
			require.Equal(t, tc.version, z.Version().String())
			v, _ := z.Variant("shared")
			require.Equal(t, spec.BoolVariant(tc.shared), v)
		})
	}
}

func TestReuseProvider(t *testing.T) {
	installed := solveOne(t, builtin(t), "hdf5+mpi ^openmpi")
	db := builtinWith(t, []string{`
name: mpi-app
build-system: bundle
versions: [{version: "1"}]
dependencies: [{spec: mpi}]
`})

	res := solve(t, db, []string{"hdf5", "mpi-app"}, WithReuse(store.NewIndex(installed)))
	require.NoError(t, res.Err())
	require.Same(t, installed, res.Roots[0].Spec)
	require.Same(t, dep(t, installed, "openmpi"), dep(t, res.Roots[1].Spec, "openmpi"))
	for _, n := range res.Nodes {
		require.NotEqual(t, "mpich", n.Name())
	}
}

func TestReuseConflict(t *testing.T) {
	db := builtin(t)
	installed := solveOne(t, db, "hdf5~mpi ^zlib@1.2.13")

	// The installed hdf5 brings zlib 1.2.13, which the second root rules out.
	res := solve(t, db, []string{"hdf5~mpi", "zlib@1.3:"}, WithReuse(store.NewIndex(installed)))
	require.NoError(t, res.Err())
	hdf5, zlib := res.Roots[0].Spec, res.Roots[1].Spec
	require.NotSame(t, installed, hdf5)
	require.Equal(t, "1.3.1", zlib.Version().String())
	require.Same(t, zlib, dep(t, hdf5, "zlib"))
}

func TestTestDependencies(t *testing.T) {
	db := newIndex(t, `
name: app
build-system: bundle
versions: [{version: "1"}]
dependencies:
  - spec: lib
  - spec: checker
    type: [test]
`, `
name: lib
build-system: bundle
versions: [{version: "1"}]
dependencies:
  - spec: checker
    type: [test]
`, `
name: checker
build-system: bundle
versions: [{version: "1"}]
`)
	for _, tc := range []struct {
		policy  recipe.TestPolicy
		app     bool
		lib     bool
		appType spec.DepType
	}{
		{policy: recipe.TestsNone},
		{policy: recipe.TestsRoot, app: true},
		{policy: recipe.TestsAll, app: true, lib: true},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			got := solveOne(t, db, "app", WithPolicy(Policy{Unify: true, Tests: tc.policy}))
			e, ok := got.Dependency("checker")
			require.Equal(t, tc.app, ok)
			if ok {
				require.Equal(t, spec.Test, e.Types)
			}
			_, ok = dep(t, got, "lib").Dependency("checker")
			require.Equal(t, tc.lib, ok)
		})
	}
}

func TestDeterminism(t *testing.T) {
	roots := []string{"hdf5", "py-numpy", "python"}
	first := solve(t, builtin(t), roots)
	require.NoError(t, first.Err())
	for range 3 {
		again := solve(t, builtin(t), roots)
		require.Len(t, again.Nodes, len(first.Nodes))
		for i := range first.Nodes {
			require.Equal(t, first.Nodes[i].Hash(), again.Nodes[i].Hash())
		}
	}
	// zlib is shared by hdf5 and python.
	require.Same(t, dep(t, first.Roots[0].Spec, "zlib"), dep(t, first.Roots[2].Spec, "zlib"))
}

func TestBudget(t *testing.T) {
	db := builtin(t)
	res := solve(t, db, []string{"hdf5"}, WithBudget(Budget{MaxSteps: 2}))
	var te *ConcretizationTimeoutError
	require.ErrorAs(t, res.Roots[0].Err, &te)
	require.Equal(t, 2, te.MaxSteps)
	var use *UnsatisfiableSpecError
	require.False(t, errors.As(res.Roots[0].Err, &use))

	res = solve(t, db, []string{"hdf5"}, WithBudget(Budget{MaxSteps: 1000}))
	require.NoError(t, res.Err())
	require.Positive(t, res.Stats.Steps)
	require.Equal(t, 1, res.Stats.Attempts)

	_, err := Solve(context.Background(), db, nil, WithBudget(Budget{MaxSteps: -1}))
	require.Error(t, err)
}

func TestBudgetCountsSkippedConfigurations(t *testing.T) {
	pkg := `
name: p
build-system: bundle
versions: [{version: "1"}]
variants:
  - name: extra
    default: false
`
	for i := range 10 {
		pkg += fmt.Sprintf("  - name: v%d\n    default: false\n    when: +extra\n", i)
	}
	pkg += "dependencies: [{spec: q@9}]\n"
	db := newIndex(t, pkg, `
name: q
build-system: bundle
versions: [{version: "1"}]
`)

	// With extra disabled every other configuration repeats the first one.
	res := solve(t, db, []string{"p~extra"}, WithBudget(Budget{MaxSteps: 100}))
	var te *ConcretizationTimeoutError
	require.ErrorAs(t, res.Roots[0].Err, &te)

	res = solve(t, db, []string{"p~extra"})
	var use *UnsatisfiableSpecError
	require.ErrorAs(t, res.Roots[0].Err, &use)
	require.False(t, errors.As(res.Roots[0].Err, &te))
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Solve(ctx, builtin(t), []*spec.Constraint{spec.MustParse("hdf5")},
		WithPlatform(testPlatform), WithCompilers(gcc))
	require.ErrorIs(t, err, context.Canceled)
}
