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

package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"chainguard.dev/concretizer/pkg/recipe"
	"chainguard.dev/concretizer/pkg/solver"
	"chainguard.dev/concretizer/pkg/spec"
	"chainguard.dev/concretizer/pkg/store"
	"chainguard.dev/concretizer/pkg/version"
)

var testOptions = []solver.Option{
	solver.WithPlatform(spec.Arch{Platform: "linux", OS: "ubuntu22.04", Target: "x86_64"}),
	solver.WithCompilers(spec.Compiler{Name: "gcc", Version: version.MustParse("12.3.0")}),
}

func builtin(t *testing.T) *recipe.Index {
	t.Helper()
	repo, err := recipe.LoadRepo(context.Background(), os.DirFS("../recipe/testdata/builtin"))
	require.NoError(t, err)
	idx, err := recipe.NewIndex(repo.Packages)
	require.NoError(t, err)
	return idx
}

func solve(t *testing.T, db recipe.Database, roots []string, opts ...solver.Option) *solver.Result {
	t.Helper()
	var cs []*spec.Constraint
	for _, r := range roots {
		cs = append(cs, spec.MustParse(r))
	}
	res, err := solver.Solve(context.Background(), db, cs, append(testOptions, opts...)...)
	require.NoError(t, err)
	return res
}

func hashes(cs []*spec.Concrete) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.Hash())
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := builtin(t)
	res := solve(t, db, []string{"hdf5", "mpi", "zlib@9"})
	require.Error(t, res.Roots[2].Err)

	l := New(res, WithConfig("env.yaml", "sha256:abc"), WithRepos(Repo{Location: "./repo", Namespace: "builtin"}))
	require.Len(t, l.Roots, 2)
	require.Equal(t, "hdf5", l.Roots[0].Spec)
	require.Equal(t, "mpi", l.Roots[1].Spec)
	require.Len(t, l.ConcreteSpecs, len(res.Nodes))

	p := filepath.Join(t.TempDir(), "env.lock.json")
	require.NoError(t, l.SaveToFile(p))

	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(raw), "}\n"))
	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	require.Equal(t, map[string]any{"file-type": FileType, "lockfile-version": float64(Version)}, generic["_meta"])

	got, err := FromFile(p)
	require.NoError(t, err)
	if diff := cmp.Diff(l, got); diff != "" {
		t.Errorf("lock differs after round trip (-want, +got):\n%s", diff)
	}

	roots, err := got.Verify(ctx, db)
	require.NoError(t, err)
	require.Equal(t, []string{res.Roots[0].Spec.Hash(), res.Roots[1].Spec.Hash()}, hashes(roots))
	require.Equal(t, "mpich", roots[1].Name())

	require.NoError(t, got.CheckConfig("sha256:abc"))
	require.ErrorContains(t, got.CheckConfig("sha256:def"), "different configuration")
}

func TestPackageURL(t *testing.T) {
	res := solve(t, builtin(t), []string{"zlib"})
	z := res.Roots[0].Spec
	got := PackageURL(z)
	require.True(t, strings.HasPrefix(got, "pkg:generic/zlib@1.3.1?"), got)
	require.Contains(t, got, "arch=linux-ubuntu22.04-x86_64")
	require.Contains(t, got, "hash="+z.Hash())
}

func TestReuseFromLock(t *testing.T) {
	ctx := context.Background()
	db := builtin(t)
	first := solve(t, db, []string{"hdf5"})
	require.NoError(t, first.Err())

	p := filepath.Join(t.TempDir(), "lock.json")
	require.NoError(t, New(first).SaveToFile(p))
	l, err := FromFile(p)
	require.NoError(t, err)
	roots, err := l.Reconstruct(ctx)
	require.NoError(t, err)

	again := solve(t, db, []string{"hdf5"}, solver.WithReuse(store.NewIndex(roots...)))
	require.NoError(t, again.Err())
	require.Same(t, roots[0], again.Roots[0].Spec)
}

func TestFromFileErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	_, err := FromFile(filepath.Join(dir, "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = FromFile(write("bad.json", "{"))
	require.Error(t, err)

	_, err = FromFile(write("other.json", `{"_meta": {"file-type": "apko-lock", "lockfile-version": 1}}`))
	require.ErrorContains(t, err, "is not a lockfile")

	_, err = FromFile(write("future.json", `{"_meta": {"file-type": "concretizer-lockfile", "lockfile-version": 2}}`))
	require.ErrorContains(t, err, "unsupported lockfile version 2")
}

func TestReconstructErrors(t *testing.T) {
	ctx := context.Background()
	res := solve(t, builtin(t), []string{"hdf5"})
	fresh := func() Lock {
		// New builds fresh maps, so each case may tamper freely.
		return New(res)
	}
	zlib, ok := res.Roots[0].Spec.Find("zlib")
	require.True(t, ok)

	l := fresh()
	n := l.ConcreteSpecs[zlib.Hash()]
	n.Version = "1.2.13"
	l.ConcreteSpecs[zlib.Hash()] = n
	_, err := l.Reconstruct(ctx)
	var hm *spec.HashMismatchError
	require.ErrorAs(t, err, &hm)
	require.Equal(t, "zlib", hm.Name)

	l = fresh()
	n = l.ConcreteSpecs[zlib.Hash()]
	n.PURL = "pkg:generic/zlib@0.1"
	l.ConcreteSpecs[zlib.Hash()] = n
	_, err = l.Reconstruct(ctx)
	require.ErrorContains(t, err, "does not match the spec")

	l = fresh()
	l.Roots = append(l.Roots, Root{Hash: "nope", Spec: "cmake"})
	_, err = l.Reconstruct(ctx)
	require.ErrorContains(t, err, "refers to missing spec")

	l = fresh()
	l.Roots[0].Spec = "hdf5@1.10"
	_, err = l.Reconstruct(ctx)
	require.ErrorContains(t, err, "does not satisfy")

	l = fresh()
	delete(l.ConcreteSpecs, zlib.Hash())
	_, err = l.Reconstruct(ctx)
	require.ErrorContains(t, err, "missing concrete spec")
}
