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

package recipe

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/psanford/memfs"
	"github.com/stretchr/testify/require"

	"chainguard.dev/concretizer/pkg/spec"
	"chainguard.dev/concretizer/pkg/version"
)

const builtinRepo = "testdata/builtin"

func loadBuiltin(t *testing.T) *Repo {
	t.Helper()
	repo, err := LoadRepo(context.Background(), os.DirFS(builtinRepo))
	require.NoError(t, err)
	return repo
}

func TestLoadRepo(t *testing.T) {
	repo := loadBuiltin(t)
	require.Equal(t, "builtin", repo.Namespace)

	var names []string
	for _, p := range repo.Packages {
		names = append(names, p.Name)
	}
	require.Equal(t, []string{
		"cmake", "gmake", "hdf5", "mpich", "netlib-lapack",
		"openblas", "openmpi", "py-numpy", "python", "zlib",
	}, names)

	idx, err := NewIndex(repo.Packages)
	require.NoError(t, err)

	hdf5, err := idx.Get("hdf5")
	require.NoError(t, err)
	require.Equal(t, "builtin.hdf5", hdf5.FullName())
	require.Equal(t, CMake, hdf5.BuildSystem)
	require.Len(t, hdf5.Versions, 3)
	require.Len(t, hdf5.Variants, 4)
	require.Len(t, hdf5.Conflicts, 2)

	api, ok := hdf5.Variant("api")
	require.True(t, ok)
	require.False(t, api.IsBool())
	require.Equal(t, spec.SingleVariant("default"), api.Default)

	mpi, ok := hdf5.Variant("mpi")
	require.True(t, ok)
	require.Equal(t, spec.BoolVariant(true), mpi.Default)

	deps := hdf5.AllDependencies()
	require.Len(t, deps, 3)
	require.Equal(t, "zlib@1.2.5:", deps[0].Spec.String())
	require.Equal(t, spec.Link, deps[0].Types)
	require.Equal(t, "+mpi", deps[1].When.String())
	require.Equal(t, spec.Build|spec.Link|spec.Run, deps[1].Types)
	require.Equal(t, "cmake", deps[2].Spec.Name)
	require.True(t, deps[2].Implied)

	zlib, err := idx.Get("zlib")
	require.NoError(t, err)
	vd, ok := zlib.Version(version.MustParse("1.2.11"))
	require.True(t, ok)
	require.True(t, vd.Deprecated)

	// py-numpy declares python itself, which replaces the implied edge.
	numpy, err := idx.Get("py-numpy")
	require.NoError(t, err)
	var pythons int
	for _, d := range numpy.AllDependencies() {
		if d.Spec.Name == "python" {
			pythons++
			require.False(t, d.Implied)
		}
	}
	require.Equal(t, 1, pythons)
}

func TestLoadRepoErrors(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, fsys.MkdirAll("packages/broken", 0o755))
	require.NoError(t, fsys.MkdirAll("packages/mismatch", 0o755))
	require.NoError(t, fsys.MkdirAll("packages/empty", 0o755))
	require.NoError(t, fsys.WriteFile("repo.yaml", []byte("repo:\n  namespace: custom\n"), 0o644))
	require.NoError(t, fsys.WriteFile("packages/broken/package.yaml", []byte(`
versions:
  - version: "1.0"
variants:
  - name: api
    values: [a, b]
    default: c
dependencies:
  - spec: "zlib"
    when: "^openssl"
`), 0o644))
	require.NoError(t, fsys.WriteFile("packages/mismatch/package.yaml", []byte("name: other\nversions: [{version: '1'}]\n"), 0o644))

	_, err := LoadRepo(context.Background(), fsys)
	require.Error(t, err)
	require.ErrorContains(t, err, `default "c" is not one of`)
	require.ErrorContains(t, err, "may only refer to broken itself")
	require.ErrorContains(t, err, `recipe names "other"`)
}

func TestLoadRepoMemFS(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, fsys.MkdirAll("packages/foo", 0o755))
	require.NoError(t, fsys.WriteFile("repo.yaml", []byte("repo:\n  namespace: custom\n"), 0o644))
	require.NoError(t, fsys.WriteFile("packages/foo/package.yaml", []byte(`
versions:
  - version: "2.0"
  - version: "1.0"
    preferred: true
variants:
  - name: cuda_arch
    values: ["70", "80", "90"]
    default: "70"
    multi: true
    when: +cuda
  - name: cuda
provides:
  - spec: bar@:2
    when: "@2:"
`), 0o644))

	repo, err := LoadRepo(context.Background(), fsys)
	require.NoError(t, err)
	require.Equal(t, "custom", repo.Namespace)
	require.Len(t, repo.Packages, 1)

	foo := repo.Packages[0]
	require.Equal(t, "foo", foo.Name)
	require.Equal(t, Generic, foo.BuildSystem)
	require.True(t, foo.Versions[1].Preferred)

	arch, ok := foo.Variant("cuda_arch")
	require.True(t, ok)
	require.True(t, arch.Multi)
	require.Equal(t, "+cuda", arch.When.String())

	n := spec.Node{Name: "foo", Variants: map[string]spec.VariantValue{"cuda": spec.BoolVariant(false)}}
	require.Len(t, foo.ActiveVariants(n), 1)
	n.Variants["cuda"] = spec.BoolVariant(true)
	require.Len(t, foo.ActiveVariants(n), 2)

	n.Version = version.MustParse("2.0")
	require.True(t, foo.ProvidesVirtual("bar", n))
	n.Version = version.MustParse("1.0")
	require.False(t, foo.ProvidesVirtual("bar", n))
}

func TestIndexRoundTrip(t *testing.T) {
	repo := loadBuiltin(t)
	for _, format := range []Format{FormatJSON, FormatGzip, FormatZstd} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteIndex(&buf, repo, format))

			got, err := ReadIndex(&buf, format)
			require.NoError(t, err)
			require.Equal(t, repo.Namespace, got.Namespace)
			require.Len(t, got.Packages, len(repo.Packages))
			for i, p := range repo.Packages {
				if diff := cmp.Diff(p.File(), got.Packages[i].File()); diff != "" {
					t.Errorf("%s differs after round trip (-want, +got):\n%s", p.Name, diff)
				}
			}
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	for p, want := range map[string]Format{
		"index.json":          FormatJSON,
		"x/index.json.gz":     FormatGzip,
		"index.json.zst":      FormatZstd,
		"/abs/repo.tgz":       FormatGzip,
		"file:///r/i.json":    FormatJSON,
		"https://h/i.json.gz": FormatGzip,
	} {
		got, err := FormatFromPath(p)
		require.NoError(t, err)
		require.Equal(t, want, got, p)
	}
	_, err := FormatFromPath("repo")
	require.Error(t, err)
	require.False(t, IsIndexPath("some/dir"))
}

func TestLoadRepos(t *testing.T) {
	ctx := context.Background()
	repo := loadBuiltin(t)

	// An overlay repository that shadows zlib.
	overlay := memfs.New()
	require.NoError(t, overlay.MkdirAll("packages/zlib", 0o755))
	require.NoError(t, overlay.WriteFile("repo.yaml", []byte("repo:\n  namespace: overlay\n"), 0o644))
	require.NoError(t, overlay.WriteFile("packages/zlib/package.yaml", []byte("versions: [{version: '9.9'}]\n"), 0o644))
	over, err := LoadRepo(ctx, overlay)
	require.NoError(t, err)

	var gz bytes.Buffer
	require.NoError(t, WriteIndex(&gz, over, FormatGzip))
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path != "/overlay/index.json.gz" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(gz.Bytes())
	}))
	defer srv.Close()

	tmp := t.TempDir()
	zst := filepath.Join(tmp, "builtin.json.zst")
	f, err := os.Create(zst)
	require.NoError(t, err)
	require.NoError(t, WriteIndex(f, repo, FormatZstd))
	require.NoError(t, f.Close())

	abs, err := filepath.Abs(builtinRepo)
	require.NoError(t, err)

	repos, err := LoadRepos(ctx, []string{
		srv.URL + "/overlay/index.json.gz",
		"file://" + abs,
		zst,
	}, WithHTTPClient(srv.Client()), WithRetries(0))
	require.NoError(t, err)
	require.Len(t, repos, 3)
	require.Equal(t, "overlay", repos[0].Namespace)
	require.Equal(t, "builtin", repos[1].Namespace)
	require.Equal(t, zst, repos[2].Location)
	require.Equal(t, 1, hits)

	merged := Merge(repos...)
	require.Len(t, merged, len(repo.Packages))
	idx, err := NewIndex(merged)
	require.NoError(t, err)
	zlib, err := idx.Get("zlib")
	require.NoError(t, err)
	require.Equal(t, "overlay", zlib.Namespace)

	_, err = LoadRepos(ctx, []string{srv.URL + "/missing/index.json.gz"}, WithHTTPClient(srv.Client()), WithRetries(0))
	require.Error(t, err)

	_, err = LoadRepos(ctx, []string{"git+example.com/recipes.git"})
	require.ErrorContains(t, err, "missing URL scheme")
}
