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

package cli_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"chainguard.dev/concretizer/internal/cli"
	pkglock "chainguard.dev/concretizer/pkg/lock"
)

func builtinRepo(t *testing.T) string {
	t.Helper()
	p, err := filepath.Abs(filepath.Join("..", "..", "pkg", "recipe", "testdata", "builtin"))
	require.NoError(t, err)
	return p
}

// writeEnv writes an environment using the builtin recipes into dir.
func writeEnv(t *testing.T, dir, name string, specs ...string) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("specs:\n")
	for _, s := range specs {
		fmt.Fprintf(&sb, "  - %q\n", s)
	}
	fmt.Fprintf(&sb, "repos:\n  - %s\n", builtinRepo(t))
	sb.WriteString("compilers:\n  - spec: gcc@12.3.0\n")
	sb.WriteString("platform: {platform: linux, os: rocky9, target: aarch64}\n")
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(sb.String()), 0o644))
	return p
}

func TestConcretize(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	config := filepath.Join("testdata", "env.yaml")
	outputPath := filepath.Join(tmp, "env.lock.json")

	var out bytes.Buffer
	require.NoError(t, cli.ConcretizeCmd(ctx, &out, outputPath, []string{config}))
	require.Contains(t, out.String(), "==> hdf5\n")
	require.Contains(t, out.String(), "==> zlib@1.2.13\n")
	require.Contains(t, out.String(), "^mpich@4.1.2")

	lock, err := pkglock.FromFile(outputPath)
	require.NoError(t, err)
	require.Len(t, lock.Roots, 2)
	require.Equal(t, "hdf5", lock.Roots[0].Spec)
	require.Equal(t, "zlib@1.2.13", lock.Roots[1].Spec)

	raw, err := os.ReadFile(config)
	require.NoError(t, err)
	require.Equal(t, &pkglock.Config{Name: config, DeepChecksum: fmt.Sprintf("sha256:%x", sha256.Sum256(raw))}, lock.Config)
	require.Len(t, lock.Repos, 1)
	require.Equal(t, "builtin", lock.Repos[0].Namespace)

	// The unified graph shares one zlib.
	var zlibs []string
	for h, n := range lock.ConcreteSpecs {
		if n.Name == "zlib" {
			zlibs = append(zlibs, h)
			require.Equal(t, "1.2.13", n.Version)
		}
	}
	require.Len(t, zlibs, 1)

	// Solving again writes the same lockfile.
	again := filepath.Join(tmp, "again.lock.json")
	require.NoError(t, cli.ConcretizeCmd(ctx, &bytes.Buffer{}, again, []string{config}))
	want, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	got, err := os.ReadFile(again)
	require.NoError(t, err)
	if diff := cmp.Diff(string(want), string(got)); diff != "" {
		t.Errorf("lockfiles differ (-%q +%q):\n%s", outputPath, again, diff)
	}

	var verified bytes.Buffer
	require.NoError(t, cli.VerifyLockCmd(ctx, &verified, outputPath))
	require.Contains(t, verified.String(), "2 roots")
	require.NoError(t, cli.VerifyLockCmd(ctx, &bytes.Buffer{}, outputPath, cli.WithConfig(config)))
}

func TestConcretizeOverrides(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	outputPath := filepath.Join(tmp, "env.lock.json")

	require.NoError(t, cli.ConcretizeCmd(ctx, &bytes.Buffer{}, outputPath, []string{filepath.Join("testdata", "env.yaml")},
		cli.WithUnify(false),
		cli.WithSpecsFile(filepath.Join("testdata", "specs.txt")),
	))
	lock, err := pkglock.FromFile(outputPath)
	require.NoError(t, err)

	var roots []string
	for _, r := range lock.Roots {
		roots = append(roots, r.Spec)
	}
	require.Equal(t, []string{"hdf5", "zlib@1.2.13", "hdf5~mpi ^zlib@1.3", "py-numpy"}, roots)

	// Solved separately, each root picks its own zlib.
	versions := map[string]bool{}
	for _, n := range lock.ConcreteSpecs {
		if n.Name == "zlib" {
			versions[n.Version] = true
		}
	}
	require.Equal(t, map[string]bool{"1.3.1": true, "1.2.13": true}, versions)
}

func TestConcretizeFailure(t *testing.T) {
	ctx := context.Background()
	outputPath := filepath.Join(t.TempDir(), "broken.lock.json")

	var out bytes.Buffer
	err := cli.ConcretizeCmd(ctx, &out, outputPath, []string{filepath.Join("testdata", "broken.yaml")})
	require.ErrorContains(t, err, "1 of 2 specs could not be concretized")
	require.Contains(t, out.String(), "==> zlib@9: FAILED\n")
	require.Contains(t, out.String(), "==> gmake\n")

	lock, err := pkglock.FromFile(outputPath)
	require.NoError(t, err)
	require.Len(t, lock.Roots, 1)
	require.Equal(t, "gmake", lock.Roots[0].Spec)
}

func TestConcretizeMultiple(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	a := writeEnv(t, tmp, "a.yaml", "zlib")
	b := writeEnv(t, tmp, "b.yaml", "gmake", "cmake")

	var out bytes.Buffer
	require.NoError(t, cli.ConcretizeCmd(ctx, &out, "", []string{a, b}))
	require.Less(t, strings.Index(out.String(), "==> zlib"), strings.Index(out.String(), "==> gmake"))

	for _, p := range []string{"a.lock.json", "b.lock.json"} {
		lock, err := pkglock.FromFile(filepath.Join(tmp, p))
		require.NoError(t, err)
		for _, n := range lock.ConcreteSpecs {
			require.Equal(t, "rocky9", n.Arch.OS)
		}
	}

	var verified bytes.Buffer
	require.NoError(t, cli.VerifyLockCmd(ctx, &verified, filepath.Join(tmp, "b.lock.json")))
	require.Contains(t, verified.String(), "2 roots")
}

func TestVerifyLockErrors(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	config := filepath.Join("testdata", "env.yaml")
	outputPath := filepath.Join(tmp, "env.lock.json")
	require.NoError(t, cli.ConcretizeCmd(ctx, &bytes.Buffer{}, outputPath, []string{config}))

	other := writeEnv(t, tmp, "other.yaml", "zlib")
	err := cli.VerifyLockCmd(ctx, &bytes.Buffer{}, outputPath, cli.WithConfig(other))
	require.ErrorContains(t, err, "different configuration")

	b, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Contains(t, string(b), `"version": "1.2.13"`)
	tampered := filepath.Join(tmp, "tampered.lock.json")
	require.NoError(t, os.WriteFile(tampered, bytes.ReplaceAll(b, []byte(`"version": "1.2.13"`), []byte(`"version": "1.2.12"`)), 0o644))
	err = cli.VerifyLockCmd(ctx, &bytes.Buffer{}, tampered)
	require.ErrorContains(t, err, "does not match computed hash")

	_, err = os.Stat(filepath.Join(tmp, "missing.lock.json"))
	require.Error(t, err)
	require.Error(t, cli.VerifyLockCmd(ctx, &bytes.Buffer{}, filepath.Join(tmp, "missing.lock.json")))
}
