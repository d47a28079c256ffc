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

package spec

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"chainguard.dev/concretizer/pkg/version"
)

var testArch = Arch{Platform: "linux", OS: "ubuntu22.04", Target: "x86_64"}

func testNode(name, ver string, variants map[string]VariantValue) Node {
	return Node{
		Name:     name,
		Version:  version.MustParse(ver),
		Variants: variants,
		Compiler: &Compiler{Name: "gcc", Version: version.MustParse("12.3.0")},
		Arch:     testArch,
	}
}

// testDiamond builds app -> (left, right) -> zlib.
func testDiamond(t *testing.T) *Concrete {
	t.Helper()
	zlib, err := NewConcrete(testNode("zlib", "1.3", map[string]VariantValue{"pic": BoolVariant(true)}), nil)
	require.NoError(t, err)
	left, err := NewConcrete(testNode("left", "2.0", nil), []Edge{{Spec: zlib, Types: Build | Link}})
	require.NoError(t, err)
	right, err := NewConcrete(testNode("right", "3.1", nil), []Edge{{Spec: zlib, Types: Link}})
	require.NoError(t, err)
	app, err := NewConcrete(testNode("app", "1.0", map[string]VariantValue{"mpi": BoolVariant(false)}), []Edge{
		{Spec: right, Types: Link | Run},
		{Spec: left, Types: Link},
	})
	require.NoError(t, err)
	return app
}

func TestConcreteHashDeterministic(t *testing.T) {
	a, b := testDiamond(t), testDiamond(t)
	require.Equal(t, a.Hash(), b.Hash())
	require.Len(t, a.Hash(), HashLength)
	require.Len(t, a.ShortHash(), 7)

	// Any change to any axis of any node changes the root hash.
	zlib, err := NewConcrete(testNode("zlib", "1.3", map[string]VariantValue{"pic": BoolVariant(false)}), nil)
	require.NoError(t, err)
	left, err := NewConcrete(testNode("left", "2.0", nil), []Edge{{Spec: zlib, Types: Build | Link}})
	require.NoError(t, err)
	require.NotEqual(t, a.Dependencies()[0].Spec.Hash(), left.Hash())
}

func TestConcreteAccessors(t *testing.T) {
	app := testDiamond(t)
	deps := app.Dependencies()
	require.Len(t, deps, 2)
	require.Equal(t, "left", deps[0].Spec.Name())
	require.Equal(t, "right", deps[1].Spec.Name())

	e, ok := app.Dependency("right")
	require.True(t, ok)
	require.Equal(t, Link|Run, e.Types)
	_, ok = app.Dependency("zlib")
	require.False(t, ok)

	z, ok := app.Find("zlib")
	require.True(t, ok)
	require.Equal(t, "1.3", z.Version().String())

	var names []string
	for _, n := range app.Traverse() {
		names = append(names, n.Name())
	}
	require.Equal(t, []string{"zlib", "left", "right", "app"}, names)

	// The zlib reachable through both paths is one node.
	l, _ := app.Dependency("left")
	r, _ := app.Dependency("right")
	lz, _ := l.Spec.Dependency("zlib")
	rz, _ := r.Spec.Dependency("zlib")
	require.Same(t, lz.Spec, rz.Spec)

	// Returned maps are copies.
	vs := z.Variants()
	vs["pic"] = BoolVariant(false)
	v, _ := z.Variant("pic")
	require.Equal(t, BoolVariant(true), v)
}

func TestConcreteSatisfies(t *testing.T) {
	app := testDiamond(t)
	for in, want := range map[string]bool{
		"app":                       true,
		"app@1:~mpi":                true,
		"app+mpi":                   false,
		"app ^zlib+pic":             true,
		"app ^zlib@1.2":             false,
		"app ^left@2 ^right":        true,
		"app ^missing":              false,
		"app%gcc@12 platform=linux": true,
	} {
		t.Run(in, func(t *testing.T) {
			require.Equal(t, want, app.Satisfies(MustParse(in)))
		})
	}
}

func TestConcreteConstraint(t *testing.T) {
	app := testDiamond(t)
	c := app.Constraint()
	require.True(t, c.IsConcrete())
	require.Equal(t, "app@=1.0%gcc@=12.3.0~mpi arch=linux-ubuntu22.04-x86_64", c.String())
	require.True(t, app.Satisfies(c))
}

func TestNewConcreteErrors(t *testing.T) {
	_, err := NewConcrete(Node{Name: "x"}, nil)
	require.Error(t, err)

	_, err = NewConcrete(Node{Version: version.MustParse("1")}, nil)
	require.Error(t, err)

	z, err := NewConcrete(testNode("zlib", "1.3", nil), nil)
	require.NoError(t, err)
	_, err = NewConcrete(testNode("app", "1", nil), []Edge{{Spec: z}, {Spec: z}})
	require.Error(t, err)
}

func TestDocumentRebuild(t *testing.T) {
	app := testDiamond(t)
	docs := map[string]Document{}
	for _, n := range app.Traverse() {
		docs[n.Hash()] = n.Document()
	}

	// Round trip through JSON the way lockfiles store documents.
	b, err := json.Marshal(docs)
	require.NoError(t, err)
	var decoded map[string]Document
	require.NoError(t, json.Unmarshal(b, &decoded))

	built, err := Rebuild(decoded)
	require.NoError(t, err)
	require.Len(t, built, 4)
	got := built[app.Hash()]
	require.NotNil(t, got)
	if diff := cmp.Diff(app.Tree(true), got.Tree(true)); diff != "" {
		t.Errorf("rebuilt tree differs (-want, +got):\n%s", diff)
	}

	t.Run("hash mismatch", func(t *testing.T) {
		bad := map[string]Document{}
		for h, d := range decoded {
			bad[h] = d
		}
		z, _ := app.Find("zlib")
		d := bad[z.Hash()]
		d.Version = "1.2"
		bad[z.Hash()] = d
		_, err := Rebuild(bad)
		var hm *HashMismatchError
		require.ErrorAs(t, err, &hm)
		require.Equal(t, "zlib", hm.Name)
	})

	t.Run("missing dependency", func(t *testing.T) {
		z, _ := app.Find("zlib")
		partial := map[string]Document{}
		for h, d := range decoded {
			if h != z.Hash() {
				partial[h] = d
			}
		}
		_, err := Rebuild(partial)
		require.ErrorContains(t, err, "missing concrete spec")
	})
}

func TestTree(t *testing.T) {
	app := testDiamond(t)
	want := `app@1.0%gcc@12.3.0~mpi arch=linux-ubuntu22.04-x86_64
    ^left@2.0%gcc@12.3.0 arch=linux-ubuntu22.04-x86_64
        ^zlib@1.3%gcc@12.3.0+pic arch=linux-ubuntu22.04-x86_64
    ^right@3.1%gcc@12.3.0 arch=linux-ubuntu22.04-x86_64
        ^zlib@1.3%gcc@12.3.0+pic arch=linux-ubuntu22.04-x86_64
`
	if diff := cmp.Diff(want, app.Tree(false)); diff != "" {
		t.Errorf("tree (-want, +got):\n%s", diff)
	}
}
