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

// Package recipe holds the package definitions the resolver searches over
// and the loaders that build them from recipe repositories.
package recipe

import (
	"fmt"
	"slices"
	"strings"

	"chainguard.dev/concretizer/pkg/spec"
	"chainguard.dev/concretizer/pkg/version"
)

// VersionDef is one known version of a package.
type VersionDef struct {
	Version    version.Version
	Preferred  bool
	Deprecated bool
	URL        string
	Checksum   string
}

// VariantDef declares a build option.
type VariantDef struct {
	Name    string
	Default spec.VariantValue
	// Values lists the allowed values. Empty for boolean variants.
	Values []string
	Multi  bool
	// When restricts the variant to matching configurations. Nil means the
	// variant always exists.
	When        *spec.Constraint
	Description string
}

// IsBool reports whether v is a boolean variant.
func (v VariantDef) IsBool() bool { return len(v.Values) == 0 }

// Allowed reports whether val is a legal value of v.
func (v VariantDef) Allowed(val spec.VariantValue) bool {
	if len(val.Values) == 0 || (!v.Multi && len(val.Values) != 1) {
		return false
	}
	if v.IsBool() {
		_, ok := val.Bool()
		return ok
	}
	for _, x := range val.Values {
		if !slices.Contains(v.Values, x) {
			return false
		}
	}
	return true
}

// Choices returns the candidate values of v in preference order: the
// default first, then every other single value in declaration order.
func (v VariantDef) Choices() []spec.VariantValue {
	out := []spec.VariantValue{v.Default}
	if v.IsBool() {
		b, _ := v.Default.Bool()
		return append(out, spec.BoolVariant(!b))
	}
	for _, x := range v.Values {
		c := spec.VariantValue{Values: []string{x}, Multi: v.Multi}
		if !c.Equal(v.Default) {
			out = append(out, c)
		}
	}
	return out
}

// DependencyDef is one `depends_on` edge.
type DependencyDef struct {
	// Spec names the target and carries the requirements on it.
	Spec *spec.Constraint
	// When is a predicate over the depending package's own axes. Nil means
	// always.
	When  *spec.Constraint
	Types spec.DepType
	// Implied marks edges contributed by the build system.
	Implied bool
}

// ProvidesDef declares that a package provides a virtual.
type ProvidesDef struct {
	// Virtual names the virtual and the versions of it that are provided.
	Virtual *spec.Constraint
	When    *spec.Constraint
}

// ConflictDef rejects configurations matching both Spec and When. Either
// may carry `^dep` predicates over the dependencies of the package.
type ConflictDef struct {
	Spec    *spec.Constraint
	When    *spec.Constraint
	Message string
}

// Fires reports whether the conflict applies to n.
func (c ConflictDef) Fires(n spec.Node, deps func(string) (spec.Node, bool)) bool {
	if c.When != nil && !c.When.Matches(n, deps) {
		return false
	}
	return c.Spec == nil || c.Spec.Matches(n, deps)
}

// OnDependencies reports whether evaluating c requires the dependencies of
// the package to be known.
func (c ConflictDef) OnDependencies() bool {
	return (c.Spec != nil && len(c.Spec.Dependencies) > 0) || (c.When != nil && len(c.When.Dependencies) > 0)
}

func (c ConflictDef) String() string {
	s := "conflicts(" + c.Spec.String()
	if c.When != nil {
		s += ", when=" + c.When.String()
	}
	s += ")"
	if c.Message != "" {
		s += ": " + c.Message
	}
	return s
}

// PackageDef is the definition of one package.
type PackageDef struct {
	Name             string
	Namespace        string
	BuildSystem      BuildSystem
	Versions         []VersionDef
	Variants         []VariantDef
	Dependencies     []DependencyDef
	Provides         []ProvidesDef
	Conflicts        []ConflictDef
	ProviderPriority int
}

// FullName returns namespace.name.
func (p *PackageDef) FullName() string {
	if p.Namespace == "" {
		return p.Name
	}
	return p.Namespace + "." + p.Name
}

// Version returns the definition of v.
func (p *PackageDef) Version(v version.Version) (VersionDef, bool) {
	for _, vd := range p.Versions {
		if vd.Version.Equal(v) {
			return vd, true
		}
	}
	return VersionDef{}, false
}

// Variant returns the named variant.
func (p *PackageDef) Variant(name string) (VariantDef, bool) {
	for _, v := range p.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return VariantDef{}, false
}

// ActiveVariants returns the variants that exist for n. Conditional
// variants are evaluated against the values already assigned in n.
func (p *PackageDef) ActiveVariants(n spec.Node) []VariantDef {
	var out []VariantDef
	for _, v := range p.Variants {
		if v.When == nil || v.When.MatchesNode(n) {
			out = append(out, v)
		}
	}
	return out
}

// NeedsCompiler reports whether the package is compiled.
func (p *PackageDef) NeedsCompiler() bool { return !p.BuildSystem.Trait().NoCompiler }

// AllDependencies returns the declared dependencies followed by those
// implied by the build system. A declared dependency on the same package
// replaces the implied one.
func (p *PackageDef) AllDependencies() []DependencyDef {
	out := slices.Clone(p.Dependencies)
	for _, d := range p.BuildSystem.Trait().Dependencies {
		if slices.ContainsFunc(p.Dependencies, func(o DependencyDef) bool { return o.Spec.Name == d.Spec.Name }) {
			continue
		}
		d.Implied = true
		out = append(out, d)
	}
	return out
}

// TestPolicy selects which packages get their test-only dependencies.
type TestPolicy string

const (
	TestsNone TestPolicy = "none"
	TestsRoot TestPolicy = "root"
	TestsAll  TestPolicy = "all"
)

// ParseTestPolicy validates s. The empty string is TestsNone.
func ParseTestPolicy(s string) (TestPolicy, error) {
	switch p := TestPolicy(s); p {
	case "":
		return TestsNone, nil
	case TestsNone, TestsRoot, TestsAll:
		return p, nil
	}
	return "", fmt.Errorf("unknown test policy %q (want none, root or all)", s)
}

// Includes reports whether test dependencies apply to a package, given
// whether it is a requested root.
func (t TestPolicy) Includes(isRoot bool) bool {
	return t == TestsAll || (t == TestsRoot && isRoot)
}

// ActiveDependencies returns the dependencies of p that apply to n. When
// tests is false, test-only edges are dropped and the test type is removed
// from the others.
func (p *PackageDef) ActiveDependencies(n spec.Node, tests bool) []DependencyDef {
	var out []DependencyDef
	for _, d := range p.AllDependencies() {
		if d.When != nil && !d.When.MatchesNode(n) {
			continue
		}
		if !tests {
			if d.Types.OnlyTest() {
				continue
			}
			d.Types &^= spec.Test
		}
		out = append(out, d)
	}
	return out
}

// Provisions returns the declarations by which p provides virtual.
func (p *PackageDef) Provisions(virtual string) []ProvidesDef {
	var out []ProvidesDef
	for _, pd := range p.Provides {
		if pd.Virtual.Name == virtual {
			out = append(out, pd)
		}
	}
	return out
}

// ProvidesVirtual reports whether n, a configuration of p, provides virtual.
func (p *PackageDef) ProvidesVirtual(virtual string, n spec.Node) bool {
	for _, pd := range p.Provisions(virtual) {
		if pd.When == nil || pd.When.MatchesNode(n) {
			return true
		}
	}
	return false
}

// Normalize checks c's variants against p and marks multi-valued ones. It
// fails with *UnknownVariantError for undeclared variants and with
// *spec.UnsatisfiableConstraintError for illegal values.
func (p *PackageDef) Normalize(c *spec.Constraint) (*spec.Constraint, error) {
	if len(c.Variants) == 0 {
		return c, nil
	}
	out := c.Clone()
	for name, val := range out.Variants {
		def, ok := p.Variant(name)
		if !ok {
			return nil, &UnknownVariantError{Package: p.Name, Variant: name}
		}
		val.Multi = def.Multi
		if !def.Allowed(val) {
			allowed := "true,false"
			if !def.IsBool() {
				allowed = strings.Join(def.Values, ",")
			}
			return nil, &spec.UnsatisfiableConstraintError{Name: p.Name, Axis: "variant " + name, Left: val.String(), Right: allowed}
		}
		out.Variants[name] = val
	}
	return out, nil
}

// UnknownVariantError is returned for a variant a package does not declare.
type UnknownVariantError struct {
	Package string
	Variant string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("package %q has no variant %q", e.Package, e.Variant)
}
