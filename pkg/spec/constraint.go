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

// Package spec models package requests. A Constraint is an abstract,
// possibly partial request such as `hdf5@1.12:+mpi ^zlib`; a Concrete is a
// fully pinned node of a resolved dependency graph.
package spec

import (
	"maps"
	"slices"
	"strings"

	"chainguard.dev/concretizer/pkg/version"
)

// VariantValue is the value of one variant. Boolean variants hold a single
// "true" or "false" value. Multi-valued variants hold a set of values.
type VariantValue struct {
	Values []string
	Multi  bool
}

// BoolVariant returns the value of an enabled or disabled boolean variant.
func BoolVariant(b bool) VariantValue {
	if b {
		return VariantValue{Values: []string{"true"}}
	}
	return VariantValue{Values: []string{"false"}}
}

// SingleVariant returns a single-valued variant value.
func SingleVariant(v string) VariantValue { return VariantValue{Values: []string{v}} }

// ParseVariantValue splits a comma separated value. More than one value
// marks the variant as multi-valued.
func ParseVariantValue(s string) VariantValue {
	vals := strings.Split(s, ",")
	slices.Sort(vals)
	vals = slices.Compact(vals)
	return VariantValue{Values: vals, Multi: len(vals) > 1}
}

// Bool returns the boolean held by v, if v is a boolean value.
func (v VariantValue) Bool() (value, ok bool) {
	if len(v.Values) != 1 {
		return false, false
	}
	switch v.Values[0] {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func (v VariantValue) String() string { return strings.Join(v.Values, ",") }

// Equal reports whether both values hold the same set.
func (v VariantValue) Equal(o VariantValue) bool { return slices.Equal(v.Values, o.Values) }

// contains reports whether every value of o is in v.
func (v VariantValue) contains(o VariantValue) bool {
	for _, val := range o.Values {
		if _, found := slices.BinarySearch(v.Values, val); !found {
			return false
		}
	}
	return true
}

// satisfiedBy reports whether the pinned value got meets the requirement v.
func (v VariantValue) satisfiedBy(got VariantValue) bool {
	if v.Multi || got.Multi {
		return got.contains(v)
	}
	return v.Equal(got)
}

// Arch is a platform triple. Empty fields are unconstrained.
type Arch struct {
	Platform string `json:"platform,omitempty" yaml:"platform,omitempty"`
	OS       string `json:"os,omitempty" yaml:"os,omitempty"`
	Target   string `json:"target,omitempty" yaml:"target,omitempty"`
}

// IsConcrete reports whether every field is set.
func (a Arch) IsConcrete() bool { return a.Platform != "" && a.OS != "" && a.Target != "" }

// IsZero reports whether no field is set.
func (a Arch) IsZero() bool { return a == Arch{} }

// Fill returns a with its unset fields taken from d.
func (a Arch) Fill(d Arch) Arch {
	if a.Platform == "" {
		a.Platform = d.Platform
	}
	if a.OS == "" {
		a.OS = d.OS
	}
	if a.Target == "" {
		a.Target = d.Target
	}
	return a
}

func (a Arch) matches(got Arch) bool {
	return (a.Platform == "" || a.Platform == got.Platform) &&
		(a.OS == "" || a.OS == got.OS) &&
		(a.Target == "" || a.Target == got.Target)
}

func (a Arch) String() string {
	if a.IsConcrete() {
		return "arch=" + a.Platform + "-" + a.OS + "-" + a.Target
	}
	var parts []string
	if a.Platform != "" {
		parts = append(parts, "platform="+a.Platform)
	}
	if a.OS != "" {
		parts = append(parts, "os="+a.OS)
	}
	if a.Target != "" {
		parts = append(parts, "target="+a.Target)
	}
	return strings.Join(parts, " ")
}

// CompilerConstraint restricts the compiler used to build a package.
type CompilerConstraint struct {
	Name     string
	Versions version.List
}

func (c CompilerConstraint) String() string {
	if c.Versions.IsAny() {
		return "%" + c.Name
	}
	return "%" + c.Name + "@" + c.Versions.String()
}

// Compiler is a concrete compiler choice.
type Compiler struct {
	Name    string          `json:"name"`
	Version version.Version `json:"version"`
}

func (c Compiler) String() string { return c.Name + "@" + c.Version.String() }

// Constraint is an abstract package request. A Constraint is never mutated
// once built; Narrow returns a new value.
type Constraint struct {
	// Name of a package or virtual. Empty for anonymous predicates such as
	// the `when` conditions of recipes.
	Name     string
	Versions version.List
	Variants map[string]VariantValue
	Compiler *CompilerConstraint
	Arch     Arch
	// Dependencies holds `^dep` requirements, sorted by name.
	Dependencies []*Constraint
}

// Named returns an otherwise unconstrained request for name.
func Named(name string) *Constraint { return &Constraint{Name: name} }

// Clone returns a deep copy of c.
func (c *Constraint) Clone() *Constraint {
	if c == nil {
		return nil
	}
	out := *c
	out.Variants = maps.Clone(c.Variants)
	if c.Compiler != nil {
		cc := *c.Compiler
		out.Compiler = &cc
	}
	out.Dependencies = make([]*Constraint, 0, len(c.Dependencies))
	for _, d := range c.Dependencies {
		out.Dependencies = append(out.Dependencies, d.Clone())
	}
	if len(out.Dependencies) == 0 {
		out.Dependencies = nil
	}
	return &out
}

// WithName returns a copy of c that names n.
func (c *Constraint) WithName(n string) *Constraint {
	out := c.Clone()
	out.Name = n
	return out
}

// OwnAxes returns a copy of c without its dependency requirements.
func (c *Constraint) OwnAxes() *Constraint {
	out := c.Clone()
	out.Dependencies = nil
	return out
}

// IsAnonymous reports whether c names no package.
func (c *Constraint) IsAnonymous() bool { return c.Name == "" }

// IsEmpty reports whether c restricts nothing beyond its name.
func (c *Constraint) IsEmpty() bool {
	return c.Versions.IsAny() && len(c.Variants) == 0 && c.Compiler == nil && c.Arch.IsZero() && len(c.Dependencies) == 0
}

// Dependency returns the `^name` requirement of c, if present.
func (c *Constraint) Dependency(name string) *Constraint {
	for _, d := range c.Dependencies {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// IsConcrete reports whether every axis that c mentions is pinned to one
// value: an exact version, an exact compiler and a full platform triple.
// Whether every variant of the package is set depends on the recipe and is
// checked by the validator.
func (c *Constraint) IsConcrete() bool {
	if _, ok := c.Versions.Exact(); !ok {
		return false
	}
	if c.Compiler == nil {
		return false
	}
	if _, ok := c.Compiler.Versions.Exact(); !ok {
		return false
	}
	if !c.Arch.IsConcrete() {
		return false
	}
	for _, v := range c.Variants {
		if !v.Multi && len(v.Values) != 1 {
			return false
		}
	}
	return true
}

// Narrow returns the intersection of c and o. It fails with an
// *UnsatisfiableConstraintError when no package could satisfy both.
// Narrow is commutative and associative.
func (c *Constraint) Narrow(o *Constraint) (*Constraint, error) {
	name := c.Name
	unsat := func(axis, l, r string) error {
		return &UnsatisfiableConstraintError{Name: name, Axis: axis, Left: l, Right: r}
	}
	switch {
	case c.Name == "":
		name = o.Name
	case o.Name != "" && o.Name != c.Name:
		return nil, unsat("name", c.Name, o.Name)
	}

	out := &Constraint{Name: name}

	vers, ok := c.Versions.Intersect(o.Versions)
	if !ok {
		return nil, unsat("version", c.Versions.String(), o.Versions.String())
	}
	out.Versions = vers

	if len(c.Variants)+len(o.Variants) > 0 {
		out.Variants = make(map[string]VariantValue, len(c.Variants)+len(o.Variants))
		for k, v := range c.Variants {
			out.Variants[k] = v
		}
		for k, v := range o.Variants {
			have, ok := out.Variants[k]
			switch {
			case !ok:
				out.Variants[k] = v
			case have.Multi || v.Multi:
				vals := append(slices.Clone(have.Values), v.Values...)
				slices.Sort(vals)
				out.Variants[k] = VariantValue{Values: slices.Compact(vals), Multi: true}
			case !have.Equal(v):
				return nil, unsat("variant "+k, have.String(), v.String())
			}
		}
	}

	switch {
	case c.Compiler == nil && o.Compiler != nil:
		cc := *o.Compiler
		out.Compiler = &cc
	case c.Compiler != nil && o.Compiler == nil:
		cc := *c.Compiler
		out.Compiler = &cc
	case c.Compiler != nil:
		if c.Compiler.Name != o.Compiler.Name {
			return nil, unsat("compiler", c.Compiler.String(), o.Compiler.String())
		}
		cv, ok := c.Compiler.Versions.Intersect(o.Compiler.Versions)
		if !ok {
			return nil, unsat("compiler", c.Compiler.String(), o.Compiler.String())
		}
		out.Compiler = &CompilerConstraint{Name: c.Compiler.Name, Versions: cv}
	}

	var err error
	field := func(axis, a, b string) string {
		if a != "" && b != "" && a != b && err == nil {
			err = unsat(axis, a, b)
		}
		if a == "" {
			return b
		}
		return a
	}
	out.Arch = Arch{
		Platform: field("platform", c.Arch.Platform, o.Arch.Platform),
		OS:       field("os", c.Arch.OS, o.Arch.OS),
		Target:   field("target", c.Arch.Target, o.Arch.Target),
	}
	if err != nil {
		return nil, err
	}

	deps, err := mergeDependencies(append(slices.Clone(c.Dependencies), o.Dependencies...))
	if err != nil {
		return nil, err
	}
	out.Dependencies = deps
	return out, nil
}

// mergeDependencies narrows requirements that share a name and sorts the
// result by name.
func mergeDependencies(deps []*Constraint) ([]*Constraint, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	byName := make(map[string]*Constraint, len(deps))
	for _, d := range deps {
		have, ok := byName[d.Name]
		if !ok {
			byName[d.Name] = d
			continue
		}
		n, err := have.Narrow(d)
		if err != nil {
			return nil, err
		}
		byName[d.Name] = n
	}
	out := make([]*Constraint, 0, len(byName))
	for _, name := range slices.Sorted(maps.Keys(byName)) {
		out = append(out, byName[name])
	}
	return out, nil
}

// Intersects reports whether some package could satisfy both c and o.
func (c *Constraint) Intersects(o *Constraint) bool {
	_, err := c.Narrow(o)
	return err == nil
}

// MatchesNode reports whether the pinned axes of n satisfy the own axes of
// c. Dependency requirements of c are ignored.
func (c *Constraint) MatchesNode(n Node) bool {
	if c.Name != "" && c.Name != n.Name {
		return false
	}
	if !c.Versions.IsAny() && (n.Version.IsZero() || !c.Versions.Contains(n.Version)) {
		return false
	}
	for k, want := range c.Variants {
		got, ok := n.Variants[k]
		if !ok || !want.satisfiedBy(got) {
			return false
		}
	}
	if c.Compiler != nil {
		if n.Compiler == nil || n.Compiler.Name != c.Compiler.Name || !c.Compiler.Versions.Contains(n.Compiler.Version) {
			return false
		}
	}
	return c.Arch.matches(n.Arch)
}

// Matches reports whether n, whose dependencies are looked up through deps,
// satisfies c including its `^dep` requirements.
func (c *Constraint) Matches(n Node, deps func(name string) (Node, bool)) bool {
	if !c.MatchesNode(n) {
		return false
	}
	for _, d := range c.Dependencies {
		dn, ok := deps(d.Name)
		if !ok || !d.MatchesNode(dn) {
			return false
		}
	}
	return true
}

// String formats c in spec syntax.
func (c *Constraint) String() string {
	var sb strings.Builder
	c.writeNode(&sb)
	for _, d := range c.Dependencies {
		sb.WriteString(" ^")
		d.writeNode(&sb)
	}
	return strings.TrimSpace(sb.String())
}

func (c *Constraint) writeNode(sb *strings.Builder) {
	sb.WriteString(c.Name)
	if !c.Versions.IsAny() {
		sb.WriteString("@" + c.Versions.String())
	}
	if c.Compiler != nil {
		sb.WriteString(c.Compiler.String())
	}
	writeVariants(sb, c.Variants)
	if !c.Arch.IsZero() {
		sb.WriteString(" " + c.Arch.String())
	}
}

func writeVariants(sb *strings.Builder, vs map[string]VariantValue) {
	keys := slices.Sorted(maps.Keys(vs))
	var kv []string
	for _, k := range keys {
		v := vs[k]
		if b, ok := v.Bool(); ok {
			if b {
				sb.WriteString("+" + k)
			} else {
				sb.WriteString("~" + k)
			}
			continue
		}
		kv = append(kv, k+"="+v.String())
	}
	for _, s := range kv {
		sb.WriteString(" " + s)
	}
}
