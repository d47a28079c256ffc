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
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/concretizer/pkg/spec"
	"chainguard.dev/concretizer/pkg/version"
)

// PackageFile is the on-disk form of a recipe, stored as
// packages/<name>/package.yaml or as an entry of a repository index.
type PackageFile struct {
	Name             string           `yaml:"name" json:"name"`
	BuildSystem      string           `yaml:"build-system,omitempty" json:"build-system,omitempty"`
	ProviderPriority int              `yaml:"provider-priority,omitempty" json:"provider-priority,omitempty"`
	Versions         []VersionFile    `yaml:"versions" json:"versions"`
	Variants         []VariantFile    `yaml:"variants,omitempty" json:"variants,omitempty"`
	Dependencies     []DependencyFile `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Provides         []ProvidesFile   `yaml:"provides,omitempty" json:"provides,omitempty"`
	Conflicts        []ConflictFile   `yaml:"conflicts,omitempty" json:"conflicts,omitempty"`
}

type VersionFile struct {
	Version    string `yaml:"version" json:"version"`
	Preferred  bool   `yaml:"preferred,omitempty" json:"preferred,omitempty"`
	Deprecated bool   `yaml:"deprecated,omitempty" json:"deprecated,omitempty"`
	URL        string `yaml:"url,omitempty" json:"url,omitempty"`
	SHA256     string `yaml:"sha256,omitempty" json:"sha256,omitempty"`
}

type VariantFile struct {
	Name        string   `yaml:"name" json:"name"`
	Default     string   `yaml:"default,omitempty" json:"default,omitempty"`
	Values      []string `yaml:"values,omitempty" json:"values,omitempty"`
	Multi       bool     `yaml:"multi,omitempty" json:"multi,omitempty"`
	When        string   `yaml:"when,omitempty" json:"when,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

type DependencyFile struct {
	Spec string   `yaml:"spec" json:"spec"`
	When string   `yaml:"when,omitempty" json:"when,omitempty"`
	Type []string `yaml:"type,omitempty" json:"type,omitempty"`
}

type ProvidesFile struct {
	Spec string `yaml:"spec" json:"spec"`
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

type ConflictFile struct {
	Spec string `yaml:"spec" json:"spec"`
	When string `yaml:"when,omitempty" json:"when,omitempty"`
	Msg  string `yaml:"msg,omitempty" json:"msg,omitempty"`
}

func parseWhen(s string) (*spec.Constraint, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	c, err := spec.Parse(s)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Definition validates f and converts it.
func (f PackageFile) Definition(namespace string) (*PackageDef, error) {
	if f.Name == "" {
		return nil, errors.New("recipe without a name")
	}
	bs, err := ParseBuildSystem(f.BuildSystem)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	def := &PackageDef{
		Name:             f.Name,
		Namespace:        namespace,
		BuildSystem:      bs,
		ProviderPriority: f.ProviderPriority,
	}

	var errs []error
	seen := map[string]bool{}
	for _, vf := range f.Versions {
		v, err := version.Parse(vf.Version)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[v.String()] {
			errs = append(errs, fmt.Errorf("version %s declared twice", v))
			continue
		}
		seen[v.String()] = true
		def.Versions = append(def.Versions, VersionDef{
			Version:    v,
			Preferred:  vf.Preferred,
			Deprecated: vf.Deprecated,
			URL:        vf.URL,
			Checksum:   vf.SHA256,
		})
	}
	if len(f.Versions) == 0 {
		errs = append(errs, errors.New("no versions declared"))
	}

	for _, vf := range f.Variants {
		vd, err := vf.definition()
		if err != nil {
			errs = append(errs, fmt.Errorf("variant %s: %w", vf.Name, err))
			continue
		}
		def.Variants = append(def.Variants, vd)
	}

	for _, df := range f.Dependencies {
		target, err := spec.Parse(df.Spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if target.Name == "" {
			errs = append(errs, fmt.Errorf("dependency %q names no package", df.Spec))
			continue
		}
		when, err := parseWhen(df.When)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if when != nil && len(when.Dependencies) > 0 {
			errs = append(errs, fmt.Errorf("dependency %q: when %q may only refer to %s itself", df.Spec, df.When, f.Name))
			continue
		}
		types, err := spec.ParseDepTypes(df.Type)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		def.Dependencies = append(def.Dependencies, DependencyDef{Spec: target, When: when, Types: types})
	}

	for _, pf := range f.Provides {
		v, err := spec.Parse(pf.Spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if v.Name == "" || v.Name == f.Name {
			errs = append(errs, fmt.Errorf("provides %q must name a virtual", pf.Spec))
			continue
		}
		when, err := parseWhen(pf.When)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		def.Provides = append(def.Provides, ProvidesDef{Virtual: v, When: when})
	}

	for _, cf := range f.Conflicts {
		s, err := spec.Parse(cf.Spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		when, err := parseWhen(cf.When)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		def.Conflicts = append(def.Conflicts, ConflictDef{Spec: s, When: when, Message: cf.Msg})
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("recipe %s: %w", f.Name, err)
	}
	return def, nil
}

func (vf VariantFile) definition() (VariantDef, error) {
	vd := VariantDef{
		Name:        vf.Name,
		Values:      vf.Values,
		Multi:       vf.Multi,
		Description: vf.Description,
	}
	when, err := parseWhen(vf.When)
	if err != nil {
		return VariantDef{}, err
	}
	if when != nil && len(when.Dependencies) > 0 {
		return VariantDef{}, fmt.Errorf("when %q may not refer to dependencies", vf.When)
	}
	vd.When = when

	if vd.IsBool() {
		if vd.Multi {
			return VariantDef{}, errors.New("boolean variants cannot be multi-valued")
		}
		switch strings.ToLower(vf.Default) {
		case "", "false":
			vd.Default = spec.BoolVariant(false)
		case "true":
			vd.Default = spec.BoolVariant(true)
		default:
			return VariantDef{}, fmt.Errorf("default %q is not a boolean", vf.Default)
		}
		return vd, nil
	}
	if vf.Default == "" {
		return VariantDef{}, errors.New("valued variants need a default")
	}
	vd.Default = spec.ParseVariantValue(vf.Default)
	vd.Default.Multi = vd.Multi
	if !vd.Allowed(vd.Default) {
		return VariantDef{}, fmt.Errorf("default %q is not one of %v", vf.Default, vf.Values)
	}
	return vd, nil
}

// File converts p back to its on-disk form.
func (p *PackageDef) File() PackageFile {
	f := PackageFile{
		Name:             p.Name,
		ProviderPriority: p.ProviderPriority,
	}
	if p.BuildSystem != Generic {
		f.BuildSystem = string(p.BuildSystem)
	}
	whenString := func(c *spec.Constraint) string {
		if c == nil {
			return ""
		}
		return c.String()
	}
	for _, v := range p.Versions {
		f.Versions = append(f.Versions, VersionFile{
			Version:    v.Version.String(),
			Preferred:  v.Preferred,
			Deprecated: v.Deprecated,
			URL:        v.URL,
			SHA256:     v.Checksum,
		})
	}
	for _, v := range p.Variants {
		f.Variants = append(f.Variants, VariantFile{
			Name:        v.Name,
			Default:     v.Default.String(),
			Values:      v.Values,
			Multi:       v.Multi,
			When:        whenString(v.When),
			Description: v.Description,
		})
	}
	for _, d := range p.Dependencies {
		f.Dependencies = append(f.Dependencies, DependencyFile{
			Spec: d.Spec.String(),
			When: whenString(d.When),
			Type: d.Types.Names(),
		})
	}
	for _, pd := range p.Provides {
		f.Provides = append(f.Provides, ProvidesFile{Spec: pd.Virtual.String(), When: whenString(pd.When)})
	}
	for _, c := range p.Conflicts {
		f.Conflicts = append(f.Conflicts, ConflictFile{Spec: c.Spec.String(), When: whenString(c.When), Msg: c.Message})
	}
	return f
}
