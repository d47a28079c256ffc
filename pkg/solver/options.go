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
	"errors"
	"fmt"
	"time"

	"chainguard.dev/concretizer/pkg/recipe"
	"chainguard.dev/concretizer/pkg/spec"
	"chainguard.dev/concretizer/pkg/store"
	"chainguard.dev/concretizer/pkg/version"
)

// Policy selects between equally valid answers.
type Policy struct {
	// PreferReuse tries installed specs before building fresh ones.
	PreferReuse bool
	// Unify solves all roots into one graph where possible. Otherwise each
	// root is solved on its own.
	Unify bool
	Tests recipe.TestPolicy
}

// DefaultPolicy prefers reuse and unifies roots.
var DefaultPolicy = Policy{PreferReuse: true, Unify: true, Tests: recipe.TestsNone}

// Budget bounds the search. Zero fields are unlimited.
type Budget struct {
	// MaxSteps bounds the number of alternatives tried per solve attempt.
	MaxSteps int
	// Timeout bounds the wall time of the whole call.
	Timeout time.Duration
}

// PackagePreference orders the choices for a package without restricting
// them.
type PackagePreference struct {
	Versions  []version.Version
	Compilers []string
	// Variants holds preferred variant values. Values for variants the
	// package does not declare are ignored.
	Variants map[string]spec.VariantValue
}

// Preferences holds package preferences. Packages entries take precedence
// over All, field by field.
type Preferences struct {
	All      PackagePreference
	Packages map[string]PackagePreference
}

func (p Preferences) forPackage(name string) PackagePreference {
	out := p.All
	pp, ok := p.Packages[name]
	if !ok {
		return out
	}
	if len(pp.Versions) > 0 {
		out.Versions = pp.Versions
	}
	if len(pp.Compilers) > 0 {
		out.Compilers = pp.Compilers
	}
	if len(pp.Variants) > 0 {
		merged := make(map[string]spec.VariantValue, len(out.Variants)+len(pp.Variants))
		for k, v := range out.Variants {
			merged[k] = v
		}
		for k, v := range pp.Variants {
			merged[k] = v
		}
		out.Variants = merged
	}
	return out
}

type opts struct {
	reuse     *store.Index
	policy    Policy
	compilers []spec.Compiler
	platform  spec.Arch
	prefs     Preferences
	budget    Budget
}

// Option configures Solve.
type Option func(*opts) error

// WithReuse makes the specs in idx candidates for reuse.
func WithReuse(idx *store.Index) Option {
	return func(o *opts) error {
		o.reuse = idx
		return nil
	}
}

// WithPolicy sets the resolution policy.
func WithPolicy(p Policy) Option {
	return func(o *opts) error {
		if _, err := recipe.ParseTestPolicy(string(p.Tests)); err != nil {
			return err
		}
		if p.Tests == "" {
			p.Tests = recipe.TestsNone
		}
		o.policy = p
		return nil
	}
}

// WithCompilers sets the available compilers, most preferred first.
func WithCompilers(cs ...spec.Compiler) Option {
	return func(o *opts) error {
		for _, c := range cs {
			if c.Name == "" || c.Version.IsZero() {
				return fmt.Errorf("compiler %q must have a name and a version", c)
			}
		}
		o.compilers = cs
		return nil
	}
}

// WithPlatform sets the platform of packages whose dependents and requests
// do not determine one.
func WithPlatform(a spec.Arch) Option {
	return func(o *opts) error {
		if !a.IsConcrete() {
			return fmt.Errorf("default platform %q must set platform, os and target", a)
		}
		o.platform = a
		return nil
	}
}

// WithPreferences sets package preferences.
func WithPreferences(p Preferences) Option {
	return func(o *opts) error {
		o.prefs = p
		return nil
	}
}

// WithBudget bounds the search.
func WithBudget(b Budget) Option {
	return func(o *opts) error {
		if b.MaxSteps < 0 || b.Timeout < 0 {
			return errors.New("budget must not be negative")
		}
		o.budget = b
		return nil
	}
}
