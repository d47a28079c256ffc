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

package types

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chainguard-dev/clog"
	"gopkg.in/yaml.v3"

	"chainguard.dev/concretizer/pkg/recipe"
	"chainguard.dev/concretizer/pkg/solver"
	"chainguard.dev/concretizer/pkg/spec"
	"chainguard.dev/concretizer/pkg/version"
)

const maxIncludeDepth = 10

// Loads an environment given a configuration file path. Every file read,
// including the included ones, is written to configHasher.
func (env *Environment) Load(ctx context.Context, configPath string, configHasher io.Writer) error {
	return env.load(ctx, configPath, configHasher, 0)
}

func (env *Environment) load(ctx context.Context, configPath string, configHasher io.Writer, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("environment includes nest deeper than %d files", maxIncludeDepth)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read environment file: %w", err)
	}
	if _, err := configHasher.Write(data); err != nil {
		return fmt.Errorf("failed to hash environment file: %w", err)
	}

	var top Environment
	if err := yaml.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("failed to parse environment %s: %w", configPath, err)
	}
	if top.Include == "" {
		*env = top
		return nil
	}

	includePath := top.Include
	if !filepath.IsAbs(includePath) {
		includePath = filepath.Join(filepath.Dir(configPath), includePath)
	}
	clog.FromContext(ctx).Debugf("%s includes %s", configPath, includePath)
	var base Environment
	if err := base.load(ctx, includePath, configHasher, depth+1); err != nil {
		return fmt.Errorf("failed to include %s: %w", top.Include, err)
	}
	top.mergeOnto(&base)
	base.Include = ""
	*env = base
	return nil
}

// mergeOnto overlays env onto base. Lists of specs, repositories and
// installed databases are concatenated with the entries of env first;
// everything else set in env replaces the value in base.
func (env *Environment) mergeOnto(base *Environment) {
	base.Specs = append(slices.Clone(env.Specs), base.Specs...)
	base.Repos = append(slices.Clone(env.Repos), base.Repos...)
	base.Installed = append(slices.Clone(env.Installed), base.Installed...)
	if len(env.Compilers) > 0 {
		base.Compilers = env.Compilers
	}
	base.Platform = env.Platform.Fill(base.Platform)

	c := env.Concretizer
	if c.Reuse != nil {
		base.Concretizer.Reuse = c.Reuse
	}
	if c.Unify != nil {
		base.Concretizer.Unify = c.Unify
	}
	if c.Tests != "" {
		base.Concretizer.Tests = c.Tests
	}
	if c.MaxSteps != 0 {
		base.Concretizer.MaxSteps = c.MaxSteps
	}
	if c.Timeout != 0 {
		base.Concretizer.Timeout = c.Timeout
	}

	if len(env.Packages) > 0 && base.Packages == nil {
		base.Packages = map[string]PackageConfig{}
	}
	maps.Copy(base.Packages, env.Packages)
}

// Do preflight checks and mutations on an environment.
func (env *Environment) Validate() error {
	var errs []error
	if len(env.Specs) == 0 {
		errs = append(errs, errors.New("environment lists no specs"))
	}
	if _, err := env.Constraints(); err != nil {
		errs = append(errs, err)
	}
	if _, err := env.ParseCompilers(); err != nil {
		errs = append(errs, err)
	}
	if _, err := env.Preferences(); err != nil {
		errs = append(errs, err)
	}
	if _, err := recipe.ParseTestPolicy(env.Concretizer.Tests); err != nil {
		errs = append(errs, err)
	}
	if env.Concretizer.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("concretizer.max-steps must not be negative, got %d", env.Concretizer.MaxSteps))
	}
	if env.Concretizer.Timeout < 0 {
		errs = append(errs, fmt.Errorf("concretizer.timeout must not be negative, got %s", env.Concretizer.Timeout))
	}
	for name, pc := range env.Packages {
		if name != "all" && len(pc.Providers) > 0 {
			errs = append(errs, fmt.Errorf("packages.%s: providers may only be set for all packages", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if env.Concretizer.Reuse == nil {
		env.Concretizer.Reuse = ptr(true)
	}
	if env.Concretizer.Unify == nil {
		env.Concretizer.Unify = ptr(true)
	}
	if env.Concretizer.Tests == "" {
		env.Concretizer.Tests = string(recipe.TestsNone)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

// Constraints parses the specs of the environment.
func (env *Environment) Constraints() ([]*spec.Constraint, error) {
	var out []*spec.Constraint
	var errs []error
	for _, s := range env.Specs {
		c, err := spec.Parse(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("spec %q: %w", s, err))
			continue
		}
		if c.IsAnonymous() {
			errs = append(errs, fmt.Errorf("spec %q names no package", s))
			continue
		}
		out = append(out, c)
	}
	return out, errors.Join(errs...)
}

// ParseCompilers returns the configured compilers in preference order.
func (env *Environment) ParseCompilers() ([]spec.Compiler, error) {
	out := make([]spec.Compiler, 0, len(env.Compilers))
	for _, cc := range env.Compilers {
		c, err := ParseCompiler(cc.Spec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ParseCompiler parses name@version.
func ParseCompiler(s string) (spec.Compiler, error) {
	name, ver, ok := strings.Cut(strings.TrimPrefix(strings.TrimSpace(s), "%"), "@")
	if !ok || name == "" {
		return spec.Compiler{}, fmt.Errorf("compiler %q must be given as name@version", s)
	}
	v, err := version.Parse(ver)
	if err != nil {
		return spec.Compiler{}, fmt.Errorf("compiler %q: %w", s, err)
	}
	return spec.Compiler{Name: name, Version: v}, nil
}

// Policy returns the solver policy. Validate must have been called.
func (env *Environment) Policy() solver.Policy {
	tests, _ := recipe.ParseTestPolicy(env.Concretizer.Tests)
	return solver.Policy{
		PreferReuse: env.Concretizer.Reuse == nil || *env.Concretizer.Reuse,
		Unify:       env.Concretizer.Unify == nil || *env.Concretizer.Unify,
		Tests:       tests,
	}
}

// Budget returns the solver budget.
func (env *Environment) Budget() solver.Budget {
	return solver.Budget{MaxSteps: env.Concretizer.MaxSteps, Timeout: env.Concretizer.Timeout}
}

// Preferences converts the packages section to solver preferences.
func (env *Environment) Preferences() (solver.Preferences, error) {
	var out solver.Preferences
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(env.Packages)) {
		pp, err := env.Packages[name].preference()
		if err != nil {
			errs = append(errs, fmt.Errorf("packages.%s: %w", name, err))
			continue
		}
		if name == "all" {
			out.All = pp
			continue
		}
		if out.Packages == nil {
			out.Packages = map[string]solver.PackagePreference{}
		}
		out.Packages[name] = pp
	}
	return out, errors.Join(errs...)
}

func (pc PackageConfig) preference() (solver.PackagePreference, error) {
	pp := solver.PackagePreference{Compilers: pc.Compiler}
	for _, s := range pc.Version {
		v, err := version.Parse(s)
		if err != nil {
			return pp, err
		}
		pp.Versions = append(pp.Versions, v)
	}
	if pc.Variants != "" {
		c, err := spec.Parse(pc.Variants)
		if err != nil {
			return pp, fmt.Errorf("variants: %w", err)
		}
		pp.Variants = c.Variants
	}
	return pp, nil
}

// ProviderPreferences returns the preferred providers per virtual.
func (env *Environment) ProviderPreferences() map[string][]string {
	return env.Packages["all"].Providers
}

// Summarize logs the effective environment.
func (env *Environment) Summarize(ctx context.Context) {
	log := clog.FromContext(ctx)
	log.Infof("environment:")
	log.Infof("  specs:     %v", env.Specs)
	log.Infof("  repos:     %v", env.Repos)
	if len(env.Installed) != 0 {
		log.Infof("  installed: %v", env.Installed)
	}
	var compilers []string
	for _, c := range env.Compilers {
		compilers = append(compilers, c.Spec)
	}
	log.Infof("  compilers: %v", compilers)
	log.Infof("  platform:  %s", env.Platform)
	p := env.Policy()
	log.Infof("  concretizer:")
	log.Infof("    reuse: %t", p.PreferReuse)
	log.Infof("    unify: %t", p.Unify)
	log.Infof("    tests: %s", p.Tests)
}
