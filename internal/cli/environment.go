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

package cli

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/concretizer/pkg/environment/types"
	"chainguard.dev/concretizer/pkg/lock"
	"chainguard.dev/concretizer/pkg/platform"
	"chainguard.dev/concretizer/pkg/recipe"
	"chainguard.dev/concretizer/pkg/solver"
	"chainguard.dev/concretizer/pkg/spec"
	"chainguard.dev/concretizer/pkg/store"
	"chainguard.dev/concretizer/pkg/vcs"
)

// session is an environment with its recipes and installed specs loaded.
type session struct {
	configFile string
	checksum   string
	env        *types.Environment
	repos      []*recipe.Repo
	db         *recipe.Index
	installed  *store.Index
}

// loadEnvironment reads the environment named by the options and applies the
// command line overrides. Specs are only required when requireSpecs is set.
func loadEnvironment(ctx context.Context, requireSpecs bool, opts ...Option) (*types.Environment, *Options, string, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return nil, nil, "", err
	}

	env := &types.Environment{}
	var checksum string
	if o.ConfigFile != "" {
		hasher := sha256.New()
		if err := env.Load(ctx, o.ConfigFile, hasher); err != nil {
			return nil, nil, "", fmt.Errorf("failed to load environment %s: %w", o.ConfigFile, err)
		}
		checksum = fmt.Sprintf("sha256:%x", hasher.Sum(nil))
		dir := filepath.Dir(o.ConfigFile)
		for i, r := range env.Repos {
			env.Repos[i] = relativeTo(dir, r)
		}
		for i, p := range env.Installed {
			env.Installed[i] = relativeTo(dir, p)
		}
	}

	env.Specs = append(env.Specs, o.Specs...)
	env.Repos = slices.Concat(o.Repos, env.Repos)
	env.Installed = append(env.Installed, o.Installed...)
	if o.Compilers != nil {
		env.Compilers = nil
		for _, c := range o.Compilers {
			env.Compilers = append(env.Compilers, types.CompilerConfig{Spec: c})
		}
	}
	if o.Reuse != nil {
		env.Concretizer.Reuse = o.Reuse
	}
	if o.Unify != nil {
		env.Concretizer.Unify = o.Unify
	}
	if o.Tests != "" {
		env.Concretizer.Tests = o.Tests
	}
	if o.MaxSteps != nil {
		env.Concretizer.MaxSteps = *o.MaxSteps
	}
	if o.Timeout != nil {
		env.Concretizer.Timeout = *o.Timeout
	}
	env.Platform = env.Platform.Fill(platform.Detect())

	if requireSpecs {
		if err := env.Validate(); err != nil {
			return nil, nil, "", fmt.Errorf("invalid environment: %w", err)
		}
	} else if _, err := env.Preferences(); err != nil {
		return nil, nil, "", fmt.Errorf("invalid environment: %w", err)
	}
	if len(env.Repos) == 0 {
		return nil, nil, "", errors.New("no recipe repositories given, set repos in the environment or pass --repo")
	}
	return env, o, checksum, nil
}

// relativeTo resolves local relative locations against dir.
func relativeTo(dir, location string) string {
	if strings.Contains(location, "://") || filepath.IsAbs(location) {
		return location
	}
	return filepath.Join(dir, location)
}

func newSession(ctx context.Context, requireSpecs bool, opts ...Option) (*session, error) {
	env, o, checksum, err := loadEnvironment(ctx, requireSpecs, opts...)
	if err != nil {
		return nil, err
	}
	s := &session{configFile: o.ConfigFile, checksum: checksum, env: env}

	repos, err := recipe.LoadRepos(ctx, env.Repos, recipe.WithHTTPClient(&http.Client{Transport: http.DefaultTransport}))
	if err != nil {
		return nil, err
	}
	s.repos = repos
	s.db, err = recipe.NewIndex(recipe.Merge(repos...), recipe.WithProviderPreferences(env.ProviderPreferences()))
	if err != nil {
		return nil, fmt.Errorf("indexing recipes: %w", err)
	}
	clog.FromContext(ctx).Infof("loaded %d recipes from %d repositories", s.db.Len(), len(repos))

	if len(env.Installed) > 0 {
		s.installed, err = loadInstalled(ctx, env.Installed)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// loadInstalled reads installed databases and lockfiles into one index.
func loadInstalled(ctx context.Context, paths []string) (*store.Index, error) {
	var specs []*spec.Concrete
	for _, p := range paths {
		p = recipe.LocalPath(p)
		if strings.HasSuffix(p, ".lock.json") {
			l, err := lock.FromFile(p)
			if err != nil {
				return nil, err
			}
			roots, err := l.Reconstruct(ctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
			specs = append(specs, roots...)
			continue
		}
		db, err := store.LoadFile(ctx, p)
		if err != nil {
			return nil, err
		}
		specs = append(specs, db.Specs()...)
	}
	idx := store.NewIndex(specs...)
	clog.FromContext(ctx).Infof("reusable specs: %d", idx.Len())
	return idx, nil
}

// solve concretizes the specs of the environment.
func (s *session) solve(ctx context.Context) (*solver.Result, error) {
	roots, err := s.env.Constraints()
	if err != nil {
		return nil, err
	}
	compilers, err := s.env.ParseCompilers()
	if err != nil {
		return nil, err
	}
	prefs, err := s.env.Preferences()
	if err != nil {
		return nil, err
	}
	opts := []solver.Option{
		solver.WithPlatform(s.env.Platform),
		solver.WithCompilers(compilers...),
		solver.WithPolicy(s.env.Policy()),
		solver.WithPreferences(prefs),
		solver.WithBudget(s.env.Budget()),
	}
	if s.installed != nil {
		opts = append(opts, solver.WithReuse(s.installed))
	}
	return solver.Solve(ctx, s.db, roots, opts...)
}

// lockRepos describes the loaded repositories for a lockfile.
func (s *session) lockRepos(ctx context.Context) []lock.Repo {
	log := clog.FromContext(ctx)
	out := make([]lock.Repo, 0, len(s.repos))
	for _, r := range s.repos {
		lr := lock.Repo{Location: r.Location, Namespace: r.Namespace}
		switch {
		case r.Revision != "":
			lr.VCS = r.Revision
		case !strings.Contains(r.Location, "://") || strings.HasPrefix(r.Location, "file://"):
			desc, err := vcs.Describe(recipe.LocalPath(r.Location))
			if err != nil {
				log.Debugf("no revision for %s: %v", r.Location, err)
			} else {
				lr.VCS = desc
			}
		}
		out = append(out, lr)
	}
	return out
}
