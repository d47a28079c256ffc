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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"
)

const (
	repoConfigFile   = "repo.yaml"
	packagesDir      = "packages"
	packageFileName  = "package.yaml"
	defaultNamespace = "builtin"
)

// Repo is one loaded recipe repository.
type Repo struct {
	Namespace string
	// Location is where the repository was loaded from, if known.
	Location string
	// Revision is the commit a git location resolved to.
	Revision string
	Packages []*PackageDef
}

type repoConfig struct {
	Repo struct {
		Namespace string `yaml:"namespace"`
	} `yaml:"repo"`
}

// LoadRepo reads a recipe repository laid out as
//
//	repo.yaml                    (optional, holds repo.namespace)
//	packages/<name>/package.yaml
func LoadRepo(ctx context.Context, fsys fs.FS) (*Repo, error) {
	ctx, span := otel.Tracer("concretizer").Start(ctx, "LoadRepo")
	defer span.End()
	log := clog.FromContext(ctx)

	repo := &Repo{Namespace: defaultNamespace}
	b, err := fs.ReadFile(fsys, repoConfigFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", repoConfigFile, err)
	default:
		var rc repoConfig
		if err := yaml.Unmarshal(b, &rc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", repoConfigFile, err)
		}
		if rc.Repo.Namespace != "" {
			repo.Namespace = rc.Repo.Namespace
		}
	}

	entries, err := fs.ReadDir(fsys, packagesDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", packagesDir, err)
	}
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := path.Join(packagesDir, e.Name(), packageFileName)
		b, err := fs.ReadFile(fsys, p)
		if errors.Is(err, fs.ErrNotExist) {
			log.Debugf("skipping %s: no %s", e.Name(), packageFileName)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("reading %s: %w", p, err))
			continue
		}
		var pf PackageFile
		if err := yaml.Unmarshal(b, &pf); err != nil {
			errs = append(errs, fmt.Errorf("parsing %s: %w", p, err))
			continue
		}
		if pf.Name == "" {
			pf.Name = e.Name()
		}
		if pf.Name != e.Name() {
			errs = append(errs, fmt.Errorf("%s: recipe names %q", p, pf.Name))
			continue
		}
		def, err := pf.Definition(repo.Namespace)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		repo.Packages = append(repo.Packages, def)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	slices.SortFunc(repo.Packages, func(a, b *PackageDef) int { return strings.Compare(a.Name, b.Name) })
	log.Debugf("loaded %d recipes from namespace %s", len(repo.Packages), repo.Namespace)
	return repo, nil
}

// Merge combines repositories. A package in an earlier repository shadows
// packages of the same name in later ones.
func Merge(repos ...*Repo) []*PackageDef {
	seen := map[string]bool{}
	var out []*PackageDef
	for _, r := range repos {
		for _, p := range r.Packages {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *PackageDef) int { return strings.Compare(a.Name, b.Name) })
	return out
}
