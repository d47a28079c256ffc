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

// Package lock reads and writes lockfiles, the persisted result of a
// concretization.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/chainguard-dev/clog"
	purl "github.com/package-url/packageurl-go"
	"go.opentelemetry.io/otel"

	"chainguard.dev/concretizer/pkg/recipe"
	"chainguard.dev/concretizer/pkg/solver"
	"chainguard.dev/concretizer/pkg/spec"
	"chainguard.dev/concretizer/pkg/validate"
)

const (
	FileType = "concretizer-lockfile"
	Version  = 1
)

type Lock struct {
	Meta          Meta            `json:"_meta"`
	Config        *Config         `json:"config,omitempty"`
	Repos         []Repo          `json:"repos,omitempty"`
	Roots         []Root          `json:"roots"`
	ConcreteSpecs map[string]Node `json:"concrete_specs"`
}

type Meta struct {
	FileType        string `json:"file-type"`
	LockfileVersion int    `json:"lockfile-version"`
}

// Config describes the environment file used to generate the lock file.
// Used to detect that the environment changed without regenerating the
// lockfile.
type Config struct {
	Name string `json:"name,omitempty"`
	// This checksum also covers command-line settings that influence the
	// resolution.
	DeepChecksum string `json:"checksum,omitempty"`
}

// Repo records a recipe repository the lock was resolved against.
type Repo struct {
	Location  string `json:"location"`
	Namespace string `json:"namespace,omitempty"`
	// VCS is the origin and commit of the repository checkout, if known.
	VCS string `json:"vcs,omitempty"`
}

// Root is one successfully resolved request.
type Root struct {
	Hash string `json:"hash"`
	Spec string `json:"spec"`
}

// Node is one concrete spec.
type Node struct {
	spec.Document
	PURL string `json:"purl,omitempty"`
}

type Option func(*Lock)

func WithConfig(name, checksum string) Option {
	return func(l *Lock) {
		l.Config = &Config{Name: name, DeepChecksum: checksum}
	}
}

func WithRepos(repos ...Repo) Option {
	return func(l *Lock) {
		l.Repos = append(l.Repos, repos...)
	}
}

// New creates a lock holding the successful roots of res and every node
// they depend on.
func New(res *solver.Result, opts ...Option) Lock {
	l := Lock{
		Meta:          Meta{FileType: FileType, LockfileVersion: Version},
		ConcreteSpecs: map[string]Node{},
	}
	for _, opt := range opts {
		opt(&l)
	}
	for _, rr := range res.Roots {
		if rr.Spec == nil {
			continue
		}
		l.Roots = append(l.Roots, Root{Hash: rr.Spec.Hash(), Spec: rr.Request.String()})
		for _, n := range rr.Spec.Traverse() {
			if _, ok := l.ConcreteSpecs[n.Hash()]; ok {
				continue
			}
			l.ConcreteSpecs[n.Hash()] = Node{Document: n.Document(), PURL: PackageURL(n)}
		}
	}
	return l
}

// PackageURL returns the purl identifying c.
func PackageURL(c *spec.Concrete) string {
	q := purl.Qualifiers{{Key: "arch", Value: c.Arch().Platform + "-" + c.Arch().OS + "-" + c.Arch().Target}}
	if cc, ok := c.Compiler(); ok {
		q = append(q, purl.Qualifier{Key: "compiler", Value: cc.String()})
	}
	q = append(q, purl.Qualifier{Key: "hash", Value: c.Hash()})
	return purl.NewPackageURL(purl.TypeGeneric, "", c.Name(), c.Version().String(), q, "").String()
}

func FromFile(lockFile string) (Lock, error) {
	payload, err := os.ReadFile(lockFile)
	if err != nil {
		return Lock{}, fmt.Errorf("failed to load lockfile: %w", err)
	}
	var lock Lock
	if err := json.Unmarshal(payload, &lock); err != nil {
		return Lock{}, fmt.Errorf("failed to parse lockfile %s: %w", lockFile, err)
	}
	if lock.Meta.FileType != FileType {
		return Lock{}, fmt.Errorf("%s is not a lockfile (file-type %q)", lockFile, lock.Meta.FileType)
	}
	if lock.Meta.LockfileVersion != Version {
		return Lock{}, fmt.Errorf("unsupported lockfile version %d in %s", lock.Meta.LockfileVersion, lockFile)
	}
	return lock, nil
}

func (lock Lock) SaveToFile(lockFile string) error {
	jsonb, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshall json: %w", err)
	}
	// Github and pre-commit checks (like end-of-file-fixer) are expecting ASCII files
	// to end with a newline that marshal is not providing.
	jsonb = append(jsonb, '\n')
	return os.WriteFile(lockFile, jsonb, 0o644)
}

// CheckConfig fails when the lock was generated from a different
// environment.
func (lock Lock) CheckConfig(checksum string) error {
	if lock.Config == nil || lock.Config.DeepChecksum == "" {
		return nil
	}
	if lock.Config.DeepChecksum != checksum {
		return fmt.Errorf("lockfile was generated from a different configuration (checksum %s, want %s)", lock.Config.DeepChecksum, checksum)
	}
	return nil
}

// Reconstruct rebuilds the concrete graphs of the lock bottom-up and returns
// the roots in the order they were requested. Every node must hash to its
// key.
func (lock Lock) Reconstruct(ctx context.Context) ([]*spec.Concrete, error) {
	_, span := otel.Tracer("concretizer").Start(ctx, "lock.Reconstruct")
	defer span.End()

	docs := make(map[string]spec.Document, len(lock.ConcreteSpecs))
	for h, n := range lock.ConcreteSpecs {
		docs[h] = n.Document
	}
	built, err := spec.Rebuild(docs)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, h := range slices.Sorted(maps.Keys(lock.ConcreteSpecs)) {
		n := lock.ConcreteSpecs[h]
		if n.PURL != "" && n.PURL != PackageURL(built[h]) {
			errs = append(errs, fmt.Errorf("%s/%s: purl %s does not match the spec", n.Name, h, n.PURL))
		}
	}
	roots := make([]*spec.Concrete, 0, len(lock.Roots))
	for _, r := range lock.Roots {
		c, ok := built[r.Hash]
		if !ok {
			errs = append(errs, fmt.Errorf("root %s refers to missing spec %s", r.Spec, r.Hash))
			continue
		}
		req, err := spec.Parse(r.Spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("root %s: %w", r.Spec, err))
			continue
		}
		// Virtual roots resolve to a provider with another name.
		if req.Name == c.Name() && !req.MatchesNode(c.Node()) {
			errs = append(errs, fmt.Errorf("root %s resolved to %s, which does not satisfy it", r.Spec, c))
			continue
		}
		roots = append(roots, c)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	clog.FromContext(ctx).Debugf("reconstructed %d roots from %d specs", len(roots), len(built))
	return roots, nil
}

// Verify reconstructs the lock and validates every root against db.
func (lock Lock) Verify(ctx context.Context, db recipe.Database, opts ...validate.Option) ([]*spec.Concrete, error) {
	roots, err := lock.Reconstruct(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range roots {
		if _, err := validate.Validate(r, db, opts...); err != nil {
			return nil, fmt.Errorf("root %s: %w", r, err)
		}
	}
	return roots, nil
}
