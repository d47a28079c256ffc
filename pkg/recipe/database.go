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
	"cmp"
	"fmt"
	"slices"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Database is the read-only view of package definitions used during
// resolution.
type Database interface {
	// Get returns the named package, or *UnknownPackageError.
	Get(name string) (*PackageDef, error)
	// IsVirtual reports whether name is provided by packages but is not a
	// package itself.
	IsVirtual(name string) bool
	// ProvidersOf returns the packages providing virtual, most preferred
	// first.
	ProvidersOf(virtual string) []*PackageDef
	// Names returns every package name, sorted.
	Names() []string
}

// UnknownPackageError is returned for names that are neither packages nor
// virtuals.
type UnknownPackageError struct {
	Name string
}

func (e *UnknownPackageError) Error() string {
	return fmt.Sprintf("unknown package %q", e.Name)
}

// Index is an immutable in-memory Database.
type Index struct {
	packages  map[string]*PackageDef
	providers map[string][]*PackageDef
	names     []string
}

var _ Database = (*Index)(nil)

type indexOpts struct {
	providerPrefs map[string][]string
}

// IndexOption configures NewIndex.
type IndexOption func(*indexOpts)

// WithProviderPreferences ranks the listed providers of each virtual ahead
// of all others, in list order.
func WithProviderPreferences(prefs map[string][]string) IndexOption {
	return func(o *indexOpts) {
		o.providerPrefs = prefs
	}
}

// NewIndex builds an Index. Package names must be unique and must not
// collide with a virtual.
func NewIndex(defs []*PackageDef, opts ...IndexOption) (*Index, error) {
	o := &indexOpts{}
	for _, opt := range opts {
		opt(o)
	}
	idx := &Index{
		packages:  make(map[string]*PackageDef, len(defs)),
		providers: map[string][]*PackageDef{},
	}
	for _, d := range defs {
		if _, dup := idx.packages[d.Name]; dup {
			return nil, fmt.Errorf("package %q defined twice", d.Name)
		}
		idx.packages[d.Name] = d
	}
	for _, d := range defs {
		provided := sets.New[string]()
		for _, p := range d.Provides {
			provided.Insert(p.Virtual.Name)
		}
		for _, v := range sets.List(provided) {
			if _, clash := idx.packages[v]; clash {
				return nil, fmt.Errorf("package %q provides %q, which is also a package", d.Name, v)
			}
			idx.providers[v] = append(idx.providers[v], d)
		}
	}
	for v, ps := range idx.providers {
		rank := rankFor(o.providerPrefs[v])
		slices.SortFunc(ps, func(a, b *PackageDef) int {
			if c := cmp.Compare(rank(a.Name), rank(b.Name)); c != 0 {
				return c
			}
			if c := cmp.Compare(b.ProviderPriority, a.ProviderPriority); c != 0 {
				return c
			}
			return strings.Compare(a.Name, b.Name)
		})
	}
	idx.names = sets.List(sets.KeySet(idx.packages))
	return idx, nil
}

// rankFor returns the position of a name in prefs; unlisted names rank last.
func rankFor(prefs []string) func(string) int {
	return func(name string) int {
		if i := slices.Index(prefs, name); i >= 0 {
			return i
		}
		return len(prefs)
	}
}

func (idx *Index) Get(name string) (*PackageDef, error) {
	p, ok := idx.packages[name]
	if !ok {
		return nil, &UnknownPackageError{Name: name}
	}
	return p, nil
}

func (idx *Index) IsVirtual(name string) bool {
	_, ok := idx.providers[name]
	return ok
}

func (idx *Index) ProvidersOf(virtual string) []*PackageDef {
	return slices.Clone(idx.providers[virtual])
}

func (idx *Index) Names() []string { return slices.Clone(idx.names) }

// Virtuals returns every virtual name, sorted.
func (idx *Index) Virtuals() []string {
	return sets.List(sets.KeySet(idx.providers))
}

// Len returns the number of packages.
func (idx *Index) Len() int { return len(idx.packages) }
