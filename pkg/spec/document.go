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
	"fmt"
	"maps"
	"slices"

	"chainguard.dev/concretizer/pkg/version"
)

// Document is the serialized form of one concrete node. Dependencies refer
// to other documents by hash. The hash of a Concrete is computed over its
// Document.
type Document struct {
	Name         string               `json:"name"`
	Version      string               `json:"version"`
	Variants     map[string]string    `json:"variants,omitempty"`
	Compiler     *Compiler            `json:"compiler,omitempty"`
	Arch         Arch                 `json:"arch"`
	Dependencies []DependencyDocument `json:"dependencies,omitempty"`
}

// DependencyDocument is one serialized dependency edge.
type DependencyDocument struct {
	Name     string   `json:"name"`
	Hash     string   `json:"hash"`
	Types    DepType  `json:"type"`
	Virtuals []string `json:"virtuals,omitempty"`
}

// Document returns the serialized form of c.
func (c *Concrete) Document() Document {
	doc := Document{
		Name:     c.node.Name,
		Version:  c.node.Version.String(),
		Compiler: c.node.Compiler,
		Arch:     c.node.Arch,
	}
	if len(c.node.Variants) > 0 {
		doc.Variants = make(map[string]string, len(c.node.Variants))
		for k, v := range c.node.Variants {
			doc.Variants[k] = v.String()
		}
	}
	for _, e := range c.deps {
		doc.Dependencies = append(doc.Dependencies, DependencyDocument{
			Name:     e.Spec.Name(),
			Hash:     e.Spec.Hash(),
			Types:    e.Types,
			Virtuals: e.Virtuals,
		})
	}
	return doc
}

// Rebuild reconstructs concrete specs from documents keyed by hash. Every
// document must hash to its key and every referenced dependency must be
// present.
func Rebuild(docs map[string]Document) (map[string]*Concrete, error) {
	built := make(map[string]*Concrete, len(docs))
	visiting := map[string]bool{}

	var build func(hash string) (*Concrete, error)
	build = func(hash string) (*Concrete, error) {
		if c, ok := built[hash]; ok {
			return c, nil
		}
		doc, ok := docs[hash]
		if !ok {
			return nil, fmt.Errorf("missing concrete spec %s", hash)
		}
		if visiting[hash] {
			return nil, fmt.Errorf("%s: dependency cycle through %s", doc.Name, hash)
		}
		visiting[hash] = true
		defer delete(visiting, hash)

		v, err := version.Parse(doc.Version)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", doc.Name, hash, err)
		}
		n := Node{Name: doc.Name, Version: v, Compiler: doc.Compiler, Arch: doc.Arch}
		if len(doc.Variants) > 0 {
			n.Variants = make(map[string]VariantValue, len(doc.Variants))
			for k, val := range doc.Variants {
				n.Variants[k] = ParseVariantValue(val)
			}
		}
		var edges []Edge
		for _, d := range doc.Dependencies {
			dep, err := build(d.Hash)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", doc.Name, err)
			}
			if dep.Name() != d.Name {
				return nil, fmt.Errorf("%s: dependency %s has hash of %s", doc.Name, d.Name, dep.Name())
			}
			edges = append(edges, Edge{Spec: dep, Types: d.Types, Virtuals: d.Virtuals})
		}
		c, err := NewConcrete(n, edges)
		if err != nil {
			return nil, err
		}
		if c.Hash() != hash {
			return nil, &HashMismatchError{Name: doc.Name, Hash: hash, Computed: c.Hash()}
		}
		built[hash] = c
		return c, nil
	}

	for _, h := range slices.Sorted(maps.Keys(docs)) {
		if _, err := build(h); err != nil {
			return nil, err
		}
	}
	return built, nil
}
