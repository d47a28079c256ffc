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

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"

	"chainguard.dev/concretizer/pkg/spec"
)

// DatabaseVersion is the only installed-database version understood.
const DatabaseVersion = "1"

// Install is one record of an installed-spec database.
type Install struct {
	Spec spec.Document `json:"spec"`
	Path string        `json:"path,omitempty"`
	// Explicit is set for specs the user asked for, as opposed to those
	// installed as dependencies.
	Explicit bool `json:"explicit,omitempty"`
}

type databaseFile struct {
	Database struct {
		Version  string             `json:"version"`
		Installs map[string]Install `json:"installs"`
	} `json:"database"`
}

// Database is a loaded installed-spec database.
type Database struct {
	Installs map[string]Install
	specs    map[string]*spec.Concrete
}

// Load reads an installed-spec database. The graphs are rebuilt bottom-up
// and every record must hash to its key.
func Load(ctx context.Context, r io.Reader) (*Database, error) {
	_, span := otel.Tracer("concretizer").Start(ctx, "store.Load")
	defer span.End()

	var f databaseFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding installed database: %w", err)
	}
	if v := f.Database.Version; v != DatabaseVersion {
		return nil, fmt.Errorf("unsupported installed database version %q", v)
	}
	docs := make(map[string]spec.Document, len(f.Database.Installs))
	for h, in := range f.Database.Installs {
		docs[h] = in.Spec
	}
	specs, err := spec.Rebuild(docs)
	if err != nil {
		return nil, fmt.Errorf("rebuilding installed specs: %w", err)
	}
	clog.FromContext(ctx).Debugf("loaded %d installed specs", len(specs))
	return &Database{Installs: f.Database.Installs, specs: specs}, nil
}

// LoadFile is Load for a file on disk.
func LoadFile(ctx context.Context, path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	db, err := Load(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return db, nil
}

// Specs returns every installed spec, ordered by hash.
func (db *Database) Specs() []*spec.Concrete {
	out := make([]*spec.Concrete, 0, len(db.specs))
	for _, h := range slices.Sorted(maps.Keys(db.specs)) {
		out = append(out, db.specs[h])
	}
	return out
}

// Explicit returns the specs installed on request, ordered by hash.
func (db *Database) Explicit() []*spec.Concrete {
	var out []*spec.Concrete
	for _, s := range db.Specs() {
		if db.Installs[s.Hash()].Explicit {
			out = append(out, s)
		}
	}
	return out
}

// Write serializes specs, and all of their dependencies, as an installed
// database. Specs listed in explicit are marked as explicit installs.
func Write(w io.Writer, specs []*spec.Concrete, explicit ...*spec.Concrete) error {
	var f databaseFile
	f.Database.Version = DatabaseVersion
	f.Database.Installs = map[string]Install{}
	for _, s := range NewIndex(specs...).All() {
		f.Database.Installs[s.Hash()] = Install{Spec: s.Document()}
	}
	for _, s := range explicit {
		in, ok := f.Database.Installs[s.Hash()]
		if !ok {
			return fmt.Errorf("explicit spec %s is not part of the database", s)
		}
		in.Explicit = true
		f.Database.Installs[s.Hash()] = in
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}
