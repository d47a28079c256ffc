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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"chainguard.dev/concretizer/pkg/limitio"
)

// Format is the encoding of a repository index file.
type Format string

const (
	FormatJSON Format = "json"
	FormatGzip Format = "gzip"
	FormatZstd Format = "zstd"
)

// FormatFromPath picks the format from a file name suffix.
func FormatFromPath(p string) (Format, error) {
	switch {
	case strings.HasSuffix(p, ".json.gz"), strings.HasSuffix(p, ".tgz"):
		return FormatGzip, nil
	case strings.HasSuffix(p, ".json.zst"):
		return FormatZstd, nil
	case strings.HasSuffix(p, ".json"):
		return FormatJSON, nil
	}
	return "", fmt.Errorf("cannot tell index format of %q (want .json, .json.gz or .json.zst)", p)
}

// IsIndexPath reports whether p names an index file rather than a
// repository directory.
func IsIndexPath(p string) bool {
	_, err := FormatFromPath(p)
	return err == nil
}

// indexFile is the serialized form of a whole repository.
type indexFile struct {
	Namespace string        `json:"namespace"`
	Packages  []PackageFile `json:"packages"`
}

// WriteIndex serializes repo to w.
func WriteIndex(w io.Writer, repo *Repo, format Format) (err error) {
	idx := indexFile{Namespace: repo.Namespace}
	for _, p := range repo.Packages {
		idx.Packages = append(idx.Packages, p.File())
	}

	var out io.WriteCloser
	switch format {
	case FormatJSON:
		out = nopWriteCloser{w}
	case FormatGzip:
		out = pgzip.NewWriter(w)
	case FormatZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("creating zstd writer: %w", err)
		}
		out = zw
	default:
		return fmt.Errorf("unknown index format %q", format)
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	enc := json.NewEncoder(out)
	enc.SetIndent("", " ")
	if err := enc.Encode(idx); err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	return nil
}

// MaxIndexSize bounds the decompressed size of an index.
const MaxIndexSize = 1 << 30

// ReadIndex deserializes a repository written by WriteIndex.
func ReadIndex(r io.Reader, format Format) (*Repo, error) {
	var in io.Reader
	switch format {
	case FormatJSON:
		in = r
	case FormatGzip:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip index: %w", err)
		}
		defer gz.Close()
		in = gz
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening zstd index: %w", err)
		}
		defer zr.Close()
		in = zr
	default:
		return nil, fmt.Errorf("unknown index format %q", format)
	}

	var idx indexFile
	if err := json.NewDecoder(limitio.Reader(in, MaxIndexSize)).Decode(&idx); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	if idx.Namespace == "" {
		idx.Namespace = defaultNamespace
	}
	repo := &Repo{Namespace: idx.Namespace}
	var errs []error
	for _, pf := range idx.Packages {
		def, err := pf.Definition(idx.Namespace)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		repo.Packages = append(repo.Packages, def)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return repo, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
