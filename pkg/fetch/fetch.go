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

// Package fetch reads recipe repositories straight out of git repositories.
//
// A git location is written as git+<url>[//<dir>][@<revision>], for example
// git+https://github.com/example/recipes.git//repos/builtin@v1.2.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/psanford/memfs"
	"go.opentelemetry.io/otel"

	"chainguard.dev/concretizer/pkg/limitio"
)

const Prefix = "git+"

// MaxFileSize bounds every file read from a repository.
const MaxFileSize = 16 << 20

type Resource struct {
	URL  string
	Path string
	// Reference is a branch, tag or commit. Empty means the remote HEAD.
	Reference string
}

// IsGit reports whether location names a git repository.
func IsGit(location string) bool {
	return strings.HasPrefix(location, Prefix)
}

func (r *Resource) String() string {
	s := Prefix + redact(r.URL)
	if r.Path != "" {
		s += "//" + r.Path
	}
	if r.Reference != "" {
		s += "@" + r.Reference
	}
	return s
}

// ParseRef splits a git location. A revision can only be given after the
// last slash, so branch names containing slashes are not supported.
func ParseRef(location string) (*Resource, error) {
	rest, ok := strings.CutPrefix(location, Prefix)
	if !ok {
		return nil, fmt.Errorf("%q is not a git location", location)
	}

	var ref string
	if i := strings.LastIndex(rest, "@"); i > strings.LastIndex(rest, "/") {
		rest, ref = rest[:i], rest[i+1:]
		if ref == "" {
			return nil, fmt.Errorf("%q: empty revision", location)
		}
	}

	scheme, after, ok := strings.Cut(rest, "://")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("%q: missing URL scheme", location)
	}
	repo, dir, _ := strings.Cut(after, "//")
	if repo == "" {
		return nil, fmt.Errorf("%q: missing repository", location)
	}
	if dir != "" {
		dir = path.Clean(dir)
		if dir == "." {
			dir = ""
		}
		if dir != "" && !fs.ValidPath(dir) {
			return nil, fmt.Errorf("%q: invalid directory %q", location, dir)
		}
	}

	return &Resource{
		URL:       scheme + "://" + repo,
		Path:      dir,
		Reference: ref,
	}, nil
}

// Fetch clones the repository into memory and returns the files of the
// resource directory at the referenced revision, along with the commit the
// revision resolved to.
func Fetch(ctx context.Context, r *Resource) (fs.FS, string, error) {
	ctx, span := otel.Tracer("concretizer").Start(ctx, "fetch.Fetch")
	defer span.End()

	opts := &git.CloneOptions{URL: r.URL, Tags: git.AllTags}
	if r.Reference == "" {
		opts.Depth = 1
	}
	clog.FromContext(ctx).Infof("cloning %s", redact(r.URL))
	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, opts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to clone %s: %w", redact(r.URL), err)
	}
	return Tree(repo, r.Reference, r.Path)
}

// Tree copies the files below dir of the commit rev resolves to into memory.
func Tree(repo *git.Repository, rev, dir string) (fs.FS, string, error) {
	hash, err := resolve(repo, rev)
	if err != nil {
		return nil, "", err
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read tree of %s: %w", hash, err)
	}
	if dir != "" {
		tree, err = tree.Tree(dir)
		if err != nil {
			return nil, "", fmt.Errorf("no directory %s at %s: %w", dir, hash, err)
		}
	}

	out := memfs.New()
	err = tree.Files().ForEach(func(f *object.File) error {
		if !f.Mode.IsFile() {
			return nil
		}
		b, err := readFile(f)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		if d := path.Dir(f.Name); d != "." {
			if err := out.MkdirAll(d, 0o755); err != nil {
				return err
			}
		}
		return out.WriteFile(f.Name, b, 0o644)
	})
	if err != nil {
		return nil, "", err
	}
	return out, hash.String(), nil
}

func readFile(f *object.File) ([]byte, error) {
	r, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(limitio.Reader(r, MaxFileSize))
}

// resolve finds rev among local and remote-tracking references.
func resolve(repo *git.Repository, rev string) (*plumbing.Hash, error) {
	if rev == "" {
		rev = "HEAD"
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err == nil {
		return hash, nil
	}
	if h, rerr := repo.ResolveRevision(plumbing.Revision("refs/remotes/origin/" + rev)); rerr == nil {
		return h, nil
	}
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("unknown revision %s", rev)
	}
	return nil, fmt.Errorf("failed to resolve revision %s: %w", rev, err)
}

func redact(in string) string {
	u, err := url.Parse(in)
	if err != nil {
		return in
	}
	return u.Redacted()
}
