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

// Package vcs records where recipe repositories come from, so that a
// lockfile can name the revision it was concretized against.
package vcs

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// OpenRepository walks from startDir up to topDir and opens the first git
// repository found. An empty topDir only probes startDir itself.
func OpenRepository(startDir, topDir string) (*git.Repository, error) {
	startDir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("cannot dereference relative path %s: %w", startDir, err)
	}
	fi, err := os.Stat(startDir)
	if err != nil {
		return nil, fmt.Errorf("cannot check start directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("start path %s is not a directory", startDir)
	}
	if topDir == "" {
		topDir = startDir
	}

	searchPath := startDir
	for {
		if !strings.HasPrefix(searchPath, topDir) {
			return nil, fmt.Errorf("no git repository between %s and %s", startDir, topDir)
		}
		repo, err := git.PlainOpen(searchPath)
		if err == nil {
			return repo, nil
		}
		parent := filepath.Dir(searchPath)
		if parent == searchPath {
			return nil, fmt.Errorf("no git repository above %s", startDir)
		}
		searchPath = parent
	}
}

// resolveGitRevision returns the commit hash a revision names.
func resolveGitRevision(repo *git.Repository, rev string) (string, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", rev, err)
	}
	return hash.String(), nil
}

// originURL returns the sanitized URL of the origin remote.
func originURL(repo *git.Repository) (string, error) {
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", err
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("origin has no URL")
	}
	remoteURL := urls[0]

	normalized, err := url.Parse(remoteURL)
	if err != nil {
		// user@host:repo, the scp-like form git accepts.
		remoteURL = "git+ssh://" + strings.Replace(remoteURL, ":", "/", 1)
		normalized, err = url.Parse(remoteURL)
		if err != nil {
			return "", fmt.Errorf("unable to parse %s as a git vcs url: %w", remoteURL, err)
		}
	}
	normalized.User = nil
	return normalized.String(), nil
}

// Describe returns url@commit for the repository holding path, or just the
// commit when the repository has no origin. path may be a file or a
// directory; the search stops at the current working directory when path
// is below it.
func Describe(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		abs = filepath.Dir(abs)
	}
	top := "/"
	if wd, err := os.Getwd(); err == nil && strings.HasPrefix(abs, wd) {
		top = wd
	}

	repo, err := OpenRepository(abs, top)
	if err != nil {
		return "", err
	}
	commit, err := resolveGitRevision(repo, "HEAD")
	if err != nil {
		return "", err
	}
	origin, err := originURL(repo)
	if err != nil {
		return commit, nil //nolint:nilerr // a repository without origin still has a revision
	}
	return origin + "@" + commit, nil
}
