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
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/hashicorp/go-retryablehttp"
	"go.lsp.dev/uri"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/concretizer/pkg/fetch"
)

type loadOpts struct {
	httpClient *http.Client
	retryMax   int
}

// LoadOption configures LoadRepos.
type LoadOption func(*loadOpts)

// WithHTTPClient sets the client used to fetch remote indexes.
func WithHTTPClient(c *http.Client) LoadOption {
	return func(o *loadOpts) {
		o.httpClient = c
	}
}

// WithRetries sets how often a failed fetch is retried.
func WithRetries(n int) LoadOption {
	return func(o *loadOpts) {
		o.retryMax = n
	}
}

// LocalPath resolves file:// URIs to paths. Other locations are returned
// unchanged.
func LocalPath(location string) string {
	if strings.HasPrefix(location, "file://") {
		return uri.URI(location).Filename()
	}
	return location
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// LoadRepos loads every location concurrently and returns the repositories
// in the order given. A location is a repository directory, a local index
// file, a file:// URI of either, an http(s) URL of an index file or a git
// location as understood by the fetch package.
func LoadRepos(ctx context.Context, locations []string, opts ...LoadOption) ([]*Repo, error) {
	ctx, span := otel.Tracer("concretizer").Start(ctx, "LoadRepos")
	defer span.End()

	o := &loadOpts{retryMax: 3}
	for _, opt := range opts {
		opt(o)
	}

	repos := make([]*Repo, len(locations))
	g, ctx := errgroup.WithContext(ctx)
	for i, loc := range locations {
		g.Go(func() error {
			r, err := loadLocation(ctx, loc, o)
			if err != nil {
				return fmt.Errorf("loading recipes from %s: %w", redact(loc), err)
			}
			r.Location = loc
			repos[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return repos, nil
}

func loadLocation(ctx context.Context, loc string, o *loadOpts) (*Repo, error) {
	log := clog.FromContext(ctx)
	if fetch.IsGit(loc) {
		res, err := fetch.ParseRef(loc)
		if err != nil {
			return nil, err
		}
		fsys, rev, err := fetch.Fetch(ctx, res)
		if err != nil {
			return nil, err
		}
		repo, err := LoadRepo(ctx, fsys)
		if err != nil {
			return nil, err
		}
		repo.Revision = rev
		return repo, nil
	}
	if isRemote(loc) {
		log.Infof("fetching recipe index %s", redact(loc))
		return fetchIndex(ctx, loc, o)
	}
	p := LocalPath(loc)
	fi, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		log.Debugf("reading recipe repository %s", p)
		return LoadRepo(ctx, os.DirFS(p))
	}
	format, err := FormatFromPath(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadIndex(f, format)
}

func fetchIndex(ctx context.Context, u string, o *loadOpts) (*Repo, error) {
	ctx, span := otel.Tracer("concretizer").Start(ctx, "fetchIndex")
	defer span.End()

	parsed, err := url.Parse(u)
	if err != nil {
		return nil, err
	}
	format, err := FormatFromPath(parsed.Path)
	if err != nil {
		return nil, err
	}

	client := retryablehttp.NewClient()
	client.RetryMax = o.retryMax
	client.Logger = nil
	if o.httpClient != nil {
		client.HTTPClient = o.httpClient
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", res.StatusCode)
	}
	return ReadIndex(res.Body, format)
}

func redact(in string) string {
	asURL, err := url.Parse(in)
	if err != nil {
		return in
	}
	return asURL.Redacted()
}
