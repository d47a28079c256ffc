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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/shlex"
)

// Options holds the command line overrides of an environment.
type Options struct {
	ConfigFile string
	Specs      []string
	Repos      []string
	Installed  []string
	Compilers  []string
	Reuse      *bool
	Unify      *bool
	Tests      string
	MaxSteps   *int
	Timeout    *time.Duration
}

type Option func(*Options) error

// WithConfig loads the environment from configFile.
func WithConfig(configFile string) Option {
	return func(o *Options) error {
		o.ConfigFile = configFile
		return nil
	}
}

// WithExtraSpecs adds specs to those of the environment. Each entry may hold
// several specs.
func WithExtraSpecs(specs []string) Option {
	return func(o *Options) error {
		o.Specs = append(o.Specs, specs...)
		return nil
	}
}

// WithSpecsFile adds the specs listed in path. Lines are split like a shell
// would split them; empty lines and lines starting with # are skipped.
func WithSpecsFile(path string) Option {
	return func(o *Options) error {
		if path == "" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading specs file: %w", err)
		}
		for i, line := range strings.Split(string(b), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			words, err := shlex.Split(line)
			if err != nil {
				return fmt.Errorf("%s:%d: %w", path, i+1, err)
			}
			o.Specs = append(o.Specs, strings.Join(words, " "))
		}
		return nil
	}
}

// WithExtraRepos adds recipe repositories which shadow those of the
// environment.
func WithExtraRepos(repos []string) Option {
	return func(o *Options) error {
		o.Repos = append(o.Repos, repos...)
		return nil
	}
}

// WithInstalled adds installed databases or lockfiles to reuse specs from.
func WithInstalled(paths []string) Option {
	return func(o *Options) error {
		o.Installed = append(o.Installed, paths...)
		return nil
	}
}

// WithCompilers replaces the compilers of the environment.
func WithCompilers(compilers []string) Option {
	return func(o *Options) error {
		o.Compilers = compilers
		return nil
	}
}

func WithReuse(reuse bool) Option {
	return func(o *Options) error {
		o.Reuse = &reuse
		return nil
	}
}

func WithUnify(unify bool) Option {
	return func(o *Options) error {
		o.Unify = &unify
		return nil
	}
}

func WithTests(tests string) Option {
	return func(o *Options) error {
		o.Tests = tests
		return nil
	}
}

func WithMaxSteps(n int) Option {
	return func(o *Options) error {
		if n < 0 {
			return fmt.Errorf("max-steps must not be negative, got %d", n)
		}
		o.MaxSteps = &n
		return nil
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d < 0 {
			return fmt.Errorf("timeout must not be negative, got %s", d)
		}
		o.Timeout = &d
		return nil
	}
}

func newOptions(opts ...Option) (*Options, error) {
	o := &Options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}
