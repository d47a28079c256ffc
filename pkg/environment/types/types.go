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

package types

import (
	"time"

	"chainguard.dev/concretizer/pkg/spec"
)

type CompilerConfig struct {
	// Required: The compiler, as name@version, for example gcc@12.3.0
	Spec string `json:"spec" yaml:"spec"`
}

type ConcretizerConfig struct {
	// Optional: Try installed specs before building fresh ones. Defaults to true.
	Reuse *bool `json:"reuse,omitempty" yaml:"reuse,omitempty"`
	// Optional: Solve all specs into a single graph. Defaults to true.
	Unify *bool `json:"unify,omitempty" yaml:"unify,omitempty"`
	// Optional: Which packages get their test dependencies: none, root or all
	Tests string `json:"tests,omitempty" yaml:"tests,omitempty"`
	// Optional: Maximum number of decisions per solve. Zero means unlimited.
	MaxSteps int `json:"max-steps,omitempty" yaml:"max-steps,omitempty"`
	// Optional: Maximum duration of a solve, for example 30s. Zero means unlimited.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

type PackageConfig struct {
	// Optional: Preferred versions, most preferred first
	Version []string `json:"version,omitempty" yaml:"version,omitempty"`
	// Optional: Preferred compiler names, most preferred first
	Compiler []string `json:"compiler,omitempty" yaml:"compiler,omitempty"`
	// Optional: Preferred variant values in spec syntax, for example "+cxx ~fortran"
	Variants string `json:"variants,omitempty" yaml:"variants,omitempty"`
	// Optional: Preferred providers per virtual. Only read from the "all" entry.
	Providers map[string][]string `json:"providers,omitempty" yaml:"providers,omitempty"`
}

type Environment struct {
	// Required: The specs to concretize
	Specs []string `json:"specs,omitempty" yaml:"specs,omitempty"`
	// Optional: Recipe repositories, earlier ones shadow later ones. Entries
	// may be directories, index files or http(s) URLs of index files.
	Repos []string `json:"repos,omitempty" yaml:"repos,omitempty"`
	// Optional: Installed-spec databases and lockfiles to reuse specs from
	Installed []string `json:"installed,omitempty" yaml:"installed,omitempty"`
	// Optional: Available compilers, most preferred first
	Compilers []CompilerConfig `json:"compilers,omitempty" yaml:"compilers,omitempty"`
	// Optional: Default platform of the packages. Unset fields are detected
	// from the host.
	Platform spec.Arch `json:"platform,omitempty" yaml:"platform,omitempty"`
	// Optional: Solver settings
	Concretizer ConcretizerConfig `json:"concretizer,omitempty" yaml:"concretizer,omitempty"`
	// Optional: Per-package preferences. The "all" entry applies to every package.
	Packages map[string]PackageConfig `json:"packages,omitempty" yaml:"packages,omitempty"`

	// Optional: Path to a local file containing additional environment
	// configuration to inherit from. Settings of this file win.
	Include string `json:"include,omitempty" yaml:"include,omitempty"`
}
