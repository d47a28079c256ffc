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
	"time"

	"github.com/spf13/cobra"
)

// repoFlags are the flags of commands that read recipes.
type repoFlags struct {
	repos []string
}

func (f *repoFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.repos, "repo", "r", nil, "recipe repository directory, index file or index URL; shadows the repositories of the environment")
}

func (f *repoFlags) options() []Option {
	return []Option{WithExtraRepos(f.repos)}
}

// solveFlags are the flags of commands that concretize.
type solveFlags struct {
	repoFlags
	installed []string
	compilers []string
	specsFile string
	reuse     bool
	fresh     bool
	unify     bool
	tests     string
	maxSteps  int
	timeout   time.Duration
}

func (f *solveFlags) register(cmd *cobra.Command) {
	f.repoFlags.register(cmd)
	cmd.Flags().StringSliceVar(&f.installed, "installed", nil, "installed database or lockfile to reuse concrete specs from")
	cmd.Flags().StringSliceVar(&f.compilers, "compiler", nil, "available compiler as name@version, most preferred first; replaces the compilers of the environment")
	cmd.Flags().StringVar(&f.specsFile, "specs-file", "", "file with additional specs, one request per line")
	cmd.Flags().BoolVar(&f.reuse, "reuse", true, "prefer installed specs over building new ones")
	cmd.Flags().BoolVar(&f.fresh, "fresh", false, "prefer the newest versions over installed specs")
	cmd.Flags().BoolVar(&f.unify, "unify", true, "solve all specs into a single graph")
	cmd.Flags().StringVar(&f.tests, "test", "", "add test dependencies of root packages (root) or of all packages (all)")
	cmd.Flags().IntVar(&f.maxSteps, "max-steps", 0, "maximum number of solver decisions (0 keeps the environment setting)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "maximum time spent solving (0 keeps the environment setting)")
	cmd.MarkFlagsMutuallyExclusive("reuse", "fresh")
}

// options returns the overrides for every flag set on the command line.
func (f *solveFlags) options(cmd *cobra.Command) []Option {
	opts := append(f.repoFlags.options(),
		WithInstalled(f.installed),
		WithSpecsFile(f.specsFile),
	)
	flags := cmd.Flags()
	if flags.Changed("compiler") {
		opts = append(opts, WithCompilers(f.compilers))
	}
	if flags.Changed("reuse") {
		opts = append(opts, WithReuse(f.reuse))
	}
	if flags.Changed("fresh") {
		opts = append(opts, WithReuse(!f.fresh))
	}
	if flags.Changed("unify") {
		opts = append(opts, WithUnify(f.unify))
	}
	if flags.Changed("test") {
		opts = append(opts, WithTests(f.tests))
	}
	if flags.Changed("max-steps") {
		opts = append(opts, WithMaxSteps(f.maxSteps))
	}
	if flags.Changed("timeout") {
		opts = append(opts, WithTimeout(f.timeout))
	}
	return opts
}
