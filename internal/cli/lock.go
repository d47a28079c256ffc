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
	"context"
	"fmt"
	"io"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	pkglock "chainguard.dev/concretizer/pkg/lock"
	pkglog "chainguard.dev/concretizer/pkg/log"
	"chainguard.dev/concretizer/pkg/recipe"
	"chainguard.dev/concretizer/pkg/validate"
)

func verifyLock() *cobra.Command {
	var flags repoFlags
	var configFile string
	var tests string

	cmd := &cobra.Command{
		Use:   "verify-lock",
		Short: "Check that a lockfile is intact and consistent with the recipes",
		Long: `Check that a lockfile is intact and consistent with the recipes.

Every concrete spec must hash to its key and every root must pass
validation against the recipe repositories. The repositories recorded in
the lockfile are used unless --repo or --env name others. With --env,
the lockfile must also have been generated from that environment file.`,
		Example: `  concretizer verify-lock env.lock.json
  concretizer verify-lock --env env.yaml env.lock.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.options()
			if configFile != "" {
				opts = append(opts, WithConfig(configFile))
			}
			if tests != "" {
				opts = append(opts, WithTests(tests))
			}
			return VerifyLockCmd(cmd.Context(), cmd.OutOrStdout(), args[0], opts...)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&configFile, "env", "e", "", "environment file the lockfile must have been generated from")
	cmd.Flags().StringVar(&tests, "test", "", "test policy the lockfile was generated with: none, root or all")

	return cmd
}

func VerifyLockCmd(ctx context.Context, w io.Writer, lockFile string, opts ...Option) error {
	log := clog.FromContext(ctx)
	lock, err := pkglock.FromFile(lockFile)
	if err != nil {
		return err
	}

	o, err := newOptions(opts...)
	if err != nil {
		return err
	}
	if len(o.Repos) == 0 && o.ConfigFile == "" {
		for _, r := range lock.Repos {
			opts = append(opts, WithExtraRepos([]string{r.Location}))
		}
	}
	s, err := newSession(ctx, false, opts...)
	if err != nil {
		return err
	}
	if s.configFile != "" {
		if err := lock.CheckConfig(s.checksum); err != nil {
			return err
		}
	}
	current := s.lockRepos(ctx)
	for _, r := range lock.Repos {
		if r.VCS == "" {
			continue
		}
		for _, cur := range current {
			if cur.Location == r.Location && cur.VCS != "" && cur.VCS != r.VCS {
				log.Warnf("recipes in %s changed since locking: %s, now %s", r.Location, r.VCS, cur.VCS)
			}
		}
	}

	tests, err := recipe.ParseTestPolicy(s.env.Concretizer.Tests)
	if err != nil {
		return err
	}
	roots, err := lock.Verify(ctx, s.db, validate.WithTests(tests))
	if err != nil {
		return fmt.Errorf("%s: %w", lockFile, err)
	}
	for _, r := range roots {
		log.With(pkglog.PrefixKey, r.Name()).Debugf("verified %s", r.Hash())
	}
	fmt.Fprintf(w, "%s: %d roots and %d specs verified\n", lockFile, len(roots), len(lock.ConcreteSpecs))
	return nil
}
