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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	pkglock "chainguard.dev/concretizer/pkg/lock"
	pkglog "chainguard.dev/concretizer/pkg/log"
	"chainguard.dev/concretizer/pkg/solver"
)

func concretize() *cobra.Command {
	var flags solveFlags
	var output string

	cmd := &cobra.Command{
		Use:   "concretize",
		Short: "Resolve the specs of environments and write lockfiles",
		Long: `Resolve the specs of one or more environments into fully pinned
dependency graphs, validate them and write a lockfile next to each
environment file.

Environments are solved concurrently. The command fails when any
requested spec cannot be concretized; the lockfile then holds the specs
that could.`,
		Example: `  concretizer concretize env.yaml
  concretizer concretize --fresh --test root env.yaml
  concretizer concretize a.yaml b.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" && len(args) > 1 {
				return errors.New("--output can only be used with a single environment")
			}
			return ConcretizeCmd(cmd.Context(), cmd.OutOrStdout(), output, args, flags.options(cmd)...)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "path to file where the lockfile will be written (default <env>.lock.json)")

	return cmd
}

// lockPath returns the default lockfile path of an environment file.
func lockPath(configFile string) string {
	return strings.TrimSuffix(configFile, filepath.Ext(configFile)) + ".lock.json"
}

// ConcretizeCmd solves every environment in configFiles and writes one
// lockfile each. A non-empty output replaces the lockfile path of a single
// environment. Results are written to w in the order of configFiles.
func ConcretizeCmd(ctx context.Context, w io.Writer, output string, configFiles []string, opts ...Option) error {
	reports := make([]bytes.Buffer, len(configFiles))
	failures := make([]error, len(configFiles))

	var g errgroup.Group
	for i, configFile := range configFiles {
		g.Go(func() error {
			log := clog.New(slog.Default().Handler()).With("env", configFile)
			ctx := clog.WithLogger(ctx, log)

			out := output
			if out == "" {
				out = lockPath(configFile)
			}
			err := concretizeOne(ctx, &reports[i], configFile, out, opts)
			var fe *failedRootsError
			if errors.As(err, &fe) {
				failures[i] = err
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i := range reports {
		if _, err := reports[i].WriteTo(w); err != nil {
			return err
		}
	}
	return errors.Join(failures...)
}

type failedRootsError struct {
	ConfigFile string
	Failed     int
	Total      int
}

func (e *failedRootsError) Error() string {
	return fmt.Sprintf("%s: %d of %d specs could not be concretized", e.ConfigFile, e.Failed, e.Total)
}

func concretizeOne(ctx context.Context, w io.Writer, configFile, output string, opts []Option) error {
	log := clog.FromContext(ctx)
	s, err := newSession(ctx, true, append(slices.Clone(opts), WithConfig(configFile))...)
	if err != nil {
		return err
	}
	s.env.Summarize(ctx)

	res, err := s.solve(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", configFile, err)
	}
	log.Infof("solved %d specs in %s: %d steps, %d backtracks", len(res.Roots), res.Stats.Elapsed, res.Stats.Steps, res.Stats.Backtracks)

	failed := writeResult(ctx, w, res)

	lock := pkglock.New(res,
		pkglock.WithConfig(configFile, s.checksum),
		pkglock.WithRepos(s.lockRepos(ctx)...),
	)
	if err := lock.SaveToFile(output); err != nil {
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	log.Infof("wrote %s", output)

	if failed > 0 {
		return &failedRootsError{ConfigFile: configFile, Failed: failed, Total: len(res.Roots)}
	}
	return nil
}

// writeResult prints every root of res and returns the number of failures.
func writeResult(ctx context.Context, w io.Writer, res *solver.Result) int {
	failed := 0
	for _, rr := range res.Roots {
		log := clog.FromContext(ctx).With(pkglog.PrefixKey, rr.Request.String())
		if rr.Err != nil {
			failed++
			log.Errorf("%v", rr.Err)
			fmt.Fprintf(w, "==> %s: FAILED\n", rr.Request)
			for _, line := range strings.Split(rr.Err.Error(), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
			continue
		}
		log.Debugf("resolved to %s", rr.Spec.Hash())
		fmt.Fprintf(w, "==> %s\n%s", rr.Request, rr.Spec.Tree(true))
	}
	return failed
}
