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
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"chainguard.dev/concretizer/pkg/recipe"
)

func index() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Write a recipe repository as a single index file",
		Long: `Write a recipe repository as a single index file.

The format follows the output name: .json, .json.gz or .json.zst. Index
files and http(s) URLs of index files can be used wherever a recipe
repository is expected.`,
		Example: `  concretizer index ./repo builtin.json.gz`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return IndexCmd(cmd.Context(), args[0], args[1])
		},
	}
	return cmd
}

func IndexCmd(ctx context.Context, repoDir, output string) (err error) {
	format, err := recipe.FormatFromPath(output)
	if err != nil {
		return err
	}
	repo, err := recipe.LoadRepo(ctx, os.DirFS(repoDir))
	if err != nil {
		return fmt.Errorf("loading %s: %w", repoDir, err)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := recipe.WriteIndex(f, repo, format); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	clog.FromContext(ctx).Infof("wrote %d recipes of namespace %s to %s", len(repo.Packages), repo.Namespace, output)
	return nil
}
