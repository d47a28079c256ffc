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
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chainguard.dev/concretizer/pkg/recipe"
)

func providers() *cobra.Command {
	var flags repoFlags
	var configFile string

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List the packages providing virtual packages, most preferred first",
		Example: `  concretizer providers -r ./repo mpi
  concretizer providers -e env.yaml blas lapack`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.options()
			if configFile != "" {
				opts = append(opts, WithConfig(configFile))
			}
			return ProvidersCmd(cmd.Context(), cmd.OutOrStdout(), args, opts...)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&configFile, "env", "e", "", "environment file to take repositories and provider preferences from")

	return cmd
}

// ProvidersCmd prints the providers of each virtual in the order the solver
// tries them.
func ProvidersCmd(ctx context.Context, w io.Writer, virtuals []string, opts ...Option) error {
	s, err := newSession(ctx, false, opts...)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, v := range virtuals {
		if !s.db.IsVirtual(v) {
			return fmt.Errorf("%s is not a virtual package", v)
		}
		fmt.Fprintf(tw, "%s:\n", v)
		for _, p := range s.db.ProvidersOf(v) {
			fmt.Fprintf(tw, "    %s\t%s\n", p.FullName(), provisions(p, v))
		}
	}
	return tw.Flush()
}

func provisions(p *recipe.PackageDef, virtual string) string {
	var out []string
	for _, pd := range p.Provisions(virtual) {
		s := pd.Virtual.String()
		if pd.When != nil {
			s += " when " + pd.When.String()
		}
		out = append(out, s)
	}
	return strings.Join(out, ", ")
}
