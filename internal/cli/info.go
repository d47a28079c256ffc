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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chainguard.dev/concretizer/pkg/recipe"
)

func infoCmd() *cobra.Command {
	var flags repoFlags
	var configFile string

	cmd := &cobra.Command{
		Use:     "info",
		Short:   "Show the versions, variants and dependencies of a package",
		Example: `  concretizer info -r ./repo hdf5`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.options()
			if configFile != "" {
				opts = append(opts, WithConfig(configFile))
			}
			return InfoCmd(cmd.Context(), cmd.OutOrStdout(), args[0], opts...)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&configFile, "env", "e", "", "environment file to take repositories from")

	return cmd
}

func InfoCmd(ctx context.Context, w io.Writer, name string, opts ...Option) error {
	s, err := newSession(ctx, false, opts...)
	if err != nil {
		return err
	}
	if s.db.IsVirtual(name) {
		return fmt.Errorf("%s is a virtual package, see `concretizer providers %s`", name, name)
	}
	p, err := s.db.Get(name)
	if err != nil {
		return err
	}
	writeInfo(w, p)
	return nil
}

func writeInfo(w io.Writer, p *recipe.PackageDef) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "%s\t%s\n", "Package:", p.FullName())
	fmt.Fprintf(tw, "%s\t%s\n", "Build system:", p.BuildSystem)

	fmt.Fprintln(tw, "\nVersions:")
	for _, v := range p.Versions {
		var mark string
		switch {
		case v.Deprecated:
			mark = "deprecated"
		case v.Preferred:
			mark = "preferred"
		}
		fmt.Fprintf(tw, "    %s\t%s\n", v.Version, mark)
	}

	if len(p.Variants) > 0 {
		fmt.Fprintln(tw, "\nVariants:")
		for _, v := range p.Variants {
			values := "on, off"
			if !v.IsBool() {
				values = fmt.Sprint(v.Values)
			}
			line := fmt.Sprintf("    %s [%s]\t%s\t%s", v.Name, v.Default, values, v.Description)
			if v.When != nil {
				line += "\twhen " + v.When.String()
			}
			fmt.Fprintln(tw, line)
		}
	}

	if deps := p.AllDependencies(); len(deps) > 0 {
		fmt.Fprintln(tw, "\nDependencies:")
		for _, d := range deps {
			line := fmt.Sprintf("    %s\t%s", d.Spec, d.Types)
			if d.When != nil {
				line += "\twhen " + d.When.String()
			}
			fmt.Fprintln(tw, line)
		}
	}

	if len(p.Provides) > 0 {
		fmt.Fprintln(tw, "\nProvides:")
		for _, pd := range p.Provides {
			line := "    " + pd.Virtual.String()
			if pd.When != nil {
				line += "\twhen " + pd.When.String()
			}
			fmt.Fprintln(tw, line)
		}
	}

	if len(p.Conflicts) > 0 {
		fmt.Fprintln(tw, "\nConflicts:")
		for _, c := range p.Conflicts {
			fmt.Fprintf(tw, "    %s\n", c)
		}
	}
}
