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
	"text/template"

	"github.com/spf13/cobra"

	pkglock "chainguard.dev/concretizer/pkg/lock"
	"chainguard.dev/concretizer/pkg/spec"
)

const (
	formatNameVersion     = `{{ .Name }}@{{ .Version }}`
	formatNameVersionHash = `{{ .Name }}@{{ .Version }}/{{ .Hash }}`
	formatSpec            = `{{ .Spec }}`
	formatPURL            = `{{ .PURL }}`
	formatEnvironmentList = `- {{ .Name }}@={{ .Version }}`
	specFormatDefault     = ""
)

var (
	specFormats = map[string]string{
		"name-version":      formatNameVersion,
		"name-version-hash": formatNameVersionHash,
		"spec":              formatSpec,
		"purl":              formatPURL,
		"environment":       formatEnvironmentList,
	}
)

type nodeInfo struct {
	Name    string
	Version string
	Hash    string
	Spec    string
	PURL    string
}

func specCmd() *cobra.Command {
	var flags solveFlags
	var configFile string
	var long bool
	var format string

	cmd := &cobra.Command{
		Use:   "spec",
		Short: "Show how specs would be concretized",
		Long: `Show how specs would be concretized, without writing a lockfile.

The arguments are read as one list of specs, so "hdf5+mpi ^zlib@1.3"
may be given as several arguments. By default every spec is printed as a
dependency tree. With --format, every node of the graph is printed on a
line of its own, in one of several pre-defined formats or using a go
template. See https://pkg.go.dev/text/template for more information.
Available vars are .Name, .Version, .Hash, .Spec, .PURL

The pre-defined formats are:
  name-version:      {{ .Name }}@{{ .Version }}
  name-version-hash: {{ .Name }}@{{ .Version }}/{{ .Hash }}
  spec:              {{ .Spec }}
  purl:              {{ .PURL }}
  environment:       - {{ .Name }}@={{ .Version }}

environment is useful for pinning the result in the specs of an environment file.
`,
		Example: `  concretizer spec -r ./repo --compiler gcc@12.3.0 hdf5+mpi ^mpich
  concretizer spec -e env.yaml -l py-numpy`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl := format
			if t, ok := specFormats[format]; ok {
				tmpl = t
			}
			specs, err := joinSpecs(args)
			if err != nil {
				return err
			}
			opts := append(flags.options(cmd), WithExtraSpecs(specs))
			if configFile != "" {
				opts = append(opts, WithConfig(configFile))
			}
			return SpecCmd(cmd.Context(), cmd.OutOrStdout(), long, tmpl, opts...)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&configFile, "env", "e", "", "environment file to take repositories, compilers and preferences from; its own specs are solved too")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show the hash of every node")
	cmd.Flags().StringVar(&format, "format", specFormatDefault, "format for showing nodes; if pre-defined from list, will use that, else go template. Available vars are `.Name`, `.Version`, `.Hash`, `.Spec`, `.PURL`")

	return cmd
}

// SpecCmd concretizes specs and prints the result. The environment named by
// the options, if any, contributes its configuration.
func SpecCmd(ctx context.Context, w io.Writer, long bool, format string, opts ...Option) error {
	s, err := newSession(ctx, true, opts...)
	if err != nil {
		return err
	}
	res, err := s.solve(ctx)
	if err != nil {
		return err
	}

	if format == "" {
		if long {
			if failed := writeResult(ctx, w, res); failed > 0 {
				return res.Err()
			}
			return nil
		}
		for _, rr := range res.Roots {
			if rr.Err != nil {
				continue
			}
			fmt.Fprintf(w, "%s", rr.Spec.Tree(false))
		}
		return res.Err()
	}

	tmpl, err := template.New("format").Parse(format)
	if err != nil {
		return fmt.Errorf("failed to parse format: %w", err)
	}
	seen := map[string]bool{}
	for _, rr := range res.Roots {
		if rr.Err != nil {
			continue
		}
		for _, n := range rr.Spec.Traverse() {
			if seen[n.Hash()] {
				continue
			}
			seen[n.Hash()] = true
			if err := tmpl.Execute(w, info(n)); err != nil {
				return fmt.Errorf("failed to execute template: %w", err)
			}
			fmt.Fprintln(w)
		}
	}
	return res.Err()
}

func info(n *spec.Concrete) nodeInfo {
	return nodeInfo{
		Name:    n.Name(),
		Version: n.Version().String(),
		Hash:    n.Hash(),
		Spec:    n.String(),
		PURL:    pkglock.PackageURL(n),
	}
}

// joinSpecs reads args as one list of specs, so that dependency constraints
// given as separate arguments attach to the spec before them.
func joinSpecs(args []string) ([]string, error) {
	cs, err := spec.ParseMany(strings.Join(args, " "))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.String())
	}
	return out, nil
}
