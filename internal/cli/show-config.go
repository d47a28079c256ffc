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
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func showConfig() *cobra.Command {
	var flags solveFlags

	cmd := &cobra.Command{
		Use:   "show-config",
		Short: "Show the configuration derived from loading an environment file",
		Long: `Show the configuration derived from loading an environment file.

Included files are merged, command line overrides and defaults are
applied and the host platform fills unset platform fields. The derived
configuration is rendered in YAML.
`,
		Example: `  concretizer show-config <env.yaml>`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := append(flags.options(cmd), WithConfig(args[0]))
			return ShowConfigCmd(cmd.Context(), cmd.OutOrStdout(), opts...)
		},
	}

	flags.register(cmd)

	return cmd
}

func ShowConfigCmd(ctx context.Context, w io.Writer, opts ...Option) error {
	env, _, _, err := loadEnvironment(ctx, true, opts...)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("failed to encode YAML document: %w", err)
	}

	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write YAML document: %w", err)
	}

	return nil
}
