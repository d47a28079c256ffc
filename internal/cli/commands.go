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
	"log/slog"
	"net/http"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/clog/slag"
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"sigs.k8s.io/release-utils/version"

	pkglog "chainguard.dev/concretizer/pkg/log"
)

func New() *cobra.Command {
	var workDir string
	var logPolicy []string
	level := slag.Level(slog.LevelInfo)
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	cmd := &cobra.Command{
		Use:               "concretizer",
		Short:             "Resolve abstract package requests into pinned dependency graphs",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			http.DefaultTransport = userAgentTransport{http.DefaultTransport}
			if workDir != "" {
				if err := os.Chdir(workDir); err != nil {
					return fmt.Errorf("failed to change dir to %s: %w", workDir, err)
				}
			}

			if len(logPolicy) > 0 {
				h, err := pkglog.Handler(logPolicy, slog.Level(level))
				if err != nil {
					return err
				}
				slog.SetDefault(slog.New(h))
			} else {
				slog.SetDefault(slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{
					ReportTimestamp: true,
					Level:           charmlog.Level(level),
				})))
			}
			cmd.SetContext(clog.WithLogger(cmd.Context(), clog.New(slog.Default().Handler())))
			return nil
		},
	}

	cmd.AddCommand(concretize())
	cmd.AddCommand(specCmd())
	cmd.AddCommand(dotcmd())
	cmd.AddCommand(providers())
	cmd.AddCommand(infoCmd())
	cmd.AddCommand(showConfig())
	cmd.AddCommand(verifyLock())
	cmd.AddCommand(index())
	cmd.AddCommand(version.Version())

	cmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", cwd, "working dir (default is current dir where executed)")
	cmd.PersistentFlags().Var(&level, "log-level", "log level (e.g. debug, info, warn, error)")
	cmd.PersistentFlags().StringSliceVar(&logPolicy, "log-policy", nil, "log targets instead of the terminal: builtin:stderr, builtin:stdout, builtin:discard or a file path")
	return cmd
}

type userAgentTransport struct{ t http.RoundTripper }

func (u userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", fmt.Sprintf("concretizer/%s", version.GetVersionInfo().GitVersion))
	return u.t.RoundTrip(req)
}
