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
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"
	"github.com/tmc/dot"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/concretizer/pkg/recipe"
	"chainguard.dev/concretizer/pkg/solver"
	"chainguard.dev/concretizer/pkg/spec"
)

func dotcmd() *cobra.Command {
	var flags solveFlags
	var web, span bool

	cmd := &cobra.Command{
		Use:   "dot",
		Short: "Output a digraph showing the concretized dependencies of an environment.",
		Long: `Output a digraph showing the concretized dependencies of an environment.

Specs that cannot be concretized are drawn as the chain of errors that
explains why.

# Render an svg of env.yaml
concretizer dot env.yaml | dot -Tsvg > graph.svg

# Open browser to explore env.yaml
concretizer dot --web env.yaml

# Open browser to explore env.yaml, rendering a (almost) minimum spanning tree
concretizer dot --web -S env.yaml
`,
		Example: `  concretizer dot <env.yaml>`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := append(flags.options(cmd), WithConfig(args[0]))
			return DotCmd(cmd.Context(), cmd.OutOrStdout(), web, span, opts...)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVarP(&span, "spanning-tree", "S", false, "draw each dependency edge only once, to avoid a huge number of edges")
	cmd.Flags().BoolVar(&web, "web", false, "launch a browser")

	return cmd
}

func DotCmd(ctx context.Context, w io.Writer, web, span bool, opts ...Option) error {
	log := clog.FromContext(ctx)
	s, err := newSession(ctx, true, opts...)
	if err != nil {
		return err
	}
	res, err := s.solve(ctx)
	if err != nil {
		return err
	}

	if web {
		return serve(ctx, func(nodes []string) *dot.Graph {
			return render(res, nodes, true, span)
		})
	}

	out := render(res, nil, false, span)
	log.Debugf("rendered %d roots", len(res.Roots))
	_, err = fmt.Fprintln(w, out.String())
	return err
}

func nodeID(c *spec.Concrete) string {
	return c.Name() + "/" + c.ShortHash()
}

func nodeLabel(c *spec.Concrete) string {
	return fmt.Sprintf("%s@%s", c.Name(), c.Version())
}

// render draws the graph of res. When focus is set, only the subgraphs
// below the focused node IDs are drawn.
func render(res *solver.Result, focus []string, web, span bool) *dot.Graph {
	out := dot.NewGraph("concretizer")
	if err := out.Set("rankdir", "LR"); err != nil {
		panic(err)
	}
	out.SetType(dot.DIGRAPH)

	edges := map[string]struct{}{}
	done := map[string]struct{}{}

	var renderDeps func(c *spec.Concrete) *dot.Node
	renderDeps = func(c *spec.Concrete) *dot.Node {
		n := dot.NewNode(nodeID(c))
		if err := n.Set("label", nodeLabel(c)); err != nil {
			panic(err)
		}
		if web {
			if err := n.Set("URL", link(focus, nodeID(c))); err != nil {
				panic(err)
			}
		}
		out.AddNode(n)
		if _, ok := done[nodeID(c)]; ok {
			return n
		}
		done[nodeID(c)] = struct{}{}

		for _, e := range c.Dependencies() {
			d := renderDeps(e.Spec)
			if _, ok := edges[nodeID(e.Spec)]; ok && span {
				continue
			}
			edge := dot.NewEdge(n, d)
			label := e.Types.String()
			if len(e.Virtuals) > 0 {
				label = strings.Join(e.Virtuals, ",")
			}
			if err := edge.Set("label", label); err != nil {
				panic(err)
			}
			out.AddEdge(edge)
			edges[nodeID(e.Spec)] = struct{}{}
		}
		return n
	}

	if len(focus) > 0 {
		for _, id := range focus {
			for _, c := range res.Nodes {
				if nodeID(c) == id {
					renderDeps(c)
				}
			}
		}
		return out
	}

	for _, rr := range res.Roots {
		req := dot.NewNode(rr.Request.String())
		if err := req.Set("shape", "rect"); err != nil {
			panic(err)
		}
		out.AddNode(req)
		if rr.Err != nil {
			errorNode := dot.NewNode("❌ " + rr.Request.String())
			out.AddNode(errorNode)
			out.AddEdge(dot.NewEdge(req, errorNode))
			walkErrors(out, rr.Err, errorNode)
			continue
		}
		out.AddEdge(dot.NewEdge(req, renderDeps(rr.Spec)))
	}
	return out
}

// serve renders graphs on demand and opens a browser on them.
func serve(ctx context.Context, render func(nodes []string) *dot.Graph) error {
	log := clog.FromContext(ctx)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			return
		}
		nodes := r.URL.Query()["node"]
		out := render(nodes)

		log.Infof("%s: rendering %v", r.URL, nodes)
		cmd := exec.CommandContext(r.Context(), "dot", "-Tsvg")
		cmd.Stdin = strings.NewReader(out.String())
		cmd.Stdout = w

		if err := cmd.Run(); err != nil {
			fmt.Fprintf(w, "error rendering %v: %v", nodes, err)
		}
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              l.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	log.Infof("%s", l.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return server.Close()
	})
	g.Go(func() error {
		return open.Run(fmt.Sprintf("http://localhost:%d", l.Addr().(*net.TCPAddr).Port))
	})

	return g.Wait()
}

func link(focus []string, id string) string {
	filtered := []string{}
	for _, a := range focus {
		if a != id {
			filtered = append(filtered, a)
		}
	}
	ret := "/?node=" + id
	if len(filtered) > 0 {
		ret += "&node=" + strings.Join(filtered, "&node=")
	}
	return ret
}

type unwrapper interface {
	Unwrap() error
}

type unwrappers interface {
	Unwrap() []error
}

func canUnwrap(err error) bool {
	if _, ok := err.(unwrapper); ok { //nolint:errorlint
		return true
	}

	if _, ok := err.(unwrappers); ok { //nolint:errorlint
		return true
	}

	return false
}

func makeNode(out *dot.Graph, err error, parent *dot.Node) *dot.Node {
	nodeName, label := errToNode(err)
	if nodeName == "" {
		if canUnwrap(err) {
			return parent
		}

		nodeName = "❌ " + err.Error()
	}

	node := dot.NewNode(nodeName)
	out.AddNode(node)
	edge := dot.NewEdge(parent, node)
	if label != "" {
		if err := edge.Set("label", label); err != nil {
			panic(err)
		}
	}
	out.AddEdge(edge)

	// The requirements that collided hang off the package they were placed on.
	if use, ok := err.(*solver.UnsatisfiableSpecError); ok { //nolint:errorlint
		for _, o := range use.Origins {
			on := dot.NewNode(o.String())
			if err := on.Set("shape", "note"); err != nil {
				panic(err)
			}
			out.AddNode(on)
			out.AddEdge(dot.NewEdge(node, on))
		}
	}

	return node
}

func walkErrors(out *dot.Graph, err error, parent *dot.Node) {
	node := makeNode(out, err, parent)

	if wrapped := errors.Unwrap(err); wrapped != nil {
		walkErrors(out, wrapped, node)
	} else if mw, ok := err.(unwrappers); ok { //nolint:errorlint
		for _, wrapped := range mw.Unwrap() {
			walkErrors(out, wrapped, node)
		}
	}
}

func errToNode(err error) (string, string) {
	switch v := err.(type) { //nolint:errorlint
	case *solver.ConcretizationError:
		return v.Root, "concretizing"
	case *solver.UnsatisfiableSpecError:
		return v.Name + ": " + v.Reason, "unsatisfiable"
	case *solver.CyclicDependencyError:
		return strings.Join(v.Cycle, " -> "), "cycle"
	case *solver.ConcretizationTimeoutError:
		return v.Error(), "budget"
	case *spec.UnsatisfiableConstraintError:
		return v.Error(), "narrowing " + v.Axis
	case *recipe.UnknownPackageError:
		return v.Name, "unknown package"
	}

	return "", ""
}
