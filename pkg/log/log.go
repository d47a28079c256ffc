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

// Package log provides a plain slog handler that prefixes every line with
// the environment or root spec it belongs to.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/term"
)

// PrefixKey is the attribute printed in front of each message.
const PrefixKey = "root"

// writerFromTarget returns a writer given a target specification.
func writerFromTarget(target string) (io.Writer, error) {
	switch target {
	case "builtin:stderr":
		return os.Stderr, nil
	case "builtin:stdout":
		return os.Stdout, nil
	case "builtin:discard":
		return io.Discard, nil
	}
	if strings.Contains(target, "/") {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}

// writer returns a writer which writes to every target.
func writer(targets []string) (io.Writer, error) {
	if len(targets) == 1 {
		return writerFromTarget(targets[0])
	}
	writers := make([]io.Writer, 0, len(targets))
	for _, target := range targets {
		w, err := writerFromTarget(target)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	return io.MultiWriter(writers...), nil
}

const (
	reset   = 0
	yellow  = 33
	magenta = 35
	gray    = 37
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func levelColor(l slog.Level) int {
	switch {
	case l >= slog.LevelError:
		return magenta
	case l >= slog.LevelWarn:
		return yellow
	}
	return gray
}

func levelMark(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "E"
	case l >= slog.LevelWarn:
		return "W"
	case l >= slog.LevelInfo:
		return "I"
	}
	return "D"
}

// Handler returns a handler writing to the targets of logPolicy: a file
// path or one of builtin:stderr, builtin:stdout and builtin:discard.
func Handler(logPolicy []string, level slog.Level) (slog.Handler, error) {
	out, err := writer(logPolicy)
	if err != nil {
		return nil, fmt.Errorf("opening log targets %v: %w", logPolicy, err)
	}
	return NewHandler(out, level), nil
}

// NewHandler returns a handler writing to out.
func NewHandler(out io.Writer, level slog.Level) slog.Handler {
	return &handler{out: out, level: level, color: isTerminal(out), mu: &sync.Mutex{}}
}

type handler struct {
	level slog.Level
	out   io.Writer
	color bool
	attrs []slog.Attr
	group string

	mu *sync.Mutex
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &out
}

// WithGroup qualifies the keys of later attributes. The prefix attribute is
// only recognized outside of groups.
func (h *handler) WithGroup(name string) slog.Handler {
	out := *h
	if out.group != "" {
		name = out.group + "." + name
	}
	out.group = name
	return &out
}

func (h *handler) paint(c int) string {
	if !h.color {
		return ""
	}
	return fmt.Sprintf("\x1b[%dm", c)
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var prefix string
	var extra []string
	add := func(a slog.Attr) {
		if a.Key == PrefixKey && h.group == "" {
			prefix = a.Value.String()
			return
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		extra = append(extra, key+"="+a.Value.String())
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})

	msg := r.Message
	if len(extra) > 0 {
		msg += " " + strings.Join(extra, " ")
	}
	c := levelColor(r.Level)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintf(h.out, "%s %s%-12s|%s %s%s%s\n", levelMark(r.Level), h.paint(c), prefix, h.paint(reset), h.paint(c), msg, h.paint(reset))
	return err
}
