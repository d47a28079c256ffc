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

package spec

import (
	"fmt"
	"strings"

	"chainguard.dev/concretizer/pkg/version"
)

// Spec syntax:
//
//	name [@versions] [%compiler[@versions]] {+v | ~v | -v | key=value}
//	     [platform=p] [os=o] [target=t] [arch=p-o-t] {^dependency-node}
//
// A node without a leading name is anonymous. Several root specs may follow
// each other in one string; a bare name after a complete spec starts the next
// one.

func isNameChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_' || b == '-'
}

func isVersionChar(b byte) bool {
	return isNameChar(b) || b == '.' || b == ':' || b == ',' || b == '='
}

func isValueChar(b byte) bool {
	return isNameChar(b) || b == '.' || b == ',' || b == ':'
}

type parser struct {
	in  string
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.in) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.in[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && (p.in[p.pos] == ' ' || p.in[p.pos] == '\t' || p.in[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) take(valid func(byte) bool) string {
	start := p.pos
	for !p.eof() && valid(p.in[p.pos]) {
		p.pos++
	}
	return p.in[start:p.pos]
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Input: p.in, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

// ParseMany parses every spec in s.
func ParseMany(s string) ([]*Constraint, error) {
	p := &parser{in: s}
	var (
		out  []*Constraint
		root *Constraint
		node *Constraint
		deps []*Constraint
	)
	finish := func() error {
		if root == nil {
			return nil
		}
		merged, err := mergeDependencies(append(root.Dependencies, deps...))
		if err != nil {
			return err
		}
		root.Dependencies = merged
		out = append(out, root)
		root, node, deps = nil, nil, nil
		return nil
	}
	current := func() *Constraint {
		if node == nil {
			root = &Constraint{}
			node = root
		}
		return node
	}

	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		switch ch := p.peek(); {
		case ch == '^':
			p.pos++
			p.skipSpace()
			name := p.take(isNameChar)
			if name == "" {
				return nil, p.errorf("expected a package name after '^'")
			}
			current()
			d := &Constraint{Name: name}
			deps = append(deps, d)
			node = d

		case ch == '@':
			p.pos++
			n := current()
			if !n.Versions.IsAny() {
				return nil, p.errorf("version specified twice for %q", n.Name)
			}
			raw := p.take(isVersionChar)
			l, err := version.ParseList(raw)
			if err != nil {
				return nil, p.errorf("%v", err)
			}
			if l.IsAny() && raw != ":" {
				return nil, p.errorf("expected a version after '@'")
			}
			n.Versions = l

		case ch == '%':
			p.pos++
			n := current()
			if n.Compiler != nil {
				return nil, p.errorf("compiler specified twice for %q", n.Name)
			}
			name := p.take(isNameChar)
			if name == "" {
				return nil, p.errorf("expected a compiler name after '%%'")
			}
			cc := &CompilerConstraint{Name: name}
			if p.peek() == '@' {
				p.pos++
				l, err := version.ParseList(p.take(isVersionChar))
				if err != nil {
					return nil, p.errorf("%v", err)
				}
				cc.Versions = l
			}
			n.Compiler = cc

		case ch == '+' || ch == '~' || ch == '-':
			p.pos++
			if p.peek() == ch {
				return nil, p.errorf("variant propagation is not supported")
			}
			name := p.take(isNameChar)
			if name == "" {
				return nil, p.errorf("expected a variant name after %q", ch)
			}
			if err := setVariant(current(), name, BoolVariant(ch == '+')); err != nil {
				return nil, p.errorf("%v", err)
			}

		case isNameChar(ch):
			word := p.take(isNameChar)
			if p.peek() != '=' {
				// A new package name.
				if node != nil && (node != root || root.Name != "" || !root.IsEmpty()) {
					if err := finish(); err != nil {
						return nil, err
					}
				}
				current().Name = word
				continue
			}
			p.pos++
			if p.peek() == '=' {
				return nil, p.errorf("variant propagation is not supported")
			}
			value := p.take(isValueChar)
			if value == "" {
				return nil, p.errorf("expected a value for %q", word)
			}
			if err := setKeyValue(current(), word, value); err != nil {
				return nil, p.errorf("%v", err)
			}

		default:
			return nil, p.errorf("unexpected character %q", ch)
		}
	}
	if err := finish(); err != nil {
		return nil, err
	}
	return out, nil
}

// Parse parses exactly one spec.
func Parse(s string) (*Constraint, error) {
	cs, err := ParseMany(s)
	if err != nil {
		return nil, err
	}
	switch len(cs) {
	case 0:
		return &Constraint{}, nil
	case 1:
		return cs[0], nil
	}
	return nil, &ParseError{Input: s, Pos: 0, Msg: fmt.Sprintf("expected one spec, found %d", len(cs))}
}

// MustParse is like Parse but panics on error.
func MustParse(s string) *Constraint {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func setVariant(c *Constraint, name string, v VariantValue) error {
	if c.Variants == nil {
		c.Variants = map[string]VariantValue{}
	}
	if have, ok := c.Variants[name]; ok && !have.Equal(v) {
		return fmt.Errorf("variant %q set twice", name)
	}
	c.Variants[name] = v
	return nil
}

func setKeyValue(c *Constraint, key, value string) error {
	set := func(field *string) error {
		if *field != "" && *field != value {
			return fmt.Errorf("%s specified twice", key)
		}
		*field = value
		return nil
	}
	switch key {
	case "platform":
		return set(&c.Arch.Platform)
	case "os":
		return set(&c.Arch.OS)
	case "target":
		return set(&c.Arch.Target)
	case "arch":
		parts := strings.SplitN(value, "-", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return fmt.Errorf("arch must be platform-os-target, got %q", value)
		}
		if !c.Arch.IsZero() {
			return fmt.Errorf("arch specified twice")
		}
		c.Arch = Arch{Platform: parts[0], OS: parts[1], Target: parts[2]}
		return nil
	}
	v := ParseVariantValue(value)
	if len(v.Values) == 1 {
		switch strings.ToLower(v.Values[0]) {
		case "true", "false":
			v = SingleVariant(strings.ToLower(v.Values[0]))
		}
	}
	return setVariant(c, key, v)
}
