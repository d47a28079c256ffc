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

// Package version implements package versions, version ranges and version
// lists as they appear in spec syntax (`@1.2:1.4,2.0:`).
package version

import (
	"cmp"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	validVersion = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	segmentRegex = regexp.MustCompile(`([0-9]+|[a-zA-Z]+)[_.\-]*`)
)

// infinityWords sort above every numeric component, in this order.
var infinityWords = []string{"develop", "main", "master", "head", "trunk"}

type component struct {
	num   int64
	str   string
	isNum bool
}

func (c component) infinity() int {
	if c.isNum {
		return -1
	}
	for i, w := range infinityWords {
		if w == c.str {
			return i
		}
	}
	return -1
}

func (c component) compare(o component) int {
	switch {
	case c.isNum && o.isNum:
		return cmp.Compare(c.num, o.num)
	case !c.isNum && !o.isNum:
		ci, oi := c.infinity(), o.infinity()
		switch {
		case ci >= 0 && oi >= 0:
			return cmp.Compare(ci, oi)
		case ci >= 0:
			return 1
		case oi >= 0:
			return -1
		}
		return strings.Compare(c.str, o.str)
	case c.isNum:
		if o.infinity() >= 0 {
			return -1
		}
		return 1
	default:
		if c.infinity() >= 0 {
			return 1
		}
		return -1
	}
}

// Version is a single package version such as 1.12.2, 2.0b1 or develop.
// The zero Version is used as an open bound in ranges.
type Version struct {
	text  string
	parts []component
}

// Parse parses a version string.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}
	if !validVersion.MatchString(s) {
		return Version{}, fmt.Errorf("invalid version %q: bad characters", s)
	}
	matches := segmentRegex.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return Version{}, fmt.Errorf("invalid version %q: no components", s)
	}
	parts := make([]component, 0, len(matches))
	for _, m := range matches {
		seg := m[1]
		if seg[0] >= '0' && seg[0] <= '9' {
			n, err := strconv.ParseInt(seg, 10, 64)
			if err != nil {
				return Version{}, fmt.Errorf("invalid version %q, component %s: %w", s, seg, err)
			}
			parts = append(parts, component{num: n, isNum: true})
			continue
		}
		parts = append(parts, component{str: seg})
	}
	return Version{text: s, parts: parts}, nil
}

// MustParse is like Parse but panics on error. It is meant for tests and
// static tables.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string { return v.text }

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return len(v.parts) == 0 }

// IsDevelop reports whether v contains a development branch name such as
// develop or main.
func (v Version) IsDevelop() bool {
	for _, p := range v.parts {
		if p.infinity() >= 0 {
			return true
		}
	}
	return false
}

// Compare returns -1, 0 or 1 when v sorts before, equal to or after o.
func (v Version) Compare(o Version) int { return Compare(v, o) }

// Equal reports whether both versions have the same components.
func (v Version) Equal(o Version) bool { return Compare(v, o) == 0 }

// HasPrefix reports whether the components of p are a leading run of the
// components of v. 1.2.3 has prefix 1.2 but not 1.
func (v Version) HasPrefix(p Version) bool {
	if len(p.parts) > len(v.parts) {
		return false
	}
	for i := range p.parts {
		if v.parts[i].compare(p.parts[i]) != 0 {
			return false
		}
	}
	return true
}

// Compare orders versions component by component. A version that is a
// strict prefix of another sorts first.
func Compare(a, b Version) int {
	for i := 0; i < len(a.parts) && i < len(b.parts); i++ {
		if c := a.parts[i].compare(b.parts[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a.parts), len(b.parts))
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) { return []byte(v.text), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}
