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

package version

import (
	"fmt"
	"slices"
	"strings"
)

// Range is a closed version interval. A zero bound is open. The upper bound
// admits every version it is a prefix of, so `:3` contains 3.4.1 and `1.2`
// (which is the range 1.2:1.2) contains 1.2.7.
type Range struct {
	Lo, Hi Version
	// Exact restricts the range to the single version Lo, written `=1.2`.
	Exact bool
}

// Point returns the range matching exactly v.
func Point(v Version) Range { return Range{Lo: v, Hi: v, Exact: true} }

// Contains reports whether v falls inside r.
func (r Range) Contains(v Version) bool {
	if r.Exact {
		return Compare(v, r.Lo) == 0
	}
	if !r.Lo.IsZero() && Compare(v, r.Lo) < 0 {
		return false
	}
	if !r.Hi.IsZero() && Compare(v, r.Hi) > 0 && !v.HasPrefix(r.Hi) {
		return false
	}
	return true
}

func (r Range) empty() bool {
	if r.Exact || r.Lo.IsZero() || r.Hi.IsZero() {
		return false
	}
	return Compare(r.Lo, r.Hi) > 0 && !r.Lo.HasPrefix(r.Hi)
}

// compareUpper orders two upper bounds by how much they admit. The zero
// Version is the loosest bound.
func compareUpper(a, b Version) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return 1
	case b.IsZero():
		return -1
	case Compare(a, b) == 0:
		return 0
	case a.HasPrefix(b):
		return -1
	case b.HasPrefix(a):
		return 1
	}
	return Compare(a, b)
}

func compareLower(a, b Version) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return -1
	case b.IsZero():
		return 1
	}
	return Compare(a, b)
}

func (r Range) intersect(o Range) (Range, bool) {
	switch {
	case r.Exact:
		return r, o.Contains(r.Lo)
	case o.Exact:
		return o, r.Contains(o.Lo)
	}
	out := r
	if compareLower(o.Lo, r.Lo) > 0 {
		out.Lo = o.Lo
	}
	if compareUpper(o.Hi, r.Hi) < 0 {
		out.Hi = o.Hi
	}
	return out, !out.empty()
}

// subset reports whether every version in r is also in o.
func (r Range) subset(o Range) bool {
	if r.Exact {
		return o.Contains(r.Lo)
	}
	if o.Exact {
		return false
	}
	return compareLower(r.Lo, o.Lo) >= 0 && compareUpper(r.Hi, o.Hi) <= 0
}

func compareRange(a, b Range) int {
	if c := compareLower(a.Lo, b.Lo); c != 0 {
		return c
	}
	if c := compareUpper(a.Hi, b.Hi); c != 0 {
		return c
	}
	switch {
	case a.Exact == b.Exact:
		return 0
	case a.Exact:
		return -1
	}
	return 1
}

func (r Range) String() string {
	switch {
	case r.Exact:
		return "=" + r.Lo.String()
	case !r.Lo.IsZero() && !r.Hi.IsZero() && Compare(r.Lo, r.Hi) == 0:
		return r.Lo.String()
	}
	return r.Lo.String() + ":" + r.Hi.String()
}

func parseRange(s string) (Range, error) {
	if strings.HasPrefix(s, "=") {
		v, err := Parse(s[1:])
		if err != nil {
			return Range{}, err
		}
		return Point(v), nil
	}
	lo, hi, isRange := strings.Cut(s, ":")
	if !isRange {
		v, err := Parse(s)
		if err != nil {
			return Range{}, err
		}
		return Range{Lo: v, Hi: v}, nil
	}
	var r Range
	var err error
	if lo != "" {
		if r.Lo, err = Parse(lo); err != nil {
			return Range{}, err
		}
	}
	if hi != "" {
		if r.Hi, err = Parse(hi); err != nil {
			return Range{}, err
		}
	}
	if r.empty() {
		return Range{}, fmt.Errorf("invalid version range %q: lower bound above upper bound", s)
	}
	return r, nil
}

// List is a union of version ranges. The zero List admits any version.
type List struct {
	ranges []Range
}

// Any is the unconstrained list.
var Any = List{}

// Exactly returns the list admitting only v.
func Exactly(v Version) List { return List{ranges: []Range{Point(v)}} }

// NewList returns the union of the given ranges.
func NewList(rs ...Range) List {
	return List{ranges: normalize(slices.Clone(rs))}
}

// ParseList parses a comma separated list of versions and ranges, such as
// `1.2:1.4,=2.0,3:`. The empty string and ":" parse to Any.
func ParseList(s string) (List, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == ":" {
		return Any, nil
	}
	var rs []Range
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == ":" {
			return Any, nil
		}
		r, err := parseRange(part)
		if err != nil {
			return List{}, fmt.Errorf("parsing version list %q: %w", s, err)
		}
		rs = append(rs, r)
	}
	return List{ranges: normalize(rs)}, nil
}

// MustParseList is like ParseList but panics on error.
func MustParseList(s string) List {
	l, err := ParseList(s)
	if err != nil {
		panic(err)
	}
	return l
}

// normalize sorts the ranges and drops those contained in another.
func normalize(rs []Range) []Range {
	slices.SortFunc(rs, compareRange)
	rs = slices.CompactFunc(rs, func(a, b Range) bool { return compareRange(a, b) == 0 })
	out := rs[:0:0]
	for i, r := range rs {
		covered := false
		for j, o := range rs {
			if i != j && r.subset(o) && !(o.subset(r) && j > i) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, r)
		}
	}
	return out
}

// Ranges returns the ranges making up l.
func (l List) Ranges() []Range { return slices.Clone(l.ranges) }

// IsAny reports whether l admits every version.
func (l List) IsAny() bool { return len(l.ranges) == 0 }

// Exact returns the single version l admits, if l is pinned with `=`.
func (l List) Exact() (Version, bool) {
	if len(l.ranges) != 1 || !l.ranges[0].Exact {
		return Version{}, false
	}
	return l.ranges[0].Lo, true
}

// Contains reports whether v is admitted by l.
func (l List) Contains(v Version) bool {
	if l.IsAny() {
		return true
	}
	for _, r := range l.ranges {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

// Intersect returns the versions admitted by both lists. The boolean is
// false when no version can satisfy both.
func (l List) Intersect(o List) (List, bool) {
	switch {
	case l.IsAny():
		return o, true
	case o.IsAny():
		return l, true
	}
	var out []Range
	for _, a := range l.ranges {
		for _, b := range o.ranges {
			if r, ok := a.intersect(b); ok {
				out = append(out, r)
			}
		}
	}
	if len(out) == 0 {
		return List{}, false
	}
	return List{ranges: normalize(out)}, true
}

// Intersects reports whether some version could satisfy both lists.
func (l List) Intersects(o List) bool {
	_, ok := l.Intersect(o)
	return ok
}

// Subset reports whether every version admitted by l is admitted by o.
func (l List) Subset(o List) bool {
	if o.IsAny() {
		return true
	}
	if l.IsAny() {
		return false
	}
	for _, r := range l.ranges {
		inside := false
		for _, or := range o.ranges {
			if r.subset(or) {
				inside = true
				break
			}
		}
		if !inside {
			return false
		}
	}
	return true
}

// Equal reports whether both lists have the same canonical form.
func (l List) Equal(o List) bool { return l.String() == o.String() }

func (l List) String() string {
	if l.IsAny() {
		return ":"
	}
	parts := make([]string, 0, len(l.ranges))
	for _, r := range l.ranges {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ",")
}

// MarshalText implements encoding.TextMarshaler.
func (l List) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *List) UnmarshalText(b []byte) error {
	p, err := ParseList(string(b))
	if err != nil {
		return err
	}
	*l = p
	return nil
}
