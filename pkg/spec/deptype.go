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
	"encoding/json"
	"fmt"
	"strings"
)

// DepType is a set of dependency kinds.
type DepType uint8

const (
	Build DepType = 1 << iota
	Link
	Run
	Test
)

// DefaultDepTypes is used for dependencies that do not name their kinds.
const DefaultDepTypes = Build | Link

var depTypeNames = []struct {
	t    DepType
	name string
}{
	{Build, "build"},
	{Link, "link"},
	{Run, "run"},
	{Test, "test"},
}

// ParseDepTypes parses names such as "build" and "link". An empty list
// yields DefaultDepTypes.
func ParseDepTypes(names []string) (DepType, error) {
	if len(names) == 0 {
		return DefaultDepTypes, nil
	}
	var out DepType
next:
	for _, n := range names {
		n = strings.TrimSpace(n)
		for _, dt := range depTypeNames {
			if dt.name == n {
				out |= dt.t
				continue next
			}
		}
		return 0, fmt.Errorf("unknown dependency type %q", n)
	}
	return out, nil
}

// Has reports whether every kind in o is in d.
func (d DepType) Has(o DepType) bool { return d&o == o }

// OnlyTest reports whether d is exactly the test kind.
func (d DepType) OnlyTest() bool { return d == Test }

// Names returns the kinds in canonical order.
func (d DepType) Names() []string {
	out := []string{}
	for _, dt := range depTypeNames {
		if d&dt.t != 0 {
			out = append(out, dt.name)
		}
	}
	return out
}

func (d DepType) String() string { return strings.Join(d.Names(), ",") }

// MarshalJSON encodes d as a list of names.
func (d DepType) MarshalJSON() ([]byte, error) { return json.Marshal(d.Names()) }

// UnmarshalJSON decodes a list of names.
func (d *DepType) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	t, err := ParseDepTypes(names)
	if err != nil {
		return err
	}
	*d = t
	return nil
}
