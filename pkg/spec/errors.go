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

import "fmt"

// UnsatisfiableConstraintError is returned when two constraints on the same
// package cannot both hold.
type UnsatisfiableConstraintError struct {
	Name string
	// Axis names what disagreed, for example "version" or "variant mpi".
	Axis        string
	Left, Right string
}

func (e *UnsatisfiableConstraintError) Error() string {
	name := e.Name
	if name == "" {
		name = "<anonymous>"
	}
	return fmt.Sprintf("%s: %s %q conflicts with %q", name, e.Axis, e.Left, e.Right)
}

// ParseError reports invalid spec syntax.
type ParseError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing spec %q at offset %d: %s", e.Input, e.Pos, e.Msg)
}

// HashMismatchError is returned when a stored concrete spec does not hash to
// the key it was recorded under.
type HashMismatchError struct {
	Name     string
	Hash     string
	Computed string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("%s: recorded hash %s does not match computed hash %s", e.Name, e.Hash, e.Computed)
}
