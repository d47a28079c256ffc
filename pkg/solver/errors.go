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

package solver

import (
	"fmt"
	"strings"
	"time"
)

// Origin records who imposed a constraint on a package.
type Origin struct {
	// Dependent is the package whose recipe imposed the constraint. Empty
	// for constraints taken from the request itself.
	Dependent  string
	Constraint string
}

func (o Origin) String() string {
	if o.Dependent == "" {
		return "requested " + o.Constraint
	}
	return o.Dependent + " requires " + o.Constraint
}

// UnsatisfiableSpecError describes why no configuration of a package could
// be chosen: the competing constraints and where each came from.
type UnsatisfiableSpecError struct {
	Name    string
	Reason  string
	Origins []Origin
	// Err is the underlying failure, if any.
	Err error
}

func (e *UnsatisfiableSpecError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Name, e.Reason)
	for _, o := range e.Origins {
		sb.WriteString("\n  " + o.String())
	}
	return sb.String()
}

func (e *UnsatisfiableSpecError) Unwrap() error { return e.Err }

// ConcretizationError is the failure of one requested root.
type ConcretizationError struct {
	Root string
	Err  error
}

func (e *ConcretizationError) Error() string {
	return fmt.Sprintf("cannot concretize %s: %v", e.Root, e.Err)
}

func (e *ConcretizationError) Unwrap() error { return e.Err }

// CyclicDependencyError is returned for dependency cycles that no choice of
// version or variant can break.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// ConcretizationTimeoutError is returned when the search exceeds its budget
// before finding an answer either way.
type ConcretizationTimeoutError struct {
	Steps    int
	Elapsed  time.Duration
	MaxSteps int
	Timeout  time.Duration
}

func (e *ConcretizationTimeoutError) Error() string {
	if e.MaxSteps > 0 && e.Steps >= e.MaxSteps {
		return fmt.Sprintf("concretization exceeded %d steps after %s", e.MaxSteps, e.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("concretization exceeded timeout %s after %d steps", e.Timeout, e.Steps)
}
