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

package recipe

import (
	"fmt"

	"chainguard.dev/concretizer/pkg/spec"
)

// BuildSystem names how a package is built. The resolver only cares about
// the dependencies a build system implies and whether it needs a compiler.
type BuildSystem string

const (
	Generic   BuildSystem = "generic"
	Autotools BuildSystem = "autotools"
	CMake     BuildSystem = "cmake"
	Makefile  BuildSystem = "makefile"
	Meson     BuildSystem = "meson"
	Python    BuildSystem = "python"
	Bundle    BuildSystem = "bundle"
)

// Trait is what a build system contributes to the packages using it.
type Trait struct {
	Dependencies []DependencyDef
	NoCompiler   bool
}

func buildDep(name string, types spec.DepType) DependencyDef {
	return DependencyDef{Spec: spec.Named(name), Types: types}
}

var traits = map[BuildSystem]Trait{
	Generic:   {},
	Autotools: {Dependencies: []DependencyDef{buildDep("gmake", spec.Build)}},
	CMake:     {Dependencies: []DependencyDef{buildDep("cmake", spec.Build)}},
	Makefile:  {Dependencies: []DependencyDef{buildDep("gmake", spec.Build)}},
	Meson:     {Dependencies: []DependencyDef{buildDep("meson", spec.Build), buildDep("ninja", spec.Build)}},
	Python:    {Dependencies: []DependencyDef{buildDep("python", spec.Build|spec.Link|spec.Run)}},
	Bundle:    {NoCompiler: true},
}

// ParseBuildSystem validates s. The empty string is Generic.
func ParseBuildSystem(s string) (BuildSystem, error) {
	if s == "" {
		return Generic, nil
	}
	if _, ok := traits[BuildSystem(s)]; !ok {
		return "", fmt.Errorf("unknown build system %q", s)
	}
	return BuildSystem(s), nil
}

// Trait returns the trait of b. Unknown build systems behave as Generic.
func (b BuildSystem) Trait() Trait { return traits[b] }
