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

// Package platform detects the default platform of the host.
package platform

import (
	"io/fs"
	"os"
	"runtime"
	"strings"

	osrelease "github.com/dominodatalab/os-release"

	"chainguard.dev/concretizer/pkg/spec"
)

// Distributions whose releases are named by major version only.
var majorOnly = map[string]bool{
	"almalinux": true,
	"centos":    true,
	"rhel":      true,
	"rocky":     true,
}

var goarchTargets = map[string]string{
	"amd64":   "x86_64",
	"arm64":   "aarch64",
	"386":     "i686",
	"ppc64le": "ppc64le",
	"s390x":   "s390x",
	"riscv64": "riscv64",
}

// Detect returns the platform of the running host.
func Detect() spec.Arch {
	return DetectFS(os.DirFS("/"), runtime.GOOS, machine())
}

// DetectFS derives the platform from the os-release file of root, the Go
// operating system name and the kernel machine name. An empty machine falls
// back to the architecture the binary was built for.
func DetectFS(root fs.FS, goos, mach string) spec.Arch {
	a := spec.Arch{Platform: goos, Target: mach}
	if a.Target == "" {
		a.Target = target(runtime.GOARCH)
	}
	switch goos {
	case "linux":
		a.OS = linuxOS(root)
	case "darwin":
		a.OS = "macos"
	default:
		a.OS = goos
	}
	return a
}

func target(goarch string) string {
	if t, ok := goarchTargets[goarch]; ok {
		return t
	}
	return goarch
}

func linuxOS(root fs.FS) string {
	for _, p := range []string{"etc/os-release", "usr/lib/os-release"} {
		b, err := fs.ReadFile(root, p)
		if err != nil {
			continue
		}
		d := osrelease.Parse(string(b))
		if d.ID == "" {
			continue
		}
		ver := d.VersionID
		if majorOnly[d.ID] {
			ver, _, _ = strings.Cut(ver, ".")
		}
		return d.ID + ver
	}
	return "linux"
}
