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

// gen-jsonschema writes the JSON schema of environment files or of recipe
// files.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/invopop/jsonschema"

	"chainguard.dev/concretizer/pkg/environment/types"
	"chainguard.dev/concretizer/pkg/recipe"
)

var (
	outputFlag = flag.String("o", "", "output path")
	kindFlag   = flag.String("kind", "environment", "schema to generate: environment or recipe")
)

func main() {
	flag.Parse()

	if *outputFlag == "" {
		log.Fatal("output path is required")
	}

	r := new(jsonschema.Reflector)
	var schema *jsonschema.Schema
	switch *kindFlag {
	case "environment":
		if err := r.AddGoComments("chainguard.dev/concretizer/pkg/environment", "../../pkg/environment/types"); err != nil {
			log.Fatal(err)
		}
		schema = r.Reflect(types.Environment{})
	case "recipe":
		if err := r.AddGoComments("chainguard.dev/concretizer/pkg", "../../pkg/recipe"); err != nil {
			log.Fatal(err)
		}
		schema = r.Reflect(recipe.PackageFile{})
	default:
		log.Fatalf("unknown schema kind %q", *kindFlag)
	}

	b := new(bytes.Buffer)
	enc := json.NewEncoder(b)
	enc.SetIndent("", "  ")
	if err := enc.Encode(schema); err != nil {
		log.Fatal(err)
	}
	//nolint:gosec // the schema is meant to be world readable.
	if err := os.WriteFile(*outputFlag, b.Bytes(), 0o644); err != nil {
		log.Fatal(err)
	}
}
