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

package limitio

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReader(t *testing.T) {
	for _, tc := range []struct {
		name    string
		in      string
		limit   int64
		want    string
		tooMuch bool
	}{
		{name: "under", in: "zlib", limit: 10, want: "zlib"},
		{name: "exact", in: "zlib", limit: 4, want: "zlib"},
		{name: "over", in: "zlib-1.3.1", limit: 4, tooMuch: true},
		{name: "empty", in: "", limit: 0, want: ""},
		{name: "unlimited", in: "zlib-1.3.1", limit: -1, want: "zlib-1.3.1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := io.ReadAll(Reader(strings.NewReader(tc.in), tc.limit))
			if tc.tooMuch {
				var tl *TooLargeError
				require.True(t, errors.As(err, &tl), "got %v", err)
				require.Equal(t, tc.limit, tl.Limit)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, string(got))
		})
	}
}
