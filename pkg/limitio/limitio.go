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

// Package limitio caps how much is read from untrusted streams, such as
// decompressed indexes and files cloned from remote repositories.
package limitio

import (
	"fmt"
	"io"
)

// TooLargeError is returned once a stream yields more than Limit bytes.
type TooLargeError struct {
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("input exceeds the limit of %d bytes", e.Limit)
}

type reader struct {
	r     io.Reader
	left  int64
	limit int64
}

// Reader returns a reader that fails with a *TooLargeError when r holds more
// than limit bytes. A negative limit disables the check.
func Reader(r io.Reader, limit int64) io.Reader {
	if limit < 0 {
		return r
	}
	return &reader{r: r, left: limit, limit: limit}
}

func (l *reader) Read(p []byte) (int, error) {
	if l.left <= 0 {
		// The limit is only exceeded if anything is left to read.
		var one [1]byte
		n, err := l.r.Read(one[:])
		if n > 0 {
			return 0, &TooLargeError{Limit: l.limit}
		}
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	if int64(len(p)) > l.left {
		p = p[:l.left]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	return n, err
}
