// Copyright 2025 The gVisor Authors.
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

//go:build kestrel_metal

// Package rand implements a cryptographically secure pseudorandom number
// generator.
//
// On the machine there is no entropy device; the generator is a ChaCha8
// stream keyed by Seed, which boot calls with the firmware-provided seed.
package rand

import (
	"crypto/sha256"
	"io"
	mrand "math/rand/v2"
	"sync"
)

type reader struct {
	mu sync.Mutex
	g  *mrand.ChaCha8
}

// Read implements io.Reader.Read.
func (r *reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.g == nil {
		r.g = mrand.NewChaCha8([32]byte{})
	}
	return r.g.Read(p)
}

var defaultReader = &reader{}

// Reader is the default reader.
var Reader io.Reader = defaultReader

// Read reads from the default reader.
func Read(b []byte) (int, error) {
	return io.ReadFull(Reader, b)
}

// Seed rekeys the generator. Seeds of any length are accepted.
func Seed(seed []byte) {
	defaultReader.mu.Lock()
	defer defaultReader.mu.Unlock()
	defaultReader.g = mrand.NewChaCha8(sha256.Sum256(seed))
}
