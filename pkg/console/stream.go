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

package console

import (
	"bufio"
	"io"
	"sync"
)

// Stream is a Console over an io.Reader and io.Writer, used by the hosted
// platform for the process's stdin and stdout.
type Stream struct {
	mu sync.Mutex
	r  *bufio.Reader
	w  io.Writer
}

// NewStream returns a Stream. Writes are unbuffered.
func NewStream(r io.Reader, w io.Writer) *Stream {
	return &Stream{r: bufio.NewReader(r), w: w}
}

// ReadByte implements Console.ReadByte.
func (s *Stream) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.ReadByte()
}

// WriteByte implements Console.WriteByte.
func (s *Stream) WriteByte(b byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write([]byte{b})
	return err
}
