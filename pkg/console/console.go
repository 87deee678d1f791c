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

// Package console provides the byte-level console the kernel talks to and
// the terminal line discipline layered on it.
//
// A Console moves single bytes. The kernel never touches one directly from a
// syscall handler; reads and writes of the console descriptors go through a
// TTY, which applies the termios settings the user program asked for.
package console

// Console is a byte-at-a-time duplex device.
type Console interface {
	// ReadByte blocks until a byte is available. It returns io.EOF when
	// the device has no more input.
	ReadByte() (byte, error)

	// WriteByte blocks until the device accepts b.
	WriteByte(b byte) error
}

// WriteString writes s to c and stops at the first error.
func WriteString(c Console, s string) error {
	for i := 0; i < len(s); i++ {
		if err := c.WriteByte(s[i]); err != nil {
			return err
		}
	}
	return nil
}

// Writer adapts a Console to io.Writer, translating "\n" to "\r\n". It is
// used for kernel log output on consoles with no line discipline.
type Writer struct {
	Console Console
}

// Write implements io.Writer.Write.
func (w Writer) Write(p []byte) (int, error) {
	for i, b := range p {
		if b == '\n' {
			if err := w.Console.WriteByte('\r'); err != nil {
				return i, err
			}
		}
		if err := w.Console.WriteByte(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}
