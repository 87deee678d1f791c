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
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/pkg/abi/linux"
)

func newTestTTY(input string) (*TTY, *bytes.Buffer) {
	var out bytes.Buffer
	return NewTTY(NewStream(strings.NewReader(input), &out)), &out
}

func readAll(t *testing.T, tty *TTY, bufSize int) []string {
	t.Helper()
	var reads []string
	buf := make([]byte, bufSize)
	for {
		n, err := tty.Read(buf)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if n == 0 {
			return reads
		}
		reads = append(reads, string(buf[:n]))
	}
}

func TestCanonical(t *testing.T) {
	for _, tc := range []struct {
		name     string
		input    string
		bufSize  int
		wantRead []string
		wantEcho string
	}{
		{
			name:     "carriage return",
			input:    "Ada\r",
			bufSize:  64,
			wantRead: []string{"Ada\n"},
			wantEcho: "Ada\r\n",
		},
		{
			name:     "two lines",
			input:    "a\nbc\n",
			bufSize:  64,
			wantRead: []string{"a\n", "bc\n"},
			wantEcho: "a\r\nbc\r\n",
		},
		{
			name:     "erase",
			input:    "Adx\x7fa\n",
			bufSize:  64,
			wantRead: []string{"Ada\n"},
			wantEcho: "Adx\b \ba\r\n",
		},
		{
			name:     "erase on empty line",
			input:    "\x7fok\n",
			bufSize:  64,
			wantRead: []string{"ok\n"},
			wantEcho: "ok\r\n",
		},
		{
			name:     "kill",
			input:    "ab\x15c\n",
			bufSize:  64,
			wantRead: []string{"c\n"},
			wantEcho: "ab\b \b\b \bc\r\n",
		},
		{
			name:     "eof after text",
			input:    "abc\x04rest\n",
			bufSize:  64,
			wantRead: []string{"abc", "rest\n"},
			wantEcho: "abcrest\r\n",
		},
		{
			name:     "short buffer",
			input:    "hello\n",
			bufSize:  2,
			wantRead: []string{"he", "ll", "o\n"},
			wantEcho: "hello\r\n",
		},
		{
			name:     "unterminated line at hangup",
			input:    "tail",
			bufSize:  64,
			wantRead: []string{"tail"},
			wantEcho: "tail",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tty, out := newTestTTY(tc.input)
			got := readAll(t, tty, tc.bufSize)
			if diff := cmp.Diff(tc.wantRead, got); diff != "" {
				t.Errorf("reads mismatch (-want +got):\n%s", diff)
			}
			if got := out.String(); got != tc.wantEcho {
				t.Errorf("echo = %q, want %q", got, tc.wantEcho)
			}
		})
	}
}

func TestEOFOnEmptyLine(t *testing.T) {
	tty, _ := newTestTTY("\x04more\n")
	buf := make([]byte, 16)
	if n, err := tty.Read(buf); n != 0 || err != nil {
		t.Fatalf("Read = %d, %v, want 0, nil", n, err)
	}
	n, err := tty.Read(buf)
	if err != nil || string(buf[:n]) != "more\n" {
		t.Errorf("Read after EOF = %q, %v, want \"more\\n\", nil", buf[:n], err)
	}
}

func TestInterrupt(t *testing.T) {
	tty, out := newTestTTY("abc\x03")
	if _, err := tty.Read(make([]byte, 8)); !errors.Is(err, ErrInterrupt) {
		t.Fatalf("Read error = %v, want %v", err, ErrInterrupt)
	}
	if got, want := out.String(), "abc^C\r\n"; got != want {
		t.Errorf("echo = %q, want %q", got, want)
	}
}

func TestNonCanonical(t *testing.T) {
	tty, out := newTestTTY("xy\r")
	termios := tty.Termios()
	termios.LocalFlags &^= linux.ICANON | linux.ECHO
	tty.SetTermios(termios)

	got := readAll(t, tty, 8)
	if diff := cmp.Diff([]string{"x", "y", "\n"}, got); diff != "" {
		t.Errorf("reads mismatch (-want +got):\n%s", diff)
	}
	if out.Len() != 0 {
		t.Errorf("echo = %q with ECHO off", out.String())
	}
}

func TestLeaveCanonicalFlushesLine(t *testing.T) {
	tty, _ := newTestTTY("")
	tty.line = []byte("part")
	termios := tty.Termios()
	termios.LocalFlags &^= linux.ICANON
	tty.SetTermios(termios)
	if !tty.Readable() {
		t.Fatalf("partial line not readable after leaving canonical mode")
	}
	buf := make([]byte, 8)
	if n, _ := tty.Read(buf); string(buf[:n]) != "part" {
		t.Errorf("Read = %q, want \"part\"", buf[:n])
	}
}

func TestWrite(t *testing.T) {
	tty, out := newTestTTY("")
	if n, err := tty.Write([]byte("a\nb\n")); n != 4 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if got, want := out.String(), "a\r\nb\r\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	out.Reset()
	termios := tty.Termios()
	termios.OutputFlags &^= linux.OPOST
	tty.SetTermios(termios)
	tty.Write([]byte("raw\n"))
	if got, want := out.String(), "raw\n"; got != want {
		t.Errorf("output without OPOST = %q, want %q", got, want)
	}
}

func TestWindowSize(t *testing.T) {
	tty, _ := newTestTTY("")
	if got := tty.WindowSize(); got != linux.DefaultWinsize {
		t.Errorf("WindowSize() = %+v, want %+v", got, linux.DefaultWinsize)
	}
	ws := linux.Winsize{Row: 50, Col: 132}
	tty.SetWindowSize(ws)
	if got := tty.WindowSize(); got != ws {
		t.Errorf("WindowSize() = %+v, want %+v", got, ws)
	}
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteError(t *testing.T) {
	tty := NewTTY(NewStream(strings.NewReader(""), errWriter{}))
	if n, err := tty.Write([]byte("x")); n != 0 || err == nil {
		t.Errorf("Write = %d, %v, want 0 and an error", n, err)
	}
}

// fakeUART models the PL011 FIFOs.
type fakeUART struct {
	rx     []byte
	tx     []byte
	txFull int
	regs   map[uintptr]uint32
}

func (f *fakeUART) Read32(off uintptr) uint32 {
	switch off {
	case pl011FR:
		var fr uint32
		if len(f.rx) == 0 {
			fr |= pl011FRRXFE
		}
		if f.txFull > 0 {
			f.txFull--
			fr |= pl011FRTXFF
		}
		return fr
	case pl011DR:
		c := f.rx[0]
		f.rx = f.rx[1:]
		return uint32(c)
	}
	return f.regs[off]
}

func (f *fakeUART) Write32(off uintptr, v uint32) {
	if off == pl011DR {
		f.tx = append(f.tx, byte(v))
		return
	}
	if f.regs == nil {
		f.regs = make(map[uintptr]uint32)
	}
	f.regs[off] = v
}

func TestPL011(t *testing.T) {
	f := &fakeUART{rx: []byte("hi"), txFull: 3}
	u := NewPL011(f)
	u.Init()
	if got, want := f.regs[pl011CR], uint32(pl011CRUARTEN|pl011CRTXE|pl011CRRXE); got != want {
		t.Errorf("CR = %#x, want %#x", got, want)
	}
	if got := f.regs[pl011IMSC]; got != 0 {
		t.Errorf("IMSC = %#x, want interrupts masked", got)
	}

	if err := WriteString(u, "ok"); err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}
	if got := string(f.tx); got != "ok" {
		t.Errorf("transmitted %q, want \"ok\"", got)
	}
	for _, want := range []byte("hi") {
		if got, err := u.ReadByte(); err != nil || got != want {
			t.Errorf("ReadByte() = %q, %v, want %q", got, err, want)
		}
	}
}

func TestWriter(t *testing.T) {
	var out bytes.Buffer
	w := Writer{Console: NewStream(strings.NewReader(""), &out)}
	if n, err := io.WriteString(w, "a\nb\n"); n != 4 || err != nil {
		t.Fatalf("WriteString = %d, %v, want 4, nil", n, err)
	}
	if got, want := out.String(), "a\r\nb\r\n"; got != want {
		t.Errorf("wrote %q, want %q", got, want)
	}
}
