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
	"errors"
	"io"
	"sync"

	"kestrel.dev/kestrel/pkg/abi/linux"
)

// canonMaxBytes is the longest line accepted in canonical mode, as
// N_TTY_BUF_SIZE in include/linux/tty.h.
const canonMaxBytes = 4096

// ErrInterrupt is returned by Read when the interrupt character arrives with
// ISIG set. The line being edited is discarded.
var ErrInterrupt = errors.New("terminal interrupt")

// TTY is the terminal line discipline of the console. It corresponds to a
// much reduced drivers/tty/n_tty.c: input is processed as it is read from
// the device, there is no output queue, and only the foreground process
// group is tracked, never used.
//
// Lock order: mu, then the Console's own lock.
type TTY struct {
	cons Console

	mu sync.Mutex

	termios linux.Termios
	size    linux.Winsize
	pgrp    int32

	// line is the line being edited in canonical mode.
	line []byte

	// ready holds completed lines waiting to be read. In canonical mode a
	// read returns bytes from a single entry; an empty entry is end of file.
	// In non-canonical mode there is at most one entry.
	ready [][]byte

	// hungUp is set once the device returns an error. Reads drain ready
	// and then return it.
	hungUp error
}

// NewTTY returns a TTY on c with the settings of a fresh serial console.
func NewTTY(c Console) *TTY {
	return &TTY{
		cons:    c,
		termios: linux.DefaultConsoleTermios,
		size:    linux.DefaultWinsize,
	}
}

// Termios returns the current settings.
func (t *TTY) Termios() linux.Termios {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.termios
}

// SetTermios replaces the settings. Leaving canonical mode makes the line
// being edited readable.
func (t *TTY) SetTermios(termios linux.Termios) {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasCanon := t.termios.LEnabled(linux.ICANON)
	t.termios = termios
	if wasCanon && !termios.LEnabled(linux.ICANON) && len(t.line) > 0 {
		t.pushLocked(t.line)
		t.line = nil
	}
}

// Flush discards pending input.
func (t *TTY) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.line = nil
	t.ready = nil
}

// WindowSize returns the terminal size.
func (t *TTY) WindowSize() linux.Winsize {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// SetWindowSize records a new terminal size.
func (t *TTY) SetWindowSize(ws linux.Winsize) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.size = ws
}

// ForegroundProcessGroup returns the foreground process group.
func (t *TTY) ForegroundProcessGroup() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pgrp
}

// SetForegroundProcessGroup sets the foreground process group.
func (t *TTY) SetForegroundProcessGroup(pgid int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pgrp = pgid
}

// Readable reports whether a Read would return without touching the device.
func (t *TTY) Readable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ready) > 0 || t.hungUp != nil
}

// Read reads input. In canonical mode it blocks until a line is complete and
// returns at most that line; a zero-length read with a nil error is end of
// file. In non-canonical mode it blocks for one byte.
func (t *TTY) Read(dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.ready) == 0 {
		if t.hungUp != nil {
			if t.hungUp == io.EOF {
				return 0, nil
			}
			return 0, t.hungUp
		}
		c, err := t.cons.ReadByte()
		if err != nil {
			t.hangUpLocked(err)
			continue
		}
		if err := t.inputLocked(c); err != nil {
			return 0, err
		}
	}
	head := t.ready[0]
	n := copy(dst, head)
	if n == len(head) {
		t.ready = t.ready[1:]
	} else {
		t.ready[0] = head[n:]
	}
	return n, nil
}

// Write writes src to the device with output processing.
func (t *TTY) Write(src []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range src {
		if err := t.outputLocked(c); err != nil {
			return i, err
		}
	}
	return len(src), nil
}

// hangUpLocked records a device error. Any partial line becomes readable
// first, the way a final unterminated line is returned before EOF.
func (t *TTY) hangUpLocked(err error) {
	if len(t.line) > 0 {
		t.pushLocked(t.line)
		t.line = nil
	}
	t.hungUp = err
}

// pushLocked makes b readable. An empty b in canonical mode is end of file.
func (t *TTY) pushLocked(b []byte) {
	if !t.termios.LEnabled(linux.ICANON) && len(t.ready) > 0 {
		t.ready[0] = append(t.ready[0], b...)
		return
	}
	t.ready = append(t.ready, b)
}

// inputLocked processes one input byte. See
// drivers/tty/n_tty.c:n_tty_receive_char_special.
func (t *TTY) inputLocked(c byte) error {
	tm := &t.termios
	if tm.IEnabled(linux.ISTRIP) {
		c &= 0x7f
	}
	switch c {
	case '\r':
		if tm.IEnabled(linux.IGNCR) {
			return nil
		}
		if tm.IEnabled(linux.ICRNL) {
			c = '\n'
		}
	case '\n':
		if tm.IEnabled(linux.INLCR) {
			c = '\r'
		}
	}

	if tm.LEnabled(linux.ISIG) && c == tm.ControlCharacters[linux.VINTR] {
		t.line = nil
		t.ready = nil
		if tm.LEnabled(linux.ECHO) {
			t.echoControlLocked(c)
			t.echoLocked('\n')
		}
		return ErrInterrupt
	}

	if !tm.LEnabled(linux.ICANON) {
		t.echoLocked(c)
		t.pushLocked([]byte{c})
		return nil
	}

	switch {
	case c == tm.ControlCharacters[linux.VERASE] || c == '\b':
		if len(t.line) == 0 {
			return nil
		}
		t.line = t.line[:len(t.line)-1]
		if tm.LEnabled(linux.ECHO) && tm.LEnabled(linux.ECHOE) {
			t.echoEraseLocked()
		}
	case c == tm.ControlCharacters[linux.VKILL]:
		n := len(t.line)
		t.line = nil
		if tm.LEnabled(linux.ECHO) && tm.LEnabled(linux.ECHOK) {
			for ; n > 0; n-- {
				t.echoEraseLocked()
			}
		}
	case c == tm.ControlCharacters[linux.VEOF]:
		// A non-empty line is delivered without the EOF character; an
		// empty one reads as end of file.
		t.pushLocked(t.line)
		t.line = nil
	case c == '\n' || (c != 0 && c == tm.ControlCharacters[linux.VEOL]):
		t.echoLocked(c)
		t.pushLocked(append(t.line, c))
		t.line = nil
	default:
		if len(t.line) >= canonMaxBytes-1 {
			return nil
		}
		t.echoLocked(c)
		t.line = append(t.line, c)
	}
	return nil
}

func (t *TTY) echoLocked(c byte) {
	if !t.termios.LEnabled(linux.ECHO) {
		return
	}
	if c < ' ' && c != '\n' && c != '\t' && t.termios.LEnabled(linux.ECHOCTL) {
		t.echoControlLocked(c)
		return
	}
	t.outputLocked(c)
}

// echoControlLocked echoes c in caret notation.
func (t *TTY) echoControlLocked(c byte) {
	t.outputLocked('^')
	t.outputLocked(c ^ 0x40)
}

func (t *TTY) echoEraseLocked() {
	t.outputLocked('\b')
	t.outputLocked(' ')
	t.outputLocked('\b')
}

// outputLocked writes one byte with output processing. See
// drivers/tty/n_tty.c:do_output_char.
func (t *TTY) outputLocked(c byte) error {
	tm := &t.termios
	if tm.OEnabled(linux.OPOST) {
		switch c {
		case '\n':
			if tm.OEnabled(linux.ONLCR) {
				if err := t.cons.WriteByte('\r'); err != nil {
					return err
				}
			}
		case '\r':
			if tm.OEnabled(linux.OCRNL) {
				c = '\n'
			}
		}
	}
	return t.cons.WriteByte(c)
}
