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

package linux

// NumControlCharacters is the number of control characters in Termios.
const NumControlCharacters = 19

// Termios is struct termios, defined in uapi/asm-generic/termbits.h.
type Termios struct {
	InputFlags        uint32
	OutputFlags       uint32
	ControlFlags      uint32
	LocalFlags        uint32
	LineDiscipline    uint8
	ControlCharacters [NumControlCharacters]uint8
}

// SizeOfTermios is the size of a Termios struct.
const SizeOfTermios = 36

// IEnabled returns whether flag is enabled in termios input flags.
func (t *Termios) IEnabled(flag uint32) bool {
	return t.InputFlags&flag == flag
}

// OEnabled returns whether flag is enabled in termios output flags.
func (t *Termios) OEnabled(flag uint32) bool {
	return t.OutputFlags&flag == flag
}

// LEnabled returns whether flag is enabled in termios local flags.
func (t *Termios) LEnabled(flag uint32) bool {
	return t.LocalFlags&flag == flag
}

// Input flags.
const (
	IGNBRK  = 0000001
	BRKINT  = 0000002
	IGNPAR  = 0000004
	PARMRK  = 0000010
	INPCK   = 0000020
	ISTRIP  = 0000040
	INLCR   = 0000100
	IGNCR   = 0000200
	ICRNL   = 0000400
	IUCLC   = 0001000
	IXON    = 0002000
	IXANY   = 0004000
	IXOFF   = 0010000
	IMAXBEL = 0020000
	IUTF8   = 0040000
)

// Output flags.
const (
	OPOST  = 0000001
	OLCUC  = 0000002
	ONLCR  = 0000004
	OCRNL  = 0000010
	ONOCR  = 0000020
	ONLRET = 0000040
)

// Control flags.
const (
	CS8   = 0000060
	CREAD = 0000200
	B9600 = 0000015
)

// Local flags.
const (
	ISIG    = 0000001
	ICANON  = 0000002
	ECHO    = 0000010
	ECHOE   = 0000020
	ECHOK   = 0000040
	ECHONL  = 0000100
	NOFLSH  = 0000200
	TOSTOP  = 0000400
	ECHOCTL = 0001000
	ECHOKE  = 0004000
	IEXTEN  = 0100000
)

// Control Character indices.
const (
	VINTR   = 0
	VQUIT   = 1
	VERASE  = 2
	VKILL   = 3
	VEOF    = 4
	VTIME   = 5
	VMIN    = 6
	VEOL    = 11
	VWERASE = 14
)

// ControlCharacter returns the termios-style control character for the
// passed character.
//
// e.g., for Ctrl-C, i.e., ^C, call ControlCharacter('C').
//
// Standard control characters are ASCII bytes 0 through 31.
func ControlCharacter(c byte) uint8 {
	// A is 1, B is 2, etc.
	return uint8(c - 'A' + 1)
}

// DefaultConsoleTermios is the termios of a freshly opened serial console:
// canonical mode with echo, CR mapped to NL on input and NL expanded to CRNL
// on output.
var DefaultConsoleTermios = Termios{
	InputFlags:   ICRNL,
	OutputFlags:  OPOST | ONLCR,
	ControlFlags: B9600 | CS8 | CREAD,
	LocalFlags:   ISIG | ICANON | ECHO | ECHOE | ECHOK,
	ControlCharacters: [NumControlCharacters]uint8{
		VINTR:   ControlCharacter('C'),
		VQUIT:   ControlCharacter('\\'),
		VERASE:  '\x7f',
		VKILL:   ControlCharacter('U'),
		VEOF:    ControlCharacter('D'),
		VTIME:   0,
		VMIN:    1,
		VWERASE: ControlCharacter('W'),
	},
}

// Winsize is struct winsize, defined in uapi/asm-generic/termios.h.
type Winsize struct {
	Row    uint16
	Col    uint16
	Xpixel uint16
	Ypixel uint16
}

// DefaultWinsize is reported for the serial console, which has no way to
// learn the real terminal size.
var DefaultWinsize = Winsize{Row: 24, Col: 80}
