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

// Constants for open(2).
const (
	O_ACCMODE   = 000000003
	O_RDONLY    = 000000000
	O_WRONLY    = 000000001
	O_RDWR      = 000000002
	O_CREAT     = 000000100
	O_EXCL      = 000000200
	O_NOCTTY    = 000000400
	O_TRUNC     = 000001000
	O_APPEND    = 000002000
	O_NONBLOCK  = 000004000
	O_DSYNC     = 000010000
	O_ASYNC     = 000020000
	O_DIRECTORY = 000040000
	O_NOFOLLOW  = 000100000
	O_DIRECT    = 000200000
	O_LARGEFILE = 000400000
	O_NOATIME   = 001000000
	O_CLOEXEC   = 002000000
	O_PATH      = 010000000
)

// Constants for *at syscalls.
const (
	AT_FDCWD            = -100
	AT_SYMLINK_NOFOLLOW = 0x100
	AT_EMPTY_PATH       = 0x1000
)

// Constants for access(2) and faccessat(2).
const (
	F_OK = 0
	X_OK = 1
	W_OK = 2
	R_OK = 4
)

// Commands from linux/fcntl.h.
const (
	F_DUPFD         = 0
	F_GETFD         = 1
	F_SETFD         = 2
	F_GETFL         = 3
	F_SETFL         = 4
	F_DUPFD_CLOEXEC = 1030
)

// Flags for fcntl.
const (
	FD_CLOEXEC = 00000001
)

// Whence values for lseek(2).
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// Values for mode_t.
const (
	FileTypeMask        = 0170000
	ModeSocket          = 0140000
	ModeSymlink         = 0120000
	ModeRegular         = 0100000
	ModeBlockDevice     = 060000
	ModeDirectory       = 040000
	ModeCharacterDevice = 020000
	ModeNamedPipe       = 010000

	PermissionsMask = 0777
)

// Device numbers of the console, as for a serial TTY (ttyAMA0).
const (
	// ConsoleMajor is the major number of AMBA serial ports.
	ConsoleMajor = 204

	// ConsoleMinor is the minor number of ttyAMA0.
	ConsoleMinor = 64
)

// MakeDeviceID encodes a major and minor number the way the kernel's
// new_encode_dev does.
func MakeDeviceID(major, minor uint32) uint64 {
	return uint64((minor & 0xff) | ((major & 0xfff) << 8) | ((minor >> 8) << 20))
}

// Stat represents struct stat on arm64 (asm-generic/stat.h).
type Stat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	_       uint64
	Size    int64
	Blksize int32
	_       int32
	Blocks  int64
	ATime   Timespec
	MTime   Timespec
	CTime   Timespec
	_       [2]int32
}

// SizeOfStat is the size of a Stat struct.
const SizeOfStat = 128

// IsCharDevice returns true if the mode describes a character device.
func IsCharDevice(mode uint32) bool {
	return mode&FileTypeMask == ModeCharacterDevice
}
