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

package kernel

import (
	"hash/fnv"
	"io"
	"sync"
	"sync/atomic"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/console"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/fsprovider"
	"kestrel.dev/kestrel/pkg/hostarch"
)

// FileImpl is the type-specific part of an open file.
type FileImpl interface {
	// PRead reads into dst at offset. Implementations that are not
	// seekable ignore offset.
	PRead(dst []byte, offset int64) (int, error)

	// Write writes src at the current end of the stream.
	Write(src []byte) (int, error)

	// Stat returns the file's metadata.
	Stat() linux.Stat

	// Seekable reports whether the file has a size and honors offsets.
	Seekable() bool

	// Ioctl implements the file-specific ioctl commands.
	Ioctl(t *Task, cmd uint32, arg hostarch.Addr) (uintptr, error)

	// Readiness returns the subset of mask that is ready.
	Readiness(mask int16) int16

	// Release is called when the last reference is dropped.
	Release()
}

// FileDescription is an open file, possibly shared by several descriptors.
type FileDescription struct {
	impl FileImpl

	// path is the absolute path the file was opened with.
	path string

	refs atomic.Int64

	// mu protects the fields below.
	mu sync.Mutex

	// statusFlags are the O_* flags of the open file, access mode
	// included.
	statusFlags uint32

	// offset is the file offset of a seekable file.
	offset int64
}

// NewFileDescription returns a file description with one reference.
func NewFileDescription(impl FileImpl, path string, flags uint32) *FileDescription {
	fd := &FileDescription{impl: impl, path: path, statusFlags: flags}
	fd.refs.Store(1)
	return fd
}

// Impl returns the implementation.
func (fd *FileDescription) Impl() FileImpl {
	return fd.impl
}

// Path returns the path the file was opened with.
func (fd *FileDescription) Path() string {
	return fd.path
}

// IncRef takes a reference.
func (fd *FileDescription) IncRef() {
	fd.refs.Add(1)
}

// DecRef drops a reference, releasing the file with the last one.
func (fd *FileDescription) DecRef() {
	switch v := fd.refs.Add(-1); {
	case v == 0:
		fd.impl.Release()
	case v < 0:
		panic("FileDescription.DecRef: negative refcount")
	}
}

// StatusFlags returns the O_* status flags, access mode included.
func (fd *FileDescription) StatusFlags() uint32 {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.statusFlags
}

// setStatusFlagsMask lists the flags F_SETFL may change.
const setStatusFlagsMask = linux.O_APPEND | linux.O_ASYNC | linux.O_DIRECT | linux.O_NOATIME | linux.O_NONBLOCK

// SetStatusFlags sets the flags in setStatusFlagsMask and ignores the rest.
func (fd *FileDescription) SetStatusFlags(flags uint32) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.statusFlags = fd.statusFlags&^setStatusFlagsMask | flags&setStatusFlagsMask
}

// IsReadable returns true if the access mode permits reads.
func (fd *FileDescription) IsReadable() bool {
	mode := fd.StatusFlags() & linux.O_ACCMODE
	return mode == linux.O_RDONLY || mode == linux.O_RDWR
}

// IsWritable returns true if the access mode permits writes.
func (fd *FileDescription) IsWritable() bool {
	mode := fd.StatusFlags() & linux.O_ACCMODE
	return mode == linux.O_WRONLY || mode == linux.O_RDWR
}

// Read reads at the file offset and advances it.
func (fd *FileDescription) Read(dst []byte) (int, error) {
	if !fd.impl.Seekable() {
		return fd.impl.PRead(dst, 0)
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	n, err := fd.impl.PRead(dst, fd.offset)
	fd.offset += int64(n)
	return n, err
}

// PRead reads at offset without moving the file offset.
func (fd *FileDescription) PRead(dst []byte, offset int64) (int, error) {
	if !fd.impl.Seekable() {
		return 0, linuxerr.ESPIPE
	}
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}
	return fd.impl.PRead(dst, offset)
}

// Write writes src.
func (fd *FileDescription) Write(src []byte) (int, error) {
	return fd.impl.Write(src)
}

// Seek implements io.Seeker.Seek with lseek(2) semantics. The whence values
// are the same as io.SeekStart, io.SeekCurrent and io.SeekEnd.
func (fd *FileDescription) Seek(offset int64, whence int) (int64, error) {
	if !fd.impl.Seekable() {
		return 0, linuxerr.ESPIPE
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	var base int64
	switch whence {
	case linux.SEEK_SET:
	case linux.SEEK_CUR:
		base = fd.offset
	case linux.SEEK_END:
		base = fd.impl.Stat().Size
	default:
		return 0, linuxerr.EINVAL
	}
	off := base + offset
	if off < 0 || (offset > 0 && off < base) {
		return 0, linuxerr.EINVAL
	}
	fd.offset = off
	return off, nil
}

// inode returns a stable inode number for path.
func inode(path string) uint64 {
	h := fnv.New64a()
	io.WriteString(h, path)
	return h.Sum64()
}

// Device numbers of the two kinds of files.
var (
	consoleDev = linux.MakeDeviceID(linux.ConsoleMajor, linux.ConsoleMinor)
	rootDev    = linux.MakeDeviceID(0, 1)
)

// ConsoleFile is the console terminal.
type ConsoleFile struct {
	tty *console.TTY
}

// ConsolePath is the path the console is reachable at.
const ConsolePath = "/dev/console"

// NewConsoleFile opens the console.
func NewConsoleFile(tty *console.TTY, flags uint32) *FileDescription {
	return NewFileDescription(&ConsoleFile{tty: tty}, ConsolePath, flags)
}

// PRead implements FileImpl.PRead.
func (f *ConsoleFile) PRead(dst []byte, _ int64) (int, error) {
	return f.tty.Read(dst)
}

// Write implements FileImpl.Write.
func (f *ConsoleFile) Write(src []byte) (int, error) {
	return f.tty.Write(src)
}

// Stat implements FileImpl.Stat.
func (f *ConsoleFile) Stat() linux.Stat {
	return linux.Stat{
		Dev:     rootDev,
		Ino:     inode(ConsolePath),
		Mode:    linux.ModeCharacterDevice | 0620,
		Nlink:   1,
		Rdev:    consoleDev,
		Blksize: 1024,
	}
}

// Seekable implements FileImpl.Seekable.
func (*ConsoleFile) Seekable() bool { return false }

// Readiness implements FileImpl.Readiness. Reads block on the device, so
// the console is always reported ready.
func (*ConsoleFile) Readiness(mask int16) int16 {
	return mask & (linux.POLLIN | linux.POLLOUT)
}

// Release implements FileImpl.Release.
func (*ConsoleFile) Release() {}

// Ioctl implements FileImpl.Ioctl for the terminal commands.
func (f *ConsoleFile) Ioctl(t *Task, cmd uint32, arg hostarch.Addr) (uintptr, error) {
	switch cmd {
	case linux.TCGETS:
		termios := f.tty.Termios()
		_, err := t.CopyOut(arg, &termios)
		return 0, err

	case linux.TCSETS, linux.TCSETSW, linux.TCSETSF:
		var termios linux.Termios
		if _, err := t.CopyIn(arg, &termios); err != nil {
			return 0, err
		}
		if cmd == linux.TCSETSF {
			f.tty.Flush()
		}
		f.tty.SetTermios(termios)
		return 0, nil

	case linux.TIOCGWINSZ:
		ws := f.tty.WindowSize()
		_, err := t.CopyOut(arg, &ws)
		return 0, err

	case linux.TIOCSWINSZ:
		var ws linux.Winsize
		if _, err := t.CopyIn(arg, &ws); err != nil {
			return 0, err
		}
		f.tty.SetWindowSize(ws)
		return 0, nil

	case linux.TIOCGPGRP:
		pgid := f.tty.ForegroundProcessGroup()
		_, err := t.CopyOut(arg, &pgid)
		return 0, err

	case linux.TIOCSPGRP:
		var pgid int32
		if _, err := t.CopyIn(arg, &pgid); err != nil {
			return 0, err
		}
		if pgid != t.ProcessGroupID() {
			return 0, linuxerr.EPERM
		}
		f.tty.SetForegroundProcessGroup(pgid)
		return 0, nil

	default:
		return 0, linuxerr.ENOTTY
	}
}

// providerFile is a read-only file from the filesystem provider.
type providerFile struct {
	file fsprovider.File
	path string
}

// NewProviderFile wraps a file resolved at the absolute path p. The
// description owns f and closes it with the last reference.
func NewProviderFile(f fsprovider.File, p string, flags uint32) *FileDescription {
	return NewFileDescription(&providerFile{file: f, path: p}, p, flags)
}

// PRead implements FileImpl.PRead.
func (f *providerFile) PRead(dst []byte, offset int64) (int, error) {
	if fsprovider.IsDir(f.file) {
		return 0, linuxerr.EISDIR
	}
	if offset >= f.file.Size() {
		return 0, nil
	}
	n, err := f.file.ReadAt(dst, offset)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Write implements FileImpl.Write. Files are never opened for writing.
func (*providerFile) Write([]byte) (int, error) {
	return 0, linuxerr.EBADF
}

// Stat implements FileImpl.Stat.
func (f *providerFile) Stat() linux.Stat {
	size := f.file.Size()
	nlink := uint32(1)
	if fsprovider.IsDir(f.file) {
		nlink = 2
	}
	return linux.Stat{
		Dev:     rootDev,
		Ino:     inode(f.path),
		Mode:    f.file.Mode(),
		Nlink:   nlink,
		Size:    size,
		Blksize: hostarch.PageSize,
		Blocks:  (size + 511) / 512,
	}
}

// Seekable implements FileImpl.Seekable.
func (*providerFile) Seekable() bool { return true }

// Readiness implements FileImpl.Readiness.
func (*providerFile) Readiness(mask int16) int16 {
	return mask & (linux.POLLIN | linux.POLLOUT)
}

// Ioctl implements FileImpl.Ioctl.
func (*providerFile) Ioctl(*Task, uint32, hostarch.Addr) (uintptr, error) {
	return 0, linuxerr.ENOTTY
}

// Release implements FileImpl.Release.
func (f *providerFile) Release() {
	f.file.Close()
}
