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

import (
	"errors"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/console"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/kernel"
)

// consoleReadMax bounds the buffer of a console read, which never returns
// more than one line.
const consoleReadMax = 4096

// readBufferSize returns the size of the kernel buffer for a read of size
// bytes at offset.
func readBufferSize(file *kernel.FileDescription, size uint, offset int64) int {
	if size > linux.MAX_RW_COUNT {
		size = linux.MAX_RW_COUNT
	}
	if !file.Impl().Seekable() {
		return int(min(size, consoleReadMax))
	}
	remaining := file.Impl().Stat().Size - offset
	if remaining < 0 {
		remaining = 0
	}
	return int(min(uint64(size), uint64(remaining)))
}

// handleIOError converts the error of a read on the console. ^C kills the
// task with SIGINT unless it is ignored, in which case the read fails with
// EINTR.
func handleIOError(t *kernel.Task, err error) (*kernel.SyscallControl, error) {
	if errors.Is(err, console.ErrInterrupt) {
		if ctrl := t.SendSignal(linux.SIGINT); ctrl != nil {
			return ctrl, nil
		}
		return nil, linuxerr.EINTR
	}
	return nil, err
}

// Read implements linux syscall read(2).
func Read(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}

	// Check that the file is readable.
	if !file.IsReadable() {
		return 0, nil, linuxerr.EBADF
	}

	// Check that the size is legitimate.
	if int(size) < 0 {
		return 0, nil, linuxerr.EINVAL
	}

	n, err := read(t, file, addr, size)
	if err != nil {
		ctrl, err := handleIOError(t, err)
		return 0, ctrl, err
	}
	return uintptr(n), nil, nil
}

// read reads at the file offset into the user buffer at addr.
func read(t *kernel.Task, file *kernel.FileDescription, addr hostarch.Addr, size uint) (int, error) {
	// Seekable reads are sized against the current offset.
	var offset int64
	if file.Impl().Seekable() {
		off, err := file.Seek(0, linux.SEEK_CUR)
		if err != nil {
			return 0, err
		}
		offset = off
	}
	buf := make([]byte, readBufferSize(file, size, offset))
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := file.Read(buf)
	if err != nil {
		return 0, err
	}
	return t.CopyOutBytes(addr, buf[:n])
}

// Pread64 implements linux syscall pread64(2).
func Pread64(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()
	offset := args[3].Int64()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}

	// Check that the offset is legitimate and does not overflow.
	if offset < 0 || offset+int64(size) < 0 {
		return 0, nil, linuxerr.EINVAL
	}

	// Check that the file is readable.
	if !file.IsReadable() {
		return 0, nil, linuxerr.EBADF
	}

	// Check that the size is legitimate.
	if int(size) < 0 {
		return 0, nil, linuxerr.EINVAL
	}

	// Check that the file is seekable.
	if !file.Impl().Seekable() {
		return 0, nil, linuxerr.ESPIPE
	}

	buf := make([]byte, readBufferSize(file, size, offset))
	n, err := file.PRead(buf, offset)
	if err != nil {
		return 0, nil, err
	}
	n, err = t.CopyOutBytes(addr, buf[:n])
	return uintptr(n), nil, err
}

// copyInIovecs copies in the iovec array of readv and writev.
func copyInIovecs(t *kernel.Task, addr hostarch.Addr, iovcnt int32) ([]linux.IOVec, error) {
	if iovcnt < 0 || iovcnt > linux.UIO_MAXIOV {
		return nil, linuxerr.EINVAL
	}
	iovs := make([]linux.IOVec, iovcnt)
	if iovcnt == 0 {
		return iovs, nil
	}
	if _, err := t.CopyIn(addr, iovs); err != nil {
		return nil, err
	}
	var total uint64
	for _, iov := range iovs {
		if int64(iov.Len) < 0 {
			return nil, linuxerr.EINVAL
		}
		total += iov.Len
		if total > linux.MAX_RW_COUNT {
			return nil, linuxerr.EINVAL
		}
	}
	return iovs, nil
}

// Readv implements linux syscall readv(2).
func Readv(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	iovcnt := args[2].Int()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}

	// Check that the file is readable.
	if !file.IsReadable() {
		return 0, nil, linuxerr.EBADF
	}

	iovs, err := copyInIovecs(t, addr, iovcnt)
	if err != nil {
		return 0, nil, err
	}
	var total uintptr
	for _, iov := range iovs {
		if iov.Len == 0 {
			continue
		}
		n, err := read(t, file, hostarch.Addr(iov.Base), uint(iov.Len))
		total += uintptr(n)
		if err != nil {
			if total > 0 {
				break
			}
			ctrl, err := handleIOError(t, err)
			return 0, ctrl, err
		}
		// Stop at a short read: the console returns one line at a
		// time and a file ends.
		if uint64(n) < iov.Len {
			break
		}
	}
	return total, nil, nil
}
