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
	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/kernel"
)

// Write implements linux syscall write(2).
func Write(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}

	// Check that the file is writable.
	if !file.IsWritable() {
		return 0, nil, linuxerr.EBADF
	}

	// Check that the size is legitimate.
	if int(size) < 0 {
		return 0, nil, linuxerr.EINVAL
	}

	n, err := write(t, file, addr, size)
	return uintptr(n), nil, err
}

// writeChunk bounds the kernel buffer one write copies user data through.
const writeChunk = 64 << 10

// write writes the user buffer at addr, a chunk at a time. A fault or a
// short write after some bytes went out ends the call with that count.
func write(t *kernel.Task, file *kernel.FileDescription, addr hostarch.Addr, size uint) (int, error) {
	if size > linux.MAX_RW_COUNT {
		size = linux.MAX_RW_COUNT
	}
	if size == 0 {
		return 0, nil
	}
	buf := make([]byte, min(size, writeChunk))
	total := 0
	for uint(total) < size {
		chunk := buf[:min(size-uint(total), uint(len(buf)))]
		n, err := t.CopyInBytes(addr+hostarch.Addr(total), chunk)
		if n > 0 {
			w, werr := file.Write(chunk[:n])
			total += w
			if werr != nil || w < n {
				if total == 0 {
					return 0, linuxerr.EIO
				}
				return total, nil
			}
		}
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}
	}
	return total, nil
}

// Writev implements linux syscall writev(2).
func Writev(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	iovcnt := args[2].Int()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}

	// Check that the file is writable.
	if !file.IsWritable() {
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
		n, err := write(t, file, hostarch.Addr(iov.Base), uint(iov.Len))
		total += uintptr(n)
		if err != nil {
			if total > 0 {
				break
			}
			return 0, nil, err
		}
		if uint64(n) < iov.Len {
			break
		}
	}
	return total, nil, nil
}

// Lseek implements linux syscall lseek(2).
func Lseek(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	offset := args[1].Int64()
	whence := args[2].Int()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}

	off, err := file.Seek(offset, int(whence))
	return uintptr(off), nil, err
}

// Ppoll implements linux syscall ppoll(2).
//
// Console reads block on the device, so every open file is ready for the
// events asked for and ppoll never sleeps.
func Ppoll(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pfdAddr := args[0].Pointer()
	nfds := args[1].Uint()

	if uint64(nfds) > uint64(t.Limit(linux.RLIMIT_NOFILE).Cur) {
		return 0, nil, linuxerr.EINVAL
	}
	if nfds == 0 {
		return 0, nil, nil
	}

	pfds := make([]linux.PollFD, nfds)
	if _, err := t.CopyIn(pfdAddr, pfds); err != nil {
		return 0, nil, err
	}
	ready := 0
	for i := range pfds {
		pfd := &pfds[i]
		pfd.REvents = 0
		if pfd.FD < 0 {
			continue
		}
		file := t.GetFile(pfd.FD)
		if file == nil {
			pfd.REvents = linux.POLLNVAL
		} else {
			pfd.REvents = file.Impl().Readiness(pfd.Events)
		}
		if pfd.REvents != 0 {
			ready++
		}
	}
	if _, err := t.CopyOut(pfdAddr, pfds); err != nil {
		return 0, nil, err
	}
	return uintptr(ready), nil, nil
}
