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
	"path"
	"strings"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/fsprovider"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/kernel"
)

// PATH_MAX, including the terminator.
const pathMax = 4096

// copyInPath copies a path argument.
func copyInPath(t *kernel.Task, addr hostarch.Addr) (string, error) {
	p, err := t.CopyInString(addr, pathMax-1)
	if err != nil {
		return "", err
	}
	return p, nil
}

// resolvePath makes p absolute, relative to dirfd when it is relative.
func resolvePath(t *kernel.Task, dirfd int32, p string) (string, error) {
	if p == "" {
		return "", linuxerr.ENOENT
	}
	if strings.HasPrefix(p, "/") {
		return fsprovider.Clean(p), nil
	}
	if dirfd == linux.AT_FDCWD {
		return fsprovider.Clean(path.Join(t.WorkingDirectory(), p)), nil
	}
	dir := t.GetFile(dirfd)
	if dir == nil {
		return "", linuxerr.EBADF
	}
	if dir.Impl().Stat().Mode&linux.FileTypeMask != linux.ModeDirectory {
		return "", linuxerr.ENOTDIR
	}
	return fsprovider.Clean(path.Join(dir.Path(), p)), nil
}

// openPath opens the file at the absolute path p.
func openPath(t *kernel.Task, p string, flags uint32) (*kernel.FileDescription, error) {
	if p == kernel.ConsolePath || p == "/dev/tty" {
		return kernel.NewConsoleFile(t.Kernel().Console(), flags), nil
	}
	f, err := t.Kernel().Provider().Resolve(p)
	if err != nil {
		if errors.Is(err, fsprovider.ErrNotFound) {
			if flags&linux.O_CREAT != 0 {
				return nil, linuxerr.EROFS
			}
			return nil, linuxerr.ENOENT
		}
		return nil, err
	}
	return kernel.NewProviderFile(f, p, flags), nil
}

// Openat implements Linux syscall openat(2).
func Openat(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	dirfd := args[0].Int()
	addr := args[1].Pointer()
	flags := args[2].Uint()

	name, err := copyInPath(t, addr)
	if err != nil {
		return 0, nil, err
	}
	p, err := resolvePath(t, dirfd, name)
	if err != nil {
		return 0, nil, err
	}
	file, err := openPath(t, p, flags)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	isDir := file.Impl().Stat().Mode&linux.FileTypeMask == linux.ModeDirectory
	if flags&linux.O_DIRECTORY != 0 && !isDir {
		return 0, nil, linuxerr.ENOTDIR
	}
	if _, ok := file.Impl().(*kernel.ConsoleFile); !ok {
		if flags&linux.O_ACCMODE != linux.O_RDONLY || flags&(linux.O_CREAT|linux.O_TRUNC) != 0 {
			if isDir {
				return 0, nil, linuxerr.EISDIR
			}
			return 0, nil, linuxerr.EROFS
		}
	}

	fd, err := t.NewFDFrom(0, file, kernel.FDFlags{CloseOnExec: flags&linux.O_CLOEXEC != 0})
	if err != nil {
		return 0, nil, err
	}
	return uintptr(fd), nil, nil
}

// Close implements Linux syscall close(2).
func Close(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	if !t.FDTable().Remove(fd) {
		return 0, nil, linuxerr.EBADF
	}
	return 0, nil, nil
}

// Dup implements Linux syscall dup(2).
func Dup(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}
	newFD, err := t.NewFDFrom(0, file, kernel.FDFlags{})
	if err != nil {
		return 0, nil, linuxerr.EMFILE
	}
	return uintptr(newFD), nil, nil
}

// Dup3 implements Linux syscall dup3(2).
func Dup3(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	oldfd := args[0].Int()
	newfd := args[1].Int()
	flags := args[2].Uint()

	if oldfd == newfd {
		return 0, nil, linuxerr.EINVAL
	}
	if flags&^linux.O_CLOEXEC != 0 {
		return 0, nil, linuxerr.EINVAL
	}

	oldFile := t.GetFile(oldfd)
	if oldFile == nil {
		return 0, nil, linuxerr.EBADF
	}
	if err := t.FDTable().NewFDAt(newfd, oldFile, kernel.FDFlags{CloseOnExec: flags&linux.O_CLOEXEC != 0}); err != nil {
		return 0, nil, err
	}
	return uintptr(newfd), nil, nil
}

// Fcntl implements Linux syscall fcntl(2).
func Fcntl(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	cmd := args[1].Int()

	file, flags := t.FDTable().Get(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}

	switch cmd {
	case linux.F_DUPFD, linux.F_DUPFD_CLOEXEC:
		minfd := args[2].Int()
		fd, err := t.NewFDFrom(minfd, file, kernel.FDFlags{CloseOnExec: cmd == linux.F_DUPFD_CLOEXEC})
		if err != nil {
			return 0, nil, err
		}
		return uintptr(fd), nil, nil
	case linux.F_GETFD:
		return uintptr(flags.ToLinuxFDFlags()), nil, nil
	case linux.F_SETFD:
		flags := args[2].Uint()
		err := t.FDTable().SetFlags(fd, kernel.FDFlags{
			CloseOnExec: flags&linux.FD_CLOEXEC != 0,
		})
		return 0, nil, err
	case linux.F_GETFL:
		return uintptr(file.StatusFlags()), nil, nil
	case linux.F_SETFL:
		file.SetStatusFlags(args[2].Uint())
		return 0, nil, nil
	default:
		// Everything else is not yet supported.
		return 0, nil, linuxerr.EINVAL
	}
}

// Ioctl implements Linux syscall ioctl(2).
func Ioctl(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	cmd := args[1].Uint()
	arg := args[2].Pointer()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}

	// Shared flags between file and socket.
	switch cmd {
	case linux.FIONCLEX:
		t.FDTable().SetFlags(fd, kernel.FDFlags{CloseOnExec: false})
		return 0, nil, nil

	case linux.FIOCLEX:
		t.FDTable().SetFlags(fd, kernel.FDFlags{CloseOnExec: true})
		return 0, nil, nil

	case linux.FIONBIO:
		var set int32
		if _, err := t.CopyIn(arg, &set); err != nil {
			return 0, nil, err
		}
		flags := file.StatusFlags()
		if set != 0 {
			flags |= linux.O_NONBLOCK
		} else {
			flags &^= linux.O_NONBLOCK
		}
		file.SetStatusFlags(flags)
		return 0, nil, nil
	}

	ret, err := file.Impl().Ioctl(t, cmd, arg)
	return ret, nil, err
}

// Getcwd implements Linux syscall getcwd(2).
func Getcwd(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	size := args[1].SizeT()

	s := t.WorkingDirectory()
	// Note this is >= because we need a terminator.
	if uint(len(s)) >= size {
		return 0, nil, linuxerr.ERANGE
	}

	// Construct a byte slice containing a NUL terminator.
	buf := make([]byte, len(s)+1)
	copy(buf, s)

	// Write the pathname slice.
	n, err := t.CopyOutBytes(addr, buf)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(n), nil, nil
}

// Faccessat implements Linux syscall faccessat(2).
func Faccessat(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	dirfd := args[0].Int()
	addr := args[1].Pointer()
	mode := args[2].ModeT()

	if mode&^(linux.R_OK|linux.W_OK|linux.X_OK) != 0 {
		return 0, nil, linuxerr.EINVAL
	}
	name, err := copyInPath(t, addr)
	if err != nil {
		return 0, nil, err
	}
	p, err := resolvePath(t, dirfd, name)
	if err != nil {
		return 0, nil, err
	}
	file, err := openPath(t, p, linux.O_RDONLY)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	if _, ok := file.Impl().(*kernel.ConsoleFile); ok {
		if mode&linux.X_OK != 0 {
			return 0, nil, linuxerr.EACCES
		}
		return 0, nil, nil
	}
	if mode&linux.W_OK != 0 {
		return 0, nil, linuxerr.EROFS
	}
	perms := file.Impl().Stat().Mode
	if mode&linux.R_OK != 0 && perms&0444 == 0 {
		return 0, nil, linuxerr.EACCES
	}
	if mode&linux.X_OK != 0 && perms&0111 == 0 {
		return 0, nil, linuxerr.EACCES
	}
	return 0, nil, nil
}
