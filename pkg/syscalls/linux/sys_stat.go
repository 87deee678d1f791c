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

// Fstat implements Linux syscall fstat(2).
func Fstat(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	statAddr := args[1].Pointer()

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}
	return 0, nil, copyOutStat(t, statAddr, file)
}

// Newfstatat implements Linux syscall newfstatat, which is used by stat(2)
// and lstat(2) on arm64.
func Newfstatat(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	dirfd := args[0].Int()
	pathAddr := args[1].Pointer()
	statAddr := args[2].Pointer()
	flags := args[3].Int()

	if flags&^(linux.AT_SYMLINK_NOFOLLOW|linux.AT_EMPTY_PATH) != 0 {
		return 0, nil, linuxerr.EINVAL
	}

	name, err := copyInPath(t, pathAddr)
	if err != nil {
		return 0, nil, err
	}
	if name == "" && flags&linux.AT_EMPTY_PATH != 0 {
		if dirfd == linux.AT_FDCWD {
			name = t.WorkingDirectory()
		} else {
			file := t.GetFile(dirfd)
			if file == nil {
				return 0, nil, linuxerr.EBADF
			}
			return 0, nil, copyOutStat(t, statAddr, file)
		}
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
	return 0, nil, copyOutStat(t, statAddr, file)
}

func copyOutStat(t *kernel.Task, addr hostarch.Addr, file *kernel.FileDescription) error {
	stat := file.Impl().Stat()
	_, err := t.CopyOut(addr, &stat)
	return err
}
