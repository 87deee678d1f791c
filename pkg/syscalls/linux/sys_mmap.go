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
	"kestrel.dev/kestrel/pkg/mm"
)

// Brk implements linux syscall brk(2).
func Brk(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	// Linux reports a failed brk by returning the unchanged break. Here a
	// failed growth is -ENOMEM and the break stays where it was; a query or
	// a request below the heap start still returns the current break.
	addr, err := t.MemoryManager().Brk(args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}
	return uintptr(addr), nil, nil
}

// protToAccessType converts PROT_* bits.
func protToAccessType(prot uint32) (hostarch.AccessType, error) {
	if prot&^(linux.PROT_READ|linux.PROT_WRITE|linux.PROT_EXEC) != 0 {
		return hostarch.NoAccess, linuxerr.EINVAL
	}
	return hostarch.AccessType{
		Read:    linux.PROT_READ&prot != 0,
		Write:   linux.PROT_WRITE&prot != 0,
		Execute: linux.PROT_EXEC&prot != 0,
	}, nil
}

// Mmap implements Linux syscall mmap(2).
func Mmap(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := args[1].Uint64()
	prot := args[2].Uint()
	flags := args[3].Uint()
	fd := args[4].Int()
	offset := args[5].Uint64()

	fixed := flags&linux.MAP_FIXED != 0
	private := flags&linux.MAP_PRIVATE != 0
	shared := flags&linux.MAP_SHARED != 0
	anon := flags&linux.MAP_ANONYMOUS != 0
	noreplace := flags&linux.MAP_FIXED_NOREPLACE != 0

	// Require exactly one of MAP_PRIVATE and MAP_SHARED.
	if private == shared {
		return 0, nil, linuxerr.EINVAL
	}
	if length == 0 {
		return 0, nil, linuxerr.EINVAL
	}
	if offset%hostarch.PageSize != 0 {
		return 0, nil, linuxerr.EINVAL
	}
	if !anon {
		if t.GetFile(fd) == nil {
			return 0, nil, linuxerr.EBADF
		}
		return 0, nil, linuxerr.ENODEV
	}
	perms, err := protToAccessType(prot)
	if err != nil {
		return 0, nil, err
	}

	opts := mm.MMapOpts{
		Length:    length,
		Addr:      addr,
		Fixed:     fixed || noreplace,
		NoReplace: noreplace,
		Perms:     perms,
		Precommit: flags&linux.MAP_POPULATE != 0,
		GrowsDown: flags&linux.MAP_GROWSDOWN != 0,
	}
	rv, err := t.MemoryManager().MMap(opts)
	return uintptr(rv), nil, err
}

// Munmap implements linux syscall munmap(2).
func Munmap(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, t.MemoryManager().MUnmap(args[0].Pointer(), args[1].Uint64())
}

// Mprotect implements linux syscall mprotect(2).
func Mprotect(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	length := args[1].Uint64()
	perms, err := protToAccessType(args[2].Uint())
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, t.MemoryManager().MProtect(args[0].Pointer(), length, perms)
}
