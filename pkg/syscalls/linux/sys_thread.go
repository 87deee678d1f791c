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
	"kestrel.dev/kestrel/pkg/kernel"
)

// Exit implements linux syscall exit(2).
func Exit(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	status := args[0].Int()
	return 0, t.Exit(int(status)), nil
}

// ExitGroup implements linux syscall exit_group(2). With a single thread it
// is the same as exit.
func ExitGroup(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	status := args[0].Int()
	return 0, t.Exit(int(status)), nil
}

// SetTidAddress implements linux syscall set_tid_address(2).
func SetTidAddress(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()

	// Always succeed, return caller's tid.
	t.SetClearTID(uint64(addr))
	return uintptr(t.ThreadID()), nil, nil
}

// SetRobustList implements linux syscall set_robust_list(2).
func SetRobustList(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	head := args[0].Pointer()
	length := args[1].SizeT()

	if length != uint(linux.SizeOfRobustListHead) {
		return 0, nil, linuxerr.EINVAL
	}
	t.SetRobustList(uint64(head))
	return 0, nil, nil
}

// Getpid implements linux syscall getpid(2).
func Getpid(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.ProcessID()), nil, nil
}

// Getppid implements linux syscall getppid(2).
func Getppid(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.ParentProcessID()), nil, nil
}

// Gettid implements linux syscall gettid(2).
func Gettid(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.ThreadID()), nil, nil
}

// The program runs as root.
const (
	rootUID = 0
	rootGID = 0
)

// Getuid implements the Linux syscall getuid.
func Getuid(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return rootUID, nil, nil
}

// Geteuid implements the Linux syscall geteuid.
func Geteuid(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return rootUID, nil, nil
}

// Getgid implements the Linux syscall getgid.
func Getgid(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return rootGID, nil, nil
}

// Getegid implements the Linux syscall getegid.
func Getegid(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return rootGID, nil, nil
}

// isSelf returns true if pid names the calling process.
func isSelf(t *kernel.Task, pid int32) bool {
	return pid == 0 || pid == t.ProcessID()
}

// Setpgid implements the Linux syscall setpgid.
func Setpgid(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := args[0].Int()
	pgid := args[1].Int()

	if pgid < 0 {
		return 0, nil, linuxerr.EINVAL
	}
	if !isSelf(t, pid) {
		return 0, nil, linuxerr.ESRCH
	}
	if pgid == 0 {
		pgid = t.ProcessID()
	}
	return 0, nil, t.SetProcessGroupID(pgid)
}

// Getpgid implements the Linux syscall getpgid.
func Getpgid(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := args[0].Int()
	if !isSelf(t, pid) {
		return 0, nil, linuxerr.ESRCH
	}
	return uintptr(t.ProcessGroupID()), nil, nil
}

// Kill implements linux syscall kill(2).
func Kill(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := args[0].Int()
	sig := int(args[1].Int())

	if sig < 0 || sig > linux.SignalMaximum {
		return 0, nil, linuxerr.EINVAL
	}
	// pid -1 signals every process the caller may signal, and -pgid a
	// process group; both reach only the caller here.
	if !isSelf(t, pid) && pid != -1 && pid != -t.ProcessGroupID() {
		return 0, nil, linuxerr.ESRCH
	}
	if sig == 0 {
		return 0, nil, nil
	}
	return 0, t.SendSignal(sig), nil
}
