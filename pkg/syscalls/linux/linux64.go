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

// Package linux provides the arm64 syscall table and its handlers.
package linux

import (
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/kernel"
	"kestrel.dev/kestrel/pkg/syscalls"
)

const (
	// LinuxSysname is the OS name advertised by kestrel.
	LinuxSysname = "Linux"

	// LinuxRelease is the Linux release version number advertised by kestrel.
	LinuxRelease = "6.6.0"

	// LinuxVersion is the version info advertised by kestrel.
	LinuxVersion = "#1 SMP Sun Jan 10 15:06:54 PST 2016"
)

// ARM64 is a table of Linux arm64 syscall API with the corresponding syscall
// numbers.
var ARM64 = &kernel.SyscallTable{
	Arch: "arm64",
	Version: kernel.Version{
		Sysname: LinuxSysname,
		Release: LinuxRelease,
		Version: LinuxVersion,
	},
	Table: map[uintptr]kernel.Syscall{
		17:  syscalls.PartiallySupported("getcwd", Getcwd, "The working directory is always the root.", nil),
		23:  syscalls.Supported("dup", Dup),
		24:  syscalls.Supported("dup3", Dup3),
		25:  syscalls.PartiallySupported("fcntl", Fcntl, "Only F_DUPFD, F_DUPFD_CLOEXEC, F_GETFD, F_SETFD, F_GETFL and F_SETFL are implemented.", nil),
		29:  syscalls.PartiallySupported("ioctl", Ioctl, "Only terminal ioctls are implemented for the console.", nil),
		48:  syscalls.Supported("faccessat", Faccessat),
		56:  syscalls.PartiallySupported("openat", Openat, "Files are read-only; write access fails with EROFS.", nil),
		57:  syscalls.Supported("close", Close),
		62:  syscalls.Supported("lseek", Lseek),
		63:  syscalls.Supported("read", Read),
		64:  syscalls.Supported("write", Write),
		65:  syscalls.Supported("readv", Readv),
		66:  syscalls.Supported("writev", Writev),
		67:  syscalls.Supported("pread64", Pread64),
		73:  syscalls.PartiallySupported("ppoll", Ppoll, "Every file is reported ready for the requested events; the timeout and signal mask are ignored.", nil),
		78:  syscalls.Error("readlinkat", linuxerr.EINVAL, "There are no symbolic links visible to the program.", nil),
		79:  syscalls.Supported("newfstatat", Newfstatat),
		80:  syscalls.Supported("fstat", Fstat),
		93:  syscalls.Supported("exit", Exit),
		94:  syscalls.Supported("exit_group", ExitGroup),
		96:  syscalls.Supported("set_tid_address", SetTidAddress),
		99:  syscalls.Supported("set_robust_list", SetRobustList),
		113: syscalls.Supported("clock_gettime", ClockGettime),
		129: syscalls.PartiallySupported("kill", Kill, "Only the calling process can be signaled; signals take their default action.", nil),
		134: syscalls.PartiallySupported("rt_sigaction", RtSigaction, "Actions are recorded but handlers are never run.", nil),
		135: syscalls.Supported("rt_sigprocmask", RtSigprocmask),
		154: syscalls.PartiallySupported("setpgid", Setpgid, "The only process group is the caller's own.", nil),
		155: syscalls.Supported("getpgid", Getpgid),
		160: syscalls.Supported("uname", Uname),
		172: syscalls.Supported("getpid", Getpid),
		173: syscalls.Supported("getppid", Getppid),
		174: syscalls.Supported("getuid", Getuid),
		175: syscalls.Supported("geteuid", Geteuid),
		176: syscalls.Supported("getgid", Getgid),
		177: syscalls.Supported("getegid", Getegid),
		178: syscalls.Supported("gettid", Gettid),
		214: syscalls.Supported("brk", Brk),
		215: syscalls.Supported("munmap", Munmap),
		220: syscalls.Error("clone", linuxerr.ENOSYS, "Process creation is not supported.", nil),
		221: syscalls.Error("execve", linuxerr.ENOSYS, "Process creation is not supported.", nil),
		222: syscalls.PartiallySupported("mmap", Mmap, "Only anonymous mappings are supported; file mappings fail with ENODEV.", nil),
		226: syscalls.Supported("mprotect", Mprotect),
		260: syscalls.Error("wait4", linuxerr.ENOSYS, "Process creation is not supported.", nil),
		261: syscalls.PartiallySupported("prlimit64", Prlimit64, "Only the calling process is supported; limits are reported but not enforced.", nil),
		278: syscalls.Supported("getrandom", GetRandom),
		293: syscalls.Error("rseq", linuxerr.ENOSYS, "Restartable sequences are not supported.", nil),
		435: syscalls.Error("clone3", linuxerr.ENOSYS, "Process creation is not supported.", nil),
	},
	Missing: func(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
		syscalls.UnimplementedEvent(t)
		return 0, linuxerr.ENOSYS
	},
}

func init() {
	ARM64.Init()
}
