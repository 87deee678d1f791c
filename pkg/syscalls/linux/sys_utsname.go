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
	"kestrel.dev/kestrel/pkg/kernel"
)

const (
	// Hostname is reported as the nodename by uname(2).
	Hostname = "kestrel"

	machineName = "aarch64"
	domainName  = "(none)"
)

// Uname implements linux syscall uname.
func Uname(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	version := t.Kernel().SyscallTable().Version

	var u linux.UtsName
	linux.SetUtsField(&u.Sysname, version.Sysname)
	linux.SetUtsField(&u.Nodename, Hostname)
	linux.SetUtsField(&u.Release, version.Release)
	linux.SetUtsField(&u.Version, version.Version)
	linux.SetUtsField(&u.Machine, machineName)
	linux.SetUtsField(&u.Domainname, domainName)

	va := args[0].Pointer()
	_, err := t.CopyOut(va, &u)
	return 0, nil, err
}
