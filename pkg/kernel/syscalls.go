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
	"fmt"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
)

// maxSyscallNum is the highest syscall number the lookup slice covers.
// Numbers above it go through the map.
const maxSyscallNum = 2000

// SyscallSupportLevel is a syscall support levels.
type SyscallSupportLevel int

// String returns a human readable representation of the support level.
func (l SyscallSupportLevel) String() string {
	switch l {
	case SupportUnimplemented:
		return "Unimplemented"
	case SupportPartial:
		return "Partial Support"
	case SupportFull:
		return "Full Support"
	default:
		return "Undocumented"
	}
}

const (
	// SupportUndocumented indicates the syscall is not documented yet.
	SupportUndocumented = iota

	// SupportUnimplemented indicates the syscall is unimplemented.
	SupportUnimplemented

	// SupportPartial indicates the syscall is partially supported.
	SupportPartial

	// SupportFull indicates the syscall is fully supported.
	SupportFull
)

// SyscallControl is returned by syscalls to control the behavior of
// Task.doSyscall.
type SyscallControl struct {
	// next is the state the task goroutine should switch to. If next is
	// nil, the task goroutine should continue to run the application.
	next taskRunState
}

var (
	// CtrlDoExit is returned by the implementations of the exit and
	// exit_group syscalls to enter the task exit path directly, skipping
	// the return value update.
	CtrlDoExit = &SyscallControl{next: (*runExit)(nil)}
)

// SyscallFn is a syscall implementation.
type SyscallFn func(t *Task, args arch.SyscallArguments) (uintptr, *SyscallControl, error)

// MissingFn is a syscall to be called when an implementation is missing.
type MissingFn func(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error)

// Syscall includes the syscall implementation and compatibility information.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation of the syscall.
	Fn SyscallFn

	// SupportLevel is the level of support implemented.
	SupportLevel SyscallSupportLevel

	// Note describes the compatibility of the syscall.
	Note string

	// URLs is set of URLs to any relevant bugs or issues.
	URLs []string
}

// Version defines the version of the emulated kernel.
type Version struct {
	// Sysname is the name reported by uname.
	Sysname string

	// Release is the release reported by uname.
	Release string

	// Version is the version reported by uname.
	Version string
}

// SyscallTable is a lookup table of system calls.
type SyscallTable struct {
	// Arch is the architecture that this syscall table targets.
	Arch string

	// The OS version that this syscall table implements.
	Version Version

	// Table is the collection of functions.
	Table map[uintptr]Syscall

	// lookup is a fixed-size array that holds the syscalls (indexed by
	// their numbers). It is used for fast look ups.
	lookup []SyscallFn

	// Missing is to be called when a syscall is not found in Table.
	Missing MissingFn
}

// Init initializes the system call table. It is idempotent.
//
// This should be called once the table is complete, before it is handed to
// a Kernel.
func (s *SyscallTable) Init() {
	if s.lookup != nil {
		return
	}
	if s.Table == nil {
		// Ensure Table is non-nil.
		s.Table = make(map[uintptr]Syscall)
	}

	max := uintptr(0)
	for num := range s.Table {
		if num > max {
			max = num
		}
	}
	if max > maxSyscallNum {
		max = maxSyscallNum
	}
	s.lookup = make([]SyscallFn, max+1)
	for num, sc := range s.Table {
		if num <= max {
			s.lookup[num] = sc.Fn
		}
	}

	// Ensure Missing is non-nil.
	if s.Missing == nil {
		s.Missing = func(*Task, uintptr, arch.SyscallArguments) (uintptr, error) {
			return 0, linuxerr.ENOSYS
		}
	}
}

// Lookup returns the syscall implementation, if one exists.
func (s *SyscallTable) Lookup(sysno uintptr) SyscallFn {
	if sysno < uintptr(len(s.lookup)) {
		return s.lookup[sysno]
	}
	return s.mapLookup(sysno)
}

func (s *SyscallTable) mapLookup(sysno uintptr) SyscallFn {
	if sc, ok := s.Table[sysno]; ok {
		return sc.Fn
	}
	return nil
}

// LookupName looks up a syscall name.
func (s *SyscallTable) LookupName(sysno uintptr) string {
	if sc, ok := s.Table[sysno]; ok {
		return sc.Name
	}
	return fmt.Sprintf("sys_%d", sysno)
}

// LookupNo looks up a syscall number by name.
func (s *SyscallTable) LookupNo(name string) (uintptr, error) {
	for i, syscall := range s.Table {
		if syscall.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("syscall %q not found", name)
}
