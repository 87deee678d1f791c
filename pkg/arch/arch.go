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

// Package arch describes the aarch64 user register state and the Linux
// calling conventions built on it.
package arch

import (
	"fmt"
	"strings"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/hostarch"
)

const (
	// SyscallWidth is the width of the svc instruction.
	SyscallWidth = 4

	// StackAlignment is the required alignment of SP at function entry.
	StackAlignment = 16
)

// Registers represents the CPU registers for this architecture.
type Registers struct {
	linux.PtraceRegs

	// TPIDR_EL0 is the user thread pointer.
	TPIDR_EL0 uint64
}

// Context is the user register context of the single task.
type Context struct {
	// Regs are the general purpose registers.
	Regs Registers
}

// IP returns the current instruction pointer.
func (c *Context) IP() uintptr {
	return uintptr(c.Regs.Pc)
}

// SetIP sets the current instruction pointer.
func (c *Context) SetIP(value uintptr) {
	c.Regs.Pc = uint64(value)
}

// Stack returns the current stack pointer.
func (c *Context) Stack() uintptr {
	return uintptr(c.Regs.Sp)
}

// SetStack sets the current stack pointer.
func (c *Context) SetStack(value uintptr) {
	c.Regs.Sp = uint64(value)
}

// SyscallNo returns the syscall number according to the 64-bit convention.
func (c *Context) SyscallNo() uintptr {
	return uintptr(c.Regs.Regs[8])
}

// SyscallArgs provides syscall arguments according to the 64-bit convention.
// R0...R5 carry the arguments and R8 the number.
func (c *Context) SyscallArgs() SyscallArguments {
	return SyscallArguments{
		SyscallArgument{Value: uintptr(c.Regs.Regs[0])},
		SyscallArgument{Value: uintptr(c.Regs.Regs[1])},
		SyscallArgument{Value: uintptr(c.Regs.Regs[2])},
		SyscallArgument{Value: uintptr(c.Regs.Regs[3])},
		SyscallArgument{Value: uintptr(c.Regs.Regs[4])},
		SyscallArgument{Value: uintptr(c.Regs.Regs[5])},
	}
}

// SetReturn sets the syscall return value in R0.
func (c *Context) SetReturn(value uintptr) {
	c.Regs.Regs[0] = uint64(value)
}

// Return returns the current syscall return value.
func (c *Context) Return() uintptr {
	return uintptr(c.Regs.Regs[0])
}

// Reset clears all registers and sets the entry state of a new image.
func (c *Context) Reset(entry, sp hostarch.Addr) {
	c.Regs = Registers{}
	c.Regs.Pc = uint64(entry)
	c.Regs.Sp = uint64(sp)
	c.Regs.Pstate = linux.PSR_MODE_EL0t
}

// String formats the register file as a dump, four registers per line.
func (r *Registers) String() string {
	var b strings.Builder
	for i, v := range r.Regs {
		fmt.Fprintf(&b, "x%-2d %016x", i, v)
		if i%4 == 3 {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
	}
	fmt.Fprintf(&b, "sp  %016x\npc  %016x pstate %08x", r.Sp, r.Pc, r.Pstate)
	return b.String()
}

// SyscallArgument is an argument supplied to a syscall implementation. The
// methods used to access the arguments are named after the ***C type name*** and
// they convert to the closest Go type available. For example, Int() refers to a
// 32-bit signed integer argument represented in Go as an int32.
//
// Using the accessor methods guarantees that the conversion between types is
// correct, taking into account size and signedness (i.e., zero-extension vs
// signed-extension).
type SyscallArgument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uintptr
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [6]SyscallArgument

// Pointer returns the hostarch.Addr representation of a pointer argument.
func (a SyscallArgument) Pointer() hostarch.Addr {
	return hostarch.Addr(a.Value)
}

// Int returns the int32 representation of a 32-bit signed integer argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint returns the uint32 representation of a 32-bit unsigned integer argument.
func (a SyscallArgument) Uint() uint32 {
	return uint32(a.Value)
}

// Int64 returns the int64 representation of a 64-bit signed integer argument.
func (a SyscallArgument) Int64() int64 {
	return int64(a.Value)
}

// Uint64 returns the uint64 representation of a 64-bit unsigned integer argument.
func (a SyscallArgument) Uint64() uint64 {
	return uint64(a.Value)
}

// SizeT returns the uint representation of a size_t argument.
func (a SyscallArgument) SizeT() uint {
	return uint(a.Value)
}

// ModeT returns the int representation of a mode_t argument.
func (a SyscallArgument) ModeT() uint {
	return uint(uint16(a.Value))
}
