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

//go:build kestrel_metal && arm64

// Package metal is a Platform that runs user code on the CPU at EL0.
//
// The kernel runs at EL1 in the TTBR1 half with its own vector table
// installed. Switch loads the user page tables into TTBR0, restores the
// user registers and returns to EL0. The exception that ends the run comes
// back through the vector table, which saves the user registers and resumes
// the kernel at the return of Switch.
//
// Interrupts stay masked at EL0, so a program that never traps holds the
// core until it does.
//
// The package also boots the machine. _kestrel_start turns the MMU on,
// moves to the linear map and enters the Go runtime as if it were a Linux
// process. The runtime then runs at EL1 with its heap in TTBR0, and its
// system calls and page faults are served by package rtsys from the same
// vector table.
package metal

import (
	"context"
	"time"

	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/physmem"
	"kestrel.dev/kestrel/pkg/platform"
	"kestrel.dev/kestrel/pkg/ring0"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// Name is the registered name of the platform.
const Name = "metal"

// PSCI function IDs, SMC32 calling convention.
const (
	psciSystemOff   = 0x8400_0008
	psciSystemReset = 0x8400_0009
)

// Metal implements platform.Platform.
type Metal struct {
	mem physmem.Memory

	// freq is the generic timer frequency in Hz.
	freq  uint64
	start uint64
}

// New returns the platform over mem. The exception vectors are installed by
// the boot code.
func New(mem physmem.Memory) *Metal {
	return &Metal{
		mem:   mem,
		freq:  readCNTFRQ(),
		start: readCNTVCT(),
	}
}

func init() {
	platform.Register(Name, func(opts platform.Options) (platform.Platform, error) {
		return New(opts.Memory), nil
	})
}

// Memory implements platform.Platform.Memory.
func (m *Metal) Memory() physmem.Memory {
	return m.mem
}

// HWCap implements platform.Platform.HWCap.
func (m *Metal) HWCap() uint64 {
	return hwcap
}

// Now implements platform.Platform.Now.
func (m *Metal) Now() time.Duration {
	return ticksToDuration(readCNTVCT()-m.start, m.freq)
}

// BootTime implements platform.Platform.BootTime. There is no wall clock.
func (m *Metal) BootTime() time.Time {
	return time.Time{}
}

// PowerOff implements platform.Platform.PowerOff. It only returns if the
// firmware refuses.
func (m *Metal) PowerOff(code int) {
	log.Infof("Power off with status %d", code)
	ret := hvc(psciSystemOff, 0, 0, 0)
	log.Warningf("PSCI SYSTEM_OFF returned %d", int32(ret))
}

// Reset asks the firmware to reboot the machine.
func (m *Metal) Reset() {
	ret := hvc(psciSystemReset, 0, 0, 0)
	log.Warningf("PSCI SYSTEM_RESET returned %d", int32(ret))
}

// ActivateKernel implements platform.KernelActivator.ActivateKernel.
func (m *Metal) ActivateKernel(pt *pagetables.PageTables) {
	log.Infof("Installing kernel tables at %v", pt.Root())
	setTTBR1(pt.TTBR())
}

// Switch implements ring0.Switcher.Switch.
func (m *Metal) Switch(ctx context.Context, opts *ring0.SwitchOpts) (ring0.Trap, error) {
	if err := ctx.Err(); err != nil {
		return ring0.Trap{}, err
	}
	stateMu.Lock()
	defer stateMu.Unlock()

	s := &state
	s.regs = *opts.Registers
	s.ttbr0 = opts.PageTables.TTBR()
	s.flush = 0
	if opts.Flush {
		s.flush = 1
	}
	exitToEl0(s)
	*opts.Registers = s.regs
	return ring0.Trap{
		Vector: ring0.Vector(s.vector),
		ESR:    ring0.ESR(s.esr),
		FAR:    hostarch.Addr(s.far),
	}, nil
}

// ticksToDuration converts generic timer ticks at freq Hz.
func ticksToDuration(ticks, freq uint64) time.Duration {
	if freq == 0 {
		return 0
	}
	sec := ticks / freq
	rem := ticks % freq
	return time.Duration(sec)*time.Second + time.Duration(rem*uint64(time.Second)/freq)
}
