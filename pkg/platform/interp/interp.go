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

// Package interp is a Platform that executes aarch64 user code in software.
//
// The interpreter implements the A64 integer instruction set, scalar
// floating point and Advanced SIMD. Floating-point arithmetic rounds to
// nearest and the cumulative exception flags in FPSR are not maintained.
// Every memory access, instruction fetches included, is translated through
// the page tables the kernel built, in the RAM the kernel built them in, so
// that faults are raised exactly where the MMU would raise them. Exceptions
// are reported with architectural ESR and FAR values.
package interp

import (
	"context"
	"sync"
	"time"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/physmem"
	"kestrel.dev/kestrel/pkg/platform"
	"kestrel.dev/kestrel/pkg/ring0"
)

// Name is the registered name of the platform.
const Name = "interp"

// checkInterval is the number of instructions executed between checks of
// the switch context.
const checkInterval = 1 << 16

// Interp implements platform.Platform.
type Interp struct {
	mem   physmem.Memory
	start time.Time

	// mu serializes Switch. The fields below are the user state that is
	// not part of arch.Registers.
	mu sync.Mutex

	// vregs are the SIMD&FP registers V0-V31, low doubleword first.
	vregs [32][2]uint64
	fpcr  uint64
	fpsr  uint64

	// exclusive is the address of the exclusive monitor, if armed.
	exclusive    hostarch.Addr
	exclusiveSet bool

	// executed counts instructions, for diagnostics.
	executed uint64
}

// New returns a new interpreter over mem.
func New(mem physmem.Memory) *Interp {
	return &Interp{
		mem:   mem,
		start: time.Now(),
	}
}

func init() {
	platform.Register(Name, func(opts platform.Options) (platform.Platform, error) {
		return New(opts.Memory), nil
	})
}

// Memory implements platform.Platform.Memory.
func (p *Interp) Memory() physmem.Memory {
	return p.mem
}

// HWCap implements platform.Platform.HWCap.
func (p *Interp) HWCap() uint64 {
	return linux.HWCAP_FP | linux.HWCAP_ASIMD | linux.HWCAP_CPUID
}

// Now implements platform.Platform.Now.
func (p *Interp) Now() time.Duration {
	return time.Since(p.start)
}

// BootTime implements platform.Platform.BootTime.
func (p *Interp) BootTime() time.Time {
	return p.start
}

// PowerOff implements platform.Platform.PowerOff. The host process owns the
// exit, so this only logs.
func (p *Interp) PowerOff(code int) {
	log.Infof("Power off with status %d after %d instructions", code, p.Executed())
}

// Executed returns the number of instructions executed so far.
func (p *Interp) Executed() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executed
}

// Switch implements ring0.Switcher.Switch.
//
// It executes instructions until one raises an exception, or until ctx is
// done.
func (p *Interp) Switch(ctx context.Context, opts *ring0.SwitchOpts) (ring0.Trap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := &cpu{
		p:    p,
		regs: opts.Registers,
		root: opts.PageTables.Root(),
		tlb:  make(map[hostarch.Addr]tlbEntry),
	}
	for n := 0; ; n++ {
		if n%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return ring0.Trap{}, err
			}
		}
		exc := c.step()
		p.executed++
		if exc != nil {
			return ring0.Trap{
				Vector: ring0.El0Sync,
				ESR:    exc.esr,
				FAR:    exc.far,
			}, nil
		}
	}
}
