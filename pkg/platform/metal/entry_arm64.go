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

package metal

import (
	"sync"
	"unsafe"

	"kestrel.dev/kestrel/pkg/arch"
)

// switchState is shared with the exception vectors. While user code runs,
// SP_EL1 points just past scratch, which is where a vector entry spills x0
// and x1 before it can address anything else.
//
// Only the kernel's linear map is reachable while the user tables are in
// TTBR0, so the state and the registers it carries live in a package
// variable rather than on the runtime's heap.
//
// The offsets are fixed by entry_arm64.s.
type switchState struct {
	scratch [2]uint64 // 0
	ttbr0   uint64    // 16
	flush   uint64    // 24

	// kernelTTBR0 is the runtime's TTBR0, put back on the way out.
	kernelTTBR0 uint64 // 32

	// kernelSP and kernelRegs (x19 to x30) are the callee-saved state of
	// exitToEl0's caller.
	kernelSP   uint64     // 40
	kernelRegs [12]uint64 // 48

	esr    uint64 // 144
	far    uint64 // 152
	vector uint64 // 160
	_      uint64

	regs arch.Registers // 176
}

var (
	// stateMu serializes use of state.
	stateMu sync.Mutex
	state   switchState
)

// Offsets checked against the assembly.
const (
	switchStateKernelTTBR0 = unsafe.Offsetof(switchState{}.kernelTTBR0)
	switchStateESR         = unsafe.Offsetof(switchState{}.esr)
	switchStateVector      = unsafe.Offsetof(switchState{}.vector)
	switchStateRegs        = unsafe.Offsetof(switchState{}.regs)
)

// This is an assembly function.
//
// exitToEl0 saves the kernel's callee-saved registers and TTBR0 in s,
// installs s.ttbr0 (flushing the TLB if s.flush is set), loads s.regs and
// erets to EL0. It returns once the next exception from EL0 has saved the
// user registers back to s.regs, recorded its vector, ESR and FAR in s and
// restored the kernel's TTBR0.
//
//go:noescape
func exitToEl0(s *switchState)

// installVectors points VBAR_EL1 at the vector table. The boot code calls
// it before the runtime starts.
func installVectors()

// setCurrent points TPIDR_EL1 at the context the EL1 vectors save into.
//
//go:nosplit
func setCurrent(ctx uintptr)

// flushTLB invalidates all stage 1 translations.
//
//go:nosplit
func flushTLB()

// setTTBR1 installs the kernel tables and flushes the TLB.
func setTTBR1(ttbr uint64)

// readCNTVCT returns the virtual counter.
//
//go:nosplit
func readCNTVCT() uint64

// readCNTFRQ returns the counter frequency.
//
//go:nosplit
func readCNTFRQ() uint64

// hvc makes a firmware call with the SMC calling convention over HVC.
func hvc(fn, a1, a2, a3 uint64) uint64
