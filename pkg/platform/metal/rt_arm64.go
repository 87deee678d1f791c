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
	"io"
	"unsafe"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/physmem"
	"kestrel.dev/kestrel/pkg/platform/metal/rtsys"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

const (
	// excStackSize is EXC_STACK_SIZE in the assembly.
	excStackSize  = 32 << 10
	bootStackSize = 256 << 10

	ecSVC64 = 0x15
)

// SCTLR_EL1 bits.
const (
	sctlrM    = 1 << 0
	sctlrC    = 1 << 2
	sctlrSA   = 1 << 3
	sctlrSA0  = 1 << 4
	sctlrI    = 1 << 12
	sctlrDZE  = 1 << 14
	sctlrUCT  = 1 << 15
	sctlrNTWI = 1 << 16
	sctlrNTWE = 1 << 18
	sctlrUCI  = 1 << 26
	sctlrRES1 = 0x30d00800
)

// Register values read by the boot code before the runtime starts. They
// are initialized data, so they are valid from the first instruction.
var (
	bootMAIR        uint64 = pagetables.MAIRValue
	bootTCR         uint64 = pagetables.TCRValue
	bootKernelBlock uint64 = pagetables.KernelBlock
	bootDeviceBlock uint64 = pagetables.DeviceBlock
	bootSCTLR       uint64 = sctlrM | sctlrC | sctlrSA | sctlrSA0 | sctlrI | sctlrDZE |
		sctlrUCT | sctlrNTWI | sctlrNTWE | sctlrUCI | sctlrRES1
)

// stackBounds is the prefix of the runtime's g that function prologues
// read.
type stackBounds struct {
	lo          uintptr
	hi          uintptr
	stackguard0 uintptr
	stackguard1 uintptr
}

var (
	// earlyTables holds the boot level 0 and level 1 tables at its first
	// page boundary.
	earlyTables [3 * hostarch.PageSize]byte

	// excStack is the stack of the boot code and of kernelTrap. excG
	// describes it, and is filled in by the boot code.
	excStack [excStackSize]byte
	excG     stackBounds

	// bootStack becomes the stack of the runtime's first thread.
	bootStack [bootStackSize]byte

	// bootStrings are the runtime's argv and environment. Asynchronous
	// preemption needs signals, which the runtime here never receives.
	bootStrings = [...]byte("kestrel\x00GODEBUG=asyncpreemptoff=1\x00")
	bootRandom  [16]byte

	rt rtsys.Kernel
)

const hwcap = linux.HWCAP_FP | linux.HWCAP_ASIMD | linux.HWCAP_EVTSTRM | linux.HWCAP_CPUID

// counterClock reads the generic timer.
type counterClock struct{}

// Nanotime implements rtsys.Clock.Nanotime.
//
//go:nosplit
func (counterClock) Nanotime() int64 {
	return int64(ticksToDuration(readCNTVCT(), readCNTFRQ()))
}

// bootInit runs on excStack once the kernel executes from its linear-map
// address, before the runtime starts. It sets up the runtime's address
// space over the frame pool and builds the Linux initial stack. It returns
// the TTBR0 value to install and the stack pointer to start the runtime
// with.
func bootInit() (ttbr0, sp uint64) {
	if !rt.Space.Init(rtsys.PoolStart, rtsys.PoolEnd, uintptr(physmem.KernelBase)) {
		systemOff(1)
	}
	rt.Clock = counterClock{}
	rt.Exit = systemOff
	rt.Init(readCNTVCT())
	setCurrent(uintptr(unsafe.Pointer(rt.Current())))
	rt.Random(bootRandom[:])
	return rt.Space.TTBR(), initialStack()
}

// initialStack lays out argc, argv, envp and the auxiliary vector at the top
// of bootStack.
func initialStack() uint64 {
	strs := uint64(uintptr(unsafe.Pointer(&bootStrings[0])))
	words := [...]uint64{
		1, strs, 0,
		strs + 8, 0,
		linux.AT_PAGESZ, hostarch.PageSize,
		linux.AT_HWCAP, hwcap,
		linux.AT_RANDOM, uint64(uintptr(unsafe.Pointer(&bootRandom[0]))),
		linux.AT_NULL, 0,
	}
	top := uintptr(unsafe.Pointer(&bootStack[0])) + bootStackSize
	sp := (top - uintptr(len(words))*8) &^ 15
	copy(unsafe.Slice((*uint64)(unsafe.Pointer(sp)), len(words)), words[:])
	return uint64(sp)
}

// kernelTrap handles a synchronous exception taken by the runtime. It runs
// on excStack and must not allocate.
func kernelTrap(esr, far uint64) {
	var ok bool
	if esr>>26&0x3f == ecSVC64 {
		ok = rt.Syscall()
		if !ok {
			rt.Print("kestrel: every thread is blocked\n")
		}
	} else if ok = rt.Fault(esr, far); !ok {
		rt.Print("kestrel: fatal exception esr=")
		rt.PrintHex(esr)
		rt.Print(" far=")
		rt.PrintHex(far)
		rt.Print(" pc=")
		rt.PrintHex(rt.Current().PC)
		rt.Print("\n")
	}
	if rt.Space.TakeStale() {
		flushTLB()
	}
	if !ok {
		systemOff(1)
	}
	setCurrent(uintptr(unsafe.Pointer(rt.Current())))
}

// systemOff powers the machine off. QEMU's exit status does not reflect
// code.
func systemOff(code int32) {
	hvc(psciSystemOff, 0, 0, 0)
	for {
	}
}

// RuntimeEnd returns the first physical address past the memory the
// runtime itself uses. The kernel's allocators must stay above it.
func RuntimeEnd() hostarch.Addr {
	return hostarch.Addr(rt.Space.Frames().End())
}

// SetRuntimeConsole sends the runtime's own output, such as panics, to w.
func SetRuntimeConsole(w io.ByteWriter) {
	rt.Console = w
}
