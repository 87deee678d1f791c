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

// Package ring0 models the single aarch64 core: its exception vectors, the
// decoding of exception syndromes, and the state machine that moves the core
// between the kernel and user code.
package ring0

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/hostarch"
)

const (
	// PsrUserMask are the bits of user PSTATE preserved across a switch:
	// the condition flags.
	PsrUserMask = linux.PSR_NZCV_MASK

	// KernelFlagsSet should always be set in the kernel.
	KernelFlagsSet = linux.PSR_MODE_EL1h | linux.PSR_DAIF_MASK

	// UserFlagsSet are always set in userspace. Interrupts stay masked:
	// all device I/O is polled.
	UserFlagsSet = linux.PSR_MODE_EL0t | linux.PSR_DAIF_MASK
)

const (
	// VirtualAddressBits is the number of bits of a virtual address.
	VirtualAddressBits = 48

	// UserspaceSize is the total size of userspace.
	UserspaceSize = uint64(1) << VirtualAddressBits

	// MaximumUserAddress is the largest possible user address.
	MaximumUserAddress = hostarch.Addr(UserspaceSize-1) &^ (hostarch.PageSize - 1)

	// KernelStartAddress is the starting kernel address.
	KernelStartAddress = hostarch.Addr(^uint64(0) - (UserspaceSize - 1))
)

// Vector is an exception vector.
type Vector uintptr

// Exception vectors. The first sixteen are the hardware vector table slots in
// order; the rest refine El0Sync and El1Sync by exception class.
const (
	El1InvSync Vector = iota
	El1InvIrq
	El1InvFiq
	El1InvErr

	El1Sync
	El1Irq
	El1Fiq
	El1Err

	El0Sync
	El0Irq
	El0Fiq
	El0Err

	El0InvSync
	El0InvIrq
	El0InvFiq
	El0InvErr

	El1SyncDa
	El1SyncIa
	El1SyncSpPc
	El1SyncUndef
	El1SyncInv

	El0SyncSVC
	El0SyncDa
	El0SyncIa
	El0SyncPCAlign
	El0SyncSpAlign
	El0SyncUndef
	El0SyncFpsimdAcc
	El0SyncSys
	El0SyncDbg
	El0SyncWfx
	El0SyncInv

	_NR_INTERRUPTS
)

// NumHardwareVectors is the number of slots in the hardware vector table.
const NumHardwareVectors = 16

// Aliases for the vectors the kernel handles.
const (
	Syscall   = El0SyncSVC
	PageFault = El0SyncDa
)

var vectorNames = [_NR_INTERRUPTS]string{
	El1InvSync:       "El1InvSync",
	El1InvIrq:        "El1InvIrq",
	El1InvFiq:        "El1InvFiq",
	El1InvErr:        "El1InvErr",
	El1Sync:          "El1Sync",
	El1Irq:           "El1Irq",
	El1Fiq:           "El1Fiq",
	El1Err:           "El1Err",
	El0Sync:          "El0Sync",
	El0Irq:           "El0Irq",
	El0Fiq:           "El0Fiq",
	El0Err:           "El0Err",
	El0InvSync:       "El0InvSync",
	El0InvIrq:        "El0InvIrq",
	El0InvFiq:        "El0InvFiq",
	El0InvErr:        "El0InvErr",
	El1SyncDa:        "El1SyncDa",
	El1SyncIa:        "El1SyncIa",
	El1SyncSpPc:      "El1SyncSpPc",
	El1SyncUndef:     "El1SyncUndef",
	El1SyncInv:       "El1SyncInv",
	El0SyncSVC:       "El0SyncSVC",
	El0SyncDa:        "El0SyncDa",
	El0SyncIa:        "El0SyncIa",
	El0SyncPCAlign:   "El0SyncPCAlign",
	El0SyncSpAlign:   "El0SyncSpAlign",
	El0SyncUndef:     "El0SyncUndef",
	El0SyncFpsimdAcc: "El0SyncFpsimdAcc",
	El0SyncSys:       "El0SyncSys",
	El0SyncDbg:       "El0SyncDbg",
	El0SyncWfx:       "El0SyncWfx",
	El0SyncInv:       "El0SyncInv",
}

// String implements fmt.Stringer.String.
func (v Vector) String() string {
	if v < _NR_INTERRUPTS {
		return vectorNames[v]
	}
	return fmt.Sprintf("Vector(%d)", uintptr(v))
}

// IsUserSync returns true for synchronous exceptions taken from EL0.
func (v Vector) IsUserSync() bool {
	return v == El0Sync || (v >= El0SyncSVC && v <= El0SyncInv)
}
