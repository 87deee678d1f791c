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

package ring0

import (
	"fmt"
)

// ExceptionClass is ESR_EL1.EC.
type ExceptionClass uint8

// Exception classes.
const (
	ECUnknown         ExceptionClass = 0x00
	ECWFx             ExceptionClass = 0x01
	ECFPAccess        ExceptionClass = 0x07
	ECSVC64           ExceptionClass = 0x15
	ECSysReg          ExceptionClass = 0x18
	ECSVE             ExceptionClass = 0x19
	ECInstAbortLower  ExceptionClass = 0x20
	ECInstAbortSame   ExceptionClass = 0x21
	ECPCAlign         ExceptionClass = 0x22
	ECDataAbortLower  ExceptionClass = 0x24
	ECDataAbortSame   ExceptionClass = 0x25
	ECSPAlign         ExceptionClass = 0x26
	ECFPExc64         ExceptionClass = 0x2c
	ECSError          ExceptionClass = 0x2f
	ECBreakpointLower ExceptionClass = 0x30
	ECSoftStepLower   ExceptionClass = 0x32
	ECWatchpointLower ExceptionClass = 0x34
	ECBRK64           ExceptionClass = 0x3c
)

var ecNames = map[ExceptionClass]string{
	ECUnknown:         "undefined instruction",
	ECWFx:             "wfi/wfe",
	ECFPAccess:        "fp/simd access",
	ECSVC64:           "svc",
	ECSysReg:          "system register access",
	ECSVE:             "sve access",
	ECInstAbortLower:  "instruction abort",
	ECInstAbortSame:   "instruction abort (kernel)",
	ECPCAlign:         "pc alignment fault",
	ECDataAbortLower:  "data abort",
	ECDataAbortSame:   "data abort (kernel)",
	ECSPAlign:         "sp alignment fault",
	ECFPExc64:         "fp exception",
	ECSError:          "serror",
	ECBreakpointLower: "breakpoint",
	ECSoftStepLower:   "software step",
	ECWatchpointLower: "watchpoint",
	ECBRK64:           "brk",
}

// String implements fmt.Stringer.String.
func (ec ExceptionClass) String() string {
	if s, ok := ecNames[ec]; ok {
		return s
	}
	return fmt.Sprintf("EC %#x", uint8(ec))
}

// Fault status codes (DFSC/IFSC). The low two bits of the translation,
// access flag and permission codes are the table level.
const (
	FSCAddressSize = 0x00
	FSCTranslation = 0x04
	FSCAccessFlag  = 0x08
	FSCPermission  = 0x0c
	FSCAlignment   = 0x21

	fscTypeMask = 0x3c
)

const (
	esrECShift = 26
	esrIL      = 1 << 25
	esrISSMask = 1<<25 - 1
	esrWnR     = 1 << 6
	esrFSCMask = 0x3f
)

// ESR is an exception syndrome register value.
type ESR uint64

// MakeESR builds a syndrome for a 32-bit instruction.
func MakeESR(ec ExceptionClass, iss uint32) ESR {
	return ESR(ec)<<esrECShift | esrIL | ESR(iss&esrISSMask)
}

// MakeAbortESR builds the syndrome of a data or instruction abort.
func MakeAbortESR(ec ExceptionClass, fsc uint32, write bool) ESR {
	iss := fsc & esrFSCMask
	if write {
		iss |= esrWnR
	}
	return MakeESR(ec, iss)
}

// EC returns the exception class.
func (e ESR) EC() ExceptionClass {
	return ExceptionClass((e >> esrECShift) & 0x3f)
}

// ISS returns the instruction specific syndrome.
func (e ESR) ISS() uint32 {
	return uint32(e & esrISSMask)
}

// IsAbort returns true for instruction and data aborts.
func (e ESR) IsAbort() bool {
	switch e.EC() {
	case ECInstAbortLower, ECInstAbortSame, ECDataAbortLower, ECDataAbortSame:
		return true
	}
	return false
}

// FSC returns the fault status code of an abort.
func (e ESR) FSC() uint32 {
	return uint32(e) & esrFSCMask
}

// IsWrite returns true if a data abort was caused by a write.
func (e ESR) IsWrite() bool {
	return e.EC() != ECInstAbortLower && e.EC() != ECInstAbortSame && e&esrWnR != 0
}

// IsTranslationFault returns true for aborts on an invalid descriptor.
func (e ESR) IsTranslationFault() bool {
	return e.IsAbort() && e.FSC()&fscTypeMask == FSCTranslation
}

// IsPermissionFault returns true for aborts on a valid descriptor that does
// not permit the access.
func (e ESR) IsPermissionFault() bool {
	return e.IsAbort() && e.FSC()&fscTypeMask == FSCPermission
}

// FaultLevel returns the table level of a translation, access flag or
// permission fault.
func (e ESR) FaultLevel() int {
	return int(e.FSC() & 3)
}

// Cause returns a human readable cause.
func (e ESR) Cause() string {
	if !e.IsAbort() {
		return e.EC().String()
	}
	var kind string
	switch e.FSC() & fscTypeMask {
	case FSCTranslation:
		kind = "translation fault"
	case FSCPermission:
		kind = "permission fault"
	case FSCAccessFlag:
		kind = "access flag fault"
	default:
		if e.FSC() == FSCAlignment {
			return fmt.Sprintf("%s: alignment fault", e.EC())
		}
		return fmt.Sprintf("%s: status %#x", e.EC(), e.FSC())
	}
	access := "read"
	switch {
	case e.EC() == ECInstAbortLower || e.EC() == ECInstAbortSame:
		access = "fetch"
	case e.IsWrite():
		access = "write"
	}
	return fmt.Sprintf("%s: %s, level %d, on %s", e.EC(), kind, e.FaultLevel(), access)
}

// String implements fmt.Stringer.String.
func (e ESR) String() string {
	return fmt.Sprintf("%#x (%s)", uint64(e), e.Cause())
}

// DecodeESR classifies a synchronous exception taken from EL0.
func DecodeESR(esr ESR) Vector {
	switch esr.EC() {
	case ECSVC64:
		return El0SyncSVC
	case ECDataAbortLower:
		return El0SyncDa
	case ECInstAbortLower:
		return El0SyncIa
	case ECUnknown:
		return El0SyncUndef
	case ECPCAlign:
		return El0SyncPCAlign
	case ECSPAlign:
		return El0SyncSpAlign
	case ECFPAccess, ECSVE:
		return El0SyncFpsimdAcc
	case ECSysReg:
		return El0SyncSys
	case ECWFx:
		return El0SyncWfx
	case ECBreakpointLower, ECSoftStepLower, ECWatchpointLower, ECBRK64:
		return El0SyncDbg
	default:
		return El0SyncInv
	}
}

// DecodeKernelESR classifies a synchronous exception taken from EL1.
func DecodeKernelESR(esr ESR) Vector {
	switch esr.EC() {
	case ECDataAbortSame:
		return El1SyncDa
	case ECInstAbortSame:
		return El1SyncIa
	case ECPCAlign, ECSPAlign:
		return El1SyncSpPc
	case ECUnknown:
		return El1SyncUndef
	default:
		return El1SyncInv
	}
}
