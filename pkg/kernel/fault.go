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
	"strings"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/ring0"
)

// FatalFault is an exception the kernel cannot handle on behalf of the user
// program. It ends the run.
type FatalFault struct {
	// Addr is the faulting address (FAR) for aborts, and the PC otherwise.
	Addr hostarch.Addr

	// Cause names the fault.
	Cause string

	// Vector is the decoded vector.
	Vector ring0.Vector

	// ESR is the exception syndrome.
	ESR ring0.ESR

	// Regs is the register state at the exception.
	Regs arch.Registers
}

// Error implements error.Error.
func (f *FatalFault) Error() string {
	return fmt.Sprintf("fatal %s at %v (pc %#x): %s", f.Vector, f.Addr, f.Regs.Pc, f.Cause)
}

// Report returns the multi-line report printed to the console.
func (f *FatalFault) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n*** unhandled exception: %s\n", f.Cause)
	fmt.Fprintf(&b, "vector %v esr %#x far %v\n", f.Vector, uint64(f.ESR), f.Addr)
	b.WriteString(f.Regs.String())
	b.WriteByte('\n')
	return b.String()
}

// newFatalFault describes trap, taken with regs.
func newFatalFault(trap ring0.Trap, vector ring0.Vector, regs *arch.Registers) *FatalFault {
	f := &FatalFault{
		Addr:   trap.FAR,
		Cause:  trap.ESR.Cause(),
		Vector: vector,
		ESR:    trap.ESR,
		Regs:   *regs,
	}
	if !trap.ESR.IsAbort() && vector != ring0.El0SyncPCAlign {
		f.Addr = hostarch.Addr(regs.Pc)
	}
	if !vector.IsUserSync() {
		f.Cause = fmt.Sprintf("unexpected %v", vector)
	}
	return f
}
