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
	"context"
	"fmt"
	"sync"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// State is the execution state of the core.
type State int32

const (
	// KernelRunning is the state at boot and while the kernel handles a
	// trap.
	KernelRunning State = iota

	// UserRunning means user code owns the core.
	UserRunning

	// InTrap means user code took an exception that has not yet been
	// handled.
	InTrap

	// Halted is terminal.
	Halted
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case KernelRunning:
		return "KernelRunning"
	case UserRunning:
		return "UserRunning"
	case InTrap:
		return "InTrap"
	case Halted:
		return "Halted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// allowed lists the legal transitions.
var allowed = map[State][]State{
	KernelRunning: {UserRunning, Halted},
	UserRunning:   {InTrap},
	InTrap:        {KernelRunning, Halted},
}

// TransitionError is the panic value of an invalid state transition.
type TransitionError struct {
	From State
	To   State
}

// Error implements error.Error.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid core state transition %v -> %v", e.From, e.To)
}

// Trap is the record of one exception taken from user code.
type Trap struct {
	// Vector is the decoded exception vector.
	Vector Vector

	// ESR is the exception syndrome.
	ESR ESR

	// FAR is the faulting address for aborts.
	FAR hostarch.Addr
}

// String implements fmt.Stringer.String.
func (t Trap) String() string {
	return fmt.Sprintf("%v esr=%v far=%v", t.Vector, t.ESR, t.FAR)
}

// SwitchOpts are passed to the Switch function.
type SwitchOpts struct {
	// Registers are the user register state. They are updated in place
	// with the state at the exception.
	Registers *arch.Registers

	// PageTables are the application page tables.
	PageTables *pagetables.PageTables

	// Flush indicates that a TLB flush should be forced on switch.
	Flush bool
}

// Switcher runs user code until it takes an exception.
type Switcher interface {
	// Switch enters EL0 with opts and returns the exception that ended the
	// run. An error means the run could not start or was interrupted by
	// ctx; no user state was lost but no trap was taken either.
	Switch(ctx context.Context, opts *SwitchOpts) (Trap, error)
}

// CPU is the single core.
type CPU struct {
	switcher Switcher

	mu     sync.Mutex
	state  State
	trap   Trap
	active *pagetables.PageTables
	flush  bool
}

// NewCPU returns a core in KernelRunning that enters user code through s.
func NewCPU(s Switcher) *CPU {
	return &CPU{switcher: s}
}

// State returns the current state.
func (c *CPU) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition moves to the given state, panicking with a *TransitionError if
// the edge is not allowed.
//
// Preconditions: c.mu is held.
func (c *CPU) transition(to State) {
	for _, s := range allowed[c.state] {
		if s == to {
			c.state = to
			return
		}
	}
	panic(&TransitionError{From: c.state, To: to})
}

// Activate makes pt the user address space for subsequent switches.
func (c *CPU) Activate(pt *pagetables.PageTables) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != pt {
		c.active = pt
		c.flush = true
	}
}

// Active returns the active user address space.
func (c *CPU) Active() *pagetables.PageTables {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SwitchToUser enters user code with regs and returns the exception that
// ended the run, leaving the core InTrap. On error the core is also InTrap
// and the caller is expected to Halt.
//
// PSTATE is sanitized first: EL0t with D, A, I and F masked, condition flags
// preserved.
func (c *CPU) SwitchToUser(ctx context.Context, regs *arch.Registers) (Trap, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return Trap{}, fmt.Errorf("no active address space")
	}
	regs.Pstate = regs.Pstate&PsrUserMask | UserFlagsSet
	// Both an address space change and a removed or downgraded entry in
	// the active tables leave stale TLB entries behind.
	opts := SwitchOpts{
		Registers:  regs,
		PageTables: c.active,
		Flush:      c.active.TakeStale() || c.flush,
	}
	c.flush = false
	c.transition(UserRunning)
	c.mu.Unlock()

	trap, err := c.switcher.Switch(ctx, &opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.transition(InTrap)
	if err != nil {
		return Trap{}, err
	}
	c.trap = trap
	return trap, nil
}

// LastTrap returns the exception being handled.
func (c *CPU) LastTrap() Trap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trap
}

// Resume completes handling of a trap.
func (c *CPU) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transition(KernelRunning)
	c.trap = Trap{}
}

// Halt stops the core for good.
func (c *CPU) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transition(Halted)
}
