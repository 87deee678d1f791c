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
	"errors"
	"testing"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/pgalloc"
	"kestrel.dev/kestrel/pkg/physmem"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

type fakeSwitcher struct {
	trap Trap
	err  error
	seen SwitchOpts
}

func (f *fakeSwitcher) Switch(_ context.Context, opts *SwitchOpts) (Trap, error) {
	f.seen = *opts
	return f.trap, f.err
}

func TestDecodeESR(t *testing.T) {
	for _, tc := range []struct {
		esr  ESR
		want Vector
	}{
		{MakeESR(ECSVC64, 0), El0SyncSVC},
		{MakeAbortESR(ECDataAbortLower, FSCTranslation|3, false), El0SyncDa},
		{MakeAbortESR(ECInstAbortLower, FSCPermission|3, false), El0SyncIa},
		{MakeESR(ECUnknown, 0), El0SyncUndef},
		{MakeESR(ECPCAlign, 0), El0SyncPCAlign},
		{MakeESR(ECSPAlign, 0), El0SyncSpAlign},
		{MakeESR(ECSError, 0), El0SyncInv},
		{MakeESR(0x3f, 0), El0SyncInv},
	} {
		if got := DecodeESR(tc.esr); got != tc.want {
			t.Errorf("DecodeESR(%v) = %v, want %v", tc.esr, got, tc.want)
		}
	}
}

func TestAbortSyndrome(t *testing.T) {
	esr := MakeAbortESR(ECDataAbortLower, FSCTranslation|2, true)
	if !esr.IsTranslationFault() || esr.IsPermissionFault() {
		t.Errorf("%v: wrong fault type", esr)
	}
	if !esr.IsWrite() {
		t.Errorf("%v: WnR lost", esr)
	}
	if got := esr.FaultLevel(); got != 2 {
		t.Errorf("%v: FaultLevel = %d, want 2", esr, got)
	}
	if got, want := esr.Cause(), "data abort: translation fault, level 2, on write"; got != want {
		t.Errorf("Cause = %q, want %q", got, want)
	}
	fetch := MakeAbortESR(ECInstAbortLower, FSCPermission|3, true)
	if fetch.IsWrite() {
		t.Errorf("%v: instruction abort reported as write", fetch)
	}
}

func newActiveCPU(t *testing.T, s Switcher) *CPU {
	t.Helper()
	c := NewCPU(s)
	c.Activate(&pagetables.PageTables{})
	return c
}

func TestSwitchToUser(t *testing.T) {
	want := Trap{Vector: El0SyncSVC, ESR: MakeESR(ECSVC64, 0)}
	s := &fakeSwitcher{trap: want}
	c := newActiveCPU(t, s)

	regs := arch.Registers{}
	regs.Pstate = linux.PSR_MODE_EL1h | linux.PSR_Z_BIT
	got, err := c.SwitchToUser(context.Background(), &regs)
	if err != nil {
		t.Fatalf("SwitchToUser failed: %v", err)
	}
	if got != want {
		t.Errorf("trap = %v, want %v", got, want)
	}
	if st := c.State(); st != InTrap {
		t.Errorf("state = %v, want %v", st, InTrap)
	}
	if wantPS := uint64(UserFlagsSet | linux.PSR_Z_BIT); regs.Pstate != wantPS {
		t.Errorf("pstate = %#x, want %#x", regs.Pstate, wantPS)
	}
	if !s.seen.Flush {
		t.Errorf("first switch after Activate did not flush")
	}

	c.Resume()
	if _, err := c.SwitchToUser(context.Background(), &regs); err != nil {
		t.Fatalf("second SwitchToUser failed: %v", err)
	}
	if s.seen.Flush {
		t.Errorf("second switch flushed without an address space change")
	}
	c.Halt()
	if st := c.State(); st != Halted {
		t.Errorf("state = %v, want %v", st, Halted)
	}
}

func TestSwitchFlushesAfterUnmap(t *testing.T) {
	ram, err := physmem.NewRAM(0x4000_0000, 16*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewRAM failed: %v", err)
	}
	fa, err := pgalloc.New(ram, pgalloc.Options{})
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	pt, err := pagetables.New(pagetables.NewFrameAllocator(fa), pagetables.Lower, 1)
	if err != nil {
		t.Fatalf("pagetables.New failed: %v", err)
	}
	opts := pagetables.MapOpts{AccessType: hostarch.ReadWrite, User: true}
	if err := pt.Map(0x400000, 2*hostarch.PageSize, 0x4000_8000, opts); err != nil {
		t.Fatalf("Map failed: %v", err)
	}

	s := &fakeSwitcher{trap: Trap{Vector: El0SyncSVC, ESR: MakeESR(ECSVC64, 0)}}
	c := NewCPU(s)
	c.Activate(pt)
	regs := arch.Registers{}
	for _, tc := range []struct {
		name   string
		change func()
		flush  bool
	}{
		{"activate", func() {}, true},
		{"unchanged", func() {}, false},
		{"unmap", func() { pt.Unmap(0x401000, hostarch.PageSize, nil) }, true},
		{"protect", func() {
			pt.Protect(0x400000, hostarch.PageSize, pagetables.MapOpts{AccessType: hostarch.Read, User: true})
		}, true},
		{"unmap nothing", func() { pt.Unmap(0x401000, hostarch.PageSize, nil) }, false},
	} {
		tc.change()
		if _, err := c.SwitchToUser(context.Background(), &regs); err != nil {
			t.Fatalf("%s: SwitchToUser failed: %v", tc.name, err)
		}
		if s.seen.Flush != tc.flush {
			t.Errorf("%s: Flush = %t, want %t", tc.name, s.seen.Flush, tc.flush)
		}
		c.Resume()
	}
	c.Halt()
}

func TestSwitchError(t *testing.T) {
	c := newActiveCPU(t, &fakeSwitcher{err: context.Canceled})
	if _, err := c.SwitchToUser(context.Background(), &arch.Registers{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("SwitchToUser = %v, want %v", err, context.Canceled)
	}
	c.Halt()
}

func TestNoAddressSpace(t *testing.T) {
	c := NewCPU(&fakeSwitcher{})
	if _, err := c.SwitchToUser(context.Background(), &arch.Registers{}); err == nil {
		t.Errorf("SwitchToUser without an address space succeeded")
	}
	if st := c.State(); st != KernelRunning {
		t.Errorf("state = %v, want %v", st, KernelRunning)
	}
}

func TestInvalidTransitions(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(c *CPU)
		op    func(c *CPU)
		from  State
		to    State
	}{
		{
			name: "resume without trap",
			op:   (*CPU).Resume,
			from: KernelRunning,
			to:   KernelRunning,
		},
		{
			name:  "switch from trap",
			setup: func(c *CPU) { c.SwitchToUser(context.Background(), &arch.Registers{}) },
			op:    func(c *CPU) { c.SwitchToUser(context.Background(), &arch.Registers{}) },
			from:  InTrap,
			to:    UserRunning,
		},
		{
			name:  "leave halted",
			setup: (*CPU).Halt,
			op:    (*CPU).Halt,
			from:  Halted,
			to:    Halted,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newActiveCPU(t, &fakeSwitcher{})
			if tc.setup != nil {
				tc.setup(c)
			}
			defer func() {
				r := recover()
				te, ok := r.(*TransitionError)
				if !ok {
					t.Fatalf("recovered %v, want *TransitionError", r)
				}
				if te.From != tc.from || te.To != tc.to {
					t.Errorf("transition %v -> %v, want %v -> %v", te.From, te.To, tc.from, tc.to)
				}
			}()
			tc.op(c)
		})
	}
}

func TestVectorString(t *testing.T) {
	if got := El0SyncDa.String(); got != "El0SyncDa" {
		t.Errorf("String = %q", got)
	}
	if !Syscall.IsUserSync() || El0Irq.IsUserSync() {
		t.Errorf("IsUserSync misclassifies")
	}
}
