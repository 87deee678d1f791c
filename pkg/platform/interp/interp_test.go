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

package interp

import (
	"context"
	"errors"
	"testing"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/mm"
	"kestrel.dev/kestrel/pkg/pgalloc"
	"kestrel.dev/kestrel/pkg/physmem"
	"kestrel.dev/kestrel/pkg/platform/interp/a64"
	"kestrel.dev/kestrel/pkg/ring0"
)

const (
	codeAddr = hostarch.Addr(0x40_0000)
	dataAddr = hostarch.Addr(0x50_0000)
)

var testLayout = mm.Layout{
	MinUserAddress: 0x1_0000,
	UserTop:        0x1_0000_0000_0000,
	StackTop:       0x7fff_ffff_f000,
	StackSize:      16 * hostarch.PageSize,
	StackInitial:   4 * hostarch.PageSize,
	HeapCeiling:    16 * hostarch.PageSize,
}

type machine struct {
	p    *Interp
	mm   *mm.MemoryManager
	regs arch.Registers
}

// newMachine maps code read-only and executable at codeAddr, a read-write
// page at dataAddr, and points PC and SP at them.
func newMachine(t *testing.T, code []byte) *machine {
	t.Helper()
	ram, err := physmem.NewRAM(0x4000_0000, 128*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewRAM failed: %v", err)
	}
	fa, err := pgalloc.New(ram, pgalloc.Options{})
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	m, err := mm.New(fa, testLayout)
	if err != nil {
		t.Fatalf("mm.New failed: %v", err)
	}
	if _, err := m.MMap(mm.MMapOpts{Addr: codeAddr, Length: uint64(len(code)), Fixed: true, Perms: hostarch.ReadExec, Precommit: true}); err != nil {
		t.Fatalf("mapping code: %v", err)
	}
	if _, err := m.CopyOut(codeAddr, code, mm.IOOpts{IgnorePermissions: true}); err != nil {
		t.Fatalf("copying code: %v", err)
	}
	if _, err := m.MMap(mm.MMapOpts{Addr: dataAddr, Length: hostarch.PageSize, Fixed: true, Perms: hostarch.ReadWrite, Precommit: true}); err != nil {
		t.Fatalf("mapping data: %v", err)
	}
	stack, err := m.MapStack()
	if err != nil {
		t.Fatalf("MapStack failed: %v", err)
	}
	mc := &machine{p: New(ram), mm: m}
	mc.regs.Pc = uint64(codeAddr)
	mc.regs.Sp = uint64(stack.End)
	return mc
}

// run switches into user code and returns the exception.
func (mc *machine) run(t *testing.T) ring0.Trap {
	t.Helper()
	trap, err := mc.p.Switch(context.Background(), &ring0.SwitchOpts{
		Registers:  &mc.regs,
		PageTables: mc.mm.PageTables(),
	})
	if err != nil {
		t.Fatalf("Switch failed: %v", err)
	}
	return trap
}

// runToSVC runs and requires the run to end in svc.
func (mc *machine) runToSVC(t *testing.T) {
	t.Helper()
	if trap := mc.run(t); trap.ESR.EC() != ring0.ECSVC64 {
		t.Fatalf("trap = %v at pc %#x, want svc", trap, mc.regs.Pc)
	}
}

func TestArithmetic(t *testing.T) {
	p := a64.NewProgram().
		MovImm(0, 0x1234_5678_9abc_def0).
		Emit(
			a64.MOVZ(1, 7, 0),
			a64.MOVZ(2, 3, 0),
			a64.MUL(3, 1, 2),       // 21
			a64.UDIV(4, 3, 2),      // 7
			a64.SUB(5, 2, 1),       // -4
			a64.LSLImm(6, 1, 4),    // 112
			a64.ADDImm(7, 6, 0x10), // 128
			a64.MOVN(9, 0, 0),      // -1
			a64.CMPImm(1, 7),
			a64.CSEL(10, 1, 2, a64.EQ), // 7
			a64.CMPImm(1, 8),
			a64.CSEL(11, 1, 2, a64.EQ), // 3
			a64.SVC(0),
		)
	mc := newMachine(t, p.MustAssemble())
	mc.runToSVC(t)

	for r, want := range map[int]uint64{
		0:  0x1234_5678_9abc_def0,
		3:  21,
		4:  7,
		5:  ^uint64(3),
		6:  112,
		7:  128,
		9:  ^uint64(0),
		10: 7,
		11: 3,
	} {
		if got := mc.regs.Regs[r]; got != want {
			t.Errorf("x%d = %#x, want %#x", r, got, want)
		}
	}
	if want := uint64(codeAddr) + uint64(p.CodeSize()); mc.regs.Pc != want {
		t.Errorf("pc after svc = %#x, want %#x", mc.regs.Pc, want)
	}
}

func TestLoopAndMemory(t *testing.T) {
	// Copy a string byte by byte into the data page, then sum its bytes.
	p := a64.NewProgram().
		ADR(0, "msg").
		MovImm(1, uint64(dataAddr)).
		Emit(a64.MOVZ(2, 0, 0), a64.MOVZ(3, 0, 0)).
		Label("loop").
		Emit(a64.LDRBReg(4, 0, 2)).
		CBZ(4, "done").
		Emit(
			a64.STRBReg(4, 1, 2),
			a64.ADD(3, 3, 4),
			a64.ADDImm(2, 2, 1),
		).
		B("loop").
		Label("done").
		Emit(a64.SVC(0)).
		Data("msg", []byte("hi!\x00"))
	mc := newMachine(t, p.MustAssemble())
	mc.runToSVC(t)

	if got := mc.regs.Regs[2]; got != 3 {
		t.Errorf("length = %d, want 3", got)
	}
	if got, want := mc.regs.Regs[3], uint64('h'+'i'+'!'); got != want {
		t.Errorf("sum = %d, want %d", got, want)
	}
	buf := make([]byte, 3)
	if _, err := mc.mm.CopyIn(dataAddr, buf, mm.IOOpts{}); err != nil || string(buf) != "hi!" {
		t.Errorf("data page = %q, %v, want hi!", buf, err)
	}
}

func TestCallAndStack(t *testing.T) {
	p := a64.NewProgram().
		Emit(a64.MOVZ(0, 5, 0)).
		BL("double").
		Emit(a64.SVC(0)).
		Label("double").
		Emit(
			a64.STPPre(29, a64.LR, a64.SP, -16),
			a64.ADD(0, 0, 0),
			a64.LDPPost(29, a64.LR, a64.SP, 16),
			a64.RET(),
		)
	mc := newMachine(t, p.MustAssemble())
	sp := mc.regs.Sp
	mc.runToSVC(t)
	if mc.regs.Regs[0] != 10 {
		t.Errorf("x0 = %d, want 10", mc.regs.Regs[0])
	}
	if mc.regs.Sp != sp {
		t.Errorf("sp = %#x, want %#x", mc.regs.Sp, sp)
	}
}

func TestThreadPointer(t *testing.T) {
	p := a64.NewProgram().
		MovImm(0, 0xfeed).
		Emit(a64.MSRTPIDR(0), a64.MRSTPIDR(1), a64.SVC(0))
	mc := newMachine(t, p.MustAssemble())
	mc.runToSVC(t)
	if mc.regs.TPIDR_EL0 != 0xfeed || mc.regs.Regs[1] != 0xfeed {
		t.Errorf("tpidr %#x, x1 %#x, want 0xfeed", mc.regs.TPIDR_EL0, mc.regs.Regs[1])
	}
}

func TestExceptions(t *testing.T) {
	for _, tc := range []struct {
		name    string
		prog    *a64.Program
		ec      ring0.ExceptionClass
		far     hostarch.Addr
		checkFA bool
		write   bool
	}{
		{
			name:    "null load",
			prog:    a64.NewProgram().Emit(a64.MOVZ(0, 0, 0), a64.LDR(1, 0, 0)),
			ec:      ring0.ECDataAbortLower,
			far:     0,
			checkFA: true,
		},
		{
			name:    "store to text",
			prog:    a64.NewProgram().MovImm(0, uint64(codeAddr)).Emit(a64.STR(1, 0, 8)),
			ec:      ring0.ECDataAbortLower,
			far:     codeAddr + 8,
			checkFA: true,
			write:   true,
		},
		{
			name:    "jump to data",
			prog:    a64.NewProgram().MovImm(0, uint64(dataAddr)).Emit(a64.BR(0)),
			ec:      ring0.ECInstAbortLower,
			far:     dataAddr,
			checkFA: true,
		},
		{
			name: "undefined",
			prog: a64.NewProgram().Emit(0),
			ec:   ring0.ECUnknown,
		},
		{
			name: "brk",
			prog: a64.NewProgram().Emit(a64.BRK(1)),
			ec:   ring0.ECBRK64,
		},
		{
			name: "misaligned sp",
			prog: a64.NewProgram().Emit(a64.SUBImm(a64.SP, a64.SP, 8), a64.STR(0, a64.SP, 0)),
			ec:   ring0.ECSPAlign,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code := tc.prog.MustAssemble()
			mc := newMachine(t, code)
			trap := mc.run(t)
			if trap.ESR.EC() != tc.ec {
				t.Fatalf("trap = %v, want EC %v", trap, tc.ec)
			}
			if trap.Vector != ring0.El0Sync {
				t.Errorf("vector = %v, want %v", trap.Vector, ring0.El0Sync)
			}
			if tc.checkFA && trap.FAR != tc.far {
				t.Errorf("FAR = %v, want %v", trap.FAR, tc.far)
			}
			if trap.ESR.IsAbort() && trap.ESR.IsWrite() != tc.write {
				t.Errorf("WnR = %t, want %t", trap.ESR.IsWrite(), tc.write)
			}
			// The faulting instruction is the last one emitted, and PC
			// still points at it.
			if want := uint64(codeAddr) + uint64(tc.prog.CodeSize()) - 4; tc.ec != ring0.ECInstAbortLower && mc.regs.Pc != want {
				t.Errorf("pc = %#x, want %#x", mc.regs.Pc, want)
			}
		})
	}
}

func TestTranslationFaultLevel(t *testing.T) {
	mc := newMachine(t, a64.NewProgram().MovImm(0, 0x7000_0000_0000).Emit(a64.LDR(1, 0, 0)).MustAssemble())
	trap := mc.run(t)
	if !trap.ESR.IsTranslationFault() {
		t.Fatalf("trap = %v, want a translation fault", trap)
	}
	if trap.ESR.FaultLevel() != 0 {
		t.Errorf("fault level = %d, want 0", trap.ESR.FaultLevel())
	}
}

func TestSwitchCancelled(t *testing.T) {
	p := a64.NewProgram().Label("spin").B("spin")
	mc := newMachine(t, p.MustAssemble())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mc.p.Switch(ctx, &ring0.SwitchOpts{Registers: &mc.regs, PageTables: mc.mm.PageTables()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Switch = %v, want %v", err, context.Canceled)
	}
}

func TestDecodeBitMasks(t *testing.T) {
	for _, tc := range []struct {
		n, imms, immr uint32
		size          uint
		want          uint64
	}{
		{1, 0b000111, 0, 64, 0xff},
		{0, 0b111100, 0, 64, 0x5555_5555_5555_5555},
		{0, 0b000000, 0, 32, 1},
		{1, 0b111110, 1, 64, 0xbfff_ffff_ffff_ffff},
	} {
		got, _, ok := decodeBitMasks(tc.n, tc.imms, tc.immr, true, tc.size)
		if !ok || got != tc.want {
			t.Errorf("decodeBitMasks(%d, %#b, %d) = %#x, %t, want %#x", tc.n, tc.imms, tc.immr, got, ok, tc.want)
		}
	}
	if _, _, ok := decodeBitMasks(1, 0b111111, 0, true, 64); ok {
		t.Errorf("all-ones immediate accepted")
	}
}
