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
	"math"
	"testing"

	"kestrel.dev/kestrel/pkg/platform/interp/a64"
)

func f64(f float64) [2]uint64 {
	return [2]uint64{math.Float64bits(f), 0}
}

func TestFPArithmetic(t *testing.T) {
	p := a64.NewProgram().
		MovImm(0, math.Float64bits(1.5)).
		MovImm(1, math.Float64bits(2.25)).
		Emit(
			a64.FMOVDX(0, 0),
			a64.FMOVDX(1, 1),
			a64.FADDD(2, 0, 1),
			a64.FMULD(3, 0, 1),
			a64.FDIVD(4, 1, 0),
			a64.FSUBD(5, 0, 1),
			a64.FMADDD(6, 0, 1, 2),
			a64.FSQRTD(7, 1),
			a64.FMOVDImm(8, 0x70),
			a64.FRINTZD(9, 5),
			a64.FRINTAD(10, 4),
			a64.FMAXD(11, 0, 5),
			a64.FCVTSD(12, 0),
			a64.FCVTDS(13, 12),
			a64.FCVTZSD(2, 6),
			a64.FMOVXD(3, 3),
			a64.SVC(0),
		)
	mc := newMachine(t, p.MustAssemble())
	mc.runToSVC(t)

	for r, want := range map[int]float64{
		2:  3.75,
		3:  3.375,
		4:  1.5,
		5:  -0.75,
		6:  7.125,
		7:  1.5,
		8:  1,
		9:  math.Copysign(0, -1),
		10: 2,
		11: 1.5,
		13: 1.5,
	} {
		if got := mc.p.vregs[r]; got != f64(want) {
			t.Errorf("d%d = %#x, want %v", r, got, want)
		}
	}
	if got, want := mc.p.vregs[12], [2]uint64{uint64(math.Float32bits(1.5)), 0}; got != want {
		t.Errorf("s12 = %#x, want %#x", got, want)
	}
	if got := mc.regs.Regs[2]; got != 7 {
		t.Errorf("fcvtzs = %d, want 7", got)
	}
	if got := mc.regs.Regs[3]; got != math.Float64bits(3.375) {
		t.Errorf("fmov x3 = %#x, want bits of 3.375", got)
	}
}

func TestFPCompare(t *testing.T) {
	for _, tc := range []struct {
		name string
		a, b float64
		want uint64
	}{
		{"less", 1, 2, flagN},
		{"equal", 2, 2, flagZ | flagC},
		{"greater", 3, 2, flagC},
		{"signed zeros", math.Copysign(0, -1), 0, flagZ | flagC},
		{"unordered", math.NaN(), 2, flagC | flagV},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := a64.NewProgram().Emit(a64.FCMPD(0, 1), a64.SVC(0))
			mc := newMachine(t, p.MustAssemble())
			mc.p.vregs[0], mc.p.vregs[1] = f64(tc.a), f64(tc.b)
			mc.runToSVC(t)
			if got := mc.regs.Pstate & flagsMask; got != tc.want {
				t.Errorf("nzcv = %#x, want %#x", got, tc.want)
			}
		})
	}
}

func TestFPConditionalSelect(t *testing.T) {
	p := a64.NewProgram().Emit(
		a64.FCMPDZero(0),
		a64.FCSELD(2, 0, 1, a64.GT),
		a64.SVC(0),
	)
	for _, tc := range []struct {
		x, want float64
	}{
		{5, 5},
		{-5, 9},
		{math.NaN(), 9},
	} {
		mc := newMachine(t, p.MustAssemble())
		mc.p.vregs[0], mc.p.vregs[1] = f64(tc.x), f64(9)
		mc.runToSVC(t)
		if got := mc.p.vregs[2]; got != f64(tc.want) {
			t.Errorf("fcsel with d0 = %v: got %#x, want %v", tc.x, got, tc.want)
		}
	}
}

func TestFPToIntegerSaturates(t *testing.T) {
	for _, tc := range []struct {
		name     string
		insn     uint32
		in       float64
		want     uint64
		intToFP  bool
		inInt    uint64
		wantReal float64
	}{
		{name: "in range", insn: a64.FCVTZSD(0, 0), in: -3.9, want: ^uint64(2)},
		{name: "positive overflow", insn: a64.FCVTZSD(0, 0), in: 1e300, want: math.MaxInt64},
		{name: "negative overflow", insn: a64.FCVTZSD(0, 0), in: -1e300, want: 1 << 63},
		{name: "nan", insn: a64.FCVTZSD(0, 0), in: math.NaN(), want: 0},
		{name: "unsigned negative", insn: a64.FCVTZUD(0, 0), in: -5, want: 0},
		{name: "unsigned overflow", insn: a64.FCVTZUD(0, 0), in: math.Inf(1), want: math.MaxUint64},
		{name: "signed to double", insn: a64.SCVTFD(0, 0), intToFP: true, inInt: ^uint64(41), wantReal: -42},
		{name: "unsigned to double", insn: a64.UCVTFD(0, 0), intToFP: true, inInt: 1 << 63, wantReal: 1 << 63},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mc := newMachine(t, a64.NewProgram().Emit(tc.insn, a64.SVC(0)).MustAssemble())
			if tc.intToFP {
				mc.regs.Regs[0] = tc.inInt
				mc.runToSVC(t)
				if got := mc.p.vregs[0]; got != f64(tc.wantReal) {
					t.Errorf("d0 = %#x, want %v", got, tc.wantReal)
				}
				return
			}
			mc.p.vregs[0] = f64(tc.in)
			mc.runToSVC(t)
			if got := mc.regs.Regs[0]; got != tc.want {
				t.Errorf("x0 = %#x, want %#x", got, tc.want)
			}
		})
	}
}

func TestNaNPropagation(t *testing.T) {
	const (
		qnan  = 0x7ff8_0000_0000_0001
		snan  = 0x7ff0_0000_0000_0002
		one   = 0x3ff0_0000_0000_0000
		dnan  = 0x7ff8_0000_0000_0000
		inf   = 0x7ff0_0000_0000_0000
		zero  = 0
		quiet = 1 << 51
	)
	c := &cpu{p: &Interp{}}
	for _, tc := range []struct {
		name string
		op   fpOp
		a, b uint64
		dn   bool
		want uint64
	}{
		{"quiet operand", fpAdd, one, qnan, false, qnan},
		{"signaling wins", fpAdd, qnan, snan, false, snan | quiet},
		{"default nan mode", fpMul, qnan, one, true, dnan},
		{"invalid product", fpMul, inf, zero, false, dnan},
		{"maxnum ignores quiet nan", fpMaxNum, qnan, one, false, one},
		{"maxnum signaling", fpMaxNum, snan, one, false, snan | quiet},
		{"max of zeros", fpMax, 1 << 63, zero, false, zero},
		{"min of zeros", fpMin, zero, 1 << 63, false, 1 << 63},
		{"negated nan", fpNMul, qnan | 1<<63, one, false, qnan},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c.p.fpcr = 0
			if tc.dn {
				c.p.fpcr = fpcrDN
			}
			if got := c.fpArith(tc.op, tc.a, tc.b, 8); got != tc.want {
				t.Errorf("result = %#x, want %#x", got, tc.want)
			}
		})
	}
}

func TestFPConvertKeepsNaNPayload(t *testing.T) {
	c := &cpu{p: &Interp{}}
	single := uint64(0x7fc0_1234)
	double := c.fpConvert(single, 4, 8)
	if !math.IsNaN(math.Float64frombits(double)) {
		t.Fatalf("converted %#x is not a NaN", double)
	}
	if back := c.fpConvert(double, 8, 4); back != single {
		t.Errorf("round trip = %#x, want %#x", back, single)
	}
}
