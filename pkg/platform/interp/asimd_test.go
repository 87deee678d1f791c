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
	"bytes"
	"math"
	mbits "math/bits"
	"testing"

	"kestrel.dev/kestrel/pkg/mm"
	"kestrel.dev/kestrel/pkg/platform/interp/a64"
	"kestrel.dev/kestrel/pkg/ring0"
)

// iota16 is a vector holding the bytes 0-15.
var iota16 = [2]uint64{0x0706050403020100, 0x0f0e0d0c0b0a0908}

func TestVectorOps(t *testing.T) {
	for _, tc := range []struct {
		name       string
		insn       uint32
		v0, v1, v2 [2]uint64
		want       [2]uint64
	}{
		{
			name: "cmeq zero",
			insn: a64.CMEQ16BZero(0, 1),
			v1:   [2]uint64{0x00ff_0000_1200_0034, 0xffff_ffff_ffff_ff00},
			want: [2]uint64{0xff00_ffff_00ff_ff00, 0xff},
		},
		{
			name: "umaxp",
			insn: a64.UMAXP16B(0, 1, 2),
			v1:   iota16,
			want: [2]uint64{0x0f0d_0b09_0705_0301, 0},
		},
		{
			name: "tbl",
			insn: a64.TBL16B(0, 1, 2),
			v1:   iota16,
			v2:   [2]uint64{0x0809_0a0b_0c0d_0e0f, 0x4001_0203_0405_0607},
			want: [2]uint64{0x0809_0a0b_0c0d_0e0f, 0x0001_0203_0405_0607},
		},
		{
			name: "zip1",
			insn: a64.ZIP116B(0, 1, 2),
			v1:   iota16,
			v2:   [2]uint64{0x1716_1514_1312_1110, 0x1f1e_1d1c_1b1a_1918},
			want: [2]uint64{0x1303_1202_1101_1000, 0x1707_1606_1505_1404},
		},
		{
			name: "ext",
			insn: a64.EXT16B(0, 1, 2, 3),
			v1:   iota16,
			v2:   [2]uint64{0x1716_1514_1312_1110, 0x1f1e_1d1c_1b1a_1918},
			want: [2]uint64{0x0a09_0807_0605_0403, 0x1211_100f_0e0d_0c0b},
		},
		{
			name: "bsl",
			insn: a64.BSL16B(0, 1, 2),
			v0:   [2]uint64{0xffff_0000_ffff_0000, 0x0f0f_0f0f_0f0f_0f0f},
			v1:   [2]uint64{0xaaaa_aaaa_aaaa_aaaa, 0xaaaa_aaaa_aaaa_aaaa},
			v2:   [2]uint64{0x5555_5555_5555_5555, 0x5555_5555_5555_5555},
			want: [2]uint64{0xaaaa_5555_aaaa_5555, 0x5a5a_5a5a_5a5a_5a5a},
		},
		{
			name: "fadd 2d",
			insn: a64.FADD2D(0, 1, 2),
			v1:   [2]uint64{math.Float64bits(1.5), math.Float64bits(-2)},
			v2:   [2]uint64{math.Float64bits(0.25), math.Float64bits(8)},
			want: [2]uint64{math.Float64bits(1.75), math.Float64bits(6)},
		},
		{
			name: "scvtf 2d",
			insn: a64.SCVTF2D(0, 1),
			v1:   [2]uint64{^uint64(2), 1 << 40},
			want: [2]uint64{math.Float64bits(-3), math.Float64bits(1 << 40)},
		},
		{
			name: "fcvtzs 2d",
			insn: a64.FCVTZS2D(0, 1),
			v1:   [2]uint64{math.Float64bits(-2.5), math.Float64bits(1e300)},
			want: [2]uint64{^uint64(1), math.MaxInt64},
		},
		{
			name: "fmov 4s immediate",
			insn: a64.FMOV4SImm(0, 0x70),
			want: [2]uint64{0x3f80_0000_3f80_0000, 0x3f80_0000_3f80_0000},
		},
		{
			name: "ushr 2d",
			insn: a64.USHR2D(0, 1, 4),
			v1:   [2]uint64{0xf0, 1 << 63},
			want: [2]uint64{0xf, 1 << 59},
		},
		{
			name: "uxtl",
			insn: a64.UXTL8H(0, 1),
			v1:   [2]uint64{0x0807_0605_0403_02ff, 0xdead},
			want: [2]uint64{0x0004_0003_0002_00ff, 0x0008_0007_0006_0005},
		},
		{
			name: "shrn",
			insn: a64.SHRN8B(0, 1, 4),
			v0:   [2]uint64{0, 0x1234},
			v1:   [2]uint64{0x0000_ff00_00ff_1234, 0xffff_0ff0_abcd_0000},
			want: [2]uint64{0xffff_bc00_00f0_0f23, 0},
		},
		{
			name: "addp scalar",
			insn: a64.ADDPD(0, 1),
			v1:   [2]uint64{5, 7},
			want: [2]uint64{12, 0},
		},
		{
			name: "cnt",
			insn: a64.CNT16B(0, 1),
			v1:   [2]uint64{0xff01, 0x8000_0000_0000_0003},
			want: [2]uint64{0x0801, 0x0100_0000_0000_0002},
		},
		{
			name: "addv",
			insn: a64.ADDV16B(0, 1),
			v1:   iota16,
			want: [2]uint64{120, 0},
		},
		{
			name: "uminv",
			insn: a64.UMINV16B(0, 1),
			v1:   [2]uint64{0x0706_0504_0302_0120, 0x0f0e_0d0c_0b0a_0908},
			want: [2]uint64{1, 0},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mc := newMachine(t, a64.NewProgram().Emit(tc.insn, a64.SVC(0)).MustAssemble())
			mc.p.vregs[0], mc.p.vregs[1], mc.p.vregs[2] = tc.v0, tc.v1, tc.v2
			mc.runToSVC(t)
			if got := mc.p.vregs[0]; got != tc.want {
				t.Errorf("v0 = %#x, want %#x", got, tc.want)
			}
		})
	}
}

func TestVectorStrlen(t *testing.T) {
	// Find the terminator in a 16-byte block the way libc's strlen does:
	// compare with zero, narrow the mask to a nibble per byte and count
	// trailing zeros.
	s := "hello, world!\x00\x00\x00"
	p := a64.NewProgram().
		ADR(0, "s").
		Emit(
			a64.LD116B(0, 0),
			a64.CMEQ16BZero(1, 0),
			a64.UMAXV16B(2, 1),
			a64.SHRN8B(3, 1, 4),
			a64.FMOVXD(1, 3),
			a64.FMOVXD(2, 2),
			a64.CNT16B(4, 0),
			a64.ADDV16B(5, 4),
			a64.FMOVXD(3, 5),
			a64.SVC(0),
		).
		Data("s", []byte(s))
	mc := newMachine(t, p.MustAssemble())
	mc.runToSVC(t)

	if got := mc.regs.Regs[2]; got != 0xff {
		t.Errorf("umaxv = %#x, want 0xff", got)
	}
	if got, want := mbits.TrailingZeros64(mc.regs.Regs[1])/4, len("hello, world!"); got != want {
		t.Errorf("length = %d (mask %#x), want %d", got, mc.regs.Regs[1], want)
	}
	popcount := 0
	for _, b := range []byte(s) {
		popcount += mbits.OnesCount8(b)
	}
	if got := mc.regs.Regs[3]; got != uint64(popcount) {
		t.Errorf("popcount = %d, want %d", got, popcount)
	}
}

func TestStructureLoadStore(t *testing.T) {
	src := make([]byte, 64)
	for i := range src {
		src[i] = byte(i)
	}
	p := a64.NewProgram().
		ADR(0, "src").
		MovImm(1, uint64(dataAddr)).
		Emit(
			a64.MOV(2, 0),
			a64.LD116BPost(0, 0),
			a64.ST116B(0, 1),
			a64.LD416B(16, 2),
			a64.LD1R16B(6, 0),
			a64.SVC(0),
		).
		Data("src", src)
	mc := newMachine(t, p.MustAssemble())
	mc.runToSVC(t)

	if got, want := mc.regs.Regs[0], mc.regs.Regs[2]+16; got != want {
		t.Errorf("post-indexed base = %#x, want %#x", got, want)
	}
	if mc.p.vregs[0] != iota16 {
		t.Errorf("v0 = %#x, want %#x", mc.p.vregs[0], iota16)
	}
	buf := make([]byte, 16)
	if _, err := mc.mm.CopyIn(dataAddr, buf, mm.IOOpts{}); err != nil || !bytes.Equal(buf, src[:16]) {
		t.Errorf("stored %x, %v, want %x", buf, err, src[:16])
	}
	// LD4 deinterleaves: register i holds bytes i, i+4, i+8 and so on.
	for i := 0; i < 4; i++ {
		var want [16]byte
		for e := range want {
			want[e] = byte(4*e + i)
		}
		if got := mc.vbytesOf(16 + i); got != want {
			t.Errorf("v%d = %x, want %x", 16+i, got, want)
		}
	}
	if got := mc.p.vregs[6]; got != [2]uint64{0x1010_1010_1010_1010, 0x1010_1010_1010_1010} {
		t.Errorf("ld1r = %#x, want byte 0x10 in every lane", got)
	}
}

// vbytesOf returns the bytes of register r.
func (mc *machine) vbytesOf(r int) [16]byte {
	c := &cpu{p: mc.p}
	return c.vbytes(uint32(r))
}

func TestFeatureRegisters(t *testing.T) {
	const (
		idAA64PFR0EL1  = 3<<14 | 0<<11 | 0<<7 | 4<<3 | 0
		idAA64ISAR0EL1 = 3<<14 | 0<<11 | 0<<7 | 6<<3 | 0
	)
	p := a64.NewProgram().Emit(
		a64.MOVN(1, 0, 0),
		a64.MRS(0, idAA64PFR0EL1),
		a64.MRS(1, idAA64ISAR0EL1),
		a64.SVC(0),
	)
	mc := newMachine(t, p.MustAssemble())
	mc.runToSVC(t)
	if got := mc.regs.Regs[0]; got != 0x11 {
		t.Errorf("ID_AA64PFR0_EL1 = %#x, want 0x11", got)
	}
	if got := mc.regs.Regs[1]; got != 0 {
		t.Errorf("ID_AA64ISAR0_EL1 = %#x, want 0", got)
	}

	// Registers outside the ID space are still undefined at EL0.
	const sctlrEL1 = 3<<14 | 0<<11 | 1<<7 | 0<<3 | 0
	mc = newMachine(t, a64.NewProgram().Emit(a64.MRS(0, sctlrEL1)).MustAssemble())
	if trap := mc.run(t); trap.ESR.EC() != ring0.ECUnknown {
		t.Errorf("mrs SCTLR_EL1 trap = %v, want EC %v", trap, ring0.ECUnknown)
	}
}
