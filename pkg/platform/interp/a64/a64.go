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

// Package a64 is a small A64 assembler for building test programs.
//
// Registers are numbered 0-30, with 31 meaning SP or XZR as the instruction
// defines. All encoders produce 64-bit forms unless named with a W.
package a64

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/binary"
)

// Register aliases.
const (
	SP  = 31
	XZR = 31
	LR  = 30
)

// Condition codes.
const (
	EQ = iota
	NE
	CS
	CC
	MI
	PL
	VS
	VC
	HI
	LS
	GE
	LT
	GT
	LE
	AL
)

// MOVZ moves imm16<<(16*hw) into rd.
func MOVZ(rd uint32, imm16 uint16, hw uint32) uint32 {
	return 0xd2800000 | hw<<21 | uint32(imm16)<<5 | rd
}

// MOVK keeps rd except for the halfword hw.
func MOVK(rd uint32, imm16 uint16, hw uint32) uint32 {
	return 0xf2800000 | hw<<21 | uint32(imm16)<<5 | rd
}

// MOVN moves ^(imm16<<(16*hw)) into rd.
func MOVN(rd uint32, imm16 uint16, hw uint32) uint32 {
	return 0x92800000 | hw<<21 | uint32(imm16)<<5 | rd
}

// MOV copies rm to rd (ORR rd, xzr, rm).
func MOV(rd, rm uint32) uint32 {
	return 0xaa0003e0 | rm<<16 | rd
}

// ADDImm adds a 12-bit immediate; rd and rn may be SP.
func ADDImm(rd, rn, imm12 uint32) uint32 {
	return 0x91000000 | imm12<<10 | rn<<5 | rd
}

// SUBImm subtracts a 12-bit immediate; rd and rn may be SP.
func SUBImm(rd, rn, imm12 uint32) uint32 {
	return 0xd1000000 | imm12<<10 | rn<<5 | rd
}

// CMPImm compares rn with an immediate (SUBS xzr, rn, #imm).
func CMPImm(rn, imm12 uint32) uint32 {
	return 0xf1000000 | imm12<<10 | rn<<5 | XZR
}

// CMPWImm compares the low word of rn with an immediate.
func CMPWImm(rn, imm12 uint32) uint32 {
	return 0x71000000 | imm12<<10 | rn<<5 | XZR
}

// ADD adds registers.
func ADD(rd, rn, rm uint32) uint32 {
	return 0x8b000000 | rm<<16 | rn<<5 | rd
}

// SUB subtracts registers.
func SUB(rd, rn, rm uint32) uint32 {
	return 0xcb000000 | rm<<16 | rn<<5 | rd
}

// SUBS subtracts registers and sets flags.
func SUBS(rd, rn, rm uint32) uint32 {
	return 0xeb000000 | rm<<16 | rn<<5 | rd
}

// MUL multiplies registers (MADD rd, rn, rm, xzr).
func MUL(rd, rn, rm uint32) uint32 {
	return 0x9b007c00 | rm<<16 | rn<<5 | rd
}

// UDIV divides registers.
func UDIV(rd, rn, rm uint32) uint32 {
	return 0x9ac00800 | rm<<16 | rn<<5 | rd
}

// LSLImm shifts left by a constant (UBFM).
func LSLImm(rd, rn, shift uint32) uint32 {
	immr := (64 - shift) % 64
	imms := 63 - shift
	return 0xd3400000 | immr<<16 | imms<<10 | rn<<5 | rd
}

// CSEL selects rn if cond holds, else rm.
func CSEL(rd, rn, rm, cond uint32) uint32 {
	return 0x9a800000 | rm<<16 | cond<<12 | rn<<5 | rd
}

// LDR loads a doubleword at rn+off, off a multiple of 8.
func LDR(rt, rn, off uint32) uint32 {
	return 0xf9400000 | (off/8)<<10 | rn<<5 | rt
}

// STR stores a doubleword at rn+off, off a multiple of 8.
func STR(rt, rn, off uint32) uint32 {
	return 0xf9000000 | (off/8)<<10 | rn<<5 | rt
}

// LDRB loads a byte at rn+off.
func LDRB(rt, rn, off uint32) uint32 {
	return 0x39400000 | off<<10 | rn<<5 | rt
}

// STRB stores a byte at rn+off.
func STRB(rt, rn, off uint32) uint32 {
	return 0x39000000 | off<<10 | rn<<5 | rt
}

// LDRBReg loads a byte at rn+rm.
func LDRBReg(rt, rn, rm uint32) uint32 {
	return 0x38606800 | rm<<16 | rn<<5 | rt
}

// STRBReg stores a byte at rn+rm.
func STRBReg(rt, rn, rm uint32) uint32 {
	return 0x38206800 | rm<<16 | rn<<5 | rt
}

// STPPre stores a pair at rn+off and writes rn+off back to rn.
func STPPre(rt, rt2, rn uint32, off int32) uint32 {
	return 0xa9800000 | uint32(off/8)&0x7f<<15 | rt2<<10 | rn<<5 | rt
}

// LDPPost loads a pair from rn and then adds off to rn.
func LDPPost(rt, rt2, rn uint32, off int32) uint32 {
	return 0xa8c00000 | uint32(off/8)&0x7f<<15 | rt2<<10 | rn<<5 | rt
}

// SVC is a supervisor call.
func SVC(imm16 uint16) uint32 {
	return 0xd4000001 | uint32(imm16)<<5
}

// BRK is a breakpoint.
func BRK(imm16 uint16) uint32 {
	return 0xd4200000 | uint32(imm16)<<5
}

// RET returns through LR.
func RET() uint32 {
	return 0xd65f03c0
}

// BR branches to rn.
func BR(rn uint32) uint32 {
	return 0xd61f0000 | rn<<5
}

// BLR calls rn.
func BLR(rn uint32) uint32 {
	return 0xd63f0000 | rn<<5
}

// NOP does nothing.
func NOP() uint32 {
	return 0xd503201f
}

// MSRTPIDR writes rt to TPIDR_EL0.
func MSRTPIDR(rt uint32) uint32 {
	return 0xd51bd040 | rt
}

// MRSTPIDR reads TPIDR_EL0 into rt.
func MRSTPIDR(rt uint32) uint32 {
	return 0xd53bd040 | rt
}

// FADDD adds double-precision registers.
func FADDD(rd, rn, rm uint32) uint32 {
	return 0x1e602800 | rm<<16 | rn<<5 | rd
}

// FSUBD subtracts double-precision registers.
func FSUBD(rd, rn, rm uint32) uint32 {
	return 0x1e603800 | rm<<16 | rn<<5 | rd
}

// FMULD multiplies double-precision registers.
func FMULD(rd, rn, rm uint32) uint32 {
	return 0x1e600800 | rm<<16 | rn<<5 | rd
}

// FDIVD divides double-precision registers.
func FDIVD(rd, rn, rm uint32) uint32 {
	return 0x1e601800 | rm<<16 | rn<<5 | rd
}

// FMAXD is the double-precision maximum.
func FMAXD(rd, rn, rm uint32) uint32 {
	return 0x1e604800 | rm<<16 | rn<<5 | rd
}

// FMINNMD is the double-precision minimum that ignores a quiet NaN.
func FMINNMD(rd, rn, rm uint32) uint32 {
	return 0x1e607800 | rm<<16 | rn<<5 | rd
}

// FMADDD computes ra + rn*rm with a single rounding.
func FMADDD(rd, rn, rm, ra uint32) uint32 {
	return 0x1f400000 | rm<<16 | ra<<10 | rn<<5 | rd
}

// FSQRTD is the double-precision square root.
func FSQRTD(rd, rn uint32) uint32 {
	return 0x1e61c000 | rn<<5 | rd
}

// FRINTZD rounds toward zero to an integral value.
func FRINTZD(rd, rn uint32) uint32 {
	return 0x1e65c000 | rn<<5 | rd
}

// FRINTAD rounds to nearest, ties away, to an integral value.
func FRINTAD(rd, rn uint32) uint32 {
	return 0x1e664000 | rn<<5 | rd
}

// FCVTSD converts double to single precision.
func FCVTSD(rd, rn uint32) uint32 {
	return 0x1e624000 | rn<<5 | rd
}

// FCVTDS converts single to double precision.
func FCVTDS(rd, rn uint32) uint32 {
	return 0x1e22c000 | rn<<5 | rd
}

// FCMPD compares double-precision registers, setting NZCV.
func FCMPD(rn, rm uint32) uint32 {
	return 0x1e602000 | rm<<16 | rn<<5
}

// FCMPDZero compares a double-precision register with zero.
func FCMPDZero(rn uint32) uint32 {
	return 0x1e602008 | rn<<5
}

// FCSELD selects rn if cond holds, else rm.
func FCSELD(rd, rn, rm, cond uint32) uint32 {
	return 0x1e600c00 | rm<<16 | cond<<12 | rn<<5 | rd
}

// FMOVDImm moves an 8-bit encoded floating-point constant; 0x70 is 1.0.
func FMOVDImm(rd, imm8 uint32) uint32 {
	return 0x1e601000 | imm8<<13 | rd
}

// FMOVDX moves Xn to Dd.
func FMOVDX(rd, rn uint32) uint32 {
	return 0x9e670000 | rn<<5 | rd
}

// FMOVXD moves Dn to Xd.
func FMOVXD(rd, rn uint32) uint32 {
	return 0x9e660000 | rn<<5 | rd
}

// SCVTFD converts signed Xn to double precision.
func SCVTFD(rd, rn uint32) uint32 {
	return 0x9e620000 | rn<<5 | rd
}

// UCVTFD converts unsigned Xn to double precision.
func UCVTFD(rd, rn uint32) uint32 {
	return 0x9e630000 | rn<<5 | rd
}

// FCVTZSD converts Dn to a signed Xd, rounding toward zero.
func FCVTZSD(rd, rn uint32) uint32 {
	return 0x9e780000 | rn<<5 | rd
}

// FCVTZUD converts Dn to an unsigned Xd, rounding toward zero.
func FCVTZUD(rd, rn uint32) uint32 {
	return 0x9e790000 | rn<<5 | rd
}

// FADD2D adds two vectors of doubles.
func FADD2D(rd, rn, rm uint32) uint32 {
	return 0x4e60d400 | rm<<16 | rn<<5 | rd
}

// SCVTF2D converts a vector of signed 64-bit integers to doubles.
func SCVTF2D(rd, rn uint32) uint32 {
	return 0x4e61d800 | rn<<5 | rd
}

// FCVTZS2D converts a vector of doubles to signed 64-bit integers.
func FCVTZS2D(rd, rn uint32) uint32 {
	return 0x4ee1b800 | rn<<5 | rd
}

// FMOV4SImm replicates an encoded single-precision constant.
func FMOV4SImm(rd, imm8 uint32) uint32 {
	return 0x4f00f400 | (imm8>>5)<<16 | (imm8&0x1f)<<5 | rd
}

// LD116B loads 16 bytes from [rn] into rt.
func LD116B(rt, rn uint32) uint32 {
	return 0x4c407000 | rn<<5 | rt
}

// LD116BPost is LD116B, then adds 16 to rn.
func LD116BPost(rt, rn uint32) uint32 {
	return 0x4cdf7000 | rn<<5 | rt
}

// ST116B stores rt to [rn].
func ST116B(rt, rn uint32) uint32 {
	return 0x4c007000 | rn<<5 | rt
}

// LD416B loads 64 bytes from [rn], deinterleaving them into rt..rt+3.
func LD416B(rt, rn uint32) uint32 {
	return 0x4c400000 | rn<<5 | rt
}

// LD1R16B loads one byte from [rn] into every lane of rt.
func LD1R16B(rt, rn uint32) uint32 {
	return 0x4d40c000 | rn<<5 | rt
}

// DUP16B replicates the low byte of Wn.
func DUP16B(rd, rn uint32) uint32 {
	return 0x4e010c00 | rn<<5 | rd
}

// AND16B is the bitwise AND of two vectors.
func AND16B(rd, rn, rm uint32) uint32 {
	return 0x4e201c00 | rm<<16 | rn<<5 | rd
}

// BSL16B selects bits of rn where rd is set and of rm elsewhere.
func BSL16B(rd, rn, rm uint32) uint32 {
	return 0x6e601c00 | rm<<16 | rn<<5 | rd
}

// CMEQ16BZero sets each byte of rd to all ones where rn is zero.
func CMEQ16BZero(rd, rn uint32) uint32 {
	return 0x4e209800 | rn<<5 | rd
}

// UMAXP16B is the pairwise unsigned byte maximum.
func UMAXP16B(rd, rn, rm uint32) uint32 {
	return 0x6e20a400 | rm<<16 | rn<<5 | rd
}

// CNT16B counts the set bits of each byte.
func CNT16B(rd, rn uint32) uint32 {
	return 0x4e205800 | rn<<5 | rd
}

// ADDV16B sums the bytes of rn into Bd.
func ADDV16B(rd, rn uint32) uint32 {
	return 0x4e31b800 | rn<<5 | rd
}

// UMAXV16B is the unsigned maximum of the bytes of rn.
func UMAXV16B(rd, rn uint32) uint32 {
	return 0x6e30a800 | rn<<5 | rd
}

// UMINV16B is the unsigned minimum of the bytes of rn.
func UMINV16B(rd, rn uint32) uint32 {
	return 0x6e31a800 | rn<<5 | rd
}

// ADDPD adds the two doublewords of rn into Dd.
func ADDPD(rd, rn uint32) uint32 {
	return 0x5ef1b800 | rn<<5 | rd
}

// SHRN8B narrows the halfwords of rn to bytes, shifting right by shift.
func SHRN8B(rd, rn, shift uint32) uint32 {
	return 0x0f008400 | (16-shift)<<16 | rn<<5 | rd
}

// USHR2D shifts each doubleword right by shift.
func USHR2D(rd, rn, shift uint32) uint32 {
	return 0x6f000400 | (128-shift)<<16 | rn<<5 | rd
}

// UXTL8H zero-extends the low eight bytes of rn to halfwords.
func UXTL8H(rd, rn uint32) uint32 {
	return 0x2f08a400 | rn<<5 | rd
}

// TBL16B looks up the bytes of rm in the table rn.
func TBL16B(rd, rn, rm uint32) uint32 {
	return 0x4e000000 | rm<<16 | rn<<5 | rd
}

// ZIP116B interleaves the low halves of rn and rm.
func ZIP116B(rd, rn, rm uint32) uint32 {
	return 0x4e003800 | rm<<16 | rn<<5 | rd
}

// EXT16B extracts 16 bytes from rn:rm starting at byte imm4 of rn.
func EXT16B(rd, rn, rm, imm4 uint32) uint32 {
	return 0x6e000000 | rm<<16 | imm4<<11 | rn<<5 | rd
}

// MRS reads the system register op0:op1:CRn:CRm:op2 into rt.
func MRS(rt, sysreg uint32) uint32 {
	return 0xd5200000 | sysreg<<5 | rt
}

type fixupKind int

const (
	fixupB fixupKind = iota
	fixupBL
	fixupBCond
	fixupCBZ
	fixupCBNZ
	fixupADR
)

type fixup struct {
	at    int
	label string
	kind  fixupKind
	reg   uint32
}

// Program accumulates instructions and data with symbolic labels.
type Program struct {
	insns  []uint32
	data   []byte
	labels map[string]int // Byte offset; data labels are relative to the data start.
	isData map[string]bool
	fixups []fixup
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{
		labels: make(map[string]int),
		isData: make(map[string]bool),
	}
}

// Emit appends instructions.
func (p *Program) Emit(insns ...uint32) *Program {
	p.insns = append(p.insns, insns...)
	return p
}

// Label defines name at the next instruction.
func (p *Program) Label(name string) *Program {
	p.labels[name] = 4 * len(p.insns)
	return p
}

// Data defines name as the given bytes, placed after the code and aligned
// to 8 bytes.
func (p *Program) Data(name string, b []byte) *Program {
	for len(p.data)%8 != 0 {
		p.data = append(p.data, 0)
	}
	p.labels[name] = len(p.data)
	p.isData[name] = true
	p.data = append(p.data, b...)
	return p
}

// MovImm loads an arbitrary 64-bit constant.
func (p *Program) MovImm(rd uint32, v uint64) *Program {
	p.Emit(MOVZ(rd, uint16(v), 0))
	for hw := uint32(1); hw < 4; hw++ {
		if h := uint16(v >> (16 * hw)); h != 0 {
			p.Emit(MOVK(rd, h, hw))
		}
	}
	return p
}

func (p *Program) ref(kind fixupKind, reg uint32, label string) *Program {
	p.fixups = append(p.fixups, fixup{at: len(p.insns), label: label, kind: kind, reg: reg})
	p.insns = append(p.insns, 0)
	return p
}

// B branches to label.
func (p *Program) B(label string) *Program { return p.ref(fixupB, 0, label) }

// BL calls label.
func (p *Program) BL(label string) *Program { return p.ref(fixupBL, 0, label) }

// BCond branches to label if cond holds.
func (p *Program) BCond(cond uint32, label string) *Program { return p.ref(fixupBCond, cond, label) }

// CBZ branches to label if rt is zero.
func (p *Program) CBZ(rt uint32, label string) *Program { return p.ref(fixupCBZ, rt, label) }

// CBNZ branches to label if rt is not zero.
func (p *Program) CBNZ(rt uint32, label string) *Program { return p.ref(fixupCBNZ, rt, label) }

// ADR loads the address of label.
func (p *Program) ADR(rd uint32, label string) *Program { return p.ref(fixupADR, rd, label) }

// Syscall loads the number into x8 and issues svc #0.
func (p *Program) Syscall(nr uint64) *Program {
	return p.MovImm(8, nr).Emit(SVC(0))
}

// CodeSize returns the size of the code in bytes.
func (p *Program) CodeSize() int {
	return 4 * len(p.insns)
}

// Assemble resolves labels and returns code followed by data.
func (p *Program) Assemble() ([]byte, error) {
	dataStart := (p.CodeSize() + 7) &^ 7
	insns := append([]uint32(nil), p.insns...)
	for _, f := range p.fixups {
		target, ok := p.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		if p.isData[f.label] {
			target += dataStart
		}
		off := int32(target - 4*f.at)
		switch f.kind {
		case fixupB:
			insns[f.at] = 0x14000000 | uint32(off/4)&0x3ffffff
		case fixupBL:
			insns[f.at] = 0x94000000 | uint32(off/4)&0x3ffffff
		case fixupBCond:
			insns[f.at] = 0x54000000 | uint32(off/4)&0x7ffff<<5 | f.reg
		case fixupCBZ:
			insns[f.at] = 0xb4000000 | uint32(off/4)&0x7ffff<<5 | f.reg
		case fixupCBNZ:
			insns[f.at] = 0xb5000000 | uint32(off/4)&0x7ffff<<5 | f.reg
		case fixupADR:
			u := uint32(off) & 0x1fffff
			insns[f.at] = 0x10000000 | (u&3)<<29 | (u>>2)<<5 | f.reg
		}
	}
	out := make([]byte, 0, dataStart+len(p.data))
	for _, insn := range insns {
		out = binary.AppendUint32(out, insn)
	}
	for len(out) < dataStart {
		out = append(out, 0)
	}
	return append(out, p.data...), nil
}

// MustAssemble is Assemble that panics on error.
func (p *Program) MustAssemble() []byte {
	b, err := p.Assemble()
	if err != nil {
		panic(err)
	}
	return b
}
