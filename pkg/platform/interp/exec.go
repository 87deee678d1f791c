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
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/ring0"
)

// bits returns insn[hi:lo].
func bits(insn uint32, hi, lo uint) uint32 {
	return (insn >> lo) & (1<<(hi-lo+1) - 1)
}

// bit returns insn[n].
func bit(insn uint32, n uint) bool {
	return insn>>n&1 != 0
}

// sext sign-extends the low n bits of v.
func sext(v uint64, n uint) uint64 {
	shift := 64 - n
	return uint64(int64(v<<shift) >> shift)
}

// x returns register r, with 31 reading as zero.
func (c *cpu) x(r uint32) uint64 {
	if r == 31 {
		return 0
	}
	return c.regs.Regs[r]
}

// xsp returns register r, with 31 reading as SP.
func (c *cpu) xsp(r uint32) uint64 {
	if r == 31 {
		return c.regs.Sp
	}
	return c.regs.Regs[r]
}

// setX writes register r, discarding writes to 31. 32-bit results are
// zero-extended.
func (c *cpu) setX(r uint32, v uint64, sf bool) {
	if !sf {
		v = uint64(uint32(v))
	}
	if r != 31 {
		c.regs.Regs[r] = v
	}
}

// setXSP writes register r, with 31 naming SP.
func (c *cpu) setXSP(r uint32, v uint64, sf bool) {
	if !sf {
		v = uint64(uint32(v))
	}
	if r == 31 {
		c.regs.Sp = v
		return
	}
	c.regs.Regs[r] = v
}

func undefined() *exception {
	return &exception{esr: ring0.MakeESR(ring0.ECUnknown, 0)}
}

// step executes one instruction.
func (c *cpu) step() *exception {
	insn, exc := c.fetch()
	if exc != nil {
		return exc
	}
	pc := c.regs.Pc
	c.regs.Pc += 4

	switch {
	case bits(insn, 28, 26) == 0b100:
		exc = c.dataProcessingImm(insn, pc)
	case bits(insn, 28, 26) == 0b101:
		exc = c.branchSystem(insn, pc)
	case bit(insn, 27) && !bit(insn, 25):
		exc = c.loadStore(insn, pc)
	case bits(insn, 27, 25) == 0b101:
		exc = c.dataProcessingReg(insn)
	case bits(insn, 27, 25) == 0b111:
		exc = c.simd(insn)
	default:
		exc = undefined()
	}
	if exc != nil {
		// The exception is taken on the instruction. SVC is the exception:
		// its preferred return address is the next instruction, which
		// branchSystem leaves in PC.
		if exc.esr.EC() != ring0.ECSVC64 {
			c.regs.Pc = pc
		}
	}
	return exc
}

// Condition flags in PSTATE.
const (
	flagN = 1 << 31
	flagZ = 1 << 30
	flagC = 1 << 29
	flagV = 1 << 28

	flagsMask = flagN | flagZ | flagC | flagV
)

func (c *cpu) setFlags(nzcv uint64) {
	c.regs.Pstate = c.regs.Pstate&^flagsMask | nzcv&flagsMask
}

// cond evaluates a condition code against PSTATE.
func (c *cpu) cond(cond uint32) bool {
	f := c.regs.Pstate
	n, z, cf, v := f&flagN != 0, f&flagZ != 0, f&flagC != 0, f&flagV != 0
	var r bool
	switch cond >> 1 {
	case 0:
		r = z
	case 1:
		r = cf
	case 2:
		r = n
	case 3:
		r = v
	case 4:
		r = cf && !z
	case 5:
		r = n == v
	case 6:
		r = n == v && !z
	case 7:
		return true
	}
	if cond&1 != 0 {
		return !r
	}
	return r
}

// branchSystem executes branches, exception generation and system
// instructions.
func (c *cpu) branchSystem(insn uint32, pc uint64) *exception {
	switch {
	case bits(insn, 30, 26) == 0b00101: // B, BL
		if bit(insn, 31) {
			c.regs.Regs[30] = pc + 4
		}
		c.regs.Pc = pc + sext(uint64(bits(insn, 25, 0))<<2, 28)
		return nil

	case bits(insn, 30, 25) == 0b011010: // CBZ, CBNZ
		v := c.x(bits(insn, 4, 0))
		if !bit(insn, 31) {
			v = uint64(uint32(v))
		}
		if (v == 0) != bit(insn, 24) {
			c.regs.Pc = pc + sext(uint64(bits(insn, 23, 5))<<2, 21)
		}
		return nil

	case bits(insn, 30, 25) == 0b011011: // TBZ, TBNZ
		n := bits(insn, 31, 31)<<5 | bits(insn, 23, 19)
		set := c.x(bits(insn, 4, 0))>>n&1 != 0
		if set == bit(insn, 24) {
			c.regs.Pc = pc + sext(uint64(bits(insn, 18, 5))<<2, 16)
		}
		return nil

	case bits(insn, 31, 24) == 0b01010100 && !bit(insn, 4): // B.cond
		if c.cond(bits(insn, 3, 0)) {
			c.regs.Pc = pc + sext(uint64(bits(insn, 23, 5))<<2, 21)
		}
		return nil

	case bits(insn, 31, 24) == 0b11010100: // Exception generation.
		imm16 := bits(insn, 20, 5)
		switch opc, ll := bits(insn, 23, 21), bits(insn, 1, 0); {
		case opc == 0 && ll == 1:
			return &exception{esr: ring0.MakeESR(ring0.ECSVC64, imm16)}
		case opc == 1 && ll == 0:
			return &exception{esr: ring0.MakeESR(ring0.ECBRK64, imm16)}
		}
		return undefined()

	case bits(insn, 31, 22) == 0b1101010100:
		return c.system(insn)

	case bits(insn, 31, 25) == 0b1101011 && bits(insn, 20, 10) == 0b11111000000 && bits(insn, 4, 0) == 0:
		target := c.x(bits(insn, 9, 5))
		switch bits(insn, 24, 21) {
		case 0b0000: // BR
		case 0b0001: // BLR
			c.regs.Regs[30] = pc + 4
		case 0b0010: // RET
		default:
			return undefined()
		}
		c.regs.Pc = target
		return nil
	}
	return undefined()
}

// System register encodings, op0:op1:CRn:CRm:op2.
const (
	sysNZCV       = 3<<14 | 3<<11 | 4<<7 | 2<<3 | 0
	sysFPCR       = 3<<14 | 3<<11 | 4<<7 | 4<<3 | 0
	sysFPSR       = 3<<14 | 3<<11 | 4<<7 | 4<<3 | 1
	sysTPIDR      = 3<<14 | 3<<11 | 13<<7 | 0<<3 | 2
	sysTPIDRRO    = 3<<14 | 3<<11 | 13<<7 | 0<<3 | 3
	sysCNTFRQ     = 3<<14 | 3<<11 | 14<<7 | 0<<3 | 0
	sysCNTVCT     = 3<<14 | 3<<11 | 14<<7 | 0<<3 | 2
	sysCTR        = 3<<14 | 3<<11 | 0<<7 | 0<<3 | 1
	sysDCZID      = 3<<14 | 3<<11 | 0<<7 | 0<<3 | 7
	sysMIDR       = 3<<14 | 0<<11 | 0<<7 | 0<<3 | 0
	sysIDAA64PFR0 = 3<<14 | 0<<11 | 0<<7 | 4<<3 | 0

	// sysIDSpace is op0:op1:CRn of the feature ID registers.
	sysIDSpace = 3<<7 | 0<<4 | 0

	// idAA64PFR0 reports EL0 and EL1 as AArch64 only, with FP and AdvSIMD.
	idAA64PFR0 = 0x11

	sysCTRDefault = 0x8444c004
	midrCortexA57 = 0x411fd070

	// dczidProhibited tells user code that DC ZVA must not be used.
	dczidProhibited = 1 << 4

	// counterFrequency is the generic timer frequency of QEMU virt.
	counterFrequency = 62_500_000
)

// system executes hints, barriers and system register moves.
func (c *cpu) system(insn uint32) *exception {
	l := bit(insn, 21)
	op0 := bits(insn, 20, 19)
	crn := bits(insn, 15, 12)
	rt := bits(insn, 4, 0)
	switch {
	case !l && op0 == 0 && crn == 0b0010: // Hints.
		return nil
	case !l && op0 == 0 && crn == 0b0011: // Barriers and CLREX.
		if bits(insn, 7, 5) == 0b010 {
			c.p.exclusiveSet = false
		}
		return nil
	case op0 == 1: // SYS: cache maintenance has no effect here.
		return nil
	case op0 >= 2:
		reg := bits(insn, 20, 5)
		if l {
			v, ok := c.readSysReg(reg)
			if !ok {
				return undefined()
			}
			c.setX(rt, v, true)
			return nil
		}
		if !c.writeSysReg(reg, c.x(rt)) {
			return undefined()
		}
		return nil
	}
	return undefined()
}

func (c *cpu) readSysReg(reg uint32) (uint64, bool) {
	switch reg {
	case sysNZCV:
		return c.regs.Pstate & flagsMask, true
	case sysFPCR:
		return c.p.fpcr, true
	case sysFPSR:
		return c.p.fpsr, true
	case sysTPIDR:
		return c.regs.TPIDR_EL0, true
	case sysTPIDRRO:
		return 0, true
	case sysCNTFRQ:
		return counterFrequency, true
	case sysCNTVCT:
		return uint64(c.p.Now().Nanoseconds()) / (1e9 / counterFrequency), true
	case sysCTR:
		return sysCTRDefault, true
	case sysDCZID:
		return dczidProhibited, true
	case sysMIDR:
		// Linux emulates MIDR_EL1 reads for user code.
		return midrCortexA57, true
	case sysIDAA64PFR0:
		return idAA64PFR0, true
	}
	if reg>>7 == sysIDSpace && reg>>3&0xf >= 4 {
		// The remaining ID_AA64* registers read as zero: no optional
		// features beyond FP and AdvSIMD.
		return 0, true
	}
	return 0, false
}

func (c *cpu) writeSysReg(reg uint32, v uint64) bool {
	switch reg {
	case sysNZCV:
		c.setFlags(v)
	case sysFPCR:
		c.p.fpcr = v
	case sysFPSR:
		c.p.fpsr = v
	case sysTPIDR:
		c.regs.TPIDR_EL0 = v
	default:
		return false
	}
	return true
}

// pcRelative returns pc plus a byte offset.
func pcRelative(pc uint64, off uint64) hostarch.Addr {
	return hostarch.Addr(pc + off)
}
