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
	"kestrel.dev/kestrel/pkg/binary"
)

// setV writes the low size bytes of a SIMD&FP register and clears the rest,
// as every scalar write does.
func (c *cpu) setV(r uint32, lo, hi uint64, size int) {
	switch {
	case size >= 16:
	case size == 8:
		hi = 0
	default:
		lo &= ones(uint(8 * size))
		hi = 0
	}
	c.p.vregs[r] = [2]uint64{lo, hi}
}

func (c *cpu) vbytes(r uint32) [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], c.p.vregs[r][0])
	binary.LittleEndian.PutUint64(b[8:16], c.p.vregs[r][1])
	return b
}

func (c *cpu) setVBytes(r uint32, b [16]byte, q bool) {
	lo := binary.LittleEndian.Uint64(b[0:8])
	hi := uint64(0)
	if q {
		hi = binary.LittleEndian.Uint64(b[8:16])
	}
	c.p.vregs[r] = [2]uint64{lo, hi}
}

// element reads element idx of esize bytes from b.
func element(b [16]byte, esize, idx int) uint64 {
	var e [8]byte
	copy(e[:], b[idx*esize:(idx+1)*esize])
	return binary.LittleEndian.Uint64(e[:])
}

// setElement writes element idx of esize bytes to b.
func setElement(b *[16]byte, esize, idx int, v uint64) {
	var e [8]byte
	binary.LittleEndian.PutUint64(e[:], v)
	copy(b[idx*esize:(idx+1)*esize], e[:esize])
}

// simd executes the SIMD&FP data processing instructions. The scalar
// floating-point group includes the moves between general and SIMD&FP
// registers.
func (c *cpu) simd(insn uint32) *exception {
	switch {
	case bit(insn, 28) && !bit(insn, 30):
		return c.fpScalar(insn)
	case bit(insn, 31):
		return undefined()
	case bit(insn, 28):
		return c.simdScalar(insn)
	}
	return c.simdVector(insn)
}

// fmovGeneral executes FMOV between general and SIMD&FP registers.
func (c *cpu) fmovGeneral(insn uint32) *exception {
	sf := bit(insn, 31)
	typ, rmode, opcode := bits(insn, 23, 22), bits(insn, 20, 19), bits(insn, 18, 16)
	rd, rn := bits(insn, 4, 0), bits(insn, 9, 5)
	switch {
	case !sf && typ == 0 && rmode == 0 && opcode == 0b110: // FMOV Wd, Sn
		c.setX(rd, c.p.vregs[rn][0], false)
	case !sf && typ == 0 && rmode == 0 && opcode == 0b111: // FMOV Sd, Wn
		c.setV(rd, c.x(rn), 0, 4)
	case sf && typ == 1 && rmode == 0 && opcode == 0b110: // FMOV Xd, Dn
		c.setX(rd, c.p.vregs[rn][0], true)
	case sf && typ == 1 && rmode == 0 && opcode == 0b111: // FMOV Dd, Xn
		c.setV(rd, c.x(rn), 0, 8)
	case sf && typ == 2 && rmode == 1 && opcode == 0b110: // FMOV Xd, Vn.D[1]
		c.setX(rd, c.p.vregs[rn][1], true)
	case sf && typ == 2 && rmode == 1 && opcode == 0b111: // FMOV Vd.D[1], Xn
		c.p.vregs[rd][1] = c.x(rn)
	default:
		return undefined()
	}
	return nil
}

// simdCopy executes DUP, INS, UMOV and SMOV.
func (c *cpu) simdCopy(insn uint32) *exception {
	rd, rn := bits(insn, 4, 0), bits(insn, 9, 5)
	q := bit(insn, 30)
	imm5 := bits(insn, 20, 16)
	if imm5&0xf == 0 {
		return undefined()
	}
	shift := 0
	for imm5>>shift&1 == 0 {
		shift++
	}
	esize := 1 << shift
	idx := int(imm5 >> (shift + 1))
	lanes := 8 / esize
	if q {
		lanes = 16 / esize
	}

	if bit(insn, 29) { // INS (element)
		if !q {
			return undefined()
		}
		src := int(bits(insn, 14, 11) >> shift)
		v := element(c.vbytes(rn), esize, src)
		b := c.vbytes(rd)
		setElement(&b, esize, idx, v)
		c.setVBytes(rd, b, true)
		return nil
	}

	switch bits(insn, 14, 11) {
	case 0b0000: // DUP (element)
		v := element(c.vbytes(rn), esize, idx)
		var b [16]byte
		for i := 0; i < lanes; i++ {
			setElement(&b, esize, i, v)
		}
		c.setVBytes(rd, b, q)
	case 0b0001: // DUP (general)
		if esize == 8 && !q {
			return undefined()
		}
		v := c.x(rn)
		var b [16]byte
		for i := 0; i < lanes; i++ {
			setElement(&b, esize, i, v)
		}
		c.setVBytes(rd, b, q)
	case 0b0011: // INS (general)
		if !q {
			return undefined()
		}
		b := c.vbytes(rd)
		setElement(&b, esize, idx, c.x(rn))
		c.setVBytes(rd, b, true)
	case 0b0111: // UMOV
		if (esize == 8) != q {
			return undefined()
		}
		c.setX(rd, element(c.vbytes(rn), esize, idx), q)
	case 0b0101: // SMOV
		if esize >= 8 || (esize == 4 && !q) {
			return undefined()
		}
		v := sext(element(c.vbytes(rn), esize, idx), uint(8*esize))
		c.setX(rd, v, q)
	default:
		return undefined()
	}
	return nil
}

// simdModifiedImm executes MOVI, MVNI and the ORR and BIC immediates.
func (c *cpu) simdModifiedImm(insn uint32) *exception {
	rd := bits(insn, 4, 0)
	q, op := bit(insn, 30), bit(insn, 29)
	cmode := bits(insn, 15, 12)
	imm8 := uint64(bits(insn, 18, 16)<<5 | bits(insn, 9, 5))

	var imm uint64
	switch cmode >> 1 {
	case 0, 1, 2, 3:
		imm = replicate(imm8<<(8*(cmode>>1)), 32, 64)
	case 4, 5:
		imm = replicate(imm8<<(8*((cmode>>1)&1)), 16, 64)
	case 6:
		if cmode&1 == 0 {
			imm = replicate(imm8<<8|0xff, 32, 64)
		} else {
			imm = replicate(imm8<<16|0xffff, 32, 64)
		}
	case 7:
		if cmode&1 != 0 { // FMOV (vector, immediate)
			switch {
			case !op:
				imm = replicate(fpExpandImm(uint32(imm8), 4), 32, 64)
			case q:
				imm = fpExpandImm(uint32(imm8), 8)
			default:
				return undefined()
			}
			lo, hi := imm, imm
			if !q {
				hi = 0
			}
			c.p.vregs[rd] = [2]uint64{lo, hi}
			return nil
		}
		if !op {
			imm = replicate(imm8, 8, 64)
		} else {
			for i := uint(0); i < 8; i++ {
				if imm8>>i&1 != 0 {
					imm |= 0xff << (8 * i)
				}
			}
			if !q {
				// MOVI Dd, #imm
				c.setV(rd, imm, 0, 8)
				return nil
			}
		}
	}

	lo, hi := imm, imm
	orrBic := cmode < 12 && cmode&1 != 0
	switch {
	case orrBic && !op: // ORR
		lo |= c.p.vregs[rd][0]
		hi |= c.p.vregs[rd][1]
	case orrBic && op: // BIC
		lo = c.p.vregs[rd][0] &^ imm
		hi = c.p.vregs[rd][1] &^ imm
	case op && cmode != 14: // MVNI
		lo, hi = ^imm, ^imm
	}
	if !q {
		hi = 0
	}
	c.p.vregs[rd] = [2]uint64{lo, hi}
	return nil
}
