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
	mbits "math/bits"
)

// arrangement returns the element size in bytes and the element count of
// the vector arrangement size:Q.
func arrangement(size uint32, q bool) (esize, lanes int) {
	esize = 1 << size
	if q {
		return esize, 16 / esize
	}
	return esize, 8 / esize
}

func emask(esize int) uint64 {
	return ones(uint(8 * esize))
}

func signedElem(v uint64, esize int) int64 {
	return int64(sext(v, uint(8*esize)))
}

// allOnes is the comparison result for one element.
func allOnes(b bool, esize int) uint64 {
	if b {
		return emask(esize)
	}
	return 0
}

// vecResult writes a vector result, or element 0 alone for the scalar
// forms.
func (c *cpu) vecResult(rd uint32, r [16]byte, q, scalar bool, esize int) {
	if scalar {
		c.setV(rd, element(r, esize, 0), 0, esize)
		return
	}
	c.setVBytes(rd, r, q)
}

// simdVector decodes the Advanced SIMD vector groups.
func (c *cpu) simdVector(insn uint32) *exception {
	switch {
	case !bit(insn, 24) && bit(insn, 21) && bit(insn, 10):
		return c.simdThreeSame(insn, false)
	case !bit(insn, 24) && bit(insn, 21) && bits(insn, 11, 10) == 0b10 && bits(insn, 20, 17) == 0:
		return c.simdTwoRegMisc(insn, false)
	case !bit(insn, 24) && bit(insn, 21) && bits(insn, 11, 10) == 0b10 && bits(insn, 20, 17) == 0b1000:
		return c.simdAcrossLanes(insn)
	case bits(insn, 28, 21) == 0b01110000 && !bit(insn, 15) && bit(insn, 10):
		return c.simdCopy(insn)
	case bits(insn, 29, 24) == 0b001110 && !bit(insn, 21) && !bit(insn, 15) && bits(insn, 11, 10) == 0b00:
		return c.simdTableLookup(insn)
	case bits(insn, 29, 24) == 0b001110 && !bit(insn, 21) && !bit(insn, 15) && bits(insn, 11, 10) == 0b10:
		return c.simdPermute(insn)
	case bits(insn, 29, 21) == 0b101110000 && !bit(insn, 15) && !bit(insn, 10):
		return c.simdExtract(insn)
	case bits(insn, 24, 19) == 0b100000 && bits(insn, 11, 10) == 0b01:
		return c.simdModifiedImm(insn)
	case bits(insn, 24, 23) == 0b10 && bit(insn, 10):
		return c.simdShiftImm(insn, false)
	}
	return undefined()
}

// simdScalar decodes the Advanced SIMD scalar groups.
func (c *cpu) simdScalar(insn uint32) *exception {
	switch {
	case bits(insn, 24, 23) == 0b10 && bit(insn, 10) && bits(insn, 22, 19) != 0:
		return c.simdShiftImm(insn, true)
	case bit(insn, 24):
		return undefined()
	case bit(insn, 21) && bit(insn, 10):
		return c.simdThreeSame(insn, true)
	case bit(insn, 21) && bits(insn, 11, 10) == 0b10 && bits(insn, 20, 17) == 0:
		return c.simdTwoRegMisc(insn, true)
	case bit(insn, 21) && bits(insn, 11, 10) == 0b10 && bits(insn, 20, 17) == 0b1000:
		return c.simdScalarPairwise(insn)
	case !bit(insn, 29) && bits(insn, 23, 21) == 0 && bits(insn, 15, 10) == 0b000001:
		// DUP (element) into a scalar.
		imm5 := bits(insn, 20, 16)
		if imm5&0xf == 0 {
			return undefined()
		}
		shift := mbits.TrailingZeros32(imm5)
		esize := 1 << shift
		v := element(c.vbytes(bits(insn, 9, 5)), esize, int(imm5>>(shift+1)))
		c.setV(bits(insn, 4, 0), v, 0, esize)
		return nil
	}
	return undefined()
}

// simdLogical executes AND, BIC, ORR, ORN, EOR, BSL, BIT and BIF.
func (c *cpu) simdLogical(insn uint32) *exception {
	rd, rn, rm := bits(insn, 4, 0), bits(insn, 9, 5), bits(insn, 20, 16)
	n, m, d := c.p.vregs[rn], c.p.vregs[rm], c.p.vregs[rd]
	var r [2]uint64
	for i := range r {
		switch bits(insn, 29, 29)<<2 | bits(insn, 23, 22) {
		case 0b000:
			r[i] = n[i] & m[i]
		case 0b001:
			r[i] = n[i] &^ m[i]
		case 0b010:
			r[i] = n[i] | m[i]
		case 0b011:
			r[i] = n[i] | ^m[i]
		case 0b100:
			r[i] = n[i] ^ m[i]
		case 0b101: // BSL
			r[i] = d[i]&n[i] | ^d[i]&m[i]
		case 0b110: // BIT
			r[i] = d[i]&^m[i] | n[i]&m[i]
		case 0b111: // BIF
			r[i] = d[i]&m[i] | n[i]&^m[i]
		}
	}
	if !bit(insn, 30) {
		r[1] = 0
	}
	c.p.vregs[rd] = r
	return nil
}

// saturate adds or subtracts two elements, clamping to the element range.
func saturate(x, y uint64, esize int, signed, sub bool) uint64 {
	m := emask(esize)
	if !signed {
		if sub {
			if x < y {
				return 0
			}
			return x - y
		}
		r := x + y
		if r < x || r > m {
			return m
		}
		return r
	}
	hi := int64(ones(uint(8*esize) - 1))
	lo := -hi - 1
	a, b := signedElem(x, esize), signedElem(y, esize)
	var r int64
	var overflow bool
	if sub {
		r = a - b
		overflow = (a < 0) != (b < 0) && (r < 0) != (a < 0)
	} else {
		r = a + b
		overflow = (a < 0) == (b < 0) && (r < 0) != (a < 0)
	}
	switch {
	case overflow && a < 0, !overflow && r < lo:
		return uint64(lo) & m
	case overflow, r > hi:
		return uint64(hi) & m
	}
	return uint64(r) & m
}

// shiftByRegister shifts x left by the signed amount sh, or right if sh is
// negative.
func shiftByRegister(x uint64, sh int8, esize int, signed bool) uint64 {
	n := 8 * esize
	if sh >= 0 {
		if int(sh) >= n {
			return 0
		}
		return x << uint(sh) & emask(esize)
	}
	s := -int(sh)
	if signed {
		s = min(s, n-1)
		return uint64(signedElem(x, esize)>>uint(s)) & emask(esize)
	}
	if s >= n {
		return 0
	}
	return x >> uint(s)
}

// shiftRight shifts x right by sh, 1 <= sh <= 64, optionally rounding.
func shiftRight(x uint64, sh int, esize int, signed, round bool) uint64 {
	var v, carry uint64
	if signed {
		s := signedElem(x, esize)
		v = uint64(s >> uint(min(sh, 63)))
		carry = uint64(s) >> uint(sh-1) & 1
	} else {
		v = x >> uint(sh)
		carry = x >> uint(sh-1) & 1
	}
	if round {
		v += carry
	}
	return v & emask(esize)
}

// polyMul is the carry-less product of two bytes, truncated to 8 bits.
func polyMul(x, y uint64) uint64 {
	var r uint64
	for i := 0; i < 8; i++ {
		if y>>i&1 != 0 {
			r ^= x << i
		}
	}
	return r & 0xff
}

// intThreeSame computes one element of an integer "three same" operation.
// d is the destination element, for accumulating forms.
func intThreeSame(opcode uint32, u bool, esize int, x, y, d uint64) (uint64, bool) {
	m := emask(esize)
	sx, sy := signedElem(x, esize), signedElem(y, esize)
	switch opcode {
	case 0b00001: // SQADD, UQADD
		return saturate(x, y, esize, !u, false), true
	case 0b00101: // SQSUB, UQSUB
		return saturate(x, y, esize, !u, true), true
	case 0b00110: // CMGT, CMHI
		if u {
			return allOnes(x > y, esize), true
		}
		return allOnes(sx > sy, esize), true
	case 0b00111: // CMGE, CMHS
		if u {
			return allOnes(x >= y, esize), true
		}
		return allOnes(sx >= sy, esize), true
	case 0b01000: // SSHL, USHL
		return shiftByRegister(x, int8(y), esize, !u), true
	case 0b01100, 0b10100: // SMAX, UMAX, SMAXP, UMAXP
		if u && x > y || !u && sx > sy {
			return x, true
		}
		return y, true
	case 0b01101, 0b10101: // SMIN, UMIN, SMINP, UMINP
		if u && x < y || !u && sx < sy {
			return x, true
		}
		return y, true
	case 0b01110: // SABD, UABD
		if u && x > y || !u && sx > sy {
			return (x - y) & m, true
		}
		return (y - x) & m, true
	case 0b10000: // ADD, SUB
		if u {
			return (x - y) & m, true
		}
		return (x + y) & m, true
	case 0b10001: // CMTST, CMEQ
		if u {
			return allOnes(x == y, esize), true
		}
		return allOnes(x&y != 0, esize), true
	case 0b10010: // MLA, MLS
		if u {
			return (d - x*y) & m, true
		}
		return (d + x*y) & m, true
	case 0b10011: // MUL, PMUL
		if u {
			if esize != 1 {
				return 0, false
			}
			return polyMul(x, y), true
		}
		return (x * y) & m, true
	case 0b10111: // ADDP
		if u {
			return 0, false
		}
		return (x + y) & m, true
	}
	return 0, false
}

// simdThreeSame executes the "three same" group. The scalar forms operate
// on element 0 alone.
func (c *cpu) simdThreeSame(insn uint32, scalar bool) *exception {
	u, q := bit(insn, 29), bit(insn, 30)
	size, opcode := bits(insn, 23, 22), bits(insn, 15, 11)
	rd, rn, rm := bits(insn, 4, 0), bits(insn, 9, 5), bits(insn, 20, 16)
	switch {
	case opcode >= 0b11000:
		return c.simdThreeSameFP(insn, scalar)
	case opcode == 0b00011 && !scalar:
		return c.simdLogical(insn)
	case opcode == 0b10010 && size == 3, opcode == 0b10011 && size == 3:
		return undefined()
	}
	esize, lanes := arrangement(size, q)
	pairwise := opcode == 0b10100 || opcode == 0b10101 || opcode == 0b10111
	if scalar {
		switch opcode {
		case 0b00001, 0b00101:
		case 0b00110, 0b00111, 0b01000, 0b10000, 0b10001:
			if size != 3 {
				return undefined()
			}
		default:
			return undefined()
		}
		lanes = 1
	} else if size == 3 && (!q || pairwise && opcode != 0b10111 || opcode >= 0b01100 && opcode <= 0b01110) {
		return undefined()
	}

	n, m, d := c.vbytes(rn), c.vbytes(rm), c.vbytes(rd)
	var r [16]byte
	for i := 0; i < lanes; i++ {
		var x, y uint64
		if pairwise {
			src, j := n, 2*i
			if j >= lanes {
				src, j = m, j-lanes
			}
			x, y = element(src, esize, j), element(src, esize, j+1)
		} else {
			x, y = element(n, esize, i), element(m, esize, i)
		}
		v, ok := intThreeSame(opcode, u, esize, x, y, element(d, esize, i))
		if !ok {
			return undefined()
		}
		setElement(&r, esize, i, v)
	}
	c.vecResult(rd, r, q, scalar, esize)
	return nil
}

// fpThreeSame computes one element of a floating-point "three same"
// operation. a is size<1>, which selects between paired operations.
func (c *cpu) fpThreeSame(opcode uint32, u, a bool, x, y, d uint64, size int) (uint64, bool) {
	switch {
	case opcode == 0b11000: // FMAXNM, FMINNM and their pairwise forms.
		if a {
			return c.fpArith(fpMinNum, x, y, size), true
		}
		return c.fpArith(fpMaxNum, x, y, size), true
	case opcode == 0b11001 && !u: // FMLA, FMLS
		return c.fpMulAdd(d, x, y, a, false, size), true
	case opcode == 0b11010 && !u: // FADD, FSUB
		if a {
			return c.fpArith(fpSub, x, y, size), true
		}
		return c.fpArith(fpAdd, x, y, size), true
	case opcode == 0b11010: // FADDP, FABD
		if a {
			return c.fpArith(fpAbsDiff, x, y, size), true
		}
		return c.fpArith(fpAdd, x, y, size), true
	case opcode == 0b11011 && !a: // FMULX, FMUL
		if !u && fpIsZeroInf(x, y, size) {
			// FMULX gives 2.0 where FMUL gives the default NaN.
			return fromFloat(2, size) | (x^y)&fpSignBit(size), true
		}
		return c.fpArith(fpMul, x, y, size), true
	case opcode == 0b11100 && !u && !a: // FCMEQ
		return allOnes(fpCompare(x, y, size) == flagZ|flagC, size), true
	case opcode == 0b11100 && u: // FCMGE, FCMGT
		f := fpCompare(x, y, size)
		return allOnes(f == flagC || !a && f == flagZ|flagC, size), true
	case opcode == 0b11101 && u: // FACGE, FACGT
		f := fpCompare(x&^fpSignBit(size), y&^fpSignBit(size), size)
		return allOnes(f == flagC || !a && f == flagZ|flagC, size), true
	case opcode == 0b11110: // FMAX, FMIN and their pairwise forms.
		if a {
			return c.fpArith(fpMin, x, y, size), true
		}
		return c.fpArith(fpMax, x, y, size), true
	case opcode == 0b11111 && u && !a: // FDIV
		return c.fpArith(fpDiv, x, y, size), true
	}
	return 0, false
}

// fpIsZeroInf reports whether one operand is an infinity and the other a
// zero.
func fpIsZeroInf(x, y uint64, size int) bool {
	fx, fy := toFloat(x, size), toFloat(y, size)
	return math.IsInf(fx, 0) && fy == 0 || fx == 0 && math.IsInf(fy, 0)
}

// simdThreeSameFP executes the floating-point "three same" group.
func (c *cpu) simdThreeSameFP(insn uint32, scalar bool) *exception {
	u, q, a := bit(insn, 29), bit(insn, 30), bit(insn, 23)
	opcode := bits(insn, 15, 11)
	rd, rn, rm := bits(insn, 4, 0), bits(insn, 9, 5), bits(insn, 20, 16)
	size := 4 << bits(insn, 22, 22)
	pairwise := u && (opcode == 0b11000 || opcode == 0b11110 || opcode == 0b11010 && !a)
	lanes := 8 / size
	switch {
	case scalar && (pairwise || opcode == 0b11000 || opcode == 0b11011 && u || opcode == 0b11001 || opcode == 0b11010 && !u || opcode == 0b11110 || opcode == 0b11111):
		return undefined()
	case scalar:
		lanes = 1
	case size == 8 && !q:
		return undefined()
	case q:
		lanes = 16 / size
	}

	n, m, d := c.vbytes(rn), c.vbytes(rm), c.vbytes(rd)
	var r [16]byte
	for i := 0; i < lanes; i++ {
		var x, y uint64
		if pairwise {
			src, j := n, 2*i
			if j >= lanes {
				src, j = m, j-lanes
			}
			x, y = element(src, size, j), element(src, size, j+1)
		} else {
			x, y = element(n, size, i), element(m, size, i)
		}
		v, ok := c.fpThreeSame(opcode, u, a, x, y, element(d, size, i), size)
		if !ok {
			return undefined()
		}
		setElement(&r, size, i, v)
	}
	c.vecResult(rd, r, q, scalar, size)
	return nil
}

// narrowInto writes the narrow elements produced by fn to the low half of
// rd, clearing the high half, or for the "2" forms to the high half,
// keeping the low half.
func (c *cpu) narrowInto(rd uint32, q bool, esize int, fn func(i int) uint64) {
	lanes := 8 / esize
	var r [16]byte
	off := 0
	if q {
		d := c.vbytes(rd)
		copy(r[:8], d[:8])
		off = lanes
	}
	for i := 0; i < lanes; i++ {
		setElement(&r, esize, off+i, fn(i))
	}
	c.setVBytes(rd, r, true)
}

// widenFrom returns the source half of n for a widening operation: the low
// half, or the high half for the "2" forms.
func widenFrom(n [16]byte, q bool) [16]byte {
	if q {
		var h [16]byte
		copy(h[:8], n[8:])
		return h
	}
	return n
}

// saturateNarrow clamps v, a signed or unsigned value, to an element of
// esize bytes that is signed if signedResult.
func saturateNarrow(v int64, unsignedSrc bool, uv uint64, esize int, signedResult bool) uint64 {
	bitsN := uint(8 * esize)
	if signedResult {
		hi := int64(ones(bitsN - 1))
		switch {
		case unsignedSrc && uv > uint64(hi):
			return uint64(hi)
		case unsignedSrc:
			return uv
		case v > hi:
			return uint64(hi)
		case v < -hi-1:
			return uint64(-hi-1) & ones(bitsN)
		}
		return uint64(v) & ones(bitsN)
	}
	switch {
	case unsignedSrc && uv > ones(bitsN):
		return ones(bitsN)
	case unsignedSrc:
		return uv
	case v < 0:
		return 0
	case uint64(v) > ones(bitsN):
		return ones(bitsN)
	}
	return uint64(v)
}

// simdTwoRegMisc executes the "two-register miscellaneous" group.
func (c *cpu) simdTwoRegMisc(insn uint32, scalar bool) *exception {
	u, q := bit(insn, 29), bit(insn, 30)
	size, opcode := bits(insn, 23, 22), bits(insn, 16, 12)
	rd, rn := bits(insn, 4, 0), bits(insn, 9, 5)
	if opcode >= 0b11000 || opcode == 0b10110 || opcode == 0b10111 || opcode >= 0b01100 && opcode <= 0b01111 && size >= 2 {
		return c.simdTwoRegMiscFP(insn, scalar)
	}
	esize, lanes := arrangement(size, q)
	n := c.vbytes(rn)
	var r [16]byte

	switch opcode {
	case 0b01000, 0b01001, 0b01010, 0b01011:
		if scalar && size != 3 || !scalar && size == 3 && !q || opcode == 0b01010 && u {
			return undefined()
		}
		if scalar {
			lanes = 1
		}
		for i := 0; i < lanes; i++ {
			x := element(n, esize, i)
			s := signedElem(x, esize)
			var v uint64
			switch {
			case opcode == 0b01000 && !u: // CMGT #0
				v = allOnes(s > 0, esize)
			case opcode == 0b01000: // CMGE #0
				v = allOnes(s >= 0, esize)
			case opcode == 0b01001 && !u: // CMEQ #0
				v = allOnes(x == 0, esize)
			case opcode == 0b01001: // CMLE #0
				v = allOnes(s <= 0, esize)
			case opcode == 0b01010: // CMLT #0
				v = allOnes(s < 0, esize)
			case !u: // ABS
				if s < 0 {
					s = -s
				}
				v = uint64(s) & emask(esize)
			default: // NEG
				v = -x & emask(esize)
			}
			setElement(&r, esize, i, v)
		}
		c.vecResult(rd, r, q, scalar, esize)
		return nil
	case 0b10010, 0b10100: // XTN, SQXTUN, SQXTN, UQXTN
		if size == 3 || scalar {
			return undefined()
		}
		wide := 2 * esize
		c.narrowInto(rd, q, esize, func(i int) uint64 {
			x := element(n, wide, i)
			switch {
			case opcode == 0b10010 && !u:
				return x & emask(esize)
			case opcode == 0b10010: // SQXTUN
				return saturateNarrow(signedElem(x, wide), false, 0, esize, false)
			case !u: // SQXTN
				return saturateNarrow(signedElem(x, wide), false, 0, esize, true)
			default: // UQXTN
				return saturateNarrow(0, true, x, esize, false)
			}
		})
		return nil
	}
	if scalar {
		return undefined()
	}

	switch {
	case opcode <= 0b00001: // REV64, REV32, REV16
		container := 8
		switch {
		case opcode == 0b00001 && !u:
			container = 2
		case opcode == 0b00001:
			return undefined()
		case u:
			container = 4
		}
		if esize >= container {
			return undefined()
		}
		per := container / esize
		for i := 0; i < lanes; i++ {
			base := i / per * per
			setElement(&r, esize, i, element(n, esize, base+per-1-(i-base)))
		}
	case opcode == 0b00010: // SADDLP, UADDLP
		if size == 3 {
			return undefined()
		}
		for i := 0; i < lanes/2; i++ {
			x, y := element(n, esize, 2*i), element(n, esize, 2*i+1)
			if !u {
				x, y = uint64(signedElem(x, esize)), uint64(signedElem(y, esize))
			}
			setElement(&r, 2*esize, i, (x+y)&emask(2*esize))
		}
	case opcode == 0b00100: // CLS, CLZ
		if size == 3 {
			return undefined()
		}
		for i := 0; i < lanes; i++ {
			x := element(n, esize, i)
			if !u {
				s := signedElem(x, esize)
				x = uint64(s^s>>63) & emask(esize)
			}
			count := uint64(mbits.LeadingZeros64(x) - (64 - 8*esize))
			if !u {
				count--
			}
			setElement(&r, esize, i, count)
		}
	case opcode == 0b00101 && size == 0 && !u: // CNT
		for i := range r {
			if i < 8 || q {
				r[i] = byte(mbits.OnesCount8(n[i]))
			}
		}
	case opcode == 0b00101 && size == 0: // NOT
		for i := range r {
			r[i] = ^n[i]
		}
	case opcode == 0b00101 && size == 1 && u: // RBIT
		for i := range r {
			r[i] = mbits.Reverse8(n[i])
		}
	default:
		return undefined()
	}
	c.setVBytes(rd, r, q)
	return nil
}

// simdTwoRegMiscFP executes the floating-point two-register operations.
func (c *cpu) simdTwoRegMiscFP(insn uint32, scalar bool) *exception {
	u, q, hi := bit(insn, 29), bit(insn, 30), bit(insn, 23)
	opcode := bits(insn, 16, 12)
	rd, rn := bits(insn, 4, 0), bits(insn, 9, 5)
	size := 4 << bits(insn, 22, 22)
	n := c.vbytes(rn)

	switch {
	case opcode == 0b10110 && !hi && !u: // FCVTN
		if scalar || size != 8 {
			return undefined()
		}
		c.narrowInto(rd, q, 4, func(i int) uint64 {
			return c.fpConvert(element(n, 8, i), 8, 4)
		})
		return nil
	case opcode == 0b10111 && !hi && !u: // FCVTL
		if scalar || size != 8 {
			return undefined()
		}
		src := widenFrom(n, q)
		var r [16]byte
		for i := 0; i < 2; i++ {
			setElement(&r, 8, i, c.fpConvert(element(src, 4, i), 4, 8))
		}
		c.setVBytes(rd, r, true)
		return nil
	}

	var fn func(x uint64) uint64
	vectorOnly := false
	switch {
	case opcode == 0b01100 && hi: // FCMGT #0, FCMGE #0
		fn = func(x uint64) uint64 {
			f := fpCompare(x, 0, size)
			return allOnes(f == flagC || u && f == flagZ|flagC, size)
		}
	case opcode == 0b01101 && hi: // FCMEQ #0, FCMLE #0
		fn = func(x uint64) uint64 {
			f := fpCompare(x, 0, size)
			return allOnes(f == flagZ|flagC || u && f == flagN, size)
		}
	case opcode == 0b01110 && hi && !u: // FCMLT #0
		fn = func(x uint64) uint64 {
			return allOnes(fpCompare(x, 0, size) == flagN, size)
		}
	case opcode == 0b01111 && hi: // FABS, FNEG
		vectorOnly = true
		fn = func(x uint64) uint64 {
			if u {
				return x ^ fpSignBit(size)
			}
			return x &^ fpSignBit(size)
		}
	case opcode == 0b11111 && hi && u: // FSQRT
		vectorOnly = true
		fn = func(x uint64) uint64 {
			if fpIsNaN(x, size) {
				return c.propagateNaN(x, size)
			}
			return fromFloat(math.Sqrt(toFloat(x, size)), size)
		}
	case opcode == 0b11000 || opcode == 0b11001: // FRINT*
		mode := -1
		switch {
		case opcode == 0b11000 && !hi && !u:
			mode = roundNearest
		case opcode == 0b11000 && !hi:
			mode = roundAway
		case opcode == 0b11000 && !u:
			mode = roundPlus
		case opcode == 0b11001 && !hi && !u:
			mode = roundMinus
		case opcode == 0b11001 && hi && !u:
			mode = roundZero
		case opcode == 0b11001: // FRINTX, FRINTI
			mode = int(c.p.fpcr >> fpcrRModeShift & 3)
		}
		if mode < 0 {
			return undefined()
		}
		vectorOnly = true
		fn = func(x uint64) uint64 { return c.fpRoundInt(x, size, mode) }
	case opcode == 0b11010 || opcode == 0b11011 || opcode == 0b11100 && !hi:
		// FCVT[NPMZA][SU]
		var mode int
		switch {
		case opcode == 0b11010 && !hi:
			mode = roundNearest
		case opcode == 0b11010:
			mode = roundPlus
		case opcode == 0b11011 && !hi:
			mode = roundMinus
		case opcode == 0b11011:
			mode = roundZero
		default:
			mode = roundAway
		}
		fn = func(x uint64) uint64 { return fpToInt(x, size, 0, mode, !u, uint(8*size)) }
	case opcode == 0b11101 && !hi: // SCVTF, UCVTF
		fn = func(x uint64) uint64 { return intToFP(x, !u, uint(8*size), 0, size) }
	default:
		return undefined()
	}

	lanes := 8 / size
	switch {
	case scalar && vectorOnly:
		return undefined()
	case scalar:
		lanes = 1
	case size == 8 && !q:
		return undefined()
	case q:
		lanes = 16 / size
	}
	var r [16]byte
	for i := 0; i < lanes; i++ {
		setElement(&r, size, i, fn(element(n, size, i)))
	}
	c.vecResult(rd, r, q, scalar, size)
	return nil
}

// simdAcrossLanes executes the reductions across a vector.
func (c *cpu) simdAcrossLanes(insn uint32) *exception {
	u, q := bit(insn, 29), bit(insn, 30)
	size, opcode := bits(insn, 23, 22), bits(insn, 16, 12)
	rd, n := bits(insn, 4, 0), c.vbytes(bits(insn, 9, 5))

	if opcode == 0b01100 || opcode == 0b01111 { // FMAXNMV, FMINNMV, FMAXV, FMINV
		if !u || !q || size&1 != 0 {
			return undefined()
		}
		op := fpMax
		switch {
		case opcode == 0b01100 && size == 0:
			op = fpMaxNum
		case opcode == 0b01100:
			op = fpMinNum
		case size == 2:
			op = fpMin
		}
		lo := c.fpArith(op, element(n, 4, 0), element(n, 4, 1), 4)
		hi := c.fpArith(op, element(n, 4, 2), element(n, 4, 3), 4)
		c.setV(rd, c.fpArith(op, lo, hi, 4), 0, 4)
		return nil
	}

	esize, lanes := arrangement(size, q)
	if size == 3 || size == 2 && !q {
		return undefined()
	}
	acc := element(n, esize, 0)
	if !u && opcode != 0b11011 {
		acc = uint64(signedElem(acc, esize))
	}
	for i := 1; i < lanes; i++ {
		x := element(n, esize, i)
		sx := signedElem(x, esize)
		switch {
		case opcode == 0b00011 && u: // UADDLV
			acc += x
		case opcode == 0b00011: // SADDLV
			acc += uint64(sx)
		case opcode == 0b01010 && u: // UMAXV
			acc = max(acc, x)
		case opcode == 0b01010: // SMAXV
			acc = uint64(max(int64(acc), sx))
		case opcode == 0b11010 && u: // UMINV
			acc = min(acc, x)
		case opcode == 0b11010: // SMINV
			acc = uint64(min(int64(acc), sx))
		case opcode == 0b11011 && !u: // ADDV
			acc += x
		default:
			return undefined()
		}
	}
	switch opcode {
	case 0b00011:
		c.setV(rd, acc&emask(2*esize), 0, 2*esize)
	default:
		c.setV(rd, acc&emask(esize), 0, esize)
	}
	return nil
}

// simdScalarPairwise executes ADDP and the floating-point pairwise
// operations that produce a scalar.
func (c *cpu) simdScalarPairwise(insn uint32) *exception {
	u, size, opcode := bit(insn, 29), bits(insn, 23, 22), bits(insn, 16, 12)
	rd, n := bits(insn, 4, 0), c.vbytes(bits(insn, 9, 5))
	if !u {
		if opcode != 0b11011 || size != 3 {
			return undefined()
		}
		c.setV(rd, element(n, 8, 0)+element(n, 8, 1), 0, 8)
		return nil
	}
	fsize := 4 << (size & 1)
	x, y := element(n, fsize, 0), element(n, fsize, 1)
	lower := size&2 != 0
	var op fpOp
	switch {
	case opcode == 0b01100 && !lower:
		op = fpMaxNum
	case opcode == 0b01100:
		op = fpMinNum
	case opcode == 0b01101 && !lower:
		op = fpAdd
	case opcode == 0b01111 && !lower:
		op = fpMax
	case opcode == 0b01111:
		op = fpMin
	default:
		return undefined()
	}
	c.setV(rd, c.fpArith(op, x, y, fsize), 0, fsize)
	return nil
}

// simdShiftImm executes the shifts by immediate, including the narrowing
// and widening forms and the fixed-point conversions.
func (c *cpu) simdShiftImm(insn uint32, scalar bool) *exception {
	u, q := bit(insn, 29), bit(insn, 30)
	immh, immb := bits(insn, 22, 19), bits(insn, 18, 16)
	opcode := bits(insn, 15, 11)
	rd, rn := bits(insn, 4, 0), bits(insn, 9, 5)
	if immh == 0 {
		return undefined()
	}
	esize := 1 << (mbits.Len32(immh) - 1)
	ebits := 8 * esize
	immhb := int(immh<<3 | immb)
	rshift, lshift := 2*ebits-immhb, immhb-ebits
	n, d := c.vbytes(rn), c.vbytes(rd)
	_, lanes := arrangement(uint32(mbits.Len32(immh)-1), q)

	switch opcode {
	case 0b10000, 0b10001, 0b10100:
		if scalar || esize == 8 {
			return undefined()
		}
		wide := 2 * esize
		if opcode == 0b10100 { // SSHLL, USHLL
			src := widenFrom(n, q)
			var r [16]byte
			for i := 0; i < 8/esize; i++ {
				x := element(src, esize, i)
				if !u {
					x = uint64(signedElem(x, esize))
				}
				setElement(&r, wide, i, x<<uint(lshift)&emask(wide))
			}
			c.setVBytes(rd, r, true)
			return nil
		}
		if u { // SQSHRUN, SQRSHRUN
			return undefined()
		}
		// SHRN, RSHRN
		round := opcode == 0b10001
		c.narrowInto(rd, q, esize, func(i int) uint64 {
			return shiftRight(element(n, wide, i), rshift, wide, false, round) & emask(esize)
		})
		return nil
	}

	if scalar {
		if opcode < 0b11100 && esize != 8 || opcode >= 0b11100 && esize < 4 {
			return undefined()
		}
		lanes = 1
	} else if esize == 8 && !q {
		return undefined()
	}

	var fn func(x, d uint64) (uint64, bool)
	switch opcode {
	case 0b00000, 0b00010, 0b00100, 0b00110:
		// [SU]SHR, [SU]SRA, [SU]RSHR, [SU]RSRA
		round, acc := opcode&0b00100 != 0, opcode&0b00010 != 0
		fn = func(x, d uint64) (uint64, bool) {
			v := shiftRight(x, rshift, esize, !u, round)
			if acc {
				v = (v + d) & emask(esize)
			}
			return v, true
		}
	case 0b01010: // SHL, SLI
		fn = func(x, d uint64) (uint64, bool) {
			v := x << uint(lshift) & emask(esize)
			if u {
				v |= d & ones(uint(lshift))
			}
			return v, true
		}
	case 0b01000: // SRI
		fn = func(x, d uint64) (uint64, bool) {
			if !u {
				return 0, false
			}
			keep := ^(emask(esize) >> uint(rshift)) & emask(esize)
			return shiftRight(x, rshift, esize, false, false) | d&keep, true
		}
	case 0b11100: // SCVTF, UCVTF (fixed-point)
		fn = func(x, _ uint64) (uint64, bool) {
			if esize < 4 {
				return 0, false
			}
			return intToFP(x, !u, uint(ebits), uint(rshift), esize), true
		}
	case 0b11111: // FCVTZS, FCVTZU (fixed-point)
		fn = func(x, _ uint64) (uint64, bool) {
			if esize < 4 {
				return 0, false
			}
			return fpToInt(x, esize, uint(rshift), roundZero, !u, uint(ebits)), true
		}
	default:
		return undefined()
	}

	var r [16]byte
	for i := 0; i < lanes; i++ {
		v, ok := fn(element(n, esize, i), element(d, esize, i))
		if !ok {
			return undefined()
		}
		setElement(&r, esize, i, v)
	}
	c.vecResult(rd, r, q, scalar, esize)
	return nil
}

// simdPermute executes UZP1, TRN1, ZIP1, UZP2, TRN2 and ZIP2.
func (c *cpu) simdPermute(insn uint32) *exception {
	q := bit(insn, 30)
	size, opcode := bits(insn, 23, 22), bits(insn, 14, 12)
	rd, rn, rm := bits(insn, 4, 0), bits(insn, 9, 5), bits(insn, 20, 16)
	if size == 3 && !q || opcode&3 == 0 {
		return undefined()
	}
	esize, lanes := arrangement(size, q)
	n, m := c.vbytes(rn), c.vbytes(rm)
	part := int(opcode >> 2)
	half := lanes / 2
	var r [16]byte
	for i := 0; i < lanes; i++ {
		var v uint64
		switch opcode & 3 {
		case 0b01: // UZP
			j := 2*i + part
			if j < lanes {
				v = element(n, esize, j)
			} else {
				v = element(m, esize, j-lanes)
			}
		case 0b10: // TRN
			j := i&^1 + part
			if i&1 == 0 {
				v = element(n, esize, j)
			} else {
				v = element(m, esize, j)
			}
		case 0b11: // ZIP
			j := part*half + i/2
			if i&1 == 0 {
				v = element(n, esize, j)
			} else {
				v = element(m, esize, j)
			}
		}
		setElement(&r, esize, i, v)
	}
	c.setVBytes(rd, r, q)
	return nil
}

// simdExtract executes EXT.
func (c *cpu) simdExtract(insn uint32) *exception {
	q := bit(insn, 30)
	imm4 := int(bits(insn, 14, 11))
	rd, rn, rm := bits(insn, 4, 0), bits(insn, 9, 5), bits(insn, 20, 16)
	width := 8
	if q {
		width = 16
	}
	if imm4 >= width {
		return undefined()
	}
	n, m := c.vbytes(rn), c.vbytes(rm)
	var cat [32]byte
	copy(cat[:width], n[:width])
	copy(cat[width:], m[:width])
	var r [16]byte
	copy(r[:width], cat[imm4:imm4+width])
	c.setVBytes(rd, r, q)
	return nil
}

// simdTableLookup executes TBL and TBX.
func (c *cpu) simdTableLookup(insn uint32) *exception {
	q, tbx := bit(insn, 30), bit(insn, 12)
	regs := int(bits(insn, 14, 13)) + 1
	rd, rn, rm := bits(insn, 4, 0), bits(insn, 9, 5), bits(insn, 20, 16)
	var table [64]byte
	for i := 0; i < regs; i++ {
		t := c.vbytes((rn + uint32(i)) % 32)
		copy(table[16*i:], t[:])
	}
	idx, r := c.vbytes(rm), c.vbytes(rd)
	if !tbx {
		r = [16]byte{}
	}
	for i := range r {
		if int(idx[i]) < 16*regs {
			r[i] = table[idx[i]]
		}
	}
	c.setVBytes(rd, r, q)
	return nil
}
