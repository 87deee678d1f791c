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
)

// FPCR fields.
const (
	fpcrDN         = 1 << 25
	fpcrRModeShift = 22
)

// Rounding modes, in FPCR.RMode order, plus ties-away.
const (
	roundNearest = iota
	roundPlus
	roundMinus
	roundZero
	roundAway
)

// Scalar floating-point values are kept as raw bits: a size of 4 is single
// precision and 8 is double. Arithmetic is done in float64 and rounded
// once to the destination format, which is exact for single-precision
// add, subtract, multiply, divide and square root. Results are rounded to
// nearest; FPCR.RMode only steers the instructions that name "current
// mode". Cumulative exception flags in FPSR are not maintained.

func fpSignBit(size int) uint64 {
	return 1 << (8*size - 1)
}

func fpIsNaN(v uint64, size int) bool {
	if size == 4 {
		return math.IsNaN(float64(math.Float32frombits(uint32(v))))
	}
	return math.IsNaN(math.Float64frombits(v))
}

// fpQuietBit is the most significant fraction bit.
func fpQuietBit(size int) uint64 {
	if size == 4 {
		return 1 << 22
	}
	return 1 << 51
}

func fpIsSNaN(v uint64, size int) bool {
	return fpIsNaN(v, size) && v&fpQuietBit(size) == 0
}

func fpDefaultNaN(size int) uint64 {
	if size == 4 {
		return 0x7fc0_0000
	}
	return 0x7ff8_0000_0000_0000
}

func fpInfinity(size int, neg bool) uint64 {
	v := uint64(0x7ff0_0000_0000_0000)
	if size == 4 {
		v = 0x7f80_0000
	}
	if neg {
		v |= fpSignBit(size)
	}
	return v
}

func toFloat(v uint64, size int) float64 {
	if size == 4 {
		return float64(math.Float32frombits(uint32(v)))
	}
	return math.Float64frombits(v)
}

// fromFloat rounds f to the format. A NaN result here comes from an
// invalid operation, which always produces the default NaN.
func fromFloat(f float64, size int) uint64 {
	if math.IsNaN(f) {
		return fpDefaultNaN(size)
	}
	if size == 4 {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

// propagateNaN returns the NaN result for a NaN operand: the operand made
// quiet, or the default NaN if FPCR.DN is set.
func (c *cpu) propagateNaN(v uint64, size int) uint64 {
	if c.p.fpcr&fpcrDN != 0 {
		return fpDefaultNaN(size)
	}
	return v | fpQuietBit(size)
}

// processNaNs picks the NaN an operation on ops returns: the first
// signaling NaN, else the first quiet NaN. ok is false if no operand is a
// NaN.
func (c *cpu) processNaNs(size int, ops ...uint64) (uint64, bool) {
	for _, v := range ops {
		if fpIsSNaN(v, size) {
			return c.propagateNaN(v, size), true
		}
	}
	for _, v := range ops {
		if fpIsNaN(v, size) {
			return c.propagateNaN(v, size), true
		}
	}
	return 0, false
}

// fpOp is a two-operand floating-point operation.
type fpOp int

const (
	fpMul fpOp = iota
	fpDiv
	fpAdd
	fpSub
	fpMax
	fpMin
	fpMaxNum
	fpMinNum
	fpNMul
	fpAbsDiff
)

// fpArith executes op on a and b.
func (c *cpu) fpArith(op fpOp, a, b uint64, size int) uint64 {
	if op == fpMaxNum || op == fpMinNum {
		// A single quiet NaN loses to a number.
		aq := fpIsNaN(a, size) && !fpIsSNaN(a, size)
		bq := fpIsNaN(b, size) && !fpIsSNaN(b, size)
		switch {
		case aq && !fpIsNaN(b, size):
			a = b
		case bq && !fpIsNaN(a, size):
			b = a
		}
	}
	if r, ok := c.processNaNs(size, a, b); ok {
		switch op {
		case fpNMul:
			return r ^ fpSignBit(size)
		case fpAbsDiff:
			return r &^ fpSignBit(size)
		}
		return r
	}
	x, y := toFloat(a, size), toFloat(b, size)
	switch op {
	case fpMul:
		return fromFloat(x*y, size)
	case fpNMul:
		return fromFloat(x*y, size) ^ fpSignBit(size)
	case fpDiv:
		return fromFloat(x/y, size)
	case fpAdd:
		return fromFloat(x+y, size)
	case fpSub:
		return fromFloat(x-y, size)
	case fpAbsDiff:
		return fromFloat(x-y, size) &^ fpSignBit(size)
	case fpMax, fpMaxNum:
		if x == y && x == 0 {
			// +0 is larger than -0.
			return a & b
		}
		if x > y {
			return a
		}
		return b
	case fpMin, fpMinNum:
		if x == y && x == 0 {
			return a | b
		}
		if x < y {
			return a
		}
		return b
	}
	panic("unknown fpOp")
}

// fpMulAdd returns addend + n*m with a single rounding, negating the
// product and the addend as asked.
func (c *cpu) fpMulAdd(addend, n, m uint64, negProduct, negAddend bool, size int) uint64 {
	x, y, z := toFloat(n, size), toFloat(m, size), toFloat(addend, size)
	if fpIsNaN(addend, size) && !fpIsSNaN(addend, size) && !fpIsNaN(n, size) && !fpIsNaN(m, size) &&
		(math.IsInf(x, 0) && y == 0 || x == 0 && math.IsInf(y, 0)) {
		return fpDefaultNaN(size)
	}
	if r, ok := c.processNaNs(size, addend, n, m); ok {
		return r
	}
	if negProduct {
		x = -x
	}
	if negAddend {
		z = -z
	}
	return fromFloat(math.FMA(x, y, z), size)
}

// fpCompare returns the NZCV flags for comparing a with b.
func fpCompare(a, b uint64, size int) uint64 {
	x, y := toFloat(a, size), toFloat(b, size)
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return flagC | flagV
	case x == y:
		return flagZ | flagC
	case x < y:
		return flagN
	default:
		return flagC
	}
}

// roundToIntegral rounds f to an integral value in the given mode.
func roundToIntegral(f float64, mode int) float64 {
	switch mode {
	case roundPlus:
		return math.Ceil(f)
	case roundMinus:
		return math.Floor(f)
	case roundZero:
		return math.Trunc(f)
	case roundAway:
		return math.Round(f)
	default:
		return math.RoundToEven(f)
	}
}

// fpRoundInt executes the FRINT family.
func (c *cpu) fpRoundInt(v uint64, size, mode int) uint64 {
	if fpIsNaN(v, size) {
		return c.propagateNaN(v, size)
	}
	return fromFloat(roundToIntegral(toFloat(v, size), mode), size)
}

// fpToInt converts v to a width-bit integer, scaled by 2^fbits, rounding in
// mode. Out of range values saturate and NaN converts to zero.
func fpToInt(v uint64, size int, fbits uint, mode int, signed bool, width uint) uint64 {
	if fpIsNaN(v, size) {
		return 0
	}
	f := roundToIntegral(math.Ldexp(toFloat(v, size), int(fbits)), mode)
	limit := math.Ldexp(1, int(width))
	if signed {
		half := limit / 2
		switch {
		case f >= half:
			return ones(width - 1)
		case f < -half:
			return ones(width) &^ ones(width-1)
		}
		return uint64(int64(f)) & ones(width)
	}
	switch {
	case f <= 0:
		return 0
	case f >= limit:
		return ones(width)
	}
	return uint64(f)
}

// intToFP converts the width-bit integer v, scaled by 2^-fbits, to the
// format, rounding once.
func intToFP(v uint64, signed bool, width uint, fbits uint, size int) uint64 {
	scale := math.Ldexp(1, -int(fbits))
	if size == 4 {
		var f float32
		if signed {
			f = float32(int64(sext(v, width)))
		} else {
			f = float32(v & ones(width))
		}
		return uint64(math.Float32bits(f * float32(scale)))
	}
	var f float64
	if signed {
		f = float64(int64(sext(v, width)))
	} else {
		f = float64(v & ones(width))
	}
	return math.Float64bits(f * scale)
}

// fpConvert changes the precision of v from one size to another.
func (c *cpu) fpConvert(v uint64, from, to int) uint64 {
	if fpIsNaN(v, from) {
		if c.p.fpcr&fpcrDN != 0 {
			return fpDefaultNaN(to)
		}
		sign := v&fpSignBit(from) != 0
		var frac uint64
		if from == 4 {
			frac = (v & ones(23)) << 29
		} else {
			frac = v & ones(52)
		}
		r := fpInfinity(to, sign)
		if to == 4 {
			r |= frac >> 29
		} else {
			r |= frac
		}
		return r | fpQuietBit(to)
	}
	return fromFloat(toFloat(v, from), to)
}

// fpExpandImm expands the 8-bit floating-point immediate of FMOV.
func fpExpandImm(imm8 uint32, size int) uint64 {
	sign := uint64(imm8>>7) & 1
	b6 := uint64(imm8>>6) & 1
	top := uint64(imm8>>4) & 3
	frac := uint64(imm8) & 0xf
	if size == 4 {
		exp := (b6^1)<<7 | b6*0x1f<<2 | top
		return sign<<31 | exp<<23 | frac<<19
	}
	exp := (b6^1)<<10 | b6*0xff<<2 | top
	return sign<<63 | exp<<52 | frac<<48
}

// fpSize decodes the ftype field of scalar floating-point instructions.
// Half precision is not implemented.
func fpSize(ftype uint32) (int, bool) {
	switch ftype {
	case 0:
		return 4, true
	case 1:
		return 8, true
	}
	return 0, false
}

// fpScalar executes the scalar floating-point group, including the
// conversions to and from general registers.
func (c *cpu) fpScalar(insn uint32) *exception {
	if bit(insn, 29) || bits(insn, 27, 24) != 0b1110 && bits(insn, 27, 24) != 0b1111 {
		return undefined()
	}
	if bit(insn, 24) {
		return c.fpDataProcessing3(insn)
	}
	if !bit(insn, 21) {
		return c.fpFixedConvert(insn)
	}
	switch {
	case bits(insn, 15, 10) == 0:
		return c.fpIntConvert(insn)
	case bits(insn, 14, 10) == 0b10000:
		return c.fpDataProcessing1(insn)
	case bits(insn, 13, 10) == 0b1000:
		return c.fpCompareInsn(insn)
	case bits(insn, 12, 10) == 0b100:
		size, ok := fpSize(bits(insn, 23, 22))
		if !ok || bit(insn, 31) || bits(insn, 9, 5) != 0 {
			return undefined()
		}
		c.setV(bits(insn, 4, 0), fpExpandImm(bits(insn, 20, 13), size), 0, size)
		return nil
	case bits(insn, 11, 10) == 0b01: // FCCMP, FCCMPE
		size, ok := fpSize(bits(insn, 23, 22))
		if !ok || bit(insn, 31) {
			return undefined()
		}
		flags := uint64(bits(insn, 3, 0)) << 28
		if c.cond(bits(insn, 15, 12)) {
			flags = fpCompare(c.p.vregs[bits(insn, 9, 5)][0], c.p.vregs[bits(insn, 20, 16)][0], size)
		}
		c.setFlags(flags)
		return nil
	case bits(insn, 11, 10) == 0b10:
		return c.fpDataProcessing2(insn)
	default: // FCSEL
		size, ok := fpSize(bits(insn, 23, 22))
		if !ok || bit(insn, 31) {
			return undefined()
		}
		src := bits(insn, 20, 16)
		if c.cond(bits(insn, 15, 12)) {
			src = bits(insn, 9, 5)
		}
		c.setV(bits(insn, 4, 0), c.p.vregs[src][0], 0, size)
		return nil
	}
}

// fpDataProcessing1 executes FMOV, FABS, FNEG, FSQRT, FCVT and FRINT*.
func (c *cpu) fpDataProcessing1(insn uint32) *exception {
	size, ok := fpSize(bits(insn, 23, 22))
	if !ok || bit(insn, 31) {
		return undefined()
	}
	rd, v := bits(insn, 4, 0), c.p.vregs[bits(insn, 9, 5)][0]&ones(uint(8*size))
	var r uint64
	switch op := bits(insn, 20, 15); op {
	case 0b000000: // FMOV
		r = v
	case 0b000001: // FABS
		r = v &^ fpSignBit(size)
	case 0b000010: // FNEG
		r = v ^ fpSignBit(size)
	case 0b000011: // FSQRT
		if fpIsNaN(v, size) {
			r = c.propagateNaN(v, size)
		} else {
			r = fromFloat(math.Sqrt(toFloat(v, size)), size)
		}
	case 0b000100, 0b000101: // FCVT
		to, ok := fpSize(op & 3)
		if !ok || to == size {
			return undefined()
		}
		c.setV(rd, c.fpConvert(v, size, to), 0, to)
		return nil
	case 0b001000, 0b001001, 0b001010, 0b001011, 0b001100:
		// FRINTN, FRINTP, FRINTM, FRINTZ, FRINTA.
		r = c.fpRoundInt(v, size, int(op&7))
	case 0b001110, 0b001111: // FRINTX, FRINTI
		r = c.fpRoundInt(v, size, int(c.p.fpcr>>fpcrRModeShift&3))
	default:
		return undefined()
	}
	c.setV(rd, r, 0, size)
	return nil
}

// fpDataProcessing2 executes the two-source arithmetic.
func (c *cpu) fpDataProcessing2(insn uint32) *exception {
	size, ok := fpSize(bits(insn, 23, 22))
	op := bits(insn, 15, 12)
	if !ok || bit(insn, 31) || op > 0b1000 {
		return undefined()
	}
	a := c.p.vregs[bits(insn, 9, 5)][0] & ones(uint(8*size))
	b := c.p.vregs[bits(insn, 20, 16)][0] & ones(uint(8*size))
	c.setV(bits(insn, 4, 0), c.fpArith(fpOp(op), a, b, size), 0, size)
	return nil
}

// fpDataProcessing3 executes FMADD, FMSUB, FNMADD and FNMSUB.
func (c *cpu) fpDataProcessing3(insn uint32) *exception {
	size, ok := fpSize(bits(insn, 23, 22))
	if !ok || bit(insn, 31) {
		return undefined()
	}
	mask := ones(uint(8 * size))
	n := c.p.vregs[bits(insn, 9, 5)][0] & mask
	m := c.p.vregs[bits(insn, 20, 16)][0] & mask
	a := c.p.vregs[bits(insn, 14, 10)][0] & mask
	o1, o0 := bit(insn, 21), bit(insn, 15)
	// FMADD: a+n*m, FMSUB: a-n*m, FNMADD: -a-n*m, FNMSUB: -a+n*m.
	r := c.fpMulAdd(a, n, m, o0 != o1, o1, size)
	c.setV(bits(insn, 4, 0), r, 0, size)
	return nil
}

// fpCompareInsn executes FCMP and FCMPE.
func (c *cpu) fpCompareInsn(insn uint32) *exception {
	size, ok := fpSize(bits(insn, 23, 22))
	if !ok || bit(insn, 31) || bits(insn, 15, 14) != 0 || bits(insn, 2, 0) != 0 {
		return undefined()
	}
	a := c.p.vregs[bits(insn, 9, 5)][0] & ones(uint(8*size))
	var b uint64
	if !bit(insn, 3) {
		b = c.p.vregs[bits(insn, 20, 16)][0] & ones(uint(8*size))
	}
	c.setFlags(fpCompare(a, b, size))
	return nil
}

// fpIntConvert executes the conversions between floating-point and
// general registers: FCVT[NPMZA][SU], [SU]CVTF and FMOV.
func (c *cpu) fpIntConvert(insn uint32) *exception {
	sf := bit(insn, 31)
	rmode, opcode := bits(insn, 20, 19), bits(insn, 18, 16)
	if opcode >= 0b110 {
		return c.fmovGeneral(insn)
	}
	size, ok := fpSize(bits(insn, 23, 22))
	if !ok {
		return undefined()
	}
	width := datasize(sf)
	rd, rn := bits(insn, 4, 0), bits(insn, 9, 5)
	switch {
	case opcode == 0b010 || opcode == 0b011: // SCVTF, UCVTF
		if rmode != 0 {
			return undefined()
		}
		c.setV(rd, intToFP(c.x(rn), opcode == 0b010, width, 0, size), 0, size)
	default:
		mode := int(rmode)
		if opcode >= 0b100 { // FCVTAS, FCVTAU
			if rmode != 0 {
				return undefined()
			}
			mode = roundAway
		}
		v := c.p.vregs[rn][0] & ones(uint(8*size))
		c.setX(rd, fpToInt(v, size, 0, mode, opcode&1 == 0, width), sf)
	}
	return nil
}

// fpFixedConvert executes the fixed-point forms of SCVTF, UCVTF, FCVTZS
// and FCVTZU.
func (c *cpu) fpFixedConvert(insn uint32) *exception {
	sf := bit(insn, 31)
	size, ok := fpSize(bits(insn, 23, 22))
	scale := bits(insn, 15, 10)
	if !ok || (!sf && scale < 32) {
		return undefined()
	}
	fbits := uint(64 - scale)
	width := datasize(sf)
	rd, rn := bits(insn, 4, 0), bits(insn, 9, 5)
	switch bits(insn, 20, 16) {
	case 0b00010, 0b00011: // SCVTF, UCVTF
		c.setV(rd, intToFP(c.x(rn), !bit(insn, 16), width, fbits, size), 0, size)
	case 0b11000, 0b11001: // FCVTZS, FCVTZU
		v := c.p.vregs[rn][0] & ones(uint(8*size))
		c.setX(rd, fpToInt(v, size, fbits, roundZero, !bit(insn, 16), width), sf)
	default:
		return undefined()
	}
	return nil
}
