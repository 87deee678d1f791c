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
	mbits "math/bits"
)

// addWithCarry returns x+y+carry and the resulting NZCV flags, in the
// datasize selected by sf.
func addWithCarry(x, y, carry uint64, sf bool) (uint64, uint64) {
	var result, nzcv uint64
	if sf {
		sum, c := mbits.Add64(x, y, carry)
		result = sum
		if c != 0 {
			nzcv |= flagC
		}
		if ((x^sum)&(y^sum))>>63 != 0 {
			nzcv |= flagV
		}
		if sum>>63 != 0 {
			nzcv |= flagN
		}
	} else {
		x32, y32 := uint64(uint32(x)), uint64(uint32(y))
		sum := x32 + y32 + carry
		r := uint64(uint32(sum))
		result = r
		if sum>>32 != 0 {
			nzcv |= flagC
		}
		if ((x32^r)&(y32^r))>>31&1 != 0 {
			nzcv |= flagV
		}
		if r>>31 != 0 {
			nzcv |= flagN
		}
	}
	if result == 0 {
		nzcv |= flagZ
	}
	return result, nzcv
}

// logicFlags returns the flags of a logical operation: N and Z from the
// result, C and V clear.
func logicFlags(result uint64, sf bool) uint64 {
	var nzcv uint64
	if !sf {
		result = uint64(uint32(result))
		if result>>31 != 0 {
			nzcv |= flagN
		}
	} else if result>>63 != 0 {
		nzcv |= flagN
	}
	if result == 0 {
		nzcv |= flagZ
	}
	return nzcv
}

func datasize(sf bool) uint {
	if sf {
		return 64
	}
	return 32
}

func ones(n uint) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return 1<<n - 1
}

// ror rotates the low size bits of v right by n.
func ror(v uint64, n, size uint) uint64 {
	v &= ones(size)
	n %= size
	if n == 0 {
		return v
	}
	return (v>>n | v<<(size-n)) & ones(size)
}

// replicate repeats the low esize bits of v across size bits.
func replicate(v uint64, esize, size uint) uint64 {
	v &= ones(esize)
	r := uint64(0)
	for i := uint(0); i < size; i += esize {
		r |= v << i
	}
	return r
}

// decodeBitMasks implements the DecodeBitMasks pseudocode function.
func decodeBitMasks(n, imms, immr uint32, immediate bool, size uint) (wmask, tmask uint64, ok bool) {
	combined := n<<6 | (^imms & 0x3f)
	if combined == 0 {
		return 0, 0, false
	}
	length := uint(mbits.Len32(combined)) - 1
	if length < 1 || (1<<length) > size {
		return 0, 0, false
	}
	levels := uint32(ones(length))
	if immediate && imms&levels == levels {
		return 0, 0, false
	}
	s := uint(imms & levels)
	r := uint(immr & levels)
	d := uint((imms - immr) & levels)
	esize := uint(1) << length
	welem := ones(s + 1)
	telem := ones(d + 1)
	wmask = replicate(ror(welem, r, esize), esize, size)
	tmask = replicate(telem, esize, size)
	return wmask, tmask, true
}

// dataProcessingImm executes the data processing (immediate) group.
func (c *cpu) dataProcessingImm(insn uint32, pc uint64) *exception {
	sf := bit(insn, 31)
	size := datasize(sf)
	rd, rn := bits(insn, 4, 0), bits(insn, 9, 5)

	switch bits(insn, 25, 23) {
	case 0b000, 0b001: // ADR, ADRP
		imm := sext(uint64(bits(insn, 23, 5)<<2|bits(insn, 30, 29)), 21)
		if sf {
			c.setX(rd, uint64(pcRelative(pc&^0xfff, imm<<12)), true)
		} else {
			c.setX(rd, uint64(pcRelative(pc, imm)), true)
		}
		return nil

	case 0b010: // ADD, ADDS, SUB, SUBS (immediate)
		imm := uint64(bits(insn, 21, 10))
		if bit(insn, 22) {
			imm <<= 12
		}
		sub, setFlags := bit(insn, 30), bit(insn, 29)
		carry := uint64(0)
		if sub {
			imm, carry = ^imm, 1
		}
		result, nzcv := addWithCarry(c.xsp(rn), imm, carry, sf)
		if setFlags {
			c.setFlags(nzcv)
			c.setX(rd, result, sf)
		} else {
			c.setXSP(rd, result, sf)
		}
		return nil

	case 0b100: // AND, ORR, EOR, ANDS (immediate)
		if !sf && bit(insn, 22) {
			return undefined()
		}
		imm, _, ok := decodeBitMasks(bits(insn, 22, 22), bits(insn, 15, 10), bits(insn, 21, 16), true, size)
		if !ok {
			return undefined()
		}
		op := c.x(rn)
		var result uint64
		switch bits(insn, 30, 29) {
		case 0b00:
			result = op & imm
		case 0b01:
			result = op | imm
		case 0b10:
			result = op ^ imm
		case 0b11:
			result = op & imm
			c.setFlags(logicFlags(result, sf))
			c.setX(rd, result, sf)
			return nil
		}
		c.setXSP(rd, result, sf)
		return nil

	case 0b101: // MOVN, MOVZ, MOVK
		hw := uint(bits(insn, 22, 21))
		if !sf && hw > 1 {
			return undefined()
		}
		imm := uint64(bits(insn, 20, 5)) << (16 * hw)
		switch bits(insn, 30, 29) {
		case 0b00:
			c.setX(rd, ^imm, sf)
		case 0b10:
			c.setX(rd, imm, sf)
		case 0b11:
			v := c.x(rd)&^(0xffff<<(16*hw)) | imm
			c.setX(rd, v, sf)
		default:
			return undefined()
		}
		return nil

	case 0b110: // SBFM, BFM, UBFM
		n := bits(insn, 22, 22)
		if (n == 1) != sf {
			return undefined()
		}
		immr, imms := bits(insn, 21, 16), bits(insn, 15, 10)
		wmask, tmask, ok := decodeBitMasks(n, imms, immr, false, size)
		if !ok {
			return undefined()
		}
		src := c.x(rn) & ones(size)
		var dst, top uint64
		opc := bits(insn, 30, 29)
		switch opc {
		case 0b00, 0b10:
		case 0b01:
			dst = c.x(rd)
		default:
			return undefined()
		}
		bot := dst&^wmask | ror(src, uint(immr), size)&wmask
		switch opc {
		case 0b00:
			if src>>imms&1 != 0 {
				top = ones(size)
			}
		case 0b01:
			top = dst
		}
		c.setX(rd, (top&^tmask|bot&tmask)&ones(size), sf)
		return nil

	case 0b111: // EXTR
		if bits(insn, 30, 29) != 0 || bit(insn, 21) || (bit(insn, 22) != sf) {
			return undefined()
		}
		lsb := uint(bits(insn, 15, 10))
		if lsb >= size {
			return undefined()
		}
		n, m := c.x(rn)&ones(size), c.x(bits(insn, 20, 16))&ones(size)
		result := m
		if lsb != 0 {
			result = (m>>lsb | n<<(size-lsb)) & ones(size)
		}
		c.setX(rd, result, sf)
		return nil
	}
	return undefined()
}

// shift applies a shift type to v in the given datasize.
func shift(v uint64, typ uint32, amount, size uint) uint64 {
	v &= ones(size)
	amount %= size
	switch typ {
	case 0: // LSL
		return v << amount & ones(size)
	case 1: // LSR
		return v >> amount
	case 2: // ASR
		return uint64(int64(sext(v, size))>>amount) & ones(size)
	default: // ROR
		return ror(v, amount, size)
	}
}

// extend applies an extend option to v, then shifts it left.
func extend(v uint64, option uint32, lsl uint, size uint) uint64 {
	switch option {
	case 0b000:
		v = uint64(uint8(v))
	case 0b001:
		v = uint64(uint16(v))
	case 0b010:
		v = uint64(uint32(v))
	case 0b100:
		v = uint64(int64(int8(v)))
	case 0b101:
		v = uint64(int64(int16(v)))
	case 0b110:
		v = uint64(int64(int32(v)))
	}
	return v << lsl & ones(size)
}

// dataProcessingReg executes the data processing (register) group.
func (c *cpu) dataProcessingReg(insn uint32) *exception {
	sf := bit(insn, 31)
	size := datasize(sf)
	rd, rn, rm := bits(insn, 4, 0), bits(insn, 9, 5), bits(insn, 20, 16)

	switch {
	case bits(insn, 28, 24) == 0b01010: // Logical (shifted register).
		amount := uint(bits(insn, 15, 10))
		if !sf && amount >= 32 {
			return undefined()
		}
		op2 := shift(c.x(rm), bits(insn, 23, 22), amount, size)
		if bit(insn, 21) {
			op2 = ^op2 & ones(size)
		}
		op1 := c.x(rn)
		var result uint64
		switch bits(insn, 30, 29) {
		case 0b00:
			result = op1 & op2
		case 0b01:
			result = op1 | op2
		case 0b10:
			result = op1 ^ op2
		case 0b11:
			result = op1 & op2
			c.setFlags(logicFlags(result, sf))
		}
		c.setX(rd, result, sf)
		return nil

	case bits(insn, 28, 24) == 0b01011: // Add/subtract.
		var op1, op2 uint64
		if bit(insn, 21) { // Extended register.
			amount := uint(bits(insn, 12, 10))
			if bits(insn, 23, 22) != 0 || amount > 4 {
				return undefined()
			}
			op1 = c.xsp(rn)
			op2 = extend(c.x(rm), bits(insn, 15, 13), amount, size)
		} else { // Shifted register.
			typ, amount := bits(insn, 23, 22), uint(bits(insn, 15, 10))
			if typ == 3 || (!sf && amount >= 32) {
				return undefined()
			}
			op1 = c.x(rn)
			op2 = shift(c.x(rm), typ, amount, size)
		}
		carry := uint64(0)
		if bit(insn, 30) {
			op2, carry = ^op2, 1
		}
		result, nzcv := addWithCarry(op1, op2, carry, sf)
		switch {
		case bit(insn, 29):
			c.setFlags(nzcv)
			c.setX(rd, result, sf)
		case bit(insn, 21):
			c.setXSP(rd, result, sf)
		default:
			c.setX(rd, result, sf)
		}
		return nil

	case bits(insn, 28, 21) == 0b11010000: // ADC, ADCS, SBC, SBCS
		op2 := c.x(rm)
		if bit(insn, 30) {
			op2 = ^op2
		}
		carry := uint64(0)
		if c.regs.Pstate&flagC != 0 {
			carry = 1
		}
		result, nzcv := addWithCarry(c.x(rn), op2, carry, sf)
		if bit(insn, 29) {
			c.setFlags(nzcv)
		}
		c.setX(rd, result, sf)
		return nil

	case bits(insn, 28, 21) == 0b11010010: // CCMN, CCMP
		if !bit(insn, 29) || bit(insn, 10) || bit(insn, 4) {
			return undefined()
		}
		if !c.cond(bits(insn, 15, 12)) {
			c.setFlags(uint64(bits(insn, 3, 0)) << 28)
			return nil
		}
		op2 := uint64(rm)
		if !bit(insn, 11) {
			op2 = c.x(rm)
		}
		carry := uint64(0)
		if bit(insn, 30) {
			op2, carry = ^op2, 1
		}
		_, nzcv := addWithCarry(c.x(rn), op2, carry, sf)
		c.setFlags(nzcv)
		return nil

	case bits(insn, 28, 21) == 0b11010100: // CSEL, CSINC, CSINV, CSNEG
		if bit(insn, 29) || bit(insn, 11) {
			return undefined()
		}
		var result uint64
		if c.cond(bits(insn, 15, 12)) {
			result = c.x(rn)
		} else {
			result = c.x(rm)
			switch bits(insn, 30, 30)<<1 | bits(insn, 10, 10) {
			case 0b01:
				result++
			case 0b10:
				result = ^result
			case 0b11:
				result = -result
			}
		}
		c.setX(rd, result, sf)
		return nil

	case bits(insn, 28, 21) == 0b11010110:
		if bit(insn, 30) {
			return c.dataProcessing1(insn, sf)
		}
		return c.dataProcessing2(insn, sf)

	case bits(insn, 28, 24) == 0b11011:
		return c.dataProcessing3(insn, sf)
	}
	return undefined()
}

// dataProcessing1 executes RBIT, REV16, REV32, REV, CLZ and CLS.
func (c *cpu) dataProcessing1(insn uint32, sf bool) *exception {
	if bits(insn, 20, 16) != 0 || bit(insn, 29) {
		return undefined()
	}
	rd, v := bits(insn, 4, 0), c.x(bits(insn, 9, 5))
	var result uint64
	switch op := bits(insn, 15, 10); {
	case op == 0b000000:
		if sf {
			result = mbits.Reverse64(v)
		} else {
			result = uint64(mbits.Reverse32(uint32(v)))
		}
	case op == 0b000001:
		result = (v&0x00ff00ff00ff00ff)<<8 | (v>>8)&0x00ff00ff00ff00ff
	case op == 0b000010 && sf:
		result = uint64(mbits.ReverseBytes32(uint32(v))) | uint64(mbits.ReverseBytes32(uint32(v>>32)))<<32
	case op == 0b000010 || (op == 0b000011 && sf):
		if sf {
			result = mbits.ReverseBytes64(v)
		} else {
			result = uint64(mbits.ReverseBytes32(uint32(v)))
		}
	case op == 0b000100:
		if sf {
			result = uint64(mbits.LeadingZeros64(v))
		} else {
			result = uint64(mbits.LeadingZeros32(uint32(v)))
		}
	case op == 0b000101:
		if sf {
			result = uint64(mbits.LeadingZeros64((v^uint64(int64(v)>>63))<<1 | 1))
		} else {
			w := uint32(v)
			result = uint64(mbits.LeadingZeros32((w^uint32(int32(w)>>31))<<1 | 1))
		}
	default:
		return undefined()
	}
	c.setX(rd, result, sf)
	return nil
}

// dataProcessing2 executes UDIV, SDIV and the variable shifts.
func (c *cpu) dataProcessing2(insn uint32, sf bool) *exception {
	if bit(insn, 29) {
		return undefined()
	}
	size := datasize(sf)
	rd := bits(insn, 4, 0)
	a, b := c.x(bits(insn, 9, 5))&ones(size), c.x(bits(insn, 20, 16))&ones(size)
	var result uint64
	switch bits(insn, 15, 10) {
	case 0b000010: // UDIV
		if b != 0 {
			result = a / b
		}
	case 0b000011: // SDIV
		if b != 0 {
			if sf {
				x, y := int64(a), int64(b)
				if x == -1<<63 && y == -1 {
					result = a
				} else {
					result = uint64(x / y)
				}
			} else {
				x, y := int32(a), int32(b)
				if x == -1<<31 && y == -1 {
					result = a
				} else {
					result = uint64(uint32(x / y))
				}
			}
		}
	case 0b001000:
		result = shift(a, 0, uint(b%uint64(size)), size)
	case 0b001001:
		result = shift(a, 1, uint(b%uint64(size)), size)
	case 0b001010:
		result = shift(a, 2, uint(b%uint64(size)), size)
	case 0b001011:
		result = shift(a, 3, uint(b%uint64(size)), size)
	default:
		return undefined()
	}
	c.setX(rd, result, sf)
	return nil
}

// dataProcessing3 executes the multiply-accumulate family.
func (c *cpu) dataProcessing3(insn uint32, sf bool) *exception {
	if bits(insn, 30, 29) != 0 {
		return undefined()
	}
	rd := bits(insn, 4, 0)
	n, m, a := c.x(bits(insn, 9, 5)), c.x(bits(insn, 20, 16)), c.x(bits(insn, 14, 10))
	sub := bit(insn, 15)
	var result uint64
	switch op31 := bits(insn, 23, 21); {
	case op31 == 0b000: // MADD, MSUB
		p := n * m
		if sub {
			result = a - p
		} else {
			result = a + p
		}
	case op31 == 0b001 && sf: // SMADDL, SMSUBL
		p := uint64(int64(int32(n)) * int64(int32(m)))
		if sub {
			result = a - p
		} else {
			result = a + p
		}
	case op31 == 0b101 && sf: // UMADDL, UMSUBL
		p := uint64(uint32(n)) * uint64(uint32(m))
		if sub {
			result = a - p
		} else {
			result = a + p
		}
	case op31 == 0b010 && sf && !sub: // SMULH
		hi, _ := mbits.Mul64(n, m)
		// Correct the unsigned high word for the signs of the operands.
		if int64(n) < 0 {
			hi -= m
		}
		if int64(m) < 0 {
			hi -= n
		}
		result = hi
	case op31 == 0b110 && sf && !sub: // UMULH
		result, _ = mbits.Mul64(n, m)
	default:
		return undefined()
	}
	c.setX(rd, result, sf)
	return nil
}
