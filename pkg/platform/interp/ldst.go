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
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/ring0"
)

// base returns the base address register rn. Accesses through a misaligned
// SP raise an SP alignment fault, as Linux enables SCTLR_EL1.SA0.
func (c *cpu) base(rn uint32) (hostarch.Addr, *exception) {
	if rn == 31 {
		if c.regs.Sp%16 != 0 {
			return 0, &exception{esr: ring0.MakeESR(ring0.ECSPAlign, 0)}
		}
		return hostarch.Addr(c.regs.Sp), nil
	}
	return hostarch.Addr(c.regs.Regs[rn]), nil
}

// setBase writes back an updated base register.
func (c *cpu) setBase(rn uint32, addr hostarch.Addr) {
	c.setXSP(rn, uint64(addr), true)
}

// transfer describes one register of a load or store.
type transfer struct {
	rt     uint32
	size   int
	vector bool

	// signed loads sign-extend to 64 bits, or to 32 if narrow is set.
	signed bool
	narrow bool
}

// loadReg reads t.size bytes at addr into its register.
func (c *cpu) loadReg(t transfer, addr hostarch.Addr) *exception {
	var buf [16]byte
	if exc := c.read(addr, buf[:t.size]); exc != nil {
		return exc
	}
	c.setTransfer(t, buf[:])
	return nil
}

// setTransfer writes loaded bytes to the transfer register.
func (c *cpu) setTransfer(t transfer, buf []byte) {
	if t.vector {
		c.setV(t.rt, binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16]), t.size)
		return
	}
	v := binary.LittleEndian.Uint64(buf[0:8])
	if t.signed {
		v = sext(v, uint(8*t.size))
		if t.narrow {
			c.setX(t.rt, v, false)
			return
		}
	}
	c.setX(t.rt, v, true)
}

// storeReg writes the low t.size bytes of its register to addr.
func (c *cpu) storeReg(t transfer, addr hostarch.Addr) *exception {
	var buf [16]byte
	c.getTransfer(t, buf[:])
	return c.write(addr, buf[:t.size])
}

// getTransfer encodes the transfer register.
func (c *cpu) getTransfer(t transfer, buf []byte) {
	if t.vector {
		binary.LittleEndian.PutUint64(buf[0:8], c.p.vregs[t.rt][0])
		binary.LittleEndian.PutUint64(buf[8:16], c.p.vregs[t.rt][1])
		return
	}
	binary.LittleEndian.PutUint64(buf[0:8], c.x(t.rt))
}

// loadStore executes the loads and stores group.
func (c *cpu) loadStore(insn uint32, pc uint64) *exception {
	switch {
	case bits(insn, 29, 27) == 0b011 && bits(insn, 25, 24) == 0:
		return c.loadLiteral(insn, pc)
	case bits(insn, 29, 27) == 0b101:
		return c.loadStorePair(insn)
	case bits(insn, 29, 27) == 0b111:
		return c.loadStoreRegister(insn)
	case bits(insn, 29, 24) == 0b001000:
		return c.loadStoreExclusive(insn)
	case !bit(insn, 31) && bits(insn, 29, 24) == 0b001100:
		return c.loadStoreMultiple(insn)
	case !bit(insn, 31) && bits(insn, 29, 24) == 0b001101:
		return c.loadStoreSingle(insn)
	}
	return undefined()
}

// loadLiteral executes LDR (literal), LDRSW (literal) and PRFM (literal).
func (c *cpu) loadLiteral(insn uint32, pc uint64) *exception {
	addr := pcRelative(pc, sext(uint64(bits(insn, 23, 5))<<2, 21))
	t := transfer{rt: bits(insn, 4, 0), vector: bit(insn, 26)}
	switch opc := bits(insn, 31, 30); {
	case t.vector && opc < 3:
		t.size = 4 << opc
	case opc == 0:
		t.size = 4
	case opc == 1:
		t.size = 8
	case opc == 2:
		t.size, t.signed = 4, true
	default:
		return nil // PRFM
	}
	return c.loadReg(t, addr)
}

// loadStorePair executes LDP, STP, LDPSW and their non-temporal forms.
func (c *cpu) loadStorePair(insn uint32) *exception {
	vector := bit(insn, 26)
	load := bit(insn, 22)
	opc := bits(insn, 31, 30)
	var size int
	signed := false
	switch {
	case vector && opc < 3:
		size = 4 << opc
	case !vector && opc == 0:
		size = 4
	case !vector && opc == 1 && load:
		size, signed = 4, true
	case !vector && opc == 2:
		size = 8
	default:
		return undefined()
	}
	mode := bits(insn, 24, 23)
	offset := hostarch.Addr(sext(uint64(bits(insn, 21, 15)), 7) * uint64(size))
	rn := bits(insn, 9, 5)
	addr, exc := c.base(rn)
	if exc != nil {
		return exc
	}
	if mode != 0b01 {
		addr += offset
	}

	t1 := transfer{rt: bits(insn, 4, 0), size: size, vector: vector, signed: signed}
	t2 := transfer{rt: bits(insn, 14, 10), size: size, vector: vector, signed: signed}
	if load {
		var buf [32]byte
		if exc := c.read(addr, buf[:2*size]); exc != nil {
			return exc
		}
		var b1, b2 [16]byte
		copy(b1[:], buf[:size])
		copy(b2[:], buf[size:2*size])
		c.setTransfer(t1, b1[:])
		c.setTransfer(t2, b2[:])
	} else {
		var b1, b2 [16]byte
		c.getTransfer(t1, b1[:])
		c.getTransfer(t2, b2[:])
		buf := append(b1[:size:size], b2[:size]...)
		if exc := c.write(addr, buf); exc != nil {
			return exc
		}
	}
	switch mode {
	case 0b01:
		c.setBase(rn, addr+offset)
	case 0b11:
		c.setBase(rn, addr)
	}
	return nil
}

// loadStoreRegister executes single register loads and stores with
// immediate or register offsets.
func (c *cpu) loadStoreRegister(insn uint32) *exception {
	sizeBits := bits(insn, 31, 30)
	opc := bits(insn, 23, 22)
	t := transfer{rt: bits(insn, 4, 0), vector: bit(insn, 26)}
	load, prefetch := false, false
	if t.vector {
		switch {
		case opc&2 == 0:
			t.size = 1 << sizeBits
		case sizeBits == 0:
			t.size = 16
		default:
			return undefined()
		}
		load = opc&1 != 0
	} else {
		t.size = 1 << sizeBits
		switch {
		case opc == 0:
		case opc == 1:
			load = true
		case opc == 2 && sizeBits == 3:
			prefetch = true
		case opc == 2:
			load, t.signed = true, true
		case opc == 3 && sizeBits < 2:
			load, t.signed, t.narrow = true, true, true
		default:
			return undefined()
		}
	}

	rn := bits(insn, 9, 5)
	addr, exc := c.base(rn)
	if exc != nil {
		return exc
	}
	writeback, post := false, false
	var offset hostarch.Addr
	switch {
	case bit(insn, 24): // Unsigned offset.
		offset = hostarch.Addr(uint64(bits(insn, 21, 10)) * uint64(t.size))
	case !bit(insn, 21): // Signed 9-bit offset.
		offset = hostarch.Addr(sext(uint64(bits(insn, 20, 12)), 9))
		switch bits(insn, 11, 10) {
		case 0b01:
			writeback, post = true, true
		case 0b11:
			writeback = true
		}
	case bits(insn, 11, 10) == 0b10: // Register offset.
		option := bits(insn, 15, 13)
		if option&2 == 0 {
			return undefined()
		}
		amount := uint(0)
		if bit(insn, 12) {
			amount = uint(log2(t.size))
		}
		offset = hostarch.Addr(extend(c.x(bits(insn, 20, 16)), option, amount, 64))
	default:
		return undefined()
	}
	if !post {
		addr += offset
	}

	switch {
	case prefetch:
	case load:
		if exc := c.loadReg(t, addr); exc != nil {
			return exc
		}
	default:
		if exc := c.storeReg(t, addr); exc != nil {
			return exc
		}
	}
	if writeback {
		if post {
			addr += offset
		}
		c.setBase(rn, addr)
	}
	return nil
}

// log2 returns the base 2 logarithm of an access size.
func log2(size int) int {
	n := 0
	for size > 1 {
		size >>= 1
		n++
	}
	return n
}

// loadStoreExclusive executes the exclusive and acquire/release accesses.
// With a single core the exclusive monitor only has to track the address.
func (c *cpu) loadStoreExclusive(insn uint32) *exception {
	size := 1 << bits(insn, 31, 30)
	o2, load, o1 := bit(insn, 23), bit(insn, 22), bit(insn, 21)
	rs, rt2, rn, rt := bits(insn, 20, 16), bits(insn, 14, 10), bits(insn, 9, 5), bits(insn, 4, 0)
	if o2 && o1 {
		return undefined()
	}
	pair := o1
	total := size
	if pair {
		if size < 4 {
			return undefined()
		}
		total = 2 * size
	}

	addr, exc := c.base(rn)
	if exc != nil {
		return exc
	}
	if addr%hostarch.Addr(total) != 0 {
		return &exception{esr: ring0.MakeAbortESR(ring0.ECDataAbortLower, ring0.FSCAlignment, !load), far: addr}
	}

	if load {
		v, exc := c.load(addr, size)
		if exc != nil {
			return exc
		}
		var v2 uint64
		if pair {
			if v2, exc = c.load(addr+hostarch.Addr(size), size); exc != nil {
				return exc
			}
		}
		c.setX(rt, v, true)
		if pair {
			c.setX(rt2, v2, true)
		}
		if !o2 {
			c.p.exclusive, c.p.exclusiveSet = addr, true
		}
		return nil
	}

	if !o2 && !(c.p.exclusiveSet && c.p.exclusive == addr) {
		c.p.exclusiveSet = false
		c.setX(rs, 1, false)
		return nil
	}
	if exc := c.store(addr, size, c.x(rt)); exc != nil {
		return exc
	}
	if pair {
		if exc := c.store(addr+hostarch.Addr(size), size, c.x(rt2)); exc != nil {
			return exc
		}
	}
	if !o2 {
		c.p.exclusiveSet = false
		c.setX(rs, 0, false)
	}
	return nil
}

// structureBase returns the base address of a structure load or store and
// the post-index increment to apply once it completes.
func (c *cpu) structureBase(insn uint32, total int) (hostarch.Addr, uint64, *exception) {
	addr, exc := c.base(bits(insn, 9, 5))
	if exc != nil || !bit(insn, 23) {
		return addr, 0, exc
	}
	if rm := bits(insn, 20, 16); rm != 31 {
		return addr, c.x(rm), nil
	}
	return addr, uint64(total), nil
}

// loadStoreMultiple executes LD1-LD4 and ST1-ST4 (multiple structures).
func (c *cpu) loadStoreMultiple(insn uint32) *exception {
	q, load := bit(insn, 30), bit(insn, 22)
	if !bit(insn, 23) && bits(insn, 20, 16) != 0 {
		return undefined()
	}
	var rpt, selem int
	switch bits(insn, 15, 12) {
	case 0b0000:
		rpt, selem = 1, 4
	case 0b0010:
		rpt, selem = 4, 1
	case 0b0100:
		rpt, selem = 1, 3
	case 0b0110:
		rpt, selem = 3, 1
	case 0b0111:
		rpt, selem = 1, 1
	case 0b1000:
		rpt, selem = 1, 2
	case 0b1010:
		rpt, selem = 2, 1
	default:
		return undefined()
	}
	esize, lanes := arrangement(bits(insn, 11, 10), q)
	if esize == 8 && !q && selem != 1 {
		return undefined()
	}
	rt := bits(insn, 4, 0)
	total := rpt * selem * lanes * esize
	addr, step, exc := c.structureBase(insn, total)
	if exc != nil {
		return exc
	}

	var buf [64]byte
	mem := buf[:total]
	var regs [4][16]byte
	if load {
		if exc := c.read(addr, mem); exc != nil {
			return exc
		}
	} else {
		for i := range rpt * selem {
			regs[i] = c.vbytes((rt + uint32(i)) % 32)
		}
	}
	off := 0
	for r := 0; r < rpt; r++ {
		for e := 0; e < lanes; e++ {
			for s := 0; s < selem; s++ {
				reg := &regs[r+s]
				if load {
					copy(reg[e*esize:(e+1)*esize], mem[off:off+esize])
				} else {
					copy(mem[off:off+esize], reg[e*esize:(e+1)*esize])
				}
				off += esize
			}
		}
	}
	if load {
		for i := range rpt * selem {
			c.setVBytes((rt+uint32(i))%32, regs[i], q)
		}
	} else if exc := c.write(addr, mem); exc != nil {
		return exc
	}
	if bit(insn, 23) {
		c.setBase(bits(insn, 9, 5), addr+hostarch.Addr(step))
	}
	return nil
}

// loadStoreSingle executes LD1-LD4 and ST1-ST4 (single structure) and
// LD1R-LD4R.
func (c *cpu) loadStoreSingle(insn uint32) *exception {
	q, load := bit(insn, 30), bit(insn, 22)
	if !bit(insn, 23) && bits(insn, 20, 16) != 0 {
		return undefined()
	}
	opcode, s, size := bits(insn, 15, 13), bits(insn, 12, 12), bits(insn, 11, 10)
	selem := int((opcode&1)<<1|bits(insn, 21, 21)) + 1
	scale := opcode >> 1
	qb := bits(insn, 30, 30)
	replicateAll := false
	var index uint32
	switch scale {
	case 0:
		index = qb<<3 | s<<2 | size
	case 1:
		if size&1 != 0 {
			return undefined()
		}
		index = qb<<2 | s<<1 | size>>1
	case 2:
		switch {
		case size&2 != 0:
			return undefined()
		case size == 0:
			index = qb<<1 | s
		case s != 0:
			return undefined()
		default:
			index, scale = qb, 3
		}
	case 3:
		if !load || s != 0 {
			return undefined()
		}
		scale, replicateAll = size, true
	}
	esize := 1 << scale
	rt := bits(insn, 4, 0)
	total := selem * esize
	addr, step, exc := c.structureBase(insn, total)
	if exc != nil {
		return exc
	}

	var buf [32]byte
	mem := buf[:total]
	if load {
		if exc := c.read(addr, mem); exc != nil {
			return exc
		}
	}
	for i := 0; i < selem; i++ {
		reg := (rt + uint32(i)) % 32
		v := c.vbytes(reg)
		e := mem[i*esize : (i+1)*esize]
		switch {
		case replicateAll:
			_, lanes := arrangement(size, q)
			for l := 0; l < lanes; l++ {
				copy(v[l*esize:], e)
			}
			c.setVBytes(reg, v, q)
		case load:
			copy(v[int(index)*esize:], e)
			c.setVBytes(reg, v, true)
		default:
			copy(e, v[int(index)*esize:])
		}
	}
	if !load {
		if exc := c.write(addr, mem); exc != nil {
			return exc
		}
	}
	if bit(insn, 23) {
		c.setBase(bits(insn, 9, 5), addr+hostarch.Addr(step))
	}
	return nil
}
