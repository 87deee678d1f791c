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
	"errors"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/binary"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/ring0"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// exception is a synchronous exception raised by an instruction.
type exception struct {
	esr ring0.ESR
	far hostarch.Addr
}

// tlbEntry caches the translation of one page for the duration of a switch.
// Mappings cannot change while user code runs.
type tlbEntry struct {
	page []byte
	pte  pagetables.PTE
}

// cpu is the state of a single switch.
type cpu struct {
	p    *Interp
	regs *arch.Registers
	root hostarch.Addr
	tlb  map[hostarch.Addr]tlbEntry
}

// abort returns the exception for an access to addr that failed with fsc.
func abort(addr hostarch.Addr, at hostarch.AccessType, fsc uint32) *exception {
	ec := ring0.ECDataAbortLower
	if at.Execute {
		ec = ring0.ECInstAbortLower
	}
	return &exception{
		esr: ring0.MakeAbortESR(ec, fsc, at.Write),
		far: addr,
	}
}

// translate returns the bytes from addr to the end of its page, if the
// access is permitted from EL0.
func (c *cpu) translate(addr hostarch.Addr, at hostarch.AccessType) ([]byte, *exception) {
	page := addr.RoundDown()
	e, ok := c.tlb[page]
	if !ok {
		if !pagetables.Lower.Bounds().Contains(addr) {
			return nil, abort(addr, at, ring0.FSCTranslation)
		}
		physical, pte, err := pagetables.Translate(c.p.mem, c.root, page)
		if err != nil {
			var tf *pagetables.TranslationFault
			if errors.As(err, &tf) {
				return nil, abort(addr, at, ring0.FSCTranslation|uint32(tf.Level))
			}
			// The walk left RAM: an external abort on the table walk.
			return nil, abort(addr, at, 0x14)
		}
		b, err := c.p.mem.Slice(physical, hostarch.PageSize)
		if err != nil {
			return nil, abort(addr, at, 0x10)
		}
		e = tlbEntry{page: b, pte: pte}
		c.tlb[page] = e
	}
	if !e.pte.Permits(at, true) {
		return nil, abort(addr, at, ring0.FSCPermission|3)
	}
	return e.page[addr.PageOffset():], nil
}

// read fills buf from addr.
func (c *cpu) read(addr hostarch.Addr, buf []byte) *exception {
	for len(buf) > 0 {
		b, exc := c.translate(addr, hostarch.Read)
		if exc != nil {
			return exc
		}
		n := copy(buf, b)
		buf = buf[n:]
		addr += hostarch.Addr(n)
	}
	return nil
}

// write copies buf to addr. Both pages of a page-crossing write are checked
// before either is modified.
func (c *cpu) write(addr hostarch.Addr, buf []byte) *exception {
	if end := addr + hostarch.Addr(len(buf)) - 1; end.RoundDown() != addr.RoundDown() {
		if _, exc := c.translate(end, hostarch.Write); exc != nil {
			return exc
		}
	}
	for len(buf) > 0 {
		b, exc := c.translate(addr, hostarch.Write)
		if exc != nil {
			return exc
		}
		n := copy(b, buf)
		buf = buf[n:]
		addr += hostarch.Addr(n)
	}
	return nil
}

// load reads a little-endian value of size 1, 2, 4 or 8 bytes.
func (c *cpu) load(addr hostarch.Addr, size int) (uint64, *exception) {
	var buf [8]byte
	if exc := c.read(addr, buf[:size]); exc != nil {
		return 0, exc
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// store writes the low size bytes of v.
func (c *cpu) store(addr hostarch.Addr, size int, v uint64) *exception {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return c.write(addr, buf[:size])
}

// fetch returns the instruction at PC.
func (c *cpu) fetch() (uint32, *exception) {
	pc := hostarch.Addr(c.regs.Pc)
	if pc%4 != 0 {
		return 0, &exception{esr: ring0.MakeESR(ring0.ECPCAlign, 0), far: pc}
	}
	b, exc := c.translate(pc, hostarch.Execute)
	if exc != nil {
		return 0, exc
	}
	return binary.LittleEndian.Uint32(b), nil
}
