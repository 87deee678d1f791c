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

package console

// PL011 register offsets.
const (
	pl011DR   = 0x00
	pl011FR   = 0x18
	pl011IBRD = 0x24
	pl011FBRD = 0x28
	pl011LCRH = 0x2c
	pl011CR   = 0x30
	pl011IMSC = 0x38
	pl011ICR  = 0x44
)

// Flag register bits.
const (
	pl011FRBusy = 1 << 3
	pl011FRRXFE = 1 << 4
	pl011FRTXFF = 1 << 5
)

const (
	pl011LCRHFEN  = 1 << 4
	pl011LCRHWLEN = 3 << 5 // 8 bits.

	pl011CRUARTEN = 1 << 0
	pl011CRTXE    = 1 << 8
	pl011CRRXE    = 1 << 9
)

// Registers gives access to a device's 32-bit MMIO registers by offset.
type Registers interface {
	Read32(off uintptr) uint32
	Write32(off uintptr, v uint32)
}

// PL011 is a polled ARM PrimeCell UART. Interrupts stay masked; reads spin
// on the receive FIFO.
type PL011 struct {
	regs Registers
}

// NewPL011 returns a UART driving regs.
func NewPL011(regs Registers) *PL011 {
	return &PL011{regs: regs}
}

// Init programs 8N1 with FIFOs enabled and all interrupts masked. QEMU
// ignores the baud rate divisors, but they are set to 115200 at 24 MHz for
// real hardware.
func (u *PL011) Init() {
	u.regs.Write32(pl011CR, 0)
	for u.regs.Read32(pl011FR)&pl011FRBusy != 0 {
	}
	u.regs.Write32(pl011IMSC, 0)
	u.regs.Write32(pl011ICR, 0x7ff)
	u.regs.Write32(pl011IBRD, 13)
	u.regs.Write32(pl011FBRD, 1)
	u.regs.Write32(pl011LCRH, pl011LCRHFEN|pl011LCRHWLEN)
	u.regs.Write32(pl011CR, pl011CRUARTEN|pl011CRTXE|pl011CRRXE)
}

// ReadByte implements Console.ReadByte.
func (u *PL011) ReadByte() (byte, error) {
	for u.regs.Read32(pl011FR)&pl011FRRXFE != 0 {
	}
	return byte(u.regs.Read32(pl011DR)), nil
}

// WriteByte implements Console.WriteByte.
func (u *PL011) WriteByte(b byte) error {
	for u.regs.Read32(pl011FR)&pl011FRTXFF != 0 {
	}
	u.regs.Write32(pl011DR, uint32(b))
	return nil
}
