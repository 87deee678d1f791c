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

//go:build kestrel_metal && arm64

package metal

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/physmem"
)

// MMIO is a device register block at a physical address, reached through
// the kernel's linear map. The boot mapping must cover it as Device memory.
type MMIO hostarch.Addr

func (m MMIO) reg(off uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(uintptr(physmem.KernelBase) + uintptr(m) + off))
}

// Read32 implements console.Registers.Read32.
func (m MMIO) Read32(off uintptr) uint32 {
	return atomic.LoadUint32(m.reg(off))
}

// Write32 implements console.Registers.Write32.
func (m MMIO) Write32(off uintptr, v uint32) {
	atomic.StoreUint32(m.reg(off), v)
}

const (
	fdtMagic      = 0xd00dfeed
	fdtHeaderSize = 40
)

// DTB returns a copy of the flattened device tree at addr in mem. QEMU
// places it at the start of RAM for kernels that are not Linux images.
func DTB(mem physmem.Memory, addr hostarch.Addr) ([]byte, error) {
	hdr, err := mem.Slice(addr, fdtHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("device tree header at %v: %w", addr, err)
	}
	if magic := binary.BigEndian.Uint32(hdr); magic != fdtMagic {
		return nil, fmt.Errorf("no device tree at %v: magic %#x", addr, magic)
	}
	size := binary.BigEndian.Uint32(hdr[4:])
	blob, err := mem.Slice(addr, uint64(size))
	if err != nil {
		return nil, fmt.Errorf("device tree at %v: %w", addr, err)
	}
	return append([]byte(nil), blob...), nil
}
