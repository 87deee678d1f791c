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

// Package physmem gives the kernel byte-level access to physical RAM.
//
// On the machine, RAM is reached through the kernel's linear map. On the
// hosted platform, RAM is an arena of host memory standing in for the
// machine's RAM region, addressed by the same physical addresses.
package physmem

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/hostarch"
)

// Memory is the kernel's view of physical RAM.
type Memory interface {
	// Range returns the physical address range of RAM.
	Range() hostarch.AddrRange

	// Slice returns the bytes backing [addr, addr+length). The returned slice
	// aliases RAM; writes through it are writes to memory.
	Slice(addr hostarch.Addr, length uint64) ([]byte, error)
}

// RAM is an arena standing in for a physical RAM region.
type RAM struct {
	base hostarch.Addr
	data []byte
}

// NewRAM returns a zeroed arena covering [base, base+size). base and size
// must be page aligned.
func NewRAM(base hostarch.Addr, size uint64) (*RAM, error) {
	if !base.IsPageAligned() || !hostarch.Addr(size).IsPageAligned() || size == 0 {
		return nil, fmt.Errorf("RAM region base %v size %#x is not page aligned", base, size)
	}
	if _, ok := base.AddLength(size); !ok {
		return nil, fmt.Errorf("RAM region base %v size %#x overflows", base, size)
	}
	return &RAM{base: base, data: make([]byte, size)}, nil
}

// Range implements Memory.Range.
func (r *RAM) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: r.base, End: r.base + hostarch.Addr(len(r.data))}
}

// Slice implements Memory.Slice.
func (r *RAM) Slice(addr hostarch.Addr, length uint64) ([]byte, error) {
	return slice(r.Range(), r.data, addr, length)
}

func slice(rng hostarch.AddrRange, data []byte, addr hostarch.Addr, length uint64) ([]byte, error) {
	ar, ok := addr.ToRange(length)
	if !ok || !rng.IsSupersetOf(ar) {
		return nil, fmt.Errorf("physical range [%v, +%#x) outside RAM %v", addr, length, rng)
	}
	off := uint64(addr - rng.Start)
	return data[off : off+length : off+length], nil
}

// Zero clears [addr, addr+length).
func Zero(m Memory, addr hostarch.Addr, length uint64) error {
	b, err := m.Slice(addr, length)
	if err != nil {
		return err
	}
	clear(b)
	return nil
}
