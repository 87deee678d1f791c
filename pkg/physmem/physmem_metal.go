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

//go:build kestrel_metal

package physmem

import (
	"unsafe"

	"kestrel.dev/kestrel/pkg/hostarch"
)

// KernelBase is the virtual address at which the kernel's linear map places
// physical address zero. Kernel addresses live in the TTBR1 half.
const KernelBase = 0xffff_0000_0000_0000

// Linear is RAM reached through the kernel's linear map.
type Linear struct {
	rng hostarch.AddrRange
}

// NewLinear returns the linear-map view of [base, base+size).
func NewLinear(base hostarch.Addr, size uint64) *Linear {
	return &Linear{rng: hostarch.AddrRange{Start: base, End: base + hostarch.Addr(size)}}
}

// Range implements Memory.Range.
func (l *Linear) Range() hostarch.AddrRange {
	return l.rng
}

// Slice implements Memory.Slice.
func (l *Linear) Slice(addr hostarch.Addr, length uint64) ([]byte, error) {
	data := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(KernelBase+l.rng.Start))), l.rng.Length())
	return slice(l.rng, data, addr, length)
}
