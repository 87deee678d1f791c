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

package rtsys

import (
	"unsafe"

	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

const pageMask = hostarch.PageSize - 1

// Frames hands out page frames from a fixed physical range. Freed frames are
// kept on a list threaded through their first word.
type Frames struct {
	next uint64
	end  uint64
	free uint64

	// offset is added to a physical address to reach it.
	offset uintptr

	inUse int
}

// Init sets up the pool over [start, end). Physical address zero is never a
// frame.
func (f *Frames) Init(start, end uint64, offset uintptr) {
	start = (start + pageMask) &^ pageMask
	if start == 0 {
		start = hostarch.PageSize
	}
	*f = Frames{next: start, end: end &^ pageMask, offset: offset}
}

// End returns the end of the pool.
func (f *Frames) End() uint64 {
	return f.end
}

// InUse returns the number of frames allocated.
func (f *Frames) InUse() int {
	return f.inUse
}

func (f *Frames) pointer(pa uint64) unsafe.Pointer {
	va := uintptr(pa) + f.offset
	return unsafe.Pointer(va)
}

// Table returns the frame at pa viewed as a translation table.
func (f *Frames) Table(pa uint64) *pagetables.PTEs {
	return (*pagetables.PTEs)(f.pointer(pa))
}

// Bytes returns the contents of the frame at pa.
func (f *Frames) Bytes(pa uint64) *[hostarch.PageSize]byte {
	return (*[hostarch.PageSize]byte)(f.pointer(pa))
}

// Allocate returns a zeroed frame, or false if the pool is exhausted.
func (f *Frames) Allocate() (uint64, bool) {
	var pa uint64
	switch {
	case f.free != 0:
		pa = f.free
		f.free = *(*uint64)(f.pointer(pa))
	case f.next < f.end:
		pa = f.next
		f.next += hostarch.PageSize
	default:
		return 0, false
	}
	clear(f.Bytes(pa)[:])
	f.inUse++
	return pa, true
}

// Free returns the frame at pa to the pool.
func (f *Frames) Free(pa uint64) {
	*(*uint64)(f.pointer(pa)) = f.free
	f.free = pa
	f.inUse--
}
