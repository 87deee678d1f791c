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

// Package pgalloc contains the physical frame allocator.
//
// Frames are handed out from a free list. Ordering among free frames is
// unspecified and callers must not depend on it. Every frame in the managed
// range is either on the free list or marked allocated in a bitmap; the
// bitmap catches frees of frames the allocator does not consider allocated.
package pgalloc

import (
	"errors"
	"fmt"

	"kestrel.dev/kestrel/pkg/bitmap"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/physmem"
)

// ErrOutOfMemory is returned by Allocate when no free frame remains.
var ErrOutOfMemory = errors.New("out of physical memory")

// FatalError describes misuse of the allocator. It is raised with panic,
// since it indicates a kernel bug rather than a recoverable condition.
type FatalError struct {
	Op     string
	Addr   hostarch.Addr
	Reason string
}

// Error implements error.Error.
func (e *FatalError) Error() string {
	return fmt.Sprintf("pgalloc: %s(%v): %s", e.Op, e.Addr, e.Reason)
}

// Options configures the managed range.
type Options struct {
	// KernelEnd is the first physical address past the kernel image,
	// including its static data and any memory the runtime claims.
	KernelEnd hostarch.Addr

	// EarlyReserve is a fixed reservation after KernelEnd for the tables
	// built before the allocator exists.
	EarlyReserve uint64
}

// Usage is a snapshot of allocator occupancy, in frames.
type Usage struct {
	Total     uint64
	Free      uint64
	Allocated uint64
}

// Allocator hands out and reclaims single 4 KiB frames.
type Allocator struct {
	mem physmem.Memory

	// usable is the managed range, computed once in New.
	usable hostarch.AddrRange

	// free is the free list, used as a stack.
	free []hostarch.Addr

	// allocated has bit i set iff frame usable.Start+i*PageSize is allocated.
	allocated bitmap.Bitmap
}

// New returns an allocator managing [roundUp(KernelEnd+EarlyReserve), end of
// RAM).
func New(mem physmem.Memory, opts Options) (*Allocator, error) {
	ram := mem.Range()
	start, ok := opts.KernelEnd.AddLength(opts.EarlyReserve)
	if !ok {
		return nil, fmt.Errorf("kernel end %v + reserve %#x overflows", opts.KernelEnd, opts.EarlyReserve)
	}
	start, ok = start.RoundUp()
	if !ok {
		return nil, fmt.Errorf("usable start %v overflows", start)
	}
	if start < ram.Start {
		start = ram.Start
	}
	end := ram.End.RoundDown()
	if start >= end {
		return nil, fmt.Errorf("no usable RAM: reserved up to %v, RAM is %v", start, ram)
	}

	frames := uint64(end-start) / hostarch.PageSize
	if frames > 1<<32-1 {
		return nil, fmt.Errorf("RAM region %v too large", ram)
	}
	a := &Allocator{
		mem:       mem,
		usable:    hostarch.AddrRange{Start: start, End: end},
		free:      make([]hostarch.Addr, 0, frames),
		allocated: bitmap.New(uint32(frames)),
	}
	// Push in descending order so that low frames come off first.
	for addr := end - hostarch.PageSize; ; addr -= hostarch.PageSize {
		a.free = append(a.free, addr)
		if addr == start {
			break
		}
	}
	log.Infof("Frame allocator: %d frames in %v", frames, a.usable)
	return a, nil
}

// Range returns the managed physical range.
func (a *Allocator) Range() hostarch.AddrRange {
	return a.usable
}

// Memory returns the physical memory the frames live in.
func (a *Allocator) Memory() physmem.Memory {
	return a.mem
}

// Allocate pops a frame off the free list and returns it zeroed.
func (a *Allocator) Allocate() (hostarch.Addr, error) {
	n := len(a.free)
	if n == 0 {
		return 0, ErrOutOfMemory
	}
	addr := a.free[n-1]
	a.free = a.free[:n-1]
	a.allocated.Add(a.index(addr))
	if err := physmem.Zero(a.mem, addr, hostarch.PageSize); err != nil {
		panic(&FatalError{Op: "Allocate", Addr: addr, Reason: err.Error()})
	}
	return addr, nil
}

// Free returns a frame to the free list. Freeing a frame that is misaligned,
// outside the managed range or not currently allocated panics with a
// *FatalError.
func (a *Allocator) Free(addr hostarch.Addr) {
	if !addr.IsPageAligned() {
		panic(&FatalError{Op: "Free", Addr: addr, Reason: "address is not page aligned"})
	}
	if !a.usable.Contains(addr) {
		panic(&FatalError{Op: "Free", Addr: addr, Reason: fmt.Sprintf("address outside managed range %v", a.usable)})
	}
	i := a.index(addr)
	if !a.allocated.Contains(i) {
		panic(&FatalError{Op: "Free", Addr: addr, Reason: "frame is not allocated (double free?)"})
	}
	a.allocated.Remove(i)
	a.free = append(a.free, addr)
}

// IsAllocated returns true if addr is a currently allocated frame.
func (a *Allocator) IsAllocated(addr hostarch.Addr) bool {
	if !addr.IsPageAligned() || !a.usable.Contains(addr) {
		return false
	}
	return a.allocated.Contains(a.index(addr))
}

// Usage returns the current occupancy.
func (a *Allocator) Usage() Usage {
	total := uint64(a.allocated.Size())
	used := uint64(a.allocated.GetNumOnes())
	return Usage{Total: total, Free: total - used, Allocated: used}
}

func (a *Allocator) index(addr hostarch.Addr) uint32 {
	return uint32((addr - a.usable.Start) / hostarch.PageSize)
}
