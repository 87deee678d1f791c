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

// Package mm provides the user address space: the set of regions a program
// may touch, the page tables that back them, and the kernel's access to
// user memory.
package mm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/btree"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/ring0"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// Layout places the regions of a user address space.
type Layout struct {
	// MinUserAddress is the lowest mappable address. Lower pages are never
	// mapped, so that null dereferences fault.
	MinUserAddress hostarch.Addr

	// UserTop is one past the highest user address.
	UserTop hostarch.Addr

	// StackTop is one past the highest stack address.
	StackTop hostarch.Addr

	// StackSize is the size of the stack reservation, including the
	// growable part.
	StackSize uint64

	// StackInitial is the size of the eagerly mapped top of the stack.
	StackInitial uint64

	// HeapCeiling bounds the size of the heap grown by brk.
	HeapCeiling uint64
}

// DefaultLayout is the layout used unless the machine profile overrides it.
var DefaultLayout = Layout{
	MinUserAddress: 0x1_0000,
	UserTop:        ring0.MaximumUserAddress + hostarch.PageSize,
	StackTop:       0x7fff_ffff_f000,
	StackSize:      8 << 20,
	StackInitial:   128 << 10,
	HeapCeiling:    256 << 20,
}

// Validate checks that the layout is page aligned and self-consistent.
func (l Layout) Validate() error {
	for _, a := range []hostarch.Addr{l.MinUserAddress, l.UserTop, l.StackTop, hostarch.Addr(l.StackSize), hostarch.Addr(l.StackInitial), hostarch.Addr(l.HeapCeiling)} {
		if !a.IsPageAligned() {
			return fmt.Errorf("layout value %v is not page aligned", a)
		}
	}
	switch {
	case l.MinUserAddress == 0:
		return fmt.Errorf("page zero must stay unmapped")
	case l.UserTop > ring0.MaximumUserAddress+hostarch.PageSize:
		return fmt.Errorf("user top %v beyond the lower half", l.UserTop)
	case l.StackTop > l.UserTop:
		return fmt.Errorf("stack top %v above user top %v", l.StackTop, l.UserTop)
	case l.StackInitial > l.StackSize || l.StackSize == 0:
		return fmt.Errorf("stack sizes initial %#x, total %#x are inconsistent", l.StackInitial, l.StackSize)
	case uint64(l.StackTop-l.MinUserAddress) <= l.StackSize:
		return fmt.Errorf("stack of %#x bytes does not fit below %v", l.StackSize, l.StackTop)
	}
	return nil
}

// IOOpts control user memory accesses made by the kernel.
type IOOpts struct {
	// IgnorePermissions, if set, allows accesses that the region's
	// permissions would refuse. The loader uses it to fill read-only
	// segments.
	IgnorePermissions bool
}

// MemoryManager implements a user address space.
type MemoryManager struct {
	frames pagetables.Frames
	pt     *pagetables.PageTables
	layout Layout

	// mu protects the fields below.
	mu sync.Mutex

	// vmas are the regions, keyed by start address. Regions never overlap.
	vmas *btree.BTreeG[*vma]

	// brk is the heap: Start is the heap start, End the current break
	// (unrounded).
	brk hostarch.AddrRange

	// stack is the stack reservation, once mapped.
	stack hostarch.AddrRange

	// rss is the number of populated pages.
	rss uint64
}

// New returns an empty address space using frames for page tables and
// memory.
func New(frames pagetables.Frames, layout Layout) (*MemoryManager, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	pt, err := pagetables.New(pagetables.NewFrameAllocator(frames), pagetables.Lower, userASID)
	if err != nil {
		return nil, err
	}
	return &MemoryManager{
		frames: frames,
		pt:     pt,
		layout: layout,
		vmas:   btree.NewG(8, vmaLess),
	}, nil
}

// userASID tags the translations of the only user address space.
const userASID = 1

// PageTables returns the tables backing the address space.
func (mm *MemoryManager) PageTables() *pagetables.PageTables {
	return mm.pt
}

// Layout returns the address space layout.
func (mm *MemoryManager) Layout() Layout {
	return mm.layout
}

// RSS returns the number of bytes of populated memory.
func (mm *MemoryManager) RSS() uint64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.rss * hostarch.PageSize
}

// Release unmaps everything and returns all frames, including the page
// tables, to the allocator.
func (mm *MemoryManager) Release() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.pt.Release(mm.releaseFrame)
	mm.vmas.Clear(false)
	mm.rss = 0
}

// releaseFrame is the page table release callback of user pages.
func (mm *MemoryManager) releaseFrame(_, physical hostarch.Addr) {
	mm.frames.Free(physical)
	mm.rss--
}

// DebugString returns a description of the regions, one per line, in the
// format of /proc/self/maps.
func (mm *MemoryManager) DebugString() string {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var b strings.Builder
	mm.vmas.Ascend(func(v *vma) bool {
		fmt.Fprintf(&b, "%08x-%08x %sp %s\n", uintptr(v.ar.Start), uintptr(v.ar.End), v.perms, v.hint)
		return true
	})
	return b.String()
}

// populateLocked maps fresh zeroed frames for every unmapped page of ar with
// the given permissions. On failure, the pages mapped by this call are
// released again.
//
// Preconditions: mm.mu is held; ar is page aligned.
func (mm *MemoryManager) populateLocked(ar hostarch.AddrRange, perms hostarch.AccessType) error {
	var mapped []hostarch.Addr
	for addr := ar.Start; addr < ar.End; addr += hostarch.PageSize {
		if _, _, ok := mm.pt.Lookup(addr); ok {
			continue
		}
		if err := mm.mapFreshLocked(addr, perms); err != nil {
			for _, a := range mapped {
				mm.pt.Unmap(a, hostarch.PageSize, mm.releaseFrame)
			}
			return err
		}
		mapped = append(mapped, addr)
	}
	return nil
}

// mapFreshLocked maps a single zeroed frame at addr.
//
// Preconditions: mm.mu is held; addr is unmapped.
func (mm *MemoryManager) mapFreshLocked(addr hostarch.Addr, perms hostarch.AccessType) error {
	frame, err := mm.frames.Allocate()
	if err != nil {
		log.Debugf("No frame for %v: %v", addr, err)
		return err
	}
	if err := mm.pt.Map(addr, hostarch.PageSize, frame, userOpts(perms)); err != nil {
		mm.frames.Free(frame)
		return err
	}
	mm.rss++
	return nil
}

// userOpts returns the page options of a user page with perms.
func userOpts(perms hostarch.AccessType) pagetables.MapOpts {
	return pagetables.MapOpts{AccessType: perms, User: true}
}
