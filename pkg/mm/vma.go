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

package mm

import (
	"kestrel.dev/kestrel/pkg/hostarch"
)

// vma is a region of the address space with uniform permissions.
type vma struct {
	// ar is the range. ar.Start is the tree key and must not change while
	// the vma is in the tree.
	ar hostarch.AddrRange

	perms hostarch.AccessType

	// growsDown marks the stack, which is populated on demand from the top.
	growsDown bool

	// hint is a name like "[heap]" shown by DebugString.
	hint string
}

func vmaLess(a, b *vma) bool {
	return a.ar.Start < b.ar.Start
}

func vmaKey(addr hostarch.Addr) *vma {
	return &vma{ar: hostarch.AddrRange{Start: addr, End: addr}}
}

// findLocked returns the vma containing addr, or nil.
//
// Preconditions: mm.mu is held.
func (mm *MemoryManager) findLocked(addr hostarch.Addr) *vma {
	var found *vma
	mm.vmas.DescendLessOrEqual(vmaKey(addr), func(v *vma) bool {
		if v.ar.Contains(addr) {
			found = v
		}
		return false
	})
	return found
}

// overlappingLocked returns the vmas overlapping ar in ascending order.
//
// Preconditions: mm.mu is held.
func (mm *MemoryManager) overlappingLocked(ar hostarch.AddrRange) []*vma {
	var vs []*vma
	if ar.Length() == 0 {
		return nil
	}
	mm.vmas.DescendLessOrEqual(vmaKey(ar.Start), func(v *vma) bool {
		if v.ar.End > ar.Start {
			vs = append(vs, v)
		}
		return false
	})
	mm.vmas.AscendRange(vmaKey(ar.Start+1), vmaKey(ar.End), func(v *vma) bool {
		vs = append(vs, v)
		return true
	})
	return vs
}

// splitLocked ensures no vma straddles addr.
//
// Preconditions: mm.mu is held; addr is page aligned.
func (mm *MemoryManager) splitLocked(addr hostarch.Addr) {
	v := mm.findLocked(addr)
	if v == nil || v.ar.Start == addr {
		return
	}
	upper := *v
	upper.ar.Start = addr
	v.ar.End = addr
	mm.vmas.ReplaceOrInsert(&upper)
}

// isolateLocked splits vmas at both ends of ar and returns those inside it.
//
// Preconditions: mm.mu is held; ar is page aligned.
func (mm *MemoryManager) isolateLocked(ar hostarch.AddrRange) []*vma {
	mm.splitLocked(ar.Start)
	mm.splitLocked(ar.End)
	return mm.overlappingLocked(ar)
}

// removeLocked removes every vma in ar, unmapping and freeing their pages.
//
// Preconditions: mm.mu is held; ar is page aligned.
func (mm *MemoryManager) removeLocked(ar hostarch.AddrRange) {
	for _, v := range mm.isolateLocked(ar) {
		mm.vmas.Delete(v)
	}
	mm.pt.Unmap(ar.Start, ar.Length(), mm.releaseFrame)
	if mm.stack.Overlaps(ar) {
		mm.stack = hostarch.AddrRange{}
	}
}

// insertLocked adds a vma, merging it with an adjacent one of the same kind.
//
// Preconditions: mm.mu is held; v does not overlap any vma.
func (mm *MemoryManager) insertLocked(v *vma) {
	if v.ar.Start == 0 {
		mm.vmas.ReplaceOrInsert(v)
		return
	}
	if prev := mm.findLocked(v.ar.Start - 1); prev != nil &&
		prev.ar.End == v.ar.Start && prev.perms == v.perms && prev.hint == v.hint && prev.growsDown == v.growsDown {
		prev.ar.End = v.ar.End
		return
	}
	mm.vmas.ReplaceOrInsert(v)
}

// findAvailableLocked returns the start of a free range of length bytes,
// searching down from the stack reservation and skipping the heap
// reservation.
//
// Preconditions: mm.mu is held; length is page aligned and non-zero.
func (mm *MemoryManager) findAvailableLocked(length uint64) (hostarch.Addr, bool) {
	heap := mm.heapReservation()
	end := mm.mmapBase()
	for {
		if end < mm.layout.MinUserAddress || uint64(end-mm.layout.MinUserAddress) < length {
			return 0, false
		}
		ar := hostarch.AddrRange{Start: end - hostarch.Addr(length), End: end}
		if heap.Overlaps(ar) {
			end = heap.Start
			continue
		}
		var last *vma
		mm.vmas.DescendLessOrEqual(vmaKey(ar.End-1), func(v *vma) bool {
			last = v
			return false
		})
		if last != nil && last.ar.End > ar.Start {
			end = last.ar.Start
			continue
		}
		return ar.Start, true
	}
}

// mmapBase is the top of the area searched for mappings without an address.
func (mm *MemoryManager) mmapBase() hostarch.Addr {
	return mm.layout.StackTop - hostarch.Addr(mm.layout.StackSize) - stackGuard
}

// heapReservation is the range brk may grow into.
func (mm *MemoryManager) heapReservation() hostarch.AddrRange {
	if mm.brk.Start == 0 {
		return hostarch.AddrRange{}
	}
	return hostarch.AddrRange{Start: mm.brk.Start, End: mm.brk.Start + hostarch.Addr(mm.layout.HeapCeiling)}
}

// stackGuard separates the stack reservation from mappings below it.
const stackGuard = 16 * hostarch.PageSize
