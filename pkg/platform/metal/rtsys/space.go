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
	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/abi/linux/errno"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

const (
	// spaceTop bounds the runtime's addresses to the TTBR0 half.
	spaceTop = 1 << 48

	// mmapBase is where mappings without a usable hint are placed. The
	// runtime's own arena hints lie well below it.
	mmapBase = 0x4000_0000_0000

	maxAreas = 256
)

// area is a range of address space reserved by mmap.
type area struct {
	start uint64
	end   uint64
	prot  uint32
}

// Space is the runtime's address space, translated through TTBR0 with ASID
// zero. Reserved pages are backed on first touch.
//
// Space holds no Go pointers and never allocates, so it is safe to use from
// the exception vectors.
type Space struct {
	frames Frames
	root   uint64

	areas [maxAreas]area
	n     int

	bump  uint64
	stale bool
}

// Init sets up an empty space with tables and pages from the frames in
// [start, end).
func (s *Space) Init(start, end uint64, offset uintptr) bool {
	*s = Space{bump: mmapBase}
	s.frames.Init(start, end, offset)
	root, ok := s.frames.Allocate()
	if !ok {
		return false
	}
	s.root = root
	return true
}

// TTBR returns the TTBR0_EL1 value for the space.
func (s *Space) TTBR() uint64 {
	return s.root
}

// Frames returns the frame pool.
func (s *Space) Frames() *Frames {
	return &s.frames
}

// TakeStale reports whether a present page was removed or changed since the
// last call, and clears the indication.
func (s *Space) TakeStale() bool {
	stale := s.stale
	s.stale = false
	return stale
}

// find returns the index of the area containing addr, or -1.
func (s *Space) find(addr uint64) int {
	for i := 0; i < s.n; i++ {
		if a := &s.areas[i]; a.start <= addr && addr < a.end {
			return i
		}
	}
	return -1
}

func (s *Space) insert(i int, a area) {
	copy(s.areas[i+1:s.n+1], s.areas[i:s.n])
	s.areas[i] = a
	s.n++
}

func (s *Space) remove(i int) {
	copy(s.areas[i:s.n-1], s.areas[i+1:s.n])
	s.n--
}

// carve removes [start, end) from the reserved areas. It fails only when a
// split needs a slot and none is left.
func (s *Space) carve(start, end uint64) bool {
	for i := 0; i < s.n; i++ {
		a := s.areas[i]
		if a.end <= start || a.start >= end {
			continue
		}
		switch {
		case a.start < start && a.end > end:
			if s.n == maxAreas {
				return false
			}
			s.areas[i].end = start
			s.insert(i+1, area{start: end, end: a.end, prot: a.prot})
			i++
		case a.start < start:
			s.areas[i].end = start
		case a.end > end:
			s.areas[i].start = end
		default:
			s.remove(i)
			i--
		}
	}
	return true
}

// reserve marks [start, end) reserved with prot, replacing whatever was
// there. Neighbours with the same protection are merged.
func (s *Space) reserve(start, end uint64, prot uint32) bool {
	if !s.carve(start, end) {
		return false
	}
	i := 0
	for i < s.n && s.areas[i].start < start {
		i++
	}
	if i > 0 && s.areas[i-1].end == start && s.areas[i-1].prot == prot {
		s.areas[i-1].end = end
		if i < s.n && s.areas[i].start == end && s.areas[i].prot == prot {
			s.areas[i-1].end = s.areas[i].end
			s.remove(i)
		}
		return true
	}
	if i < s.n && s.areas[i].start == end && s.areas[i].prot == prot {
		s.areas[i].start = start
		return true
	}
	if s.n == maxAreas {
		return false
	}
	s.insert(i, area{start: start, end: end, prot: prot})
	return true
}

// unused returns true if no area overlaps [start, end).
func (s *Space) unused(start, end uint64) bool {
	for i := 0; i < s.n; i++ {
		if a := &s.areas[i]; a.start < end && start < a.end {
			return false
		}
	}
	return true
}

// covered returns true if areas cover all of [start, end).
func (s *Space) covered(start, end uint64) bool {
	for i := 0; i < s.n && start < end; i++ {
		a := &s.areas[i]
		if a.end <= start {
			continue
		}
		if a.start > start {
			return false
		}
		start = a.end
	}
	return start >= end
}

// walk returns the leaf entry for addr, allocating tables on the way.
func (s *Space) walk(addr uint64) *pagetables.PTE {
	table := s.frames.Table(s.root)
	for shift := uint(39); shift > hostarch.PageShift; shift -= 9 {
		e := &table[addr>>shift&511]
		if !e.IsTable() {
			pa, ok := s.frames.Allocate()
			if !ok {
				return nil
			}
			e.SetTable(hostarch.Addr(pa))
		}
		table = s.frames.Table(uint64(e.Address()))
	}
	return &table[addr>>hostarch.PageShift&511]
}

// lookup returns the leaf entry for addr, or nil and the size of the
// untranslated region around addr.
func (s *Space) lookup(addr uint64) (*pagetables.PTE, uint64) {
	table := s.frames.Table(s.root)
	for shift := uint(39); shift > hostarch.PageShift; shift -= 9 {
		e := table[addr>>shift&511]
		if !e.IsTable() {
			return nil, 1 << shift
		}
		table = s.frames.Table(uint64(e.Address()))
	}
	return &table[addr>>hostarch.PageShift&511], hostarch.PageSize
}

// Lookup returns the physical address backing addr.
func (s *Space) Lookup(addr uint64) (uint64, bool) {
	pte, _ := s.lookup(addr)
	if pte == nil || !pte.Valid() {
		return 0, false
	}
	return uint64(pte.Address()) | addr&pageMask, true
}

func mapOpts(prot uint32) pagetables.MapOpts {
	return pagetables.MapOpts{
		AccessType: hostarch.AccessType{
			Read:    prot&(linux.PROT_READ|linux.PROT_WRITE) != 0,
			Write:   prot&linux.PROT_WRITE != 0,
			Execute: prot&linux.PROT_EXEC != 0,
		},
	}
}

// update rewrites the present pages in [start, end). Pages are released if
// drop is set and given prot otherwise.
func (s *Space) update(start, end uint64, prot uint32, drop bool) {
	for addr := start; addr < end; {
		pte, size := s.lookup(addr)
		if pte == nil || !pte.Valid() {
			next := (addr | (size - 1)) + 1
			if next <= addr {
				return
			}
			addr = next
			continue
		}
		if drop {
			pa := uint64(pte.Address())
			pte.Clear()
			s.frames.Free(pa)
		} else {
			pte.Set(pte.Address(), mapOpts(prot))
		}
		s.stale = true
		addr += hostarch.PageSize
	}
}

// Fault backs the page containing addr if it lies in an area that permits
// the access. It returns false for a fault the runtime cannot survive.
func (s *Space) Fault(addr uint64, write bool) bool {
	i := s.find(addr)
	if i < 0 {
		return false
	}
	prot := s.areas[i].prot
	if prot == linux.PROT_NONE || write && prot&linux.PROT_WRITE == 0 {
		return false
	}
	pte := s.walk(addr &^ pageMask)
	if pte == nil {
		return false
	}
	if pte.Valid() {
		return pte.Permits(hostarch.AccessType{Read: true, Write: write}, false)
	}
	pa, ok := s.frames.Allocate()
	if !ok {
		return false
	}
	pte.Set(hostarch.Addr(pa), mapOpts(prot))
	return true
}

func pageRange(addr, length uint64) (uint64, uint64, errno.Errno) {
	if addr&pageMask != 0 || length == 0 {
		return 0, 0, errno.EINVAL
	}
	end := (addr + length + pageMask) &^ pageMask
	if end <= addr || end > spaceTop {
		return 0, 0, errno.ENOMEM
	}
	return addr, end, 0
}

// Mmap implements anonymous mmap(2).
func (s *Space) Mmap(addr, length uint64, prot, flags uint32) (uint64, errno.Errno) {
	if flags&linux.MAP_ANONYMOUS == 0 {
		return 0, errno.ENODEV
	}
	if length == 0 {
		return 0, errno.EINVAL
	}
	size := (length + pageMask) &^ pageMask
	if size < length {
		return 0, errno.ENOMEM
	}
	switch {
	case flags&linux.MAP_FIXED != 0:
		start, end, err := pageRange(addr, size)
		if err != 0 {
			return 0, err
		}
		s.update(start, end, 0, true)
	case addr != 0 && addr&pageMask == 0 && addr+size > addr && addr+size <= spaceTop && s.unused(addr, addr+size):
	case flags&linux.MAP_FIXED_NOREPLACE != 0:
		return 0, errno.EEXIST
	default:
		addr = s.bump
		if addr+size > spaceTop || addr+size < addr {
			return 0, errno.ENOMEM
		}
		s.bump += size
	}
	if !s.reserve(addr, addr+size, prot) {
		return 0, errno.ENOMEM
	}
	return addr, 0
}

// Munmap implements munmap(2).
func (s *Space) Munmap(addr, length uint64) errno.Errno {
	start, end, err := pageRange(addr, length)
	if err != 0 {
		return err
	}
	s.update(start, end, 0, true)
	if !s.carve(start, end) {
		return errno.ENOMEM
	}
	return 0
}

// Mprotect implements mprotect(2). Present pages made inaccessible are
// released, so their contents do not survive.
func (s *Space) Mprotect(addr, length uint64, prot uint32) errno.Errno {
	start, end, err := pageRange(addr, length)
	if err != 0 {
		return err
	}
	if !s.covered(start, end) {
		return errno.ENOMEM
	}
	s.update(start, end, prot, prot == linux.PROT_NONE)
	if !s.reserve(start, end, prot) {
		return errno.ENOMEM
	}
	return 0
}

// Madvise implements madvise(2). Discarded pages read back as zero.
func (s *Space) Madvise(addr, length uint64, advice int32) errno.Errno {
	start, end, err := pageRange(addr, length)
	if err != 0 {
		return err
	}
	switch advice {
	case linux.MADV_DONTNEED, linux.MADV_FREE:
		s.update(start, end, 0, true)
	}
	return 0
}

// Prefault backs the pages of [addr, addr+length) that lie in reserved
// areas, so that the kernel can reach them without faulting itself.
// Addresses outside every area belong to the kernel image and are always
// mapped. It returns false if a page cannot be accessed as asked.
func (s *Space) Prefault(addr, length uint64, write bool) bool {
	if length == 0 {
		return true
	}
	end := addr + length
	if end < addr {
		return false
	}
	for page := addr &^ pageMask; page < end; page += hostarch.PageSize {
		if s.find(page) < 0 {
			continue
		}
		if pte, _ := s.lookup(page); pte != nil && pte.Permits(hostarch.AccessType{Read: true, Write: write}, false) {
			continue
		}
		if !s.Fault(page, write) {
			return false
		}
	}
	return true
}
