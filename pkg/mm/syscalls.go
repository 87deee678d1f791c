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
	"errors"

	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/pgalloc"
)

// MMapOpts specify an anonymous memory mapping.
type MMapOpts struct {
	// Length is the length of the mapping.
	Length uint64

	// Addr is the requested address, or a hint if Fixed is false.
	Addr hostarch.Addr

	// Fixed requires the mapping to be placed at Addr, replacing any
	// existing mapping unless NoReplace is set.
	Fixed bool

	// NoReplace makes a Fixed mapping fail with EEXIST rather than replace.
	NoReplace bool

	// Perms are the permissions of the mapping.
	Perms hostarch.AccessType

	// Precommit populates the mapping immediately.
	Precommit bool

	// GrowsDown marks a stack mapping.
	GrowsDown bool

	// Hint is a name for the mapping, like "[heap]".
	Hint string
}

// MMap establishes an anonymous memory mapping and returns its address.
func (mm *MemoryManager) MMap(opts MMapOpts) (hostarch.Addr, error) {
	if opts.Length == 0 {
		return 0, linuxerr.EINVAL
	}
	length, ok := hostarch.Addr(opts.Length).RoundUp()
	if !ok || length == 0 {
		return 0, linuxerr.ENOMEM
	}
	opts.Length = uint64(length)
	if !opts.Addr.IsPageAligned() {
		// MAP_FIXED requires addr to be page-aligned; non-fixed mappings
		// don't.
		if opts.Fixed {
			return 0, linuxerr.EINVAL
		}
		opts.Addr = opts.Addr.RoundDown()
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	ar, err := mm.placeLocked(opts)
	if err != nil {
		return 0, err
	}
	if opts.Fixed && !opts.NoReplace {
		mm.removeLocked(ar)
	}
	if opts.Precommit {
		if err := mm.populateLocked(ar, opts.Perms); err != nil {
			return 0, linuxerr.ENOMEM
		}
	}
	mm.insertLocked(&vma{ar: ar, perms: opts.Perms, growsDown: opts.GrowsDown, hint: opts.Hint})
	return ar.Start, nil
}

// placeLocked chooses the range of a new mapping.
//
// Preconditions: mm.mu is held; opts.Length and opts.Addr are page aligned.
func (mm *MemoryManager) placeLocked(opts MMapOpts) (hostarch.AddrRange, error) {
	ar, ok := opts.Addr.ToRange(opts.Length)
	inBounds := ok && ar.Start >= mm.layout.MinUserAddress && ar.End <= mm.layout.UserTop
	if opts.Fixed {
		if !inBounds {
			return hostarch.AddrRange{}, linuxerr.ENOMEM
		}
		if opts.NoReplace && len(mm.overlappingLocked(ar)) != 0 {
			return hostarch.AddrRange{}, linuxerr.EEXIST
		}
		return ar, nil
	}
	if opts.Addr != 0 && inBounds && len(mm.overlappingLocked(ar)) == 0 && !mm.heapReservation().Overlaps(ar) {
		return ar, nil
	}
	start, ok := mm.findAvailableLocked(opts.Length)
	if !ok {
		return hostarch.AddrRange{}, linuxerr.ENOMEM
	}
	return hostarch.AddrRange{Start: start, End: start + hostarch.Addr(opts.Length)}, nil
}

// MUnmap implements the semantics of Linux's munmap(2).
func (mm *MemoryManager) MUnmap(addr hostarch.Addr, length uint64) error {
	if !addr.IsPageAligned() || length == 0 {
		return linuxerr.EINVAL
	}
	la, ok := hostarch.Addr(length).RoundUp()
	if !ok {
		return linuxerr.EINVAL
	}
	ar, ok := addr.ToRange(uint64(la))
	if !ok || ar.End > mm.layout.UserTop {
		return linuxerr.EINVAL
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.removeLocked(ar)
	return nil
}

// MProtect implements the semantics of Linux's mprotect(2). The whole range
// must be mapped.
func (mm *MemoryManager) MProtect(addr hostarch.Addr, length uint64, perms hostarch.AccessType) error {
	if !addr.IsPageAligned() {
		return linuxerr.EINVAL
	}
	if length == 0 {
		return nil
	}
	la, ok := hostarch.Addr(length).RoundUp()
	if !ok {
		return linuxerr.ENOMEM
	}
	ar, ok := addr.ToRange(uint64(la))
	if !ok {
		return linuxerr.ENOMEM
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()

	// Check for holes before changing anything.
	next := ar.Start
	for _, v := range mm.overlappingLocked(ar) {
		if v.ar.Start > next {
			return linuxerr.ENOMEM
		}
		next = v.ar.End
	}
	if next < ar.End {
		return linuxerr.ENOMEM
	}

	for _, v := range mm.isolateLocked(ar) {
		v.perms = perms
	}
	mm.pt.Protect(ar.Start, ar.Length(), userOpts(perms))
	return nil
}

// MapStack creates the stack reservation and populates its top. It returns
// the stack range.
func (mm *MemoryManager) MapStack() (hostarch.AddrRange, error) {
	top := mm.layout.StackTop
	ar := hostarch.AddrRange{Start: top - hostarch.Addr(mm.layout.StackSize), End: top}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if len(mm.overlappingLocked(ar)) != 0 {
		return hostarch.AddrRange{}, linuxerr.EEXIST
	}
	initial := hostarch.AddrRange{Start: top - hostarch.Addr(mm.layout.StackInitial), End: top}
	if err := mm.populateLocked(initial, hostarch.ReadWrite); err != nil {
		return hostarch.AddrRange{}, err
	}
	mm.insertLocked(&vma{ar: ar, perms: hostarch.ReadWrite, growsDown: true, hint: "[stack]"})
	mm.stack = ar
	return ar, nil
}

// BrkSetup sets the heap start, which must lie above every loaded segment.
func (mm *MemoryManager) BrkSetup(addr hostarch.Addr) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	start := addr.MustRoundUp()
	if mm.brk.Length() != 0 {
		end := mm.brk.End.MustRoundUp()
		mm.removeLocked(hostarch.AddrRange{Start: mm.brk.Start, End: end})
	}
	mm.brk = hostarch.AddrRange{Start: start, End: start}
}

// Brk implements the semantics of Linux's brk(2), except that growth failures
// are reported as ENOMEM with the break unchanged. It returns the new break.
//
// A zero addr, or one below the heap start, queries the current break.
func (mm *MemoryManager) Brk(addr hostarch.Addr) (hostarch.Addr, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if addr == 0 || addr < mm.brk.Start {
		return mm.brk.End, nil
	}
	if uint64(addr-mm.brk.Start) > mm.layout.HeapCeiling {
		return mm.brk.End, linuxerr.ENOMEM
	}

	oldbrkpg := mm.brk.End.MustRoundUp()
	newbrkpg, ok := addr.RoundUp()
	if !ok {
		return mm.brk.End, linuxerr.ENOMEM
	}

	switch {
	case oldbrkpg < newbrkpg:
		ar := hostarch.AddrRange{Start: oldbrkpg, End: newbrkpg}
		if len(mm.overlappingLocked(ar)) != 0 {
			return mm.brk.End, linuxerr.ENOMEM
		}
		if err := mm.populateLocked(ar, hostarch.ReadWrite); err != nil {
			if !errors.Is(err, pgalloc.ErrOutOfMemory) {
				return mm.brk.End, err
			}
			return mm.brk.End, linuxerr.ENOMEM
		}
		mm.insertLocked(&vma{ar: ar, perms: hostarch.ReadWrite, hint: "[heap]"})

	case newbrkpg < oldbrkpg:
		mm.removeLocked(hostarch.AddrRange{Start: newbrkpg, End: oldbrkpg})
	}
	mm.brk.End = addr
	return addr, nil
}

// ErrBadAddress is returned by HandleUserFault for addresses no region
// covers, or accesses the region does not permit.
var ErrBadAddress = errors.New("bad address")

// HandleUserFault handles a translation fault taken by user code at addr.
// Pages of a region that are not yet populated (stack growth, lazily mapped
// anonymous memory) receive a fresh zeroed frame.
func (mm *MemoryManager) HandleUserFault(addr hostarch.Addr, at hostarch.AccessType) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	v := mm.findLocked(addr)
	if v == nil || !v.perms.SupersetOf(at) {
		return ErrBadAddress
	}
	page := addr.RoundDown()
	if _, opts, ok := mm.pt.Lookup(page); ok {
		// A permission fault on a mapped page is not ours to fix.
		if !opts.AccessType.SupersetOf(at) {
			return ErrBadAddress
		}
		return nil
	}
	return mm.mapFreshLocked(page, v.perms)
}
