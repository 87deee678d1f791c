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

// Package pagetables builds and edits aarch64 translation tables.
//
// Tables live in physical frames and are reachable through an Allocator, so
// the same memory can be handed to the MMU (or to a software walker) while
// the kernel edits it through Go pointers.
package pagetables

import (
	"errors"
	"fmt"
	"sync"

	"kestrel.dev/kestrel/pkg/hostarch"
)

// ErrAlreadyMapped is returned by Map when part of the range is mapped.
var ErrAlreadyMapped = errors.New("address already mapped")

// Half selects the translation base register a set of tables serves.
type Half int

const (
	// Lower tables translate [0, 2^48) through TTBR0.
	Lower Half = iota

	// Upper tables translate [0xffff000000000000, 2^64) through TTBR1.
	Upper
)

// String implements fmt.Stringer.String.
func (h Half) String() string {
	if h == Upper {
		return "upper"
	}
	return "lower"
}

// Bounds returns the addresses the half may map.
func (h Half) Bounds() hostarch.AddrRange {
	if h == Upper {
		return hostarch.AddrRange{Start: upperBottom, End: upperTop}
	}
	return hostarch.AddrRange{Start: 0, End: lowerTop + 1}
}

// PageTables is a set of page tables.
type PageTables struct {
	// Allocator is used to allocate tables.
	Allocator Allocator

	mu sync.Mutex

	// root is the level 0 table.
	root *PTEs

	// rootPhysical is the physical address of root.
	rootPhysical hostarch.Addr

	half Half
	asid uint16

	// stale is set when an entry that may be cached in a TLB was removed
	// or had its permissions changed. It is cleared by TakeStale.
	stale bool
}

// New returns new PageTables for the given half. The asid tags non-global
// entries and is ignored for the upper half.
func New(a Allocator, half Half, asid uint16) (*PageTables, error) {
	root, physical, err := a.NewPTEs()
	if err != nil {
		return nil, err
	}
	return &PageTables{
		Allocator:    a,
		root:         root,
		rootPhysical: physical,
		half:         half,
		asid:         asid,
	}, nil
}

// Half returns the half these tables serve.
func (p *PageTables) Half() Half {
	return p.half
}

// Root returns the physical address of the level 0 table.
func (p *PageTables) Root() hostarch.Addr {
	return p.rootPhysical
}

// TTBR returns the translation table base register value for these tables.
func (p *PageTables) TTBR() uint64 {
	return uint64(p.rootPhysical) | uint64(p.asid)<<48
}

func (p *PageTables) checkRange(addr hostarch.Addr, length uint64) hostarch.AddrRange {
	if !addr.IsPageAligned() || length%hostarch.PageSize != 0 {
		panic(fmt.Sprintf("unaligned range: addr=%v length=%#x", addr, length))
	}
	ar, ok := addr.ToRange(length)
	if !ok || !p.half.Bounds().IsSupersetOf(ar) {
		panic(fmt.Sprintf("range %v outside the %v half", ar, p.half))
	}
	return ar
}

// Map installs a mapping of [addr, addr+length) to the physical range
// starting at physical.
//
// Map fails with ErrAlreadyMapped, leaving the tables untouched, if any page
// in the range is mapped. If a table allocation fails, entries installed by
// this call are removed and the error is returned.
//
// Precondition: addr, length and physical must be page-aligned and the range
// must lie within the tables' half.
func (p *PageTables) Map(addr hostarch.Addr, length uint64, physical hostarch.Addr, opts MapOpts) error {
	ar := p.checkRange(addr, length)
	if !physical.IsPageAligned() {
		panic(fmt.Sprintf("unaligned physical address %v", physical))
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	check := checkVisitor{}
	w := Walker{pageTables: p, visitor: &check}
	w.iterateRange(ar.Start, ar.End)
	if check.found {
		return ErrAlreadyMapped
	}

	w.visitor = &mapVisitor{start: ar.Start, physical: physical, opts: opts}
	if err := w.iterateRange(ar.Start, ar.End); err != nil {
		w.visitor = &unmapVisitor{}
		w.iterateRange(ar.Start, ar.End)
		return err
	}
	return nil
}

// Unmap removes all mappings in [addr, addr+length). If release is non-nil,
// it is called with the virtual and physical address of each removed page.
// Tables left empty are freed. Unmap returns the number of pages removed.
func (p *PageTables) Unmap(addr hostarch.Addr, length uint64, release func(addr, physical hostarch.Addr)) int {
	ar := p.checkRange(addr, length)
	p.mu.Lock()
	defer p.mu.Unlock()
	v := unmapVisitor{release: release}
	w := Walker{pageTables: p, visitor: &v}
	w.iterateRange(ar.Start, ar.End)
	if v.count > 0 {
		p.stale = true
	}
	return v.count
}

// Protect changes the options of all mapped pages in [addr, addr+length),
// keeping their physical addresses. Unmapped pages stay unmapped. It returns
// the number of pages changed.
func (p *PageTables) Protect(addr hostarch.Addr, length uint64, opts MapOpts) int {
	ar := p.checkRange(addr, length)
	p.mu.Lock()
	defer p.mu.Unlock()
	v := protectVisitor{opts: opts}
	w := Walker{pageTables: p, visitor: &v}
	w.iterateRange(ar.Start, ar.End)
	if v.count > 0 {
		p.stale = true
	}
	return v.count
}

// TakeStale reports whether Unmap or Protect changed a live entry since the
// last call, and clears the indication. A true result means translations
// cached from these tables must be invalidated before they are used again.
func (p *PageTables) TakeStale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	stale := p.stale
	p.stale = false
	return stale
}

// Lookup returns the physical address and options of the page containing
// addr. ok is false if the page is not mapped.
func (p *PageTables) Lookup(addr hostarch.Addr) (physical hostarch.Addr, opts MapOpts, ok bool) {
	if !p.half.Bounds().Contains(addr) {
		return 0, MapOpts{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	table := p.root
	for level := 0; level < levels-1; level++ {
		entry := table[index(addr, level)]
		if !entry.IsTable() {
			return 0, MapOpts{}, false
		}
		table = p.Allocator.LookupPTEs(entry.Address())
	}
	entry := table[index(addr, levels-1)]
	if !entry.Valid() {
		return 0, MapOpts{}, false
	}
	return entry.Address() + hostarch.Addr(addr.PageOffset()), entry.Opts(), true
}

// ForEach calls fn for each mapped page in ar, in ascending order.
func (p *PageTables) ForEach(ar hostarch.AddrRange, fn func(addr hostarch.Addr, pte PTE)) {
	ar = ar.Intersect(p.half.Bounds())
	start, end := ar.Start.RoundDown(), ar.End.RoundDown()
	p.mu.Lock()
	defer p.mu.Unlock()
	w := Walker{pageTables: p, visitor: &funcVisitor{fn: fn}}
	w.iterateRange(start, end)
}

// Release unmaps everything and frees all tables, including the root. The
// tables must not be used afterwards.
func (p *PageTables) Release(release func(addr, physical hostarch.Addr)) {
	b := p.half.Bounds()
	p.Unmap(b.Start, b.Length()&^(hostarch.PageSize-1), release)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Allocator.FreePTEs(p.rootPhysical)
	p.root = nil
}
