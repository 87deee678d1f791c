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

package pagetables

import (
	"kestrel.dev/kestrel/pkg/hostarch"
)

// Visitor is called for each leaf entry in a range.
type Visitor interface {
	// visit is called for each page-sized leaf entry.
	visit(addr hostarch.Addr, pte *PTE)

	// requiresAlloc indicates that missing tables should be allocated.
	requiresAlloc() bool

	// releasesEmpty indicates that tables left empty after the visit
	// should be released.
	releasesEmpty() bool
}

// Walker walks page tables.
type Walker struct {
	// pageTables are the tables to walk.
	pageTables *PageTables

	// visitor is the visitor.
	visitor Visitor
}

// iterateRange iterates over all leaf entries in [start, end).
//
// Precondition: start and end are page-aligned and lie in the same half.
func (w *Walker) iterateRange(start, end hostarch.Addr) error {
	if start >= end {
		return nil
	}
	return w.walk(w.pageTables.root, 0, start, end)
}

// next returns the next boundary of a region of the given size after start,
// clamped to end.
func next(start hostarch.Addr, size uint64, end hostarch.Addr) hostarch.Addr {
	n := (start &^ hostarch.Addr(size-1)) + hostarch.Addr(size)
	if n <= start || n > end {
		return end
	}
	return n
}

func (w *Walker) walk(table *PTEs, level int, start, end hostarch.Addr) error {
	size := uint64(1) << levelShift(level)
	for idx := index(start, level); start < end && idx < entriesPerPage; idx++ {
		entry := &table[idx]
		if level == levels-1 {
			w.visitor.visit(start, entry)
			start += hostarch.PageSize
			continue
		}
		stop := next(start, size, end)
		var child *PTEs
		if entry.Valid() {
			child = w.pageTables.Allocator.LookupPTEs(entry.Address())
		} else {
			if !w.visitor.requiresAlloc() {
				start = stop
				continue
			}
			var (
				physical hostarch.Addr
				err      error
			)
			child, physical, err = w.pageTables.Allocator.NewPTEs()
			if err != nil {
				return err
			}
			entry.SetTable(physical)
		}
		if err := w.walk(child, level+1, start, stop); err != nil {
			return err
		}
		if w.visitor.releasesEmpty() && child.empty() {
			physical := entry.Address()
			entry.Clear()
			w.pageTables.Allocator.FreePTEs(physical)
		}
		start = stop
	}
	return nil
}

// checkVisitor reports whether any entry in the range is valid.
type checkVisitor struct {
	found bool
}

func (*checkVisitor) requiresAlloc() bool { return false }
func (*checkVisitor) releasesEmpty() bool { return false }

func (v *checkVisitor) visit(_ hostarch.Addr, pte *PTE) {
	if pte.Valid() {
		v.found = true
	}
}

// mapVisitor installs a contiguous physical range.
type mapVisitor struct {
	start    hostarch.Addr
	physical hostarch.Addr
	opts     MapOpts
}

func (*mapVisitor) requiresAlloc() bool { return true }
func (*mapVisitor) releasesEmpty() bool { return false }

func (v *mapVisitor) visit(addr hostarch.Addr, pte *PTE) {
	pte.Set(v.physical+(addr-v.start), v.opts)
}

// unmapVisitor clears entries and releases the tables left empty.
type unmapVisitor struct {
	release func(addr, physical hostarch.Addr)
	count   int
}

func (*unmapVisitor) requiresAlloc() bool { return false }
func (*unmapVisitor) releasesEmpty() bool { return true }

func (v *unmapVisitor) visit(addr hostarch.Addr, pte *PTE) {
	if !pte.Valid() {
		return
	}
	physical := pte.Address()
	pte.Clear()
	v.count++
	if v.release != nil {
		v.release(addr, physical)
	}
}

// protectVisitor changes the options of valid entries.
type protectVisitor struct {
	opts  MapOpts
	count int
}

func (*protectVisitor) requiresAlloc() bool { return false }
func (*protectVisitor) releasesEmpty() bool { return false }

func (v *protectVisitor) visit(_ hostarch.Addr, pte *PTE) {
	if pte.Valid() {
		pte.Set(pte.Address(), v.opts)
		v.count++
	}
}

// funcVisitor calls fn for each valid entry.
type funcVisitor struct {
	fn func(addr hostarch.Addr, pte PTE)
}

func (*funcVisitor) requiresAlloc() bool { return false }
func (*funcVisitor) releasesEmpty() bool { return false }

func (v *funcVisitor) visit(addr hostarch.Addr, pte *PTE) {
	if pte.Valid() {
		v.fn(addr, *pte)
	}
}
