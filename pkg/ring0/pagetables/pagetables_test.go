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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/pgalloc"
	"kestrel.dev/kestrel/pkg/physmem"
)

const ramBase = hostarch.Addr(0x4000_0000)

type mapping struct {
	start  hostarch.Addr
	length uint64
	addr   hostarch.Addr
	opts   MapOpts
}

var (
	userRW = MapOpts{AccessType: hostarch.ReadWrite, User: true}
	userRO = MapOpts{AccessType: hostarch.Read, User: true}
	userRX = MapOpts{AccessType: hostarch.ReadExec, User: true}
)

func newTables(t *testing.T, frames uint64, half Half) (*PageTables, *FrameAllocator, *pgalloc.Allocator) {
	t.Helper()
	ram, err := physmem.NewRAM(ramBase, frames*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewRAM failed: %v", err)
	}
	fa, err := pgalloc.New(ram, pgalloc.Options{})
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	a := NewFrameAllocator(fa)
	pt, err := New(a, half, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return pt, a, fa
}

// checkMappings collapses the mapped pages into runs and compares them.
func checkMappings(t *testing.T, pt *PageTables, want []mapping) {
	t.Helper()
	var got []mapping
	pt.ForEach(pt.Half().Bounds(), func(addr hostarch.Addr, pte PTE) {
		if n := len(got); n > 0 {
			last := &got[n-1]
			end := last.start + hostarch.Addr(last.length)
			if end == addr && last.addr+hostarch.Addr(last.length) == pte.Address() && last.opts == pte.Opts() {
				last.length += hostarch.PageSize
				return
			}
		}
		got = append(got, mapping{start: addr, length: hostarch.PageSize, addr: pte.Address(), opts: pte.Opts()})
	})
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(mapping{})); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
}

func TestAllocFree(t *testing.T) {
	pt, a, _ := newTables(t, 16, Lower)
	if got := a.NumTables(); got != 1 {
		t.Errorf("NumTables = %d, want 1", got)
	}
	pt.Release(nil)
	if got := a.NumTables(); got != 0 {
		t.Errorf("NumTables after Release = %d, want 0", got)
	}
}

func TestUnmap(t *testing.T) {
	pt, a, _ := newTables(t, 16, Lower)

	if err := pt.Map(0x400000, hostarch.PageSize, 0x1000_0000, userRW); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	var released []hostarch.Addr
	if n := pt.Unmap(0x400000, hostarch.PageSize, func(_, physical hostarch.Addr) {
		released = append(released, physical)
	}); n != 1 {
		t.Errorf("Unmap removed %d pages, want 1", n)
	}
	if diff := cmp.Diff([]hostarch.Addr{0x1000_0000}, released); diff != "" {
		t.Errorf("released mismatch (-want +got):\n%s", diff)
	}
	checkMappings(t, pt, nil)
	if !pt.TakeStale() {
		t.Errorf("Unmap of a live page did not mark the tables stale")
	}
	if got := a.NumTables(); got != 1 {
		t.Errorf("intermediate tables not released: NumTables = %d, want 1", got)
	}
}

func TestReadOnly(t *testing.T) {
	pt, _, _ := newTables(t, 16, Lower)
	if err := pt.Map(0x400000, hostarch.PageSize, 0x1000_0000, userRO); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	checkMappings(t, pt, []mapping{
		{0x400000, hostarch.PageSize, 0x1000_0000, MapOpts{AccessType: hostarch.Read, User: true}},
	})
}

func TestReadWrite(t *testing.T) {
	pt, _, _ := newTables(t, 16, Lower)
	if err := pt.Map(0x400000, hostarch.PageSize, 0x1000_0000, userRW); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	checkMappings(t, pt, []mapping{
		{0x400000, hostarch.PageSize, 0x1000_0000, userRW},
	})
}

func TestSerialEntries(t *testing.T) {
	pt, _, _ := newTables(t, 16, Lower)
	if err := pt.Map(0x400000, hostarch.PageSize, 0x1000_0000, userRW); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if err := pt.Map(0x401000, hostarch.PageSize, 0x1000_1000, userRW); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	checkMappings(t, pt, []mapping{
		{0x400000, 2 * hostarch.PageSize, 0x1000_0000, userRW},
	})
}

func TestSpanningEntries(t *testing.T) {
	pt, a, _ := newTables(t, 32, Lower)
	// Two pages either side of a level 0 boundary.
	start := hostarch.Addr(1<<pgdShift - hostarch.PageSize)
	if err := pt.Map(start, 2*hostarch.PageSize, 0x1000_0000, userRX); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	checkMappings(t, pt, []mapping{
		{start, 2 * hostarch.PageSize, 0x1000_0000, userRX},
	})
	// Root plus three tables on each side.
	if got := a.NumTables(); got != 7 {
		t.Errorf("NumTables = %d, want 7", got)
	}
}

func TestAlreadyMapped(t *testing.T) {
	pt, _, _ := newTables(t, 16, Lower)
	if err := pt.Map(0x401000, hostarch.PageSize, 0x1000_0000, userRW); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	err := pt.Map(0x400000, 4*hostarch.PageSize, 0x2000_0000, userRO)
	if !errors.Is(err, ErrAlreadyMapped) {
		t.Fatalf("Map over existing page = %v, want %v", err, ErrAlreadyMapped)
	}
	checkMappings(t, pt, []mapping{
		{0x401000, hostarch.PageSize, 0x1000_0000, userRW},
	})
}

func TestMapOutOfMemory(t *testing.T) {
	// The root and one chain of three tables fit; a second chain does not.
	pt, a, _ := newTables(t, 5, Lower)
	if err := pt.Map(0x400000, hostarch.PageSize, 0x1000_0000, userRW); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	err := pt.Map(0x7f00_0000_0000, hostarch.PageSize, 0x1000_1000, userRW)
	if !errors.Is(err, pgalloc.ErrOutOfMemory) {
		t.Fatalf("Map = %v, want %v", err, pgalloc.ErrOutOfMemory)
	}
	checkMappings(t, pt, []mapping{
		{0x400000, hostarch.PageSize, 0x1000_0000, userRW},
	})
	if got := a.NumTables(); got != 4 {
		t.Errorf("partial tables kept: NumTables = %d, want 4", got)
	}
}

func TestProtect(t *testing.T) {
	pt, _, _ := newTables(t, 16, Lower)
	if err := pt.Map(0x400000, 2*hostarch.PageSize, 0x1000_0000, userRW); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if pt.TakeStale() {
		t.Errorf("Map marked the tables stale")
	}
	if n := pt.Protect(0x401000, 4*hostarch.PageSize, userRO); n != 1 {
		t.Errorf("Protect changed %d pages, want 1", n)
	}
	if !pt.TakeStale() {
		t.Errorf("Protect of a live page did not mark the tables stale")
	}
	if pt.TakeStale() {
		t.Errorf("TakeStale did not clear the indication")
	}
	if n := pt.Protect(0x800000, hostarch.PageSize, userRO); n != 0 {
		t.Errorf("Protect of an unmapped page changed %d pages", n)
	}
	if pt.TakeStale() {
		t.Errorf("Protect of an unmapped page marked the tables stale")
	}
	checkMappings(t, pt, []mapping{
		{0x400000, hostarch.PageSize, 0x1000_0000, userRW},
		{0x401000, hostarch.PageSize, 0x1000_1000, userRO},
	})
}

func TestUpperHalf(t *testing.T) {
	pt, _, _ := newTables(t, 16, Upper)
	kernel := MapOpts{AccessType: hostarch.ReadWrite, Global: true}
	va := hostarch.Addr(upperBottom) + ramBase
	if err := pt.Map(va, hostarch.PageSize, ramBase, kernel); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	checkMappings(t, pt, []mapping{{va, hostarch.PageSize, ramBase, kernel}})
	if _, _, ok := pt.Lookup(0x1000); ok {
		t.Errorf("lower half address resolved through upper tables")
	}
}

func TestLookupMatchesTranslate(t *testing.T) {
	pt, _, fa := newTables(t, 32, Lower)
	frame, err := fa.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := pt.Map(0x400000, hostarch.PageSize, frame, userRX); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	for _, addr := range []hostarch.Addr{0x400000, 0x400123, 0x400fff} {
		phys, opts, ok := pt.Lookup(addr)
		if !ok {
			t.Fatalf("Lookup(%v) found nothing", addr)
		}
		hw, pte, err := Translate(fa.Memory(), pt.Root(), addr)
		if err != nil {
			t.Fatalf("Translate(%v) failed: %v", addr, err)
		}
		if hw != phys || pte.Opts() != opts {
			t.Errorf("Translate(%v) = %v %v, Lookup = %v %v", addr, hw, pte.Opts(), phys, opts)
		}
	}

	_, _, err = Translate(fa.Memory(), pt.Root(), 0x401000)
	var tf *TranslationFault
	if !errors.As(err, &tf) || tf.Level != 3 {
		t.Errorf("Translate of unmapped neighbour = %v, want level 3 fault", err)
	}
	_, _, err = Translate(fa.Memory(), pt.Root(), 0x7f00_0000_0000)
	if !errors.As(err, &tf) || tf.Level != 0 {
		t.Errorf("Translate of distant address = %v, want level 0 fault", err)
	}
}

func TestPermits(t *testing.T) {
	var ro, rw, rx, none, kernel PTE
	ro.Set(0x1000, userRO)
	rw.Set(0x1000, userRW)
	rx.Set(0x1000, userRX)
	none.Set(0x1000, MapOpts{User: true})
	kernel.Set(0x1000, MapOpts{AccessType: hostarch.ReadWrite, Global: true})

	for _, tc := range []struct {
		name string
		pte  PTE
		at   hostarch.AccessType
		el0  bool
		want bool
	}{
		{"user read of read-only", ro, hostarch.Read, true, true},
		{"user write of read-only", ro, hostarch.Write, true, false},
		{"user exec of read-only", ro, hostarch.Execute, true, false},
		{"user write of read-write", rw, hostarch.Write, true, true},
		{"user exec of text", rx, hostarch.Execute, true, true},
		{"kernel exec of user text", rx, hostarch.Execute, false, false},
		{"user read of no-access", none, hostarch.Read, true, false},
		{"kernel read of no-access", none, hostarch.Read, false, true},
		{"user read of kernel page", kernel, hostarch.Read, true, false},
		{"kernel write of kernel page", kernel, hostarch.Write, false, true},
		{"kernel exec of data", kernel, hostarch.Execute, false, false},
		{"invalid", 0, hostarch.Read, false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.pte.Permits(tc.at, tc.el0); got != tc.want {
				t.Errorf("Permits(%v, el0=%t) = %t, want %t", tc.at, tc.el0, got, tc.want)
			}
		})
	}
}

func TestDeviceNeverExecutable(t *testing.T) {
	var p PTE
	p.Set(0x0900_0000, MapOpts{AccessType: hostarch.AnyAccess, Global: true, MemoryType: hostarch.MemoryTypeDevice})
	if p.Permits(hostarch.Execute, false) {
		t.Errorf("device mapping %v is executable", p)
	}
	if got := p.Opts().MemoryType; got != hostarch.MemoryTypeDevice {
		t.Errorf("MemoryType = %v, want %v", got, hostarch.MemoryTypeDevice)
	}
}

func TestBootBlocks(t *testing.T) {
	for _, tc := range []struct {
		name string
		pte  PTE
		want MapOpts
	}{
		{"kernel", KernelBlock, MapOpts{AccessType: hostarch.AnyAccess, Global: true}},
		{"device", DeviceBlock, MapOpts{AccessType: hostarch.ReadWrite, Global: true, MemoryType: hostarch.MemoryTypeDevice}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.pte.IsTable() {
				t.Errorf("%v is a table descriptor", tc.pte)
			}
			if got := tc.pte.Opts(); got != tc.want {
				t.Errorf("Opts() = %v, want %v", got, tc.want)
			}
			if tc.pte.Permits(hostarch.Read, true) {
				t.Errorf("%v is reachable from EL0", tc.pte)
			}
		})
	}
}
