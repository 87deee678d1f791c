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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/pgalloc"
	"kestrel.dev/kestrel/pkg/physmem"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

const (
	ramBase = hostarch.Addr(0x4000_0000)
	page    = hostarch.PageSize
)

var testLayout = Layout{
	MinUserAddress: 0x1_0000,
	UserTop:        0x8000_0000_0000,
	StackTop:       0x7fff_ffff_f000,
	StackSize:      64 * page,
	StackInitial:   4 * page,
	HeapCeiling:    32 * page,
}

func newMM(t *testing.T, frames uint64) (*MemoryManager, *pgalloc.Allocator) {
	t.Helper()
	ram, err := physmem.NewRAM(ramBase, frames*page)
	if err != nil {
		t.Fatalf("NewRAM failed: %v", err)
	}
	fa, err := pgalloc.New(ram, pgalloc.Options{})
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	mm, err := New(fa, testLayout)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return mm, fa
}

func TestLayoutValidate(t *testing.T) {
	if err := DefaultLayout.Validate(); err != nil {
		t.Errorf("DefaultLayout invalid: %v", err)
	}
	bad := testLayout
	bad.MinUserAddress = 0
	if err := bad.Validate(); err == nil {
		t.Errorf("layout mapping page zero accepted")
	}
	bad = testLayout
	bad.StackInitial = bad.StackSize + page
	if err := bad.Validate(); err == nil {
		t.Errorf("initial stack larger than the reservation accepted")
	}
}

func TestBrk(t *testing.T) {
	mm, _ := newMM(t, 128)
	const heap = hostarch.Addr(0x50_0000)
	mm.BrkSetup(heap - 0x123)

	if got, err := mm.Brk(0); err != nil || got != heap {
		t.Fatalf("Brk(0) = %v, %v, want %v", got, err, heap)
	}
	if got, _ := mm.Brk(0x1000); got != heap {
		t.Errorf("Brk below heap start = %v, want %v", got, heap)
	}

	want := heap + 3*page + 10
	got, err := mm.Brk(want)
	if err != nil || got != want {
		t.Fatalf("Brk(%v) = %v, %v", want, got, err)
	}
	msg := []byte("heap works")
	if _, err := mm.CopyOut(heap+3*page, msg, IOOpts{}); err != nil {
		t.Fatalf("CopyOut into heap failed: %v", err)
	}
	buf := make([]byte, len(msg))
	if _, err := mm.CopyIn(heap+3*page, buf, IOOpts{}); err != nil || !bytes.Equal(buf, msg) {
		t.Errorf("CopyIn = %q, %v, want %q", buf, err, msg)
	}
	if got := mm.RSS(); got != 4*page {
		t.Errorf("RSS = %#x, want %#x", got, 4*page)
	}

	// Beyond the ceiling.
	if got, err := mm.Brk(heap + 33*page); !errors.Is(err, linuxerr.ENOMEM) || got != want {
		t.Errorf("Brk beyond ceiling = %v, %v, want %v, ENOMEM", got, err, want)
	}
	if got, _ := mm.Brk(0); got != want {
		t.Errorf("break moved to %v after a failed Brk", got)
	}

	// Shrinking frees pages.
	if _, err := mm.Brk(heap + page); err != nil {
		t.Fatalf("shrinking Brk failed: %v", err)
	}
	if got := mm.RSS(); got != page {
		t.Errorf("RSS after shrink = %#x, want %#x", got, page)
	}
	if _, err := mm.CopyIn(heap+2*page, buf, IOOpts{}); !errors.Is(err, linuxerr.EFAULT) {
		t.Errorf("CopyIn above the break = %v, want EFAULT", err)
	}
}

func TestBrkOutOfMemory(t *testing.T) {
	mm, fa := newMM(t, 16)
	const heap = hostarch.Addr(0x50_0000)
	mm.BrkSetup(heap)
	before := fa.Usage()

	got, err := mm.Brk(heap + 30*page)
	if !errors.Is(err, linuxerr.ENOMEM) || got != heap {
		t.Fatalf("Brk = %v, %v, want %v, ENOMEM", got, err, heap)
	}
	after := fa.Usage()
	// Page tables built along the way may remain; user frames must not.
	if mm.RSS() != 0 {
		t.Errorf("RSS = %#x after failed growth, want 0", mm.RSS())
	}
	if after.Allocated > before.Allocated+3 {
		t.Errorf("allocated frames %d -> %d: partial growth kept", before.Allocated, after.Allocated)
	}
}

func TestMMap(t *testing.T) {
	mm, _ := newMM(t, 64)
	addr, err := mm.MMap(MMapOpts{Length: 3*page - 1, Perms: hostarch.ReadWrite})
	if err != nil {
		t.Fatalf("MMap failed: %v", err)
	}
	if !addr.IsPageAligned() || addr < testLayout.MinUserAddress || addr+3*page > mm.mmapBase() {
		t.Errorf("MMap placed mapping at %v", addr)
	}
	// Lazily populated.
	if mm.RSS() != 0 {
		t.Errorf("RSS = %#x before touching the mapping", mm.RSS())
	}
	if _, err := mm.ZeroOut(addr, 3*page, IOOpts{}); err != nil {
		t.Fatalf("ZeroOut failed: %v", err)
	}
	if mm.RSS() != 3*page {
		t.Errorf("RSS = %#x after touching the mapping", mm.RSS())
	}

	second, err := mm.MMap(MMapOpts{Length: page, Perms: hostarch.Read})
	if err != nil {
		t.Fatalf("second MMap failed: %v", err)
	}
	if second+page > addr && second < addr+3*page {
		t.Errorf("second mapping %v overlaps first %v", second, addr)
	}

	if _, err := mm.MMap(MMapOpts{Length: page, Addr: addr + page, Fixed: true, NoReplace: true, Perms: hostarch.Read}); !errors.Is(err, linuxerr.EEXIST) {
		t.Errorf("MAP_FIXED_NOREPLACE over a mapping = %v, want EEXIST", err)
	}
	if _, err := mm.MMap(MMapOpts{Length: page, Addr: 0x1000, Fixed: true, Perms: hostarch.Read}); !errors.Is(err, linuxerr.ENOMEM) {
		t.Errorf("MAP_FIXED below the minimum address = %v, want ENOMEM", err)
	}
	if _, err := mm.MMap(MMapOpts{}); !errors.Is(err, linuxerr.EINVAL) {
		t.Errorf("zero length MMap = %v, want EINVAL", err)
	}

	// Replacing the middle page splits the region.
	if _, err := mm.MMap(MMapOpts{Length: page, Addr: addr + page, Fixed: true, Perms: hostarch.Read}); err != nil {
		t.Fatalf("MAP_FIXED failed: %v", err)
	}
	if mm.RSS() != 2*page {
		t.Errorf("RSS = %#x after replacing a populated page, want %#x", mm.RSS(), 2*page)
	}
	if _, err := mm.CopyOut(addr+page, []byte{1}, IOOpts{}); !errors.Is(err, linuxerr.EFAULT) {
		t.Errorf("write to read-only replacement = %v, want EFAULT", err)
	}
}

func TestMUnmapAndProtect(t *testing.T) {
	mm, fa := newMM(t, 64)
	addr, err := mm.MMap(MMapOpts{Length: 4 * page, Perms: hostarch.ReadWrite, Precommit: true})
	if err != nil {
		t.Fatalf("MMap failed: %v", err)
	}
	if err := mm.MProtect(addr+page, page, hostarch.Read); err != nil {
		t.Fatalf("MProtect failed: %v", err)
	}
	if _, err := mm.CopyOut(addr+page, []byte{1}, IOOpts{}); !errors.Is(err, linuxerr.EFAULT) {
		t.Errorf("write to protected page = %v, want EFAULT", err)
	}
	if _, err := mm.CopyOut(addr+page, []byte{1}, IOOpts{IgnorePermissions: true}); err != nil {
		t.Errorf("forced write to protected page = %v", err)
	}
	_, opts, ok := mm.PageTables().Lookup(addr + page)
	if !ok || opts.AccessType.Write {
		t.Errorf("protected page still writable in the tables: %v", opts)
	}

	used := fa.Usage().Allocated
	if err := mm.MUnmap(addr, 2*page); err != nil {
		t.Fatalf("MUnmap failed: %v", err)
	}
	if got := fa.Usage().Allocated; got != used-2 {
		t.Errorf("allocated frames %d, want %d", got, used-2)
	}
	if err := mm.MProtect(addr, 4*page, hostarch.Read); !errors.Is(err, linuxerr.ENOMEM) {
		t.Errorf("MProtect over a hole = %v, want ENOMEM", err)
	}
	if err := mm.MUnmap(addr+1, page); !errors.Is(err, linuxerr.EINVAL) {
		t.Errorf("unaligned MUnmap = %v, want EINVAL", err)
	}
	wantMaps := "[stack]"
	if strings.Contains(mm.DebugString(), wantMaps) {
		t.Errorf("DebugString shows a stack before MapStack:\n%s", mm.DebugString())
	}
}

func TestStackGrowth(t *testing.T) {
	mm, _ := newMM(t, 64)
	ar, err := mm.MapStack()
	if err != nil {
		t.Fatalf("MapStack failed: %v", err)
	}
	if ar.End != testLayout.StackTop || ar.Length() != testLayout.StackSize {
		t.Errorf("stack range %v", ar)
	}
	if got := mm.RSS(); got != testLayout.StackInitial {
		t.Errorf("RSS = %#x, want %#x", got, testLayout.StackInitial)
	}

	deep := ar.End - hostarch.Addr(testLayout.StackInitial) - 2*page + 8
	if _, _, ok := mm.PageTables().Lookup(deep); ok {
		t.Fatalf("growth page already mapped")
	}
	if err := mm.HandleUserFault(deep, hostarch.Write); err != nil {
		t.Fatalf("HandleUserFault in the stack reservation failed: %v", err)
	}
	if _, opts, ok := mm.PageTables().Lookup(deep); !ok || !opts.User || !opts.AccessType.Write {
		t.Errorf("grown page mapped %v, %t", opts, ok)
	}
	if err := mm.HandleUserFault(ar.Start-8, hostarch.Write); !errors.Is(err, ErrBadAddress) {
		t.Errorf("fault below the reservation = %v, want ErrBadAddress", err)
	}
	if err := mm.HandleUserFault(0, hostarch.Read); !errors.Is(err, ErrBadAddress) {
		t.Errorf("null fault = %v, want ErrBadAddress", err)
	}
	if !strings.Contains(mm.DebugString(), "rw-p [stack]") {
		t.Errorf("DebugString lacks the stack:\n%s", mm.DebugString())
	}
}

func TestCopyInString(t *testing.T) {
	mm, _ := newMM(t, 64)
	addr, err := mm.MMap(MMapOpts{Length: 2 * page, Perms: hostarch.ReadWrite})
	if err != nil {
		t.Fatalf("MMap failed: %v", err)
	}
	// Straddle the page boundary.
	s := addr + page - 3
	if _, err := mm.CopyOut(s, []byte("/etc/passwd\x00"), IOOpts{}); err != nil {
		t.Fatalf("CopyOut failed: %v", err)
	}
	for _, tc := range []struct {
		maxlen  int
		want    string
		wantErr error
	}{
		{maxlen: 64, want: "/etc/passwd"},
		{maxlen: 11, want: "/etc/passwd"},
		{maxlen: 4, wantErr: linuxerr.ENAMETOOLONG},
	} {
		got, err := mm.CopyInString(s, tc.maxlen)
		if got != tc.want || !errors.Is(err, tc.wantErr) {
			t.Errorf("CopyInString(%d) = %q, %v, want %q, %v", tc.maxlen, got, err, tc.want, tc.wantErr)
		}
	}
	if _, err := mm.CopyOut(addr+2*page-1, []byte{'x'}, IOOpts{}); err != nil {
		t.Fatalf("CopyOut failed: %v", err)
	}
	if _, err := mm.CopyInString(addr+2*page-1, 64); !errors.Is(err, linuxerr.EFAULT) {
		t.Errorf("CopyInString running off the mapping = %v, want EFAULT", err)
	}
}

func TestRelease(t *testing.T) {
	mm, fa := newMM(t, 64)
	if _, err := mm.MapStack(); err != nil {
		t.Fatalf("MapStack failed: %v", err)
	}
	mm.Release()
	if got := fa.Usage().Allocated; got != 0 {
		t.Errorf("%d frames allocated after Release", got)
	}
}

func TestKernelSpace(t *testing.T) {
	ram, err := physmem.NewRAM(ramBase, 256*page)
	if err != nil {
		t.Fatalf("NewRAM failed: %v", err)
	}
	fa, err := pgalloc.New(ram, pgalloc.Options{KernelEnd: ramBase + 64*page})
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	image := hostarch.AddrRange{Start: ramBase, End: ramBase + 16*page}
	uart := DeviceRegion{Name: "uart", Base: 0x0900_0000, Size: 0x1000}
	ks, err := NewKernelSpace(pagetables.NewFrameAllocator(fa), ram.Range(), image, []DeviceRegion{uart})
	if err != nil {
		t.Fatalf("NewKernelSpace failed: %v", err)
	}
	pt := ks.PageTables()

	type view struct {
		Physical hostarch.Addr
		Opts     pagetables.MapOpts
	}
	lookup := func(va hostarch.Addr) view {
		pa, opts, ok := pt.Lookup(va)
		if !ok {
			t.Fatalf("%v not mapped", va)
		}
		return view{pa, opts}
	}
	for _, tc := range []struct {
		va   hostarch.Addr
		want view
	}{
		{ks.VirtualFor(ramBase), view{ramBase, pagetables.MapOpts{AccessType: hostarch.AnyAccess, Global: true}}},
		{ks.VirtualFor(ramBase + 100*page), view{ramBase + 100*page, pagetables.MapOpts{AccessType: hostarch.ReadWrite, Global: true}}},
		{KernelBase + 0x0900_0018, view{0x0900_0018, pagetables.MapOpts{AccessType: hostarch.ReadWrite, Global: true, MemoryType: hostarch.MemoryTypeDevice}}},
	} {
		if diff := cmp.Diff(tc.want, lookup(tc.va)); diff != "" {
			t.Errorf("Lookup(%v) mismatch (-want +got):\n%s", tc.va, diff)
		}
	}
	if va, ok := ks.Device("uart"); !ok || va != KernelBase+0x0900_0000 {
		t.Errorf("Device(uart) = %v, %t", va, ok)
	}
}
