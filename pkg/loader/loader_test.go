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

package loader

import (
	"bytes"
	"context"
	"debug/elf"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/binary"
	"kestrel.dev/kestrel/pkg/fsprovider"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/loader/elftest"
	"kestrel.dev/kestrel/pkg/mm"
	"kestrel.dev/kestrel/pkg/pgalloc"
	"kestrel.dev/kestrel/pkg/physmem"
)

const page = hostarch.PageSize

var testLayout = mm.Layout{
	MinUserAddress: 0x1_0000,
	UserTop:        0x1_0000_0000_0000,
	StackTop:       0x7fff_ffff_f000,
	StackSize:      64 * page,
	StackInitial:   4 * page,
	HeapCeiling:    32 * page,
}

var testBounds = Bounds{Min: testLayout.MinUserAddress, Max: testLayout.UserTop}

func newMM(t *testing.T) *mm.MemoryManager {
	t.Helper()
	ram, err := physmem.NewRAM(0x4000_0000, 256*page)
	if err != nil {
		t.Fatalf("NewRAM failed: %v", err)
	}
	fa, err := pgalloc.New(ram, pgalloc.Options{})
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	m, err := mm.New(fa, testLayout)
	if err != nil {
		t.Fatalf("mm.New failed: %v", err)
	}
	return m
}

// helloImage has text and data segments, with a bss tail on the data one
// and a page shared between them.
func helloImage() elftest.Image {
	return elftest.Image{
		Entry: 0x40_0010,
		Segments: []elftest.Segment{
			{Vaddr: 0x40_0000, Flags: elf.PF_R | elf.PF_X, Data: bytes.Repeat([]byte{0xd5}, 0x1800)},
			{Vaddr: 0x40_1800, Flags: elf.PF_R | elf.PF_W, Data: []byte("data"), MemSize: 0x2000},
		},
	}
}

func TestParse(t *testing.T) {
	b := elftest.Build(helloImage())
	img, err := Parse(bytes.NewReader(b), int64(len(b)), testBounds)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := []Mapping{
		{Range: hostarch.AddrRange{Start: 0x40_0000, End: 0x40_1000}, Perms: hostarch.ReadExec},
		{Range: hostarch.AddrRange{Start: 0x40_1000, End: 0x40_2000}, Perms: hostarch.AnyAccess},
		{Range: hostarch.AddrRange{Start: 0x40_2000, End: 0x40_4000}, Perms: hostarch.ReadWrite},
	}
	if diff := cmp.Diff(want, img.Mappings); diff != "" {
		t.Errorf("Mappings mismatch (-want +got):\n%s", diff)
	}
	if img.Entry != 0x40_0010 || img.Bias != 0 {
		t.Errorf("entry %v bias %v, want 0x400010 and 0", img.Entry, img.Bias)
	}
	if img.End != 0x40_4000 {
		t.Errorf("End = %v, want 0x404000", img.End)
	}
	if img.PhNum != 2 || img.PhEnt != 56 {
		t.Errorf("PhNum %d PhEnt %d, want 2 and 56", img.PhNum, img.PhEnt)
	}
}

func TestParseStaticPIE(t *testing.T) {
	b := elftest.Build(elftest.Image{
		Type:     elf.ET_DYN,
		Entry:    0x100,
		Segments: []elftest.Segment{{Vaddr: 0, Flags: elf.PF_R | elf.PF_X, Data: make([]byte, 0x200)}},
	})
	img, err := Parse(bytes.NewReader(b), int64(len(b)), testBounds)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if img.Bias != PIEBase || img.Entry != PIEBase+0x100 {
		t.Errorf("bias %v entry %v, want %v and %v", img.Bias, img.Entry, PIEBase, PIEBase+0x100)
	}
}

func TestParseErrors(t *testing.T) {
	text := []elftest.Segment{{Vaddr: 0x40_0000, Flags: elf.PF_R | elf.PF_X, Data: make([]byte, 16)}}
	for _, tc := range []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrInvalidImage},
		{"not elf", []byte("#!/bin/sh\necho hi\n" + string(make([]byte, 64))), ErrInvalidImage},
		{"x86", elftest.Build(elftest.Image{Machine: elf.EM_X86_64, Segments: text}), ErrInvalidImage},
		{"relocatable", elftest.Build(elftest.Image{Type: elf.ET_REL, Segments: text}), ErrInvalidImage},
		{"interp", elftest.Build(elftest.Image{Interp: "/lib/ld-linux-aarch64.so.1", Segments: text}), ErrInvalidImage},
		{"no segments", elftest.Build(elftest.Image{}), ErrInvalidImage},
		{"page zero", elftest.Build(elftest.Image{Segments: []elftest.Segment{{Vaddr: 0, Flags: elf.PF_R, Data: []byte{1}}}}), ErrUnsupportedSegment},
		{"kernel half", elftest.Build(elftest.Image{Segments: []elftest.Segment{{Vaddr: 0xffff_0000_0000_0000, Flags: elf.PF_R, Data: []byte{1}}}}), ErrUnsupportedSegment},
		{"straddles user top", elftest.Build(elftest.Image{Segments: []elftest.Segment{{Vaddr: 0xffff_ffff_f000, Flags: elf.PF_R, Data: []byte{1}, MemSize: 2 * page}}}), ErrUnsupportedSegment},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(bytes.NewReader(tc.data), int64(len(tc.data)), testBounds)
			if !errors.Is(err, tc.want) {
				t.Errorf("Parse = %v, want %v", err, tc.want)
			}
		})
	}
	// The 32-bit class is rejected before debug/elf sees the file.
	b := elftest.Build(elftest.Image{Segments: text})
	b[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	if _, err := Parse(bytes.NewReader(b), int64(len(b)), testBounds); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("Parse(ELF32) = %v, want %v", err, ErrInvalidImage)
	}
}

type fixedReader byte

func (r fixedReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}

func TestLoad(t *testing.T) {
	rd := fsprovider.NewRamdisk()
	rd.Add("/bin/hello", elftest.Build(helloImage()), 0755)
	m := newMM(t)

	info, err := Load(context.Background(), LoadArgs{
		MemoryManager: m,
		Opener:        rd,
		Filename:      "/bin/hello",
		Argv:          []string{"hello", "world"},
		Envv:          []string{"HOME=/"},
		Random:        fixedReader(0xaa),
		HWCap:         linux.HWCAP_FP,
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// File bytes, then zeroes up to memsz.
	got := make([]byte, 8)
	if _, err := m.CopyIn(0x40_1800, got, mm.IOOpts{}); err != nil {
		t.Fatalf("CopyIn failed: %v", err)
	}
	if want := []byte("data\x00\x00\x00\x00"); !bytes.Equal(got, want) {
		t.Errorf("data segment = %q, want %q", got, want)
	}
	bss := make([]byte, 0x1000)
	if _, err := m.CopyIn(0x40_2800, bss, mm.IOOpts{}); err != nil {
		t.Fatalf("CopyIn bss failed: %v", err)
	}
	if !bytes.Equal(bss, make([]byte, len(bss))) {
		t.Errorf(".bss is not zero")
	}

	// The text page is not writable by user code.
	if _, err := m.CopyOut(0x40_0000, []byte{0}, mm.IOOpts{}); err == nil {
		t.Errorf("write to text succeeded")
	}

	sp := info.StackPointer
	if sp%16 != 0 || !info.Stack.Contains(sp) {
		t.Fatalf("stack pointer %v misaligned or outside %v", sp, info.Stack)
	}
	readWord := func(addr hostarch.Addr) uint64 {
		var w [8]byte
		if _, err := m.CopyIn(addr, w[:], mm.IOOpts{}); err != nil {
			t.Fatalf("CopyIn(%v) failed: %v", addr, err)
		}
		return binary.LittleEndian.Uint64(w[:])
	}
	if argc := readWord(sp); argc != 2 {
		t.Errorf("argc = %d, want 2", argc)
	}
	arg1, err := m.CopyInString(hostarch.Addr(readWord(sp+16)), 64)
	if err != nil || arg1 != "world" {
		t.Errorf("argv[1] = %q, %v, want world", arg1, err)
	}
	if w := readWord(sp + 24); w != 0 {
		t.Errorf("argv terminator = %#x", w)
	}
	env0, err := m.CopyInString(hostarch.Addr(readWord(sp+32)), 64)
	if err != nil || env0 != "HOME=/" {
		t.Errorf("envp[0] = %q, %v, want HOME=/", env0, err)
	}

	// Walk the auxiliary vector.
	aux := make(map[uint64]uint64)
	for addr := sp + 48; ; addr += 16 {
		k, v := readWord(addr), readWord(addr+8)
		if k == linux.AT_NULL {
			break
		}
		aux[k] = v
	}
	for k, want := range map[uint64]uint64{
		linux.AT_PAGESZ: page,
		linux.AT_ENTRY:  0x40_0010,
		linux.AT_PHNUM:  2,
		linux.AT_PHENT:  56,
		linux.AT_HWCAP:  linux.HWCAP_FP,
		linux.AT_CLKTCK: linux.ClockTick,
	} {
		if aux[k] != want {
			t.Errorf("auxv[%d] = %#x, want %#x", k, aux[k], want)
		}
	}
	random := make([]byte, 16)
	if _, err := m.CopyIn(hostarch.Addr(aux[linux.AT_RANDOM]), random, mm.IOOpts{}); err != nil || !bytes.Equal(random, bytes.Repeat([]byte{0xaa}, 16)) {
		t.Errorf("AT_RANDOM bytes = %x, %v", random, err)
	}
	if s, _ := m.CopyInString(hostarch.Addr(aux[linux.AT_PLATFORM]), 16); s != linux.PlatformAArch64 {
		t.Errorf("AT_PLATFORM = %q", s)
	}
	if s, _ := m.CopyInString(hostarch.Addr(aux[linux.AT_EXECFN]), 64); s != "/bin/hello" {
		t.Errorf("AT_EXECFN = %q", s)
	}

	// The heap starts at the end of the image.
	if brk, err := m.Brk(0); err != nil || brk != 0x40_4000 {
		t.Errorf("Brk(0) = %v, %v, want 0x404000", brk, err)
	}
}

func TestLoadFailureUnmaps(t *testing.T) {
	rd := fsprovider.NewRamdisk()
	// The second segment collides with the stack reservation.
	rd.Add("/bad", elftest.Build(elftest.Image{
		Entry: 0x40_0000,
		Segments: []elftest.Segment{
			{Vaddr: 0x40_0000, Flags: elf.PF_R | elf.PF_X, Data: make([]byte, 16)},
			{Vaddr: uint64(testLayout.StackTop - page), Flags: elf.PF_R | elf.PF_W, Data: make([]byte, 16)},
		},
	}), 0755)
	m := newMM(t)

	if _, err := Load(context.Background(), LoadArgs{
		MemoryManager: m,
		Opener:        rd,
		Filename:      "/bad",
		Random:        fixedReader(0),
	}); err == nil {
		t.Fatalf("Load succeeded")
	}
	if m.RSS() != 0 {
		t.Logf("regions left:\n%s", m.DebugString())
		t.Errorf("RSS after failed load = %d, want 0", m.RSS())
	}
}

func TestLoadErrors(t *testing.T) {
	rd := fsprovider.NewRamdisk()
	rd.Add("/dir/file", []byte("x"), 0644)
	for _, tc := range []struct {
		name string
		want error
	}{
		{"/missing", fsprovider.ErrNotFound},
		{"/dir", nil},
		{"/dir/file", ErrInvalidImage},
	} {
		m := newMM(t)
		_, err := Load(context.Background(), LoadArgs{MemoryManager: m, Opener: rd, Filename: tc.name, Random: fixedReader(0)})
		if err == nil {
			t.Errorf("Load(%q) succeeded", tc.name)
			continue
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Errorf("Load(%q) = %v, want %v", tc.name, err, tc.want)
		}
	}
}
