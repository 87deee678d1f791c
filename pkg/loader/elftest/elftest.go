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

// Package elftest builds small aarch64 ELF executables for tests.
package elftest

import (
	"debug/elf"

	"kestrel.dev/kestrel/pkg/binary"
	"kestrel.dev/kestrel/pkg/hostarch"
)

// Segment is a PT_LOAD segment to emit.
type Segment struct {
	Vaddr uint64
	Flags elf.ProgFlag
	Data  []byte

	// MemSize defaults to len(Data).
	MemSize uint64
}

// Image describes an executable.
type Image struct {
	// Type defaults to ET_EXEC.
	Type elf.Type

	// Machine defaults to EM_AARCH64.
	Machine elf.Machine

	Entry    uint64
	Segments []Segment

	// Interp, if set, adds a PT_INTERP segment naming it.
	Interp string
}

const (
	ehdrSize = 64
	phdrSize = 56
)

// Build encodes img as a little-endian ELF64 file. Segment contents are
// placed at file offsets congruent to their addresses modulo the page size.
func Build(img Image) []byte {
	typ, machine := img.Type, img.Machine
	if typ == elf.ET_NONE {
		typ = elf.ET_EXEC
	}
	if machine == elf.EM_NONE {
		machine = elf.EM_AARCH64
	}
	phnum := len(img.Segments)
	if img.Interp != "" {
		phnum++
	}

	hdr := elf.Header64{
		Type:      uint16(typ),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(phnum),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var progs []elf.Prog64
	var blobs [][]byte
	cursor := uint64(hostarch.PageSize)
	if img.Interp != "" {
		name := append([]byte(img.Interp), 0)
		progs = append(progs, elf.Prog64{
			Type:   uint32(elf.PT_INTERP),
			Flags:  uint32(elf.PF_R),
			Off:    cursor,
			Filesz: uint64(len(name)),
			Memsz:  uint64(len(name)),
			Align:  1,
		})
		blobs = append(blobs, name)
		cursor += hostarch.PageSize
	}
	for _, s := range img.Segments {
		off := cursor + s.Vaddr%hostarch.PageSize
		memsz := s.MemSize
		if memsz == 0 {
			memsz = uint64(len(s.Data))
		}
		progs = append(progs, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(s.Flags),
			Off:    off,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint64(len(s.Data)),
			Memsz:  memsz,
			Align:  hostarch.PageSize,
		})
		blobs = append(blobs, s.Data)
		end, _ := hostarch.PageRoundUp(off + uint64(len(s.Data)))
		cursor = end + hostarch.PageSize
	}

	out := binary.Marshal(nil, &hdr)
	for i := range progs {
		out = binary.Marshal(out, &progs[i])
	}
	for i, p := range progs {
		if need := int(p.Off) + len(blobs[i]); need > len(out) {
			out = append(out, make([]byte, need-len(out))...)
		}
		copy(out[p.Off:], blobs[i])
	}
	return out
}
