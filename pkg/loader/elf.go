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
	"debug/elf"
	"fmt"
	"io"
	"slices"

	"kestrel.dev/kestrel/pkg/binary"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/log"
)

const (
	// PIEBase is the load address of the first segment of a static PIE,
	// matching ELF_ET_DYN_BASE on arm64.
	PIEBase hostarch.Addr = 0xaaaa_aaaa_a000

	// maxPhdrs bounds the number of program headers accepted.
	maxPhdrs = 512
)

// Segment is one PT_LOAD segment after relocation.
type Segment struct {
	// Addr is the segment's virtual address.
	Addr hostarch.Addr

	// Offset is the file offset of the segment's contents.
	Offset uint64

	// FileSize is the number of bytes copied from the file.
	FileSize uint64

	// MemSize is the size in memory. Bytes beyond FileSize are zero.
	MemSize uint64

	// Perms are the permissions from p_flags.
	Perms hostarch.AccessType
}

// End returns one past the last byte of the segment in memory.
func (s Segment) End() hostarch.Addr {
	return s.Addr + hostarch.Addr(s.MemSize)
}

// String implements fmt.Stringer.String.
func (s Segment) String() string {
	return fmt.Sprintf("%v-%v %s off=%#x filesz=%#x", s.Addr, s.End(), s.Perms, s.Offset, s.FileSize)
}

// Mapping is a page aligned run of memory established for an image. Pages
// shared by two segments carry the union of their permissions.
type Mapping struct {
	Range hostarch.AddrRange
	Perms hostarch.AccessType
}

// Image describes a validated ELF executable and how it is placed in memory.
type Image struct {
	// Type is ET_EXEC or ET_DYN.
	Type elf.Type

	// Bias is added to every address in the file. It is zero for ET_EXEC.
	Bias hostarch.Addr

	// Entry is the relocated entry point.
	Entry hostarch.Addr

	// Phdr is the address of the program headers in memory, or zero if no
	// segment contains them.
	Phdr hostarch.Addr

	// PhEnt and PhNum describe the program header table.
	PhEnt uint16
	PhNum uint16

	// Segments are the PT_LOAD segments, in file order.
	Segments []Segment

	// Mappings are the page runs covering Segments, in address order.
	Mappings []Mapping

	// End is the page rounded end of the highest segment.
	End hostarch.Addr
}

// Bounds limits where segments may be placed.
type Bounds struct {
	// Min is the lowest address a segment may use.
	Min hostarch.Addr

	// Max is one past the highest address a segment may use.
	Max hostarch.Addr
}

// Parse validates the ELF executable in r, of the given size, and plans its
// placement within bounds.
//
// Images that are not aarch64 little-endian ELF64 executables, or that
// request an interpreter, fail with ErrInvalidImage. Segments outside bounds
// fail with ErrUnsupportedSegment.
func Parse(r io.ReaderAt, size int64, bounds Bounds) (*Image, error) {
	var hdr elf.Header64
	hdrBuf := make([]byte, binary.Size(&hdr))
	if _, err := r.ReadAt(hdrBuf, 0); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrInvalidImage, err)
	}
	if string(hdrBuf[:elf.EI_CLASS]) != elf.ELFMAG {
		return nil, fmt.Errorf("%w: bad magic %x", ErrInvalidImage, hdrBuf[:elf.EI_CLASS])
	}
	if elf.Class(hdrBuf[elf.EI_CLASS]) != elf.ELFCLASS64 {
		return nil, fmt.Errorf("%w: class %v", ErrInvalidImage, elf.Class(hdrBuf[elf.EI_CLASS]))
	}
	if elf.Data(hdrBuf[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%w: byte order %v", ErrInvalidImage, elf.Data(hdrBuf[elf.EI_DATA]))
	}
	binary.Unmarshal(hdrBuf, &hdr)

	f, err := elf.NewFile(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if f.Machine != elf.EM_AARCH64 {
		return nil, fmt.Errorf("%w: machine %v", ErrInvalidImage, f.Machine)
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, fmt.Errorf("%w: type %v", ErrInvalidImage, f.Type)
	}
	if len(f.Progs) == 0 || len(f.Progs) > maxPhdrs {
		return nil, fmt.Errorf("%w: %d program headers", ErrInvalidImage, len(f.Progs))
	}

	img := &Image{
		Type:  f.Type,
		PhEnt: hdr.Phentsize,
		PhNum: hdr.Phnum,
	}
	var loads []*elf.Prog
	var phdrSeg *elf.Prog
	for _, p := range f.Progs {
		switch p.Type {
		case elf.PT_INTERP:
			return nil, fmt.Errorf("%w: dynamically linked (PT_INTERP)", ErrInvalidImage)
		case elf.PT_PHDR:
			phdrSeg = p
		case elf.PT_LOAD:
			if p.Memsz == 0 {
				continue
			}
			if p.Filesz > p.Memsz {
				return nil, fmt.Errorf("%w: segment filesz %#x > memsz %#x", ErrInvalidImage, p.Filesz, p.Memsz)
			}
			if end := p.Off + p.Filesz; end < p.Off || end > uint64(size) {
				return nil, fmt.Errorf("%w: segment contents [%#x, %#x) beyond file size %#x", ErrInvalidImage, p.Off, end, size)
			}
			loads = append(loads, p)
		}
	}
	if len(loads) == 0 {
		return nil, fmt.Errorf("%w: no loadable segments", ErrInvalidImage)
	}

	if f.Type == elf.ET_DYN {
		img.Bias = PIEBase - hostarch.Addr(loads[0].Vaddr).RoundDown()
	}

	for _, p := range loads {
		addr := hostarch.Addr(p.Vaddr) + img.Bias
		end, ok := addr.AddLength(p.Memsz)
		if !ok || addr < bounds.Min || end > bounds.Max {
			return nil, fmt.Errorf("%w: [%#x, %#x) outside [%v, %v)", ErrUnsupportedSegment, p.Vaddr, p.Vaddr+p.Memsz, bounds.Min, bounds.Max)
		}
		seg := Segment{
			Addr:     addr,
			Offset:   p.Off,
			FileSize: p.Filesz,
			MemSize:  p.Memsz,
			Perms: hostarch.AccessType{
				Read:    p.Flags&elf.PF_R != 0,
				Write:   p.Flags&elf.PF_W != 0,
				Execute: p.Flags&elf.PF_X != 0,
			},
		}
		img.Segments = append(img.Segments, seg)

		if pageEnd := end.MustRoundUp(); pageEnd > img.End {
			img.End = pageEnd
		}

		// Without PT_PHDR, the headers are found through the segment
		// that maps them.
		if phdrSeg == nil && img.Phdr == 0 && hdr.Phoff >= p.Off && hdr.Phoff < p.Off+p.Filesz {
			img.Phdr = addr + hostarch.Addr(hdr.Phoff-p.Off)
		}
	}
	if phdrSeg != nil {
		img.Phdr = hostarch.Addr(phdrSeg.Vaddr) + img.Bias
	}
	img.Entry = hostarch.Addr(f.Entry) + img.Bias
	img.Mappings = planMappings(img.Segments)

	log.Debugf("ELF %v: entry %v, %d segments, end %v", img.Type, img.Entry, len(img.Segments), img.End)
	return img, nil
}

// planMappings assigns every page touched by segs the union of the
// permissions of the segments touching it, and coalesces adjacent pages with
// equal permissions.
func planMappings(segs []Segment) []Mapping {
	pages := make(map[hostarch.Addr]hostarch.AccessType)
	var order []hostarch.Addr
	for _, s := range segs {
		for page := s.Addr.RoundDown(); page < s.End(); page += hostarch.PageSize {
			perms, ok := pages[page]
			if !ok {
				order = append(order, page)
			}
			pages[page] = perms.Union(s.Perms)
		}
	}
	slices.Sort(order)

	var ms []Mapping
	for _, page := range order {
		perms := pages[page]
		if n := len(ms); n > 0 && ms[n-1].Range.End == page && ms[n-1].Perms == perms {
			ms[n-1].Range.End += hostarch.PageSize
			continue
		}
		ms = append(ms, Mapping{
			Range: hostarch.AddrRange{Start: page, End: page + hostarch.PageSize},
			Perms: perms,
		})
	}
	return ms
}
