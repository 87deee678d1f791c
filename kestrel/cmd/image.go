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

package cmd

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"kestrel.dev/kestrel/pkg/mm"
	"kestrel.dev/kestrel/pkg/platform/metal/rtsys"
)

// Offsets in the ELF64 file and program headers.
const (
	elfEntryOff     = 24
	elfPhoffOff     = 32
	elfPhentsizeOff = 54
	progPaddrOff    = 24
)

// Image implements subcommands.Command for the "image" command.
type Image struct{}

// Name implements subcommands.Command.Name.
func (*Image) Name() string {
	return "image"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Image) Synopsis() string {
	return "prepare a metal kernel build for loading by QEMU"
}

// Usage implements subcommands.Command.Usage.
func (*Image) Usage() string {
	return `image <in> <out> - rewrites a metal kernel to load at physical addresses.

The kernel is linked in its own linear map:

  GOOS=linux GOARCH=arm64 go build -tags kestrel_metal \
      -ldflags='-E _kestrel_start -T -0xffffbfdff000' -o kestrel.elf ./kestrel

QEMU loads ELF segments at their physical addresses and jumps to the entry
point with the MMU off. The physical address of every loadable segment and
the entry point are translated out of the linear map, and the segments are
checked to lie below the runtime's frame pool. Run the result with:

  qemu-system-aarch64 -M virt -cpu max -nographic -kernel kestrel.img
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Image) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Image) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	data, err := os.ReadFile(f.Arg(0))
	if err != nil {
		return Errorf("Error reading kernel: %v", err)
	}
	entry, err := relocateKernel(data)
	if err != nil {
		return Errorf("%s: %v", f.Arg(0), err)
	}
	if err := os.WriteFile(f.Arg(1), data, 0o755); err != nil {
		return Errorf("Error writing image: %v", err)
	}
	fmt.Fprintf(os.Stdout, "%s: entry %#x\n", f.Arg(1), entry)
	return subcommands.ExitSuccess
}

// relocateKernel rewrites data in place so that the segments of a kernel
// linked at KernelBase+PA load at PA. It returns the physical entry point.
func relocateKernel(data []byte) (uint64, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB || f.Machine != elf.EM_AARCH64 {
		return 0, fmt.Errorf("not a little-endian aarch64 ELF64 file")
	}
	base := uint64(mm.KernelBase)
	toPhysical := func(va, size uint64) (uint64, bool) {
		if va < base {
			return 0, false
		}
		pa := va - base
		return pa, pa >= rtsys.ImageStart && pa+size <= rtsys.PoolStart && pa+size >= pa
	}

	entry, ok := toPhysical(f.Entry, 4)
	if !ok {
		return 0, fmt.Errorf("entry point %#x is not in [%#x, %#x) of the linear map; link with -E _kestrel_start and -T", f.Entry, base+rtsys.ImageStart, base+rtsys.PoolStart)
	}
	phoff := binary.LittleEndian.Uint64(data[elfPhoffOff:])
	phentsize := uint64(binary.LittleEndian.Uint16(data[elfPhentsizeOff:]))
	loads := 0
	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		pa, ok := toPhysical(p.Vaddr, p.Memsz)
		if !ok {
			return 0, fmt.Errorf("segment %d at %#x-%#x does not fit in [%#x, %#x) of the linear map", i, p.Vaddr, p.Vaddr+p.Memsz, base+rtsys.ImageStart, base+rtsys.PoolStart)
		}
		binary.LittleEndian.PutUint64(data[phoff+uint64(i)*phentsize+progPaddrOff:], pa)
		loads++
	}
	if loads == 0 {
		return 0, fmt.Errorf("no loadable segments")
	}
	binary.LittleEndian.PutUint64(data[elfEntryOff:], entry)
	return entry, nil
}
