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

// Package fdt extracts the boot parameters the kernel needs from the
// flattened device tree the firmware passes in X0.
package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/u-root/u-root/pkg/dt"
	"kestrel.dev/kestrel/pkg/hostarch"
)

// Info is what the kernel takes from the device tree. Zero fields were not
// present.
type Info struct {
	// Memory is the first RAM bank.
	Memory hostarch.AddrRange

	// Initrd is the initial ramdisk loaded by the firmware.
	Initrd hostarch.AddrRange

	// Bootargs is /chosen/bootargs.
	Bootargs string

	// RNGSeed is /chosen/rng-seed.
	RNGSeed []byte

	// UART is the base of the first PL011.
	UART hostarch.Addr
}

// Parse reads a device tree blob.
func Parse(blob []byte) (*Info, error) {
	tree, err := dt.ReadFDT(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("reading device tree: %w", err)
	}
	if tree.RootNode == nil {
		return nil, fmt.Errorf("device tree has no root node")
	}
	root := tree.RootNode
	addrCells, sizeCells := cells(root)

	info := &Info{}
	for _, n := range root.Children {
		name, _, _ := strings.Cut(n.Name, "@")
		switch {
		case name == "memory" && info.Memory.Length() == 0:
			if reg, ok := property(n, "reg"); ok {
				start, size, err := firstRegion(reg, addrCells, sizeCells)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", n.Name, err)
				}
				info.Memory = hostarch.AddrRange{Start: hostarch.Addr(start), End: hostarch.Addr(start + size)}
			}
		case name == "chosen":
			if err := parseChosen(n, info); err != nil {
				return nil, err
			}
		case name == "pl011" && info.UART == 0:
			if reg, ok := property(n, "reg"); ok {
				start, _, err := firstRegion(reg, addrCells, sizeCells)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", n.Name, err)
				}
				info.UART = hostarch.Addr(start)
			}
		}
	}
	return info, nil
}

func parseChosen(n *dt.Node, info *Info) error {
	if v, ok := property(n, "bootargs"); ok {
		info.Bootargs = strings.TrimRight(string(v), "\x00")
	}
	if v, ok := property(n, "rng-seed"); ok {
		info.RNGSeed = append([]byte(nil), v...)
	}
	start, okStart := property(n, "linux,initrd-start")
	end, okEnd := property(n, "linux,initrd-end")
	if okStart && okEnd {
		s, err := cellValue(start)
		if err != nil {
			return fmt.Errorf("linux,initrd-start: %w", err)
		}
		e, err := cellValue(end)
		if err != nil {
			return fmt.Errorf("linux,initrd-end: %w", err)
		}
		if e < s {
			return fmt.Errorf("initrd end %#x before start %#x", e, s)
		}
		info.Initrd = hostarch.AddrRange{Start: hostarch.Addr(s), End: hostarch.Addr(e)}
	}
	return nil
}

func property(n *dt.Node, name string) ([]byte, bool) {
	for _, p := range n.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// cells returns #address-cells and #size-cells of n, defaulting to the
// devicetree defaults of 2 and 1.
func cells(n *dt.Node) (addr, size int) {
	addr, size = 2, 1
	if v, ok := property(n, "#address-cells"); ok && len(v) == 4 {
		addr = int(binary.BigEndian.Uint32(v))
	}
	if v, ok := property(n, "#size-cells"); ok && len(v) == 4 {
		size = int(binary.BigEndian.Uint32(v))
	}
	return addr, size
}

// cellValue decodes a one or two cell big-endian value.
func cellValue(v []byte) (uint64, error) {
	switch len(v) {
	case 4:
		return uint64(binary.BigEndian.Uint32(v)), nil
	case 8:
		return binary.BigEndian.Uint64(v), nil
	default:
		return 0, fmt.Errorf("%d byte value is neither one nor two cells", len(v))
	}
}

func firstRegion(reg []byte, addrCells, sizeCells int) (start, size uint64, err error) {
	if addrCells < 1 || addrCells > 2 || sizeCells < 1 || sizeCells > 2 {
		return 0, 0, fmt.Errorf("unsupported cell sizes %d/%d", addrCells, sizeCells)
	}
	a, s := 4*addrCells, 4*sizeCells
	if len(reg) < a+s {
		return 0, 0, fmt.Errorf("reg of %d bytes is too short", len(reg))
	}
	if start, err = cellValue(reg[:a]); err != nil {
		return 0, 0, err
	}
	if size, err = cellValue(reg[a : a+s]); err != nil {
		return 0, 0, err
	}
	return start, size, nil
}
