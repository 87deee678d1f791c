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

package fdt

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/pkg/hostarch"
)

type prop struct {
	name  string
	value []byte
}

type node struct {
	name     string
	props    []prop
	children []node
}

func u32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
func u64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

func cat(bs ...[]byte) []byte {
	var out []byte
	for _, b := range bs {
		out = append(out, b...)
	}
	return out
}

// encode builds a version 17 blob for root.
func encode(root node) []byte {
	var structs, strs []byte
	offsets := map[string]uint32{}
	pad := func(b []byte) []byte {
		for len(b)%4 != 0 {
			b = append(b, 0)
		}
		return b
	}
	var emit func(n node)
	emit = func(n node) {
		structs = binary.BigEndian.AppendUint32(structs, 1)
		structs = pad(append(append(structs, n.name...), 0))
		for _, p := range n.props {
			off, ok := offsets[p.name]
			if !ok {
				off = uint32(len(strs))
				offsets[p.name] = off
				strs = append(append(strs, p.name...), 0)
			}
			structs = binary.BigEndian.AppendUint32(structs, 3)
			structs = binary.BigEndian.AppendUint32(structs, uint32(len(p.value)))
			structs = binary.BigEndian.AppendUint32(structs, off)
			structs = pad(append(structs, p.value...))
		}
		for _, c := range n.children {
			emit(c)
		}
		structs = binary.BigEndian.AppendUint32(structs, 2)
	}
	emit(root)
	structs = binary.BigEndian.AppendUint32(structs, 9)

	const headerSize = 40
	rsvOff := uint32(headerSize)
	rsv := make([]byte, 16)
	structOff := rsvOff + uint32(len(rsv))
	stringsOff := structOff + uint32(len(structs))
	total := stringsOff + uint32(len(strs))

	var out []byte
	for _, v := range []uint32{0xd00dfeed, total, structOff, stringsOff, rsvOff, 17, 16, 0, uint32(len(strs)), uint32(len(structs))} {
		out = binary.BigEndian.AppendUint32(out, v)
	}
	return cat(out, rsv, structs, strs)
}

func virtTree() node {
	return node{
		props: []prop{
			{"#address-cells", u32(2)},
			{"#size-cells", u32(2)},
			{"compatible", []byte("linux,dummy-virt\x00")},
		},
		children: []node{
			{name: "pl011@9000000", props: []prop{{"reg", cat(u64(0x9000000), u64(0x1000))}}},
			{name: "memory@40000000", props: []prop{
				{"device_type", []byte("memory\x00")},
				{"reg", cat(u64(0x40000000), u64(0x8000000))},
			}},
			{name: "chosen", props: []prop{
				{"bootargs", []byte("console=ttyAMA0\x00")},
				{"rng-seed", []byte{1, 2, 3, 4, 5, 6, 7, 8}},
				{"linux,initrd-start", u64(0x48000000)},
				{"linux,initrd-end", u64(0x48010000)},
			}},
		},
	}
}

func TestParse(t *testing.T) {
	got, err := Parse(encode(virtTree()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := &Info{
		Memory:   hostarch.AddrRange{Start: 0x40000000, End: 0x48000000},
		Initrd:   hostarch.AddrRange{Start: 0x48000000, End: 0x48010000},
		Bootargs: "console=ttyAMA0",
		RNGSeed:  []byte{1, 2, 3, 4, 5, 6, 7, 8},
		UART:     0x9000000,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOneCellInitrd(t *testing.T) {
	tree := virtTree()
	tree.children[2].props[2].value = u32(0x48000000)
	tree.children[2].props[3].value = u32(0x48001000)
	got, err := Parse(encode(tree))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if want := (hostarch.AddrRange{Start: 0x48000000, End: 0x48001000}); got.Initrd != want {
		t.Errorf("Initrd = %v, want %v", got.Initrd, want)
	}
}

func TestParseErrors(t *testing.T) {
	backwards := virtTree()
	backwards.children[2].props[2].value = u64(0x48010000)
	backwards.children[2].props[3].value = u64(0x48000000)

	short := virtTree()
	short.children[1].props[1].value = u64(0x40000000)

	for name, blob := range map[string][]byte{
		"bad magic":       make([]byte, 64),
		"initrd reversed": encode(backwards),
		"short reg":       encode(short),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(blob); err == nil {
				t.Errorf("Parse succeeded, want error")
			}
		})
	}
}
