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
	"fmt"

	"kestrel.dev/kestrel/pkg/binary"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/physmem"
)

// TranslationFault is returned by Translate when the walk reaches an invalid
// descriptor.
type TranslationFault struct {
	// Addr is the faulting virtual address.
	Addr hostarch.Addr

	// Level is the level of the invalid descriptor.
	Level int
}

// Error implements error.Error.
func (f *TranslationFault) Error() string {
	return fmt.Sprintf("translation fault at level %d for %v", f.Level, f.Addr)
}

// Translate walks the tables rooted at the physical address root the way the
// MMU does, reading descriptors from mem. It returns the physical address of
// addr and the leaf descriptor that maps it.
//
// Translate does not consult any Allocator: it sees exactly what the
// hardware would.
func Translate(mem physmem.Memory, root hostarch.Addr, addr hostarch.Addr) (hostarch.Addr, PTE, error) {
	if !Lower.Bounds().Contains(addr) && !Upper.Bounds().Contains(addr) {
		return 0, 0, &TranslationFault{Addr: addr, Level: 0}
	}
	table := root
	for level := 0; level < levels; level++ {
		b, err := mem.Slice(table+hostarch.Addr(index(addr, level)*8), 8)
		if err != nil {
			return 0, 0, fmt.Errorf("walking %v: %w", addr, err)
		}
		entry := PTE(binary.LittleEndian.Uint64(b))
		if !entry.IsTable() {
			// Block descriptors are never installed, so anything that is
			// not a table or page descriptor is invalid at every level.
			return 0, 0, &TranslationFault{Addr: addr, Level: level}
		}
		if level == levels-1 {
			return entry.Address() + hostarch.Addr(addr.PageOffset()), entry, nil
		}
		table = entry.Address()
	}
	panic("unreachable")
}
