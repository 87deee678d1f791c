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
	"unsafe"

	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/physmem"
)

// Allocator is used to allocate and map translation tables.
type Allocator interface {
	// NewPTEs returns a new, zeroed table and its physical address.
	NewPTEs() (*PTEs, hostarch.Addr, error)

	// LookupPTEs looks up the table at the given physical address.
	LookupPTEs(physical hostarch.Addr) *PTEs

	// FreePTEs releases the table at the given physical address.
	FreePTEs(physical hostarch.Addr)
}

// Frames is a source of physical frames.
type Frames interface {
	Allocate() (hostarch.Addr, error)
	Free(hostarch.Addr)
	Memory() physmem.Memory
}

// FrameAllocator places tables in frames taken from a frame allocator, so the
// hardware walker sees the same memory the kernel edits.
type FrameAllocator struct {
	frames Frames

	// allNodes is a set of tables indexed by physical address.
	allNodes map[hostarch.Addr]*PTEs
}

// NewFrameAllocator returns an allocator backed by frames.
func NewFrameAllocator(frames Frames) *FrameAllocator {
	return &FrameAllocator{
		frames:   frames,
		allNodes: make(map[hostarch.Addr]*PTEs),
	}
}

// NewPTEs implements Allocator.NewPTEs.
func (a *FrameAllocator) NewPTEs() (*PTEs, hostarch.Addr, error) {
	physical, err := a.frames.Allocate()
	if err != nil {
		return nil, 0, err
	}
	b, err := a.frames.Memory().Slice(physical, hostarch.PageSize)
	if err != nil {
		a.frames.Free(physical)
		return nil, 0, err
	}
	ptes := (*PTEs)(unsafe.Pointer(&b[0]))
	a.allNodes[physical] = ptes
	return ptes, physical, nil
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *FrameAllocator) LookupPTEs(physical hostarch.Addr) *PTEs {
	ptes, ok := a.allNodes[physical]
	if !ok {
		panic(fmt.Sprintf("no table at physical address %v", physical))
	}
	return ptes
}

// FreePTEs implements Allocator.FreePTEs.
func (a *FrameAllocator) FreePTEs(physical hostarch.Addr) {
	if _, ok := a.allNodes[physical]; !ok {
		panic(fmt.Sprintf("freeing unknown table at %v", physical))
	}
	delete(a.allNodes, physical)
	a.frames.Free(physical)
}

// NumTables returns the number of live tables.
func (a *FrameAllocator) NumTables() int {
	return len(a.allNodes)
}
