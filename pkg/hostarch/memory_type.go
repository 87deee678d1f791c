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

package hostarch

import "fmt"

// MemoryType specifies the architectural memory type of a mapping.
type MemoryType uint8

const (
	// MemoryTypeNormal is Normal write-back cacheable memory. It is the
	// type of all RAM mappings and must be the zero value.
	MemoryTypeNormal MemoryType = iota

	// MemoryTypeNormalUncached is Normal non-cacheable memory.
	MemoryTypeNormalUncached

	// MemoryTypeDevice is Device-nGnRnE memory, used for MMIO registers.
	// Mappings of this type are never executable.
	MemoryTypeDevice

	// NumMemoryTypes is the number of memory types.
	NumMemoryTypes
)

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	switch mt {
	case MemoryTypeNormal:
		return "Normal"
	case MemoryTypeNormalUncached:
		return "NormalUncached"
	case MemoryTypeDevice:
		return "Device"
	default:
		return fmt.Sprintf("%d", mt)
	}
}

// ShortString returns a two-character string compactly representing the
// MemoryType.
func (mt MemoryType) ShortString() string {
	switch mt {
	case MemoryTypeNormal:
		return "WB"
	case MemoryTypeNormalUncached:
		return "NC"
	case MemoryTypeDevice:
		return "DV"
	default:
		return fmt.Sprintf("%02d", mt)
	}
}
