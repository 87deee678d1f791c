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

// Package bitmap provides a fixed-size bitmap used to track page frames.
package bitmap

import (
	"fmt"
	"math/bits"
)

// Bitmap is a fixed-size set of small integers.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// bitBlock holds the bits. bit i lives in bitBlock[i/64] at position
	// i%64.
	bitBlock []uint64

	// size is the number of valid bits.
	size uint32
}

// New creates a new empty Bitmap holding size bits.
func New(size uint32) Bitmap {
	return Bitmap{
		bitBlock: make([]uint64, (size+63)/64),
		size:     size,
	}
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// Size returns the total number of bits in the bitmap.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// Contains returns true if i is set.
func (b *Bitmap) Contains(i uint32) bool {
	if i >= b.size {
		return false
	}
	return b.bitBlock[i/64]&(1<<(i%64)) != 0
}

// Add sets bit i. It panics if i is out of range.
func (b *Bitmap) Add(i uint32) {
	b.check(i)
	mask := uint64(1) << (i % 64)
	if b.bitBlock[i/64]&mask == 0 {
		b.bitBlock[i/64] |= mask
		b.numOnes++
	}
}

// Remove clears bit i. It panics if i is out of range.
func (b *Bitmap) Remove(i uint32) {
	b.check(i)
	mask := uint64(1) << (i % 64)
	if b.bitBlock[i/64]&mask != 0 {
		b.bitBlock[i/64] &^= mask
		b.numOnes--
	}
}

// FirstOne returns the first set bit in [start, size).
func (b *Bitmap) FirstOne(start uint32) (uint32, error) {
	for i := start / 64; i < uint32(len(b.bitBlock)); i++ {
		w := b.bitBlock[i]
		if i == start/64 {
			w &^= (uint64(1) << (start % 64)) - 1
		}
		if w != 0 {
			bit := i*64 + uint32(bits.TrailingZeros64(w))
			if bit < b.size {
				return bit, nil
			}
		}
	}
	return 0, fmt.Errorf("bitmap: no set bit at or after %d", start)
}

// ToSlice returns the set bits in increasing order.
func (b *Bitmap) ToSlice() []uint32 {
	out := make([]uint32, 0, b.numOnes)
	for i, w := range b.bitBlock {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			out = append(out, uint32(i)*64+uint32(tz))
			w &^= 1 << tz
		}
	}
	return out
}

// GetNumOnes returns the number of ones in the Bitmap.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}

func (b *Bitmap) check(i uint32) {
	if i >= b.size {
		panic(fmt.Sprintf("bitmap: bit %d out of range [0, %d)", i, b.size))
	}
}
