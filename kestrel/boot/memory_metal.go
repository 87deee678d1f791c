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

//go:build kestrel_metal

package boot

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/physmem"
)

// newMemory returns RAM through the kernel's linear map.
func newMemory(ram hostarch.AddrRange) (physmem.Memory, error) {
	return physmem.NewLinear(ram.Start, ram.Length()), nil
}

// firmwareInitrd copies the archive the firmware placed in RAM.
func firmwareInitrd(mem physmem.Memory, r hostarch.AddrRange) ([]byte, error) {
	b, err := mem.Slice(r.Start, r.Length())
	if err != nil {
		return nil, fmt.Errorf("device tree initrd %v: %w", r, err)
	}
	return append([]byte(nil), b...), nil
}
