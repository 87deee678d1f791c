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

//go:build !kestrel_metal

package boot

import (
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/physmem"
)

// newMemory allocates the RAM bank in the host process.
func newMemory(ram hostarch.AddrRange) (physmem.Memory, error) {
	return physmem.NewRAM(ram.Start, ram.Length())
}

// firmwareInitrd is empty on hosted platforms: no firmware loaded anything
// into the freshly allocated RAM.
func firmwareInitrd(_ physmem.Memory, r hostarch.AddrRange) ([]byte, error) {
	log.Warningf("Ignoring device tree initrd %v: RAM is not firmware loaded", r)
	return nil, nil
}
