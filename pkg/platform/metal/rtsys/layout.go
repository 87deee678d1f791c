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

package rtsys

// Physical placement of the metal kernel on the QEMU virt board. QEMU puts
// the device tree at the start of RAM, so the image is loaded 2 MiB in. The
// runtime's frames follow at a fixed address that the image must end below.
const (
	ImageStart = 0x4020_0000
	PoolStart  = 0x5000_0000
	PoolEnd    = 0x6000_0000
)
