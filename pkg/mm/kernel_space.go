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

package mm

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/ring0"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// KernelBase is the virtual address of physical address zero in the kernel's
// linear map.
const KernelBase = ring0.KernelStartAddress

// DeviceRegion is an MMIO window mapped into the kernel space.
type DeviceRegion struct {
	Name string
	Base hostarch.Addr
	Size uint64
}

// KernelSpace is the kernel's half of the translation regime. It is built
// once at boot and never unmapped.
type KernelSpace struct {
	pt      *pagetables.PageTables
	ram     hostarch.AddrRange
	devices []DeviceRegion
}

// NewKernelSpace maps RAM at KernelBase+PA and every device region at
// KernelBase+Base. Pages of image are executable; the rest of RAM is not.
// No page is accessible from user code.
func NewKernelSpace(a pagetables.Allocator, ram, image hostarch.AddrRange, devices []DeviceRegion) (*KernelSpace, error) {
	pt, err := pagetables.New(a, pagetables.Upper, 0)
	if err != nil {
		return nil, err
	}
	k := &KernelSpace{pt: pt, ram: ram, devices: devices}

	image = image.Intersect(ram)
	image.Start = image.Start.RoundDown()
	image.End = image.End.MustRoundUp()
	data := pagetables.MapOpts{AccessType: hostarch.ReadWrite, Global: true}
	text := pagetables.MapOpts{AccessType: hostarch.AnyAccess, Global: true}
	for _, r := range []struct {
		ar   hostarch.AddrRange
		opts pagetables.MapOpts
	}{
		{hostarch.AddrRange{Start: ram.Start, End: image.Start}, data},
		{image, text},
		{hostarch.AddrRange{Start: image.End, End: ram.End}, data},
	} {
		if r.ar.Length() == 0 {
			continue
		}
		if err := pt.Map(KernelBase+r.ar.Start, r.ar.Length(), r.ar.Start, r.opts); err != nil {
			return nil, fmt.Errorf("mapping RAM %v: %w", r.ar, err)
		}
	}

	for _, d := range devices {
		size, ok := hostarch.Addr(d.Size).RoundUp()
		if !ok || !d.Base.IsPageAligned() {
			return nil, fmt.Errorf("device %s at %v size %#x is not page aligned", d.Name, d.Base, d.Size)
		}
		opts := pagetables.MapOpts{AccessType: hostarch.ReadWrite, Global: true, MemoryType: hostarch.MemoryTypeDevice}
		if err := pt.Map(KernelBase+d.Base, uint64(size), d.Base, opts); err != nil {
			return nil, fmt.Errorf("mapping device %s: %w", d.Name, err)
		}
		log.Infof("Mapped device %s at %v", d.Name, KernelBase+d.Base)
	}
	return k, nil
}

// PageTables returns the kernel tables, installed in TTBR1.
func (k *KernelSpace) PageTables() *pagetables.PageTables {
	return k.pt
}

// VirtualFor returns the kernel virtual address of a physical address.
func (k *KernelSpace) VirtualFor(physical hostarch.Addr) hostarch.Addr {
	return KernelBase + physical
}

// Device returns the kernel virtual address of a mapped device.
func (k *KernelSpace) Device(name string) (hostarch.Addr, bool) {
	for _, d := range k.devices {
		if d.Name == name {
			return KernelBase + d.Base, true
		}
	}
	return 0, false
}
