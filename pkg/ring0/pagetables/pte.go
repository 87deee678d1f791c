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

	"kestrel.dev/kestrel/pkg/hostarch"
)

// Translation regime: 4K granule, 48-bit virtual addresses, four levels.
const (
	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	entriesPerPage = 512
	levels         = 4

	// lowerTop is the last address translated through TTBR0.
	lowerTop = 0x0000_ffff_ffff_ffff

	// upperBottom is the first address translated through TTBR1.
	upperBottom = 0xffff_0000_0000_0000

	// upperTop bounds kernel mappings. The last page is never mapped so that
	// range ends do not wrap.
	upperTop = 0xffff_ffff_ffff_f000
)

// Descriptor bits.
const (
	valid        = 1 << 0
	tableOrPage  = 1 << 1
	attrIdxShift = 2
	attrIdxMask  = 7 << attrIdxShift
	apEL0        = 1 << 6 // AP[1]: accessible from EL0.
	apReadOnly   = 1 << 7 // AP[2]: read-only.
	shInner      = 3 << 8
	accessed     = 1 << 10
	notGlobal    = 1 << 11
	pxn          = 1 << 53
	uxn          = 1 << 54

	addrMask = 0x0000_ffff_ffff_f000
)

// MAIR attribute indices.
const (
	attrDevice   = 0 // Device-nGnRnE.
	attrNormal   = 1 // Normal, write-back non-transient.
	attrNormalNC = 2 // Normal, non-cacheable.
)

// MAIRValue is the MAIR_EL1 programming matching the attribute indices.
const MAIRValue = 0x00<<(8*attrDevice) | 0xff<<(8*attrNormal) | 0x44<<(8*attrNormalNC)

// TCRValue is the TCR_EL1 programming: 48-bit regions in both halves, 4K
// granules, write-back inner-shareable walks and a 48-bit physical space.
const TCRValue = (64-48)<<0 | // T0SZ
	1<<8 | // IRGN0
	1<<10 | // ORGN0
	3<<12 | // SH0
	(64-48)<<16 | // T1SZ
	1<<24 | // IRGN1
	1<<26 | // ORGN1
	3<<28 | // SH1
	2<<30 | // TG1: 4K
	5<<32 // IPS

// Block descriptors for the 1 GiB mappings installed before any table is
// built by this package: kernel memory executable at EL1, and devices.
const (
	KernelBlock = valid | accessed | shInner | attrNormal<<attrIdxShift | uxn
	DeviceBlock = valid | accessed | attrDevice<<attrIdxShift | pxn | uxn

	// BlockShift is the size of a level 1 block.
	BlockShift = pudShift
)

// MapOpts are the options of a leaf mapping.
type MapOpts struct {
	// AccessType defines permissions.
	AccessType hostarch.AccessType

	// User indicates the page is accessible from EL0.
	User bool

	// Global indicates the mapping is shared by all address spaces.
	Global bool

	// MemoryType is the memory type.
	MemoryType hostarch.MemoryType
}

// String implements fmt.Stringer.String.
func (o MapOpts) String() string {
	who := "kernel"
	if o.User {
		who = "user"
	}
	return fmt.Sprintf("%s %s %s", o.AccessType, who, o.MemoryType.ShortString())
}

// PTE is a translation table descriptor.
type PTE uint64

// PTEs is one translation table.
type PTEs [entriesPerPage]PTE

// Valid returns true iff this entry is valid.
func (p PTE) Valid() bool {
	return p&valid != 0
}

// IsTable returns true iff this entry, above the last level, points to a
// next-level table.
func (p PTE) IsTable() bool {
	return p&(valid|tableOrPage) == valid|tableOrPage
}

// Address extracts the output address.
func (p PTE) Address() hostarch.Addr {
	return hostarch.Addr(p & addrMask)
}

// Opts returns the options of a leaf entry, or the zero value for an invalid
// entry.
func (p PTE) Opts() MapOpts {
	if !p.Valid() {
		return MapOpts{}
	}
	opts := MapOpts{
		AccessType: hostarch.AccessType{
			Read:  true,
			Write: p&apReadOnly == 0,
		},
		User:   p&apEL0 != 0,
		Global: p&notGlobal == 0,
	}
	if opts.User {
		opts.AccessType.Execute = p&uxn == 0
	} else {
		opts.AccessType.Execute = p&pxn == 0
	}
	switch (p & attrIdxMask) >> attrIdxShift {
	case attrDevice:
		opts.MemoryType = hostarch.MemoryTypeDevice
	case attrNormalNC:
		opts.MemoryType = hostarch.MemoryTypeNormalUncached
	default:
		opts.MemoryType = hostarch.MemoryTypeNormal
	}
	return opts
}

// Permits returns true if a leaf entry allows the access from the given
// exception level.
func (p PTE) Permits(at hostarch.AccessType, el0 bool) bool {
	switch {
	case !p.Valid():
		return false
	case el0 && p&apEL0 == 0:
		return false
	case at.Write && p&apReadOnly != 0:
		return false
	case at.Execute && el0 && p&uxn != 0:
		return false
	case at.Execute && !el0 && p&pxn != 0:
		return false
	}
	return true
}

// Set sets this leaf entry to map addr with opts.
//
// A user mapping with no access leaves the frame mapped for the kernel only,
// so that user accesses take a permission fault while the contents survive.
func (p *PTE) Set(addr hostarch.Addr, opts MapOpts) {
	v := PTE(addr)&addrMask | valid | tableOrPage | accessed
	user := opts.User && opts.AccessType.Any()
	switch {
	case user && opts.AccessType.Write:
		v |= apEL0
	case user:
		v |= apEL0 | apReadOnly
	case opts.AccessType.Any() && !opts.AccessType.Write:
		v |= apReadOnly
	}
	if !opts.Global {
		v |= notGlobal
	}
	switch opts.MemoryType {
	case hostarch.MemoryTypeDevice:
		v |= attrDevice<<attrIdxShift | pxn | uxn
	case hostarch.MemoryTypeNormalUncached:
		v |= attrNormalNC<<attrIdxShift | shInner
	default:
		v |= attrNormal<<attrIdxShift | shInner
	}
	if opts.MemoryType != hostarch.MemoryTypeDevice {
		switch {
		case user:
			// The kernel never executes user pages.
			v |= pxn
			if !opts.AccessType.Execute {
				v |= uxn
			}
		case opts.AccessType.Execute:
			v |= uxn
		default:
			v |= uxn | pxn
		}
	}
	*p = v
}

// Clear clears this entry.
func (p *PTE) Clear() {
	*p = 0
}

// SetTable makes this entry a table descriptor.
func (p *PTE) SetTable(physical hostarch.Addr) {
	*p = PTE(physical)&addrMask | valid | tableOrPage
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	if !p.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%#x %s", uintptr(p.Address()), p.Opts())
}

// empty returns true iff no entry in the table is valid.
func (t *PTEs) empty() bool {
	for _, e := range t {
		if e.Valid() {
			return false
		}
	}
	return true
}

// levelShift returns the shift of the region covered by one entry at the
// given level.
func levelShift(level int) uint {
	return pgdShift - 9*uint(level)
}

// index returns the table index of addr at the given level.
func index(addr hostarch.Addr, level int) int {
	return int((uint64(addr) >> levelShift(level)) & (entriesPerPage - 1))
}
