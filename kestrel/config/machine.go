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

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/mm"
)

// Machine describes the board: where RAM and devices are, what the kernel
// image occupies, and how user address spaces are laid out.
type Machine struct {
	// Name is informational.
	Name string `toml:"name" yaml:"name"`

	// RAMBase and RAMSize bound the first RAM bank.
	RAMBase uint64 `toml:"ram_base" yaml:"ram_base"`
	RAMSize uint64 `toml:"ram_size" yaml:"ram_size"`

	// UARTBase is the physical address of the PL011.
	UARTBase uint64 `toml:"uart_base" yaml:"uart_base"`

	// GICDistBase is the physical address of the GIC distributor. The
	// kernel maps it as device memory but does not take interrupts.
	GICDistBase uint64 `toml:"gic_dist_base" yaml:"gic_dist_base"`

	// KernelEnd is the first physical address past the kernel image. Zero
	// means the image is not in RAM, as on the hosted platform.
	KernelEnd uint64 `toml:"kernel_end" yaml:"kernel_end"`

	// EarlyReserve is reserved after KernelEnd for boot page tables.
	EarlyReserve uint64 `toml:"early_reserve" yaml:"early_reserve"`

	// Layout places the regions of the user address space.
	Layout Layout `toml:"layout" yaml:"layout"`
}

// Layout is the TOML form of mm.Layout.
type Layout struct {
	MinUserAddress uint64 `toml:"min_user_address" yaml:"min_user_address"`
	UserTop        uint64 `toml:"user_top" yaml:"user_top"`
	StackTop       uint64 `toml:"stack_top" yaml:"stack_top"`
	StackSize      uint64 `toml:"stack_size" yaml:"stack_size"`
	StackInitial   uint64 `toml:"stack_initial" yaml:"stack_initial"`
	HeapCeiling    uint64 `toml:"heap_ceiling" yaml:"heap_ceiling"`
}

// QEMUVirt returns the profile of QEMU's "virt" board with 1GiB of RAM.
func QEMUVirt() Machine {
	l := mm.DefaultLayout
	return Machine{
		Name:         "qemu-virt",
		RAMBase:      0x4000_0000,
		RAMSize:      1 << 30,
		UARTBase:     0x0900_0000,
		GICDistBase:  0x0800_0000,
		EarlyReserve: 2 << 20,
		Layout: Layout{
			MinUserAddress: uint64(l.MinUserAddress),
			UserTop:        uint64(l.UserTop),
			StackTop:       uint64(l.StackTop),
			StackSize:      l.StackSize,
			StackInitial:   l.StackInitial,
			HeapCeiling:    l.HeapCeiling,
		},
	}
}

// LoadMachine reads a profile from path, which is YAML if its extension is
// .yaml or .yml and TOML otherwise. Keys the file leaves out keep their QEMU
// virt values; unknown keys are an error.
func LoadMachine(path string) (Machine, error) {
	m := QEMUVirt()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := decodeYAML(path, &m); err != nil {
			return Machine{}, fmt.Errorf("reading machine profile %q: %w", path, err)
		}
	default:
		md, err := toml.DecodeFile(path, &m)
		if err != nil {
			return Machine{}, fmt.Errorf("reading machine profile %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Machine{}, fmt.Errorf("machine profile %q: unknown keys %v", path, undecoded)
		}
	}
	if err := m.Validate(); err != nil {
		return Machine{}, fmt.Errorf("machine profile %q: %w", path, err)
	}
	return m, nil
}

func decodeYAML(path string, m *Machine) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	d := yaml.NewDecoder(f)
	d.KnownFields(true)
	return d.Decode(m)
}

// RAM returns the RAM bank.
func (m *Machine) RAM() hostarch.AddrRange {
	return hostarch.AddrRange{Start: hostarch.Addr(m.RAMBase), End: hostarch.Addr(m.RAMBase + m.RAMSize)}
}

// MMLayout returns the user layout in the form mm takes.
func (m *Machine) MMLayout() mm.Layout {
	return mm.Layout{
		MinUserAddress: hostarch.Addr(m.Layout.MinUserAddress),
		UserTop:        hostarch.Addr(m.Layout.UserTop),
		StackTop:       hostarch.Addr(m.Layout.StackTop),
		StackSize:      m.Layout.StackSize,
		StackInitial:   m.Layout.StackInitial,
		HeapCeiling:    m.Layout.HeapCeiling,
	}
}

// Device register window sizes on QEMU virt.
const (
	uartSize    = 0x1000
	gicDistSize = 0x1_0000
)

// Devices returns the MMIO windows mapped into the kernel space.
func (m *Machine) Devices() []mm.DeviceRegion {
	var devs []mm.DeviceRegion
	if m.UARTBase != 0 {
		devs = append(devs, mm.DeviceRegion{Name: "uart", Base: hostarch.Addr(m.UARTBase), Size: uartSize})
	}
	if m.GICDistBase != 0 {
		devs = append(devs, mm.DeviceRegion{Name: "gic", Base: hostarch.Addr(m.GICDistBase), Size: gicDistSize})
	}
	return devs
}

// KernelImage returns the RAM the kernel image occupies, empty if it is not
// in RAM.
func (m *Machine) KernelImage() hostarch.AddrRange {
	if m.KernelEnd == 0 {
		return hostarch.AddrRange{}
	}
	return hostarch.AddrRange{Start: hostarch.Addr(m.RAMBase), End: hostarch.Addr(m.KernelEnd)}
}

// Validate checks the profile for consistency.
func (m *Machine) Validate() error {
	ram := m.RAM()
	switch {
	case m.RAMSize == 0:
		return fmt.Errorf("no RAM")
	case !ram.Start.IsPageAligned() || !ram.End.IsPageAligned():
		return fmt.Errorf("RAM %v is not page aligned", ram)
	case ram.End < ram.Start:
		return fmt.Errorf("RAM %#x+%#x wraps", m.RAMBase, m.RAMSize)
	case m.KernelEnd != 0 && !ram.Contains(hostarch.Addr(m.KernelEnd)):
		return fmt.Errorf("kernel end %#x outside RAM %v", m.KernelEnd, ram)
	case m.UARTBase != 0 && ram.Contains(hostarch.Addr(m.UARTBase)):
		return fmt.Errorf("UART %#x inside RAM %v", m.UARTBase, ram)
	}
	return m.MMLayout().Validate()
}

// Apply applies the overrides in conf to the profile.
func (m *Machine) Apply(conf *Config) error {
	if conf.MemorySize != 0 {
		m.RAMSize = uint64(conf.MemorySize)
	}
	if conf.HeapCeiling != 0 {
		m.Layout.HeapCeiling = uint64(conf.HeapCeiling)
	}
	if conf.StackSize != 0 {
		m.Layout.StackSize = uint64(conf.StackSize)
		if m.Layout.StackInitial > m.Layout.StackSize {
			m.Layout.StackInitial = m.Layout.StackSize
		}
	}
	return m.Validate()
}

// Machine returns the profile selected by conf with its overrides applied.
func (c *Config) Machine() (Machine, error) {
	m := QEMUVirt()
	if c.MachineFile != "" {
		var err error
		if m, err = LoadMachine(c.MachineFile); err != nil {
			return Machine{}, err
		}
	}
	if err := m.Apply(c); err != nil {
		return Machine{}, err
	}
	return m, nil
}
