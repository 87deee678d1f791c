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

// Package platform provides a Platform abstraction.
//
// A Platform runs user code on the single core and reports the exception
// that stopped it. Everything above it (address spaces, the trap state
// machine, syscalls) is shared by every platform.
package platform

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"kestrel.dev/kestrel/pkg/physmem"
	"kestrel.dev/kestrel/pkg/ring0"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

// Platform provides the execution environment of the kernel.
type Platform interface {
	// Switch runs user code. See ring0.Switcher.
	ring0.Switcher

	// Memory returns the physical RAM that frames and page tables live in.
	// Page table walks performed by the platform read from it.
	Memory() physmem.Memory

	// HWCap returns the AT_HWCAP bits of the user-visible CPU features.
	HWCap() uint64

	// Now returns the time since boot. The realtime clock is offset from
	// it by BootTime.
	Now() time.Duration

	// BootTime returns the wall clock time at boot, or the zero time if
	// the platform has none.
	BootTime() time.Time

	// PowerOff stops the machine after the kernel halts. Platforms that
	// host the kernel inside another process return instead.
	PowerOff(code int)
}

// KernelActivator is implemented by platforms that run the kernel under the
// kernel page tables it builds.
type KernelActivator interface {
	// ActivateKernel installs pt in TTBR1. pt must map everything the
	// kernel is currently using at the same addresses.
	ActivateKernel(pt *pagetables.PageTables)
}

// Options are passed to a Constructor.
type Options struct {
	// Memory is the physical RAM.
	Memory physmem.Memory
}

// Constructor creates a Platform.
type Constructor func(opts Options) (Platform, error)

var (
	mu           sync.Mutex
	constructors = make(map[string]Constructor)
)

// Register records a platform constructor under name. It panics if name is
// taken.
func Register(name string, c Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := constructors[name]; ok {
		panic(fmt.Sprintf("duplicate platform registration for %q", name))
	}
	constructors[name] = c
}

// Lookup returns the constructor registered as name.
func Lookup(name string) (Constructor, error) {
	mu.Lock()
	defer mu.Unlock()
	c, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q (available: %v)", name, listLocked())
	}
	return c, nil
}

// List returns the names of the registered platforms in order.
func List() []string {
	mu.Lock()
	defer mu.Unlock()
	return listLocked()
}

func listLocked() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
