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

package main

import (
	"context"

	"kestrel.dev/kestrel/kestrel/boot"
	"kestrel.dev/kestrel/kestrel/config"
	"kestrel.dev/kestrel/kestrel/flag"
	"kestrel.dev/kestrel/pkg/console"
	"kestrel.dev/kestrel/pkg/kernel"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/physmem"
	"kestrel.dev/kestrel/pkg/platform/metal"
)

// main runs on the bare machine, entered from the boot code in package
// metal. Configuration comes from the board profile and the device tree's
// boot arguments; there is no command line.
//
// The memory below RuntimeEnd holds the image and the runtime's own frames,
// so the kernel's allocators start above it.
func main() {
	m := config.QEMUVirt()
	m.KernelEnd = uint64(metal.RuntimeEnd())
	uart := console.NewPL011(metal.MMIO(m.UARTBase))
	uart.Init()
	metal.SetRuntimeConsole(uart)
	log.SetTarget(log.GoogleEmitter{Emitter: &log.Writer{Next: console.Writer{Console: uart}}})

	fs := flag.NewFlagSet("kestrel", flag.ContinueOnError)
	config.RegisterFlags(fs)
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		halt(err)
	}
	conf.Platform = metal.Name

	ram := m.RAM()
	dtb, err := metal.DTB(physmem.NewLinear(ram.Start, ram.Length()), ram.Start)
	if err != nil {
		log.Warningf("Booting without a device tree: %v", err)
	}

	ctx := context.Background()
	l, err := boot.New(ctx, boot.Args{
		Conf:    conf,
		Machine: m,
		Console: uart,
		DTB:     dtb,
	})
	if err != nil {
		halt(err)
	}
	defer l.Destroy()

	es, err := l.Run(ctx)
	if err != nil {
		log.Warningf("Running init: %v", err)
		es = kernel.ExitStatus{Code: 128}
	}
	l.Halt(es)
}

func halt(err error) {
	log.Warningf("Boot failed: %v", err)
	metal.New(nil).PowerOff(128)
	for {
	}
}
