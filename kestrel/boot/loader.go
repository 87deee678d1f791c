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

// Package boot loads the kernel and runs the init program.
package boot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"kestrel.dev/kestrel/kestrel/config"
	"kestrel.dev/kestrel/pkg/cleanup"
	"kestrel.dev/kestrel/pkg/console"
	"kestrel.dev/kestrel/pkg/fdt"
	"kestrel.dev/kestrel/pkg/fsprovider"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/kernel"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/p9"
	"kestrel.dev/kestrel/pkg/pgalloc"
	"kestrel.dev/kestrel/pkg/platform"
	"kestrel.dev/kestrel/pkg/rand"
	slinux "kestrel.dev/kestrel/pkg/syscalls/linux"

	// Platforms register themselves.
	_ "kestrel.dev/kestrel/pkg/platform/interp"
)

// Args are the arguments of New.
type Args struct {
	// Conf is the runtime configuration.
	Conf *config.Config

	// Machine is the board profile. Boot arguments in a device tree may
	// replace its RAM bank.
	Machine config.Machine

	// Console is the raw console device.
	Console console.Console

	// Argv is the init program and its arguments. Empty means the boot
	// arguments decide, falling back to DefaultInit.
	Argv []string

	// Envv is the initial environment, appended to the one given by boot
	// arguments.
	Envv []string

	// DTB is a flattened device tree. If nil and Conf.DTB is set, the file
	// it names is read.
	DTB []byte
}

// Loader keeps state needed to start the kernel and run init.
type Loader struct {
	// k is the kernel.
	k *kernel.Kernel

	// tty is the console terminal.
	tty *console.TTY

	// procArgs describe init.
	procArgs kernel.CreateProcessArgs

	// cu releases the filesystem provider.
	cu cleanup.Cleanup
}

// New initializes a kernel configured by args, without running anything.
func New(ctx context.Context, args Args) (*Loader, error) {
	conf := args.Conf
	m := args.Machine

	var ba bootArgs
	var initrd []byte
	dtb := args.DTB
	if dtb == nil && conf.DTB != "" {
		var err error
		if dtb, err = os.ReadFile(conf.DTB); err != nil {
			return nil, fmt.Errorf("reading device tree: %w", err)
		}
	}
	mem, err := newMemory(m.RAM())
	if err != nil {
		return nil, fmt.Errorf("error creating memory: %w", err)
	}
	if dtb != nil {
		info, err := fdt.Parse(dtb)
		if err != nil {
			return nil, err
		}
		if info.Memory.Length() != 0 && info.Memory != m.RAM() {
			log.Infof("Device tree RAM %v replaces %v", info.Memory, m.RAM())
			m.RAMBase, m.RAMSize = uint64(info.Memory.Start), info.Memory.Length()
			if err := m.Validate(); err != nil {
				return nil, fmt.Errorf("device tree memory: %w", err)
			}
			if mem, err = newMemory(m.RAM()); err != nil {
				return nil, fmt.Errorf("error creating memory: %w", err)
			}
		}
		if len(info.RNGSeed) > 0 {
			rand.Seed(info.RNGSeed)
		}
		if info.Initrd.Length() != 0 {
			// Copy it out before the frames it occupies are handed out.
			if initrd, err = firmwareInitrd(mem, info.Initrd); err != nil {
				return nil, err
			}
		}
		ba = parseBootargs(info.Bootargs)
		log.Infof("Boot arguments: %q", info.Bootargs)
	}

	frames, err := pgalloc.New(mem, pgalloc.Options{
		KernelEnd:    hostarch.Addr(m.KernelEnd),
		EarlyReserve: m.EarlyReserve,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating frame allocator: %w", err)
	}
	log.Infof("RAM %v, usable frames %v", m.RAM(), frames.Range())

	p, err := createPlatform(conf, platform.Options{Memory: mem})
	if err != nil {
		return nil, fmt.Errorf("error creating platform: %w", err)
	}

	l := &Loader{tty: console.NewTTY(args.Console)}
	provider, err := l.createProvider(ctx, conf, initrd)
	if err != nil {
		l.Destroy()
		return nil, fmt.Errorf("error creating filesystem: %w", err)
	}

	l.k, err = kernel.New(kernel.InitKernelArgs{
		Platform:     p,
		Frames:       frames,
		Layout:       m.MMLayout(),
		Console:      l.tty,
		Provider:     provider,
		SyscallTable: slinux.ARM64,
		Rand:         rand.Reader,
		Strace:       conf.Strace || ba.strace,
		KernelImage:  m.KernelImage(),
		Devices:      m.Devices(),
	})
	if err != nil {
		l.Destroy()
		return nil, fmt.Errorf("error initializing kernel: %w", err)
	}
	l.procArgs = processArgs(args, ba)
	return l, nil
}

// processArgs picks init and its arguments. The command line wins over the
// boot arguments.
func processArgs(args Args, ba bootArgs) kernel.CreateProcessArgs {
	pa := kernel.CreateProcessArgs{
		Envv: append(append([]string(nil), ba.envv...), args.Envv...),
	}
	switch {
	case len(args.Argv) > 0:
		pa.Filename = args.Argv[0]
		pa.Argv = args.Argv
	case ba.init != "":
		pa.Filename = ba.init
		pa.Argv = append([]string{ba.init}, ba.argv...)
	default:
		pa.Filename = DefaultInit
		pa.Argv = append([]string{DefaultInit}, ba.argv...)
	}
	return pa
}

func createPlatform(conf *config.Config, opts platform.Options) (platform.Platform, error) {
	ctor, err := platform.Lookup(conf.Platform)
	if err != nil {
		return nil, err
	}
	log.Infof("Platform: %s", conf.Platform)
	return ctor(opts)
}

// createProvider opens the filesystem selected by conf. initrd is used when
// conf selects none.
func (l *Loader) createProvider(ctx context.Context, conf *config.Config, initrd []byte) (fsprovider.Provider, error) {
	switch {
	case conf.RootFS != "":
		log.Infof("Filesystem: host directory %q", conf.RootFS)
		h, err := fsprovider.NewHostDir(conf.RootFS)
		if err != nil {
			return nil, err
		}
		l.cu.Add(func() { h.Close() })
		return h, nil

	case conf.Initrd != "":
		log.Infof("Filesystem: cpio archive %q", conf.Initrd)
		f, err := os.Open(conf.Initrd)
		if err != nil {
			return nil, err
		}
		l.cu.Add(func() { f.Close() })
		rd, err := fsprovider.NewRamdiskFromCPIO(f)
		if err != nil {
			return nil, err
		}
		return rd, nil

	case conf.P9Addr != "":
		network := "tcp"
		if strings.Contains(conf.P9Addr, "/") {
			network = "unix"
		}
		log.Infof("Filesystem: 9P server %s %q", network, conf.P9Addr)
		client, err := p9.Dial(ctx, network, conf.P9Addr, p9.DialOptions{})
		if err != nil {
			return nil, err
		}
		l.cu.Add(func() { client.Close() })
		root, err := client.Attach(conf.P9Aname)
		if err != nil {
			return nil, fmt.Errorf("attaching %q: %w", conf.P9Aname, err)
		}
		return fsprovider.NewP9(root), nil

	case initrd != nil:
		log.Infof("Filesystem: firmware initrd (%d bytes)", len(initrd))
		rd, err := fsprovider.NewRamdiskFromCPIO(bytes.NewReader(initrd))
		if err != nil {
			return nil, err
		}
		return rd, nil

	default:
		return nil, fmt.Errorf("no root filesystem: set --rootfs, --initrd or --9p")
	}
}

// Destroy cleans up all resources used by the loader.
func (l *Loader) Destroy() {
	l.cu.Clean()
}

// Kernel returns the kernel.
func (l *Loader) Kernel() *kernel.Kernel {
	return l.k
}

// Run creates init and runs it to completion.
func (l *Loader) Run(ctx context.Context) (kernel.ExitStatus, error) {
	log.Infof("launching init %q, argv %q", l.procArgs.Filename, l.procArgs.Argv)
	if _, err := l.k.CreateProcess(ctx, l.procArgs); err != nil {
		return kernel.ExitStatus{}, fmt.Errorf("failed to create init process: %w", err)
	}
	return l.k.Run(ctx)
}

// Halt reports the exit status on the console and powers the machine off.
// Hosted platforms return.
func (l *Loader) Halt(es kernel.ExitStatus) {
	fmt.Fprintf(l.tty, "init exited with %v\n", es)
	l.k.Platform().PowerOff(es.Status())
}
