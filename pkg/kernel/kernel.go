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

// Package kernel provides the emulation of a Linux kernel for a single,
// statically linked user program.
//
// The Kernel owns the process-wide state: the frame allocator, the console,
// the filesystem provider, the syscall table and the core. A Kernel runs
// exactly one Task; there is no scheduler and no process creation.
//
// Lock order:
//
//	FileDescription.mu
//	  FDTable.mu
//	    mm.MemoryManager.mu
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"kestrel.dev/kestrel/pkg/console"
	kerrors "kestrel.dev/kestrel/pkg/errors"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/fsprovider"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/mm"
	"kestrel.dev/kestrel/pkg/pgalloc"
	"kestrel.dev/kestrel/pkg/platform"
	"kestrel.dev/kestrel/pkg/ring0"
	"kestrel.dev/kestrel/pkg/ring0/pagetables"
)

func init() {
	linuxerr.AddErrorUnwrapper(func(err error) (*kerrors.Error, bool) {
		switch {
		case errors.Is(err, mm.ErrBadAddress):
			return linuxerr.EFAULT, true
		case errors.Is(err, pgalloc.ErrOutOfMemory):
			return linuxerr.ENOMEM, true
		case errors.Is(err, fsprovider.ErrNotFound):
			return linuxerr.ENOENT, true
		}
		return nil, false
	})
}

// InitKernelArgs holds arguments to New.
type InitKernelArgs struct {
	// Platform runs user code.
	Platform platform.Platform

	// Frames is the physical frame allocator.
	Frames *pgalloc.Allocator

	// Layout places the regions of the user address space.
	Layout mm.Layout

	// Console is the terminal behind descriptors 0, 1 and 2.
	Console *console.TTY

	// Provider resolves the paths the user program opens.
	Provider fsprovider.Provider

	// SyscallTable is the syscall table. It is initialized by New.
	SyscallTable *SyscallTable

	// Rand is the source of AT_RANDOM and getrandom bytes.
	Rand io.Reader

	// Strace logs every syscall at Info level.
	Strace bool

	// KernelImage is the RAM holding the kernel image, mapped executable
	// in the kernel space. It is empty on hosted platforms.
	KernelImage hostarch.AddrRange

	// Devices are the MMIO windows mapped into the kernel space.
	Devices []mm.DeviceRegion
}

// Kernel represents an emulated Linux kernel.
type Kernel struct {
	platform platform.Platform
	frames   *pgalloc.Allocator
	layout   mm.Layout
	tty      *console.TTY
	provider fsprovider.Provider
	table    *SyscallTable
	rand     io.Reader
	strace   bool

	// ks is built once and never unmapped.
	ks  *mm.KernelSpace
	cpu *ring0.CPU

	// task is the only task, once created.
	task *Task
}

// New returns a kernel in the KernelRunning state.
func New(args InitKernelArgs) (*Kernel, error) {
	switch {
	case args.Platform == nil:
		return nil, fmt.Errorf("no platform")
	case args.Frames == nil:
		return nil, fmt.Errorf("no frame allocator")
	case args.Console == nil:
		return nil, fmt.Errorf("no console")
	case args.Provider == nil:
		return nil, fmt.Errorf("no filesystem provider")
	case args.SyscallTable == nil:
		return nil, fmt.Errorf("no syscall table")
	case args.Rand == nil:
		return nil, fmt.Errorf("no random source")
	}
	if err := args.Layout.Validate(); err != nil {
		return nil, err
	}
	args.SyscallTable.Init()

	ks, err := mm.NewKernelSpace(pagetables.NewFrameAllocator(args.Frames), args.Platform.Memory().Range(), args.KernelImage, args.Devices)
	if err != nil {
		return nil, fmt.Errorf("building kernel space: %w", err)
	}
	if ka, ok := args.Platform.(platform.KernelActivator); ok {
		ka.ActivateKernel(ks.PageTables())
	}
	return &Kernel{
		platform: args.Platform,
		frames:   args.Frames,
		layout:   args.Layout,
		tty:      args.Console,
		provider: args.Provider,
		table:    args.SyscallTable,
		rand:     args.Rand,
		strace:   args.Strace,
		ks:       ks,
		cpu:      ring0.NewCPU(args.Platform),
	}, nil
}

// Platform returns the platform.
func (k *Kernel) Platform() platform.Platform {
	return k.platform
}

// Frames returns the frame allocator.
func (k *Kernel) Frames() *pgalloc.Allocator {
	return k.frames
}

// Console returns the console terminal.
func (k *Kernel) Console() *console.TTY {
	return k.tty
}

// Provider returns the filesystem provider.
func (k *Kernel) Provider() fsprovider.Provider {
	return k.provider
}

// SyscallTable returns the syscall table.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.table
}

// Rand returns the random source.
func (k *Kernel) Rand() io.Reader {
	return k.rand
}

// Layout returns the user address space layout.
func (k *Kernel) Layout() mm.Layout {
	return k.layout
}

// KernelSpace returns the kernel's address space.
func (k *Kernel) KernelSpace() *mm.KernelSpace {
	return k.ks
}

// CPU returns the core.
func (k *Kernel) CPU() *ring0.CPU {
	return k.cpu
}

// MonotonicNow returns the time since boot.
func (k *Kernel) MonotonicNow() time.Duration {
	return k.platform.Now()
}

// RealtimeNow returns the wall clock time. Without a boot time the clock
// starts at the Unix epoch.
func (k *Kernel) RealtimeNow() time.Time {
	boot := k.platform.BootTime()
	if boot.IsZero() {
		boot = time.Unix(0, 0)
	}
	return boot.Add(k.platform.Now())
}

// Task returns the task, or nil before CreateProcess.
func (k *Kernel) Task() *Task {
	return k.task
}

// ExitStatus is the result of the user program.
type ExitStatus struct {
	// Code is the exit code passed to exit or exit_group.
	Code int

	// Signo is the signal that killed the program, or zero.
	Signo int
}

// Signaled returns true if the program was killed by a signal.
func (es ExitStatus) Signaled() bool {
	return es.Signo != 0
}

// Status returns the shell-style status: the code, or 128 plus the signal.
func (es ExitStatus) Status() int {
	if es.Signaled() {
		return 128 + es.Signo
	}
	return es.Code & 0xff
}

// String implements fmt.Stringer.String.
func (es ExitStatus) String() string {
	if es.Signaled() {
		return fmt.Sprintf("killed by signal %d", es.Signo)
	}
	return fmt.Sprintf("status %d", es.Code&0xff)
}

// Run runs the task until it exits or faults, and halts the core. A fault
// the kernel cannot handle is returned as a *FatalFault after its report
// has been printed on the console.
func (k *Kernel) Run(ctx context.Context) (ExitStatus, error) {
	t := k.task
	if t == nil {
		return ExitStatus{}, fmt.Errorf("no task to run")
	}
	err := t.run(ctx)
	var ff *FatalFault
	if errors.As(err, &ff) {
		log.Warningf("%v", ff)
		log.Warningf("registers:\n%s", ff.Regs.String())
		k.tty.Write([]byte(ff.Report()))
	}
	if err != nil {
		return ExitStatus{}, err
	}
	log.Infof("init exited with %v", t.exitStatus)
	return t.exitStatus, nil
}
