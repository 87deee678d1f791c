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

package kernel

import (
	"context"
	"fmt"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/cleanup"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/loader"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/mm"
	"kestrel.dev/kestrel/pkg/ring0"
)

// The only task is process 1 in its own session and process group.
const (
	initPID  = 1
	initPPID = 0
)

// Task represents the user program: its register context, address space and
// open files.
type Task struct {
	k *Kernel

	// ac is the register context.
	ac arch.Context

	mm      *mm.MemoryManager
	fdTable *FDTable
	image   loader.ImageInfo

	// runState is what the task goroutine should do next.
	runState taskRunState

	// exitStatus is recorded by exit, exit_group or a fatal signal.
	exitStatus ExitStatus

	// fault is set when the run ended in a fatal fault.
	fault *FatalFault

	// runErr is set when the platform failed to run user code.
	runErr error

	// trap and trapVector are the last trap taken from user code and its
	// decoded vector. They outlive CPU.Resume so that a kernel failure
	// while handling the trap can still name it.
	trap       ring0.Trap
	trapVector ring0.Vector

	// cwd is the working directory. There is no chdir, so it stays "/".
	cwd string

	// clearChildTID is the set_tid_address pointer.
	clearChildTID uint64

	// robustList is the set_robust_list head.
	robustList uint64

	signalMask linux.SignalSet
	sigactions [linux.SignalMaximum]linux.SigAction

	// pgid is the process group.
	pgid int32

	// limits are the resource limits reported and set by prlimit64.
	limits map[int]linux.RLimit

	// logPrefix prefixes the task's log lines.
	logPrefix string
}

// CreateProcessArgs holds arguments to CreateProcess.
type CreateProcessArgs struct {
	// Filename is the path of the executable.
	Filename string

	// Argv is the argument vector.
	Argv []string

	// Envv is the environment.
	Envv []string
}

// CreateProcess loads the executable in a fresh address space, opens the
// console as descriptors 0, 1 and 2, and makes the task ready to run.
func (k *Kernel) CreateProcess(ctx context.Context, args CreateProcessArgs) (*Task, error) {
	if k.task != nil {
		return nil, fmt.Errorf("a task already exists")
	}
	m, err := mm.New(k.frames, k.layout)
	if err != nil {
		return nil, fmt.Errorf("creating address space: %w", err)
	}
	cu := cleanup.Make(m.Release)
	defer cu.Clean()

	info, err := loader.Load(ctx, loader.LoadArgs{
		MemoryManager: m,
		Opener:        k.provider,
		Filename:      args.Filename,
		Argv:          args.Argv,
		Envv:          args.Envv,
		Random:        k.rand,
		HWCap:         k.platform.HWCap(),
	})
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", args.Filename, err)
	}

	t := &Task{
		k:         k,
		mm:        m,
		fdTable:   NewFDTable(),
		image:     info,
		runState:  (*runApp)(nil),
		cwd:       "/",
		pgid:      initPID,
		logPrefix: fmt.Sprintf("[% 4d] ", initPID),
	}
	t.limits = map[int]linux.RLimit{
		linux.RLIMIT_STACK:  {Cur: k.layout.StackSize, Max: k.layout.StackSize},
		linux.RLIMIT_NOFILE: {Cur: MaxFDs, Max: MaxFDs},
	}
	t.ac.Reset(info.Entry, info.StackPointer)

	stdio := NewConsoleFile(k.tty, linux.O_RDWR)
	for fd := int32(0); fd < 3; fd++ {
		if err := t.fdTable.NewFDAt(fd, stdio, FDFlags{}); err != nil {
			panic(fmt.Sprintf("installing stdio descriptor %d: %v", fd, err))
		}
	}
	stdio.DecRef()
	k.tty.SetForegroundProcessGroup(t.pgid)

	k.cpu.Activate(m.PageTables())
	k.task = t
	cu.Release()
	t.Infof("loaded %s: entry %v, sp %v", args.Filename, info.Entry, info.StackPointer)
	return t, nil
}

// Kernel returns the task's kernel.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Arch returns the task's register context.
func (t *Task) Arch() *arch.Context {
	return &t.ac
}

// MemoryManager returns the task's address space.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.mm
}

// FDTable returns the task's descriptor table.
func (t *Task) FDTable() *FDTable {
	return t.fdTable
}

// Image returns the loaded executable.
func (t *Task) Image() loader.ImageInfo {
	return t.image
}

// ThreadID returns the task's thread ID.
func (t *Task) ThreadID() int32 {
	return initPID
}

// ProcessID returns the process ID.
func (t *Task) ProcessID() int32 {
	return initPID
}

// ParentProcessID returns the parent's process ID. The task has no parent.
func (t *Task) ParentProcessID() int32 {
	return initPPID
}

// ProcessGroupID returns the process group.
func (t *Task) ProcessGroupID() int32 {
	return t.pgid
}

// SetProcessGroupID moves the task to pgid, which must be its own ID since
// no other group exists.
func (t *Task) SetProcessGroupID(pgid int32) error {
	if pgid != initPID {
		return linuxerr.EPERM
	}
	t.pgid = pgid
	return nil
}

// WorkingDirectory returns the working directory.
func (t *Task) WorkingDirectory() string {
	return t.cwd
}

// SetClearTID sets the set_tid_address pointer.
func (t *Task) SetClearTID(addr uint64) {
	t.clearChildTID = addr
}

// SetRobustList sets the robust futex list head.
func (t *Task) SetRobustList(addr uint64) {
	t.robustList = addr
}

// SignalMask returns the blocked signals.
func (t *Task) SignalMask() linux.SignalSet {
	return t.signalMask
}

// SetSignalMask sets the blocked signals. SIGKILL and SIGSTOP stay
// unblocked.
func (t *Task) SetSignalMask(mask linux.SignalSet) {
	t.signalMask = mask &^ linux.UnblockableSignals
}

// SigAction returns the action of sig, which must be valid.
func (t *Task) SigAction(sig int) linux.SigAction {
	return t.sigactions[sig-1]
}

// SetSigAction sets the action of sig, which must be valid and catchable.
func (t *Task) SetSigAction(sig int, act linux.SigAction) {
	t.sigactions[sig-1] = act
}

// Limit returns the resource limit, which is unlimited unless recorded.
func (t *Task) Limit(resource int) linux.RLimit {
	if l, ok := t.limits[resource]; ok {
		return l
	}
	return linux.RLimit{Cur: linux.RLimInfinity, Max: linux.RLimInfinity}
}

// SetLimit sets a resource limit. The hard limit can only be lowered.
func (t *Task) SetLimit(resource int, l linux.RLimit) error {
	if l.Cur > l.Max {
		return linuxerr.EINVAL
	}
	if l.Max > t.Limit(resource).Max {
		return linuxerr.EPERM
	}
	t.limits[resource] = l
	return nil
}

// Debugf logs at the debug level with the task prefix.
func (t *Task) Debugf(fmt string, v ...any) {
	log.Debugf(t.logPrefix+fmt, v...)
}

// Infof logs at the info level with the task prefix.
func (t *Task) Infof(fmt string, v ...any) {
	log.Infof(t.logPrefix+fmt, v...)
}

// Warningf logs at the warning level with the task prefix.
func (t *Task) Warningf(fmt string, v ...any) {
	log.Warningf(t.logPrefix+fmt, v...)
}

// GetFile returns the file at fd, or nil if fd is not open.
func (t *Task) GetFile(fd int32) *FileDescription {
	f, _ := t.fdTable.Get(fd)
	return f
}

// NewFDFrom installs file at the lowest free descriptor at or above fd.
func (t *Task) NewFDFrom(fd int32, file *FileDescription, flags FDFlags) (int32, error) {
	return t.fdTable.NewFD(fd, file, flags)
}
