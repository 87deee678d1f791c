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

	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/pgalloc"
	"kestrel.dev/kestrel/pkg/ring0"
)

// A taskRunState is a reified state in the task state machine: runApp
// enters user code, runExit tears the task down, and runHalt stops the core.
type taskRunState interface {
	// execute executes the code associated with this state over the given
	// task and returns the following state. If execute returns nil, the
	// task goroutine should exit.
	execute(ctx context.Context, t *Task) taskRunState
}

// run runs the task until it exits. It returns the fatal fault or platform
// error that ended the run, if any; the core is halted either way.
func (t *Task) run(ctx context.Context) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fe, ok := r.(*pgalloc.FatalError)
		if !ok {
			panic(r)
		}
		// Allocator misuse is a kernel bug; report it like a fault
		// rather than tearing down the host process.
		t.fault = &FatalFault{
			Addr:   fe.Addr,
			Cause:  fe.Error(),
			Vector: t.trapVector,
			ESR:    t.trap.ESR,
			Regs:   t.ac.Regs,
		}
		if t.k.cpu.State() != ring0.Halted {
			t.k.cpu.Halt()
		}
		err = t.fault
	}()

	for t.runState != nil {
		t.runState = t.runState.execute(ctx, t)
	}
	if t.fault != nil {
		return t.fault
	}
	return t.runErr
}

// The runApp state runs user code until it traps and handles the trap.
type runApp struct{}

func (*runApp) execute(ctx context.Context, t *Task) taskRunState {
	trap, err := t.k.cpu.SwitchToUser(ctx, &t.ac.Regs)
	if err != nil {
		t.runErr = fmt.Errorf("running user code: %w", err)
		return (*runHalt)(nil)
	}

	vector := trap.Vector
	if vector == ring0.El0Sync {
		vector = ring0.DecodeESR(trap.ESR)
	}
	t.trap, t.trapVector = trap, vector
	switch vector {
	case ring0.El0SyncSVC:
		t.k.cpu.Resume()
		return t.doSyscall()

	case ring0.El0SyncDa, ring0.El0SyncIa:
		if trap.ESR.IsTranslationFault() {
			at := hostarch.Read
			switch {
			case vector == ring0.El0SyncIa:
				at = hostarch.Execute
			case trap.ESR.IsWrite():
				at = hostarch.Write
			}
			if err := t.mm.HandleUserFault(trap.FAR, at); err == nil {
				t.k.cpu.Resume()
				return (*runApp)(nil)
			}
		}
	}

	t.fault = newFatalFault(trap, vector, &t.ac.Regs)
	return (*runHalt)(nil)
}

// runExit is the state entered by exit and exit_group and by fatal
// signals.
type runExit struct{}

func (*runExit) execute(ctx context.Context, t *Task) taskRunState {
	t.Infof("exiting with %v", t.exitStatus)
	t.fdTable.RemoveAll()
	t.mm.Release()
	return (*runHalt)(nil)
}

// runHalt stops the core for good.
type runHalt struct{}

func (*runHalt) execute(ctx context.Context, t *Task) taskRunState {
	t.k.cpu.Halt()
	return nil
}
