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
	"kestrel.dev/kestrel/pkg/abi/linux"
)

// defaultIgnored are the signals whose default action is to do nothing. Stop
// signals are included: there is no job control to continue the task.
var defaultIgnored = linux.MakeSignalSet(
	linux.SIGCHLD, linux.SIGURG, linux.SIGWINCH, linux.SIGCONT,
	linux.SIGSTOP, linux.SIGTSTP, linux.SIGTTIN, linux.SIGTTOU,
)

// Exit records code as the exit status. The returned control ends the task.
func (t *Task) Exit(code int) *SyscallControl {
	t.exitStatus = ExitStatus{Code: code & 0xff}
	return CtrlDoExit
}

// SendSignal delivers sig to the task. Signal handlers are never run: a
// signal that is not ignored kills the task with the signal's default
// action, and the returned control ends the task. A nil return means the
// signal was discarded, including when it is blocked, since nothing would
// ever deliver it later.
func (t *Task) SendSignal(sig int) *SyscallControl {
	act := t.SigAction(sig)
	switch {
	case sig == linux.SIGKILL:
	case t.signalMask&linux.MakeSignalSet(sig) != 0:
		return nil
	case sig == linux.SIGSTOP:
		return nil
	case act.Handler == linux.SIG_IGN:
		return nil
	case act.Handler == linux.SIG_DFL && defaultIgnored&linux.MakeSignalSet(sig) != 0:
		return nil
	case act.Handler != linux.SIG_DFL:
		t.Warningf("signal %d has a handler at %#x, which is not supported; using the default action", sig, act.Handler)
		if defaultIgnored&linux.MakeSignalSet(sig) != 0 {
			return nil
		}
	}
	t.exitStatus = ExitStatus{Signo: sig}
	return CtrlDoExit
}
