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

package linux

import (
	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/kernel"
)

// RtSigaction implements linux syscall rt_sigaction(2).
func RtSigaction(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	sig := int(args[0].Int())
	newactarg := args[1].Pointer()
	oldactarg := args[2].Pointer()
	sigsetsize := args[3].SizeT()

	if sigsetsize != linux.SignalSetSize {
		return 0, nil, linuxerr.EINVAL
	}
	if sig < 1 || sig > linux.SignalMaximum {
		return 0, nil, linuxerr.EINVAL
	}

	var newact linux.SigAction
	if newactarg != 0 {
		if sig == linux.SIGKILL || sig == linux.SIGSTOP {
			return 0, nil, linuxerr.EINVAL
		}
		if _, err := t.CopyIn(newactarg, &newact); err != nil {
			return 0, nil, err
		}
	}
	oldact := t.SigAction(sig)
	if oldactarg != 0 {
		if _, err := t.CopyOut(oldactarg, &oldact); err != nil {
			return 0, nil, err
		}
	}
	if newactarg != 0 {
		newact.Mask &^= uint64(linux.UnblockableSignals)
		t.SetSigAction(sig, newact)
	}
	return 0, nil, nil
}

// RtSigprocmask implements linux syscall rt_sigprocmask(2).
func RtSigprocmask(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	how := args[0].Int()
	setaddr := args[1].Pointer()
	oldaddr := args[2].Pointer()
	sigsetsize := args[3].SizeT()

	if sigsetsize != linux.SignalSetSize {
		return 0, nil, linuxerr.EINVAL
	}
	oldmask := t.SignalMask()
	if setaddr != 0 {
		var mask linux.SignalSet
		if _, err := t.CopyIn(setaddr, &mask); err != nil {
			return 0, nil, err
		}

		switch how {
		case linux.SIG_BLOCK:
			t.SetSignalMask(oldmask | mask)
		case linux.SIG_UNBLOCK:
			t.SetSignalMask(oldmask &^ mask)
		case linux.SIG_SETMASK:
			t.SetSignalMask(mask)
		default:
			return 0, nil, linuxerr.EINVAL
		}
	}
	if oldaddr != 0 {
		if _, err := t.CopyOut(oldaddr, &oldmask); err != nil {
			return 0, nil, err
		}
	}
	return 0, nil, nil
}
