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
	"errors"
	"testing"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
)

func newTestTask() *Task {
	return &Task{
		pgid:   initPID,
		limits: map[int]linux.RLimit{linux.RLIMIT_NOFILE: {Cur: MaxFDs, Max: MaxFDs}},
	}
}

func TestSendSignal(t *testing.T) {
	for _, tc := range []struct {
		name    string
		sig     int
		handler uint64
		blocked bool
		kills   bool
	}{
		{name: "term", sig: linux.SIGTERM, kills: true},
		{name: "kill", sig: linux.SIGKILL, kills: true},
		{name: "blocked kill", sig: linux.SIGKILL, blocked: true, kills: true},
		{name: "blocked term", sig: linux.SIGTERM, blocked: true},
		{name: "ignored term", sig: linux.SIGTERM, handler: linux.SIG_IGN},
		{name: "handled term", sig: linux.SIGTERM, handler: 0x40_1000, kills: true},
		{name: "winch", sig: linux.SIGWINCH},
		{name: "handled winch", sig: linux.SIGWINCH, handler: 0x40_1000},
		{name: "stop", sig: linux.SIGSTOP},
		{name: "tstp", sig: linux.SIGTSTP},
	} {
		t.Run(tc.name, func(t *testing.T) {
			task := newTestTask()
			if tc.handler != linux.SIG_DFL && tc.sig != linux.SIGKILL {
				task.SetSigAction(tc.sig, linux.SigAction{Handler: tc.handler})
			}
			if tc.blocked {
				task.SetSignalMask(linux.MakeSignalSet(tc.sig))
			}
			ctrl := task.SendSignal(tc.sig)
			if got := ctrl != nil; got != tc.kills {
				t.Fatalf("SendSignal(%d) ends the task: %t, want %t", tc.sig, got, tc.kills)
			}
			if tc.kills && (task.exitStatus.Signo != tc.sig || task.exitStatus.Status() != 128+tc.sig) {
				t.Errorf("exit status = %+v, want killed by %d", task.exitStatus, tc.sig)
			}
		})
	}
}

func TestSignalMaskUnblockable(t *testing.T) {
	task := newTestTask()
	task.SetSignalMask(^linux.SignalSet(0))
	if task.SignalMask()&linux.UnblockableSignals != 0 {
		t.Errorf("mask %#x blocks SIGKILL or SIGSTOP", task.SignalMask())
	}
}

func TestExit(t *testing.T) {
	task := newTestTask()
	if ctrl := task.Exit(0x1ff); ctrl != CtrlDoExit {
		t.Fatalf("Exit returned %v, want CtrlDoExit", ctrl)
	}
	if es := task.exitStatus; es.Signaled() || es.Status() != 0xff || es.String() != "status 255" {
		t.Errorf("exit status = %+v (%v)", es, es)
	}
}

func TestLimits(t *testing.T) {
	task := newTestTask()
	if l := task.Limit(linux.RLIMIT_CPU); l.Cur != linux.RLimInfinity || l.Max != linux.RLimInfinity {
		t.Errorf("Limit(RLIMIT_CPU) = %+v, want unlimited", l)
	}
	if err := task.SetLimit(linux.RLIMIT_NOFILE, linux.RLimit{Cur: 64, Max: 32}); !errors.Is(err, linuxerr.EINVAL) {
		t.Errorf("SetLimit with cur > max = %v, want EINVAL", err)
	}
	if err := task.SetLimit(linux.RLIMIT_NOFILE, linux.RLimit{Cur: 64, Max: 2 * MaxFDs}); !errors.Is(err, linuxerr.EPERM) {
		t.Errorf("raising the hard limit = %v, want EPERM", err)
	}
	if err := task.SetLimit(linux.RLIMIT_NOFILE, linux.RLimit{Cur: 64, Max: 128}); err != nil {
		t.Fatalf("lowering the limit failed: %v", err)
	}
	if l := task.Limit(linux.RLIMIT_NOFILE); l.Cur != 64 || l.Max != 128 {
		t.Errorf("Limit(RLIMIT_NOFILE) = %+v, want {64 128}", l)
	}
}

func TestProcessGroup(t *testing.T) {
	task := newTestTask()
	if err := task.SetProcessGroupID(2); !errors.Is(err, linuxerr.EPERM) {
		t.Errorf("SetProcessGroupID(2) = %v, want EPERM", err)
	}
	if err := task.SetProcessGroupID(initPID); err != nil || task.ProcessGroupID() != initPID {
		t.Errorf("SetProcessGroupID(%d) = %v, pgid %d", initPID, err, task.ProcessGroupID())
	}
}
