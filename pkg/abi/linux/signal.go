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

// Signal numbers used by the kill(2) emulation.
const (
	SIGHUP   = 1
	SIGINT   = 2
	SIGQUIT  = 3
	SIGABRT  = 6
	SIGKILL  = 9
	SIGSEGV  = 11
	SIGPIPE  = 13
	SIGTERM  = 15
	SIGCHLD  = 17
	SIGCONT  = 18
	SIGSTOP  = 19
	SIGTSTP  = 20
	SIGTTIN  = 21
	SIGTTOU  = 22
	SIGURG   = 23
	SIGWINCH = 28

	// SignalMaximum is the highest valid signal number.
	SignalMaximum = 64
)

// How values for rt_sigprocmask(2).
const (
	SIG_BLOCK   = 0
	SIG_UNBLOCK = 1
	SIG_SETMASK = 2
)

// SignalSetSize is the size in bytes of a sigset_t on arm64.
const SignalSetSize = 8

// Flags for getrandom(2).
const (
	GRND_NONBLOCK = 0x1
	GRND_RANDOM   = 0x2
	GRND_INSECURE = 0x4
)

// Signal dispositions.
const (
	SIG_DFL = 0
	SIG_IGN = 1
)

// SigAction is the arm64 struct sigaction as passed to rt_sigaction.
type SigAction struct {
	Handler  uint64
	Flags    uint64
	Restorer uint64
	Mask     uint64
}

// SizeOfSigAction is the size of SigAction.
const SizeOfSigAction = 32

// SignalSet is a signal mask with bit N-1 standing for signal N.
type SignalSet uint64

// MakeSignalSet returns a set containing sigs.
func MakeSignalSet(sigs ...int) SignalSet {
	var set SignalSet
	for _, sig := range sigs {
		set |= 1 << (sig - 1)
	}
	return set
}

// UnblockableSignals cannot be masked.
var UnblockableSignals = MakeSignalSet(SIGKILL, SIGSTOP)

// SignalStack is stack_t, as passed to sigaltstack(2).
type SignalStack struct {
	Addr  uint64
	Flags uint32
	_     uint32
	Size  uint64
}

// Flags for SignalStack.
const (
	SS_ONSTACK = 1
	SS_DISABLE = 2
)
