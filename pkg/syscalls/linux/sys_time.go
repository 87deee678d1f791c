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
	"time"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/kernel"
)

// clockNow returns the current value of the given clock.
func clockNow(t *kernel.Task, clockID int32) (time.Duration, error) {
	switch clockID {
	case linux.CLOCK_REALTIME, linux.CLOCK_REALTIME_COARSE:
		return time.Duration(t.Kernel().RealtimeNow().UnixNano()), nil
	case linux.CLOCK_MONOTONIC, linux.CLOCK_MONOTONIC_RAW,
		linux.CLOCK_MONOTONIC_COARSE, linux.CLOCK_BOOTTIME:
		return t.Kernel().MonotonicNow(), nil
	case linux.CLOCK_PROCESS_CPUTIME_ID, linux.CLOCK_THREAD_CPUTIME_ID:
		// There is a single task that has been on the CPU since boot.
		return t.Kernel().MonotonicNow(), nil
	default:
		return 0, linuxerr.EINVAL
	}
}

// ClockGettime implements linux syscall clock_gettime(2).
func ClockGettime(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	clockID := args[0].Int()
	addr := args[1].Pointer()

	now, err := clockNow(t, clockID)
	if err != nil {
		return 0, nil, err
	}
	ts := linux.DurationToTimespec(now)
	if _, err := t.CopyOut(addr, &ts); err != nil {
		return 0, nil, err
	}
	return 0, nil, nil
}
