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

// numLimits is the number of resources prlimit64(2) knows about.
const numLimits = linux.RLIMIT_RTTIME + 1

// Prlimit64 implements linux syscall prlimit64(2).
func Prlimit64(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	tid := args[0].Int()
	resource := int(args[1].Int())
	newRlimAddr := args[2].Pointer()
	oldRlimAddr := args[3].Pointer()

	if resource < 0 || resource >= numLimits {
		return 0, nil, linuxerr.EINVAL
	}
	if tid != 0 && tid != t.ThreadID() {
		return 0, nil, linuxerr.ESRCH
	}

	var newLim linux.RLimit
	if newRlimAddr != 0 {
		if _, err := t.CopyIn(newRlimAddr, &newLim); err != nil {
			return 0, nil, linuxerr.EFAULT
		}
	}
	oldLim := t.Limit(resource)
	if newRlimAddr != 0 {
		if err := t.SetLimit(resource, newLim); err != nil {
			return 0, nil, err
		}
	}
	if oldRlimAddr != 0 {
		if _, err := t.CopyOut(oldRlimAddr, &oldLim); err != nil {
			return 0, nil, linuxerr.EFAULT
		}
	}
	return 0, nil, nil
}
