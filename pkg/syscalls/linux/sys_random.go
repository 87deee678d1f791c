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
	"io"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/kernel"
)

const (
	_GRND_ALL = linux.GRND_NONBLOCK | linux.GRND_RANDOM | linux.GRND_INSECURE

	// maxRandomBytes bounds a single getrandom(2) call, as Linux does for
	// the blocking pool.
	maxRandomBytes = 1 << 25
)

// GetRandom implements the linux syscall getrandom(2).
func GetRandom(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := args[1].SizeT()
	flags := args[2].Uint()

	// NONBLOCK is irrelevant since the entropy source never blocks.
	if flags & ^uint32(_GRND_ALL) != 0 {
		return 0, nil, linuxerr.EINVAL
	}
	if flags&linux.GRND_INSECURE != 0 && flags&linux.GRND_RANDOM != 0 {
		return 0, nil, linuxerr.EINVAL
	}

	if length > maxRandomBytes {
		length = maxRandomBytes
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(t.Kernel().Rand(), buf)
	if n == 0 && err != nil {
		t.Warningf("getrandom: entropy source failed: %v", err)
		return 0, nil, linuxerr.EIO
	}
	n, err = t.CopyOutBytes(addr, buf[:n])
	if n == 0 && err != nil {
		return 0, nil, err
	}
	return uintptr(n), nil, nil
}
