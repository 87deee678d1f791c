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
	"kestrel.dev/kestrel/pkg/binary"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/mm"
)

// CopyInBytes copies len(dst) bytes from the user address addr.
func (t *Task) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	n, err := t.mm.CopyIn(addr, dst, mm.IOOpts{})
	if err != nil {
		return n, linuxerr.EFAULT
	}
	return n, nil
}

// CopyOutBytes copies src to the user address addr.
func (t *Task) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	n, err := t.mm.CopyOut(addr, src, mm.IOOpts{})
	if err != nil {
		return n, linuxerr.EFAULT
	}
	return n, nil
}

// CopyIn decodes a fixed-size value from the user address addr into dst,
// which must be a pointer.
func (t *Task) CopyIn(addr hostarch.Addr, dst any) (int, error) {
	buf := make([]byte, binary.Size(dst))
	n, err := t.CopyInBytes(addr, buf)
	if err != nil {
		return n, err
	}
	binary.Unmarshal(buf, dst)
	return n, nil
}

// CopyOut encodes src in its user layout at the user address addr.
func (t *Task) CopyOut(addr hostarch.Addr, src any) (int, error) {
	return t.CopyOutBytes(addr, binary.Marshal(nil, src))
}

// CopyInString copies a NUL-terminated string of at most maxlen bytes from
// addr.
func (t *Task) CopyInString(addr hostarch.Addr, maxlen int) (string, error) {
	s, err := t.mm.CopyInString(addr, maxlen)
	if err != nil {
		if err == linuxerr.ENAMETOOLONG {
			return "", err
		}
		return "", linuxerr.EFAULT
	}
	return s, nil
}
