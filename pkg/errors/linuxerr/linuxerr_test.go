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

package linuxerr

import (
	"fmt"
	"io"
	"testing"

	"golang.org/x/sys/unix"
	"kestrel.dev/kestrel/pkg/abi/linux/errno"
)

func TestErrorFromUnix(t *testing.T) {
	for _, tc := range []struct {
		in   unix.Errno
		want error
	}{
		{unix.Errno(0), nil},
		{unix.EPERM, EPERM},
		{unix.ENOSYS, ENOSYS},
		{unix.ENOMEM, ENOMEM},
		{unix.EOVERFLOW, EOVERFLOW},
	} {
		if got := ErrorFromUnix(tc.in); got != tc.want {
			t.Errorf("ErrorFromUnix(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestErrorFromUnixGap(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("ErrorFromUnix of an undefined errno did not panic")
		}
	}()
	ErrorFromUnix(unix.Errno(errno.ELOOP + 1))
}

func TestEquals(t *testing.T) {
	if !Equals(EBADF, unix.EBADF) {
		t.Errorf("EBADF should equal unix.EBADF")
	}
	if !Equals(EBADF, EBADF) {
		t.Errorf("EBADF should equal itself")
	}
	if Equals(EBADF, EINVAL) {
		t.Errorf("EBADF should not equal EINVAL")
	}
	if !Equals(nil, nil) {
		t.Errorf("nil should equal nil")
	}
}

func TestToErrno(t *testing.T) {
	for _, tc := range []struct {
		name   string
		err    error
		want   errno.Errno
		wantOK bool
	}{
		{"linuxerr", ENOTTY, errno.ENOTTY, true},
		{"wrapped", fmt.Errorf("brk: %w", ENOMEM), errno.ENOMEM, true},
		{"unix", unix.EROFS, errno.EROFS, true},
		{"internal", ErrInterrupted, errno.EINTR, true},
		{"plain", io.ErrUnexpectedEOF, 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ToErrno(tc.err)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("ToErrno(%v) = %d, %t, want %d, %t", tc.err, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}
