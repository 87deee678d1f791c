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

package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"kestrel.dev/kestrel/pkg/abi/linux/errno"
	kerrors "kestrel.dev/kestrel/pkg/errors"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
)

func TestIs(t *testing.T) {
	own := kerrors.New(errno.EAGAIN, "resource temporarily unavailable")
	wrapped := fmt.Errorf("reading console: %w", own)
	for _, tc := range []struct {
		err    error
		target error
		want   bool
	}{
		{own, linuxerr.EAGAIN, true},
		{wrapped, linuxerr.EAGAIN, true},
		{wrapped, linuxerr.EINVAL, false},
		{own, errors.New("try again"), false},
	} {
		if got := errors.Is(tc.err, tc.target); got != tc.want {
			t.Errorf("errors.Is(%v, %v) = %t, want %t", tc.err, tc.target, got, tc.want)
		}
	}
	if got := own.Errno(); got != errno.EAGAIN {
		t.Errorf("Errno() = %v, want EAGAIN", got)
	}
}
