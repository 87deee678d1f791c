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
	"strings"
	"testing"
	"time"
)

func TestSetUtsField(t *testing.T) {
	var u UtsName
	SetUtsField(&u.Sysname, "Linux")
	SetUtsField(&u.Nodename, strings.Repeat("n", 100))
	SetUtsField(&u.Machine, "aarch64")
	if got, want := u.String(), "Linux "+strings.Repeat("n", UTSLen)+"   aarch64 ()"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if u.Nodename[UTSLen] != 0 {
		t.Errorf("truncated field is not NUL terminated")
	}

	// A shorter value clears the tail of a longer one.
	SetUtsField(&u.Nodename, "kestrel")
	if got := utsField(u.Nodename); got != "kestrel" {
		t.Errorf("Nodename = %q, want \"kestrel\"", got)
	}
}

func TestTimespec(t *testing.T) {
	for _, d := range []time.Duration{0, time.Nanosecond, 1500 * time.Millisecond, 90 * time.Hour} {
		ts := DurationToTimespec(d)
		if ts.Nsec < 0 || ts.Nsec >= int64(time.Second) {
			t.Errorf("DurationToTimespec(%v).Nsec = %d out of range", d, ts.Nsec)
		}
		if got := ts.Duration(); got != d {
			t.Errorf("DurationToTimespec(%v).Duration() = %v", d, got)
		}
	}
}
