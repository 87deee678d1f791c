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
	"bytes"
	"fmt"
)

// UTSLen is the length of each uname(2) string, excluding the NUL.
const UTSLen = 64

// UtsName is struct utsname.
type UtsName struct {
	Sysname    [UTSLen + 1]byte
	Nodename   [UTSLen + 1]byte
	Release    [UTSLen + 1]byte
	Version    [UTSLen + 1]byte
	Machine    [UTSLen + 1]byte
	Domainname [UTSLen + 1]byte
}

// SetUtsField stores s in f, truncated so that f stays NUL terminated.
func SetUtsField(f *[UTSLen + 1]byte, s string) {
	n := copy(f[:UTSLen], s)
	clear(f[n:])
}

func utsField(f [UTSLen + 1]byte) string {
	if i := bytes.IndexByte(f[:], 0); i >= 0 {
		return string(f[:i])
	}
	return string(f[:])
}

// String implements fmt.Stringer.String.
func (u UtsName) String() string {
	return fmt.Sprintf("%s %s %s %s %s (%s)", utsField(u.Sysname), utsField(u.Nodename),
		utsField(u.Release), utsField(u.Version), utsField(u.Machine), utsField(u.Domainname))
}
