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

// ioctl(2) requests provided by asm-generic/ioctls.h.
const (
	TCGETS     = 0x00005401
	TCSETS     = 0x00005402
	TCSETSW    = 0x00005403
	TCSETSF    = 0x00005404
	TIOCSCTTY  = 0x0000540e
	TIOCGPGRP  = 0x0000540f
	TIOCSPGRP  = 0x00005410
	TIOCGWINSZ = 0x00005413
	TIOCSWINSZ = 0x00005414
	TIOCINQ    = 0x0000541b
	FIONREAD   = TIOCINQ
	FIONBIO    = 0x00005421
	FIONCLEX   = 0x00005450
	FIOCLEX    = 0x00005451
)
