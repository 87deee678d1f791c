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

// PollFD is struct pollfd, used by poll(2)/ppoll(2), defined in
// uapi/asm-generic/poll.h.
type PollFD struct {
	FD      int32
	Events  int16
	REvents int16
}

// SizeOfPollFD is the size of a PollFD struct.
const SizeOfPollFD = 8

// Poll event flags, used by poll(2)/ppoll(2).
const (
	POLLIN   = 0x0001
	POLLPRI  = 0x0002
	POLLOUT  = 0x0004
	POLLERR  = 0x0008
	POLLHUP  = 0x0010
	POLLNVAL = 0x0020
)

// Operations for epoll_ctl(2).
const (
	EPOLL_CTL_ADD = 1
	EPOLL_CTL_DEL = 2
	EPOLL_CTL_MOD = 3
)

// EpollEvent is struct epoll_event on arm64, which is not packed.
type EpollEvent struct {
	Events uint32
	_      uint32
	Data   uint64
}
