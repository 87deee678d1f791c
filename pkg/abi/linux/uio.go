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

// IOVec is struct iovec.
type IOVec struct {
	Base uint64
	Len  uint64
}

// SizeOfIOVec is the size of IOVec.
const SizeOfIOVec = 16

// UIO_MAXIOV is the maximum number of iovecs in one readv or writev.
const UIO_MAXIOV = 1024

// MAX_RW_COUNT is the largest transfer a single read or write performs.
const MAX_RW_COUNT = 0x7ffff000

// SizeOfRobustListHead is the size of struct robust_list_head.
const SizeOfRobustListHead = 24
