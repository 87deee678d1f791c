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

// Protections for mmap(2) and mprotect(2).
const (
	PROT_NONE  = 0
	PROT_READ  = 1 << 0
	PROT_WRITE = 1 << 1
	PROT_EXEC  = 1 << 2
)

// Flags for mmap(2).
const (
	MAP_SHARED          = 1 << 0
	MAP_PRIVATE         = 1 << 1
	MAP_TYPE            = 0xf
	MAP_FIXED           = 1 << 4
	MAP_ANONYMOUS       = 1 << 5
	MAP_GROWSDOWN       = 1 << 8
	MAP_DENYWRITE       = 1 << 11
	MAP_EXECUTABLE      = 1 << 12
	MAP_LOCKED          = 1 << 13
	MAP_NORESERVE       = 1 << 14
	MAP_POPULATE        = 1 << 15
	MAP_NONBLOCK        = 1 << 16
	MAP_STACK           = 1 << 17
	MAP_HUGETLB         = 1 << 18
	MAP_FIXED_NOREPLACE = 1 << 20
)

// Advice for madvise(2).
const (
	MADV_NORMAL     = 0
	MADV_DONTNEED   = 4
	MADV_FREE       = 8
	MADV_HUGEPAGE   = 14
	MADV_NOHUGEPAGE = 15
	MADV_COLLAPSE   = 25
)
