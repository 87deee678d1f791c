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

// Package rtsys services the Go runtime when the kernel itself runs on the
// bare machine.
//
// The runtime asks for memory, threads, time and console output with Linux
// system calls, and takes translation faults on memory it has reserved but
// not yet touched. On the metal platform both arrive at the EL1 vector
// table, which saves the interrupted context into the current Thread and
// calls Kernel.Syscall or Kernel.Fault on a separate stack.
//
// Threads are scheduled cooperatively: a thread runs until it blocks in
// futex, nanosleep or epoll_pwait, yields or exits.
//
// Nothing here allocates or stores Go pointers, since the handlers run
// before the runtime is initialized and underneath it afterwards.
package rtsys

import (
	"io"
	"unsafe"
)

// Context is the state of a runtime thread at EL1.
//
// The layout is fixed by the vector code.
type Context struct {
	Regs   [31]uint64 // 0
	SP     uint64     // 248
	PC     uint64     // 256
	PState uint64     // 264
}

// Clock is the monotonic time source.
type Clock interface {
	// Nanotime returns nanoseconds since an arbitrary point.
	Nanotime() int64
}

// Kernel is the runtime's view of the machine.
type Kernel struct {
	// Space is the runtime's address space.
	Space Space

	// Clock, Console and Exit are set once before the first call.
	Clock   Clock
	Console io.ByteWriter
	Exit    func(code int32)

	threads [maxThreads]Thread
	cur     int
	lastTID int32

	// stuck is set once every thread is blocked with no deadline.
	stuck bool

	seed uint64

	// eventCount is the counter of the one eventfd, and eventData the
	// data word registered with the one epoll instance to report it.
	eventCount uint64
	eventData  uint64
	eventArmed bool
}

// Init starts the kernel with one runnable thread, the caller.
func (k *Kernel) Init(seed uint64) {
	k.threads[0] = Thread{state: threadRunnable, tid: 1}
	k.cur = 0
	k.lastTID = 1
	k.seed = seed | 1
}

// Current returns the context of the running thread. It changes when a
// call blocks or yields.
func (k *Kernel) Current() *Context {
	return &k.threads[k.cur].Context
}

// CurrentTID returns the thread ID of the running thread.
func (k *Kernel) CurrentTID() int32 {
	return k.threads[k.cur].tid
}

// Threads returns the number of live threads.
func (k *Kernel) Threads() int {
	n := 0
	for i := range k.threads {
		if k.threads[i].state != threadFree {
			n++
		}
	}
	return n
}

// bytesAt returns the runtime memory at addr.
func bytesAt(addr, length uint64) []byte {
	p := uintptr(addr)
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), length)
}

// valueAt returns the runtime memory at addr as a T.
func valueAt[T any](addr uint64) *T {
	p := uintptr(addr)
	return (*T)(unsafe.Pointer(p))
}
