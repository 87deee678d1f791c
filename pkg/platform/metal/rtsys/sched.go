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

package rtsys

import (
	"sync/atomic"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/abi/linux/errno"
)

const maxThreads = 32

type threadState uint8

const (
	threadFree threadState = iota
	threadRunnable
	threadBlocked
)

// Thread is a runtime thread. Context must stay the first field.
type Thread struct {
	Context Context

	state threadState
	tid   int32

	// key is the futex address a blocked thread waits on. Sleepers use
	// zero and epoll waiters epollKey.
	key uint64

	// deadline is the Nanotime at which a blocked thread gives up, or
	// negative for none. timeout is its result then.
	deadline int64
	timeout  uint64
}

// epollKey is the wait key of threads in epoll_pwait. It is not a valid
// futex address.
const epollKey = 1

func errnoRet(e errno.Errno) uint64 {
	return uint64(-int64(e))
}

// block parks the running thread and picks another. The thread's result is
// set when it is woken.
func (k *Kernel) block(key uint64, deadline int64, timeout uint64) {
	t := &k.threads[k.cur]
	t.state = threadBlocked
	t.key = key
	t.deadline = deadline
	t.timeout = timeout
	k.schedule()
}

func (k *Kernel) wake(t *Thread, ret uint64) {
	t.state = threadRunnable
	t.Context.Regs[0] = ret
}

// expire wakes the blocked threads whose deadline has passed.
func (k *Kernel) expire(now int64) {
	for i := range k.threads {
		t := &k.threads[i]
		if t.state == threadBlocked && t.deadline >= 0 && t.deadline <= now {
			k.wake(t, t.timeout)
		}
	}
}

// schedule makes the next runnable thread after the current one current,
// waiting for a deadline if there is none. If every thread is blocked for
// good it sets stuck.
func (k *Kernel) schedule() {
	for {
		k.expire(k.Clock.Nanotime())
		for n := 1; n <= maxThreads; n++ {
			i := (k.cur + n) % maxThreads
			if k.threads[i].state == threadRunnable {
				k.cur = i
				return
			}
		}
		next := int64(-1)
		for i := range k.threads {
			t := &k.threads[i]
			if t.state == threadBlocked && t.deadline >= 0 && (next < 0 || t.deadline < next) {
				next = t.deadline
			}
		}
		if next < 0 {
			k.stuck = true
			return
		}
		for k.Clock.Nanotime() < next {
		}
	}
}

// timespecDeadline returns the deadline of a relative timeout at ts, or -1
// if ts is zero.
func (k *Kernel) timespecDeadline(ts uint64) int64 {
	if ts == 0 || !k.Space.Prefault(ts, 16, false) {
		return -1
	}
	d := valueAt[linux.Timespec](ts).Duration()
	if d < 0 {
		d = 0
	}
	return k.Clock.Nanotime() + int64(d)
}

// clone starts a thread sharing everything with the caller, running from
// the same point with x0 zero on stack.
func (k *Kernel) clone(flags, stack uint64) uint64 {
	const want = linux.CLONE_VM | linux.CLONE_THREAD | linux.CLONE_SIGHAND
	if flags&want != want {
		return errnoRet(errno.ENOSYS)
	}
	for i := range k.threads {
		t := &k.threads[i]
		if t.state != threadFree {
			continue
		}
		k.lastTID++
		*t = Thread{
			Context: k.threads[k.cur].Context,
			state:   threadRunnable,
			tid:     k.lastTID,
		}
		t.Context.Regs[0] = 0
		if stack != 0 {
			t.Context.SP = stack
		}
		return uint64(t.tid)
	}
	return errnoRet(errno.EAGAIN)
}

// futex implements FUTEX_WAIT and FUTEX_WAKE. blocked is set if the caller
// was parked, in which case its result comes from the waker.
func (k *Kernel) futex(addr uint64, op, val uint32, timeout uint64) (ret uint64, blocked bool) {
	switch op &^ (linux.FUTEX_PRIVATE_FLAG | linux.FUTEX_CLOCK_REALTIME) {
	case linux.FUTEX_WAIT:
		if addr&3 != 0 {
			return errnoRet(errno.EINVAL), false
		}
		if !k.Space.Prefault(addr, 4, false) {
			return errnoRet(errno.EFAULT), false
		}
		if atomic.LoadUint32(valueAt[uint32](addr)) != val {
			return errnoRet(errno.EAGAIN), false
		}
		k.block(addr, k.timespecDeadline(timeout), errnoRet(errno.ETIMEDOUT))
		return 0, true
	case linux.FUTEX_WAKE:
		return uint64(k.wakeKey(addr, int(int32(val)))), false
	}
	return errnoRet(errno.ENOSYS), false
}

// wakeKey wakes up to n threads blocked on key.
func (k *Kernel) wakeKey(key uint64, n int) int {
	woken := 0
	for i := range k.threads {
		if woken >= n {
			break
		}
		t := &k.threads[i]
		if t.state == threadBlocked && t.key == key {
			k.wake(t, 0)
			woken++
		}
	}
	return woken
}

// exit ends the running thread.
func (k *Kernel) exit() {
	k.threads[k.cur].state = threadFree
	k.schedule()
}
