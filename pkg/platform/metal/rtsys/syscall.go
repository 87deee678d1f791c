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
	"encoding/binary"
	"time"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/abi/linux/errno"
)

// System call numbers used by the runtime on arm64.
const (
	sysEventfd2         = 19
	sysEpollCreate1     = 20
	sysEpollCtl         = 21
	sysEpollPwait       = 22
	sysFcntl            = 25
	sysFaccessat        = 48
	sysOpenat           = 56
	sysClose            = 57
	sysRead             = 63
	sysWrite            = 64
	sysExit             = 93
	sysExitGroup        = 94
	sysFutex            = 98
	sysNanosleep        = 101
	sysClockGettime     = 113
	sysSchedGetaffinity = 123
	sysSchedYield       = 124
	sysKill             = 129
	sysTkill            = 130
	sysTgkill           = 131
	sysSigaltstack      = 132
	sysRtSigaction      = 134
	sysRtSigprocmask    = 135
	sysGetpid           = 172
	sysGettid           = 178
	sysBrk              = 214
	sysMunmap           = 215
	sysClone            = 220
	sysMmap             = 222
	sysMprotect         = 226
	sysMadvise          = 233
	sysGetrandom        = 278
)

// Descriptors of the single epoll instance and eventfd the runtime's
// network poller creates.
const (
	epollFD = 3
	eventFD = 4
)

// Exception classes and fault status codes from ESR_EL1.
const (
	ecDataAbortEL1 = 0x25
	esrWnR         = 1 << 6
	dfscMask       = 0x3f
	dfscTransLevel = 0x3c // Translation fault, level in the low bits.
	dfscTrans      = 0x04
)

// Syscall runs the system call the current thread made, and may switch the
// current thread. It returns false when the machine should stop: the
// runtime exited or every thread is blocked for good.
func (k *Kernel) Syscall() bool {
	t := &k.threads[k.cur]
	ret, blocked := k.call(&t.Context)
	if !blocked {
		t.Context.Regs[0] = ret
	}
	return !k.stuck
}

// Fault handles a synchronous exception other than a system call taken by
// the current thread. Translation faults on reserved memory are resolved;
// anything else returns false.
func (k *Kernel) Fault(esr, far uint64) bool {
	if esr>>26&0x3f != ecDataAbortEL1 || esr&dfscMask&dfscTransLevel != dfscTrans {
		return false
	}
	return k.Space.Fault(far, esr&esrWnR != 0)
}

// call dispatches one system call. blocked is set when the thread was parked
// and its result will be set by whoever wakes it.
func (k *Kernel) call(c *Context) (ret uint64, blocked bool) {
	a := &c.Regs
	switch a[8] {
	case sysRead:
		return k.read(int32(a[0]), a[1], a[2]), false
	case sysWrite:
		return k.write(int32(a[0]), a[1], a[2]), false
	case sysOpenat, sysFaccessat:
		return errnoRet(errno.ENOENT), false
	case sysClose, sysFcntl:
		return 0, false
	case sysEventfd2:
		k.eventCount = a[0] & 0xffff_ffff
		return eventFD, false
	case sysEpollCreate1:
		return epollFD, false
	case sysEpollCtl:
		return k.epollCtl(int32(a[0]), int32(a[1]), int32(a[2]), a[3]), false
	case sysEpollPwait:
		return k.epollWait(int32(a[0]), a[1], int32(a[2]), int32(a[3]))
	case sysExit:
		k.exit()
		return 0, true
	case sysExitGroup:
		k.stuck = true
		if k.Exit != nil {
			k.Exit(int32(a[0]))
		}
		return 0, true
	case sysFutex:
		return k.futex(a[0], uint32(a[1]), uint32(a[2]), a[3])
	case sysNanosleep:
		k.block(0, k.timespecDeadline(a[0]), 0)
		return 0, true
	case sysClockGettime:
		if a[1] == 0 || !k.Space.Prefault(a[1], 16, true) {
			return errnoRet(errno.EFAULT), false
		}
		*valueAt[linux.Timespec](a[1]) = linux.DurationToTimespec(time.Duration(k.Clock.Nanotime()))
		return 0, false
	case sysSchedGetaffinity:
		if a[1] < 8 {
			return errnoRet(errno.EINVAL), false
		}
		if !k.Space.Prefault(a[2], 8, true) {
			return errnoRet(errno.EFAULT), false
		}
		*valueAt[uint64](a[2]) = 1
		return 8, false
	case sysSchedYield:
		k.schedule()
		return 0, false
	case sysKill, sysTkill, sysTgkill:
		return 0, false
	case sysSigaltstack:
		if a[1] != 0 && k.Space.Prefault(a[1], 24, true) {
			*valueAt[linux.SignalStack](a[1]) = linux.SignalStack{Flags: linux.SS_DISABLE}
		}
		return 0, false
	case sysRtSigaction:
		if a[2] != 0 && k.Space.Prefault(a[2], linux.SizeOfSigAction, true) {
			*valueAt[linux.SigAction](a[2]) = linux.SigAction{}
		}
		return 0, false
	case sysRtSigprocmask:
		if a[2] != 0 && k.Space.Prefault(a[2], 8, true) {
			*valueAt[uint64](a[2]) = 0
		}
		return 0, false
	case sysGetpid:
		return 1, false
	case sysGettid:
		return uint64(k.threads[k.cur].tid), false
	case sysBrk:
		return 0, false
	case sysClone:
		return k.clone(a[0], a[1]), false
	case sysMmap:
		addr, err := k.Space.Mmap(a[0], a[1], uint32(a[2]), uint32(a[3]))
		if err != 0 {
			return errnoRet(err), false
		}
		return addr, false
	case sysMunmap:
		return errnoRet(k.Space.Munmap(a[0], a[1])), false
	case sysMprotect:
		return errnoRet(k.Space.Mprotect(a[0], a[1], uint32(a[2]))), false
	case sysMadvise:
		return errnoRet(k.Space.Madvise(a[0], a[1], int32(a[2]))), false
	case sysGetrandom:
		if !k.Space.Prefault(a[0], a[1], true) {
			return errnoRet(errno.EFAULT), false
		}
		k.Random(bytesAt(a[0], a[1]))
		return a[1], false
	}
	return errnoRet(errno.ENOSYS), false
}

func (k *Kernel) read(fd int32, addr, length uint64) uint64 {
	if fd != eventFD {
		return errnoRet(errno.EBADF)
	}
	if length < 8 {
		return errnoRet(errno.EINVAL)
	}
	if k.eventCount == 0 {
		return errnoRet(errno.EAGAIN)
	}
	if !k.Space.Prefault(addr, 8, true) {
		return errnoRet(errno.EFAULT)
	}
	binary.LittleEndian.PutUint64(bytesAt(addr, 8), k.eventCount)
	k.eventCount = 0
	return 8
}

func (k *Kernel) write(fd int32, addr, length uint64) uint64 {
	if !k.Space.Prefault(addr, length, false) {
		return errnoRet(errno.EFAULT)
	}
	switch fd {
	case 1, 2:
		for _, b := range bytesAt(addr, length) {
			k.putc(b)
		}
		return length
	case eventFD:
		if length < 8 {
			return errnoRet(errno.EINVAL)
		}
		k.eventCount += binary.LittleEndian.Uint64(bytesAt(addr, 8))
		k.wakeKey(epollKey, maxThreads)
		return 8
	}
	return errnoRet(errno.EBADF)
}

func (k *Kernel) epollCtl(epfd, op, fd int32, event uint64) uint64 {
	switch {
	case epfd != epollFD:
		return errnoRet(errno.EBADF)
	case fd != eventFD:
		return errnoRet(errno.EPERM)
	case op == linux.EPOLL_CTL_DEL:
		k.eventArmed = false
	case event == 0 || !k.Space.Prefault(event, 16, false):
		return errnoRet(errno.EFAULT)
	default:
		k.eventData = valueAt[linux.EpollEvent](event).Data
		k.eventArmed = true
	}
	return 0
}

// epollWait reports the eventfd when it is readable. Otherwise it waits for
// a write to it or the timeout, and reports nothing.
func (k *Kernel) epollWait(epfd int32, events uint64, maxEvents, timeoutMS int32) (uint64, bool) {
	switch {
	case epfd != epollFD:
		return errnoRet(errno.EBADF), false
	case maxEvents <= 0:
		return errnoRet(errno.EINVAL), false
	case k.eventArmed && k.eventCount > 0:
		if !k.Space.Prefault(events, 16, true) {
			return errnoRet(errno.EFAULT), false
		}
		*valueAt[linux.EpollEvent](events) = linux.EpollEvent{Events: linux.POLLIN, Data: k.eventData}
		return 1, false
	case timeoutMS == 0:
		return 0, false
	}
	deadline := int64(-1)
	if timeoutMS > 0 {
		deadline = k.Clock.Nanotime() + int64(timeoutMS)*int64(time.Millisecond)
	}
	k.block(epollKey, deadline, 0)
	return 0, true
}

// Random fills b from a xorshift generator. The runtime only uses it to seed
// its own generators.
func (k *Kernel) Random(b []byte) {
	for i := range b {
		if i%8 == 0 {
			k.seed ^= k.seed << 13
			k.seed ^= k.seed >> 7
			k.seed ^= k.seed << 17
		}
		b[i] = byte(k.seed >> (8 * (i % 8)))
	}
}

func (k *Kernel) putc(b byte) {
	if k.Console == nil {
		return
	}
	if b == '\n' {
		k.Console.WriteByte('\r')
	}
	k.Console.WriteByte(b)
}

// Print writes s to the console.
func (k *Kernel) Print(s string) {
	for i := 0; i < len(s); i++ {
		k.putc(s[i])
	}
}

// PrintHex writes v to the console in hexadecimal.
func (k *Kernel) PrintHex(v uint64) {
	const digits = "0123456789abcdef"
	k.Print("0x")
	for shift := 60; shift >= 0; shift -= 4 {
		k.putc(digits[v>>uint(shift)&0xf])
	}
}
