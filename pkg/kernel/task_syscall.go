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

package kernel

import (
	"fmt"
	"strings"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/log"
)

// doSyscall runs the syscall in the trap frame and writes its result to X0.
// The architecture has already advanced PC past the svc.
func (t *Task) doSyscall() taskRunState {
	sysno := t.ac.SyscallNo()
	args := t.ac.SyscallArgs()

	rval, ctrl, err := t.executeSyscall(sysno, args)
	if ctrl != nil {
		return ctrl.next
	}
	if err != nil {
		t.ac.SetReturn(-uintptr(t.errno(sysno, err)))
	} else {
		t.ac.SetReturn(rval)
	}
	return (*runApp)(nil)
}

// executeSyscall looks up and runs the handler of sysno.
func (t *Task) executeSyscall(sysno uintptr, args arch.SyscallArguments) (rval uintptr, ctrl *SyscallControl, err error) {
	s := t.k.table
	if fn := s.Lookup(sysno); fn != nil {
		rval, ctrl, err = fn(t, args)
	} else {
		rval, err = s.Missing(t, sysno, args)
	}
	if t.k.strace && log.IsLogging(log.Info) {
		t.Infof("%s", t.straceString(sysno, args, rval, ctrl, err))
	}
	return rval, ctrl, err
}

// errno converts a handler error to an errno. Errors that carry none are
// kernel bugs and surface as EIO.
func (t *Task) errno(sysno uintptr, err error) uintptr {
	if e, ok := linuxerr.ToErrno(err); ok {
		return uintptr(e)
	}
	t.Warningf("%s: error without an errno: %v", t.k.table.LookupName(sysno), err)
	return uintptr(linuxerr.EIO.Errno())
}

// straceString formats a syscall the way strace(1) does, with raw
// arguments.
func (t *Task) straceString(sysno uintptr, args arch.SyscallArguments, rval uintptr, ctrl *SyscallControl, err error) string {
	var b strings.Builder
	b.WriteString(t.k.table.LookupName(sysno))
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%#x", a.Value)
	}
	b.WriteString(") = ")
	switch {
	case ctrl != nil:
		b.WriteByte('?')
	case err != nil:
		fmt.Fprintf(&b, "-1 (%v)", err)
	default:
		fmt.Fprintf(&b, "%#x", rval)
	}
	return b.String()
}
