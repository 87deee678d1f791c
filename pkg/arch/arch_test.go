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

package arch

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/binary"
	"kestrel.dev/kestrel/pkg/hostarch"
)

// flatMemory is a StackIO over a contiguous buffer.
type flatMemory struct {
	base hostarch.Addr
	data []byte
}

func (m *flatMemory) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	if addr < m.base || uint64(addr-m.base)+uint64(len(src)) > uint64(len(m.data)) {
		return 0, fmt.Errorf("fault at %v", addr)
	}
	return copy(m.data[addr-m.base:], src), nil
}

func (m *flatMemory) word(addr hostarch.Addr) uint64 {
	return binary.LittleEndian.Uint64(m.data[addr-m.base:])
}

func (m *flatMemory) cstring(addr hostarch.Addr) string {
	b := m.data[addr-m.base:]
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func TestSyscallArgs(t *testing.T) {
	var c Context
	for i := range 6 {
		c.Regs.Regs[i] = uint64(i + 100)
	}
	c.Regs.Regs[8] = 64
	if got := c.SyscallNo(); got != 64 {
		t.Errorf("SyscallNo = %d, want 64", got)
	}
	args := c.SyscallArgs()
	for i, a := range args {
		if a.Value != uintptr(i+100) {
			t.Errorf("arg %d = %d, want %d", i, a.Value, i+100)
		}
	}
	c.SetReturn(^uintptr(8)) // -9
	if got := c.SyscallArgs()[0].Int(); got != -9 {
		t.Errorf("return as int = %d, want -9", got)
	}
}

func TestRegistersString(t *testing.T) {
	var r Registers
	r.Regs[0] = 0xdead
	r.Pc = 0x400000
	s := r.String()
	for _, want := range []string{"x0  000000000000dead", "pc  0000000000400000", "x30 "} {
		if !strings.Contains(s, want) {
			t.Errorf("dump %q lacks %q", s, want)
		}
	}
}

func TestStackLoad(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
		env  []string
		aux  Auxv
	}{
		{name: "no env", args: []string{"/init"}},
		{name: "args and env", args: []string{"/bin/echo", "hi"}, env: []string{"HOME=/", "TERM=vt100"}},
		{
			name: "odd vector",
			args: []string{"a", "b", "c"},
			aux:  Auxv{{linux.AT_PAGESZ, hostarch.PageSize}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			const top = hostarch.Addr(0x10000)
			m := &flatMemory{base: top - 0x1000, data: make([]byte, 0x1000)}
			s := Stack{IO: m, Bottom: top - 3} // Deliberately misaligned.
			l, err := s.Load(tc.args, tc.env, tc.aux)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if s.Bottom%StackAlignment != 0 {
				t.Errorf("Bottom %v not aligned", s.Bottom)
			}
			sp := s.Bottom
			if got := m.word(sp); got != uint64(len(tc.args)) {
				t.Errorf("argc = %d, want %d", got, len(tc.args))
			}
			var gotArgs, gotEnv []string
			p := sp + 8
			for ; m.word(p) != 0; p += 8 {
				a := hostarch.Addr(m.word(p))
				if a < l.ArgvStart || a >= l.ArgvEnd {
					t.Errorf("argv pointer %v outside %v-%v", a, l.ArgvStart, l.ArgvEnd)
				}
				gotArgs = append(gotArgs, m.cstring(a))
			}
			for p += 8; m.word(p) != 0; p += 8 {
				gotEnv = append(gotEnv, m.cstring(hostarch.Addr(m.word(p))))
			}
			var gotAux Auxv
			for p += 8; m.word(p) != linux.AT_NULL; p += 16 {
				gotAux = append(gotAux, AuxEntry{m.word(p), hostarch.Addr(m.word(p + 8))})
			}
			if diff := cmp.Diff(tc.args, gotArgs); diff != "" {
				t.Errorf("argv mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.env, gotEnv); diff != "" {
				t.Errorf("envp mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.aux, gotAux); diff != "" {
				t.Errorf("auxv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStackOverflow(t *testing.T) {
	m := &flatMemory{base: 0x1000, data: make([]byte, 16)}
	s := Stack{IO: m, Bottom: 0x1010}
	if _, err := s.PushString(strings.Repeat("x", 64)); err == nil {
		t.Errorf("push past the stack mapping succeeded")
	}
	if s.Bottom != 0x1010 {
		t.Errorf("failed push moved Bottom to %v", s.Bottom)
	}
}
