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

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/binary"
	"kestrel.dev/kestrel/pkg/hostarch"
)

// StackIO writes into the address space holding the stack.
type StackIO interface {
	// CopyOutBytes copies src to addr and returns the number of bytes
	// copied.
	CopyOutBytes(addr hostarch.Addr, src []byte) (int, error)
}

// Stack is a simple wrapper around a StackIO and an address. Stack
// implements a stack that grows downward: pushes move Bottom down.
type Stack struct {
	// IO is the memory the stack lives in.
	IO StackIO

	// Bottom is the current bottom of the stack (the lowest pushed byte).
	Bottom hostarch.Addr
}

// AuxEntry represents an entry in an ELF auxiliary vector.
type AuxEntry struct {
	Key   uint64
	Value hostarch.Addr
}

// Auxv represents an ELF auxiliary vector.
type Auxv []AuxEntry

// StackLayout describes the location of the arguments and environment on the
// stack.
type StackLayout struct {
	// ArgvStart is the beginning of the argument vector.
	ArgvStart hostarch.Addr

	// ArgvEnd is the end of the argument vector.
	ArgvEnd hostarch.Addr

	// EnvvStart is the beginning of the environment vector.
	EnvvStart hostarch.Addr

	// EnvvEnd is the end of the environment vector.
	EnvvEnd hostarch.Addr
}

// PushBytes pushes b and returns its address.
func (s *Stack) PushBytes(b []byte) (hostarch.Addr, error) {
	start := s.Bottom - hostarch.Addr(len(b))
	if start > s.Bottom {
		return 0, fmt.Errorf("stack underflow pushing %d bytes at %v", len(b), s.Bottom)
	}
	n, err := s.IO.CopyOutBytes(start, b)
	if err != nil {
		return 0, err
	}
	if n != len(b) {
		return 0, fmt.Errorf("short stack write at %v: %d of %d bytes", start, n, len(b))
	}
	s.Bottom = start
	return start, nil
}

// PushString pushes str with a NUL terminator and returns its address.
func (s *Stack) PushString(str string) (hostarch.Addr, error) {
	b := make([]byte, len(str)+1)
	copy(b, str)
	return s.PushBytes(b)
}

// Align moves Bottom down to a multiple of n, which must be a power of two.
func (s *Stack) Align(n int) {
	s.Bottom &^= hostarch.Addr(n - 1)
}

// pushWords pushes words so that words[0] ends up at the lowest address.
func (s *Stack) pushWords(words []uint64) (hostarch.Addr, error) {
	buf := make([]byte, 0, 8*len(words))
	for _, w := range words {
		buf = binary.AppendUint64(buf, w)
	}
	return s.PushBytes(buf)
}

// Load pushes the given args, env and aux vector to the stack using the
// well-known format for a new executable. It returns the start and end of
// the argument and environment vectors.
//
// On return Bottom points at argc and is 16-byte aligned.
func (s *Stack) Load(args []string, env []string, aux Auxv) (StackLayout, error) {
	l := StackLayout{}

	// Strings go at the top, environment first so that argv lies below it
	// like in Linux.
	l.EnvvEnd = s.Bottom
	envAddrs := make([]hostarch.Addr, len(env))
	for i := len(env) - 1; i >= 0; i-- {
		addr, err := s.PushString(env[i])
		if err != nil {
			return StackLayout{}, err
		}
		envAddrs[i] = addr
	}
	l.EnvvStart = s.Bottom

	l.ArgvEnd = s.Bottom
	argAddrs := make([]hostarch.Addr, len(args))
	for i := len(args) - 1; i >= 0; i-- {
		addr, err := s.PushString(args[i])
		if err != nil {
			return StackLayout{}, err
		}
		argAddrs[i] = addr
	}
	l.ArgvStart = s.Bottom

	// argc, argv, NULL, envp, NULL, auxv pairs (terminated by AT_NULL).
	words := make([]uint64, 0, 1+len(args)+1+len(env)+1+2*(len(aux)+1))
	words = append(words, uint64(len(args)))
	for _, a := range argAddrs {
		words = append(words, uint64(a))
	}
	words = append(words, 0)
	for _, e := range envAddrs {
		words = append(words, uint64(e))
	}
	words = append(words, 0)
	for _, a := range aux {
		words = append(words, a.Key, uint64(a.Value))
	}
	words = append(words, linux.AT_NULL, 0)

	// The final bottom must be aligned, so pad between the strings and the
	// vectors.
	s.Align(StackAlignment)
	if len(words)%2 != 0 {
		if _, err := s.pushWords([]uint64{0}); err != nil {
			return StackLayout{}, err
		}
	}
	if _, err := s.pushWords(words); err != nil {
		return StackLayout{}, err
	}
	return l, nil
}
