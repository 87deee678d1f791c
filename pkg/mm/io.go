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

package mm

import (
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/hostarch"
)

// pageLocked returns the bytes of the page containing addr, from addr to the
// end of the page, populating the page if its region allows it.
//
// Preconditions: mm.mu is held.
func (mm *MemoryManager) pageLocked(addr hostarch.Addr, at hostarch.AccessType, opts IOOpts) ([]byte, error) {
	v := mm.findLocked(addr)
	if v == nil {
		return nil, linuxerr.EFAULT
	}
	if !opts.IgnorePermissions && !v.perms.SupersetOf(at) {
		return nil, linuxerr.EFAULT
	}
	page := addr.RoundDown()
	physical, _, ok := mm.pt.Lookup(page)
	if !ok {
		if err := mm.mapFreshLocked(page, v.perms); err != nil {
			return nil, linuxerr.EFAULT
		}
		physical, _, _ = mm.pt.Lookup(page)
	}
	b, err := mm.frames.Memory().Slice(physical, hostarch.PageSize)
	if err != nil {
		return nil, linuxerr.EFAULT
	}
	return b[addr.PageOffset():], nil
}

// forEachPageLocked calls fn with consecutive chunks of [addr, addr+length),
// each within one page. It stops at the first error and returns the number
// of bytes handled.
//
// Preconditions: mm.mu is held.
func (mm *MemoryManager) forEachPageLocked(addr hostarch.Addr, length int, at hostarch.AccessType, opts IOOpts, fn func(b []byte) int) (int, error) {
	if _, ok := addr.AddLength(uint64(length)); !ok {
		return 0, linuxerr.EFAULT
	}
	done := 0
	for done < length {
		b, err := mm.pageLocked(addr+hostarch.Addr(done), at, opts)
		if err != nil {
			return done, err
		}
		if len(b) > length-done {
			b = b[:length-done]
		}
		n := fn(b)
		done += n
		if n < len(b) {
			break
		}
	}
	return done, nil
}

// CopyOut copies src to the user address addr. It returns the number of
// bytes copied and EFAULT if the copy stopped short.
func (mm *MemoryManager) CopyOut(addr hostarch.Addr, src []byte, opts IOOpts) (int, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.forEachPageLocked(addr, len(src), hostarch.Write, opts, func(b []byte) int {
		n := copy(b, src)
		src = src[n:]
		return n
	})
}

// CopyOutBytes implements arch.StackIO.CopyOutBytes.
func (mm *MemoryManager) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	return mm.CopyOut(addr, src, IOOpts{})
}

// CopyIn copies from the user address addr to dst. It returns the number of
// bytes copied and EFAULT if the copy stopped short.
func (mm *MemoryManager) CopyIn(addr hostarch.Addr, dst []byte, opts IOOpts) (int, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.forEachPageLocked(addr, len(dst), hostarch.Read, opts, func(b []byte) int {
		n := copy(dst, b)
		dst = dst[n:]
		return n
	})
}

// ZeroOut zeroes [addr, addr+length) in user memory.
func (mm *MemoryManager) ZeroOut(addr hostarch.Addr, length int64, opts IOOpts) (int64, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	n, err := mm.forEachPageLocked(addr, int(length), hostarch.Write, opts, func(b []byte) int {
		clear(b)
		return len(b)
	})
	return int64(n), err
}

// CopyInString copies a NUL-terminated string of at most maxlen bytes,
// excluding the terminator, from addr. It fails with ENAMETOOLONG if no
// terminator is found in range.
func (mm *MemoryManager) CopyInString(addr hostarch.Addr, maxlen int) (string, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var buf []byte
	terminated := false
	_, err := mm.forEachPageLocked(addr, maxlen+1, hostarch.Read, IOOpts{}, func(b []byte) int {
		for i, c := range b {
			if c == 0 {
				buf = append(buf, b[:i]...)
				terminated = true
				return i
			}
		}
		buf = append(buf, b...)
		return len(b)
	})
	if terminated {
		return string(buf), nil
	}
	if err != nil {
		return "", err
	}
	return "", linuxerr.ENAMETOOLONG
}
