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
	"maps"
	"slices"
	"strings"
	"sync"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/bitmap"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
)

// MaxFDs is the size of the descriptor table, reported as RLIMIT_NOFILE.
const MaxFDs = 1024

// FDFlags define flags for an individual descriptor.
type FDFlags struct {
	// CloseOnExec indicates the descriptor should be closed on exec.
	CloseOnExec bool
}

// ToLinuxFDFlags converts a kernel.FDFlags object to a Linux descriptor flags
// representation.
func (f FDFlags) ToLinuxFDFlags() (mask uint) {
	if f.CloseOnExec {
		mask |= linux.FD_CLOEXEC
	}
	return
}

// descriptor holds the details about a file descriptor, namely a pointer to
// the file itself and the descriptor flags.
type descriptor struct {
	file  *FileDescription
	flags FDFlags
}

// FDTable is used to manage File references and flags.
//
// New descriptors always take the lowest free number, and a number is never
// handed out again while it is open.
type FDTable struct {
	mu sync.Mutex

	// descriptors holds the open descriptors.
	descriptors map[int32]descriptor

	// free has a bit set for every unused descriptor number.
	free bitmap.Bitmap
}

// NewFDTable returns an empty table.
func NewFDTable() *FDTable {
	f := &FDTable{
		descriptors: make(map[int32]descriptor),
		free:        bitmap.New(MaxFDs),
	}
	for i := uint32(0); i < MaxFDs; i++ {
		f.free.Add(i)
	}
	return f
}

// Size returns the number of open descriptors.
func (f *FDTable) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.descriptors)
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for _, fd := range slices.Sorted(maps.Keys(f.descriptors)) {
		d := f.descriptors[fd]
		fmt.Fprintf(&b, "\tfd:%d => name %s\n", fd, d.file.Path())
	}
	return b.String()
}

// NewFD installs file at the lowest free descriptor greater than or equal to
// minfd and takes a reference on it.
func (f *FDTable) NewFD(minfd int32, file *FileDescription, flags FDFlags) (int32, error) {
	if minfd < 0 {
		return -1, linuxerr.EINVAL
	}
	if minfd >= MaxFDs {
		return -1, linuxerr.EMFILE
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, err := f.free.FirstOne(uint32(minfd))
	if err != nil {
		return -1, linuxerr.EMFILE
	}
	f.setLocked(int32(fd), file, flags)
	return int32(fd), nil
}

// NewFDAt installs file at fd, closing whatever was open there, and takes a
// reference on it.
func (f *FDTable) NewFDAt(fd int32, file *FileDescription, flags FDFlags) error {
	if fd < 0 || fd >= MaxFDs {
		return linuxerr.EBADF
	}
	f.mu.Lock()
	old, ok := f.descriptors[fd]
	f.setLocked(fd, file, flags)
	f.mu.Unlock()
	if ok {
		old.file.DecRef()
	}
	return nil
}

// Preconditions: f.mu is held.
func (f *FDTable) setLocked(fd int32, file *FileDescription, flags FDFlags) {
	file.IncRef()
	f.descriptors[fd] = descriptor{file: file, flags: flags}
	f.free.Remove(uint32(fd))
}

// SetFlags sets the flags for the given file descriptor.
func (f *FDTable) SetFlags(fd int32, flags FDFlags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.descriptors[fd]
	if !ok {
		return linuxerr.EBADF
	}
	d.flags = flags
	f.descriptors[fd] = d
	return nil
}

// Get returns the file and the flags for the FD or nil if no file is defined
// for the given fd. The caller does not get a reference; the table is only
// modified by the task itself.
func (f *FDTable) Get(fd int32) (*FileDescription, FDFlags) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.descriptors[fd]
	if !ok {
		return nil, FDFlags{}
	}
	return d.file, d.flags
}

// Remove removes an FD and drops the table's reference. It returns false if
// fd was not open.
func (f *FDTable) Remove(fd int32) bool {
	f.mu.Lock()
	d, ok := f.descriptors[fd]
	if ok {
		delete(f.descriptors, fd)
		f.free.Add(uint32(fd))
	}
	f.mu.Unlock()
	if ok {
		d.file.DecRef()
	}
	return ok
}

// RemoveAll closes every descriptor.
func (f *FDTable) RemoveAll() {
	f.mu.Lock()
	descriptors := f.descriptors
	f.descriptors = make(map[int32]descriptor)
	for fd := range descriptors {
		f.free.Add(uint32(fd))
	}
	f.mu.Unlock()
	for _, d := range descriptors {
		d.file.DecRef()
	}
}
