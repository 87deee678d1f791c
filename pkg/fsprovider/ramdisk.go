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

package fsprovider

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/u-root/u-root/pkg/cpio"
	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/log"
)

// maxSymlinks bounds symbolic link resolution, as MAXSYMLINKS in Linux.
const maxSymlinks = 40

// ramEntry is one file of a Ramdisk.
type ramEntry struct {
	data   io.ReaderAt
	size   int64
	mode   uint32
	target string
}

// Ramdisk is an in-memory tree. It is filled from a cpio archive (the
// initial ramdisk) or built directly with Add.
type Ramdisk struct {
	mu      sync.RWMutex
	entries map[string]*ramEntry
}

// NewRamdisk returns a ramdisk holding only the root directory.
func NewRamdisk() *Ramdisk {
	return &Ramdisk{
		entries: map[string]*ramEntry{
			"/": {mode: linux.ModeDirectory | 0755},
		},
	}
}

// NewRamdiskFromCPIO reads a newc cpio archive. File contents are not
// copied: they stay in archive and are read through it.
func NewRamdiskFromCPIO(archive io.ReaderAt) (*Ramdisk, error) {
	r := NewRamdisk()
	rr := cpio.Newc.Reader(archive)
	for {
		rec, err := rr.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading cpio archive: %w", err)
		}
		if rec.Name == cpio.Trailer {
			break
		}
		name := Clean(rec.Name)
		mode := uint32(rec.Mode)
		switch mode & linux.FileTypeMask {
		case linux.ModeDirectory:
			r.addLocked(name, &ramEntry{mode: mode})
		case linux.ModeRegular:
			r.addLocked(name, &ramEntry{data: rec.ReaderAt, size: int64(rec.FileSize), mode: mode})
		case linux.ModeSymlink:
			target, err := io.ReadAll(io.NewSectionReader(rec.ReaderAt, 0, int64(rec.FileSize)))
			if err != nil {
				return nil, fmt.Errorf("reading link %s: %w", name, err)
			}
			r.addLocked(name, &ramEntry{mode: mode, target: string(target)})
		default:
			log.Debugf("ramdisk: skipping %s with mode %#o", name, mode)
		}
	}
	log.Infof("Ramdisk: %d entries", len(r.entries))
	return r, nil
}

// Add adds a regular file, creating missing parent directories.
func (r *Ramdisk) Add(p string, data []byte, perm uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(Clean(p), &ramEntry{
		data: bytes.NewReader(data),
		size: int64(len(data)),
		mode: linux.ModeRegular | perm&linux.PermissionsMask,
	})
}

// Symlink adds a symbolic link at p pointing to target.
func (r *Ramdisk) Symlink(p, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(Clean(p), &ramEntry{mode: linux.ModeSymlink | 0777, target: target})
}

func (r *Ramdisk) addLocked(p string, e *ramEntry) {
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		if _, ok := r.entries[dir]; !ok {
			r.entries[dir] = &ramEntry{mode: linux.ModeDirectory | 0755}
		}
		if dir == "/" {
			break
		}
	}
	r.entries[p] = e
}

// Resolve implements Provider.Resolve. Symbolic links are followed in every
// component.
func (r *Ramdisk) Resolve(p string) (File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.lookupLocked(Clean(p), 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return &ramFile{e: e}, nil
}

var errTooManyLinks = errors.New("too many levels of symbolic links")

func (r *Ramdisk) lookupLocked(p string, depth int) (*ramEntry, error) {
	cur := "/"
	names := Components(p)
	for i, name := range names {
		next := path.Join(cur, name)
		e, ok := r.entries[next]
		if !ok {
			return nil, ErrNotFound
		}
		if e.mode&linux.FileTypeMask == linux.ModeSymlink {
			if depth >= maxSymlinks {
				return nil, errTooManyLinks
			}
			target := e.target
			if !path.IsAbs(target) {
				target = path.Join(cur, target)
			}
			rest := path.Join(append([]string{target}, names[i+1:]...)...)
			return r.lookupLocked(rest, depth+1)
		}
		cur = next
	}
	return r.entries[cur], nil
}

type ramFile struct {
	e *ramEntry
}

// ReadAt implements io.ReaderAt.
func (f *ramFile) ReadAt(p []byte, off int64) (int, error) {
	if f.e.data == nil {
		return 0, fmt.Errorf("read of a directory")
	}
	if off >= f.e.size {
		return 0, io.EOF
	}
	if rem := f.e.size - off; int64(len(p)) > rem {
		n, err := f.e.data.ReadAt(p[:rem], off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return f.e.data.ReadAt(p, off)
}

// Close implements io.Closer.
func (*ramFile) Close() error { return nil }

// Size implements File.Size.
func (f *ramFile) Size() int64 { return f.e.size }

// Mode implements File.Mode.
func (f *ramFile) Mode() uint32 { return f.e.mode }
