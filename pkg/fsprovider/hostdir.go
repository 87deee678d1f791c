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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"kestrel.dev/kestrel/pkg/abi/linux"
)

// HostDir serves a directory of the host. Paths cannot escape it, through
// ".." or symbolic links.
type HostDir struct {
	root *os.Root
}

// NewHostDir opens dir as a root.
func NewHostDir(dir string) (*HostDir, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening root directory: %w", err)
	}
	return &HostDir{root: root}, nil
}

// Close releases the directory.
func (h *HostDir) Close() error {
	return h.root.Close()
}

// Resolve implements Provider.Resolve.
func (h *HostDir) Resolve(p string) (File, error) {
	name := strings.TrimPrefix(Clean(p), "/")
	if name == "" {
		name = "."
	}
	f, err := h.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &hostFile{File: f, size: fi.Size(), mode: linuxMode(fi.Mode())}, nil
}

type hostFile struct {
	*os.File
	size int64
	mode uint32
}

// Size implements File.Size.
func (f *hostFile) Size() int64 { return f.size }

// Mode implements File.Mode.
func (f *hostFile) Mode() uint32 { return f.mode }

// linuxMode converts a Go file mode to st_mode.
func linuxMode(m fs.FileMode) uint32 {
	mode := uint32(m.Perm())
	switch m.Type() {
	case fs.ModeDir:
		mode |= linux.ModeDirectory
	case fs.ModeSymlink:
		mode |= linux.ModeSymlink
	case fs.ModeNamedPipe:
		mode |= linux.ModeNamedPipe
	case fs.ModeSocket:
		mode |= linux.ModeSocket
	case fs.ModeDevice:
		mode |= linux.ModeBlockDevice
	case fs.ModeDevice | fs.ModeCharDevice:
		mode |= linux.ModeCharacterDevice
	default:
		mode |= linux.ModeRegular
	}
	return mode
}
