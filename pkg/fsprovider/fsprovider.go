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

// Package fsprovider resolves paths to read-only files for the kernel.
//
// The kernel has no filesystem of its own. Everything openat(2) can reach
// comes from a Provider: a host directory, an initial ramdisk, or a 9P
// server.
package fsprovider

import (
	"errors"
	"io"
	"path"
	"strings"

	"kestrel.dev/kestrel/pkg/abi/linux"
)

// ErrNotFound is returned by Resolve when nothing exists at the path.
var ErrNotFound = errors.New("file not found")

// File is an open, read-only file.
type File interface {
	io.ReaderAt
	io.Closer

	// Size returns the file size in bytes.
	Size() int64

	// Mode returns the Linux st_mode, type bits included.
	Mode() uint32
}

// Provider resolves absolute paths.
type Provider interface {
	// Resolve opens the file at path, which is absolute and clean.
	Resolve(path string) (File, error)
}

// Clean returns p as an absolute, clean path. Relative paths are taken
// relative to the root, and ".." never escapes it.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// Components splits a clean absolute path into its names. The root has none.
func Components(p string) []string {
	p = strings.TrimPrefix(Clean(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// IsDir returns true if f is a directory.
func IsDir(f File) bool {
	return f.Mode()&linux.FileTypeMask == linux.ModeDirectory
}
