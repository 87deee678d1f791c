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

// Package loader loads static ELF executables into a fresh address space and
// builds their initial stack.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/cleanup"
	"kestrel.dev/kestrel/pkg/errors/linuxerr"
	"kestrel.dev/kestrel/pkg/fsprovider"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/mm"
)

var (
	// ErrInvalidImage is returned for files that are not static aarch64
	// ELF64 executables.
	ErrInvalidImage = errors.New("invalid ELF image")

	// ErrUnsupportedSegment is returned for loadable segments outside the
	// user part of the address space.
	ErrUnsupportedSegment = errors.New("unsupported segment")
)

// LoadArgs describe the executable to load.
type LoadArgs struct {
	// MemoryManager is the empty address space to load into.
	MemoryManager *mm.MemoryManager

	// Opener resolves Filename.
	Opener fsprovider.Provider

	// Filename is the path of the executable. It is also the AT_EXECFN
	// string.
	Filename string

	// Argv is the argument vector.
	Argv []string

	// Envv is the environment.
	Envv []string

	// Random supplies the AT_RANDOM bytes.
	Random io.Reader

	// HWCap is the AT_HWCAP value.
	HWCap uint64
}

// ImageInfo describes a loaded executable.
type ImageInfo struct {
	*Image

	// Stack is the stack reservation.
	Stack hostarch.AddrRange

	// StackPointer is the initial stack pointer. It points at argc.
	StackPointer hostarch.Addr

	// Layout locates argv and envp on the stack.
	Layout arch.StackLayout
}

// randomBytes is the size of the AT_RANDOM block.
const randomBytes = 16

// Load loads the executable args.Filename into args.MemoryManager, maps and
// fills its stack, and sets the heap start. On failure nothing remains
// mapped.
func Load(ctx context.Context, args LoadArgs) (ImageInfo, error) {
	if err := ctx.Err(); err != nil {
		return ImageInfo{}, err
	}
	filename := fsprovider.Clean(args.Filename)
	f, err := args.Opener.Resolve(filename)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("opening %q: %w", filename, err)
	}
	defer f.Close()
	if f.Mode()&linux.FileTypeMask != linux.ModeRegular {
		return ImageInfo{}, fmt.Errorf("%q is not a regular file: %w", filename, linuxerr.EACCES)
	}

	m := args.MemoryManager
	layout := m.Layout()
	img, err := Parse(f, f.Size(), Bounds{Min: layout.MinUserAddress, Max: layout.UserTop})
	if err != nil {
		log.Infof("Rejecting %q: %v", filename, err)
		return ImageInfo{}, err
	}

	cu := cleanup.Make(func() {})
	defer cu.Clean()

	if err := mapImage(m, f, img, &cu); err != nil {
		return ImageInfo{}, err
	}

	stackRange, err := m.MapStack()
	if err != nil {
		return ImageInfo{}, fmt.Errorf("mapping stack: %w", err)
	}
	cu.Add(func() {
		m.MUnmap(stackRange.Start, stackRange.Length())
	})

	info := ImageInfo{Image: img, Stack: stackRange}
	stack := &arch.Stack{IO: m, Bottom: stackRange.End}
	if err := buildStack(stack, args, filename, img, &info); err != nil {
		return ImageInfo{}, fmt.Errorf("building stack: %w", err)
	}

	m.BrkSetup(img.End)
	cu.Release()
	log.Infof("Loaded %q: entry %v, sp %v, brk %v", filename, img.Entry, info.StackPointer, img.End)
	return info, nil
}

// mapImage establishes the mappings of img and fills them from f. Each
// mapping added is registered on cu for removal.
func mapImage(m *mm.MemoryManager, f io.ReaderAt, img *Image, cu *cleanup.Cleanup) error {
	for _, mp := range img.Mappings {
		if _, err := m.MMap(mm.MMapOpts{
			Addr:      mp.Range.Start,
			Length:    mp.Range.Length(),
			Fixed:     true,
			NoReplace: true,
			Perms:     mp.Perms,
			Precommit: true,
		}); err != nil {
			return fmt.Errorf("mapping %v: %w", mp.Range, err)
		}
		r := mp.Range
		cu.Add(func() {
			m.MUnmap(r.Start, r.Length())
		})
	}

	opts := mm.IOOpts{IgnorePermissions: true}
	for _, s := range img.Segments {
		if s.FileSize > 0 {
			buf := make([]byte, s.FileSize)
			if _, err := f.ReadAt(buf, int64(s.Offset)); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading segment %v: %w", s, err)
			}
			if _, err := m.CopyOut(s.Addr, buf, opts); err != nil {
				return fmt.Errorf("copying segment %v: %w", s, err)
			}
		}
		// Fresh frames are zero, but a page shared with another segment
		// may already hold its file bytes.
		if bss := s.MemSize - s.FileSize; bss > 0 {
			if _, err := m.ZeroOut(s.Addr+hostarch.Addr(s.FileSize), int64(bss), opts); err != nil {
				return fmt.Errorf("zeroing segment %v: %w", s, err)
			}
		}
	}
	return nil
}

// buildStack pushes the AT_RANDOM block, the platform and execfn strings,
// and then argv, envp and the auxiliary vector.
func buildStack(stack *arch.Stack, args LoadArgs, filename string, img *Image, info *ImageInfo) error {
	random := make([]byte, randomBytes)
	if _, err := io.ReadFull(args.Random, random); err != nil {
		return fmt.Errorf("reading AT_RANDOM bytes: %w", err)
	}
	randomAddr, err := stack.PushBytes(random)
	if err != nil {
		return err
	}
	platformAddr, err := stack.PushString(linux.PlatformAArch64)
	if err != nil {
		return err
	}
	execfnAddr, err := stack.PushString(filename)
	if err != nil {
		return err
	}

	auxv := arch.Auxv{
		{Key: linux.AT_PHDR, Value: img.Phdr},
		{Key: linux.AT_PHENT, Value: hostarch.Addr(img.PhEnt)},
		{Key: linux.AT_PHNUM, Value: hostarch.Addr(img.PhNum)},
		{Key: linux.AT_PAGESZ, Value: hostarch.PageSize},
		{Key: linux.AT_BASE, Value: 0},
		{Key: linux.AT_FLAGS, Value: 0},
		{Key: linux.AT_ENTRY, Value: img.Entry},
		{Key: linux.AT_UID, Value: 0},
		{Key: linux.AT_EUID, Value: 0},
		{Key: linux.AT_GID, Value: 0},
		{Key: linux.AT_EGID, Value: 0},
		{Key: linux.AT_HWCAP, Value: hostarch.Addr(args.HWCap)},
		{Key: linux.AT_CLKTCK, Value: linux.ClockTick},
		{Key: linux.AT_SECURE, Value: 0},
		{Key: linux.AT_RANDOM, Value: randomAddr},
		{Key: linux.AT_EXECFN, Value: execfnAddr},
		{Key: linux.AT_PLATFORM, Value: platformAddr},
	}
	argv := args.Argv
	if len(argv) == 0 {
		argv = []string{filename}
	}
	sl, err := stack.Load(argv, args.Envv, auxv)
	if err != nil {
		return err
	}
	info.Layout = sl
	info.StackPointer = stack.Bottom
	return nil
}
