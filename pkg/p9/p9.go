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

// Package p9 is a 9P2000.L client, enough of one to read files from a
// host-exported tree.
//
// The client works over any byte stream: a TCP or unix connection on the
// hosted platform, or a virtio console port on QEMU. Requests are answered
// in order, one at a time.
package p9

import (
	"fmt"
	"strings"
)

// Version is the only protocol version the client speaks.
const Version = "9P2000.L"

// Tag is a message tag.
type Tag uint16

// FID is a file identifier.
type FID uint64

// UID is a numeric user ID.
type UID uint32

const (
	// NoTag is the tag used by Tversion.
	NoTag Tag = 0xffff

	// NoFID is a FID that refers to nothing. It is the afid of an
	// unauthenticated Tattach.
	NoFID FID = 0xffffffff

	// NoUID is the "nobody" UID.
	NoUID UID = 0xffffffff
)

// MsgType is a message type number.
type MsgType uint8

// Message types used by the client.
const (
	MsgRlerror  MsgType = 7
	MsgTlopen   MsgType = 12
	MsgRlopen   MsgType = 13
	MsgTgetattr MsgType = 24
	MsgRgetattr MsgType = 25
	MsgTversion MsgType = 100
	MsgRversion MsgType = 101
	MsgTattach  MsgType = 104
	MsgRattach  MsgType = 105
	MsgTwalk    MsgType = 110
	MsgRwalk    MsgType = 111
	MsgTread    MsgType = 116
	MsgRread    MsgType = 117
	MsgTclunk   MsgType = 120
	MsgRclunk   MsgType = 121
)

// QIDType is the type field of a QID.
type QIDType uint8

const (
	QIDTypeDir     QIDType = 0x80
	QIDTypeSymlink QIDType = 0x02
	QIDTypeRegular QIDType = 0x00
)

// QID is the server's unique identification of a file.
type QID struct {
	Type    QIDType
	Version uint32
	Path    uint64
}

// String implements fmt.Stringer.
func (q QID) String() string {
	return fmt.Sprintf("QID{Type: %d, Version: %d, Path: %d}", q.Type, q.Version, q.Path)
}

func (q *QID) decode(b *buffer) {
	q.Type = QIDType(b.Read8())
	q.Version = b.Read32()
	q.Path = b.Read64()
}

func (q *QID) encode(b *buffer) {
	b.Write8(uint8(q.Type))
	b.Write32(q.Version)
	b.Write64(q.Path)
}

// OpenFlags are the mode passed to Tlopen.
type OpenFlags uint32

const (
	ReadOnly  OpenFlags = 0
	WriteOnly OpenFlags = 1
	ReadWrite OpenFlags = 2
)

// String implements fmt.Stringer.
func (o OpenFlags) String() string {
	switch o & 3 {
	case ReadOnly:
		return "ReadOnly"
	case WriteOnly:
		return "WriteOnly"
	case ReadWrite:
		return "ReadWrite"
	}
	return fmt.Sprintf("OpenFlags(%#x)", uint32(o))
}

// FileMode is a Linux st_mode.
type FileMode uint32

const (
	// FileModeMask masks the file type.
	FileModeMask FileMode = 0170000

	ModeDirectory   FileMode = 0040000
	ModeRegular     FileMode = 0100000
	ModeSymlink     FileMode = 0120000
	ModeCharacter   FileMode = 0020000
	PermissionsMask FileMode = 0777
)

// FileType returns the type bits of m.
func (m FileMode) FileType() FileMode {
	return m & FileModeMask
}

// IsDir returns true if m is a directory.
func (m FileMode) IsDir() bool {
	return m.FileType() == ModeDirectory
}

// IsRegular returns true if m is a regular file.
func (m FileMode) IsRegular() bool {
	return m.FileType() == ModeRegular
}

// AttrMask selects the fields of a Tgetattr.
type AttrMask struct {
	Mode        bool
	NLink       bool
	UID         bool
	GID         bool
	RDev        bool
	ATime       bool
	MTime       bool
	CTime       bool
	INo         bool
	Size        bool
	Blocks      bool
	BTime       bool
	Gen         bool
	DataVersion bool
}

// AttrMaskBasic is P9_GETATTR_BASIC: everything stat(2) reports.
var AttrMaskBasic = AttrMask{
	Mode: true, NLink: true, UID: true, GID: true, RDev: true,
	ATime: true, MTime: true, CTime: true, INo: true, Size: true, Blocks: true,
}

// String implements fmt.Stringer.
func (a AttrMask) String() string {
	var names []string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{a.Mode, "Mode"}, {a.NLink, "NLink"}, {a.UID, "UID"}, {a.GID, "GID"},
		{a.RDev, "RDev"}, {a.ATime, "ATime"}, {a.MTime, "MTime"}, {a.CTime, "CTime"},
		{a.INo, "INo"}, {a.Size, "Size"}, {a.Blocks, "Blocks"}, {a.BTime, "BTime"},
		{a.Gen, "Gen"}, {a.DataVersion, "DataVersion"},
	} {
		if f.set {
			names = append(names, f.name)
		}
	}
	return "AttrMask{" + strings.Join(names, ", ") + "}"
}

var attrMaskBits = [...]func(*AttrMask) *bool{
	func(a *AttrMask) *bool { return &a.Mode },
	func(a *AttrMask) *bool { return &a.NLink },
	func(a *AttrMask) *bool { return &a.UID },
	func(a *AttrMask) *bool { return &a.GID },
	func(a *AttrMask) *bool { return &a.RDev },
	func(a *AttrMask) *bool { return &a.ATime },
	func(a *AttrMask) *bool { return &a.MTime },
	func(a *AttrMask) *bool { return &a.CTime },
	func(a *AttrMask) *bool { return &a.INo },
	func(a *AttrMask) *bool { return &a.Size },
	func(a *AttrMask) *bool { return &a.Blocks },
	func(a *AttrMask) *bool { return &a.BTime },
	func(a *AttrMask) *bool { return &a.Gen },
	func(a *AttrMask) *bool { return &a.DataVersion },
}

func (a *AttrMask) decode(b *buffer) {
	mask := b.Read64()
	for i, field := range attrMaskBits {
		*field(a) = mask&(1<<i) != 0
	}
}

func (a *AttrMask) encode(b *buffer) {
	var mask uint64
	for i, field := range attrMaskBits {
		if *field(a) {
			mask |= 1 << i
		}
	}
	b.Write64(mask)
}

// Attr is the attribute block of an Rgetattr.
type Attr struct {
	Mode             FileMode
	UID              UID
	GID              uint32
	NLink            uint64
	RDev             uint64
	Size             uint64
	BlockSize        uint64
	Blocks           uint64
	ATimeSeconds     uint64
	ATimeNanoSeconds uint64
	MTimeSeconds     uint64
	MTimeNanoSeconds uint64
	CTimeSeconds     uint64
	CTimeNanoSeconds uint64
	BTimeSeconds     uint64
	BTimeNanoSeconds uint64
	Gen              uint64
	DataVersion      uint64
}

// String implements fmt.Stringer.
func (a Attr) String() string {
	return fmt.Sprintf("Attr{Mode: %#o, UID: %d, GID: %d, NLink: %d, Size: %d, Blocks: %d}",
		a.Mode, a.UID, a.GID, a.NLink, a.Size, a.Blocks)
}

func (a *Attr) decode(b *buffer) {
	a.Mode = FileMode(b.Read32())
	a.UID = UID(b.Read32())
	a.GID = b.Read32()
	a.NLink = b.Read64()
	a.RDev = b.Read64()
	a.Size = b.Read64()
	a.BlockSize = b.Read64()
	a.Blocks = b.Read64()
	a.ATimeSeconds = b.Read64()
	a.ATimeNanoSeconds = b.Read64()
	a.MTimeSeconds = b.Read64()
	a.MTimeNanoSeconds = b.Read64()
	a.CTimeSeconds = b.Read64()
	a.CTimeNanoSeconds = b.Read64()
	a.BTimeSeconds = b.Read64()
	a.BTimeNanoSeconds = b.Read64()
	a.Gen = b.Read64()
	a.DataVersion = b.Read64()
}

func (a *Attr) encode(b *buffer) {
	b.Write32(uint32(a.Mode))
	b.Write32(uint32(a.UID))
	b.Write32(a.GID)
	b.Write64(a.NLink)
	b.Write64(a.RDev)
	b.Write64(a.Size)
	b.Write64(a.BlockSize)
	b.Write64(a.Blocks)
	b.Write64(a.ATimeSeconds)
	b.Write64(a.ATimeNanoSeconds)
	b.Write64(a.MTimeSeconds)
	b.Write64(a.MTimeNanoSeconds)
	b.Write64(a.CTimeSeconds)
	b.Write64(a.CTimeNanoSeconds)
	b.Write64(a.BTimeSeconds)
	b.Write64(a.BTimeNanoSeconds)
	b.Write64(a.Gen)
	b.Write64(a.DataVersion)
}
