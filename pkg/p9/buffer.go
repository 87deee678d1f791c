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

package p9

import (
	"encoding/binary"
)

// encoder is implemented by everything that goes on the wire.
type encoder interface {
	decode(b *buffer)
	encode(b *buffer)
}

// buffer is a little-endian encoding buffer. Reads past the end set the
// overrun flag and return zero values instead of panicking.
type buffer struct {
	data    []byte
	overrun bool
}

func (b *buffer) markOverrun() {
	b.overrun = true
}

func (b *buffer) isOverrun() bool {
	return b.overrun
}

// consume returns the next n bytes, or nil on overrun.
func (b *buffer) consume(n int) []byte {
	if b.overrun || len(b.data) < n {
		b.markOverrun()
		return nil
	}
	v := b.data[:n]
	b.data = b.data[n:]
	return v
}

func (b *buffer) Read8() uint8 {
	v := b.consume(1)
	if v == nil {
		return 0
	}
	return v[0]
}

func (b *buffer) Read16() uint16 {
	v := b.consume(2)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(v)
}

func (b *buffer) Read32() uint32 {
	v := b.consume(4)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(v)
}

func (b *buffer) Read64() uint64 {
	v := b.consume(8)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(v)
}

// ReadString reads a 16-bit length-prefixed string.
func (b *buffer) ReadString() string {
	n := b.Read16()
	v := b.consume(int(n))
	if v == nil {
		return ""
	}
	return string(v)
}

func (b *buffer) ReadFID() FID {
	return FID(b.Read32())
}

func (b *buffer) ReadTag() Tag {
	return Tag(b.Read16())
}

func (b *buffer) ReadMsgType() MsgType {
	return MsgType(b.Read8())
}

func (b *buffer) ReadUID() UID {
	return UID(b.Read32())
}

func (b *buffer) ReadOpenFlags() OpenFlags {
	return OpenFlags(b.Read32())
}

func (b *buffer) Write8(v uint8) {
	b.data = append(b.data, v)
}

func (b *buffer) Write16(v uint16) {
	b.data = binary.LittleEndian.AppendUint16(b.data, v)
}

func (b *buffer) Write32(v uint32) {
	b.data = binary.LittleEndian.AppendUint32(b.data, v)
}

func (b *buffer) Write64(v uint64) {
	b.data = binary.LittleEndian.AppendUint64(b.data, v)
}

// WriteString writes a 16-bit length-prefixed string.
func (b *buffer) WriteString(s string) {
	b.Write16(uint16(len(s)))
	b.data = append(b.data, s...)
}

// WriteFID writes a FID. FIDs are 32 bits on the wire.
func (b *buffer) WriteFID(fid FID) {
	b.Write32(uint32(fid))
}

func (b *buffer) WriteTag(tag Tag) {
	b.Write16(uint16(tag))
}

func (b *buffer) WriteMsgType(t MsgType) {
	b.Write8(uint8(t))
}

func (b *buffer) WriteUID(uid UID) {
	b.Write32(uint32(uid))
}

func (b *buffer) WriteOpenFlags(o OpenFlags) {
	b.Write32(uint32(o))
}
