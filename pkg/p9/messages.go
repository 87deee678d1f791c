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
	"errors"
	"fmt"
)

// errUnknownType is returned for a frame whose type has no message here.
// Only the 9P2000.L subset needed to read a file tree is implemented.
var errUnknownType = errors.New("unknown 9P message type")

// message is one 9P2000.L message body. Type gives the number that goes
// in the frame header.
type message interface {
	encoder
	Type() MsgType
}

// payloader is a message whose trailing bytes bypass the buffer: they are
// appended after encode on send and handed over before decode on receive.
type payloader interface {
	// FixedSize is the length of the part before the payload.
	FixedSize() uint32
	Payload() []byte
	SetPayload([]byte)
}

// Version negotiation: size[4] version[s].
type (
	Tversion struct {
		MSize   uint32
		Version string
	}
	Rversion struct {
		MSize   uint32
		Version string
	}
)

func (t *Tversion) encode(b *buffer) { b.Write32(t.MSize); b.WriteString(t.Version) }
func (t *Tversion) decode(b *buffer) { t.MSize, t.Version = b.Read32(), b.ReadString() }
func (r *Rversion) encode(b *buffer) { b.Write32(r.MSize); b.WriteString(r.Version) }
func (r *Rversion) decode(b *buffer) { r.MSize, r.Version = b.Read32(), b.ReadString() }

// Tattach binds FID to the root of the tree AttachName on behalf of
// UserName/UID. AuthFID is always NoFID since there is no authentication.
type Tattach struct {
	FID        FID
	AuthFID    FID
	UserName   string
	AttachName string
	UID        UID
}

func (t *Tattach) encode(b *buffer) {
	b.WriteFID(t.FID)
	b.WriteFID(t.AuthFID)
	b.WriteString(t.UserName)
	b.WriteString(t.AttachName)
	b.WriteUID(t.UID)
}

func (t *Tattach) decode(b *buffer) {
	t.FID = b.ReadFID()
	t.AuthFID = b.ReadFID()
	t.UserName = b.ReadString()
	t.AttachName = b.ReadString()
	t.UID = b.ReadUID()
}

// Rattach carries the QID of the attached root.
type Rattach struct {
	QID QID
}

func (r *Rattach) encode(b *buffer) { r.QID.encode(b) }
func (r *Rattach) decode(b *buffer) { r.QID.decode(b) }

// Twalk clones FID to NewFID and walks the clone through Names. Rwalk has
// one QID per name walked; fewer QIDs than names means the walk stopped.
type (
	Twalk struct {
		FID    FID
		NewFID FID
		Names  []string
	}
	Rwalk struct {
		QIDs []QID
	}
)

func (t *Twalk) encode(b *buffer) {
	b.WriteFID(t.FID)
	b.WriteFID(t.NewFID)
	b.Write16(uint16(len(t.Names)))
	for _, name := range t.Names {
		b.WriteString(name)
	}
}

func (t *Twalk) decode(b *buffer) {
	t.FID = b.ReadFID()
	t.NewFID = b.ReadFID()
	t.Names = make([]string, b.Read16())
	for i := range t.Names {
		t.Names[i] = b.ReadString()
	}
}

func (r *Rwalk) encode(b *buffer) {
	b.Write16(uint16(len(r.QIDs)))
	for i := range r.QIDs {
		r.QIDs[i].encode(b)
	}
}

func (r *Rwalk) decode(b *buffer) {
	r.QIDs = make([]QID, b.Read16())
	for i := range r.QIDs {
		r.QIDs[i].decode(b)
	}
}

// Tlopen opens FID with Linux open flags.
type (
	Tlopen struct {
		FID   FID
		Flags OpenFlags
	}
	Rlopen struct {
		QID    QID
		IoUnit uint32
	}
)

func (t *Tlopen) encode(b *buffer) { b.WriteFID(t.FID); b.WriteOpenFlags(t.Flags) }
func (t *Tlopen) decode(b *buffer) { t.FID, t.Flags = b.ReadFID(), b.ReadOpenFlags() }
func (r *Rlopen) encode(b *buffer) { r.QID.encode(b); b.Write32(r.IoUnit) }
func (r *Rlopen) decode(b *buffer) { r.QID.decode(b); r.IoUnit = b.Read32() }

// Tread asks for Count bytes at Offset of an open FID.
type Tread struct {
	FID    FID
	Offset uint64
	Count  uint32
}

func (t *Tread) encode(b *buffer) {
	b.WriteFID(t.FID)
	b.Write64(t.Offset)
	b.Write32(t.Count)
}

func (t *Tread) decode(b *buffer) {
	t.FID = b.ReadFID()
	t.Offset = b.Read64()
	t.Count = b.Read32()
}

// Rread is count[4] followed by the data as payload.
type Rread struct {
	Data []byte
}

func (r *Rread) encode(b *buffer) { b.Write32(uint32(len(r.Data))) }

func (r *Rread) decode(b *buffer) {
	if b.Read32() != uint32(len(r.Data)) {
		b.markOverrun()
	}
}

func (*Rread) FixedSize() uint32     { return 4 }
func (r *Rread) Payload() []byte     { return r.Data }
func (r *Rread) SetPayload(p []byte) { r.Data = p }

// Format implements fmt.Formatter so that debug logs show the length
// rather than the data.
func (r *Rread) Format(s fmt.State, _ rune) {
	fmt.Fprintf(s, "&{len(Data):%d}", len(r.Data))
}

// Tgetattr requests the attributes in AttrMask. Rgetattr.Valid says which
// of them the server filled in.
type (
	Tgetattr struct {
		FID      FID
		AttrMask AttrMask
	}
	Rgetattr struct {
		Valid AttrMask
		QID   QID
		Attr  Attr
	}
)

func (t *Tgetattr) encode(b *buffer) { b.WriteFID(t.FID); t.AttrMask.encode(b) }
func (t *Tgetattr) decode(b *buffer) { t.FID = b.ReadFID(); t.AttrMask.decode(b) }

func (r *Rgetattr) encode(b *buffer) {
	r.Valid.encode(b)
	r.QID.encode(b)
	r.Attr.encode(b)
}

func (r *Rgetattr) decode(b *buffer) {
	r.Valid.decode(b)
	r.QID.decode(b)
	r.Attr.decode(b)
}

// Tclunk releases FID. Rclunk is empty.
type (
	Tclunk struct {
		FID FID
	}
	Rclunk struct{}
)

func (t *Tclunk) encode(b *buffer) { b.WriteFID(t.FID) }
func (t *Tclunk) decode(b *buffer) { t.FID = b.ReadFID() }
func (*Rclunk) encode(*buffer)     {}
func (*Rclunk) decode(*buffer)     {}

// Rlerror replaces the reply to any request that failed.
type Rlerror struct {
	Error uint32
}

func (r *Rlerror) encode(b *buffer) { b.Write32(r.Error) }
func (r *Rlerror) decode(b *buffer) { r.Error = b.Read32() }

func (*Tversion) Type() MsgType { return MsgTversion }
func (*Rversion) Type() MsgType { return MsgRversion }
func (*Tattach) Type() MsgType  { return MsgTattach }
func (*Rattach) Type() MsgType  { return MsgRattach }
func (*Twalk) Type() MsgType    { return MsgTwalk }
func (*Rwalk) Type() MsgType    { return MsgRwalk }
func (*Tlopen) Type() MsgType   { return MsgTlopen }
func (*Rlopen) Type() MsgType   { return MsgRlopen }
func (*Tread) Type() MsgType    { return MsgTread }
func (*Rread) Type() MsgType    { return MsgRread }
func (*Tgetattr) Type() MsgType { return MsgTgetattr }
func (*Rgetattr) Type() MsgType { return MsgRgetattr }
func (*Tclunk) Type() MsgType   { return MsgTclunk }
func (*Rclunk) Type() MsgType   { return MsgRclunk }
func (*Rlerror) Type() MsgType  { return MsgRlerror }

// factories makes an empty message of each implemented type.
var factories = map[MsgType]func() message{
	MsgTversion: func() message { return new(Tversion) },
	MsgRversion: func() message { return new(Rversion) },
	MsgTattach:  func() message { return new(Tattach) },
	MsgRattach:  func() message { return new(Rattach) },
	MsgTwalk:    func() message { return new(Twalk) },
	MsgRwalk:    func() message { return new(Rwalk) },
	MsgTlopen:   func() message { return new(Tlopen) },
	MsgRlopen:   func() message { return new(Rlopen) },
	MsgTread:    func() message { return new(Tread) },
	MsgRread:    func() message { return new(Rread) },
	MsgTgetattr: func() message { return new(Tgetattr) },
	MsgRgetattr: func() message { return new(Rgetattr) },
	MsgTclunk:   func() message { return new(Tclunk) },
	MsgRclunk:   func() message { return new(Rclunk) },
	MsgRlerror:  func() message { return new(Rlerror) },
}

// newMessage returns an empty message of type t. The tag is ignored; the
// signature matches lookupTagAndType.
func newMessage(_ Tag, t MsgType) (message, error) {
	f, ok := factories[t]
	if !ok {
		return nil, fmt.Errorf("%w %d", errUnknownType, t)
	}
	return f(), nil
}

// fixedSize is the encoded length of m without its payload.
func fixedSize(m message) uint32 {
	if p, ok := m.(payloader); ok {
		return p.FixedSize()
	}
	var b buffer
	m.encode(&b)
	return uint32(len(b.data))
}

// largestFixedSize bounds the non-payload part of every message with
// zero-valued fields, so a payload of msize-headerLength-largestFixedSize
// always fits in a frame.
var largestFixedSize = func() uint32 {
	var n uint32
	for _, f := range factories {
		n = max(n, fixedSize(f()))
	}
	return n
}()
