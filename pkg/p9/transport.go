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
	"io"

	"kestrel.dev/kestrel/pkg/log"
)

// ErrSocket wraps a transport failure. The connection is unusable after one.
type ErrSocket struct {
	// error is the transport error.
	error
}

// Unwrap returns the transport error.
func (e ErrSocket) Unwrap() error {
	return e.error
}

// ErrMessageTooLarge indicates the size was larger than reasonable.
type ErrMessageTooLarge struct {
	size  uint32
	msize uint32
}

// Error returns a sensible error.
func (e *ErrMessageTooLarge) Error() string {
	return fmt.Sprintf("message too large for fixed buffer: size is %d, limit is %d", e.size, e.msize)
}

// ErrNoValidMessage indicates no valid message could be decoded.
var ErrNoValidMessage = errors.New("buffer contained no valid message")

const (
	// headerLength is the number of bytes required for a header.
	headerLength uint32 = 7

	// maximumLength is the largest possible message.
	maximumLength uint32 = 1 << 20

	// DefaultMessageSize is a sensible default.
	DefaultMessageSize uint32 = 64 << 10
)

// send writes one message. The header, fixed part and payload go out in a
// single Write so that message boundaries survive a packet-oriented stream.
func send(w io.Writer, tag Tag, m message) error {
	if log.IsLogging(log.Debug) {
		log.Debugf("send [Tag %06d] %T%+v", tag, m, m)
	}

	dataBuf := buffer{data: make([]byte, headerLength, 64)}
	m.encode(&dataBuf)
	if p, ok := m.(payloader); ok {
		dataBuf.data = append(dataBuf.data, p.Payload()...)
	}

	hdr := buffer{data: dataBuf.data[:0]}
	hdr.Write32(uint32(len(dataBuf.data)))
	hdr.WriteMsgType(m.Type())
	hdr.WriteTag(tag)

	if _, err := w.Write(dataBuf.data); err != nil {
		return ErrSocket{err}
	}
	return nil
}

// lookupTagAndType returns the message to decode a frame into. Any error
// is returned from recv after the frame has been drained.
type lookupTagAndType func(tag Tag, t MsgType) (message, error)

// recv reads one message. It is not safe for concurrent callers.
//
// On a transport error, ErrSocket is returned along with NoTag.
func recv(r io.Reader, msize uint32, lookup lookupTagAndType) (Tag, message, error) {
	var hdr [headerLength]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return NoTag, nil, ErrSocket{err}
	}

	headerBuf := buffer{data: hdr[:]}
	size := headerBuf.Read32()
	t := headerBuf.ReadMsgType()
	tag := headerBuf.ReadTag()
	if size < headerLength {
		return NoTag, nil, ErrSocket{ErrNoValidMessage}
	}
	if size > maximumLength || size > msize {
		return NoTag, nil, ErrSocket{&ErrMessageTooLarge{size, msize}}
	}
	remaining := size - headerLength

	body := make([]byte, remaining)
	if _, err := io.ReadFull(r, body); err != nil {
		return NoTag, nil, ErrSocket{err}
	}

	m, err := lookup(tag, t)
	if err != nil {
		return tag, nil, err
	}

	dataBuf := buffer{data: body}
	if p, ok := m.(payloader); ok {
		fixedSize := p.FixedSize()
		if fixedSize > remaining {
			return NoTag, nil, ErrNoValidMessage
		}
		dataBuf.data = body[:fixedSize]
		p.SetPayload(body[fixedSize:])
	}

	m.decode(&dataBuf)
	if dataBuf.isOverrun() {
		return NoTag, nil, ErrNoValidMessage
	}

	if log.IsLogging(log.Debug) {
		log.Debugf("recv [Tag %06d] %T%+v", tag, m, m)
	}
	return tag, m, nil
}
