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
	"sync"

	"golang.org/x/sys/unix"
	"kestrel.dev/kestrel/pkg/log"
)

// ErrOutOfTags indicates no tags are available.
var ErrOutOfTags = errors.New("out of tags -- messages lost?")

// ErrOutOfFIDs indicates no more FIDs are available.
var ErrOutOfFIDs = errors.New("out of FIDs -- messages lost?")

// ErrUnexpectedTag indicates a response with an unexpected tag was received.
var ErrUnexpectedTag = errors.New("unexpected tag in response")

// ErrBadVersionString indicates that the version string is malformed or unsupported.
var ErrBadVersionString = errors.New("bad version string")

// ErrBadResponse indicates the response didn't match the request.
type ErrBadResponse struct {
	Got  MsgType
	Want MsgType
}

// Error returns a highly descriptive error.
func (e *ErrBadResponse) Error() string {
	return fmt.Sprintf("unexpected message type: got %v, want %v", e.Got, e.Want)
}

// Client is a 9P2000.L client.
type Client struct {
	// conn is the connected stream.
	conn io.ReadWriteCloser

	// tagPool is the collection of available tags.
	tagPool pool

	// fidPool is the collection of available fids.
	fidPool pool

	// messageSize is the maximum total size of a message.
	messageSize uint32

	// payloadSize is the maximum payload size of a read.
	payloadSize uint32

	// mu serializes round trips.
	mu sync.Mutex
}

// NewClient creates a new client. It performs a Tversion exchange with the
// server to agree on the message size.
//
// The client takes ownership of conn.
func NewClient(conn io.ReadWriteCloser, messageSize uint32) (*Client, error) {
	if messageSize <= largestFixedSize+headerLength {
		return nil, &ErrMessageTooLarge{
			size:  messageSize,
			msize: largestFixedSize + headerLength,
		}
	}
	c := &Client{
		conn:        conn,
		tagPool:     pool{start: 1, limit: uint64(NoTag)},
		fidPool:     pool{start: 1, limit: uint64(NoFID)},
		messageSize: messageSize,
	}

	var rversion Rversion
	if err := c.sendRecvTag(NoTag, &Tversion{Version: Version, MSize: messageSize}, &rversion); err != nil {
		return nil, err
	}
	if rversion.Version != Version {
		log.Warningf("server returned version string %q", rversion.Version)
		return nil, ErrBadVersionString
	}
	if rversion.MSize < c.messageSize {
		c.messageSize = rversion.MSize
	}
	if c.messageSize <= largestFixedSize+headerLength {
		return nil, &ErrMessageTooLarge{size: c.messageSize, msize: largestFixedSize + headerLength}
	}
	c.payloadSize = c.messageSize - headerLength - largestFixedSize
	if c.payloadSize > 512 && c.payloadSize%512 != 0 {
		c.payloadSize -= c.payloadSize % 512
	}
	return c, nil
}

// sendRecv performs a round trip with a fresh tag.
func (c *Client) sendRecv(t, r message) error {
	tag, ok := c.tagPool.Get()
	if !ok {
		return ErrOutOfTags
	}
	defer c.tagPool.Put(tag)
	return c.sendRecvTag(Tag(tag), t, r)
}

// sendRecvTag performs a round trip. An Rlerror reply is returned as the
// unix.Errno it carries.
func (c *Client) sendRecvTag(tag Tag, t, r message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := send(c.conn, tag, t); err != nil {
		return err
	}
	var rlerr *Rlerror
	_, _, err := recv(c.conn, c.messageSize, func(got Tag, mt MsgType) (message, error) {
		if got != tag {
			log.Warningf("client received unexpected tag %v, want %v", got, tag)
			return nil, ErrUnexpectedTag
		}
		if mt == MsgRlerror {
			rlerr = &Rlerror{}
			return rlerr, nil
		}
		if mt != r.Type() {
			return nil, &ErrBadResponse{Got: mt, Want: r.Type()}
		}
		return r, nil
	})
	if err != nil {
		return err
	}
	if rlerr != nil {
		return unix.Errno(rlerr.Error)
	}
	return nil
}

// Attach attaches to the tree named name and returns its root.
func (c *Client) Attach(name string) (*File, error) {
	fid, ok := c.fidPool.Get()
	if !ok {
		return nil, ErrOutOfFIDs
	}
	var rattach Rattach
	if err := c.sendRecv(&Tattach{FID: FID(fid), AuthFID: NoFID, AttachName: name, UID: 0}, &rattach); err != nil {
		c.fidPool.Put(fid)
		return nil, err
	}
	return &File{client: c, fid: FID(fid), qid: rattach.QID}, nil
}

// Close closes the underlying stream.
func (c *Client) Close() error {
	return c.conn.Close()
}
