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
	"fmt"
	"io"
	"sync/atomic"
)

// File is a FID on the server.
type File struct {
	client *Client
	fid    FID
	qid    QID

	// closed is set once the FID is clunked.
	closed atomic.Bool
}

// QID returns the QID the file was walked or attached to.
func (f *File) QID() QID {
	return f.qid
}

// Walk walks names from f and returns a new File for the last one. An empty
// names clones f.
func (f *File) Walk(names []string) (*File, error) {
	if f.closed.Load() {
		return nil, fmt.Errorf("walk on clunked FID %d", f.fid)
	}
	fid, ok := f.client.fidPool.Get()
	if !ok {
		return nil, ErrOutOfFIDs
	}
	var rwalk Rwalk
	if err := f.client.sendRecv(&Twalk{FID: f.fid, NewFID: FID(fid), Names: names}, &rwalk); err != nil {
		f.client.fidPool.Put(fid)
		return nil, err
	}
	// A partial walk succeeds without creating the new FID.
	if len(rwalk.QIDs) != len(names) {
		f.client.fidPool.Put(fid)
		return nil, fmt.Errorf("walk of %v stopped after %d names: %w", names, len(rwalk.QIDs), errNotFound)
	}
	qid := f.qid
	if len(rwalk.QIDs) > 0 {
		qid = rwalk.QIDs[len(rwalk.QIDs)-1]
	}
	return &File{client: f.client, fid: FID(fid), qid: qid}, nil
}

// Open opens f for I/O.
func (f *File) Open(flags OpenFlags) (QID, uint32, error) {
	var rlopen Rlopen
	if err := f.client.sendRecv(&Tlopen{FID: f.fid, Flags: flags}, &rlopen); err != nil {
		return QID{}, 0, err
	}
	return rlopen.QID, rlopen.IoUnit, nil
}

// ReadAt implements io.ReaderAt. f must be open.
func (f *File) ReadAt(p []byte, offset int64) (int, error) {
	total := 0
	for total < len(p) {
		chunk := p[total:]
		if uint32(len(chunk)) > f.client.payloadSize {
			chunk = chunk[:f.client.payloadSize]
		}
		rread := Rread{Data: chunk}
		if err := f.client.sendRecv(&Tread{FID: f.fid, Offset: uint64(offset) + uint64(total), Count: uint32(len(chunk))}, &rread); err != nil {
			return total, err
		}
		// The payload is decoded into a fresh slice.
		n := copy(chunk, rread.Data)
		total += n
		if n == 0 {
			return total, io.EOF
		}
	}
	return total, nil
}

// GetAttr returns the attributes selected by mask.
func (f *File) GetAttr(mask AttrMask) (QID, AttrMask, Attr, error) {
	var rgetattr Rgetattr
	if err := f.client.sendRecv(&Tgetattr{FID: f.fid, AttrMask: mask}, &rgetattr); err != nil {
		return QID{}, AttrMask{}, Attr{}, err
	}
	return rgetattr.QID, rgetattr.Valid, rgetattr.Attr, nil
}

// Close clunks f. It is safe to call more than once.
func (f *File) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	err := f.client.sendRecv(&Tclunk{FID: f.fid}, &Rclunk{})
	f.client.fidPool.Put(uint64(f.fid))
	return err
}
