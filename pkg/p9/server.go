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
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
	"kestrel.dev/kestrel/pkg/log"
)

// MemServer serves a read-only in-memory tree of regular files. Directories
// are implied by the file paths.
type MemServer struct {
	files map[string][]byte
	paths map[string]uint64

	mu sync.Mutex

	// seen records every request type, in order.
	seen []MsgType
}

// NewMemServer returns a server for files, keyed by absolute path.
func NewMemServer(files map[string][]byte) *MemServer {
	s := &MemServer{
		files: make(map[string][]byte, len(files)),
		paths: map[string]uint64{"/": 1},
	}
	names := make([]string, 0, len(files))
	for name, data := range files {
		name = path.Clean("/" + name)
		s.files[name] = data
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for p := name; p != "/"; p = path.Dir(p) {
			if _, ok := s.paths[p]; !ok {
				s.paths[p] = uint64(len(s.paths) + 1)
			}
		}
	}
	return s
}

// Requests returns the types of all requests served so far.
func (s *MemServer) Requests() []MsgType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MsgType(nil), s.seen...)
}

func (s *MemServer) qid(p string) (QID, bool) {
	id, ok := s.paths[p]
	if !ok {
		return QID{}, false
	}
	if _, ok := s.files[p]; ok {
		return QID{Type: QIDTypeRegular, Path: id}, true
	}
	return QID{Type: QIDTypeDir, Path: id}, true
}

// Handle serves conn until it fails or closes. FIDs are per connection.
func (s *MemServer) Handle(conn io.ReadWriteCloser) {
	defer conn.Close()
	fids := make(map[FID]string)
	for {
		tag, m, err := recv(conn, maximumLength, newMessage)
		if err != nil {
			if _, ok := err.(ErrSocket); !ok {
				log.Warningf("9P server: %v", err)
			}
			return
		}
		if err := send(conn, tag, s.handle(fids, m)); err != nil {
			return
		}
	}
}

func (s *MemServer) handle(fids map[FID]string, m message) message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, m.Type())

	errno := func(e unix.Errno) message { return &Rlerror{Error: uint32(e)} }
	switch t := m.(type) {
	case *Tversion:
		if !strings.HasPrefix(t.Version, Version) {
			return &Rversion{MSize: t.MSize, Version: "unknown"}
		}
		return &Rversion{MSize: min(t.MSize, maximumLength), Version: Version}
	case *Tattach:
		fids[t.FID] = "/"
		q, _ := s.qid("/")
		return &Rattach{QID: q}
	case *Twalk:
		p, ok := fids[t.FID]
		if !ok {
			return errno(unix.EBADF)
		}
		var qids []QID
		for _, name := range t.Names {
			p = path.Join(p, name)
			q, ok := s.qid(p)
			if !ok {
				if len(qids) == 0 {
					return errno(unix.ENOENT)
				}
				return &Rwalk{QIDs: qids}
			}
			qids = append(qids, q)
		}
		fids[t.NewFID] = p
		return &Rwalk{QIDs: qids}
	case *Tlopen:
		p, ok := fids[t.FID]
		if !ok {
			return errno(unix.EBADF)
		}
		if t.Flags&3 != ReadOnly {
			return errno(unix.EROFS)
		}
		q, _ := s.qid(p)
		return &Rlopen{QID: q}
	case *Tread:
		p, ok := fids[t.FID]
		if !ok {
			return errno(unix.EBADF)
		}
		data, ok := s.files[p]
		if !ok {
			return errno(unix.EISDIR)
		}
		if t.Offset >= uint64(len(data)) {
			return &Rread{}
		}
		end := min(t.Offset+uint64(t.Count), uint64(len(data)))
		return &Rread{Data: data[t.Offset:end]}
	case *Tgetattr:
		p, ok := fids[t.FID]
		if !ok {
			return errno(unix.EBADF)
		}
		q, _ := s.qid(p)
		attr := Attr{Mode: ModeDirectory | 0755, NLink: 2, BlockSize: 4096}
		if data, ok := s.files[p]; ok {
			attr = Attr{
				Mode:      ModeRegular | 0755,
				NLink:     1,
				Size:      uint64(len(data)),
				BlockSize: 4096,
				Blocks:    (uint64(len(data)) + 511) / 512,
			}
		}
		return &Rgetattr{Valid: t.AttrMask, QID: q, Attr: attr}
	case *Tclunk:
		if _, ok := fids[t.FID]; !ok {
			return errno(unix.EBADF)
		}
		delete(fids, t.FID)
		return &Rclunk{}
	}
	return errno(unix.ENOSYS)
}
