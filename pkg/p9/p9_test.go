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
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

func newTestClient(t *testing.T, msize uint32, files map[string]string) (*Client, *MemServer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	tree := make(map[string][]byte)
	for name, data := range files {
		tree[name] = []byte(data)
	}
	s := NewMemServer(tree)
	go s.Handle(serverConn)
	c, err := NewClient(clientConn, msize)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, s
}

func TestReadFile(t *testing.T) {
	content := strings.Repeat("0123456789", 1000)
	c, _ := newTestClient(t, 1024, map[string]string{"/bin/hello": content})

	root, err := c.Attach("")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	f, err := root.Walk([]string{"bin", "hello"})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	defer f.Close()
	if f.QID().Type != QIDTypeRegular {
		t.Errorf("QID type = %d, want regular", f.QID().Type)
	}
	if _, _, err := f.Open(ReadOnly); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// The read spans many messages at this message size.
	buf := make([]byte, len(content))
	n, err := f.ReadAt(buf, 0)
	if err != nil || n != len(content) {
		t.Fatalf("ReadAt = %d, %v, want %d, nil", n, err, len(content))
	}
	if string(buf) != content {
		t.Errorf("content mismatch")
	}

	n, err = f.ReadAt(buf[:10], int64(len(content)-4))
	if n != 4 || err != io.EOF {
		t.Errorf("ReadAt at tail = %d, %v, want 4, EOF", n, err)
	}
	if got := string(buf[:4]); got != "6789" {
		t.Errorf("tail = %q, want \"6789\"", got)
	}
}

func TestGetAttr(t *testing.T) {
	c, _ := newTestClient(t, DefaultMessageSize, map[string]string{"/etc/motd": "hi\n"})
	root, err := c.Attach("")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	for _, tc := range []struct {
		names []string
		want  Attr
	}{
		{[]string{"etc", "motd"}, Attr{Mode: ModeRegular | 0755, NLink: 1, Size: 3, BlockSize: 4096, Blocks: 1}},
		{[]string{"etc"}, Attr{Mode: ModeDirectory | 0755, NLink: 2, BlockSize: 4096}},
	} {
		f, err := root.Walk(tc.names)
		if err != nil {
			t.Fatalf("Walk(%v) failed: %v", tc.names, err)
		}
		_, valid, attr, err := f.GetAttr(AttrMaskBasic)
		if err != nil {
			t.Fatalf("GetAttr failed: %v", err)
		}
		if diff := cmp.Diff(AttrMaskBasic, valid); diff != "" {
			t.Errorf("valid mask mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(tc.want, attr); diff != "" {
			t.Errorf("attr of %v mismatch (-want +got):\n%s", tc.names, diff)
		}
		f.Close()
	}
}

func TestWalkErrors(t *testing.T) {
	c, s := newTestClient(t, DefaultMessageSize, map[string]string{"/a/b": "x"})
	root, err := c.Attach("")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if _, err := root.Walk([]string{"missing"}); !IsNotFound(err) {
		t.Errorf("Walk(missing) = %v, want ENOENT", err)
	}
	if _, err := root.Walk([]string{"a", "missing"}); !IsNotFound(err) {
		t.Errorf("partial Walk = %v, want ENOENT", err)
	}
	f, err := root.Walk([]string{"a", "b"})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if _, _, err := f.Open(ReadWrite); !errors.Is(err, unix.EROFS) {
		t.Errorf("Open(ReadWrite) = %v, want EROFS", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	clunks := 0
	for _, mt := range s.Requests() {
		if mt == MsgTclunk {
			clunks++
		}
	}
	if clunks != 1 {
		t.Errorf("server saw %d Tclunk, want 1", clunks)
	}
}

func TestMessageSizeTooSmall(t *testing.T) {
	clientConn, _ := net.Pipe()
	defer clientConn.Close()
	var tooLarge *ErrMessageTooLarge
	if _, err := NewClient(clientConn, 8); !errors.As(err, &tooLarge) {
		t.Errorf("NewClient(8) = %v, want ErrMessageTooLarge", err)
	}
}

func TestDial(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer l.Close()
	s := NewMemServer(map[string][]byte{"/f": []byte("data")})
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		s.Handle(conn)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, "tcp", l.Addr().String(), DialOptions{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()
	if _, err := c.Attach(""); err != nil {
		t.Errorf("Attach failed: %v", err)
	}
}

func TestDialGivesUp(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	start := time.Now()
	if _, err := Dial(context.Background(), "tcp", addr, DialOptions{Timeout: 200 * time.Millisecond}); err == nil {
		t.Fatalf("Dial to a closed port succeeded")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Dial retried for %v, want about 200ms", elapsed)
	}
}
