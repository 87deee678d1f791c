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

package fsprovider

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/u-root/u-root/pkg/cpio"
	"kestrel.dev/kestrel/pkg/abi/linux"
	"kestrel.dev/kestrel/pkg/p9"
)

// checkProvider checks the contents every backend is populated with in
// these tests: /bin/hello and /etc/motd.
func checkProvider(t *testing.T, p Provider) {
	t.Helper()

	f, err := p.Resolve("/bin/hello")
	if err != nil {
		t.Fatalf("Resolve(/bin/hello) failed: %v", err)
	}
	defer f.Close()
	if got, want := f.Mode()&linux.FileTypeMask, uint32(linux.ModeRegular); got != want {
		t.Errorf("mode type = %#o, want %#o", got, want)
	}
	if f.Size() != 5 {
		t.Errorf("Size() = %d, want 5", f.Size())
	}
	buf := make([]byte, 16)
	n, err := f.ReadAt(buf, 1)
	if n != 4 || (err != nil && err != io.EOF) {
		t.Errorf("ReadAt = %d, %v, want 4", n, err)
	}
	if got := string(buf[:n]); got != "ELLO" {
		t.Errorf("ReadAt read %q, want \"ELLO\"", got)
	}

	for _, name := range []string{"etc/motd", "/etc/../etc/motd", "/../../etc/motd"} {
		f, err := p.Resolve(Clean(name))
		if err != nil {
			t.Errorf("Resolve(%q) failed: %v", name, err)
			continue
		}
		f.Close()
	}

	dir, err := p.Resolve("/bin")
	if err != nil {
		t.Fatalf("Resolve(/bin) failed: %v", err)
	}
	if !IsDir(dir) {
		t.Errorf("/bin mode %#o is not a directory", dir.Mode())
	}
	dir.Close()

	if _, err := p.Resolve("/bin/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(/bin/missing) = %v, want ErrNotFound", err)
	}
}

func TestHostDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "etc"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bin", "hello"), []byte("HELLO"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "etc", "motd"), []byte("hi\n"), 0644); err != nil {
		t.Fatal(err)
	}
	h, err := NewHostDir(dir)
	if err != nil {
		t.Fatalf("NewHostDir failed: %v", err)
	}
	defer h.Close()
	checkProvider(t, h)
}

func TestRamdisk(t *testing.T) {
	r := NewRamdisk()
	r.Add("/bin/hello", []byte("HELLO"), 0755)
	r.Add("etc/motd", []byte("hi\n"), 0644)
	checkProvider(t, r)
}

func TestRamdiskSymlinks(t *testing.T) {
	r := NewRamdisk()
	r.Add("/usr/bin/busybox", []byte("BB"), 0755)
	r.Symlink("/bin", "usr/bin")
	r.Symlink("/usr/bin/sh", "busybox")
	r.Symlink("/loop", "/loop")

	f, err := r.Resolve("/bin/sh")
	if err != nil {
		t.Fatalf("Resolve(/bin/sh) failed: %v", err)
	}
	if f.Size() != 2 {
		t.Errorf("/bin/sh resolved to a file of size %d, want 2", f.Size())
	}
	if _, err := r.Resolve("/loop"); !errors.Is(err, errTooManyLinks) {
		t.Errorf("Resolve(/loop) = %v, want %v", err, errTooManyLinks)
	}
}

func TestRamdiskFromCPIO(t *testing.T) {
	var archive bytes.Buffer
	w := cpio.Newc.Writer(&archive)
	for _, rec := range []cpio.Record{
		cpio.Directory("bin", 0755),
		cpio.StaticFile("bin/hello", "HELLO", 0755),
		cpio.Directory("etc", 0755),
		cpio.StaticFile("etc/motd", "hi\n", 0644),
		cpio.Symlink("sh", "bin/hello"),
	} {
		if err := w.WriteRecord(rec); err != nil {
			t.Fatalf("WriteRecord failed: %v", err)
		}
	}
	if err := cpio.WriteTrailer(w); err != nil {
		t.Fatalf("WriteTrailer failed: %v", err)
	}

	r, err := NewRamdiskFromCPIO(bytes.NewReader(archive.Bytes()))
	if err != nil {
		t.Fatalf("NewRamdiskFromCPIO failed: %v", err)
	}
	checkProvider(t, r)
	if f, err := r.Resolve("/sh"); err != nil || f.Size() != 5 {
		t.Errorf("Resolve(/sh) through a link = %v, %v", f, err)
	}
}

func TestP9(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	srv := p9.NewMemServer(map[string][]byte{
		"/bin/hello": []byte("HELLO"),
		"/etc/motd":  []byte("hi\n"),
	})
	go srv.Handle(serverConn)

	c, err := p9.NewClient(clientConn, p9.DefaultMessageSize)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer c.Close()
	root, err := c.Attach("")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	checkProvider(t, NewP9(root))
}

func TestComponents(t *testing.T) {
	for in, want := range map[string]int{
		"/":          0,
		"":           0,
		"/a":         1,
		"a/b/../c/":  2,
		"/../../x/y": 2,
	} {
		if got := len(Components(in)); got != want {
			t.Errorf("len(Components(%q)) = %d, want %d", in, got, want)
		}
	}
}
