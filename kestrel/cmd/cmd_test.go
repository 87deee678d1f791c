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

package cmd

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/pkg/kernel"
	"kestrel.dev/kestrel/pkg/loader"
	"kestrel.dev/kestrel/pkg/loader/elftest"
	"kestrel.dev/kestrel/pkg/pgalloc"
	"kestrel.dev/kestrel/pkg/physmem"
	"kestrel.dev/kestrel/pkg/platform/interp"
)

func testTable() *kernel.SyscallTable {
	return &kernel.SyscallTable{
		Arch: "arm64",
		Table: map[uintptr]kernel.Syscall{
			64:  {Name: "write", SupportLevel: kernel.SupportFull},
			63:  {Name: "read", SupportLevel: kernel.SupportFull},
			56:  {Name: "openat", SupportLevel: kernel.SupportPartial, Note: "Read-only.", URLs: []string{"https://example.com/1"}},
			220: {Name: "clone", SupportLevel: kernel.SupportUnimplemented},
		},
	}
}

func TestGetCompatibilityInfo(t *testing.T) {
	for _, tc := range []struct {
		support string
		want    []string
	}{
		{support: "all", want: []string{"openat", "read", "write", "clone"}},
		{support: "full", want: []string{"read", "write"}},
		{support: "partial", want: []string{"openat"}},
		{support: "unimplemented", want: []string{"clone"}},
	} {
		info, err := getCompatibilityInfo(testTable(), tc.support)
		if err != nil {
			t.Fatalf("getCompatibilityInfo(%q) failed: %v", tc.support, err)
		}
		var got []string
		for _, sc := range sortedCalls(info) {
			got = append(got, sc.Name)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("getCompatibilityInfo(%q) mismatch (-want +got):\n%s", tc.support, diff)
		}
	}
	if _, err := getCompatibilityInfo(testTable(), "some"); err == nil {
		t.Errorf("getCompatibilityInfo with an unknown level succeeded")
	}
}

func TestOutputTable(t *testing.T) {
	info, err := getCompatibilityInfo(testTable(), "all")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := outputTable(&buf, info); err != nil {
		t.Fatalf("outputTable failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "linux/arm64:" {
		t.Errorf("first line = %q, want linux/arm64:", lines[0])
	}
	// Title, blank, header, 4 syscalls and one URL.
	if len(lines) != 8 {
		t.Fatalf("got %d lines, want 8:\n%s", len(lines), buf.String())
	}
	if f := strings.Fields(lines[3]); f[0] != "56" || f[1] != "openat" {
		t.Errorf("first syscall row = %q", lines[3])
	}
	if !strings.Contains(lines[4], "See: https://example.com/1") {
		t.Errorf("URL row = %q", lines[4])
	}
}

func TestOutputJSON(t *testing.T) {
	info, err := getCompatibilityInfo(testTable(), "full")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := outputJSON(&buf, info); err != nil {
		t.Fatalf("outputJSON failed: %v", err)
	}
	var got CompatibilityInfo
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	want := CompatibilityInfo{
		Arch: "arm64",
		Syscalls: map[uintptr]SyscallDoc{
			63: {Name: "read", Support: "Full Support"},
			64: {Name: "write", Support: "Full Support"},
		},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(SyscallDoc{})); diff != "" {
		t.Errorf("JSON mismatch (-want +got):\n%s", diff)
	}
}

func TestOutputCSV(t *testing.T) {
	info, err := getCompatibilityInfo(testTable(), "partial")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := outputCSV(&buf, info); err != nil {
		t.Fatalf("outputCSV failed: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not CSV: %v", err)
	}
	want := [][]string{
		{"Arch", "Num", "Name", "Support", "Note"},
		{"arm64", "56", "openat", "Partial Support", "Read-only.\nSee: https://example.com/1"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("CSV mismatch (-want +got):\n%s", diff)
	}
}

func testImage(t *testing.T) *loader.Image {
	t.Helper()
	data := elftest.Build(elftest.Image{
		Entry: 0x400010,
		Segments: []elftest.Segment{
			{Vaddr: 0x400000, Flags: elf.PF_R | elf.PF_X, Data: make([]byte, 0x100)},
			{Vaddr: 0x401100, Flags: elf.PF_R | elf.PF_W, Data: make([]byte, 0x10), MemSize: 0x2000},
		},
	})
	img, err := loader.Parse(bytes.NewReader(data), int64(len(data)), loader.Bounds{Min: 0x10000, Max: 0x1_0000_0000})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return img
}

func TestWriteImage(t *testing.T) {
	var buf bytes.Buffer
	if err := writeImage(&buf, testImage(t)); err != nil {
		t.Fatalf("writeImage failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"type:  ET_EXEC",
		"entry: 0x400010",
		"0x400000-0x400100",
		"r-x",
		"rw-",
		"[0x401000, 0x404000)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
}

func TestWriteImageJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeImageJSON(&buf, testImage(t)); err != nil {
		t.Fatalf("writeImageJSON failed: %v", err)
	}
	var got imageJSON
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got.Entry != 0x400010 || len(got.Segments) != 2 || got.Segments[1].Perms != "rw-" {
		t.Errorf("unexpected plan: %+v", got)
	}
}

func TestStringFlags(t *testing.T) {
	var s stringFlags
	for _, v := range []string{"A=1", "B=2=3"} {
		if err := s.Set(v); err != nil {
			t.Errorf("Set(%q) failed: %v", v, err)
		}
	}
	if err := s.Set("novalue"); err == nil {
		t.Errorf("Set(novalue) succeeded")
	}
	if got, want := s.String(), "A=1,B=2=3"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestWatchSignalsDone(t *testing.T) {
	done := make(chan struct{})
	close(done)
	if err := watchSignals(context.Background(), done); err != nil {
		t.Errorf("watchSignals = %v, want nil", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := watchSignals(ctx, make(chan struct{})); err != nil {
		t.Errorf("watchSignals = %v, want nil", err)
	}
}

func TestWriteStats(t *testing.T) {
	ram, err := physmem.NewRAM(0x4000_0000, 1<<20)
	if err != nil {
		t.Fatalf("NewRAM failed: %v", err)
	}
	var buf bytes.Buffer
	writeStats(&buf, pgalloc.Usage{Total: 1234, Free: 1000, Allocated: 234}, interp.New(ram))
	want := "frames: 234 of 1,234 allocated (3.9 MiB free)\ninstructions: 0\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("writeStats mismatch (-want +got):\n%s", diff)
	}
}
