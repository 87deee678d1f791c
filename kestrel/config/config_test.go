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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kestrel.dev/kestrel/kestrel/flag"
	"kestrel.dev/kestrel/pkg/hostarch"
	"kestrel.dev/kestrel/pkg/mm"
)

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if !c.ConsoleRaw {
		t.Errorf("ConsoleRaw should default to true")
	}
	if want := "interp"; c.Platform != want {
		t.Errorf("Platform=%v, want: %v", c.Platform, want)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	for name, val := range map[string]string{
		"debug":        "true",
		"rootfs":       "/srv/root",
		"heap-ceiling": "64MiB",
		"stack-size":   "1M",
	} {
		if err := testFlags.Lookup(name).Value.Set(val); err != nil {
			t.Errorf("Flag set: %v", err)
		}
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := "/srv/root"; c.RootFS != want {
		t.Errorf("RootFS=%v, want: %v", c.RootFS, want)
	}
	if want := Size(64 << 20); c.HeapCeiling != want {
		t.Errorf("HeapCeiling=%v, want: %v", c.HeapCeiling, want)
	}
	if want := Size(1000 * 1000); c.StackSize != want {
		t.Errorf("StackSize=%v, want: %v", c.StackSize, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	testFlags.Set("debug", "true")
	testFlags.Set("strace", "false") // Matches default value.
	testFlags.Set("initrd", "root.cpio")
	testFlags.Set("memory", "256MiB")
	testFlags.Set("console-raw", "false")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	flags := c.ToFlags()
	t.Logf("Flags: %s", flags)
	fm := map[string]string{}
	for _, f := range flags {
		kv := strings.SplitN(f, "=", 2)
		fm[kv[0]] = kv[1]
	}
	want := map[string]string{
		"--debug":       "true",
		"--initrd":      "root.cpio",
		"--memory":      "256 MiB",
		"--console-raw": "false",
	}
	if diff := cmp.Diff(want, fm); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flags map[string]string
	}{
		{
			name:  "log format",
			flags: map[string]string{"log-format": "yaml"},
		},
		{
			name:  "debug log format",
			flags: map[string]string{"debug-log-format": "xml"},
		},
		{
			name:  "two roots",
			flags: map[string]string{"rootfs": "/", "9p": "localhost:564"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
			RegisterFlags(testFlags)
			for name, val := range tc.flags {
				if err := testFlags.Set(name, val); err != nil {
					t.Fatalf("Set(%q, %q): %v", name, val, err)
				}
			}
			if _, err := NewFromFlags(testFlags); err == nil {
				t.Errorf("NewFromFlags() succeeded, want error")
			}
		})
	}
}

func TestOverride(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Override(testFlags, "heap-ceiling", "16MiB"); err != nil {
		t.Fatalf("Override failed: %v", err)
	}
	if want := Size(16 << 20); c.HeapCeiling != want {
		t.Errorf("HeapCeiling=%v, want: %v", c.HeapCeiling, want)
	}
	if err := c.Override(testFlags, "no-such-flag", "1"); err == nil {
		t.Errorf("Override of unknown flag succeeded")
	}
	if err := c.Override(testFlags, "log-format", "yaml"); err == nil {
		t.Errorf("Override to an invalid log format succeeded")
	}
}

func TestSizeString(t *testing.T) {
	for _, tc := range []struct {
		size Size
		want string
	}{
		{0, "0 B"},
		{64 << 20, "64 MiB"},
		{1 << 30, "1.0 GiB"},
		{1000001, "1000001"},
	} {
		if got := tc.size.String(); got != tc.want {
			t.Errorf("Size(%d).String() = %q, want %q", uint64(tc.size), got, tc.want)
		}
		var back Size
		if err := back.Set(tc.size.String()); err != nil || back != tc.size {
			t.Errorf("Set(%q) = %v, %v, want %v", tc.size.String(), back, err, tc.size)
		}
	}
}

func TestQEMUVirt(t *testing.T) {
	m := QEMUVirt()
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if diff := cmp.Diff(mm.DefaultLayout, m.MMLayout()); diff != "" {
		t.Errorf("MMLayout() mismatch (-want +got):\n%s", diff)
	}
	wantDevs := []mm.DeviceRegion{
		{Name: "uart", Base: 0x0900_0000, Size: 0x1000},
		{Name: "gic", Base: 0x0800_0000, Size: 0x1_0000},
	}
	if diff := cmp.Diff(wantDevs, m.Devices()); diff != "" {
		t.Errorf("Devices() mismatch (-want +got):\n%s", diff)
	}
	if got := m.KernelImage().Length(); got != 0 {
		t.Errorf("KernelImage() length = %#x, want empty", got)
	}
	m.KernelEnd = m.RAMBase + 0x20_0000
	if got, want := m.KernelImage(), (hostarch.AddrRange{Start: 0x4000_0000, End: 0x4020_0000}); got != want {
		t.Errorf("KernelImage() = %v, want %v", got, want)
	}
}

func TestLoadMachine(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	p := write("small.toml", `
name = "small"
ram_size = 0x0800_0000

[layout]
heap_ceiling = 0x10_0000
`)
	m, err := LoadMachine(p)
	if err != nil {
		t.Fatalf("LoadMachine() = %v", err)
	}
	want := QEMUVirt()
	want.Name = "small"
	want.RAMSize = 128 << 20
	want.Layout.HeapCeiling = 1 << 20
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("LoadMachine() mismatch (-want +got):\n%s", diff)
	}

	for name, content := range map[string]string{
		"unknown.toml":   "ram_sise = 4096\n",
		"unaligned.toml": "ram_size = 1000\n",
		"kernel.toml":    "kernel_end = 0x1000\n",
		"syntax.toml":    "ram_size = \n",
		"layout.toml":    "[layout]\nmin_user_address = 0\n",
		"unknown.yaml":   "ram_sise: 4096\n",
		"syntax.yml":     "ram_size: [\n",
	} {
		if _, err := LoadMachine(write(name, content)); err == nil {
			t.Errorf("LoadMachine(%s) succeeded, want error", name)
		}
	}
}

func TestLoadMachineYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "small.yaml")
	content := "name: small\nram_size: 0x8000000\nlayout:\n  heap_ceiling: 0x100000\n"
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadMachine(p)
	if err != nil {
		t.Fatalf("LoadMachine() = %v", err)
	}
	want := QEMUVirt()
	want.Name = "small"
	want.RAMSize = 128 << 20
	want.Layout.HeapCeiling = 1 << 20
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("LoadMachine() mismatch (-want +got):\n%s", diff)
	}
}

func TestMachineOverrides(t *testing.T) {
	c := &Config{
		MemorySize:  64 << 20,
		HeapCeiling: 8 << 20,
		StackSize:   64 << 10,
	}
	m, err := c.Machine()
	if err != nil {
		t.Fatalf("Machine() = %v", err)
	}
	if got, want := m.RAM().Length(), uint64(64<<20); got != want {
		t.Errorf("RAM length = %#x, want %#x", got, want)
	}
	l := m.MMLayout()
	if l.HeapCeiling != 8<<20 || l.StackSize != 64<<10 || l.StackInitial != 64<<10 {
		t.Errorf("layout overrides not applied: %+v", l)
	}

	c = &Config{MemorySize: 1000}
	if _, err := c.Machine(); err == nil {
		t.Errorf("Machine() with unaligned memory succeeded")
	}
}
