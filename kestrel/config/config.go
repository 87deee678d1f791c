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

// Package config provides basic infrastructure to set configuration settings
// for kestrel. Each setting that can be changed from the command line must
// be added to Config and registered in RegisterFlags. Settings describing
// the board itself live in the Machine profile.
package config

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
)

// Config holds configuration that is not part of the machine profile.
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is the path to log debug information to, if not empty.
	// %TIMESTAMP%, %COMMAND% and %PID% are expanded.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Strace indicates that strace should be enabled.
	Strace bool `flag:"strace"`

	// Platform is the platform to run on.
	Platform string `flag:"platform"`

	// MachineFile is a TOML or YAML machine profile. Empty means QEMU virt.
	MachineFile string `flag:"machine"`

	// RootFS is a host directory served to the user program.
	RootFS string `flag:"rootfs"`

	// Initrd is a cpio (newc) archive served to the user program.
	Initrd string `flag:"initrd"`

	// P9Addr is the address of a 9P2000.L server serving the user program's
	// files. A value containing a slash is a unix socket path, anything
	// else is dialed over TCP.
	P9Addr string `flag:"9p"`

	// P9Aname is the attach name sent to the 9P server.
	P9Aname string `flag:"9p-aname"`

	// DTB is a flattened device tree read at boot, as firmware would pass
	// it in X0.
	DTB string `flag:"dtb"`

	// MemorySize overrides the RAM size of the machine profile.
	MemorySize Size `flag:"memory"`

	// HeapCeiling overrides the brk heap ceiling of the machine profile.
	HeapCeiling Size `flag:"heap-ceiling"`

	// StackSize overrides the stack reservation of the machine profile.
	StackSize Size `flag:"stack-size"`

	// ConsoleRaw puts the host terminal in raw mode while the program runs,
	// so that the kernel's line discipline does echo and editing.
	ConsoleRaw bool `flag:"console-raw"`
}

func (c *Config) validate() error {
	for _, f := range []string{c.LogFormat, c.DebugLogFormat} {
		switch f {
		case "text", "json":
		default:
			return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", f)
		}
	}
	roots := 0
	for _, r := range []string{c.RootFS, c.Initrd, c.P9Addr} {
		if r != "" {
			roots++
		}
	}
	if roots > 1 {
		return fmt.Errorf("--rootfs, --initrd and --9p are mutually exclusive")
	}
	return nil
}

// Size is a byte count that accepts unit suffixes ("64MiB", "1G").
type Size uint64

func sizePtr(v Size) *Size {
	return &v
}

// Set implements flag.Value.Set.
func (s *Size) Set(v string) error {
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", v, err)
	}
	*s = Size(n)
	return nil
}

// Get implements flag.Getter.Get.
func (s *Size) Get() any {
	return *s
}

// String implements fmt.Stringer.String. Sizes that a binary unit
// represents exactly are printed with it.
func (s Size) String() string {
	str := humanize.IBytes(uint64(s))
	if n, err := humanize.ParseBytes(str); err == nil && n == uint64(s) {
		return str
	}
	return strconv.FormatUint(uint64(s), 10)
}
