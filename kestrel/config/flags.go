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
	"fmt"
	"reflect"
	"strconv"

	"kestrel.dev/kestrel/kestrel/flag"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("debug", false, "enable debug logging.")

	// Debugging flags.
	flagSet.String("debug-log", "", "additional location for logs. If it ends with '/', log files are created inside the directory with default names. The following variables are available: %TIMESTAMP%, %COMMAND%, %PID%.")
	flagSet.String("debug-log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")
	flagSet.Bool("strace", false, "log every syscall with its arguments and result.")

	// Machine flags.
	flagSet.String("platform", "interp", "specifies which platform to use: interp (default), metal.")
	flagSet.String("machine", "", "machine profile, TOML or YAML (.yaml/.yml). Default is QEMU virt with 1GiB of RAM.")
	flagSet.Var(sizePtr(0), "memory", "RAM size, overriding the machine profile (e.g. 256MiB).")
	flagSet.Var(sizePtr(0), "heap-ceiling", "maximum size of the brk heap, overriding the machine profile.")
	flagSet.Var(sizePtr(0), "stack-size", "size of the stack reservation, overriding the machine profile.")
	flagSet.String("dtb", "", "flattened device tree to read boot arguments, RAM and the rng seed from.")

	// Filesystem flags. At most one may be set.
	flagSet.String("rootfs", "", "host directory served read-only to the program.")
	flagSet.String("initrd", "", "cpio (newc) archive served read-only to the program.")
	flagSet.String("9p", "", "9P2000.L server serving the program's files: host:port, or a unix socket path.")
	flagSet.String("9p-aname", "", "attach name sent to the 9P server.")

	// Console flags.
	flagSet.Bool("console-raw", true, "put the host terminal in raw mode so the kernel's line discipline handles echo and ^C.")
}

// flagFields calls fn for each field of c that is tagged with a flag name,
// stopping early if fn returns false.
func (c *Config) flagFields(fn func(name string, field reflect.Value) bool) {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		if name, ok := st.Field(i).Tag.Lookup("flag"); ok && !fn(name, obj.Field(i)) {
			return
		}
	}
}

func mustLookup(flagSet *flag.FlagSet, name string) *flag.Flag {
	fl := flagSet.Lookup(name)
	if fl == nil {
		panic(fmt.Sprintf("Flag %q not found", name))
	}
	return fl
}

// NewFromFlags creates a new Config with values coming from command line flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	conf.flagFields(func(name string, field reflect.Value) bool {
		field.Set(reflect.ValueOf(flag.Get(mustLookup(flagSet, name).Value)))
		return true
	})
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns the flags that reproduce c, omitting defaults.
func (c *Config) ToFlags() []string {
	defaults := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(defaults)

	var rv []string
	c.flagFields(func(name string, field reflect.Value) bool {
		if val := getVal(field); val != mustLookup(defaults, name).DefValue {
			rv = append(rv, fmt.Sprintf("--%s=%s", name, val))
		}
		return true
	})
	return rv
}

// Override sets the flag name to value, parsing it the way the command line
// would, and revalidates c.
func (c *Config) Override(flagSet *flag.FlagSet, name string, value string) error {
	found := false
	var err error
	c.flagFields(func(fieldName string, field reflect.Value) bool {
		if fieldName != name {
			return true
		}
		found = true
		fl := mustLookup(flagSet, name)
		if err = fl.Value.Set(value); err != nil {
			err = fmt.Errorf("error setting flag %s=%q: %w", name, value, err)
			return false
		}
		field.Set(reflect.ValueOf(flag.Get(fl.Value)))
		return false
	})
	if !found {
		return fmt.Errorf("flag %q not found. Cannot set it to %q", name, value)
	}
	if err != nil {
		return err
	}
	return c.validate()
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
