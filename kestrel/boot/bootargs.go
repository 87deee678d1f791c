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

package boot

import (
	"strings"
)

// DefaultInit is the program run when neither the command line nor the boot
// arguments name one.
const DefaultInit = "/init"

// bootArgs is the parsed kernel command line.
type bootArgs struct {
	// init is set by "init=".
	init string

	// strace is set by "strace" or "strace=1".
	strace bool

	// argv holds words the kernel does not recognize and everything after
	// "--"; they are passed to init as arguments.
	argv []string

	// envv holds unrecognized "key=value" words, passed to init as its
	// environment.
	envv []string
}

// parseBootargs splits a kernel command line the way Linux hands leftovers to
// init: unknown words become arguments, unknown key=value pairs become
// environment variables, and "--" ends option parsing.
func parseBootargs(cmdline string) bootArgs {
	var ba bootArgs
	words := strings.Fields(cmdline)
	for i, w := range words {
		if w == "--" {
			ba.argv = append(ba.argv, words[i+1:]...)
			break
		}
		key, val, hasVal := strings.Cut(w, "=")
		switch {
		case key == "init" && hasVal:
			ba.init = val
		case key == "strace":
			ba.strace = !hasVal || (val != "0" && val != "false")
		case hasVal:
			ba.envv = append(ba.envv, w)
		default:
			ba.argv = append(ba.argv, w)
		}
	}
	return ba
}
