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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// OpenFile opens the log named by pattern for appending, creating parent
// directories as needed. A pattern ending in '/' names a directory, in which
// a file named after the start time and command is created. These strings
// are replaced in pattern:
//
//	%PID%        the process ID
//	%TIMESTAMP%  start, as YYYYMMDD-HHMMSS.UUUUUU
//	%COMMAND%    command
//
// An empty pattern returns a nil file.
func OpenFile(pattern, command string, start time.Time) (*os.File, error) {
	if len(pattern) == 0 {
		return nil, nil
	}
	if strings.HasSuffix(pattern, "/") {
		pattern += "kestrel.log.%TIMESTAMP%.%COMMAND%"
	}
	logPath := strings.NewReplacer(
		"%PID%", strconv.Itoa(os.Getpid()),
		"%TIMESTAMP%", start.Format("20060102-150405.000000"),
		"%COMMAND%", command,
	).Replace(pattern)

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("error creating dir %q: %v", dir, err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
	if err != nil {
		return nil, fmt.Errorf("error opening file %q: %v", logPath, err)
	}
	return f, nil
}
