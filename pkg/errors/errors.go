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

// Package errors defines the errno-carrying error type returned by syscall
// handlers.
package errors

import (
	"kestrel.dev/kestrel/pkg/abi/linux/errno"
)

// Error is a Linux errno with a message. Values are compared by errno, so a
// handler may return its own *Error and still match the linuxerr catalogue.
type Error struct {
	errno   errno.Errno
	message string
}

// New returns an *Error for err.
func New(err errno.Errno, message string) *Error {
	return &Error{errno: err, message: message}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Errno returns the errno the user program sees.
func (e *Error) Errno() errno.Errno { return e.errno }

// Is implements the errors.Is hook.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && t.errno == e.errno
}
