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

package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"kestrel.dev/kestrel/pkg/abi/linux/errno"
	"kestrel.dev/kestrel/pkg/errors"
)

var (
	// ErrWouldBlock is an internal error used to indicate that an operation
	// cannot be satisfied immediately.
	ErrWouldBlock = errors.New(errno.EWOULDBLOCK, "request would block")

	// ErrInterrupted is returned if a request is interrupted before it can
	// complete.
	ErrInterrupted = errors.New(errno.EINTR, "request was interrupted")
)

var errorMap = map[error]*errors.Error{
	ErrWouldBlock:  EWOULDBLOCK,
	ErrInterrupted: EINTR,
}

// errorUnwrappers is an array of unwrap functions to extract typed errors.
var errorUnwrappers = []func(error) (*errors.Error, bool){}

// AddErrorUnwrapper registers an unwrap method that can extract a concrete
// error from a typed, but not initialized, error.
func AddErrorUnwrapper(unwrap func(e error) (*errors.Error, bool)) {
	errorUnwrappers = append(errorUnwrappers, unwrap)
}

// TranslateError translates errors to errnos, it will return false if
// the error was not registered.
func TranslateError(from error) (*errors.Error, bool) {
	if err, ok := errorMap[from]; ok {
		return err, true
	}
	for _, unwrap := range errorUnwrappers {
		if err, ok := unwrap(from); ok {
			return err, true
		}
	}
	return nil, false
}

// ToErrno extracts the errno carried by err. It understands *errors.Error
// (including wrapped ones), unix.Errno and registered translations. ok is
// false if err carries no errno.
func ToErrno(err error) (e errno.Errno, ok bool) {
	var le *errors.Error
	if goerrors.As(err, &le) && le != nil {
		return le.Errno(), true
	}
	var ue unix.Errno
	if goerrors.As(err, &ue) {
		return errno.Errno(ue), true
	}
	if te, ok := TranslateError(err); ok {
		return te.Errno(), true
	}
	return 0, false
}
