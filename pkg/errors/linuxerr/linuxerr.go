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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	"fmt"

	"golang.org/x/sys/unix"
	"kestrel.dev/kestrel/pkg/abi/linux/errno"
	"kestrel.dev/kestrel/pkg/errors"
)

// The following errors are semantically identical to Errno of type unix.Errno
// or syscall.Errno. However, since the types are distinct (these are
// *errors.Error), they are not directly comparable. The Errno method returns
// an Errno number such that the error can be compared to unix.Errno (e.g.
// unix.Errno(EPERM.Errno()) == unix.EPERM is true). Converting unix.Errno to
// the errors should be done via the lookup methods provided.
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(errno.EPERM, "operation not permitted")
	ENOENT                = errors.New(errno.ENOENT, "no such file or directory")
	ESRCH                 = errors.New(errno.ESRCH, "no such process")
	EINTR                 = errors.New(errno.EINTR, "interrupted system call")
	EIO                   = errors.New(errno.EIO, "I/O error")
	ENXIO                 = errors.New(errno.ENXIO, "no such device or address")
	E2BIG                 = errors.New(errno.E2BIG, "argument list too long")
	ENOEXEC               = errors.New(errno.ENOEXEC, "exec format error")
	EBADF                 = errors.New(errno.EBADF, "bad file number")
	ECHILD                = errors.New(errno.ECHILD, "no child processes")
	EAGAIN                = errors.New(errno.EAGAIN, "try again")
	ENOMEM                = errors.New(errno.ENOMEM, "out of memory")
	EACCES                = errors.New(errno.EACCES, "permission denied")
	EFAULT                = errors.New(errno.EFAULT, "bad address")
	ENOTBLK               = errors.New(errno.ENOTBLK, "block device required")
	EBUSY                 = errors.New(errno.EBUSY, "device or resource busy")
	EEXIST                = errors.New(errno.EEXIST, "file exists")
	EXDEV                 = errors.New(errno.EXDEV, "cross-device link")
	ENODEV                = errors.New(errno.ENODEV, "no such device")
	ENOTDIR               = errors.New(errno.ENOTDIR, "not a directory")
	EISDIR                = errors.New(errno.EISDIR, "is a directory")
	EINVAL                = errors.New(errno.EINVAL, "invalid argument")
	ENFILE                = errors.New(errno.ENFILE, "file table overflow")
	EMFILE                = errors.New(errno.EMFILE, "too many open files")
	ENOTTY                = errors.New(errno.ENOTTY, "not a typewriter")
	ETXTBSY               = errors.New(errno.ETXTBSY, "text file busy")
	EFBIG                 = errors.New(errno.EFBIG, "file too large")
	ENOSPC                = errors.New(errno.ENOSPC, "no space left on device")
	ESPIPE                = errors.New(errno.ESPIPE, "illegal seek")
	EROFS                 = errors.New(errno.EROFS, "read-only file system")
	EMLINK                = errors.New(errno.EMLINK, "too many links")
	EPIPE                 = errors.New(errno.EPIPE, "broken pipe")
	EDOM                  = errors.New(errno.EDOM, "math argument out of domain of func")
	ERANGE                = errors.New(errno.ERANGE, "math result not representable")

	// Errno values from include/uapi/asm-generic/errno.h.
	EDEADLK      = errors.New(errno.EDEADLK, "resource deadlock would occur")
	ENAMETOOLONG = errors.New(errno.ENAMETOOLONG, "file name too long")
	ENOLCK       = errors.New(errno.ENOLCK, "no record locks available")
	ENOSYS       = errors.New(errno.ENOSYS, "invalid system call number")
	ENOTEMPTY    = errors.New(errno.ENOTEMPTY, "directory not empty")
	ELOOP        = errors.New(errno.ELOOP, "too many symbolic links encountered")
	ENODATA      = errors.New(errno.ENODATA, "no data available")
	EOVERFLOW    = errors.New(errno.EOVERFLOW, "value too large for defined data type")
	EOPNOTSUPP   = errors.New(errno.EOPNOTSUPP, "operation not supported on transport endpoint")
	ETIMEDOUT    = errors.New(errno.ETIMEDOUT, "connection timed out")

	// Errors equivalent to other errors.
	EWOULDBLOCK = EAGAIN
	ENOTSUP     = EOPNOTSUPP
)

// errNotValidError marks an index of errorSlice with no corresponding errno,
// so any comparison against nil or a valid linuxerr fails.
var errNotValidError = errors.New(errno.Errno(errno.MaxErrno), "not a valid error")

// errorSlice holds errors by errno for fast translation between errnos and
// *errors.Error.
var errorSlice = []*errors.Error{
	errno.NOERRNO:      noError,
	errno.EPERM:        EPERM,
	errno.ENOENT:       ENOENT,
	errno.ESRCH:        ESRCH,
	errno.EINTR:        EINTR,
	errno.EIO:          EIO,
	errno.ENXIO:        ENXIO,
	errno.E2BIG:        E2BIG,
	errno.ENOEXEC:      ENOEXEC,
	errno.EBADF:        EBADF,
	errno.ECHILD:       ECHILD,
	errno.EAGAIN:       EAGAIN,
	errno.ENOMEM:       ENOMEM,
	errno.EACCES:       EACCES,
	errno.EFAULT:       EFAULT,
	errno.ENOTBLK:      ENOTBLK,
	errno.EBUSY:        EBUSY,
	errno.EEXIST:       EEXIST,
	errno.EXDEV:        EXDEV,
	errno.ENODEV:       ENODEV,
	errno.ENOTDIR:      ENOTDIR,
	errno.EISDIR:       EISDIR,
	errno.EINVAL:       EINVAL,
	errno.ENFILE:       ENFILE,
	errno.EMFILE:       EMFILE,
	errno.ENOTTY:       ENOTTY,
	errno.ETXTBSY:      ETXTBSY,
	errno.EFBIG:        EFBIG,
	errno.ENOSPC:       ENOSPC,
	errno.ESPIPE:       ESPIPE,
	errno.EROFS:        EROFS,
	errno.EMLINK:       EMLINK,
	errno.EPIPE:        EPIPE,
	errno.EDOM:         EDOM,
	errno.ERANGE:       ERANGE,
	errno.EDEADLK:      EDEADLK,
	errno.ENAMETOOLONG: ENAMETOOLONG,
	errno.ENOLCK:       ENOLCK,
	errno.ENOSYS:       ENOSYS,
	errno.ENOTEMPTY:    ENOTEMPTY,
	errno.ELOOP:        ELOOP,
	errno.ENODATA:      ENODATA,
	errno.EOVERFLOW:    EOVERFLOW,
	errno.EOPNOTSUPP:   EOPNOTSUPP,
	errno.ETIMEDOUT:    ETIMEDOUT,
}

func init() {
	// Only a subset of errnos is defined; the gaps must never compare equal
	// to nil.
	for i := 1; i < len(errorSlice); i++ {
		if errorSlice[i] == nil {
			errorSlice[i] = errNotValidError
		}
	}
}

// ErrorFromUnix returns a linuxerr from a unix.Errno.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if int(err) >= len(errorSlice) || errorSlice[err] == errNotValidError {
		panic(fmt.Sprintf("invalid error requested with errno: %v", err))
	}
	return errorSlice[err]
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	return unixErr
}

// Equals compares a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err
}
