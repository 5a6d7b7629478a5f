// Copyright 2026 The lazypage Authors.
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

// Package linuxerr contains error codes exported as error interface pointers.
// This allows for fast comparison and return operations comparable to
// unix.Errno constants.
package linuxerr

import (
	"errors"

	"golang.org/x/sys/unix"
	lperrors "lazypage.dev/lazypage/pkg/errors"
)

// The following errors are semantically identical to the unix.Errno of the
// same name. Since they are of a distinct type they do not compare equal to
// it; use Equals or ToUnix.
var (
	EFAULT = lperrors.New(unix.EFAULT, "bad address")
	EBUSY  = lperrors.New(unix.EBUSY, "device or resource busy")
	EEXIST = lperrors.New(unix.EEXIST, "file exists")
	ENODEV = lperrors.New(unix.ENODEV, "no such device")
	EINVAL = lperrors.New(unix.EINVAL, "invalid argument")
	ENOMEM = lperrors.New(unix.ENOMEM, "out of memory")
	ENOSPC = lperrors.New(unix.ENOSPC, "no space left on device")
)

var errnoMap = map[unix.Errno]*lperrors.Error{
	unix.EFAULT: EFAULT,
	unix.EBUSY:  EBUSY,
	unix.EEXIST: EEXIST,
	unix.ENODEV: ENODEV,
	unix.EINVAL: EINVAL,
	unix.ENOMEM: ENOMEM,
	unix.ENOSPC: ENOSPC,
}

// ErrorFromUnix returns the *errors.Error for a unix.Errno, or the Errno
// itself if this package does not define it.
func ErrorFromUnix(err unix.Errno) error {
	if err == 0 {
		return nil
	}
	if e, ok := errnoMap[err]; ok {
		return e
	}
	return err
}

// ToUnix converts an *Error to a unix.Errno.
func ToUnix(e *lperrors.Error) unix.Errno {
	if e == nil {
		return 0
	}
	return e.Errno()
}

// Equals compares a linuxerr to a given error. It follows wrapped errors, and
// treats a unix.Errno with the same number as equal.
func Equals(e *lperrors.Error, err error) bool {
	var le *lperrors.Error
	if errors.As(err, &le) {
		return le == e
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return e != nil && errno == e.Errno()
	}
	return e == nil && err == nil
}
