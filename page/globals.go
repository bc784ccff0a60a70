/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package page

import (
	"errors"
	"fmt"
	"log"
)

// Logging
// =======

/*
Logger is a function which processes log messages from the page code
*/
type Logger func(v ...interface{})

/*
LogInfo is called if an info message is logged in the page code
*/
var LogInfo = Logger(log.Print)

/*
LogDebug is called if a debug message is logged in the page code
(by default disabled)
*/
var LogDebug = Logger(LogNull)

/*
LogNull is a discarding logger to be used for disabling loggers
*/
var LogNull = func(v ...interface{}) {
}

// Errors
// ======

/*
Common page related errors.
*/
var (
	ErrDuplicateMapping     = errors.New("Page is already mapped")
	ErrNotFound             = errors.New("Page not found")
	ErrAccessViolation      = errors.New("Access violation")
	ErrBackingWriteMismatch = errors.New("Write-back transferred fewer bytes than expected")
	ErrBackingReadMismatch  = errors.New("Backing file returned fewer bytes than expected")
	ErrInvalidSegment       = errors.New("Invalid segment")
)

/*
Error is a page related error.
*/
type Error struct {
	Type   error  // Error type (to be used for equal checks)
	Detail string // Details of this error
	Pid    int    // Process which owns the page table
}

/*
newError returns a new page specific error.
*/
func newError(errType error, detail string, pid int) *Error {
	return &Error{errType, detail, pid}
}

/*
Error returns a human-readable string representation of this error.
*/
func (e *Error) Error() string {
	return fmt.Sprintf("%s (pid %d - %s)", e.Type.Error(), e.Pid, e.Detail)
}

/*
Unwrap returns the error type so errors.Is can be used on page errors.
*/
func (e *Error) Unwrap() error {
	return e.Type
}
