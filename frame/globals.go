/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package frame

import (
	"errors"
	"fmt"
	"log"
)

// Logging
// =======

/*
Logger is a function which processes log messages from the frame table
*/
type Logger func(v ...interface{})

/*
LogInfo is called if an info message is logged in the frame table
*/
var LogInfo = Logger(log.Print)

/*
LogDebug is called if a debug message is logged in the frame table
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
Common frame table related errors.
*/
var (
	ErrNoEvictableFrame = errors.New("No evictable frame")
)

/*
Error is a frame table related error.
*/
type Error struct {
	Type   error  // Error type (to be used for equal checks)
	Detail string // Details of this error
	Frame  int    // Index of the frame (-1 if not applicable)
}

/*
newError returns a new frame table specific error.
*/
func newError(errType error, detail string, frame int) *Error {
	return &Error{errType, detail, frame}
}

/*
Error returns a human-readable string representation of this error.
*/
func (e *Error) Error() string {
	if e.Frame < 0 {
		return fmt.Sprintf("%s (%s)", e.Type.Error(), e.Detail)
	}
	return fmt.Sprintf("%s (frame %d - %s)", e.Type.Error(), e.Frame, e.Detail)
}

/*
Unwrap returns the error type so errors.Is can be used on frame errors.
*/
func (e *Error) Unwrap() error {
	return e.Type
}
