/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package mmap

import (
	"errors"
	"fmt"
	"log"
)

// Logging
// =======

/*
Logger is a function which processes log messages from the mmap code
*/
type Logger func(v ...interface{})

/*
LogInfo is called if an info message is logged in the mmap code
*/
var LogInfo = Logger(log.Print)

/*
LogDebug is called if a debug message is logged in the mmap code
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
Common mmap related errors.
*/
var (
	ErrInvalidMmapRequest = errors.New("Invalid mmap request")
	ErrUnknownMapping     = errors.New("Unknown mapping")
)

/*
Error is a mmap related error.
*/
type Error struct {
	Type   error  // Error type (to be used for equal checks)
	Detail string // Details of this error
	Pid    int    // Process which owns the mapping
}

/*
Error returns a human-readable string representation of this error.
*/
func (e *Error) Error() string {
	return fmt.Sprintf("%s (pid %d - %s)", e.Type.Error(), e.Pid, e.Detail)
}

/*
Unwrap returns the error type so errors.Is can be used on mmap errors.
*/
func (e *Error) Unwrap() error {
	return e.Type
}
