/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package vm

import (
	"errors"
	"fmt"
	"log"
)

// Logging
// =======

/*
Logger is a function which processes log messages from the vm code
*/
type Logger func(v ...interface{})

/*
LogInfo is called if an info message is logged in the vm code
*/
var LogInfo = Logger(log.Print)

/*
LogDebug is called if a debug message is logged in the vm code
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
Common vm related errors.
*/
var (
	ErrRunning       = errors.New("Manager is already running")
	ErrNotRunning    = errors.New("Manager is not running")
	ErrProcessKilled = errors.New("Process was killed")
	ErrProcessExited = errors.New("Process has exited")
	ErrNoExecutable  = errors.New("Process has no executable")
)

/*
Error is a vm related error.
*/
type Error struct {
	Type   error  // Error type (to be used for equal checks)
	Detail string // Details of this error
	Pid    int    // Involved process (0 for the manager)
}

/*
Error returns a human-readable string representation of this error.
*/
func (e *Error) Error() string {
	if e.Pid == 0 {
		return fmt.Sprintf("%s (%s)", e.Type.Error(), e.Detail)
	}
	return fmt.Sprintf("%s (pid %d - %s)", e.Type.Error(), e.Pid, e.Detail)
}

/*
Unwrap returns the error type so errors.Is can be used on vm errors.
*/
func (e *Error) Unwrap() error {
	return e.Type
}
