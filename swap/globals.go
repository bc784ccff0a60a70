/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package swap

import (
	"errors"
	"fmt"
	"log"
)

// Logging
// =======

/*
Logger is a function which processes log messages from the swap code
*/
type Logger func(v ...interface{})

/*
LogInfo is called if an info message is logged in the swap code
*/
var LogInfo = Logger(log.Print)

/*
LogDebug is called if a debug message is logged in the swap code
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
Common swap related errors.
*/
var (
	ErrSwapExhausted    = errors.New("Swap space exhausted")
	ErrDeviceTooSmall   = errors.New("Block device cannot hold a single page")
	ErrInvalidPageSize  = errors.New("Page size is not a multiple of the sector size")
	ErrInvalidSector    = errors.New("Sector out of range")
	ErrInvalidBuffer    = errors.New("Buffer has an unexpected size")
	ErrDeviceIO         = errors.New("Block device I/O error")
	ErrDeviceLocked     = errors.New("Block device is locked by another instance")
	ErrSimulatedFailure = errors.New("Simulated device failure")
)

/*
Error is a swap related error.
*/
type Error struct {
	Type   error  // Error type (to be used for equal checks)
	Detail string // Details of this error
	Device string // Name of the block device
}

/*
newError returns a new swap specific error.
*/
func newError(errType error, detail string, device string) *Error {
	return &Error{errType, detail, device}
}

/*
Error returns a human-readable string representation of this error.
*/
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s - %s)", e.Type.Error(), e.Device, e.Detail)
}

/*
Unwrap returns the error type so errors.Is can be used on swap errors.
*/
func (e *Error) Unwrap() error {
	return e.Type
}
