/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package monitor

import (
	"errors"
	"log"
)

// Logging
// =======

/*
Logger is a function which processes log messages from the monitor
*/
type Logger func(v ...interface{})

/*
LogInfo is called if an info message is logged in the monitor
*/
var LogInfo = Logger(log.Print)

/*
LogDebug is called if a debug message is logged in the monitor
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
Monitor related errors.
*/
var (
	ErrServerRunning    = errors.New("Monitor server is already running")
	ErrServerNotRunning = errors.New("Monitor server is not running")
)
