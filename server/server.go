/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package server contains the code for the vmpager server.
*/
package server

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/krotik/common/fileutil"
	"github.com/krotik/common/lockutil"
	"github.com/krotik/ecal/util"
	"devt.de/krotik/vmpager/config"
	"devt.de/krotik/vmpager/monitor"
	"devt.de/krotik/vmpager/vm"
)

/*
Using custom consolelogger type so we can test log.Fatal calls with unit tests. Overwrite
these if the server should not call os.Exit on a fatal error.
*/
type consolelogger func(v ...interface{})

var fatal = consolelogger(log.Fatal)
var print = consolelogger(log.Print)

/*
Base path for all file (used by unit tests)
*/
var basepath = ""

/*
Logger is the logger of the VM manager. A logger which writes to stdout is
created from the config if this is nil.
*/
var Logger util.Logger

/*
StartServer runs the vmpager server. The server uses config.Config for all its configuration
parameters.
*/
func StartServer() {
	StartServerWithSingleOp(nil)
}

/*
StartServerWithSingleOp runs the vmpager server. If the singleOperation function is
not nil then the server executes the function and exits if the function returns true.
*/
func StartServerWithSingleOp(singleOperation func(*vm.Manager) bool) {
	var mon *monitor.Monitor

	print(fmt.Sprintf("VMPager %v", config.ProductVersion))

	// Ensure we have a configuration - use the default configuration if nothing was set

	if config.Config == nil {
		config.LoadDefaultConfig()
	}

	ensurePath(filepath.Join(basepath, "."))

	m := vm.NewManager()

	m.Basepath = basepath
	m.Logger = Logger

	// Attach the monitor before the manager starts so it sees all events

	if config.Bool(config.EnableMonitor) {
		history := int(config.Int(config.MonitorHistory))

		print(fmt.Sprintf("Creating monitor (history: %v)", history))

		mon = monitor.NewMonitor(m, history)

		monitor.LogInfo = func(v ...interface{}) {
			print("[Monitor] ", fmt.Sprint(v...))
		}
	}

	print("Starting VM manager")

	if err := m.Start(); err != nil {
		fatal("Failed to start VM manager:", err)
		return
	}

	print(fmt.Sprintf("Using %v frames of %v bytes and %v swap slots",
		m.Frames().Size(), m.Frames().PageSize(), m.Swap().Capacity()))

	defer func() {

		print("Shutting down VM manager")

		if err := m.Shutdown(); err != nil {
			fatal(err)
			return
		}
	}()

	// Handle single operation - these are operations which work on the Manager
	// and then exit.

	if singleOperation != nil && singleOperation(m) {
		return
	}

	// Start monitor server

	if mon != nil {
		laddr := config.Str(config.MonitorHost) + ":" + config.Str(config.MonitorPort)

		print("Starting monitor on: ", laddr)

		s := monitor.NewServer(mon)

		if err := s.Start(laddr); err != nil {
			fatal("Failed to start monitor:", err)
			return
		}

		defer func() {
			print("Stopping monitor")
			s.Stop()
		}()
	}

	// Create a lockfile so the server can be shut down

	lf := lockutil.NewLockFile(filepath.Join(basepath, config.Str(config.LockFile)),
		time.Duration(2)*time.Second)

	if err := lf.Start(); err != nil {
		fatal("Failed to create lockfile:", err)
		return
	}

	print("Waiting for shutdown")

	// Check if the lockfile watcher is running and
	// shut down once it has finished

	for lf.WatcherRunning() {
		time.Sleep(time.Duration(1) * time.Second)
	}

	print("Lockfile was modified")

	lf.Finish()

	os.RemoveAll(filepath.Join(basepath, config.Str(config.LockFile)))
}

/*
ensurePath ensures that a given relative path exists.
*/
func ensurePath(path string) {
	if res, _ := fileutil.PathExists(path); !res {
		if err := os.MkdirAll(path, 0770); err != nil {
			fatal("Could not create directory:", err.Error())
			return
		}
	}
}
