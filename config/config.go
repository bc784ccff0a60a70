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
Package config contains the configuration of the virtual memory manager.

Numeric values are stored as strings in the default configuration so that
large values survive the JSON round trip of the config file unchanged.
*/
package config

import (
	"fmt"
	"strconv"

	"github.com/krotik/common/errorutil"
	"github.com/krotik/common/fileutil"
)

// Global variables
// ================

/*
ProductVersion is the current version of vmpager
*/
const ProductVersion = "1.0.0"

/*
DefaultConfigFile is the default config file which will be used to configure vmpager
*/
var DefaultConfigFile = "vmpager.config.json"

/*
Known configuration options for vmpager
*/
const (
	PageSize           = "PageSize"
	SectorSize         = "SectorSize"
	UserFrames         = "UserFrames"
	SwapSectors        = "SwapSectors"
	LocationSwapFile   = "LocationSwapFile"
	MemoryOnlySwap     = "MemoryOnlySwap"
	EnableSwapLockfile = "EnableSwapLockfile"
	PhysBase           = "PhysBase"
	MaxStackSize       = "MaxStackSize"
	StackSlack         = "StackSlack"
	LocationFileStore  = "LocationFileStore"
	LogLevel           = "LogLevel"
	EnableMonitor      = "EnableMonitor"
	MonitorHost        = "MonitorHost"
	MonitorPort        = "MonitorPort"
	MonitorHistory     = "MonitorHistory"
	LockFile           = "LockFile"
)

/*
DefaultConfig is the defaut configuration
*/
var DefaultConfig = map[string]interface{}{
	PageSize:           "4096",
	SectorSize:         "512",
	UserFrames:         "64",
	SwapSectors:        "8192",
	LocationSwapFile:   "swap",
	MemoryOnlySwap:     false,
	EnableSwapLockfile: true,
	PhysBase:           "3221225472", // 0xC0000000
	MaxStackSize:       "1048576",    // 1MB
	StackSlack:         "32",
	LocationFileStore:  "files",
	LogLevel:           "info",
	EnableMonitor:      false,
	MonitorHost:        "localhost",
	MonitorPort:        "9191",
	MonitorHistory:     "100",
	LockFile:           "vmpager.lck",
}

/*
Config is the actual config which is used
*/
var Config map[string]interface{}

/*
LoadConfigFile loads a given config file. If the config file does not exist it is
created with the default options.
*/
func LoadConfigFile(configfile string) error {
	var err error

	Config, err = fileutil.LoadConfig(configfile, DefaultConfig)

	return err
}

/*
LoadDefaultConfig loads the default configuration.
*/
func LoadDefaultConfig() {
	data := make(map[string]interface{})
	for k, v := range DefaultConfig {
		data[k] = v
	}

	Config = data
}

// Helper functions
// ================

/*
Str reads a config value as a string value.
*/
func Str(key string) string {
	return fmt.Sprint(Config[key])
}

/*
Int reads a config value as an int value.
*/
func Int(key string) int64 {
	ret, err := strconv.ParseInt(fmt.Sprint(Config[key]), 10, 64)

	errorutil.AssertTrue(err == nil,
		fmt.Sprintf("Could not parse config key %v: %v", key, err))

	return ret
}

/*
Uint reads a config value as an unsigned 64 bit value.
*/
func Uint(key string) uint64 {
	ret, err := strconv.ParseUint(fmt.Sprint(Config[key]), 10, 64)

	errorutil.AssertTrue(err == nil,
		fmt.Sprintf("Could not parse config key %v: %v", key, err))

	return ret
}

/*
Bool reads a config value as a boolean value.
*/
func Bool(key string) bool {
	ret, err := strconv.ParseBool(fmt.Sprint(Config[key]))

	errorutil.AssertTrue(err == nil,
		fmt.Sprintf("Could not parse config key %v: %v", key, err))

	return ret
}
