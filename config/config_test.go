/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"testing"
)

const testconf = "testconfig"

const invalidFileName = "**" + "\x00"

func TestConfig(t *testing.T) {

	Config = nil

	ioutil.WriteFile(testconf, []byte(`{
    "EnableMonitor": true,
    "UserFrames": "8"
}`), 0644)

	defer func() {
		if err := os.Remove(testconf); err != nil {
			fmt.Print("Could not remove test config file:", err.Error())
		}
	}()

	if err := LoadConfigFile(testconf); err != nil {
		t.Error(err)
		return
	}

	if res := Str("EnableMonitor"); res != "true" {
		t.Error("Unexpected result:", res)
		return
	}

	if res := Bool("EnableMonitor"); !res {
		t.Error("Unexpected result:", res)
		return
	}

	if res := Int("UserFrames"); res != 8 {
		t.Error("Unexpected result:", res)
		return
	}

	if res := Int("PageSize"); fmt.Sprint(res) != DefaultConfig[PageSize] {
		t.Error("Unexpected result:", res)
		return
	}

	if res := Uint(PhysBase); res != 0xC0000000 {
		t.Errorf("Unexpected result: %x", res)
		return
	}

	LoadDefaultConfig()

	if res := Str("EnableMonitor"); res != "false" {
		t.Error("Unexpected result:", res)
		return
	}

	Config[UserFrames] = "123"

	if res := Int("UserFrames"); fmt.Sprint(res) == DefaultConfig[UserFrames] {
		t.Error("Unexpected result:", res)
		return
	}
}

func TestConfigParseErrors(t *testing.T) {
	LoadDefaultConfig()

	Config[UserFrames] = "many"

	defer func() {
		if r := recover(); r == nil {
			t.Error("Parsing an invalid number should cause a panic.")
		}
		LoadDefaultConfig()
	}()

	Int(UserFrames)
}

func TestConfigInvalidFile(t *testing.T) {
	if err := LoadConfigFile(invalidFileName); err == nil {
		t.Error("Invalid file name should cause an error")
		return
	}
	LoadDefaultConfig()
}
