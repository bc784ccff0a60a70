/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package mmu

import (
	"bytes"
	"errors"
	"testing"

	"devt.de/krotik/vmpager/frame"
)

type testOwner struct{}

func (o *testOwner) Accessed() bool             { return false }
func (o *testOwner) Dirty() bool                { return false }
func (o *testOwner) Evict(f *frame.Frame) error { return nil }
func (o *testOwner) String() string             { return "test" }

func init() {
	frame.LogInfo = frame.LogNull
}

func TestAddressSpaceMappings(t *testing.T) {
	ft := frame.NewTable(16, 2)
	f, _ := ft.Acquire(&testOwner{})

	as := NewAddressSpace(16)

	if err := as.InstallMapping(0x1005, f, false); err != nil {
		t.Error(err)
		return
	}

	if err := as.InstallMapping(0x1000, f, true); !errors.Is(err, ErrAlreadyMapped) {
		t.Error("Unexpected result:", err)
		return
	}

	if as.Mapped() != 1 || as.IsAccessed(0x1000) || as.IsDirty(0x1000) {
		t.Error("Unexpected address space state")
		return
	}

	buf := make([]byte, 4)
	if err := as.Read(0x1002, buf); err != nil {
		t.Error(err)
		return
	}

	if !as.IsAccessed(0x100f) || as.IsDirty(0x1000) {
		t.Error("Unexpected flags")
		return
	}

	as.ClearAccessed(0x1000)

	if as.IsAccessed(0x1000) {
		t.Error("Accessed flag should be clear")
		return
	}

	if as.ClearMapping(0x1000) || as.Mapped() != 0 {
		t.Error("Unexpected result of ClearMapping")
		return
	}

	if as.ClearMapping(0x1000) {
		t.Error("Unexpected result of ClearMapping")
		return
	}
}

func TestAddressSpaceFaults(t *testing.T) {
	ft := frame.NewTable(16, 4)
	as := NewAddressSpace(16)

	if err := as.Write(0x20, []byte{1}); !errors.Is(err, ErrUnhandledFault) {
		t.Error("Unexpected result:", err)
		return
	}

	var faults []uint64

	as.SetFaultHandler(func(addr uint64, write bool) error {
		faults = append(faults, addr)

		if write && addr >= 0x40 {
			return nil
		} else if addr >= 0x100 {
			return errors.New("segfault")
		}

		f, err := ft.Acquire(&testOwner{})
		if err == nil {
			err = as.InstallMapping(addr, f, addr < 0x40)
		}
		return err
	})

	// Write across three pages

	data := []byte("0123456789abcdefghijklmnopqrstuvwxyz")

	if err := as.Write(0x1c, data); err != nil {
		t.Error(err)
		return
	}

	if len(faults) != 3 || faults[0] != 0x1c || faults[1] != 0x20 || faults[2] != 0x30 {
		t.Error("Unexpected faults:", faults)
		return
	}

	if !as.IsDirty(0x10) || !as.IsDirty(0x20) || !as.IsDirty(0x30) || as.Faults() != 4 {
		t.Error("Unexpected flags or fault count")
		return
	}

	buf := make([]byte, len(data))

	if err := as.Read(0x1c, buf); err != nil || !bytes.Equal(buf, data) {
		t.Error("Unexpected result:", string(buf), err)
		return
	}

	if len(faults) != 3 {
		t.Error("Unexpected faults:", faults)
		return
	}

	// Handler errors are passed through

	if err := as.Read(0x100, buf); err == nil || err.Error() != "segfault" {
		t.Error("Unexpected result:", err)
		return
	}

	// Writes to read-only pages fault and fail if the handler lets them pass

	if err := as.Read(0x40, buf[:1]); err != nil {
		t.Error(err)
		return
	}

	if err := as.Write(0x40, buf[:1]); !errors.Is(err, ErrWriteProtected) {
		t.Error("Unexpected result:", err)
		return
	}

	if as.IsDirty(0x40) {
		t.Error("Read-only page should not be dirty")
		return
	}
}
