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
Package mmu contains a software address space which plays the role of the
hardware page table of a process.

AddressSpace

An AddressSpace maps page-aligned virtual addresses to frames. Every entry
carries the flags a hardware page table would carry: present, writable,
accessed and dirty. User accesses through Read and Write set the accessed and
dirty flags the way a CPU would. An access to an address without a present
entry (or a write to a read-only entry) raises a page fault through the
registered FaultHandler and is retried once the handler returns.

The address space lock is never held while the fault handler runs and no
other lock is ever acquired while it is held.
*/
package mmu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/krotik/common/errorutil"
	"devt.de/krotik/vmpager/frame"
)

/*
EntryFlag is a flag of an address space entry.
*/
type EntryFlag uint8

/*
Address space entry flags
*/
const (
	FlagPresent  EntryFlag = 1 << 0 // Entry maps a frame
	FlagRW       EntryFlag = 1 << 1 // Entry can be written
	FlagAccessed EntryFlag = 1 << 5 // Entry was accessed since it was installed
	FlagDirty    EntryFlag = 1 << 6 // Entry was written since it was installed
)

/*
Address space related errors.
*/
var (
	ErrAlreadyMapped  = errors.New("Address is already mapped")
	ErrUnhandledFault = errors.New("Page fault without fault handler")
	ErrWriteProtected = errors.New("Write to read-only page")
)

/*
FaultHandler resolves a page fault at a given address.
*/
type FaultHandler func(addr uint64, write bool) error

/*
entry is a single address space entry.
*/
type entry struct {
	frame *frame.Frame
	flags EntryFlag
}

/*
AddressSpace data structure
*/
type AddressSpace struct {
	pageSize uint64            // Size of a page
	entries  map[uint64]*entry // Entries by page address
	handler  FaultHandler      // Handler for page faults
	faults   uint64            // Number of raised faults
	mutex    *sync.Mutex       // Mutex to protect the entries
}

/*
NewAddressSpace creates a new empty address space.
*/
func NewAddressSpace(pageSize int) *AddressSpace {
	errorutil.AssertTrue(pageSize > 0 && pageSize&(pageSize-1) == 0,
		fmt.Sprint("Invalid page size ", pageSize))

	return &AddressSpace{uint64(pageSize), make(map[uint64]*entry), nil, 0, &sync.Mutex{}}
}

/*
SetFaultHandler sets the handler which is called on page faults.
*/
func (as *AddressSpace) SetFaultHandler(handler FaultHandler) {
	as.mutex.Lock()
	defer as.mutex.Unlock()

	as.handler = handler
}

/*
pageAddr returns the page address of a given address.
*/
func (as *AddressSpace) pageAddr(vaddr uint64) uint64 {
	return vaddr &^ (as.pageSize - 1)
}

/*
InstallMapping maps a page address to a frame. The accessed and dirty flags
of the new entry are clear.
*/
func (as *AddressSpace) InstallMapping(vaddr uint64, f *frame.Frame, writable bool) error {
	as.mutex.Lock()
	defer as.mutex.Unlock()

	vaddr = as.pageAddr(vaddr)

	if _, ok := as.entries[vaddr]; ok {
		return fmt.Errorf("%w (%#x)", ErrAlreadyMapped, vaddr)
	}

	flags := FlagPresent
	if writable {
		flags |= FlagRW
	}

	as.entries[vaddr] = &entry{f, flags}

	return nil
}

/*
ClearMapping removes the mapping of a page address. Returns the final dirty
flag of the removed entry.
*/
func (as *AddressSpace) ClearMapping(vaddr uint64) bool {
	as.mutex.Lock()
	defer as.mutex.Unlock()

	vaddr = as.pageAddr(vaddr)

	e, ok := as.entries[vaddr]
	if !ok {
		return false
	}

	delete(as.entries, vaddr)

	return e.flags&FlagDirty != 0
}

/*
IsAccessed returns the accessed flag of a page address.
*/
func (as *AddressSpace) IsAccessed(vaddr uint64) bool {
	return as.flags(vaddr)&FlagAccessed != 0
}

/*
IsDirty returns the dirty flag of a page address.
*/
func (as *AddressSpace) IsDirty(vaddr uint64) bool {
	return as.flags(vaddr)&FlagDirty != 0
}

/*
ClearAccessed clears the accessed flag of a page address.
*/
func (as *AddressSpace) ClearAccessed(vaddr uint64) {
	as.mutex.Lock()
	defer as.mutex.Unlock()

	if e, ok := as.entries[as.pageAddr(vaddr)]; ok {
		e.flags &^= FlagAccessed
	}
}

/*
flags returns the flags of a page address (0 if it is not mapped).
*/
func (as *AddressSpace) flags(vaddr uint64) EntryFlag {
	as.mutex.Lock()
	defer as.mutex.Unlock()

	if e, ok := as.entries[as.pageAddr(vaddr)]; ok {
		return e.flags
	}

	return 0
}

/*
Mapped returns the number of mapped pages.
*/
func (as *AddressSpace) Mapped() int {
	as.mutex.Lock()
	defer as.mutex.Unlock()

	return len(as.entries)
}

/*
Faults returns the number of page faults which were raised.
*/
func (as *AddressSpace) Faults() uint64 {
	as.mutex.Lock()
	defer as.mutex.Unlock()

	return as.faults
}

/*
Read reads user memory starting at a given address.
*/
func (as *AddressSpace) Read(vaddr uint64, buf []byte) error {
	for len(buf) > 0 {
		n, err := as.access(vaddr, buf, false)
		if err != nil {
			return err
		}

		vaddr += uint64(n)
		buf = buf[n:]
	}

	return nil
}

/*
Write writes user memory starting at a given address.
*/
func (as *AddressSpace) Write(vaddr uint64, data []byte) error {
	for len(data) > 0 {
		n, err := as.access(vaddr, data, true)
		if err != nil {
			return err
		}

		vaddr += uint64(n)
		data = data[n:]
	}

	return nil
}

/*
access copies data between a buffer and a single page. A missing entry
raises a page fault and the access is retried once the fault was resolved.
Returns the number of copied bytes.
*/
func (as *AddressSpace) access(vaddr uint64, buf []byte, write bool) (int, error) {
	page := as.pageAddr(vaddr)
	off := vaddr - page

	for {
		as.mutex.Lock()

		e, ok := as.entries[page]

		if ok && (!write || e.flags&FlagRW != 0) {
			var n int

			e.flags |= FlagAccessed

			if write {
				e.flags |= FlagDirty
				n = copy(e.frame.Data()[off:], buf)
			} else {
				n = copy(buf, e.frame.Data()[off:])
			}

			as.mutex.Unlock()

			return n, nil
		}

		handler := as.handler
		as.faults++

		as.mutex.Unlock()

		if handler == nil {
			return 0, fmt.Errorf("%w (%#x)", ErrUnhandledFault, vaddr)
		}

		if err := handler(vaddr, write); err != nil {
			return 0, err
		}

		if ok {

			// The handler accepted a write to a read-only entry

			return 0, fmt.Errorf("%w (%#x)", ErrWriteProtected, vaddr)
		}
	}
}
