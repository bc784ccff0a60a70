/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package page

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/krotik/common/errorutil"
	"github.com/krotik/common/pools"
	"github.com/krotik/common/sortutil"
	"github.com/krotik/common/stringutil"
	"devt.de/krotik/vmpager/frame"
	"devt.de/krotik/vmpager/swap"
)

/*
Setup holds the collaborators and the memory layout of a page table.
*/
type Setup struct {
	Frames       *frame.Table    // Frame table (shared by all processes)
	Swap         *swap.Store     // Swap store (shared by all processes)
	Mapper       Mapper          // Hardware page table of the process
	PhysBase     uint64          // First kernel address (the stack grows down from here)
	MaxStackSize uint64          // Maximum size of the stack
	StackSlack   uint64          // Max distance of a stack access below the stack pointer
	Executable   File            // Executable image of the process
	Observer     Observer        // Observer for page events (optional)
	Fatal        func(err error) // Called if an error terminates the owning process
}

/*
Stats holds the counters of a page table.
*/
type Stats struct {
	Faults       uint64 // Resolved and unresolved page faults
	StackGrowths uint64 // Pages created by stack growth
	FileLoads    uint64 // Pages loaded from a backing file
	ZeroFills    uint64 // Pages filled with zeros
	SwapIns      uint64 // Pages loaded from swap
	SwapOuts     uint64 // Pages written to swap
	WriteBacks   uint64 // Pages written back to their file
	Discards     uint64 // Pages dropped without any write
}

/*
Table data structure
*/
type Table struct {
	pid       int               // Process which owns this table
	setup     *Setup            // Collaborators and memory layout
	frames    *frame.Table      // Frame table (shortcut)
	mapper    Mapper            // Hardware page table (shortcut)
	pageSize  uint64            // Size of a page
	pages     []*Page           // Arena of page descriptors
	freeSlots []Handle          // Unused arena positions
	index     map[uint64]Handle // Map of page addresses to handles
	buffers   *sync.Pool        // Pool for page-sized buffers
	stats     Stats             // Counters (atomic access only)
	destroyed bool              // Flag if this table was destroyed
	mutex     *sync.Mutex       // Mutex to protect arena and index
}

/*
NewTable creates a new empty page table for a given process.
*/
func NewTable(pid int, setup *Setup) *Table {
	errorutil.AssertTrue(setup.Frames != nil && setup.Swap != nil && setup.Mapper != nil,
		"Page table setup is incomplete")

	pageSize := setup.Frames.PageSize()

	errorutil.AssertTrue(setup.Swap.PageSize() == pageSize,
		"Frame table and swap store disagree on the page size")

	return &Table{pid, setup, setup.Frames, setup.Mapper, uint64(pageSize),
		nil, nil, make(map[uint64]Handle), pools.NewByteSlicePool(pageSize),
		Stats{}, false, &sync.Mutex{}}
}

/*
Pid returns the process which owns this table.
*/
func (t *Table) Pid() int {
	return t.pid
}

/*
PageSize returns the size of a page.
*/
func (t *Table) PageSize() int {
	return int(t.pageSize)
}

/*
pageAddr returns the page address of a given address.
*/
func (t *Table) pageAddr(addr uint64) uint64 {
	return addr - addr%t.pageSize
}

/*
StackRegion returns the address range which is reserved for the stack.
*/
func (t *Table) StackRegion() (uint64, uint64) {
	return t.setup.PhysBase - t.setup.MaxStackSize, t.setup.PhysBase
}

/*
Insert inserts a page descriptor into this table. Returns an
ErrDuplicateMapping error if the address is already taken.
*/
func (t *Table) Insert(p *Page) (Handle, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.insert(p)
}

/*
insert inserts a page descriptor. The table mutex must be held.
*/
func (t *Table) insert(p *Page) (Handle, error) {
	errorutil.AssertTrue(!t.destroyed, fmt.Sprint("Insert into destroyed table of ", t.pid))
	errorutil.AssertTrue(p.table == nil, fmt.Sprint("Page is already in a table ", p))
	errorutil.AssertTrue(p.kind != KindNone, fmt.Sprint("Page without backing kind ", p))

	if p.addr%t.pageSize != 0 {
		return -1, newError(ErrAccessViolation, fmt.Sprintf("Unaligned page address %#x", p.addr), t.pid)
	}

	if _, ok := t.index[p.addr]; ok {
		return -1, newError(ErrDuplicateMapping, fmt.Sprintf("Address %#x", p.addr), t.pid)
	}

	var h Handle

	if l := len(t.freeSlots); l > 0 {
		h = t.freeSlots[l-1]
		t.freeSlots = t.freeSlots[:l-1]
		t.pages[h] = p
	} else {
		h = Handle(len(t.pages))
		t.pages = append(t.pages, p)
	}

	t.frames.Atomic(func() {
		p.table = t
		p.frames = t.frames
		p.pid = t.pid
	})

	p.handle = h
	t.index[p.addr] = h

	return h, nil
}

/*
Lookup looks up the page of a given address. Returns an ErrNotFound error if
the address is not mapped.
*/
func (t *Table) Lookup(addr uint64) (*Page, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if h, ok := t.index[t.pageAddr(addr)]; ok {
		return t.pages[h], nil
	}

	return nil, newError(ErrNotFound, fmt.Sprintf("Address %#x", addr), t.pid)
}

/*
Page returns the page of a given handle.
*/
func (t *Table) Page(h Handle) *Page {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	errorutil.AssertTrue(h >= 0 && int(h) < len(t.pages) && t.pages[h] != nil,
		fmt.Sprint("Unknown page handle ", h))

	return t.pages[h]
}

/*
Len returns the number of pages in this table.
*/
func (t *Table) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return len(t.index)
}

/*
Addresses returns all page addresses of this table in ascending order.
*/
func (t *Table) Addresses() []uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.addresses()
}

/*
addresses returns all page addresses in ascending order. The table mutex must
be held.
*/
func (t *Table) addresses() []uint64 {
	ret := make([]uint64, 0, len(t.index))

	for addr := range t.index {
		ret = append(ret, addr)
	}

	sortutil.UInt64s(ret)

	return ret
}

/*
Remove releases the frame or swap slot of a page and removes the page from
this table. Dirty pages of mapped files are written back first.
*/
func (t *Table) Remove(p *Page) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.remove(p)
}

/*
remove removes a page. The table mutex must be held.
*/
func (t *Table) remove(p *Page) error {
	var err error

	errorutil.AssertTrue(p.table == t && t.pages[p.handle] == p,
		fmt.Sprint("Page is not in this table ", p))

	t.frames.Atomic(func() {
		err = t.release(p)
		p.table = nil
	})

	t.notify(EventRemove, p, -1)

	delete(t.index, p.addr)
	t.pages[p.handle] = nil
	t.freeSlots = append(t.freeSlots, p.handle)

	p.handle = -1

	return err
}

/*
release gives up all storage of a page. The frame table lock must be held.
*/
func (t *Table) release(p *Page) error {
	var err error

	switch p.state {

	case StateResident:
		dirty := t.mapper.ClearMapping(p.addr)

		if p.kind == KindMapped && dirty {
			err = t.writeBack(p, p.frame.Data())
		}

		t.frames.ReleaseLocked(p.frame, p)
		p.frame = nil

	case StateSwapped:
		if p.kind == KindMapped {
			buf := t.buffers.Get().([]byte)

			if err = t.setup.Swap.Read(p.slot, buf); err == nil {
				err = t.writeBack(p, buf)
			}

			t.buffers.Put(buf)
		}
	}

	if p.slot != swap.NotYetSwapped {
		t.setup.Swap.Free(p.slot)
		p.slot = swap.NotYetSwapped
	}

	p.state = StatePlanned

	return err
}

/*
writeBack writes the content of a mapped page back to its file. A short write
is fatal to the owning process.
*/
func (t *Table) writeBack(p *Page, data []byte) error {
	n, err := p.file.WriteAt(data[:p.readBytes], p.offset)

	if err == nil && n != p.readBytes {
		err = newError(ErrBackingWriteMismatch,
			fmt.Sprintf("Wrote %v of %v bytes of %v to %v at %v", n, p.readBytes,
				p, p.file.Name(), p.offset), t.pid)
	}

	if err != nil {
		t.fatal(err)
		return err
	}

	atomic.AddUint64(&t.stats.WriteBacks, 1)

	return nil
}

/*
fatal reports an error which terminates the owning process.
*/
func (t *Table) fatal(err error) {
	LogInfo(fmt.Sprintf("Process %v: %v", t.pid, err))

	if t.setup.Fatal != nil {
		t.setup.Fatal(err)
	}
}

/*
Destroy removes all pages of this table. The table cannot be used afterwards.
*/
func (t *Table) Destroy() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	errorutil.AssertTrue(!t.destroyed, fmt.Sprint("Page table of ", t.pid, " was already destroyed"))

	ce := errorutil.NewCompositeError()

	for _, addr := range t.addresses() {
		if err := t.remove(t.pages[t.index[addr]]); err != nil {
			ce.Add(err)
		}
	}

	t.destroyed = true
	t.pages = nil
	t.freeSlots = nil

	if ce.HasErrors() {
		return ce
	}

	return nil
}

/*
CopySharedEntries copies all segment pages of a source table which are backed
by the executable image of a destination table. The copies are planned and
use the destination's own file handle. Pages which already exist in the
destination are left alone. Returns the number of copied pages.
*/
func CopySharedEntries(source *Table, dest *Table) (int, error) {
	exec := dest.setup.Executable

	if exec == nil || source == dest {
		return 0, nil
	}

	source.mutex.Lock()

	var shared []*Page

	for _, addr := range source.addresses() {
		p := source.pages[source.index[addr]]

		if p.kind == KindSegment && p.file.Inode() == exec.Inode() {
			shared = append(shared, NewSegmentPage(p.addr, exec, p.offset, p.readBytes, p.writable))
		}
	}

	source.mutex.Unlock()

	dest.mutex.Lock()
	defer dest.mutex.Unlock()

	count := 0

	for _, p := range shared {
		if _, ok := dest.index[p.addr]; ok {
			continue
		}

		if _, err := dest.insert(p); err != nil {
			return count, err
		}

		count++
	}

	LogDebug(fmt.Sprintf("Process %v shares %v page%v of %v with process %v",
		dest.pid, count, stringutil.Plural(count), exec.Name(), source.pid))

	return count, nil
}

/*
AddSegment adds the pages of an executable segment. The segment starts at a
page aligned file offset and page address. Each page reads up to one page of
readBytes from the file, the remaining zeroBytes are zero filled. Either all
pages are added or none.
*/
func (t *Table) AddSegment(file File, offset int64, upage uint64, readBytes int,
	zeroBytes int, writable bool) error {

	ps := int(t.pageSize)

	if readBytes < 0 || zeroBytes < 0 || (readBytes+zeroBytes)%ps != 0 ||
		upage%t.pageSize != 0 || offset%int64(ps) != 0 {

		return newError(ErrInvalidSegment, fmt.Sprintf("Segment %#x read:%v zero:%v offset:%v",
			upage, readBytes, zeroBytes, offset), t.pid)
	}

	var pages []*Page

	for addr := upage; readBytes > 0 || zeroBytes > 0; addr += t.pageSize {
		pageRead := readBytes
		if pageRead > ps {
			pageRead = ps
		}

		pages = append(pages, NewSegmentPage(addr, file, offset, pageRead, writable))

		offset += int64(pageRead)
		readBytes -= pageRead
		zeroBytes -= ps - pageRead
	}

	return t.InsertAll(pages)
}

/*
InsertAll inserts a group of page descriptors. Either all pages are inserted
or none. Returns an ErrDuplicateMapping error if an address is already taken.
*/
func (t *Table) InsertAll(pages []*Page) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	seen := make(map[uint64]bool, len(pages))

	for _, p := range pages {
		if _, ok := t.index[p.addr]; ok || seen[p.addr] {
			return newError(ErrDuplicateMapping, fmt.Sprintf("Address %#x", p.addr), t.pid)
		}
		seen[p.addr] = true
	}

	for i, p := range pages {
		if _, err := t.insert(p); err != nil {

			for _, ip := range pages[:i] {
				t.remove(ip)
			}

			return err
		}
	}

	return nil
}

/*
AddAnonymous adds a planned anonymous page.
*/
func (t *Table) AddAnonymous(addr uint64, writable bool) (*Page, error) {
	p := NewAnonymousPage(addr, writable)

	if _, err := t.Insert(p); err != nil {
		return nil, err
	}

	return p, nil
}

/*
AddStackPage adds an anonymous page to the stack and loads it right away.
*/
func (t *Table) AddStackPage(addr uint64) (*Page, error) {
	if low, high := t.StackRegion(); addr < low || addr >= high {
		return nil, newError(ErrAccessViolation, fmt.Sprintf("Address %#x is outside of the stack", addr), t.pid)
	}

	p, err := t.AddAnonymous(t.pageAddr(addr), true)

	if err == nil {
		atomic.AddUint64(&t.stats.StackGrowths, 1)

		if err = t.Load(p); err != nil {
			t.Remove(p)
			p = nil
		}
	}

	return p, err
}

/*
Stats returns the counters of this table.
*/
func (t *Table) Stats() Stats {
	return Stats{
		Faults:       atomic.LoadUint64(&t.stats.Faults),
		StackGrowths: atomic.LoadUint64(&t.stats.StackGrowths),
		FileLoads:    atomic.LoadUint64(&t.stats.FileLoads),
		ZeroFills:    atomic.LoadUint64(&t.stats.ZeroFills),
		SwapIns:      atomic.LoadUint64(&t.stats.SwapIns),
		SwapOuts:     atomic.LoadUint64(&t.stats.SwapOuts),
		WriteBacks:   atomic.LoadUint64(&t.stats.WriteBacks),
		Discards:     atomic.LoadUint64(&t.stats.Discards),
	}
}

/*
String returns a string representation of this table.
*/
func (t *Table) String() string {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	buf := new(bytes.Buffer)
	l := len(t.index)

	buf.WriteString(fmt.Sprintf("Page Table: pid %v (%v page%v)\n", t.pid, l, stringutil.Plural(l)))

	t.frames.Atomic(func() {
		for _, addr := range t.addresses() {
			p := t.pages[t.index[addr]]

			buf.WriteString(fmt.Sprintf("  %#010x %-9v %-8v", addr, p.kind, p.state))

			if p.state == StateResident {
				buf.WriteString(fmt.Sprintf(" frame:%v", p.frame.Index()))
			}
			if p.slot != swap.NotYetSwapped {
				buf.WriteString(fmt.Sprintf(" slot:%v", p.slot))
			}
			if p.file != nil {
				buf.WriteString(fmt.Sprintf(" file:%v@%v+%v", p.file.Name(), p.offset, p.readBytes))
			}
			if !p.writable {
				buf.WriteString(" ro")
			}

			buf.WriteString("\n")
		}
	})

	return buf.String()
}
