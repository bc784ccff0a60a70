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
Package page contains the supplemental page table and the demand loader.

Table

A Table describes every virtual page of a process. Page descriptors live in an
arena owned by the table and are addressed by stable handles. The frame table
only holds a non-owning reference to a page while the page is resident.

Page states

A page is Planned (its content can be derived from its backing), Resident (it
occupies a frame) or Swapped (its content is held by a swap slot). Faults move
Planned and Swapped pages to Resident. Evictions move Resident pages back:

- Mapped file pages are written back to their file if dirty and become Planned.

- Segment pages which were never modified become Planned without consuming a
swap slot.

- All other pages go to swap. A page keeps its swap slot once it has one until
the page is removed.

Residency fields of a page (state, frame and swap slot) are only accessed
while holding the frame table lock.
*/
package page

import (
	"fmt"

	"devt.de/krotik/vmpager/frame"
	"devt.de/krotik/vmpager/swap"
)

/*
State is the residency state of a page.
*/
type State int

/*
Page states
*/
const (
	StatePlanned State = iota
	StateResident
	StateSwapped
)

/*
String returns a string representation of a page state.
*/
func (s State) String() string {
	switch s {
	case StatePlanned:
		return "planned"
	case StateResident:
		return "resident"
	case StateSwapped:
		return "swapped"
	}
	return fmt.Sprint("state(", int(s), ")")
}

/*
Kind is the backing kind of a page.
*/
type Kind int

/*
Backing kinds
*/
const (
	KindNone Kind = iota
	KindSegment
	KindMapped
	KindAnonymous
)

/*
String returns a string representation of a backing kind.
*/
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSegment:
		return "segment"
	case KindMapped:
		return "mapped"
	case KindAnonymous:
		return "anonymous"
	}
	return fmt.Sprint("kind(", int(k), ")")
}

/*
File is the backing file of a page.
*/
type File interface {

	/*
		Name returns the name of the file.
	*/
	Name() string

	/*
		Inode returns a number which identifies the file.
	*/
	Inode() uint64

	/*
		Length returns the length of the file.
	*/
	Length() int64

	/*
		ReadAt reads from a given offset and returns the number of read bytes.
	*/
	ReadAt(p []byte, off int64) (int, error)

	/*
		WriteAt writes at a given offset and returns the number of written bytes.
	*/
	WriteAt(p []byte, off int64) (int, error)
}

/*
Mapper is the hardware page table of a process.
*/
type Mapper interface {

	/*
		InstallMapping maps a page address to a frame with clear accessed and
		dirty bits.
	*/
	InstallMapping(vaddr uint64, f *frame.Frame, writable bool) error

	/*
		ClearMapping removes a mapping and returns its final dirty bit.
	*/
	ClearMapping(vaddr uint64) bool

	/*
		IsAccessed returns the accessed bit of a page address.
	*/
	IsAccessed(vaddr uint64) bool

	/*
		IsDirty returns the dirty bit of a page address.
	*/
	IsDirty(vaddr uint64) bool
}

/*
Handle is the stable index of a page in the arena of its table.
*/
type Handle int

/*
Page is the descriptor of a virtual page.
*/
type Page struct {
	addr      uint64       // Page address
	table     *Table       // Owning table (nil if not inserted, guarded by the frame table lock)
	frames    *frame.Table // Frame table of the last owning table
	pid       int          // Process of the last owning table
	handle    Handle       // Handle in the owning table
	kind      Kind         // Backing kind
	file      File         // Backing file
	offset    int64        // Offset in the backing file
	readBytes int          // Number of bytes which are read from the backing file
	writable  bool         // Flag if the page can be written
	mapID     int          // Mmap record of mapped pages

	// Residency fields (guarded by the frame table lock)

	state State        // Residency state
	frame *frame.Frame // Occupied frame while resident
	slot  uint32       // Swap slot (swap.NotYetSwapped if none)
}

/*
NewAnonymousPage creates a new page without backing file. Its content is
initially zero.
*/
func NewAnonymousPage(addr uint64, writable bool) *Page {
	return &Page{addr: addr, kind: KindAnonymous, writable: writable,
		state: StatePlanned, slot: swap.NotYetSwapped}
}

/*
NewSegmentPage creates a new page of an executable segment. The page content
is readBytes bytes of the file at the given offset followed by zeros.
*/
func NewSegmentPage(addr uint64, file File, offset int64, readBytes int, writable bool) *Page {
	return &Page{addr: addr, kind: KindSegment, file: file, offset: offset,
		readBytes: readBytes, writable: writable, state: StatePlanned,
		slot: swap.NotYetSwapped}
}

/*
NewMappedPage creates a new page of a memory mapped file. Mapped pages are
always writable and changes are written back to the file.
*/
func NewMappedPage(addr uint64, file File, offset int64, readBytes int, mapID int) *Page {
	return &Page{addr: addr, kind: KindMapped, file: file, offset: offset,
		readBytes: readBytes, writable: true, mapID: mapID, state: StatePlanned,
		slot: swap.NotYetSwapped}
}

/*
Addr returns the page address.
*/
func (p *Page) Addr() uint64 {
	return p.addr
}

/*
Handle returns the handle of this page in its table.
*/
func (p *Page) Handle() Handle {
	return p.handle
}

/*
Kind returns the backing kind of this page.
*/
func (p *Page) Kind() Kind {
	return p.kind
}

/*
File returns the backing file of this page.
*/
func (p *Page) File() File {
	return p.file
}

/*
Offset returns the offset of this page in its backing file.
*/
func (p *Page) Offset() int64 {
	return p.offset
}

/*
ReadBytes returns the number of bytes which are read from the backing file.
*/
func (p *Page) ReadBytes() int {
	return p.readBytes
}

/*
Writable returns if this page can be written.
*/
func (p *Page) Writable() bool {
	return p.writable
}

/*
MapID returns the mmap record of a mapped page.
*/
func (p *Page) MapID() int {
	return p.mapID
}

/*
State returns the residency state of this page.
*/
func (p *Page) State() State {
	var ret State
	p.atomic(func() { ret = p.state })
	return ret
}

/*
Slot returns the swap slot of this page.
*/
func (p *Page) Slot() uint32 {
	var ret uint32
	p.atomic(func() { ret = p.slot })
	return ret
}

/*
Accessed returns the accessed bit of this page. The frame table lock must be
held.
*/
func (p *Page) Accessed() bool {
	return p.table != nil && p.table.mapper.IsAccessed(p.addr)
}

/*
Dirty returns the dirty bit of this page. The frame table lock must be held.
*/
func (p *Page) Dirty() bool {
	return p.table != nil && p.table.mapper.IsDirty(p.addr)
}

/*
Flags returns the accessed and dirty bits of this page.
*/
func (p *Page) Flags() (accessed bool, dirty bool) {
	p.atomic(func() {
		accessed = p.Accessed()
		dirty = p.Dirty()
	})
	return
}

/*
atomic runs a function under the frame table lock. Pages which were never
inserted have no frame table.
*/
func (p *Page) atomic(fn func()) {
	if p.frames == nil {
		fn()
		return
	}
	p.frames.Atomic(fn)
}

/*
String returns a short description of this page.
*/
func (p *Page) String() string {
	return fmt.Sprintf("%d:%#x %v", p.pid, p.addr, p.kind)
}
