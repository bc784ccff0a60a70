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
Package mmap contains the memory mapped file manager of a process.

A mapping covers a file with a contiguous range of mapped pages which are
loaded lazily on first access. Unmapping writes modified pages back to the
file. A file handle which is closed while it is still mapped stays open until
its last mapping is removed.
*/
package mmap

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/krotik/common/errorutil"
	"github.com/krotik/common/stringutil"
	"devt.de/krotik/vmpager/page"
)

/*
File is a file which can be memory mapped.
*/
type File interface {
	page.File

	/*
		AddMapping registers a mapping of this file. Fails if the file is
		closed or about to be closed.
	*/
	AddMapping() error

	/*
		RemoveMapping removes a mapping of this file. A deferred close happens
		once the last mapping is gone.
	*/
	RemoveMapping() error
}

/*
Record describes a single mapping.
*/
type Record struct {
	ID     int    // Mapping id
	File   File   // Mapped file
	Addr   uint64 // Base address
	Length int64  // Mapped length in bytes
	Pages  int    // Number of pages
}

/*
String returns a string representation of this record.
*/
func (r *Record) String() string {
	return fmt.Sprintf("%v: %#010x-%#010x %v (%v page%v)", r.ID, r.Addr,
		r.Addr+uint64(r.Length), r.File.Name(), r.Pages, stringutil.Plural(r.Pages))
}

/*
Manager data structure
*/
type Manager struct {
	table   *page.Table     // Page table of the process
	records map[int]*Record // Current mappings
	nextID  int             // Next mapping id
	mutex   *sync.Mutex     // Mutex to protect the records
}

/*
NewManager creates a new mmap manager for a page table.
*/
func NewManager(table *page.Table) *Manager {
	return &Manager{table, make(map[int]*Record), 1, &sync.Mutex{}}
}

/*
Map maps a file at a given address and returns the id of the new mapping. The
pages of the mapping are loaded on first access. The address must be page
aligned and not zero, the file must be open and not empty and the mapping
must neither overlap existing pages nor the stack region. Returns an ErrInvalidMmapRequest
error otherwise and nothing is mapped.
*/
func (m *Manager) Map(file File, addr uint64) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ps := uint64(m.table.PageSize())
	length := file.Length()

	invalid := func(detail string) (int, error) {
		return -1, &Error{ErrInvalidMmapRequest, detail, m.table.Pid()}
	}

	if addr == 0 || addr%ps != 0 {
		return invalid(fmt.Sprintf("Address %#x is not page aligned or zero", addr))
	} else if length <= 0 {
		return invalid(fmt.Sprintf("File %v is empty", file.Name()))
	}

	end := addr + uint64(length)

	if low, _ := m.table.StackRegion(); end < addr || end > low {
		return invalid(fmt.Sprintf("Range %#x-%#x overlaps the stack", addr, end))
	}

	id := m.nextID

	var pages []*page.Page

	for off := int64(0); off < length; off += int64(ps) {
		readBytes := length - off
		if readBytes > int64(ps) {
			readBytes = int64(ps)
		}

		pages = append(pages, page.NewMappedPage(addr+uint64(off), file, off, int(readBytes), id))
	}

	if err := file.AddMapping(); err != nil {
		return invalid(fmt.Sprintf("File %v cannot be mapped: %v", file.Name(), err))
	}

	if err := m.table.InsertAll(pages); err != nil {
		errorutil.AssertOk(file.RemoveMapping())
		return invalid(fmt.Sprintf("Range %#x-%#x collides with an existing mapping: %v", addr, end, err))
	}

	m.nextID++
	m.records[id] = &Record{id, file, addr, length, len(pages)}

	LogDebug(fmt.Sprintf("Process %v maps %v", m.table.Pid(), m.records[id]))

	return id, nil
}

/*
Unmap removes a mapping. Modified pages are written back to the file. A short
write is fatal to the process. The first error which occurred is returned.
*/
func (m *Manager) Unmap(id int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	r, ok := m.records[id]
	if !ok {
		return &Error{ErrUnknownMapping, fmt.Sprint("Mapping ", id), m.table.Pid()}
	}

	return m.unmap(r)
}

/*
unmap removes a mapping. The manager mutex must be held.
*/
func (m *Manager) unmap(r *Record) error {
	var ret error

	ps := uint64(m.table.PageSize())

	for i := 0; i < r.Pages; i++ {
		p, err := m.table.Lookup(r.Addr + uint64(i)*ps)

		errorutil.AssertTrue(err == nil && p.Kind() == page.KindMapped && p.MapID() == r.ID,
			fmt.Sprint("Page of mapping ", r.ID, " is missing"))

		if err = m.table.Remove(p); err != nil && ret == nil {
			ret = err
		}
	}

	delete(m.records, r.ID)

	if err := r.File.RemoveMapping(); err != nil && ret == nil {
		ret = err
	}

	LogDebug(fmt.Sprintf("Process %v unmaps %v", m.table.Pid(), r))

	return ret
}

/*
UnmapAll removes all mappings.
*/
func (m *Manager) UnmapAll() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ce := errorutil.NewCompositeError()

	for _, r := range m.sortedRecords() {
		if err := m.unmap(r); err != nil {
			ce.Add(err)
		}
	}

	if ce.HasErrors() {
		return ce
	}

	return nil
}

/*
Records returns all current mappings ordered by id.
*/
func (m *Manager) Records() []Record {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var ret []Record

	for _, r := range m.sortedRecords() {
		ret = append(ret, *r)
	}

	return ret
}

/*
sortedRecords returns all current mappings ordered by id. The manager mutex
must be held.
*/
func (m *Manager) sortedRecords() []*Record {
	ret := make([]*Record, 0, len(m.records))

	for _, r := range m.records {
		ret = append(ret, r)
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})

	return ret
}

/*
String returns a string representation of all mappings.
*/
func (m *Manager) String() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	buf := new(bytes.Buffer)

	buf.WriteString(fmt.Sprintf("Mappings of pid %v:\n", m.table.Pid()))

	for _, r := range m.sortedRecords() {
		buf.WriteString(fmt.Sprintf("  %v\n", r))
	}

	return buf.String()
}
