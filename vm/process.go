/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/krotik/common/errorutil"
	"devt.de/krotik/vmpager/filestore"
	"devt.de/krotik/vmpager/mmap"
	"devt.de/krotik/vmpager/mmu"
	"devt.de/krotik/vmpager/page"
	"devt.de/krotik/vmpager/swap"
)

/*
Process data structure
*/
type Process struct {
	pid     int               // Process id
	manager *Manager          // Manager of this process
	exec    *filestore.File   // Executable image (may be nil)
	table   *page.Table       // Supplemental page table
	as      *mmu.AddressSpace // Address space
	mm      *mmap.Manager     // Memory mapped files
	esp     uint64            // Current user stack pointer (atomic access only)
	killed  error             // Reason why this process was killed
	exited  bool              // Flag if this process has exited
	mutex   *sync.Mutex       // Mutex to protect killed and exited
}

/*
Pid returns the id of this process.
*/
func (p *Process) Pid() int {
	return p.pid
}

/*
Table returns the supplemental page table of this process.
*/
func (p *Process) Table() *page.Table {
	return p.table
}

/*
AddressSpace returns the address space of this process.
*/
func (p *Process) AddressSpace() *mmu.AddressSpace {
	return p.as
}

/*
Mappings returns the memory mapped files of this process.
*/
func (p *Process) Mappings() []mmap.Record {
	return p.mm.Records()
}

/*
Stats returns the paging counters of this process.
*/
func (p *Process) Stats() page.Stats {
	return p.table.Stats()
}

/*
StackPointer returns the user stack pointer of this process.
*/
func (p *Process) StackPointer() uint64 {
	return atomic.LoadUint64(&p.esp)
}

/*
SetStackPointer sets the user stack pointer of this process. Stack growth
faults are checked against it.
*/
func (p *Process) SetStackPointer(esp uint64) {
	atomic.StoreUint64(&p.esp, esp)
}

/*
Killed returns the reason why this process was killed or nil if it is alive.
*/
func (p *Process) Killed() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.killed
}

/*
kill terminates this process. This might be called while the frame table lock
is held.
*/
func (p *Process) kill(reason error) {
	p.mutex.Lock()

	if p.killed != nil {
		p.mutex.Unlock()
		return
	}

	p.killed = reason

	p.mutex.Unlock()

	LogInfo(fmt.Sprintf("Killing process %v: %v", p.pid, reason))

	if o := p.manager.Observer; o != nil {
		o.PageEvent(page.Event{Type: page.EventKill, Pid: p.pid, Frame: -1,
			Slot: swap.NotYetSwapped})
	}
}

/*
checkAlive returns an error if this process was killed or has exited.
*/
func (p *Process) checkAlive() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.exited {
		return &Error{ErrProcessExited, "Access after exit", p.pid}
	} else if p.killed != nil {
		return &Error{ErrProcessKilled, p.killed.Error(), p.pid}
	}

	return nil
}

/*
ResolveFault resolves a page fault of this process. A fault which cannot be
resolved kills the process and its error is returned.
*/
func (p *Process) ResolveFault(addr uint64, write bool, esp uint64) error {
	if err := p.checkAlive(); err != nil {
		return err
	}

	err := p.table.Resolve(addr, write, esp)

	if err != nil {
		p.kill(err)
	}

	return err
}

/*
Read reads user memory of this process.
*/
func (p *Process) Read(addr uint64, buf []byte) error {
	if err := p.checkAlive(); err != nil {
		return err
	}

	return p.as.Read(addr, buf)
}

/*
Write writes user memory of this process.
*/
func (p *Process) Write(addr uint64, data []byte) error {
	if err := p.checkAlive(); err != nil {
		return err
	}

	return p.as.Write(addr, data)
}

/*
LoadSegment adds a segment of the executable image of this process. Pages are
loaded on first access.
*/
func (p *Process) LoadSegment(offset int64, upage uint64, readBytes int, zeroBytes int,
	writable bool) error {

	if err := p.checkAlive(); err != nil {
		return err
	} else if p.exec == nil {
		return &Error{ErrNoExecutable, "LoadSegment", p.pid}
	}

	return p.table.AddSegment(p.exec, offset, upage, readBytes, zeroBytes, writable)
}

/*
SetupStack creates the first stack page right below the kernel base and sets
the stack pointer to the top of the stack.
*/
func (p *Process) SetupStack() error {
	if err := p.checkAlive(); err != nil {
		return err
	}

	_, high := p.table.StackRegion()

	if _, err := p.table.AddStackPage(high - uint64(p.table.PageSize())); err != nil {
		return err
	}

	p.SetStackPointer(high)

	return nil
}

/*
ShareExecutable adds the executable segment pages of another process which
runs the same executable image. Returns the number of added pages.
*/
func (p *Process) ShareExecutable(from *Process) (int, error) {
	if err := p.checkAlive(); err != nil {
		return 0, err
	} else if p.exec == nil {
		return 0, &Error{ErrNoExecutable, "ShareExecutable", p.pid}
	}

	return page.CopySharedEntries(from.table, p.table)
}

/*
Mmap maps a file into the address space of this process. Returns the id of
the new mapping.
*/
func (p *Process) Mmap(file *filestore.File, addr uint64) (int, error) {
	if err := p.checkAlive(); err != nil {
		return -1, err
	}

	return p.mm.Map(file, addr)
}

/*
Munmap removes a mapping of this process. Modified pages are written back.
*/
func (p *Process) Munmap(id int) error {
	if err := p.checkAlive(); err != nil {
		return err
	}

	return p.mm.Unmap(id)
}

/*
Exit tears down this process. All mappings are written back and all frames
and swap slots of the process are released. Exit also works for a killed
process.
*/
func (p *Process) Exit() error {
	p.mutex.Lock()

	if p.exited {
		p.mutex.Unlock()
		return &Error{ErrProcessExited, "Exit", p.pid}
	}

	p.exited = true

	p.mutex.Unlock()

	ce := errorutil.NewCompositeError()

	if err := p.mm.UnmapAll(); err != nil {
		ce.Add(err)
	}

	if err := p.table.Destroy(); err != nil {
		ce.Add(err)
	}

	p.manager.removeProcess(p)

	LogDebug("Process ", p.pid, " exited")

	if ce.HasErrors() {
		return ce
	}

	return nil
}

/*
String returns a string representation of this process.
*/
func (p *Process) String() string {
	state := "running"

	if err := p.Killed(); err != nil {
		state = "killed"
	}

	return fmt.Sprintf("Process %v (%v - %v pages, %v faults)", p.pid, state,
		p.table.Len(), p.table.Stats().Faults)
}
