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
	"fmt"
	"sync/atomic"

	"github.com/krotik/common/errorutil"
	"devt.de/krotik/vmpager/frame"
	"devt.de/krotik/vmpager/swap"
)

/*
Resolve resolves a page fault at a given address. An access which is close
enough to the stack pointer grows the stack. Returns an ErrAccessViolation
error if the fault cannot be resolved.
*/
func (t *Table) Resolve(addr uint64, write bool, esp uint64) error {
	atomic.AddUint64(&t.stats.Faults, 1)

	if addr >= t.setup.PhysBase {
		return newError(ErrAccessViolation, fmt.Sprintf("Kernel address %#x", addr), t.pid)
	}

	p, err := t.Lookup(addr)

	if err != nil {

		if !t.isStackAccess(addr, esp) {
			return newError(ErrAccessViolation, fmt.Sprintf("Unmapped address %#x", addr), t.pid)
		}

		LogDebug("Process ", t.pid, " grows its stack to ", fmt.Sprintf("%#x", addr))

		if p, err = t.AddAnonymous(t.pageAddr(addr), true); err != nil {
			return err
		}

		atomic.AddUint64(&t.stats.StackGrowths, 1)
		t.notify(EventStackGrowth, p, -1)
	}

	if write && !p.writable {
		return newError(ErrAccessViolation, fmt.Sprintf("Write to read-only address %#x", addr), t.pid)
	}

	return t.Load(p)
}

/*
isStackAccess checks if an access to an unmapped address should grow the
stack. The address must be in the stack region and not too far below the
stack pointer.
*/
func (t *Table) isStackAccess(addr uint64, esp uint64) bool {
	low, high := t.StackRegion()

	return addr >= low && addr < high && addr+t.setup.StackSlack >= esp
}

/*
Load makes a page resident. A resident page is left alone.
*/
func (t *Table) Load(p *Page) error {
	var state State
	var slot uint32

	t.frames.Atomic(func() {
		errorutil.AssertTrue(p.table == t, fmt.Sprint("Page is not in this table ", p))

		state = p.state
		slot = p.slot
	})

	if state == StateResident {
		return nil
	}

	// Get a pinned frame - this might evict another page

	f, err := t.frames.Acquire(p)
	if err != nil {
		return err
	}

	event, err := t.populate(p, f, state, slot)

	if err != nil {
		t.frames.Release(f, p)
		return err
	}

	t.frames.Atomic(func() {

		if err = t.mapper.InstallMapping(p.addr, f, p.writable); err != nil {
			t.frames.ReleaseLocked(f, p)
			return
		}

		p.frame = f
		p.state = StateResident

		t.frames.UnpinLocked(f)

		t.notify(event, p, f.Index())
	})

	return err
}

/*
populate fills a frame with the content of a page. Returns the type of the
load event.
*/
func (t *Table) populate(p *Page, f *frame.Frame, state State, slot uint32) (string, error) {
	data := f.Data()

	if state == StateSwapped {
		if err := t.setup.Swap.Read(slot, data); err != nil {
			return "", err
		}

		atomic.AddUint64(&t.stats.SwapIns, 1)

		return EventSwapIn, nil
	}

	if p.kind == KindAnonymous {
		for i := range data {
			data[i] = 0
		}

		atomic.AddUint64(&t.stats.ZeroFills, 1)

		return EventZeroFill, nil
	}

	n, err := p.file.ReadAt(data[:p.readBytes], p.offset)

	if err == nil && n != p.readBytes {
		err = newError(ErrBackingReadMismatch, fmt.Sprintf("Read %v of %v bytes of %v from %v at %v",
			n, p.readBytes, p, p.file.Name(), p.offset), t.pid)
	}

	if err != nil {
		return "", err
	}

	for i := p.readBytes; i < len(data); i++ {
		data[i] = 0
	}

	atomic.AddUint64(&t.stats.FileLoads, 1)

	return EventFileLoad, nil
}

/*
Evict moves a resident page out of its frame. This is called by the frame
table with its lock held. A page which has to go to swap gets its swap slot
before the mapping is cleared so that an exhausted swap store leaves the page
untouched. Clean segment pages never need a slot. Errors while writing the
page content are fatal to the owning process but do not stop the eviction.
*/
func (p *Page) Evict(f *frame.Frame) error {
	t := p.table

	errorutil.AssertTrue(t != nil && p.state == StateResident && p.frame == f,
		fmt.Sprint("Evicting non-resident page ", p))

	dirty := t.mapper.IsDirty(p.addr)
	fresh := false

	if p.slot == swap.NotYetSwapped && (p.kind == KindAnonymous || (p.kind == KindSegment && dirty)) {
		slot, err := t.setup.Swap.AllocateSlot()
		if err != nil {
			return err
		}

		p.slot = slot
		fresh = true
	}

	// The page may have been written since the dirty bit was checked

	dirty = t.mapper.ClearMapping(p.addr) || dirty

	p.frame = nil

	switch {

	case p.kind == KindMapped:

		// Mapped pages can always be reloaded from their file

		p.state = StatePlanned

		if !dirty {
			atomic.AddUint64(&t.stats.Discards, 1)
			t.notify(EventDiscard, p, f.Index())

		} else if t.writeBack(p, f.Data()) == nil {
			t.notify(EventWriteBack, p, f.Index())
		}

	case p.kind == KindSegment && !dirty && p.slot == swap.NotYetSwapped:

		// Unmodified segment pages can be reloaded from the executable

		p.state = StatePlanned

		atomic.AddUint64(&t.stats.Discards, 1)
		t.notify(EventDiscard, p, f.Index())

	default:

		if p.slot == swap.NotYetSwapped {
			slot, err := t.setup.Swap.AllocateSlot()

			if err != nil {

				// The mapping is already gone so the content is lost

				p.state = StatePlanned

				t.fatal(err)

				return nil
			}

			p.slot = slot
			fresh = true
		}

		// The swap slot holds the current content unless the page was
		// modified or the slot is new

		if dirty || fresh {

			if err := t.setup.Swap.Write(p.slot, f.Data()); err != nil {

				if fresh {
					t.setup.Swap.Free(p.slot)
					p.slot = swap.NotYetSwapped
				}

				p.state = StatePlanned

				t.fatal(err)

				return nil
			}

			atomic.AddUint64(&t.stats.SwapOuts, 1)
		}

		p.state = StateSwapped

		t.notify(EventSwapOut, p, f.Index())
	}

	return nil
}
