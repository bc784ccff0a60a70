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

/*
Page event types
*/
const (
	EventFileLoad    = "fileload"    // Planned page was loaded from its file
	EventZeroFill    = "zerofill"    // Planned page was filled with zeros
	EventSwapIn      = "swapin"      // Swapped page was loaded from swap
	EventSwapOut     = "swapout"     // Resident page went to swap
	EventWriteBack   = "writeback"   // Resident mapped page was written back and is planned again
	EventDiscard     = "discard"     // Resident page was dropped and is planned again
	EventStackGrowth = "stackgrowth" // Stack page was created by a fault
	EventRemove      = "remove"      // Page was removed from its table
	EventKill        = "kill"        // Owning process was terminated by a fault
)

/*
Event describes a state change of a page.
*/
type Event struct {
	Type  string // Event type
	Pid   int    // Owning process
	Addr  uint64 // Page address
	Kind  Kind   // Backing kind
	Frame int    // Involved frame (-1 if none)
	Slot  uint32 // Swap slot of the page
}

/*
Observer is notified about page events. Notifications may happen while the
frame table lock is held - an observer must not block and must not call back
into the page or frame table.
*/
type Observer interface {

	/*
		PageEvent is called for every page event.
	*/
	PageEvent(e Event)
}

/*
notify notifies the observer of this table about an event.
*/
func (t *Table) notify(eventType string, p *Page, frameIndex int) {
	if o := t.setup.Observer; o != nil {
		o.PageEvent(Event{eventType, t.pid, p.addr, p.kind, frameIndex, p.slot})
	}
}
