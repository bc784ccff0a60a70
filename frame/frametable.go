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
Package frame contains the frame table which manages the user pool of physical
memory.

Table

The frame table owns a fixed number of page-sized frames. Free frames are kept
in a min-heap so the lowest free frame is always handed out first. Once all
frames are occupied the table selects a victim using the accessed and dirty
bits of the occupying pages. Clean pages which were not recently accessed are
preferred, then clean accessed pages, then dirty pages which were not recently
accessed. A frame which is pinned (e.g. because it is being loaded) is never
chosen as a victim.

The table lock also guards the residency state of all pages. Every residency
transition of a page must run inside Atomic.
*/
package frame

import (
	"bytes"
	"container/heap"
	"fmt"
	"io"
	"sync"

	"github.com/krotik/common/bitutil"
	"github.com/krotik/common/errorutil"
	"github.com/krotik/common/sortutil"
	"github.com/krotik/common/stringutil"
)

/*
Owner is the page which occupies a frame.
*/
type Owner interface {

	/*
		Accessed returns if the owner was accessed since it was mapped. Called
		with the table lock held.
	*/
	Accessed() bool

	/*
		Dirty returns if the owner was written since it was mapped. Called with
		the table lock held.
	*/
	Dirty() bool

	/*
		Evict moves the owner out of the given frame. Evict is called with the
		table lock held and the frame pinned. On success the owner must no
		longer refer to the frame.
	*/
	Evict(f *Frame) error

	/*
		String returns a short description of the owner.
	*/
	String() string
}

/*
Frame is a page-sized piece of physical memory.
*/
type Frame struct {
	index  int    // Index of the frame
	data   []byte // Frame content
	owner  Owner  // Current occupant (nil if the frame is free)
	pinned bool   // Flag if the frame must not be evicted
}

/*
Index returns the index of this frame.
*/
func (f *Frame) Index() int {
	return f.index
}

/*
Data returns the content of this frame.
*/
func (f *Frame) Data() []byte {
	return f.data
}

/*
Info is a point in time description of a frame.
*/
type Info struct {
	Index    int    // Index of the frame
	Free     bool   // Flag if the frame is free
	Pinned   bool   // Flag if the frame is pinned
	Accessed bool   // Accessed bit of the occupant
	Dirty    bool   // Dirty bit of the occupant
	Owner    string // Description of the occupant
}

/*
Table data structure
*/
type Table struct {
	pageSize  int               // Size of a frame
	frames    []*Frame          // All frames
	free      *sortutil.IntHeap // Indices of all free frames
	evictions uint64            // Number of evictions
	mutex     *sync.Mutex       // Mutex to protect frames and page residency
}

/*
NewTable creates a new frame table with a given number of frames.
*/
func NewTable(pageSize int, count int) *Table {
	errorutil.AssertTrue(pageSize > 0 && count > 0, "Frame table needs frames")

	memory := make([]byte, pageSize*count)
	frames := make([]*Frame, count)
	free := make(sortutil.IntHeap, count)

	for i := 0; i < count; i++ {
		frames[i] = &Frame{i, memory[i*pageSize : (i+1)*pageSize : (i+1)*pageSize], nil, false}
		free[i] = i
	}

	heap.Init(&free)

	LogInfo(fmt.Sprintf("Frame table: %v frame%v (%v)", count, stringutil.Plural(count),
		bitutil.ByteSizeString(int64(len(memory)), false)))

	return &Table{pageSize, frames, &free, 0, &sync.Mutex{}}
}

/*
PageSize returns the size of a frame.
*/
func (t *Table) PageSize() int {
	return t.pageSize
}

/*
Size returns the total number of frames.
*/
func (t *Table) Size() int {
	return len(t.frames)
}

/*
Atomic runs a given function while holding the table lock.
*/
func (t *Table) Atomic(fn func()) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	fn()
}

/*
Acquire gets a frame for a given owner. If no frame is free another frame is
evicted. The returned frame is pinned and must be unpinned once it has been
populated.
*/
func (t *Table) Acquire(owner Owner) (*Frame, error) {
	errorutil.AssertTrue(owner != nil, "Frame owner is missing")

	t.mutex.Lock()
	defer t.mutex.Unlock()

	for t.free.Len() == 0 {

		victim := t.selectVictim()

		if victim == nil {
			return nil, newError(ErrNoEvictableFrame,
				fmt.Sprintf("All %v frames are pinned", len(t.frames)), -1)
		}

		LogDebug("Evicting ", victim.owner, " from frame ", victim.index)

		victim.pinned = true
		err := victim.owner.Evict(victim)
		victim.pinned = false

		if err != nil {
			return nil, err
		}

		t.evictions++
		t.freeFrame(victim)
	}

	f := t.frames[heap.Pop(t.free).(int)]

	f.owner = owner
	f.pinned = true

	LogDebug("Frame ", f.index, " acquired by ", owner)

	return f, nil
}

/*
selectVictim chooses the frame which should be evicted next. Frames are
scanned in index order and a later frame only replaces the current candidate
if it has a strictly better score. Returns nil if every frame is pinned.
*/
func (t *Table) selectVictim() *Frame {
	var victim *Frame

	best := -1

	for _, f := range t.frames {
		if f.owner == nil || f.pinned {
			continue
		}

		if score := evictionScore(f.owner.Accessed(), f.owner.Dirty()); score > best {
			victim = f
			best = score
		}
	}

	return victim
}

/*
evictionScore scores a frame occupant. A higher score means the occupant is
cheaper to evict.
*/
func evictionScore(accessed bool, dirty bool) int {
	switch {
	case !accessed && !dirty:
		return 3
	case !dirty:
		return 2
	case !accessed:
		return 1
	}
	return 0
}

/*
Unpin unpins a given frame.
*/
func (t *Table) Unpin(f *Frame) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.UnpinLocked(f)
}

/*
UnpinLocked unpins a given frame. The table lock must be held.
*/
func (t *Table) UnpinLocked(f *Frame) {
	errorutil.AssertTrue(f.owner != nil, fmt.Sprint("Unpinning free frame ", f.index))
	f.pinned = false
}

/*
Release returns a frame of a given owner to the free pool.
*/
func (t *Table) Release(f *Frame, owner Owner) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.ReleaseLocked(f, owner)
}

/*
ReleaseLocked returns a frame of a given owner to the free pool. The table
lock must be held.
*/
func (t *Table) ReleaseLocked(f *Frame, owner Owner) {
	errorutil.AssertTrue(f.owner != nil && f.owner == owner,
		fmt.Sprintf("Frame %v is not owned by %v", f.index, owner))

	LogDebug("Frame ", f.index, " released by ", owner)

	t.freeFrame(f)
}

/*
freeFrame puts a frame back into the free pool.
*/
func (t *Table) freeFrame(f *Frame) {
	f.owner = nil
	f.pinned = false

	heap.Push(t.free, f.index)
}

/*
Resident returns the number of occupied frames.
*/
func (t *Table) Resident() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return len(t.frames) - t.free.Len()
}

/*
Free returns the number of free frames.
*/
func (t *Table) Free() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.free.Len()
}

/*
Evictions returns the number of evictions which happened so far.
*/
func (t *Table) Evictions() uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.evictions
}

/*
Snapshot returns a description of every frame.
*/
func (t *Table) Snapshot() []Info {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	ret := make([]Info, len(t.frames))

	for i, f := range t.frames {
		ret[i] = Info{Index: i, Free: f.owner == nil, Pinned: f.pinned}

		if f.owner != nil {
			ret[i].Accessed = f.owner.Accessed()
			ret[i].Dirty = f.owner.Dirty()
			ret[i].Owner = f.owner.String()
		}
	}

	return ret
}

/*
Dump writes a hex dump of all occupied frames to a given writer.
*/
func (t *Table) Dump(w io.Writer) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for _, f := range t.frames {
		if f.owner == nil {
			continue
		}

		if _, err := fmt.Fprintf(w, "Frame %v (%v)\n%v", f.index, f.owner,
			bitutil.HexDump(f.data)); err != nil {

			return err
		}
	}

	return nil
}

/*
String returns a string representation of this frame table.
*/
func (t *Table) String() string {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	buf := new(bytes.Buffer)

	buf.WriteString(fmt.Sprintf("Frame Table: %v/%v frames in use (evictions:%v)\n",
		len(t.frames)-t.free.Len(), len(t.frames), t.evictions))

	for _, f := range t.frames {
		if f.owner == nil {
			continue
		}

		buf.WriteString(fmt.Sprintf("  %04d %v", f.index, f.owner))

		if f.pinned {
			buf.WriteString(" (pinned)")
		}

		buf.WriteString("\n")
	}

	return buf.String()
}
