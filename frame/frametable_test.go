/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

/*
testOwner is an owner which records its evictions.
*/
type testOwner struct {
	name     string
	accessed bool
	dirty    bool
	frame    *Frame
	evicted  int
	err      error
}

func (o *testOwner) Accessed() bool {
	return o.accessed
}

func (o *testOwner) Dirty() bool {
	return o.dirty
}

func (o *testOwner) Evict(f *Frame) error {
	if o.err != nil {
		return o.err
	}
	if f != o.frame {
		panic(fmt.Sprint("Wrong frame evicted from ", o.name))
	}
	if !f.pinned {
		panic("Victim frame is not pinned")
	}
	o.frame = nil
	o.evicted++
	return nil
}

func (o *testOwner) String() string {
	return o.name
}

func init() {
	LogInfo = LogNull
}

/*
fill fills a table with owners and unpins all frames.
*/
func fill(t *Table) []*testOwner {
	var owners []*testOwner

	for i := 0; i < t.Size(); i++ {
		o := &testOwner{name: fmt.Sprint("o", i)}
		o.frame, _ = t.Acquire(o)
		t.Unpin(o.frame)
		owners = append(owners, o)
	}

	return owners
}

func TestFrameAllocation(t *testing.T) {
	ft := NewTable(16, 4)

	if ft.PageSize() != 16 || ft.Size() != 4 || ft.Free() != 4 || ft.Resident() != 0 {
		t.Error("Unexpected table state:", ft)
		return
	}

	owners := fill(ft)

	for i, o := range owners {
		if o.frame.Index() != i || len(o.frame.Data()) != 16 {
			t.Error("Unexpected frame:", o.frame)
			return
		}
	}

	if ft.Free() != 0 || ft.Resident() != 4 {
		t.Error("Unexpected table state:", ft)
		return
	}

	// Released frames are reused lowest first

	ft.Release(owners[3].frame, owners[3])
	ft.Release(owners[1].frame, owners[1])

	o := &testOwner{name: "new"}
	f, err := ft.Acquire(o)
	if err != nil || f.Index() != 1 {
		t.Error("Unexpected result:", f, err)
		return
	}

	if res := ft.String(); res != `Frame Table: 3/4 frames in use (evictions:0)
  0000 o0
  0001 new (pinned)
  0002 o2
` {
		t.Error("Unexpected string representation:", res)
		return
	}

	// Frame content does not overlap

	copy(owners[0].frame.Data(), bytes.Repeat([]byte{1}, 20))

	if f.Data()[0] != 0 {
		t.Error("Frames should not overlap")
		return
	}
}

func TestFrameReleaseWrongOwner(t *testing.T) {
	ft := NewTable(16, 2)
	owners := fill(ft)

	defer func() {
		if r := recover(); r == nil {
			t.Error("Releasing a frame of another owner did not cause a panic.")
		}
	}()

	ft.Release(owners[0].frame, owners[1])
}

/*
victimFor fills a table with owners of the given accessed and dirty bits and
returns the index of the frame which is evicted next.
*/
func victimFor(t *testing.T, bits [][2]bool, pinned ...int) int {
	ft := NewTable(16, len(bits))
	owners := fill(ft)

	for i, b := range bits {
		owners[i].accessed, owners[i].dirty = b[0], b[1]
	}

	for _, i := range pinned {
		ft.frames[i].pinned = true
	}

	f, err := ft.Acquire(&testOwner{name: "new"})
	if err != nil {
		return -1
	}

	if owners[f.Index()].evicted != 1 || owners[f.Index()].frame != nil ||
		ft.Evictions() != 1 {

		t.Error("Victim was not evicted properly")
	}

	return f.Index()
}

func TestFrameEvictionOrder(t *testing.T) {
	clean := [2]bool{false, false}
	accessed := [2]bool{true, false}
	dirty := [2]bool{false, true}
	both := [2]bool{true, true}

	for i, tc := range []struct {
		bits   [][2]bool
		pinned []int
		victim int
	}{
		{[][2]bool{clean, clean, clean, clean}, nil, 0},
		{[][2]bool{both, both, both, both}, nil, 0},
		{[][2]bool{both, accessed, dirty, dirty}, nil, 1},
		{[][2]bool{both, both, dirty, dirty}, nil, 2},
		{[][2]bool{both, accessed, clean, accessed}, nil, 2},
		{[][2]bool{dirty, both, both, clean}, nil, 3},
		{[][2]bool{clean, accessed, accessed, clean}, []int{0}, 3},
		{[][2]bool{clean, accessed, accessed, dirty}, []int{0}, 1},
	} {
		if res := victimFor(t, tc.bits, tc.pinned...); res != tc.victim {
			t.Error("Unexpected victim in test", i, ":", res, "expected:", tc.victim)
			return
		}
	}
}

func TestFrameEvictionScore(t *testing.T) {
	if evictionScore(false, false) != 3 || evictionScore(true, false) != 2 ||
		evictionScore(false, true) != 1 || evictionScore(true, true) != 0 {
		t.Error("Unexpected eviction scores")
		return
	}
}

func TestFrameNoEvictableFrame(t *testing.T) {
	ft := NewTable(16, 2)

	ft.Acquire(&testOwner{name: "a"})
	ft.Acquire(&testOwner{name: "b"})

	_, err := ft.Acquire(&testOwner{name: "c"})
	if !errors.Is(err, ErrNoEvictableFrame) {
		t.Error("Unexpected result:", err)
		return
	}

	if err.Error() != "No evictable frame (All 2 frames are pinned)" {
		t.Error("Unexpected error message:", err)
		return
	}
}

func TestFrameEvictionError(t *testing.T) {
	ft := NewTable(16, 2)
	owners := fill(ft)

	testErr := errors.New("testerror")
	owners[0].err = testErr

	_, err := ft.Acquire(&testOwner{name: "c"})
	if err != testErr {
		t.Error("Unexpected result:", err)
		return
	}

	// The victim stays in place and is no longer pinned

	if ft.Resident() != 2 || ft.frames[0].pinned || ft.frames[0].owner != owners[0] {
		t.Error("Unexpected table state:", ft)
		return
	}
}

func TestFrameSnapshotAndDump(t *testing.T) {
	ft := NewTable(4, 3)

	o := &testOwner{name: "a", accessed: true}
	f, _ := ft.Acquire(o)
	copy(f.Data(), []byte("abcd"))

	info := ft.Snapshot()

	if len(info) != 3 || info[0].Free || !info[0].Pinned || !info[0].Accessed ||
		info[0].Dirty || info[0].Owner != "a" || !info[1].Free {
		t.Error("Unexpected snapshot:", info)
		return
	}

	var buf bytes.Buffer

	if err := ft.Dump(&buf); err != nil {
		t.Error(err)
		return
	}

	if !strings.HasPrefix(buf.String(), "Frame 0 (a)\n====\n000000  61 62 63 64") {
		t.Error("Unexpected dump:", buf.String())
		return
	}
}
