/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package swap

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/krotik/common/bitutil"
	"github.com/krotik/common/errorutil"
)

/*
NotYetSwapped is the slot value of a page which never went to swap.
*/
const NotYetSwapped = ^uint32(0)

/*
Store data structure
*/
type Store struct {
	device         BlockDevice // Device which holds the swap area
	pageSize       int         // Size of a page (and a slot)
	sectorsPerPage uint64      // Number of device sectors per slot
	slots          uint32      // Number of slots
	used           uint32      // Number of allocated slots
	bitmap         []uint64    // Allocation bitmap (one bit per slot)
	searchIdx      uint32      // No free slot exists below this index
	mutex          *sync.Mutex // Mutex to protect the bitmap and device access
}

/*
NewStore creates a new swap store on a given block device. The allocation
bitmap is sized to the number of whole pages the device can hold. All slots
are initially free.
*/
func NewStore(device BlockDevice, pageSize int) (*Store, error) {
	sectorSize := device.SectorSize()

	if sectorSize <= 0 || pageSize <= 0 || pageSize%sectorSize != 0 {
		return nil, newError(ErrInvalidPageSize,
			fmt.Sprintf("Page size %v sector size %v", pageSize, sectorSize), device.Name())
	}

	sectorsPerPage := uint64(pageSize / sectorSize)
	slots := device.SectorCount() / sectorsPerPage

	if slots == 0 {
		return nil, newError(ErrDeviceTooSmall,
			fmt.Sprint("Sectors ", device.SectorCount()), device.Name())
	} else if slots >= uint64(NotYetSwapped) {
		slots = uint64(NotYetSwapped) - 1
	}

	LogInfo(fmt.Sprintf("Swap store on %v: %v slots (%v)", device.Name(), slots,
		bitutil.ByteSizeString(int64(slots)*int64(pageSize), false)))

	return &Store{device, pageSize, sectorsPerPage, uint32(slots), 0,
		make([]uint64, (slots+63)/64), 0, &sync.Mutex{}}, nil
}

/*
PageSize returns the size of a slot.
*/
func (s *Store) PageSize() int {
	return s.pageSize
}

/*
Capacity returns the total number of slots.
*/
func (s *Store) Capacity() uint32 {
	return s.slots
}

/*
Used returns the number of allocated slots.
*/
func (s *Store) Used() uint32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.used
}

/*
AllocateSlot allocates the lowest free slot. Returns an ErrSwapExhausted error
if no slot is free. There is no reclaim - the caller has to give up.
*/
func (s *Store) AllocateSlot() (uint32, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := s.searchIdx / 64; i < uint32(len(s.bitmap)); i++ {
		x := s.bitmap[i]

		if ^x == 0 {
			continue
		}

		slot := i*64 + uint32(bits.TrailingZeros64(^x))

		if slot >= s.slots {

			// Unused bits of the last bitmap word

			break
		}

		s.bitmap[i] |= 1 << (slot % 64)
		s.used++
		s.searchIdx = slot + 1

		LogDebug("Allocated swap slot ", slot)

		return slot, nil
	}

	s.searchIdx = s.slots

	return NotYetSwapped, newError(ErrSwapExhausted,
		fmt.Sprintf("All %v slots in use", s.slots), s.device.Name())
}

/*
Free frees a given slot. Freeing a slot which is not allocated is a
programming error.
*/
func (s *Store) Free(slot uint32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.assertAllocated(slot)

	s.bitmap[slot/64] &^= 1 << (slot % 64)
	s.used--

	if slot < s.searchIdx {
		s.searchIdx = slot
	}

	LogDebug("Freed swap slot ", slot)
}

/*
InUse returns if a given slot is allocated.
*/
func (s *Store) InUse(slot uint32) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return slot < s.slots && s.bitmap[slot/64]&(1<<(slot%64)) != 0
}

/*
Write writes exactly one page to an allocated slot.
*/
func (s *Store) Write(slot uint32, data []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.assertAllocated(slot)

	if len(data) != s.pageSize {
		return newError(ErrInvalidBuffer, fmt.Sprint("Page data size ", len(data)), s.device.Name())
	}

	sectorSize := s.device.SectorSize()
	start := uint64(slot) * s.sectorsPerPage

	for i := uint64(0); i < s.sectorsPerPage; i++ {
		off := int(i) * sectorSize

		if err := s.device.WriteSector(start+i, data[off:off+sectorSize]); err != nil {
			return err
		}
	}

	return nil
}

/*
Read reads exactly one page from an allocated slot into a given buffer.
*/
func (s *Store) Read(slot uint32, buf []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.assertAllocated(slot)

	if len(buf) != s.pageSize {
		return newError(ErrInvalidBuffer, fmt.Sprint("Page buffer size ", len(buf)), s.device.Name())
	}

	sectorSize := s.device.SectorSize()
	start := uint64(slot) * s.sectorsPerPage

	for i := uint64(0); i < s.sectorsPerPage; i++ {
		off := int(i) * sectorSize

		if err := s.device.ReadSector(start+i, buf[off:off+sectorSize]); err != nil {
			return err
		}
	}

	return nil
}

/*
assertAllocated panics if a given slot is not allocated.
*/
func (s *Store) assertAllocated(slot uint32) {
	errorutil.AssertTrue(slot < s.slots && s.bitmap[slot/64]&(1<<(slot%64)) != 0,
		fmt.Sprintf("Unknown swap slot %v on %v", slot, s.device.Name()))
}

/*
Close closes the underlying block device.
*/
func (s *Store) Close() error {
	return s.device.Close()
}

/*
String returns a string representation of this Store.
*/
func (s *Store) String() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return fmt.Sprintf("Swap Store: %v (slots:%v used:%v pageSize:%v sectorsPerPage:%v)",
		s.device.Name(), s.slots, s.used, s.pageSize, s.sectorsPerPage)
}
