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
	"sync"
)

/*
The sector will not be accessible via ReadSector
*/
const AccessReadError = 1

/*
The sector will not be accessible via WriteSector
*/
const AccessWriteError = 2

/*
MemoryBlockDevice data structure
*/
type MemoryBlockDevice struct {
	name        string      // Name of the device
	sectorSize  int         // Size of a sector
	sectorCount uint64      // Number of sectors
	data        []byte      // Device content
	mutex       *sync.Mutex // Mutex to protect the device content

	Reads     int            // Number of sector reads
	Writes    int            // Number of sector writes
	AccessMap map[uint64]int // Special map to simulate access issues
}

/*
NewMemoryBlockDevice creates a new block device which keeps all its sectors
in memory.
*/
func NewMemoryBlockDevice(name string, sectorSize int, sectorCount uint64) *MemoryBlockDevice {
	return &MemoryBlockDevice{name, sectorSize, sectorCount,
		make([]byte, uint64(sectorSize)*sectorCount), &sync.Mutex{}, 0, 0,
		make(map[uint64]int)}
}

/*
Name returns the name of this device.
*/
func (d *MemoryBlockDevice) Name() string {
	return d.name
}

/*
SectorSize returns the size of a sector in bytes.
*/
func (d *MemoryBlockDevice) SectorSize() int {
	return d.sectorSize
}

/*
SectorCount returns the number of sectors of this device.
*/
func (d *MemoryBlockDevice) SectorCount() uint64 {
	return d.sectorCount
}

/*
ReadSector reads a sector into a given buffer.
*/
func (d *MemoryBlockDevice) ReadSector(sector uint64, buf []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.checkAccess(sector, buf, AccessReadError); err != nil {
		return err
	}

	start := sector * uint64(d.sectorSize)
	copy(buf, d.data[start:start+uint64(d.sectorSize)])
	d.Reads++

	return nil
}

/*
WriteSector writes a given buffer to a sector.
*/
func (d *MemoryBlockDevice) WriteSector(sector uint64, buf []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.checkAccess(sector, buf, AccessWriteError); err != nil {
		return err
	}

	start := sector * uint64(d.sectorSize)
	copy(d.data[start:start+uint64(d.sectorSize)], buf)
	d.Writes++

	return nil
}

/*
checkAccess checks the parameters of a sector access and simulates errors.
*/
func (d *MemoryBlockDevice) checkAccess(sector uint64, buf []byte, access int) error {
	if sector >= d.sectorCount {
		return newError(ErrInvalidSector, fmt.Sprint("Sector ", sector), d.name)
	} else if len(buf) != d.sectorSize {
		return newError(ErrInvalidBuffer, fmt.Sprint("Buffer size ", len(buf)), d.name)
	} else if d.AccessMap[sector] == access {
		return newError(ErrSimulatedFailure, fmt.Sprint("Sector ", sector), d.name)
	}
	return nil
}

/*
Close does nothing for a memory device.
*/
func (d *MemoryBlockDevice) Close() error {
	return nil
}

/*
String returns a string representation of a MemoryBlockDevice.
*/
func (d *MemoryBlockDevice) String() string {
	return fmt.Sprintf("Memory Block Device: %v (sectorSize:%v sectorCount:%v reads:%v writes:%v)",
		d.name, d.sectorSize, d.sectorCount, d.Reads, d.Writes)
}
