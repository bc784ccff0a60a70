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
Package swap contains the swap area of the virtual memory manager.

BlockDevice

BlockDevice is the interface of a fixed-size sector device. Two implementations
exist: FileBlockDevice stores sectors in one or more files on disk and guards
them with a lockfile, MemoryBlockDevice keeps all sectors in memory and provides
error simulation facilities.

Store

Store is the page-granular allocator of the swap area. It keeps a bitmap with
one bit per page-sized slot and transfers whole pages to and from the block
device. A slot stays allocated until it is explicitly freed.
*/
package swap

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/krotik/common/lockutil"
)

/*
FileSuffixLockfile is the file ending for the lockfile of a swap device
*/
const FileSuffixLockfile = "lck"

/*
DefaultMaxFileSize is the default size of a physical device file (1GB)
*/
const DefaultMaxFileSize = 0x40000000

/*
BlockDevice is a device which reads and writes fixed-size sectors.
*/
type BlockDevice interface {

	/*
		Name returns the name of the device.
	*/
	Name() string

	/*
		SectorSize returns the size of a sector in bytes.
	*/
	SectorSize() int

	/*
		SectorCount returns the number of sectors of the device.
	*/
	SectorCount() uint64

	/*
		ReadSector reads a sector into a given buffer of sector size.
	*/
	ReadSector(sector uint64, buf []byte) error

	/*
		WriteSector writes a given buffer of sector size to a sector.
	*/
	WriteSector(sector uint64, buf []byte) error

	/*
		Close closes the device.
	*/
	Close() error
}

/*
FileBlockDevice data structure
*/
type FileBlockDevice struct {
	name        string             // Name of the device (prefix of all device files)
	sectorSize  uint32             // Size of a sector
	sectorCount uint64             // Number of sectors
	maxFileSize uint64             // Max size of a device file on disk
	files       []*os.File         // List of device files
	lockfile    *lockutil.LockFile // Lockfile manager
	mutex       *sync.Mutex        // Mutex to protect the file list
}

/*
NewFileBlockDevice creates a new file based block device. The device is
split into several physical files if it grows beyond DefaultMaxFileSize. If
lockfileDisabled is not set a lockfile makes sure that no other device
instance uses the same files.
*/
func NewFileBlockDevice(name string, sectorSize uint32, sectorCount uint64,
	lockfileDisabled bool) (*FileBlockDevice, error) {

	return newFileBlockDevice(name, sectorSize, sectorCount,
		DefaultMaxFileSize, lockfileDisabled)
}

/*
newFileBlockDevice creates a new file based block device with a given max
physical file size.
*/
func newFileBlockDevice(name string, sectorSize uint32, sectorCount uint64,
	maxFileSize uint64, lockfileDisabled bool) (*FileBlockDevice, error) {

	maxFileSize = maxFileSize - maxFileSize%uint64(sectorSize)

	ret := &FileBlockDevice{name, sectorSize, sectorCount, maxFileSize,
		make([]*os.File, 0), nil, &sync.Mutex{}}

	// Create a lockfile which is checked every 50 milliseconds

	if !lockfileDisabled {
		lockname := fmt.Sprintf("%v.%v", name, FileSuffixLockfile)

		ret.lockfile = lockutil.NewLockFile(lockname, time.Duration(50)*time.Millisecond)

		if err := ret.lockfile.Start(); err != nil {
			return nil, newError(ErrDeviceLocked, err.Error(), name)
		}
	}

	if _, err := ret.getFile(0); err != nil {
		ret.releaseLockfile()
		return nil, err
	}

	return ret, nil
}

/*
Name returns the name of this device.
*/
func (d *FileBlockDevice) Name() string {
	return d.name
}

/*
SectorSize returns the size of a sector in bytes.
*/
func (d *FileBlockDevice) SectorSize() int {
	return int(d.sectorSize)
}

/*
SectorCount returns the number of sectors of this device.
*/
func (d *FileBlockDevice) SectorCount() uint64 {
	return d.sectorCount
}

/*
ReadSector reads a sector from disk. Sectors which were never written read
as zeros.
*/
func (d *FileBlockDevice) ReadSector(sector uint64, buf []byte) error {
	if err := d.checkAccess(sector, buf); err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	offset := sector * uint64(d.sectorSize)

	file, err := d.getFile(offset)
	if err != nil {
		return err
	}

	n, err := file.ReadAt(buf, int64(offset%d.maxFileSize))

	if n > 0 && uint32(n) != d.sectorSize {
		return newError(ErrDeviceIO, fmt.Sprintf("Sector %v returned %v bytes", sector, n), d.name)
	} else if n == 0 {

		// Sector was never written

		for i := range buf {
			buf[i] = 0
		}
	}

	if err == io.EOF {
		return nil
	}

	return err
}

/*
WriteSector writes a sector to disk.
*/
func (d *FileBlockDevice) WriteSector(sector uint64, buf []byte) error {
	if err := d.checkAccess(sector, buf); err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	offset := sector * uint64(d.sectorSize)

	file, err := d.getFile(offset)
	if err != nil {
		return err
	}

	n, err := file.WriteAt(buf, int64(offset%d.maxFileSize))
	if err == nil && uint32(n) != d.sectorSize {
		err = newError(ErrDeviceIO, fmt.Sprintf("Sector %v took %v bytes", sector, n), d.name)
	}

	return err
}

/*
checkAccess checks the parameters of a sector access.
*/
func (d *FileBlockDevice) checkAccess(sector uint64, buf []byte) error {
	if sector >= d.sectorCount {
		return newError(ErrInvalidSector, fmt.Sprint("Sector ", sector), d.name)
	} else if uint32(len(buf)) != d.sectorSize {
		return newError(ErrInvalidBuffer, fmt.Sprint("Buffer size ", len(buf)), d.name)
	}
	return nil
}

/*
getFile gets a physical file for a specific offset.
*/
func (d *FileBlockDevice) getFile(offset uint64) (*os.File, error) {

	filenumber := int(offset / d.maxFileSize)

	// Make sure the index exists which we want to use.
	// Fill all previous positions up with nil pointers if they don't exist.

	for i := len(d.files); i <= filenumber; i++ {
		d.files = append(d.files, nil)
	}

	ret := d.files[filenumber]

	if ret == nil {

		// Important not to have os.O_APPEND since we really want
		// to have random access to the file.

		filename := fmt.Sprintf("%s.%d", d.name, filenumber)

		file, err := os.OpenFile(filename, os.O_CREATE|os.O_RDWR, 0660)
		if err != nil {
			return nil, err
		}

		d.files[filenumber] = file
		ret = file
	}

	return ret, nil
}

/*
Sync syncs all physical files.
*/
func (d *FileBlockDevice) Sync() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for _, file := range d.files {
		if file != nil {
			file.Sync()
		}
	}
}

/*
Close closes all physical files and releases the lockfile.
*/
func (d *FileBlockDevice) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for _, file := range d.files {
		if file != nil {
			file.Close()
		}
	}

	d.files = make([]*os.File, 0)

	return d.releaseLockfile()
}

/*
releaseLockfile stops watching the lockfile and removes it.
*/
func (d *FileBlockDevice) releaseLockfile() error {
	if d.lockfile == nil {
		return nil
	}

	err := d.lockfile.Finish()
	d.lockfile = nil

	return err
}

/*
String returns a string representation of a FileBlockDevice.
*/
func (d *FileBlockDevice) String() string {
	buf := new(bytes.Buffer)

	buf.WriteString(fmt.Sprintf("Block Device: %v (sectorSize:%v sectorCount:%v "+
		"maxFileSize:%v)\n", d.name, d.sectorSize, d.sectorCount, d.maxFileSize))

	buf.WriteString("Open files: ")
	l := len(d.files)
	for i, file := range d.files {
		if file != nil {
			buf.WriteString(file.Name())
			buf.WriteString(fmt.Sprintf(" (%v)", i))
			if i < l-1 {
				buf.WriteString(", ")
			}
		}
	}
	buf.WriteString("\n")

	return buf.String()
}
