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
Package filestore contains a simple file store which backs executable images
and memory mapped files.

All file operations are serialized through one store lock. Files have a fixed
length which is set on creation - writes never extend a file. Every file name
gets a stable inode number so that two handles of the same file can be
recognized. Closing a file handle which is still memory mapped is deferred
until the last mapping is gone.
*/
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/krotik/common/errorutil"
	"github.com/krotik/common/fileutil"
)

/*
File store related errors.
*/
var (
	ErrExists   = errors.New("File exists")
	ErrNotFound = errors.New("File not found")
	ErrClosed   = errors.New("File is closed")
)

/*
Error is a file store related error.
*/
type Error struct {
	Type   error  // Error type (to be used for equal checks)
	Detail string // Details of this error
	File   string // Name of the file
}

/*
Error returns a human-readable string representation of this error.
*/
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s - %s)", e.Type.Error(), e.File, e.Detail)
}

/*
Unwrap returns the error type so errors.Is can be used on file store errors.
*/
func (e *Error) Unwrap() error {
	return e.Type
}

/*
Store data structure
*/
type Store struct {
	dir       string            // Directory of the store
	inodes    map[string]uint64 // Inode numbers by file name
	nextInode uint64            // Next free inode number
	mutex     *sync.Mutex       // Store lock
}

/*
NewStore creates a new file store in a given directory. The directory is
created if it does not exist.
*/
func NewStore(dir string) (*Store, error) {
	if res, _ := fileutil.PathExists(dir); !res {
		if err := os.MkdirAll(dir, 0770); err != nil {
			return nil, err
		}
	}

	return &Store{dir, make(map[string]uint64), 1, &sync.Mutex{}}, nil
}

/*
Dir returns the directory of the store.
*/
func (s *Store) Dir() string {
	return s.dir
}

/*
Create creates a new file of a given length. The file is filled with zeros.
*/
func (s *Store) Create(name string, length int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0660)
	if err != nil {
		if os.IsExist(err) {
			return &Error{ErrExists, err.Error(), name}
		}
		return err
	}

	err = f.Truncate(length)
	f.Close()

	if err == nil {
		s.inode(name)
	}

	return err
}

/*
CreateWithContent creates a new file which holds a given content.
*/
func (s *Store) CreateWithContent(name string, content []byte) error {
	if err := s.Create(name, int64(len(content))); err != nil {
		return err
	}

	f, err := s.Open(name)
	if err == nil {
		_, err = f.WriteAt(content, 0)
		f.Close()
	}

	return err
}

/*
Open opens an existing file.
*/
func (s *Store) Open(name string) (*File, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	f, err := os.OpenFile(s.path(name), os.O_RDWR, 0660)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{ErrNotFound, err.Error(), name}
		}
		return nil, err
	}

	return &File{s, name, f, s.inode(name), 0, false, false, 0}, nil
}

/*
Remove removes a file. Open handles of the file stay usable.
*/
func (s *Store) Remove(name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return &Error{ErrNotFound, err.Error(), name}
		}
		return err
	}

	delete(s.inodes, name)

	return nil
}

/*
path returns the path of a file in the store.
*/
func (s *Store) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

/*
inode returns the inode number of a file name. The store lock must be held.
*/
func (s *Store) inode(name string) uint64 {
	ino, ok := s.inodes[name]

	if !ok {
		ino = s.nextInode
		s.nextInode++
		s.inodes[name] = ino
	}

	return ino
}

/*
File data structure
*/
type File struct {
	store        *Store   // Store of the file
	name         string   // Name of the file
	file         *os.File // Underlying file
	inode        uint64   // Inode number of the file
	mappings     int      // Number of memory mappings of this handle
	closePending bool     // Flag if the handle should be closed after the last mapping is gone
	closed       bool     // Flag if the handle was closed
	writes       int      // Number of writes through this handle
}

/*
Name returns the name of the file.
*/
func (f *File) Name() string {
	return f.name
}

/*
Inode returns the inode number of the file.
*/
func (f *File) Inode() uint64 {
	return f.inode
}

/*
Length returns the length of the file.
*/
func (f *File) Length() int64 {
	f.store.mutex.Lock()
	defer f.store.mutex.Unlock()

	if f.closed {
		return 0
	}

	fi, err := f.file.Stat()
	if err != nil {
		return 0
	}

	return fi.Size()
}

/*
ReadAt reads from a given offset. Returns the number of bytes read which is
less than the buffer size if the end of the file was reached.
*/
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.store.mutex.Lock()
	defer f.store.mutex.Unlock()

	if f.closed {
		return 0, &Error{ErrClosed, "Read", f.name}
	}

	n, err := f.file.ReadAt(p, off)
	if err == io.EOF {
		err = nil
	}

	return n, err
}

/*
WriteAt writes at a given offset. Writes never extend the file. Returns the
number of bytes written which is less than the data size if the end of the
file was reached.
*/
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.store.mutex.Lock()
	defer f.store.mutex.Unlock()

	if f.closed {
		return 0, &Error{ErrClosed, "Write", f.name}
	}

	fi, err := f.file.Stat()
	if err != nil {
		return 0, err
	}

	if off >= fi.Size() {
		return 0, nil
	} else if rest := fi.Size() - off; int64(len(p)) > rest {
		p = p[:rest]
	}

	f.writes++

	return f.file.WriteAt(p, off)
}

/*
Writes returns the number of writes through this handle.
*/
func (f *File) Writes() int {
	f.store.mutex.Lock()
	defer f.store.mutex.Unlock()

	return f.writes
}

/*
AddMapping registers a memory mapping of this handle. Returns an ErrClosed
error if the handle was closed or its close is pending.
*/
func (f *File) AddMapping() error {
	f.store.mutex.Lock()
	defer f.store.mutex.Unlock()

	if f.closed || f.closePending {
		return &Error{ErrClosed, "Mapping", f.name}
	}

	f.mappings++

	return nil
}

/*
RemoveMapping removes a memory mapping of this handle. The handle is closed
if a close was requested while it was mapped.
*/
func (f *File) RemoveMapping() error {
	f.store.mutex.Lock()
	defer f.store.mutex.Unlock()

	errorutil.AssertTrue(f.mappings > 0, fmt.Sprint("File is not mapped ", f.name))

	f.mappings--

	if f.mappings == 0 && f.closePending {
		f.closePending = false
		return f.closeLocked()
	}

	return nil
}

/*
Close closes this handle. If the handle is still memory mapped the close is
deferred until the last mapping is removed.
*/
func (f *File) Close() error {
	f.store.mutex.Lock()
	defer f.store.mutex.Unlock()

	if f.closed || f.closePending {
		return &Error{ErrClosed, "Close", f.name}
	}

	if f.mappings > 0 {
		f.closePending = true
		return nil
	}

	return f.closeLocked()
}

/*
Closed returns if this handle was closed.
*/
func (f *File) Closed() bool {
	f.store.mutex.Lock()
	defer f.store.mutex.Unlock()

	return f.closed
}

/*
closeLocked closes the underlying file. The store lock must be held.
*/
func (f *File) closeLocked() error {
	f.closed = true
	return f.file.Close()
}

/*
String returns a string representation of this handle.
*/
func (f *File) String() string {
	return fmt.Sprintf("%v (inode %v)", f.name, f.inode)
}
