/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package filestore

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"testing"

	"github.com/krotik/common/errorutil"
	"github.com/krotik/common/fileutil"
)

const DBDir = "filestoretest"

func TestMain(m *testing.M) {
	flag.Parse()

	// Setup
	if res, _ := fileutil.PathExists(DBDir); res {
		os.RemoveAll(DBDir)
	}

	// Run the tests
	res := m.Run()

	// Teardown
	err := os.RemoveAll(DBDir)
	if err != nil {
		fmt.Print("Could not remove test directory:", err.Error())
	}

	os.Exit(res)
}

func TestStoreFiles(t *testing.T) {
	s, err := NewStore(DBDir)
	if err != nil {
		t.Error(err)
		return
	}

	if res, _ := fileutil.PathExists(DBDir); !res || s.Dir() != DBDir {
		t.Error("Store directory was not created")
		return
	}

	errorutil.AssertOk(s.Create("a", 10))

	if err := s.Create("a", 10); !errors.Is(err, ErrExists) {
		t.Error("Unexpected result:", err)
		return
	}

	if _, err := s.Open("b"); !errors.Is(err, ErrNotFound) {
		t.Error("Unexpected result:", err)
		return
	}

	f1, err := s.Open("a")
	errorutil.AssertOk(err)
	f2, err := s.Open("a")
	errorutil.AssertOk(err)

	errorutil.AssertOk(s.CreateWithContent("c", []byte("hello")))
	f3, err := s.Open("c")
	errorutil.AssertOk(err)

	if f1.Inode() != f2.Inode() || f1.Inode() == f3.Inode() {
		t.Error("Unexpected inodes:", f1, f2, f3)
		return
	}

	if f1.Length() != 10 || f3.Length() != 5 || f1.Name() != "a" {
		t.Error("Unexpected file attributes")
		return
	}

	if res := f3.String(); res != fmt.Sprintf("c (inode %v)", f3.Inode()) {
		t.Error("Unexpected string representation:", res)
		return
	}

	if err := s.Remove("a"); err != nil {
		t.Error(err)
		return
	}

	if err := s.Remove("a"); !errors.Is(err, ErrNotFound) {
		t.Error("Unexpected result:", err)
		return
	}

	// Handles of removed files stay usable

	if n, err := f1.WriteAt([]byte("xy"), 3); n != 2 || err != nil {
		t.Error("Unexpected result:", n, err)
		return
	}

	buf := make([]byte, 3)
	if n, err := f2.ReadAt(buf, 2); n != 3 || err != nil || string(buf) != "\x00xy" {
		t.Error("Unexpected result:", n, err, buf)
		return
	}

	f1.Close()
	f2.Close()
	f3.Close()
}

func TestFileReadWriteBounds(t *testing.T) {
	s, _ := NewStore(DBDir)

	errorutil.AssertOk(s.CreateWithContent("bounds", []byte("0123456789")))

	f, err := s.Open("bounds")
	errorutil.AssertOk(err)

	buf := make([]byte, 8)

	if n, err := f.ReadAt(buf, 6); n != 4 || err != nil || string(buf[:4]) != "6789" {
		t.Error("Unexpected result:", n, err)
		return
	}

	if n, err := f.ReadAt(buf, 20); n != 0 || err != nil {
		t.Error("Unexpected result:", n, err)
		return
	}

	// Writes never extend the file

	if n, err := f.WriteAt([]byte("abcdef"), 7); n != 3 || err != nil {
		t.Error("Unexpected result:", n, err)
		return
	}

	if n, err := f.WriteAt([]byte("abcdef"), 10); n != 0 || err != nil {
		t.Error("Unexpected result:", n, err)
		return
	}

	if f.Length() != 10 || f.Writes() != 1 {
		t.Error("Unexpected file state:", f.Length(), f.Writes())
		return
	}

	f.ReadAt(buf, 2)
	if string(buf) != "23456abc" {
		t.Error("Unexpected content:", string(buf))
		return
	}

	errorutil.AssertOk(f.Close())

	if _, err := f.ReadAt(buf, 0); !errors.Is(err, ErrClosed) {
		t.Error("Unexpected result:", err)
		return
	}

	if _, err := f.WriteAt(buf, 0); !errors.Is(err, ErrClosed) {
		t.Error("Unexpected result:", err)
		return
	}

	if err := f.Close(); !errors.Is(err, ErrClosed) {
		t.Error("Unexpected result:", err)
		return
	}

	if f.Length() != 0 {
		t.Error("Closed file should have no length")
		return
	}
}

func TestFileDeferredClose(t *testing.T) {
	s, _ := NewStore(DBDir)

	errorutil.AssertOk(s.Create("mapped", 100))

	f, err := s.Open("mapped")
	errorutil.AssertOk(err)

	errorutil.AssertOk(f.AddMapping())
	errorutil.AssertOk(f.AddMapping())

	if err := f.Close(); err != nil {
		t.Error(err)
		return
	}

	if f.Closed() {
		t.Error("File should still be open")
		return
	}

	// No new mappings once the close is pending

	if err := f.AddMapping(); err == nil || err.Error() != "File is closed (mapped - Mapping)" {
		t.Error("Unexpected result:", err)
		return
	}

	// The file is still usable while mapped

	if n, err := f.WriteAt([]byte{1}, 0); n != 1 || err != nil {
		t.Error("Unexpected result:", n, err)
		return
	}

	errorutil.AssertOk(f.RemoveMapping())

	if f.Closed() {
		t.Error("File should still be open")
		return
	}

	errorutil.AssertOk(f.RemoveMapping())

	if !f.Closed() {
		t.Error("File should be closed")
		return
	}

	if err := f.AddMapping(); err == nil || err.Error() != "File is closed (mapped - Mapping)" {
		t.Error("Unexpected result:", err)
		return
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("Removing a mapping of an unmapped file did not cause a panic.")
		}
	}()

	f.RemoveMapping()
}
