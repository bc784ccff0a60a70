/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package server

import (
	"bytes"
	"fmt"
	"io"

	"devt.de/krotik/vmpager/filestore"
	"devt.de/krotik/vmpager/vm"
)

/*
Addresses used by the demo workload
*/
const (
	WorkloadCodeBase = 0x08048000 // Start of the executable segments
	WorkloadMapBase  = 0x10000000 // Address of the memory mapped file
)

/*
WorkloadExecutable is the name of the executable image of the demo workload
*/
const WorkloadExecutable = "workload.exe"

/*
RunWorkload runs a demo workload on a running manager. It starts a number of
processes which share one executable image. Each process reads its code pages,
writes its data page and its stack (growing the stack by one page) and writes
into a memory mapped file. All written data is read back. The processes are
left running.
*/
func RunWorkload(m *vm.Manager, processes int, out io.Writer) ([]*vm.Process, error) {
	var ret []*vm.Process

	ps := m.Frames().PageSize()

	exec, err := createFile(m.Files(), WorkloadExecutable, workloadImage(ps))
	if err != nil {
		return nil, err
	}

	for i := 0; i < processes; i++ {
		p, err := m.NewProcess(exec)
		if err != nil {
			return ret, err
		}

		ret = append(ret, p)

		if err = setupWorkloadProcess(m, p, ret[0]); err == nil {
			err = touchWorkloadProcess(p)
		}

		if err != nil {
			return ret, fmt.Errorf("Workload of process %v failed: %v", p.Pid(), err)
		}

		fmt.Fprintln(out, p)
	}

	return ret, nil
}

/*
workloadImage creates the executable image of the demo workload. It consists
of two code pages and a partial data page.
*/
func workloadImage(ps int) []byte {
	image := make([]byte, 3*ps-100)

	for i := range image {
		image[i] = byte(i / ps)
	}

	return image
}

/*
createFile (re)creates a file in the file store and opens it.
*/
func createFile(files *filestore.Store, name string, content []byte) (*filestore.File, error) {
	files.Remove(name)

	if err := files.CreateWithContent(name, content); err != nil {
		return nil, err
	}

	return files.Open(name)
}

/*
setupWorkloadProcess adds the segments, the stack and a memory mapped file to
a workload process.
*/
func setupWorkloadProcess(m *vm.Manager, p *vm.Process, first *vm.Process) error {
	var err error

	ps := m.Frames().PageSize()

	// All further processes copy the segments of the first process

	if p == first {
		err = p.LoadSegment(0, WorkloadCodeBase, 2*ps, 0, false)

		if err == nil {
			err = p.LoadSegment(int64(2*ps), WorkloadCodeBase+uint64(2*ps), ps-100, 100, true)
		}

	} else {
		_, err = p.ShareExecutable(first)
	}

	if err == nil {
		err = p.SetupStack()
	}

	if err != nil {
		return err
	}

	f, err := createFile(m.Files(), fmt.Sprintf("workload-%v.dat", p.Pid()), make([]byte, 2*ps))
	if err != nil {
		return err
	}

	// Mapped files stay open until they are unmapped

	defer f.Close()

	_, err = p.Mmap(f, WorkloadMapBase)

	return err
}

/*
touchWorkloadProcess accesses all memory regions of a workload process.
*/
func touchWorkloadProcess(p *vm.Process) error {
	ps := uint64(p.Table().PageSize())
	_, stackTop := p.Table().StackRegion()
	msg := []byte(fmt.Sprintf("process %v", p.Pid()))

	buf := make([]byte, 16)

	for i := uint64(0); i < 2; i++ {
		if err := p.Read(WorkloadCodeBase+i*ps, buf); err != nil {
			return err
		} else if buf[0] != byte(i) {
			return fmt.Errorf("Unexpected code page content at %#x: %v", WorkloadCodeBase+i*ps, buf[0])
		}
	}

	// Stack growth by one page below the initial stack page

	p.SetStackPointer(stackTop - 2*ps)

	regions := []uint64{
		WorkloadCodeBase + 2*ps,
		stackTop - 64,
		stackTop - 2*ps,
		WorkloadMapBase + ps,
	}

	for _, addr := range regions {
		if err := p.Write(addr, msg); err != nil {
			return err
		}
	}

	for _, addr := range regions {
		res := make([]byte, len(msg))

		if err := p.Read(addr, res); err != nil {
			return err
		} else if !bytes.Equal(res, msg) {
			return fmt.Errorf("Unexpected content at %#x: %q", addr, res)
		}
	}

	return nil
}
