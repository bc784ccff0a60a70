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
Package vm contains the virtual memory manager.

The Manager owns the kernel wide services: the swap store on its block device,
the frame table of user memory and the file store. All of them are created by
Start and closed by Shutdown. Each Process has its own page table, address
space and mmap manager on top of these services.

A fault which cannot be resolved kills the faulting process. The same happens
to the owner of a page if its content cannot be written during an eviction.
A killed process fails all further accesses and should be exited.
*/
package vm

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/krotik/common/errorutil"
	"github.com/krotik/ecal/util"
	"devt.de/krotik/vmpager/config"
	"devt.de/krotik/vmpager/filestore"
	"devt.de/krotik/vmpager/frame"
	"devt.de/krotik/vmpager/mmap"
	"devt.de/krotik/vmpager/mmu"
	"devt.de/krotik/vmpager/page"
	"devt.de/krotik/vmpager/swap"
)

/*
Manager data structure
*/
type Manager struct {
	Logger   util.Logger   // Logger for all vm packages (created by Start if nil)
	Observer page.Observer // Observer for page events (optional)
	Basepath string        // Base path for all files

	running   bool             // Flag if the manager is running
	device    swap.BlockDevice // Block device of the swap store
	swap      *swap.Store      // Swap store
	frames    *frame.Table     // Frame table of user memory
	files     *filestore.Store // File store
	processes map[int]*Process // Running processes
	nextPid   int              // Next process id
	mutex     *sync.Mutex      // Mutex to protect the manager state
}

/*
NewManager creates a new manager. The manager uses config.Config for all its
configuration.
*/
func NewManager() *Manager {
	if config.Config == nil {
		config.LoadDefaultConfig()
	}

	return &Manager{nil, nil, "", false, nil, nil, nil, nil,
		make(map[int]*Process), 1, &sync.Mutex{}}
}

/*
Start creates all services of the manager.
*/
func (m *Manager) Start() error {
	var err error

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.running {
		return &Error{ErrRunning, "Start", 0}
	}

	if m.Logger == nil {
		if m.Logger, err = util.NewLogLevelLogger(util.NewStdOutLogger(),
			config.Str(config.LogLevel)); err != nil {
			return err
		}
	}

	m.wireLoggers()

	pageSize := int(config.Int(config.PageSize))
	sectorSize := int(config.Int(config.SectorSize))
	sectors := config.Uint(config.SwapSectors)

	if config.Bool(config.MemoryOnlySwap) {

		LogInfo("Starting memory only swap device")

		m.device = swap.NewMemoryBlockDevice(config.Str(config.LocationSwapFile), sectorSize, sectors)

	} else {
		loc := filepath.Join(m.Basepath, config.Str(config.LocationSwapFile))

		LogInfo("Starting swap device in ", loc)

		dev, err := swap.NewFileBlockDevice(loc, uint32(sectorSize), sectors,
			!config.Bool(config.EnableSwapLockfile))
		if err != nil {
			return err
		}

		m.device = dev
	}

	if m.swap, err = swap.NewStore(m.device, pageSize); err == nil {
		loc := filepath.Join(m.Basepath, config.Str(config.LocationFileStore))

		LogInfo("Opening file store in ", loc)

		m.files, err = filestore.NewStore(loc)
	}

	if err != nil {
		m.device.Close()
		m.device, m.swap, m.files = nil, nil, nil
		return err
	}

	m.frames = frame.NewTable(pageSize, int(config.Int(config.UserFrames)))

	m.running = true

	return nil
}

/*
wireLoggers routes the loggers of all vm packages to the logger of this
manager.
*/
func (m *Manager) wireLoggers() {
	LogInfo = m.Logger.LogInfo
	LogDebug = m.Logger.LogDebug
	swap.LogInfo = m.Logger.LogInfo
	swap.LogDebug = m.Logger.LogDebug
	frame.LogInfo = m.Logger.LogInfo
	frame.LogDebug = m.Logger.LogDebug
	page.LogInfo = m.Logger.LogInfo
	page.LogDebug = m.Logger.LogDebug
	mmap.LogInfo = m.Logger.LogInfo
	mmap.LogDebug = m.Logger.LogDebug
}

/*
Shutdown exits all remaining processes and closes all services.
*/
func (m *Manager) Shutdown() error {
	m.mutex.Lock()

	if !m.running {
		m.mutex.Unlock()
		return &Error{ErrNotRunning, "Shutdown", 0}
	}

	procs := m.sortedProcesses()

	m.mutex.Unlock()

	ce := errorutil.NewCompositeError()

	for _, p := range procs {
		if err := p.Exit(); err != nil {
			ce.Add(err)
		}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	LogInfo("Closing swap device")

	if err := m.swap.Close(); err != nil {
		ce.Add(err)
	}

	m.running = false
	m.device, m.swap, m.frames, m.files = nil, nil, nil, nil

	if ce.HasErrors() {
		return ce
	}

	return nil
}

/*
Running returns if the manager is running.
*/
func (m *Manager) Running() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.running
}

/*
Frames returns the frame table of the manager.
*/
func (m *Manager) Frames() *frame.Table {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.frames
}

/*
Swap returns the swap store of the manager.
*/
func (m *Manager) Swap() *swap.Store {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.swap
}

/*
Files returns the file store of the manager.
*/
func (m *Manager) Files() *filestore.Store {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.files
}

/*
NewProcess creates a new process with an optional executable image.
*/
func (m *Manager) NewProcess(exec *filestore.File) (*Process, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.running {
		return nil, &Error{ErrNotRunning, "NewProcess", 0}
	}

	p := &Process{pid: m.nextPid, manager: m, exec: exec, as: mmu.NewAddressSpace(m.frames.PageSize()),
		mutex: &sync.Mutex{}}

	setup := &page.Setup{
		Frames:       m.frames,
		Swap:         m.swap,
		Mapper:       p.as,
		PhysBase:     config.Uint(config.PhysBase),
		MaxStackSize: config.Uint(config.MaxStackSize),
		StackSlack:   config.Uint(config.StackSlack),
		Observer:     m.Observer,
		Fatal:        p.kill,
	}

	if exec != nil {
		setup.Executable = exec
	}

	p.table = page.NewTable(p.pid, setup)
	p.mm = mmap.NewManager(p.table)

	p.as.SetFaultHandler(func(addr uint64, write bool) error {
		return p.ResolveFault(addr, write, p.StackPointer())
	})

	m.nextPid++
	m.processes[p.pid] = p

	LogDebug("Created process ", p.pid)

	return p, nil
}

/*
removeProcess removes an exited process.
*/
func (m *Manager) removeProcess(p *Process) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.processes, p.pid)
}

/*
Process returns a running process.
*/
func (m *Manager) Process(pid int) *Process {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.processes[pid]
}

/*
Processes returns all running processes ordered by pid.
*/
func (m *Manager) Processes() []*Process {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.sortedProcesses()
}

/*
sortedProcesses returns all processes ordered by pid. The manager mutex must
be held.
*/
func (m *Manager) sortedProcesses() []*Process {
	ret := make([]*Process, 0, len(m.processes))

	for _, p := range m.processes {
		ret = append(ret, p)
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].pid < ret[j].pid
	})

	return ret
}

/*
String returns a string representation of the manager.
*/
func (m *Manager) String() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.running {
		return "VM Manager (not running)"
	}

	procs := "processes"
	if len(m.processes) == 1 {
		procs = "process"
	}

	return fmt.Sprintf("VM Manager (%v %v)\n%v\n%v", len(m.processes), procs,
		m.swap, m.frames)
}
