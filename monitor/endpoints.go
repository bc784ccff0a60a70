/*
 * EliasDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"devt.de/krotik/vmpager/config"
	"devt.de/krotik/vmpager/vm"
)

/*
EndpointRoot is the root directory of all monitor endpoints
*/
const EndpointRoot = "/vm"

/*
Endpoint URLs
*/
const (
	EndpointAbout        = EndpointRoot + "/about/"
	EndpointStats        = EndpointRoot + "/stats/"
	EndpointProcesses    = EndpointRoot + "/processes/"
	EndpointFrames       = EndpointRoot + "/frames/"
	EndpointFrameMap     = EndpointRoot + "/framemap/"
	EndpointEvents       = EndpointRoot + "/events/"
	EndpointEventsStream = EndpointRoot + "/events-stream/"
)

/*
RestEndpointInst models a factory function for REST endpoint handlers.
*/
type RestEndpointInst func() RestEndpointHandler

/*
RestEndpointHandler models a REST endpoint handler.
*/
type RestEndpointHandler interface {

	/*
		HandleGET handles a GET request.
	*/
	HandleGET(w http.ResponseWriter, r *http.Request, resources []string)

	/*
		HandlePOST handles a POST request.
	*/
	HandlePOST(w http.ResponseWriter, r *http.Request, resources []string)

	/*
		HandlePUT handles a PUT request.
	*/
	HandlePUT(w http.ResponseWriter, r *http.Request, resources []string)

	/*
		HandleDELETE handles a DELETE request.
	*/
	HandleDELETE(w http.ResponseWriter, r *http.Request, resources []string)
}

/*
RegisterRestEndpoints registers all given REST endpoint handlers with a given
request multiplexer.
*/
func RegisterRestEndpoints(mux *http.ServeMux, endpointInsts map[string]RestEndpointInst) {

	for url, endpointInst := range endpointInsts {

		mux.HandleFunc(url, func() func(w http.ResponseWriter, r *http.Request) {

			var handlerURL = url
			var handlerInst = endpointInst

			return func(w http.ResponseWriter, r *http.Request) {

				// Create a new handler instance

				handler := handlerInst()

				// Handle request in appropriate method

				res := strings.TrimSpace(r.URL.Path[len(handlerURL):])

				if len(res) > 0 && res[len(res)-1] == '/' {
					res = res[:len(res)-1]
				}

				var resources []string

				if res != "" {
					resources = strings.Split(res, "/")
				}

				switch r.Method {
				case "GET":
					handler.HandleGET(w, r, resources)

				case "POST":
					handler.HandlePOST(w, r, resources)

				case "PUT":
					handler.HandlePUT(w, r, resources)

				case "DELETE":
					handler.HandleDELETE(w, r, resources)

				default:
					http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
				}
			}
		}())
	}
}

/*
DefaultEndpointHandler is the default endpoint handler.
*/
type DefaultEndpointHandler struct {
}

/*
HandleGET is a method stub returning an error.
*/
func (de *DefaultEndpointHandler) HandleGET(w http.ResponseWriter, r *http.Request, resources []string) {
	http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
}

/*
HandlePOST is a method stub returning an error.
*/
func (de *DefaultEndpointHandler) HandlePOST(w http.ResponseWriter, r *http.Request, resources []string) {
	http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
}

/*
HandlePUT is a method stub returning an error.
*/
func (de *DefaultEndpointHandler) HandlePUT(w http.ResponseWriter, r *http.Request, resources []string) {
	http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
}

/*
HandleDELETE is a method stub returning an error.
*/
func (de *DefaultEndpointHandler) HandleDELETE(w http.ResponseWriter, r *http.Request, resources []string) {
	http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
}

/*
endpoints returns the endpoint handlers of a monitor.
*/
func (m *Monitor) endpoints() map[string]RestEndpointInst {
	return map[string]RestEndpointInst{
		EndpointAbout: func() RestEndpointHandler {
			return &aboutEndpoint{monitor: m}
		},
		EndpointStats: func() RestEndpointHandler {
			return &statsEndpoint{monitor: m}
		},
		EndpointProcesses: func() RestEndpointHandler {
			return &processesEndpoint{monitor: m}
		},
		EndpointFrames: func() RestEndpointHandler {
			return &framesEndpoint{monitor: m}
		},
		EndpointFrameMap: func() RestEndpointHandler {
			return &frameMapEndpoint{monitor: m}
		},
		EndpointEvents: func() RestEndpointHandler {
			return &eventsEndpoint{monitor: m}
		},
		EndpointEventsStream: func() RestEndpointHandler {
			return &eventsStreamEndpoint{monitor: m}
		},
	}
}

/*
writeJSON writes a JSON response.
*/
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("content-type", "application/json; charset=utf-8")

	json.NewEncoder(w).Encode(data)
}

/*
checkRunning writes an error response if the manager is not running.
*/
func checkRunning(w http.ResponseWriter, manager *vm.Manager) bool {
	if !manager.Running() {
		http.Error(w, "VM manager is not running", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// About endpoint
// ==============

/*
aboutEndpoint returns product information and the paging geometry.
*/
type aboutEndpoint struct {
	*DefaultEndpointHandler
	monitor *Monitor
}

/*
HandleGET returns the product name and version. The page size, the number of
frames and the number of swap slots are added while the manager is running.
*/
func (a *aboutEndpoint) HandleGET(w http.ResponseWriter, r *http.Request, resources []string) {
	manager := a.monitor.manager

	data := map[string]interface{}{
		"product": "VMPager",
		"version": config.ProductVersion,
		"running": manager.Running(),
	}

	if frames, swapStore := manager.Frames(), manager.Swap(); manager.Running() &&
		frames != nil && swapStore != nil {

		data["pagesize"] = frames.PageSize()
		data["frames"] = frames.Size()
		data["swapslots"] = swapStore.Capacity()
	}

	writeJSON(w, data)
}

// Stats endpoint
// ==============

/*
statsEndpoint returns paging statistics of the manager.
*/
type statsEndpoint struct {
	*DefaultEndpointHandler
	monitor *Monitor
}

/*
HandleGET returns frame table, swap store, process and event statistics.
*/
func (se *statsEndpoint) HandleGET(w http.ResponseWriter, r *http.Request, resources []string) {
	manager := se.monitor.manager

	if !checkRunning(w, manager) {
		return
	}

	frames := manager.Frames()
	swapStore := manager.Swap()

	if frames == nil || swapStore == nil {
		http.Error(w, "VM manager is not running", http.StatusServiceUnavailable)
		return
	}

	procs := manager.Processes()
	pdata := make([]map[string]interface{}, 0, len(procs))

	for _, p := range procs {
		pdata = append(pdata, processInfo(p))
	}

	writeJSON(w, map[string]interface{}{
		"frames": map[string]interface{}{
			"size":      frames.Size(),
			"resident":  frames.Resident(),
			"free":      frames.Free(),
			"evictions": frames.Evictions(),
		},
		"swap": map[string]interface{}{
			"capacity": swapStore.Capacity(),
			"used":     swapStore.Used(),
		},
		"processes": pdata,
		"events":    se.monitor.Counts(),
	})
}

/*
processInfo returns the statistics of a process.
*/
func processInfo(p *vm.Process) map[string]interface{} {
	stats := p.Stats()

	killed := ""
	if err := p.Killed(); err != nil {
		killed = err.Error()
	}

	return map[string]interface{}{
		"pid":          p.Pid(),
		"pages":        p.Table().Len(),
		"mapped":       p.AddressSpace().Mapped(),
		"mappings":     len(p.Mappings()),
		"killed":       killed,
		"faults":       stats.Faults,
		"stackgrowths": stats.StackGrowths,
		"fileloads":    stats.FileLoads,
		"zerofills":    stats.ZeroFills,
		"swapins":      stats.SwapIns,
		"swapouts":     stats.SwapOuts,
		"writebacks":   stats.WriteBacks,
		"discards":     stats.Discards,
	}
}

// Processes endpoint
// ==================

/*
processesEndpoint returns information about running processes.
*/
type processesEndpoint struct {
	*DefaultEndpointHandler
	monitor *Monitor
}

/*
HandleGET returns all processes or the details of a single process.
*/
func (pe *processesEndpoint) HandleGET(w http.ResponseWriter, r *http.Request, resources []string) {
	manager := pe.monitor.manager

	if !checkRunning(w, manager) {
		return
	}

	if len(resources) == 0 {
		procs := manager.Processes()
		data := make([]map[string]interface{}, 0, len(procs))

		for _, p := range procs {
			data = append(data, processInfo(p))
		}

		writeJSON(w, data)
		return
	}

	pid, err := strconv.Atoi(resources[0])
	if err != nil || len(resources) > 1 {
		http.Error(w, fmt.Sprintf("Invalid resource specification: %v",
			strings.Join(resources, "/")), http.StatusBadRequest)
		return
	}

	p := manager.Process(pid)
	if p == nil {
		http.Error(w, fmt.Sprintf("Unknown process: %v", pid), http.StatusNotFound)
		return
	}

	data := processInfo(p)

	mappings := make([]string, 0)
	for _, rec := range p.Mappings() {
		mappings = append(mappings, rec.String())
	}

	data["mappinglist"] = mappings
	data["pagetable"] = p.Table().String()

	writeJSON(w, data)
}

// Frames endpoint
// ===============

/*
framesEndpoint returns the state of all frames.
*/
type framesEndpoint struct {
	*DefaultEndpointHandler
	monitor *Monitor
}

/*
HandleGET returns a snapshot of the frame table.
*/
func (fe *framesEndpoint) HandleGET(w http.ResponseWriter, r *http.Request, resources []string) {
	manager := fe.monitor.manager

	if !checkRunning(w, manager) {
		return
	}

	frames := manager.Frames()
	if frames == nil {
		http.Error(w, "VM manager is not running", http.StatusServiceUnavailable)
		return
	}

	snapshot := frames.Snapshot()
	data := make([]map[string]interface{}, 0, len(snapshot))

	for _, info := range snapshot {
		data = append(data, map[string]interface{}{
			"index":    info.Index,
			"free":     info.Free,
			"pinned":   info.Pinned,
			"accessed": info.Accessed,
			"dirty":    info.Dirty,
			"owner":    info.Owner,
		})
	}

	writeJSON(w, data)
}

// Frame map endpoint
// ==================

/*
frameMapEndpoint renders the frame table as a PNG image.
*/
type frameMapEndpoint struct {
	*DefaultEndpointHandler
	monitor *Monitor
}

/*
HandleGET returns a PNG image of the frame table.
*/
func (fe *frameMapEndpoint) HandleGET(w http.ResponseWriter, r *http.Request, resources []string) {
	manager := fe.monitor.manager

	if !checkRunning(w, manager) {
		return
	}

	frames := manager.Frames()
	if frames == nil {
		http.Error(w, "VM manager is not running", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("content-type", "image/png")

	if err := RenderFrameMap(w, frames.Snapshot(), FrameMapColumns); err != nil {
		LogInfo("Could not render frame map: ", err)
	}
}

// Events endpoint
// ===============

/*
eventsEndpoint returns recorded page events.
*/
type eventsEndpoint struct {
	*DefaultEndpointHandler
	monitor *Monitor
}

/*
HandleGET returns the event history or the event counts. The history can be
filtered with the query parameters type and pid.
*/
func (ee *eventsEndpoint) HandleGET(w http.ResponseWriter, r *http.Request, resources []string) {

	if len(resources) == 1 && resources[0] == "counts" {
		writeJSON(w, ee.monitor.Counts())
		return

	} else if len(resources) > 0 {
		http.Error(w, fmt.Sprintf("Invalid resource specification: %v",
			strings.Join(resources, "/")), http.StatusBadRequest)
		return
	}

	typeFilter := r.URL.Query().Get("type")
	pidFilter := -1

	if pidParam := r.URL.Query().Get("pid"); pidParam != "" {
		pid, err := strconv.Atoi(pidParam)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid pid: %v", pidParam), http.StatusBadRequest)
			return
		}
		pidFilter = pid
	}

	data := make([]*EventRecord, 0)

	for _, rec := range ee.monitor.History() {
		if (typeFilter == "" || rec.Type == typeFilter) &&
			(pidFilter == -1 || rec.Pid == pidFilter) {
			data = append(data, rec)
		}
	}

	writeJSON(w, data)
}

/*
HandleDELETE clears the event history.
*/
func (ee *eventsEndpoint) HandleDELETE(w http.ResponseWriter, r *http.Request, resources []string) {
	ee.monitor.history.Reset()

	writeJSON(w, map[string]interface{}{"cleared": true})
}

// Event stream endpoint
// =====================

/*
StreamBufferSize is the number of events which are buffered for a websocket
subscriber
*/
var StreamBufferSize = 256

/*
eventsStreamEndpoint streams page events over a websocket.
*/
type eventsStreamEndpoint struct {
	*DefaultEndpointHandler
	monitor *Monitor
}

/*
HandleGET upgrades the connection to a websocket and sends all page events.
The query parameter type restricts the stream to a single event type.
*/
func (ese *eventsStreamEndpoint) HandleGET(w http.ResponseWriter, r *http.Request, resources []string) {

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {

		// The upgrader already wrote an error response

		return
	}

	id, events := ese.monitor.Subscribe(r.URL.Query().Get("type"), StreamBufferSize)

	wc := NewWebsocketConnection(fmt.Sprint(id), conn)

	wc.Init()

	LogDebug("Event stream ", id, " connected")

	// Wait for the client to close the connection

	done := make(chan bool)

	go func() {
		for {
			if _, fatal, err := wc.ReadData(); err != nil && fatal {
				break
			}
		}
		close(done)
	}()

	for {
		select {
		case rec := <-events:
			if err := wc.WriteData("data", rec); err != nil {
				LogDebug("Event stream ", id, " write error: ", err)
				ese.monitor.Unsubscribe(id)
				wc.Close("")
				<-done
				return
			}

		case <-done:
			dropped := ese.monitor.Unsubscribe(id)
			LogDebug("Event stream ", id, " closed (", dropped, " dropped events)")
			wc.Close("")
			return
		}
	}
}
