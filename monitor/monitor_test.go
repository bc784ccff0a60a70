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
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/krotik/common/errorutil"
	"github.com/krotik/common/fileutil"
	"github.com/krotik/ecal/util"
	"devt.de/krotik/vmpager/config"
	"devt.de/krotik/vmpager/frame"
	"devt.de/krotik/vmpager/page"
	"devt.de/krotik/vmpager/vm"
	"github.com/gorilla/websocket"
)

const DBDir = "monitortest"

const TESTPORT = ":9393"

const PS = 4096

func TestMain(m *testing.M) {
	flag.Parse()

	// Setup
	if res, _ := fileutil.PathExists(DBDir); res {
		os.RemoveAll(DBDir)
	}

	errorutil.AssertOk(os.Mkdir(DBDir, 0770))

	// Run the tests
	res := m.Run()

	// Teardown
	err := os.RemoveAll(DBDir)
	if err != nil {
		fmt.Print("Could not remove test directory:", err.Error())
	}

	os.Exit(res)
}

/*
startMonitor starts a manager with a single frame and a monitor.
*/
func startMonitor(history int) (*vm.Manager, *Monitor) {
	config.LoadDefaultConfig()

	config.Config[config.MemoryOnlySwap] = true
	config.Config[config.UserFrames] = "1"
	config.Config[config.SwapSectors] = fmt.Sprint(8 * PS / 512)

	m := vm.NewManager()

	m.Basepath = DBDir
	m.Logger = util.NewMemoryLogger(100)

	mon := NewMonitor(m, history)

	errorutil.AssertOk(m.Start())

	return m, mon
}

/*
swapWorkload writes to two anonymous pages of a new process. This produces
the events zerofill, swapout and zerofill.
*/
func swapWorkload(m *vm.Manager) *vm.Process {
	p, err := m.NewProcess(nil)
	errorutil.AssertOk(err)

	_, err = p.Table().AddAnonymous(0x10000, true)
	errorutil.AssertOk(err)
	_, err = p.Table().AddAnonymous(0x11000, true)
	errorutil.AssertOk(err)

	errorutil.AssertOk(p.Write(0x10000, []byte{1}))
	errorutil.AssertOk(p.Write(0x11000, []byte{2}))

	return p
}

func sendTestRequest(url string, method string) (int, string) {
	req, err := http.NewRequest(method, url, nil)
	errorutil.AssertOk(err)

	resp, err := http.DefaultClient.Do(req)
	errorutil.AssertOk(err)
	defer resp.Body.Close()

	body, _ := ioutil.ReadAll(resp.Body)

	return resp.StatusCode, strings.TrimSpace(string(body))
}

func TestEventRecording(t *testing.T) {
	m, mon := startMonitor(2)
	defer m.Shutdown()

	if mon.Manager() != m || m.Observer != mon {
		t.Error("Monitor should observe the manager")
		return
	}

	swapWorkload(m)

	counts := mon.Counts()

	if counts[page.EventZeroFill] != 2 || counts[page.EventSwapOut] != 1 || len(counts) != 2 {
		t.Error("Unexpected counts:", counts)
		return
	}

	// History is limited to the last two events

	history := mon.History()

	if len(history) != 2 || history[0].Type != page.EventSwapOut ||
		history[1].Type != page.EventZeroFill {
		t.Error("Unexpected history:", history)
		return
	}

	if rec := history[0]; rec.Pid != 1 || rec.Addr != "0x00010000" ||
		rec.Kind != "anonymous" || rec.Slot != 0 {
		t.Error("Unexpected record:", rec)
		return
	}

	if rec := history[1]; rec.Addr != "0x00011000" || rec.Frame != 0 || rec.Slot != -1 {
		t.Error("Unexpected record:", rec)
		return
	}

	if !strings.Contains(history[1].String(), "zerofill pid:1 0x00011000 anonymous frame:0 slot:-1") {
		t.Error("Unexpected string representation:", history[1].String())
		return
	}
}

func TestSubscribers(t *testing.T) {
	m, mon := startMonitor(10)
	defer m.Shutdown()

	id1, all := mon.Subscribe("", 10)
	id2, swapouts := mon.Subscribe(page.EventSwapOut, 10)
	id3, _ := mon.Subscribe("", 1)

	swapWorkload(m)

	if len(all) != 3 || len(swapouts) != 1 {
		t.Error("Unexpected number of delivered events:", len(all), len(swapouts))
		return
	}

	if rec := <-swapouts; rec.Type != page.EventSwapOut {
		t.Error("Unexpected event:", rec)
		return
	}

	if dropped := mon.Unsubscribe(id3); dropped != 2 {
		t.Error("Unexpected number of dropped events:", dropped)
		return
	}

	if dropped := mon.Unsubscribe(id3); dropped != 0 {
		t.Error("Unexpected number of dropped events:", dropped)
		return
	}

	mon.Unsubscribe(id2)

	p := m.Process(1)
	errorutil.AssertOk(p.Write(0x10000, []byte{3}))

	// Only the remaining subscriber receives further events

	if len(all) != 5 || len(swapouts) != 0 {
		t.Error("Unexpected number of delivered events:", len(all), len(swapouts))
		return
	}

	mon.Unsubscribe(id1)

	if len(mon.subscribers) != 0 {
		t.Error("Unexpected subscribers:", mon.subscribers)
		return
	}
}

func TestEndpoints(t *testing.T) {
	m, mon := startMonitor(10)

	ts := httptest.NewServer(mon)
	defer ts.Close()

	swapWorkload(m)

	// About

	if code, res := sendTestRequest(ts.URL+EndpointAbout, "GET"); code != http.StatusOK ||
		res != `{"frames":1,"pagesize":4096,"product":"VMPager","running":true,"swapslots":8,"version":"1.0.0"}` {
		t.Error("Unexpected response:", code, res)
		return
	}

	// Stats

	code, res := sendTestRequest(ts.URL+EndpointStats, "GET")
	if code != http.StatusOK {
		t.Error("Unexpected response:", code, res)
		return
	}

	var stats map[string]interface{}
	errorutil.AssertOk(json.Unmarshal([]byte(res), &stats))

	frames := stats["frames"].(map[string]interface{})
	swapStats := stats["swap"].(map[string]interface{})
	procs := stats["processes"].([]interface{})
	events := stats["events"].(map[string]interface{})

	if frames["size"] != 1.0 || frames["resident"] != 1.0 || frames["free"] != 0.0 ||
		frames["evictions"] != 1.0 {
		t.Error("Unexpected frame stats:", frames)
		return
	}

	if swapStats["capacity"] != 8.0 || swapStats["used"] != 1.0 {
		t.Error("Unexpected swap stats:", swapStats)
		return
	}

	if len(procs) != 1 {
		t.Error("Unexpected processes:", procs)
		return
	}

	if proc := procs[0].(map[string]interface{}); proc["pid"] != 1.0 || proc["pages"] != 2.0 ||
		proc["faults"] != 2.0 || proc["swapouts"] != 1.0 || proc["killed"] != "" {
		t.Error("Unexpected process stats:", proc)
		return
	}

	if events["zerofill"] != 2.0 || events["swapout"] != 1.0 {
		t.Error("Unexpected event stats:", events)
		return
	}

	if code, res := sendTestRequest(ts.URL+EndpointStats, "POST"); code != http.StatusMethodNotAllowed ||
		res != "Method Not Allowed" {
		t.Error("Unexpected response:", code, res)
		return
	}

	if code, res := sendTestRequest(ts.URL+EndpointStats, "PATCH"); code != http.StatusMethodNotAllowed {
		t.Error("Unexpected response:", code, res)
		return
	}

	// Processes

	code, res = sendTestRequest(ts.URL+EndpointProcesses+"1", "GET")
	if code != http.StatusOK || !strings.Contains(res, "Page Table: pid 1 (2 pages)") {
		t.Error("Unexpected response:", code, res)
		return
	}

	code, res = sendTestRequest(ts.URL+EndpointProcesses, "GET")
	if code != http.StatusOK || !strings.HasPrefix(res, `[{"discards":0,`) {
		t.Error("Unexpected response:", code, res)
		return
	}

	if code, res := sendTestRequest(ts.URL+EndpointProcesses+"99", "GET"); code != http.StatusNotFound ||
		res != "Unknown process: 99" {
		t.Error("Unexpected response:", code, res)
		return
	}

	if code, res := sendTestRequest(ts.URL+EndpointProcesses+"x", "GET"); code != http.StatusBadRequest ||
		res != "Invalid resource specification: x" {
		t.Error("Unexpected response:", code, res)
		return
	}

	// Frames

	code, res = sendTestRequest(ts.URL+EndpointFrames, "GET")
	if code != http.StatusOK {
		t.Error("Unexpected response:", code, res)
		return
	}

	var frameList []map[string]interface{}
	errorutil.AssertOk(json.Unmarshal([]byte(res), &frameList))

	if len(frameList) != 1 || frameList[0]["free"] != false || frameList[0]["owner"] == "" {
		t.Error("Unexpected frames:", frameList)
		return
	}

	// Frame map

	resp, err := http.Get(ts.URL + EndpointFrameMap)
	errorutil.AssertOk(err)

	img, err := png.Decode(resp.Body)
	resp.Body.Close()

	if err != nil || resp.Header.Get("content-type") != "image/png" {
		t.Error("Unexpected frame map:", err, resp.Header)
		return
	}

	if b := img.Bounds(); b.Dx() != FrameMapColumns*FrameMapCellSize || b.Dy() != FrameMapCellSize {
		t.Error("Unexpected image size:", b)
		return
	}

	// Events

	code, res = sendTestRequest(ts.URL+EndpointEvents+"?type=zerofill", "GET")
	if code != http.StatusOK {
		t.Error("Unexpected response:", code, res)
		return
	}

	var recs []EventRecord
	errorutil.AssertOk(json.Unmarshal([]byte(res), &recs))

	if len(recs) != 2 || recs[0].Addr != "0x00010000" || recs[1].Addr != "0x00011000" {
		t.Error("Unexpected events:", recs)
		return
	}

	code, res = sendTestRequest(ts.URL+EndpointEvents+"?pid=2", "GET")
	if code != http.StatusOK || res != "[]" {
		t.Error("Unexpected response:", code, res)
		return
	}

	if code, res := sendTestRequest(ts.URL+EndpointEvents+"?pid=a", "GET"); code != http.StatusBadRequest ||
		res != "Invalid pid: a" {
		t.Error("Unexpected response:", code, res)
		return
	}

	if code, res := sendTestRequest(ts.URL+EndpointEvents+"counts", "GET"); code != http.StatusOK ||
		res != `{"swapout":1,"zerofill":2}` {
		t.Error("Unexpected response:", code, res)
		return
	}

	if code, res := sendTestRequest(ts.URL+EndpointEvents+"foo/bar", "GET"); code != http.StatusBadRequest ||
		res != "Invalid resource specification: foo/bar" {
		t.Error("Unexpected response:", code, res)
		return
	}

	if code, res := sendTestRequest(ts.URL+EndpointEvents, "DELETE"); code != http.StatusOK ||
		res != `{"cleared":true}` {
		t.Error("Unexpected response:", code, res)
		return
	}

	if len(mon.History()) != 0 {
		t.Error("History should be empty")
		return
	}

	// Endpoints which need a running manager

	errorutil.AssertOk(m.Shutdown())

	for _, ep := range []string{EndpointStats, EndpointProcesses, EndpointFrames, EndpointFrameMap} {
		if code, res := sendTestRequest(ts.URL+ep, "GET"); code != http.StatusServiceUnavailable ||
			res != "VM manager is not running" {
			t.Error("Unexpected response:", ep, code, res)
			return
		}
	}
}

func TestEventStream(t *testing.T) {
	m, mon := startMonitor(10)
	defer m.Shutdown()

	ts := httptest.NewServer(mon)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + EndpointEventsStream + "?type=swapout"

	// A normal request cannot be upgraded

	if code, _ := sendTestRequest(ts.URL+EndpointEventsStream, "GET"); code != http.StatusBadRequest {
		t.Error("Unexpected response:", code)
		return
	}

	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Error(err)
		return
	}

	_, msg, err := c.ReadMessage()
	if err != nil || string(msg) != `{"type":"init_success","payload":{}}` {
		t.Error("Unexpected init message:", string(msg), err)
		return
	}

	swapWorkload(m)

	_, msg, err = c.ReadMessage()
	if err != nil {
		t.Error(err)
		return
	}

	var data map[string]interface{}
	errorutil.AssertOk(json.Unmarshal(msg, &data))

	payload := data["payload"].(map[string]interface{})

	if data["type"] != "data" || data["commID"] != "1" || payload["type"] != "swapout" ||
		payload["addr"] != "0x00010000" || payload["slot"] != 0.0 {
		t.Error("Unexpected message:", string(msg))
		return
	}

	c.Close()

	// The subscriber is removed once the server notices the closed connection

	for i := 0; i < 100; i++ {
		mon.mutex.Lock()
		n := len(mon.subscribers)
		mon.mutex.Unlock()

		if n == 0 {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Error("Subscriber was not removed")
}

func TestServer(t *testing.T) {
	m, mon := startMonitor(10)
	defer m.Shutdown()

	swapWorkload(m)

	queryURL := "http://localhost" + TESTPORT

	if code, res := sendTestRequestNoServer(queryURL + EndpointStats); code != -1 {
		t.Error("Unexpected response:", code, res)
		return
	}

	s := NewServer(mon)

	if err := s.Stop(); err != ErrServerNotRunning {
		t.Error("Unexpected result:", err)
		return
	}

	if err := s.Start(TESTPORT); err != nil {
		t.Error(err)
		return
	}

	if !s.Running() {
		t.Error("Server should be running")
		return
	}

	if err := s.Start(TESTPORT); err != ErrServerRunning {
		t.Error("Unexpected result:", err)
		return
	}

	// A second server cannot use the same port

	if err := NewServer(mon).Start(TESTPORT); err == nil {
		t.Error("Starting a second server should fail")
		return
	}

	if code, res := sendTestRequest(queryURL+EndpointEvents+"counts", "GET"); code != http.StatusOK ||
		res != `{"swapout":1,"zerofill":2}` {
		t.Error("Unexpected response:", code, res)
		return
	}

	if err := s.Stop(); err != nil {
		t.Error(err)
		return
	}

	if s.Running() {
		t.Error("Server should not be running")
		return
	}

	// Requests to the default request multiplexer are rejected if no monitor is active

	rec := httptest.NewRecorder()
	serveActive(rec, httptest.NewRequest("GET", EndpointStats, nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Error("Unexpected response:", rec.Code, rec.Body.String())
		return
	}
}

func sendTestRequestNoServer(url string) (int, string) {
	resp, err := http.Get(url)
	if err != nil {
		return -1, err.Error()
	}
	defer resp.Body.Close()

	body, _ := ioutil.ReadAll(resp.Body)

	return resp.StatusCode, string(body)
}

func TestRenderFrameMap(t *testing.T) {
	var buf bytes.Buffer

	snapshot := []frame.Info{
		{Index: 0, Free: true},
		{Index: 1, Pinned: true},
		{Index: 2, Dirty: true},
		{Index: 3, Accessed: true},
		{Index: 4},
	}

	if err := RenderFrameMap(&buf, snapshot, 2); err != nil {
		t.Error(err)
		return
	}

	img, err := png.Decode(&buf)
	if err != nil {
		t.Error(err)
		return
	}

	if b := img.Bounds(); b.Dx() != 2*FrameMapCellSize || b.Dy() != 3*FrameMapCellSize {
		t.Error("Unexpected image size:", b)
		return
	}

	// Check the center of the dirty frame

	r, g, b, _ := img.At(FrameMapCellSize/2, FrameMapCellSize+FrameMapCellSize/2).RGBA()

	if r>>8 < 200 || g>>8 > 100 || b>>8 > 100 {
		t.Error("Unexpected color:", r>>8, g>>8, b>>8)
		return
	}

	buf.Reset()

	if err := RenderFrameMap(&buf, nil, 0); err != nil {
		t.Error(err)
		return
	}

	if img, err := png.Decode(&buf); err != nil || img.Bounds().Dx() != FrameMapCellSize {
		t.Error("Unexpected empty frame map:", err)
		return
	}
}
