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
	"net/http"
	"sync"

	"github.com/krotik/common/httputil"
)

/*
HandleFunc to use for registering handlers
*/
var HandleFunc func(pattern string, handler func(http.ResponseWriter, *http.Request)) = http.HandleFunc

/*
Monitor which serves requests of the HTTP server
*/
var active *Monitor
var activeLock = &sync.RWMutex{}
var registerOnce = &sync.Once{}

/*
serveActive dispatches a request to the active monitor.
*/
func serveActive(w http.ResponseWriter, r *http.Request) {
	activeLock.RLock()
	m := active
	activeLock.RUnlock()

	if m == nil {
		http.Error(w, "No monitor is active", http.StatusServiceUnavailable)
		return
	}

	m.ServeHTTP(w, r)
}

/*
Server is the HTTP server of a monitor.
*/
type Server struct {
	monitor *Monitor             // Monitor which is served
	hs      *httputil.HTTPServer // HTTP server
	wg      *sync.WaitGroup      // Wait group for server start and stop
	mutex   *sync.Mutex          // Mutex to protect the server state
}

/*
NewServer creates a new HTTP server for a given monitor. Only one server can
be running at a time.
*/
func NewServer(monitor *Monitor) *Server {
	return &Server{monitor, nil, &sync.WaitGroup{}, &sync.Mutex{}}
}

/*
Start starts the HTTP server on a given local address. This function returns
once the server is listening.
*/
func (s *Server) Start(laddr string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.hs != nil {
		return ErrServerRunning
	}

	registerOnce.Do(func() {
		HandleFunc(EndpointRoot+"/", serveActive)
	})

	hs := &httputil.HTTPServer{}

	s.wg.Add(1)

	go hs.RunHTTPServer(laddr, s.wg)

	s.wg.Wait()

	if !hs.Running {
		return hs.LastError
	}

	activeLock.Lock()
	active = s.monitor
	activeLock.Unlock()

	LogInfo("Monitor listening on ", laddr)

	s.hs = hs

	return nil
}

/*
Stop stops the HTTP server. This function returns once the server has
stopped.
*/
func (s *Server) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.hs == nil {
		return ErrServerNotRunning
	}

	s.wg.Add(1)

	s.hs.Shutdown()

	s.wg.Wait()

	activeLock.Lock()
	if active == s.monitor {
		active = nil
	}
	activeLock.Unlock()

	s.hs = nil

	LogInfo("Monitor stopped")

	return nil
}

/*
Running returns if the HTTP server is running.
*/
func (s *Server) Running() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.hs != nil && s.hs.Running
}
