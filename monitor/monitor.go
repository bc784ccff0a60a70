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
Package monitor contains an observer and HTTP frontend for a VM manager.

The Monitor receives all page events of a manager. It keeps a bounded history
of recent events, counts events per type and forwards events to websocket
subscribers. The HTTP frontend offers JSON endpoints for paging statistics,
the frame table and the event history as well as a PNG image of the frame
table.
*/
package monitor

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/krotik/common/datautil"
	"github.com/krotik/common/flowutil"
	"github.com/krotik/common/timeutil"
	"devt.de/krotik/vmpager/page"
	"devt.de/krotik/vmpager/swap"
	"devt.de/krotik/vmpager/vm"
)

/*
EventRecord is a recorded page event.
*/
type EventRecord struct {
	Timestamp string `json:"timestamp"` // Millisecond timestamp of the event
	Type      string `json:"type"`      // Event type
	Pid       int    `json:"pid"`       // Owning process
	Addr      string `json:"addr"`      // Page address
	Kind      string `json:"kind"`      // Backing kind
	Frame     int    `json:"frame"`     // Involved frame (-1 if none)
	Slot      int64  `json:"slot"`      // Swap slot (-1 if none)
}

/*
String returns a string representation of this event record.
*/
func (r *EventRecord) String() string {
	return fmt.Sprintf("%v %v pid:%v %v %v frame:%v slot:%v", r.Timestamp,
		r.Type, r.Pid, r.Addr, r.Kind, r.Frame, r.Slot)
}

/*
subscriber is a receiver of live events.
*/
type subscriber struct {
	id      int               // Id of this subscriber
	filter  string            // Event type filter (empty for all events)
	events  chan *EventRecord // Buffered event channel
	dropped uint64            // Number of events which could not be delivered
}

/*
Monitor data structure
*/
type Monitor struct {
	manager     *vm.Manager          // Observed manager
	history     *datautil.RingBuffer // Recent events
	counts      map[string]uint64    // Number of events per type
	pump        *flowutil.EventPump  // Event pump for subscribers
	subscribers map[int]*subscriber  // Live event subscribers
	nextSubID   int                  // Next subscriber id
	mux         *http.ServeMux       // Request multiplexer of this monitor
	mutex       *sync.Mutex          // Mutex to protect counts and subscribers
}

/*
NewMonitor creates a new monitor for a given manager which keeps a given number
of recent events. The monitor registers itself as observer of the manager - it
should be created before the manager is started.
*/
func NewMonitor(manager *vm.Manager, historySize int) *Monitor {
	if historySize < 1 {
		historySize = 1
	}

	m := &Monitor{manager, datautil.NewRingBuffer(historySize), make(map[string]uint64),
		flowutil.NewEventPump(), make(map[int]*subscriber), 1, http.NewServeMux(),
		&sync.Mutex{}}

	manager.Observer = m

	RegisterRestEndpoints(m.mux, m.endpoints())

	return m
}

/*
Manager returns the observed manager.
*/
func (m *Monitor) Manager() *vm.Manager {
	return m.manager
}

/*
PageEvent records a page event. This is called by the page tables of the
observed manager.
*/
func (m *Monitor) PageEvent(e page.Event) {
	slot := int64(-1)
	if e.Slot != swap.NotYetSwapped {
		slot = int64(e.Slot)
	}

	rec := &EventRecord{
		Timestamp: timeutil.MakeTimestamp(),
		Type:      e.Type,
		Pid:       e.Pid,
		Addr:      fmt.Sprintf("%#010x", e.Addr),
		Kind:      e.Kind.String(),
		Frame:     e.Frame,
		Slot:      slot,
	}

	m.history.Add(rec)

	m.mutex.Lock()
	m.counts[e.Type]++
	m.mutex.Unlock()

	m.pump.PostEvent(e.Type, rec)
}

/*
History returns the recent events starting with the oldest.
*/
func (m *Monitor) History() []*EventRecord {
	items := m.history.Slice()
	ret := make([]*EventRecord, 0, len(items))

	for _, item := range items {
		ret = append(ret, item.(*EventRecord))
	}

	return ret
}

/*
Counts returns the number of observed events per event type.
*/
func (m *Monitor) Counts() map[string]uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ret := make(map[string]uint64, len(m.counts))
	for k, v := range m.counts {
		ret[k] = v
	}

	return ret
}

/*
Subscribe registers a new live event subscriber. Only events of the given type
are delivered if filter is not empty. Events are dropped if the subscriber
does not keep up. Returns the subscriber id and its event channel.
*/
func (m *Monitor) Subscribe(filter string, buffer int) (int, <-chan *EventRecord) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := &subscriber{m.nextSubID, filter, make(chan *EventRecord, buffer), 0}

	m.nextSubID++
	m.subscribers[s.id] = s

	m.rewire()

	return s.id, s.events
}

/*
Unsubscribe removes a live event subscriber. Returns the number of events
which could not be delivered to it.
*/
func (m *Monitor) Unsubscribe(id int) uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s, ok := m.subscribers[id]
	if !ok {
		return 0
	}

	delete(m.subscribers, id)

	m.rewire()

	return s.dropped
}

/*
rewire registers all current subscribers with the event pump. The monitor
mutex must be held.
*/
func (m *Monitor) rewire() {
	m.pump.RemoveObservers("", nil)

	ids := make([]int, 0, len(m.subscribers))
	for id := range m.subscribers {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	for _, id := range ids {
		s := m.subscribers[id]

		m.pump.AddObserver(s.filter, nil, func(event string, source interface{}) {

			// Event callbacks run while the frame table lock is held

			select {
			case s.events <- source.(*EventRecord):
			default:
				m.mutex.Lock()
				s.dropped++
				m.mutex.Unlock()
			}
		})
	}
}

/*
ServeHTTP dispatches a request to the endpoints of this monitor.
*/
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mux.ServeHTTP(w, r)
}
