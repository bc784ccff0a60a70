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
Package console contains the command console of the vmpager monitor.

Commands are organised in groups. Memory commands show the frame table and
the swap store, process commands show page tables and paging counters, event
commands work on the event history of the monitor and console commands
control the console itself.

Every command which prints a table records it as the export table of the
console. The export command writes the export table as CSV.
*/
package console

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/krotik/common/stringutil"
)

/*
Command groups in the order in which they are listed by help
*/
const (
	GroupMemory  = "memory"
	GroupProcess = "process"
	GroupEvents  = "events"
	GroupConsole = "console"
)

var groupOrder = []string{GroupMemory, GroupProcess, GroupEvents, GroupConsole}

/*
RequestTimeout is the timeout for requests to the monitor
*/
var RequestTimeout = 10 * time.Second

/*
NewConsole creates a new console which talks to the monitor at the given URL
and writes to the given Writer. The export command is only available if an
export function is given.
*/
func NewConsole(url string, out io.Writer, exportFunc func([]string, *bytes.Buffer) error) CommandConsole {

	cmdMap := make(map[string]Command)

	for _, cmd := range []Command{&CmdHelp{}, &CmdVer{}, &CmdStats{}, &CmdPs{},
		&CmdFrames{}, &CmdEvents{}, &CmdCounts{}, &CmdClear{}} {

		cmdMap[cmd.Name()] = cmd
	}

	if exportFunc != nil {
		cmdMap[CommandExport] = &CmdExport{exportFunc}
	}

	return &VMConsole{
		url:        strings.TrimRight(url, "/"),
		out:        out,
		client:     &http.Client{Timeout: RequestTimeout},
		CommandMap: cmdMap,
		Aliases:    map[string]string{"?": CommandHelp},
	}
}

/*
CommandConsole is the main interface for command processors.
*/
type CommandConsole interface {

	/*
		Run executes one or more commands separated by ";". Returns an error if
		a command failed and a flag if all commands were handled.
	*/
	Run(cmd string) (bool, error)

	/*
		Commands returns all available commands sorted by group and name.
	*/
	Commands() []Command
}

/*
CommandConsoleAPI is the interface which commands use to talk to the monitor
and to the user.
*/
type CommandConsoleAPI interface {
	CommandConsole

	/*
		URL returns the monitor URL.
	*/
	URL() string

	/*
		Get requests a monitor endpoint and returns the decoded JSON response.
	*/
	Get(endpoint string) (interface{}, error)

	/*
		Delete sends a delete request to a monitor endpoint and returns the
		decoded JSON response.
	*/
	Delete(endpoint string) (interface{}, error)

	/*
		Out returns a writer which can be used to write to the console.
	*/
	Out() io.Writer

	/*
		Table prints a table and records it as export table.
	*/
	Table(tab []string, cols int)

	/*
		LastTable returns the current export table or nil.
	*/
	LastTable() *ExportTable
}

/*
Command describes an available command.
*/
type Command interface {

	/*
		Name returns the command name (as it should be typed).
	*/
	Name() string

	/*
		Group returns the command group.
	*/
	Group() string

	/*
		ShortDescription returns a short description of the command (single line).
	*/
	ShortDescription() string

	/*
		LongDescription returns an extensive description of the command (can be multiple lines).
	*/
	LongDescription() string

	/*
		Run executes the command.
	*/
	Run(args []string, capi CommandConsoleAPI) error
}

/*
CommError is an error response of the monitor.
*/
type CommError struct {
	err  error          // Nice error message
	Resp *http.Response // Error response of the monitor
}

/*
Error returns a textual representation of this error.
*/
func (c *CommError) Error() string {
	return c.err.Error()
}

/*
ExportTable is a table which was printed by a command.
*/
type ExportTable struct {
	Command string   // Command line which printed the table
	Cols    int      // Number of columns
	Cells   []string // Cells including the header row
}

/*
Rows returns the number of data rows.
*/
func (e *ExportTable) Rows() int {
	return len(e.Cells)/e.Cols - 1
}

/*
String returns the table as CSV.
*/
func (e *ExportTable) String() string {
	return stringutil.PrintCSVTable(e.Cells, e.Cols)
}

// VM Console
// ==========

/*
VMConsole is the console of a VM manager monitor.
*/
type VMConsole struct {
	url     string       // Monitor url (e.g. http://localhost:9191)
	out     io.Writer    // Output for this console
	client  *http.Client // Client for monitor requests
	last    *ExportTable // Last printed table
	current string       // Command line which is currently executed

	CommandMap map[string]Command // Map of registered commands
	Aliases    map[string]string  // Alternative command names
}

/*
URL returns the monitor URL.
*/
func (c *VMConsole) URL() string {
	return c.url
}

/*
Out returns a writer which can be used to write to the console.
*/
func (c *VMConsole) Out() io.Writer {
	return c.out
}

/*
Table prints a table and records it as export table.
*/
func (c *VMConsole) Table(tab []string, cols int) {
	c.last = &ExportTable{c.current, cols, tab}
	fmt.Fprint(c.out, stringutil.PrintStringTable(tab, cols))
}

/*
LastTable returns the current export table or nil.
*/
func (c *VMConsole) LastTable() *ExportTable {
	return c.last
}

/*
Run executes one or more commands separated by ";". Empty commands are
skipped. Execution stops at the first unknown or failing command.
*/
func (c *VMConsole) Run(line string) (bool, error) {

	for _, cmdString := range strings.Split(line, ";") {
		fields := strings.Fields(cmdString)

		if len(fields) == 0 {
			continue
		}

		name := fields[0]

		if alias, ok := c.Aliases[name]; ok {
			name = alias
		}

		cmd, ok := c.CommandMap[name]
		if !ok {
			return false, fmt.Errorf("Unknown command: %v", fields[0])
		}

		c.current = strings.Join(fields, " ")

		if err := cmd.Run(fields[1:], c); err != nil {
			return false, err
		}
	}

	return true, nil
}

/*
Commands returns all available commands sorted by group and name.
*/
func (c *VMConsole) Commands() []Command {
	var res []Command

	for _, cmd := range c.CommandMap {
		res = append(res, cmd)
	}

	rank := func(cmd Command) int {
		for i, g := range groupOrder {
			if g == cmd.Group() {
				return i
			}
		}
		return len(groupOrder)
	}

	sort.Slice(res, func(i, j int) bool {
		if ri, rj := rank(res[i]), rank(res[j]); ri != rj {
			return ri < rj
		}
		return res[i].Name() < res[j].Name()
	})

	return res
}

/*
Get requests a monitor endpoint and returns the decoded JSON response.
*/
func (c *VMConsole) Get(endpoint string) (interface{}, error) {
	return c.request("GET", endpoint)
}

/*
Delete sends a delete request to a monitor endpoint and returns the decoded
JSON response.
*/
func (c *VMConsole) Delete(endpoint string) (interface{}, error) {
	return c.request("DELETE", endpoint)
}

/*
request sends a request to the monitor. Every status other than 200 is
returned as a CommError carrying the response text of the monitor.
*/
func (c *VMConsole) request(method string, endpoint string) (interface{}, error) {
	var res interface{}

	req, err := http.NewRequest(method, c.url+endpoint, nil)

	if err == nil {
		var resp *http.Response

		req.Header.Set("Accept", "application/json")

		if resp, err = c.client.Do(req); err == nil {
			defer resp.Body.Close()

			body, _ := ioutil.ReadAll(resp.Body)

			if resp.StatusCode != http.StatusOK {
				return nil, &CommError{
					fmt.Errorf("%s request to %s failed: %s", method, endpoint,
						strings.TrimSpace(string(body))),
					resp,
				}
			}

			err = json.Unmarshal(body, &res)
		}
	}

	return res, err
}
