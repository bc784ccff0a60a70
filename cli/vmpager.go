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
VMPager is a demand paged virtual memory manager for user processes.

Features:

- Supplemental page table per process which tracks where every page lives.

- Frame table with an eviction heuristic based on accessed and dirty bits.

- Swap store on a block device which can be a file or memory only.

- Lazy loading of executable segments, zero filled pages and stack growth.

- Memory mapped files with write back on unmap.

- Optional monitor with a REST API, a websocket event stream and a console.
*/
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/krotik/common/fileutil"
	"github.com/krotik/common/termutil"
	"devt.de/krotik/vmpager/config"
	"devt.de/krotik/vmpager/console"
	"devt.de/krotik/vmpager/server"
	"devt.de/krotik/vmpager/vm"
)

func main() {

	// Initialize the default command line parser

	flag.CommandLine.Init(os.Args[0], flag.ContinueOnError)

	// Define default usage message

	flag.Usage = func() {

		// Print usage for tool selection

		fmt.Println(fmt.Sprintf("Usage of %s <tool>", os.Args[0]))
		fmt.Println()
		fmt.Println("VMPager virtual memory manager")
		fmt.Println()
		fmt.Println("Available commands:")
		fmt.Println()
		fmt.Println("    console   VMPager monitor console")
		fmt.Println("    server    Start VMPager server")
		fmt.Println()
		fmt.Println(fmt.Sprintf("Use %s <command> -help for more information about a given command.", os.Args[0]))
		fmt.Println()
	}

	// Parse the command bit

	err := flag.CommandLine.Parse(os.Args[1:])

	if len(flag.Args()) > 0 {

		arg := flag.Args()[0]

		if arg == "server" {
			config.LoadConfigFile(config.DefaultConfigFile)
			server.StartServerWithSingleOp(handleServerCommandLine)
		} else if arg == "console" {
			config.LoadConfigFile(config.DefaultConfigFile)
			RunCliConsole()
		} else {
			flag.Usage()
		}

	} else if err == nil {

		flag.Usage()
	}
}

/*
RunCliConsole runs the monitor console on the commandline.
*/
func RunCliConsole() {
	var err error

	// Try to get the monitor host and port from the config file

	chost, cport := getHostPortFromConfig()

	host := flag.String("host", chost, "Host of the VMPager monitor")
	port := flag.String("port", cport, "Port of the VMPager monitor")

	cmdfile := flag.String("file", "", "Read commands from a file and exit")
	cmdline := flag.String("exec", "", "Execute a single line and exit")

	showHelp := flag.Bool("help", false, "Show this help message")

	flag.Usage = func() {
		fmt.Println()
		fmt.Println(fmt.Sprintf("Usage of %s console [options]", os.Args[0]))
		fmt.Println()
		flag.PrintDefaults()
		fmt.Println()
	}

	flag.CommandLine.Parse(os.Args[2:])

	if *showHelp {
		flag.Usage()
		return
	}

	if *cmdfile == "" && *cmdline == "" {
		fmt.Println(fmt.Sprintf("VMPager %v - Console", config.ProductVersion))
	}

	var clt termutil.ConsoleLineTerminal

	isExitLine := func(s string) bool {
		return s == "exit" || s == "q" || s == "quit" || s == "bye" || s == "\x04"
	}

	clt, err = termutil.NewConsoleLineTerminal(os.Stdout)

	// Create the console object

	con := console.NewConsole(fmt.Sprintf("http://%s:%s", *host, *port), os.Stdout,
		func(args []string, exportBuf *bytes.Buffer) error {

			// Export data to a chosen file

			filename := "export.out"

			if len(args) > 0 {
				filename = args[0]
			}

			return ioutil.WriteFile(filename, exportBuf.Bytes(), 0666)
		})

	if err == nil {

		if *cmdfile != "" {
			var file *os.File

			// Read commands from a file

			file, err = os.Open(*cmdfile)
			if err == nil {
				defer file.Close()

				clt, err = termutil.AddFileReadingWrapper(clt, file, true)
			}

		} else if *cmdline != "" {
			var buf bytes.Buffer

			buf.WriteString(fmt.Sprintln(*cmdline))

			// Read commands from a single line

			clt, err = termutil.AddFileReadingWrapper(clt, &buf, true)

		} else {

			// Add history and auto completion of command names

			var words []string
			for _, cmd := range con.Commands() {
				words = append(words, cmd.Name())
			}

			histfile := filepath.Join(filepath.Dir(os.Args[0]), ".vmpager_console_history")

			if clt, err = termutil.AddHistoryMixin(clt, histfile,
				func(s string) bool {
					return isExitLine(s)
				}); err == nil {

				clt, err = termutil.AddAutoCompleteMixin(clt, termutil.NewWordListDict(words))
			}
		}
	}

	if err == nil {

		// Start the console

		if err = clt.StartTerm(); err == nil {
			var line string

			defer clt.StopTerm()

			if *cmdfile == "" && *cmdline == "" {
				fmt.Println("Type 'q' or 'quit' to exit the shell and '?' to get help")
			}

			line, err = clt.NextLine()
			for err == nil && !isExitLine(line) {

				_, cerr := con.Run(line)

				if cerr != nil {

					// Output any error

					fmt.Fprintln(clt, cerr.Error())
				}

				line, err = clt.NextLine()
			}
		}
	}

	if err != nil {
		fmt.Println(err.Error())
	}
}

/*
getHostPortFromConfig gets the host and port from the config file or the
default config.
*/
func getHostPortFromConfig() (string, string) {
	host := fileutil.ConfStr(config.DefaultConfig, config.MonitorHost)
	port := fileutil.ConfStr(config.DefaultConfig, config.MonitorPort)

	configFile := filepath.Join(filepath.Dir(os.Args[0]), config.DefaultConfigFile)
	if ok, _ := fileutil.PathExists(configFile); ok {
		cfg, _ := fileutil.LoadConfig(configFile, config.DefaultConfig)
		if cfg != nil {

			host = fileutil.ConfStr(cfg, config.MonitorHost)
			port = fileutil.ConfStr(cfg, config.MonitorPort)
		}
	}

	return host, port
}

/*
handleServerCommandLine handles all command line options for the server
*/
func handleServerCommandLine(m *vm.Manager) bool {

	workload := flag.Int("workload", 0, "Start a demo workload with the given number of processes")
	dump := flag.Bool("dump", false, "Print the state of the VM manager after initialization")

	noServ := flag.Bool("no-serv", false, "Do not start the server after initialization")

	showHelp := flag.Bool("help", false, "Show this help message")

	flag.Usage = func() {
		fmt.Println()
		fmt.Println(fmt.Sprintf("Usage of %s server [options]", os.Args[0]))
		fmt.Println()
		flag.PrintDefaults()
		fmt.Println()
	}

	flag.CommandLine.Parse(os.Args[2:])

	if *showHelp {
		flag.Usage()
		return true
	}

	if *workload > 0 {
		fmt.Println(fmt.Sprintf("Starting workload with %v processes", *workload))

		if _, err := server.RunWorkload(m, *workload, os.Stdout); err != nil {
			fmt.Println(err.Error())
			return true
		}
	}

	if *dump {
		fmt.Println(m)

		for _, p := range m.Processes() {
			fmt.Print(p.Table())
		}
	}

	return *noServ
}
