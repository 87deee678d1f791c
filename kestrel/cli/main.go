// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli is the main entrypoint for kestrel.
package cli

import (
	"context"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"kestrel.dev/kestrel/kestrel/cmd"
	"kestrel.dev/kestrel/kestrel/config"
	"kestrel.dev/kestrel/kestrel/flag"
	"kestrel.dev/kestrel/pkg/kernel"
	"kestrel.dev/kestrel/pkg/log"
	"kestrel.dev/kestrel/pkg/platform"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}
	if _, err := platform.Lookup(conf.Platform); err != nil {
		cmd.Fatalf("%v", err)
	}

	subcommand := flag.CommandLine.Arg(0)

	// Set up logging.
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	startTime := time.Now()
	var emitters log.MultiEmitter
	if conf.LogFilename != "" {
		f, err := log.OpenFile(conf.LogFilename, subcommand, startTime)
		if err != nil {
			cmd.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		emitters = append(emitters, newEmitter(conf.LogFormat, f))
	}
	if conf.DebugLog != "" {
		f, err := log.OpenFile(conf.DebugLog, subcommand, startTime)
		if err != nil {
			cmd.Fatalf("error opening debug log file in %q: %v", conf.DebugLog, err)
		}
		emitters = append(emitters, newEmitter(conf.DebugLogFormat, f))
	}
	if conf.AlsoLogToStderr {
		emitters = append(emitters, newEmitter(conf.DebugLogFormat, os.Stderr))
	}

	switch len(emitters) {
	case 0:
		// The console owns stdout and stdin; without a log destination the
		// logs are discarded.
		log.SetTarget(newEmitter("text", io.Discard))
	case 1:
		// Use the singular emitter to avoid needless
		// `for` loop overhead when logging to a single place.
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	const delimString = `**************** kestrel ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, %d CPUs, %s, PID %d", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid())
	log.Infof("Args: %v", os.Args)
	log.Infof("Flags: %v", conf.ToFlags())
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	var es kernel.ExitStatus
	subcmdCode := subcommands.Execute(context.Background(), conf, &es)
	if subcmdCode == subcommands.ExitSuccess {
		log.Infof("Exiting with status: %v", es)
		os.Exit(es.Status())
	}
	if subcmdCode == subcommands.ExitUsageError {
		os.Exit(2)
	}
	// Return an error that is unlikely to be used by the application.
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(128)
}

// forEachCmd invokes the passed callback for each command supported by
// kestrel.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Run), "")

	const inspectGroup = "inspection"
	cb(new(cmd.Inspect), inspectGroup)
	cb(new(cmd.Platforms), inspectGroup)
	cb(new(cmd.Syscalls), inspectGroup)

	cb(new(cmd.Image), "metal")
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}
