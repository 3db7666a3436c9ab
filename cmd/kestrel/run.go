// Copyright 2025 The Kestrel Authors.
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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"kestrel.dev/kestrel/pkg/boards"
)

// runCmd implements subcommands.Command for the "run" command.
type runCmd struct {
	config   string
	logLevel string
	showLEDs bool
}

// Name implements subcommands.Command.Name.
func (*runCmd) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*runCmd) Synopsis() string {
	return "run a board until all of its processes finish"
}

// Usage implements subcommands.Command.Usage.
func (*runCmd) Usage() string {
	return `run [flags] - run a board until all of its processes finish.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.config, "config", "", "board definition TOML; empty uses the built-in board")
	f.StringVar(&r.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	f.BoolVar(&r.showLEDs, "show-leds", false, "print final LED states on exit")
}

// Execute implements subcommands.Command.Execute.
func (r *runCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	level, err := logrus.ParseLevel(r.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -log-level: %v\n", err)
		return subcommands.ExitUsageError
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	log := logrus.NewEntry(logger)

	cfg := boards.DefaultConfig()
	if r.config != "" {
		cfg, err = boards.LoadConfig(r.config)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
	}

	b, err := boards.New(cfg, os.Stdout, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	b.Run()

	for _, p := range b.Kernel.Processes() {
		log.WithFields(logrus.Fields{
			"process":  p.Name(),
			"state":    p.State().String(),
			"code":     p.CompletionCode(),
			"restarts": p.Restarts(),
		}).Info("process finished")
	}
	if r.showLEDs {
		for i, lit := range b.LEDs.States() {
			state := "off"
			if lit {
				state = "on"
			}
			fmt.Fprintf(os.Stdout, "led %d: %s\n", i, state)
		}
	}
	return subcommands.ExitSuccess
}
