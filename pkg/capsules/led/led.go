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

// Package led exposes a row of LEDs to processes.
//
// Userspace ABI, driver number 0x2:
//   - command 1 (i): count LEDs (returned in the value)
//   - command 2 (i): turn LED i on
//   - command 3 (i): turn LED i off
//   - command 4 (i): toggle LED i
package led

import (
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errcode"
	hil "kestrel.dev/kestrel/pkg/hil/led"
	"kestrel.dev/kestrel/pkg/kernel"
)

// DriverNum is the LED driver number.
const DriverNum = 0x2

const (
	cmdCount  = 1
	cmdOn     = 2
	cmdOff    = 3
	cmdToggle = 4
)

// LEDs is the command-only LED driver.
type LEDs struct {
	leds []hil.LED
}

// New returns a driver over the given LEDs.
func New(leds []hil.LED) *LEDs {
	return &LEDs{leds: leds}
}

// Command implements kernel.Driver.Command.
func (l *LEDs) Command(p *kernel.Process, cmd, arg0, arg1 uint32) arch.SyscallReturn {
	if cmd == cmdCount {
		return arch.SuccessU32(uint32(len(l.leds)))
	}
	i := int(arg0)
	if i >= len(l.leds) {
		return arch.Failure(errcode.Invalid)
	}
	switch cmd {
	case cmdOn:
		l.leds[i].On()
	case cmdOff:
		l.leds[i].Off()
	case cmdToggle:
		l.leds[i].Toggle()
	default:
		return arch.Failure(errcode.NoSupport)
	}
	return arch.Success()
}
