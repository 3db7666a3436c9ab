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

package boards

import (
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/capsules/console"
	"kestrel.dev/kestrel/pkg/capsules/i2cmaster"
	ledcap "kestrel.dev/kestrel/pkg/capsules/led"
	"kestrel.dev/kestrel/pkg/platform/emu"
)

// SensorAddr is the bus address of the board's simulated sensor.
const SensorAddr = 0x48

// programs maps program names to assemblers. Each assembler is handed
// the flash base its image will be loaded at, since branch and upcall
// targets are absolute addresses.
var programs = map[string]func(flashBase uint32) emu.Program{
	"hello":  helloProgram,
	"blink":  blinkProgram,
	"sensor": sensorProgram,
}

// ProgramNames lists the built-in programs.
func ProgramNames() []string {
	return []string{"blink", "hello", "sensor"}
}

// Every image starts with a two-instruction prologue: a jump over the
// shared upcall trampoline at flashBase+4, which simply returns to the
// interrupted code.
func prologue(flashBase uint32) emu.Program {
	return emu.Program{
		emu.Jal(emu.X0, flashBase+8),
		emu.Jalr(emu.RA, 0),
	}
}

func upcallAddr(flashBase uint32) uint32 { return flashBase + 4 }

// syscall4 assembles a four-argument call: a0..a3 hold the arguments,
// a4 the class.
func syscall4(class arch.SyscallClass, a0, a1, a2, a3 uint32) []emu.Instr {
	return []emu.Instr{
		emu.LI(emu.A0, a0),
		emu.LI(emu.A1, a1),
		emu.LI(emu.A2, a2),
		emu.LI(emu.A3, a3),
		emu.LI(emu.A4, uint32(class)),
		emu.ECall(),
	}
}

// ramStartToT0 asks the kernel for the RAM block base and parks it in
// t0, which syscalls and upcalls leave alone.
func ramStartToT0() []emu.Instr {
	return []emu.Instr{
		emu.LI(emu.A0, memopRAMStart),
		emu.LI(emu.A4, uint32(arch.SyscallMemop)),
		emu.ECall(),
		emu.Add(emu.T0, emu.A1, emu.X0),
	}
}

const memopRAMStart = 4

// helloProgram prints "hello\n" once. It stores the string into its RAM
// block, shares it read-only with the console, subscribes to the
// write-done upcall, starts the write and yields until it lands.
func helloProgram(flashBase uint32) emu.Program {
	p := prologue(flashBase)
	p = append(p, ramStartToT0()...)
	p = append(p,
		// "hell" then "o\n", little endian.
		emu.LI(emu.T1, 0x6c6c6568),
		emu.SW(emu.T1, emu.T0, 0),
		emu.LI(emu.T1, 0x00000a6f),
		emu.SW(emu.T1, emu.T0, 4),
	)
	// The buffer address is only known at run time, so a2 comes from t0
	// rather than an immediate.
	p = append(p,
		emu.LI(emu.A0, console.DriverNum),
		emu.LI(emu.A1, 1),
		emu.Add(emu.A2, emu.T0, emu.X0),
		emu.LI(emu.A3, 6),
		emu.LI(emu.A4, uint32(arch.SyscallReadOnlyAllow)),
		emu.ECall(),
	)
	p = append(p, syscall4(arch.SyscallSubscribe,
		console.DriverNum, 1, upcallAddr(flashBase), 0)...)
	p = append(p, syscall4(arch.SyscallCommand,
		console.DriverNum, 1, 6, 0)...)
	p = append(p,
		emu.LI(emu.A0, arch.YieldWait),
		emu.LI(emu.A4, uint32(arch.SyscallYield)),
		emu.ECall(),
	)
	p = append(p,
		emu.LI(emu.A0, arch.ExitTerminate),
		emu.LI(emu.A1, 0),
		emu.LI(emu.A4, uint32(arch.SyscallExit)),
		emu.ECall(),
	)
	return p
}

// blinkToggles is how many times the blink program flips LED 0 before
// exiting. Odd, so the LED ends up lit.
const blinkToggles = 5

// blinkProgram toggles LED 0 blinkToggles times, then lights LED 1 as
// a done marker and exits.
func blinkProgram(flashBase uint32) emu.Program {
	p := prologue(flashBase)
	p = append(p,
		emu.LI(emu.T0, 0),
		emu.LI(emu.T1, blinkToggles),
	)
	loop := flashBase + uint32(len(p))*4
	p = append(p, syscall4(arch.SyscallCommand,
		ledcap.DriverNum, 4, 0, 0)...)
	p = append(p,
		emu.AddI(emu.T0, emu.T0, 1),
		emu.Bne(emu.T0, emu.T1, loop),
	)
	p = append(p, syscall4(arch.SyscallCommand,
		ledcap.DriverNum, 2, 1, 0)...)
	p = append(p,
		emu.LI(emu.A0, arch.ExitTerminate),
		emu.LI(emu.A1, 0),
		emu.LI(emu.A4, uint32(arch.SyscallExit)),
		emu.ECall(),
	)
	return p
}

// sensorProgram reads two bytes from the sensor at SensorAddr with a
// register-pointer write-read, then exits with the little-endian
// reading as its completion code.
func sensorProgram(flashBase uint32) emu.Program {
	p := prologue(flashBase)
	p = append(p, ramStartToT0()...)
	p = append(p,
		// Register pointer 0 in the first shared byte.
		emu.LI(emu.T1, 0),
		emu.SW(emu.T1, emu.T0, 0),
	)
	p = append(p,
		emu.LI(emu.A0, i2cmaster.DriverNum),
		emu.LI(emu.A1, 1),
		emu.Add(emu.A2, emu.T0, emu.X0),
		emu.LI(emu.A3, 4),
		emu.LI(emu.A4, uint32(arch.SyscallReadWriteAllow)),
		emu.ECall(),
	)
	p = append(p, syscall4(arch.SyscallSubscribe,
		i2cmaster.DriverNum, 0, upcallAddr(flashBase), 0)...)
	p = append(p, syscall4(arch.SyscallCommand,
		i2cmaster.DriverNum, 3, SensorAddr, 1<<16|2)...)
	p = append(p,
		emu.LI(emu.A0, arch.YieldWait),
		emu.LI(emu.A4, uint32(arch.SyscallYield)),
		emu.ECall(),
	)
	p = append(p,
		emu.LW(emu.A1, emu.T0, 0),
		emu.LI(emu.A0, arch.ExitTerminate),
		emu.LI(emu.A4, uint32(arch.SyscallExit)),
		emu.ECall(),
	)
	return p
}
