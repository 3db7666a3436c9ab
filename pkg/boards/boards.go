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

// Package boards assembles complete machines: the emulated hardware, the
// virtualization layer over it, the userspace-facing capsules and the
// processes, all according to a TOML board definition.
package boards

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"kestrel.dev/kestrel/pkg/buddy"
	"kestrel.dev/kestrel/pkg/capsules/console"
	"kestrel.dev/kestrel/pkg/capsules/i2cmaster"
	"kestrel.dev/kestrel/pkg/capsules/i2cmux"
	ledcap "kestrel.dev/kestrel/pkg/capsules/led"
	"kestrel.dev/kestrel/pkg/chips/sim"
	"kestrel.dev/kestrel/pkg/deferred"
	hilled "kestrel.dev/kestrel/pkg/hil/led"
	"kestrel.dev/kestrel/pkg/kernel"
	"kestrel.dev/kestrel/pkg/platform/emu"
)

// IRQ assignments for the simulated chips.
const (
	uartIRQ = 1
	i2cIRQ  = 2
)

// Process flash images are laid out from flashBase at flashStride
// intervals. Flash addresses must stay inside machine memory so that
// read-only allows from flash resolve, and below the arena.
const (
	flashBase   = 0x8000
	flashStride = 0x1000
)

// consoleBufSize and i2cBufSize bound a single console write and a
// single I2C transfer.
const (
	consoleBufSize = 64
	i2cBufSize     = 32
)

// Board is a fully wired machine ready to run.
type Board struct {
	Config Config

	Machine  *emu.Machine
	Deferred *deferred.Manager
	Kernel   *kernel.Kernel

	UART   *sim.UART
	I2C    *sim.I2C
	LEDs   *sim.LEDBank
	Sensor *sim.RegisterFile

	Mux *i2cmux.Mux
}

// New builds a board from cfg. Console output goes to out.
func New(cfg Config, out io.Writer, log *logrus.Entry) (*Board, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if n := uint32(len(cfg.Processes)); flashBase+n*flashStride > cfg.Memory.ArenaStart {
		return nil, fmt.Errorf("boards: %d process images overrun the arena at %#x",
			n, cfg.Memory.ArenaStart)
	}

	m := emu.NewMachine(cfg.Memory.Size, log)
	dm := &deferred.Manager{}
	k := kernel.New(m, dm, log)

	b := &Board{
		Config:   cfg,
		Machine:  m,
		Deferred: dm,
		Kernel:   k,
	}

	b.UART = sim.NewUART(m, uartIRQ, cfg.UARTCharLatency, out, log)
	b.I2C = sim.NewI2C(m, i2cIRQ, cfg.I2CLatency, log)
	b.Sensor = sim.NewRegisterFile(8)
	b.I2C.AddTarget(SensorAddr, b.Sensor)
	b.LEDs = sim.NewLEDBank(cfg.NumLEDs)

	b.Mux = i2cmux.New(b.I2C, b.I2C, dm, log)

	k.RegisterDriver(console.DriverNum, console.New(b.UART, consoleBufSize, log))
	k.RegisterDriver(i2cmaster.DriverNum,
		i2cmaster.New(b.Mux.NewMultiDevice(), i2cBufSize, log))

	leds := make([]hilled.LED, b.LEDs.Len())
	for i := range leds {
		leds[i] = b.LEDs.LED(i)
	}
	k.RegisterDriver(ledcap.DriverNum, ledcap.New(leds))

	arena := buddy.New(m.Mem(), cfg.Memory.ArenaStart, cfg.Memory.ArenaSize,
		cfg.Memory.SmallestBlock)

	for i, pc := range cfg.Processes {
		base := uint32(flashBase + i*flashStride)
		prog := programs[pc.Program](base)
		if sz := uint32(len(prog)) * 4; sz > flashStride {
			return nil, fmt.Errorf("boards: program %q is %d bytes, flash slots are %d",
				pc.Program, sz, flashStride)
		}
		ram, ok := arena.Alloc(pc.RAM)
		if !ok {
			return nil, fmt.Errorf("boards: arena exhausted allocating %#x bytes for %q",
				pc.RAM, pc.Name)
		}
		ctx := m.NewContext(prog, base)
		if _, err := k.AddProcess(kernel.ProcessConfig{
			Name:       pc.Name,
			Context:    ctx,
			FlashStart: ctx.FlashBase(),
			FlashEnd:   ctx.FlashEnd(),
			MemStart:   ram,
			MemSize:    pc.RAM,
			Policy:     cfg.policy(),
		}); err != nil {
			return nil, fmt.Errorf("boards: loading %q: %w", pc.Name, err)
		}
	}

	return b, nil
}

func (c Config) policy() kernel.FaultPolicy {
	switch c.FaultPolicy {
	case "stop":
		return kernel.StopPolicy{}
	case "restart":
		return kernel.NewRestartPolicy(c.MaxRestarts)
	default:
		return kernel.PanicPolicy{}
	}
}

// Run starts the kernel loop.
func (b *Board) Run() {
	b.Kernel.Run()
}
