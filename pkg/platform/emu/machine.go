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

// Package emu provides an emulated single-hart machine: flat memory, an
// interrupt controller, machine-mode CSRs and a small RV32-flavored
// interpreter. It exists so the kernel's trap and context-switch
// contracts execute for real instead of being stubbed: the mscratch
// sentinel protocol, full register save on trap-from-process, and the
// mandatory masking of a firing interrupt source are all enforced here.
package emu

import (
	"fmt"
	"math/bits"

	"github.com/sirupsen/logrus"
)

// NumIRQs is the number of interrupt lines the controller provides.
const NumIRQs = 32

// kernelStackPointer is the value the kernel parks in mscratch just
// before switching into a process. Any non-zero value means "a process is
// running"; zero means the kernel itself holds the CPU. The trap entry
// path keys off this and nothing else.
const kernelStackPointer uint32 = 0x2000_0000

// Device is a peripheral attached to the machine. Devices advance with
// machine time (one tick per executed instruction, and per idle cycle in
// WaitForInterrupt) and raise interrupts when operations complete.
type Device interface {
	// Tick advances the device by one cycle.
	Tick()

	// Busy returns true while the device has an operation in progress
	// that will eventually raise an interrupt.
	Busy() bool
}

// Machine is the emulated hardware: memory, interrupt controller and the
// single hart. It implements platform.Machine.
type Machine struct {
	mem []byte

	// Interrupt controller state. A line's pending bit is set by its
	// device regardless of enable state; the enable bit only gates
	// whether the line traps a running process.
	pending  uint32
	enabled  uint32
	handlers [NumIRQs]func()

	devices []Device

	// mscratch is the sentinel CSR of the trap protocol.
	mscratch uint32

	log *logrus.Entry
}

// NewMachine returns a machine with memSize bytes of memory and no
// devices.
func NewMachine(memSize uint32, log *logrus.Entry) *Machine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Machine{
		mem: make([]byte, memSize),
		log: log.WithField("component", "machine"),
	}
}

// Mem implements platform.Machine.Mem.
func (m *Machine) Mem() []byte {
	return m.mem
}

// Scratch exposes the sentinel CSR. Zero means the kernel holds the CPU;
// non-zero means a process is executing.
func (m *Machine) Scratch() uint32 {
	return m.mscratch
}

// AddDevice attaches a peripheral to the machine clock.
func (m *Machine) AddDevice(d Device) {
	m.devices = append(m.devices, d)
}

// RegisterIRQ installs the kernel-mode bottom-half handler for an
// interrupt line and enables the line.
func (m *Machine) RegisterIRQ(irq uint32, handler func()) {
	if irq >= NumIRQs {
		panic(fmt.Sprintf("emu: irq %d out of range", irq))
	}
	if m.handlers[irq] != nil {
		panic(fmt.Sprintf("emu: irq %d already registered", irq))
	}
	m.handlers[irq] = handler
	m.enabled |= 1 << irq
}

// Raise marks an interrupt line pending. Devices call this from Tick.
func (m *Machine) Raise(irq uint32) {
	if irq >= NumIRQs {
		panic(fmt.Sprintf("emu: irq %d out of range", irq))
	}
	m.pending |= 1 << irq
}

// HasPendingInterrupts implements platform.Machine.HasPendingInterrupts.
func (m *Machine) HasPendingInterrupts() bool {
	return m.pending != 0
}

// ServiceNextInterrupt implements platform.Machine.ServiceNextInterrupt.
// This is the trap-from-kernel bottom half: it must only run while no
// process holds the CPU.
func (m *Machine) ServiceNextInterrupt() bool {
	if m.mscratch != 0 {
		panic("emu: interrupt service entered while a process is running")
	}
	if m.pending == 0 {
		return false
	}
	irq := uint32(bits.TrailingZeros32(m.pending))
	m.pending &^= 1 << irq
	if h := m.handlers[irq]; h != nil {
		h()
	} else {
		// A source nobody registered for cannot be acknowledged. An
		// unclassifiable trap is fatal, not ignorable.
		panic(fmt.Sprintf("emu: interrupt %d has no registered handler", irq))
	}
	// Re-enable the source now that its bottom half has run; the trap
	// path masked it to stop it refiring.
	m.enabled |= 1 << irq
	return true
}

// WaitForInterrupt implements platform.Machine.WaitForInterrupt.
func (m *Machine) WaitForInterrupt() bool {
	for m.pending == 0 {
		busy := false
		for _, d := range m.devices {
			if d.Busy() {
				busy = true
			}
		}
		if !busy {
			return false
		}
		m.tick()
	}
	return true
}

// tick advances machine time by one cycle.
func (m *Machine) tick() {
	for _, d := range m.devices {
		d.Tick()
	}
}

// firingIRQ returns the lowest pending-and-enabled line, or false. Only
// enabled lines trap a running process; masked ones stay pending for
// kernel-mode service.
func (m *Machine) firingIRQ() (uint32, bool) {
	firing := m.pending & m.enabled
	if firing == 0 {
		return 0, false
	}
	return uint32(bits.TrailingZeros32(firing)), true
}

// Word accessors for the flat memory.

func (m *Machine) loadWord(addr uint32) uint32 {
	b := m.mem[addr:]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (m *Machine) storeWord(addr, v uint32) {
	b := m.mem[addr:]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
