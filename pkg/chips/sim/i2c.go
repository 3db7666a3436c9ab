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

// Package sim provides simulated peripherals for the emulated machine.
// Each chip models transfer latency in machine ticks and signals
// completion through the interrupt controller, so drivers above see the
// same split-phase behavior real hardware exhibits.
package sim

import (
	"github.com/sirupsen/logrus"

	"kestrel.dev/kestrel/pkg/hil/i2c"
	"kestrel.dev/kestrel/pkg/platform/emu"
)

// Target models one peripheral on the simulated I2C bus.
type Target interface {
	// WriteBytes receives data from the controller.
	WriteBytes(data []byte)

	// ReadBytes fills buf with the peripheral's response.
	ReadBytes(buf []byte)
}

type i2cOp int

const (
	i2cIdle i2cOp = iota
	i2cWrite
	i2cRead
	i2cWriteRead
)

// I2C is a simulated bus controller in master role. It implements
// i2c.Master and emu.Device. One transfer takes a fixed number of
// machine ticks; completion raises the controller's interrupt line and
// the client callback runs from the kernel-mode bottom half.
type I2C struct {
	m       *emu.Machine
	irq     uint32
	latency int

	targets map[uint8]Target
	client  i2c.Client
	powered int

	op         i2cOp
	addr       uint8
	buf        []byte
	wlen, rlen int
	remaining  int
	status     error

	log *logrus.Entry
}

// NewI2C attaches a simulated controller to the machine. Transfers
// complete after latency ticks by raising irq.
func NewI2C(m *emu.Machine, irq uint32, latency int, log *logrus.Entry) *I2C {
	if latency < 1 {
		latency = 1
	}
	c := &I2C{
		m:       m,
		irq:     irq,
		latency: latency,
		targets: make(map[uint8]Target),
		log:     log.WithField("chip", "i2c"),
	}
	m.RegisterIRQ(irq, c.serviceInterrupt)
	m.AddDevice(c)
	return c
}

// AddTarget places a peripheral at addr on the bus.
func (c *I2C) AddTarget(addr uint8, t Target) {
	c.targets[addr] = t
}

// SetMasterClient implements i2c.Master.SetMasterClient.
func (c *I2C) SetMasterClient(client i2c.Client) {
	c.client = client
}

// Enable implements i2c.Master.Enable.
func (c *I2C) Enable() error {
	c.powered++
	return nil
}

// Disable implements i2c.Master.Disable.
func (c *I2C) Disable() error {
	if c.powered == 0 {
		return i2c.ErrNotSupported
	}
	c.powered--
	return nil
}

// Write implements i2c.Master.Write.
func (c *I2C) Write(addr uint8, buf []byte, writeLen int) error {
	return c.start(i2cWrite, addr, buf, writeLen, 0)
}

// Read implements i2c.Master.Read.
func (c *I2C) Read(addr uint8, buf []byte, readLen int) error {
	return c.start(i2cRead, addr, buf, 0, readLen)
}

// WriteRead implements i2c.Master.WriteRead.
func (c *I2C) WriteRead(addr uint8, buf []byte, writeLen, readLen int) error {
	return c.start(i2cWriteRead, addr, buf, writeLen, readLen)
}

// SMBusWrite implements i2c.SMBusMaster.SMBusWrite. The simulation does
// not model SMBus timing separately.
func (c *I2C) SMBusWrite(addr uint8, buf []byte, writeLen int) error {
	return c.start(i2cWrite, addr, buf, writeLen, 0)
}

// SMBusRead implements i2c.SMBusMaster.SMBusRead.
func (c *I2C) SMBusRead(addr uint8, buf []byte, readLen int) error {
	return c.start(i2cRead, addr, buf, 0, readLen)
}

// SMBusWriteRead implements i2c.SMBusMaster.SMBusWriteRead.
func (c *I2C) SMBusWriteRead(addr uint8, buf []byte, writeLen, readLen int) error {
	return c.start(i2cWriteRead, addr, buf, writeLen, readLen)
}

func (c *I2C) start(op i2cOp, addr uint8, buf []byte, wlen, rlen int) error {
	if c.powered == 0 {
		return i2c.ErrNotSupported
	}
	if c.op != i2cIdle {
		return i2c.ErrBusy
	}
	if wlen > len(buf) || rlen > len(buf) {
		return i2c.ErrNotSupported
	}
	c.op = op
	c.addr = addr
	c.buf = buf
	c.wlen = wlen
	c.rlen = rlen
	c.remaining = c.latency
	c.status = nil
	return nil
}

// Tick implements emu.Device.Tick.
func (c *I2C) Tick() {
	if c.op == i2cIdle || c.remaining == 0 {
		return
	}
	c.remaining--
	if c.remaining > 0 {
		return
	}
	c.transfer()
	c.m.Raise(c.irq)
}

// Busy implements emu.Device.Busy.
func (c *I2C) Busy() bool {
	return c.op != i2cIdle && c.remaining > 0
}

// transfer moves the bytes at completion time, so writes that race with
// machine progress observe the device's latest state.
func (c *I2C) transfer() {
	t, ok := c.targets[c.addr]
	if !ok {
		c.status = i2c.ErrAddressNak
		return
	}
	switch c.op {
	case i2cWrite:
		t.WriteBytes(c.buf[:c.wlen])
	case i2cRead:
		t.ReadBytes(c.buf[:c.rlen])
	case i2cWriteRead:
		t.WriteBytes(c.buf[:c.wlen])
		t.ReadBytes(c.buf[:c.rlen])
	}
}

// serviceInterrupt is the kernel-mode bottom half. The controller goes
// idle before the callback runs, so the client may start the next
// transfer from inside it.
func (c *I2C) serviceInterrupt() {
	buf, status := c.buf, c.status
	c.op = i2cIdle
	c.buf = nil
	c.status = nil
	if status != nil {
		c.log.WithFields(logrus.Fields{
			"addr": c.addr,
			"err":  status,
		}).Debug("i2c transfer failed")
	}
	if c.client != nil {
		c.client.CommandComplete(buf, status)
	}
}

// RegisterFile is a register-addressed Target, the shape of a typical
// sensor: a write selects a register (first byte) and stores any
// following bytes from there; a read returns consecutive registers
// starting at the selected one.
type RegisterFile struct {
	regs []byte
	ptr  uint8
}

// NewRegisterFile returns a target with n zeroed registers.
func NewRegisterFile(n int) *RegisterFile {
	return &RegisterFile{regs: make([]byte, n)}
}

// Set stores a value directly, for wiring up initial device state.
func (r *RegisterFile) Set(reg uint8, v byte) {
	r.regs[reg] = v
}

// WriteBytes implements Target.WriteBytes.
func (r *RegisterFile) WriteBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	r.ptr = data[0]
	for i, b := range data[1:] {
		if idx := int(r.ptr) + i; idx < len(r.regs) {
			r.regs[idx] = b
		}
	}
}

// ReadBytes implements Target.ReadBytes.
func (r *RegisterFile) ReadBytes(buf []byte) {
	for i := range buf {
		if idx := int(r.ptr) + i; idx < len(r.regs) {
			buf[i] = r.regs[idx]
		} else {
			buf[i] = 0xFF
		}
	}
}
