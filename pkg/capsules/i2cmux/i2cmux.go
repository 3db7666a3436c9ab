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

// Package i2cmux virtualizes one physical I2C controller for many
// logical users.
//
// Mux arbitrates the bus. Device gives a client exclusive use of one
// address, SMBusDevice the same with SMBus transfers, and MultiDevice
// the rest of the bus with a per-operation address. At most one
// operation is on the hardware at any time; everything else waits in
// its device's slot until the mux picks it up.
package i2cmux

import (
	"github.com/sirupsen/logrus"

	"kestrel.dev/kestrel/pkg/cells"
	"kestrel.dev/kestrel/pkg/deferred"
	"kestrel.dev/kestrel/pkg/hil/i2c"
	"kestrel.dev/kestrel/pkg/ilist"
)

type opKind uint8

const (
	opIdle opKind = iota
	opWrite
	opRead
	opWriteRead

	// opComplete is a queued completion: the operation failed to start
	// and its callback is owed to the client. It is delivered from the
	// deferred-call handler, never from the downcall that failed.
	opComplete
)

type op struct {
	kind       opKind
	wlen, rlen int
	status     error
}

// Mux shares one i2c.Master between many devices. It is the bus
// controller's completion client; each Device's client sees only its
// own completions.
type Mux struct {
	bus   i2c.Master
	smbus i2c.SMBusMaster

	devices      ilist.List[*Device]
	smbusDevices ilist.List[*SMBusDevice]
	multi        cells.OptionalCell[*MultiDevice]

	powered int

	// The three in-flight slots. The bus is quiet iff all are empty;
	// doNextOp dispatches nothing otherwise.
	inflight      cells.OptionalCell[*Device]
	smbusInflight cells.OptionalCell[*SMBusDevice]
	multiInflight bool

	call *deferred.Call
	log  *logrus.Entry
}

// New returns a mux over bus. smbus may be nil if the controller has no
// SMBus support.
func New(bus i2c.Master, smbus i2c.SMBusMaster, dm *deferred.Manager, log *logrus.Entry) *Mux {
	m := &Mux{
		bus:   bus,
		smbus: smbus,
		log:   log.WithField("capsule", "i2cmux"),
	}
	m.call = dm.Register(m)
	bus.SetMasterClient(m)
	return m
}

// NewDevice returns a handle for the peripheral at addr.
func (m *Mux) NewDevice(addr uint8) *Device {
	d := &Device{mux: m, addr: addr}
	m.devices.PushBack(d)
	return d
}

// NewSMBusDevice returns an SMBus handle for the peripheral at addr.
// Must not be called on a mux constructed without SMBus support.
func (m *Mux) NewSMBusDevice(addr uint8) *SMBusDevice {
	if m.smbus == nil {
		panic("i2cmux: SMBus device on a bus without SMBus support")
	}
	d := &SMBusDevice{mux: m, addr: addr}
	m.smbusDevices.PushBack(d)
	return d
}

// NewMultiDevice returns the handle exposing the rest of the bus. Only
// one may exist per mux.
func (m *Mux) NewMultiDevice() *MultiDevice {
	if m.multi.IsSome() {
		panic("i2cmux: second MultiDevice on one bus")
	}
	d := &MultiDevice{mux: m}
	m.multi.Set(d)
	return d
}

// HandleDeferredCall implements deferred.Client.
func (m *Mux) HandleDeferredCall() {
	m.doNextOp()
}

// CommandComplete implements i2c.Client: the hardware finished the
// in-flight transfer. Exactly one slot is occupied when this fires.
func (m *Mux) CommandComplete(buf []byte, status error) {
	if d, ok := m.inflight.Take(); ok {
		d.commandComplete(buf, status)
	} else if d, ok := m.smbusInflight.Take(); ok {
		d.commandComplete(buf, status)
	} else if m.multiInflight {
		m.multiInflight = false
		m.multi.Map(func(d *MultiDevice) {
			d.commandComplete(buf, status)
		})
	} else {
		m.log.Warn("completion with no operation in flight")
	}
	m.doNextOp()
}

func (m *Mux) enable() {
	m.powered++
	if m.powered == 1 {
		if err := m.bus.Enable(); err != nil {
			m.log.WithError(err).Warn("bus enable failed")
		}
	}
}

func (m *Mux) disable() {
	m.powered--
	if m.powered == 0 {
		if err := m.bus.Disable(); err != nil {
			m.log.WithError(err).Warn("bus disable failed")
		}
	}
}

// addressFree reports whether addr is claimed by no dedicated device,
// so MultiDevice traffic to it cannot collide with a device's.
func (m *Mux) addressFree(addr uint8) bool {
	for d := m.devices.Front(); d != nil; d = d.Next() {
		if d.addr == addr {
			return false
		}
	}
	return true
}

// doNextOp starts the next queued operation. It is a no-op whenever any
// in-flight slot is occupied; completion re-invokes it. While a
// deferred call is pending, a failure callback is owed and nothing may
// dispatch until the deferred handler has delivered it.
func (m *Mux) doNextOp() {
	if m.inflight.IsSome() || m.smbusInflight.IsSome() || m.multiInflight || m.call.IsPending() {
		return
	}

	for d := m.devices.Front(); d != nil; d = d.Next() {
		if d.operation.kind == opIdle {
			continue
		}
		buf, ok := d.buffer.Take()
		if !ok {
			panic("i2cmux: queued operation without a buffer")
		}
		cur := d.operation
		d.operation = op{}
		if cur.kind == opComplete {
			// A start that failed earlier; its callback comes due now,
			// safely outside the downcall that queued it.
			d.commandComplete(buf, cur.status)
			m.doNextOp()
			return
		}
		if err := m.startI2C(d.addr, buf, cur); err != nil {
			d.buffer.Replace(buf)
			d.operation = op{kind: opComplete, status: err}
			m.doNextOpAsync()
			return
		}
		m.inflight.Set(d)
		return
	}

	if m.smbus != nil {
		for d := m.smbusDevices.Front(); d != nil; d = d.Next() {
			if d.operation.kind == opIdle {
				continue
			}
			buf, ok := d.buffer.Take()
			if !ok {
				panic("i2cmux: queued operation without a buffer")
			}
			cur := d.operation
			d.operation = op{}
			if cur.kind == opComplete {
				d.commandComplete(buf, cur.status)
				m.doNextOp()
				return
			}
			if err := m.startSMBus(d.addr, buf, cur); err != nil {
				d.buffer.Replace(buf)
				d.operation = op{kind: opComplete, status: err}
				m.doNextOpAsync()
				return
			}
			m.smbusInflight.Set(d)
			return
		}
	}

	m.multi.Map(func(d *MultiDevice) {
		if d.operation.kind == opIdle {
			return
		}
		buf, ok := d.buffer.Take()
		if !ok {
			panic("i2cmux: queued operation without a buffer")
		}
		cur := d.operation
		d.operation = op{}
		if cur.kind == opComplete {
			d.commandComplete(buf, cur.status)
			m.doNextOp()
			return
		}
		if err := m.startI2C(d.addr, buf, cur); err != nil {
			d.buffer.Replace(buf)
			d.operation = op{kind: opComplete, status: err}
			m.doNextOpAsync()
			return
		}
		m.multiInflight = true
	})
}

func (m *Mux) startI2C(addr uint8, buf []byte, cur op) error {
	switch cur.kind {
	case opWrite:
		return m.bus.Write(addr, buf, cur.wlen)
	case opRead:
		return m.bus.Read(addr, buf, cur.rlen)
	case opWriteRead:
		return m.bus.WriteRead(addr, buf, cur.wlen, cur.rlen)
	}
	panic("i2cmux: unreachable operation kind")
}

func (m *Mux) startSMBus(addr uint8, buf []byte, cur op) error {
	switch cur.kind {
	case opWrite:
		return m.smbus.SMBusWrite(addr, buf, cur.wlen)
	case opRead:
		return m.smbus.SMBusRead(addr, buf, cur.rlen)
	case opWriteRead:
		return m.smbus.SMBusWriteRead(addr, buf, cur.wlen, cur.rlen)
	}
	panic("i2cmux: unreachable operation kind")
}

// doNextOpAsync defers the next dispatch to the bottom-half service
// point. A synchronous start failure must not deliver its callback from
// inside the downcall; the callback would reenter the very state the
// caller is still mutating.
func (m *Mux) doNextOpAsync() {
	m.call.Set()
}

// Device is an exclusive handle to one bus address. It implements
// i2c.Device.
type Device struct {
	ilist.Entry[*Device]

	mux     *Mux
	addr    uint8
	enabled bool

	buffer    cells.TakeCell[[]byte]
	operation op
	client    i2c.Client
}

// SetClient implements i2c.Device.SetClient.
func (d *Device) SetClient(client i2c.Client) {
	d.client = client
}

// Enable implements i2c.Device.Enable.
func (d *Device) Enable() {
	if !d.enabled {
		d.enabled = true
		d.mux.enable()
	}
}

// Disable implements i2c.Device.Disable.
func (d *Device) Disable() {
	if d.enabled {
		d.enabled = false
		d.mux.disable()
	}
}

// Write implements i2c.Device.Write.
func (d *Device) Write(buf []byte, writeLen int) error {
	return d.queue(buf, op{kind: opWrite, wlen: writeLen})
}

// Read implements i2c.Device.Read.
func (d *Device) Read(buf []byte, readLen int) error {
	return d.queue(buf, op{kind: opRead, rlen: readLen})
}

// WriteRead implements i2c.Device.WriteRead.
func (d *Device) WriteRead(buf []byte, writeLen, readLen int) error {
	return d.queue(buf, op{kind: opWriteRead, wlen: writeLen, rlen: readLen})
}

func (d *Device) queue(buf []byte, o op) error {
	if d.operation.kind != opIdle {
		return i2c.ErrBusy
	}
	d.buffer.Replace(buf)
	d.operation = o
	d.mux.doNextOp()
	return nil
}

func (d *Device) commandComplete(buf []byte, status error) {
	if d.client != nil {
		d.client.CommandComplete(buf, status)
	}
}

// SMBusDevice is an exclusive handle to one address using SMBus
// transfers. It implements i2c.Device.
type SMBusDevice struct {
	ilist.Entry[*SMBusDevice]

	mux     *Mux
	addr    uint8
	enabled bool

	buffer    cells.TakeCell[[]byte]
	operation op
	client    i2c.Client
}

// SetClient implements i2c.Device.SetClient.
func (d *SMBusDevice) SetClient(client i2c.Client) {
	d.client = client
}

// Enable implements i2c.Device.Enable.
func (d *SMBusDevice) Enable() {
	if !d.enabled {
		d.enabled = true
		d.mux.enable()
	}
}

// Disable implements i2c.Device.Disable.
func (d *SMBusDevice) Disable() {
	if d.enabled {
		d.enabled = false
		d.mux.disable()
	}
}

// Write implements i2c.Device.Write.
func (d *SMBusDevice) Write(buf []byte, writeLen int) error {
	return d.queue(buf, op{kind: opWrite, wlen: writeLen})
}

// Read implements i2c.Device.Read.
func (d *SMBusDevice) Read(buf []byte, readLen int) error {
	return d.queue(buf, op{kind: opRead, rlen: readLen})
}

// WriteRead implements i2c.Device.WriteRead.
func (d *SMBusDevice) WriteRead(buf []byte, writeLen, readLen int) error {
	return d.queue(buf, op{kind: opWriteRead, wlen: writeLen, rlen: readLen})
}

func (d *SMBusDevice) queue(buf []byte, o op) error {
	if d.operation.kind != opIdle {
		return i2c.ErrBusy
	}
	d.buffer.Replace(buf)
	d.operation = o
	d.mux.doNextOp()
	return nil
}

func (d *SMBusDevice) commandComplete(buf []byte, status error) {
	if d.client != nil {
		d.client.CommandComplete(buf, status)
	}
}

// MultiDevice exposes every address not claimed by a dedicated Device,
// for users that address the bus directly.
type MultiDevice struct {
	mux     *Mux
	addr    uint8
	enabled bool

	buffer    cells.TakeCell[[]byte]
	operation op
	client    i2c.Client
}

// SetClient installs the completion sink.
func (d *MultiDevice) SetClient(client i2c.Client) {
	d.client = client
}

// Enable marks the handle in use, powering the bus up if needed.
func (d *MultiDevice) Enable() {
	if !d.enabled {
		d.enabled = true
		d.mux.enable()
	}
}

// Disable releases the handle's claim on the bus.
func (d *MultiDevice) Disable() {
	if d.enabled {
		d.enabled = false
		d.mux.disable()
	}
}

// WriteTo sends buf[0:writeLen] to addr.
func (d *MultiDevice) WriteTo(addr uint8, buf []byte, writeLen int) error {
	return d.queue(addr, buf, op{kind: opWrite, wlen: writeLen})
}

// ReadFrom fills buf[0:readLen] from addr.
func (d *MultiDevice) ReadFrom(addr uint8, buf []byte, readLen int) error {
	return d.queue(addr, buf, op{kind: opRead, rlen: readLen})
}

// WriteReadTo runs a write-then-read against addr.
func (d *MultiDevice) WriteReadTo(addr uint8, buf []byte, writeLen, readLen int) error {
	return d.queue(addr, buf, op{kind: opWriteRead, wlen: writeLen, rlen: readLen})
}

func (d *MultiDevice) queue(addr uint8, buf []byte, o op) error {
	if !d.mux.addressFree(addr) {
		return i2c.ErrNotSupported
	}
	if d.operation.kind != opIdle {
		return i2c.ErrBusy
	}
	d.addr = addr
	d.buffer.Replace(buf)
	d.operation = o
	d.mux.doNextOp()
	return nil
}

func (d *MultiDevice) commandComplete(buf []byte, status error) {
	if d.client != nil {
		d.client.CommandComplete(buf, status)
	}
}
