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

// Package i2cmaster lets processes run raw I2C transactions through the
// bus mux.
//
// Userspace ABI, driver number 0x20003:
//   - read-write allow 1: transaction data
//   - subscribe 0:        transaction-done upcall (arg0 = status, 0 ok)
//   - command 1 (addr, wlen):            write
//   - command 2 (addr, rlen):            read
//   - command 3 (addr, wlen<<16 | rlen): write then read
package i2cmaster

import (
	"github.com/sirupsen/logrus"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/capsules/i2cmux"
	"kestrel.dev/kestrel/pkg/cells"
	"kestrel.dev/kestrel/pkg/errcode"
	"kestrel.dev/kestrel/pkg/hil/i2c"
	"kestrel.dev/kestrel/pkg/kernel"
)

// DriverNum is the I2C master driver number.
const DriverNum = 0x20003

const (
	allowBuffer   = 1
	subscribeDone = 0

	cmdWrite     = 1
	cmdRead      = 2
	cmdWriteRead = 3
)

// Master is the userspace-facing I2C driver. It owns a kernel-side
// bounce buffer; process data never goes to the bus directly.
type Master struct {
	dev *i2cmux.MultiDevice
	buf cells.TakeCell[[]byte]

	busyWith *kernel.Process
	rlen     int
	log      *logrus.Entry
}

// New returns a driver over dev with a bounce buffer of bufSize bytes.
func New(dev *i2cmux.MultiDevice, bufSize int, log *logrus.Entry) *Master {
	m := &Master{
		dev: dev,
		buf: cells.NewTakeCell(make([]byte, bufSize)),
		log: log.WithField("capsule", "i2cmaster"),
	}
	dev.SetClient(m)
	dev.Enable()
	return m
}

// Command implements kernel.Driver.Command.
func (m *Master) Command(p *kernel.Process, cmd, arg0, arg1 uint32) arch.SyscallReturn {
	addr := uint8(arg0)
	switch cmd {
	case cmdWrite:
		return m.start(p, addr, int(arg1), 0)
	case cmdRead:
		return m.start(p, addr, 0, int(arg1))
	case cmdWriteRead:
		return m.start(p, addr, int(arg1>>16), int(arg1&0xFFFF))
	default:
		return arch.Failure(errcode.NoSupport)
	}
}

func (m *Master) start(p *kernel.Process, addr uint8, wlen, rlen int) arch.SyscallReturn {
	shared, ok := p.AllowedReadWrite(DriverNum, allowBuffer)
	if !ok {
		return arch.Failure(errcode.Reserve)
	}
	if wlen > len(shared) || rlen > len(shared) {
		return arch.Failure(errcode.Size)
	}
	buf, ok := m.buf.Take()
	if !ok {
		return arch.Failure(errcode.Busy)
	}
	if wlen > len(buf) || rlen > len(buf) {
		m.buf.Replace(buf)
		return arch.Failure(errcode.Size)
	}
	copy(buf[:wlen], shared[:wlen])

	var err error
	switch {
	case rlen == 0:
		err = m.dev.WriteTo(addr, buf, wlen)
	case wlen == 0:
		err = m.dev.ReadFrom(addr, buf, rlen)
	default:
		err = m.dev.WriteReadTo(addr, buf, wlen, rlen)
	}
	if err != nil {
		m.buf.Replace(buf)
		return arch.Failure(i2c.ToErrorCode(err))
	}
	m.busyWith = p
	m.rlen = rlen
	return arch.Success()
}

// CommandComplete implements i2c.Client.CommandComplete.
func (m *Master) CommandComplete(buf []byte, status error) {
	p := m.busyWith
	rlen := m.rlen
	m.busyWith = nil
	m.buf.Replace(buf)
	if p == nil {
		m.log.Warn("completion with no requester")
		return
	}
	if status == nil && rlen > 0 {
		if shared, ok := p.AllowedReadWrite(DriverNum, allowBuffer); ok && rlen <= len(shared) {
			copy(shared[:rlen], buf[:rlen])
		}
	}
	p.ScheduleUpcall(kernel.UpcallID{Driver: DriverNum, Subscribe: subscribeDone},
		uint32(i2c.ToErrorCode(status)), uint32(rlen), 0)
}
