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

// Package console gives processes a serial output channel.
//
// Userspace ABI, driver number 0x1:
//   - read-only allow 1: the bytes to print
//   - subscribe 1:       write-done upcall (arg0 = bytes written)
//   - command 1 (len):   print the first len bytes of the allowed buffer
package console

import (
	"github.com/sirupsen/logrus"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/cells"
	"kestrel.dev/kestrel/pkg/errcode"
	"kestrel.dev/kestrel/pkg/hil/uart"
	"kestrel.dev/kestrel/pkg/kernel"
)

// DriverNum is the console's driver number.
const DriverNum = 0x1

const (
	allowWrite     = 1
	subscribeWrite = 1
	cmdWrite       = 1
)

// Console drives one transmitter on behalf of processes. One write is
// in flight at a time; a second writer sees Busy.
type Console struct {
	tx  uart.Transmitter
	buf cells.TakeCell[[]byte]

	busyWith *kernel.Process
	log      *logrus.Entry
}

// New returns a console over tx, with an internal buffer of bufSize
// bytes bounding a single write.
func New(tx uart.Transmitter, bufSize int, log *logrus.Entry) *Console {
	c := &Console{
		tx:  tx,
		buf: cells.NewTakeCell(make([]byte, bufSize)),
		log: log.WithField("capsule", "console"),
	}
	tx.SetTransmitClient(c)
	return c
}

// Command implements kernel.Driver.Command.
func (c *Console) Command(p *kernel.Process, cmd, arg0, arg1 uint32) arch.SyscallReturn {
	switch cmd {
	case cmdWrite:
		return c.write(p, int(arg0))
	default:
		return arch.Failure(errcode.NoSupport)
	}
}

func (c *Console) write(p *kernel.Process, n int) arch.SyscallReturn {
	src, ok := p.AllowedReadOnly(DriverNum, allowWrite)
	if !ok {
		return arch.Failure(errcode.Reserve)
	}
	if n > len(src) {
		return arch.Failure(errcode.Size)
	}
	buf, ok := c.buf.Take()
	if !ok {
		return arch.Failure(errcode.Busy)
	}
	if n > len(buf) {
		n = len(buf)
	}
	copy(buf[:n], src[:n])
	if err := c.tx.TransmitBuffer(buf, n); err != nil {
		c.buf.Replace(buf)
		return arch.Failure(errcode.Busy)
	}
	c.busyWith = p
	return arch.SuccessU32(uint32(n))
}

// TransmittedBuffer implements uart.TransmitClient.TransmittedBuffer.
func (c *Console) TransmittedBuffer(buf []byte, sent int, status error) {
	c.buf.Replace(buf)
	p := c.busyWith
	c.busyWith = nil
	if p == nil {
		c.log.Warn("transmit completion with no writer")
		return
	}
	code := uint32(0)
	if status != nil {
		code = uint32(errcode.Fail)
	}
	p.ScheduleUpcall(kernel.UpcallID{Driver: DriverNum, Subscribe: subscribeWrite},
		code, uint32(sent), 0)
}
