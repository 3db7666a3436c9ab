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

package sim

import (
	"io"

	"github.com/sirupsen/logrus"

	"kestrel.dev/kestrel/pkg/hil/uart"
	"kestrel.dev/kestrel/pkg/platform/emu"
)

// UART is a simulated serial transmitter. It implements
// uart.Transmitter and emu.Device. Each byte takes charLatency ticks;
// when the whole buffer has drained, it is written to out and the
// transmit-complete interrupt fires.
type UART struct {
	m           *emu.Machine
	irq         uint32
	charLatency int
	out         io.Writer

	client    uart.TransmitClient
	buf       []byte
	txLen     int
	remaining int

	log *logrus.Entry
}

// NewUART attaches a simulated transmitter to the machine, draining
// transmitted bytes into out.
func NewUART(m *emu.Machine, irq uint32, charLatency int, out io.Writer, log *logrus.Entry) *UART {
	if charLatency < 1 {
		charLatency = 1
	}
	u := &UART{
		m:           m,
		irq:         irq,
		charLatency: charLatency,
		out:         out,
		log:         log.WithField("chip", "uart"),
	}
	m.RegisterIRQ(irq, u.serviceInterrupt)
	m.AddDevice(u)
	return u
}

// SetTransmitClient implements uart.Transmitter.SetTransmitClient.
func (u *UART) SetTransmitClient(client uart.TransmitClient) {
	u.client = client
}

// TransmitBuffer implements uart.Transmitter.TransmitBuffer. A request
// with no bytes to send still completes split-phase: the interrupt is
// raised at once rather than after a zero-tick drain that would never
// fire.
func (u *UART) TransmitBuffer(buf []byte, txLen int) error {
	if u.buf != nil {
		return uart.ErrBusy
	}
	if txLen < 0 {
		txLen = 0
	}
	if txLen > len(buf) {
		txLen = len(buf)
	}
	u.buf = buf
	u.txLen = txLen
	u.remaining = txLen * u.charLatency
	if u.remaining == 0 {
		u.m.Raise(u.irq)
	}
	return nil
}

// Tick implements emu.Device.Tick.
func (u *UART) Tick() {
	if u.buf == nil || u.remaining == 0 {
		return
	}
	u.remaining--
	if u.remaining > 0 {
		return
	}
	u.m.Raise(u.irq)
}

// Busy implements emu.Device.Busy.
func (u *UART) Busy() bool {
	return u.buf != nil && u.remaining > 0
}

func (u *UART) serviceInterrupt() {
	buf, n := u.buf, u.txLen
	u.buf = nil
	var status error
	if u.out != nil {
		if _, err := u.out.Write(buf[:n]); err != nil {
			u.log.WithError(err).Warn("uart sink write failed")
			status = err
		}
	}
	if u.client != nil {
		u.client.TransmittedBuffer(buf, n, status)
	}
}
