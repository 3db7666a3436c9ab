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

// Package uart defines the hardware interface for serial transmitters.
package uart

import "errors"

// ErrBusy means a transmit is already in progress.
var ErrBusy = errors.New("uart: transmitter busy")

// TransmitClient receives transmit completions.
type TransmitClient interface {
	// TransmittedBuffer returns the buffer of a finished transmit.
	// sent is the number of bytes that went out on the wire.
	TransmittedBuffer(buf []byte, sent int, status error)
}

// Transmitter is a serial output channel. Transmission is split-phase:
// a successful TransmitBuffer call starts the transfer, and the buffer
// belongs to the transmitter until TransmittedBuffer fires.
type Transmitter interface {
	SetTransmitClient(TransmitClient)

	// TransmitBuffer sends buf[0:txLen].
	TransmitBuffer(buf []byte, txLen int) error
}
