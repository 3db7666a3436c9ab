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

// Package i2c defines the hardware interface for I2C bus controllers.
//
// Operations are split-phase: a successful call starts the transfer and
// returns immediately; completion is delivered to the Client from the
// controller's interrupt handler. Until CommandComplete fires, the
// buffer belongs to the controller and the caller must not touch it.
package i2c

import (
	"errors"

	"kestrel.dev/kestrel/pkg/errcode"
)

// Bus errors. A failed start returns one of these synchronously and the
// caller keeps the buffer; an asynchronous failure delivers one through
// CommandComplete.
var (
	// ErrAddressNak means no device acknowledged the address byte.
	ErrAddressNak = errors.New("i2c: address not acknowledged")

	// ErrDataNak means a device stopped acknowledging mid-transfer.
	ErrDataNak = errors.New("i2c: data not acknowledged")

	// ErrArbitrationLost means another master won the bus.
	ErrArbitrationLost = errors.New("i2c: arbitration lost")

	// ErrOverrun means the controller could not keep up with the bus.
	ErrOverrun = errors.New("i2c: overrun")

	// ErrBusy means a transfer is already in progress.
	ErrBusy = errors.New("i2c: controller busy")

	// ErrNotSupported means the controller cannot perform the request.
	ErrNotSupported = errors.New("i2c: not supported")
)

// ToErrorCode maps a bus error to the code reported to userspace.
func ToErrorCode(err error) errcode.Code {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrAddressNak), errors.Is(err, ErrDataNak):
		return errcode.NoAck
	case errors.Is(err, ErrArbitrationLost), errors.Is(err, ErrBusy):
		return errcode.Busy
	case errors.Is(err, ErrNotSupported):
		return errcode.NoSupport
	default:
		return errcode.Fail
	}
}

// Client receives transfer completions.
type Client interface {
	// CommandComplete returns the buffer of a finished transfer.
	// status is nil on success or one of the bus errors. For a
	// write-read, buf[0:readLen] holds the bytes read.
	CommandComplete(buf []byte, status error)
}

// Master is a bus controller in master role.
type Master interface {
	// SetMasterClient installs the completion sink. Must be called
	// before any transfer is started.
	SetMasterClient(Client)

	// Enable powers the controller up. Calls nest with Disable.
	Enable() error

	// Disable powers the controller down once all users are gone.
	Disable() error

	// Write sends buf[0:writeLen] to the device at addr.
	Write(addr uint8, buf []byte, writeLen int) error

	// Read fills buf[0:readLen] from the device at addr.
	Read(addr uint8, buf []byte, readLen int) error

	// WriteRead sends buf[0:writeLen], then reads readLen bytes into
	// buf[0:readLen] with a repeated start.
	WriteRead(addr uint8, buf []byte, writeLen, readLen int) error
}

// SMBusMaster is a controller that can also run transfers with SMBus
// timing and framing.
type SMBusMaster interface {
	SMBusWrite(addr uint8, buf []byte, writeLen int) error
	SMBusRead(addr uint8, buf []byte, readLen int) error
	SMBusWriteRead(addr uint8, buf []byte, writeLen, readLen int) error
}

// Device is a handle to one address on a (possibly shared) bus. The
// address is fixed at construction.
type Device interface {
	// SetClient installs the completion sink for this device.
	SetClient(Client)

	// Enable marks the device in use, powering the bus up if it is the
	// first user.
	Enable()

	// Disable releases the device's claim on the bus.
	Disable()

	Write(buf []byte, writeLen int) error
	Read(buf []byte, readLen int) error
	WriteRead(buf []byte, writeLen, readLen int) error
}
