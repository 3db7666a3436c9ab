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

// Package errcode defines the error codes shared by the syscall boundary
// and the hardware interface layer.
//
// Codes are stable numeric values: they are encoded into syscall return
// registers and delivered to userspace unchanged. Zero is never a valid
// code; successful operations do not carry a code at all.
package errcode

import "fmt"

// Code is a kernel error code.
type Code uint32

// All error codes deliverable to userspace or returned by drivers.
const (
	// Fail is a generic failure condition.
	Fail Code = iota + 1

	// Busy means the underlying system is busy and cannot accept the
	// operation; retry later.
	Busy

	// Already means the state requested is already set.
	Already

	// Off means the component is powered down.
	Off

	// Reserve means reservation is required before use.
	Reserve

	// Invalid means an argument is invalid.
	Invalid

	// Size means the provided size is wrong, usually too large.
	Size

	// Cancel means the operation was cancelled.
	Cancel

	// NoMem means the request cannot be satisfied for lack of memory.
	NoMem

	// NoSupport means the operation or its parameters are unsupported.
	NoSupport

	// NoDevice means the requested device does not exist.
	NoDevice

	// Uninstalled means the device exists but is not physically present.
	Uninstalled

	// NoAck means a bus transaction was not acknowledged.
	NoAck
)

var names = map[Code]string{
	Fail:        "FAIL",
	Busy:        "BUSY",
	Already:     "ALREADY",
	Off:         "OFF",
	Reserve:     "RESERVE",
	Invalid:     "INVAL",
	Size:        "SIZE",
	Cancel:      "CANCEL",
	NoMem:       "NOMEM",
	NoSupport:   "NOSUPPORT",
	NoDevice:    "NODEVICE",
	Uninstalled: "UNINSTALLED",
	NoAck:       "NOACK",
}

// String implements fmt.Stringer.String.
func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("errcode(%d)", uint32(c))
}

// Error implements error.Error, so a Code can travel through ordinary
// error returns inside the kernel.
func (c Code) Error() string {
	return c.String()
}
