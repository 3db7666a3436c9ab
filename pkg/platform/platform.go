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

// Package platform provides the boundary between the kernel and the
// machine a process executes on.
//
// See Context for the process switch contract.
package platform

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/mpu"
)

// Context represents the execution context for a single process.
type Context interface {
	// Switch resumes execution of the process whose saved state is ac,
	// confined to the memory regions in cfg. This call does not return
	// while the process is executing; it returns only once a trap has
	// handed control back to the kernel, and reports why:
	//
	// - nil: the process invoked a system call. The decoded call is
	// available from the saved argument registers, and the saved PC
	// already points past the trapping instruction.
	//
	// - ErrContextFault: the process raised a synchronous exception (an
	// illegal instruction, or a memory access the configured regions do
	// not permit). ac.MCause and ac.MTval describe the fault.
	//
	// - ErrContextInterrupt: a hardware interrupt arrived while the
	// process was executing. The interrupt source has been masked and
	// left pending for the kernel to service; the process is resumable
	// and its saved PC points at the interrupted instruction.
	//
	// Switch mutates ac in place: on return it holds the complete
	// register state of the stopped process.
	Switch(ac *arch.StoredState, cfg *mpu.Config) error
}

var (
	// ErrContextFault is returned by Context.Switch() to indicate that
	// the process raised a synchronous exception.
	ErrContextFault = fmt.Errorf("process raised a synchronous fault")

	// ErrContextInterrupt is returned by Context.Switch() to indicate
	// that a hardware interrupt preempted the process.
	ErrContextInterrupt = fmt.Errorf("interrupted by hardware interrupt")
)

// Machine is the kernel's view of the whole machine: memory, the
// interrupt fabric, and context construction.
type Machine interface {
	// Mem returns the machine's flat physical memory. The kernel and
	// every process share this single address space; only region
	// protection separates them.
	Mem() []byte

	// ServiceNextInterrupt services the lowest-numbered pending
	// interrupt by running its registered handler in kernel mode, and
	// reports whether one was serviced. The source is re-enabled after
	// its handler returns.
	ServiceNextInterrupt() bool

	// HasPendingInterrupts returns true if any interrupt awaits
	// service.
	HasPendingInterrupts() bool

	// WaitForInterrupt idles the machine until an interrupt becomes
	// pending, advancing device time. It returns false if no device
	// activity can ever produce one, in which case the machine is
	// permanently idle.
	WaitForInterrupt() bool
}
