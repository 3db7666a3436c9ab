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

package kernel

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/mpu"
	"kestrel.dev/kestrel/pkg/platform"
)

// State is a process's position in its execution lifecycle.
type State uint8

const (
	// StateRunning means the process is runnable; it is on the CPU only
	// while a Switch call is live.
	StateRunning State = iota

	// StateYielded means the process blocked in yield-wait and runs
	// again when any upcall arrives.
	StateYielded

	// StateYieldedFor means the process blocked waiting for one
	// specific upcall; others stay queued.
	StateYieldedFor

	// StateStopped means the process was halted by policy or request
	// and is not scheduled, but its state is intact.
	StateStopped

	// StateFaulted means the process misbehaved and its fault policy
	// chose not to run it again.
	StateFaulted

	// StateTerminated means the process exited, voluntarily or not.
	StateTerminated
)

var stateNames = map[State]string{
	StateRunning:    "Running",
	StateYielded:    "Yielded",
	StateYieldedFor: "YieldedFor",
	StateStopped:    "Stopped",
	StateFaulted:    "Faulted",
	StateTerminated: "Terminated",
}

// String implements fmt.Stringer.String.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// UpcallID names one subscription slot: a driver and its subscribe
// number.
type UpcallID struct {
	Driver    uint32
	Subscribe uint32
}

// Upcall is a subscribed userspace callback. A zero Fn is the null
// upcall: subscribed, but with no function to run. Scheduling it queues
// a value-only delivery that can satisfy yield-wait-for.
type Upcall struct {
	Fn      uint32
	Appdata uint32
}

// pendingUpcall is one queued delivery. valueOnly marks a delivery on a
// null subscription: it carries arguments but no function, so it wakes
// yield-wait-for with the arguments and is consumed silently by the
// other yield flavors.
type pendingUpcall struct {
	id        UpcallID
	args      [3]uint32
	valueOnly bool
}

// allowID names one allow slot of one driver.
type allowID struct {
	driver uint32
	num    uint32
}

type allowSlot struct {
	addr uint32
	len  uint32
}

// upcallQueueLen bounds the pending upcall queue; further upcalls are
// dropped with a log line, matching fixed-size kernel state elsewhere.
const upcallQueueLen = 10

// Process is one schedulable unit of untrusted code: its execution
// context, protection regions, RAM block, and the syscall-visible state
// the kernel keeps on its behalf.
//
// The saved context is owned by the kernel except while a Switch call
// is live on this process's context.
type Process struct {
	processEntry

	id     int
	name   string
	kernel *Kernel

	ctx    platform.Context
	stored arch.StoredState
	mpu    mpu.Config
	state  State

	// Memory geometry. Flash holds text; the RAM block came from the
	// kernel's arena and bounds every allow slot and the brk.
	flashStart uint32
	flashEnd   uint32
	memStart   uint32
	memSize    uint32
	brk        uint32

	policy FaultPolicy

	upcalls       []pendingUpcall
	subscriptions map[UpcallID]Upcall
	allowsRW      map[allowID]allowSlot
	allowsRO      map[allowID]allowSlot

	waitFor UpcallID

	restarts       int
	completionCode uint32

	log *logrus.Entry
}

// ID returns the process identifier.
func (p *Process) ID() int {
	return p.id
}

// Name returns the process name.
func (p *Process) Name() string {
	return p.name
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	return p.state
}

// Restarts returns how many times the process has been restarted.
func (p *Process) Restarts() int {
	return p.restarts
}

// CompletionCode returns the code passed to the last exit syscall.
func (p *Process) CompletionCode() uint32 {
	return p.completionCode
}

func (p *Process) init() {
	p.stored = arch.StoredState{}
	p.stored.Initialize(p.flashStart, p.memStart+p.memSize)
	p.brk = p.memStart
	p.upcalls = nil
	p.subscriptions = make(map[UpcallID]Upcall)
	p.allowsRW = make(map[allowID]allowSlot)
	p.allowsRO = make(map[allowID]allowSlot)
	p.state = StateRunning
}

// restart resets the process to its entry point. Queued upcalls,
// subscriptions and allows from the previous life are discarded; the
// RAM block is kept but its contents are not scrubbed.
func (p *Process) restart() {
	p.restarts++
	p.init()
	p.log.WithField("restarts", p.restarts).Info("process restarted")
}

func (p *Process) terminate(code uint32) {
	p.completionCode = code
	p.state = StateTerminated
	p.log.WithField("code", code).Info("process terminated")
}

// runnable reports whether the scheduler should consider p at all.
func (p *Process) runnable() bool {
	switch p.state {
	case StateRunning:
		return true
	case StateYielded:
		return len(p.upcalls) > 0
	case StateYieldedFor:
		for _, u := range p.upcalls {
			if u.id == p.waitFor {
				return true
			}
		}
		return false
	}
	return false
}

// ScheduleUpcall queues the upcall registered under id with the given
// arguments. Drivers call this from completion paths; delivery happens
// when the process next yields for it. Scheduling on an unsubscribed
// identifier is a silent no-op, as is scheduling on a dead process. A
// null subscription queues a value-only delivery.
func (p *Process) ScheduleUpcall(id UpcallID, a0, a1, a2 uint32) {
	switch p.state {
	case StateFaulted, StateTerminated, StateStopped:
		return
	}
	up, ok := p.subscriptions[id]
	if !ok {
		return
	}
	if len(p.upcalls) >= upcallQueueLen {
		p.log.WithFields(logrus.Fields{
			"driver":    id.Driver,
			"subscribe": id.Subscribe,
		}).Warn("upcall queue full, dropping")
		return
	}
	p.upcalls = append(p.upcalls, pendingUpcall{
		id:        id,
		args:      [3]uint32{a0, a1, a2},
		valueOnly: up.Fn == 0,
	})
}

// popUpcall dequeues the next deliverable upcall. In YieldedFor only
// the awaited identifier is deliverable; everything else stays queued
// in order.
func (p *Process) popUpcall() (pendingUpcall, bool) {
	for i, u := range p.upcalls {
		if p.state == StateYieldedFor && u.id != p.waitFor {
			continue
		}
		p.upcalls = append(p.upcalls[:i], p.upcalls[i+1:]...)
		return u, true
	}
	return pendingUpcall{}, false
}

// popFunctionUpcall dequeues the next upcall that has a function to
// run, consuming any value-only deliveries queued ahead of it.
func (p *Process) popFunctionUpcall() (pendingUpcall, bool) {
	for {
		u, ok := p.popUpcall()
		if !ok {
			return pendingUpcall{}, false
		}
		if !u.valueOnly {
			return u, true
		}
	}
}

// deliverUpcall pushes an upcall invocation frame: the process resumes
// at the upcall function and returns to where it was.
func (p *Process) deliverUpcall(u pendingUpcall) {
	fn := p.subscriptions[u.id]
	p.stored.SetProcessFunction(fn.Fn, u.args[0], u.args[1], u.args[2], fn.Appdata)
}

// inFlash reports whether [addr, addr+size) lies inside the text image.
func (p *Process) inFlash(addr, size uint32) bool {
	end := addr + size
	return end >= addr && addr >= p.flashStart && end <= p.flashEnd
}

// inRAM reports whether [addr, addr+size) lies inside the RAM block.
func (p *Process) inRAM(addr, size uint32) bool {
	end := addr + size
	return end >= addr && addr >= p.memStart && end <= p.memStart+p.memSize
}

// setAllow installs (addr, len) in an allow slot and returns the slot's
// previous contents. The zero slot is "no buffer".
func (p *Process) setAllow(m map[allowID]allowSlot, id allowID, addr, length uint32) (allowSlot, bool) {
	valid := (addr == 0 && length == 0) || p.inRAM(addr, length) || p.inFlash(addr, length)
	if !valid {
		return allowSlot{}, false
	}
	prev := m[id]
	m[id] = allowSlot{addr: addr, len: length}
	return prev, true
}

// AllowedReadWrite returns the process's shared read-write buffer for
// the given driver and allow number, as a window into machine memory.
// The second return is false when no buffer is shared.
func (p *Process) AllowedReadWrite(driver, num uint32) ([]byte, bool) {
	s, ok := p.allowsRW[allowID{driver: driver, num: num}]
	if !ok || s.len == 0 {
		return nil, false
	}
	return p.kernel.mem[s.addr : s.addr+s.len], true
}

// AllowedReadOnly returns the process's shared read-only buffer for the
// given driver and allow number.
func (p *Process) AllowedReadOnly(driver, num uint32) ([]byte, bool) {
	s, ok := p.allowsRO[allowID{driver: driver, num: num}]
	if !ok || s.len == 0 {
		return nil, false
	}
	return p.kernel.mem[s.addr : s.addr+s.len], true
}

// dump renders the process's saved context and kernel-side state for
// fault diagnostics.
func (p *Process) dump() string {
	return fmt.Sprintf("process %d (%s): state=%s restarts=%d mem=[%#x,%#x) brk=%#x\n%s",
		p.id, p.name, p.state, p.restarts, p.memStart, p.memStart+p.memSize, p.brk,
		p.stored.Dump())
}
