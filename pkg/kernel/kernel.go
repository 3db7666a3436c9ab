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

// Package kernel implements the process-isolation core: the per-process
// execution state machine, syscall dispatch, fault policies, and the
// main scheduling loop that multiplexes untrusted processes over one
// CPU and one kernel stack.
//
// The kernel is single-threaded and cooperative. Capsule code, interrupt
// bottom halves and deferred calls all run on the kernel's own stack,
// one at a time; nothing here is safe for concurrent use.
package kernel

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"kestrel.dev/kestrel/pkg/deferred"
	"kestrel.dev/kestrel/pkg/ilist"
	"kestrel.dev/kestrel/pkg/mpu"
	"kestrel.dev/kestrel/pkg/platform"
)

type processEntry = ilist.Entry[*Process]

// Kernel owns the machine, the driver registry and every process. Its
// Run loop is the system's only thread of control.
type Kernel struct {
	machine  platform.Machine
	mem      []byte
	deferred *deferred.Manager

	drivers   map[uint32]Driver
	processes ilist.List[*Process]
	nextPID   int

	log    *logrus.Entry
	irqLog *rateLimitedLog
}

// New returns a kernel over the given machine. dm is the deferred-call
// manager shared with the capsules wired to this kernel.
func New(machine platform.Machine, dm *deferred.Manager, log *logrus.Entry) *Kernel {
	klog := log.WithField("component", "kernel")
	return &Kernel{
		machine:  machine,
		mem:      machine.Mem(),
		deferred: dm,
		drivers:  make(map[uint32]Driver),
		log:      klog,
		irqLog:   newRateLimitedLog(klog, rate.Every(100*time.Millisecond), 10),
	}
}

// RegisterDriver installs a capsule under a driver number.
func (k *Kernel) RegisterDriver(num uint32, d Driver) {
	if _, ok := k.drivers[num]; ok {
		panic(fmt.Sprintf("kernel: driver %#x registered twice", num))
	}
	k.drivers[num] = d
}

// ProcessConfig describes a process to load.
type ProcessConfig struct {
	Name    string
	Context platform.Context

	// FlashStart and FlashEnd bound the text image; upcall pointers
	// must land inside.
	FlashStart uint32
	FlashEnd   uint32

	// MemStart and MemSize locate the process's RAM block, typically
	// carved from the kernel's arena.
	MemStart uint32
	MemSize  uint32

	// Policy decides the response to faults. Nil means PanicPolicy.
	Policy FaultPolicy
}

// AddProcess loads a process: builds its protection regions, seeds its
// initial context at the entry point with the stack at the top of its
// RAM block, and queues it for scheduling.
func (k *Kernel) AddProcess(cfg ProcessConfig) (*Process, error) {
	if cfg.Context == nil {
		return nil, errors.New("kernel: process with no execution context")
	}
	policy := cfg.Policy
	if policy == nil {
		policy = PanicPolicy{}
	}
	p := &Process{
		id:         k.nextPID,
		name:       cfg.Name,
		kernel:     k,
		ctx:        cfg.Context,
		flashStart: cfg.FlashStart,
		flashEnd:   cfg.FlashEnd,
		memStart:   cfg.MemStart,
		memSize:    cfg.MemSize,
		policy:     policy,
		log: k.log.WithFields(logrus.Fields{
			"process": cfg.Name,
			"pid":     k.nextPID,
		}),
	}
	k.nextPID++

	if err := p.mpu.AddRegion(mpu.Region{
		Start:  cfg.FlashStart,
		Length: cfg.FlashEnd - cfg.FlashStart,
		Access: mpu.Read | mpu.Execute,
	}); err != nil {
		return nil, fmt.Errorf("kernel: flash region: %w", err)
	}
	if err := p.mpu.AddRegion(mpu.Region{
		Start:  cfg.MemStart,
		Length: cfg.MemSize,
		Access: mpu.Read | mpu.Write,
	}); err != nil {
		return nil, fmt.Errorf("kernel: ram region: %w", err)
	}

	p.init()
	k.processes.PushBack(p)
	p.log.WithFields(logrus.Fields{
		"flash": fmt.Sprintf("[%#x,%#x)", cfg.FlashStart, cfg.FlashEnd),
		"ram":   fmt.Sprintf("[%#x,%#x)", cfg.MemStart, cfg.MemStart+cfg.MemSize),
	}).Info("process loaded")
	return p, nil
}

// Processes returns all loaded processes in scheduling order.
func (k *Kernel) Processes() []*Process {
	var out []*Process
	for p := k.processes.Front(); p != nil; p = p.Next() {
		out = append(out, p)
	}
	return out
}

// Run drives the system: service bottom halves, pick a process, run it,
// repeat. It returns when no process can ever run again and no device
// activity is outstanding.
func (k *Kernel) Run() {
	for {
		k.serviceBottomHalves()

		if p := k.nextRunnable(); p != nil {
			k.doProcess(p)
			continue
		}
		if k.deferred.HasPending() || k.machine.HasPendingInterrupts() {
			continue
		}
		// Nothing runnable and nothing pending: sleep until a device
		// finishes, or stop for good if none ever will.
		if !k.machine.WaitForInterrupt() {
			k.log.Info("no runnable processes and no device activity, halting")
			return
		}
	}
}

// RunOnce performs one scheduling iteration, for tests that want to
// observe intermediate states.
func (k *Kernel) RunOnce() bool {
	k.serviceBottomHalves()
	p := k.nextRunnable()
	if p == nil {
		return false
	}
	k.doProcess(p)
	return true
}

// serviceBottomHalves drains interrupt handlers and deferred calls.
// Both run on the kernel stack with no process live; a handler may
// raise further work, so drain until quiet.
func (k *Kernel) serviceBottomHalves() {
	for {
		progressed := false
		for k.machine.ServiceNextInterrupt() {
			progressed = true
		}
		for k.deferred.ServiceNext() {
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

// nextRunnable picks the next process round-robin and rotates it to the
// back of the queue.
func (k *Kernel) nextRunnable() *Process {
	for p := k.processes.Front(); p != nil; p = p.Next() {
		if p.runnable() {
			k.processes.Remove(p)
			k.processes.PushBack(p)
			return p
		}
	}
	return nil
}

// doProcess runs one process until it blocks, dies, or an interrupt
// hands control back to the kernel.
func (k *Kernel) doProcess(p *Process) {
	for {
		switch p.state {
		case StateYielded, StateYieldedFor:
			u, ok := p.popUpcall()
			if !ok {
				return
			}
			if p.state == StateYieldedFor {
				// yield-wait-for returns the upcall's arguments in
				// registers instead of running the upcall.
				yieldWaitForResult(u).Encode(&p.stored)
			} else if u.valueOnly {
				// A delivery on a null subscription has no function to
				// run; consume it without waking the process.
				continue
			} else {
				p.deliverUpcall(u)
			}
			p.state = StateRunning

		case StateRunning:
			err := p.ctx.Switch(&p.stored, &p.mpu)
			switch {
			case err == nil:
				k.handleSyscall(p)
			case errors.Is(err, platform.ErrContextFault):
				k.faultProcess(p)
			case errors.Is(err, platform.ErrContextInterrupt):
				k.irqLog.debugf("process %d preempted by interrupt (cause %#x)", p.id, p.stored.MCause)
				return
			default:
				// A switch result the kernel cannot classify is memory
				// corruption or a platform bug; continuing is unsafe.
				panic(fmt.Sprintf("kernel: unclassifiable switch result: %v", err))
			}

		default:
			return
		}
	}
}

// faultProcess reports a fault and applies the process's policy.
func (k *Kernel) faultProcess(p *Process) {
	p.log.WithFields(logrus.Fields{
		"cause": p.stored.MCause,
		"tval":  fmt.Sprintf("%#x", p.stored.MTval),
	}).Warn("process fault")

	switch p.policy.Action(p) {
	case ActionPanic:
		panic("kernel: process fault\n" + p.dump())
	case ActionStop:
		p.state = StateFaulted
		p.log.Info("process stopped by fault policy")
	case ActionRestart:
		p.restart()
	}
}
