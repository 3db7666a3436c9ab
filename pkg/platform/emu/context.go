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

package emu

import (
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/mpu"
	"kestrel.dev/kestrel/pkg/platform"
)

// Context executes one process image on the machine. It implements
// platform.Context.
type Context struct {
	m         *Machine
	prog      Program
	flashBase uint32
}

// NewContext returns an execution context for a process whose text is
// prog, resident at byte address flashBase.
func (m *Machine) NewContext(prog Program, flashBase uint32) *Context {
	return &Context{m: m, prog: prog, flashBase: flashBase}
}

// FlashBase returns the address of the first instruction.
func (c *Context) FlashBase() uint32 {
	return c.flashBase
}

// FlashEnd returns the address just past the last instruction.
func (c *Context) FlashEnd() uint32 {
	return c.flashBase + 4*uint32(len(c.prog))
}

// Switch implements platform.Context.Switch.
//
// The trap protocol, in full:
//
//  1. mscratch is zero while the kernel runs. Immediately before the
//     process gains the CPU it is set to the kernel stack pointer; a
//     non-zero value at trap entry therefore means "we interrupted a
//     process".
//  2. On a trap from the process, every general-purpose register, the
//     PC and the cause are saved into the process's stored state. If
//     the cause is an asynchronous interrupt, the firing source is
//     masked before returning; skipping that would re-trap on the very
//     next cycle, forever.
//  3. mscratch is restored to zero and control returns here, to the
//     call that switched in, never directly back into the process.
func (c *Context) Switch(ac *arch.StoredState, cfg *mpu.Config) error {
	m := c.m
	if m.mscratch != 0 {
		// One process context is live at a time; scheduling is
		// cooperative, not preemptive.
		panic("emu: Switch while another process is running")
	}
	m.mscratch = kernelStackPointer

	// Load the saved context into the hart's registers. x0 stays zero.
	var regs [32]uint32
	copy(regs[1:], ac.Regs[:])
	pc := ac.PC

	set := func(rd uint8, v uint32) {
		if rd != 0 {
			regs[rd] = v
		}
	}

	// trap saves the complete process context and returns the CPU to
	// the kernel.
	trap := func(cause, tval uint32) {
		if m.mscratch == 0 {
			panic("emu: trap-from-process path entered with kernel sentinel")
		}
		copy(ac.Regs[:], regs[1:])
		ac.PC = pc
		ac.MCause = cause
		ac.MTval = tval
		if arch.IsInterrupt(cause) {
			m.enabled &^= 1 << arch.InterruptNumber(cause)
		}
		m.mscratch = 0
	}

	for {
		// A pending enabled interrupt preempts before the next fetch;
		// the saved PC points at the not-yet-executed instruction.
		if irq, ok := m.firingIRQ(); ok {
			trap(arch.InterruptBit|irq, 0)
			return platform.ErrContextInterrupt
		}

		if pc%4 != 0 || pc < c.flashBase || pc >= c.FlashEnd() || !cfg.Check(pc, 4, mpu.Execute) {
			trap(uint32(arch.ExcInstrAccessFault), pc)
			return platform.ErrContextFault
		}
		in := c.prog[(pc-c.flashBase)/4]
		next := pc + 4

		switch in.Op {
		case OpNop:
		case OpLI:
			set(in.Rd, in.Imm)
		case OpAddI:
			set(in.Rd, regs[in.Rs1]+in.Imm)
		case OpAdd:
			set(in.Rd, regs[in.Rs1]+regs[in.Rs2])
		case OpSub:
			set(in.Rd, regs[in.Rs1]-regs[in.Rs2])
		case OpLW:
			addr := regs[in.Rs1] + in.Imm
			if addr%4 != 0 {
				trap(uint32(arch.ExcLoadAddrMisaligned), addr)
				return platform.ErrContextFault
			}
			if !c.dataOK(addr, cfg, mpu.Read) {
				trap(uint32(arch.ExcLoadAccessFault), addr)
				return platform.ErrContextFault
			}
			set(in.Rd, m.loadWord(addr))
		case OpSW:
			addr := regs[in.Rs1] + in.Imm
			if addr%4 != 0 {
				trap(uint32(arch.ExcStoreAddrMisaligned), addr)
				return platform.ErrContextFault
			}
			if !c.dataOK(addr, cfg, mpu.Write) {
				trap(uint32(arch.ExcStoreAccessFault), addr)
				return platform.ErrContextFault
			}
			m.storeWord(addr, regs[in.Rs2])
		case OpBeq:
			if regs[in.Rs1] == regs[in.Rs2] {
				next = in.Imm
			}
		case OpBne:
			if regs[in.Rs1] != regs[in.Rs2] {
				next = in.Imm
			}
		case OpJal:
			set(in.Rd, pc+4)
			next = in.Imm
		case OpJalr:
			next = regs[in.Rs1] + in.Imm
		case OpECall:
			trap(uint32(arch.ExcUserEnvCall), 0)
			// The hardware does not step past an ecall; the kernel
			// resumes the process at the following instruction.
			ac.PC += 4
			return nil
		default:
			trap(uint32(arch.ExcIllegalInstruction), 0)
			return platform.ErrContextFault
		}

		pc = next
		m.tick()
	}
}

// dataOK checks a 4-byte data access against the protection regions and
// physical memory bounds.
func (c *Context) dataOK(addr uint32, cfg *mpu.Config, access mpu.AccessType) bool {
	if addr+4 < addr || addr+4 > uint32(len(c.m.mem)) {
		return false
	}
	return cfg.Check(addr, 4, access)
}
