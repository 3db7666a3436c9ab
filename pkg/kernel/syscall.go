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
	"kestrel.dev/kestrel/pkg/arch"
	"kestrel.dev/kestrel/pkg/errcode"
)

// Memop operations.
const (
	memopBrk        = 0
	memopSbrk       = 1
	memopFlashStart = 2
	memopFlashEnd   = 3
	memopRAMStart   = 4
	memopRAMEnd     = 5
	memopDebugStack = 10
	memopDebugHeap  = 11
)

func yieldWaitForResult(u pendingUpcall) arch.SyscallReturn {
	return arch.YieldWaitForReturn(u.args[0], u.args[1], u.args[2])
}

// handleSyscall decodes and services the syscall a Switch just
// returned. The result, if any, is encoded into the saved registers
// before the process next runs.
func (k *Kernel) handleSyscall(p *Process) {
	sc, ok := arch.DecodeSyscall(&p.stored)
	if !ok {
		// An invalid class register is process misbehavior, handled
		// like any other fault.
		p.log.WithField("a4", p.stored.Regs[arch.RegA4]).Warn("invalid syscall class")
		k.faultProcess(p)
		return
	}

	switch sc.Class {
	case arch.SyscallYield:
		k.handleYield(p, sc)
	case arch.SyscallSubscribe:
		k.handleSubscribe(p, sc).Encode(&p.stored)
	case arch.SyscallCommand:
		k.handleCommand(p, sc).Encode(&p.stored)
	case arch.SyscallReadWriteAllow:
		k.handleAllow(p, sc, false).Encode(&p.stored)
	case arch.SyscallReadOnlyAllow:
		k.handleAllow(p, sc, true).Encode(&p.stored)
	case arch.SyscallMemop:
		k.handleMemop(p, sc).Encode(&p.stored)
	case arch.SyscallExit:
		k.handleExit(p, sc)
	}
}

// handleYield services the three yield flavors. Yield is the only
// syscall whose return convention bypasses the tagged result encoding.
func (k *Kernel) handleYield(p *Process, sc arch.Syscall) {
	switch sc.Num {
	case arch.YieldNoWait:
		if u, ok := p.popFunctionUpcall(); ok {
			p.stored.Regs[arch.RegA0] = 1
			p.deliverUpcall(u)
		} else {
			p.stored.Regs[arch.RegA0] = 0
		}

	case arch.YieldWait:
		if u, ok := p.popFunctionUpcall(); ok {
			p.deliverUpcall(u)
		} else {
			p.state = StateYielded
		}

	case arch.YieldWaitFor:
		p.waitFor = UpcallID{Driver: sc.Arg0, Subscribe: sc.Arg1}
		p.state = StateYieldedFor
		if u, ok := p.popUpcall(); ok {
			yieldWaitForResult(u).Encode(&p.stored)
			p.state = StateRunning
		}

	default:
		p.log.WithField("variant", sc.Num).Warn("invalid yield variant")
		k.faultProcess(p)
	}
}

func (k *Kernel) handleSubscribe(p *Process, sc arch.Syscall) arch.SyscallReturn {
	fn, appdata := sc.Arg0, sc.Arg1
	if _, ok := k.drivers[sc.DriverNum]; !ok {
		return arch.FailureU32U32(errcode.NoDevice, fn, appdata)
	}
	// The upcall pointer must be process text, or zero for the null
	// upcall.
	if fn != 0 && !p.inFlash(fn, 4) {
		return arch.FailureU32U32(errcode.Invalid, fn, appdata)
	}
	id := UpcallID{Driver: sc.DriverNum, Subscribe: sc.Num}
	prev := p.subscriptions[id]
	p.subscriptions[id] = Upcall{Fn: fn, Appdata: appdata}
	return arch.SuccessU32U32(prev.Fn, prev.Appdata)
}

func (k *Kernel) handleCommand(p *Process, sc arch.Syscall) arch.SyscallReturn {
	d, ok := k.drivers[sc.DriverNum]
	if !ok {
		return arch.Failure(errcode.NoDevice)
	}
	if sc.Num == 0 {
		// Existence probe, answered by the kernel for every driver.
		return arch.Success()
	}
	return d.Command(p, sc.Num, sc.Arg0, sc.Arg1)
}

func (k *Kernel) handleAllow(p *Process, sc arch.Syscall, readOnly bool) arch.SyscallReturn {
	addr, length := sc.Arg0, sc.Arg1
	if _, ok := k.drivers[sc.DriverNum]; !ok {
		return arch.FailureU32U32(errcode.NoDevice, addr, length)
	}
	id := allowID{driver: sc.DriverNum, num: sc.Num}

	slots := p.allowsRW
	valid := addr == 0 && length == 0 || p.inRAM(addr, length)
	if readOnly {
		slots = p.allowsRO
		// Read-only shares may also point at constants in text.
		valid = valid || p.inFlash(addr, length)
	}
	if !valid {
		return arch.FailureU32U32(errcode.Invalid, addr, length)
	}
	prev, ok := p.setAllow(slots, id, addr, length)
	if !ok {
		return arch.FailureU32U32(errcode.Invalid, addr, length)
	}
	return arch.SuccessU32U32(prev.addr, prev.len)
}

func (k *Kernel) handleMemop(p *Process, sc arch.Syscall) arch.SyscallReturn {
	switch sc.Num {
	case memopBrk:
		addr := sc.Arg0
		if addr < p.memStart || addr > p.memStart+p.memSize {
			return arch.Failure(errcode.NoMem)
		}
		p.brk = addr
		return arch.Success()

	case memopSbrk:
		old := p.brk
		next := old + sc.Arg0
		if next < p.memStart || next > p.memStart+p.memSize {
			return arch.Failure(errcode.NoMem)
		}
		p.brk = next
		return arch.SuccessU32(old)

	case memopFlashStart:
		return arch.SuccessU32(p.flashStart)
	case memopFlashEnd:
		return arch.SuccessU32(p.flashEnd)
	case memopRAMStart:
		return arch.SuccessU32(p.memStart)
	case memopRAMEnd:
		return arch.SuccessU32(p.memStart + p.memSize)

	case memopDebugStack, memopDebugHeap:
		// Debug hints from the process runtime; accepted and unused.
		return arch.Success()

	default:
		return arch.Failure(errcode.NoSupport)
	}
}

func (k *Kernel) handleExit(p *Process, sc arch.Syscall) {
	switch sc.Num {
	case arch.ExitTerminate:
		p.terminate(sc.Arg0)
	case arch.ExitRestart:
		p.completionCode = sc.Arg0
		p.restart()
	default:
		// Exit must not return on valid variants; on an invalid one it
		// reports failure and the process continues.
		arch.Failure(errcode.NoSupport).Encode(&p.stored)
	}
}
