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

// Package arch defines the architectural state the kernel keeps for a
// process while the process is not executing: every general-purpose
// register, the program counter, and the trap cause registers, laid out
// RISC-V RV32 style.
//
// The saved state is exclusively owned by the kernel whenever its process
// is off-CPU. Exactly one process state is live in machine registers at a
// time; the platform layer moves state in and out around each context
// switch.
package arch

import "fmt"

// NumRegs is the number of saved general-purpose registers: x1 through
// x31. x0 is hardwired to zero and never stored.
const NumRegs = 31

// Named indices into StoredState.Regs for the registers the syscall ABI
// assigns meaning to. These must stay in sync with the platform's register
// save and restore order.
const (
	RegRA = 0  // x1, return address
	RegSP = 1  // x2, stack pointer
	RegA0 = 9  // x10, first argument / first return value
	RegA1 = 10 // x11
	RegA2 = 11 // x12
	RegA3 = 12 // x13
	RegA4 = 13 // x14, syscall class
)

// StoredState holds all of the state the kernel must keep for a process
// when the process is not executing.
type StoredState struct {
	// Regs are the saved general-purpose registers x1..x31.
	Regs [NumRegs]uint32

	// PC is the program counter at the moment of the trap, and the
	// address execution resumes at when the process runs again.
	PC uint32

	// MCause is the trap cause register captured when the process last
	// trapped into the kernel.
	MCause uint32

	// MTval carries trap-specific detail, typically the faulting
	// address when MCause indicates a memory fault.
	MTval uint32
}

// InterruptBit distinguishes asynchronous interrupts from synchronous
// exceptions in a cause value.
const InterruptBit uint32 = 1 << 31

// Exception is a synchronous trap cause code.
type Exception uint32

// Synchronous exception codes, matching the RISC-V mcause encoding.
const (
	ExcInstrAddrMisaligned Exception = 0
	ExcInstrAccessFault    Exception = 1
	ExcIllegalInstruction  Exception = 2
	ExcBreakpoint          Exception = 3
	ExcLoadAddrMisaligned  Exception = 4
	ExcLoadAccessFault     Exception = 5
	ExcStoreAddrMisaligned Exception = 6
	ExcStoreAccessFault    Exception = 7
	ExcUserEnvCall         Exception = 8
	ExcMachineEnvCall      Exception = 11
)

var excNames = map[Exception]string{
	ExcInstrAddrMisaligned: "instruction address misaligned",
	ExcInstrAccessFault:    "instruction access fault",
	ExcIllegalInstruction:  "illegal instruction",
	ExcBreakpoint:          "breakpoint",
	ExcLoadAddrMisaligned:  "load address misaligned",
	ExcLoadAccessFault:     "load access fault",
	ExcStoreAddrMisaligned: "store address misaligned",
	ExcStoreAccessFault:    "store access fault",
	ExcUserEnvCall:         "environment call from U-mode",
	ExcMachineEnvCall:      "environment call from M-mode",
}

// String implements fmt.Stringer.String.
func (e Exception) String() string {
	if s, ok := excNames[e]; ok {
		return s
	}
	return fmt.Sprintf("exception(%d)", uint32(e))
}

// IsInterrupt returns true if cause records an asynchronous interrupt
// rather than a synchronous exception.
func IsInterrupt(cause uint32) bool {
	return cause&InterruptBit != 0
}

// InterruptNumber returns the interrupt source number of an asynchronous
// cause value.
func InterruptNumber(cause uint32) uint32 {
	return cause &^ InterruptBit
}

// ExceptionOf returns the exception code of a synchronous cause value.
func ExceptionOf(cause uint32) Exception {
	return Exception(cause &^ InterruptBit)
}

// CauseString renders a cause value for diagnostics.
func CauseString(cause uint32) string {
	if IsInterrupt(cause) {
		return fmt.Sprintf("interrupt %d", InterruptNumber(cause))
	}
	return ExceptionOf(cause).String()
}

// Initialize resets s to the state a process starts in: cleared registers,
// entry point in PC, and the stack pointer at the start of the process's
// accessible memory.
func (s *StoredState) Initialize(entry, memStart uint32) {
	*s = StoredState{}
	s.PC = entry
	s.Regs[RegSP] = memStart
}

// SetProcessFunction arranges for the process to resume in an upcall
// handler: the four upcall arguments go in a0-a3, the previous PC becomes
// the return address, and execution resumes at pc. On a process's first
// run the saved PC is meaningless, but the handler has nothing to return
// to in that case anyway.
func (s *StoredState) SetProcessFunction(pc, a0, a1, a2, a3 uint32) {
	s.Regs[RegA0] = a0
	s.Regs[RegA1] = a1
	s.Regs[RegA2] = a2
	s.Regs[RegA3] = a3
	s.Regs[RegRA] = s.PC
	s.PC = pc
}

// Dump renders the full saved context for fault diagnostics.
func (s *StoredState) Dump() string {
	out := ""
	for i := 0; i < NumRegs; i += 2 {
		out += fmt.Sprintf(" x%-2d: %#010x", i+1, s.Regs[i])
		if i+1 < NumRegs {
			out += fmt.Sprintf("    x%-2d: %#010x", i+2, s.Regs[i+1])
		}
		out += "\n"
	}
	out += fmt.Sprintf(" pc : %#010x\n", s.PC)
	out += fmt.Sprintf(" mcause: %#010x (%s)\n", s.MCause, CauseString(s.MCause))
	out += fmt.Sprintf(" mtval:  %#010x\n", s.MTval)
	return out
}
