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

// The emulated machine executes a small RV32-flavored instruction set:
// enough arithmetic, memory access and control flow to write real process
// images, with the RISC-V trap conventions (4-byte instructions, x0
// hardwired to zero, ecall for system calls) kept intact so the kernel's
// trap handling is exercised unchanged.

// Op is an instruction opcode.
type Op uint8

// Opcodes.
const (
	// OpUnimp is an unimplemented instruction; executing it raises an
	// illegal instruction exception. Zero on purpose, so stray zeroed
	// program words fault instead of executing.
	OpUnimp Op = iota

	OpNop
	OpLI   // rd = imm
	OpAddI // rd = rs1 + imm
	OpAdd  // rd = rs1 + rs2
	OpSub  // rd = rs1 - rs2
	OpLW   // rd = mem32[rs1+imm]
	OpSW   // mem32[rs1+imm] = rs2
	OpBeq  // if rs1 == rs2 jump to absolute address imm
	OpBne  // if rs1 != rs2 jump to absolute address imm
	OpJal  // rd = pc+4; jump to absolute address imm
	OpJalr // jump to rs1+imm
	OpECall
)

// Instr is one decoded instruction. Register fields hold architectural
// register numbers x0..x31.
type Instr struct {
	Op           Op
	Rd, Rs1, Rs2 uint8
	Imm          uint32
}

// Program is a process image: a flash-resident instruction sequence. The
// instruction at index i lives at byte address flashBase + 4*i.
type Program []Instr

// Architectural register numbers for hand-assembled programs.
const (
	X0 = 0 // hardwired zero
	RA = 1
	SP = 2
	T0 = 5
	T1 = 6
	A0 = 10
	A1 = 11
	A2 = 12
	A3 = 13
	A4 = 14
)

// Assembly constructors.

// Nop does nothing for one cycle.
func Nop() Instr { return Instr{Op: OpNop} }

// LI loads an immediate into rd.
func LI(rd int, imm uint32) Instr { return Instr{Op: OpLI, Rd: uint8(rd), Imm: imm} }

// AddI adds an immediate to rs1.
func AddI(rd, rs1 int, imm uint32) Instr {
	return Instr{Op: OpAddI, Rd: uint8(rd), Rs1: uint8(rs1), Imm: imm}
}

// Add adds rs1 and rs2.
func Add(rd, rs1, rs2 int) Instr {
	return Instr{Op: OpAdd, Rd: uint8(rd), Rs1: uint8(rs1), Rs2: uint8(rs2)}
}

// Sub subtracts rs2 from rs1.
func Sub(rd, rs1, rs2 int) Instr {
	return Instr{Op: OpSub, Rd: uint8(rd), Rs1: uint8(rs1), Rs2: uint8(rs2)}
}

// LW loads the word at rs1+imm into rd.
func LW(rd, rs1 int, imm uint32) Instr {
	return Instr{Op: OpLW, Rd: uint8(rd), Rs1: uint8(rs1), Imm: imm}
}

// SW stores rs2 to the word at rs1+imm.
func SW(rs2, rs1 int, imm uint32) Instr {
	return Instr{Op: OpSW, Rs1: uint8(rs1), Rs2: uint8(rs2), Imm: imm}
}

// Beq jumps to the absolute address target when rs1 == rs2.
func Beq(rs1, rs2 int, target uint32) Instr {
	return Instr{Op: OpBeq, Rs1: uint8(rs1), Rs2: uint8(rs2), Imm: target}
}

// Bne jumps to the absolute address target when rs1 != rs2.
func Bne(rs1, rs2 int, target uint32) Instr {
	return Instr{Op: OpBne, Rs1: uint8(rs1), Rs2: uint8(rs2), Imm: target}
}

// Jal saves pc+4 in rd and jumps to the absolute address target.
func Jal(rd int, target uint32) Instr {
	return Instr{Op: OpJal, Rd: uint8(rd), Imm: target}
}

// Jalr jumps to rs1+imm.
func Jalr(rs1 int, imm uint32) Instr {
	return Instr{Op: OpJalr, Rs1: uint8(rs1), Imm: imm}
}

// ECall traps into the kernel with an environment call.
func ECall() Instr { return Instr{Op: OpECall} }

// Unimp raises an illegal instruction exception.
func Unimp() Instr { return Instr{Op: OpUnimp} }
