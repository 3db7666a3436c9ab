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

package arch

import (
	"fmt"

	"kestrel.dev/kestrel/pkg/errcode"
)

// SyscallClass identifies the kind of system call a process invoked. The
// class travels in a4; a0-a3 carry the class-specific arguments.
type SyscallClass uint8

// Syscall classes.
const (
	SyscallYield          SyscallClass = 0
	SyscallSubscribe      SyscallClass = 1
	SyscallCommand        SyscallClass = 2
	SyscallReadWriteAllow SyscallClass = 3
	SyscallReadOnlyAllow  SyscallClass = 4
	SyscallMemop          SyscallClass = 5
	SyscallExit           SyscallClass = 6
)

var classNames = map[SyscallClass]string{
	SyscallYield:          "yield",
	SyscallSubscribe:      "subscribe",
	SyscallCommand:        "command",
	SyscallReadWriteAllow: "allow-rw",
	SyscallReadOnlyAllow:  "allow-ro",
	SyscallMemop:          "memop",
	SyscallExit:           "exit",
}

// String implements fmt.Stringer.String.
func (c SyscallClass) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// Yield variants (the Num field of a yield syscall).
const (
	YieldNoWait  = 0
	YieldWait    = 1
	YieldWaitFor = 2
)

// Exit variants (the Num field of an exit syscall).
const (
	ExitTerminate = 0
	ExitRestart   = 1
)

// Syscall is a decoded system call.
type Syscall struct {
	Class SyscallClass

	// DriverNum selects the capsule for subscribe, command and allow
	// calls. Unused for yield, memop and exit.
	DriverNum uint32

	// Num is the class-specific discriminant: the subscribe, command or
	// allow number, the memop operand, the yield variant, or the exit
	// variant.
	Num uint32

	// Arg0 and Arg1 are the remaining class-specific arguments.
	Arg0 uint32
	Arg1 uint32
}

// DecodeSyscall decodes the syscall described by the saved registers at
// the time of an environment call. It returns false if the class register
// holds no valid class; the caller treats that as a process fault.
func DecodeSyscall(s *StoredState) (Syscall, bool) {
	class := SyscallClass(s.Regs[RegA4])
	a0 := s.Regs[RegA0]
	a1 := s.Regs[RegA1]
	a2 := s.Regs[RegA2]
	a3 := s.Regs[RegA3]

	switch class {
	case SyscallYield:
		return Syscall{Class: class, Num: a0, Arg0: a1, Arg1: a2}, true
	case SyscallSubscribe, SyscallCommand, SyscallReadWriteAllow, SyscallReadOnlyAllow:
		return Syscall{Class: class, DriverNum: a0, Num: a1, Arg0: a2, Arg1: a3}, true
	case SyscallMemop:
		return Syscall{Class: class, Num: a0, Arg0: a1}, true
	case SyscallExit:
		return Syscall{Class: class, Num: a0, Arg0: a1}, true
	default:
		return Syscall{}, false
	}
}

// The return variant identifiers written to a0. Failures count up from 0,
// successes from 128.
const (
	retFailure       = 0
	retFailureU32    = 1
	retFailureU32U32 = 2
	retSuccess       = 128
	retSuccessU32    = 129
	retSuccessU32U32 = 130
)

type returnKind uint8

const (
	kindFailure returnKind = iota
	kindFailureU32
	kindFailureU32U32
	kindSuccess
	kindSuccessU32
	kindSuccessU32U32
	kindYieldWaitFor
)

// SyscallReturn is a structured syscall result, encoded into the saved
// argument registers just before the process resumes.
type SyscallReturn struct {
	kind returnKind
	err  errcode.Code
	v0   uint32
	v1   uint32
	v2   uint32
}

// Failure returns a result carrying only an error code.
func Failure(code errcode.Code) SyscallReturn {
	return SyscallReturn{kind: kindFailure, err: code}
}

// FailureU32 returns a failure carrying one value, used by allow calls to
// hand a rejected buffer description back.
func FailureU32(code errcode.Code, v0 uint32) SyscallReturn {
	return SyscallReturn{kind: kindFailureU32, err: code, v0: v0}
}

// FailureU32U32 returns a failure carrying two values.
func FailureU32U32(code errcode.Code, v0, v1 uint32) SyscallReturn {
	return SyscallReturn{kind: kindFailureU32U32, err: code, v0: v0, v1: v1}
}

// Success returns a bare success.
func Success() SyscallReturn {
	return SyscallReturn{kind: kindSuccess}
}

// SuccessU32 returns a success carrying one value.
func SuccessU32(v0 uint32) SyscallReturn {
	return SyscallReturn{kind: kindSuccessU32, v0: v0}
}

// SuccessU32U32 returns a success carrying two values, used by allow
// calls to return the previously shared buffer description.
func SuccessU32U32(v0, v1 uint32) SyscallReturn {
	return SyscallReturn{kind: kindSuccessU32U32, v0: v0, v1: v1}
}

// YieldWaitForReturn returns the three raw values delivered when a
// yield-wait-for completes. They are written to a0-a2 without a variant
// tag, per the yield calling convention.
func YieldWaitForReturn(v0, v1, v2 uint32) SyscallReturn {
	return SyscallReturn{kind: kindYieldWaitFor, v0: v0, v1: v1, v2: v2}
}

// Failed returns true for failure variants.
func (r SyscallReturn) Failed() bool {
	return r.kind == kindFailure || r.kind == kindFailureU32 || r.kind == kindFailureU32U32
}

// Encode writes the result into the saved argument registers, available
// to the process when it resumes.
func (r SyscallReturn) Encode(s *StoredState) {
	switch r.kind {
	case kindFailure:
		s.Regs[RegA0] = retFailure
		s.Regs[RegA1] = uint32(r.err)
	case kindFailureU32:
		s.Regs[RegA0] = retFailureU32
		s.Regs[RegA1] = uint32(r.err)
		s.Regs[RegA2] = r.v0
	case kindFailureU32U32:
		s.Regs[RegA0] = retFailureU32U32
		s.Regs[RegA1] = uint32(r.err)
		s.Regs[RegA2] = r.v0
		s.Regs[RegA3] = r.v1
	case kindSuccess:
		s.Regs[RegA0] = retSuccess
	case kindSuccessU32:
		s.Regs[RegA0] = retSuccessU32
		s.Regs[RegA1] = r.v0
	case kindSuccessU32U32:
		s.Regs[RegA0] = retSuccessU32U32
		s.Regs[RegA1] = r.v0
		s.Regs[RegA2] = r.v1
	case kindYieldWaitFor:
		s.Regs[RegA0] = r.v0
		s.Regs[RegA1] = r.v1
		s.Regs[RegA2] = r.v2
	default:
		panic(fmt.Sprintf("arch: unknown syscall return kind %d", r.kind))
	}
}
