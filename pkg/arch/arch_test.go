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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"kestrel.dev/kestrel/pkg/errcode"
)

func TestDecodeSyscall(t *testing.T) {
	for _, tc := range []struct {
		name string
		regs map[int]uint32
		want Syscall
		ok   bool
	}{
		{
			name: "command",
			regs: map[int]uint32{RegA4: 2, RegA0: 0x20003, RegA1: 1, RegA2: 0x51, RegA3: 8},
			want: Syscall{Class: SyscallCommand, DriverNum: 0x20003, Num: 1, Arg0: 0x51, Arg1: 8},
			ok:   true,
		},
		{
			name: "yield-wait",
			regs: map[int]uint32{RegA4: 0, RegA0: YieldWait},
			want: Syscall{Class: SyscallYield, Num: YieldWait},
			ok:   true,
		},
		{
			name: "subscribe",
			regs: map[int]uint32{RegA4: 1, RegA0: 1, RegA1: 0, RegA2: 0x8000, RegA3: 0xdead},
			want: Syscall{Class: SyscallSubscribe, DriverNum: 1, Num: 0, Arg0: 0x8000, Arg1: 0xdead},
			ok:   true,
		},
		{
			name: "allow-ro",
			regs: map[int]uint32{RegA4: 4, RegA0: 1, RegA1: 0, RegA2: 0x4000, RegA3: 64},
			want: Syscall{Class: SyscallReadOnlyAllow, DriverNum: 1, Num: 0, Arg0: 0x4000, Arg1: 64},
			ok:   true,
		},
		{
			name: "exit-terminate",
			regs: map[int]uint32{RegA4: 6, RegA0: ExitTerminate, RegA1: 0},
			want: Syscall{Class: SyscallExit, Num: ExitTerminate},
			ok:   true,
		},
		{
			name: "unknown class",
			regs: map[int]uint32{RegA4: 99},
			ok:   false,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var s StoredState
			for reg, v := range tc.regs {
				s.Regs[reg] = v
			}
			got, ok := DecodeSyscall(&s)
			if ok != tc.ok {
				t.Fatalf("DecodeSyscall ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("DecodeSyscall mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSyscallReturnEncoding(t *testing.T) {
	for _, tc := range []struct {
		name string
		ret  SyscallReturn
		want map[int]uint32
	}{
		{
			name: "failure",
			ret:  Failure(errcode.Busy),
			want: map[int]uint32{RegA0: 0, RegA1: uint32(errcode.Busy)},
		},
		{
			name: "success",
			ret:  Success(),
			want: map[int]uint32{RegA0: 128},
		},
		{
			name: "success-u32",
			ret:  SuccessU32(7),
			want: map[int]uint32{RegA0: 129, RegA1: 7},
		},
		{
			name: "allow success returns prior buffer",
			ret:  SuccessU32U32(0x4000, 64),
			want: map[int]uint32{RegA0: 130, RegA1: 0x4000, RegA2: 64},
		},
		{
			name: "allow failure returns rejected buffer",
			ret:  FailureU32U32(errcode.Invalid, 0x4000, 64),
			want: map[int]uint32{RegA0: 2, RegA1: uint32(errcode.Invalid), RegA2: 0x4000, RegA3: 64},
		},
		{
			name: "yield-wait-for raw triple",
			ret:  YieldWaitForReturn(1, 2, 3),
			want: map[int]uint32{RegA0: 1, RegA1: 2, RegA2: 3},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var s StoredState
			tc.ret.Encode(&s)
			for reg, v := range tc.want {
				if s.Regs[reg] != v {
					t.Errorf("reg %d = %#x, want %#x", reg, s.Regs[reg], v)
				}
			}
		})
	}
}

func TestSetProcessFunction(t *testing.T) {
	var s StoredState
	s.PC = 0x100
	s.SetProcessFunction(0x200, 1, 2, 3, 4)
	if s.PC != 0x200 {
		t.Errorf("PC = %#x, want 0x200", s.PC)
	}
	if s.Regs[RegRA] != 0x100 {
		t.Errorf("RA = %#x, want the previous PC 0x100", s.Regs[RegRA])
	}
	for i, want := range []uint32{1, 2, 3, 4} {
		if got := s.Regs[RegA0+i]; got != want {
			t.Errorf("a%d = %d, want %d", i, got, want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	s := &StoredState{PC: 0x1234, MCause: uint32(ExcUserEnvCall), MTval: 0}
	for i := range s.Regs {
		s.Regs[i] = uint32(i) * 3
	}

	buf := make([]byte, ContextSize)
	n, err := s.StoreContext(buf)
	if err != nil {
		t.Fatalf("StoreContext: %v", err)
	}
	if n != ContextSize {
		t.Errorf("StoreContext wrote %d bytes, want %d", n, ContextSize)
	}

	got, err := LoadContext(buf)
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("context round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestContextErrors(t *testing.T) {
	var s StoredState
	if _, err := s.StoreContext(make([]byte, 8)); !errors.Is(err, errcode.Size) {
		t.Errorf("StoreContext into short buffer: err = %v, want SIZE", err)
	}
	if _, err := LoadContext(make([]byte, 8)); !errors.Is(err, errcode.Size) {
		t.Errorf("LoadContext of short buffer: err = %v, want SIZE", err)
	}

	buf := make([]byte, ContextSize)
	if _, err := s.StoreContext(buf); err != nil {
		t.Fatalf("StoreContext: %v", err)
	}
	buf[0] ^= 0xFF // corrupt the version word
	if _, err := LoadContext(buf); !errors.Is(err, errcode.Fail) {
		t.Errorf("LoadContext of corrupted buffer: err = %v, want FAIL", err)
	}
}

func TestCauseString(t *testing.T) {
	if got := CauseString(InterruptBit | 3); got != "interrupt 3" {
		t.Errorf("CauseString(interrupt 3) = %q", got)
	}
	if got := CauseString(uint32(ExcStoreAccessFault)); got != "store access fault" {
		t.Errorf("CauseString(store fault) = %q", got)
	}
}
