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

package mpu

import "testing"

func twoRegionConfig(t *testing.T) *Config {
	t.Helper()
	var c Config
	if err := c.AddRegion(Region{Start: 0x8000, Length: 0x1000, Access: Read | Execute}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddRegion(Region{Start: 0x1000, Length: 0x800, Access: Read | Write}); err != nil {
		t.Fatal(err)
	}
	return &c
}

func TestCheck(t *testing.T) {
	c := twoRegionConfig(t)
	tests := []struct {
		name   string
		addr   uint32
		size   uint32
		access AccessType
		want   bool
	}{
		{"exec in flash", 0x8000, 4, Read | Execute, true},
		{"flash last word", 0x8FFC, 4, Execute, true},
		{"flash overrun", 0x8FFC, 8, Execute, false},
		{"write to flash", 0x8000, 4, Write, false},
		{"ram store", 0x1000, 4, Write, true},
		{"ram whole block", 0x1000, 0x800, Read | Write, true},
		{"ram overrun", 0x17FC, 8, Write, false},
		{"outside all regions", 0x4000, 4, Read, false},
		{"address overflow", 0xFFFFFFF0, 0x20, Read, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Check(tc.addr, tc.size, tc.access); got != tc.want {
				t.Errorf("Check(%#x, %#x, %v) = %v, want %v",
					tc.addr, tc.size, tc.access, got, tc.want)
			}
		})
	}
}

func TestZeroConfigAllowsNothing(t *testing.T) {
	var c Config
	if c.Check(0, 4, Read) {
		t.Error("zero config granted an access")
	}
}

func TestRegionExhaustion(t *testing.T) {
	var c Config
	for i := 0; i < NumRegions; i++ {
		if err := c.AddRegion(Region{Start: uint32(i) << 12, Length: 0x1000, Access: Read}); err != nil {
			t.Fatalf("region %d: %v", i, err)
		}
	}
	if err := c.AddRegion(Region{Start: 0x100000, Length: 0x1000, Access: Read}); err == nil {
		t.Error("AddRegion accepted a ninth region")
	}
	c.Clear()
	if len(c.Regions()) != 0 {
		t.Error("Clear left regions configured")
	}
}

func TestAccessTypeString(t *testing.T) {
	tests := []struct {
		a    AccessType
		want string
	}{
		{0, "---"},
		{Read, "r--"},
		{Read | Write, "rw-"},
		{Read | Execute, "r-x"},
		{Read | Write | Execute, "rwx"},
	}
	for _, tc := range tests {
		if got := tc.a.String(); got != tc.want {
			t.Errorf("AccessType(%d).String() = %q, want %q", tc.a, got, tc.want)
		}
	}
}
