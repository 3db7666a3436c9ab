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

// Package mpu models region-based memory protection: a small fixed number
// of address regions with per-region access rights, and nothing else. No
// translation, no paging. The kernel configures a process's regions before
// switching into it; any access the configured regions do not cover traps.
package mpu

import "fmt"

// AccessType is a bitmask of memory access kinds.
type AccessType uint8

// Access kinds.
const (
	Read AccessType = 1 << iota
	Write
	Execute
)

// String implements fmt.Stringer.String.
func (a AccessType) String() string {
	s := [3]byte{'-', '-', '-'}
	if a&Read != 0 {
		s[0] = 'r'
	}
	if a&Write != 0 {
		s[1] = 'w'
	}
	if a&Execute != 0 {
		s[2] = 'x'
	}
	return string(s[:])
}

// NumRegions is the number of protection regions the hardware provides.
const NumRegions = 8

// Region describes one protected address range [Start, Start+Length).
type Region struct {
	Start  uint32
	Length uint32
	Access AccessType
}

// Contains returns true if the range [addr, addr+size) lies entirely
// inside the region.
func (r Region) Contains(addr, size uint32) bool {
	return addr >= r.Start && addr+size <= r.Start+r.Length && addr+size >= addr
}

// Config is the set of regions loaded into the protection unit for one
// process. The zero value allows nothing.
type Config struct {
	regions [NumRegions]Region
	used    int
}

// AddRegion appends a region to the configuration. It fails once all
// hardware regions are in use.
func (c *Config) AddRegion(r Region) error {
	if c.used >= NumRegions {
		return fmt.Errorf("mpu: all %d regions in use", NumRegions)
	}
	c.regions[c.used] = r
	c.used++
	return nil
}

// Clear removes all regions.
func (c *Config) Clear() {
	*c = Config{}
}

// Regions returns the configured regions.
func (c *Config) Regions() []Region {
	return c.regions[:c.used]
}

// Check returns true if some configured region grants every requested
// access kind over the whole range [addr, addr+size).
func (c *Config) Check(addr, size uint32, access AccessType) bool {
	for _, r := range c.regions[:c.used] {
		if r.Access&access == access && r.Contains(addr, size) {
			return true
		}
	}
	return false
}
