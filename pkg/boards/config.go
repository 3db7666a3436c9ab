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

package boards

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is a board definition, loaded from TOML.
type Config struct {
	// Name identifies the board in logs.
	Name string `toml:"name"`

	Memory MemoryConfig `toml:"memory"`

	// FaultPolicy is "panic", "stop" or "restart".
	FaultPolicy string `toml:"fault_policy"`

	// MaxRestarts bounds the restart policy; ignored otherwise.
	MaxRestarts int `toml:"max_restarts"`

	// I2CLatency and UARTCharLatency are per-transfer and per-byte
	// device latencies in machine ticks.
	I2CLatency      int `toml:"i2c_latency"`
	UARTCharLatency int `toml:"uart_char_latency"`

	// NumLEDs sizes the LED bank.
	NumLEDs int `toml:"num_leds"`

	Processes []ProcessConfig `toml:"process"`
}

// MemoryConfig lays out the machine's flat memory.
type MemoryConfig struct {
	// Size is the machine memory in bytes.
	Size uint32 `toml:"size"`

	// ArenaStart and ArenaSize locate the kernel's allocation arena.
	// ArenaSize must be a power of two.
	ArenaStart uint32 `toml:"arena_start"`
	ArenaSize  uint32 `toml:"arena_size"`

	// SmallestBlock is the arena's minimum block size.
	SmallestBlock uint32 `toml:"smallest_block"`
}

// ProcessConfig names one process to load.
type ProcessConfig struct {
	Name string `toml:"name"`

	// Program selects a program from the board's program table.
	Program string `toml:"program"`

	// RAM is the process RAM block size, taken from the arena.
	RAM uint32 `toml:"ram"`
}

// DefaultConfig is a working single-board setup: one of each demo
// process, restart-on-fault.
func DefaultConfig() Config {
	return Config{
		Name: "sim",
		Memory: MemoryConfig{
			Size:          0x40000,
			ArenaStart:    0x10000,
			ArenaSize:     0x8000,
			SmallestBlock: 0x400,
		},
		FaultPolicy:     "restart",
		MaxRestarts:     3,
		I2CLatency:      16,
		UARTCharLatency: 4,
		NumLEDs:         4,
		Processes: []ProcessConfig{
			{Name: "hello", Program: "hello", RAM: 0x1000},
			{Name: "blink", Program: "blink", RAM: 0x400},
			{Name: "sensor", Program: "sensor", RAM: 0x1000},
		},
	}
}

// LoadConfig reads and validates a board definition.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	cfg.Processes = nil
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("boards: reading %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	m := c.Memory
	if m.Size == 0 {
		return fmt.Errorf("boards: memory.size is required")
	}
	if m.ArenaSize == 0 || m.ArenaSize&(m.ArenaSize-1) != 0 {
		return fmt.Errorf("boards: arena_size %#x is not a power of two", m.ArenaSize)
	}
	if m.SmallestBlock == 0 || m.SmallestBlock&(m.SmallestBlock-1) != 0 {
		return fmt.Errorf("boards: smallest_block %#x is not a power of two", m.SmallestBlock)
	}
	if m.ArenaStart+m.ArenaSize > m.Size {
		return fmt.Errorf("boards: arena [%#x,%#x) exceeds memory size %#x",
			m.ArenaStart, m.ArenaStart+m.ArenaSize, m.Size)
	}
	switch c.FaultPolicy {
	case "panic", "stop", "restart":
	default:
		return fmt.Errorf("boards: unknown fault_policy %q", c.FaultPolicy)
	}
	for _, p := range c.Processes {
		if _, ok := programs[p.Program]; !ok {
			return fmt.Errorf("boards: process %q: unknown program %q", p.Name, p.Program)
		}
		if p.RAM == 0 {
			return fmt.Errorf("boards: process %q: ram is required", p.Name)
		}
	}
	return nil
}
