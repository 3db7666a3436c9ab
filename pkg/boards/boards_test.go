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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"kestrel.dev/kestrel/pkg/kernel"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func singleProcess(name string, ram uint32) Config {
	cfg := DefaultConfig()
	cfg.Processes = []ProcessConfig{{Name: name, Program: name, RAM: ram}}
	return cfg
}

func mustBoard(t *testing.T, cfg Config, out *bytes.Buffer) *Board {
	t.Helper()
	b, err := New(cfg, out, testLog())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestHelloPrintsToConsole(t *testing.T) {
	var out bytes.Buffer
	b := mustBoard(t, singleProcess("hello", 0x1000), &out)

	b.Run()

	if got, want := out.String(), "hello\n"; got != want {
		t.Errorf("console output = %q, want %q", got, want)
	}
	p := b.Kernel.Processes()[0]
	if p.State() != kernel.StateTerminated {
		t.Errorf("state = %v, want Terminated", p.State())
	}
	if p.CompletionCode() != 0 {
		t.Errorf("completion code = %#x, want 0", p.CompletionCode())
	}
}

func TestBlinkDrivesLEDs(t *testing.T) {
	var out bytes.Buffer
	b := mustBoard(t, singleProcess("blink", 0x400), &out)

	b.Run()

	states := b.LEDs.States()
	if !states[0] {
		t.Error("LED 0 is off after an odd number of toggles")
	}
	if !states[1] {
		t.Error("LED 1 is off, done marker never set")
	}
	if p := b.Kernel.Processes()[0]; p.State() != kernel.StateTerminated {
		t.Errorf("state = %v, want Terminated", p.State())
	}
}

func TestSensorReadsRegisterFile(t *testing.T) {
	var out bytes.Buffer
	b := mustBoard(t, singleProcess("sensor", 0x1000), &out)
	b.Sensor.Set(0, 0x42)
	b.Sensor.Set(1, 0x17)

	b.Run()

	p := b.Kernel.Processes()[0]
	if p.State() != kernel.StateTerminated {
		t.Fatalf("state = %v, want Terminated", p.State())
	}
	if got, want := p.CompletionCode(), uint32(0x1742); got != want {
		t.Errorf("sensor reading = %#x, want %#x", got, want)
	}
}

func TestDefaultBoardRunsAllProcesses(t *testing.T) {
	var out bytes.Buffer
	b := mustBoard(t, DefaultConfig(), &out)
	b.Sensor.Set(0, 0x99)

	b.Run()

	if got, want := out.String(), "hello\n"; got != want {
		t.Errorf("console output = %q, want %q", got, want)
	}
	var sensor *kernel.Process
	for _, p := range b.Kernel.Processes() {
		if p.State() != kernel.StateTerminated {
			t.Errorf("process %s: state = %v, want Terminated", p.Name(), p.State())
		}
		if p.Name() == "sensor" {
			sensor = p
		}
	}
	if sensor == nil {
		t.Fatal("sensor process not loaded")
	}
	if got, want := sensor.CompletionCode(), uint32(0x0099); got != want {
		t.Errorf("sensor reading = %#x, want %#x", got, want)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.toml")
	src := `
name = "bench"
fault_policy = "stop"
num_leds = 2
i2c_latency = 8
uart_char_latency = 2

[memory]
size = 0x20000
arena_start = 0x10000
arena_size = 0x8000
smallest_block = 0x400

[[process]]
name = "printer"
program = "hello"
ram = 0x800
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := Config{
		Name: "bench",
		Memory: MemoryConfig{
			Size:          0x20000,
			ArenaStart:    0x10000,
			ArenaSize:     0x8000,
			SmallestBlock: 0x400,
		},
		FaultPolicy:     "stop",
		MaxRestarts:     3,
		I2CLatency:      8,
		UARTCharLatency: 2,
		NumLEDs:         2,
		Processes: []ProcessConfig{
			{Name: "printer", Program: "hello", RAM: 0x800},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"unknown program", func(c *Config) {
			c.Processes = []ProcessConfig{{Name: "x", Program: "nonesuch", RAM: 0x400}}
		}},
		{"zero ram", func(c *Config) {
			c.Processes = []ProcessConfig{{Name: "x", Program: "blink"}}
		}},
		{"arena not power of two", func(c *Config) {
			c.Memory.ArenaSize = 0x3000
		}},
		{"arena outside memory", func(c *Config) {
			c.Memory.ArenaStart = c.Memory.Size
		}},
		{"bad fault policy", func(c *Config) {
			c.FaultPolicy = "reboot"
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.edit(&cfg)
			if err := cfg.validate(); err == nil {
				t.Error("validate accepted a broken config")
			}
		})
	}
}

func TestArenaExhaustionFailsLoading(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processes = []ProcessConfig{
		{Name: "a", Program: "blink", RAM: cfg.Memory.ArenaSize},
		{Name: "b", Program: "blink", RAM: 0x400},
	}
	var out bytes.Buffer
	if _, err := New(cfg, &out, testLog()); err == nil {
		t.Error("New accepted processes exceeding the arena")
	}
}
