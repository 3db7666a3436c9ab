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

package sim

import (
	"kestrel.dev/kestrel/pkg/hil/led"
)

// LEDBank is a row of simulated LEDs backed by plain booleans.
type LEDBank struct {
	lit []bool
}

// NewLEDBank returns a bank of n LEDs, all off.
func NewLEDBank(n int) *LEDBank {
	return &LEDBank{lit: make([]bool, n)}
}

// Len returns the number of LEDs in the bank.
func (b *LEDBank) Len() int {
	return len(b.lit)
}

// LED returns the handle for light i. It implements led.LED.
func (b *LEDBank) LED(i int) led.LED {
	return bankLED{b: b, i: i}
}

// States returns a snapshot of the whole bank.
func (b *LEDBank) States() []bool {
	out := make([]bool, len(b.lit))
	copy(out, b.lit)
	return out
}

type bankLED struct {
	b *LEDBank
	i int
}

func (l bankLED) On()        { l.b.lit[l.i] = true }
func (l bankLED) Off()       { l.b.lit[l.i] = false }
func (l bankLED) Toggle()    { l.b.lit[l.i] = !l.b.lit[l.i] }
func (l bankLED) Read() bool { return l.b.lit[l.i] }
