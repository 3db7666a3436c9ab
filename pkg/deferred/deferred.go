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

// Package deferred schedules capsule callbacks to run outside the call
// stack that requested them.
//
// A capsule that discovers a failure synchronously, inside a downcall from
// its own client, must not deliver the completion callback from that same
// stack: the client would be re-entered mid-mutation. Instead it marks its
// deferred call pending and returns; the kernel main loop services pending
// calls at its next scheduling point, with no capsule frame below it.
package deferred

import "math/bits"

// maxCalls callers may register with one Manager. Registrations are
// tracked in a single word bitmask.
const maxCalls = 32

// Client receives deferred callbacks.
type Client interface {
	// HandleDeferredCall runs the deferred work. It is invoked exactly
	// once per servicing of a pending call, never from the stack that
	// set the call pending.
	HandleDeferredCall()
}

// Manager tracks deferred-call registrations and pending bits. It is the
// kernel's bottom-half dispatcher for capsule-requested callbacks and, like
// everything at this layer, is not safe for concurrent use.
//
// The zero value is an empty manager.
type Manager struct {
	clients [maxCalls]Client
	used    int
	pending uint32
}

// Register allocates a deferred-call slot for c. It panics when all slots
// are taken: registration happens during board wiring, so exhaustion is a
// configuration bug, not a runtime condition.
func (m *Manager) Register(c Client) *Call {
	if m.used >= maxCalls {
		panic("deferred: too many deferred call registrations")
	}
	idx := m.used
	m.clients[idx] = c
	m.used++
	return &Call{m: m, idx: uint8(idx)}
}

// HasPending returns true if any registered call is pending service.
func (m *Manager) HasPending() bool {
	return m.pending != 0
}

// ServiceNext services the lowest-numbered pending call, if any, and
// reports whether one was serviced. The pending bit is cleared before the
// client runs, so a handler that sets its own call again is serviced on a
// later pass, not recursively.
func (m *Manager) ServiceNext() bool {
	if m.pending == 0 {
		return false
	}
	idx := bits.TrailingZeros32(m.pending)
	m.pending &^= 1 << idx
	m.clients[idx].HandleDeferredCall()
	return true
}

// Call is one capsule's handle on its deferred-call slot.
type Call struct {
	m   *Manager
	idx uint8
}

// Set marks the call pending. Setting an already-pending call is
// idempotent: any number of Sets before the next service coalesce into a
// single callback.
func (c *Call) Set() {
	c.m.pending |= 1 << c.idx
}

// IsPending returns true if the call is pending service.
func (c *Call) IsPending() bool {
	return c.m.pending&(1<<c.idx) != 0
}
