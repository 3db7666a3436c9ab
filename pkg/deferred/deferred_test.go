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

package deferred

import "testing"

type countingClient struct {
	calls  int
	onCall func()
}

func (c *countingClient) HandleDeferredCall() {
	c.calls++
	if c.onCall != nil {
		c.onCall()
	}
}

func TestSetIsNotSynchronous(t *testing.T) {
	var m Manager
	cl := &countingClient{}
	call := m.Register(cl)

	call.Set()
	if cl.calls != 0 {
		t.Fatalf("handler ran synchronously from Set")
	}
	if !call.IsPending() {
		t.Fatalf("call not pending after Set")
	}

	if !m.ServiceNext() {
		t.Fatalf("ServiceNext found nothing pending")
	}
	if cl.calls != 1 {
		t.Errorf("handler ran %d times, want 1", cl.calls)
	}
	if m.ServiceNext() {
		t.Errorf("ServiceNext serviced an already-cleared call")
	}
}

func TestMultipleSetsCoalesce(t *testing.T) {
	var m Manager
	cl := &countingClient{}
	call := m.Register(cl)

	call.Set()
	call.Set()
	call.Set()

	for m.ServiceNext() {
	}
	if cl.calls != 1 {
		t.Errorf("three Sets produced %d callbacks, want 1", cl.calls)
	}
}

func TestResetDuringServiceRunsLater(t *testing.T) {
	var m Manager
	cl := &countingClient{}
	call := m.Register(cl)
	cl.onCall = func() {
		if cl.calls == 1 {
			// Re-arm from inside the handler. This must not recurse.
			call.Set()
			if cl.calls != 1 {
				t.Errorf("handler re-entered synchronously")
			}
		}
	}

	call.Set()
	if !m.ServiceNext() {
		t.Fatalf("first service did not run")
	}
	if cl.calls != 1 {
		t.Fatalf("re-armed call ran synchronously, calls = %d", cl.calls)
	}
	if !m.ServiceNext() {
		t.Fatalf("re-armed call was not pending")
	}
	if cl.calls != 2 {
		t.Errorf("calls = %d, want 2", cl.calls)
	}
}

func TestServiceOrderAndIndependence(t *testing.T) {
	var m Manager
	var order []int
	a := &countingClient{}
	b := &countingClient{}
	callA := m.Register(a)
	callB := m.Register(b)
	a.onCall = func() { order = append(order, 0) }
	b.onCall = func() { order = append(order, 1) }

	callB.Set()
	callA.Set()
	for m.ServiceNext() {
	}

	if len(order) != 2 || order[0] != 0 || order[1] != 1 {
		t.Errorf("service order = %v, want [0 1]", order)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = %d, %d; want 1, 1", a.calls, b.calls)
	}
	if m.HasPending() {
		t.Errorf("manager still pending after full service")
	}
}

func TestRegistrationLimit(t *testing.T) {
	var m Manager
	for i := 0; i < maxCalls; i++ {
		m.Register(&countingClient{})
	}
	defer func() {
		if recover() == nil {
			t.Errorf("Register past the slot limit did not panic")
		}
	}()
	m.Register(&countingClient{})
}
