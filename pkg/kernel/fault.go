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

package kernel

import (
	"time"

	"github.com/cenkalti/backoff"
)

// FaultAction is a fault policy's decision for a misbehaving process.
type FaultAction int

const (
	// ActionPanic halts the whole kernel. For systems with no
	// supervisor above them, a process fault means the build is wrong.
	ActionPanic FaultAction = iota

	// ActionStop stops scheduling the process but keeps its state
	// around for inspection.
	ActionStop

	// ActionRestart resets the process to its entry point.
	ActionRestart
)

// FaultPolicy decides what happens to a process that faulted.
type FaultPolicy interface {
	Action(p *Process) FaultAction
}

// PanicPolicy treats any process fault as fatal to the kernel.
type PanicPolicy struct{}

// Action implements FaultPolicy.Action.
func (PanicPolicy) Action(*Process) FaultAction {
	return ActionPanic
}

// StopPolicy stops a faulting process and lets the rest of the system
// continue.
type StopPolicy struct{}

// Action implements FaultPolicy.Action.
func (StopPolicy) Action(*Process) FaultAction {
	return ActionStop
}

// RestartPolicy restarts a faulting process until its restart budget is
// exhausted, then stops it. Restart pacing follows an exponential
// backoff schedule so a crash-looping process cannot monopolize the
// kernel's attention.
type RestartPolicy struct {
	// MaxRestarts caps restarts over the process's lifetime. Zero
	// means restart forever.
	MaxRestarts int

	b *backoff.ExponentialBackOff
}

// NewRestartPolicy returns a policy allowing maxRestarts restarts.
func NewRestartPolicy(maxRestarts int) *RestartPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return &RestartPolicy{MaxRestarts: maxRestarts, b: b}
}

// Action implements FaultPolicy.Action.
func (r *RestartPolicy) Action(p *Process) FaultAction {
	if r.MaxRestarts > 0 && p.Restarts() >= r.MaxRestarts {
		return ActionStop
	}
	next := r.b.NextBackOff()
	if next == backoff.Stop {
		return ActionStop
	}
	p.log.WithField("delay", next).Debug("restart scheduled")
	time.Sleep(next)
	return ActionRestart
}
