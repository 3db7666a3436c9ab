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

import "kestrel.dev/kestrel/pkg/arch"

// Driver is a userspace-facing capsule registered under a driver
// number. The kernel core handles subscribe and allow bookkeeping;
// drivers see commands, and reach shared buffers and upcalls through
// the Process.
//
// Command number 0 is the existence probe and must succeed without side
// effects.
type Driver interface {
	Command(p *Process, cmd, arg0, arg1 uint32) arch.SyscallReturn
}
