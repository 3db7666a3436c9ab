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
	"encoding/binary"

	"kestrel.dev/kestrel/pkg/errcode"
)

// Saved-context wire format: little-endian u32 words, a three-word
// metadata prefix followed by PC, mcause, mtval and the 31 registers.
const (
	contextVersion = 1
	contextTag     = uint32('k') | uint32('s')<<8 | uint32('t')<<16 | uint32('1')<<24

	versionIdx = 0
	sizeIdx    = 1
	tagIdx     = 2
	pcIdx      = 3
	mcauseIdx  = 4
	mtvalIdx   = 5
	regsIdx    = 6

	contextWords = regsIdx + NumRegs

	// ContextSize is the serialized size of a StoredState in bytes.
	ContextSize = contextWords * 4
)

// StoreContext serializes s into out and returns the number of bytes
// written. It fails with errcode.Size when out is too small.
func (s *StoredState) StoreContext(out []byte) (int, error) {
	if len(out) < ContextSize {
		return 0, errcode.Size
	}
	put := func(idx int, v uint32) {
		binary.LittleEndian.PutUint32(out[idx*4:], v)
	}
	put(versionIdx, contextVersion)
	put(sizeIdx, ContextSize)
	put(tagIdx, contextTag)
	put(pcIdx, s.PC)
	put(mcauseIdx, s.MCause)
	put(mtvalIdx, s.MTval)
	for i, r := range s.Regs {
		put(regsIdx+i, r)
	}
	return ContextSize, nil
}

// LoadContext deserializes a context previously produced by StoreContext.
// A short buffer fails with errcode.Size; mismatched version, size or tag
// metadata fails with errcode.Fail.
func LoadContext(data []byte) (*StoredState, error) {
	if len(data) < ContextSize {
		return nil, errcode.Size
	}
	get := func(idx int) uint32 {
		return binary.LittleEndian.Uint32(data[idx*4:])
	}
	if get(versionIdx) != contextVersion || get(sizeIdx) != ContextSize || get(tagIdx) != contextTag {
		return nil, errcode.Fail
	}
	s := &StoredState{
		PC:     get(pcIdx),
		MCause: get(mcauseIdx),
		MTval:  get(mtvalIdx),
	}
	for i := range s.Regs {
		s.Regs[i] = get(regsIdx + i)
	}
	return s, nil
}
