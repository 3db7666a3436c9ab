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

// Package buddy implements a binary buddy allocator over a fixed,
// power-of-two arena of machine memory.
//
// All metadata lives in-band: every block, free or allocated, starts with
// a 4-byte header whose top bit is the free flag and whose low 31 bits are
// the block size (always an exact power of two). Free blocks additionally
// store a link to the next free block of the same size class in the 4
// bytes after the header; on an allocated block those bytes belong to the
// caller's payload and must never be interpreted as a link.
//
// Free lists are kept in strictly ascending address order per size class.
// A block's buddy is the deterministic other half of the block it was
// split from, derived from address and size, never just any same-sized
// block.
//
// The allocator is not safe for concurrent use; callers serialize access,
// consistent with the kernel's single thread of control.
package buddy

// headerSize is the per-block metadata overhead, free or allocated.
const headerSize = 4

const (
	freeBit  = 1 << 31
	sizeMask = freeBit - 1

	// nilBlock marks the end of a free list. Address 0 can be a valid
	// block, so the all-ones pattern is the sentinel instead.
	nilBlock = ^uint32(0)
)

// maxLists bounds the number of size classes. Blocks of 2^31 bytes and up
// cannot be represented because the header's top bit is the free flag.
const maxLists = 31

// Allocator manages one arena. The arena is addressed through mem, with
// start as the absolute address of its first byte; returned addresses are
// absolute as well.
type Allocator struct {
	mem       []byte
	start     uint32
	size      uint32
	smallest  uint32
	freeLists [maxLists]uint32
	numLists  int
}

// log2 returns the base-2 logarithm of a power of two. It panics on zero:
// zero has no defined log2, and callers are expected to reject zero-sized
// requests upstream.
func log2(n uint32) uint {
	if n == 0 {
		panic("buddy: log2 of zero")
	}
	for i := uint(31); ; i-- {
		if n&(1<<i) != 0 {
			return i
		}
	}
}

// nextPow2 rounds size up to the next power of two. Powers of two are
// returned unchanged.
func nextPow2(size uint32) uint32 {
	size--
	size |= size >> 1
	size |= size >> 2
	size |= size >> 4
	size |= size >> 8
	size |= size >> 16
	return size + 1
}

// New constructs an allocator over mem[start:start+size]. size must be an
// exact power of two no larger than 2^30, and smallest the minimum
// allocatable block size. The whole arena starts as a single free block in
// the top size class.
func New(mem []byte, start, size, smallest uint32) *Allocator {
	if size&(size-1) != 0 {
		panic("buddy: arena size is not a power of two")
	}
	top := log2(size)
	if top >= maxLists {
		panic("buddy: arena too large for 31-bit block sizes")
	}
	numLists := int(top-log2(smallest)) + 1

	a := &Allocator{
		mem:      mem,
		start:    start,
		size:     size,
		smallest: smallest,
		numLists: numLists,
	}
	for i := range a.freeLists {
		a.freeLists[i] = nilBlock
	}

	a.setSize(start, size)
	a.markFree(start, true)
	a.setNext(start, nilBlock)
	a.freeLists[numLists-1] = start
	return a
}

// Header accessors. addr is always the address of a block header.

func (a *Allocator) header(addr uint32) uint32 {
	b := a.mem[addr:]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (a *Allocator) setHeader(addr, v uint32) {
	b := a.mem[addr:]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func (a *Allocator) isFree(addr uint32) bool {
	return a.header(addr)&freeBit != 0
}

func (a *Allocator) blockSize(addr uint32) uint32 {
	return a.header(addr) & sizeMask
}

func (a *Allocator) markFree(addr uint32, free bool) {
	h := a.header(addr)
	if free {
		h |= freeBit
	} else {
		h &^= freeBit
	}
	a.setHeader(addr, h)
}

func (a *Allocator) setSize(addr, size uint32) {
	if size >= freeBit {
		panic("buddy: block size would clobber the free flag")
	}
	a.setHeader(addr, a.header(addr)&freeBit|size)
}

// The free-list link is only meaningful while the block is free; once
// allocated these bytes are payload.

func (a *Allocator) next(addr uint32) uint32 {
	b := a.mem[addr+headerSize:]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (a *Allocator) setNext(addr, next uint32) {
	b := a.mem[addr+headerSize:]
	b[0] = byte(next)
	b[1] = byte(next >> 8)
	b[2] = byte(next >> 16)
	b[3] = byte(next >> 24)
}

func (a *Allocator) freeListIndex(size uint32) int {
	return int(log2(size) - log2(a.smallest))
}

// Alloc returns the payload address of a block large enough for size
// bytes, or false when no block anywhere can satisfy the request.
// Exhaustion is an ordinary outcome, never a panic.
//
// Requests that, including the header, would not fill the smallest block
// size are rejected outright rather than padded up.
func (a *Allocator) Alloc(size uint32) (uint32, bool) {
	if size+headerSize < a.smallest {
		return 0, false
	}

	padded := nextPow2(size + headerSize)

	for index := a.freeListIndex(padded); index < a.numLists; index++ {
		candidate := a.freeLists[index]
		if candidate == nilBlock {
			continue
		}
		a.freeLists[index] = a.next(candidate)

		// Split until the block exactly matches the padded size; each
		// split frees the upper buddy half into its own list.
		for a.blockSize(candidate) != padded {
			a.splitBlock(candidate)
		}

		a.markFree(candidate, false)
		return candidate + headerSize, true
	}
	return 0, false
}

// splitBlock halves block, keeping the lower half and inserting the upper
// half (the new buddy) into its free list.
func (a *Allocator) splitBlock(block uint32) {
	newSize := a.blockSize(block) / 2
	buddy := block + newSize
	a.setSize(buddy, newSize)
	a.markFree(buddy, true)
	a.setSize(block, newSize)
	a.placeBlockInList(buddy)
}

// placeBlockInList inserts a free block into its size class, preserving
// strictly ascending address order.
func (a *Allocator) placeBlockInList(block uint32) {
	index := a.freeListIndex(a.blockSize(block))

	current := a.freeLists[index]
	if current == nilBlock {
		a.freeLists[index] = block
		a.setNext(block, nilBlock)
		return
	}

	prev := nilBlock
	for {
		if current > block {
			a.setNext(block, current)
			if prev == nilBlock {
				a.freeLists[index] = block
			} else {
				a.setNext(prev, block)
			}
			return
		}
		if a.next(current) == nilBlock {
			a.setNext(current, block)
			a.setNext(block, nilBlock)
			return
		}
		if current == block {
			panic("buddy: block already on its free list")
		}
		prev = current
		current = a.next(current)
	}
}

// Free returns the block whose payload starts at addr to the allocator.
// It trusts that addr came from Alloc; passing anything else corrupts the
// arena.
func (a *Allocator) Free(addr uint32) {
	if addr < a.start || addr >= a.start+a.size {
		panic("buddy: free of address outside the arena")
	}
	block := addr - headerSize
	a.markFree(block, true)
	if !a.coalesce(block) {
		a.placeBlockInList(block)
	}
}

// coalesce merges block with its buddy if the buddy is free and the same
// size, repeating up the size classes until a merge fails or the whole
// arena is reassembled. It reports whether any merge happened; the caller
// list-inserts the block itself otherwise.
func (a *Allocator) coalesce(block uint32) bool {
	// A block spanning the whole arena has no buddy; computing one would
	// read a header past the arena's end.
	if a.blockSize(block) == a.size {
		return false
	}
	buddy := a.buddyOf(block)
	if !a.isFree(buddy) || a.blockSize(buddy) != a.blockSize(block) {
		return false
	}

	a.removeBlockFromList(buddy)

	// The lower-addressed half becomes the merged block's header.
	merged := block
	if buddy < block {
		merged = buddy
	}
	a.setSize(merged, a.blockSize(block)*2)

	if !a.coalesce(merged) {
		a.placeBlockInList(merged)
	}
	return true
}

// removeBlockFromList unlinks a free block from its size class.
func (a *Allocator) removeBlockFromList(block uint32) {
	index := a.freeListIndex(a.blockSize(block))
	current := a.freeLists[index]
	if current == nilBlock {
		panic("buddy: removing from an empty free list")
	}
	if current == block {
		a.freeLists[index] = a.next(block)
		return
	}
	for {
		next := a.next(current)
		if next == nilBlock {
			panic("buddy: block not found on its free list")
		}
		if next == block {
			a.setNext(current, a.next(block))
			return
		}
		current = next
	}
}

// buddyOf derives the buddy's address from block's address and size: the
// parity of the block's offset within the arena, in units of its size,
// says which half of the parent it is.
func (a *Allocator) buddyOf(block uint32) uint32 {
	size := a.blockSize(block)
	if (block-a.start)/size%2 == 0 {
		return block + size
	}
	return block - size
}
