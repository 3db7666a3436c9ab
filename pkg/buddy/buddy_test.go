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

package buddy

import (
	"math/rand"
	"testing"
)

// verifyLists checks every free-list invariant: each entry in size class i
// has size smallest<<i, is marked free, and entries are in strictly
// ascending address order.
func verifyLists(t *testing.T, a *Allocator) {
	t.Helper()
	for i := 0; i < a.numLists; i++ {
		prev := nilBlock
		for entry := a.freeLists[i]; entry != nilBlock; entry = a.next(entry) {
			if !a.isFree(entry) {
				t.Fatalf("class %d: block %#x on free list but marked allocated", i, entry)
			}
			if got, want := a.blockSize(entry), a.smallest<<i; got != want {
				t.Fatalf("class %d: block %#x has size %d, want %d", i, entry, got, want)
			}
			if prev != nilBlock && prev >= entry {
				t.Fatalf("class %d: blocks %#x, %#x out of address order", i, prev, entry)
			}
			prev = entry
		}
	}
}

// freeBlockCounts returns the number of free blocks per size class.
func freeBlockCounts(a *Allocator) []int {
	counts := make([]int, a.numLists)
	for i := 0; i < a.numLists; i++ {
		for entry := a.freeLists[i]; entry != nilBlock; entry = a.next(entry) {
			counts[i]++
		}
	}
	return counts
}

func TestLog2(t *testing.T) {
	if got := log2(4); got != 2 {
		t.Errorf("log2(4) = %d, want 2", got)
	}
	if got := log2(65536); got != 16 {
		t.Errorf("log2(65536) = %d, want 16", got)
	}
}

func TestLog2ZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("log2(0) did not panic")
		}
	}()
	log2(0)
}

func TestNextPow2(t *testing.T) {
	for _, tc := range []struct {
		in, want uint32
	}{
		{3, 4},
		{2, 2},
		{2040, 2048},
		{1<<30 + 1, 1 << 31},
	} {
		if got := nextPow2(tc.in); got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestAllocBoundaries(t *testing.T) {
	mem := make([]byte, 65536)
	a := New(mem, 0, 4096, 1024)

	// Too small once the header is accounted for: rejected, not padded.
	if addr, ok := a.Alloc(420); ok {
		t.Errorf("Alloc(420) = %#x, want rejection (below smallest block)", addr)
	}
	verifyLists(t, a)

	// Larger than the arena.
	if addr, ok := a.Alloc(4200); ok {
		t.Errorf("Alloc(4200) = %#x, want rejection (exceeds arena)", addr)
	}
	verifyLists(t, a)

	// 2036+4 rounds to 2048; two such blocks fill the 4096 arena.
	first, ok := a.Alloc(2036)
	if !ok {
		t.Fatalf("first Alloc(2036) failed")
	}
	if got := a.blockSize(first - headerSize); got != 2048 {
		t.Errorf("allocated block size = %d, want 2048", got)
	}
	second, ok := a.Alloc(2036)
	if !ok {
		t.Fatalf("second Alloc(2036) failed")
	}
	if second == first {
		t.Fatalf("two live allocations share address %#x", first)
	}
	if _, ok := a.Alloc(2036); ok {
		t.Errorf("third Alloc(2036) succeeded with an exhausted arena")
	}
}

func TestAllocatedSizeIsTightestFit(t *testing.T) {
	mem := make([]byte, 65536)
	a := New(mem, 0, 16384, 1024)

	for _, tc := range []struct {
		request  uint32
		wantSize uint32
	}{
		{1020, 1024},  // exactly fills the smallest block
		{1021, 2048},  // one byte over, next power of two
		{2044, 2048},
		{4000, 4096},
	} {
		addr, ok := a.Alloc(tc.request)
		if !ok {
			t.Fatalf("Alloc(%d) failed", tc.request)
		}
		if got := a.blockSize(addr - headerSize); got != tc.wantSize {
			t.Errorf("Alloc(%d): block size = %d, want %d", tc.request, got, tc.wantSize)
		}
		a.Free(addr)
		verifyLists(t, a)
	}
}

func TestFullLoadAndReverseFree(t *testing.T) {
	mem := make([]byte, 65536)
	a := New(mem, 0, 16384, 1024)

	// Doubling sizes 1024..8192, each minus the header, plus one more
	// 1024 block, consume the entire arena.
	var addrs []uint32
	for req := uint32(1024); req < 16384; req <<= 1 {
		addr, ok := a.Alloc(req - headerSize)
		if !ok {
			t.Fatalf("Alloc(%d) failed", req-headerSize)
		}
		addrs = append(addrs, addr)
		verifyLists(t, a)
	}
	addr, ok := a.Alloc(1020)
	if !ok {
		t.Fatalf("final Alloc(1020) failed")
	}
	addrs = append(addrs, addr)

	if _, ok := a.Alloc(1024); ok {
		t.Errorf("Alloc(1024) succeeded with a fully consumed arena")
	}

	for i := len(addrs) - 1; i >= 0; i-- {
		a.Free(addrs[i])
		verifyLists(t, a)
	}

	// Everything coalesced back into one arena-spanning block.
	counts := freeBlockCounts(a)
	for i, n := range counts {
		want := 0
		if i == len(counts)-1 {
			want = 1
		}
		if n != want {
			t.Errorf("class %d has %d free blocks after reclamation, want %d", i, n, want)
		}
	}
}

func TestFullReclamationShuffledFrees(t *testing.T) {
	mem := make([]byte, 65536)
	a := New(mem, 4096, 16384, 1024)
	rng := rand.New(rand.NewSource(1))

	// Fill the arena with smallest-size blocks, then free them in a
	// random order; coalescing must reassemble the single root block.
	var addrs []uint32
	for {
		addr, ok := a.Alloc(1020)
		if !ok {
			break
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) != 16 {
		t.Fatalf("filled arena with %d blocks, want 16", len(addrs))
	}

	rng.Shuffle(len(addrs), func(i, j int) {
		addrs[i], addrs[j] = addrs[j], addrs[i]
	})
	for _, addr := range addrs {
		a.Free(addr)
		verifyLists(t, a)
	}

	counts := freeBlockCounts(a)
	if counts[len(counts)-1] != 1 {
		t.Errorf("top class has %d blocks after shuffled reclamation, want 1", counts[len(counts)-1])
	}
	for i := 0; i < len(counts)-1; i++ {
		if counts[i] != 0 {
			t.Errorf("class %d has %d blocks after shuffled reclamation, want 0", i, counts[i])
		}
	}
}

func TestFreeRootBlockAtMemoryEnd(t *testing.T) {
	// The arena ends exactly where the backing memory does, so the root
	// block has no bytes after it to misread as a buddy header.
	mem := make([]byte, 16384)
	a := New(mem, 8192, 8192, 1024)

	addr, ok := a.Alloc(8192 - headerSize)
	if !ok {
		t.Fatalf("Alloc of the whole arena failed")
	}
	a.Free(addr)
	verifyLists(t, a)

	counts := freeBlockCounts(a)
	if counts[len(counts)-1] != 1 {
		t.Errorf("top class has %d blocks after freeing the root, want 1",
			counts[len(counts)-1])
	}

	// Reclaimed in full: the whole arena can be handed out again, and
	// reassembled again after piecewise frees.
	var addrs []uint32
	for {
		small, ok := a.Alloc(1020)
		if !ok {
			break
		}
		addrs = append(addrs, small)
	}
	if len(addrs) != 8 {
		t.Fatalf("refilled arena with %d blocks, want 8", len(addrs))
	}
	for _, small := range addrs {
		a.Free(small)
		verifyLists(t, a)
	}
	if counts := freeBlockCounts(a); counts[len(counts)-1] != 1 {
		t.Errorf("root block not reassembled after piecewise frees")
	}
}

func TestNoLiveOverlap(t *testing.T) {
	mem := make([]byte, 65536)
	a := New(mem, 0, 16384, 1024)
	rng := rand.New(rand.NewSource(7))

	type block struct{ start, end uint32 }
	live := make(map[uint32]block)

	checkDisjoint := func() {
		for addr, b := range live {
			for other, ob := range live {
				if addr == other {
					continue
				}
				if b.start < ob.end && ob.start < b.end {
					t.Fatalf("live blocks overlap: [%#x,%#x) and [%#x,%#x)",
						b.start, b.end, ob.start, ob.end)
				}
			}
		}
	}

	for i := 0; i < 500; i++ {
		if rng.Intn(2) == 0 {
			req := uint32(1020 + rng.Intn(4096))
			if addr, ok := a.Alloc(req); ok {
				hdr := addr - headerSize
				live[addr] = block{hdr, hdr + a.blockSize(hdr)}
				checkDisjoint()
			}
		} else if len(live) > 0 {
			for addr := range live {
				a.Free(addr)
				delete(live, addr)
				break
			}
		}
		verifyLists(t, a)
	}
}
