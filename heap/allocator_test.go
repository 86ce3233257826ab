// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"math"
	"testing"
	"unsafe"

	"github.com/cznic/mathutil"
)

func testConfig() Config {
	return Config{
		MinBlockSize: 32,
		AllocSize:    64 << 10,
		GiveBackSize: 64 << 10,
		MMapSize:     4 << 10,
	}
}

func TestAllocateZero(t *testing.T) {
	a := New()
	if p := a.Allocate(0); p != nil {
		t.Fatalf("Allocate(0) = %p, want nil", p)
	}
}

func TestAllocateNegativePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Allocate(-1) did not panic")
		}
	}()
	New().Allocate(-1)
}

func TestFreeNilIsNoop(t *testing.T) {
	New().Free(nil)
}

func TestReallocateNilIsAllocate(t *testing.T) {
	a := NewWithConfig(testConfig())
	p := a.Reallocate(nil, 16)
	if p == nil {
		t.Fatal("Reallocate(nil, 16) = nil")
	}
	a.Free(p)
}

func TestReallocateZeroFrees(t *testing.T) {
	a := NewWithConfig(testConfig())
	p := a.Allocate(16)
	if p == nil {
		t.Fatal("Allocate(16) = nil")
	}
	if r := a.Reallocate(p, 0); r != nil {
		t.Fatalf("Reallocate(p, 0) = %p, want nil", r)
	}
	if a.HeapSize() == 0 {
		t.Fatal("HeapSize() == 0 after a single heap allocation and free")
	}
}

func TestSplitAndCoalesce(t *testing.T) {
	a := NewWithConfig(testConfig())
	p1 := a.Allocate(64)
	p2 := a.Allocate(64)
	p3 := a.Allocate(64)
	if p1 == nil || p2 == nil || p3 == nil {
		t.Fatal("allocation failed")
	}

	a.Free(p1)
	a.Free(p3)
	snap := a.DescribeFreeList()
	if len(snap.Blocks) != 2 {
		t.Fatalf("free list has %d blocks after freeing two non-adjacent blocks, want 2", len(snap.Blocks))
	}

	a.Free(p2)
	snap = a.DescribeFreeList()
	if len(snap.Blocks) != 1 {
		t.Fatalf("free list has %d blocks after freeing all three, want 1 (fully coalesced)", len(snap.Blocks))
	}
}

func TestReallocateGrowInPlace(t *testing.T) {
	a := NewWithConfig(testConfig())
	p1 := a.Allocate(64)
	p2 := a.Allocate(64)
	if p1 == nil || p2 == nil {
		t.Fatal("allocation failed")
	}
	a.Free(p2)

	b1 := dataBlock(p1)
	before := b1.addr()
	grown := a.Reallocate(p1, 200)
	if grown == nil {
		t.Fatal("Reallocate grow failed")
	}
	if dataBlock(grown).addr() != before {
		t.Fatal("Reallocate grow-in-place moved the block despite an adjacent free neighbor large enough to absorb")
	}
}

func TestReallocateMustMove(t *testing.T) {
	a := NewWithConfig(testConfig())
	p1 := a.Allocate(64)
	p2 := a.Allocate(64)
	if p1 == nil || p2 == nil {
		t.Fatal("allocation failed")
	}
	_ = p2

	data := unsafe.Slice((*byte)(p1), 64)
	for i := range data {
		data[i] = byte(i)
	}

	grown := a.Reallocate(p1, 4096)
	if grown == nil {
		t.Fatal("Reallocate grow (must move) failed")
	}
	out := unsafe.Slice((*byte)(grown), 64)
	for i, v := range out {
		if v != byte(i) {
			t.Fatalf("byte %d = %#x, want %#x: Reallocate lost data on move", i, v, byte(i))
		}
	}
}

func TestLargeBlockPath(t *testing.T) {
	a := NewWithConfig(testConfig())
	p := a.Allocate(8 << 10)
	if p == nil {
		t.Fatal("large allocation failed")
	}
	if a.MMapSize() == 0 {
		t.Fatal("MMapSize() == 0 after a large allocation")
	}
	info, ok := a.Describe(p)
	if !ok || !info.IsMapped {
		t.Fatalf("Describe(large) = %+v, ok=%v, want IsMapped", info, ok)
	}
	a.Free(p)
	if a.MMapSize() != 0 {
		t.Fatalf("MMapSize() = %d after freeing the only large block, want 0", a.MMapSize())
	}
}

func TestGiveBackToOS(t *testing.T) {
	a := NewWithConfig(testConfig())
	p := a.Allocate(8)
	if p == nil {
		t.Fatal("allocation failed")
	}
	before := a.HeapSize()
	if before == 0 {
		t.Fatal("HeapSize() == 0 after a heap allocation")
	}
	a.Free(p)
	if want := int(testConfig().GiveBackSize); a.HeapSize() != want {
		t.Fatalf("HeapSize() = %d after freeing the only block on an otherwise empty heap, want %d (the whole-heap free block is kept at GiveBackSize)", a.HeapSize(), want)
	}
}

func TestRandomizedStress(t *testing.T) {
	const quota = 4 << 20
	a := NewWithConfig(testConfig())
	rng, err := mathutil.NewFC32(0, math.MaxInt32, true)
	if err != nil {
		t.Fatal(err)
	}
	rng.Seed(42)

	const max = 512
	rem := quota
	var ptrs []unsafe.Pointer
	var sizes []int
	pos := rng.Pos()
	for rem > 0 {
		size := rng.Next()%max + 1
		rem -= size
		p := a.Allocate(size)
		if p == nil {
			t.Fatal("Allocate failed under quota")
		}
		ptrs = append(ptrs, p)
		sizes = append(sizes, size)
		buf := unsafe.Slice((*byte)(p), size)
		for i := range buf {
			buf[i] = byte(rng.Next())
		}
	}

	rng.Seek(pos)
	for i, p := range ptrs {
		size := sizes[i]
		if g, e := size, rng.Next()%max+1; g != e {
			t.Fatalf("size[%d] = %d, want %d", i, g, e)
		}
		buf := unsafe.Slice((*byte)(p), size)
		for j, g := range buf {
			if e := byte(rng.Next()); g != e {
				t.Fatalf("ptrs[%d][%d] = %#x, want %#x", i, j, g, e)
			}
		}
	}

	for i := len(ptrs) - 1; i >= 0; i-- {
		j := rng.Next() % (i + 1)
		ptrs[i], ptrs[j] = ptrs[j], ptrs[i]
	}
	for _, p := range ptrs {
		a.Free(p)
	}
	snap := a.DescribeFreeList()
	if len(snap.Blocks) != 1 || int(snap.Blocks[0].Size) != a.HeapSize() {
		t.Fatalf("free list = %+v after freeing every allocation, want one block spanning the %d-byte heap", snap.Blocks, a.HeapSize())
	}
	if limit := int(testConfig().GiveBackSize); a.HeapSize() > limit {
		t.Fatalf("HeapSize() = %d after freeing every allocation, want at most GiveBackSize (%d)", a.HeapSize(), limit)
	}
	if a.MMapSize() != 0 {
		t.Fatalf("MMapSize() = %d after freeing every allocation, want 0", a.MMapSize())
	}
}

func TestZeroAllocateZeroesMemory(t *testing.T) {
	a := NewWithConfig(testConfig())
	p := a.ZeroAllocate(16, 4)
	if p == nil {
		t.Fatal("ZeroAllocate failed")
	}
	buf := unsafe.Slice((*byte)(p), 64)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("buf[%d] = %#x, want 0", i, b)
		}
	}
}
