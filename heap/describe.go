// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "unsafe"

// BlockInfo is the structured equivalent of the reference implementation's
// print_block_info: the data describing one block, without any particular
// rendering attached.
type BlockInfo struct {
	Addr     uintptr
	Size     uintptr
	Usable   uintptr
	IsHeap   bool
	IsMapped bool
}

// FreeBlockInfo describes one node of a free list snapshot: its address,
// size, and the addresses of its list neighbors, matching the
// (address, size, prev, next) tuple print_freelist reports per block.
// Prev/Next are the sentinel's own address at either end of the list.
type FreeBlockInfo struct {
	Addr uintptr
	Size uintptr
	Prev uintptr
	Next uintptr
}

// FreeListSnapshot is the structured equivalent of print_freelist: the
// free list's blocks in ascending-address order at the moment it was
// taken.
type FreeListSnapshot struct {
	Blocks []FreeBlockInfo
}

func snapshotFreeList(fl *freeList) FreeListSnapshot {
	var s FreeListSnapshot
	for b := fl.begin.next; b != fl.end; b = b.next {
		s.Blocks = append(s.Blocks, FreeBlockInfo{
			Addr: b.addr(),
			Size: b.size,
			Prev: b.prev.addr(),
			Next: b.next.addr(),
		})
	}
	return s
}

// Describe reports the header fields of the block addressed by p, or
// false if p is nil.
func (a *Allocator) Describe(p unsafe.Pointer) (BlockInfo, bool) {
	if p == nil {
		return BlockInfo{}, false
	}
	b := dataBlock(p)
	a.mu.Lock()
	isHeap := a.isHeapBlock(b)
	a.mu.Unlock()
	return BlockInfo{
		Addr:     b.addr(),
		Size:     b.size,
		Usable:   b.usable(),
		IsHeap:   isHeap,
		IsMapped: !isHeap,
	}, true
}

// DescribeFreeList snapshots the single free list.
func (a *Allocator) DescribeFreeList() FreeListSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return snapshotFreeList(a.free)
}

// MultiFreeListSnapshot is the per-arena equivalent of FreeListSnapshot.
type MultiFreeListSnapshot struct {
	Arenas [ArenaCount]FreeListSnapshot
}

// Describe reports the header fields of the block addressed by p, or
// false if p is nil.
func (m *MultiAllocator) Describe(p unsafe.Pointer) (BlockInfo, bool) {
	if p == nil {
		return BlockInfo{}, false
	}
	b := dataBlock(p)
	m.globalMu.Lock()
	isHeap := m.isHeapBlock(b)
	m.globalMu.Unlock()
	return BlockInfo{
		Addr:     b.addr(),
		Size:     b.size,
		Usable:   b.usable(),
		IsHeap:   isHeap,
		IsMapped: !isHeap,
	}, true
}

// DescribeFreeList snapshots every arena's free list.
func (m *MultiAllocator) DescribeFreeList() MultiFreeListSnapshot {
	var s MultiFreeListSnapshot
	for i, ar := range m.arenas {
		ar.mu.Lock()
		s.Arenas[i] = snapshotFreeList(ar.free)
		ar.mu.Unlock()
	}
	return s
}
