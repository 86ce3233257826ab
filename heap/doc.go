// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heap implements a user-space general-purpose memory
// allocator: a heap manager that services arbitrary-size requests by
// subdividing OS-granted address ranges, tracks free regions, coalesces
// on release, promotes large requests to direct OS mappings, and
// optionally partitions its free-region bookkeeping across several
// independent arenas to reduce contention under parallel use.
//
// Allocator is the single-arena variant: one process-wide spinlock
// guards a single sorted, sentinel-bounded free list. MultiAllocator
// shards that bookkeeping across ArenaCount independent free lists,
// each with its own spinlock, behind a shared global lock that still
// owns the heap range itself.
//
// Both variants are safe for concurrent use by multiple goroutines.
package heap

import "unsafe"

// ptrSize is the on-disk header size: one word, holding the block's
// total size (header included). There is no magic and no allocated/free
// flag; double-free and use of a wild pointer are undefined behavior.
const ptrSize = unsafe.Sizeof(uintptr(0))

// Tunables. These mirror the reference implementation's compile-time
// constants; Config lets tests shrink them.
const (
	// MinBlockSize is the smallest block size, header included, that the
	// heap path will ever produce or accept (>= 32 bytes).
	MinBlockSize = 32
	// AllocSize is the minimum amount requested from the OS on a heap
	// miss, beyond whatever a single block actually needs.
	AllocSize = 32 << 20
	// GiveBackSize is the trailing free-region threshold at which a
	// deallocate returns heap pages to the OS.
	GiveBackSize = 32 << 20
	// MMapSize is the block-size threshold at or above which an
	// allocation is served by a direct OS mapping instead of the heap.
	MMapSize = 1 << 20
)
