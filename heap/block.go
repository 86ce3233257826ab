// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"unsafe"

	"github.com/cznic/mathutil"
)

// block is the universal on-disk layout for every block living inside
// the managed heap range, free or allocated. size is the only field
// that is a true "header" in the sense that user data never overlaps
// it; prev and next double as the free-list linkage while the block is
// free and as the first two words of the caller's data once the block
// is handed out. This is the same trick cznic/memory uses for its
// segregated free-list nodes, applied here to a single sorted list.
//
// Every heap block therefore needs at least 3*ptrSize bytes, which is
// why MinBlockSize is 32 on 64-bit platforms (8 bytes of slack beyond
// the 24 bytes the struct needs).
type block struct {
	size uintptr
	prev *block
	next *block
}

// blockAt reinterprets a raw address as a block header. p must point at
// the start of a block (heap-resident or mmap-obtained).
func blockAt(p unsafe.Pointer) *block { return (*block)(p) }

// addr returns b's own address.
func (b *block) addr() uintptr { return uintptr(unsafe.Pointer(b)) }

// data returns the pointer handed to callers: the header is a single
// word, so data starts ptrSize bytes past the block's own address.
func (b *block) data() unsafe.Pointer {
	return unsafe.Pointer(b.addr() + ptrSize)
}

// dataBlock recovers the block header from a pointer previously
// returned by data. Callers must pass a pointer obtained from this
// package; anything else is the "wild pointer free" case the spec
// leaves undefined.
func dataBlock(p unsafe.Pointer) *block {
	return blockAt(unsafe.Pointer(uintptr(p) - ptrSize))
}

// end returns the address one past b's last byte.
func (b *block) end() uintptr { return b.addr() + b.size }

// usable reports the number of bytes available to the caller, i.e. the
// block size minus its header.
func (b *block) usable() uintptr { return b.size - ptrSize }

// roundup rounds n up to the next multiple of m, m a power of two.
func roundup(n, m uintptr) uintptr { return (n + m - 1) &^ (m - 1) }

// copyBytes copies n bytes from src to dst. Both must address at least
// n live bytes; this is the unsafe boundary the merge and realloc paths
// use to relocate user data.
func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	d := unsafe.Slice((*byte)(dst), int(n))
	s := unsafe.Slice((*byte)(src), int(n))
	copy(d, s)
}

// zeroBytes zeroes n bytes starting at p.
func zeroBytes(p unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	b := unsafe.Slice((*byte)(p), int(n))
	for i := range b {
		b[i] = 0
	}
}

// optimalBlockSize computes the smallest power-of-two block size, at
// least minBlockSize, that can hold n usable bytes plus the header.
// mathutil.BitLen gives the bucket directly, matching the size-class
// computation cznic/memory performs for its own segregated lists.
func optimalBlockSize(n, minBlockSize uintptr) uintptr {
	s := n + ptrSize
	if s < minBlockSize {
		s = minBlockSize
	}
	bits := mathutil.BitLen(int(s - 1))
	return uintptr(1) << uint(bits)
}
