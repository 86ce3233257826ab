// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "unsafe"

// freeList is a doubly-linked list of free blocks kept sorted by
// ascending address, bounded by two fixed sentinel nodes so insertion,
// removal and edge detection need no special-casing. Sentinels carry
// size 0 and never participate in coalescing. Zero value is not ready
// for use; call newFreeList.
type freeList struct {
	begin        *block
	end          *block
	minBlockSize uintptr
}

func newFreeList(minBlockSize uintptr) *freeList {
	begin := &block{}
	end := &block{}
	begin.next = end
	end.prev = begin
	return &freeList{begin: begin, end: end, minBlockSize: minBlockSize}
}

func (fl *freeList) empty() bool { return fl.begin.next == fl.end }

func link(l, r *block) {
	r.prev = l
	l.next = r
}

func linkLeft(l, b *block) {
	link(b.prev, l)
	link(l, b)
}

func linkRight(b, r *block) {
	link(r, b.next)
	link(b, r)
}

func unlink(b *block) { link(b.prev, b.next) }

// replace swaps b for nb at b's current position without touching the
// rest of the list.
func replace(b, nb *block) {
	link(b.prev, nb)
	link(nb, b.next)
}

// insert adds block into fl at the position that keeps addresses
// ascending, then coalesces repeatedly with immediate neighbors until
// no adjacent pair remains. Returns the (possibly different, after a
// left merge) block that ended up on the list.
func (fl *freeList) insert(b *block) *block {
	if fl.empty() {
		linkRight(fl.begin, b)
		return b
	}

	n := fl.begin.next
	for {
		if n.addr() > b.addr() {
			linkLeft(b, n)
			break
		}
		if n.next == fl.end {
			linkRight(n, b)
			break
		}
		n = n.next
	}

	for {
		if b.end() == b.next.addr() && b.next != fl.end {
			b.size += b.next.size
			unlink(b.next)
			continue
		}
		if b.prev != fl.begin && b.prev.end() == b.addr() {
			merged := b.prev
			merged.size += b.size
			unlink(b)
			b = merged
			continue
		}
		break
	}
	return b
}

// split carves b down to exactly s bytes, replacing it on the list
// with a trailing free block of the remainder when the remainder is
// at least MinBlockSize; otherwise the whole block is unlinked and
// handed out. Returns b, resized to s.
func (fl *freeList) split(b *block, s uintptr) *block {
	remainder := b.size - s
	if remainder >= fl.minBlockSize {
		nb := blockAt(unsafe.Pointer(b.addr() + s))
		nb.size = remainder
		replace(b, nb)
		b.size = s
		return b
	}
	unlink(b)
	return b
}

// findSuitable does a first-fit scan for a free block of at least ns
// bytes, splitting it via split on a hit.
func (fl *freeList) findSuitable(ns uintptr) *block {
	for b := fl.begin.next; b != fl.end; b = b.next {
		if b.size >= ns {
			return fl.split(b, ns)
		}
	}
	return nil
}

// last returns the free block with the highest address, or nil if fl
// is empty.
func (fl *freeList) last() *block {
	if fl.empty() {
		return nil
	}
	return fl.end.prev
}

// mergeAdjacent tries to grow b to s bytes in place by absorbing a free
// block that immediately precedes or follows it in memory. The scan is
// ordered by ascending address and stops once it has passed b's right
// edge without finding a right-adjacent block, per the block layout
// invariant (no two free blocks are ever adjacent on the same list, so
// at most one left and one right candidate can exist).
//
// On a left merge the surviving block is the left neighbor (b's data is
// copied to its start); the caller must treat b as dead afterwards. On
// a right merge b itself survives, extended in place.
func (fl *freeList) mergeAdjacent(b *block, s uintptr) *block {
	if fl.empty() {
		return nil
	}

	be := b.end()
	for n := fl.begin.next; n != fl.end; n = n.next {
		if n.end() == b.addr() {
			combined := n.size + b.size
			if combined >= s {
				remainder := combined - s
				prevOfN, nextOfN := n.prev, n.next
				copyBytes(n.data(), b.data(), b.usable())
				if remainder >= fl.minBlockSize {
					n.size = s
					nb := blockAt(unsafe.Pointer(n.addr() + s))
					nb.size = remainder
					link(prevOfN, nb)
					link(nb, nextOfN)
				} else {
					n.size = combined
					link(prevOfN, nextOfN)
				}
				return n
			}
		}

		if n.addr() == be {
			combined := b.size + n.size
			if combined >= s {
				remainder := combined - s
				if remainder >= fl.minBlockSize {
					nb := blockAt(unsafe.Pointer(b.addr() + s))
					nb.size = remainder
					replace(n, nb)
					b.size = s
				} else {
					b.size = combined
					unlink(n)
				}
				return b
			}
			break
		}

		if n.addr() > be {
			break
		}
	}
	return nil
}
