// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"fmt"
	"os"
	"sync"
	"unsafe"
)

// Trace, when set, makes Allocate, Reallocate and Free (on both Allocator
// and MultiAllocator) log their arguments, and their result where there
// is one, to stderr. It exists purely for interactive debugging and carries no
// overhead beyond a branch when left false.
var Trace bool

// Config carries the tunables the reference implementation hard-codes
// as compile-time constants. Tests shrink these to exercise the
// large-block and give-back paths without touching real 32MiB/1MiB
// regions; production code should use DefaultConfig.
type Config struct {
	// MinBlockSize is the smallest block size, header included, the
	// heap path ever produces (must be at least 3*pointer-size to hold
	// the free-list linkage; see block.go).
	MinBlockSize uintptr
	// AllocSize is the minimum amount requested from the OS on a heap
	// miss.
	AllocSize uintptr
	// GiveBackSize is the trailing free-region threshold at which a
	// deallocate returns heap pages to the OS.
	GiveBackSize uintptr
	// MMapSize is the block-size threshold at or above which an
	// allocation is served by a direct OS mapping.
	MMapSize uintptr
}

// DefaultConfig returns the reference implementation's tunables.
func DefaultConfig() Config {
	return Config{
		MinBlockSize: MinBlockSize,
		AllocSize:    AllocSize,
		GiveBackSize: GiveBackSize,
		MMapSize:     MMapSize,
	}
}

func (c Config) orDefaults() Config {
	d := DefaultConfig()
	if c.MinBlockSize == 0 {
		c.MinBlockSize = d.MinBlockSize
	}
	if c.AllocSize == 0 {
		c.AllocSize = d.AllocSize
	}
	if c.GiveBackSize == 0 {
		c.GiveBackSize = d.GiveBackSize
	}
	if c.MMapSize == 0 {
		c.MMapSize = d.MMapSize
	}
	return c
}

// Allocator is the single-arena variant: one process-wide spinlock
// guards the heap range and its one sorted free list. Its zero value is
// not ready for use; call New or NewWithConfig.
type Allocator struct {
	mu  spinlock
	cfg Config

	free *freeList

	heapStart uintptr
	heapEnd   uintptr
	heapSize  uintptr
	mmapSize  uintptr

	errMu   sync.Mutex
	lastErr error
}

// New returns an Allocator configured with DefaultConfig.
func New() *Allocator { return NewWithConfig(Config{}) }

// NewWithConfig returns an Allocator using cfg, with any zero field
// filled in from DefaultConfig.
func NewWithConfig(cfg Config) *Allocator {
	cfg = cfg.orDefaults()
	return &Allocator{cfg: cfg, free: newFreeList(cfg.MinBlockSize)}
}

// LastError returns the most recent OS-level failure observed by a
// (the brk/mmap/mremap errno-equivalent), or nil. It is diagnostic
// only: Allocate/Reallocate already signal the same failure by
// returning nil, exactly as malloc signals it via NULL.
func (a *Allocator) LastError() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.lastErr
}

func (a *Allocator) setLastErr(err error) {
	a.errMu.Lock()
	a.lastErr = err
	a.errMu.Unlock()
}

func (a *Allocator) isHeapBlock(b *block) bool {
	addr := b.addr()
	return a.heapStart <= addr && addr < a.heapEnd
}

// Allocate returns a pointer to at least n usable bytes, or nil if n is
// 0 or the OS refuses more memory. Allocate panics if n is negative.
func (a *Allocator) Allocate(n int) (r unsafe.Pointer) {
	if Trace {
		defer func() { fmt.Fprintf(os.Stderr, "Allocate(%#x) %p\n", n, r) }()
	}
	if n < 0 {
		panic("heap: invalid allocation size")
	}
	if n == 0 {
		return nil
	}

	ns := optimalBlockSize(uintptr(n), a.cfg.MinBlockSize)
	if ns >= a.cfg.MMapSize {
		return a.allocateLarge(n)
	}

	a.mu.Lock()
	if b := a.free.findSuitable(ns); b != nil {
		a.mu.Unlock()
		return b.data()
	}

	b, err := a.growHeap(ns)
	a.mu.Unlock()
	if err != nil {
		a.setLastErr(err)
		return nil
	}
	return b.data()
}

// growHeap extends the heap via the program-break primitive and carves
// the requested block from the new extension, inserting any leftover
// tail into the free list. Callers must hold a.mu.
func (a *Allocator) growHeap(ns uintptr) (*block, error) {
	pageSize := uintptr(osPageSize())
	pagesSize := roundup(ns+1, pageSize)
	if pagesSize < a.cfg.AllocSize {
		pagesSize = a.cfg.AllocSize
	}

	addr, err := osGrowBreak(int(pagesSize))
	if err != nil {
		return nil, err
	}

	b := blockAt(unsafe.Pointer(addr))
	b.size = ns

	a.heapSize += pagesSize
	a.heapEnd = addr + pagesSize
	a.heapStart = a.heapEnd - a.heapSize

	remainder := pagesSize - ns
	if remainder >= a.cfg.MinBlockSize {
		rem := blockAt(unsafe.Pointer(addr + ns))
		rem.size = remainder
		a.free.insert(rem)
	}
	return b, nil
}

func (a *Allocator) allocateLarge(n int) unsafe.Pointer {
	s := uintptr(n) + ptrSize
	buf, err := osMmap(int(s))
	if err != nil {
		a.setLastErr(err)
		return nil
	}

	b := blockAt(unsafe.Pointer(&buf[0]))
	b.size = s

	a.mu.Lock()
	a.mmapSize += s
	a.mu.Unlock()
	return b.data()
}

// Reallocate resizes the allocation at p to n bytes, preserving
// min(n, old usable size) bytes of the prior contents. p == nil behaves
// like Allocate(n); n == 0 behaves like Free(p) and returns nil.
func (a *Allocator) Reallocate(p unsafe.Pointer, n int) (r unsafe.Pointer) {
	if Trace {
		defer func() { fmt.Fprintf(os.Stderr, "Reallocate(%p, %#x) %p\n", p, n, r) }()
	}
	if p == nil {
		return a.Allocate(n)
	}
	if n == 0 {
		a.Free(p)
		return nil
	}

	b := dataBlock(p)
	if !a.isHeapBlock(b) {
		return a.reallocateLarge(b, n)
	}

	ns := optimalBlockSize(uintptr(n), a.cfg.MinBlockSize)

	a.mu.Lock()
	if b.size >= ns {
		a.mu.Unlock()
		return p
	}
	if nb := a.free.mergeAdjacent(b, ns); nb != nil {
		a.mu.Unlock()
		return nb.data()
	}
	a.mu.Unlock()

	np := a.Allocate(n)
	if np == nil {
		return nil
	}
	copySize := b.usable()
	if uintptr(n) < copySize {
		copySize = uintptr(n)
	}
	copyBytes(np, p, copySize)
	a.Free(p)
	return np
}

func (a *Allocator) reallocateLarge(b *block, n int) unsafe.Pointer {
	ns := uintptr(n) + ptrSize
	old := b.size

	a.mu.Lock()
	a.mmapSize = a.mmapSize - old + ns
	a.mu.Unlock()

	oldSlice := unsafe.Slice((*byte)(unsafe.Pointer(b)), int(old))
	newSlice, err := osMremap(oldSlice, int(ns))
	if err != nil {
		a.mu.Lock()
		a.mmapSize = a.mmapSize - ns + old
		a.mu.Unlock()
		a.setLastErr(err)
		return nil
	}

	nb := blockAt(unsafe.Pointer(&newSlice[0]))
	nb.size = ns
	return nb.data()
}

// Free releases the region addressed by p back to the allocator. A nil
// p is a no-op. Double-free is undefined behavior.
func (a *Allocator) Free(p unsafe.Pointer) {
	if Trace {
		defer func() { fmt.Fprintf(os.Stderr, "Free(%p)\n", p) }()
	}
	if p == nil {
		return
	}

	b := dataBlock(p)

	a.mu.Lock()
	if !a.isHeapBlock(b) {
		sz := b.size
		a.mmapSize -= sz
		a.mu.Unlock()
		buf := unsafe.Slice((*byte)(unsafe.Pointer(b)), int(sz))
		if err := osMunmap(buf); err != nil {
			a.setLastErr(err)
		}
		return
	}

	a.free.insert(b)
	a.giveBackIfTrailing()
	a.mu.Unlock()
}

// giveBackIfTrailing inspects the free list's highest-address block
// and, if it abuts heap_end and is at least GiveBackSize, returns the
// unneeded pages to the OS. Callers must hold a.mu.
func (a *Allocator) giveBackIfTrailing() {
	last := a.free.last()
	if last == nil || last.end() != a.heapEnd || last.size < a.cfg.GiveBackSize {
		return
	}

	if last.addr() == a.heapStart {
		if last.size == a.cfg.GiveBackSize {
			return
		}
		shrinkBy := last.size - a.cfg.GiveBackSize
		if _, err := osGrowBreak(-int(shrinkBy)); err != nil {
			a.setLastErr(err)
			return
		}
		last.size = a.cfg.GiveBackSize
		a.heapEnd -= shrinkBy
		a.heapSize -= shrinkBy
		return
	}

	inc := last.size
	unlink(last)
	if _, err := osGrowBreak(-int(inc)); err != nil {
		a.setLastErr(err)
		return
	}
	a.heapEnd -= inc
	a.heapSize -= inc
	a.heapStart = a.heapEnd - a.heapSize
}

// ZeroAllocate is Allocate(nmemb*size) with the result zero-filled.
// Overflow of nmemb*size is not detected; callers provide sane inputs.
func (a *Allocator) ZeroAllocate(nmemb, size int) unsafe.Pointer {
	n := nmemb * size
	p := a.Allocate(n)
	if p == nil {
		return nil
	}
	zeroBytes(p, uintptr(n))
	return p
}

// HeapSize reports the number of bytes currently obtained from the OS
// via the program-break primitive.
func (a *Allocator) HeapSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.heapSize)
}

// MMapSize reports the number of bytes currently live in direct OS
// mappings (the large-block path).
func (a *Allocator) MMapSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.mmapSize)
}
