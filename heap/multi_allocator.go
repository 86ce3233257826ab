// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"
)

// ArenaCount is the fixed number of independent free lists MultiAllocator
// shards its bookkeeping across.
const ArenaCount = 4

// arena is one shard: its own spinlock and its own sorted, sentinel-bounded
// free list. The heap range itself (heapStart/heapEnd/heapSize) is not
// sharded; it lives on MultiAllocator and is owned by globalMu.
type arena struct {
	mu   spinlock
	free *freeList
}

// MultiAllocator is the sharded variant: ArenaCount independent arenas,
// each guarded by its own spinlock, plus one global spinlock that owns the
// heap range and serializes program-break growth. Splitting the free-list
// bookkeeping this way lets unrelated allocate/free calls proceed without
// contending on a single lock; the tradeoff is that a block freed back to
// a different arena than the one it was carved from can leave a given
// arena's view of the heap more fragmented than a single free list would.
// Its zero value is not ready for use; call NewMulti or NewMultiWithConfig.
type MultiAllocator struct {
	globalMu spinlock
	cfg      Config

	arenas [ArenaCount]*arena
	rr     uint32 // round-robin cursor for pickArena

	heapStart uintptr
	heapEnd   uintptr
	heapSize  uintptr
	mmapSize  uintptr

	errMu   sync.Mutex
	lastErr error
}

// NewMulti returns a MultiAllocator configured with DefaultConfig.
func NewMulti() *MultiAllocator { return NewMultiWithConfig(Config{}) }

// NewMultiWithConfig returns a MultiAllocator using cfg, with any zero
// field filled in from DefaultConfig.
func NewMultiWithConfig(cfg Config) *MultiAllocator {
	cfg = cfg.orDefaults()
	m := &MultiAllocator{cfg: cfg}
	for i := range m.arenas {
		m.arenas[i] = &arena{free: newFreeList(cfg.MinBlockSize)}
	}
	return m
}

// LastError returns the most recent OS-level failure observed by m, or
// nil. Diagnostic only, exactly as on Allocator.
func (m *MultiAllocator) LastError() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.lastErr
}

func (m *MultiAllocator) setLastErr(err error) {
	m.errMu.Lock()
	m.lastErr = err
	m.errMu.Unlock()
}

func (m *MultiAllocator) isHeapBlock(b *block) bool {
	addr := b.addr()
	return m.heapStart <= addr && addr < m.heapEnd
}

// pickArena chooses an arena by round-robin. It is used wherever a block
// must be placed into some arena but no arena is already implicated
// (growHeap's remainder, Free's insert target).
func (m *MultiAllocator) pickArena() int {
	n := atomic.AddUint32(&m.rr, 1)
	return int(n) % ArenaCount
}

// Allocate returns a pointer to at least n usable bytes, or nil if n is 0
// or the OS refuses more memory. Allocate panics if n is negative.
//
// The heap path tries each arena in turn via a non-blocking try-lock,
// starting at a round-robin offset so repeated calls fan out across
// arenas instead of always starting at arena 0; an arena that is busy is
// skipped rather than waited on. If every arena is busy or none has a
// suitable block, it falls back to blocking on the arena it started at
// and, failing that, grows the heap.
func (m *MultiAllocator) Allocate(n int) (r unsafe.Pointer) {
	if Trace {
		defer func() { fmt.Fprintf(os.Stderr, "MultiAllocator.Allocate(%#x) %p\n", n, r) }()
	}
	if n < 0 {
		panic("heap: invalid allocation size")
	}
	if n == 0 {
		return nil
	}

	ns := optimalBlockSize(uintptr(n), m.cfg.MinBlockSize)
	if ns >= m.cfg.MMapSize {
		return m.allocateLarge(n)
	}

	start := m.pickArena()
	if b := m.tryArenas(ns, start); b != nil {
		return b.data()
	}

	ar := m.arenas[start]
	ar.mu.Lock()
	b := ar.free.findSuitable(ns)
	ar.mu.Unlock()
	if b != nil {
		return b.data()
	}

	m.globalMu.Lock()
	b, remainder, err := m.growHeap(ns)
	m.globalMu.Unlock()
	if err != nil {
		m.setLastErr(err)
		return nil
	}
	if remainder != nil {
		rar := m.arenas[m.pickArena()]
		rar.mu.Lock()
		rar.free.insert(remainder)
		rar.mu.Unlock()
	}
	return b.data()
}

// tryArenas does one non-blocking pass over every arena starting at
// start, looking for a suitable free block without ever waiting on a
// contended arena.
func (m *MultiAllocator) tryArenas(ns uintptr, start int) *block {
	for i := 0; i < ArenaCount; i++ {
		ar := m.arenas[(start+i)%ArenaCount]
		if !ar.mu.TryLock() {
			continue
		}
		b := ar.free.findSuitable(ns)
		ar.mu.Unlock()
		if b != nil {
			return b
		}
	}
	return nil
}

// growHeap extends the heap via the program-break primitive and carves
// the requested block from the new extension. The remainder, if large
// enough to keep, is returned separately so the caller can insert it into
// whichever arena it likes instead of this method deciding. Callers must
// hold m.globalMu.
func (m *MultiAllocator) growHeap(ns uintptr) (carved *block, remainder *block, err error) {
	pageSize := uintptr(osPageSize())
	pagesSize := roundup(ns+1, pageSize)
	if pagesSize < m.cfg.AllocSize {
		pagesSize = m.cfg.AllocSize
	}

	addr, err := osGrowBreak(int(pagesSize))
	if err != nil {
		return nil, nil, err
	}

	b := blockAt(unsafe.Pointer(addr))
	b.size = ns

	m.heapSize += pagesSize
	m.heapEnd = addr + pagesSize
	m.heapStart = m.heapEnd - m.heapSize

	rem := pagesSize - ns
	if rem >= m.cfg.MinBlockSize {
		nb := blockAt(unsafe.Pointer(addr + ns))
		nb.size = rem
		remainder = nb
	}
	return b, remainder, nil
}

func (m *MultiAllocator) allocateLarge(n int) unsafe.Pointer {
	s := uintptr(n) + ptrSize
	buf, err := osMmap(int(s))
	if err != nil {
		m.setLastErr(err)
		return nil
	}

	b := blockAt(unsafe.Pointer(&buf[0]))
	b.size = s

	m.globalMu.Lock()
	m.mmapSize += s
	m.globalMu.Unlock()
	return b.data()
}

// Reallocate resizes the allocation at p to n bytes, preserving
// min(n, old usable size) bytes of the prior contents. p == nil behaves
// like Allocate(n); n == 0 behaves like Free(p) and returns nil.
func (m *MultiAllocator) Reallocate(p unsafe.Pointer, n int) (r unsafe.Pointer) {
	if Trace {
		defer func() { fmt.Fprintf(os.Stderr, "MultiAllocator.Reallocate(%p, %#x) %p\n", p, n, r) }()
	}
	if p == nil {
		return m.Allocate(n)
	}
	if n == 0 {
		m.Free(p)
		return nil
	}

	b := dataBlock(p)
	if !m.isHeapBlock(b) {
		return m.reallocateLarge(b, n)
	}

	ns := optimalBlockSize(uintptr(n), m.cfg.MinBlockSize)
	if b.size >= ns {
		return p
	}

	// mergeAdjacent only ever looks at the immediate left/right neighbor
	// in memory, which can live in any arena, so every arena is tried in
	// turn; the first one whose list happens to hold that neighbor wins.
	for i := 0; i < ArenaCount; i++ {
		ar := m.arenas[i]
		ar.mu.Lock()
		nb := ar.free.mergeAdjacent(b, ns)
		ar.mu.Unlock()
		if nb != nil {
			return nb.data()
		}
	}

	np := m.Allocate(n)
	if np == nil {
		return nil
	}
	copySize := b.usable()
	if uintptr(n) < copySize {
		copySize = uintptr(n)
	}
	copyBytes(np, p, copySize)
	m.Free(p)
	return np
}

func (m *MultiAllocator) reallocateLarge(b *block, n int) unsafe.Pointer {
	ns := uintptr(n) + ptrSize
	old := b.size

	m.globalMu.Lock()
	m.mmapSize = m.mmapSize - old + ns
	m.globalMu.Unlock()

	oldSlice := unsafe.Slice((*byte)(unsafe.Pointer(b)), int(old))
	newSlice, err := osMremap(oldSlice, int(ns))
	if err != nil {
		m.globalMu.Lock()
		m.mmapSize = m.mmapSize - ns + old
		m.globalMu.Unlock()
		m.setLastErr(err)
		return nil
	}

	nb := blockAt(unsafe.Pointer(&newSlice[0]))
	nb.size = ns
	return nb.data()
}

// Free releases the region addressed by p back to the allocator. A nil p
// is a no-op. Double-free is undefined behavior.
//
// The block is inserted into a round-robin-chosen arena rather than the
// arena it happened to be carved from; the spec leaves this choice open,
// trading a more even lock-contention spread for a looser correspondence
// between an arena's free list and its own past allocations.
func (m *MultiAllocator) Free(p unsafe.Pointer) {
	if Trace {
		defer func() { fmt.Fprintf(os.Stderr, "MultiAllocator.Free(%p)\n", p) }()
	}
	if p == nil {
		return
	}

	b := dataBlock(p)

	if !m.isHeapBlock(b) {
		m.globalMu.Lock()
		sz := b.size
		m.mmapSize -= sz
		m.globalMu.Unlock()
		buf := unsafe.Slice((*byte)(unsafe.Pointer(b)), int(sz))
		if err := osMunmap(buf); err != nil {
			m.setLastErr(err)
		}
		return
	}

	ar := m.arenas[m.pickArena()]
	ar.mu.Lock()
	ar.free.insert(b)
	ar.mu.Unlock()

	m.tryGiveBack()
}

// tryGiveBack implements the resolution to the multi-arena give-back
// race: take the global lock, then attempt a non-blocking TryLock on
// every arena. If any arena is busy, release whatever was acquired and
// skip give-back for this call entirely: the pages stay resident and
// the next Free tries again. Only when every arena can be locked without
// waiting does it inspect the union of free lists' highest-address block
// against heap_end and trim. Because the all-arena acquisition never
// blocks, this can never deadlock against a concurrent tryGiveBack (or
// against Allocate's tryArenas, which never holds more than one arena
// lock at a time).
func (m *MultiAllocator) tryGiveBack() {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	locked := 0
	for locked < ArenaCount {
		if !m.arenas[locked].mu.TryLock() {
			break
		}
		locked++
	}
	if locked < ArenaCount {
		for i := 0; i < locked; i++ {
			m.arenas[i].mu.Unlock()
		}
		return
	}
	defer func() {
		for i := 0; i < ArenaCount; i++ {
			m.arenas[i].mu.Unlock()
		}
	}()

	last := m.lastTrailingBlock()
	if last == nil || last.size < m.cfg.GiveBackSize {
		return
	}

	if last.addr() == m.heapStart {
		if last.size == m.cfg.GiveBackSize {
			return
		}
		shrinkBy := last.size - m.cfg.GiveBackSize
		if _, err := osGrowBreak(-int(shrinkBy)); err != nil {
			m.setLastErr(err)
			return
		}
		last.size = m.cfg.GiveBackSize
		m.heapEnd -= shrinkBy
		m.heapSize -= shrinkBy
		return
	}

	inc := last.size
	unlink(last)
	if _, err := osGrowBreak(-int(inc)); err != nil {
		m.setLastErr(err)
		return
	}
	m.heapEnd -= inc
	m.heapSize -= inc
	m.heapStart = m.heapEnd - m.heapSize
}

// lastTrailingBlock finds, across every arena's free list, the block
// that abuts heap_end, if any. At most one can exist at a time since
// heap_end is a single address. Callers must already hold every arena
// lock plus globalMu.
func (m *MultiAllocator) lastTrailingBlock() *block {
	for _, ar := range m.arenas {
		if l := ar.free.last(); l != nil && l.end() == m.heapEnd {
			return l
		}
	}
	return nil
}

// ZeroAllocate is Allocate(nmemb*size) with the result zero-filled.
// Overflow of nmemb*size is not detected; callers provide sane inputs.
func (m *MultiAllocator) ZeroAllocate(nmemb, size int) unsafe.Pointer {
	n := nmemb * size
	p := m.Allocate(n)
	if p == nil {
		return nil
	}
	zeroBytes(p, uintptr(n))
	return p
}

// HeapSize reports the number of bytes currently obtained from the OS via
// the program-break primitive.
func (m *MultiAllocator) HeapSize() int {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	return int(m.heapSize)
}

// MMapSize reports the number of bytes currently live in direct OS
// mappings (the large-block path).
func (m *MultiAllocator) MMapSize() int {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	return int(m.mmapSize)
}
