// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Memory Authors.

//go:build !linux && !windows

package heap

import (
	"errors"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// breakReserve is the virtual address space set aside up front to
// simulate a contiguous, growable program break on platforms without a
// real brk(2) (darwin, the BSDs). Reserving it costs no physical
// memory: pages start out PROT_NONE and are only committed (mprotect'd
// readable/writable) as the simulated break advances.
const breakReserve = 1 << 34

var (
	breakOnce sync.Once
	breakBase uintptr
	breakErr  error

	breakMu sync.Mutex
	// breakCommit is the logical break position, in bytes from
	// breakBase, exactly as a real brk(2) tracks it: any byte value, not
	// just a page multiple. committedPages is how much of the reserved
	// region is actually mprotect'd READ|WRITE, always a multiple of the
	// page size and always >= breakCommit, so breakCommit can sit inside
	// the last committed page without that page needing to be split.
	breakCommit    uintptr
	committedPages uintptr
)

func initSimulatedBreak() {
	region, err := unix.Mmap(-1, 0, breakReserve, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		breakErr = err
		return
	}
	breakBase = uintptr(unsafe.Pointer(&region[0]))
}

func osPageSize() int { return os.Getpagesize() }

// osGrowBreak simulates sbrk by committing or decommitting pages within
// the reserved region instead of moving a real kernel break pointer.
// mprotect requires its address and length to be page-aligned, so the
// logical break (which can land anywhere, since callers give it
// arbitrary, allocator-granularity deltas) is tracked separately from
// the page-aligned boundary of what is actually committed; only whole
// pages are ever committed or decommitted.
func osGrowBreak(delta int) (uintptr, error) {
	breakMu.Lock()
	defer breakMu.Unlock()

	breakOnce.Do(initSimulatedBreak)
	if breakErr != nil {
		return 0, breakErr
	}

	pageSize := uintptr(osPageSize())
	old := breakCommit
	if delta > 0 {
		newCommit := old + uintptr(delta)
		needed := roundup(newCommit, pageSize)
		if needed > committedPages {
			region := unsafe.Slice((*byte)(unsafe.Pointer(breakBase+committedPages)), int(needed-committedPages))
			if err := unix.Mprotect(region, unix.PROT_READ|unix.PROT_WRITE); err != nil {
				return 0, err
			}
			committedPages = needed
		}
		breakCommit = newCommit
		return breakBase + old, nil
	}

	shrink := uintptr(-delta)
	if shrink > breakCommit {
		return 0, errors.New("heap: break underflow")
	}
	newCommit := breakCommit - shrink
	needed := roundup(newCommit, pageSize)
	if needed < committedPages {
		region := unsafe.Slice((*byte)(unsafe.Pointer(breakBase+needed)), int(committedPages-needed))
		_ = unix.Mprotect(region, unix.PROT_NONE)
		committedPages = needed
	}
	breakCommit = newCommit
	return breakBase + newCommit, nil
}

func osMmap(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func osMunmap(b []byte) error {
	return unix.Munmap(b)
}

// osMremap has no portable non-Linux equivalent, so it is emulated with
// a fresh mapping, a copy, and an unmap of the old one.
func osMremap(b []byte, newSize int) ([]byte, error) {
	nb, err := osMmap(newSize)
	if err != nil {
		return nil, err
	}
	n := len(b)
	if newSize < n {
		n = newSize
	}
	copy(nb, b[:n])
	if err := osMunmap(b); err != nil {
		return nil, err
	}
	return nb, nil
}
