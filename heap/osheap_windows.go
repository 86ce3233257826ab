// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Memory Authors.

//go:build windows

package heap

import (
	"errors"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// breakReserve mirrors the non-Linux Unix fallback: a large chunk of
// address space is reserved once and committed/decommitted in place to
// simulate a contiguous, growable program break.
const breakReserve = 1 << 34

var (
	breakOnce sync.Once
	breakBase uintptr
	breakErr  error

	breakMu sync.Mutex
	// breakCommit is the logical break position, any byte value;
	// committedPages is the page-aligned boundary of what is actually
	// committed via VirtualAlloc, always >= breakCommit. Mirrors the
	// non-Windows fallback's split between logical and committed break.
	breakCommit    uintptr
	committedPages uintptr
)

func initSimulatedBreak() {
	addr, err := windows.VirtualAlloc(0, breakReserve, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		breakErr = err
		return
	}
	breakBase = addr
}

func osPageSize() int {
	var si windows.SystemInfo
	windows.GetSystemInfo(&si)
	return int(si.PageSize)
}

// osGrowBreak simulates sbrk by committing or decommitting pages within
// the reserved region instead of moving a real kernel break pointer.
// VirtualAlloc/VirtualFree operate on page-aligned regions, so the
// logical break (arbitrary, allocator-granularity deltas) is tracked
// separately from the page-aligned boundary of what is actually
// committed; only whole pages are ever committed or decommitted.
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
			addr := breakBase + committedPages
			if _, err := windows.VirtualAlloc(addr, needed-committedPages, windows.MEM_COMMIT, windows.PAGE_READWRITE); err != nil {
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
		addr := breakBase + needed
		_ = windows.VirtualFree(addr, committedPages-needed, windows.MEM_DECOMMIT)
		committedPages = needed
	}
	breakCommit = newCommit
	return breakBase + newCommit, nil
}

func osMmap(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func osMunmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.VirtualFree(uintptr(unsafe.Pointer(&b[0])), 0, windows.MEM_RELEASE)
}

// osMremap has no Windows equivalent, so it is emulated with a fresh
// mapping, a copy, and a release of the old one.
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
