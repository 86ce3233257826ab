// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Memory Authors.

//go:build linux

package heap

import (
	"os"

	"golang.org/x/sys/unix"
)

var cachedPageSize = os.Getpagesize()

func osPageSize() int { return cachedPageSize }

// osBrk wraps the raw brk(2) syscall: addr 0 queries the current break,
// any other value requests a new one. The kernel always returns the
// resulting break, whether or not the request could be satisfied in
// full.
func osBrk(addr uintptr) (uintptr, error) {
	r1, _, errno := unix.Syscall(unix.SYS_BRK, addr, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return r1, nil
}

// osGrowBreak adjusts the program break by delta bytes (delta may be
// negative) and returns the address at which newly available memory
// begins (for delta > 0) or the new break (for delta <= 0).
func osGrowBreak(delta int) (uintptr, error) {
	cur, err := osBrk(0)
	if err != nil {
		return 0, err
	}

	target := uintptr(int64(cur) + int64(delta))
	got, err := osBrk(target)
	if err != nil {
		return 0, err
	}

	if delta > 0 {
		if got < target {
			return 0, unix.ENOMEM
		}
		return cur, nil
	}
	return got, nil
}

func osMmap(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func osMunmap(b []byte) error {
	return unix.Munmap(b)
}

func osMremap(b []byte, newSize int) ([]byte, error) {
	return unix.Mremap(b, newSize, unix.MREMAP_MAYMOVE)
}
