// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"runtime"
	"sync/atomic"
)

// spinSpin is the bounded spin count before a contended lock attempt
// yields the scheduler, matching the reference implementation's
// spin-10-then-sched_yield loop.
const spinSpin = 10

// spinlock is a test-and-set lock built for short, uncontended-in-the-
// common-case critical sections. It is not reentrant.
type spinlock struct {
	locked uint32
}

// TryLock attempts to acquire the lock without spinning or blocking.
func (l *spinlock) TryLock() bool {
	return atomic.CompareAndSwapUint32(&l.locked, 0, 1)
}

func (l *spinlock) Lock() {
	if atomic.CompareAndSwapUint32(&l.locked, 0, 1) {
		return
	}

	i := 0
	for {
		if atomic.CompareAndSwapUint32(&l.locked, 0, 1) {
			return
		}
		i++
		if i == spinSpin {
			i = 0
			runtime.Gosched()
		}
	}
}

// Unlock releases the lock. atomic.StoreUint32 carries release
// semantics, so stores made under the lock cannot be reordered past it.
func (l *spinlock) Unlock() {
	atomic.StoreUint32(&l.locked, 0)
}
