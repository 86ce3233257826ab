// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replay

import (
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"
)

// Allocator is the interface a replay Driver drives. Both
// *heap.Allocator and *heap.MultiAllocator satisfy it; the driver itself
// never distinguishes which it was given.
type Allocator interface {
	Allocate(n int) unsafe.Pointer
	Reallocate(p unsafe.Pointer, n int) unsafe.Pointer
	Free(p unsafe.Pointer)
}

// Event is what a Driver's Trace hook receives for every op it processes,
// the structured equivalent of the reference harness's verbose per-
// operation trace.
type Event struct {
	Op  Op
	Ptr unsafe.Pointer
}

// Driver replays a decoded script against an Allocator. Its zero value is
// not ready for use; Allocator must be set.
type Driver struct {
	Allocator Allocator
	// Stats, if set, is invoked for every OpStats token. The driver does
	// not synchronize calls to it; a Stats func shared across workers in
	// RunWorkers must be safe for concurrent use on its own.
	Stats func()
	// Trace, if set, is invoked after every op completes.
	Trace func(Event)
}

// Report is the accumulated result of one or more replay runs.
type Report struct {
	Timing    Timing
	Discarded int
}

// Replay drives ops against a fresh Table and returns the resulting
// timing. It never opens a file; callers decode with Parse first, which
// lets the same Driver replay the same decoded ops repeatedly without
// re-parsing.
func (d *Driver) Replay(ops []Op) Report {
	tbl := &Table{}
	var rep Report

	for _, op := range ops {
		switch op.Kind {
		case OpStats:
			var t0 time.Time
			if d.Stats != nil {
				t0 = time.Now()
				d.Stats()
				rep.Timing.Stats.Total += time.Since(t0)
			}
			rep.Timing.Stats.Count++
			d.trace(op, nil)

		case OpFree:
			p := tbl.Get(op.Slot)
			t0 := time.Now()
			d.Allocator.Free(p)
			rep.Timing.Free.Total += time.Since(t0)
			rep.Timing.Free.Count++
			tbl.Set(op.Slot, nil)
			d.trace(op, nil)

		case OpAllocOrRealloc:
			prev := tbl.Get(op.Slot)
			var p unsafe.Pointer
			t0 := time.Now()
			if prev == nil {
				p = d.Allocator.Allocate(op.Size)
				rep.Timing.Malloc.Total += time.Since(t0)
				rep.Timing.Malloc.Count++
			} else {
				p = d.Allocator.Reallocate(prev, op.Size)
				rep.Timing.Realloc.Total += time.Since(t0)
				rep.Timing.Realloc.Count++
			}
			tbl.Set(op.Slot, p)
			d.trace(op, p)
		}
	}
	return rep
}

func (d *Driver) trace(op Op, p unsafe.Pointer) {
	if d.Trace != nil {
		d.Trace(Event{Op: op, Ptr: p})
	}
}

// RunFile opens path, decodes it with Parse, and replays it once through
// d. It reports SCRIPT_OPEN_FAILURE by returning the open error; a
// malformed script never fails, it only discards the offending tokens
// (reflected in the returned Report).
func RunFile(path string, d *Driver) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, err
	}
	defer f.Close()

	pr, err := Parse(f)
	if err != nil {
		return Report{}, err
	}
	rep := d.Replay(pr.Ops)
	rep.Discarded = pr.Discarded
	return rep, nil
}

// RunWorkers spawns workers goroutines, each independently opening path,
// decoding it, and replaying it repeat times serially before finishing;
// the caller's newDriver is invoked once per worker so each worker gets
// its own Driver (and, through it, its own Table per run, via Replay).
// RunWorkers always joins every worker before returning, mirroring the
// reference harness's thread-per-worker-then-join-all model; unlike the
// reference harness, a goroutine cannot fail to spawn, so the
// THREAD_SPAWN_FAILURE abort path the reference implementation has for
// pthread_create has no equivalent here.
//
// A worker that hits SCRIPT_OPEN_FAILURE logs it to stderr and stops
// early, returning whatever it accumulated so far; other workers are
// unaffected.
func RunWorkers(path string, workers, repeat int, newDriver func() *Driver) []Report {
	reports := make([]Report, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			d := newDriver()
			var agg Report
			for r := 0; r < repeat; r++ {
				rep, err := RunFile(path, d)
				if err != nil {
					fmt.Fprintf(os.Stderr, "replay: worker %d: %v\n", i, err)
					break
				}
				agg.Timing.add(rep.Timing)
				agg.Discarded += rep.Discarded
			}
			reports[i] = agg
		}(i)
	}
	wg.Wait()
	return reports
}
