// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replay

import (
	"os"
	"strings"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/troydm/mymalloc/heap"
)

// fakeAllocator counts calls without touching real memory, so trace and
// timing behavior can be asserted independently of the heap package.
type fakeAllocator struct {
	mu                      sync.Mutex
	allocs, reallocs, frees int
	slabs                   [][]byte
}

func (f *fakeAllocator) Allocate(n int) unsafe.Pointer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocs++
	buf := make([]byte, n)
	f.slabs = append(f.slabs, buf)
	return unsafe.Pointer(&buf[0])
}

func (f *fakeAllocator) Reallocate(p unsafe.Pointer, n int) unsafe.Pointer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reallocs++
	buf := make([]byte, n)
	f.slabs = append(f.slabs, buf)
	return unsafe.Pointer(&buf[0])
}

func (f *fakeAllocator) Free(p unsafe.Pointer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frees++
}

func TestReplayDispatchesAllocVsRealloc(t *testing.T) {
	fa := &fakeAllocator{}
	d := &Driver{Allocator: fa}

	pr, err := Parse(strings.NewReader("0=16 0=32 0\n"))
	require.NoError(t, err)

	rep := d.Replay(pr.Ops)
	require.Equal(t, 1, fa.allocs)
	require.Equal(t, 1, fa.reallocs)
	require.Equal(t, 1, fa.frees)
	require.EqualValues(t, 1, rep.Timing.Malloc.Count)
	require.EqualValues(t, 1, rep.Timing.Realloc.Count)
	require.EqualValues(t, 1, rep.Timing.Free.Count)
}

func TestReplayInvokesStats(t *testing.T) {
	fa := &fakeAllocator{}
	calls := 0
	d := &Driver{Allocator: fa, Stats: func() { calls++ }}

	pr, err := Parse(strings.NewReader("s s s\n"))
	require.NoError(t, err)

	rep := d.Replay(pr.Ops)
	require.Equal(t, 3, calls)
	require.EqualValues(t, 3, rep.Timing.Stats.Count)
}

func TestReplayTraceSeesEveryOp(t *testing.T) {
	fa := &fakeAllocator{}
	var events []Event
	d := &Driver{Allocator: fa, Trace: func(e Event) { events = append(events, e) }}

	pr, err := Parse(strings.NewReader("0=16 0\n"))
	require.NoError(t, err)

	d.Replay(pr.Ops)
	require.Len(t, events, 2)
	require.Equal(t, OpAllocOrRealloc, events[0].Op.Kind)
	require.NotNil(t, events[0].Ptr)
	require.Equal(t, OpFree, events[1].Op.Kind)
}

func TestReplayAgainstRealAllocator(t *testing.T) {
	a := heap.NewWithConfig(heap.Config{MinBlockSize: 32, AllocSize: 64 << 10, GiveBackSize: 64 << 10, MMapSize: 4 << 10})
	d := &Driver{Allocator: a}

	pr, err := Parse(strings.NewReader("0=64 1=64 0=128 0 1\n"))
	require.NoError(t, err)

	rep := d.Replay(pr.Ops)
	require.EqualValues(t, 2, rep.Timing.Malloc.Count)
	require.EqualValues(t, 1, rep.Timing.Realloc.Count)
	require.EqualValues(t, 2, rep.Timing.Free.Count)
	require.Equal(t, 64<<10, a.HeapSize())
}

func TestRunWorkersAggregatesAcrossRepeats(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/script.ms"
	require.NoError(t, writeFile(path, "0=16 0\n"))

	reports := RunWorkers(path, 4, 3, func() *Driver {
		return &Driver{Allocator: &fakeAllocator{}}
	})

	require.Len(t, reports, 4)
	for _, rep := range reports {
		require.EqualValues(t, 3, rep.Timing.Malloc.Count)
		require.EqualValues(t, 3, rep.Timing.Free.Count)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
