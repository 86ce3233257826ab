// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replay

import "unsafe"

// TableSize is the fixed number of slots a script's indices address.
const TableSize = 4096

// Table is a worker-private pointer table, the Go analogue of the fixed
// on-stack pointer array the reference harness allocates per run. Its
// zero value is ready for use with every slot null.
type Table struct {
	slots [TableSize]unsafe.Pointer
}

// Get returns the pointer at i, or nil if i is out of range.
func (t *Table) Get(i int) unsafe.Pointer {
	if i < 0 || i >= TableSize {
		return nil
	}
	return t.slots[i]
}

// Set stores p at i. Out-of-range i is silently ignored, matching the
// reference harness's fixed-size stack array with no bounds check of its
// own beyond what the script format already guarantees.
func (t *Table) Set(i int, p unsafe.Pointer) {
	if i < 0 || i >= TableSize {
		return
	}
	t.slots[i] = p
}
