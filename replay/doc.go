// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package replay drives an allocator against a recorded script of
// allocate/reallocate/free operations, the same way a deterministic
// workload-replay harness reproduces a traffic pattern captured elsewhere.
// It is allocator-agnostic: any type implementing Allocator can be driven,
// which lets the same script exercise both a single-arena and a
// multi-arena allocator without the harness knowing which it has.
package replay
