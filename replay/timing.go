// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replay

import "time"

// OpTiming accumulates time spent and calls made for one operation kind.
type OpTiming struct {
	Total time.Duration
	Count uint32
}

// Timing accumulates per-operation timing across a replay run. The
// reference harness keeps malloc and realloc counters separate even
// though both are driven by the same script token, because which one
// actually happens is a runtime fact (is the slot currently occupied);
// this type preserves that split.
type Timing struct {
	Malloc  OpTiming
	Realloc OpTiming
	Free    OpTiming
	Stats   OpTiming
}

func (t *Timing) add(o Timing) {
	t.Malloc.Total += o.Malloc.Total
	t.Malloc.Count += o.Malloc.Count
	t.Realloc.Total += o.Realloc.Total
	t.Realloc.Count += o.Realloc.Count
	t.Free.Total += o.Free.Total
	t.Free.Count += o.Free.Count
	t.Stats.Total += o.Stats.Total
	t.Stats.Count += o.Stats.Count
}
