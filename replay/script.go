// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replay

import (
	"io"
	"strconv"
)

// OpKind identifies what a parsed Op asks the driver to do.
type OpKind int

const (
	// OpAllocOrRealloc records at Slot: allocate(Size) if the slot is
	// currently empty, reallocate(slot, Size) otherwise. Which one it
	// turns out to be is a runtime fact decided against the table, not
	// something the script encodes.
	OpAllocOrRealloc OpKind = iota
	// OpFree deallocates the pointer at Slot and clears it.
	OpFree
	// OpStats invokes the registered stats callback, if any.
	OpStats
)

// Op is one decoded script instruction.
type Op struct {
	Kind OpKind
	Slot int
	Size int
}

// ParseResult is the decoded script plus a count of tokens that could not
// be interpreted.
type ParseResult struct {
	Ops []Op
	// Discarded counts malformed integer tokens and any index token
	// (`i=`) left dangling with no following size token, both of which
	// are dropped rather than applied.
	Discarded int
}

// Parse reads a script and decodes it into a sequence of Ops. Tokens are
// separated by spaces, tabs, newlines, carriage returns, or '='; an '='
// immediately following a token marks that token as a slot index pending
// the next token's size. A bare "e" token stops decoding immediately,
// discarding everything after it in the stream, exactly as `e` truncates
// replay mid-line. A bare "s" token becomes OpStats. Any other token must
// parse as a non-negative decimal integer or it is discarded and counted.
func Parse(r io.Reader) (ParseResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ParseResult{}, err
	}

	var res ParseResult
	tok := make([]byte, 0, 16)
	pendingSlot := -1
	havePending := false
	stopped := false

	flush := func(sawEquals bool) {
		if len(tok) == 0 {
			return
		}
		t := string(tok)
		tok = tok[:0]

		switch t {
		case "s":
			res.Ops = append(res.Ops, Op{Kind: OpStats})
			return
		case "e":
			stopped = true
			return
		}

		n, err := strconv.Atoi(t)
		if err != nil || n < 0 {
			res.Discarded++
			// A discarded size token drops its pending index with it, so
			// the index is never applied to a later, unrelated token.
			if !sawEquals {
				havePending = false
				pendingSlot = -1
			}
			return
		}

		if sawEquals {
			pendingSlot = n
			havePending = true
			return
		}

		if havePending {
			res.Ops = append(res.Ops, Op{Kind: OpAllocOrRealloc, Slot: pendingSlot, Size: n})
			havePending = false
			pendingSlot = -1
			return
		}

		res.Ops = append(res.Ops, Op{Kind: OpFree, Slot: n})
	}

	for _, c := range data {
		switch c {
		case ' ', '\t', '\n', '\r':
			flush(false)
		case '=':
			flush(true)
		default:
			tok = append(tok, c)
		}
		if stopped {
			return res, nil
		}
	}
	flush(false)
	if havePending {
		res.Discarded++
	}
	return res, nil
}
