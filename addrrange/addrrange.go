// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package addrrange defines a closed 64-bit address interval and the
// relations between two such intervals (inclusion, overlap, adjacency).
//
// It is the common currency between every layer of the core: DMI
// descriptors, exclusive reservations, register address ranges and bus
// mappings are all expressed as a Range.
package addrrange

import (
	"fmt"

	"periph.io/x/vplatform/rangeutil"
)

// Range is a closed interval [Start, End] of 64-bit addresses.
//
// Start must be less than or equal to End; the zero value is the
// single-byte range [0, 0].
type Range struct {
	Start uint64
	End   uint64
}

// New returns the range [start, end]. It panics if end < start, which would
// indicate a programming error at the call site rather than a recoverable
// condition.
func New(start, end uint64) Range {
	if end < start {
		panic(fmt.Sprintf("addrrange: invalid range [%#x, %#x]", start, end))
	}
	return Range{Start: start, End: end}
}

// Sized returns the range covering length bytes starting at start.
func Sized(start, length uint64) Range {
	if length == 0 {
		panic("addrrange: zero-length range")
	}
	return New(start, start+length-1)
}

// Length returns the number of addresses covered by r.
func (r Range) Length() uint64 {
	return r.End - r.Start + 1
}

// Includes reports whether point lies within r.
func (r Range) Includes(point uint64) bool {
	return point >= r.Start && point <= r.End
}

// IncludesRange reports whether o is fully contained within r.
func (r Range) IncludesRange(o Range) bool {
	return o.Start >= r.Start && o.End <= r.End
}

// Overlaps reports whether r and o share at least one address.
func (r Range) Overlaps(o Range) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Connects reports whether r and o overlap or are directly adjacent (no
// gap between them), which is the mergeability test used by the DMI cache.
func (r Range) Connects(o Range) bool {
	if r.Overlaps(o) {
		return true
	}
	if r.End < o.Start {
		return o.Start-r.End == 1
	}
	return r.Start-o.End == 1
}

// String implements fmt.Stringer for diagnostics and test failure messages.
func (r Range) String() string {
	return fmt.Sprintf("[%#x, %#x]", r.Start, r.End)
}

// Translate returns a new range shifted so its Start becomes newStart,
// preserving Length.
func (r Range) Translate(newStart uint64) Range {
	return Range{Start: newStart, End: newStart + r.Length() - 1}
}

// Intersect returns the overlapping portion of r and o, and whether one
// exists.
func (r Range) Intersect(o Range) (Range, bool) {
	if !r.Overlaps(o) {
		return Range{}, false
	}
	return Range{
		Start: rangeutil.Max(r.Start, o.Start),
		End:   rangeutil.Min(r.End, o.End),
	}, true
}
