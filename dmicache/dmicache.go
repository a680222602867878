// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dmicache implements the per-socket Direct Memory Interface
// cache: a bounded, MRU-ordered set of DMI descriptors that lets an
// initiator bypass transport for address windows a target has granted
// direct host-pointer access to.
//
// It generalizes the typed register caching idiom of
// periph.io/x/periph/conn/mmr (Dev8/Dev16/Dev32 caching the last
// transaction's register) into a range-keyed cache of host-memory
// windows, and is modeled on vcml's tlm_dmi_cache (see
// _examples/original_source/include/vcml/protocols/tlm_dmi_cache.h).
package dmicache

import (
	"sync"
	"unsafe"

	"periph.io/x/vplatform/access"
	"periph.io/x/vplatform/addrrange"
	"periph.io/x/vplatform/rangeutil"
)

// DefaultCapacity is the number of entries a Cache holds before it starts
// evicting the least-recently-used one.
const DefaultCapacity = 16

// Descriptor describes a direct-memory grant: a host pointer covering
// Range, the access the target has granted over it, and the latency a
// direct access through it should be charged.
type Descriptor struct {
	Ptr          []byte
	Range        addrrange.Range
	Access       access.Mode
	ReadLatency  int64 // nanoseconds
	WriteLatency int64 // nanoseconds
}

// PointerAt returns the host-memory slice starting at addr, which must lie
// within d.Range.
func (d Descriptor) PointerAt(addr uint64) []byte {
	off := addr - d.Range.Start
	return d.Ptr[off:]
}

// Mergeable reports whether a and b may be combined into a single
// descriptor: identical access and latencies, adjacent-or-overlapping
// ranges, and a pointer mapping consistent across the gap (the later
// region's pointer equals the earlier region's pointer plus the address
// delta).
func Mergeable(a, b Descriptor) bool {
	if a.Access != b.Access || a.ReadLatency != b.ReadLatency || a.WriteLatency != b.WriteLatency {
		return false
	}
	if !a.Range.Connects(b.Range) {
		return false
	}
	lo, hi := a, b
	if hi.Range.Start < lo.Range.Start {
		lo, hi = hi, lo
	}
	if len(lo.Ptr) == 0 || len(hi.Ptr) == 0 {
		return false
	}
	delta := hi.Range.Start - lo.Range.Start
	// Compare addresses via uintptr arithmetic rather than indexing
	// lo.Ptr[delta]: two adjacent descriptors are routinely mergeable
	// when the earlier one's Ptr is sized exactly to its own range (delta
	// == len(lo.Ptr)), which would index one past the end if dereferenced.
	return uintptr(unsafe.Pointer(&lo.Ptr[0]))+uintptr(delta) == uintptr(unsafe.Pointer(&hi.Ptr[0]))
}

func merge(a, b Descriptor) Descriptor {
	lo, hi := a, b
	if hi.Range.Start < lo.Range.Start {
		lo, hi = hi, lo
	}
	end := rangeutil.Max(lo.Range.End, hi.Range.End)
	return Descriptor{
		Ptr:          lo.Ptr,
		Range:        addrrange.New(lo.Range.Start, end),
		Access:       lo.Access,
		ReadLatency:  lo.ReadLatency,
		WriteLatency: lo.WriteLatency,
	}
}

// Cache is a bounded, MRU-ordered set of DMI descriptors. The zero value
// is not ready for use; call New.
//
// Mutations (Insert, Invalidate) and Lookup are all serialized by one
// mutex: per §4.2, lookups take the same lock as mutations because
// contention is expected to be rare (DMI operations happen on the
// simulation thread, with invalidation occasionally arriving from a
// background thread).
type Cache struct {
	mu       sync.Mutex
	capacity int
	// entries is MRU-ordered: entries[0] is most recently used.
	entries []Descriptor
}

// New returns an empty cache with the given capacity. A capacity <= 0
// uses DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{capacity: capacity}
}

// Lookup returns the first entry whose range fully contains want and whose
// access includes need, promoting it to MRU position on a hit. A miss is a
// normal outcome, not an error.
func (c *Cache) Lookup(want addrrange.Range, need access.Mode) (Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.Range.IncludesRange(want) && e.Access.Includes(need) {
			c.touch(i)
			return e, true
		}
	}
	return Descriptor{}, false
}

// touch moves entries[i] to the front, assuming the lock is held.
func (c *Cache) touch(i int) {
	if i == 0 {
		return
	}
	e := c.entries[i]
	copy(c.entries[1:i+1], c.entries[:i])
	c.entries[0] = e
}

// Insert adds dmi to the cache, merging it (transitively) with every
// mergeable existing entry, then evicting LRU entries beyond capacity. The
// resulting entry becomes MRU.
func (c *Cache) Insert(dmi Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := dmi
	kept := c.entries[:0:0]
	again := true
	for again {
		again = false
		var next []Descriptor
		for _, e := range c.entries {
			if Mergeable(merged, e) {
				merged = merge(merged, e)
				again = true
				continue
			}
			next = append(next, e)
		}
		c.entries = next
	}
	kept = append([]Descriptor{merged}, c.entries...)
	if len(kept) > c.capacity {
		kept = kept[:c.capacity]
	}
	c.entries = kept
}

// Invalidate removes any portion of any cached descriptor overlapping r,
// splitting a partially-overlapping entry into its non-overlapping prefix
// and suffix. It reports whether anything was invalidated; invalidating an
// empty or non-overlapping cache is a no-op.
func (c *Cache) Invalidate(r addrrange.Range) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var kept []Descriptor
	invalidated := false
	for _, e := range c.entries {
		if !e.Range.Overlaps(r) {
			kept = append(kept, e)
			continue
		}
		invalidated = true
		if e.Range.Start < r.Start {
			prefix := e
			prefix.Range = addrrange.New(e.Range.Start, r.Start-1)
			kept = append(kept, prefix)
		}
		if e.Range.End > r.End {
			suffix := e
			delta := (r.End + 1) - e.Range.Start
			suffix.Range = addrrange.New(r.End+1, e.Range.End)
			suffix.Ptr = e.Ptr[delta:]
			kept = append(kept, suffix)
		}
	}
	c.entries = kept
	return invalidated
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a snapshot copy of the cached descriptors, MRU first.
func (c *Cache) Entries() []Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Descriptor(nil), c.entries...)
}
