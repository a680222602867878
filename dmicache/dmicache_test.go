// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dmicache

import (
	"math/rand"
	"testing"

	"periph.io/x/vplatform/access"
	"periph.io/x/vplatform/addrrange"
)

func descAt(backing []byte, start, end uint64) Descriptor {
	return Descriptor{
		Ptr:    backing[start:],
		Range:  addrrange.New(start, end),
		Access: access.ReadWrite,
	}
}

func TestLookupHitPromotesToMRU(t *testing.T) {
	backing := make([]byte, 0x1000)
	c := New(4)
	c.Insert(descAt(backing, 0x0, 0xff))
	c.Insert(descAt(backing, 0x200, 0x2ff))

	if _, ok := c.Lookup(addrrange.New(0x10, 0x14), access.Read); !ok {
		t.Fatal("expected hit")
	}
	entries := c.Entries()
	if entries[0].Range != addrrange.New(0x0, 0xff) {
		t.Fatalf("expected looked-up entry to become MRU, got %v", entries[0].Range)
	}
}

func TestLookupMissIsNotError(t *testing.T) {
	c := New(4)
	if _, ok := c.Lookup(addrrange.New(0x10, 0x14), access.Read); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestInsertMergesAdjacent(t *testing.T) {
	backing := make([]byte, 0x1000)
	c := New(4)
	c.Insert(descAt(backing, 0x0, 0xff))
	c.Insert(descAt(backing, 0x100, 0x1ff))
	if c.Len() != 1 {
		t.Fatalf("expected adjacent ranges to merge into one entry, got %d", c.Len())
	}
	e := c.Entries()[0]
	if e.Range != addrrange.New(0, 0x1ff) {
		t.Fatalf("got merged range %v", e.Range)
	}
}

func TestInsertDoesNotMergeAcrossGap(t *testing.T) {
	backing := make([]byte, 0x1000)
	c := New(4)
	c.Insert(descAt(backing, 0x0, 0xff))
	c.Insert(descAt(backing, 0x110, 0x1ff))
	if c.Len() != 2 {
		t.Fatalf("expected non-adjacent ranges to remain distinct, got %d", c.Len())
	}
}

func TestInsertEvictsLRU(t *testing.T) {
	backing := make([]byte, 0x10000)
	c := New(2)
	c.Insert(descAt(backing, 0x0, 0xff))
	c.Insert(descAt(backing, 0x1000, 0x10ff))
	c.Insert(descAt(backing, 0x2000, 0x20ff))
	if c.Len() != 2 {
		t.Fatalf("expected capacity-bounded cache, got %d entries", c.Len())
	}
	if _, ok := c.Lookup(addrrange.New(0x0, 0x10), access.Read); ok {
		t.Fatal("expected the LRU entry to have been evicted")
	}
}

func TestInvalidateSplitsOverlapping(t *testing.T) {
	backing := make([]byte, 0x1000)
	c := New(4)
	c.Insert(descAt(backing, 0x100, 0x1ff))
	if !c.Invalidate(addrrange.New(0x140, 0x14f)) {
		t.Fatal("expected invalidate to report a change")
	}
	entries := c.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected split into prefix+suffix, got %d entries", len(entries))
	}
	if _, ok := c.Lookup(addrrange.New(0x140, 0x140), access.Read); ok {
		t.Fatal("expected the invalidated window to miss")
	}
	if _, ok := c.Lookup(addrrange.New(0x100, 0x10f), access.Read); !ok {
		t.Fatal("expected the prefix to still be cached")
	}
	if _, ok := c.Lookup(addrrange.New(0x1f0, 0x1ff), access.Read); !ok {
		t.Fatal("expected the suffix to still be cached")
	}
}

func TestInvalidateEmptyCacheIsNoOp(t *testing.T) {
	c := New(4)
	if c.Invalidate(addrrange.New(0, 0xff)) {
		t.Fatal("invalidating an empty cache must report no change")
	}
}

// TestInvalidateThenLookupMisses is the property from spec §8: invalidate(r)
// followed by lookup(r', _) with r' ⊆ r must return a miss.
func TestInvalidateThenLookupMisses(t *testing.T) {
	backing := make([]byte, 0x10000)
	r := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		c := New(8)
		base := uint64(r.Intn(0x1000)) * 0x10
		c.Insert(descAt(backing, base, base+0xfff))
		invStart := base + uint64(r.Intn(0x800))
		invEnd := invStart + uint64(r.Intn(0x400))
		inv := addrrange.New(invStart, invEnd)
		c.Invalidate(inv)

		subStart := invStart + uint64(r.Intn(int(inv.Length())))
		sub := addrrange.New(subStart, subStart)
		if _, ok := c.Lookup(sub, access.Read); ok {
			t.Fatalf("iter %d: expected miss for %v ⊆ invalidated %v", iter, sub, inv)
		}
	}
}

// TestNoOverlappingOrMergeableEntriesAfterInsertions is the property from
// spec §8: after any insertion sequence, every pair of cached entries is
// non-overlapping and non-mergeable.
func TestNoOverlappingOrMergeableEntriesAfterInsertions(t *testing.T) {
	backing := make([]byte, 1<<20)
	r := rand.New(rand.NewSource(7))
	for iter := 0; iter < 50; iter++ {
		c := New(16)
		for n := 0; n < 40; n++ {
			start := uint64(r.Intn(1 << 16))
			length := uint64(1 + r.Intn(0x100))
			c.Insert(Descriptor{
				Ptr:    backing[start:],
				Range:  addrrange.New(start, start+length-1),
				Access: access.ReadWrite,
			})
		}
		entries := c.Entries()
		for i := range entries {
			for j := range entries {
				if i == j {
					continue
				}
				if entries[i].Range.Overlaps(entries[j].Range) {
					t.Fatalf("iter %d: entries %v and %v overlap after insertion", iter, entries[i].Range, entries[j].Range)
				}
				if Mergeable(entries[i], entries[j]) {
					t.Fatalf("iter %d: entries %v and %v are mergeable but were not merged", iter, entries[i].Range, entries[j].Range)
				}
			}
		}
	}
}
