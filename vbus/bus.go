// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package vbus implements the bus (bridge): a module that routes an
// inbound transaction from one of several upstream-facing in-ports to the
// out-port whose mapped address range contains it, translating the
// address in both directions and narrowing/translating DMI grants and
// invalidations across the boundary.
//
// It generalizes periph.io/x/periph/conn/i2c/i2creg's registry-of-named-
// endpoints pattern (open a device by name, get back a handle) from
// "look up by name" to "look up by address range", and is modeled on
// vcml's generic::bus
// (_examples/original_source/include/vcml/models/generic/bus.h).
package vbus

import (
	"fmt"
	"sync"

	"periph.io/x/vplatform/addrrange"
	"periph.io/x/vplatform/dmicache"
	"periph.io/x/vplatform/sched"
	"periph.io/x/vplatform/socket"
	"periph.io/x/vplatform/txn"
)

// Mapping routes addresses in [Range.Start, Range.End] to OutPort,
// translating by Offset (subtract Range.Start, then add Offset), per
// spec.md §4.6.
type Mapping struct {
	OutPort int
	Range   addrrange.Range
	Offset  uint64

	def bool // true for the bus's single optional default mapping
}

func (m Mapping) toOut(addr uint64) uint64 {
	if m.def {
		return addr + m.Offset
	}
	return addr - m.Range.Start + m.Offset
}

func (m Mapping) toUp(addr uint64) uint64 {
	if m.def {
		return addr - m.Offset
	}
	return addr - m.Offset + m.Range.Start
}

// outRange returns m's Range translated into out-port address space; it
// is meaningless for the default mapping (which has no bounded Range) and
// must not be called for one.
func (m Mapping) outRange() addrrange.Range {
	return addrrange.New(m.toOut(m.Range.Start), m.toOut(m.Range.End))
}

// Bus is the bridge: any number of upstream in-ports (obtained via
// InPort) share one address map routing into a list of out-ports (bound
// with Bind/BindDefault).
type Bus struct {
	mu       sync.Mutex
	outs     []socket.Target
	mappings []Mapping
	def      *Mapping

	upMu   sync.Mutex
	upSubs []func(addrrange.Range)
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// Bind registers target as a new out-port mapped to [r], translating by
// offset, and returns the allocated port index. It panics if r overlaps
// any previously bound non-default mapping — overlapping mappings are an
// elaboration-time programming error (§4.6 "Failure").
func (b *Bus) Bind(target socket.Target, r addrrange.Range, offset uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.mappings {
		if m.Range.Overlaps(r) {
			panic(fmt.Sprintf("vbus: mapping %v for port %d overlaps existing mapping %v for port %d",
				r, len(b.outs), m.Range, m.OutPort))
		}
	}
	idx := len(b.outs)
	b.outs = append(b.outs, target)
	m := Mapping{OutPort: idx, Range: r, Offset: offset}
	b.mappings = append(b.mappings, m)
	b.subscribeLocked(idx, target)
	return idx
}

// BindDefault registers target as the bus's default out-port, catching any
// address not claimed by a ranged mapping, translating by offset. At most
// one default mapping may be set; a second call replaces it.
func (b *Bus) BindDefault(target socket.Target, offset uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := len(b.outs)
	b.outs = append(b.outs, target)
	m := Mapping{OutPort: idx, Offset: offset, def: true}
	b.def = &m
	b.subscribeLocked(idx, target)
	return idx
}

func (b *Bus) subscribeLocked(idx int, target socket.Target) {
	if src, ok := target.(socket.InvalidateSource); ok {
		src.SubscribeInvalidate(func(r addrrange.Range) {
			b.onDownstreamInvalidate(idx, r)
		})
	}
}

// Mappings returns a snapshot of the bus's non-default mappings, in bind
// order, for introspection and debugging (vcml generic::bus::
// get_target_mapping; SPEC_FULL.md §5).
func (b *Bus) Mappings() []Mapping {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Mapping(nil), b.mappings...)
}

// lookup returns the first mapping whose range includes addr (bind
// order), falling back to the default mapping if none matches.
func (b *Bus) lookup(addr uint64) (Mapping, bool) {
	for _, m := range b.mappings {
		if m.Range.Includes(addr) {
			return m, true
		}
	}
	if b.def != nil {
		return *b.def, true
	}
	return Mapping{}, false
}

// InPort returns the socket.Target view of the bus's idx'th upstream
// port. Every in-port shares the same address map; idx is recorded on the
// returned view but does not affect routing, since spec.md's routing
// algorithm (§4.6) is keyed on address, not on which in-port the
// transaction arrived through.
func (b *Bus) InPort(idx int) socket.Target {
	return &inPort{bus: b, idx: idx}
}

// SubscribeInvalidate implements socket.InvalidateSource so an initiator
// bound to any in-port learns about invalidations translated up from any
// out-port.
func (b *Bus) SubscribeInvalidate(f func(addrrange.Range)) {
	b.upMu.Lock()
	defer b.upMu.Unlock()
	b.upSubs = append(b.upSubs, f)
}

func (b *Bus) invalidateUpstream(r addrrange.Range) {
	b.upMu.Lock()
	subs := append([]func(addrrange.Range){}, b.upSubs...)
	b.upMu.Unlock()
	for _, f := range subs {
		f(r)
	}
}

// onDownstreamInvalidate translates an invalidation reported by the
// out-port outIdx back into upstream address space and forwards it,
// restricted to the portion actually covered by a mapping onto that port
// (§4.6 "translated the opposite way and forwarded to all upstream
// initiators whose mapping covers the invalidated window").
func (b *Bus) onDownstreamInvalidate(outIdx int, r addrrange.Range) {
	b.mu.Lock()
	var matches []Mapping
	for _, m := range b.mappings {
		if m.OutPort == outIdx {
			matches = append(matches, m)
		}
	}
	if b.def != nil && b.def.OutPort == outIdx {
		matches = append(matches, *b.def)
	}
	b.mu.Unlock()

	for _, m := range matches {
		if m.def {
			b.invalidateUpstream(addrrange.New(m.toUp(r.Start), m.toUp(r.End)))
			continue
		}
		inter, ok := r.Intersect(m.outRange())
		if !ok {
			continue
		}
		b.invalidateUpstream(addrrange.New(m.toUp(inter.Start), m.toUp(inter.End)))
	}
}

// route translates tx's address into out-port space for the duration of
// fn, restoring the initiator's original view before returning, per §4.6
// step 4 ("Restore the original address before returning").
func (b *Bus) route(tx *txn.Transaction, fn func(m Mapping, target socket.Target)) bool {
	start, _ := tx.Range()
	b.mu.Lock()
	m, ok := b.lookup(start)
	var target socket.Target
	if ok {
		target = b.outs[m.OutPort]
	}
	b.mu.Unlock()
	if !ok {
		tx.Response = txn.AddressError
		return false
	}
	orig := tx.Address
	tx.Address = m.toOut(orig)
	fn(m, target)
	tx.Address = orig
	return true
}

// BlockingTransport implements the routing half of socket.Target for the
// bus; InPort wraps this per upstream port.
func (b *Bus) BlockingTransport(tx *txn.Transaction, sb *txn.Sideband, tk sched.Ticker) {
	b.route(tx, func(_ Mapping, target socket.Target) {
		target.BlockingTransport(tx, sb, tk)
	})
}

// DebugTransport implements socket.Target for the bus.
func (b *Bus) DebugTransport(tx *txn.Transaction, sb *txn.Sideband) {
	b.route(tx, func(_ Mapping, target socket.Target) {
		target.DebugTransport(tx, sb)
	})
}

// DMIRequest implements socket.Target for the bus: it forwards the
// request downstream, then narrows and translates the granted descriptor
// back into upstream address space, per §4.6 paragraph 2.
func (b *Bus) DMIRequest(tx *txn.Transaction, sb *txn.Sideband) (dmicache.Descriptor, bool) {
	var (
		grant dmicache.Descriptor
		ok    bool
		found Mapping
	)
	routed := b.route(tx, func(m Mapping, target socket.Target) {
		found = m
		grant, ok = target.DMIRequest(tx, sb)
	})
	if !routed || !ok {
		return dmicache.Descriptor{}, false
	}
	if found.def {
		grant.Range = addrrange.New(found.toUp(grant.Range.Start), found.toUp(grant.Range.End))
		return grant, true
	}
	inter, ok2 := grant.Range.Intersect(found.outRange())
	if !ok2 {
		return dmicache.Descriptor{}, false
	}
	if delta := inter.Start - grant.Range.Start; delta > 0 {
		grant.Ptr = grant.Ptr[delta:]
	}
	grant.Range = addrrange.New(found.toUp(inter.Start), found.toUp(inter.End))
	return grant, true
}

// inPort is the socket.Target view of one of the bus's upstream ports.
type inPort struct {
	bus *Bus
	idx int
}

func (p *inPort) BlockingTransport(tx *txn.Transaction, sb *txn.Sideband, tk sched.Ticker) {
	p.bus.BlockingTransport(tx, sb, tk)
}

func (p *inPort) DebugTransport(tx *txn.Transaction, sb *txn.Sideband) {
	p.bus.DebugTransport(tx, sb)
}

func (p *inPort) DMIRequest(tx *txn.Transaction, sb *txn.Sideband) (dmicache.Descriptor, bool) {
	return p.bus.DMIRequest(tx, sb)
}

func (p *inPort) SubscribeInvalidate(f func(addrrange.Range)) {
	p.bus.SubscribeInvalidate(f)
}

var _ socket.Target = (*Bus)(nil)
var _ socket.Target = (*inPort)(nil)
var _ socket.InvalidateSource = (*Bus)(nil)
var _ socket.InvalidateSource = (*inPort)(nil)
