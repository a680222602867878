// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package socket implements the initiator and target endpoints that bind
// peripherals, bus-width adapters and buses together, plus the
// bus-width adapter itself.
//
// It generalizes periph.io/x/periph/conn/i2c's Bus/Dev split (a bus
// implementation vs. a thin per-device handle) and the fake-endpoint
// idiom of periph.io/x/periph/conn/conntest (Record/Playback) into a
// transaction-level initiator/target pair with DMI caching, exclusive
// monitoring and FIFO serialization, per spec.md §4.4/§4.5/§4.9.
package socket

import (
	"sync"
	"time"

	"periph.io/x/vplatform/access"
	"periph.io/x/vplatform/addrrange"
	"periph.io/x/vplatform/dmicache"
	"periph.io/x/vplatform/exmon"
	"periph.io/x/vplatform/sched"
	"periph.io/x/vplatform/txn"
)

// Target is the capability set a target endpoint exposes: the forward
// interface of spec.md §9's "polymorphism over dispatch". A peripheral
// host, a bus or a width adapter all implement it.
type Target interface {
	// BlockingTransport services tx, mutating sb and tk as the call
	// progresses; it must set tx.Response before returning.
	BlockingTransport(tx *txn.Transaction, sb *txn.Sideband, tk sched.Ticker)
	// DebugTransport services tx synchronously and without any effect on
	// tk; simulated time must not advance.
	DebugTransport(tx *txn.Transaction, sb *txn.Sideband)
	// DMIRequest returns a descriptor covering at least one byte of tx's
	// range with at least tx's access, or false if no DMI grant is
	// available.
	DMIRequest(tx *txn.Transaction, sb *txn.Sideband) (dmicache.Descriptor, bool)
}

// InvalidateSource is implemented by anything that can be subscribed to
// for upstream DMI invalidation notices (a TargetSocket, a WidthAdapter,
// or a Bus's input port).
type InvalidateSource interface {
	SubscribeInvalidate(f func(addrrange.Range))
}

// invalidators is embedded by every component on the downstream side of a
// binding that needs to fan out an invalidate-DMI notice to whatever is
// bound upstream of it.
type invalidators struct {
	mu   sync.Mutex
	subs []func(addrrange.Range)
}

// SubscribeInvalidate registers f to be called whenever this component's
// InvalidateDMI is invoked.
func (iv *invalidators) SubscribeInvalidate(f func(addrrange.Range)) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.subs = append(iv.subs, f)
}

// InvalidateDMI notifies every subscriber that the window r is no longer
// safe to access via a previously granted DMI descriptor. Per §6, this
// may be called from the simulation thread or a background context.
func (iv *invalidators) InvalidateDMI(r addrrange.Range) {
	iv.mu.Lock()
	subs := append([]func(addrrange.Range){}, iv.subs...)
	iv.mu.Unlock()
	for _, f := range subs {
		f(r)
	}
}

// Initiator is the initiator-side socket: it sends transactions downstream
// and maintains a private DMI cache (§4.4).
type Initiator struct {
	// Target is the bound downstream endpoint. Use Bind to set it so the
	// initiator's cache is wired to receive invalidation notices.
	Target Target
	// BusWidth is the maximum number of bytes a single sub-transaction may
	// carry; typed Read/Write split larger requests into this many bytes
	// at a time. Zero or negative disables splitting.
	BusWidth int
	// Ticker is this initiator's process handle for temporal decoupling.
	// May be nil, in which case quantum bookkeeping is skipped (useful in
	// tests that don't model simulated time).
	Ticker  sched.Ticker
	Quantum sched.Quantum
	// Cache is this initiator's private DMI cache. Bind initializes it if
	// nil.
	Cache *dmicache.Cache
}

// Bind attaches target as this initiator's downstream endpoint and, if
// target is an InvalidateSource, subscribes the initiator's cache so it
// is cleared automatically on upstream invalidation.
func (i *Initiator) Bind(target Target) {
	i.Target = target
	if i.Cache == nil {
		i.Cache = dmicache.New(0)
	}
	if src, ok := target.(InvalidateSource); ok {
		src.SubscribeInvalidate(i.InvalidateDMI)
	}
}

// InvalidateDMI drops any cached descriptor overlapping r. It is the
// initiator's half of the backward invalidate-DMI contract (§6).
func (i *Initiator) InvalidateDMI(r addrrange.Range) {
	if i.Cache != nil {
		i.Cache.Invalidate(r)
	}
}

// Send transmits exactly one transaction and returns the number of bytes
// serviced. It implements the five steps of spec.md §4.4.
func (i *Initiator) Send(tx *txn.Transaction, sb txn.Sideband) int {
	tx.Response = txn.Incomplete
	if !tx.Validate() {
		return 0
	}

	if sb.IsDebug() {
		i.Target.DebugTransport(tx, &sb)
		if tx.Response == txn.Incomplete {
			panic("socket: target returned without setting a response")
		}
		tx.SetSideband(sb)
		if tx.Response != txn.OK {
			return 0
		}
		return len(tx.Data)
	}

	if i.Ticker != nil && (i.Quantum.NeedsSync(i.Ticker) || sb.IsSync()) {
		i.Ticker.Sync()
	}

	i.Target.BlockingTransport(tx, &sb, i.Ticker)
	if tx.Response == txn.Incomplete {
		panic("socket: target returned without setting a response")
	}

	if i.Ticker != nil && (sb.IsSync() || i.Quantum.NeedsSync(i.Ticker)) {
		i.Ticker.Sync()
	}
	tx.SetSideband(sb)
	if tx.Response != txn.OK {
		return 0
	}

	if tx.DMIAllowed && !sb.IsNoDMI() && i.Cache != nil {
		if d, ok := i.Target.DMIRequest(tx, &sb); ok {
			i.Cache.Insert(d)
		}
	}
	return len(tx.Data)
}

// Read performs a typed read of len(data) bytes at addr, splitting into
// BusWidth-sized sub-transactions as needed (debug transactions are never
// split). It returns the number of bytes completed and the response of
// the first non-OK sub-transaction, or OK if all completed.
func (i *Initiator) Read(addr uint64, data []byte, sb txn.Sideband) (int, txn.Response) {
	return i.access(txn.Read, addr, data, sb)
}

// Write performs a typed write of len(data) bytes at addr, with the same
// splitting behavior as Read.
func (i *Initiator) Write(addr uint64, data []byte, sb txn.Sideband) (int, txn.Response) {
	return i.access(txn.Write, addr, data, sb)
}

func (i *Initiator) access(cmd txn.Command, addr uint64, data []byte, sb txn.Sideband) (int, txn.Response) {
	if sb.IsDebug() || i.BusWidth <= 0 || len(data) <= i.BusWidth {
		return i.sendOne(cmd, addr, data, sb)
	}
	done := 0
	for done < len(data) {
		n := i.BusWidth
		if done+n > len(data) {
			n = len(data) - done
		}
		cnt, resp := i.sendOne(cmd, addr+uint64(done), data[done:done+n], sb)
		done += cnt
		if resp != txn.OK {
			return done, resp
		}
	}
	return done, txn.OK
}

// sendOne attempts the DMI fast path first (bypassed when the access is
// exclusive, so the monitor observes it, and when debug, since a debug
// access must return with simulation time unchanged and DMI latency
// accrual would violate that), falling back to a full Send.
func (i *Initiator) sendOne(cmd txn.Command, addr uint64, data []byte, sb txn.Sideband) (int, txn.Response) {
	if !sb.IsDebug() && !sb.IsExcl() && i.Cache != nil && len(data) > 0 {
		need := access.Read
		if cmd == txn.Write {
			need = access.Write
		}
		if d, ok := i.Cache.Lookup(addrrange.Sized(addr, uint64(len(data))), need); ok {
			ptr := d.PointerAt(addr)[:len(data)]
			var latency int64
			if cmd == txn.Read {
				copy(data, ptr)
				latency = d.ReadLatency
			} else {
				copy(ptr, data)
				latency = d.WriteLatency
			}
			if i.Ticker != nil {
				i.Ticker.Accrue(time.Duration(latency))
			}
			return len(data), txn.OK
		}
	}

	var tx *txn.Transaction
	if cmd == txn.Read {
		tx = txn.NewRead(addr, data)
	} else {
		tx = txn.NewWrite(addr, data)
	}
	tx.DMIAllowed = true
	n := i.Send(tx, sb)
	return n, tx.Response
}

// TargetSocket is the target-side socket: it serializes concurrent inbound
// transactions FIFO by arrival order, runs the exclusive monitor, and
// dispatches into the bound Target (§4.4, §4.9).
type TargetSocket struct {
	invalidators

	// Target receives the dispatched transaction once this socket has
	// acquired its ticket and applied the exclusive-monitor update.
	Target Target
	// Excl is the exclusive monitor shared by every target socket backed
	// by the same memory (nil disables exclusive-access support).
	Excl *exmon.Monitor
	// AddressSpace tags which of a multi-address-space peripheral's
	// memory maps this socket exposes (§6; default 0).
	AddressSpace int

	mu         sync.Mutex
	cond       *sync.Cond
	nextTicket uint64
	serving    uint64
	current    *txn.Transaction
}

// NewTargetSocket returns a ready-to-use target socket bound to target,
// optionally sharing the exclusive monitor excl (nil to disable exclusive
// access support on this socket).
func NewTargetSocket(target Target, excl *exmon.Monitor) *TargetSocket {
	s := &TargetSocket{Target: target, Excl: excl}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Current returns the transaction currently being dispatched through this
// socket, or nil if none is in flight. Intended for a peripheral host to
// read sideband fields (e.g. for banking) during its own Receive call.
func (s *TargetSocket) Current() *txn.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *TargetSocket) acquire() uint64 {
	s.mu.Lock()
	my := s.nextTicket
	s.nextTicket++
	for s.serving != my {
		s.cond.Wait()
	}
	s.mu.Unlock()
	return my
}

func (s *TargetSocket) release() {
	s.mu.Lock()
	s.serving++
	s.current = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}

// BlockingTransport implements the target-socket half of §4.4: FIFO
// ticket acquisition, exclusive-monitor update, exclusive-read DMI
// invalidation, dispatch, then release.
func (s *TargetSocket) BlockingTransport(tx *txn.Transaction, sb *txn.Sideband, tk sched.Ticker) {
	s.acquire()
	s.mu.Lock()
	s.current = tx
	s.mu.Unlock()
	defer s.release()

	if s.Excl != nil {
		wasExclWrite := tx.Command == txn.Write && sb.IsExcl()
		s.Excl.Update(tx, sb)
		if tx.Command == txn.Read && sb.IsExcl() {
			start, end := tx.Range()
			s.InvalidateDMI(addrrange.New(start, end))
		}
		if wasExclWrite && !sb.IsExcl() {
			// The store-conditional lost its reservation: per the
			// end-to-end scenario in spec.md §8 (5), a failed exclusive
			// write must not land in memory at all, mirroring real
			// load-linked/store-conditional hardware. The caller still
			// sees a normal OK completion with the exclusive flag
			// cleared, signaling "retry the sequence".
			tx.Response = txn.OK
			tx.DMIAllowed = false
			return
		}
	}

	s.Target.BlockingTransport(tx, sb, tk)
}

// DebugTransport bypasses the FIFO (§5: debug calls are side-effect-free
// with respect to time and must not wait behind in-flight transactions).
func (s *TargetSocket) DebugTransport(tx *txn.Transaction, sb *txn.Sideband) {
	s.Target.DebugTransport(tx, sb)
}

// DMIRequest forwards to the bound target.
func (s *TargetSocket) DMIRequest(tx *txn.Transaction, sb *txn.Sideband) (dmicache.Descriptor, bool) {
	return s.Target.DMIRequest(tx, sb)
}

// WidthAdapter is auto-inserted when an initiator socket of one bus width
// is bound to a target socket of a different width (§4.5). It forwards
// every call verbatim and propagates DMI invalidation upstream unchanged;
// the caller remains responsible for ensuring transaction length and
// streaming width are legal on both sides.
type WidthAdapter struct {
	invalidators
	Target Target
}

// NewWidthAdapter returns an adapter forwarding to target, subscribing to
// target's invalidation notices (if any) so they propagate upstream.
func NewWidthAdapter(target Target) *WidthAdapter {
	a := &WidthAdapter{Target: target}
	if src, ok := target.(InvalidateSource); ok {
		src.SubscribeInvalidate(a.InvalidateDMI)
	}
	return a
}

func (a *WidthAdapter) BlockingTransport(tx *txn.Transaction, sb *txn.Sideband, tk sched.Ticker) {
	a.Target.BlockingTransport(tx, sb, tk)
}

func (a *WidthAdapter) DebugTransport(tx *txn.Transaction, sb *txn.Sideband) {
	a.Target.DebugTransport(tx, sb)
}

func (a *WidthAdapter) DMIRequest(tx *txn.Transaction, sb *txn.Sideband) (dmicache.Descriptor, bool) {
	return a.Target.DMIRequest(tx, sb)
}

// StubTarget is a stubbed target endpoint: it answers every transport call
// with a fixed response (AddressError by default) and never grants DMI,
// matching the "stubbed target" behavior of §4.4.
type StubTarget struct {
	Response txn.Response
}

func (s *StubTarget) resp() txn.Response {
	if s.Response == txn.Incomplete {
		return txn.AddressError
	}
	return s.Response
}

func (s *StubTarget) BlockingTransport(tx *txn.Transaction, sb *txn.Sideband, tk sched.Ticker) {
	tx.Response = s.resp()
}

func (s *StubTarget) DebugTransport(tx *txn.Transaction, sb *txn.Sideband) {
	tx.Response = s.resp()
}

func (s *StubTarget) DMIRequest(tx *txn.Transaction, sb *txn.Sideband) (dmicache.Descriptor, bool) {
	return dmicache.Descriptor{}, false
}

// StubInitiator absorbs backward calls with no-ops, matching the
// "stubbed initiator" behavior of §4.4 for a dangling upstream port.
type StubInitiator struct{}

func (StubInitiator) InvalidateDMI(addrrange.Range) {}
