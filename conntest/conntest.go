// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package conntest implements fakes for package socket: a recording target
// that logs every transaction it services, a playback target that replays a
// fixed script, and a helper for sourcing real page-aligned host memory to
// back a dmicache.Descriptor in tests.
//
// It generalizes periph.io/x/periph/conn/conntest's Record/Playback (which
// fake a conn.Conn's raw Tx(w, r []byte) calls) from a single point-to-point
// byte transfer into the richer socket.Target capability set a peripheral
// host or bus exposes.
package conntest

import (
	"bytes"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"periph.io/x/vplatform/dmicache"
	"periph.io/x/vplatform/sched"
	"periph.io/x/vplatform/txn"
)

// Op records one serviced transaction: the command, address and a copy of
// the data as it stood on return.
type Op struct {
	Command txn.Command
	Address uint64
	Data    []byte
	Sb      txn.Sideband
	Debug   bool
}

// Record implements socket.Target, forwarding every call to an optional
// backing Target while logging each one. A nil backing Target makes Record
// a pure logger that always answers OK (reads leave the data buffer
// untouched), which is enough to exercise an initiator/bus in isolation.
type Record struct {
	Target socket_Target // see socket_Target below for the import cycle note

	mu  sync.Mutex
	Ops []Op
}

// socket_Target mirrors socket.Target's method set without importing
// package socket, which would create an import cycle if socket ever needed
// conntest for its own tests. Any value satisfying socket.Target also
// satisfies this interface structurally.
type socket_Target interface {
	BlockingTransport(tx *txn.Transaction, sb *txn.Sideband, tk sched.Ticker)
	DebugTransport(tx *txn.Transaction, sb *txn.Sideband)
	DMIRequest(tx *txn.Transaction, sb *txn.Sideband) (dmicache.Descriptor, bool)
}

func (r *Record) record(tx *txn.Transaction, sb *txn.Sideband, debug bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ops = append(r.Ops, Op{
		Command: tx.Command,
		Address: tx.Address,
		Data:    append([]byte(nil), tx.Data...),
		Sb:      *sb,
		Debug:   debug,
	})
}

// BlockingTransport implements socket.Target.
func (r *Record) BlockingTransport(tx *txn.Transaction, sb *txn.Sideband, tk sched.Ticker) {
	if r.Target != nil {
		r.Target.BlockingTransport(tx, sb, tk)
	} else {
		tx.Response = txn.OK
	}
	r.record(tx, sb, false)
}

// DebugTransport implements socket.Target.
func (r *Record) DebugTransport(tx *txn.Transaction, sb *txn.Sideband) {
	if r.Target != nil {
		r.Target.DebugTransport(tx, sb)
	} else {
		tx.Response = txn.OK
	}
	r.record(tx, sb, true)
}

// DMIRequest implements socket.Target.
func (r *Record) DMIRequest(tx *txn.Transaction, sb *txn.Sideband) (dmicache.Descriptor, bool) {
	if r.Target != nil {
		return r.Target.DMIRequest(tx, sb)
	}
	return dmicache.Descriptor{}, false
}

// Snapshot returns a copy of the ops recorded so far.
func (r *Record) Snapshot() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.Ops...)
}

// Playback implements socket.Target and replays a fixed script of
// expected/response pairs, failing loudly (via the Response field) on a
// mismatch rather than panicking, matching periph's conntest.Playback
// behavior of surfacing the mismatch through the normal return channel.
type Playback struct {
	mu    sync.Mutex
	Ops   []Op
	count int
}

// Close reports whether every scripted op was consumed; mirrors
// conntest.Playback.Close.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count != len(p.Ops) {
		return fmt.Errorf("conntest: playback not exhausted: consumed %d of %d ops", p.count, len(p.Ops))
	}
	return nil
}

func (p *Playback) next(tx *txn.Transaction) *Op {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count >= len(p.Ops) {
		tx.Response = txn.GenericError
		return nil
	}
	op := &p.Ops[p.count]
	if op.Command != tx.Command || op.Address != tx.Address {
		tx.Response = txn.GenericError
		p.count++
		return nil
	}
	p.count++
	return op
}

// BlockingTransport implements socket.Target.
func (p *Playback) BlockingTransport(tx *txn.Transaction, sb *txn.Sideband, tk sched.Ticker) {
	op := p.next(tx)
	if op == nil {
		return
	}
	if tx.Command == txn.Read {
		copy(tx.Data, op.Data)
	}
	tx.Response = txn.OK
}

// DebugTransport implements socket.Target.
func (p *Playback) DebugTransport(tx *txn.Transaction, sb *txn.Sideband) {
	p.BlockingTransport(tx, sb, nil)
}

// DMIRequest implements socket.Target; Playback never grants DMI.
func (p *Playback) DMIRequest(tx *txn.Transaction, sb *txn.Sideband) (dmicache.Descriptor, bool) {
	return dmicache.Descriptor{}, false
}

// Equal reports whether two recorded data buffers match, a small helper so
// test call sites don't each re-import bytes.
func Equal(a, b []byte) bool { return bytes.Equal(a, b) }

// MmapRegion returns size bytes of anonymous, page-aligned host memory
// suitable for backing a dmicache.Descriptor.Ptr in a test, plus a cleanup
// function that must be called to release it.
//
// Real device models source their DMI host pointer from a memory provider
// (an mmap'd file, a shared-memory segment); sourcing a plain Go slice in
// tests would hide bugs in pointer-arithmetic code (dmicache's Mergeable,
// the bus's DMI-window translation) that only show up against a real,
// independently-allocated memory mapping. unix.Mmap gives us that without
// pulling in a full simulated-memory subsystem.
func MmapRegion(size int) (mem []byte, cleanup func() error, err error) {
	if size <= 0 {
		size = unix.Getpagesize()
	}
	mem, err = unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("conntest: mmap %d bytes: %w", size, err)
	}
	return mem, func() error { return unix.Munmap(mem) }, nil
}
