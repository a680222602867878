// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package vperiph implements the peripheral host: it binds the
// transaction, DMI, socket and register layers together, dispatching an
// incoming transaction to the matching register, applying endian
// conversion and per-access latency, and implementing the generic
// read/write fallback for unmapped addresses.
//
// It generalizes periph.go's Driver registry (ordered registration,
// panic-on-duplicate, a single Init/reset lifecycle hook) from "one
// driver per physical bus, registered once at process startup" to "one
// register list per peripheral, per address space, registered once at
// elaboration", and is modeled on vcml's peripheral class
// (_examples/original_source/include/vcml/core/peripheral.h).
package vperiph

import (
	"fmt"
	"sync"
	"time"

	"encoding/binary"

	"periph.io/x/vplatform/access"
	"periph.io/x/vplatform/addrrange"
	"periph.io/x/vplatform/dmicache"
	"periph.io/x/vplatform/physic"
	"periph.io/x/vplatform/sched"
	"periph.io/x/vplatform/socket"
	"periph.io/x/vplatform/txn"
	"periph.io/x/vplatform/vreg"
)

// DefaultAddressSpace is the address-space tag used when a peripheral
// exposes only one memory map (§6).
const DefaultAddressSpace = 0

// Host is a peripheral: an ordered set of registers per address space,
// an endian setting, and read/write latencies, bound into the transport
// fabric through one socket.Target view per address space (see Space).
type Host struct {
	Name string
	// Endian is the peripheral's wire endian. nil means host-endian (no
	// byte swapping is performed).
	Endian binary.ByteOrder

	ReadLatency  time.Duration
	WriteLatency time.Duration
	// ReadCycles/WriteCycles, if non-zero, make ReadLatency/WriteLatency
	// derived from the peripheral's clock via OnClockChange instead of
	// being set directly.
	ReadCycles  uint64
	WriteCycles uint64

	// FallbackRead/FallbackWrite service an access that matched no
	// register. The default (both nil) answers AddressError.
	FallbackRead  func(tx *txn.Transaction, sb *txn.Sideband) txn.Response
	FallbackWrite func(tx *txn.Transaction, sb *txn.Sideband) txn.Response

	mu               sync.Mutex
	regs             map[int][]*vreg.Register
	dmiGrants        map[int][]dmicache.Descriptor
	sockets          map[int]*socket.TargetSocket
	currentInitiator uint64
	clockHz          uint64
}

// NewHost returns an empty peripheral host.
func NewHost(name string) *Host {
	return &Host{
		Name: name,
		regs: make(map[int][]*vreg.Register),
	}
}

// AddRegister registers r in address space as. It panics if r's range
// overlaps any register already registered in that address space —
// overlapping registration is a programming error caught at elaboration,
// not a recoverable transport condition (§7).
func (h *Host) AddRegister(as int, r *vreg.Register) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.regs[as] {
		if existing.Range().Overlaps(r.Range()) {
			panic(fmt.Sprintf("vperiph: %s: register %q at %v overlaps %q at %v in address space %d",
				h.Name, r.Name, r.Range(), existing.Name, existing.Range(), as))
		}
	}
	h.regs[as] = append(h.regs[as], r)
}

// RemoveRegister unregisters r from address space as, if present.
func (h *Host) RemoveRegister(as int, r *vreg.Register) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.regs[as]
	for i, existing := range list {
		if existing == r {
			h.regs[as] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Registers returns a snapshot of the registers in address space as, in
// registration order.
func (h *Host) Registers(as int) []*vreg.Register {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*vreg.Register(nil), h.regs[as]...)
}

func (h *Host) findRegister(as int, rng addrrange.Range) *vreg.Register {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.regs[as] {
		if r.Range().Overlaps(rng) {
			return r
		}
	}
	return nil
}

// CurrentInitiator returns the cpuid recorded for the transaction
// currently (or most recently) in dispatch, mirroring vcml's
// peripheral::current_initiator scratch used for banked access.
func (h *Host) CurrentInitiator() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentInitiator
}

// Reset restores every register in every address space to its initial
// values.
func (h *Host) Reset() {
	h.mu.Lock()
	var all []*vreg.Register
	for _, list := range h.regs {
		all = append(all, list...)
	}
	h.mu.Unlock()
	for _, r := range all {
		r.Reset()
	}
}

// BindSocket records ts as the target socket exposing address space as,
// so MapDMI/OnClockChange can fan invalidation out through it.
func (h *Host) BindSocket(as int, ts *socket.TargetSocket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sockets == nil {
		h.sockets = make(map[int]*socket.TargetSocket)
	}
	h.sockets[as] = ts
}

// Space returns the socket.Target view of this host for address space as.
// Bind the returned value into a socket.TargetSocket (and pass that same
// socket to BindSocket) to expose it to initiators.
func (h *Host) Space(as int) socket.Target {
	return &spaceView{h: h, as: as}
}

// transport implements the 8 steps of §4.8. debug suppresses latency
// accrual (step 7) regardless of tk.
func (h *Host) transport(tx *txn.Transaction, sb *txn.Sideband, as int, tk sched.Ticker, debug bool) {
	start, end := tx.Range()
	rng := addrrange.New(start, end)
	reg := h.findRegister(as, rng)

	h.mu.Lock()
	h.currentInitiator = sb.Cpuid()
	bankKey := h.currentInitiator
	h.mu.Unlock()

	if h.Endian != nil {
		txn.ToHostEndian(tx.Data, h.Endian)
	}

	var resp txn.Response
	if reg == nil {
		switch tx.Command {
		case txn.Read:
			if h.FallbackRead != nil {
				resp = h.FallbackRead(tx, sb)
			} else {
				resp = txn.AddressError
			}
		case txn.Write:
			if h.FallbackWrite != nil {
				resp = h.FallbackWrite(tx, sb)
			} else {
				resp = txn.AddressError
			}
		default:
			resp = txn.AddressError
		}
		tx.Response = resp
	} else {
		resp = reg.Receive(tx, sb, bankKey, tk)
	}

	if h.Endian != nil {
		txn.FromHostEndian(tx.Data, h.Endian)
	}

	if resp == txn.OK && !debug && tk != nil {
		switch tx.Command {
		case txn.Read:
			tk.Accrue(h.ReadLatency)
		case txn.Write:
			tk.Accrue(h.WriteLatency)
		}
	}
}

func (h *Host) dmiRequest(tx *txn.Transaction, sb *txn.Sideband, as int) (dmicache.Descriptor, bool) {
	start, end := tx.Range()
	rng := addrrange.New(start, end)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.dmiGrants[as] {
		if d.Range.Overlaps(rng) {
			return d, true
		}
	}
	return dmicache.Descriptor{}, false
}

// MapDMI installs a direct-memory grant over [start, end] in address
// space as, backed by ptr and carrying this host's current read/write
// latencies. Subsequent DMIRequest calls in that range return it.
func (h *Host) MapDMI(as int, ptr []byte, start, end uint64, acc access.Mode) {
	d := dmicache.Descriptor{
		Ptr:          ptr,
		Range:        addrrange.New(start, end),
		Access:       acc,
		ReadLatency:  int64(h.ReadLatency),
		WriteLatency: int64(h.WriteLatency),
	}
	h.mu.Lock()
	if h.dmiGrants == nil {
		h.dmiGrants = make(map[int][]dmicache.Descriptor)
	}
	h.dmiGrants[as] = append(h.dmiGrants[as], d)
	h.mu.Unlock()
}

// OnClockChange recomputes ReadLatency/WriteLatency from ReadCycles/
// WriteCycles at the new frequency (a latency whose cycle count is zero
// keeps its directly-set value), then remaps every installed DMI grant
// with the new latencies and invalidates the old grants upstream so
// initiators re-fetch them (§4.8).
func (h *Host) OnClockChange(oldHz, newHz uint64) {
	h.mu.Lock()
	h.clockHz = newHz
	if newHz > 0 {
		freq := physic.Hertz * physic.Frequency(newHz)
		if h.ReadCycles > 0 {
			h.ReadLatency = physic.CyclesLatency(h.ReadCycles, freq)
		}
		if h.WriteCycles > 0 {
			h.WriteLatency = physic.CyclesLatency(h.WriteCycles, freq)
		}
	}
	grants := h.dmiGrants
	h.dmiGrants = nil
	sockets := h.sockets
	h.mu.Unlock()

	for as, list := range grants {
		for _, d := range list {
			h.MapDMI(as, d.Ptr, d.Range.Start, d.Range.End, d.Access)
			if ts, ok := sockets[as]; ok {
				ts.InvalidateDMI(d.Range)
			}
		}
	}
}

type spaceView struct {
	h  *Host
	as int
}

func (v *spaceView) BlockingTransport(tx *txn.Transaction, sb *txn.Sideband, tk sched.Ticker) {
	v.h.transport(tx, sb, v.as, tk, false)
}

func (v *spaceView) DebugTransport(tx *txn.Transaction, sb *txn.Sideband) {
	v.h.transport(tx, sb, v.as, nil, true)
}

func (v *spaceView) DMIRequest(tx *txn.Transaction, sb *txn.Sideband) (dmicache.Descriptor, bool) {
	return v.h.dmiRequest(tx, sb, v.as)
}
