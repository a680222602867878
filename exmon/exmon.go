// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package exmon implements the exclusive-access monitor that backs
// load-linked/store-conditional semantics across initiators: a bounded
// table of (initiator, address range) reservations, at most one per
// initiator, consumed or invalidated by overlapping writes.
//
// Modeled on vcml's tlm_exmon
// (_examples/original_source/include/vcml/protocols/tlm_exmon.h); the
// bounded per-key state pattern follows
// periph.io/x/periph/conn/conntest's Record, which also guards a small
// slice of observed state behind one mutex for deterministic test replay.
package exmon

import (
	"sync"

	"periph.io/x/vplatform/addrrange"
	"periph.io/x/vplatform/txn"
)

// Reservation is a single load-linked reservation: who made it, and over
// what address range.
type Reservation struct {
	InitiatorID uint64
	Range       addrrange.Range
}

// Monitor is the exclusive-access reservation table. The zero value is a
// ready-to-use empty monitor. Every exported method serializes on one
// internal mutex.
type Monitor struct {
	mu           sync.Mutex
	reservations []Reservation
}

// New returns an empty monitor.
func New() *Monitor {
	return &Monitor{}
}

// HasLock reports whether initiator holds a reservation covering r.
func (m *Monitor) HasLock(initiator uint64, r addrrange.Range) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(initiator, r) >= 0
}

func (m *Monitor) find(initiator uint64, r addrrange.Range) int {
	for i, res := range m.reservations {
		if res.InitiatorID == initiator && res.Range.IncludesRange(r) {
			return i
		}
	}
	return -1
}

// AddLock drops any existing reservation held by initiator (at most one
// per initiator), then records a new one covering r.
func (m *Monitor) AddLock(initiator uint64, r addrrange.Range) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakByInitiatorLocked(initiator)
	m.reservations = append(m.reservations, Reservation{InitiatorID: initiator, Range: r})
}

// BreakLocksByInitiator removes every reservation held by initiator.
func (m *Monitor) BreakLocksByInitiator(initiator uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakByInitiatorLocked(initiator)
}

func (m *Monitor) breakByInitiatorLocked(initiator uint64) {
	kept := m.reservations[:0:0]
	for _, res := range m.reservations {
		if res.InitiatorID != initiator {
			kept = append(kept, res)
		}
	}
	m.reservations = kept
}

// BreakLocksByRange removes every reservation overlapping r, reporting
// whether anything was removed.
func (m *Monitor) BreakLocksByRange(r addrrange.Range) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []Reservation
	removed := false
	for _, res := range m.reservations {
		if res.Range.Overlaps(r) {
			removed = true
			continue
		}
		kept = append(kept, res)
	}
	m.reservations = kept
	return removed
}

// Update applies the exclusive-monitor policy of §4.3 to an in-flight
// transaction, mutating sb in place (clearing the exclusive flag on a
// failed store-conditional, and setting NoDMI when a live reservation
// overlaps the access). Callers invoke this once per transaction at the
// target socket, before dispatch.
func (m *Monitor) Update(tx *txn.Transaction, sb *txn.Sideband) {
	start, end := tx.Range()
	r := addrrange.New(start, end)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch tx.Command {
	case txn.Read:
		if sb.IsExcl() {
			m.breakByInitiatorLocked(sb.Cpuid())
			m.reservations = append(m.reservations, Reservation{InitiatorID: sb.Cpuid(), Range: r})
		}
	case txn.Write:
		if sb.IsExcl() {
			if m.find(sb.Cpuid(), r) < 0 {
				sb.SetExcl(false)
			}
		}
		var kept []Reservation
		for _, res := range m.reservations {
			if !res.Range.Overlaps(r) {
				kept = append(kept, res)
			}
		}
		m.reservations = kept
	}

	for _, res := range m.reservations {
		if res.Range.Overlaps(r) {
			sb.SetNoDMI(true)
			break
		}
	}
}
