// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sched defines the small hook the core needs from the host
// discrete-event kernel: a per-process local time offset (temporal
// decoupling) and a quantum bound on how far a process may run ahead of
// simulated time before yielding.
//
// The teacher (periph.io/x/periph) has no discrete-event kernel concept to
// generalize from — it talks to real hardware in real wall-clock time —
// so this package is new code grounded directly on spec.md §4.9/§5/§9
// ("Per-thread temporal offset") and on vcml's sc_time/quantum-keeper
// model described in _examples/original_source.
package sched

import "time"

// DefaultQuantum is a conservative default matching SystemC-TLM's common
// 1 microsecond "global quantum" convention for loosely-timed models.
const DefaultQuantum = time.Microsecond

// Ticker is the capability a transport caller (an initiator process) must
// provide: a place to accrue simulated time locally, and a way to yield
// back to the kernel when that local offset must be reconciled with
// global simulated time.
//
// spec.md §9 notes that in a language without first-class process
// identity, the offset should be passed explicitly as an in/out parameter
// rather than keyed by a scheduler handle; Ticker is exactly that
// explicit carrier, implemented as a small mutable value the caller owns.
type Ticker interface {
	// Offset returns the process's accrued local time ahead of the global
	// simulated clock.
	Offset() time.Duration
	// Accrue adds d to the process's local offset (latency booked by a
	// completed transport call).
	Accrue(d time.Duration)
	// Sync yields control to the kernel until simulated time has caught
	// up, then resets Offset to zero.
	Sync()
}

// Quantum bounds how far any process may simulate ahead of the global
// clock before NeedsSync reports true.
type Quantum struct {
	Bound time.Duration
}

// NewQuantum returns a Quantum with the given bound, or DefaultQuantum if
// bound <= 0.
func NewQuantum(bound time.Duration) Quantum {
	if bound <= 0 {
		bound = DefaultQuantum
	}
	return Quantum{Bound: bound}
}

// NeedsSync reports whether t's accrued offset has reached or exceeded the
// quantum bound. A Bound <= 0 (e.g. the zero Quantum) is treated as
// DefaultQuantum, the same as NewQuantum does.
func (q Quantum) NeedsSync(t Ticker) bool {
	bound := q.Bound
	if bound <= 0 {
		bound = DefaultQuantum
	}
	return t.Offset() >= bound
}

// Local is a minimal Ticker for unit tests and for models run outside a
// real kernel: Sync simply resets the offset without actually waiting, and
// is therefore only valid where no observer other than the test cares
// about wall-clock or simulated-clock progression.
type Local struct {
	offset time.Duration
}

func (l *Local) Offset() time.Duration { return l.offset }
func (l *Local) Accrue(d time.Duration) {
	l.offset += d
}
func (l *Local) Sync() {
	l.offset = 0
}
