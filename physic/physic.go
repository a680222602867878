// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package physic is a trimmed descendant of the teacher's conn/physic: it
// keeps only the Frequency unit and its conversions to/from time.Duration,
// since that is the only piece of unit-safe math the core actually needs
// for register latency and clock-update accounting. The teacher's dozens
// of other physical quantities (Angle, Distance, Force, Temperature, ...)
// describe real-world sensor readings that have no meaning for a
// memory-mapped register host and were not carried forward.
package physic

import (
	"fmt"
	"time"
)

// Frequency is a measurement of cycles per second, stored as an int64 in
// micro-Hertz, exactly as the teacher's conn/physic.Frequency is.
//
// The highest representable value is a bit over 9.2THz.
type Frequency int64

const (
	MicroHertz Frequency = 1
	MilliHertz Frequency = 1000 * MicroHertz
	// Hertz is one cycle per second.
	Hertz     Frequency = 1000 * MilliHertz
	KiloHertz Frequency = 1000 * Hertz
	MegaHertz Frequency = 1000 * KiloHertz
	GigaHertz Frequency = 1000 * MegaHertz
)

// String returns the frequency formatted in Hertz with an SI prefix chosen
// for readability, e.g. "1.000MHz" or "500.000mHz".
func (f Frequency) String() string {
	switch {
	case f == 0:
		return "0Hz"
	case f >= GigaHertz:
		return fmt.Sprintf("%.3fGHz", float64(f)/float64(GigaHertz))
	case f >= MegaHertz:
		return fmt.Sprintf("%.3fMHz", float64(f)/float64(MegaHertz))
	case f >= KiloHertz:
		return fmt.Sprintf("%.3fkHz", float64(f)/float64(KiloHertz))
	case f >= Hertz:
		return fmt.Sprintf("%.3fHz", float64(f)/float64(Hertz))
	case f >= MilliHertz:
		return fmt.Sprintf("%.3fmHz", float64(f)/float64(MilliHertz))
	default:
		return fmt.Sprintf("%dµHz", int64(f))
	}
}

// Duration returns the period of one cycle at this frequency, i.e. its
// reciprocal expressed as a time.Duration. It panics on a zero or negative
// frequency, which has no finite period.
func (f Frequency) Duration() time.Duration {
	if f <= 0 {
		panic("physic: Duration of a non-positive Frequency")
	}
	return time.Second * time.Duration(Hertz) / time.Duration(f)
}

// PeriodToFrequency returns the frequency whose period is t. It panics on a
// zero or negative period.
func PeriodToFrequency(t time.Duration) Frequency {
	if t <= 0 {
		panic("physic: PeriodToFrequency of a non-positive duration")
	}
	return Frequency(time.Second) * Hertz / Frequency(t)
}

// CyclesLatency returns the time taken by cycles clock cycles at f, rounding
// down. It is how vperiph.Host derives ReadLatency/WriteLatency from
// ReadCycles/WriteCycles whenever the peripheral's clock changes.
//
// The multiplication by cycles is done before dividing by f, not after
// computing a per-cycle f.Duration() and multiplying that: at
// multi-gigahertz frequencies a single cycle's period underflows to zero
// nanoseconds, which would silently round every latency to zero no matter
// how many cycles are accrued.
func CyclesLatency(cycles uint64, f Frequency) time.Duration {
	if cycles == 0 || f <= 0 {
		return 0
	}
	return time.Duration(cycles) * time.Second * time.Duration(Hertz) / time.Duration(f)
}
