// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package txn

// sidebandFlags is a bitmask of the boolean attributes carried by a
// Sideband.
type sidebandFlags uint16

const (
	flagDebug sidebandFlags = 1 << iota
	flagNoDMI
	flagSync
	flagInstruction
	flagExclusive
	flagLock
	flagSecure
)

// Sideband is out-of-band metadata attached to a Transaction: who
// initiated it, at what privilege, and with which special flags. It is a
// pure value — composable with And/Or/Xor — not a resource; the zero
// value is all-default (no flags set, all numeric fields zero).
type Sideband struct {
	flags     sidebandFlags
	CPUID     uint64
	Privilege uint64
	ASID      uint64
}

// NewSideband returns a Sideband with cpuid recorded and no flags set; it
// is a convenience over building one field at a time.
func NewSideband(cpuid uint64) Sideband {
	return Sideband{CPUID: cpuid}
}

func (s Sideband) has(f sidebandFlags) bool { return s.flags&f != 0 }
func (s *Sideband) set(f sidebandFlags, v bool) {
	if v {
		s.flags |= f
	} else {
		s.flags &^= f
	}
}

func (s Sideband) IsDebug() bool       { return s.has(flagDebug) }
func (s Sideband) IsNoDMI() bool       { return s.has(flagNoDMI) }
func (s Sideband) IsSync() bool        { return s.has(flagSync) }
func (s Sideband) IsInsn() bool        { return s.has(flagInstruction) }
func (s Sideband) IsExcl() bool        { return s.has(flagExclusive) }
func (s Sideband) IsLock() bool        { return s.has(flagLock) }
func (s Sideband) IsSecure() bool      { return s.has(flagSecure) }
func (s Sideband) Cpuid() uint64       { return s.CPUID }
func (s Sideband) Privileged() uint64  { return s.Privilege }
func (s Sideband) Asid() uint64        { return s.ASID }

func (s *Sideband) SetDebug(v bool)       { s.set(flagDebug, v) }
func (s *Sideband) SetNoDMI(v bool)       { s.set(flagNoDMI, v) }
func (s *Sideband) SetSync(v bool)        { s.set(flagSync, v) }
func (s *Sideband) SetInsn(v bool)        { s.set(flagInstruction, v) }
func (s *Sideband) SetExcl(v bool)        { s.set(flagExclusive, v) }
func (s *Sideband) SetLock(v bool)        { s.set(flagLock, v) }
func (s *Sideband) SetSecure(v bool)      { s.set(flagSecure, v) }

// And returns the bitwise AND of the two sidebands' flags; numeric fields
// are taken from s.
func (s Sideband) And(o Sideband) Sideband {
	r := s
	r.flags = s.flags & o.flags
	return r
}

// Or returns the bitwise OR of the two sidebands' flags; numeric fields
// are taken from s.
func (s Sideband) Or(o Sideband) Sideband {
	r := s
	r.flags = s.flags | o.flags
	return r
}

// Xor returns the bitwise XOR of the two sidebands' flags; numeric fields
// are taken from s.
func (s Sideband) Xor(o Sideband) Sideband {
	r := s
	r.flags = s.flags ^ o.flags
	return r
}

// Combine mutates s in place to the bitwise OR of its flags and o's,
// matching the in-place composition operator described in §4.1.
func (s *Sideband) Combine(o Sideband) {
	s.flags |= o.flags
}
