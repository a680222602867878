// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package access defines the {none, read, write, read-write} permission
// lattice shared by registers and DMI grants.
package access

// Mode is a permission grant.
type Mode int

const (
	None Mode = iota
	Read
	Write
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "read-write"
	default:
		return "none"
	}
}

// CanRead reports whether m grants read access.
func (m Mode) CanRead() bool { return m == Read || m == ReadWrite }

// CanWrite reports whether m grants write access.
func (m Mode) CanWrite() bool { return m == Write || m == ReadWrite }

// Includes reports whether m grants at least everything need grants,
// i.e. m is a superset of need in the {none ⊂ read,write ⊂ read-write}
// lattice (read and write are incomparable to each other).
func (m Mode) Includes(need Mode) bool {
	switch need {
	case None:
		return true
	case Read:
		return m.CanRead()
	case Write:
		return m.CanWrite()
	case ReadWrite:
		return m.CanRead() && m.CanWrite()
	}
	return false
}

// Of returns the mode granting read and/or write as requested.
func Of(canRead, canWrite bool) Mode {
	switch {
	case canRead && canWrite:
		return ReadWrite
	case canRead:
		return Read
	case canWrite:
		return Write
	default:
		return None
	}
}
