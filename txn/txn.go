// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package txn defines the unit of transport between an initiator and a
// target: the Transaction and its attached Sideband.
//
// This generalizes the point-to-point Conn.Tx(w, r []byte) error contract
// periph.io/x/periph uses for I²C and SPI into a single value that also
// carries command, byte-enables, streaming width, a response status and
// out-of-band initiator metadata, as required by a memory-mapped peripheral
// model rather than a single fixed-address bus device.
package txn

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Command identifies the kind of access a Transaction represents.
type Command int

const (
	// Ignore is a transaction that carries no data effect; used by probes.
	Ignore Command = iota
	Read
	Write
)

func (c Command) String() string {
	switch c {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "ignore"
	}
}

// Response is the outcome of a transport call. The constants below form
// the taxonomy; every non-OK value is recoverable by the caller.
type Response int

const (
	// Incomplete means the target returned without touching the response.
	// A target observing this on return from its own transport call is a
	// programming error, not a recoverable condition.
	Incomplete Response = iota
	OK
	AddressError
	CommandError
	BurstError
	ByteEnableError
	GenericError
)

func (r Response) String() string {
	switch r {
	case Incomplete:
		return "incomplete"
	case OK:
		return "ok"
	case AddressError:
		return "address-error"
	case CommandError:
		return "command-error"
	case BurstError:
		return "burst-error"
	case ByteEnableError:
		return "byte-enable-error"
	case GenericError:
		return "generic-error"
	default:
		return fmt.Sprintf("response(%d)", int(r))
	}
}

// Error implements the error interface so a non-OK Response can be
// returned or wrapped directly where Go idiom expects an error, without
// losing the taxonomy a device model needs to decide retry/fault policy.
func (r Response) Error() string {
	return r.String()
}

// Ok reports whether the response indicates success.
func (r Response) Ok() bool { return r == OK }

// Transaction is the unit of transport. The zero value is not valid; use
// NewRead or NewWrite.
type Transaction struct {
	Command        Command
	Address        uint64
	Data           []byte
	ByteEnable     []byte
	StreamingWidth uint64
	Response       Response
	DMIAllowed     bool

	sideband *Sideband
}

// NewRead builds a read transaction of len(data) bytes at addr. data is
// filled in by the target on success.
func NewRead(addr uint64, data []byte) *Transaction {
	return &Transaction{Command: Read, Address: addr, Data: data, StreamingWidth: uint64(len(data))}
}

// NewWrite builds a write transaction of len(data) bytes at addr.
func NewWrite(addr uint64, data []byte) *Transaction {
	return &Transaction{Command: Write, Address: addr, Data: data, StreamingWidth: uint64(len(data))}
}

// Clone returns a deep copy of tx, including a copy of its data and
// byte-enable buffers and of its attached sideband (if any).
func (tx *Transaction) Clone() *Transaction {
	clone := *tx
	if tx.Data != nil {
		clone.Data = append([]byte(nil), tx.Data...)
	}
	if tx.ByteEnable != nil {
		clone.ByteEnable = append([]byte(nil), tx.ByteEnable...)
	}
	if tx.sideband != nil {
		sb := *tx.sideband
		clone.sideband = &sb
	}
	return &clone
}

// Reset clears the response and detaches any sideband, readying tx for
// reuse on a fresh call. The command, address and buffers are untouched.
func (tx *Transaction) Reset() {
	tx.Response = Incomplete
	tx.sideband = nil
}

// Length returns the number of bytes this transaction's buffer covers.
func (tx *Transaction) Length() uint64 {
	return uint64(len(tx.Data))
}

// Range is the closed address range [Address, Address+Length-1] this
// transaction touches. Callers must not invoke Range on a zero-length
// transaction.
func (tx *Transaction) Range() (start, end uint64) {
	if len(tx.Data) == 0 {
		return tx.Address, tx.Address
	}
	return tx.Address, tx.Address + uint64(len(tx.Data)) - 1
}

// Sideband returns the transaction's attached sideband, or the
// all-defaults zero value if none is attached. Callers must not mutate the
// returned value's fields directly when it was the zero default; use
// SetSideband to attach one first.
func (tx *Transaction) Sideband() Sideband {
	if tx.sideband == nil {
		return Sideband{}
	}
	return *tx.sideband
}

// SetSideband attaches sb to tx, replacing any existing attachment.
func (tx *Transaction) SetSideband(sb Sideband) {
	tx.sideband = &sb
}

// Validate checks the invariants of §3: streaming width divides the data
// length, and a non-nil byte-enable pointer carries a non-zero length. It
// sets tx.Response and returns false on violation; callers (sockets) must
// not forward an invalid transaction downstream.
func (tx *Transaction) Validate() bool {
	if tx.StreamingWidth != 0 && len(tx.Data)%int(tx.StreamingWidth) != 0 {
		tx.Response = BurstError
		return false
	}
	if tx.ByteEnable != nil && len(tx.ByteEnable) == 0 {
		tx.Response = ByteEnableError
		return false
	}
	return true
}

// ToHostEndian converts data, assumed encoded in order, into the host's
// native representation in place. It is a no-op when order already
// matches host endian.
func ToHostEndian(data []byte, order binary.ByteOrder) {
	swapIfNeeded(data, order)
}

// FromHostEndian converts data from host-native representation into order
// in place. Because byte swapping is its own inverse, this is the same
// operation as ToHostEndian; it exists as a distinct name so call sites
// document the direction of travel.
func FromHostEndian(data []byte, order binary.ByteOrder) {
	swapIfNeeded(data, order)
}

func swapIfNeeded(data []byte, order binary.ByteOrder) {
	if order == nil || order == hostEndian || len(data) < 2 {
		return
	}
	for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
		data[i], data[j] = data[j], data[i]
	}
}

// hostEndian is resolved once at init time by probing the in-memory layout
// of a uint16, matching the approach every Go program without build-tag-
// gated endian detection uses.
var hostEndian = detectHostEndian()

func detectHostEndian() binary.ByteOrder {
	var x uint16 = 1
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
