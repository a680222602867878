// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vperiph

import (
	"encoding/binary"
	"testing"
	"time"

	"periph.io/x/vplatform/access"
	"periph.io/x/vplatform/addrrange"
	"periph.io/x/vplatform/sched"
	"periph.io/x/vplatform/socket"
	"periph.io/x/vplatform/txn"
	"periph.io/x/vplatform/vreg"
)

// TestLittleEndianRoundTrip is scenario 1 of spec.md §8: a little-endian
// peripheral on a little-endian host stores the wire bytes verbatim.
func TestLittleEndianRoundTrip(t *testing.T) {
	h := NewHost("P")
	h.Endian = binary.LittleEndian
	r := vreg.New("R", 0x10, 4, []uint64{0xdeadbeef}, access.ReadWrite)
	h.AddRegister(DefaultAddressSpace, r)
	ts := socket.NewTargetSocket(h.Space(DefaultAddressSpace), nil)
	h.BindSocket(DefaultAddressSpace, ts)

	init := &socket.Initiator{}
	init.Bind(ts)

	n, resp := init.Write(0x10, []byte{0x01, 0x02, 0x03, 0x04}, txn.Sideband{})
	if n != 4 || resp != txn.OK {
		t.Fatalf("n=%d resp=%v", n, resp)
	}
	if got := r.BankValue(0, 0); got != 0x04030201 {
		t.Fatalf("expected little-endian backing store 0x04030201, got %#x", got)
	}

	buf := make([]byte, 4)
	n, resp = init.Read(0x10, buf, txn.Sideband{})
	if n != 4 || resp != txn.OK {
		t.Fatalf("n=%d resp=%v", n, resp)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("got %x want %x", buf, want)
		}
	}
}

// TestBigEndianPeripheralOnLittleEndianHost is scenario 2 of spec.md §8.
func TestBigEndianPeripheralOnLittleEndianHost(t *testing.T) {
	h := NewHost("P")
	h.Endian = binary.BigEndian
	r := vreg.New("R", 0x10, 4, []uint64{0xdeadbeef}, access.ReadWrite)
	h.AddRegister(DefaultAddressSpace, r)
	ts := socket.NewTargetSocket(h.Space(DefaultAddressSpace), nil)
	h.BindSocket(DefaultAddressSpace, ts)

	init := &socket.Initiator{}
	init.Bind(ts)

	n, resp := init.Write(0x10, []byte{0x01, 0x02, 0x03, 0x04}, txn.Sideband{})
	if n != 4 || resp != txn.OK {
		t.Fatalf("n=%d resp=%v", n, resp)
	}
	if got := r.BankValue(0, 0); got != 0x01020304 {
		t.Fatalf("expected big-endian backing store 0x01020304, got %#x", got)
	}

	buf := make([]byte, 4)
	init.Read(0x10, buf, txn.Sideband{})
	want := []byte{0x01, 0x02, 0x03, 0x04}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("got %x want %x", buf, want)
		}
	}
}

func TestUnmappedAddressUsesFallback(t *testing.T) {
	h := NewHost("P")
	ts := socket.NewTargetSocket(h.Space(DefaultAddressSpace), nil)
	h.BindSocket(DefaultAddressSpace, ts)
	init := &socket.Initiator{}
	init.Bind(ts)

	_, resp := init.Read(0x9999, make([]byte, 4), txn.Sideband{})
	if resp != txn.AddressError {
		t.Fatalf("expected default fallback to be address-error, got %v", resp)
	}
}

func TestLatencyAccruedOnSuccessfulAccessOnly(t *testing.T) {
	h := NewHost("P")
	h.ReadLatency = 3 * time.Nanosecond
	h.WriteLatency = 5 * time.Nanosecond
	r := vreg.New("R", 0x10, 4, []uint64{0}, access.Read)
	h.AddRegister(DefaultAddressSpace, r)
	ts := socket.NewTargetSocket(h.Space(DefaultAddressSpace), nil)
	h.BindSocket(DefaultAddressSpace, ts)

	tick := &sched.Local{}
	init := &socket.Initiator{Ticker: tick}
	init.Bind(ts)

	init.Read(0x10, make([]byte, 4), txn.Sideband{})
	if tick.Offset() != 3*time.Nanosecond {
		t.Fatalf("expected read latency accrued, got %v", tick.Offset())
	}

	// A rejected write (register is read-only) must not accrue latency.
	_, resp := init.Write(0x10, make([]byte, 4), txn.Sideband{})
	if resp == txn.OK {
		t.Fatal("expected the write to a read-only register to fail")
	}
	if tick.Offset() != 3*time.Nanosecond {
		t.Fatalf("expected no additional latency on a failed access, got %v", tick.Offset())
	}
}

func TestDebugAccessDoesNotAccrueLatency(t *testing.T) {
	h := NewHost("P")
	h.ReadLatency = 10 * time.Nanosecond
	r := vreg.New("R", 0x10, 4, []uint64{0}, access.Read)
	h.AddRegister(DefaultAddressSpace, r)
	ts := socket.NewTargetSocket(h.Space(DefaultAddressSpace), nil)
	h.BindSocket(DefaultAddressSpace, ts)

	tick := &sched.Local{}
	init := &socket.Initiator{Ticker: tick}
	init.Bind(ts)

	var sb txn.Sideband
	sb.SetDebug(true)
	init.Read(0x10, make([]byte, 4), sb)
	if tick.Offset() != 0 {
		t.Fatalf("debug access must not accrue latency, got %v", tick.Offset())
	}
}

func TestAddRegisterPanicsOnOverlap(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected overlapping register registration to panic")
		}
	}()
	h := NewHost("P")
	h.AddRegister(DefaultAddressSpace, vreg.New("A", 0x10, 4, []uint64{0}, access.ReadWrite))
	h.AddRegister(DefaultAddressSpace, vreg.New("B", 0x12, 4, []uint64{0}, access.ReadWrite))
}

func TestResetRestoresInitialValues(t *testing.T) {
	h := NewHost("P")
	r := vreg.New("R", 0x10, 4, []uint64{0xcafebabe}, access.ReadWrite)
	h.AddRegister(DefaultAddressSpace, r)
	ts := socket.NewTargetSocket(h.Space(DefaultAddressSpace), nil)
	h.BindSocket(DefaultAddressSpace, ts)
	init := &socket.Initiator{}
	init.Bind(ts)

	init.Write(0x10, []byte{1, 2, 3, 4}, txn.Sideband{})
	h.Reset()
	if got := r.BankValue(0, 0); got != 0xcafebabe {
		t.Fatalf("expected reset to restore initial value, got %#x", got)
	}
}

func TestMapDMIAndClockChangeRemaps(t *testing.T) {
	h := NewHost("P")
	h.ReadCycles = 2
	h.WriteCycles = 4
	mem := make([]byte, 0x1000)
	h.OnClockChange(0, 1_000_000_000) // 1 GHz: 1ns/cycle
	if h.ReadLatency != 2*time.Nanosecond || h.WriteLatency != 4*time.Nanosecond {
		t.Fatalf("got read=%v write=%v", h.ReadLatency, h.WriteLatency)
	}
	h.MapDMI(DefaultAddressSpace, mem, 0x2000, 0x2fff, access.ReadWrite)

	tx := txn.NewRead(0x2010, make([]byte, 4))
	var sb txn.Sideband
	d, ok := h.Space(DefaultAddressSpace).DMIRequest(tx, &sb)
	if !ok {
		t.Fatal("expected a DMI grant")
	}
	if d.ReadLatency != int64(2*time.Nanosecond) {
		t.Fatalf("expected grant to carry the recomputed read latency, got %d", d.ReadLatency)
	}

	// A second clock change recomputes the latency at the new frequency.
	_ = addrrange.New(0x2000, 0x2fff)
	h.OnClockChange(1_000_000_000, 2_000_000_000)
	if h.ReadLatency != 1*time.Nanosecond {
		t.Fatalf("expected halved latency at 2GHz, got %v", h.ReadLatency)
	}
}
