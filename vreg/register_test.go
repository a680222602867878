// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vreg

import (
	"testing"

	"periph.io/x/vplatform/access"
	"periph.io/x/vplatform/txn"
)

func TestReadWriteRoundTrip(t *testing.T) {
	r := New("CTRL", 0x10, 4, []uint64{0xdeadbeef}, access.ReadWrite)

	w := txn.NewWrite(0x10, []byte{0x01, 0x02, 0x03, 0x04})
	var sb txn.Sideband
	if resp := r.Receive(w, &sb, 0, nil); resp != txn.OK {
		t.Fatalf("write failed: %v", resp)
	}
	if got := r.BankValue(0, 0); got != 0x04030201 {
		t.Fatalf("got %#x", got)
	}

	buf := make([]byte, 4)
	rd := txn.NewRead(0x10, buf)
	if resp := r.Receive(rd, &sb, 0, nil); resp != txn.OK {
		t.Fatalf("read failed: %v", resp)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("got %x want %x", buf, want)
		}
	}
}

func TestNaturalAccessOnlyRejectsWrongSize(t *testing.T) {
	r := New("CTRL", 0x10, 4, []uint64{0}, access.ReadWrite)
	r.NaturalOnly = true

	buf := make([]byte, 2)
	rd := txn.NewRead(0x10, buf)
	var sb txn.Sideband
	if resp := r.Receive(rd, &sb, 0, nil); resp != txn.BurstError {
		t.Fatalf("got %v", resp)
	}
}

func TestCommandErrorOnReadOnly(t *testing.T) {
	r := New("STATUS", 0x10, 4, []uint64{0x1234}, access.Read)
	w := txn.NewWrite(0x10, []byte{1, 2, 3, 4})
	var sb txn.Sideband
	if resp := r.Receive(w, &sb, 0, nil); resp != txn.CommandError {
		t.Fatalf("got %v", resp)
	}
}

func TestAddressErrorOutsideRange(t *testing.T) {
	r := New("CTRL", 0x10, 4, []uint64{0}, access.ReadWrite)
	rd := txn.NewRead(0x20, make([]byte, 4))
	var sb txn.Sideband
	if resp := r.Receive(rd, &sb, 0, nil); resp != txn.AddressError {
		t.Fatalf("got %v", resp)
	}
}

func TestSecureOnlyRejectsNonSecure(t *testing.T) {
	r := New("SEC", 0x10, 4, []uint64{0}, access.ReadWrite)
	r.SecureOnly = true
	rd := txn.NewRead(0x10, make([]byte, 4))
	var sb txn.Sideband
	if resp := r.Receive(rd, &sb, 0, nil); resp != txn.CommandError {
		t.Fatalf("got %v", resp)
	}
	sb.SetSecure(true)
	if resp := r.Receive(rd, &sb, 0, nil); resp != txn.OK {
		t.Fatalf("got %v", resp)
	}
}

func TestPrivilegeCheck(t *testing.T) {
	r := New("PRIV", 0x10, 4, []uint64{0}, access.ReadWrite)
	r.MinPrivilege = 1
	rd := txn.NewRead(0x10, make([]byte, 4))
	var sb txn.Sideband
	if resp := r.Receive(rd, &sb, 0, nil); resp != txn.CommandError {
		t.Fatalf("got %v", resp)
	}
	sb.Privilege = 1
	if resp := r.Receive(rd, &sb, 0, nil); resp != txn.OK {
		t.Fatalf("got %v", resp)
	}
}

func TestResetRestoresInitialValueInEveryBank(t *testing.T) {
	r := New("BANKED", 0x10, 4, []uint64{0x11111111}, access.ReadWrite)
	r.Banked = true

	w := txn.NewWrite(0x10, []byte{0xff, 0xff, 0xff, 0xff})
	var sb txn.Sideband
	r.Receive(w, &sb, 0, nil)
	r.Receive(w, &sb, 7, nil)

	if r.BankValue(0, 0) != 0xffffffff || r.BankValue(7, 0) != 0xffffffff {
		t.Fatal("expected both banks to have been written")
	}
	r.Reset()
	if r.BankValue(0, 0) != 0x11111111 || r.BankValue(7, 0) != 0x11111111 {
		t.Fatal("expected reset to restore initial values in every materialized bank")
	}
}

func TestBankingIsolatesInitiators(t *testing.T) {
	r := New("BANKED", 0x10, 4, []uint64{0}, access.ReadWrite)
	r.Banked = true

	var sb txn.Sideband
	w1 := txn.NewWrite(0x10, []byte{1, 0, 0, 0})
	r.Receive(w1, &sb, 1, nil)
	w2 := txn.NewWrite(0x10, []byte{2, 0, 0, 0})
	r.Receive(w2, &sb, 2, nil)

	if r.BankValue(1, 0) != 1 || r.BankValue(2, 0) != 2 {
		t.Fatalf("expected isolated banks, got bank1=%d bank2=%d", r.BankValue(1, 0), r.BankValue(2, 0))
	}
}

func TestTaggedCallbackReceivesCellIndexForArray(t *testing.T) {
	var gotIdx []int
	r := New("ARR", 0x10, 4, []uint64{0, 0, 0}, access.ReadWrite)
	r.TaggedWriteFn = func(tag int, v uint64) { gotIdx = append(gotIdx, tag) }

	w := txn.NewWrite(0x10, make([]byte, 12))
	var sb txn.Sideband
	r.Receive(w, &sb, 0, nil)
	if len(gotIdx) != 3 || gotIdx[0] != 0 || gotIdx[1] != 1 || gotIdx[2] != 2 {
		t.Fatalf("got %v", gotIdx)
	}
}

func TestWritebackStoresReadCallbackResult(t *testing.T) {
	r := New("WB", 0x10, 4, []uint64{0}, access.ReadWrite)
	r.Writeback = true
	r.ReadFn = func() uint64 { return 0x42 }

	rd := txn.NewRead(0x10, make([]byte, 4))
	var sb txn.Sideband
	r.Receive(rd, &sb, 0, nil)
	if r.BankValue(0, 0) != 0x42 {
		t.Fatalf("expected writeback to store the read callback's value, got %#x", r.BankValue(0, 0))
	}
}

func TestByteEnableMasksWriteBytes(t *testing.T) {
	r := New("BE", 0x10, 4, []uint64{0xaabbccdd}, access.ReadWrite)
	w := txn.NewWrite(0x10, []byte{0x11, 0x22, 0x33, 0x44})
	w.ByteEnable = []byte{0xff, 0x00, 0xff, 0x00}
	var sb txn.Sideband
	if resp := r.Receive(w, &sb, 0, nil); resp != txn.OK {
		t.Fatalf("got %v", resp)
	}
	// Bytes 1 and 3 (0x22, 0x44) must not have been written.
	want := uint64(0xaabbccdd)
	want = (want &^ 0xff) | 0x11
	want = (want &^ 0xff0000) | 0x330000
	if got := r.BankValue(0, 0); got != want {
		t.Fatalf("got %#x want %#x", got, want)
	}
}
