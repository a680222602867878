// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package conntest

import (
	"testing"

	"periph.io/x/vplatform/txn"
)

func TestRecordLogsAndForwardsOK(t *testing.T) {
	r := &Record{}
	tx := txn.NewWrite(0x10, []byte{1, 2, 3, 4})
	var sb txn.Sideband
	r.BlockingTransport(tx, &sb, nil)
	if tx.Response != txn.OK {
		t.Fatalf("got %v", tx.Response)
	}
	ops := r.Snapshot()
	if len(ops) != 1 || ops[0].Address != 0x10 || !Equal(ops[0].Data, []byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected ops: %+v", ops)
	}
}

func TestPlaybackMatchesScript(t *testing.T) {
	p := &Playback{Ops: []Op{
		{Command: txn.Read, Address: 0x20, Data: []byte{0xaa, 0xbb}},
	}}
	tx := txn.NewRead(0x20, make([]byte, 2))
	var sb txn.Sideband
	p.BlockingTransport(tx, &sb, nil)
	if tx.Response != txn.OK || !Equal(tx.Data, []byte{0xaa, 0xbb}) {
		t.Fatalf("got resp=%v data=%v", tx.Response, tx.Data)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPlaybackRejectsUnexpectedAccess(t *testing.T) {
	p := &Playback{Ops: []Op{{Command: txn.Read, Address: 0x20, Data: []byte{0, 0}}}}
	tx := txn.NewWrite(0x30, []byte{1, 2})
	var sb txn.Sideband
	p.BlockingTransport(tx, &sb, nil)
	if tx.Response == txn.OK {
		t.Fatal("expected mismatch to surface as a non-OK response")
	}
}

func TestMmapRegionRoundTrips(t *testing.T) {
	mem, cleanup, err := MmapRegion(4096)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if len(mem) != 4096 {
		t.Fatalf("got %d bytes", len(mem))
	}
	mem[0] = 0xff
	if mem[0] != 0xff {
		t.Fatal("mmap'd region did not retain a write")
	}
}
