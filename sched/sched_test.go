// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sched

import (
	"testing"
	"time"
)

func TestNeedsSync(t *testing.T) {
	q := NewQuantum(10 * time.Nanosecond)
	l := &Local{}
	if q.NeedsSync(l) {
		t.Fatal("fresh ticker must not need sync")
	}
	l.Accrue(10 * time.Nanosecond)
	if !q.NeedsSync(l) {
		t.Fatal("offset reaching the bound must need sync")
	}
	l.Sync()
	if l.Offset() != 0 {
		t.Fatal("sync must reset the offset")
	}
}

func TestDefaultQuantum(t *testing.T) {
	q := NewQuantum(0)
	if q.Bound != DefaultQuantum {
		t.Fatalf("got %v", q.Bound)
	}
}
