// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vbus

import (
	"context"

	"golang.org/x/time/rate"

	"periph.io/x/vplatform/socket"
	"periph.io/x/vplatform/txn"
)

// ThrottledInitiator wraps a socket.Initiator and bounds how many
// transactions per second it may issue, using a token-bucket limiter
// instead of a sleep loop. It is meant for synthetic load generators
// driving a bus in a benchmark or stress test, where an unthrottled tight
// loop would measure scheduler/allocator overhead rather than the bus's
// own routing cost.
type ThrottledInitiator struct {
	Initiator *socket.Initiator
	Limiter   *rate.Limiter
}

// NewThrottledInitiator returns a wrapper issuing at most ratePerSecond
// transactions per second through init, with a burst of burst.
func NewThrottledInitiator(init *socket.Initiator, ratePerSecond float64, burst int) *ThrottledInitiator {
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledInitiator{Initiator: init, Limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Read blocks until the limiter admits another transaction, then performs
// a typed read exactly as socket.Initiator.Read would.
func (t *ThrottledInitiator) Read(ctx context.Context, addr uint64, data []byte, sb txn.Sideband) (int, txn.Response, error) {
	if err := t.Limiter.Wait(ctx); err != nil {
		return 0, txn.Incomplete, err
	}
	n, resp := t.Initiator.Read(addr, data, sb)
	return n, resp, nil
}

// Write blocks until the limiter admits another transaction, then
// performs a typed write exactly as socket.Initiator.Write would.
func (t *ThrottledInitiator) Write(ctx context.Context, addr uint64, data []byte, sb txn.Sideband) (int, txn.Response, error) {
	if err := t.Limiter.Wait(ctx); err != nil {
		return 0, txn.Incomplete, err
	}
	n, resp := t.Initiator.Write(addr, data, sb)
	return n, resp, nil
}
