// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rangeutil holds the small generic ordering helpers shared by the
// range-merge logic in dmicache and addrrange, so the merge arithmetic
// doesn't get duplicated (or written against interface{}) in each bounded
// collection.
//
// The teacher (periph.io/x/periph, go.mod "go 1.11") predates generics; this
// package is grounded on the newer style seen in the pack's
// BigBossBoolingB-VDATABPro and usbarmory-tamago repos, which both pull in
// golang.org/x/exp for constraint-parameterized helpers ahead of a given
// Go toolchain's stdlib "slices"/"maps" packages.
package rangeutil

import "golang.org/x/exp/constraints"

// Min returns the smaller of a and b.
func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}
