// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package vreg implements the address-range-indexed register abstraction:
// access control, alignment/natural-access enforcement, per-initiator
// banking, array (multi-cell) registers, and read/write callback
// dispatch.
//
// It generalizes the typed register handles of
// periph.io/x/periph/conn/mmr (Dev8/Dev16/Dev32, which read/write a fixed
// register address through a conn.Conn) into an address-mapped,
// callback-driven register that a peripheral host dispatches into, and is
// modeled on vcml's reg_base/reg<T,N>
// (_examples/original_source/include/vcml/core/register.h).
package vreg

import (
	"sync"

	"periph.io/x/vplatform/access"
	"periph.io/x/vplatform/addrrange"
	"periph.io/x/vplatform/sched"
	"periph.io/x/vplatform/txn"
)

// Register is a single memory-mapped register, possibly an array of
// CellCount identically-sized cells, possibly banked per initiator.
//
// The zero value is not valid; construct with New. Exported fields other
// than the callbacks are safe to adjust any time before the owning
// peripheral starts servicing transactions (elaboration time only, per
// §5: "a peripheral's register list is mutated only during elaboration").
type Register struct {
	Name string

	CellSize  uint64
	CellCount uint64

	Access       access.Mode
	Aligned      bool // alignment required, address must be a multiple of CellSize
	NaturalOnly  bool // size must equal CellSize and address must be naturally aligned
	SyncOnRead   bool
	SyncOnWrite  bool
	Writeback    bool
	SecureOnly   bool
	MinPrivilege uint64
	MinSize      uint64
	MaxSize      uint64
	Banked       bool

	// Tag is forwarded to a tagged callback when CellCount == 1, in place
	// of a cell index. It has no effect on an array register. vcml calls
	// this field reg_base::tag; the distilled spec drops it, but it costs
	// nothing and is useful for grouping related scalar registers under
	// one handler (SPEC_FULL.md §5).
	Tag int

	// ReadFn/WriteFn are plain callbacks with no cell argument, used when
	// no tagged callback is installed; on an array register they are
	// called once per cell the transaction touches.
	ReadFn  func() uint64
	WriteFn func(v uint64)
	// TaggedReadFn/TaggedWriteFn receive the cell index (or Tag, for a
	// single-cell register) and take priority over the plain callbacks.
	TaggedReadFn  func(tag int) uint64
	TaggedWriteFn func(tag int, v uint64)

	rng addrrange.Range

	mu      sync.Mutex
	initial []byte
	bank0   []byte
	banks   map[uint64][]byte
}

// New returns a register named name, starting at addr, made of
// len(initialCells) cells of cellSize bytes each (minimum 1 cell), with
// the given access mode. MinSize defaults to cellSize and MaxSize to the
// register's full span (cellSize*cellCount), so a multi-cell array
// register accepts any contiguous subset of its cells in one transaction
// by default (§4.7 "Array registers"); callers may narrow either bound
// afterward.
func New(name string, addr, cellSize uint64, initialCells []uint64, acc access.Mode) *Register {
	if cellSize == 0 || cellSize > 8 {
		panic("vreg: cell size must be between 1 and 8 bytes")
	}
	cellCount := uint64(len(initialCells))
	if cellCount == 0 {
		cellCount = 1
		initialCells = []uint64{0}
	}
	r := &Register{
		Name:      name,
		CellSize:  cellSize,
		CellCount: cellCount,
		Access:    acc,
		MinSize:   cellSize,
		MaxSize:   cellSize * cellCount,
		rng:       addrrange.Sized(addr, cellSize*cellCount),
		banks:     make(map[uint64][]byte),
	}
	r.initial = make([]byte, cellSize*cellCount)
	for i, v := range initialCells {
		packCell(r.initial[uint64(i)*cellSize:], cellSize, v)
	}
	r.bank0 = append([]byte(nil), r.initial...)
	return r
}

// Range returns the address range this register occupies.
func (r *Register) Range() addrrange.Range { return r.rng }

// IsArray reports whether this register has more than one cell.
func (r *Register) IsArray() bool { return r.CellCount > 1 }

// BankValue reads cell's current raw value from the bank belonging to
// bankKey (0 for the unbanked default) without invoking any callback.
// Intended for tests and introspection.
func (r *Register) BankValue(bankKey, cell uint64) uint64 {
	bank := r.bankFor(bankKey)
	return unpackCell(bank[cell*r.CellSize:], r.CellSize)
}

// Reset restores the initial values into bank 0 and every materialized
// bank (§4.7 Banking: "Each bank is reset to the register's initial
// values on peripheral reset").
func (r *Register) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(r.bank0, r.initial)
	for k := range r.banks {
		copy(r.banks[k], r.initial)
	}
}

func (r *Register) bankFor(key uint64) []byte {
	if !r.Banked || key == 0 {
		return r.bank0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.banks[key]
	if !ok {
		b = append([]byte(nil), r.initial...)
		r.banks[key] = b
	}
	return b
}

// checkAccess implements step 1 of §4.7: command permission, access size,
// alignment, natural-access, secure, and privilege checks. An access
// outside the register yields AddressError; access-mode, secure and
// privilege failures yield CommandError; size, alignment and
// natural-access failures yield BurstError.
func (r *Register) checkAccess(tx *txn.Transaction, sb *txn.Sideband) txn.Response {
	start, end := tx.Range()
	if !r.rng.Overlaps(addrrange.New(start, end)) {
		return txn.AddressError
	}

	switch tx.Command {
	case txn.Read:
		if !r.Access.CanRead() {
			return txn.CommandError
		}
	case txn.Write:
		if !r.Access.CanWrite() {
			return txn.CommandError
		}
	}

	if r.SecureOnly && !sb.IsSecure() {
		return txn.CommandError
	}
	if sb.Privileged() < r.MinPrivilege {
		return txn.CommandError
	}

	size := tx.Length()
	if size < r.MinSize || (r.MaxSize != 0 && size > r.MaxSize) {
		return txn.BurstError
	}
	if r.Aligned && tx.Address%r.CellSize != 0 {
		return txn.BurstError
	}
	if r.NaturalOnly && (size != r.CellSize || tx.Address%r.CellSize != 0) {
		return txn.BurstError
	}
	return txn.OK
}

// Receive implements §4.7: access check, sync-before, then per-cell
// dispatch to the installed callback (or the bank storage) for every
// cell the transaction's range intersects. bankKey selects the active
// bank (0 is the unbanked default); tk may be nil, which skips the
// sync-before yield.
func (r *Register) Receive(tx *txn.Transaction, sb *txn.Sideband, bankKey uint64, tk sched.Ticker) txn.Response {
	if resp := r.checkAccess(tx, sb); resp != txn.OK {
		tx.Response = resp
		return resp
	}

	needsSync := (tx.Command == txn.Read && r.SyncOnRead) || (tx.Command == txn.Write && r.SyncOnWrite)
	if needsSync && !sb.IsDebug() && tk != nil {
		tk.Sync()
	}

	bank := r.bankFor(bankKey)
	txStart, txEnd := tx.Range()
	inter, ok := r.rng.Intersect(addrrange.New(txStart, txEnd))
	if !ok {
		tx.Response = txn.AddressError
		return txn.AddressError
	}

	firstCell := (inter.Start - r.rng.Start) / r.CellSize
	lastCell := (inter.End - r.rng.Start) / r.CellSize

	for cell := firstCell; cell <= lastCell; cell++ {
		tag := r.Tag
		if r.CellCount > 1 {
			tag = int(cell)
		}
		cr := cellRange(r.rng.Start, cell, r.CellSize)

		switch tx.Command {
		case txn.Read:
			var v uint64
			switch {
			case r.TaggedReadFn != nil:
				v = r.TaggedReadFn(tag)
			case r.ReadFn != nil:
				v = r.ReadFn()
			default:
				v = unpackCell(bank[cell*r.CellSize:], r.CellSize)
			}
			if r.Writeback && !sb.IsDebug() {
				packCell(bank[cell*r.CellSize:], r.CellSize, v)
			}
			scatterCellToTx(tx, cr, r.CellSize, v)
		case txn.Write:
			cur := unpackCell(bank[cell*r.CellSize:], r.CellSize)
			nv := gatherCellFromTx(tx, cr, r.CellSize, cur)
			switch {
			case r.TaggedWriteFn != nil:
				r.TaggedWriteFn(tag, nv)
			case r.WriteFn != nil:
				r.WriteFn(nv)
			default:
				packCell(bank[cell*r.CellSize:], r.CellSize, nv)
			}
		}
	}

	tx.Response = txn.OK
	return txn.OK
}

func cellRange(regStart, cell, cellSize uint64) addrrange.Range {
	start := regStart + cell*cellSize
	return addrrange.New(start, start+cellSize-1)
}

// packCell/unpackCell define the register's internal byte layout for a
// cell value. The choice of byte order here is an implementation detail
// invisible to callers (callback values are always host-native uint64s);
// it must only be self-consistent within the register.
func packCell(dst []byte, cellSize uint64, v uint64) {
	for i := uint64(0); i < cellSize; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func unpackCell(src []byte, cellSize uint64) uint64 {
	var v uint64
	for i := uint64(0); i < cellSize; i++ {
		v |= uint64(src[i]) << (8 * i)
	}
	return v
}

func byteEnabled(be []byte, idx uint64) bool {
	if len(be) == 0 {
		return true
	}
	return be[idx%uint64(len(be))] != 0
}

// scatterCellToTx copies the bytes of cell value v that fall within the
// transaction's range into tx.Data at the correct offset.
func scatterCellToTx(tx *txn.Transaction, cr addrrange.Range, cellSize, v uint64) {
	txStart, txEnd := tx.Range()
	inter, ok := cr.Intersect(addrrange.New(txStart, txEnd))
	if !ok {
		return
	}
	var buf [8]byte
	packCell(buf[:], cellSize, v)
	for addr := inter.Start; addr <= inter.End; addr++ {
		tx.Data[addr-txStart] = buf[addr-cr.Start]
	}
}

// gatherCellFromTx overlays the transaction's bytes (honoring byte-enable)
// on top of cur and returns the resulting cell value, per §4.7 step 3
// Write: "assemble the new cell value by overlaying the transaction's
// bytes over the current cell value at the correct byte offset".
func gatherCellFromTx(tx *txn.Transaction, cr addrrange.Range, cellSize, cur uint64) uint64 {
	txStart, txEnd := tx.Range()
	inter, ok := cr.Intersect(addrrange.New(txStart, txEnd))
	if !ok {
		return cur
	}
	var buf [8]byte
	packCell(buf[:], cellSize, cur)
	for addr := inter.Start; addr <= inter.End; addr++ {
		txIdx := addr - txStart
		if !byteEnabled(tx.ByteEnable, txIdx) {
			continue
		}
		buf[addr-cr.Start] = tx.Data[txIdx]
	}
	return unpackCell(buf[:], cellSize)
}
