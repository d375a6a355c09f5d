// Package swap implements the swap table: a bitmap of fixed-size,
// page-sized slots on a block device.
package swap

import (
	"sync"

	"block"
	"defs"
)

// Table is the swap table: one bitmap over slot indices and one mutex
// protecting both the bitmap and all I/O against the swap device.
type Table struct {
	mu     sync.Mutex
	dev    block.Device
	nslots int
	used   []bool
}

// New creates a swap table over dev, which must be registered with
// block.RoleSwap.
func New(dev block.Device) *Table {
	nslots := dev.Size() / defs.BlocksPerPage
	return &Table{dev: dev, nslots: nslots, used: make([]bool, nslots)}
}

// page is the minimal view of an SPT entry the swap table needs: a flat
// page-sized buffer and a place to record the slot it was written to.
// The spt package's Entry satisfies this.
type page interface {
	Bytes() []byte
	SetSwapSlot(slot int)
	SwapSlot() int
}

// LoadToSwap finds and flips the first clear bit, writes p's page content
// to the corresponding slot, and records the slot on p. Returns ENOSPC if
// the bitmap is full; the caller must treat that as fatal.
func (t *Table) LoadToSwap(p page) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := -1
	for i, inUse := range t.used {
		if !inUse {
			slot = i
			break
		}
	}
	if slot == -1 {
		return defs.ENOSPC
	}
	t.used[slot] = true

	buf := p.Bytes()
	base := slot * defs.BlocksPerPage
	for i := 0; i < defs.BlocksPerPage; i++ {
		off := i * defs.BlockSectorSize
		if err := t.dev.Request(block.CmdWrite, base+i, buf[off:off+defs.BlockSectorSize]); err != 0 {
			t.used[slot] = false
			return err
		}
	}
	p.SetSwapSlot(slot)
	return 0
}

// LoadFromSwap reads p's slot back into p's backing buffer and frees the
// slot. A slot holds exactly one page image between allocation and its
// first swap-in; re-evicting an in-memory page allocates a fresh slot.
func (t *Table) LoadFromSwap(p page) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := p.SwapSlot()
	if slot < 0 || slot >= t.nslots || !t.used[slot] {
		return defs.EINVAL
	}
	buf := p.Bytes()
	base := slot * defs.BlocksPerPage
	for i := 0; i < defs.BlocksPerPage; i++ {
		off := i * defs.BlockSectorSize
		if err := t.dev.Request(block.CmdRead, base+i, buf[off:off+defs.BlockSectorSize]); err != 0 {
			return err
		}
	}
	t.used[slot] = false
	return 0
}

// Release frees a slot without reading it back, used when an SPT entry
// holding a swapped-out page is destroyed at process exit.
func (t *Table) Release(slot int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot >= 0 && slot < t.nslots {
		t.used[slot] = false
	}
}

// Avail reports the number of free slots remaining, for vmstat.
func (t *Table) Avail() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, inUse := range t.used {
		if !inUse {
			n++
		}
	}
	return n
}
