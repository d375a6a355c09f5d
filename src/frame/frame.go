// Package frame implements the global frame table: the list of allocated
// physical user frames, in allocation order, that doubles as the eviction
// clock.
package frame

import (
	"container/list"
	"sync"

	"defs"
	"diag"
	"mem"
	"swap"
	"vmstat"
)

// Owner is the minimal view of a process the frame table needs: its page
// directory (to clear a mapping on eviction and to read the dirty bit) and
// an identity for logging/back-pointers.
type Owner interface {
	PageDir() mem.PageDir
	Pid() defs.Tid_t
}

// Victim is the minimal view of an SPT entry the frame table needs to
// evict it. spt.Entry implements this.
type Victim interface {
	UserPage() uintptr
	// TryPin attempts to acquire the page's pin without blocking; eviction
	// skips a page whose pin is already held.
	TryPin() bool
	Unpin()
	Bytes() []byte
	SetSwapSlot(slot int)
	SwapSlot() int
	MarkSwapped()
}

type entry struct {
	frame mem.Pa_t
	owner Owner
	page  Victim
}

// Table is the frame table: a list of frame entries plus one global
// mutex. List order is the eviction clock order, oldest allocation
// first.
type Table struct {
	mu    sync.Mutex
	list  *list.List
	byFr  map[mem.Pa_t]*list.Element
	Stats *vmstat.Counters
}

// New creates an empty frame table reporting activity into stats.
func New(stats *vmstat.Counters) *Table {
	return &Table{list: list.New(), byFr: make(map[mem.Pa_t]*list.Element), Stats: stats}
}

// AllocateFrame registers frame as now owned by owner and backing page,
// appended at the tail of the clock list.
func (t *Table) AllocateFrame(owner Owner, fr mem.Pa_t, page Victim) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := &entry{frame: fr, owner: owner, page: page}
	t.byFr[fr] = t.list.PushBack(e)
}

// FreeFrame removes the frame's entry from the list. It does not return
// the physical page to the pool; callers that also want the frame
// released to the user pool must call pool.Free themselves.
func (t *Table) FreeFrame(fr mem.Pa_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.byFr[fr]; ok {
		t.list.Remove(el)
		delete(t.byFr, fr)
	}
}

// GetUserFrame asks pool for a page; on failure it evicts one frame via st
// and retries exactly once. It panics if both the pool and swap are
// exhausted: with no frame to steal and no slot to flush to, the kernel
// cannot make progress.
func (t *Table) GetUserFrame(pool *mem.Pool, st *swap.Table) mem.Pa_t {
	if fr, ok := pool.AllocZeroed(); ok {
		return fr
	}
	if !t.EvictPage(pool, st) {
		panic("frame: user pool and swap both exhausted\n" + diag.Trace(0))
	}
	fr, ok := pool.AllocZeroed()
	if !ok {
		panic("frame: user pool and swap both exhausted\n" + diag.Trace(0))
	}
	return fr
}

// selectVictim scans the clock list trying to pin each candidate in
// order. It prefers the first dirty frame it manages to pin,
// falling back to the first frame it manages to pin at all; any
// fallback pin displaced by a later dirty find is released before
// returning, since exactly one victim's pin must stay held. Returns
// ok=false if no frame in the list could be pinned.
func (t *Table) selectVictim() (*list.Element, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fallback *list.Element
	for el := t.list.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if !e.page.TryPin() {
			continue
		}
		if e.owner.PageDir().IsDirty(e.page.UserPage()) {
			if fallback != nil {
				fallback.Value.(*entry).page.Unpin()
			}
			return el, true
		}
		if fallback == nil {
			fallback = el
		} else {
			e.page.Unpin()
		}
	}
	if fallback != nil {
		return fallback, true
	}
	return nil, false
}

// EvictPage chooses a victim and detaches it, returning true on success.
// GetUserFrame relies on the return value to tell a successful
// evict-then-retry apart from a fatal exhaustion.
func (t *Table) EvictPage(pool *mem.Pool, st *swap.Table) bool {
	el, ok := t.selectVictim()
	if !ok {
		return false
	}
	e := el.Value.(*entry)
	defer e.page.Unpin()

	// The swap I/O runs with the frame-table mutex released so that
	// unrelated allocations are not blocked behind a device write; the
	// victim's pin keeps a concurrent eviction off this page meanwhile.
	if err := st.LoadToSwap(e.page); err != 0 {
		return false
	}
	e.page.MarkSwapped()
	e.owner.PageDir().Clear(e.page.UserPage())
	t.Stats.SwapOut()

	t.mu.Lock()
	if el2, ok := t.byFr[e.frame]; ok {
		t.list.Remove(el2)
		delete(t.byFr, e.frame)
	}
	t.mu.Unlock()

	pool.Free(e.frame)
	t.Stats.Evict()
	return true
}

// Len reports the number of frames currently tracked, for vmstat.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.list.Len()
}
