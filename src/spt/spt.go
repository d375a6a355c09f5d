// Package spt implements the per-process supplemental page table: the
// metadata describing every virtual page a process has declared, and
// where its content currently lives.
package spt

import (
	"sync"

	"block"
	"defs"
	"hashtable"
	"mem"
	"swap"
)

// Location is the four-valued tagged discriminant for where a page's
// content currently lives; each variant only carries the fields
// meaningful for it.
type Location int

const (
	InMemory Location = iota
	InFile
	InSwap
	Zero
)

// Entry is one supplemental-page-table record, keyed by its page-aligned
// user virtual address.
type Entry struct {
	mu sync.Mutex // pin: held for the full materialize-and-install sequence

	userPage uintptr
	writable bool
	location Location

	fileRef    block.File
	fileOffset int64
	readBytes  int
	zeroBytes  int

	swapSlot int

	pool  *mem.Pool
	frame mem.Pa_t
}

// NewFileBacked declares a page whose initial content comes from an
// executable image, as the loader does for each page of a PT_LOAD
// segment.
func NewFileBacked(userPage uintptr, writable bool, f block.File, offset int64, readBytes, zeroBytes int) *Entry {
	return &Entry{
		userPage:   userPage,
		writable:   writable,
		location:   InFile,
		fileRef:    f,
		fileOffset: offset,
		readBytes:  readBytes,
		zeroBytes:  zeroBytes,
	}
}

// NewZeroDeclared declares a page with no backing content that has not
// been touched yet: it holds no frame and no swap slot, and the fault
// resolver materializes it as a zero-filled frame on first access.
func NewZeroDeclared(userPage uintptr, writable bool) *Entry {
	return &Entry{
		userPage: userPage,
		writable: writable,
		location: Zero,
	}
}

// NewZeroFilled declares a page with no backing content (a fresh stack
// page), materialized directly into memory.
func NewZeroFilled(userPage uintptr, writable bool, pool *mem.Pool, fr mem.Pa_t) *Entry {
	return &Entry{
		userPage: userPage,
		writable: writable,
		location: InMemory,
		pool:     pool,
		frame:    fr,
	}
}

func (e *Entry) UserPage() uintptr  { return e.userPage }
func (e *Entry) Writable() bool     { return e.writable }
func (e *Entry) Location() Location { return e.location }
func (e *Entry) FileRef() block.File { return e.fileRef }
func (e *Entry) FileOffset() int64  { return e.fileOffset }
func (e *Entry) ReadBytes() int     { return e.readBytes }
func (e *Entry) ZeroBytes() int     { return e.zeroBytes }

// Pin blocks until the page's pin is acquired. The fault resolver holds
// it for the full materialize-and-install sequence; a pinned page is
// never an eviction candidate.
func (e *Entry) Pin() { e.mu.Lock() }

// Unpin releases the page's pin.
func (e *Entry) Unpin() { e.mu.Unlock() }

// TryPin attempts to acquire the pin without blocking. Eviction uses this
// and skips the page if it is already held.
func (e *Entry) TryPin() bool { return e.mu.TryLock() }

// SetFrame records that this page is now resident in fr, drawn from pool.
func (e *Entry) SetFrame(pool *mem.Pool, fr mem.Pa_t) {
	e.pool = pool
	e.frame = fr
	e.location = InMemory
}

// Bytes returns the backing storage for this page's current frame. It
// must only be called while the page is resident (location == InMemory).
func (e *Entry) Bytes() []byte {
	return e.pool.Bytes(e.frame)
}

// SwapSlot returns the starting block-sector index this page was last
// written to, if location == InSwap.
func (e *Entry) SwapSlot() int { return e.swapSlot }

// SetSwapSlot records the slot a swap-out wrote this page's content to.
func (e *Entry) SetSwapSlot(slot int) { e.swapSlot = slot }

// MarkSwapped transitions the entry to InSwap, dropping its frame
// back-pointer. Called by the frame table once eviction's swap-out
// succeeds.
func (e *Entry) MarkSwapped() {
	e.location = InSwap
	e.pool = nil
	e.frame = 0
}

// Table is a per-process supplemental page table: a hash from
// user_page >> PageShift to *Entry, guarded by a per-process mutex.
type Table struct {
	mu sync.Mutex
	ht *hashtable.Table[*Entry]
}

// New creates an empty supplemental page table.
func New() *Table {
	return &Table{ht: hashtable.New[*Entry](32)}
}

func keyOf(userPage uintptr) uint64 {
	return uint64(userPage >> defs.PageShift)
}

// Insert declares or replaces the entry for e.UserPage(). If a page entry
// already exists there, it is discarded without cleanup; the loader
// relies on this to overwrite a previously-declared mapping.
func (t *Table) Insert(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ht.Set(keyOf(e.userPage), e)
}

// Lookup rounds addr down to its page boundary and returns the entry
// declared there, if any. Deliberately does not take the table mutex: the
// underlying hashtable's Get is lock-free so that a fault on one page
// never blocks behind a concurrent Insert/destroy for an unrelated page.
func (t *Table) Lookup(addr uintptr) (*Entry, bool) {
	page := defs.PageRounddown(addr)
	return t.ht.Get(keyOf(page))
}

// DestroyAll tears down every entry in the table at process exit,
// releasing the swap slot or frame held by any swapped or resident page.
func (t *Table) DestroyAll(st *swap.Table, ft interface{ FreeFrame(mem.Pa_t) }, pool *mem.Pool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var entries []*Entry
	t.ht.Iter(func(_ uint64, e *Entry) bool {
		entries = append(entries, e)
		return false
	})
	for _, e := range entries {
		switch e.location {
		case InMemory:
			ft.FreeFrame(e.frame)
			pool.Free(e.frame)
		case InSwap:
			st.Release(e.swapSlot)
		}
		t.ht.Del(keyOf(e.userPage))
	}
}

// Size reports the number of declared pages, for tests and vmstat.
func (t *Table) Size() int {
	return t.ht.Size()
}
