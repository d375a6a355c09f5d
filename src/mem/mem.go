// Package mem provides the physical-frame pool and the hardware
// page-directory contract the rest of the virtual-memory subsystem is
// built against. Frames are never reference counted: with no copy-on-write
// and no shared pages, a frame has exactly one owning page entry at a
// time, so allocation state is a plain free/allocated bit.
package mem

import (
	"sync"

	"defs"
)

// Pa_t is a physical frame address: an index into the user-frame pool,
// scaled by PageSize.
type Pa_t uintptr

// PTE flag bits.
const (
	PteP Pa_t = 1 << 0 // present
	PteW Pa_t = 1 << 1 // writable
	PteU Pa_t = 1 << 2 // user-accessible
	PteD Pa_t = 1 << 3 // dirty (hardware-set on write)
	PteA Pa_t = 1 << 4 // accessed
)

// PageDir abstracts the hardware page directory supplied by the
// architecture layer. A software model is supplied below for use both as
// the production implementation in this teaching kernel and as a test
// double.
type PageDir interface {
	// Install maps va to the given frame with the requested permissions.
	// It fails (ok=false) if va is already mapped, mirroring
	// pagedir_set_page's documented collision behavior.
	Install(va uintptr, frame Pa_t, writable bool) (ok bool)
	// Lookup returns the frame currently mapped at va, if any.
	Lookup(va uintptr) (frame Pa_t, writable bool, ok bool)
	// Clear removes any mapping at va.
	Clear(va uintptr)
	// IsDirty reports the hardware dirty bit for the page at va.
	IsDirty(va uintptr) bool
	// ClearDirty resets the hardware dirty bit for the page at va, used
	// after a page has been flushed to swap.
	ClearDirty(va uintptr)
}

// A pte packs a frame number and the PteP/PteW/PteU/PteD/PteA bits into
// one word, the way the hardware lays an entry out.
type pte Pa_t

func mkpte(frame Pa_t, writable bool) pte {
	p := pte(frame<<defs.PageShift) | pte(PteP|PteU)
	if writable {
		p |= pte(PteW)
	}
	return p
}

func (p pte) frame() Pa_t    { return Pa_t(p) >> defs.PageShift }
func (p pte) present() bool  { return Pa_t(p)&PteP != 0 }
func (p pte) writable() bool { return Pa_t(p)&PteW != 0 }
func (p pte) dirty() bool    { return Pa_t(p)&PteD != 0 }

// SoftPageDir is a software-simulated hardware page directory: a per-process
// map from virtual page to a pte word.
type SoftPageDir struct {
	mu      sync.Mutex
	entries map[uintptr]pte
}

// NewSoftPageDir creates an empty page directory, analogous to
// pagedir_create.
func NewSoftPageDir() *SoftPageDir {
	return &SoftPageDir{entries: make(map[uintptr]pte)}
}

func (pd *SoftPageDir) Install(va uintptr, frame Pa_t, writable bool) bool {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.entries[va].present() {
		return false
	}
	pd.entries[va] = mkpte(frame, writable)
	return true
}

func (pd *SoftPageDir) Lookup(va uintptr) (Pa_t, bool, bool) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	e := pd.entries[va]
	if !e.present() {
		return 0, false, false
	}
	// A translation is an access; hardware would set PteA here.
	pd.entries[va] = e | pte(PteA)
	return e.frame(), e.writable(), true
}

func (pd *SoftPageDir) Clear(va uintptr) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	delete(pd.entries, va)
}

func (pd *SoftPageDir) IsDirty(va uintptr) bool {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.entries[va].dirty()
}

func (pd *SoftPageDir) ClearDirty(va uintptr) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if e := pd.entries[va]; e.present() {
		pd.entries[va] = e &^ pte(PteD)
	}
}

// MarkDirty simulates the MMU setting the dirty bit on a write access. Real
// hardware does this invisibly on every store; tests and the fault resolver
// call this explicitly to model that a write occurred.
func (pd *SoftPageDir) MarkDirty(va uintptr) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if e := pd.entries[va]; e.present() {
		pd.entries[va] = e | pte(PteD|PteA)
	}
}

// Pool is the fixed pool of physical user frames, handed out one page at
// a time and returned on eviction or process exit.
type Pool struct {
	mu    sync.Mutex
	frame [][]byte
	free  []int
}

// NewPool reserves nframes page-sized frames.
func NewPool(nframes int) *Pool {
	p := &Pool{
		frame: make([][]byte, nframes),
		free:  make([]int, nframes),
	}
	for i := 0; i < nframes; i++ {
		p.frame[i] = make([]byte, defs.PageSize)
		p.free[i] = nframes - 1 - i
	}
	return p
}

// Alloc returns an uninitialized frame from the pool, or ok=false if the
// pool is exhausted.
func (p *Pool) Alloc() (Pa_t, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, false
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return Pa_t(idx), true
}

// AllocZeroed returns a zero-filled frame from the pool.
func (p *Pool) AllocZeroed() (Pa_t, bool) {
	f, ok := p.Alloc()
	if !ok {
		return 0, false
	}
	b := p.Bytes(f)
	for i := range b {
		b[i] = 0
	}
	return f, true
}

// Free returns a frame to the pool.
func (p *Pool) Free(f Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, int(f))
}

// Bytes returns the backing storage for a frame: the direct-map
// translation turning a physical frame address into an addressable byte
// slice the resolver can read file content or swapped-out content into.
func (p *Pool) Bytes(f Pa_t) []byte {
	return p.frame[int(f)]
}

// Avail reports how many frames remain free, used by tests and vmstat.
func (p *Pool) Avail() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
