package frame

import (
	"testing"

	"block"
	"defs"
	"mem"
	"swap"
	"vmstat"
)

type fakeOwner struct {
	pid defs.Tid_t
	pd  *mem.SoftPageDir
}

func (o *fakeOwner) PageDir() mem.PageDir { return o.pd }
func (o *fakeOwner) Pid() defs.Tid_t      { return o.pid }

type fakeVictim struct {
	userPage uintptr
	buf      []byte
	slot     int
	pinned   bool
	swapped  bool
}

func newFakeVictim(up uintptr) *fakeVictim {
	return &fakeVictim{userPage: up, buf: make([]byte, defs.PageSize), slot: -1}
}

func (v *fakeVictim) UserPage() uintptr { return v.userPage }
func (v *fakeVictim) TryPin() bool {
	if v.pinned {
		return false
	}
	v.pinned = true
	return true
}
func (v *fakeVictim) Unpin()                { v.pinned = false }
func (v *fakeVictim) Bytes() []byte         { return v.buf }
func (v *fakeVictim) SetSwapSlot(slot int)  { v.slot = slot }
func (v *fakeVictim) SwapSlot() int         { return v.slot }
func (v *fakeVictim) MarkSwapped()          { v.swapped = true }

func TestAllocateAndFreeFrame(t *testing.T) {
	ft := New(&vmstat.Counters{})
	owner := &fakeOwner{pid: 1, pd: mem.NewSoftPageDir()}
	victim := newFakeVictim(0x1000)

	ft.AllocateFrame(owner, mem.Pa_t(0), victim)
	if ft.Len() != 1 {
		t.Fatalf("expected 1 tracked frame, got %d", ft.Len())
	}
	ft.FreeFrame(mem.Pa_t(0))
	if ft.Len() != 0 {
		t.Fatalf("expected 0 tracked frames after free, got %d", ft.Len())
	}
}

func TestEvictPagePrefersDirtyAndDetaches(t *testing.T) {
	stats := &vmstat.Counters{}
	ft := New(stats)
	pool := mem.NewPool(2)
	dev := block.NewMemDisk(defs.BlocksPerPage*2, block.RoleSwap)
	st := swap.New(dev)

	pd := mem.NewSoftPageDir()
	owner := &fakeOwner{pid: 1, pd: pd}

	clean := newFakeVictim(0x1000)
	dirty := newFakeVictim(0x2000)

	f0, _ := pool.Alloc()
	f1, _ := pool.Alloc()
	pd.Install(clean.userPage, f0, true)
	pd.Install(dirty.userPage, f1, true)
	pd.MarkDirty(dirty.userPage)

	ft.AllocateFrame(owner, f0, clean)
	ft.AllocateFrame(owner, f1, dirty)

	if !ft.EvictPage(pool, st) {
		t.Fatal("expected eviction to succeed")
	}
	if !dirty.swapped {
		t.Fatal("expected the dirty page to be the eviction victim")
	}
	if clean.swapped {
		t.Fatal("did not expect the clean page to be evicted")
	}
	if pd.IsDirty(dirty.userPage) {
		t.Fatal("expected pagedir mapping cleared on eviction")
	}
	if _, _, ok := pd.Lookup(dirty.userPage); ok {
		t.Fatal("expected hardware mapping removed after eviction")
	}
	if stats.Evictions() != 1 || stats.SwapOuts() != 1 {
		t.Fatalf("expected counters updated, got evictions=%d swapouts=%d", stats.Evictions(), stats.SwapOuts())
	}
}

func TestGetUserFrameEvictsWhenPoolExhausted(t *testing.T) {
	stats := &vmstat.Counters{}
	ft := New(stats)
	pool := mem.NewPool(1)
	dev := block.NewMemDisk(defs.BlocksPerPage*2, block.RoleSwap)
	st := swap.New(dev)

	pd := mem.NewSoftPageDir()
	owner := &fakeOwner{pid: 1, pd: pd}

	resident := newFakeVictim(0x1000)
	f0 := ft.GetUserFrame(pool, st)
	pd.Install(resident.userPage, f0, true)
	ft.AllocateFrame(owner, f0, resident)

	// The pool is now empty; the next request must evict the resident
	// frame to swap and hand its storage back out.
	f1 := ft.GetUserFrame(pool, st)
	if !resident.swapped {
		t.Fatal("expected the resident page to have been evicted")
	}
	if f1 != f0 {
		t.Fatalf("expected the evicted frame to be reused, got %v and %v", f0, f1)
	}
	if stats.Evictions() != 1 {
		t.Fatalf("expected one eviction, got %d", stats.Evictions())
	}
}

func TestEvictPageSkipsPinnedCandidate(t *testing.T) {
	stats := &vmstat.Counters{}
	ft := New(stats)
	pool := mem.NewPool(2)
	dev := block.NewMemDisk(defs.BlocksPerPage*2, block.RoleSwap)
	st := swap.New(dev)

	pd := mem.NewSoftPageDir()
	owner := &fakeOwner{pid: 1, pd: pd}

	// dirty is the scan's preferred candidate but is held pinned by a
	// concurrent fault; the scan must skip it and fall back to clean,
	// the only other frame in the list, rather than aborting the evict.
	dirty := newFakeVictim(0x1000)
	dirty.pinned = true
	clean := newFakeVictim(0x2000)

	f0, _ := pool.Alloc()
	f1, _ := pool.Alloc()
	pd.Install(dirty.userPage, f0, true)
	pd.Install(clean.userPage, f1, true)
	pd.MarkDirty(dirty.userPage)

	ft.AllocateFrame(owner, f0, dirty)
	ft.AllocateFrame(owner, f1, clean)

	if !ft.EvictPage(pool, st) {
		t.Fatal("expected eviction to succeed by skipping the pinned candidate")
	}
	if dirty.swapped {
		t.Fatal("did not expect the pinned page to be evicted")
	}
	if !clean.swapped {
		t.Fatal("expected the unpinned fallback page to be the eviction victim")
	}
	if !dirty.pinned {
		t.Fatal("expected the skipped candidate's pin to be left untouched")
	}
}
