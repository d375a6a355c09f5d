package swap

import (
	"testing"

	"block"
	"defs"
)

type fakePage struct {
	buf  []byte
	slot int
}

func newFakePage() *fakePage {
	return &fakePage{buf: make([]byte, defs.PageSize), slot: -1}
}

func (p *fakePage) Bytes() []byte        { return p.buf }
func (p *fakePage) SetSwapSlot(slot int) { p.slot = slot }
func (p *fakePage) SwapSlot() int        { return p.slot }

func TestSwapRoundTrip(t *testing.T) {
	dev := block.NewMemDisk(defs.BlocksPerPage*4, block.RoleSwap)
	st := New(dev)

	p := newFakePage()
	for i := range p.buf {
		p.buf[i] = 0xAB
	}
	if err := st.LoadToSwap(p); err != 0 {
		t.Fatalf("unexpected LoadToSwap error: %v", err)
	}
	if p.SwapSlot() != 0 {
		t.Fatalf("expected slot 0, got %d", p.SwapSlot())
	}

	// Overwrite the in-memory buffer to make sure LoadFromSwap actually
	// reads the device rather than trusting stale content.
	for i := range p.buf {
		p.buf[i] = 0
	}
	if err := st.LoadFromSwap(p); err != 0 {
		t.Fatalf("unexpected LoadFromSwap error: %v", err)
	}
	for i, b := range p.buf {
		if b != 0xAB {
			t.Fatalf("byte %d: expected 0xAB after swap-in, got %x", i, b)
		}
	}
	if st.Avail() != 4 {
		t.Fatalf("expected all slots free after swap-in, got %d available", st.Avail())
	}
}

func TestSwapExhaustion(t *testing.T) {
	dev := block.NewMemDisk(defs.BlocksPerPage, block.RoleSwap)
	st := New(dev)

	p1 := newFakePage()
	if err := st.LoadToSwap(p1); err != 0 {
		t.Fatalf("unexpected error on first slot: %v", err)
	}
	p2 := newFakePage()
	if err := st.LoadToSwap(p2); err != defs.ENOSPC {
		t.Fatalf("expected ENOSPC once bitmap is full, got %v", err)
	}
}

func TestReleaseFreesSlotWithoutReading(t *testing.T) {
	dev := block.NewMemDisk(defs.BlocksPerPage*2, block.RoleSwap)
	st := New(dev)
	p := newFakePage()
	st.LoadToSwap(p)
	st.Release(p.SwapSlot())
	if st.Avail() != 2 {
		t.Fatalf("expected slot released, got %d available", st.Avail())
	}
}
