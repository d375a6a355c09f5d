// Package vm implements the page-fault resolver and the per-process
// address-space handle it operates on: fault classification, lazy
// materialization from file, swap or nothing, and fault-driven stack
// growth.
package vm

import (
	"sync"

	"block"
	"defs"
	"frame"
	"mem"
	"spt"
	"swap"
	"vmstat"
)

// Process is a process's address-space handle: its page directory and its
// supplemental page table. It is passed explicitly rather than reached
// through a thread-local current-process lookup, so tests can stand up
// several processes side by side.
type Process struct {
	pid     defs.Tid_t
	pagedir mem.PageDir
	spt     *spt.Table

	exe block.File
}

// NewProcess creates an address-space handle for a fresh process.
func NewProcess(pid defs.Tid_t, pd mem.PageDir) *Process {
	return &Process{pid: pid, pagedir: pd, spt: spt.New()}
}

func (p *Process) Pid() defs.Tid_t    { return p.pid }
func (p *Process) PageDir() mem.PageDir { return p.pagedir }
func (p *Process) SPT() *spt.Table    { return p.spt }

// SetExecutable records the file this process was loaded from, so that
// Exit can release its deny-write hold.
func (p *Process) SetExecutable(f block.File) { p.exe = f }

// Exit tears down every SPT entry belonging to p, releasing swap slots
// and frames, and lifts the executable's deny-write hold.
func (p *Process) Exit(ft *frame.Table, st *swap.Table, pool *mem.Pool) {
	p.spt.DestroyAll(st, ft, pool)
	if p.exe != nil {
		p.exe.AllowWrite()
		p.exe.Close()
	}
}

// Resolver is the page-fault resolver: the shared frame table, swap
// table, and frame pool, plus the global filesystem mutex serializing all
// I/O against block.File.
type Resolver struct {
	Frames *frame.Table
	Swap   *swap.Table
	Pool   *mem.Pool
	Stats  *vmstat.Counters

	fsmu sync.Mutex
}

// NewResolver builds a page-fault resolver over the given shared tables.
func NewResolver(ft *frame.Table, st *swap.Table, pool *mem.Pool, stats *vmstat.Counters) *Resolver {
	return &Resolver{Frames: ft, Swap: st, Pool: pool, Stats: stats}
}

// isStackAccess reports whether a fault looks like a stack access: the
// faulting page within StackLimit of PhysBase and the address no more
// than StackFaultSlack bytes below esp (slack for a push-many-registers
// instruction that writes below the stack pointer).
func isStackAccess(faultAddr, esp uintptr) bool {
	page := defs.PageRounddown(faultAddr)
	if defs.PhysBase-page > defs.StackLimit {
		return false
	}
	if esp < defs.StackFaultSlack {
		return faultAddr+defs.StackFaultSlack >= esp
	}
	return faultAddr >= esp-defs.StackFaultSlack
}

// Handle is the page-fault trap entry point. It returns false when the
// fault is unrecoverable and the trap handler must terminate the
// faulting process with exit status -1.
func (r *Resolver) Handle(p *Process, faultAddr, espAtFault uintptr) bool {
	r.Stats.Fault()
	if faultAddr < uintptr(defs.PageSize) || faultAddr >= defs.PhysBase {
		return false
	}

	if e, ok := p.SPT().Lookup(faultAddr); ok {
		switch e.Location() {
		case spt.InFile:
			return r.materializeFromFile(p, e) == 0
		case spt.InSwap:
			return r.materializeFromSwap(p, e) == 0
		case spt.InMemory:
			// Spurious: a concurrent fault already resolved this page.
			// Re-trying the faulting instruction will succeed.
			return true
		case spt.Zero:
			return r.materializeZero(p, e) == 0
		default:
			return false
		}
	}

	if isStackAccess(faultAddr, espAtFault) {
		return r.GrowStack(p, faultAddr) == 0
	}

	return false
}

// materializeFromFile resolves a fault on a file-backed page: pin the
// page, obtain a frame (possibly evicting), read its declared byte range
// from the backing file, zero the remainder, install the hardware
// mapping, and mark the page resident.
func (r *Resolver) materializeFromFile(p *Process, e *spt.Entry) defs.Err_t {
	e.Pin()
	defer e.Unpin()

	// A concurrent fault on this same page may have already materialized
	// it while we waited on the pin: re-check under the pin and return
	// without re-materializing.
	if e.Location() == spt.InMemory {
		return 0
	}

	fr := r.Frames.GetUserFrame(r.Pool, r.Swap)
	buf := r.Pool.Bytes(fr)

	r.fsmu.Lock()
	n, err := e.FileRef().ReadAt(buf[:e.ReadBytes()], e.FileOffset())
	r.fsmu.Unlock()
	if err != 0 || n != e.ReadBytes() {
		r.Pool.Free(fr)
		return defs.EIO
	}
	for i := e.ReadBytes(); i < e.ReadBytes()+e.ZeroBytes(); i++ {
		buf[i] = 0
	}

	if !p.PageDir().Install(e.UserPage(), mem.Pa_t(fr), e.Writable()) {
		r.Pool.Free(fr)
		return defs.EFAULT
	}
	e.SetFrame(r.Pool, fr)
	r.Frames.AllocateFrame(p, fr, e)
	return 0
}

// materializeZero resolves a fault on a page that was declared with no
// backing content at all: it becomes resident as a fresh zero-filled
// frame, never touching the filesystem or the swap device.
func (r *Resolver) materializeZero(p *Process, e *spt.Entry) defs.Err_t {
	e.Pin()
	defer e.Unpin()

	if e.Location() == spt.InMemory {
		return 0
	}

	fr := r.Frames.GetUserFrame(r.Pool, r.Swap)
	if !p.PageDir().Install(e.UserPage(), mem.Pa_t(fr), e.Writable()) {
		r.Pool.Free(fr)
		return defs.EFAULT
	}
	e.SetFrame(r.Pool, fr)
	r.Frames.AllocateFrame(p, fr, e)
	return 0
}

// materializeFromSwap resolves a fault on a swapped-out page: pin, obtain
// a frame, install the mapping, and read the page image back from its
// swap slot.
func (r *Resolver) materializeFromSwap(p *Process, e *spt.Entry) defs.Err_t {
	e.Pin()
	defer e.Unpin()

	// Same idempotent-fault check as materializeFromFile: a concurrent
	// swap-in may have already resolved this page while we waited.
	if e.Location() == spt.InMemory {
		return 0
	}

	fr := r.Frames.GetUserFrame(r.Pool, r.Swap)
	if !p.PageDir().Install(e.UserPage(), mem.Pa_t(fr), e.Writable()) {
		r.Pool.Free(fr)
		return defs.EFAULT
	}
	// Read the swapped-out content into the frame through a buffer-only
	// view rather than e itself: e.location must stay InSwap (and its
	// swap slot stay claimed) until the read actually succeeds, so that
	// a short read leaves the page's on-disk copy intact and reachable
	// on the next fault instead of silently losing track of its slot.
	if err := r.Swap.LoadFromSwap(swapReadInto{buf: r.Pool.Bytes(fr), e: e}); err != 0 {
		p.PageDir().Clear(e.UserPage())
		r.Pool.Free(fr)
		return err
	}
	e.SetFrame(r.Pool, fr)
	r.Stats.SwapIn()
	r.Frames.AllocateFrame(p, fr, e)
	return 0
}

// swapReadInto lets materializeFromSwap hand the swap table a frame
// buffer to read into without calling e.SetFrame (and so without
// transitioning e.Location() to InMemory) until the read has succeeded.
type swapReadInto struct {
	buf []byte
	e   *spt.Entry
}

func (s swapReadInto) Bytes() []byte        { return s.buf }
func (s swapReadInto) SetSwapSlot(slot int) { s.e.SetSwapSlot(slot) }
func (s swapReadInto) SwapSlot() int        { return s.e.SwapSlot() }

// GrowStack creates a writable, zero-filled page entry at the fault's
// page boundary and installs it, replacing any prior entry at that key.
// Rejected beyond StackLimit.
func (r *Resolver) GrowStack(p *Process, faultAddr uintptr) defs.Err_t {
	page := defs.PageRounddown(faultAddr)
	if defs.PhysBase-page > defs.StackLimit {
		return defs.EFAULT
	}

	fr := r.Frames.GetUserFrame(r.Pool, r.Swap)
	if !p.PageDir().Install(page, mem.Pa_t(fr), true) {
		r.Pool.Free(fr)
		return defs.EFAULT
	}
	e := spt.NewZeroFilled(page, true, r.Pool, fr)
	p.SPT().Insert(e)
	r.Frames.AllocateFrame(p, fr, e)
	r.Stats.StackGrow()
	return 0
}

// ValidateUserBuffer checks a syscall buffer before the syscall touches
// it: every byte of [addr, addr+size) must lie in user address space and
// have (or be grown to have) an SPT entry. forWrite pre-faults missing
// pages by growing the stack to cover them, so a read syscall's
// destination never faults re-entrantly while the syscall layer holds
// the filesystem mutex.
func (r *Resolver) ValidateUserBuffer(p *Process, addr uintptr, size int, forWrite bool) bool {
	if size <= 0 {
		return true
	}
	start := defs.PageRounddown(addr)
	end := defs.PageRounddown(addr + uintptr(size) - 1)
	for page := start; ; page += uintptr(defs.PageSize) {
		if page < uintptr(defs.PageSize) || page >= defs.PhysBase {
			return false
		}
		if _, ok := p.SPT().Lookup(page); !ok {
			if forWrite {
				if r.GrowStack(p, page) != 0 {
					return false
				}
			} else {
				return false
			}
		}
		if page == end {
			break
		}
	}
	return true
}
