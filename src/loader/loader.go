// Package loader populates a process's supplemental page table from an
// ELF-32 executable's program headers and builds the initial user stack.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"block"
	"defs"
	"frame"
	"mem"
	"spt"
	"ustr"
	"util"
	"vm"
)

// Result is what a successful load hands back to the process-creation
// path: the entry point and the initial stack pointer.
type Result struct {
	Entry      uintptr
	InitialEsp uintptr
}

// Load validates image as an ELF-32 ET_EXEC/EM_386 executable, declares an
// SPT entry (lazily backed by image) for every byte of every PT_LOAD
// segment, denies further writes to image, and builds the initial stack
// frame for proc carrying argv. The initial stack page's frame is
// registered with ft like any other resident page, so it is subject to
// eviction once the process is under memory pressure.
func Load(p *vm.Process, ft *frame.Table, pool *mem.Pool, image block.File, argv []string) (Result, defs.Err_t) {
	size := image.Length()
	raw := make([]byte, size)
	if n, err := image.ReadAt(raw, 0); err != 0 || int64(n) != size {
		return Result{}, defs.EIO
	}

	ef, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return Result{}, defs.EINVAL
	}
	if err := validateHeader(ef, raw); err != 0 {
		return Result{}, err
	}

	for _, ph := range ef.Progs {
		switch ph.Type {
		case elf.PT_DYNAMIC, elf.PT_INTERP, elf.PT_SHLIB:
			return Result{}, defs.EINVAL
		case elf.PT_LOAD:
			if err := loadSegment(p, image, ph, int64(len(raw))); err != 0 {
				return Result{}, err
			}
		}
	}

	image.DenyWrite()
	p.SetExecutable(image)

	esp, serr := buildStack(p, ft, pool, argv)
	if serr != 0 {
		return Result{}, serr
	}

	return Result{Entry: uintptr(ef.Entry), InitialEsp: esp}, 0
}

// elf32PhdrSize is the on-disk size of one ELF-32 program header; the
// header's own e_phentsize must agree with it.
const elf32PhdrSize = 32

// e_phentsize lives at this byte offset in an ELF-32 file header.
const elf32PhentsizeOff = 42

// validateHeader rejects malformed executables per the ELF validation
// rules: wrong class/type/machine/version, a program-header entry size
// that disagrees with the ELF-32 layout, or too many program headers.
// debug/elf does not itself check e_phentsize, so that field is read
// straight out of the raw header bytes.
func validateHeader(ef *elf.File, raw []byte) defs.Err_t {
	if ef.Class != elf.ELFCLASS32 {
		return defs.EINVAL
	}
	if ef.Type != elf.ET_EXEC {
		return defs.EINVAL
	}
	if ef.Machine != elf.EM_386 {
		return defs.EINVAL
	}
	if ef.Version != elf.EV_CURRENT {
		return defs.EINVAL
	}
	if len(raw) < elf32PhentsizeOff+2 ||
		binary.LittleEndian.Uint16(raw[elf32PhentsizeOff:]) != elf32PhdrSize {
		return defs.EINVAL
	}
	if len(ef.Progs) > defs.MaxProgramHeaders {
		return defs.EINVAL
	}
	return 0
}

// loadSegment validates one PT_LOAD program header and declares an SPT
// entry for each page it covers. Rejected: offset/vaddr disagreeing on
// page offset, offset past EOF, memsz < filesz, empty segments, segments
// touching page 0 or crossing into kernel space.
func loadSegment(p *vm.Process, f block.File, ph *elf.Prog, fileLen int64) defs.Err_t {
	if ph.Off%uint64(defs.PageSize) != ph.Vaddr%uint64(defs.PageSize) {
		return defs.EINVAL
	}
	if int64(ph.Off) > fileLen {
		return defs.EINVAL
	}
	if ph.Memsz < ph.Filesz {
		return defs.EINVAL
	}
	if ph.Memsz == 0 {
		return defs.EINVAL
	}
	vaddr := uintptr(ph.Vaddr)
	if vaddr < uintptr(defs.PageSize) {
		return defs.EINVAL
	}
	end := vaddr + uintptr(ph.Memsz)
	if end < vaddr || end >= defs.PhysBase {
		return defs.EINVAL
	}

	writable := ph.Flags&elf.PF_W != 0

	// The declared file offset is aligned down to the page boundary, and the
	// in-page lead-in (identical for offset and vaddr, validated above) is
	// counted as part of the first page's file-backed bytes. Every entry
	// then satisfies read_bytes + zero_bytes == PAGE_SIZE.
	pageOff := int64(vaddr & defs.PageOffsetMask)
	fileOff := int64(ph.Off) - pageOff
	remaining := int64(ph.Filesz) + pageOff

	for page := defs.PageRounddown(vaddr); page < end; page += uintptr(defs.PageSize) {
		readBytes := int64(0)
		if remaining > 0 {
			readBytes = util.Min(remaining, int64(defs.PageSize))
		}
		zeroBytes := int64(defs.PageSize) - readBytes

		e := spt.NewFileBacked(page, writable, f, fileOff, int(readBytes), int(zeroBytes))
		p.SPT().Insert(e)

		fileOff += int64(defs.PageSize)
		remaining -= readBytes
	}
	return 0
}

// buildStack constructs the initial user stack frame for argv in the
// System V i386 layout: argument bytes from the top down, word-alignment
// padding, a NULL sentinel, the argv pointer vector, argv itself, argc,
// and a fake return address.
func buildStack(p *vm.Process, ft *frame.Table, pool *mem.Pool, argv []string) (uintptr, defs.Err_t) {
	top := defs.PhysBase
	stackPage := top - uintptr(defs.PageSize)

	fr, ok := pool.AllocZeroed()
	if !ok {
		return 0, defs.ENOMEM
	}
	if !p.PageDir().Install(stackPage, fr, true) {
		pool.Free(fr)
		return 0, defs.EFAULT
	}
	e := spt.NewZeroFilled(stackPage, true, pool, fr)
	p.SPT().Insert(e)
	ft.AllocateFrame(p, fr, e)

	buf := pool.Bytes(fr)
	// sp is the offset into buf (and, added to stackPage, the matching
	// virtual address) of the lowest byte written so far.
	sp := defs.PageSize

	strAddrs := make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		b := ustr.CString(argv[i])
		if sp-len(b) < 0 {
			return 0, defs.ENAMETOOLONG
		}
		sp -= len(b)
		copy(buf[sp:], b)
		strAddrs[i] = stackPage + uintptr(sp)
	}

	// Word-alignment padding.
	sp -= sp % 4

	wordsz := 4
	needed := wordsz * (1 /* NULL sentinel */ + len(argv) + 1 /* argv ptr */ + 1 /* argc */ + 1 /* fake retaddr */)
	if sp-needed < 0 {
		return 0, defs.ENAMETOOLONG
	}

	sp -= wordsz // NULL sentinel (argv[n] = NULL)
	util.Writen(buf, wordsz, sp, 0)

	for i := len(argv) - 1; i >= 0; i-- {
		sp -= wordsz
		util.Writen(buf, wordsz, sp, strAddrs[i])
	}
	argvVecAddr := stackPage + uintptr(sp)

	sp -= wordsz // argv
	util.Writen(buf, wordsz, sp, argvVecAddr)

	sp -= wordsz // argc
	util.Writen(buf, wordsz, sp, uintptr(len(argv)))

	sp -= wordsz // fake return address
	util.Writen(buf, wordsz, sp, 0)

	return stackPage + uintptr(sp), 0
}
