// Command vmdemo exercises the virtual-memory subsystem end to end: it
// builds a synthetic ELF-32 executable in memory, loads it into a
// process's address space, resolves the page faults that follow from
// touching its segments and stack, forces an eviction by starving the
// frame pool, and reports the resulting counters.
package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"

	"block"
	"defs"
	"frame"
	"loader"
	"mem"
	"swap"
	"vm"
	"vmstat"
)

type elf32Ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type elf32Phdr struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

const (
	ptLoad  = 1
	pfX     = 1
	pfW     = 2
	pfR     = 4
	etExec  = 2
	emI386  = 3
	evCurrent = 1
)

// buildELF assembles a minimal ELF-32 ET_EXEC image with a single PT_LOAD
// segment, for use as the executable image in this demonstration: the
// loader package only reads ELF via debug/elf, so a real producer is
// needed to exercise it.
func buildELF(vaddr, entry uint32, filesz, memsz uint32) []byte {
	const ehdrSize = 52
	const phdrSize = 32

	eh := elf32Ehdr{
		Type:      etExec,
		Machine:   emI386,
		Version:   evCurrent,
		Entry:     entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     1,
	}
	eh.Ident[0] = 0x7f
	eh.Ident[1] = 'E'
	eh.Ident[2] = 'L'
	eh.Ident[3] = 'F'
	eh.Ident[4] = 1 // ELFCLASS32
	eh.Ident[5] = 1 // ELFDATA2LSB
	eh.Ident[6] = 1 // EV_CURRENT

	ph := elf32Phdr{
		Type:   ptLoad,
		Offset: 0,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: filesz,
		Memsz:  memsz,
		Flags:  pfR | pfX,
		Align:  uint32(defs.PageSize),
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &eh); err != nil {
		log.Fatal(err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, &ph); err != nil {
		log.Fatal(err)
	}
	text := make([]byte, filesz)
	for i := range text {
		text[i] = byte(0x90 + i%16) // filler "code" bytes
	}
	buf.Write(text)
	return buf.Bytes()
}

func main() {
	const vaddr = 0x08048000
	const filesz = 8192
	const memsz = 12288

	image := buildELF(vaddr, vaddr, filesz, memsz)
	fmt.Printf("built synthetic ELF image: %d bytes\n", len(image))

	stats := &vmstat.Counters{}
	pool := mem.NewPool(3) // deliberately small: forces eviction below
	st := swap.New(block.NewMemDisk(64, block.RoleSwap))
	ft := frame.New(stats)
	resolver := vm.NewResolver(ft, st, pool, stats)

	pagedir := mem.NewSoftPageDir()
	proc := vm.NewProcess(1, pagedir)

	res, err := loader.Load(proc, ft, pool, block.NewMemFile(image), []string{"echo", "hi"})
	if err != 0 {
		log.Fatalf("load failed: %v", err)
	}
	fmt.Printf("entry=0x%x esp=0x%x\n", res.Entry, res.InitialEsp)
	fmt.Printf("declared pages: %d\n", proc.SPT().Size())

	// Touch every declared page in turn; the pool only holds 3 frames (one
	// already spent on the initial stack page), so the later faults force
	// an eviction of an earlier one.
	for page := uintptr(vaddr); page < vaddr+memsz; page += uintptr(defs.PageSize) {
		if !resolver.Handle(proc, page, res.InitialEsp) {
			log.Fatalf("fault at 0x%x did not resolve", page)
		}
	}
	if !resolver.Handle(proc, res.InitialEsp, res.InitialEsp) {
		log.Fatal("stack fault did not resolve")
	}

	fmt.Printf("faults=%d evictions=%d swap-ins=%d swap-outs=%d stack-grows=%d\n",
		stats.Faults(), stats.Evictions(), stats.SwapIns(), stats.SwapOuts(), stats.StackGrows())

	proc.Exit(ft, st, pool)
	fmt.Printf("after exit: frames free=%d swap free=%d\n", pool.Avail(), st.Avail())
}
