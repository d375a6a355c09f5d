package block

import (
	"bytes"
	"testing"

	"defs"
)

func TestMemDiskReadWriteRoundTrip(t *testing.T) {
	d := NewMemDisk(4, RoleSwap)
	out := bytes.Repeat([]byte{0xCD}, defs.BlockSectorSize)
	if err := d.Request(CmdWrite, 2, out); err != 0 {
		t.Fatalf("unexpected write error: %v", err)
	}
	in := make([]byte, defs.BlockSectorSize)
	if err := d.Request(CmdRead, 2, in); err != 0 {
		t.Fatalf("unexpected read error: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatal("read did not return written content")
	}
	if d.Role() != RoleSwap {
		t.Fatal("expected RoleSwap")
	}
}

func TestMemDiskOutOfRange(t *testing.T) {
	d := NewMemDisk(1, RoleFS)
	buf := make([]byte, defs.BlockSectorSize)
	if err := d.Request(CmdRead, 5, buf); err == 0 {
		t.Fatal("expected out-of-range read to fail")
	}
}

func TestMemDiskRejectsUnknownCommand(t *testing.T) {
	d := NewMemDisk(1, RoleSwap)
	buf := make([]byte, defs.BlockSectorSize)
	if err := d.Request(Cmd_t(0), 0, buf); err != defs.EINVAL {
		t.Fatalf("expected EINVAL for an unknown command, got %v", err)
	}
}

func TestMemFileReadAt(t *testing.T) {
	f := NewMemFile([]byte("hello world"))
	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 6)
	if err != 0 || n != 5 || string(buf) != "world" {
		t.Fatalf("unexpected ReadAt result: n=%d err=%v buf=%q", n, err, buf)
	}
	if f.Length() != 11 {
		t.Fatalf("expected length 11, got %d", f.Length())
	}
}

func TestMemFileDenyWrite(t *testing.T) {
	f := NewMemFile(nil)
	if f.WriteDenied() {
		t.Fatal("expected no deny hold initially")
	}
	f.DenyWrite()
	if !f.WriteDenied() {
		t.Fatal("expected deny hold after DenyWrite")
	}
	f.AllowWrite()
	if f.WriteDenied() {
		t.Fatal("expected deny hold released after AllowWrite")
	}
}
