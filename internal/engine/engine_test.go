package engine

import (
	"bytes"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/aofs/aofs/internal/container"
	"github.com/aofs/aofs/internal/layout"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aofs.img")
	c, err := container.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return New(c)
}

// S1: fresh mount, create("/a", 0644); getattr returns size 0, mode
// regular-0644; readdir yields {a} (the adapter is responsible for adding
// "." and "..").
func TestScenarioS1(t *testing.T) {
	e := newTestEngine(t)

	if err := e.Create("/a", 0644); err != nil {
		t.Fatal(err)
	}
	attr, err := e.GetAttr("/a")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Size != 0 {
		t.Errorf("size = %d, want 0", attr.Size)
	}
	if attr.Mode&0777 != 0644 {
		t.Errorf("mode = %o, want permission bits 0644", attr.Mode)
	}
	if attr.Mode&syscall.S_IFMT != syscall.S_IFREG {
		t.Errorf("mode = %o, want a regular file", attr.Mode)
	}

	names, err := e.ReadDir("/")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "a" {
		t.Fatalf("readdir = %v, want [a]", names)
	}
}

// S2: create("/b"); write 12 bytes; read returns them; getattr.size == 12.
func TestScenarioS2(t *testing.T) {
	e := newTestEngine(t)

	if err := e.Create("/b", 0644); err != nil {
		t.Fatal(err)
	}
	n, err := e.Write("/b", []byte("Hello World!"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 12 {
		t.Fatalf("Write returned %d, want 12", n)
	}

	got, err := e.Read("/b")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("Hello World!")) {
		t.Fatalf("Read = %q, want %q", got, "Hello World!")
	}

	attr, err := e.GetAttr("/b")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Size != 12 {
		t.Fatalf("size = %d, want 12", attr.Size)
	}
}

// S3: create("/big"); write 5500 'A's; head slot shows fileSize=5500,
// nextBlock != 0; read yields 5500 'A's; two bits set besides bit 0.
func TestScenarioS3(t *testing.T) {
	e := newTestEngine(t)

	if err := e.Create("/big", 0644); err != nil {
		t.Fatal(err)
	}
	x := bytes.Repeat([]byte{'A'}, 5500)
	n, err := e.Write("/big", x)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5500 {
		t.Fatalf("Write returned %d, want 5500", n)
	}

	k, err := e.c.Index.Lookup("big")
	if err != nil {
		t.Fatal(err)
	}
	rec := e.c.Index.Slot(k)
	if rec.FileSize != 5500 {
		t.Fatalf("head fileSize = %d, want 5500", rec.FileSize)
	}
	if rec.NextBlock == 0 {
		t.Fatal("head nextBlock should be non-zero for a 5500-byte file")
	}

	got, err := e.Read("/big")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, x) {
		t.Fatal("read content did not match the 5500-byte write")
	}

	if got := e.c.Bitmap.Popcount(); got != 3 { // superblock + 2 data blocks
		t.Fatalf("popcount = %d, want 3", got)
	}
}

// S4: from S3 state, unlink("/big"); both bits cleared; getattr -> NoSuchEntry.
func TestScenarioS4(t *testing.T) {
	e := newTestEngine(t)

	if err := e.Create("/big", 0644); err != nil {
		t.Fatal(err)
	}
	x := bytes.Repeat([]byte{'A'}, 5500)
	if _, err := e.Write("/big", x); err != nil {
		t.Fatal(err)
	}
	k, err := e.c.Index.Lookup("big")
	if err != nil {
		t.Fatal(err)
	}
	k2 := e.c.Index.Slot(k).NextBlock

	if err := e.Unlink("/big"); err != nil {
		t.Fatal(err)
	}
	if e.c.Bitmap.IsUsed(k) || e.c.Bitmap.IsUsed(k2) {
		t.Fatal("both blocks of the unlinked file should be free")
	}
	if _, err := e.GetAttr("/big"); err == nil {
		t.Fatal("getattr on an unlinked file should fail")
	} else if kindOf(err) != NoSuchEntry {
		t.Fatalf("error kind = %v, want NoSuchEntry", kindOf(err))
	}
}

// S5: fill all 255 data blocks via single-block creates; the 256th create
// returns NoSpace.
func TestScenarioS5(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < layout.Blocks-1; i++ {
		name := "/" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		if err := e.Create(name, 0644); err != nil {
			t.Fatalf("create #%d (%s) failed: %v", i, name, err)
		}
	}

	err := e.Create("/overflow", 0644)
	if err == nil {
		t.Fatal("create should fail once every data block is used")
	}
	if kindOf(err) != NoSpace {
		t.Fatalf("error kind = %v, want NoSpace", kindOf(err))
	}
}

// S6: after S2, unmount and remount; read still yields the same content.
func TestScenarioS6(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aofs.img")

	c, err := container.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	e := New(c)
	if err := e.Create("/b", 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Write("/b", []byte("Hello World!")); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c2, err := container.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	e2 := New(c2)

	got, err := e2.Read("/b")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("Hello World!")) {
		t.Fatalf("Read after remount = %q, want %q", got, "Hello World!")
	}
}

// Testable property 3: idempotent unlink — second call fails with NoSuchEntry.
func TestUnlinkTwice(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Create("/a", 0644); err != nil {
		t.Fatal(err)
	}
	if err := e.Unlink("/a"); err != nil {
		t.Fatal(err)
	}
	err := e.Unlink("/a")
	if err == nil {
		t.Fatal("second unlink should fail")
	}
	if kindOf(err) != NoSuchEntry {
		t.Fatalf("error kind = %v, want NoSuchEntry", kindOf(err))
	}
}

// A rewrite that shrinks a chained file back under one block's capacity
// must free its old continuation block rather than leaking it.
func TestWriteShrinkFreesContinuationBlock(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Create("/big", 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Write("/big", bytes.Repeat([]byte{'A'}, 5500)); err != nil {
		t.Fatal(err)
	}
	if got := e.c.Bitmap.Popcount(); got != 3 {
		t.Fatalf("popcount after chained write = %d, want 3", got)
	}

	if _, err := e.Write("/big", []byte("small")); err != nil {
		t.Fatal(err)
	}
	if got := e.c.Bitmap.Popcount(); got != 2 {
		t.Fatalf("popcount after shrinking write = %d, want 2 (superblock + 1 data block)", got)
	}

	got, err := e.Read("/big")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("small")) {
		t.Fatalf("Read = %q, want %q", got, "small")
	}
}

// A rewrite that stays chained reuses its existing continuation block
// instead of allocating a new one.
func TestWriteReusesContinuationBlock(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Create("/big", 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Write("/big", bytes.Repeat([]byte{'A'}, 5500)); err != nil {
		t.Fatal(err)
	}
	k, err := e.c.Index.Lookup("big")
	if err != nil {
		t.Fatal(err)
	}
	k2 := e.c.Index.Slot(k).NextBlock

	if _, err := e.Write("/big", bytes.Repeat([]byte{'B'}, 5600)); err != nil {
		t.Fatal(err)
	}
	if got := e.c.Index.Slot(k).NextBlock; got != k2 {
		t.Fatalf("NextBlock after rewrite = %d, want reused block %d", got, k2)
	}
	if got := e.c.Bitmap.Popcount(); got != 3 {
		t.Fatalf("popcount after re-chained write = %d, want 3", got)
	}
}

// Create rejects a duplicate name (spec §9 open question 2).
func TestCreateRejectsDuplicate(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Create("/a", 0644); err != nil {
		t.Fatal(err)
	}
	err := e.Create("/a", 0644)
	if err == nil {
		t.Fatal("create should reject a duplicate name")
	}
	if kindOf(err) != AlreadyExists {
		t.Fatalf("error kind = %v, want AlreadyExists", kindOf(err))
	}
}

func kindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return -1
}
