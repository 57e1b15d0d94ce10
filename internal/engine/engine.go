// Package engine implements AOFS's POSIX-ish operations (create, open,
// read, write, unlink, stat, readdir, ...) against an internal/container,
// consulting its bitmap and index and performing all container I/O through
// the container's methods, at addresses internal/layout computes. Every exported method takes and releases the engine's
// single mutex at entry and exit per spec §5: the filesystem is
// single-writer, and no operation suspends mid-I/O in a way that yields it.
package engine

import (
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aofs/aofs/internal/container"
	"github.com/aofs/aofs/internal/layout"
)

// modeRegular is forced onto a newly created file's mode when the caller's
// mode carries no file-type bits, mirroring the most complete of the
// original drafts (which otherwise stores the caller's mode verbatim).
const modeRegular = syscall.S_IFREG

// Attr is the subset of file metadata getattr/stat-shaped callers need.
type Attr struct {
	Mode         uint32
	Size         uint64
	Nlink        uint32
	TimeCreated  int64
	TimeUpdated  int64
	TimeAccessed int64
}

// StatFS reports container-wide space accounting.
type StatFS struct {
	TotalBytes uint64
	FreeBytes  uint64
	BlockSize  uint32
}

// Engine is the mount-session state: one container plus the mutex
// serializing every operation against it.
type Engine struct {
	mu sync.Mutex
	c  *container.Container
}

// New wraps an already-open container in an Engine.
func New(c *container.Container) *Engine {
	return &Engine{c: c}
}

// splitPath validates path against AOFS's flat, single-directory layout. It
// returns isRoot=true for "/" and otherwise the single path component with
// its leading slash stripped.
func splitPath(path string) (name string, isRoot bool, err error) {
	if path == "/" || path == "" {
		return "", true, nil
	}
	trimmed := strings.TrimPrefix(path, "/")
	if strings.Contains(trimmed, "/") {
		return "", false, newErr("path", path, NoSuchEntry, nil)
	}
	return trimmed, false, nil
}

func attrFromRecord(rec layout.Record) Attr {
	return Attr{
		Mode:         rec.Mode,
		Size:         uint64(rec.FileSize),
		Nlink:        1,
		TimeCreated:  rec.TimeCreated,
		TimeUpdated:  rec.TimeUpdated,
		TimeAccessed: rec.TimeAccessed,
	}
}

// GetAttr implements spec §4.5's getattr.
func (e *Engine) GetAttr(path string) (Attr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name, isRoot, err := splitPath(path)
	if err != nil {
		return Attr{}, err
	}
	if isRoot {
		return Attr{Mode: syscall.S_IFDIR | 0755, Nlink: 2}, nil
	}
	k, lookupErr := e.c.Index.Lookup(name)
	if lookupErr != nil {
		return Attr{}, newErr("getattr", path, NoSuchEntry, lookupErr)
	}
	return attrFromRecord(e.c.Index.Slot(k)), nil
}

// ReadDir implements spec §4.5's readdir, returning only the real file
// names; the caller (internal/upcall) is responsible for prepending "."
// and "..".
func (e *Engine) ReadDir(path string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, isRoot, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if !isRoot {
		return nil, newErr("readdir", path, NoSuchEntry, nil)
	}
	return e.c.Index.Names(), nil
}

// Open implements spec §4.5's open: it requires the name to already exist
// and updates the head slot's timeAccessed. No handle state is kept.
func (e *Engine) Open(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name, isRoot, err := splitPath(path)
	if err != nil {
		return err
	}
	if isRoot {
		return newErr("open", path, AccessDenied, nil)
	}
	k, lookupErr := e.c.Index.Lookup(name)
	if lookupErr != nil {
		return newErr("open", path, NoSuchEntry, lookupErr)
	}
	rec := e.c.Index.Slot(k)
	rec.TimeAccessed = time.Now().Unix()
	e.c.Index.SlotUpdate(k, rec)
	if err := e.c.WriteMeta(k, rec); err != nil {
		return newErr("open", path, ContainerIoError, err)
	}
	return nil
}

// Create implements spec §4.5's create.
func (e *Engine) Create(path string, mode uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name, isRoot, err := splitPath(path)
	if err != nil {
		return err
	}
	if isRoot {
		return newErr("create", path, AccessDenied, nil)
	}
	if _, lookupErr := e.c.Index.Lookup(name); lookupErr == nil {
		return newErr("create", path, AlreadyExists, nil)
	}

	k, ok := e.c.Bitmap.FindFree()
	if !ok {
		return newErr("create", path, NoSpace, nil)
	}

	if mode&syscall.S_IFMT == 0 {
		mode |= modeRegular
	}
	now := time.Now().Unix()
	rec := layout.Record{
		FileName:     name,
		FileSize:     0,
		BlockIndex:   k,
		NextBlock:    0,
		Mode:         mode,
		TimeCreated:  now,
		TimeUpdated:  0,
		TimeAccessed: now,
	}
	if err := e.c.WriteMeta(k, rec); err != nil {
		return newErr("create", path, ContainerIoError, err)
	}
	e.c.Index.SlotUpdate(k, rec)
	e.c.Bitmap.MarkUsed(k)
	if err := e.c.PersistBitmap(); err != nil {
		return newErr("create", path, ContainerIoError, err)
	}
	return nil
}

// Write implements spec §4.5's write: it always replaces the file's entire
// content with buf, regardless of the offset the caller passed (the
// contract spec §4.5 documents as a deliberate deviation from an
// offset-honoring write).
func (e *Engine) Write(path string, buf []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name, isRoot, err := splitPath(path)
	if err != nil {
		return 0, err
	}
	if isRoot {
		return 0, newErr("write", path, AccessDenied, nil)
	}
	k, lookupErr := e.c.Index.Lookup(name)
	if lookupErr != nil {
		return 0, newErr("write", path, NoSuchEntry, lookupErr)
	}
	size := len(buf)
	if size > 2*layout.Payload {
		return 0, newErr("write", path, NoSpace, nil)
	}
	now := time.Now().Unix()
	rec := e.c.Index.Slot(k)
	oldNext := rec.NextBlock

	if size <= layout.Payload {
		if err := e.c.WritePayload(k, buf); err != nil {
			return 0, newErr("write", path, ContainerIoError, err)
		}
		rec.FileSize = int64(size)
		rec.NextBlock = 0
		rec.TimeUpdated = now
		rec.TimeAccessed = now
		if err := e.c.WriteMeta(k, rec); err != nil {
			return 0, newErr("write", path, ContainerIoError, err)
		}
		e.c.Index.SlotUpdate(k, rec)
		// A rewrite that shrinks a previously-chained file below one block's
		// capacity must release its old continuation block, or that block
		// stays marked used forever with no head pointing at it.
		if oldNext != 0 {
			if err := e.c.ZeroBlock(oldNext, layout.Payload); err != nil {
				return 0, newErr("write", path, ContainerIoError, err)
			}
			e.c.Bitmap.MarkFree(oldNext)
			e.c.Index.SlotClear(oldNext)
			if err := e.c.PersistBitmap(); err != nil {
				return 0, newErr("write", path, ContainerIoError, err)
			}
		}
		return size, nil
	}

	first := buf[:layout.Payload]
	rest := buf[layout.Payload:size]

	// Reuse the file's existing continuation block across a rewrite rather
	// than leaking it and allocating a fresh one each time.
	k2 := oldNext
	if k2 == 0 {
		var ok bool
		k2, ok = e.c.Bitmap.FindFree()
		if !ok {
			return 0, newErr("write", path, NoSpace, nil)
		}
	}

	if err := e.c.WritePayload(k, first); err != nil {
		return 0, newErr("write", path, ContainerIoError, err)
	}
	if err := e.c.WritePayload(k2, rest); err != nil {
		return 0, newErr("write", path, ContainerIoError, err)
	}

	rec.FileSize = int64(size)
	rec.NextBlock = k2
	rec.TimeUpdated = now
	rec.TimeAccessed = now

	contRec := layout.Record{
		FileName:     name,
		FileSize:     int64(size),
		BlockIndex:   k, // points at the head, not k2: marks this as a continuation
		Mode:         rec.Mode,
		TimeCreated:  rec.TimeCreated,
		TimeUpdated:  now,
		TimeAccessed: now,
	}
	if err := e.c.WriteMeta(k, rec); err != nil {
		return 0, newErr("write", path, ContainerIoError, err)
	}
	if err := e.c.WriteMeta(k2, contRec); err != nil {
		return 0, newErr("write", path, ContainerIoError, err)
	}
	e.c.Index.SlotUpdate(k, rec)
	e.c.Index.SlotUpdate(k2, contRec)
	e.c.Bitmap.MarkUsed(k2)
	if err := e.c.PersistBitmap(); err != nil {
		return 0, newErr("write", path, ContainerIoError, err)
	}
	return size, nil
}

// Read implements spec §4.5's read: it ignores the caller's size/offset and
// always returns the file's full content (a deliberate contract deviation,
// same as Write ignoring offset).
func (e *Engine) Read(path string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name, isRoot, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if isRoot {
		return nil, newErr("read", path, AccessDenied, nil)
	}
	k, lookupErr := e.c.Index.Lookup(name)
	if lookupErr != nil {
		return nil, newErr("read", path, NoSuchEntry, lookupErr)
	}
	rec := e.c.Index.Slot(k)
	l := int(rec.FileSize)

	var out []byte
	if rec.NextBlock == 0 {
		out, err = e.c.ReadPayload(k, l)
		if err != nil {
			return nil, newErr("read", path, ContainerIoError, err)
		}
	} else {
		head, err := e.c.ReadPayload(k, layout.Payload)
		if err != nil {
			return nil, newErr("read", path, ContainerIoError, err)
		}
		tail, err := e.c.ReadPayload(rec.NextBlock, l-layout.Payload)
		if err != nil {
			return nil, newErr("read", path, ContainerIoError, err)
		}
		out = append(head, tail...)
	}

	rec.TimeAccessed = time.Now().Unix()
	if err := e.c.WriteMeta(k, rec); err != nil {
		return nil, newErr("read", path, ContainerIoError, err)
	}
	e.c.Index.SlotUpdate(k, rec)
	return out, nil
}

// Unlink implements spec §4.5's unlink.
func (e *Engine) Unlink(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name, isRoot, err := splitPath(path)
	if err != nil {
		return err
	}
	if isRoot {
		return newErr("unlink", path, AccessDenied, nil)
	}
	k, lookupErr := e.c.Index.Lookup(name)
	if lookupErr != nil {
		return newErr("unlink", path, NoSuchEntry, lookupErr)
	}
	rec := e.c.Index.Slot(k)

	if rec.NextBlock != 0 {
		k2 := rec.NextBlock
		if err := e.c.ZeroBlock(k, layout.Payload); err != nil {
			return newErr("unlink", path, ContainerIoError, err)
		}
		if err := e.c.ZeroBlock(k2, layout.Payload); err != nil {
			return newErr("unlink", path, ContainerIoError, err)
		}
		e.c.Bitmap.MarkFree(k)
		e.c.Bitmap.MarkFree(k2)
		e.c.Index.SlotClear(k)
		e.c.Index.SlotClear(k2)
	} else {
		if err := e.c.ZeroBlock(k, int(rec.FileSize)); err != nil {
			return newErr("unlink", path, ContainerIoError, err)
		}
		e.c.Bitmap.MarkFree(k)
		e.c.Index.SlotClear(k)
	}

	if err := e.c.PersistBitmap(); err != nil {
		return newErr("unlink", path, ContainerIoError, err)
	}
	return nil
}

// Utimens updates the in-memory slot's timestamps and rewrites its metadata
// region. Per spec §9's recommended correction, this does NOT delegate to
// the host filesystem at path — that path doesn't exist there.
func (e *Engine) Utimens(path string, atime, mtime time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name, isRoot, err := splitPath(path)
	if err != nil {
		return err
	}
	if isRoot {
		return nil
	}
	k, lookupErr := e.c.Index.Lookup(name)
	if lookupErr != nil {
		return newErr("utimens", path, NoSuchEntry, lookupErr)
	}
	rec := e.c.Index.Slot(k)
	if !atime.IsZero() {
		rec.TimeAccessed = atime.Unix()
	}
	if !mtime.IsZero() {
		rec.TimeUpdated = mtime.Unix()
	}
	if err := e.c.WriteMeta(k, rec); err != nil {
		return newErr("utimens", path, ContainerIoError, err)
	}
	e.c.Index.SlotUpdate(k, rec)
	return nil
}

// StatFS implements spec §4.5's statfs.
func (e *Engine) StatFS() StatFS {
	e.mu.Lock()
	defer e.mu.Unlock()

	free := layout.Blocks - e.c.Bitmap.Popcount()
	return StatFS{
		TotalBytes: layout.Total,
		FreeBytes:  uint64(free) * layout.BlockSize,
		BlockSize:  layout.BlockSize,
	}
}

// Truncate, Mknod and Access are accepted and return success without side
// effects, by design (spec §4.5).
func (e *Engine) Truncate(path string, size uint64) error { return nil }
func (e *Engine) Mknod(path string, mode uint32) error    { return nil }
func (e *Engine) Access(path string, mode uint32) error   { return nil }
