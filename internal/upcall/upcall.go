// Package upcall is AOFS's thin translation layer between the external
// FUSE upcall contract (spec §6 — getattr/readdir/open/read/write/create/
// unlink/utimens/statfs/truncate/mknod/access, all path-keyed) and
// internal/engine. It owns no state of its own beyond a reference to the
// engine, and never touches the container directly. The kernel upcall
// transport itself — dispatching these calls off a mounted tree — is
// deliberately out of scope (spec §1) and lives entirely inside
// github.com/hanwen/go-fuse/v2/fuse/pathfs.
package upcall

import (
	"log"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"github.com/aofs/aofs/internal/engine"
)

// FS adapts an *engine.Engine to pathfs.FileSystem. Every method not
// overridden here falls through to pathfs.NewDefaultFileSystem()'s ENOSYS
// stubs, which matches spec §1's stance that everything outside the named
// upcalls is out of scope.
type FS struct {
	pathfs.FileSystem
	engine *engine.Engine
}

// New returns a pathfs.FileSystem backed by e.
func New(e *engine.Engine) *FS {
	return &FS{
		FileSystem: pathfs.NewDefaultFileSystem(),
		engine:     e,
	}
}

// toPath turns pathfs's root-relative, slash-free name (e.g. "a", or "" for
// the root) into the path form internal/engine expects ("/a", or "/").
func toPath(name string) string {
	if name == "" {
		return "/"
	}
	return "/" + name
}

// status converts an *engine.Error into the errno-style fuse.Status the
// upcall contract expects, logging the failure at the point it's about to be
// turned into an errno — the same log.Println(err); return ... shape
// fuse.go's LookUpInode/ReadDir/ReadFile error paths use.
func status(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	log.Println(err)
	kind := engine.ContainerIoError
	if e, ok := err.(*engine.Error); ok {
		kind = e.Kind
	}
	switch kind {
	case engine.NoSuchEntry:
		return fuse.ENOENT
	case engine.AlreadyExists:
		return fuse.Status(syscallEEXIST)
	case engine.AccessDenied:
		return fuse.EACCES
	case engine.NoSpace:
		return fuse.Status(syscallENOSPC)
	default:
		return fuse.EIO
	}
}

// syscallEEXIST and syscallENOSPC spell out the errno values fuse.Status
// wraps, since fuse doesn't export named constants for them the way it does
// for ENOENT/EACCES/EIO.
const (
	syscallEEXIST = 17
	syscallENOSPC = 28
)

func (fs *FS) attrOut(a engine.Attr) *fuse.Attr {
	return &fuse.Attr{
		Mode:  a.Mode,
		Size:  a.Size,
		Nlink: a.Nlink,
		Atime: uint64(a.TimeAccessed),
		Mtime: uint64(a.TimeUpdated),
		Ctime: uint64(a.TimeUpdated),
	}
}

func (fs *FS) GetAttr(name string, context *fuse.Context) (*fuse.Attr, fuse.Status) {
	a, err := fs.engine.GetAttr(toPath(name))
	if err != nil {
		return nil, status(err)
	}
	return fs.attrOut(a), fuse.OK
}

func (fs *FS) OpenDir(name string, context *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	names, err := fs.engine.ReadDir(toPath(name))
	if err != nil {
		return nil, status(err)
	}
	entries := make([]fuse.DirEntry, 0, len(names)+2)
	entries = append(entries,
		fuse.DirEntry{Name: ".", Mode: fuse.S_IFDIR},
		fuse.DirEntry{Name: "..", Mode: fuse.S_IFDIR},
	)
	for _, n := range names {
		entries = append(entries, fuse.DirEntry{Name: n, Mode: fuse.S_IFREG})
	}
	return entries, fuse.OK
}

func (fs *FS) Open(name string, flags uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	path := toPath(name)
	if err := fs.engine.Open(path); err != nil {
		return nil, status(err)
	}
	return newFile(fs.engine, path), fuse.OK
}

func (fs *FS) Create(name string, flags uint32, mode uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	path := toPath(name)
	if err := fs.engine.Create(path, mode); err != nil {
		return nil, status(err)
	}
	return newFile(fs.engine, path), fuse.OK
}

func (fs *FS) Unlink(name string, context *fuse.Context) fuse.Status {
	return status(fs.engine.Unlink(toPath(name)))
}

func (fs *FS) Utimens(name string, atime, mtime *time.Time, context *fuse.Context) fuse.Status {
	var a, m time.Time
	if atime != nil {
		a = *atime
	}
	if mtime != nil {
		m = *mtime
	}
	return status(fs.engine.Utimens(toPath(name), a, m))
}

func (fs *FS) StatFs(name string) *fuse.StatfsOut {
	s := fs.engine.StatFS()
	return &fuse.StatfsOut{
		Blocks:  s.TotalBytes / uint64(s.BlockSize),
		Bfree:   s.FreeBytes / uint64(s.BlockSize),
		Bavail:  s.FreeBytes / uint64(s.BlockSize),
		Bsize:   s.BlockSize,
		NameLen: 23,
	}
}

func (fs *FS) Truncate(name string, size uint64, context *fuse.Context) fuse.Status {
	return status(fs.engine.Truncate(toPath(name), size))
}

func (fs *FS) Mknod(name string, mode uint32, dev uint32, context *fuse.Context) fuse.Status {
	return status(fs.engine.Mknod(toPath(name), mode))
}

func (fs *FS) Access(name string, mode uint32, context *fuse.Context) fuse.Status {
	return status(fs.engine.Access(toPath(name), mode))
}

func (fs *FS) String() string {
	return "aofs"
}
