package upcall

import (
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"

	"github.com/aofs/aofs/internal/engine"
)

// file is the nodefs.File handle returned by FS.Open and FS.Create. AOFS
// keeps no per-handle state (spec §4.5's open note: "no handle state
// required"), so Read and Write go straight back through the engine by
// path; every other nodefs.File method falls through to the embedded
// default's ENOSYS stub.
type file struct {
	nodefs.File
	engine *engine.Engine
	path   string
}

func newFile(e *engine.Engine, path string) *file {
	return &file{
		File:   nodefs.NewDefaultFile(),
		engine: e,
		path:   path,
	}
}

// Read ignores off, matching spec §4.5's read contract: the engine always
// returns the file's full content, copied into dest up to its capacity.
func (f *file) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	data, err := f.engine.Read(f.path)
	if err != nil {
		return nil, status(err)
	}
	n := copy(dest, data)
	return fuse.ReadResultData(dest[:n]), fuse.OK
}

// Write ignores off, matching spec §4.5's write contract: each write fully
// replaces the file's content with data.
func (f *file) Write(data []byte, off int64) (uint32, fuse.Status) {
	n, err := f.engine.Write(f.path, data)
	if err != nil {
		return 0, status(err)
	}
	return uint32(n), fuse.OK
}

func (f *file) String() string {
	return "aofsFile"
}
