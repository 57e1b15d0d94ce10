package upcall

import (
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
	"golang.org/x/xerrors"

	"github.com/aofs/aofs/internal/engine"
)

// Mount starts serving e as a FUSE filesystem at mountpoint and returns the
// running server. Call Serve (blocking) or Unmount on the result; mountpoint
// setup and signal handling beyond that are the caller's responsibility
// (spec §1 calls both out of scope for this core).
func Mount(mountpoint string, e *engine.Engine) (*fuse.Server, error) {
	nfs := pathfs.NewPathNodeFs(New(e), nil)
	conn := nodefs.NewFileSystemConnector(nfs.Root(), nodefs.NewOptions())
	server, err := fuse.NewServer(conn.RawFS(), mountpoint, &fuse.MountOptions{
		Name:   "aofs",
		FsName: "aofs",
	})
	if err != nil {
		return nil, xerrors.Errorf("upcall: mount %s: %w", mountpoint, err)
	}
	return server, nil
}
