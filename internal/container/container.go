// Package container owns the single host file AOFS's entire image lives in:
// creating it at first mount, scanning it to rebuild in-memory state on
// later mounts, and performing the durable reads/writes the engine issues.
package container

import (
	"bytes"
	"log"
	"os"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/aofs/aofs/internal/bitmap"
	"github.com/aofs/aofs/internal/index"
	"github.com/aofs/aofs/internal/layout"
)

// Container is the open host file plus the in-memory state mirrored from
// it. Callers (internal/engine) are responsible for serializing access; this
// package does no locking of its own, matching the single-engine-mutex
// model spec §5 requires.
type Container struct {
	f      *os.File
	path   string
	Bitmap *bitmap.Bitmap
	Index  *index.Index
}

// Open mounts the container file at path, creating and sizing it on first
// mount or scanning it to rebuild state on a later one.
func Open(path string) (*Container, error) {
	_, statErr := os.Stat(path)
	switch {
	case os.IsNotExist(statErr):
		return create(path)
	case statErr != nil:
		return nil, xerrors.Errorf("container: stat %s: %w", path, statErr)
	default:
		return load(path)
	}
}

// create fully materializes a new container in a temp file next to path,
// via renameio.TempFile, and only makes it visible at path with a final
// atomic rename — the same "write to temp, CloseAtomicallyReplace" shape
// the teacher uses for image installs (internal/install/install.go). A
// crash partway through initialization leaves only the untouched temp file
// behind; path itself never exists in a half-initialized state, so a later
// Open can't mistake it for an already-initialized container.
func create(path string) (*Container, error) {
	log.Printf("aofs: initializing %d-byte container at %s", layout.Total, path)

	tmp, err := renameio.TempFile("", path)
	if err != nil {
		return nil, xerrors.Errorf("container: create temp file for %s: %w", path, err)
	}
	defer tmp.Cleanup()

	if err := tmp.Truncate(layout.Total); err != nil {
		return nil, xerrors.Errorf("container: size %s to %d bytes: %w", path, layout.Total, err)
	}
	if _, err := tmp.WriteAt([]byte(layout.Magic), 0); err != nil {
		return nil, xerrors.Errorf("container: write magic: %w", err)
	}
	bm := bitmap.New()
	if _, err := tmp.WriteAt(bm.Serialize(), int64(layout.BitmapOffset)); err != nil {
		return nil, xerrors.Errorf("container: write bitmap: %w", err)
	}
	// Data block metadata regions are already zero because Truncate grows a
	// sparse, zero-filled file; no explicit zeroing pass is needed.
	if err := tmp.Sync(); err != nil {
		return nil, xerrors.Errorf("container: sync %s: %w", path, err)
	}
	if err := tmp.CloseAtomicallyReplace(); err != nil {
		return nil, xerrors.Errorf("container: finalize %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, xerrors.Errorf("container: reopen %s: %w", path, err)
	}
	return &Container{
		f:      f,
		path:   path,
		Bitmap: bm,
		Index:  index.New(),
	}, nil
}

func load(path string) (*Container, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, xerrors.Errorf("container: open %s: %w", path, err)
	}

	magic := make([]byte, len(layout.Magic))
	if _, err := f.ReadAt(magic, 0); err != nil {
		f.Close()
		return nil, xerrors.Errorf("container: read magic: %w", err)
	}
	if !bytes.Equal(magic, []byte(layout.Magic)) {
		f.Close()
		return nil, xerrors.Errorf("container: bad magic in %s", path)
	}

	bm := make([]byte, layout.BitmapSerializedLen)
	if _, err := f.ReadAt(bm, int64(layout.BitmapOffset)); err != nil {
		f.Close()
		return nil, xerrors.Errorf("container: read bitmap: %w", err)
	}
	// The on-disk bitmap is re-derived from the metadata scan below rather
	// than trusted outright, so a container whose bitmap fell out of sync
	// with its metadata regions (e.g. truncated mid-write) still recovers
	// correctly; Deserialize here only validates the format is well-formed.
	if _, err := bitmap.Deserialize(bm); err != nil {
		f.Close()
		return nil, xerrors.Errorf("container: %w", err)
	}

	c := &Container{
		f:      f,
		path:   path,
		Bitmap: bitmap.New(),
		Index:  index.New(),
	}

	used := 0
	for k := 1; k < layout.Blocks; k++ {
		rec, err := c.ReadMeta(k)
		if err != nil {
			f.Close()
			return nil, xerrors.Errorf("container: scan block %d: %w", k, err)
		}
		if rec.Empty() {
			continue
		}
		c.Bitmap.MarkUsed(k)
		c.Index.SlotUpdate(k, rec)
		used++
	}
	c.Index.RebuildChains()

	if err := c.PersistBitmap(); err != nil {
		f.Close()
		return nil, err
	}

	log.Printf("aofs: loaded container: %d block(s) in use", used+1)
	return c, nil
}

// ReadMeta reads and deserializes block k's metadata region.
func (c *Container) ReadMeta(k int) (layout.Record, error) {
	buf := make([]byte, layout.Meta)
	start, _ := layout.MetaRegion(k)
	if _, err := c.f.ReadAt(buf, start); err != nil {
		return layout.Record{}, xerrors.Errorf("container: read meta block %d: %w", k, err)
	}
	rec, err := layout.DeserializeMeta(buf)
	if err != nil {
		return layout.Record{}, xerrors.Errorf("container: %w", err)
	}
	return rec, nil
}

// WriteMeta serializes rec and writes it into block k's metadata region.
func (c *Container) WriteMeta(k int, rec layout.Record) error {
	buf, err := layout.SerializeMeta(rec)
	if err != nil {
		return xerrors.Errorf("container: %w", err)
	}
	start, _ := layout.MetaRegion(k)
	if _, err := c.f.WriteAt(buf, start); err != nil {
		return xerrors.Errorf("container: write meta block %d: %w", k, err)
	}
	return nil
}

// WritePayload writes data into the front of block k's payload region,
// leaving any trailing bytes of the region untouched.
func (c *Container) WritePayload(k int, data []byte) error {
	start, end := layout.PayloadRegion(k)
	if int64(len(data)) > end-start {
		return xerrors.Errorf("container: payload of %d bytes exceeds block %d capacity", len(data), k)
	}
	if _, err := c.f.WriteAt(data, start); err != nil {
		return xerrors.Errorf("container: write payload block %d: %w", k, err)
	}
	return nil
}

// ReadPayload reads the first n bytes of block k's payload region.
func (c *Container) ReadPayload(k int, n int) ([]byte, error) {
	start, end := layout.PayloadRegion(k)
	if int64(n) > end-start {
		return nil, xerrors.Errorf("container: read of %d bytes exceeds block %d capacity", n, k)
	}
	buf := make([]byte, n)
	if _, err := c.f.ReadAt(buf, start); err != nil {
		return nil, xerrors.Errorf("container: read payload block %d: %w", k, err)
	}
	return buf, nil
}

// ZeroBlock zeroes block k's metadata region and the first payloadBytes
// bytes of its payload region, writing literal zero bytes rather than a
// serialized empty record — the same all-zero state a freshly sized
// container starts in.
func (c *Container) ZeroBlock(k int, payloadBytes int) error {
	metaStart, _ := layout.MetaRegion(k)
	if _, err := c.f.WriteAt(make([]byte, layout.Meta), metaStart); err != nil {
		return xerrors.Errorf("container: zero meta block %d: %w", k, err)
	}
	if payloadBytes <= 0 {
		return nil
	}
	payloadStart, _ := layout.PayloadRegion(k)
	if _, err := c.f.WriteAt(make([]byte, payloadBytes), payloadStart); err != nil {
		return xerrors.Errorf("container: zero payload block %d: %w", k, err)
	}
	return nil
}

// PersistBitmap rewrites the serialized bitmap into the superblock and
// flushes it to the host filesystem. Spec §5 requires payload writes, then
// metadata writes, then the bitmap write, in that order within a single
// operation; callers are responsible for calling PersistBitmap last.
func (c *Container) PersistBitmap() error {
	if _, err := c.f.WriteAt(c.Bitmap.Serialize(), int64(layout.BitmapOffset)); err != nil {
		return xerrors.Errorf("container: write bitmap: %w", err)
	}
	if err := c.f.Sync(); err != nil {
		return xerrors.Errorf("container: sync: %w", err)
	}
	return nil
}

// Close releases the underlying file descriptor.
func (c *Container) Close() error {
	return c.f.Close()
}
