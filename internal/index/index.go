// Package index is the in-memory shadow of every block's metadata record,
// kept in sync with the container's on-disk state by internal/container and
// internal/engine.
package index

import (
	"golang.org/x/xerrors"

	"github.com/aofs/aofs/internal/layout"
)

// ErrNotFound is returned by Lookup when no slot matches name.
var ErrNotFound = xerrors.New("index: not found")

// Index is an array of layout.Blocks metadata slots, one per block.
type Index struct {
	slots [layout.Blocks]layout.Record
}

// New returns an empty index.
func New() *Index {
	return &Index{}
}

// Slot returns slot k.
func (idx *Index) Slot(k int) layout.Record {
	return idx.slots[k]
}

// SlotUpdate overwrites slot k.
func (idx *Index) SlotUpdate(k int, rec layout.Record) {
	idx.slots[k] = rec
}

// SlotClear zeroes slot k.
func (idx *Index) SlotClear(k int) {
	idx.slots[k] = layout.Record{}
}

// isHead reports whether slot k is the head block of a file. A continuation
// block's record carries the same FileName and FileSize as its head (the
// on-disk format duplicates them, same as the source), but its BlockIndex
// field holds the head's index rather than its own — the head is the one
// slot that is self-pointing.
func (idx *Index) isHead(k int) bool {
	rec := idx.slots[k]
	return rec.FileName != "" && rec.BlockIndex == k
}

// Lookup performs a linear scan for the head slot whose FileName equals
// name, returning ErrNotFound if none matches. O(layout.Blocks), which the
// spec accepts as fine at this scale. Continuation-block slots, which
// duplicate their head's FileName, are skipped so a chained file's second
// block never shadows or duplicates its head in a lookup.
func (idx *Index) Lookup(name string) (int, error) {
	for k := 1; k < layout.Blocks; k++ {
		if idx.isHead(k) && idx.slots[k].FileName == name {
			return k, nil
		}
	}
	return 0, ErrNotFound
}

// Names returns every file's name, in ascending head-block order.
// Continuation blocks are never returned (see isHead).
func (idx *Index) Names() []string {
	var out []string
	for k := 1; k < layout.Blocks; k++ {
		if idx.isHead(k) {
			out = append(out, idx.slots[k].FileName)
		}
	}
	return out
}

// IsContinuation reports whether slot k holds a continuation block's
// duplicated record (non-empty FileName, BlockIndex pointing at a different,
// head block) and returns that head's index.
func (idx *Index) IsContinuation(k int) (head int, ok bool) {
	rec := idx.slots[k]
	if rec.FileName == "" || rec.BlockIndex == k {
		return 0, false
	}
	return rec.BlockIndex, true
}

// RebuildChains walks every slot looking for continuation blocks and wires
// their head's NextBlock pointer accordingly. Called once after a full
// on-disk scan (internal/container's load), since a block's own record never
// carries its continuation's index — only the continuation's record, once
// found, reveals which head it belongs to.
func (idx *Index) RebuildChains() {
	for k := 1; k < layout.Blocks; k++ {
		if head, ok := idx.IsContinuation(k); ok {
			rec := idx.slots[head]
			rec.NextBlock = k
			idx.slots[head] = rec
		}
	}
}
