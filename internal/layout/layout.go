// Package layout computes the byte addresses of AOFS's container format and
// converts between the in-memory metadata record and its on-disk ASCII
// representation. It holds no state and performs no I/O; callers do the
// reading and writing, layout just does the arithmetic and the codec.
package layout

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

const (
	// BlockSize is the size in bytes of a single block of the container file.
	BlockSize = 4096

	// Blocks is the number of blocks in the container file, including the
	// superblock.
	Blocks = 256

	// Meta is the size in bytes of the metadata region at the front of every
	// data block.
	Meta = 1096

	// Payload is the number of bytes available to file content in a single
	// block.
	Payload = BlockSize - Meta

	// Total is the fixed size of the container file.
	Total = Blocks * BlockSize

	// Magic is the literal byte string written at offset 0 of the container.
	Magic = "0xfa19283e "

	// BitmapOffset is the byte offset of the serialized bitmap within the
	// superblock, immediately following Magic.
	BitmapOffset = len(Magic)

	// BitmapSerializedLen is the length in bytes of the serialized bitmap:
	// 8 groups of 32 '0'/'1' characters, each followed by a single space.
	BitmapSerializedLen = (Blocks/32)*32 + Blocks/32

	// maxNameLen is the longest fileName layout will serialize, per spec
	// (23 bytes plus a NUL terminator the ASCII codec doesn't need).
	maxNameLen = 23
)

// OffsetOf returns the absolute container byte position of intraBlockOffset
// within block.
func OffsetOf(block, intraBlockOffset int) int64 {
	return int64(block)*BlockSize + int64(intraBlockOffset)
}

// MetaRegion returns the [start, end) byte range of block's metadata region.
func MetaRegion(block int) (start, end int64) {
	start = OffsetOf(block, 0)
	return start, start + Meta
}

// PayloadRegion returns the [start, end) byte range of block's payload
// region.
func PayloadRegion(block int) (start, end int64) {
	start = OffsetOf(block, Meta)
	return start, start + Payload
}

// Record is the in-memory form of a block's metadata region.
type Record struct {
	FileName     string
	FileSize     int64
	BlockIndex   int
	NextBlock    int
	Mode         uint32
	TimeCreated  int64
	TimeUpdated  int64
	TimeAccessed int64
}

// Empty reports whether r describes a block that is not part of any file.
func (r Record) Empty() bool {
	return r.FileName == ""
}

// SerializeMeta renders r as the spec's ASCII key=value record, zero-padded
// to Meta bytes. It is an error to serialize a name longer than 23 bytes.
func SerializeMeta(r Record) ([]byte, error) {
	if len(r.FileName) > maxNameLen {
		return nil, xerrors.Errorf("layout: file name %q exceeds %d bytes", r.FileName, maxNameLen)
	}
	line := fmt.Sprintf(
		"FILE NAME = %s, FILE SIZE = %d, BLOCK INDEX = %d, MODE = %d, TIME CREATED = %d, TIME UPDATED = %d, TIME ACCESSED = %d",
		r.FileName, r.FileSize, r.BlockIndex, r.Mode, r.TimeCreated, r.TimeUpdated, r.TimeAccessed,
	)
	if len(line) > Meta {
		return nil, xerrors.Errorf("layout: serialized record is %d bytes, exceeds Meta=%d", len(line), Meta)
	}
	buf := make([]byte, Meta)
	copy(buf, line)
	return buf, nil
}

// DeserializeMeta parses a metadata region previously produced by
// SerializeMeta. An all-zero region parses as the empty Record. A non-empty
// region that doesn't match the expected format returns a CorruptMetadata
// style error; it is a plain wrapped error whose text begins
// "layout: corrupt metadata record", with no sentinel value to compare to.
func DeserializeMeta(region []byte) (Record, error) {
	trimmed := strings.TrimRight(string(region), "\x00")
	if trimmed == "" {
		return Record{}, nil
	}

	fields := strings.SplitN(trimmed, ", ", 7)
	if len(fields) != 7 {
		return Record{}, xerrors.Errorf("layout: corrupt metadata record: wrong field count: %q", trimmed)
	}

	var rec Record
	for _, f := range fields {
		key, val, ok := strings.Cut(f, " = ")
		if !ok {
			return Record{}, xerrors.Errorf("layout: corrupt metadata record: malformed field %q", f)
		}
		var err error
		switch key {
		case "FILE NAME":
			rec.FileName = val
		case "FILE SIZE":
			rec.FileSize, err = strconv.ParseInt(val, 10, 64)
		case "BLOCK INDEX":
			var v int64
			v, err = strconv.ParseInt(val, 10, 64)
			rec.BlockIndex = int(v)
		case "MODE":
			var v uint64
			v, err = strconv.ParseUint(val, 10, 32)
			rec.Mode = uint32(v)
		case "TIME CREATED":
			rec.TimeCreated, err = strconv.ParseInt(val, 10, 64)
		case "TIME UPDATED":
			rec.TimeUpdated, err = strconv.ParseInt(val, 10, 64)
		case "TIME ACCESSED":
			rec.TimeAccessed, err = strconv.ParseInt(val, 10, 64)
		default:
			return Record{}, xerrors.Errorf("layout: corrupt metadata record: unknown key %q", key)
		}
		if err != nil {
			return Record{}, xerrors.Errorf("layout: corrupt metadata record: field %q: %w", f, err)
		}
	}

	if rec.FileName == "" {
		// A record that serialized an empty name (should never happen from
		// SerializeMeta, but a zero-size buffer with stray bytes could parse
		// this way) is treated the same as a genuinely empty region.
		return Record{}, nil
	}
	// nextBlock is not part of the on-disk record (the index layer derives
	// it from the continuation block's BlockIndex, which names its head), so
	// it is always zero straight out of the codec.
	return rec, nil
}
