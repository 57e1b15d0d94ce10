package layout

import (
	"strings"
	"testing"
)

func TestOffsets(t *testing.T) {
	if got, want := OffsetOf(0, 0), int64(0); got != want {
		t.Errorf("OffsetOf(0,0) = %d, want %d", got, want)
	}
	if got, want := OffsetOf(1, 0), int64(BlockSize); got != want {
		t.Errorf("OffsetOf(1,0) = %d, want %d", got, want)
	}

	start, end := MetaRegion(1)
	if start != BlockSize || end != BlockSize+Meta {
		t.Errorf("MetaRegion(1) = [%d, %d)", start, end)
	}

	pstart, pend := PayloadRegion(1)
	if pstart != BlockSize+Meta || pend != 2*BlockSize {
		t.Errorf("PayloadRegion(1) = [%d, %d)", pstart, pend)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	rec := Record{
		FileName:     "hello",
		FileSize:     12,
		BlockIndex:   3,
		Mode:         0100644,
		TimeCreated:  1000,
		TimeUpdated:  1001,
		TimeAccessed: 1002,
	}
	buf, err := SerializeMeta(rec)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != Meta {
		t.Fatalf("serialized record is %d bytes, want %d", len(buf), Meta)
	}

	got, err := DeserializeMeta(buf)
	if err != nil {
		t.Fatal(err)
	}
	// NextBlock isn't part of the on-disk record; zero it before comparing.
	rec.NextBlock = 0
	if got != rec {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, rec)
	}
}

func TestDeserializeEmpty(t *testing.T) {
	buf := make([]byte, Meta)
	rec, err := DeserializeMeta(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Empty() {
		t.Errorf("all-zero region should deserialize as empty, got %+v", rec)
	}
}

func TestDeserializeCorrupt(t *testing.T) {
	buf := make([]byte, Meta)
	copy(buf, "this is not a valid metadata record")
	if _, err := DeserializeMeta(buf); err == nil {
		t.Fatal("expected an error for a corrupt non-empty region")
	}
}

func TestSerializeNameTooLong(t *testing.T) {
	rec := Record{FileName: strings.Repeat("x", 64)}
	if _, err := SerializeMeta(rec); err == nil {
		t.Fatal("expected an error for an over-length file name")
	}
}
