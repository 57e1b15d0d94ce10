package bitmap

import (
	"testing"

	"github.com/aofs/aofs/internal/layout"
)

func TestNewHasBitZeroSet(t *testing.T) {
	b := New()
	if !b.IsUsed(0) {
		t.Fatal("bit 0 (superblock) must be set immediately after New")
	}
	for i := 1; i < layout.Blocks; i++ {
		if b.IsUsed(i) {
			t.Fatalf("bit %d unexpectedly set in a fresh bitmap", i)
		}
	}
}

func TestMarkAndFree(t *testing.T) {
	b := New()
	b.MarkUsed(5)
	if !b.IsUsed(5) {
		t.Fatal("MarkUsed(5) did not set bit 5")
	}
	b.MarkFree(5)
	if b.IsUsed(5) {
		t.Fatal("MarkFree(5) did not clear bit 5")
	}
}

func TestFindFreeFirstFit(t *testing.T) {
	b := New()
	k, ok := b.FindFree()
	if !ok || k != 1 {
		t.Fatalf("FindFree() on a fresh bitmap = (%d, %v), want (1, true)", k, ok)
	}
	b.MarkUsed(1)
	k, ok = b.FindFree()
	if !ok || k != 2 {
		t.Fatalf("FindFree() after using block 1 = (%d, %v), want (2, true)", k, ok)
	}
}

func TestFindFreeAfterCreateUnlinkIsIdempotent(t *testing.T) {
	// Testable property 4: find_free after create+unlink yields the same
	// index as before the create.
	b := New()
	before, _ := b.FindFree()
	b.MarkUsed(before)
	b.MarkFree(before)
	after, _ := b.FindFree()
	if before != after {
		t.Fatalf("FindFree before create = %d, after create+unlink = %d", before, after)
	}
}

func TestFindFreeFull(t *testing.T) {
	b := New()
	for i := 1; i < layout.Blocks; i++ {
		b.MarkUsed(i)
	}
	if _, ok := b.FindFree(); ok {
		t.Fatal("FindFree() on a full bitmap should report ok=false")
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	b := New()
	b.MarkUsed(1)
	b.MarkUsed(17)
	b.MarkUsed(255)

	data := b.Serialize()
	if len(data) != layout.BitmapSerializedLen {
		t.Fatalf("Serialize() returned %d bytes, want %d", len(data), layout.BitmapSerializedLen)
	}

	got, err := Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < layout.Blocks; i++ {
		if got.IsUsed(i) != b.IsUsed(i) {
			t.Fatalf("bit %d: got %v, want %v", i, got.IsUsed(i), b.IsUsed(i))
		}
	}
}

func TestSerializeFormat(t *testing.T) {
	b := New()
	data := b.Serialize()
	// 8 groups of 32 chars each followed by a space.
	for g := 0; g < 8; g++ {
		group := data[g*33 : g*33+32]
		for _, c := range group {
			if c != '0' && c != '1' {
				t.Fatalf("group %d contains non-binary character %q", g, c)
			}
		}
		if data[g*33+32] != ' ' {
			t.Fatalf("group %d not followed by a space", g)
		}
	}
	// Bit 0 is the LSB of the first word; MSB-first means it's the last
	// character of the first group, just before the group's separator.
	if data[31] != '1' {
		t.Fatalf("bit 0 should serialize as the last character of the first group, got %q", data[31])
	}
}
