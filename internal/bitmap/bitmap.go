package bitmap

import (
	"math/bits"

	"golang.org/x/xerrors"

	"github.com/aofs/aofs/internal/layout"
)

// words is the number of 32-bit words backing the bitmap: 8 words of 32
// bits each cover layout.Blocks (256) bits.
const words = layout.Blocks / 32

// Bitmap tracks free/used state for layout.Blocks blocks, packed into 8
// 32-bit words. Bit 0 (the superblock) is set by New; a bitmap from
// Deserialize holds whatever was on disk.
type Bitmap struct {
	w [words]uint32
}

// New returns a bitmap with only bit 0 (the superblock) set.
func New() *Bitmap {
	b := &Bitmap{}
	b.MarkUsed(0)
	return b
}

func wordBit(k int) (word, bit int) {
	return k / 32, k % 32
}

// MarkUsed sets bit k.
func (b *Bitmap) MarkUsed(k int) {
	w, bit := wordBit(k)
	b.w[w] |= 1 << uint(bit)
}

// MarkFree clears bit k.
func (b *Bitmap) MarkFree(k int) {
	w, bit := wordBit(k)
	b.w[w] &^= 1 << uint(bit)
}

// IsUsed reports whether bit k is set.
func (b *Bitmap) IsUsed(k int) bool {
	w, bit := wordBit(k)
	return b.w[w]&(1<<uint(bit)) != 0
}

// FindFree returns the lowest clear bit in [1, layout.Blocks), or ok=false
// if every block is in use. Scanning starts at 1: bit 0 is reserved for the
// superblock and is never a candidate.
func (b *Bitmap) FindFree() (k int, ok bool) {
	for i := 1; i < layout.Blocks; i++ {
		if !b.IsUsed(i) {
			return i, true
		}
	}
	return 0, false
}

// Popcount returns the number of set bits.
func (b *Bitmap) Popcount() int {
	n := 0
	for _, w := range b.w {
		n += bits.OnesCount32(w)
	}
	return n
}

// Serialize renders the bitmap as 8 groups of 32 ASCII '0'/'1' characters,
// each group followed by a single space, MSB (bit 31) first within each
// word — the exact on-disk superblock format.
func (b *Bitmap) Serialize() []byte {
	out := make([]byte, 0, words*(32+1))
	for _, w := range b.w {
		for bitpos := 31; bitpos >= 0; bitpos-- {
			if w&(1<<uint(bitpos)) != 0 {
				out = append(out, '1')
			} else {
				out = append(out, '0')
			}
		}
		out = append(out, ' ')
	}
	return out
}

// Deserialize parses the format Serialize produces. It is the caller's
// responsibility to ensure bit 0 ends up set; Deserialize faithfully
// reproduces whatever was on disk, including a corrupt all-zero image,
// because the container layer is what decides whether that's fatal.
func Deserialize(data []byte) (*Bitmap, error) {
	b := &Bitmap{}
	pos := 0
	for wi := 0; wi < words; wi++ {
		var w uint32
		for bitpos := 31; bitpos >= 0; bitpos-- {
			if pos >= len(data) {
				return nil, xerrors.Errorf("bitmap: truncated serialization: got %d bytes", len(data))
			}
			switch data[pos] {
			case '1':
				w |= 1 << uint(bitpos)
			case '0':
				// already clear
			default:
				return nil, xerrors.Errorf("bitmap: invalid character %q at offset %d", data[pos], pos)
			}
			pos++
		}
		if pos >= len(data) || data[pos] != ' ' {
			return nil, xerrors.Errorf("bitmap: missing group separator after word %d", wi)
		}
		pos++
		b.w[wi] = w
	}
	return b, nil
}
