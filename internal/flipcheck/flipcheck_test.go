package flipcheck

import (
	"testing"

	"rowhammer/internal/config"
	"rowhammer/internal/memtypes"
)

func TestCheckExpected(t *testing.T) {
	bits := []config.VictimBit{
		{Offset: 0, BitFlip: memtypes.BitFlip{Index: 3, Up: true}},
	}

	cases := []struct {
		name   string
		after  byte
		want   bool
	}{
		{"flips as expected", 0x08, true},
		{"does not flip", 0x00, false},
		{"wrong bit flipped", 0x04, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			before := []byte{0x00}
			after := []byte{c.after}
			got, _ := CheckExpected(before, after, bits)
			if got != c.want {
				t.Errorf("CheckExpected(before=%#x, after=%#x) = %v, want %v", before[0], after[0], got, c.want)
			}
		})
	}
}

func TestCheckExpectedMultipleBitsSameOffset(t *testing.T) {
	bits := []config.VictimBit{
		{Offset: 0, BitFlip: memtypes.BitFlip{Index: 1, Up: true}},
		{Offset: 0, BitFlip: memtypes.BitFlip{Index: 5, Up: true}},
	}

	before := []byte{0x00}
	after := []byte{0x02} // only bit 1 flipped, bit 5 did not

	ok, results := CheckExpected(before, after, bits)
	if ok {
		t.Fatalf("CheckExpected() = true, want false (bit 5 never flipped)")
	}
	if len(results) != 2 {
		t.Fatalf("CheckExpected() returned %d results, want 2 (one per declared bit)", len(results))
	}

	classes := make(map[uint8]memtypes.FlipClass)
	for _, r := range results {
		classes[r.Flip.Index] = r.Class
	}
	if classes[1] != memtypes.FlippedExpected {
		t.Errorf("bit 1 classified as %v, want FlippedExpected", classes[1])
	}
	if classes[5] != memtypes.Unchanged {
		t.Errorf("bit 5 classified as %v, want Unchanged", classes[5])
	}
}

func TestCheckRowForFlips(t *testing.T) {
	before := []byte{0x00, 0xFF}
	after := []byte{0x08, 0xFE}
	found := CheckRowForFlips(before, after)
	if len(found) != 2 {
		t.Fatalf("CheckRowForFlips() = %v, want 2 discoveries", found)
	}
}
