package memtypes

import "testing"

func TestBitFlipRoundTrip(t *testing.T) {
	cases := []struct {
		text string
		want BitFlip
	}{
		{"3+", BitFlip{Index: 3, Up: true}},
		{"5-", BitFlip{Index: 5, Up: false}},
		{"0-", BitFlip{Index: 0, Up: false}},
		{"7+", BitFlip{Index: 7, Up: true}},
	}
	for _, c := range cases {
		var got BitFlip
		if err := got.UnmarshalText([]byte(c.text)); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", c.text, err)
		}
		if got != c.want {
			t.Fatalf("UnmarshalText(%q) = %+v, want %+v", c.text, got, c.want)
		}
		back, err := got.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		if string(back) != c.text {
			t.Fatalf("MarshalText round trip = %q, want %q", back, c.text)
		}
	}
}

func TestBitFlipRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "3", "33+", "8+", "3*"} {
		var b BitFlip
		if err := b.UnmarshalText([]byte(s)); err == nil {
			t.Fatalf("UnmarshalText(%q) unexpectedly succeeded", s)
		}
	}
}

func TestFramesInRow(t *testing.T) {
	got := FramesInRow(PhysAddr(0x12345))
	want := []FrameAddr{0x12000, 0x13000}
	if len(got) != len(want) {
		t.Fatalf("FramesInRow len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FramesInRow[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestRowBaseUsesMask(t *testing.T) {
	// RowSize = 8192 on the reference hardware. & and % disagree for
	// addresses that are not a power-of-two multiple away from zero in
	// exactly the way the mask form requires; pin the mask semantics.
	p := PhysAddr(0x2001)
	if p.RowBase() != 0x2000 {
		t.Fatalf("RowBase = %#x, want 0x2000", uint64(p.RowBase()))
	}
}
