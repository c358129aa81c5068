package config

import (
	"strings"
	"testing"

	"rowhammer/internal/memtypes"
)

func baseConfig() *AttackConfig {
	ptr := func(v uint64) *uint64 { return &v }
	return &AttackConfig{
		HammerCount:     1_000_000,
		SegmentVirtAddr: 0x400000,
		VictimFrames: []VictimFrame{
			{
				PageFileOffset: ptr(0x1000),
				FrameAddr:      memtypes.FrameAddr(0xAA000),
				VictimBits: []VictimBit{
					{Offset: 0x10, BitFlip: memtypes.BitFlip{Index: 3, Up: true}, AggrPatternKey: "p"},
				},
			},
		},
		AggressorPatterns: map[string]AggressorPattern{
			"p": {Pattern: []RowAndInitValue{
				{Frames: memtypes.FramesInRow(memtypes.PhysAddr(0xA8000)), Init: 0xFF},
				{Frames: memtypes.FramesInRow(memtypes.PhysAddr(0xAC000)), Init: 0xFF},
			}},
		},
	}
}

// TestValidateAcceptsWellFormedConfig and TestIterAggrFrames cover S2.
func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := baseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestIterAggrFrames(t *testing.T) {
	cfg := baseConfig()
	want := map[memtypes.FrameAddr]bool{
		0xA8000: true, 0xA9000: true, 0xAC000: true, 0xAD000: true,
	}
	got := cfg.IterAggrFrames()
	if len(got) != len(want) {
		t.Fatalf("IterAggrFrames() = %v, want frames matching %v", got, want)
	}
	for _, f := range got {
		if !want[f] {
			t.Errorf("unexpected frame %s in IterAggrFrames()", f)
		}
	}
}

// TestValidateRejectsVictimAggressorOverlap covers S3.
func TestValidateRejectsVictimAggressorOverlap(t *testing.T) {
	cfg := baseConfig()
	cfg.AggressorPatterns["q"] = AggressorPattern{Pattern: []RowAndInitValue{
		{Frames: memtypes.FramesInRow(memtypes.PhysAddr(0xAA000)), Init: 0x00},
	}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want overlap error")
	}
	if !strings.Contains(err.Error(), "0xaa000") || !strings.Contains(err.Error(), "0xab000") {
		t.Errorf("Validate() error = %q, want it to name 0xaa000 and 0xab000", err.Error())
	}
}

// TestValidateRejectsConflictingAggressorInit covers S4.
func TestValidateRejectsConflictingAggressorInit(t *testing.T) {
	cfg := baseConfig()
	cfg.AggressorPatterns["q"] = AggressorPattern{Pattern: []RowAndInitValue{
		{Frames: memtypes.FramesInRow(memtypes.PhysAddr(0xA8000)), Init: 0x00},
		{Frames: memtypes.FramesInRow(memtypes.PhysAddr(0xB0000)), Init: 0xFF},
	}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want conflicting-init error")
	}
	if !strings.Contains(err.Error(), "0xa8000") {
		t.Errorf("Validate() error = %q, want it to name 0xa8000", err.Error())
	}
}

func TestValidateRejectsDuplicatePageFileOffset(t *testing.T) {
	cfg := baseConfig()
	off := uint64(0x1000)
	cfg.VictimFrames = append(cfg.VictimFrames, VictimFrame{
		PageFileOffset: &off,
		FrameAddr:      memtypes.FrameAddr(0xB0000),
	})
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want duplicate page_file_offset error")
	}
}

func TestAggressorPatternTextRoundTrip(t *testing.T) {
	p := AggressorPattern{Pattern: []RowAndInitValue{
		{Frames: memtypes.FramesInRow(memtypes.PhysAddr(0xA8000)), Init: 0xFF},
		{Frames: memtypes.FramesInRow(memtypes.PhysAddr(0xAC000)), Init: 0xFF},
	}}
	text, err := p.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var got AggressorPattern
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText(%q): %v", text, err)
	}
	if !got.Equal(p) {
		t.Errorf("round-trip mismatch: got %s, want %s", got.String(), p.String())
	}
}
