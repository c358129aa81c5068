package dram

import (
	"testing"

	"rowhammer/internal/memtypes"
)

func fictitiousConfig() *Config {
	return &Config{
		DRAMID:  "fictitious",
		RowFn:   0x3FFFC0000,
		ColFn:   0x1FFF,
		BankFns: []uint64{0x44000, 0x88000, 0x110000, 0x220000},
	}
}

func TestPhysToDRAM_S1(t *testing.T) {
	cfg := fictitiousConfig()
	addr := PhysToDRAM(memtypes.PhysAddr(0x12345678), cfg)
	if addr.Row != (0x12345678&0x3FFFC0000)>>18 {
		t.Fatalf("row = %#x, want %#x", addr.Row, (0x12345678&0x3FFFC0000)>>18)
	}
	if addr.Column != 0x12345678&0x1FFF {
		t.Fatalf("column = %#x, want %#x", addr.Column, 0x12345678&0x1FFF)
	}
	back := DRAMToPhys(addr, cfg)
	if back != 0x12345678 {
		t.Fatalf("DRAMToPhys(PhysToDRAM(p)) = %#x, want 0x12345678", uint64(back))
	}
}

func TestRoundTripRandomAddresses(t *testing.T) {
	cfg := fictitiousConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, p := range []uint64{0, 0xAA000, 0xDEAD0000, 0x1FFFFF000, 0x3FFFFFFFF} {
		addr := PhysToDRAM(memtypes.PhysAddr(p), cfg)
		back := DRAMToPhys(addr, cfg)
		// only the bits covered by row_fn|column_fn|bank_fns are reachable;
		// mask both sides down to the reachable bits before comparing.
		reachable := cfg.RowFn | cfg.ColFn
		for _, bf := range cfg.BankFns {
			reachable |= bf
		}
		if uint64(back)&reachable != p&reachable {
			t.Fatalf("round trip for %#x: got %#x, want %#x", p, uint64(back)&reachable, p&reachable)
		}
	}
}

func TestValidateRejectsBadBankFn(t *testing.T) {
	cfg := fictitiousConfig()
	cfg.BankFns[0] = 0x1 // only one bit set
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate did not reject a bank function with one set bit")
	}
}

func TestValidateRejectsNonOverlappingBankFn(t *testing.T) {
	cfg := fictitiousConfig()
	cfg.BankFns[0] = 0x6000 // two bits, neither in row_fn|column_fn
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate did not reject a non-overlapping bank function")
	}
}

func TestValidateRejectsNonContiguousRowFn(t *testing.T) {
	cfg := fictitiousConfig()
	cfg.RowFn = 0x50000 // two separate runs of bits
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate did not reject a non-contiguous row_fn")
	}
}
