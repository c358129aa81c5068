// Package meminit fills aggressor rows and victim frames with their
// pre-hammer contents: aggressor rows to the init byte their
// RowAndInitValue names, and victim frames to whatever baseline value
// puts every declared victim bit on the opposite side of its expected
// flip direction, so a flip is observable at all.
package meminit

import (
	"fmt"

	"rowhammer/internal/config"
	"rowhammer/internal/flipcheck"
	"rowhammer/internal/frame"
	"rowhammer/internal/memtypes"
)

// defaultVictimByte is the filler value used for victim page bytes that
// carry no declared victim bit.
const defaultVictimByte byte = 0x00

// InitializeRows fills every frame of every row in rows with that row's
// init byte.
func InitializeRows(fm *frame.Map, rows []config.RowAndInitValue) error {
	for _, row := range rows {
		for _, f := range row.Frames {
			owned, ok := fm.Get(f)
			if !ok {
				return fmt.Errorf("meminit: row frame %s was not acquired", f)
			}
			data := owned.Data()
			for i := range data {
				data[i] = row.Init
			}
		}
	}
	return nil
}

// InitializeAttackVictims fills every declared victim frame with
// defaultVictimByte, then forces each declared victim bit to the opposite
// of its expected post-hammer state so the flip, if it happens, is
// observable.
func InitializeAttackVictims(fm *frame.Map, victims []config.VictimFrame) error {
	for _, vf := range victims {
		owned, ok := fm.Get(vf.FrameAddr)
		if !ok {
			return fmt.Errorf("meminit: victim frame %s was not acquired", vf.FrameAddr)
		}
		data := owned.Data()
		for i := range data {
			data[i] = defaultVictimByte
		}
		for _, bit := range vf.VictimBits {
			if int(bit.Offset) >= len(data) {
				return fmt.Errorf("meminit: victim bit offset %#x out of range for frame %s", bit.Offset, vf.FrameAddr)
			}
			data[bit.Offset] = presetByte(data[bit.Offset], bit.BitFlip)
		}
	}
	return nil
}

// presetByte returns v with the declared bit forced to the state it must
// start in for flip to later be observed: cleared if flip expects a 0->1
// transition, set if it expects 1->0.
func presetByte(v byte, flip memtypes.BitFlip) byte {
	inverse := memtypes.BitFlip{Index: flip.Index, Up: !flip.Up}
	return inverse.Apply(v)
}

// ReadVictimContent snapshots the current contents of every declared
// victim frame, keyed by frame address, for later comparison via
// flipcheck.CheckExpected.
func ReadVictimContent(fm *frame.Map, victims []config.VictimFrame) (map[memtypes.FrameAddr][]byte, error) {
	out := make(map[memtypes.FrameAddr][]byte, len(victims))
	for _, vf := range victims {
		owned, ok := fm.Get(vf.FrameAddr)
		if !ok {
			return nil, fmt.Errorf("meminit: victim frame %s was not acquired", vf.FrameAddr)
		}
		out[vf.FrameAddr] = flipcheck.Snapshot(owned.Data())
	}
	return out, nil
}
