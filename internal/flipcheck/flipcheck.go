// Package flipcheck compares victim memory before and after a hammer run
// and classifies what happened: either every declared
// bit flipped exactly as expected (CheckExpected, used by the loader and
// prehammer), or the whole row is scanned for any bit that moved at all
// (CheckRowForFlips, used by the templater's discovery sweep).
package flipcheck

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"rowhammer/internal/config"
	"rowhammer/internal/memtypes"
)

// Snapshot copies the current contents of a page so it can be compared
// against after hammering.
func Snapshot(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// BitResult is one declared victim bit's observed outcome.
type BitResult struct {
	Offset uint64
	Flip   memtypes.BitFlip
	Class  memtypes.FlipClass
}

// CheckExpected compares before/after snapshots of a victim page against
// its declared victim bits, logging each bit's classification at Info
// (expected) or Warn (anything else) level. It returns true only if every
// declared bit flipped exactly as expected and no undeclared bit in the
// scanned bytes moved at all. Multiple VictimBits may share the same byte
// offset (declaring more than one flippable bit within it); each is
// checked independently against the full set of bits declared for that
// byte.
func CheckExpected(before, after []byte, bits []config.VictimBit) (bool, []BitResult) {
	results := make([]BitResult, 0, len(bits))
	allExpected := true

	byOffset := make(map[uint64][]memtypes.BitFlip, len(bits))
	for _, vb := range bits {
		byOffset[vb.Offset] = append(byOffset[vb.Offset], vb.BitFlip)
	}

	for byteOff, flips := range byOffset {
		if int(byteOff) >= len(before) || int(byteOff) >= len(after) {
			continue
		}
		b, a := before[byteOff], after[byteOff]
		var declaredMask uint8
		for _, flip := range flips {
			declaredMask |= flip.Mask()
		}
		for _, flip := range flips {
			observed := classifyAgainst(b, a, flip, declaredMask)
			results = append(results, BitResult{Offset: byteOff, Flip: flip, Class: observed})
			if observed != memtypes.FlippedExpected {
				allExpected = false
			}
			logBitResult(byteOff, flip, observed)
		}
	}

	return allExpected, results
}

// classifyAgainst classifies one declared bit's transition. declaredMask
// covers every bit declared at this byte offset (not just flip's own), so
// a bit outside the full declared set that nonetheless moved is reported
// against each declared bit rather than silently ignored.
func classifyAgainst(before, after byte, flip memtypes.BitFlip, declaredMask uint8) memtypes.FlipClass {
	mask := flip.Mask()
	movedBits := before ^ after
	if movedBits&^declaredMask != 0 {
		return memtypes.FlippedUnexpected
	}
	if movedBits&mask == 0 {
		return memtypes.Unchanged
	}
	wantUp := flip.Up
	gotUp := after&mask != 0
	if wantUp == gotUp {
		return memtypes.FlippedExpected
	}
	return memtypes.FlippedWrongDirection
}

func logBitResult(byteOff uint64, flip memtypes.BitFlip, class memtypes.FlipClass) {
	switch class {
	case memtypes.FlippedExpected:
		logrus.Infof("flipcheck: byte %#x bit %s flipped as expected", byteOff, flip)
	case memtypes.Unchanged:
		logrus.Warnf("flipcheck: byte %#x bit %s did not flip", byteOff, flip)
	case memtypes.FlippedWrongDirection:
		logrus.Warnf("flipcheck: byte %#x bit %s flipped the wrong way", byteOff, flip)
	case memtypes.FlippedUnexpected:
		logrus.Warnf("flipcheck: byte %#x has unexpected bit movement beyond declared flip %s", byteOff, flip)
	}
}

// Discovery is one bit found to have flipped during a templater sweep,
// where no expected direction was declared in advance.
type Discovery struct {
	ByteOffset uint64
	Flip       memtypes.BitFlip
}

// CheckRowForFlips scans the full before/after contents of a row (every
// constituent page concatenated in frame order) and reports every bit
// that changed, regardless of direction.
func CheckRowForFlips(before, after []byte) []Discovery {
	if len(before) != len(after) {
		panic(fmt.Sprintf("flipcheck: snapshot length mismatch: %d vs %d", len(before), len(after)))
	}
	var found []Discovery
	for i := range before {
		diff := before[i] ^ after[i]
		if diff == 0 {
			continue
		}
		for bit := uint8(0); bit < 8; bit++ {
			mask := byte(1) << bit
			if diff&mask == 0 {
				continue
			}
			up := after[i]&mask != 0
			found = append(found, Discovery{ByteOffset: uint64(i), Flip: memtypes.BitFlip{Index: bit, Up: up}})
		}
	}
	return found
}
