//go:build amd64

package hammer

import "encoding/binary"

// encodeHammerLoop assembles a tight x86-64 loop: save RAX, RCX, RDX and
// RBX (the only registers it touches) on the stack, load RDX with 0 (the
// filler chain's accumulator) and RCX with count, then for every address
// in rows (flattened, in order) emit
//
//	MOV RAX, imm64 addr
//	MOV RBX, [RAX]
//	ADD RDX, RBX   (repeated fillerCount times)
//	CLFLUSH [RAX]
//
// followed by DEC RCX; JNZ <top of loop>; the four saved registers are
// then restored before RET. Each ADD RDX, RBX carries a
// true data dependency on the just-loaded value and on its own previous
// result, so the chain cannot be reordered or parallelised away and its
// length paces the interval before the row is flushed. Every address is
// baked in as an immediate, so the generated routine takes no arguments —
// callJIT simply CALLs into it and it RETs back out.
func encodeHammerLoop(rows [][]uintptr, fillerCount int, count uint64) []byte {
	var buf []byte

	emitMovImm64 := func(reg byte, v uint64) {
		// 48 B8+reg imm64 : REX.W + MOV r64, imm64
		var imm [8]byte
		binary.LittleEndian.PutUint64(imm[:], v)
		buf = append(buf, 0x48, 0xB8+reg)
		buf = append(buf, imm[:]...)
	}

	// PUSH RAX; PUSH RCX; PUSH RDX; PUSH RBX
	buf = append(buf, 0x50, 0x51, 0x52, 0x53)

	// MOV RDX, 0
	emitMovImm64(2 /* RDX */, 0)
	// MOV RCX, count
	emitMovImm64(1 /* RCX */, count)

	loopTop := len(buf)
	for _, row := range rows {
		for _, addr := range row {
			emitMovImm64(0 /* RAX */, uint64(addr))
			// MOV RBX, [RAX]
			buf = append(buf, 0x48, 0x8B, 0x18)
			for i := 0; i < fillerCount; i++ {
				// ADD RDX, RBX
				buf = append(buf, 0x48, 0x01, 0xDA)
			}
			// CLFLUSH [RAX]
			buf = append(buf, 0x0F, 0xAE, 0x38)
		}
	}

	// DEC RCX
	buf = append(buf, 0x48, 0xFF, 0xC9)

	// JNZ loopTop, encoded as a near (rel32) jump so the offset is always
	// in range regardless of pattern length.
	jccStart := len(buf)
	buf = append(buf, 0x0F, 0x85, 0, 0, 0, 0)
	rel := int32(loopTop - (jccStart + 6))
	binary.LittleEndian.PutUint32(buf[jccStart+2:], uint32(rel))

	// POP RBX; POP RDX; POP RCX; POP RAX
	buf = append(buf, 0x5B, 0x5A, 0x59, 0x58)

	// RET
	buf = append(buf, 0xC3)

	return buf
}
