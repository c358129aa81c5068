// Package hammer drives the actual row-hammering: repeatedly accessing a
// pattern of aggressor rows with an intervening cache flush, fast enough
// and often enough to induce disturbance errors in adjacent victim rows.
// Three backends share the Backend interface: jitBackend generates and
// executes a small unrolled x86-64 machine-code routine; portableBackend
// does the same access pattern from plain Go plus two tiny amd64 assembly
// primitives, for emulators or sandboxes where generating executable
// pages is unavailable; DevMemBackend hammers through /dev/mem reads for
// dry-run development off real DRAM.
//
//go:build amd64

package hammer

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"
)

// Backend executes one hammer pattern: access every address in rows, in
// order, with fillerCount dependent filler instructions interleaved
// between each access and its cache flush, repeated count times. It
// returns the wall-clock span of the generated routine's execution.
type Backend interface {
	Hammer(rows [][]uintptr, fillerCount int, count uint64) (time.Duration, error)
}

// NewBackend selects a backend appropriate for the running process: the
// JIT backend unless forceFallback is set (the -fallback flag of the cmd
// binaries), in which case the portable backend is used instead. Neither backend needs
// root; DevMemBackend is constructed separately by callers that
// explicitly want the /dev/mem debug path.
func NewBackend(forceFallback bool) Backend {
	if forceFallback {
		logrus.Info("hammer: using portable backend (fallback forced)")
		return &portableBackend{}
	}
	return &jitBackend{}
}

// maybeDisassemble logs a disassembly of code when the HAMMER_DISASSEMBLE
// environment variable is set, for diagnosing generated machine code
// without an external disassembler.
func maybeDisassemble(code []byte) {
	if os.Getenv("HAMMER_DISASSEMBLE") == "" {
		return
	}
	off := 0
	for off < len(code) {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			logrus.Debugf("hammer: disasm: %#04x: <undecodable: %v>", off, err)
			off++
			continue
		}
		logrus.Debugf("hammer: disasm: %#04x: %s", off, x86asm.GNUSyntax(inst, uint64(off), nil))
		if inst.Len == 0 {
			break
		}
		off += inst.Len
	}
}

func rowsTotal(rows [][]uintptr) int {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	return n
}

func validateRows(rows [][]uintptr) error {
	if rowsTotal(rows) == 0 {
		return fmt.Errorf("hammer: refusing to hammer an empty address set")
	}
	return nil
}
