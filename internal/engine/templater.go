package engine

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"rowhammer/internal/config"
	"rowhammer/internal/dram"
	"rowhammer/internal/flipcheck"
	"rowhammer/internal/frame"
	"rowhammer/internal/hammer"
	"rowhammer/internal/hostaudit"
	"rowhammer/internal/meminit"
	"rowhammer/internal/memtypes"
	"rowhammer/internal/template"
)

// candidateRows enumerates every row-aligned physical address from the
// base of the row containing start up to (not including) end, restricted
// to rows whose DRAM bank index appears in
// bankIdxs (every bank is a candidate if bankIdxs is empty).
func candidateRows(start, end uint64, dramCfg *dram.Config, bankIdxs []int) []memtypes.PhysAddr {
	var out []memtypes.PhysAddr
	step := uint64(memtypes.RowSize)
	for p := start &^ (step - 1); p < end; p += step {
		row := memtypes.PhysAddr(p)
		if len(bankIdxs) > 0 && !bankAllowed(dram.PhysToDRAM(row, dramCfg).Bank, bankIdxs) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func bankAllowed(bank uint64, bankIdxs []int) bool {
	for _, b := range bankIdxs {
		if uint64(b) == bank {
			return true
		}
	}
	return false
}

// setupRow is one row of a pattern window, tagged victim or aggressor.
type setupRow struct {
	phys     memtypes.PhysAddr
	isVictim bool
}

// patternSetup lays pattern (e.g. "AVA") across the consecutive candidate
// rows starting at index i, tagging each 'V' character a victim row and
// each 'A' an aggressor row. Returns nil if the window would run past the
// end of rows.
func patternSetup(rows []memtypes.PhysAddr, i int, pattern string) []setupRow {
	if i+len(pattern) > len(rows) {
		return nil
	}
	out := make([]setupRow, len(pattern))
	for k, ch := range pattern {
		out[k] = setupRow{phys: rows[i+k], isVictim: ch == 'V'}
	}
	return out
}

// TemplaterSweep runs the full sweep described by tcfg: for every
// candidate row window tagged by tcfg.Pattern, for every declared
// (aggr_init, victim_init) combination, for tcfg.Repetition repetitions
// and every filler count in [GarbageCountStart, GarbageCountEnd), allocate
// the frames involved, initialise them, hammer, and record any bit that
// flipped anywhere in a victim row — filed under the filler count and
// repetition that produced it, the primary axis the sweep explores.
// shouldStop is polled between row windows so a caller wiring up SIGINT
// (see cmd/templater) can end the sweep early without losing what has
// already been found — the accumulated template is always returned, even
// on early stop or error.
func TemplaterSweep(tcfg *config.TemplaterConfig, dramCfg *dram.Config, backend hammer.Backend, shouldStop func() bool) (*template.MemoryTemplate, error) {
	mt := template.New(tcfg.DRAMID)
	mt.TemplaterConfig = tcfg
	mt.DRAMConfig = dramCfg
	mt.HostConfig = hostaudit.Collect()
	mt.Timestamp = time.Now().UTC().Format(time.RFC3339)

	rows := candidateRows(tcfg.StartPhys, tcfg.EndPhys, dramCfg, tcfg.BankIdxs)

	for i := range rows {
		setup := patternSetup(rows, i, tcfg.Pattern)
		if setup == nil {
			continue
		}
		if shouldStop != nil && shouldStop() {
			logrus.Info("engine: templater sweep stopping early on request")
			break
		}

		var aggrRows, victimRows []memtypes.PhysAddr
		for _, s := range setup {
			if s.isVictim {
				victimRows = append(victimRows, s.phys)
			} else {
				aggrRows = append(aggrRows, s.phys)
			}
		}
		if len(aggrRows) == 0 || len(victimRows) == 0 {
			continue
		}

		for _, iv := range tcfg.InitValues {
			pattern := config.AggressorPattern{}
			for _, ar := range aggrRows {
				pattern.Pattern = append(pattern.Pattern, config.RowAndInitValue{
					Frames: memtypes.FramesInRow(ar),
					Init:   iv.AggrInit,
				})
			}

			for rep := 0; rep < tcfg.Repetition; rep++ {
				for filler := tcfg.GarbageCountStart; filler < tcfg.GarbageCountEnd; filler++ {
					found, err := sweepOnePoint(victimRows, pattern, iv.VictimInit, filler, tcfg.HammerCount, tcfg.DropFrac, backend)
					if err != nil {
						return mt, fmt.Errorf("engine: templater sweep at row %s (rep %d, filler %d): %w", rows[i], rep, filler, err)
					}
					for victimIdx, discoveries := range found {
						if len(discoveries) == 0 {
							continue
						}
						victimRow := victimRows[victimIdx]
						for _, d := range discoveries {
							mt.RecordFlip(uint64(victimRow)+d.ByteOffset, d.Flip, pattern, filler, rep)
						}
						dramAddr := dram.PhysToDRAM(victimRow, dramCfg)
						logrus.Infof("engine: victim row %s (bank %d row %d): %d bit(s) flipped under pattern %s (victim_init=%#x, filler=%d, rep=%d)",
							victimRow, dramAddr.Bank, dramAddr.Row, len(discoveries), pattern.String(), iv.VictimInit, filler, rep)
					}
				}
			}
		}
	}

	logrus.Infof("engine: templater sweep recorded %d victim bit(s)", mt.Len())
	return mt, nil
}

// sweepOnePoint hammers one (pattern, victimInit, fillerCount) sweep point
// and returns, for each of victimRows in order, the bit flips discovered
// in that row.
func sweepOnePoint(victimRows []memtypes.PhysAddr, pattern config.AggressorPattern, victimInit uint8, fillerCount int, hammerCount uint64, dropFrac float64, backend hammer.Backend) ([][]flipcheck.Discovery, error) {
	targets := make(map[memtypes.FrameAddr]struct{})
	for _, vr := range victimRows {
		for _, f := range memtypes.FramesInRow(vr) {
			targets[f] = struct{}{}
		}
	}
	for _, row := range pattern.Pattern {
		for _, f := range row.Frames {
			targets[f] = struct{}{}
		}
	}
	wanted := make([]memtypes.FrameAddr, 0, len(targets))
	for f := range targets {
		wanted = append(wanted, f)
	}

	fm, err := frame.Allocate(targets, dropFrac, 200_000)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, f := range wanted {
			_ = fm.Release(f)
		}
	}()

	if err := meminit.InitializeRows(fm, pattern.Pattern); err != nil {
		return nil, err
	}

	befores := make([][]byte, len(victimRows))
	for vi, vr := range victimRows {
		victimFrames := memtypes.FramesInRow(vr)
		before := make([]byte, 0, memtypes.RowSize)
		for _, f := range victimFrames {
			owned, ok := fm.Get(f)
			if !ok {
				return nil, fmt.Errorf("engine: victim frame %s was not acquired", f)
			}
			data := owned.Data()
			for i := range data {
				data[i] = victimInit
			}
			before = append(before, flipcheck.Snapshot(data)...)
		}
		befores[vi] = before
	}

	var rows [][]uintptr
	for _, row := range pattern.Pattern {
		var vas []uintptr
		for _, f := range row.Frames {
			vas = append(vas, fm.VA(f))
		}
		rows = append(rows, vas)
	}
	if _, err := backend.Hammer(rows, fillerCount, hammerCount); err != nil {
		return nil, err
	}

	out := make([][]flipcheck.Discovery, len(victimRows))
	for vi, vr := range victimRows {
		victimFrames := memtypes.FramesInRow(vr)
		after := make([]byte, 0, memtypes.RowSize)
		for _, f := range victimFrames {
			owned, _ := fm.Get(f)
			after = append(after, owned.Data()...)
		}
		out[vi] = flipcheck.CheckRowForFlips(befores[vi], after)
	}

	return out, nil
}
