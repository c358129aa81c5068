package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"rowhammer/internal/config"
	"rowhammer/internal/flipcheck"
	"rowhammer/internal/frame"
	"rowhammer/internal/hammer"
	"rowhammer/internal/meminit"
	"rowhammer/internal/memtypes"
)

// ConsecutiveSuccesses is how many back-to-back attempts must reproduce a
// flip before prehammer declares an attack config reliable.
const ConsecutiveSuccesses = 5

// GiveUpThreshold bounds how many attempts prehammer will make before
// giving up on a config that is not reproducing reliably.
const GiveUpThreshold = 20

// AttackTesterResult summarises one prehammer attack-tester run.
type AttackTesterResult struct {
	Successes int
	Attempts  int
	Reliable  bool
}

// RunAttackTester repeatedly re-allocates and re-hammers the frames named
// by cfg, checking for the declared flips each time, until either
// ConsecutiveSuccesses successes in a row are observed (Reliable=true) or
// GiveUpThreshold attempts are exhausted.
func RunAttackTester(cfg *config.AttackConfig, backend hammer.Backend) (AttackTesterResult, error) {
	result := AttackTesterResult{}
	consecutive := 0

	for result.Attempts < GiveUpThreshold {
		result.Attempts++
		ok, err := attemptOnce(cfg, backend)
		if err != nil {
			return result, fmt.Errorf("engine: prehammer attempt %d failed: %w", result.Attempts, err)
		}
		if ok {
			result.Successes++
			consecutive++
			logrus.Infof("engine: prehammer attempt %d/%d succeeded (%d consecutive)", result.Attempts, GiveUpThreshold, consecutive)
			if consecutive >= ConsecutiveSuccesses {
				result.Reliable = true
				return result, nil
			}
		} else {
			consecutive = 0
			logrus.Warnf("engine: prehammer attempt %d/%d did not reproduce the expected flip", result.Attempts, GiveUpThreshold)
		}
	}
	return result, nil
}

func attemptOnce(cfg *config.AttackConfig, backend hammer.Backend) (bool, error) {
	targets := make(map[memtypes.FrameAddr]struct{})
	for _, vf := range cfg.VictimFrames {
		for _, f := range memtypes.FramesInRow(vf.FrameAddr) {
			targets[f] = struct{}{}
		}
	}
	for _, f := range cfg.IterAggrFrames() {
		targets[f] = struct{}{}
	}
	wanted := make([]memtypes.FrameAddr, 0, len(targets))
	for f := range targets {
		wanted = append(wanted, f)
	}

	fm, err := frame.Allocate(targets, 0, 200_000)
	if err != nil {
		return false, err
	}

	if err := meminit.InitializeRows(fm, cfg.IterAggrRows()); err != nil {
		return false, err
	}
	if err := meminit.InitializeAttackVictims(fm, cfg.VictimFrames); err != nil {
		return false, err
	}

	before, err := meminit.ReadVictimContent(fm, cfg.VictimFrames)
	if err != nil {
		return false, err
	}

	if err := hammerAllPatterns(fm, cfg, backend); err != nil {
		return false, err
	}

	allOK := true
	for _, vf := range cfg.VictimFrames {
		owned, ok := fm.Get(vf.FrameAddr)
		if !ok {
			continue
		}
		ok2, _ := flipcheck.CheckExpected(before[vf.FrameAddr], owned.Data(), vf.VictimBits)
		allOK = allOK && ok2
	}

	for _, f := range wanted {
		_ = fm.Release(f)
	}
	return allOK, nil
}
