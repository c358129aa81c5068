// Package hostaudit collects identifying information about the host the
// engine is running on: CPU model, SPD-reported DIMM part number and the
// hostname, by shelling out to external tools (lscpu, dmidecode), plus a
// taskset-based core-pinning helper. None of this is parsed with a dedicated
// library — it is free-form command output, so regexp over os/exec
// output is the idiomatic fit.
package hostaudit

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// HostConfig is a snapshot of host identity relevant to reproducing a
// template or attack result on similar hardware.
type HostConfig struct {
	Hostname   string `json:"hostname" toml:"hostname"`
	CPUModel   string `json:"cpu_model" toml:"cpu_model"`
	DIMMPartNo string `json:"dimm_part_number" toml:"dimm_part_number"`
}

var (
	cpuModelRe = regexp.MustCompile(`(?m)^Model name:\s*(.+)$`)
	partNoRe   = regexp.MustCompile(`(?m)^\s*Part Number:\s*(.+)$`)
)

// Collect gathers a HostConfig from the current machine. It never fails
// outright: any field it could not determine is left empty, and the
// reason is logged at Warn — a best-effort audit step, not a hard
// precondition of running an attack.
func Collect() *HostConfig {
	h := &HostConfig{}

	if name, err := os.Hostname(); err == nil {
		h.Hostname = name
	} else {
		logrus.Warnf("hostaudit: could not read hostname: %v", err)
	}

	if out, err := runCommand("lscpu"); err == nil {
		if m := cpuModelRe.FindStringSubmatch(out); m != nil {
			h.CPUModel = strings.TrimSpace(m[1])
		}
	} else {
		logrus.Warnf("hostaudit: lscpu failed: %v", err)
	}

	if out, err := runCommand("dmidecode", "-t", "17"); err == nil {
		if m := partNoRe.FindStringSubmatch(out); m != nil {
			h.DIMMPartNo = strings.TrimSpace(m[1])
		}
	} else {
		logrus.Warnf("hostaudit: dmidecode failed (are you root?): %v", err)
	}

	return h
}

// MatchesForbidden reports whether the current hostname appears in a
// configured deny-list, the "never run this on a machine with this name"
// guard rail.
func MatchesForbidden(hostname string, forbidden []string) bool {
	for _, f := range forbidden {
		if strings.EqualFold(hostname, f) {
			return true
		}
	}
	return false
}

// PinToCore affinitises the current process to a single CPU core via
// taskset, reducing scheduler-induced timing jitter during hammering.
func PinToCore(core int) error {
	pid := os.Getpid()
	if _, err := runCommand("taskset", "-cp", fmt.Sprintf("%d", core), fmt.Sprintf("%d", pid)); err != nil {
		return fmt.Errorf("hostaudit: pinning to core %d: %w", core, err)
	}
	return nil
}

func runCommand(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return string(out), nil
}
