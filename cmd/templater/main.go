// Command templater runs the discovery sweep over a physical address
// range, looking for reproducible disturbance-error bit flips, and writes
// what it finds to a template JSON file. Usage:
//
//	templater <templater_config.toml> <dram_info.toml> <output_template.json> [-v] [-fallback]
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"rowhammer/internal/config"
	"rowhammer/internal/dram"
	"rowhammer/internal/engine"
	"rowhammer/internal/hammer"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Fprintf(os.Stderr, "usage: %s <templater_config.toml> <dram_info.toml> <output_template.json> [-v] [-fallback]\n", os.Args[0])
		os.Exit(2)
	}
	templaterPath, dramInfoPath, outPath := os.Args[1], os.Args[2], os.Args[3]
	verbose, fallback := false, false
	for _, a := range os.Args[4:] {
		switch a {
		case "-v":
			verbose = true
		case "-fallback":
			fallback = true
		}
	}

	if err := engine.Configure(verbose); err != nil {
		logrus.Fatal(err)
	}

	tcfg, err := config.LoadTemplaterConfig(templaterPath)
	if err != nil {
		logrus.Fatal(err)
	}
	dramInfo, err := config.LoadDRAMInfo(dramInfoPath)
	if err != nil {
		logrus.Fatal(err)
	}
	mf, ok := dramInfo.Lookup(tcfg.DRAMID)
	if !ok {
		logrus.Fatalf("templater: dram_info.toml has no entry for dimm %q", tcfg.DRAMID)
	}
	dramCfg := &dram.Config{DRAMID: tcfg.DRAMID, RowFn: mf.RowFn, ColFn: mf.ColFn, BankFns: mf.BankFns}
	if err := dramCfg.Validate(); err != nil {
		logrus.Fatal(err)
	}

	var stopRequested atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		logrus.Warn("templater: received SIGINT, finishing current sweep point then stopping")
		stopRequested.Store(true)
	}()

	mt, err := engine.TemplaterSweep(tcfg, dramCfg, hammer.NewBackend(fallback), stopRequested.Load)
	if err != nil {
		logrus.Errorf("templater: sweep ended with an error: %v", err)
	}

	data, err := mt.MarshalJSON()
	if err != nil {
		logrus.Fatalf("templater: marshalling template: %v", err)
	}
	if err := config.WriteFile(outPath, data, true); err != nil {
		logrus.Fatal(err)
	}
	logrus.Infof("templater: wrote %d discovered victim bit(s) to %s", mt.Len(), outPath)
}
