// Command prehammer validates that an attack_config.toml reproduces its
// declared flips reliably before handing it to the loader. Usage:
//
//	prehammer <attack_config.toml> [-v] [-fallback]
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"rowhammer/internal/config"
	"rowhammer/internal/engine"
	"rowhammer/internal/hammer"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <attack_config.toml> [-v] [-fallback]\n", os.Args[0])
		os.Exit(2)
	}
	attackPath := os.Args[1]
	verbose, fallback := false, false
	for _, a := range os.Args[2:] {
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

	cfg, err := config.LoadAttackConfig(attackPath)
	if err != nil {
		logrus.Fatal(err)
	}

	result, err := engine.RunAttackTester(cfg, hammer.NewBackend(fallback))
	if err != nil {
		logrus.Fatal(err)
	}

	logrus.Infof("prehammer: %d/%d attempts succeeded", result.Successes, result.Attempts)
	if result.Reliable {
		logrus.Info("prehammer: config reproduces reliably, safe to hand to the loader")
		os.Exit(0)
	}
	logrus.Error("prehammer: config did not reproduce reliably within the attempt budget")
	os.Exit(1)
}
