// Command target-demo is both the loader and the demonstration target
// program in one binary, embedding the loader's attack logic directly in
// the program it protects: the hidden PT_NULL segment a build step embeds
// into this binary's ELF carries the real payload's page contents, placed
// at the declared victim frames before main falls through into runPayload
// in the same process, with the placed mappings still live.
//
// Usage:
//
//	target-demo <attack_config.toml> [-v] [-fallback]
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

	self, err := os.Executable()
	if err != nil {
		logrus.Fatalf("target-demo: could not resolve own path: %v", err)
	}

	if err := engine.Activate(cfg, self, hammer.NewBackend(fallback)); err != nil {
		logrus.Fatal(err)
	}

	runPayload()
}

// runPayload is what this binary does once the loader's attack run falls
// through into it: in a real target, this is the code whose page contents
// lived in the hidden segment and were just relocated into place by
// elfseg.Place. The demo stands in for that with something observable.
func runPayload() {
	fmt.Println("target-demo: payload running with attacker-placed pages live")
}
