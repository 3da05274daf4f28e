// Command pvmux reads, writes and monitors Channel Access registers through
// a supervised backend.
//
// Usage:
//
//	pvmux [--config pvmux.yaml] info
//	pvmux get <path>...
//	pvmux put [--offset n] <path> <value>...
//	pvmux monitor [--duration d] <path>...
//	pvmux shell
//
// The backend runs against the simulated IOC described in the simulation
// section of the configuration file.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
