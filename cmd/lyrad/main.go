// Package main is the entry point for lyrad, the headless Lyra backend.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lyrad:", err)
		os.Exit(1)
	}
}
