// Command leadctl runs one-off engine operations against the configured
// database: process due tasks, recompute segments, trigger automations and
// plan time-based runs.
package main

import (
	"fmt"
	"os"

	_ "time/tzdata"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
