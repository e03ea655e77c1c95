// Package main provides hashwrap, a password-cracking orchestrator
// that drives an external cracker through prioritized attack plans.
package main

import (
	"context"
	"os"
	"strings"

	"hashwrap/internal/cli"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	// Interrupt handling happens inside the engine: the first
	// SIGINT/SIGTERM pauses the run and checkpoints before exit.
	exitCode := cli.Run(context.Background(), os.Stdout, os.Stderr, os.Args, env)

	os.Exit(exitCode)
}
