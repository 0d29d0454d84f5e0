// Command brainwasm compiles tape-machine programs to WebAssembly and runs
// them in a wazero sandbox.
//
//	brainwasm [-config file] [-log-level l] [-log-format f] [-optimizer k] <command> [args]
//
// Commands: generate, compile, standalone, run, exec, repl.
package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		report(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}
