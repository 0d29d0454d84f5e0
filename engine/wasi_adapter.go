package engine

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// IO binds the guest's standard streams for one run.
type IO struct {
	// Stdin feeds fd_read on descriptor 0. Nil reads as empty.
	Stdin io.Reader
	// Stdout receives fd_write on descriptor 1. Nil discards.
	Stdout io.Writer
	// AfterRun, when set, sees the guest memory after _start returns
	// and before the instance is closed.
	AfterRun func(Memory)
}

// StdIO binds the guest to the process streams.
func StdIO() IO {
	return IO{Stdin: os.Stdin, Stdout: os.Stdout}
}

// Suppressed is measurement mode: empty input, discarded output.
func Suppressed() IO {
	return IO{Stdin: bytes.NewReader(nil), Stdout: io.Discard}
}

func (b IO) moduleConfig() wazero.ModuleConfig {
	stdin, stdout := b.Stdin, b.Stdout
	if stdin == nil {
		stdin = bytes.NewReader(nil)
	}
	if stdout == nil {
		stdout = io.Discard
	}
	// Anonymous so one object can be run concurrently; no start functions
	// so _start is called explicitly and its error attributed to the run.
	return wazero.NewModuleConfig().
		WithName("").
		WithStdin(stdin).
		WithStdout(stdout).
		WithStderr(io.Discard).
		WithStartFunctions()
}

// instantiateWASI registers the preview1 host functions in r. Stream
// bindings come from each guest's module config, so one host module
// serves every run of the runtime.
func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(wasi_snapshot_preview1.ModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	return builder.Instantiate(ctx)
}
