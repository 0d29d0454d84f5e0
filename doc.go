// Package brainwasm compiles programs for the eight-symbol tape machine
// into WebAssembly core modules and runs them in a wazero sandbox.
//
// # Architecture Overview
//
// A program moves through a fixed sequence of stages:
//
//	source/     Symbol filtering and bracket checking
//	codegen/    Symbols to a WASI preview1 module, memory layout
//	wasm/       Core module codec and structural validation
//	optimize/   wasm-opt subprocess or the in-process peephole pass
//	engine/     wazero lowering, sandboxed execution, serialized objects
//	pipeline/   Stage sequencing and terminal actions
//	config/     HCL configuration
//	errors/     Structured errors tagged with the failing stage
//
// # Quick Start
//
//	var out bytes.Buffer
//	err := brainwasm.Run(ctx, []byte("+++++++[>++++++++++<-]>."), nil, &out)
//
// For control over optimizer and backend strategy build a pipeline:
//
//	p := pipeline.New(pipeline.WithOptimizer(optimize.Peephole{}))
//	b, err := p.Build(ctx, pipeline.Request{Source: src, Strategy: engine.StrategyBalanced})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close(ctx)
//	err = b.Execute(ctx, engine.StdIO())
//
// # Memory Model
//
// Generated modules own three 64KiB pages. The first kilobyte holds the
// output buffer and the fd_write descriptor; the rest is the tape of
// 32-bit cells. Moving the tape pointer outside memory traps the run.
//
// # Thread Safety
//
// Pipeline and compiled objects are safe for concurrent use. A Build is
// not, and accepts exactly one terminal action.
package brainwasm
