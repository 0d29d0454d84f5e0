// Package engine lowers WebAssembly modules with wazero and runs them in a
// WASI preview1 sandbox.
//
// # Strategies
//
// A Strategy picks the backend; it never changes the module bytes:
//
//	Strategy           wazero configuration
//	──────────────────────────────────────────────────────────────
//	StrategyFast       interpreter
//	StrategyBalanced   optimizing compiler
//	StrategyOptimized  optimizing compiler + persistent compilation cache
//
// Native strategies on a host the compiler cannot target fail with a
// compile error naming the strategy. They are not downgraded.
//
// # Objects
//
// Engine.Compile returns an Object owning its own wazero runtime:
//
//	obj, err := engine.New(engine.Config{}).Compile(ctx, module, engine.StrategyBalanced)
//	if err != nil {
//	    return err
//	}
//	defer obj.Close(ctx)
//	err = obj.Run(ctx, engine.StdIO())
//
// Every Run instantiates a fresh guest with its own streams, so runs never
// share tape or buffer state. Cancelling ctx stops a running guest; the
// result is an execution trap.
//
// # Serialized objects
//
// Object.Serialize writes "BWCO" followed by a zstd compressed msgpack
// envelope holding the strategy, a host tag (wazero version and platform),
// the module digest, the module and, for StrategyOptimized, the compiled
// native code from the cache directory. Engine.Load only accepts an object
// whose strategy and host tag match its own.
//
// # Thread Safety
//
// Engine is stateless. Object is safe for concurrent Run calls.
package engine
