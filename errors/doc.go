// Package errors provides structured error types for the brainwasm pipeline.
//
// Errors are categorized by Phase (the stage that failed) and Kind (error category).
// The Error type includes the context a user needs to locate the fault: source file,
// source position, backend strategy and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseParse, errors.KindMalformedProgram).
//		File("hello.bf").
//		At(pos).
//		Detail("unmatched ']'").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnsupportedTarget("browser")
//	err := errors.Compile("balanced", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
// errors.Is matches on Phase and Kind, so callers can test for a category:
//
//	if errors.Is(err, &errors.Error{Phase: errors.PhaseExecute, Kind: errors.KindTrap}) { ... }
package errors
