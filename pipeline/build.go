package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/brainwasm/engine"
	"github.com/wippyai/brainwasm/errors"
	"github.com/wippyai/brainwasm/source"
)

// State is the position of a Build in the stage sequence.
type State uint8

const (
	StateNew State = iota
	StateParsed
	StateGenerated
	StateValidated
	StateOptimized
	StateCompiled
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateParsed:
		return "parsed"
	case StateGenerated:
		return "generated"
	case StateValidated:
		return "validated"
	case StateOptimized:
		return "optimized"
	case StateCompiled:
		return "compiled"
	case StateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Build is one program's trip through the pipeline. It owns the module
// bytes and the compiled object. A Build is not safe for concurrent use.
type Build struct {
	p       *Pipeline
	req     Request
	program source.Program
	module  []byte
	object  Object
	timings []Timing
	state   State
}

// Start opens a build in StateNew. Most callers use Pipeline.Build.
func (p *Pipeline) Start(req Request) *Build {
	return &Build{p: p, req: req}
}

// State returns the current state.
func (b *Build) State() State { return b.state }

// Program returns the parsed program. Empty before StateParsed.
func (b *Build) Program() source.Program { return b.program }

// Module returns the current module bytes: generated, then optimized.
func (b *Build) Module() []byte { return b.module }

// Timings returns the stage timings recorded so far.
func (b *Build) Timings() []Timing {
	out := make([]Timing, len(b.timings))
	copy(out, b.timings)
	return out
}

func (b *Build) expect(want, next State) error {
	if b.state != want {
		return errors.InvalidState(b.state.String(), next.String())
	}
	return nil
}

// stage runs fn if the build is in state want and moves it to next.
func (b *Build) stage(name string, want, next State, fn func() error) error {
	if err := b.expect(want, next); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	if err != nil {
		b.p.logger.Debug("stage failed",
			zap.String("stage", name),
			zap.String("program", b.req.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return err
	}
	b.timings = append(b.timings, Timing{Stage: name, Elapsed: elapsed})
	b.state = next
	b.p.logger.Debug("stage done",
		zap.String("stage", name),
		zap.String("program", b.req.Name),
		zap.Duration("elapsed", elapsed))
	return nil
}

// Parse filters the source and checks bracket balance.
func (b *Build) Parse() error {
	return b.stage("parse", StateNew, StateParsed, func() error {
		p, err := source.Parse(b.req.Source)
		if err != nil {
			return withFile(err, b.req.Name)
		}
		b.program = p
		return nil
	})
}

// Generate produces the module bytes.
func (b *Build) Generate() error {
	return b.stage("generate", StateParsed, StateGenerated, func() error {
		module, err := b.p.generator.Generate(b.program)
		if err != nil {
			return withFile(errors.Wrap(errors.PhaseGenerate, errors.KindInvalidInput, err, "code generation failed"), b.req.Name)
		}
		b.module = module
		return nil
	})
}

// Validate checks the generated module. A failure here is a generator bug,
// never a property of the input program.
func (b *Build) Validate() error {
	return b.stage("validate", StateGenerated, StateValidated, func() error {
		if err := b.p.validator.Validate(b.module); err != nil {
			b.p.logger.Error("generated module failed validation",
				zap.String("program", b.req.Name),
				zap.Int("bytes", len(b.module)),
				zap.Error(err))
			return errors.Validation(err)
		}
		return nil
	})
}

// Optimize replaces the module with the optimizer's output.
func (b *Build) Optimize(ctx context.Context) error {
	return b.stage("optimize", StateValidated, StateOptimized, func() error {
		out, err := b.p.optimizer.Optimize(ctx, b.module)
		if err != nil {
			return errors.Wrap(errors.PhaseOptimize, errors.KindToolFailed, err, b.p.optimizer.Name()+" failed")
		}
		b.p.logger.Debug("module optimized",
			zap.String("optimizer", b.p.optimizer.Name()),
			zap.Int("before", len(b.module)),
			zap.Int("after", len(out)))
		b.module = out
		return nil
	})
}

// Compile lowers the module with the request's strategy.
func (b *Build) Compile(ctx context.Context) error {
	return b.stage("compile", StateOptimized, StateCompiled, func() error {
		obj, err := b.p.compiler.Compile(ctx, b.module, b.req.Strategy)
		if err != nil {
			return errors.Wrap(errors.PhaseCompile, errors.KindCompile, err, "backend "+b.req.Strategy.String()+" failed")
		}
		b.object = obj
		return nil
	})
}

// terminal moves a compiled build to StateTerminal before running fn, so
// a failing action still consumes the build.
func (b *Build) terminal(name string, fn func() error) error {
	if err := b.expect(StateCompiled, StateTerminal); err != nil {
		return err
	}
	if b.object == nil {
		return errors.InvalidState("closed", StateTerminal.String())
	}
	b.state = StateTerminal
	start := time.Now()
	err := fn()
	b.timings = append(b.timings, Timing{Stage: name, Elapsed: time.Since(start)})
	b.p.logger.Debug("terminal action",
		zap.String("action", name),
		zap.String("program", b.req.Name),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return err
}

// Execute runs the compiled object with the given streams.
func (b *Build) Execute(ctx context.Context, streams engine.IO) error {
	return b.terminal("execute", func() error {
		if err := b.object.Run(ctx, streams); err != nil {
			return errors.Wrap(errors.PhaseExecute, errors.KindTrap, err, "run failed")
		}
		return nil
	})
}

// Serialize writes the compiled object for a later RunObject.
func (b *Build) Serialize(w io.Writer) error {
	return b.terminal("serialize", func() error {
		if err := b.object.Serialize(w); err != nil {
			return errors.Wrap(errors.PhaseSerialize, errors.KindIO, err, "serialize object")
		}
		return nil
	})
}

// WriteModule writes the optimized module bytes.
func (b *Build) WriteModule(w io.Writer) error {
	return b.terminal("write", func() error {
		if _, err := io.Copy(w, bytes.NewReader(b.module)); err != nil {
			return errors.IO(errors.PhaseWrite, b.req.Name, err)
		}
		return nil
	})
}

// Standalone would package the object as a native executable. It is not
// implemented: it always fails and never writes to w.
func (b *Build) Standalone(_ io.Writer) error {
	return b.terminal("standalone", func() error {
		return errors.Unsupported(errors.PhaseStandalone, "standalone native executables are not implemented")
	})
}

// Close releases the compiled object, if any.
func (b *Build) Close(ctx context.Context) error {
	if b.object == nil {
		return nil
	}
	obj := b.object
	b.object = nil
	return obj.Close(ctx)
}

func withFile(err error, name string) error {
	if e, ok := err.(*errors.Error); ok && e.File == "" && name != "" {
		e.File = name
	}
	return err
}
