// Package pipeline sequences the compiler stages for one program:
//
//	parse -> generate -> validate -> optimize -> compile -> terminal action
//
// A Build moves through the states strictly in that order. Asking a build
// for a transition out of order fails with an invalid_state error, and a
// build accepts exactly one terminal action.
package pipeline

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/brainwasm/codegen"
	"github.com/wippyai/brainwasm/engine"
	"github.com/wippyai/brainwasm/optimize"
	"github.com/wippyai/brainwasm/source"
	"github.com/wippyai/brainwasm/wasm"
)

// Generator produces module bytes from a program.
type Generator interface {
	Generate(p source.Program) ([]byte, error)
}

// Validator checks module bytes before they are optimized.
type Validator interface {
	Validate(module []byte) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(module []byte) error

func (f ValidatorFunc) Validate(module []byte) error { return f(module) }

// Object is a compiled module ready for a terminal action.
type Object interface {
	Run(ctx context.Context, b engine.IO) error
	Serialize(w io.Writer) error
	Close(ctx context.Context) error
}

// Compiler lowers modules and reloads serialized objects.
type Compiler interface {
	Compile(ctx context.Context, module []byte, s engine.Strategy) (Object, error)
	Load(ctx context.Context, r io.Reader, s engine.Strategy) (Object, error)
}

// EngineCompiler adapts *engine.Engine to Compiler.
type EngineCompiler struct {
	Engine *engine.Engine
}

func (c EngineCompiler) Compile(ctx context.Context, module []byte, s engine.Strategy) (Object, error) {
	obj, err := c.Engine.Compile(ctx, module, s)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (c EngineCompiler) Load(ctx context.Context, r io.Reader, s engine.Strategy) (Object, error) {
	obj, err := c.Engine.Load(ctx, r, s)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Pipeline holds the stage implementations. It keeps no per-build state
// and may be shared between goroutines.
type Pipeline struct {
	generator Generator
	validator Validator
	optimizer optimize.Optimizer
	compiler  Compiler
	logger    *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGenerator replaces the code generator.
func WithGenerator(g Generator) Option {
	return func(p *Pipeline) { p.generator = g }
}

// WithValidator replaces the module validator.
func WithValidator(v Validator) Option {
	return func(p *Pipeline) { p.validator = v }
}

// WithOptimizer replaces the optimizer.
func WithOptimizer(o optimize.Optimizer) Option {
	return func(p *Pipeline) { p.optimizer = o }
}

// WithCompiler replaces the backend compiler.
func WithCompiler(c Compiler) Option {
	return func(p *Pipeline) { p.compiler = c }
}

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a pipeline. Unset stages default to the WASI generator, the
// binary validator, wasm-opt from PATH and a wazero engine.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		generator: codegen.Generator{Target: codegen.TargetWASI},
		validator: ValidatorFunc(wasm.ValidateBinary),
		optimizer: &optimize.WasmOpt{},
		compiler:  EngineCompiler{Engine: engine.New(engine.Config{})},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Request is one program to build.
type Request struct {
	// Name labels the program in logs and errors, usually its file path.
	Name     string
	Source   []byte
	Strategy engine.Strategy
}

// Timing is the wall time one stage took.
type Timing struct {
	Stage   string
	Elapsed time.Duration
}

// Build runs every stage up to Compiled. On failure the partial build is
// released and the error names the failing stage.
func (p *Pipeline) Build(ctx context.Context, req Request) (*Build, error) {
	b := p.Start(req)
	steps := []func() error{
		b.Parse,
		b.Generate,
		b.Validate,
		func() error { return b.Optimize(ctx) },
		func() error { return b.Compile(ctx) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.Close(ctx)
			return nil, err
		}
	}

	fields := []zap.Field{zap.String("program", req.Name), zap.String("strategy", req.Strategy.String())}
	for _, t := range b.timings {
		fields = append(fields, zap.Duration(t.Stage, t.Elapsed))
	}
	p.logger.Debug("build compiled", fields...)
	return b, nil
}
