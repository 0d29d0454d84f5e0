package pipeline

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/brainwasm/engine"
	"github.com/wippyai/brainwasm/errors"
)

// The operations below are the command surface. Each runs a full build,
// performs one terminal action and releases the build.

// GenerateModule writes the optimized module for req to w.
func (p *Pipeline) GenerateModule(ctx context.Context, req Request, w io.Writer) error {
	return p.withBuild(ctx, req, func(b *Build) error {
		return b.WriteModule(w)
	})
}

// CompileObject writes the serialized compiled object for req to w.
func (p *Pipeline) CompileObject(ctx context.Context, req Request, w io.Writer) error {
	return p.withBuild(ctx, req, func(b *Build) error {
		return b.Serialize(w)
	})
}

// CompileStandalone always fails after a successful build; nothing is
// written to w.
func (p *Pipeline) CompileStandalone(ctx context.Context, req Request, w io.Writer) error {
	return p.withBuild(ctx, req, func(b *Build) error {
		return b.Standalone(w)
	})
}

// Run builds req and executes it with streams.
func (p *Pipeline) Run(ctx context.Context, req Request, streams engine.IO) error {
	return p.withBuild(ctx, req, func(b *Build) error {
		return b.Execute(ctx, streams)
	})
}

// RunObject loads a serialized object produced for strategy s and runs it.
func (p *Pipeline) RunObject(ctx context.Context, r io.Reader, s engine.Strategy, streams engine.IO) error {
	obj, err := p.compiler.Load(ctx, r, s)
	if err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "load object")
	}
	defer obj.Close(ctx)

	if err := obj.Run(ctx, streams); err != nil {
		return errors.Wrap(errors.PhaseExecute, errors.KindTrap, err, "run failed")
	}
	p.logger.Debug("object run", zap.String("strategy", s.String()))
	return nil
}

func (p *Pipeline) withBuild(ctx context.Context, req Request, action func(*Build) error) error {
	b, err := p.Build(ctx, req)
	if err != nil {
		return err
	}
	defer b.Close(ctx)
	return action(b)
}
